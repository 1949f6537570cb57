package core

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSignal_EffectiveVenue(t *testing.T) {
	s := &Signal{RequestedVenue: VenueAny}
	assert.True(t, s.IsMultiVenue())
	assert.Equal(t, "", s.EffectiveVenue())

	s.ResolvedVenue = "OSTIUM"
	assert.Equal(t, "OSTIUM", s.EffectiveVenue())

	single := &Signal{RequestedVenue: "HYPERLIQUID"}
	assert.False(t, single.IsMultiVenue())
	assert.Equal(t, "HYPERLIQUID", single.EffectiveVenue())
}

func TestDeployment_Handle(t *testing.T) {
	d := &Deployment{
		Status:             DeploymentActive,
		SubscriptionActive: true,
		Handles:            map[string]string{"HYPERLIQUID": "0xabc", "OSTIUM": ""},
	}
	assert.True(t, d.IsActive())

	h, ok := d.Handle("HYPERLIQUID")
	assert.True(t, ok)
	assert.Equal(t, "0xabc", h)

	_, ok = d.Handle("OSTIUM")
	assert.False(t, ok)
	_, ok = d.Handle("GMX")
	assert.False(t, ok)

	d.SubscriptionActive = false
	assert.False(t, d.IsActive())
}

func TestPosition_UnrealizedPnL(t *testing.T) {
	long := &Position{Side: SideLong, EntryPrice: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(2)}
	assert.True(t, long.UnrealizedPnL(decimal.NewFromInt(110)).Equal(decimal.NewFromInt(20)))

	short := &Position{Side: SideShort, EntryPrice: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(2)}
	assert.True(t, short.UnrealizedPnL(decimal.NewFromInt(110)).Equal(decimal.NewFromInt(-20)))
}
