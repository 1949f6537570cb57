package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"signal_trader/internal/core"
	"signal_trader/internal/events"
	"signal_trader/internal/mock"
	"signal_trader/internal/store"
	"signal_trader/internal/venue"
	"signal_trader/pkg/scheduler"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	tmock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type harness struct {
	store    *store.MemoryStore
	paper    *venue.PaperVenue
	recorder *events.Recorder
	monitor  *PositionMonitor
}

func newHarness(t *testing.T, extra ...core.IVenue) *harness {
	t.Helper()
	s := store.NewMemoryStore()
	paper := venue.NewPaperVenue("OSTIUM", decimal.NewFromInt(1000), venue.PaperMarket{
		Token: "ETH", Price: d("2000"), QtyDecimals: 4, Active: true,
	})
	rec := events.NewRecorder()
	reg := venue.NewRegistry(append([]core.IVenue{paper}, extra...)...)
	m := NewPositionMonitor(s, reg, rec, DefaultConfig(), mock.NewLogger())

	require.NoError(t, s.SaveDeployment(context.Background(), &core.Deployment{
		ID:                 "dep-a",
		AgentID:            "agent-1",
		Status:             core.DeploymentActive,
		SubscriptionActive: true,
		Handles:            map[string]string{"OSTIUM": "0xaaa", "BROKEN": "0xbbb"},
	}))
	return &harness{store: s, paper: paper, recorder: rec, monitor: m}
}

func (h *harness) open(t *testing.T, signalID, venueName string) *core.Position {
	t.Helper()
	pos := &core.Position{
		SignalID:        signalID,
		DeploymentID:    "dep-a",
		AgentID:         "agent-1",
		Venue:           venueName,
		TokenSymbol:     "ETH",
		Side:            core.SideLong,
		Quantity:        d("1"),
		EntryPrice:      d("2000"),
		StopLoss:        nd("1800"),
		TakeProfit:      nd("2200"),
		TrailingPercent: 5,
		HighWater:       d("2000"),
		LowWater:        d("2000"),
	}
	require.NoError(t, h.store.CreatePosition(context.Background(), pos))
	return pos
}

func TestTick_HoldsAndRefreshesMark(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	pos := h.open(t, "sig-1", "OSTIUM")
	h.paper.SetPrice("ETH", d("2100"))

	report, err := h.monitor.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 0, report.Closed)
	assert.Equal(t, ActionHeld, report.Results[0].Action)
	assert.True(t, d("100").Equal(report.Results[0].PnL))

	stored, err := h.store.GetPosition(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, core.PositionOpen, stored.Status)
	assert.True(t, d("2100").Equal(stored.CurrentPrice.Decimal))
	assert.True(t, d("2100").Equal(stored.HighWater))
	assert.True(t, stored.TrailingActive)
	assert.NotNil(t, stored.LastPricedAt)
	assert.Empty(t, h.recorder.Events())
}

func TestTick_ClosesOnTakeProfit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	pos := h.open(t, "sig-1", "OSTIUM")
	h.paper.SetPrice("ETH", d("2250"))

	report, err := h.monitor.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Closed)
	assert.Equal(t, core.ExitTakeProfit, report.Results[0].Reason)

	stored, err := h.store.GetPosition(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, core.PositionClosed, stored.Status)
	assert.Equal(t, core.ExitTakeProfit, stored.ExitReason)
	assert.True(t, d("2250").Equal(stored.ExitPrice.Decimal))
	assert.True(t, d("250").Equal(stored.RealizedPnL.Decimal))
	assert.NotEmpty(t, stored.ExitTxRef)

	closed := h.recorder.OfType(events.PositionClosed)
	require.Len(t, closed, 1)
	assert.InDelta(t, 250.0, closed[0].Data["realized_pnl"], 1e-9)

	// Closed positions leave the batch
	report, err = h.monitor.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Checked)
}

func TestTick_VenueFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	broken := mock.NewVenue("BROKEN")
	broken.On("GetMarkPrice", tmock.Anything, "ETH").Return(decimal.Zero, errors.New("gateway timeout"))

	h := newHarness(t, broken)
	bad := h.open(t, "sig-1", "BROKEN")
	good := h.open(t, "sig-2", "OSTIUM")
	h.paper.SetPrice("ETH", d("1750"))

	report, err := h.monitor.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.Closed)
	assert.Equal(t, 1, report.Failed)

	stored, err := h.store.GetPosition(ctx, good.ID)
	require.NoError(t, err)
	assert.Equal(t, core.PositionClosed, stored.Status)
	assert.Equal(t, core.ExitStopLoss, stored.ExitReason)
	assert.True(t, d("-250").Equal(stored.RealizedPnL.Decimal))

	stored, err = h.store.GetPosition(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, core.PositionOpen, stored.Status)
	broken.AssertExpectations(t)
}

func TestTick_CloseFailureKeepsPositionOpen(t *testing.T) {
	ctx := context.Background()
	broken := mock.NewVenue("BROKEN")
	broken.On("GetMarkPrice", tmock.Anything, "ETH").Return(d("1700"), nil)
	broken.On("ClosePosition", tmock.Anything, "0xbbb", tmock.AnythingOfType("core.CloseRequest")).
		Return(nil, errors.New("order rejected")).Once()

	h := newHarness(t, broken)
	pos := h.open(t, "sig-1", "BROKEN")

	report, err := h.monitor.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Contains(t, report.Results[0].Error, "order rejected")
	require.Len(t, h.recorder.OfType(events.PositionCloseFailed), 1)

	stored, err := h.store.GetPosition(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, core.PositionOpen, stored.Status)
	assert.True(t, d("1700").Equal(stored.CurrentPrice.Decimal))

	// Retried on the next tick
	broken.On("ClosePosition", tmock.Anything, "0xbbb", tmock.AnythingOfType("core.CloseRequest")).
		Return(&core.CloseResult{ExitPrice: d("1690"), TxRef: "0xclose"}, nil).Once()
	report, err = h.monitor.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Closed)

	stored, err = h.store.GetPosition(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, core.PositionClosed, stored.Status)
	assert.True(t, d("1690").Equal(stored.ExitPrice.Decimal))
	assert.Equal(t, "0xclose", stored.ExitTxRef)
}

func TestTick_UnconfiguredVenueFails(t *testing.T) {
	h := newHarness(t)
	h.open(t, "sig-1", "GMX")

	report, err := h.monitor.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Contains(t, report.Results[0].Error, "resolve venue")
}

func TestTick_MissingHandleFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.store.SaveDeployment(ctx, &core.Deployment{
		ID: "dep-b", AgentID: "agent-1", Status: core.DeploymentActive, SubscriptionActive: true,
	}))
	pos := &core.Position{
		SignalID: "sig-1", DeploymentID: "dep-b", Venue: "OSTIUM", TokenSymbol: "ETH",
		Side: core.SideLong, Quantity: d("1"), EntryPrice: d("2000"),
	}
	require.NoError(t, h.store.CreatePosition(ctx, pos))
	h.paper.SetPrice("ETH", d("1500"))

	report, err := h.monitor.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Contains(t, report.Results[0].Error, "no wallet configured")
}

func TestMonitor_PollerClosesOnTick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t)
	pos := h.open(t, "sig-1", "OSTIUM")
	h.paper.SetPrice("ETH", d("2300"))

	ticker := scheduler.NewFakeTicker()
	poller := h.monitor.Poller(time.Minute, scheduler.WithTicker(ticker.Factory()))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = poller.Run(ctx)
	}()
	ticker.Tick()

	require.Eventually(t, func() bool {
		stored, err := h.store.GetPosition(context.Background(), pos.ID)
		return err == nil && stored.Status == core.PositionClosed
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
