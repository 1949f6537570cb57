package monitoring

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"signal_trader/internal/core"
	"signal_trader/internal/events"
	"signal_trader/internal/mock"
	"signal_trader/internal/store"
	"signal_trader/internal/venue"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	tmock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func paperWithMarkets(name string, n int) *venue.PaperVenue {
	v := venue.NewPaperVenue(name, decimal.NewFromInt(1000))
	for i := 0; i < n; i++ {
		v.AddMarket(venue.PaperMarket{Token: fmt.Sprintf("T%d", i), Price: decimal.NewFromInt(1), Active: true})
	}
	return v
}

func createSignal(t *testing.T, s *store.MemoryStore, token string) *core.Signal {
	t.Helper()
	sig := &core.Signal{
		AgentID:        "agent-1",
		TokenSymbol:    token,
		Side:           core.SideLong,
		Size:           core.PercentageOfBalance{Percent: 5},
		RequestedVenue: core.VenueAny,
		Bucket:         time.Now().UnixNano(),
	}
	require.NoError(t, s.CreateSignal(context.Background(), sig))
	return sig
}

func TestReport_DegradedPipeline(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	gmx := mock.NewVenue("GMX")
	gmx.On("ListMarkets", tmock.Anything).Return(nil, errors.New("connection refused"))
	reg := venue.NewRegistry(paperWithMarkets("HYPERLIQUID", 6), paperWithMarkets("OSTIUM", 2), gmx)

	routed := createSignal(t, s, "ETH")
	require.NoError(t, s.AppendRoutingDecision(ctx, &core.RoutingDecision{
		SignalID:      routed.ID,
		TokenSymbol:   "ETH",
		SelectedVenue: "HYPERLIQUID",
		Checked:       []core.VenueCheck{{Venue: "HYPERLIQUID", Available: true}},
		Latency:       50 * time.Millisecond,
	}))
	unroutable := createSignal(t, s, "XYZ")
	_, err := s.FinalizeSignal(ctx, unroutable.ID, core.SignalFailed, "NoVenueAvailable: no venue lists XYZ")
	require.NoError(t, err)
	other := createSignal(t, s, "SOL")
	_, err = s.FinalizeSignal(ctx, other.ID, core.SignalFailed, "NoActiveDeployments: no active deployments")
	require.NoError(t, err)

	require.NoError(t, s.CreatePosition(ctx, &core.Position{
		SignalID: "s1", DeploymentID: "d1", Venue: "HYPERLIQUID", TokenSymbol: "ETH",
		OpenedAt: time.Now().Add(-time.Hour),
	}))
	require.NoError(t, s.CreatePosition(ctx, &core.Position{
		SignalID: "s2", DeploymentID: "d1", Venue: "HYPERLIQUID", TokenSymbol: "SOL",
	}))
	require.NoError(t, s.CreatePosition(ctx, &core.Position{
		SignalID: "s3", DeploymentID: "d1", Venue: "OSTIUM", TokenSymbol: "BTC",
	}))

	rec := events.NewRecorder()
	r := NewReporter(s, reg, rec, DefaultConfig(), mock.NewLogger())
	report, err := r.Report(ctx)
	require.NoError(t, err)

	require.Len(t, report.Venues, 3)
	byName := map[string]VenueHealth{}
	for _, v := range report.Venues {
		byName[v.Venue] = v
	}
	assert.Equal(t, StatusDown, byName["GMX"].Status)
	assert.Contains(t, byName["GMX"].Error, "connection refused")
	assert.Equal(t, StatusHealthy, byName["HYPERLIQUID"].Status)
	assert.Equal(t, 6, byName["HYPERLIQUID"].ActiveMarkets)
	assert.Equal(t, StatusDegraded, byName["OSTIUM"].Status)

	assert.Equal(t, 1, report.Routing.Decisions)
	assert.Equal(t, 1, report.Routing.Failures)
	assert.InDelta(t, 50.0, report.Routing.SuccessRate, 1e-9)
	assert.InDelta(t, 50.0, report.Routing.AvgLatencyMs, 1e-9)

	assert.Equal(t, map[string]int{"HYPERLIQUID": 2, "OSTIUM": 1}, report.Positions.Open)
	assert.Equal(t, 1, report.Positions.Stale)

	assert.Equal(t, StatusDegraded, report.Status)
	assert.Len(t, rec.OfType(events.HealthDegraded), 1)
	assert.Same(t, report, r.Last())
}

func TestReport_HealthyWithoutTraffic(t *testing.T) {
	rec := events.NewRecorder()
	r := NewReporter(store.NewMemoryStore(), venue.NewRegistry(paperWithMarkets("HYPERLIQUID", 5)), rec, DefaultConfig(), mock.NewLogger())

	report, err := r.Report(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, report.Status)
	assert.InDelta(t, 100.0, report.Routing.SuccessRate, 1e-9)
	assert.Equal(t, []string{"All systems operational"}, report.Recommendations)
	assert.Empty(t, rec.Events())
}

func TestReport_AllVenuesDownIsCritical(t *testing.T) {
	reg := venue.NewRegistry(paperWithMarkets("HYPERLIQUID", 0), paperWithMarkets("OSTIUM", 0))
	r := NewReporter(store.NewMemoryStore(), reg, nil, DefaultConfig(), mock.NewLogger())

	report, err := r.Report(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCritical, report.Status)
	assert.Len(t, report.Recommendations, 2)
}

func TestReport_RecentlyPricedPositionIsNotStale(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	pos := &core.Position{
		SignalID: "s1", DeploymentID: "d1", Venue: "HYPERLIQUID", TokenSymbol: "ETH",
		OpenedAt: time.Now().Add(-2 * time.Hour),
	}
	require.NoError(t, s.CreatePosition(ctx, pos))
	require.NoError(t, s.UpdatePositionMark(ctx, pos.ID, core.PositionMark{Price: decimal.NewFromInt(10), At: time.Now()}))

	r := NewReporter(s, venue.NewRegistry(paperWithMarkets("HYPERLIQUID", 5)), nil, DefaultConfig(), mock.NewLogger())
	report, err := r.Report(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Positions.Stale)
	assert.Equal(t, StatusHealthy, report.Status)
}
