package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"signal_trader/internal/core"
	"signal_trader/internal/events"
	"signal_trader/internal/mock"
	"signal_trader/internal/routing"
	"signal_trader/internal/store"
	"signal_trader/internal/venue"
	apperrors "signal_trader/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	tmock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type harness struct {
	store    *store.MemoryStore
	registry *venue.Registry
	recorder *events.Recorder
	exec     *TradeExecutor
}

func newHarness(t *testing.T, venues ...core.IVenue) *harness {
	t.Helper()
	s := store.NewMemoryStore()
	reg := venue.NewRegistry(venues...)
	rec := events.NewRecorder()
	router := routing.NewRouter(s, reg, rec, routing.DefaultConfig(), mock.NewLogger())
	exec := NewTradeExecutor(s, router, reg, rec, DefaultConfig(), mock.NewLogger())
	t.Cleanup(exec.Stop)
	return &harness{store: s, registry: reg, recorder: rec, exec: exec}
}

func ethVenue(name string) *venue.PaperVenue {
	return venue.NewPaperVenue(name, decimal.NewFromInt(1000), venue.PaperMarket{
		Token:       "ETH",
		Price:       decimal.NewFromInt(2000),
		QtyDecimals: 4,
		MinQty:      decimal.RequireFromString("0.001"),
		Active:      true,
	})
}

func (h *harness) deployment(t *testing.T, id string, handles map[string]string) {
	t.Helper()
	require.NoError(t, h.store.SaveDeployment(context.Background(), &core.Deployment{
		ID:                 id,
		AgentID:            "agent-1",
		Status:             core.DeploymentActive,
		SubscriptionActive: true,
		Handles:            handles,
	}))
}

func (h *harness) signal(t *testing.T, token, requested string, pct float64) *core.Signal {
	t.Helper()
	sig := &core.Signal{
		AgentID:        "agent-1",
		TokenSymbol:    token,
		Side:           core.SideLong,
		Size:           core.PercentageOfBalance{Percent: pct},
		Risk:           core.TrailingStop{Stop: 0.05, TakeProfit: 0.1},
		Confidence:     0.8,
		RequestedVenue: requested,
		Bucket:         time.Now().UnixNano(),
	}
	require.NoError(t, h.store.CreateSignal(context.Background(), sig))
	return sig
}

func TestExecuteSignal_MissingWalletIsPerDeployment(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, venue.NewPaperVenue("HYPERLIQUID", decimal.NewFromInt(1000)), ethVenue("OSTIUM"))
	h.deployment(t, "dep-a", map[string]string{"OSTIUM": "0xaaa"})
	h.deployment(t, "dep-b", map[string]string{"HYPERLIQUID": "0xbbb"})
	sig := h.signal(t, "ETH", core.VenueAny, 5)

	report, err := h.exec.ExecuteSignal(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, "OSTIUM", report.Venue)
	assert.Equal(t, core.SignalExecuted, report.Status)
	assert.True(t, report.Finalized)
	assert.Equal(t, 1, report.Succeeded())

	positions, err := h.store.ListPositions(ctx, core.PositionFilter{SignalID: sig.ID})
	require.NoError(t, err)
	require.Len(t, positions, 1)
	pos := positions[0]
	assert.Equal(t, "dep-a", pos.DeploymentID)
	assert.Equal(t, "OSTIUM", pos.Venue)
	assert.True(t, decimal.RequireFromString("0.025").Equal(pos.Quantity), pos.Quantity.String())
	assert.True(t, decimal.NewFromInt(2000).Equal(pos.EntryPrice))
	assert.True(t, decimal.NewFromInt(2200).Equal(pos.TakeProfit.Decimal))
	assert.True(t, decimal.NewFromInt(1800).Equal(pos.StopLoss.Decimal))
	assert.InDelta(t, 5.0, pos.TrailingPercent, 1e-9)

	attempts, err := h.store.ListExecutionAttempts(ctx, sig.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	byDep := map[string]*core.ExecutionAttempt{}
	for _, a := range attempts {
		byDep[a.DeploymentID] = a
	}
	assert.Equal(t, core.AttemptSucceeded, byDep["dep-a"].Outcome)
	assert.Equal(t, core.AttemptFailed, byDep["dep-b"].Outcome)
	assert.Equal(t, string(apperrors.KindNoWalletForVenue), byDep["dep-b"].FailureKind)

	stored, err := h.store.GetSignal(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SignalExecuted, stored.Status)
	assert.Equal(t, "OSTIUM", stored.ResolvedVenue)

	assert.Len(t, h.recorder.OfType(events.ExecutionAttempted), 2)
	assert.Len(t, h.recorder.OfType(events.SignalFinalized), 1)
}

func TestExecuteSignal_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ethVenue("HYPERLIQUID"))
	h.deployment(t, "dep-a", map[string]string{"HYPERLIQUID": "0xaaa"})
	sig := h.signal(t, "ETH", "HYPERLIQUID", 5)

	first, err := h.exec.ExecuteSignal(ctx, sig.ID)
	require.NoError(t, err)
	require.True(t, first.Finalized)

	second, err := h.exec.ExecuteSignal(ctx, sig.ID)
	require.NoError(t, err)
	assert.False(t, second.Finalized)
	assert.Equal(t, core.SignalExecuted, second.Status)

	positions, err := h.store.ListPositions(ctx, core.PositionFilter{SignalID: sig.ID})
	require.NoError(t, err)
	assert.Len(t, positions, 1)
}

func TestExecuteDeployment_ReplayAdoptsExistingPosition(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ethVenue("HYPERLIQUID"))
	h.deployment(t, "dep-a", map[string]string{"HYPERLIQUID": "0xaaa"})
	sig := h.signal(t, "ETH", "HYPERLIQUID", 5)

	plan, report, err := h.exec.Prepare(ctx, sig.ID)
	require.NoError(t, err)
	require.Nil(t, report)

	// A crash after the position was written but before finalize replays the deployment
	first := h.exec.ExecuteDeployment(ctx, plan, plan.Deployments[0])
	replay := h.exec.ExecuteDeployment(ctx, plan, plan.Deployments[0])
	assert.Equal(t, core.AttemptSucceeded, first.Outcome)
	assert.Equal(t, core.AttemptSucceeded, replay.Outcome)
	assert.True(t, replay.Existing)
	assert.Equal(t, first.PositionID, replay.PositionID)

	final, err := h.exec.Finalize(ctx, plan, []DeploymentResult{replay})
	require.NoError(t, err)
	assert.Equal(t, core.SignalExecuted, final.Status)

	positions, err := h.store.ListPositions(ctx, core.PositionFilter{SignalID: sig.ID})
	require.NoError(t, err)
	assert.Len(t, positions, 1)
}

func TestExecuteSignal_NoActiveDeployments(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ethVenue("HYPERLIQUID"))
	sig := h.signal(t, "ETH", core.VenueAny, 5)

	report, err := h.exec.ExecuteSignal(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SignalFailed, report.Status)
	assert.Contains(t, report.Reason, "NoActiveDeployments")

	stored, err := h.store.GetSignal(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SignalFailed, stored.Status)
}

func TestExecuteSignal_NoVenueAvailable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ethVenue("HYPERLIQUID"), ethVenue("OSTIUM"))
	h.deployment(t, "dep-a", map[string]string{"HYPERLIQUID": "0xaaa"})
	sig := h.signal(t, "DOGE", core.VenueAny, 5)

	report, err := h.exec.ExecuteSignal(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SignalFailed, report.Status)
	assert.Contains(t, report.Reason, "NoVenueAvailable")

	stored, err := h.store.GetSignal(ctx, sig.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.ResolvedVenue)
}

func TestPrepare_CancelledRoutingKeepsSignalPending(t *testing.T) {
	blocking := func(name string) *mock.Venue {
		v := mock.NewVenue(name)
		v.On("CheckAvailability", tmock.Anything, "ETH").
			Run(func(args tmock.Arguments) {
				<-args.Get(0).(context.Context).Done()
			}).
			Return(core.Availability{}, context.Canceled).Maybe()
		return v
	}
	h := newHarness(t, blocking("HYPERLIQUID"), blocking("OSTIUM"))
	h.deployment(t, "dep-a", map[string]string{"HYPERLIQUID": "0xaaa"})
	sig := h.signal(t, "ETH", core.VenueAny, 5)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	plan, report, err := h.exec.Prepare(ctx, sig.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, plan)
	assert.Nil(t, report)

	stored, err := h.store.GetSignal(context.Background(), sig.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SignalPending, stored.Status)
	assert.Empty(t, stored.FailureReason)
}

func TestExecuteSignal_AllDeploymentsFailAggregatesReasons(t *testing.T) {
	ctx := context.Background()
	v := ethVenue("HYPERLIQUID")
	v.SetBalance("0xpoor", decimal.NewFromInt(1))
	h := newHarness(t, v)
	h.deployment(t, "dep-a", map[string]string{"HYPERLIQUID": "0xpoor"})
	h.deployment(t, "dep-b", map[string]string{})
	sig := h.signal(t, "ETH", "HYPERLIQUID", 5)

	report, err := h.exec.ExecuteSignal(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SignalFailed, report.Status)
	assert.Contains(t, report.Reason, "dep-a: InsufficientBalance")
	assert.Contains(t, report.Reason, "dep-b: NoWalletForVenue")
	assert.Contains(t, report.Reason, "; ")
}

func TestExecuteSignal_OrderRejected(t *testing.T) {
	ctx := context.Background()
	v := mock.NewVenue("HYPERLIQUID")
	v.On("ListMarkets", tmock.Anything).Return([]core.Market{
		{TokenSymbol: "ETH", Active: true, QtyDecimals: 3, MinQuantity: decimal.Zero},
	}, nil)
	v.On("GetBalance", tmock.Anything, "0xaaa").Return(decimal.NewFromInt(1000), nil)
	v.On("GetMarkPrice", tmock.Anything, "ETH").Return(decimal.NewFromInt(2000), nil)
	v.On("PlaceOrder", tmock.Anything, "0xaaa", tmock.MatchedBy(func(req core.OrderRequest) bool {
		return req.Quantity.Equal(decimal.RequireFromString("0.025")) && req.TrailingPercent == 5
	})).Return(nil, &apperrors.OrderRejectedError{Reason: "reduce only"})

	h := newHarness(t, v)
	h.deployment(t, "dep-a", map[string]string{"HYPERLIQUID": "0xaaa"})
	sig := h.signal(t, "ETH", "HYPERLIQUID", 5)

	report, err := h.exec.ExecuteSignal(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SignalFailed, report.Status)
	require.Len(t, report.Results, 1)
	assert.Equal(t, apperrors.KindOrderRejected, report.Results[0].FailureKind)
	assert.Contains(t, report.Reason, "reduce only")
	v.AssertExpectations(t)
}

func TestExecuteSignal_CancelledContextStillFinishesUnit(t *testing.T) {
	h := newHarness(t, ethVenue("HYPERLIQUID"))
	h.deployment(t, "dep-a", map[string]string{"HYPERLIQUID": "0xaaa"})
	sig := h.signal(t, "ETH", "HYPERLIQUID", 5)

	plan, _, err := h.exec.Prepare(context.Background(), sig.ID)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := h.exec.ExecuteDeployment(ctx, plan, plan.Deployments[0])
	assert.Equal(t, core.AttemptSucceeded, res.Outcome)

	_, err = h.store.FindPosition(context.Background(), sig.ID, "dep-a")
	assert.NoError(t, err)
}

func TestExecutePending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ethVenue("HYPERLIQUID"))
	h.deployment(t, "dep-a", map[string]string{"HYPERLIQUID": "0xaaa"})
	h.signal(t, "ETH", "HYPERLIQUID", 5)
	h.signal(t, "ETH", "HYPERLIQUID", 2)

	done, err := h.exec.ExecutePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, done)

	pending, err := h.store.ListSignals(ctx, core.SignalFilter{Status: core.SignalPending})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestExecuteSignal_UnknownSignal(t *testing.T) {
	h := newHarness(t)
	_, err := h.exec.ExecuteSignal(context.Background(), "missing")
	assert.True(t, errors.Is(err, apperrors.ErrSignalNotFound))
}

func TestClientOrderID(t *testing.T) {
	assert.Equal(t, "sig:dep", ClientOrderID("sig", "dep"))
}
