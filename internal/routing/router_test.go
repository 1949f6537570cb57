package routing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"signal_trader/internal/core"
	"signal_trader/internal/events"
	"signal_trader/internal/mock"
	"signal_trader/internal/store"
	"signal_trader/internal/venue"
	apperrors "signal_trader/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	tmock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func paper(name string, tokens ...string) *venue.PaperVenue {
	v := venue.NewPaperVenue(name, decimal.NewFromInt(1000))
	for _, t := range tokens {
		v.AddMarket(venue.PaperMarket{Token: t, Price: decimal.NewFromInt(10), QtyDecimals: 2, Active: true})
	}
	return v
}

func newSignal(t *testing.T, s *store.MemoryStore, token string) *core.Signal {
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

func newRouter(s Store, venues ...core.IVenue) (*Router, *events.Recorder) {
	rec := events.NewRecorder()
	return NewRouter(s, venue.NewRegistry(venues...), rec, DefaultConfig(), mock.NewLogger()), rec
}

func TestResolve_ConcreteVenuePassesThrough(t *testing.T) {
	s := store.NewMemoryStore()
	r, rec := newRouter(s)

	sig := &core.Signal{ID: "s1", TokenSymbol: "ETH", RequestedVenue: "hyperliquid"}
	res, err := r.Resolve(context.Background(), sig)
	require.NoError(t, err)
	assert.Equal(t, StateResolved, res.State)
	assert.Equal(t, "HYPERLIQUID", res.Venue)
	assert.Nil(t, res.Decision)
	assert.Empty(t, rec.Events())
}

func TestResolve_FirstAvailableWins(t *testing.T) {
	s := store.NewMemoryStore()
	r, rec := newRouter(s, paper("HYPERLIQUID", "ETH"), paper("OSTIUM", "ETH"))
	sig := newSignal(t, s, "ETH")

	res, err := r.Resolve(context.Background(), sig)
	require.NoError(t, err)
	assert.Equal(t, "HYPERLIQUID", res.Venue)
	assert.Equal(t, "HYPERLIQUID", sig.ResolvedVenue)
	require.NotNil(t, res.Decision)
	assert.Len(t, res.Decision.Checked, 1)
	assert.Equal(t, "HYPERLIQUID: pair available", res.Decision.Reason)
	assert.Len(t, rec.OfType(events.RoutingDecided), 1)
}

func TestResolve_FailoverScenario(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.SaveRoutingConfig(ctx, &core.RoutingConfig{
		VenuePriority:   []string{"HYPERLIQUID", "OSTIUM"},
		Strategy:        core.StrategyFirstAvailable,
		FailoverEnabled: true,
	}))
	r, _ := newRouter(s, paper("HYPERLIQUID", "BTC"), paper("OSTIUM", "XYZ"))
	sig := newSignal(t, s, "XYZ")

	res, err := r.Resolve(ctx, sig)
	require.NoError(t, err)
	assert.Equal(t, StateResolved, res.State)
	assert.Equal(t, "OSTIUM", res.Venue)
	require.NotNil(t, res.Decision)
	assert.Equal(t, []core.VenueCheck{
		{Venue: "HYPERLIQUID", Available: false, Reason: "market not listed"},
		{Venue: "OSTIUM", Available: true},
	}, res.Decision.Checked)

	// Re-resolving with a stale copy adopts the stored venue and appends nothing
	stale := *sig
	stale.ResolvedVenue = ""
	again, err := r.Resolve(ctx, &stale)
	require.NoError(t, err)
	assert.Equal(t, "OSTIUM", again.Venue)
	assert.Nil(t, again.Decision)

	decisions, err := s.ListRoutingDecisions(ctx, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, "OSTIUM", decisions[0].SelectedVenue)

	stored, err := s.GetSignal(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, "OSTIUM", stored.ResolvedVenue)
}

func TestResolve_ExhaustionPersistsNothing(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	r, rec := newRouter(s, paper("HYPERLIQUID"), paper("OSTIUM"))
	sig := newSignal(t, s, "NOPE")

	res, err := r.Resolve(ctx, sig)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNoVenueAvailable))
	var nva *apperrors.NoVenueAvailableError
	require.True(t, errors.As(err, &nva))
	assert.Equal(t, []string{"HYPERLIQUID", "OSTIUM"}, nva.Checked)
	assert.Equal(t, StateExhausted, res.State)

	stored, err := s.GetSignal(ctx, sig.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.ResolvedVenue)
	decisions, err := s.ListRoutingDecisions(ctx, time.Time{}, 0)
	require.NoError(t, err)
	assert.Empty(t, decisions)
	assert.Len(t, rec.OfType(events.RoutingExhausted), 1)
}

func TestResolve_FailoverDisabledChecksOnlyFirst(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.SaveRoutingConfig(ctx, &core.RoutingConfig{
		AgentID:         "agent-1",
		VenuePriority:   []string{"HYPERLIQUID", "OSTIUM"},
		FailoverEnabled: false,
	}))
	r, _ := newRouter(s, paper("HYPERLIQUID"), paper("OSTIUM", "XYZ"))
	sig := newSignal(t, s, "XYZ")

	res, err := r.Resolve(ctx, sig)
	require.Error(t, err)
	assert.Len(t, res.Checked, 1)
}

func TestResolve_CheckErrorsCountAsUnavailable(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	broken := mock.NewVenue("HYPERLIQUID")
	broken.On("CheckAvailability", tmock.Anything, "SOL").
		Return(core.Availability{}, errors.New("connection refused"))

	r, _ := newRouter(s, broken, paper("OSTIUM", "SOL"))
	sig := newSignal(t, s, "SOL")

	res, err := r.Resolve(ctx, sig)
	require.NoError(t, err)
	assert.Equal(t, "OSTIUM", res.Venue)
	assert.Contains(t, res.Checked[0].Reason, "connection refused")
	broken.AssertExpectations(t)
}

func TestResolve_SlowVenueTimesOut(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	slow := mock.NewVenue("HYPERLIQUID")
	slow.On("CheckAvailability", tmock.Anything, "SOL").
		Run(func(args tmock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(core.Availability{}, context.DeadlineExceeded)

	cfg := DefaultConfig()
	cfg.AvailabilityTimeout = 20 * time.Millisecond
	r := NewRouter(s, venue.NewRegistry(slow, paper("OSTIUM", "SOL")), nil, cfg, mock.NewLogger())
	sig := newSignal(t, s, "SOL")

	res, err := r.Resolve(ctx, sig)
	require.NoError(t, err)
	assert.Equal(t, "OSTIUM", res.Venue)
}

func TestResolve_CancelledCallerLeavesSignalUnresolved(t *testing.T) {
	s := store.NewMemoryStore()

	blocking := func(name string) *mock.Venue {
		v := mock.NewVenue(name)
		v.On("CheckAvailability", tmock.Anything, "SOL").
			Run(func(args tmock.Arguments) {
				<-args.Get(0).(context.Context).Done()
			}).
			Return(core.Availability{}, context.Canceled).Maybe()
		return v
	}
	r, rec := newRouter(s, blocking("HYPERLIQUID"), blocking("OSTIUM"))
	sig := newSignal(t, s, "SOL")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	res, err := r.Resolve(ctx, sig)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, apperrors.ErrNoVenueAvailable)
	assert.Equal(t, StateUnresolved, res.State)
	assert.Empty(t, rec.OfType(events.RoutingExhausted))

	stored, err := s.GetSignal(context.Background(), sig.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.ResolvedVenue)
}

func TestResolve_UnconfiguredVenueIsSkipped(t *testing.T) {
	s := store.NewMemoryStore()
	r, _ := newRouter(s, paper("OSTIUM", "SOL"))
	sig := newSignal(t, s, "SOL")

	res, err := r.Resolve(context.Background(), sig)
	require.NoError(t, err)
	assert.Equal(t, "OSTIUM", res.Venue)
	assert.Equal(t, "venue not configured", res.Checked[0].Reason)
}

func TestResolve_ConcurrentResolversConverge(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	r, _ := newRouter(s, paper("HYPERLIQUID", "ETH"), paper("OSTIUM", "ETH"))
	sig := newSignal(t, s, "ETH")

	const workers = 8
	venues := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cp := *sig
			res, err := r.Resolve(ctx, &cp)
			assert.NoError(t, err)
			venues[i] = res.Venue
		}(i)
	}
	wg.Wait()

	for _, v := range venues {
		assert.Equal(t, "HYPERLIQUID", v)
	}
	decisions, err := s.ListRoutingDecisions(ctx, time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, decisions, 1)
}

type failingAudit struct {
	*store.MemoryStore
}

func (failingAudit) AppendRoutingDecision(context.Context, *core.RoutingDecision) error {
	return errors.New("disk full")
}

func TestResolve_AuditFailureDoesNotFailRouting(t *testing.T) {
	s := store.NewMemoryStore()
	r, _ := newRouter(failingAudit{s}, paper("OSTIUM", "SOL"))
	sig := newSignal(t, s, "SOL")

	res, err := r.Resolve(context.Background(), sig)
	require.NoError(t, err)
	assert.Equal(t, "OSTIUM", res.Venue)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	r, _ := newRouter(s, paper("HYPERLIQUID", "ETH"), paper("OSTIUM", "ETH", "XYZ"))

	_, err := r.Resolve(ctx, newSignal(t, s, "ETH"))
	require.NoError(t, err)
	_, err = r.Resolve(ctx, newSignal(t, s, "XYZ"))
	require.NoError(t, err)

	st, err := r.Stats(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Decisions)
	assert.Equal(t, map[string]int{"HYPERLIQUID": 1, "OSTIUM": 1}, st.PerVenue)
	assert.Equal(t, 1, st.Failovers)
}

func TestParseWindow(t *testing.T) {
	d, err := ParseWindow("hour")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, d)
	d, err = ParseWindow("week")
	require.NoError(t, err)
	assert.Equal(t, 168*time.Hour, d)
	d, err = ParseWindow("")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, d)
	_, err = ParseWindow("soon")
	assert.Error(t, err)
}
