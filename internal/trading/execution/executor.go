// Package execution turns a PENDING signal into at most one position per active deployment
package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"signal_trader/internal/core"
	"signal_trader/internal/events"
	"signal_trader/internal/routing"
	"signal_trader/pkg/concurrency"
	apperrors "signal_trader/pkg/errors"
	"signal_trader/pkg/logging"
	"signal_trader/pkg/telemetry"
	"signal_trader/pkg/tradingutils"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// Store is the persistence the executor needs
type Store interface {
	core.ISignalStore
	core.IDeploymentStore
	core.IPositionStore
	core.IExecutionLog
}

// Resolver resolves the venue of a signal
type Resolver interface {
	Resolve(ctx context.Context, sig *core.Signal) (*routing.Resolution, error)
}

// Config tunes execution
type Config struct {
	BatchSize    int
	MaxWorkers   int
	OrderTimeout time.Duration
	// HardStopLossPercent is the stop placed with every order, in percent of entry
	HardStopLossPercent float64
}

// DefaultConfig returns the batch, concurrency and order limits used when none are configured
func DefaultConfig() Config {
	return Config{
		BatchSize:           20,
		MaxWorkers:          8,
		OrderTimeout:        30 * time.Second,
		HardStopLossPercent: 10,
	}
}

// DeploymentResult is the outcome of one deployment of one signal
type DeploymentResult struct {
	DeploymentID string                `json:"deployment_id"`
	Venue        string                `json:"venue"`
	Outcome      core.AttemptOutcome   `json:"outcome"`
	FailureKind  apperrors.FailureKind `json:"failure_kind,omitempty"`
	Reason       string                `json:"reason,omitempty"`
	PositionID   string                `json:"position_id,omitempty"`
	Existing     bool                  `json:"existing,omitempty"`
}

// Report is the result of one ExecuteSignal call
type Report struct {
	SignalID  string             `json:"signal_id"`
	Venue     string             `json:"venue,omitempty"`
	Status    core.SignalStatus  `json:"status"`
	Finalized bool               `json:"finalized"`
	Reason    string             `json:"reason,omitempty"`
	Results   []DeploymentResult `json:"results,omitempty"`
}

// Succeeded counts deployments that hold a position for the signal
func (r *Report) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == core.AttemptSucceeded {
			n++
		}
	}
	return n
}

// Plan is a signal ready to be executed on a resolved venue
type Plan struct {
	Signal      *core.Signal       `json:"signal"`
	Venue       string             `json:"venue"`
	Deployments []*core.Deployment `json:"deployments"`
}

// TradeExecutor executes signals
type TradeExecutor struct {
	store    Store
	router   Resolver
	registry core.IVenueRegistry
	pool     *concurrency.WorkerPool
	events   events.Publisher
	logger   core.ILogger
	cfg      Config
}

// NewTradeExecutor wires the executor and its deployment worker pool.
// Zero config fields fall back to DefaultConfig.
func NewTradeExecutor(
	store Store,
	router Resolver,
	registry core.IVenueRegistry,
	pub events.Publisher,
	cfg Config,
	logger core.ILogger,
) *TradeExecutor {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = def.MaxWorkers
	}
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = def.OrderTimeout
	}
	if cfg.HardStopLossPercent <= 0 {
		cfg.HardStopLossPercent = def.HardStopLossPercent
	}
	logger = logger.WithField("component", "trade_executor")
	return &TradeExecutor{
		store:    store,
		router:   router,
		registry: registry,
		pool: concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:        "deployments",
			MaxWorkers:  cfg.MaxWorkers,
			MaxCapacity: cfg.MaxWorkers * 16,
		}, logger),
		events: events.OrNop(pub),
		logger: logger,
		cfg:    cfg,
	}
}

// Stop drains the deployment pool
func (e *TradeExecutor) Stop() {
	e.pool.Stop()
	st := e.pool.Stats()
	e.logger.Info("Deployment pool drained", "successful", st.Successful, "failed", st.Failed)
}

// ExecutePending executes a bounded batch of PENDING signals, oldest first.
// It returns how many signals reached a terminal status.
func (e *TradeExecutor) ExecutePending(ctx context.Context) (int, error) {
	pending, err := e.store.ListSignals(ctx, core.SignalFilter{Status: core.SignalPending, Limit: e.cfg.BatchSize})
	if err != nil {
		return 0, fmt.Errorf("list pending signals: %w", err)
	}

	done := 0
	for _, sig := range pending {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		report, err := e.ExecuteSignal(ctx, sig.ID)
		if err != nil {
			e.logger.Error("Signal execution failed, will retry", "signal_id", sig.ID, "error", err)
			continue
		}
		if report.Finalized {
			done++
		}
	}
	return done, nil
}

// ExecuteSignal runs the signal on every active deployment and finalizes it.
// Calling it again for the same signal never opens a second position per deployment.
func (e *TradeExecutor) ExecuteSignal(ctx context.Context, signalID string) (*Report, error) {
	ctx, span := telemetry.GetTracer("trade_executor").Start(ctx, "ExecuteSignal")
	defer span.End()
	span.SetAttributes(attribute.String("signal.id", signalID))

	plan, report, err := e.Prepare(ctx, signalID)
	if err != nil || report != nil {
		return report, err
	}

	results := concurrency.Map(e.pool, plan.Deployments,
		func(dep *core.Deployment) DeploymentResult {
			return e.ExecuteDeployment(ctx, plan, dep)
		},
		func(dep *core.Deployment, err error) DeploymentResult {
			return DeploymentResult{
				DeploymentID: dep.ID,
				Venue:        plan.Venue,
				Outcome:      core.AttemptFailed,
				FailureKind:  apperrors.KindUnexpected,
				Reason:       err.Error(),
			}
		},
	)

	return e.Finalize(ctx, plan, results)
}

// Prepare loads the signal, resolves its venue and loads its deployments. When the signal
// needs no per-deployment work (already terminal, unroutable, no deployments) it returns a
// Report instead of a Plan.
func (e *TradeExecutor) Prepare(ctx context.Context, signalID string) (*Plan, *Report, error) {
	sig, err := e.store.GetSignal(ctx, signalID)
	if err != nil {
		return nil, nil, err
	}
	if sig.Status != core.SignalPending {
		return nil, &Report{
			SignalID: sig.ID,
			Venue:    sig.ResolvedVenue,
			Status:   sig.Status,
			Reason:   sig.FailureReason,
		}, nil
	}

	res, err := e.router.Resolve(ctx, sig)
	if err != nil {
		if errors.Is(err, apperrors.ErrNoVenueAvailable) {
			report, ferr := e.finalize(ctx, sig, "", core.SignalFailed, apperrors.Reason(err), nil)
			return nil, report, ferr
		}
		return nil, nil, fmt.Errorf("resolve venue: %w", err)
	}

	deployments, err := e.store.ListActiveDeployments(ctx, sig.AgentID)
	if err != nil {
		return nil, nil, fmt.Errorf("list deployments: %w", err)
	}
	if len(deployments) == 0 {
		reason := apperrors.Reason(fmt.Errorf("%w for agent %s", apperrors.ErrNoActiveDeployments, sig.AgentID))
		report, ferr := e.finalize(ctx, sig, res.Venue, core.SignalFailed, reason, nil)
		return nil, report, ferr
	}

	return &Plan{Signal: sig, Venue: res.Venue, Deployments: deployments}, nil, nil
}

// ExecuteDeployment places the order for one deployment and records the attempt.
// The order and its position row run detached from ctx cancellation, bounded by OrderTimeout.
func (e *TradeExecutor) ExecuteDeployment(ctx context.Context, plan *Plan, dep *core.Deployment) DeploymentResult {
	sig := plan.Signal
	result := DeploymentResult{DeploymentID: dep.ID, Venue: plan.Venue}
	logger := logging.WithTrace(ctx, e.logger).WithFields(map[string]interface{}{
		"signal_id":     sig.ID,
		"deployment_id": dep.ID,
		"venue":         plan.Venue,
	})

	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.OrderTimeout)
	defer cancel()

	pos, err := e.openPosition(uctx, plan, dep)
	switch {
	case err == nil:
		result.Outcome = core.AttemptSucceeded
		result.PositionID = pos.ID
		logger.Info("Position opened",
			"position_id", pos.ID,
			"quantity", pos.Quantity.String(),
			"entry_price", pos.EntryPrice.String())
	case errors.Is(err, errPositionAlreadyOpen):
		result.Outcome = core.AttemptSucceeded
		result.PositionID = pos.ID
		result.Existing = true
		result.Reason = "position already exists"
	default:
		result.Outcome = core.AttemptFailed
		result.FailureKind = apperrors.FailureKindOf(err)
		result.Reason = apperrors.Reason(err)
		logger.Warn("Deployment execution failed", "kind", result.FailureKind, "error", err)
	}

	attempt := &core.ExecutionAttempt{
		SignalID:     sig.ID,
		DeploymentID: dep.ID,
		Venue:        plan.Venue,
		Outcome:      result.Outcome,
		FailureKind:  string(result.FailureKind),
		Reason:       result.Reason,
		PositionID:   result.PositionID,
	}
	if err := e.store.AppendExecutionAttempt(uctx, attempt); err != nil {
		logger.Error("Failed to record execution attempt", "error", err)
	}

	e.events.Publish(ctx, events.Event{
		Type:         events.ExecutionAttempted,
		SignalID:     sig.ID,
		AgentID:      sig.AgentID,
		DeploymentID: dep.ID,
		PositionID:   result.PositionID,
		Token:        sig.TokenSymbol,
		Venue:        plan.Venue,
		Outcome:      string(result.Outcome),
		Reason:       result.Reason,
		Data:         map[string]interface{}{"failure_kind": string(result.FailureKind)},
	})
	return result
}

// Finalize moves the signal to EXECUTED if any deployment holds a position, FAILED otherwise
func (e *TradeExecutor) Finalize(ctx context.Context, plan *Plan, results []DeploymentResult) (*Report, error) {
	var reasons []string
	succeeded := false
	for _, r := range results {
		if r.Outcome == core.AttemptSucceeded {
			succeeded = true
			continue
		}
		reasons = append(reasons, fmt.Sprintf("%s: %s", r.DeploymentID, r.Reason))
	}

	status := core.SignalFailed
	reason := strings.Join(reasons, "; ")
	if succeeded {
		status = core.SignalExecuted
		reason = ""
	}
	return e.finalize(ctx, plan.Signal, plan.Venue, status, reason, results)
}

func (e *TradeExecutor) finalize(ctx context.Context, sig *core.Signal, venue string, status core.SignalStatus, reason string, results []DeploymentResult) (*Report, error) {
	// The terminal write must land even when the tick is being cancelled
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.OrderTimeout)
	defer cancel()

	changed, err := e.store.FinalizeSignal(fctx, sig.ID, status, reason)
	if err != nil {
		return nil, fmt.Errorf("finalize signal: %w", err)
	}

	report := &Report{
		SignalID:  sig.ID,
		Venue:     venue,
		Status:    status,
		Finalized: changed,
		Reason:    reason,
		Results:   results,
	}
	if !changed {
		// Someone else finalized first; report what is stored
		if stored, err := e.store.GetSignal(fctx, sig.ID); err == nil {
			report.Status = stored.Status
			report.Reason = stored.FailureReason
		}
		return report, nil
	}

	e.logger.Info("Signal finalized",
		"signal_id", sig.ID,
		"status", status,
		"venue", venue,
		"deployments", len(results),
		"succeeded", report.Succeeded(),
		"reason", reason)
	e.events.Publish(ctx, events.Event{
		Type:     events.SignalFinalized,
		SignalID: sig.ID,
		AgentID:  sig.AgentID,
		Token:    sig.TokenSymbol,
		Venue:    venue,
		Outcome:  string(status),
		Reason:   reason,
	})
	return report, nil
}

var errPositionAlreadyOpen = errors.New("position already open")

// openPosition returns errPositionAlreadyOpen together with the existing position when the
// pair already has one
func (e *TradeExecutor) openPosition(ctx context.Context, plan *Plan, dep *core.Deployment) (*core.Position, error) {
	sig := plan.Signal

	if existing, err := e.store.FindPosition(ctx, sig.ID, dep.ID); err == nil {
		return existing, errPositionAlreadyOpen
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("%w: lookup position: %v", apperrors.ErrUnexpected, err)
	}

	handle, ok := dep.Handle(plan.Venue)
	if !ok {
		return nil, fmt.Errorf("%w %s", apperrors.ErrNoWalletForVenue, plan.Venue)
	}

	v, err := e.registry.Get(plan.Venue)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnexpected, err)
	}

	market, err := findMarket(ctx, v, sig.TokenSymbol)
	if err != nil {
		return nil, err
	}
	balance, err := v.GetBalance(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("%w: balance: %v", apperrors.ErrUnexpected, err)
	}
	mark, err := v.GetMarkPrice(ctx, sig.TokenSymbol)
	if err != nil {
		return nil, fmt.Errorf("%w: mark price: %v", apperrors.ErrUnexpected, err)
	}

	pct := core.SizePercent(sig.Size)
	notional := tradingutils.NotionalFromPercent(balance, pct)
	qty := tradingutils.QuantityForNotional(notional, mark, market.QtyDecimals, market.MinQuantity)
	if qty.IsZero() {
		return nil, fmt.Errorf("%w: %.2f%% of %s at %s is below the minimum size",
			apperrors.ErrInsufficientBalance, pct, balance.String(), mark.String())
	}

	long := sig.Side == core.SideLong
	risk := e.riskParams(sig, mark, long)
	fill, err := v.PlaceOrder(ctx, handle, core.OrderRequest{
		ClientOrderID:   ClientOrderID(sig.ID, dep.ID),
		TokenSymbol:     sig.TokenSymbol,
		Side:            sig.Side,
		Quantity:        qty,
		StopLoss:        risk.stopLoss,
		TakeProfit:      risk.takeProfit,
		TrailingPercent: risk.trailingPercent,
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrOrderRejected) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: place order: %v", apperrors.ErrUnexpected, err)
	}

	entry := fill.FillPrice
	risk = e.riskParams(sig, entry, long)
	pos := &core.Position{
		SignalID:        sig.ID,
		DeploymentID:    dep.ID,
		AgentID:         sig.AgentID,
		Venue:           plan.Venue,
		TokenSymbol:     sig.TokenSymbol,
		Side:            sig.Side,
		Quantity:        fill.FilledQty,
		EntryPrice:      entry,
		StopLoss:        risk.stopLoss,
		TakeProfit:      risk.takeProfit,
		TrailingPercent: risk.trailingPercent,
		HighWater:       entry,
		LowWater:        entry,
		Status:          core.PositionOpen,
		EntryTxRef:      fill.TxRef,
	}
	if err := e.store.CreatePosition(ctx, pos); err != nil {
		if errors.Is(err, apperrors.ErrPositionExists) {
			existing, ferr := e.store.FindPosition(ctx, sig.ID, dep.ID)
			if ferr == nil {
				return existing, errPositionAlreadyOpen
			}
		}
		e.logger.Error("Order filled but position not recorded",
			"signal_id", sig.ID,
			"deployment_id", dep.ID,
			"tx_ref", fill.TxRef,
			"error", err)
		return nil, fmt.Errorf("%w: record position: %v", apperrors.ErrUnexpected, err)
	}
	return pos, nil
}

type riskParams struct {
	stopLoss        decimal.NullDecimal
	takeProfit      decimal.NullDecimal
	trailingPercent float64
}

func (e *TradeExecutor) riskParams(sig *core.Signal, entry decimal.Decimal, long bool) riskParams {
	p := riskParams{
		stopLoss: decimal.NewNullDecimal(tradingutils.PriceAtOffset(entry, e.cfg.HardStopLossPercent/100, long, false)),
	}
	if ts, ok := sig.Risk.(core.TrailingStop); ok {
		p.trailingPercent = ts.Stop * 100
		if ts.TakeProfit > 0 {
			p.takeProfit = decimal.NewNullDecimal(tradingutils.PriceAtOffset(entry, ts.TakeProfit, long, true))
		}
	}
	return p
}

func findMarket(ctx context.Context, v core.IVenue, token string) (core.Market, error) {
	markets, err := v.ListMarkets(ctx)
	if err != nil {
		return core.Market{}, fmt.Errorf("%w: list markets: %v", apperrors.ErrUnexpected, err)
	}
	for _, m := range markets {
		if strings.EqualFold(m.TokenSymbol, token) {
			if !m.Active {
				return core.Market{}, &apperrors.OrderRejectedError{Reason: fmt.Sprintf("market %s inactive on %s", token, v.Name())}
			}
			return m, nil
		}
	}
	return core.Market{}, &apperrors.OrderRejectedError{Reason: fmt.Sprintf("market %s not listed on %s", token, v.Name())}
}

// ClientOrderID is the venue idempotency key of one (signal, deployment) order
func ClientOrderID(signalID, deploymentID string) string {
	return signalID + ":" + deploymentID
}
