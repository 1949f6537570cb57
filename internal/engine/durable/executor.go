// Package durable runs signal execution as a DBOS workflow so a crash mid-signal resumes
// from the last completed step instead of re-placing orders.
package durable

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"signal_trader/internal/core"
	"signal_trader/internal/trading/execution"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
)

// Steps is the part of the trade executor the workflow drives step by step
type Steps interface {
	Prepare(ctx context.Context, signalID string) (*execution.Plan, *execution.Report, error)
	ExecuteDeployment(ctx context.Context, plan *execution.Plan, dep *core.Deployment) execution.DeploymentResult
	Finalize(ctx context.Context, plan *execution.Plan, results []execution.DeploymentResult) (*execution.Report, error)
}

// prepared is the output of the prepare step. It is checkpointed as JSON.
type prepared struct {
	Plan   *execution.Plan   `json:"plan,omitempty"`
	Report *execution.Report `json:"report,omitempty"`
}

// SignalWorkflows holds the durable workflows for signal execution
type SignalWorkflows struct {
	steps Steps
}

// NewSignalWorkflows binds the signal workflow to the executor steps it drives
func NewSignalWorkflows(steps Steps) *SignalWorkflows {
	return &SignalWorkflows{steps: steps}
}

// ExecuteSignal is the durable workflow for one execution attempt of a signal
func (w *SignalWorkflows) ExecuteSignal(ctx dbos.DBOSContext, signalID string) (*execution.Report, error) {
	// 1. Resolve venue and load deployments (Step)
	p, err := dbos.RunAsStep(ctx, func(ctx context.Context) (prepared, error) {
		plan, report, err := w.steps.Prepare(ctx, signalID)
		return prepared{Plan: plan, Report: report}, err
	}, dbos.WithStepName("prepare"))
	if err != nil {
		return nil, err
	}
	if p.Report != nil {
		return p.Report, nil
	}
	if p.Plan == nil {
		return nil, fmt.Errorf("signal %s: prepare step returned no plan", signalID)
	}

	// 2. One step per deployment so a replay skips orders already placed
	results := make([]execution.DeploymentResult, len(p.Plan.Deployments))
	for i, dep := range p.Plan.Deployments {
		res, err := dbos.RunAsStep(ctx, func(ctx context.Context) (execution.DeploymentResult, error) {
			return w.steps.ExecuteDeployment(ctx, p.Plan, dep), nil
		}, dbos.WithStepName("deployment:"+dep.ID))
		if err != nil {
			return nil, fmt.Errorf("deployment %s: %w", dep.ID, err)
		}
		results[i] = res
	}

	// 3. Finalize status (Step)
	return dbos.RunAsStep(ctx, func(ctx context.Context) (*execution.Report, error) {
		return w.steps.Finalize(ctx, p.Plan, results)
	}, dbos.WithStepName("finalize"))
}

// Executor runs signals through the DBOS runtime. Each execution attempt of a
// signal is its own workflow, keyed <signalID>/<attempt>: a crashed attempt is
// recovered under its ID while a failed one never blocks the next poll.
type Executor struct {
	dbosCtx   dbos.DBOSContext
	workflows *SignalWorkflows
	signals   core.ISignalStore
	batchSize int
	logger    core.ILogger
	timeout   time.Duration

	mu       sync.Mutex
	attempts map[string]int
}

func NewExecutor(
	dbosCtx dbos.DBOSContext,
	steps Steps,
	signals core.ISignalStore,
	batchSize int,
	shutdownTimeout time.Duration,
	logger core.ILogger,
) *Executor {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = execution.DefaultConfig().BatchSize
	}
	return &Executor{
		dbosCtx:   dbosCtx,
		workflows: NewSignalWorkflows(steps),
		signals:   signals,
		batchSize: batchSize,
		logger:    logger.WithField("component", "dbos_executor"),
		timeout:   shutdownTimeout,
		attempts:  make(map[string]int),
	}
}

// Start registers the signal workflow and launches the DBOS runtime,
// which also recovers pending workflows
func (e *Executor) Start(ctx context.Context) error {
	e.logger.Info("Starting DBOS executor")
	dbos.RegisterWorkflow(e.dbosCtx, e.workflows.ExecuteSignal)
	return e.dbosCtx.Launch()
}

// Stop shuts the DBOS runtime down, waiting up to the shutdown timeout for running workflows
func (e *Executor) Stop() error {
	e.logger.Info("Stopping DBOS executor")
	e.dbosCtx.Shutdown(e.timeout)
	return nil
}

// ExecuteSignal runs (or joins) the current attempt for signalID and waits for its report.
// An attempt that errors or leaves the signal PENDING moves the next call to a fresh attempt.
func (e *Executor) ExecuteSignal(ctx context.Context, signalID string) (*execution.Report, error) {
	attempt, err := e.currentAttempt(signalID)
	if err != nil {
		return nil, err
	}
	workflowID := attemptWorkflowID(signalID, attempt)

	handle, err := dbos.RunWorkflow(e.dbosCtx, e.workflows.ExecuteSignal, signalID, dbos.WithWorkflowID(workflowID))
	if err != nil {
		return nil, fmt.Errorf("failed to start signal workflow: %w", err)
	}

	report, err := handle.GetResult()
	if err != nil {
		e.advanceAttempt(signalID, attempt)
		return nil, fmt.Errorf("workflow %s: %w", workflowID, err)
	}
	if report == nil {
		e.advanceAttempt(signalID, attempt)
		return nil, fmt.Errorf("workflow %s returned no report", workflowID)
	}
	if report.Finalized {
		e.forget(signalID)
	} else {
		e.advanceAttempt(signalID, attempt)
	}
	return report, nil
}

func attemptWorkflowID(signalID string, attempt int) string {
	return signalID + "/" + strconv.Itoa(attempt)
}

// currentAttempt returns the attempt number to run for signalID. The first lookup
// after a restart counts the finished attempts DBOS already holds; an attempt
// still PENDING or ENQUEUED is rejoined.
func (e *Executor) currentAttempt(signalID string) (int, error) {
	e.mu.Lock()
	n, ok := e.attempts[signalID]
	e.mu.Unlock()
	if ok {
		return n, nil
	}

	prior, err := e.dbosCtx.ListWorkflows(e.dbosCtx,
		dbos.WithWorkflowIDPrefix(signalID+"/"),
		dbos.WithLoadInput(false),
		dbos.WithLoadOutput(false),
	)
	if err != nil {
		return 0, fmt.Errorf("list signal workflows: %w", err)
	}
	n = 0
	for _, wf := range prior {
		if wf.Status != dbos.WorkflowStatusPending && wf.Status != dbos.WorkflowStatusEnqueued {
			n++
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.attempts[signalID]; ok {
		return cur, nil
	}
	e.attempts[signalID] = n
	return n, nil
}

func (e *Executor) advanceAttempt(signalID string, attempt int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.attempts[signalID] <= attempt {
		e.attempts[signalID] = attempt + 1
	}
}

func (e *Executor) forget(signalID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.attempts, signalID)
}

// ExecutePending runs one workflow per PENDING signal and returns how many reached a terminal status
func (e *Executor) ExecutePending(ctx context.Context) (int, error) {
	pending, err := e.signals.ListSignals(ctx, core.SignalFilter{Status: core.SignalPending, Limit: e.batchSize})
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
			e.logger.Error("Signal workflow failed, will retry", "signal_id", sig.ID, "error", err)
			continue
		}
		if report.Finalized {
			done++
		} else {
			e.logger.Warn("Signal left pending, will retry", "signal_id", sig.ID, "reason", report.Reason)
		}
	}
	return done, nil
}
