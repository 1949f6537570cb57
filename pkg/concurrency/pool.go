// Package concurrency bounds the fan-out of per-deployment work
package concurrency

import (
	"fmt"
	"time"

	"github.com/alitto/pond"

	"signal_trader/internal/core"
)

// PoolConfig sizes a worker pool
type PoolConfig struct {
	Name        string
	MaxWorkers  int
	MaxCapacity int
	IdleTimeout time.Duration
}

// WorkerPool is a bounded alitto/pond pool shared by every fan-out of one component
type WorkerPool struct {
	pool   *pond.WorkerPool
	name   string
	logger core.ILogger
}

// PoolStats is a point-in-time view of the pool
type PoolStats struct {
	Running    int    `json:"running"`
	Idle       int    `json:"idle"`
	Waiting    uint64 `json:"waiting"`
	Successful uint64 `json:"successful"`
	Failed     uint64 `json:"failed"`
}

// NewWorkerPool starts a bounded pond pool. MaxWorkers defaults to 10.
func NewWorkerPool(cfg PoolConfig, logger core.ILogger) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 10
	}
	if cfg.MaxCapacity <= 0 {
		cfg.MaxCapacity = cfg.MaxWorkers * 16
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = time.Minute
	}
	log := logger.WithField("component", "worker_pool").WithField("pool", cfg.Name)

	return &WorkerPool{
		pool: pond.New(cfg.MaxWorkers, cfg.MaxCapacity,
			pond.MinWorkers(1),
			pond.IdleTimeout(cfg.IdleTimeout),
			pond.Strategy(pond.Balanced()),
			pond.PanicHandler(func(p interface{}) {
				log.Error("Worker panic recovered", "panic", p)
			}),
		),
		name:   cfg.Name,
		logger: log,
	}
}

// RunAll runs the tasks and waits for every one. A panicking task does not stop the others.
func (wp *WorkerPool) RunAll(tasks ...func()) {
	group := wp.pool.Group()
	for _, task := range tasks {
		group.Submit(task)
	}
	group.Wait()
}

// Map calls fn for each item on wp and returns the results in input order.
// When fn panics for an item, its slot holds recovered(item, err).
func Map[In, Out any](wp *WorkerPool, items []In, fn func(In) Out, recovered func(In, error) Out) []Out {
	out := make([]Out, len(items))
	tasks := make([]func(), len(items))
	for i := range items {
		i := i
		tasks[i] = func() {
			defer func() {
				if p := recover(); p != nil {
					err := fmt.Errorf("panic in %s worker: %v", wp.name, p)
					wp.logger.Error("Task panicked", "index", i, "error", err)
					out[i] = recovered(items[i], err)
				}
			}()
			out[i] = fn(items[i])
		}
	}
	wp.RunAll(tasks...)
	return out
}

// Stop lets queued tasks finish, then releases the workers
func (wp *WorkerPool) Stop() {
	wp.pool.StopAndWait()
}

// Stats snapshots the pool counters
func (wp *WorkerPool) Stats() PoolStats {
	return PoolStats{
		Running:    wp.pool.RunningWorkers(),
		Idle:       wp.pool.IdleWorkers(),
		Waiting:    wp.pool.WaitingTasks(),
		Successful: wp.pool.SuccessfulTasks(),
		Failed:     wp.pool.FailedTasks(),
	}
}
