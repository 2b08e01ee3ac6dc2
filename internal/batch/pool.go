// Package batch runs many independent backtests in parallel: ad-hoc job
// lists and parameter sweeps. Each job gets its own generator, portfolio and
// simulator, so workers share nothing but the bar data.
package batch

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/atlas-desktop/backtest-engine/internal/engine"
	"github.com/atlas-desktop/backtest-engine/internal/signal"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Job describes one backtest to run
type Job struct {
	ID             string
	Symbol         string
	InitialCapital decimal.Decimal
	Settings       *types.SessionSettings
	Strategy       types.StrategyConfig
	Bars           []types.PriceBar
}

// JobResult pairs a job with its outcome
type JobResult struct {
	Job    Job
	Result *types.BacktestResult
	Err    error
}

// Pool fans jobs out over a bounded set of worker goroutines
type Pool struct {
	logger   *zap.Logger
	runner   *engine.Runner
	registry *signal.Registry
	workers  int

	completed atomic.Int64
	failed    atomic.Int64
}

// NewPool creates a pool. workers <= 0 uses one worker per CPU.
func NewPool(logger *zap.Logger, runner *engine.Runner, registry *signal.Registry, workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{
		logger:   logger,
		runner:   runner,
		registry: registry,
		workers:  workers,
	}
}

// Completed returns the number of jobs finished successfully
func (p *Pool) Completed() int64 { return p.completed.Load() }

// Failed returns the number of jobs that errored
func (p *Pool) Failed() int64 { return p.failed.Load() }

// RunAll executes all jobs and returns results in job order. Cancelling the
// context stops dispatch; in-flight jobs observe the same context.
func (p *Pool) RunAll(ctx context.Context, jobs []Job) []JobResult {
	results := make([]JobResult, len(jobs))
	indices := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < p.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indices {
				results[i] = p.runJob(ctx, jobs[i])
			}
		}()
	}

	p.logger.Info("Dispatching batch",
		zap.Int("jobs", len(jobs)),
		zap.Int("workers", p.workers),
	)

dispatch:
	for i := range jobs {
		select {
		case indices <- i:
		case <-ctx.Done():
			for j := i; j < len(jobs); j++ {
				results[j] = JobResult{Job: jobs[j], Err: ctx.Err()}
			}
			break dispatch
		}
	}
	close(indices)
	wg.Wait()

	return results
}

func (p *Pool) runJob(ctx context.Context, job Job) JobResult {
	gen, err := p.registry.Build(job.Strategy)
	if err != nil {
		p.failed.Add(1)
		return JobResult{Job: job, Err: err}
	}

	result, err := p.runner.Run(ctx, engine.RunConfig{
		ID:             job.ID,
		Symbol:         job.Symbol,
		InitialCapital: job.InitialCapital,
		Settings:       job.Settings,
	}, job.Bars, gen)
	if err != nil {
		p.failed.Add(1)
		return JobResult{Job: job, Err: err}
	}

	p.completed.Add(1)
	return JobResult{Job: job, Result: result}
}
