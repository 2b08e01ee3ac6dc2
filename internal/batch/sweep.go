package batch

import (
	"context"
	"fmt"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ParamRange enumerates candidate values for one strategy parameter
type ParamRange struct {
	Key    string `json:"key"`
	Values []any  `json:"values"`
}

// SweepConfig describes a grid search over strategy parameters. The grid is
// the cartesian product of the ranges, expanded in declaration order so a
// sweep always visits combinations in the same sequence.
type SweepConfig struct {
	Strategy       string                 `json:"strategy"`
	Ranges         []ParamRange           `json:"ranges"`
	BaseParams     map[string]any         `json:"base_params,omitempty"`
	Symbol         string                 `json:"symbol"`
	InitialCapital decimal.Decimal        `json:"initial_capital"`
	Settings       *types.SessionSettings `json:"settings,omitempty"`
}

// SweepResult holds every run of a sweep plus the best performer
type SweepResult struct {
	Runs []JobResult `json:"runs"`

	// Best is the successful run with the highest total return, nil when
	// every combination failed.
	Best *JobResult `json:"best,omitempty"`
}

// Sweep runs a backtest for every parameter combination and picks the best
// by total return.
func (p *Pool) Sweep(ctx context.Context, cfg SweepConfig, bars []types.PriceBar) (*SweepResult, error) {
	if cfg.Strategy == "" {
		return nil, fmt.Errorf("sweep strategy is required")
	}

	grid := expandGrid(cfg.Ranges)
	jobs := make([]Job, 0, len(grid))
	for i, combo := range grid {
		params := make(map[string]any, len(cfg.BaseParams)+len(combo))
		for k, v := range cfg.BaseParams {
			params[k] = v
		}
		for k, v := range combo {
			params[k] = v
		}
		jobs = append(jobs, Job{
			ID:             fmt.Sprintf("sweep-%s-%d", cfg.Strategy, i),
			Symbol:         cfg.Symbol,
			InitialCapital: cfg.InitialCapital,
			Settings:       cfg.Settings,
			Strategy:       types.StrategyConfig{Name: cfg.Strategy, Params: params},
			Bars:           bars,
		})
	}

	p.logger.Info("Starting parameter sweep",
		zap.String("strategy", cfg.Strategy),
		zap.Int("combinations", len(jobs)),
	)

	sweep := &SweepResult{Runs: p.RunAll(ctx, jobs)}
	for i := range sweep.Runs {
		run := &sweep.Runs[i]
		if run.Err != nil || run.Result == nil {
			continue
		}
		if sweep.Best == nil || run.Result.TotalReturn.GreaterThan(sweep.Best.Result.TotalReturn) {
			sweep.Best = run
		}
	}

	return sweep, nil
}

// expandGrid builds the cartesian product of the ranges. An empty range list
// yields a single empty combination so the base parameters still run once.
func expandGrid(ranges []ParamRange) []map[string]any {
	combos := []map[string]any{{}}
	for _, r := range ranges {
		if len(r.Values) == 0 {
			continue
		}
		next := make([]map[string]any, 0, len(combos)*len(r.Values))
		for _, base := range combos {
			for _, v := range r.Values {
				combo := make(map[string]any, len(base)+1)
				for k, bv := range base {
					combo[k] = bv
				}
				combo[r.Key] = v
				next = append(next, combo)
			}
		}
		combos = next
	}
	return combos
}
