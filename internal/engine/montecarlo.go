package engine

import (
	"math/rand"
	"sort"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MonteCarloConfig configures trade-resampling validation
type MonteCarloConfig struct {
	Iterations int   `json:"iterations"`
	Seed       int64 `json:"seed"`
}

// MonteCarlo resamples a run's closed round-trip P&Ls with replacement to
// estimate how sensitive the outcome is to trade ordering and selection.
// Seeded, so results are reproducible.
type MonteCarlo struct {
	logger *zap.Logger
	cfg    MonteCarloConfig
}

// NewMonteCarlo creates a Monte Carlo validator
func NewMonteCarlo(logger *zap.Logger, cfg MonteCarloConfig) *MonteCarlo {
	if cfg.Seed == 0 {
		cfg.Seed = 1
	}
	return &MonteCarlo{logger: logger, cfg: cfg}
}

// Run resamples the round-trip P&Ls cfg.Iterations times. Each iteration
// draws len(trips) trades with replacement, walks the equity curve from the
// initial capital, and records the terminal return. Returns nil when there
// is nothing to resample or no iterations to run.
func (m *MonteCarlo) Run(trips []decimal.Decimal, initialCapital decimal.Decimal) *types.MonteCarloResult {
	if m.cfg.Iterations <= 0 || len(trips) == 0 || initialCapital.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	rng := rand.New(rand.NewSource(m.cfg.Seed))
	returns := make([]decimal.Decimal, 0, m.cfg.Iterations)
	ruined := 0

	for i := 0; i < m.cfg.Iterations; i++ {
		equity := initialCapital
		busted := false

		for j := 0; j < len(trips); j++ {
			equity = equity.Add(trips[rng.Intn(len(trips))])
			if equity.LessThanOrEqual(decimal.Zero) {
				busted = true
				break
			}
		}

		if busted {
			ruined++
			returns = append(returns, decimal.NewFromInt(-1))
			continue
		}
		returns = append(returns, equity.Div(initialCapital).Sub(decimal.NewFromInt(1)))
	}

	sort.Slice(returns, func(a, b int) bool { return returns[a].LessThan(returns[b]) })

	result := &types.MonteCarloResult{
		Iterations:      m.cfg.Iterations,
		MedianReturn:    percentile(returns, 50),
		P5Return:        percentile(returns, 5),
		P95Return:       percentile(returns, 95),
		ProbabilityRuin: decimal.NewFromInt(int64(ruined)).Div(decimal.NewFromInt(int64(m.cfg.Iterations))),
	}

	m.logger.Debug("Monte Carlo validation completed",
		zap.Int("iterations", m.cfg.Iterations),
		zap.String("medianReturn", result.MedianReturn.String()),
		zap.String("probabilityRuin", result.ProbabilityRuin.String()),
	)

	return result
}

// percentile returns the pth percentile of sorted values, nearest-rank
func percentile(sorted []decimal.Decimal, p int) decimal.Decimal {
	if len(sorted) == 0 {
		return decimal.Zero
	}
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
