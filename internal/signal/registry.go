package signal

import (
	"fmt"
	"sync"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Factory builds a generator from raw parameters
type Factory func(params map[string]any) (Generator, error)

// Registry manages available generator factories. Custom strategies plug in
// through Register and are consumed via the same Generator interface as the
// built-ins.
type Registry struct {
	mu        sync.RWMutex
	logger    *zap.Logger
	factories map[string]Factory
}

// NewRegistry creates a registry with the built-in generators registered
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{
		logger:    logger,
		factories: make(map[string]Factory),
	}

	r.Register("mean_reversion", func(p map[string]any) (Generator, error) {
		return NewMeanReversion(
			paramInt(p, "window", 20),
			paramDecimal(p, "threshold", "0.02"),
		)
	})
	r.Register("momentum", func(p map[string]any) (Generator, error) {
		return NewMomentum(
			paramInt(p, "rsi_window", 14),
			paramDecimal(p, "rsi_overbought", "70"),
			paramDecimal(p, "rsi_oversold", "30"),
			paramInt(p, "momentum_window", 10),
			paramDecimal(p, "momentum_threshold", "0.05"),
		)
	})
	r.Register("ma_crossover", func(p map[string]any) (Generator, error) {
		return NewMACrossover(
			paramInt(p, "fast_window", 10),
			paramInt(p, "slow_window", 30),
			MAType(paramString(p, "ma_type", string(MASimple))),
		)
	})
	r.Register("bollinger_bands", func(p map[string]any) (Generator, error) {
		return NewBollingerBands(
			paramInt(p, "window", 20),
			paramDecimal(p, "multiplier", "2"),
			MAType(paramString(p, "ma_type", string(MASimple))),
		)
	})
	r.Register("breakout", func(p map[string]any) (Generator, error) {
		return NewBreakout(
			paramInt(p, "lookback_window", 20),
			paramDecimal(p, "breakout_threshold", "0.01"),
			paramDecimal(p, "min_volume_ratio", "1.5"),
			paramInt(p, "confirmation_period", 5),
		)
	})

	return r
}

// Register adds a generator factory
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Build creates a fresh generator for one run. Malformed parameters fail
// here, before any bar is processed.
func (r *Registry) Build(cfg types.StrategyConfig) (Generator, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", cfg.Name)
	}

	gen, err := factory(cfg.Params)
	if err != nil {
		return nil, fmt.Errorf("building strategy %q: %w", cfg.Name, err)
	}

	r.logger.Debug("Built signal generator",
		zap.String("strategy", cfg.Name),
		zap.Int("warmupBars", gen.WarmupBars()),
	)
	return gen, nil
}

// List returns all registered strategy names
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// FuncGenerator adapts a plain function into a Generator, the hook used by
// custom condition-tree strategies.
type FuncGenerator struct {
	GeneratorName string
	Warmup        int
	Fn            func(price, volume decimal.Decimal) *Signal
	ResetFn       func()
}

func (f *FuncGenerator) Name() string {
	if f.GeneratorName == "" {
		return "custom"
	}
	return f.GeneratorName
}

func (f *FuncGenerator) AddPrice(price, volume decimal.Decimal) *Signal {
	return f.Fn(price, volume)
}

func (f *FuncGenerator) WarmupBars() int { return f.Warmup }

func (f *FuncGenerator) Reset() {
	if f.ResetFn != nil {
		f.ResetFn()
	}
}

func paramInt(p map[string]any, key string, def int) int {
	v, ok := p[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return def
}

func paramDecimal(p map[string]any, key, def string) decimal.Decimal {
	v, ok := p[key]
	if !ok {
		return decimal.RequireFromString(def)
	}
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n)
	case int:
		return decimal.NewFromInt(int64(n))
	case string:
		if d, err := decimal.NewFromString(n); err == nil {
			return d
		}
	}
	return decimal.RequireFromString(def)
}

func paramString(p map[string]any, key, def string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return def
}
