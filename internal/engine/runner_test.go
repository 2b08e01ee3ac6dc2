package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-desktop/backtest-engine/internal/engine"
	"github.com/atlas-desktop/backtest-engine/internal/signal"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// dailyBars builds one bar per weekday from the close prices
func dailyBars(closes ...string) []types.PriceBar {
	bars := make([]types.PriceBar, 0, len(closes))
	date := time.Date(2024, 3, 4, 16, 0, 0, 0, time.UTC)
	for _, c := range closes {
		for date.Weekday() == time.Saturday || date.Weekday() == time.Sunday {
			date = date.AddDate(0, 0, 1)
		}
		bars = append(bars, types.PriceBar{
			Date:   date,
			Open:   d(c),
			Close:  d(c),
			Volume: d("100000"),
		})
		date = date.AddDate(0, 0, 1)
	}
	return bars
}

// buyOnFirstBar emits a single BUY on the first bar and nothing after
func buyOnFirstBar() signal.Generator {
	fired := false
	return &signal.FuncGenerator{
		GeneratorName: "scripted",
		Warmup:        1,
		Fn: func(price, volume decimal.Decimal) *signal.Signal {
			if fired {
				return nil
			}
			fired = true
			return &signal.Signal{Action: types.ActionBuy, Reason: "scripted entry"}
		},
		ResetFn: func() { fired = false },
	}
}

func TestRunEmptyInput(t *testing.T) {
	runner := engine.NewRunner(zap.NewNop())

	result, err := runner.Run(context.Background(), engine.RunConfig{
		ID:             "empty",
		Symbol:         "TEST",
		InitialCapital: d("10000"),
	}, nil, buyOnFirstBar())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !result.FinalPortfolioValue.Equal(d("10000")) {
		t.Errorf("Expected final value to equal initial capital, got %s", result.FinalPortfolioValue)
	}
	if !result.TotalReturn.IsZero() {
		t.Errorf("Expected zero return, got %s", result.TotalReturn)
	}
	if len(result.Trades) != 0 || len(result.PortfolioHistory) != 0 {
		t.Error("Expected no trades or history for empty input")
	}
	if result.Trades == nil || result.PortfolioHistory == nil {
		t.Error("Expected empty slices, not nil, so they serialize as []")
	}
}

func TestRunRequiresGeneratorAndCapital(t *testing.T) {
	runner := engine.NewRunner(zap.NewNop())

	if _, err := runner.Run(context.Background(), engine.RunConfig{InitialCapital: d("100")}, nil, nil); err == nil {
		t.Error("Expected error for nil generator")
	}
	if _, err := runner.Run(context.Background(), engine.RunConfig{}, nil, buyOnFirstBar()); err == nil {
		t.Error("Expected error for non-positive capital")
	}
}

func TestRunStopLossExit(t *testing.T) {
	runner := engine.NewRunner(zap.NewNop())

	settings := &types.SessionSettings{
		PositionSizingMethod: types.SizingFixed,
		PositionSizeValue:    d("10"),
		StopLossPercentage:   d("5"),
	}

	result, err := runner.Run(context.Background(), engine.RunConfig{
		ID:             "stop-loss",
		Symbol:         "TEST",
		InitialCapital: d("10000"),
		Settings:       settings,
	}, dailyBars("100", "98", "93"), buyOnFirstBar())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(result.Trades) != 2 {
		t.Fatalf("Expected entry and forced exit, got %d trades", len(result.Trades))
	}

	entry, exit := result.Trades[0], result.Trades[1]
	if entry.Action != types.ActionBuy || !entry.Price.Equal(d("100")) {
		t.Errorf("Unexpected entry trade: %+v", entry)
	}
	if exit.Action != types.ActionSell || exit.Reason != string(types.ExitStopLoss) {
		t.Errorf("Expected stop-loss exit, got %+v", exit)
	}
	if !exit.PnL.Equal(d("-70")) {
		t.Errorf("Expected P&L of -70 on 10 shares, got %s", exit.PnL)
	}

	if result.ClosedRoundTrips != 1 || result.WinningTrips != 0 {
		t.Errorf("Expected one losing round trip, got %d/%d", result.WinningTrips, result.ClosedRoundTrips)
	}
	if !result.WinRate.IsZero() {
		t.Errorf("Expected zero win rate, got %s", result.WinRate)
	}
}

func TestRunPortfolioInvariant(t *testing.T) {
	runner := engine.NewRunner(zap.NewNop())

	settings := &types.SessionSettings{
		PositionSizingMethod: types.SizingFixed,
		PositionSizeValue:    d("10"),
	}

	result, err := runner.Run(context.Background(), engine.RunConfig{
		ID:             "invariant",
		Symbol:         "TEST",
		InitialCapital: d("10000"),
		Settings:       settings,
	}, dailyBars("100", "105", "110"), buyOnFirstBar())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for i, snap := range result.PortfolioHistory {
		want := snap.Cash.Add(snap.Shares.Mul(snap.Price))
		if !snap.TotalValue.Equal(want) {
			t.Errorf("Snapshot %d violates cash+shares*price: %s != %s", i, snap.TotalValue, want)
		}
	}

	// Held 10 shares from 100 to 110.
	if !result.FinalPortfolioValue.Equal(d("10100")) {
		t.Errorf("Expected final value 10100, got %s", result.FinalPortfolioValue)
	}
	if !result.TotalReturn.Equal(d("0.01")) {
		t.Errorf("Expected total return 0.01, got %s", result.TotalReturn)
	}
}

func TestRunEntryBarMarkedToMarket(t *testing.T) {
	runner := engine.NewRunner(zap.NewNop())

	settings := &types.SessionSettings{
		PositionSizingMethod: types.SizingFixed,
		PositionSizeValue:    d("10"),
		SlippageModel:        types.SlippageFixed,
		SlippageValue:        d("1"),
	}

	result, err := runner.Run(context.Background(), engine.RunConfig{
		ID:             "entry-mark",
		Symbol:         "TEST",
		InitialCapital: d("10000"),
		Settings:       settings,
	}, dailyBars("100"), buyOnFirstBar())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(result.Trades) != 1 || !result.Trades[0].Price.Equal(d("101")) {
		t.Fatalf("Expected one fill at 101, got %+v", result.Trades)
	}

	// Paid 101 per share but the position is worth the 100 close.
	if len(result.PortfolioHistory) != 1 {
		t.Fatalf("Expected one snapshot, got %d", len(result.PortfolioHistory))
	}
	snap := result.PortfolioHistory[0]
	if !snap.Cash.Equal(d("8990")) {
		t.Errorf("Expected cash 8990 after slipped fill, got %s", snap.Cash)
	}
	if !snap.TotalValue.Equal(snap.Cash.Add(snap.Shares.Mul(snap.Price))) {
		t.Errorf("Snapshot violates cash+shares*price: %s vs %s + %s*%s",
			snap.TotalValue, snap.Cash, snap.Shares, snap.Price)
	}
	if !result.FinalPortfolioValue.Equal(d("9990")) {
		t.Errorf("Expected final value 9990, got %s", result.FinalPortfolioValue)
	}
}

func TestRunDeterministic(t *testing.T) {
	bars := dailyBars("100", "102", "98", "95", "103", "108", "101", "99", "104", "110")
	settings := &types.SessionSettings{
		PositionSizingMethod: types.SizingPercentage,
		PositionSizeValue:    d("20"),
		StopLossPercentage:   d("5"),
		TakeProfitPercentage: d("8"),
		SlippageModel:        types.SlippageFixed,
		SlippageValue:        d("0.1"),
		CommissionRate:       d("0.05"),
	}
	cfg := engine.RunConfig{
		ID:             "determinism",
		Symbol:         "TEST",
		InitialCapital: d("10000"),
		Settings:       settings,
	}

	registry := signal.NewRegistry(zap.NewNop())
	runner := engine.NewRunner(zap.NewNop())

	run := func() *types.BacktestResult {
		gen, err := registry.Build(types.StrategyConfig{
			Name:   "mean_reversion",
			Params: map[string]any{"window": 3, "threshold": 0.02},
		})
		if err != nil {
			t.Fatalf("Failed to build generator: %v", err)
		}
		result, err := runner.Run(context.Background(), cfg, bars, gen)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		return result
	}

	first := run()
	second := run()

	if len(first.Trades) != len(second.Trades) {
		t.Fatalf("Trade counts differ: %d vs %d", len(first.Trades), len(second.Trades))
	}
	for i := range first.Trades {
		a, b := first.Trades[i], second.Trades[i]
		if a.ID != b.ID || !a.Price.Equal(b.Price) || !a.Shares.Equal(b.Shares) || !a.PnL.Equal(b.PnL) {
			t.Errorf("Trade %d differs between runs: %+v vs %+v", i, a, b)
		}
	}
	if !first.FinalPortfolioValue.Equal(second.FinalPortfolioValue) {
		t.Errorf("Final values differ: %s vs %s", first.FinalPortfolioValue, second.FinalPortfolioValue)
	}
	if !first.MaxDrawdown.Equal(second.MaxDrawdown) {
		t.Errorf("Drawdowns differ: %s vs %s", first.MaxDrawdown, second.MaxDrawdown)
	}
}

func TestRunShortInputProducesNoTrades(t *testing.T) {
	runner := engine.NewRunner(zap.NewNop())
	registry := signal.NewRegistry(zap.NewNop())

	// Default ma_crossover needs 31 bars of warmup; give it 5.
	gen, err := registry.Build(types.StrategyConfig{Name: "ma_crossover"})
	if err != nil {
		t.Fatalf("Failed to build generator: %v", err)
	}

	result, err := runner.Run(context.Background(), engine.RunConfig{
		ID:             "short",
		Symbol:         "TEST",
		InitialCapital: d("10000"),
	}, dailyBars("100", "101", "102", "103", "104"), gen)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(result.Trades) != 0 {
		t.Errorf("Expected no trades below the warmup window, got %d", len(result.Trades))
	}
	if !result.FinalPortfolioValue.Equal(d("10000")) {
		t.Errorf("Expected untouched capital, got %s", result.FinalPortfolioValue)
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	runner := engine.NewRunner(zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.Run(ctx, engine.RunConfig{
		ID:             "cancelled",
		Symbol:         "TEST",
		InitialCapital: d("10000"),
	}, dailyBars("100", "101"), buyOnFirstBar())
	if err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestRunProgressCallback(t *testing.T) {
	runner := engine.NewRunner(zap.NewNop())

	var lastDone, lastTotal int
	_, err := runner.Run(context.Background(), engine.RunConfig{
		ID:             "progress",
		Symbol:         "TEST",
		InitialCapital: d("10000"),
		OnProgress: func(done, total int, equity decimal.Decimal) {
			lastDone, lastTotal = done, total
		},
	}, dailyBars("100", "101", "102"), buyOnFirstBar())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if lastDone != 3 || lastTotal != 3 {
		t.Errorf("Expected final progress 3/3, got %d/%d", lastDone, lastTotal)
	}
}
