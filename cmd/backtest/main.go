// Package main provides a one-shot backtest CLI.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/atlas-desktop/backtest-engine/internal/data"
	"github.com/atlas-desktop/backtest-engine/internal/engine"
	"github.com/atlas-desktop/backtest-engine/internal/signal"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	symbol := flag.String("symbol", "AAPL", "Symbol to backtest")
	strategy := flag.String("strategy", "ma_crossover", "Strategy name")
	params := flag.String("params", "{}", "Strategy parameters as JSON")
	settingsJSON := flag.String("settings", "{}", "Session settings as JSON")
	capital := flag.Float64("capital", 10000, "Initial capital")
	dataDir := flag.String("data", "./data", "Data directory")
	mcIterations := flag.Int("monte-carlo", 0, "Monte Carlo iterations (0 disables)")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
			os.Exit(1)
		}
	}
	defer logger.Sync()

	var strategyParams map[string]any
	if err := json.Unmarshal([]byte(*params), &strategyParams); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -params JSON: %v\n", err)
		os.Exit(1)
	}

	var settings types.SessionSettings
	if err := json.Unmarshal([]byte(*settingsJSON), &settings); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -settings JSON: %v\n", err)
		os.Exit(1)
	}

	registry := signal.NewRegistry(logger)
	gen, err := registry.Build(types.StrategyConfig{Name: *strategy, Params: strategyParams})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build strategy: %v\n", err)
		os.Exit(1)
	}

	store, err := data.NewStore(logger, *dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open data store: %v\n", err)
		os.Exit(1)
	}

	bars, err := store.LoadBars(*symbol)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load bars: %v\n", err)
		os.Exit(1)
	}

	cfg := engine.RunConfig{
		ID:             uuid.New().String(),
		Symbol:         *symbol,
		InitialCapital: decimal.NewFromFloat(*capital),
		Settings:       &settings,
	}
	if *mcIterations > 0 {
		cfg.MonteCarlo = &engine.MonteCarloConfig{Iterations: *mcIterations}
	}

	result, err := engine.NewRunner(logger).Run(context.Background(), cfg, bars, gen)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backtest failed: %v\n", err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode result: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
