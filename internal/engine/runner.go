package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/atlas-desktop/backtest-engine/internal/signal"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RunConfig configures one backtest run
type RunConfig struct {
	ID             string
	Symbol         string
	InitialCapital decimal.Decimal
	Settings       *types.SessionSettings

	// MonteCarlo enables trade-resampling validation when non-nil.
	MonteCarlo *MonteCarloConfig

	// OnProgress, when set, is called periodically with bars processed,
	// total bars and current equity.
	OnProgress func(done, total int, equity decimal.Decimal)
}

// Runner replays a sorted bar series through a signal generator, portfolio
// and execution simulator. A run is strictly sequential: bar n+1 is never
// processed until all effects of bar n are settled. The runner performs no
// I/O; cancellation is the caller's context.
type Runner struct {
	logger *zap.Logger
}

// NewRunner creates a backtest runner
func NewRunner(logger *zap.Logger) *Runner {
	return &Runner{logger: logger}
}

// Run executes one backtest. Fresh portfolio and simulator instances are
// created per run, so identical inputs produce identical results.
func (r *Runner) Run(ctx context.Context, cfg RunConfig, bars []types.PriceBar, gen signal.Generator) (*types.BacktestResult, error) {
	if gen == nil {
		return nil, fmt.Errorf("signal generator is required")
	}
	if cfg.InitialCapital.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("initial capital must be positive, got %s", cfg.InitialCapital)
	}

	settings := types.ResolveSettings(cfg.Settings)
	portfolio := NewPortfolio(r.logger, cfg.InitialCapital, settings)
	simulator := NewExecutionSimulator(settings)

	startedAt := time.Now()
	state := &runState{
		cfg:       cfg,
		settings:  settings,
		portfolio: portfolio,
		simulator: simulator,
		trades:    []types.Trade{},
		history:   []types.PortfolioSnapshot{},
		peak:      cfg.InitialCapital,
	}

	r.logger.Info("Starting backtest",
		zap.String("id", cfg.ID),
		zap.String("symbol", cfg.Symbol),
		zap.String("strategy", gen.Name()),
		zap.Int("bars", len(bars)),
	)

	for i, bar := range bars {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		r.processBar(state, bar, gen)

		if cfg.OnProgress != nil && ((i+1)%100 == 0 || i == len(bars)-1) {
			cfg.OnProgress(i+1, len(bars), portfolio.TotalValue())
		}
	}

	result := state.buildResult(startedAt)

	if cfg.MonteCarlo != nil && cfg.MonteCarlo.Iterations > 0 {
		mc := NewMonteCarlo(r.logger, *cfg.MonteCarlo)
		result.MonteCarlo = mc.Run(state.roundTrips, cfg.InitialCapital)
	}

	r.logger.Info("Backtest completed",
		zap.String("id", cfg.ID),
		zap.Int("trades", len(result.Trades)),
		zap.String("totalReturn", result.TotalReturn.String()),
		zap.Duration("duration", result.Duration),
	)

	return result, nil
}

// runState carries the mutable state of one run through the bar loop
type runState struct {
	cfg       RunConfig
	settings  *types.SessionSettings
	portfolio *Portfolio
	simulator *ExecutionSimulator

	trades     []types.Trade
	history    []types.PortfolioSnapshot
	roundTrips []decimal.Decimal
	episodePnL decimal.Decimal

	peak        decimal.Decimal
	maxDrawdown decimal.Decimal
}

// processBar applies one bar: daily reset, signal, risk exits, entries,
// signal exits, snapshot — in that order.
func (r *Runner) processBar(st *runState, bar types.PriceBar, gen signal.Generator) {
	st.portfolio.ResetDailyPnL(bar.Date)

	sig := gen.AddPrice(bar.Close, bar.Volume)
	st.portfolio.UpdatePrice(st.cfg.Symbol, bar.Close)

	// Risk exits run before any new signal is acted on.
	if trigger := st.portfolio.CheckStopLossTakeProfit(st.cfg.Symbol, bar.Close); trigger != "" {
		r.closePosition(st, bar, string(trigger), nil)
	}

	if sig != nil {
		switch sig.Action {
		case types.ActionBuy:
			r.tryEnter(st, bar, sig)
		case types.ActionSell:
			if pos := st.portfolio.GetPosition(st.cfg.Symbol); pos != nil {
				r.closePosition(st, bar, sig.Reason, sig.Indicators)
			}
		}
	}

	r.snapshot(st, bar)
}

// tryEnter gates, sizes and submits an entry order
func (r *Runner) tryEnter(st *runState, bar types.PriceBar, sig *signal.Signal) {
	allowed, reason := st.portfolio.CanOpenPosition(st.cfg.Symbol, bar.Close, bar.Date)
	if !allowed {
		r.logger.Debug("Entry refused",
			zap.String("symbol", st.cfg.Symbol),
			zap.Time("date", bar.Date),
			zap.String("reason", reason),
		)
		return
	}

	quantity := st.portfolio.CalculatePositionSize(st.cfg.Symbol, bar.Close)
	if quantity.LessThanOrEqual(decimal.Zero) {
		return
	}

	// Cap the order to what cash can cover once commission lands.
	if affordable := maxAffordable(st.portfolio.Cash(), bar.Close, st.settings.CommissionRate); quantity.GreaterThan(affordable) {
		quantity = affordable
	}
	if quantity.LessThanOrEqual(decimal.Zero) {
		return
	}

	res := st.simulator.Execute(types.OrderRequest{
		Symbol:       st.cfg.Symbol,
		Side:         types.ActionBuy,
		Quantity:     quantity,
		OrderType:    st.settings.OrderTypeDefault,
		LimitPrice:   bar.Close,
		StopPrice:    bar.Close,
		CurrentPrice: bar.Close,
		Volume:       bar.Volume,
		Timestamp:    bar.Date,
	})
	if !res.Executed {
		r.logger.Debug("Entry order rejected", zap.String("reason", res.Reason))
		return
	}

	if !st.portfolio.Buy(st.cfg.Symbol, res.ExecutedQuantity, res.ExecutedPrice, res.Commission, bar.Date) {
		return
	}

	// A fresh position is seeded at the fill price, which drifts from the
	// bar's close under slippage. Mark it back to market before the snapshot.
	st.portfolio.UpdatePrice(st.cfg.Symbol, bar.Close)

	st.recordTrade(bar.Date, types.ActionBuy, res, decimal.Zero, sig.Reason, sig.Indicators)
}

// closePosition submits a market exit for the full position and settles it
func (r *Runner) closePosition(st *runState, bar types.PriceBar, reason string, indicators map[string]decimal.Decimal) {
	pos := st.portfolio.GetPosition(st.cfg.Symbol)
	if pos == nil {
		return
	}

	res := st.simulator.Execute(types.OrderRequest{
		Symbol:       st.cfg.Symbol,
		Side:         types.ActionSell,
		Quantity:     pos.Shares,
		OrderType:    types.OrderTypeMarket,
		CurrentPrice: bar.Close,
		Volume:       bar.Volume,
		Timestamp:    bar.Date,
	})
	if !res.Executed {
		r.logger.Debug("Exit order rejected", zap.String("reason", res.Reason))
		return
	}

	pnl, ok := st.portfolio.Sell(st.cfg.Symbol, res.ExecutedQuantity, res.ExecutedPrice, res.Commission, bar.Date)
	if !ok {
		return
	}

	st.episodePnL = st.episodePnL.Add(pnl)
	if st.portfolio.GetPosition(st.cfg.Symbol) == nil {
		st.roundTrips = append(st.roundTrips, st.episodePnL)
		st.episodePnL = decimal.Zero
	}

	st.recordTrade(bar.Date, types.ActionSell, res, pnl, reason, indicators)
}

// snapshot records portfolio state after the bar's effects settle
func (r *Runner) snapshot(st *runState, bar types.PriceBar) {
	total := st.portfolio.TotalValue()
	shares := decimal.Zero
	if pos := st.portfolio.GetPosition(st.cfg.Symbol); pos != nil {
		shares = pos.Shares
	}

	if total.GreaterThan(st.peak) {
		st.peak = total
	}
	if st.peak.GreaterThan(decimal.Zero) {
		dd := st.peak.Sub(total).Div(st.peak)
		if dd.GreaterThan(st.maxDrawdown) {
			st.maxDrawdown = dd
		}
	}

	st.history = append(st.history, types.PortfolioSnapshot{
		Date:       bar.Date,
		TotalValue: total,
		Cash:       st.portfolio.Cash(),
		Shares:     shares,
		Price:      bar.Close,
	})
}

// recordTrade appends an immutable trade record with a deterministic ID
func (st *runState) recordTrade(date time.Time, action types.Action, res types.ExecutionResult, pnl decimal.Decimal, reason string, indicators map[string]decimal.Decimal) {
	seq := fmt.Sprintf("%s/%s/%d", st.cfg.ID, st.cfg.Symbol, len(st.trades))
	st.trades = append(st.trades, types.Trade{
		ID:         uuid.NewSHA1(uuid.NameSpaceOID, []byte(seq)).String(),
		Symbol:     st.cfg.Symbol,
		Date:       date,
		Action:     action,
		Price:      res.ExecutedPrice,
		Shares:     res.ExecutedQuantity,
		Commission: res.Commission,
		Slippage:   res.Slippage,
		PnL:        pnl,
		Reason:     reason,
		Indicators: indicators,
	})
}

// buildResult assembles the final result and summary metrics
func (st *runState) buildResult(startedAt time.Time) *types.BacktestResult {
	final := st.portfolio.TotalValue()

	result := &types.BacktestResult{
		ID:                  st.cfg.ID,
		Symbol:              st.cfg.Symbol,
		Trades:              st.trades,
		FinalPortfolioValue: final,
		TotalReturn:         final.Div(st.cfg.InitialCapital).Sub(decimal.NewFromInt(1)),
		MaxDrawdown:         st.maxDrawdown,
		PortfolioHistory:    st.history,
		StartedAt:           startedAt,
		CompletedAt:         time.Now(),
	}
	result.Duration = result.CompletedAt.Sub(startedAt)

	summarizeRoundTrips(result, st.roundTrips)
	return result
}

// maxAffordable returns the largest whole-share quantity cash covers at the
// given price including commission.
func maxAffordable(cash, price, commissionRate decimal.Decimal) decimal.Decimal {
	perShare := price.Add(price.Mul(commissionRate).Div(hundred))
	if perShare.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return cash.Div(perShare).Floor()
}
