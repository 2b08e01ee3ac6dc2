// Package engine provides the backtest simulation engine: a portfolio and
// risk manager, a stateless order-execution simulator, and the per-bar
// runner tying them together.
package engine

import (
	"time"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Portfolio owns cash, per-symbol positions and daily P&L. It sizes
// positions, gates entries against the session's risk and window rules, and
// detects stop-loss/take-profit/trailing-stop triggers. One composed type
// parameterized by session settings; a fresh instance per run, no locking.
type Portfolio struct {
	logger   *zap.Logger
	settings *types.SessionSettings

	cash        decimal.Decimal
	initialCash decimal.Decimal
	positions   map[string]*Position

	dailyPnL   decimal.Decimal
	currentDay time.Time
	lockedOut  bool
}

// Position represents a held position. Mutated only by Portfolio.Buy/Sell;
// shares never go negative, and a fully closed position is removed, which
// resets entry price, entry date and highest-price tracking.
type Position struct {
	Symbol       string
	Shares       decimal.Decimal
	AvgPrice     decimal.Decimal
	EntryPrice   decimal.Decimal
	EntryDate    time.Time
	CurrentPrice decimal.Decimal
	HighestPrice decimal.Decimal
}

// NewPortfolio creates a portfolio. Settings must already be resolved.
func NewPortfolio(logger *zap.Logger, initialCash decimal.Decimal, settings *types.SessionSettings) *Portfolio {
	return &Portfolio{
		logger:      logger,
		settings:    settings,
		cash:        initialCash,
		initialCash: initialCash,
		positions:   make(map[string]*Position),
	}
}

// Cash returns available cash
func (p *Portfolio) Cash() decimal.Decimal { return p.cash }

// TotalValue returns cash plus the market value of all positions
func (p *Portfolio) TotalValue() decimal.Decimal {
	total := p.cash
	for _, pos := range p.positions {
		total = total.Add(pos.Shares.Mul(pos.CurrentPrice))
	}
	return total
}

// GetPosition returns a copy of the position for a symbol, or nil
func (p *Portfolio) GetPosition(symbol string) *Position {
	pos, ok := p.positions[symbol]
	if !ok {
		return nil
	}
	cp := *pos
	return &cp
}

// OpenPositions returns the number of open positions
func (p *Portfolio) OpenPositions() int { return len(p.positions) }

// DailyPnL returns realized P&L accumulated during the current day
func (p *Portfolio) DailyPnL() decimal.Decimal { return p.dailyPnL }

// UpdatePrice marks a symbol to the latest price and ratchets the
// highest-price-since-entry used by the trailing stop.
func (p *Portfolio) UpdatePrice(symbol string, price decimal.Decimal) {
	pos, ok := p.positions[symbol]
	if !ok {
		return
	}
	pos.CurrentPrice = price
	if price.GreaterThan(pos.HighestPrice) {
		pos.HighestPrice = price
	}
}

// ResetDailyPnL clears daily P&L and the loss lockout when the calendar day
// advances.
func (p *Portfolio) ResetDailyPnL(date time.Time) {
	day := date.Truncate(24 * time.Hour)
	if day.Equal(p.currentDay) {
		return
	}
	p.currentDay = day
	p.dailyPnL = decimal.Zero
	p.lockedOut = false
}

// CalculatePositionSize returns the number of shares to buy under the
// session's sizing method. Zero means no affordable or permitted size.
func (p *Portfolio) CalculatePositionSize(symbol string, price decimal.Decimal) decimal.Decimal {
	if price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	total := p.TotalValue()
	var shares decimal.Decimal

	switch p.settings.PositionSizingMethod {
	case types.SizingFixed:
		shares = p.settings.PositionSizeValue.Floor()

	case types.SizingPercentage:
		target := total.Mul(p.settings.PositionSizeValue).Div(hundred)
		shares = target.Div(price).Floor()
		shares = p.capBySizeLimit(shares, price, total)

	case types.SizingEqualWeight:
		if p.settings.MaxOpenPositions <= 0 {
			return decimal.Zero
		}
		slot := total.Div(decimal.NewFromInt(int64(p.settings.MaxOpenPositions)))
		shares = slot.Div(price).Floor()

	case types.SizingKelly:
		// PositionSizeValue holds the Kelly fraction of total value.
		target := total.Mul(p.settings.PositionSizeValue)
		shares = target.Div(price).Floor()
		shares = p.capBySizeLimit(shares, price, total)

	default:
		return decimal.Zero
	}

	if shares.IsNegative() {
		return decimal.Zero
	}
	return shares
}

// capBySizeLimit caps shares so the position value stays within the
// max-position-size percentage, when configured.
func (p *Portfolio) capBySizeLimit(shares, price, total decimal.Decimal) decimal.Decimal {
	if p.settings.MaxPositionSizePercentage.LessThanOrEqual(decimal.Zero) {
		return shares
	}
	maxValue := total.Mul(p.settings.MaxPositionSizePercentage).Div(hundred)
	maxShares := maxValue.Div(price).Floor()
	if shares.GreaterThan(maxShares) {
		return maxShares
	}
	return shares
}

// CanOpenPosition gates a prospective entry. Checks run in a fixed order and
// the first failure wins: daily-loss lockout, max open positions, per-symbol
// position size, trading window.
func (p *Portfolio) CanOpenPosition(symbol string, price decimal.Decimal, date time.Time) (bool, string) {
	if p.lockedOut {
		return false, "daily loss limit reached"
	}

	if p.settings.MaxOpenPositions > 0 {
		if _, held := p.positions[symbol]; !held && len(p.positions) >= p.settings.MaxOpenPositions {
			return false, "max open positions reached"
		}
	}

	if p.settings.MaxPositionSizePercentage.GreaterThan(decimal.Zero) {
		if pos, held := p.positions[symbol]; held {
			maxValue := p.TotalValue().Mul(p.settings.MaxPositionSizePercentage).Div(hundred)
			if pos.Shares.Mul(price).GreaterThanOrEqual(maxValue) {
				return false, "max position size for symbol reached"
			}
		}
	}

	if !p.IsWithinTradingWindow(date) {
		return false, "outside trading window"
	}

	return true, ""
}

// CheckStopLossTakeProfit returns the exit trigger fired by the current
// price, if any. Stop-loss and take-profit are measured against the entry
// price; the trailing stop against the highest price since entry.
func (p *Portfolio) CheckStopLossTakeProfit(symbol string, price decimal.Decimal) types.ExitTrigger {
	pos, ok := p.positions[symbol]
	if !ok || pos.EntryPrice.LessThanOrEqual(decimal.Zero) {
		return ""
	}

	pnlPct := price.Sub(pos.EntryPrice).Div(pos.EntryPrice).Mul(hundred)

	if p.settings.StopLossPercentage.GreaterThan(decimal.Zero) &&
		pnlPct.LessThanOrEqual(p.settings.StopLossPercentage.Neg()) {
		return types.ExitStopLoss
	}

	if p.settings.TakeProfitPercentage.GreaterThan(decimal.Zero) &&
		pnlPct.GreaterThanOrEqual(p.settings.TakeProfitPercentage) {
		return types.ExitTakeProfit
	}

	if p.settings.TrailingStopPercentage.GreaterThan(decimal.Zero) && pos.HighestPrice.GreaterThan(decimal.Zero) {
		floor := pos.HighestPrice.Mul(decimal.NewFromInt(1).Sub(p.settings.TrailingStopPercentage.Div(hundred)))
		if price.LessThan(floor) {
			return types.ExitTrailingStop
		}
	}

	return ""
}

// Buy settles an executed buy fill against cash and the position map
func (p *Portfolio) Buy(symbol string, shares, price, commission decimal.Decimal, date time.Time) bool {
	cost := shares.Mul(price).Add(commission)
	if shares.LessThanOrEqual(decimal.Zero) || cost.GreaterThan(p.cash) {
		p.logger.Debug("Buy refused",
			zap.String("symbol", symbol),
			zap.String("cost", cost.String()),
			zap.String("cash", p.cash.String()),
		)
		return false
	}

	p.cash = p.cash.Sub(cost)

	// Marking to market is UpdatePrice's job; the fill price only seeds a
	// brand-new position until the next mark.
	if pos, ok := p.positions[symbol]; ok {
		totalShares := pos.Shares.Add(shares)
		totalCost := pos.Shares.Mul(pos.AvgPrice).Add(shares.Mul(price))
		pos.AvgPrice = totalCost.Div(totalShares)
		pos.Shares = totalShares
	} else {
		p.positions[symbol] = &Position{
			Symbol:       symbol,
			Shares:       shares,
			AvgPrice:     price,
			EntryPrice:   price,
			EntryDate:    date,
			CurrentPrice: price,
			HighestPrice: price,
		}
	}

	return true
}

// Sell settles an executed sell fill, returning the realized P&L. Selling
// more shares than held closes the position. Realized P&L accumulates into
// the daily total, arming the daily-loss lockout when a limit is crossed.
func (p *Portfolio) Sell(symbol string, shares, price, commission decimal.Decimal, date time.Time) (decimal.Decimal, bool) {
	pos, ok := p.positions[symbol]
	if !ok || shares.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, false
	}

	if shares.GreaterThan(pos.Shares) {
		shares = pos.Shares
	}

	proceeds := shares.Mul(price)
	costBasis := shares.Mul(pos.AvgPrice)
	pnl := proceeds.Sub(costBasis).Sub(commission)

	p.cash = p.cash.Add(proceeds).Sub(commission)
	pos.Shares = pos.Shares.Sub(shares)
	if pos.Shares.LessThanOrEqual(decimal.Zero) {
		delete(p.positions, symbol)
	}

	p.dailyPnL = p.dailyPnL.Add(pnl)
	p.checkDailyLossLimit()

	return pnl, true
}

// checkDailyLossLimit arms the lockout once |dailyPnL| crosses the
// percentage (of initial capital) or absolute threshold.
func (p *Portfolio) checkDailyLossLimit() {
	if p.lockedOut {
		return
	}

	abs := p.dailyPnL.Abs()

	if p.settings.MaxDailyLossPercentage.GreaterThan(decimal.Zero) {
		threshold := p.initialCash.Mul(p.settings.MaxDailyLossPercentage).Div(hundred)
		if abs.GreaterThanOrEqual(threshold) {
			p.lockedOut = true
		}
	}
	if p.settings.MaxDailyLossAbsolute.GreaterThan(decimal.Zero) &&
		abs.GreaterThanOrEqual(p.settings.MaxDailyLossAbsolute) {
		p.lockedOut = true
	}

	if p.lockedOut {
		p.logger.Debug("Daily loss lockout armed", zap.String("dailyPnL", p.dailyPnL.String()))
	}
}

// IsWithinTradingWindow reports whether the date falls inside the session's
// trading days and hours. Extended hours skip the hour check.
func (p *Portfolio) IsWithinTradingWindow(date time.Time) bool {
	if len(p.settings.TradingDays) > 0 {
		match := false
		for _, day := range p.settings.TradingDays {
			if date.Weekday() == day {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	if p.settings.ExtendedHours {
		return true
	}

	minutes := date.Hour()*60 + date.Minute()
	if p.settings.TradingHoursStart != "" {
		if start, ok := parseClock(p.settings.TradingHoursStart); ok && minutes < start {
			return false
		}
	}
	if p.settings.TradingHoursEnd != "" {
		if end, ok := parseClock(p.settings.TradingHoursEnd); ok && minutes > end {
			return false
		}
	}

	return true
}

// parseClock parses "15:04" into minutes since midnight
func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

var hundred = decimal.NewFromInt(100)
