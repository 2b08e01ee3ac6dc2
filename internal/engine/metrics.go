package engine

import (
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// summarizeRoundTrips fills the per-trip summary metrics of a result. A round
// trip is an entry fully closed out; its P&L is the sum of realized P&L of
// the sells that unwound it. Win rate is winning trips over closed trips,
// zero when nothing closed.
func summarizeRoundTrips(result *types.BacktestResult, trips []decimal.Decimal) {
	result.ClosedRoundTrips = len(trips)
	result.WinRate = decimal.Zero
	result.ProfitFactor = decimal.Zero

	if len(trips) == 0 {
		return
	}

	grossWin := decimal.Zero
	grossLoss := decimal.Zero
	wins := 0
	losses := 0

	for _, pnl := range trips {
		if pnl.GreaterThan(decimal.Zero) {
			wins++
			grossWin = grossWin.Add(pnl)
			if pnl.GreaterThan(result.LargestWin) {
				result.LargestWin = pnl
			}
		} else if pnl.LessThan(decimal.Zero) {
			losses++
			grossLoss = grossLoss.Add(pnl.Abs())
			if pnl.LessThan(result.LargestLoss) {
				result.LargestLoss = pnl
			}
		}
	}

	result.WinningTrips = wins
	result.WinRate = decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(len(trips))))

	if wins > 0 {
		result.AvgWin = grossWin.Div(decimal.NewFromInt(int64(wins)))
	}
	if losses > 0 {
		result.AvgLoss = grossLoss.Div(decimal.NewFromInt(int64(losses))).Neg()
	}
	if grossLoss.GreaterThan(decimal.Zero) {
		result.ProfitFactor = grossWin.Div(grossLoss)
	}
}
