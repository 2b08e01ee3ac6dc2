package signal

import (
	"fmt"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// MeanReversion trades deviations from a rolling moving average. The incoming
// price is measured against the average of the prior window, then joins the
// window itself.
type MeanReversion struct {
	window    int
	threshold decimal.Decimal

	prices   *rollingSum
	position posState
}

// NewMeanReversion creates a mean-reversion generator. threshold is the
// fractional deviation that triggers a signal (0.05 = 5%).
func NewMeanReversion(window int, threshold decimal.Decimal) (*MeanReversion, error) {
	if window < 2 {
		return nil, fmt.Errorf("mean reversion window must be at least 2, got %d", window)
	}
	if threshold.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("mean reversion threshold must be positive, got %s", threshold)
	}

	return &MeanReversion{
		window:    window,
		threshold: threshold,
		prices:    newRollingSum(window),
	}, nil
}

func (g *MeanReversion) Name() string { return "mean_reversion" }

// WarmupBars returns the window plus the evaluated bar
func (g *MeanReversion) WarmupBars() int { return g.window + 1 }

// AddPrice evaluates the price against the prior window's average, then
// pushes it into the window.
func (g *MeanReversion) AddPrice(price, _ decimal.Decimal) *Signal {
	if price.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	var sig *Signal
	if g.prices.full() {
		ma := g.prices.mean()
		deviation := price.Sub(ma).Div(ma)

		switch {
		case deviation.LessThanOrEqual(g.threshold.Neg()) && g.position != posLong:
			g.position = posLong
			sig = &Signal{
				Action: types.ActionBuy,
				Reason: "price below moving average",
				Indicators: map[string]decimal.Decimal{
					"ma":        ma,
					"deviation": deviation,
				},
			}
		case deviation.GreaterThanOrEqual(g.threshold) && g.position == posLong:
			g.position = posNone
			sig = &Signal{
				Action: types.ActionSell,
				Reason: "price above moving average",
				Indicators: map[string]decimal.Decimal{
					"ma":        ma,
					"deviation": deviation,
				},
			}
		}
	}

	g.prices.push(price)
	return sig
}

// Reset clears the rolling window and position state
func (g *MeanReversion) Reset() {
	g.prices.reset()
	g.position = posNone
}
