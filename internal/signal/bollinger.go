package signal

import (
	"fmt"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// BollingerBands trades touches of bands placed a multiple of the rolling
// standard deviation around a moving average. The window includes the
// current bar.
type BollingerBands struct {
	window     int
	multiplier decimal.Decimal

	middle  *movingAverage
	prices  *rollingSum
	squares *rollingSum

	position posState
}

// NewBollingerBands creates a Bollinger band generator
func NewBollingerBands(window int, multiplier decimal.Decimal, maType MAType) (*BollingerBands, error) {
	if window < 2 {
		return nil, fmt.Errorf("bollinger window must be at least 2, got %d", window)
	}
	if multiplier.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("bollinger multiplier must be positive, got %s", multiplier)
	}
	if maType != MASimple && maType != MAExponential {
		return nil, fmt.Errorf("unknown moving average type %q", maType)
	}

	return &BollingerBands{
		window:     window,
		multiplier: multiplier,
		middle:     newMovingAverage(maType, window),
		prices:     newRollingSum(window),
		squares:    newRollingSum(window),
	}, nil
}

func (g *BollingerBands) Name() string { return "bollinger_bands" }

// WarmupBars returns the band window
func (g *BollingerBands) WarmupBars() int { return g.window }

// AddPrice advances the bands by one bar
func (g *BollingerBands) AddPrice(price, _ decimal.Decimal) *Signal {
	if price.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	middle := g.middle.update(price)
	g.prices.push(price)
	g.squares.push(price.Mul(price))

	if !g.prices.full() {
		return nil
	}

	// var(X) = E[X^2] - E[X]^2, clamped against rounding
	mean := g.prices.mean()
	variance := g.squares.mean().Sub(mean.Mul(mean))
	if variance.IsNegative() {
		variance = decimal.Zero
	}
	stddev := sqrtDecimal(variance)

	offset := stddev.Mul(g.multiplier)
	upper := middle.Add(offset)
	lower := middle.Sub(offset)

	indicators := map[string]decimal.Decimal{
		"middle": middle,
		"upper":  upper,
		"lower":  lower,
	}

	switch {
	case price.LessThanOrEqual(lower) && g.position != posLong:
		g.position = posLong
		return &Signal{Action: types.ActionBuy, Reason: "price at lower band", Indicators: indicators}
	case price.GreaterThanOrEqual(upper) && g.position == posLong:
		g.position = posNone
		return &Signal{Action: types.ActionSell, Reason: "price at upper band", Indicators: indicators}
	}

	return nil
}

// Reset clears the band state
func (g *BollingerBands) Reset() {
	g.middle.reset()
	g.prices.reset()
	g.squares.reset()
	g.position = posNone
}
