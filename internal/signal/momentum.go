package signal

import (
	"fmt"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Momentum combines Wilder-smoothed RSI with a rate-of-change filter. The
// RSI average gain/loss is seeded over the first rsiWindow deltas and then
// updated as avg = (avg*(n-1)+new)/n.
type Momentum struct {
	rsiWindow         int
	overbought        decimal.Decimal
	oversold          decimal.Decimal
	momentumWindow    int
	momentumThreshold decimal.Decimal

	history   []decimal.Decimal
	prevPrice decimal.Decimal
	havePrev  bool

	seedCount int
	gainSum   decimal.Decimal
	lossSum   decimal.Decimal
	avgGain   decimal.Decimal
	avgLoss   decimal.Decimal
	seeded    bool

	position posState
}

// NewMomentum creates a momentum generator. RSI bounds are on the 0-100
// scale; momentumThreshold is fractional.
func NewMomentum(rsiWindow int, overbought, oversold decimal.Decimal, momentumWindow int, momentumThreshold decimal.Decimal) (*Momentum, error) {
	if rsiWindow < 1 {
		return nil, fmt.Errorf("rsi window must be positive, got %d", rsiWindow)
	}
	if momentumWindow < 1 {
		return nil, fmt.Errorf("momentum window must be positive, got %d", momentumWindow)
	}
	if overbought.LessThanOrEqual(oversold) {
		return nil, fmt.Errorf("rsi overbought (%s) must exceed oversold (%s)", overbought, oversold)
	}
	if momentumThreshold.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("momentum threshold must be positive, got %s", momentumThreshold)
	}

	return &Momentum{
		rsiWindow:         rsiWindow,
		overbought:        overbought,
		oversold:          oversold,
		momentumWindow:    momentumWindow,
		momentumThreshold: momentumThreshold,
	}, nil
}

func (g *Momentum) Name() string { return "momentum" }

// WarmupBars returns the larger of the two lookbacks plus the seed bar
func (g *Momentum) WarmupBars() int {
	if g.rsiWindow >= g.momentumWindow {
		return g.rsiWindow + 1
	}
	return g.momentumWindow + 1
}

// AddPrice advances RSI and momentum state by one bar
func (g *Momentum) AddPrice(price, _ decimal.Decimal) *Signal {
	if price.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	if !g.havePrev {
		g.prevPrice = price
		g.havePrev = true
		g.history = append(g.history, price)
		return nil
	}

	delta := price.Sub(g.prevPrice)
	g.prevPrice = price

	gain, loss := decimal.Zero, decimal.Zero
	if delta.GreaterThan(decimal.Zero) {
		gain = delta
	} else {
		loss = delta.Neg()
	}

	n := decimal.NewFromInt(int64(g.rsiWindow))
	if !g.seeded {
		g.gainSum = g.gainSum.Add(gain)
		g.lossSum = g.lossSum.Add(loss)
		g.seedCount++
		if g.seedCount == g.rsiWindow {
			g.avgGain = g.gainSum.Div(n)
			g.avgLoss = g.lossSum.Div(n)
			g.seeded = true
		}
	} else {
		g.avgGain = g.avgGain.Mul(n.Sub(decimal.NewFromInt(1))).Add(gain).Div(n)
		g.avgLoss = g.avgLoss.Mul(n.Sub(decimal.NewFromInt(1))).Add(loss).Div(n)
	}

	g.history = append(g.history, price)
	if len(g.history) > g.momentumWindow+1 {
		g.history = g.history[1:]
	}

	if !g.seeded || len(g.history) < g.momentumWindow+1 {
		return nil
	}

	rsi := g.rsi()
	base := g.history[len(g.history)-1-g.momentumWindow]
	momentum := price.Sub(base).Div(base)

	indicators := map[string]decimal.Decimal{
		"rsi":      rsi,
		"momentum": momentum,
	}

	buy := (rsi.LessThanOrEqual(g.oversold) && momentum.GreaterThan(decimal.Zero)) ||
		(momentum.GreaterThanOrEqual(g.momentumThreshold) && rsi.LessThan(g.overbought))
	sell := rsi.GreaterThanOrEqual(g.overbought) ||
		momentum.LessThanOrEqual(g.momentumThreshold.Neg())

	switch {
	case buy && g.position != posLong:
		g.position = posLong
		return &Signal{Action: types.ActionBuy, Reason: "momentum entry", Indicators: indicators}
	case sell && g.position == posLong:
		g.position = posNone
		return &Signal{Action: types.ActionSell, Reason: "momentum exit", Indicators: indicators}
	}

	return nil
}

// rsi is defined as 100 when the average loss is zero
func (g *Momentum) rsi() decimal.Decimal {
	if g.avgLoss.IsZero() {
		return hundred
	}
	rs := g.avgGain.Div(g.avgLoss)
	return hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))
}

// Reset clears all rolling state
func (g *Momentum) Reset() {
	g.history = nil
	g.prevPrice = decimal.Zero
	g.havePrev = false
	g.seedCount = 0
	g.gainSum = decimal.Zero
	g.lossSum = decimal.Zero
	g.avgGain = decimal.Zero
	g.avgLoss = decimal.Zero
	g.seeded = false
	g.position = posNone
}
