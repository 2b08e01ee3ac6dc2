package signal

import (
	"fmt"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// MAType selects the moving-average flavour for crossover and Bollinger
// generators.
type MAType string

const (
	MASimple      MAType = "SMA"
	MAExponential MAType = "EMA"
)

// movingAverage computes an SMA or EMA incrementally. The EMA is seeded at
// the first price.
type movingAverage struct {
	maType MAType
	window int

	sma *rollingSum

	ema     decimal.Decimal
	mult    decimal.Decimal
	haveEMA bool
}

func newMovingAverage(maType MAType, window int) *movingAverage {
	return &movingAverage{
		maType: maType,
		window: window,
		sma:    newRollingSum(window),
		mult:   two.Div(decimal.NewFromInt(int64(window + 1))),
	}
}

func (m *movingAverage) update(price decimal.Decimal) decimal.Decimal {
	if m.maType == MAExponential {
		if !m.haveEMA {
			m.ema = price
			m.haveEMA = true
		} else {
			m.ema = price.Mul(m.mult).Add(m.ema.Mul(decimal.NewFromInt(1).Sub(m.mult)))
		}
		return m.ema
	}

	m.sma.push(price)
	return m.sma.mean()
}

func (m *movingAverage) reset() {
	m.sma.reset()
	m.ema = decimal.Zero
	m.haveEMA = false
}

// MACrossover trades golden/death crosses of a fast over a slow moving
// average. Detecting the crossing edge requires the previous bar's MA pair,
// not merely the current ordering.
type MACrossover struct {
	fastWindow int
	slowWindow int

	fast *movingAverage
	slow *movingAverage

	count    int
	prevFast decimal.Decimal
	prevSlow decimal.Decimal
	havePrev bool
	position posState
}

// NewMACrossover creates a moving-average crossover generator
func NewMACrossover(fastWindow, slowWindow int, maType MAType) (*MACrossover, error) {
	if fastWindow < 1 || slowWindow < 1 {
		return nil, fmt.Errorf("crossover windows must be positive, got fast=%d slow=%d", fastWindow, slowWindow)
	}
	if fastWindow >= slowWindow {
		return nil, fmt.Errorf("fast window (%d) must be shorter than slow window (%d)", fastWindow, slowWindow)
	}
	if maType != MASimple && maType != MAExponential {
		return nil, fmt.Errorf("unknown moving average type %q", maType)
	}

	return &MACrossover{
		fastWindow: fastWindow,
		slowWindow: slowWindow,
		fast:       newMovingAverage(maType, fastWindow),
		slow:       newMovingAverage(maType, slowWindow),
	}, nil
}

func (g *MACrossover) Name() string { return "ma_crossover" }

// WarmupBars requires a full slow window plus the previous-bar pair
func (g *MACrossover) WarmupBars() int { return g.slowWindow + 1 }

// AddPrice advances both averages and looks for a crossing edge
func (g *MACrossover) AddPrice(price, _ decimal.Decimal) *Signal {
	if price.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	fast := g.fast.update(price)
	slow := g.slow.update(price)
	g.count++

	if g.count < g.slowWindow {
		return nil
	}

	var sig *Signal
	if g.havePrev {
		indicators := map[string]decimal.Decimal{
			"fast_ma": fast,
			"slow_ma": slow,
		}

		goldenCross := g.prevFast.LessThanOrEqual(g.prevSlow) && fast.GreaterThan(slow)
		deathCross := g.prevFast.GreaterThanOrEqual(g.prevSlow) && fast.LessThan(slow)

		switch {
		case goldenCross && g.position != posLong:
			g.position = posLong
			sig = &Signal{Action: types.ActionBuy, Reason: "golden cross", Indicators: indicators}
		case deathCross && g.position == posLong:
			g.position = posNone
			sig = &Signal{Action: types.ActionSell, Reason: "death cross", Indicators: indicators}
		}
	}

	g.prevFast = fast
	g.prevSlow = slow
	g.havePrev = true

	return sig
}

// Reset clears both averages and the crossing state
func (g *MACrossover) Reset() {
	g.fast.reset()
	g.slow.reset()
	g.count = 0
	g.prevFast = decimal.Zero
	g.prevSlow = decimal.Zero
	g.havePrev = false
	g.position = posNone
}
