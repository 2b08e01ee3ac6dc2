package signal

import (
	"fmt"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// monotonicDeque maintains a sliding-window extremum in O(1) amortized time.
// Values enter with increasing indices; front() is the extremum of the
// indices still inside the window.
type monotonicDeque struct {
	indices []int
	values  []decimal.Decimal
	// keepBack reports whether the back entry dominates the incoming value
	// and should be kept.
	keepBack func(back, incoming decimal.Decimal) bool
}

func newMaxDeque() *monotonicDeque {
	return &monotonicDeque{keepBack: func(back, in decimal.Decimal) bool { return back.GreaterThan(in) }}
}

func newMinDeque() *monotonicDeque {
	return &monotonicDeque{keepBack: func(back, in decimal.Decimal) bool { return back.LessThan(in) }}
}

func (d *monotonicDeque) push(index int, v decimal.Decimal) {
	for len(d.values) > 0 && !d.keepBack(d.values[len(d.values)-1], v) {
		d.values = d.values[:len(d.values)-1]
		d.indices = d.indices[:len(d.indices)-1]
	}
	d.values = append(d.values, v)
	d.indices = append(d.indices, index)
}

// evictBefore drops front entries with index < minIndex
func (d *monotonicDeque) evictBefore(minIndex int) {
	for len(d.indices) > 0 && d.indices[0] < minIndex {
		d.indices = d.indices[1:]
		d.values = d.values[1:]
	}
}

func (d *monotonicDeque) front() decimal.Decimal { return d.values[0] }
func (d *monotonicDeque) empty() bool            { return len(d.values) == 0 }

func (d *monotonicDeque) reset() {
	d.indices = nil
	d.values = nil
}

// Breakout trades support/resistance breakouts confirmed by volume, with a
// time-based exit: a held position is force-closed after confirmationPeriod
// bars by emitting the opposite action, regardless of what support and
// resistance currently say.
type Breakout struct {
	lookback           int
	threshold          decimal.Decimal
	minVolumeRatio     decimal.Decimal
	confirmationPeriod int

	resistance *monotonicDeque
	support    *monotonicDeque
	volumes    *rollingSum
	barIndex   int

	position       posState
	barsInPosition int
}

// NewBreakout creates a breakout generator. threshold is the fractional
// margin a price must clear beyond resistance or support.
func NewBreakout(lookback int, threshold, minVolumeRatio decimal.Decimal, confirmationPeriod int) (*Breakout, error) {
	if lookback < 1 {
		return nil, fmt.Errorf("breakout lookback must be positive, got %d", lookback)
	}
	if threshold.IsNegative() {
		return nil, fmt.Errorf("breakout threshold must not be negative, got %s", threshold)
	}
	if minVolumeRatio.IsNegative() {
		return nil, fmt.Errorf("breakout volume ratio must not be negative, got %s", minVolumeRatio)
	}
	if confirmationPeriod < 1 {
		return nil, fmt.Errorf("breakout confirmation period must be positive, got %d", confirmationPeriod)
	}

	return &Breakout{
		lookback:           lookback,
		threshold:          threshold,
		minVolumeRatio:     minVolumeRatio,
		confirmationPeriod: confirmationPeriod,
		resistance:         newMaxDeque(),
		support:            newMinDeque(),
		volumes:            newRollingSum(lookback),
	}, nil
}

func (g *Breakout) Name() string { return "breakout" }

// WarmupBars returns the lookback plus the evaluated bar
func (g *Breakout) WarmupBars() int { return g.lookback + 1 }

// AddPrice advances the support/resistance windows by one bar. The incoming
// bar is evaluated against the window of prior bars, then joins it.
func (g *Breakout) AddPrice(price, volume decimal.Decimal) *Signal {
	if price.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	var sig *Signal

	// Time-based exit takes precedence over any new breakout.
	if g.position != posNone {
		g.barsInPosition++
		if g.barsInPosition >= g.confirmationPeriod {
			action := types.ActionSell
			if g.position == posShort {
				action = types.ActionBuy
			}
			g.position = posNone
			g.barsInPosition = 0
			sig = &Signal{Action: action, Reason: "confirmation period elapsed"}
		}
	}

	if sig == nil && g.barIndex >= g.lookback && !g.resistance.empty() && !g.support.empty() {
		resistance := g.resistance.front()
		support := g.support.front()

		volumeRatio := decimal.Zero
		if avg := g.volumes.mean(); avg.GreaterThan(decimal.Zero) {
			volumeRatio = volume.Div(avg)
		}

		indicators := map[string]decimal.Decimal{
			"resistance":   resistance,
			"support":      support,
			"volume_ratio": volumeRatio,
		}

		one := decimal.NewFromInt(1)
		breakUp := price.GreaterThan(resistance.Mul(one.Add(g.threshold)))
		breakDown := price.LessThan(support.Mul(one.Sub(g.threshold)))
		volumeOK := volumeRatio.GreaterThanOrEqual(g.minVolumeRatio)

		switch {
		case breakUp && volumeOK && g.position != posLong:
			g.position = posLong
			g.barsInPosition = 0
			sig = &Signal{Action: types.ActionBuy, Reason: "resistance breakout", Indicators: indicators}
		case breakDown && volumeOK && g.position != posShort:
			g.position = posShort
			g.barsInPosition = 0
			sig = &Signal{Action: types.ActionSell, Reason: "support breakdown", Indicators: indicators}
		}
	}

	g.resistance.push(g.barIndex, price)
	g.support.push(g.barIndex, price)
	g.volumes.push(volume)
	g.barIndex++
	g.resistance.evictBefore(g.barIndex - g.lookback)
	g.support.evictBefore(g.barIndex - g.lookback)

	return sig
}

// Reset clears the windows and position state
func (g *Breakout) Reset() {
	g.resistance.reset()
	g.support.reset()
	g.volumes.reset()
	g.barIndex = 0
	g.position = posNone
	g.barsInPosition = 0
}
