// Package signal provides incremental per-bar trading signal generators.
//
// All generators share the same contract: AddPrice consumes one bar's close
// (and volume, when the generator uses it) and returns a BUY or SELL signal,
// or nil. Each generator tracks an internal position state so it never emits
// two same-direction signals in a row, and answers nil until its warm-up
// window is full. Generators are not safe for concurrent use; each backtest
// run gets a fresh instance.
package signal

import (
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// Signal represents one generated trading signal
type Signal struct {
	Action     types.Action
	Reason     string
	Indicators map[string]decimal.Decimal
}

// Generator is the interface all signal generators implement
type Generator interface {
	Name() string

	// AddPrice advances the generator by one bar. Volume is zero when the
	// data source carries none. Returns nil when no signal fires.
	AddPrice(price, volume decimal.Decimal) *Signal

	// WarmupBars returns the minimum number of bars before any signal can
	// fire.
	WarmupBars() int

	// Reset clears all rolling state, including the held-position state.
	Reset()
}

// posState tracks the direction a generator believes it holds
type posState int

const (
	posNone posState = iota
	posLong
	posShort
)

// rollingSum maintains a fixed-size window of values and their sum with O(1)
// updates.
type rollingSum struct {
	size   int
	values []decimal.Decimal
	sum    decimal.Decimal
}

func newRollingSum(size int) *rollingSum {
	return &rollingSum{size: size, values: make([]decimal.Decimal, 0, size)}
}

// push adds a value, evicting the oldest once the window is full
func (r *rollingSum) push(v decimal.Decimal) {
	r.values = append(r.values, v)
	r.sum = r.sum.Add(v)
	if len(r.values) > r.size {
		r.sum = r.sum.Sub(r.values[0])
		r.values = r.values[1:]
	}
}

func (r *rollingSum) full() bool { return len(r.values) >= r.size }

func (r *rollingSum) mean() decimal.Decimal {
	if len(r.values) == 0 {
		return decimal.Zero
	}
	return r.sum.Div(decimal.NewFromInt(int64(len(r.values))))
}

func (r *rollingSum) reset() {
	r.values = r.values[:0]
	r.sum = decimal.Zero
}

var two = decimal.NewFromInt(2)

// sqrtDecimal approximates the square root via Newton's method
func sqrtDecimal(d decimal.Decimal) decimal.Decimal {
	if d.IsZero() || d.IsNegative() {
		return decimal.Zero
	}

	x := d
	for i := 0; i < 20; i++ {
		x = x.Add(d.Div(x)).Div(two)
	}
	return x
}
