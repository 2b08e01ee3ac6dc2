package engine

import (
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// ExecutionSimulator turns order requests into fills or reasoned rejections.
// A pure function of settings, request and the current bar; it holds no
// state between calls and rejected orders are never retried.
type ExecutionSimulator struct {
	settings *types.SessionSettings
}

// NewExecutionSimulator creates an execution simulator. Settings must
// already be resolved.
func NewExecutionSimulator(settings *types.SessionSettings) *ExecutionSimulator {
	return &ExecutionSimulator{settings: settings}
}

// Execute simulates one order against the current bar
func (s *ExecutionSimulator) Execute(req types.OrderRequest) types.ExecutionResult {
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		return reject("quantity must be positive")
	}
	if req.CurrentPrice.LessThanOrEqual(decimal.Zero) {
		return reject("no valid market price")
	}

	quantity, reason := s.fillableQuantity(req)
	if reason != "" {
		return reject(reason)
	}

	basePrice, reason := s.basePrice(req)
	if reason != "" {
		return reject(reason)
	}

	slippagePct := s.slippagePercent(quantity)
	executedPrice := applySlippage(basePrice, req.Side, slippagePct)
	commission := executedPrice.Mul(quantity).Mul(s.settings.CommissionRate).Div(hundred)

	return types.ExecutionResult{
		Executed:         true,
		ExecutedPrice:    executedPrice,
		ExecutedQuantity: quantity,
		Commission:       commission,
		Slippage:         slippagePct,
	}
}

// basePrice resolves the pre-slippage fill price per order type, or a
// rejection reason when the order's trigger has not been met by this bar.
func (s *ExecutionSimulator) basePrice(req types.OrderRequest) (decimal.Decimal, string) {
	price := req.CurrentPrice

	switch req.OrderType {
	case types.OrderTypeMarket, types.OrderTypeTrailingStop:
		// Trailing-stop orders are priced like market orders; the trailing
		// logic itself lives in the portfolio.
		return price, ""

	case types.OrderTypeLimit:
		if req.LimitPrice.LessThanOrEqual(decimal.Zero) {
			return decimal.Zero, "limit price required"
		}
		if !limitReached(req.Side, price, req.LimitPrice) {
			return decimal.Zero, "limit price not reached"
		}
		return req.LimitPrice, ""

	case types.OrderTypeStop:
		if req.StopPrice.LessThanOrEqual(decimal.Zero) {
			return decimal.Zero, "stop price required"
		}
		if !stopTriggered(req.Side, price, req.StopPrice) {
			return decimal.Zero, "stop price not triggered"
		}
		return price, ""

	case types.OrderTypeStopLimit:
		if req.StopPrice.LessThanOrEqual(decimal.Zero) {
			return decimal.Zero, "stop price required"
		}
		if req.LimitPrice.LessThanOrEqual(decimal.Zero) {
			return decimal.Zero, "limit price required"
		}
		if !stopTriggered(req.Side, price, req.StopPrice) {
			return decimal.Zero, "stop price not triggered"
		}
		if !limitReached(req.Side, price, req.LimitPrice) {
			return decimal.Zero, "limit price not reached"
		}
		return req.LimitPrice, ""
	}

	return decimal.Zero, "unknown order type"
}

// fillableQuantity applies the liquidity model. When volume is known and
// short, partial fills take at most 80% of the available volume; with
// partial fills disabled (or fill-or-kill), the order fills zero.
func (s *ExecutionSimulator) fillableQuantity(req types.OrderRequest) (decimal.Decimal, string) {
	if req.Volume.LessThanOrEqual(decimal.Zero) || req.Quantity.LessThanOrEqual(req.Volume) {
		return req.Quantity, ""
	}

	if !s.settings.AllowPartialFills || s.settings.TimeInForce == types.TIFFOK {
		return decimal.Zero, "insufficient volume for full fill"
	}

	fill := req.Volume.Mul(decimal.NewFromFloat(0.8)).Floor()
	if fill.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, "insufficient volume for partial fill"
	}
	return fill, ""
}

// slippagePercent returns the slippage percentage for an order. Proportional
// slippage grows with order size, capped at twice the base value.
func (s *ExecutionSimulator) slippagePercent(quantity decimal.Decimal) decimal.Decimal {
	switch s.settings.SlippageModel {
	case types.SlippageFixed:
		return s.settings.SlippageValue

	case types.SlippageProportional:
		factor := decimal.NewFromInt(1).Add(quantity.Div(decimal.NewFromInt(10000)))
		if factor.GreaterThan(two) {
			factor = two
		}
		return s.settings.SlippageValue.Mul(factor)
	}

	return decimal.Zero
}

// applySlippage shifts the price against the trader
func applySlippage(price decimal.Decimal, side types.Action, pct decimal.Decimal) decimal.Decimal {
	if pct.IsZero() {
		return price
	}
	shift := price.Mul(pct).Div(hundred)
	if side == types.ActionBuy {
		return price.Add(shift)
	}
	return price.Sub(shift)
}

// limitReached reports whether the market price has reached the limit
// favorably: at or below for buys, at or above for sells.
func limitReached(side types.Action, price, limit decimal.Decimal) bool {
	if side == types.ActionBuy {
		return price.LessThanOrEqual(limit)
	}
	return price.GreaterThanOrEqual(limit)
}

// stopTriggered reports whether the market price has moved through the stop:
// at or above for buys, at or below for sells.
func stopTriggered(side types.Action, price, stop decimal.Decimal) bool {
	if side == types.ActionBuy {
		return price.GreaterThanOrEqual(stop)
	}
	return price.LessThanOrEqual(stop)
}

func reject(reason string) types.ExecutionResult {
	return types.ExecutionResult{Executed: false, Reason: reason}
}

var two = decimal.NewFromInt(2)
