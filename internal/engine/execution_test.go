// Package engine_test provides tests for the simulation engine.
package engine_test

import (
	"testing"
	"time"

	"github.com/atlas-desktop/backtest-engine/internal/engine"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func marketOrder(side types.Action, qty, price string) types.OrderRequest {
	return types.OrderRequest{
		Symbol:       "TEST",
		Side:         side,
		Quantity:     d(qty),
		OrderType:    types.OrderTypeMarket,
		CurrentPrice: d(price),
		Timestamp:    time.Date(2024, 3, 4, 16, 0, 0, 0, time.UTC),
	}
}

func TestExecuteMarketOrderNoSlippage(t *testing.T) {
	sim := engine.NewExecutionSimulator(types.ResolveSettings(nil))

	res := sim.Execute(marketOrder(types.ActionBuy, "10", "100"))
	if !res.Executed {
		t.Fatalf("Expected fill, got rejection: %s", res.Reason)
	}
	if !res.ExecutedPrice.Equal(d("100")) {
		t.Errorf("Expected fill at 100, got %s", res.ExecutedPrice)
	}
	if !res.ExecutedQuantity.Equal(d("10")) {
		t.Errorf("Expected full quantity, got %s", res.ExecutedQuantity)
	}
	if !res.Commission.IsZero() {
		t.Errorf("Expected zero commission, got %s", res.Commission)
	}
}

func TestExecuteFixedSlippage(t *testing.T) {
	sim := engine.NewExecutionSimulator(types.ResolveSettings(&types.SessionSettings{
		SlippageModel: types.SlippageFixed,
		SlippageValue: d("1"),
	}))

	buy := sim.Execute(marketOrder(types.ActionBuy, "10", "100"))
	if !buy.ExecutedPrice.Equal(d("101")) {
		t.Errorf("Expected buy fill at 101 with 1%% slippage, got %s", buy.ExecutedPrice)
	}

	sell := sim.Execute(marketOrder(types.ActionSell, "10", "100"))
	if !sell.ExecutedPrice.Equal(d("99")) {
		t.Errorf("Expected sell fill at 99 with 1%% slippage, got %s", sell.ExecutedPrice)
	}
}

func TestExecuteProportionalSlippageCapped(t *testing.T) {
	sim := engine.NewExecutionSimulator(types.ResolveSettings(&types.SessionSettings{
		SlippageModel: types.SlippageProportional,
		SlippageValue: d("0.5"),
	}))

	// 5000 shares: factor 1.5, slippage 0.75%.
	res := sim.Execute(marketOrder(types.ActionBuy, "5000", "100"))
	if !res.Slippage.Equal(d("0.75")) {
		t.Errorf("Expected 0.75%% slippage for 5000 shares, got %s", res.Slippage)
	}

	// 50000 shares: factor capped at 2, slippage 1%.
	res = sim.Execute(marketOrder(types.ActionBuy, "50000", "100"))
	if !res.Slippage.Equal(d("1")) {
		t.Errorf("Expected slippage capped at 1%%, got %s", res.Slippage)
	}
}

func TestExecuteCommission(t *testing.T) {
	sim := engine.NewExecutionSimulator(types.ResolveSettings(&types.SessionSettings{
		CommissionRate: d("0.1"),
	}))

	res := sim.Execute(marketOrder(types.ActionBuy, "10", "100"))
	if !res.Commission.Equal(d("1")) {
		t.Errorf("Expected commission 1 (100*10*0.1%%), got %s", res.Commission)
	}
}

func TestExecutePartialFill(t *testing.T) {
	order := marketOrder(types.ActionBuy, "100", "50")
	order.Volume = d("50")

	sim := engine.NewExecutionSimulator(types.ResolveSettings(&types.SessionSettings{
		AllowPartialFills: true,
	}))
	res := sim.Execute(order)
	if !res.Executed {
		t.Fatalf("Expected partial fill, got rejection: %s", res.Reason)
	}
	if !res.ExecutedQuantity.Equal(d("40")) {
		t.Errorf("Expected fill of 40 (80%% of volume), got %s", res.ExecutedQuantity)
	}

	sim = engine.NewExecutionSimulator(types.ResolveSettings(&types.SessionSettings{
		AllowPartialFills: false,
	}))
	res = sim.Execute(order)
	if res.Executed {
		t.Error("Expected rejection with partial fills disabled")
	}
	if res.Reason == "" {
		t.Error("Expected rejection reason")
	}
}

func TestExecuteFOKRejectsPartialFill(t *testing.T) {
	sim := engine.NewExecutionSimulator(types.ResolveSettings(&types.SessionSettings{
		AllowPartialFills: true,
		TimeInForce:       types.TIFFOK,
	}))

	order := marketOrder(types.ActionBuy, "100", "50")
	order.Volume = d("50")

	if res := sim.Execute(order); res.Executed {
		t.Error("Expected fill-or-kill to reject a partial fill")
	}
}

func TestExecuteLimitOrder(t *testing.T) {
	sim := engine.NewExecutionSimulator(types.ResolveSettings(nil))

	order := marketOrder(types.ActionBuy, "10", "100")
	order.OrderType = types.OrderTypeLimit
	order.LimitPrice = d("95")

	if res := sim.Execute(order); res.Executed {
		t.Error("Expected buy limit above market to be rejected")
	}

	order.CurrentPrice = d("94")
	res := sim.Execute(order)
	if !res.Executed {
		t.Fatalf("Expected limit fill, got rejection: %s", res.Reason)
	}
	if !res.ExecutedPrice.Equal(d("95")) {
		t.Errorf("Expected fill at limit price 95, got %s", res.ExecutedPrice)
	}
}

func TestExecuteStopOrder(t *testing.T) {
	sim := engine.NewExecutionSimulator(types.ResolveSettings(nil))

	order := marketOrder(types.ActionSell, "10", "100")
	order.OrderType = types.OrderTypeStop
	order.StopPrice = d("95")

	if res := sim.Execute(order); res.Executed {
		t.Error("Expected sell stop below market to not trigger")
	}

	order.CurrentPrice = d("94")
	res := sim.Execute(order)
	if !res.Executed {
		t.Fatalf("Expected stop fill, got rejection: %s", res.Reason)
	}
	if !res.ExecutedPrice.Equal(d("94")) {
		t.Errorf("Expected fill at market price 94, got %s", res.ExecutedPrice)
	}
}

func TestExecuteRejectsInvalidRequests(t *testing.T) {
	sim := engine.NewExecutionSimulator(types.ResolveSettings(nil))

	if res := sim.Execute(marketOrder(types.ActionBuy, "0", "100")); res.Executed {
		t.Error("Expected zero quantity to be rejected")
	}
	if res := sim.Execute(marketOrder(types.ActionBuy, "10", "0")); res.Executed {
		t.Error("Expected zero price to be rejected")
	}
}
