package types_test

import (
	"testing"
	"time"

	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
)

func TestResolveSettingsNil(t *testing.T) {
	s := types.ResolveSettings(nil)

	if s.PositionSizingMethod != types.SizingFixed {
		t.Errorf("Expected fixed sizing default, got %s", s.PositionSizingMethod)
	}
	if !s.PositionSizeValue.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected default of 100 shares, got %s", s.PositionSizeValue)
	}
	if s.OrderTypeDefault != types.OrderTypeMarket {
		t.Errorf("Expected market order default, got %s", s.OrderTypeDefault)
	}
	if s.SlippageModel != types.SlippageNone {
		t.Errorf("Expected no slippage default, got %s", s.SlippageModel)
	}
	if s.TimeInForce != types.TIFDay {
		t.Errorf("Expected day time-in-force default, got %s", s.TimeInForce)
	}
	if !s.StopLossPercentage.IsZero() || !s.TakeProfitPercentage.IsZero() {
		t.Error("Expected stop-loss and take-profit disabled by default")
	}
}

func TestResolveSettingsPreservesInput(t *testing.T) {
	in := &types.SessionSettings{
		PositionSizingMethod: types.SizingPercentage,
		PositionSizeValue:    decimal.NewFromInt(10),
		SlippageModel:        types.SlippageFixed,
		SlippageValue:        decimal.NewFromInt(1),
	}

	s := types.ResolveSettings(in)
	if s.PositionSizingMethod != types.SizingPercentage || !s.PositionSizeValue.Equal(decimal.NewFromInt(10)) {
		t.Error("Expected explicit sizing preserved")
	}
	if s.SlippageModel != types.SlippageFixed {
		t.Error("Expected explicit slippage model preserved")
	}
	if s == in {
		t.Error("Expected a copy, not the input pointer")
	}
}

func TestWindowRestricted(t *testing.T) {
	if (&types.SessionSettings{}).WindowRestricted() {
		t.Error("Expected empty settings to be unrestricted")
	}
	if !(&types.SessionSettings{TradingDays: []time.Weekday{time.Monday}}).WindowRestricted() {
		t.Error("Expected trading days to restrict the window")
	}
	if !(&types.SessionSettings{TradingHoursStart: "09:30"}).WindowRestricted() {
		t.Error("Expected trading hours to restrict the window")
	}
}
