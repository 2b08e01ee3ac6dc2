package engine_test

import (
	"testing"
	"time"

	"github.com/atlas-desktop/backtest-engine/internal/engine"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"go.uber.org/zap"
)

var monday = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

func newPortfolio(t *testing.T, cash string, settings *types.SessionSettings) *engine.Portfolio {
	t.Helper()
	return engine.NewPortfolio(zap.NewNop(), d(cash), types.ResolveSettings(settings))
}

func TestPositionSizingMethods(t *testing.T) {
	tests := []struct {
		name     string
		settings *types.SessionSettings
		price    string
		want     string
	}{
		{
			name:     "fixed shares",
			settings: &types.SessionSettings{PositionSizingMethod: types.SizingFixed, PositionSizeValue: d("100")},
			price:    "50",
			want:     "100",
		},
		{
			name:     "percentage of portfolio",
			settings: &types.SessionSettings{PositionSizingMethod: types.SizingPercentage, PositionSizeValue: d("10")},
			price:    "50",
			want:     "20",
		},
		{
			name:     "equal weight slots",
			settings: &types.SessionSettings{PositionSizingMethod: types.SizingEqualWeight, MaxOpenPositions: 4},
			price:    "50",
			want:     "50",
		},
		{
			name:     "kelly fraction",
			settings: &types.SessionSettings{PositionSizingMethod: types.SizingKelly, PositionSizeValue: d("0.25")},
			price:    "50",
			want:     "50",
		},
		{
			name:     "equal weight without position cap",
			settings: &types.SessionSettings{PositionSizingMethod: types.SizingEqualWeight},
			price:    "50",
			want:     "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPortfolio(t, "10000", tt.settings)
			got := p.CalculatePositionSize("TEST", d(tt.price))
			if !got.Equal(d(tt.want)) {
				t.Errorf("Expected %s shares, got %s", tt.want, got)
			}
		})
	}
}

func TestPositionSizeCappedByLimit(t *testing.T) {
	p := newPortfolio(t, "10000", &types.SessionSettings{
		PositionSizingMethod:      types.SizingPercentage,
		PositionSizeValue:         d("50"),
		MaxPositionSizePercentage: d("20"),
	})

	// 50% would be 100 shares; the 20% cap allows 40.
	got := p.CalculatePositionSize("TEST", d("50"))
	if !got.Equal(d("40")) {
		t.Errorf("Expected cap at 40 shares, got %s", got)
	}
}

func TestCanOpenPositionMaxOpen(t *testing.T) {
	p := newPortfolio(t, "10000", &types.SessionSettings{MaxOpenPositions: 1})

	if !p.Buy("AAA", d("10"), d("50"), d("0"), monday) {
		t.Fatal("Buy failed")
	}

	if ok, reason := p.CanOpenPosition("BBB", d("50"), monday); ok {
		t.Error("Expected second symbol to be blocked by max open positions")
	} else if reason != "max open positions reached" {
		t.Errorf("Unexpected reason: %s", reason)
	}

	// Adding to the held symbol is still allowed.
	if ok, reason := p.CanOpenPosition("AAA", d("50"), monday); !ok {
		t.Errorf("Expected held symbol to pass the gate, got: %s", reason)
	}
}

func TestDailyLossLockout(t *testing.T) {
	p := newPortfolio(t, "10000", &types.SessionSettings{MaxDailyLossAbsolute: d("100")})

	if !p.Buy("TEST", d("10"), d("100"), d("0"), monday) {
		t.Fatal("Buy failed")
	}
	if _, ok := p.Sell("TEST", d("10"), d("85"), d("0"), monday); !ok {
		t.Fatal("Sell failed")
	}

	if ok, reason := p.CanOpenPosition("TEST", d("85"), monday); ok {
		t.Error("Expected lockout after 150 loss against a 100 limit")
	} else if reason != "daily loss limit reached" {
		t.Errorf("Unexpected reason: %s", reason)
	}

	// Lockout clears when the calendar day advances.
	nextDay := monday.AddDate(0, 0, 1)
	p.ResetDailyPnL(nextDay)
	if ok, reason := p.CanOpenPosition("TEST", d("85"), nextDay); !ok {
		t.Errorf("Expected lockout cleared on a new day, got: %s", reason)
	}
}

func TestExitTriggers(t *testing.T) {
	p := newPortfolio(t, "10000", &types.SessionSettings{
		StopLossPercentage:   d("5"),
		TakeProfitPercentage: d("10"),
	})
	if !p.Buy("TEST", d("10"), d("100"), d("0"), monday) {
		t.Fatal("Buy failed")
	}

	if got := p.CheckStopLossTakeProfit("TEST", d("96")); got != "" {
		t.Errorf("Expected no trigger at -4%%, got %s", got)
	}
	if got := p.CheckStopLossTakeProfit("TEST", d("95")); got != types.ExitStopLoss {
		t.Errorf("Expected stop-loss at -5%%, got %s", got)
	}
	if got := p.CheckStopLossTakeProfit("TEST", d("110")); got != types.ExitTakeProfit {
		t.Errorf("Expected take-profit at +10%%, got %s", got)
	}
}

func TestTrailingStopUsesHighestPrice(t *testing.T) {
	p := newPortfolio(t, "10000", &types.SessionSettings{TrailingStopPercentage: d("5")})
	if !p.Buy("TEST", d("10"), d("100"), d("0"), monday) {
		t.Fatal("Buy failed")
	}

	p.UpdatePrice("TEST", d("120"))

	// Floor is 114 after the run-up to 120.
	if got := p.CheckStopLossTakeProfit("TEST", d("115")); got != "" {
		t.Errorf("Expected no trigger above the trailing floor, got %s", got)
	}
	if got := p.CheckStopLossTakeProfit("TEST", d("113")); got != types.ExitTrailingStop {
		t.Errorf("Expected trailing stop below the floor, got %s", got)
	}
}

func TestBuyRefusesInsufficientCash(t *testing.T) {
	p := newPortfolio(t, "100", nil)

	if p.Buy("TEST", d("10"), d("100"), d("0"), monday) {
		t.Error("Expected buy beyond available cash to be refused")
	}
	if !p.Cash().Equal(d("100")) {
		t.Errorf("Expected cash untouched, got %s", p.Cash())
	}
}

func TestSellClampsAndClosesPosition(t *testing.T) {
	p := newPortfolio(t, "10000", nil)
	if !p.Buy("TEST", d("10"), d("100"), d("0"), monday) {
		t.Fatal("Buy failed")
	}

	pnl, ok := p.Sell("TEST", d("25"), d("110"), d("0"), monday)
	if !ok {
		t.Fatal("Sell failed")
	}
	if !pnl.Equal(d("100")) {
		t.Errorf("Expected P&L of 100 on 10 shares, got %s", pnl)
	}
	if p.GetPosition("TEST") != nil {
		t.Error("Expected position removed after full close")
	}
	if !p.TotalValue().Equal(d("10100")) {
		t.Errorf("Expected total value 10100, got %s", p.TotalValue())
	}
}

func TestAveragingIntoPosition(t *testing.T) {
	p := newPortfolio(t, "10000", nil)
	p.Buy("TEST", d("10"), d("100"), d("0"), monday)
	p.UpdatePrice("TEST", d("102"))
	p.Buy("TEST", d("10"), d("110"), d("0"), monday)

	pos := p.GetPosition("TEST")
	if pos == nil {
		t.Fatal("Expected position")
	}
	if !pos.Shares.Equal(d("20")) {
		t.Errorf("Expected 20 shares, got %s", pos.Shares)
	}
	if !pos.AvgPrice.Equal(d("105")) {
		t.Errorf("Expected average price 105, got %s", pos.AvgPrice)
	}
	if !pos.EntryPrice.Equal(d("100")) {
		t.Errorf("Expected entry price to stay at 100, got %s", pos.EntryPrice)
	}

	// Adding to a position must not move the mark; the fill price is not a
	// market quote.
	if !pos.CurrentPrice.Equal(d("102")) {
		t.Errorf("Expected current price to stay at the last mark, got %s", pos.CurrentPrice)
	}
	if !pos.HighestPrice.Equal(d("102")) {
		t.Errorf("Expected highest price to stay at the last mark, got %s", pos.HighestPrice)
	}
}

func TestTradingWindow(t *testing.T) {
	weekdays := []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

	p := newPortfolio(t, "10000", &types.SessionSettings{
		TradingDays:       weekdays,
		TradingHoursStart: "09:30",
		TradingHoursEnd:   "16:00",
	})

	saturday := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
	if p.IsWithinTradingWindow(saturday) {
		t.Error("Expected Saturday outside trading days")
	}

	early := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	if p.IsWithinTradingWindow(early) {
		t.Error("Expected 08:00 outside trading hours")
	}

	if !p.IsWithinTradingWindow(monday) {
		t.Error("Expected Monday 14:30 inside the window")
	}

	extended := newPortfolio(t, "10000", &types.SessionSettings{
		TradingDays:       weekdays,
		TradingHoursStart: "09:30",
		TradingHoursEnd:   "16:00",
		ExtendedHours:     true,
	})
	if !extended.IsWithinTradingWindow(early) {
		t.Error("Expected extended hours to skip the hour check")
	}
}
