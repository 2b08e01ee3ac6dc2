package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// SessionSettings configures risk limits, sizing, execution behaviour and the
// trading window for one backtest run. Immutable once resolved; every entry
// point goes through ResolveSettings rather than assembling defaults ad hoc.
type SessionSettings struct {
	PositionSizingMethod SizingMethod    `json:"position_sizing_method"`
	PositionSizeValue    decimal.Decimal `json:"position_size_value"`

	OrderTypeDefault  OrderType       `json:"order_type_default"`
	SlippageModel     SlippageModel   `json:"slippage_model"`
	SlippageValue     decimal.Decimal `json:"slippage_value"`
	CommissionRate    decimal.Decimal `json:"commission_rate"`
	AllowPartialFills bool            `json:"allow_partial_fills"`
	TimeInForce       TimeInForce     `json:"time_in_force"`

	StopLossPercentage     decimal.Decimal `json:"stop_loss_percentage"`
	TakeProfitPercentage   decimal.Decimal `json:"take_profit_percentage"`
	TrailingStopPercentage decimal.Decimal `json:"trailing_stop_percentage"`

	MaxDailyLossPercentage decimal.Decimal `json:"max_daily_loss_percentage"`
	MaxDailyLossAbsolute   decimal.Decimal `json:"max_daily_loss_absolute"`

	MaxPositionSizePercentage decimal.Decimal `json:"max_position_size_percentage"`
	MaxOpenPositions          int             `json:"max_open_positions"`

	TradingDays       []time.Weekday `json:"trading_days,omitempty"`
	TradingHoursStart string         `json:"trading_hours_start,omitempty"`
	TradingHoursEnd   string         `json:"trading_hours_end,omitempty"`
	ExtendedHours     bool           `json:"extended_hours"`
}

// ResolveSettings returns a fully populated copy of s. A nil input yields the
// documented defaults: no stop-loss/take-profit, fixed 100-share sizing,
// market orders, no slippage or commission, unrestricted trading window.
func ResolveSettings(s *SessionSettings) *SessionSettings {
	resolved := SessionSettings{}
	if s != nil {
		resolved = *s
	}

	if resolved.PositionSizingMethod == "" {
		resolved.PositionSizingMethod = SizingFixed
	}
	if resolved.PositionSizeValue.IsZero() && resolved.PositionSizingMethod == SizingFixed {
		resolved.PositionSizeValue = decimal.NewFromInt(100)
	}
	if resolved.OrderTypeDefault == "" {
		resolved.OrderTypeDefault = OrderTypeMarket
	}
	if resolved.SlippageModel == "" {
		resolved.SlippageModel = SlippageNone
	}
	if resolved.TimeInForce == "" {
		resolved.TimeInForce = TIFDay
	}

	return &resolved
}

// WindowRestricted reports whether the settings constrain trading to
// particular days or hours.
func (s *SessionSettings) WindowRestricted() bool {
	return len(s.TradingDays) > 0 || s.TradingHoursStart != "" || s.TradingHoursEnd != ""
}
