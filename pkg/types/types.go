// Package types provides shared type definitions for the backtest engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action represents the direction of a signal, order or trade.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// OrderType represents the type of order
type OrderType string

const (
	OrderTypeMarket       OrderType = "market"
	OrderTypeLimit        OrderType = "limit"
	OrderTypeStop         OrderType = "stop"
	OrderTypeStopLimit    OrderType = "stop_limit"
	OrderTypeTrailingStop OrderType = "trailing_stop"
)

// SizingMethod represents a position sizing method
type SizingMethod string

const (
	SizingFixed       SizingMethod = "fixed"
	SizingPercentage  SizingMethod = "percentage"
	SizingEqualWeight SizingMethod = "equal_weight"
	SizingKelly       SizingMethod = "kelly"
)

// SlippageModel represents a slippage model
type SlippageModel string

const (
	SlippageNone         SlippageModel = "none"
	SlippageFixed        SlippageModel = "fixed"
	SlippageProportional SlippageModel = "proportional"
)

// TimeInForce represents how long an order remains active
type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
	TIFIOC TimeInForce = "ioc"
	TIFFOK TimeInForce = "fok"
	TIFOPG TimeInForce = "opg"
	TIFCLS TimeInForce = "cls"
)

// ExitTrigger identifies which risk rule forced a position exit
type ExitTrigger string

const (
	ExitStopLoss     ExitTrigger = "STOP_LOSS"
	ExitTakeProfit   ExitTrigger = "TAKE_PROFIT"
	ExitTrailingStop ExitTrigger = "TRAILING_STOP"
)

// PriceBar represents a single historical price bar. Volume is zero when the
// data source does not carry it.
type PriceBar struct {
	Date   time.Time       `json:"date"`
	Open   decimal.Decimal `json:"open"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume,omitempty"`
}

// OrderRequest represents one attempted trade handed to the execution
// simulator. Ephemeral; one per attempt.
type OrderRequest struct {
	Symbol       string          `json:"symbol"`
	Side         Action          `json:"side"`
	Quantity     decimal.Decimal `json:"quantity"`
	OrderType    OrderType       `json:"orderType"`
	LimitPrice   decimal.Decimal `json:"limitPrice,omitempty"`
	StopPrice    decimal.Decimal `json:"stopPrice,omitempty"`
	CurrentPrice decimal.Decimal `json:"currentPrice"`
	Volume       decimal.Decimal `json:"volume,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// ExecutionResult represents the outcome of an order request. Rejections
// carry a reason and are never retried.
type ExecutionResult struct {
	Executed         bool            `json:"executed"`
	ExecutedPrice    decimal.Decimal `json:"executedPrice"`
	ExecutedQuantity decimal.Decimal `json:"executedQuantity"`
	Commission       decimal.Decimal `json:"commission"`
	Slippage         decimal.Decimal `json:"slippage"`
	Reason           string          `json:"reason,omitempty"`
}

// Trade represents an executed trade. Append-only, immutable once created.
type Trade struct {
	ID         string                     `json:"id"`
	Symbol     string                     `json:"symbol"`
	Date       time.Time                  `json:"date"`
	Action     Action                     `json:"action"`
	Price      decimal.Decimal            `json:"price"`
	Shares     decimal.Decimal            `json:"shares"`
	Commission decimal.Decimal            `json:"commission"`
	Slippage   decimal.Decimal            `json:"slippage"`
	PnL        decimal.Decimal            `json:"pnl"`
	Reason     string                     `json:"reason,omitempty"`
	Indicators map[string]decimal.Decimal `json:"indicators,omitempty"`
}

// PortfolioSnapshot represents portfolio state after one bar
type PortfolioSnapshot struct {
	Date       time.Time       `json:"date"`
	TotalValue decimal.Decimal `json:"totalValue"`
	Cash       decimal.Decimal `json:"cash"`
	Shares     decimal.Decimal `json:"shares"`
	Price      decimal.Decimal `json:"price"`
}

// BacktestResult represents the full output of a backtest run
type BacktestResult struct {
	ID                  string              `json:"id"`
	Symbol              string              `json:"symbol"`
	Trades              []Trade             `json:"trades"`
	FinalPortfolioValue decimal.Decimal     `json:"finalPortfolioValue"`
	TotalReturn         decimal.Decimal     `json:"totalReturn"`
	WinRate             decimal.Decimal     `json:"winRate"`
	MaxDrawdown         decimal.Decimal     `json:"maxDrawdown"`
	PortfolioHistory    []PortfolioSnapshot `json:"portfolioHistory"`

	ClosedRoundTrips int             `json:"closedRoundTrips"`
	WinningTrips     int             `json:"winningTrips"`
	ProfitFactor     decimal.Decimal `json:"profitFactor"`
	AvgWin           decimal.Decimal `json:"avgWin"`
	AvgLoss          decimal.Decimal `json:"avgLoss"`
	LargestWin       decimal.Decimal `json:"largestWin"`
	LargestLoss      decimal.Decimal `json:"largestLoss"`

	MonteCarlo *MonteCarloResult `json:"monteCarlo,omitempty"`

	StartedAt   time.Time     `json:"startedAt"`
	CompletedAt time.Time     `json:"completedAt"`
	Duration    time.Duration `json:"duration"`
}

// MonteCarloResult represents trade-resampling validation results
type MonteCarloResult struct {
	Iterations      int             `json:"iterations"`
	MedianReturn    decimal.Decimal `json:"medianReturn"`
	P5Return        decimal.Decimal `json:"p5Return"`
	P95Return       decimal.Decimal `json:"p95Return"`
	ProbabilityRuin decimal.Decimal `json:"probabilityRuin"`
}

// StrategyConfig names a signal generator and its parameters
type StrategyConfig struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}
