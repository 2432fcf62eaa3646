// Package types provides shared type definitions for the backtesting service.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// SharesPerContract is the number of underlying shares per option contract.
const SharesPerContract = 100

// Phase represents the wheel-strategy trading phase.
type Phase string

const (
	PhaseSellingPuts   Phase = "selling_puts"
	PhaseHoldingShares Phase = "holding_shares"
	PhaseSellingCalls  Phase = "selling_calls"
)

// TradeType represents the kind of simulated option trade.
type TradeType string

const (
	TradeTypeSellPut      TradeType = "sell_put"
	TradeTypeSellCall     TradeType = "sell_call"
	TradeTypeExercisePut  TradeType = "exercise_put"
	TradeTypeExerciseCall TradeType = "exercise_call"
)

// TradeResult represents the terminal outcome of a simulated trade.
type TradeResult string

const (
	TradeResultWin      TradeResult = "win"
	TradeResultLoss     TradeResult = "loss"
	TradeResultExercise TradeResult = "exercise"
)

// RunStatus represents the lifecycle status of a backtest run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// SimulatedTrade represents one option position over its full lifecycle.
// Once Result is set the record is closed and must never be edited again;
// the closed log is the audit trail the metrics are computed from.
type SimulatedTrade struct {
	ID              string              `json:"id"`
	Type            TradeType           `json:"type"`
	OpenedAt        time.Time           `json:"openedAt"`
	Strike          decimal.Decimal     `json:"strike"`
	Premium         decimal.Decimal     `json:"premium"` // per share
	Contracts       int64               `json:"contracts"`
	Expiration      time.Time           `json:"expiration"`
	UnderlyingPrice decimal.Decimal     `json:"underlyingPrice"`
	Delta           decimal.Decimal     `json:"delta"`
	Result          TradeResult         `json:"result,omitempty"`
	RealizedPnL     decimal.Decimal     `json:"realizedPnl"`
	ClosedAt        time.Time           `json:"closedAt,omitempty"`
	SpotAtClose     decimal.NullDecimal `json:"spotAtClose,omitempty"`
}

// Shares returns the number of underlying shares covered by the trade.
func (t *SimulatedTrade) Shares() int64 {
	return t.Contracts * SharesPerContract
}

// TotalPremium returns the cash premium collected at open.
func (t *SimulatedTrade) TotalPremium() decimal.Decimal {
	return t.Premium.Mul(decimal.NewFromInt(t.Shares()))
}

// Closed reports whether the trade has been resolved.
func (t *SimulatedTrade) Closed() bool {
	return t.Result != ""
}

// EquityCurvePoint represents one simulated business day of the equity curve.
type EquityCurvePoint struct {
	Date             time.Time       `json:"date"`
	Equity           decimal.Decimal `json:"equity"`
	Cash             decimal.Decimal `json:"cash"`
	SelicPrincipal   decimal.Decimal `json:"selicPrincipal"`
	DailyReturn      decimal.Decimal `json:"dailyReturn"`
	CumulativeReturn decimal.Decimal `json:"cumulativeReturn"`
	Drawdown         decimal.Decimal `json:"drawdown"`
}

// WheelMetrics represents the risk-adjusted performance summary of a run.
type WheelMetrics struct {
	FinalEquity     decimal.Decimal `json:"finalEquity"`
	TotalReturn     decimal.Decimal `json:"totalReturn"`
	CAGR            decimal.Decimal `json:"cagr"`
	SharpeRatio     decimal.Decimal `json:"sharpeRatio"`
	SortinoRatio    decimal.Decimal `json:"sortinoRatio"`
	CalmarRatio     decimal.Decimal `json:"calmarRatio"`
	MaxDrawdown     decimal.Decimal `json:"maxDrawdown"`
	MaxDrawdownDays int             `json:"maxDrawdownDays"`
	DrawdownPeakAt  time.Time       `json:"drawdownPeakAt"`
	DrawdownLowAt   time.Time       `json:"drawdownLowAt"`
	WinRate         decimal.Decimal `json:"winRate"`
	ProfitFactor    decimal.Decimal `json:"profitFactor"`
	TotalTrades     int             `json:"totalTrades"`
	WinningTrades   int             `json:"winningTrades"`
	LosingTrades    int             `json:"losingTrades"`
	ExercisedTrades int             `json:"exercisedTrades"`
	PremiumIncome   decimal.Decimal `json:"premiumIncome"`
	DividendIncome  decimal.Decimal `json:"dividendIncome"`
	LendingIncome   decimal.Decimal `json:"lendingIncome"`
	RiskFreeIncome  decimal.Decimal `json:"riskFreeIncome"`
	TradingDays     int             `json:"tradingDays"`
}

// BacktestResult represents the terminal outcome of a backtest run.
type BacktestResult struct {
	RunID       string             `json:"runId"`
	Config      *BacktestConfig    `json:"config"`
	Status      RunStatus          `json:"status"`
	Metrics     *WheelMetrics      `json:"metrics,omitempty"`
	EquityCurve []EquityCurvePoint `json:"equityCurve,omitempty"`
	Trades      []SimulatedTrade   `json:"trades,omitempty"`
	Error       string             `json:"error,omitempty"`
	StartedAt   time.Time          `json:"startedAt"`
	CompletedAt time.Time          `json:"completedAt"`
}
