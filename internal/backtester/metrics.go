package backtester

import (
	"math"
	"time"

	"github.com/adrianolucasdepaula/invest-sub001/pkg/types"
	"github.com/shopspring/decimal"
)

// maxProfitFactor is the sentinel reported when a run has gross profit but
// no gross loss.
var maxProfitFactor = decimal.NewFromInt(9999)

// MetricsEngine computes risk-adjusted performance metrics from a finished
// equity curve and closed-trade log. All functions are pure and
// deterministic: identical inputs yield identical outputs.
type MetricsEngine struct {
	initialCapital decimal.Decimal
	riskFreeRate   decimal.Decimal // annual
}

// NewMetricsEngine creates a metrics engine for the given run parameters.
func NewMetricsEngine(initialCapital, annualRiskFreeRate decimal.Decimal) *MetricsEngine {
	return &MetricsEngine{initialCapital: initialCapital, riskFreeRate: annualRiskFreeRate}
}

// Calculate produces the full metrics summary.
func (me *MetricsEngine) Calculate(curve []types.EquityCurvePoint, trades []types.SimulatedTrade) *types.WheelMetrics {
	m := &types.WheelMetrics{TradingDays: len(curve)}

	if len(curve) > 0 {
		m.FinalEquity = curve[len(curve)-1].Equity
		if !me.initialCapital.IsZero() {
			m.TotalReturn = m.FinalEquity.Sub(me.initialCapital).Div(me.initialCapital)
		}
	}

	m.CAGR = me.cagr(m.FinalEquity, len(curve))

	returns := dailyReturns(curve)
	dailyRF, _ := me.riskFreeRate.Div(tradingDaysPerYear).Float64()

	m.SharpeRatio = decimal.NewFromFloat(sharpe(returns, dailyRF))
	m.SortinoRatio = decimal.NewFromFloat(sortino(returns, dailyRF))

	dd := maxDrawdown(curve)
	m.MaxDrawdown = dd.value
	m.MaxDrawdownDays = dd.days
	m.DrawdownPeakAt = dd.peakAt
	m.DrawdownLowAt = dd.lowAt

	if !dd.value.IsZero() {
		m.CalmarRatio = m.CAGR.Div(dd.value)
	}

	me.tradeStats(m, trades)
	return m
}

// cagr applies years = tradingDays / 252; a zero-length run yields zero.
func (me *MetricsEngine) cagr(finalEquity decimal.Decimal, tradingDays int) decimal.Decimal {
	if tradingDays == 0 || !me.initialCapital.IsPositive() || !finalEquity.IsPositive() {
		return decimal.Zero
	}
	years := float64(tradingDays) / 252.0
	if years == 0 {
		return decimal.Zero
	}
	ratio, _ := finalEquity.Div(me.initialCapital).Float64()
	return decimal.NewFromFloat(math.Pow(ratio, 1/years) - 1)
}

func (me *MetricsEngine) tradeStats(m *types.WheelMetrics, trades []types.SimulatedTrade) {
	var grossProfit, grossLoss decimal.Decimal

	for _, t := range trades {
		m.TotalTrades++
		switch t.Result {
		case types.TradeResultWin:
			m.WinningTrades++
		case types.TradeResultLoss:
			m.LosingTrades++
		case types.TradeResultExercise:
			m.ExercisedTrades++
		}
		if t.RealizedPnL.IsPositive() {
			grossProfit = grossProfit.Add(t.RealizedPnL)
		} else if t.RealizedPnL.IsNegative() {
			grossLoss = grossLoss.Add(t.RealizedPnL.Abs())
		}
	}

	if m.TotalTrades > 0 {
		m.WinRate = decimal.NewFromInt(int64(m.WinningTrades)).
			Div(decimal.NewFromInt(int64(m.TotalTrades)))
	}

	switch {
	case !grossLoss.IsZero():
		m.ProfitFactor = grossProfit.Div(grossLoss)
	case grossProfit.IsPositive():
		m.ProfitFactor = maxProfitFactor
	}
}

// dailyReturns derives simple returns from consecutive equity points.
func dailyReturns(curve []types.EquityCurvePoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev.IsZero() {
			continue
		}
		r, _ := curve[i].Equity.Sub(prev).Div(prev).Float64()
		returns = append(returns, r)
	}
	return returns
}

func sharpe(returns []float64, dailyRF float64) float64 {
	sd := stdDev(returns)
	if sd == 0 {
		return 0
	}
	return (mean(returns) - dailyRF) / sd * math.Sqrt(252)
}

// sortino keeps the Sharpe numerator but penalizes only the sub-risk-free
// returns in the denominator.
func sortino(returns []float64, dailyRF float64) float64 {
	var downside []float64
	for _, r := range returns {
		if r < dailyRF {
			downside = append(downside, r)
		}
	}
	sd := stdDev(downside)
	if sd == 0 {
		return 0
	}
	return (mean(returns) - dailyRF) / sd * math.Sqrt(252)
}

type drawdown struct {
	value  decimal.Decimal
	days   int
	peakAt time.Time
	lowAt  time.Time
}

// maxDrawdown finds the largest peak-to-trough percentage decline and its
// duration in curve-index units.
func maxDrawdown(curve []types.EquityCurvePoint) drawdown {
	var dd drawdown
	if len(curve) == 0 {
		return dd
	}

	peak := curve[0].Equity
	peakIdx := 0

	for i, point := range curve {
		if point.Equity.GreaterThan(peak) {
			peak = point.Equity
			peakIdx = i
		}
		if peak.IsZero() {
			continue
		}
		decline := peak.Sub(point.Equity).Div(peak)
		if decline.GreaterThan(dd.value) {
			dd.value = decline
			dd.days = i - peakIdx
			dd.peakAt = curve[peakIdx].Date
			dd.lowAt = point.Date
		}
	}
	return dd
}

// mean is the arithmetic mean; empty input yields zero.
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stdDev is the sample standard deviation (n-1 denominator). The same
// denominator is used for the full and downside return sets.
func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sumSquares float64
	for _, v := range values {
		diff := v - m
		sumSquares += diff * diff
	}
	return math.Sqrt(sumSquares / float64(len(values)-1))
}
