package backtester

import (
	"time"

	"github.com/adrianolucasdepaula/invest-sub001/internal/marketdata"
	"github.com/adrianolucasdepaula/invest-sub001/pkg/types"
	"github.com/shopspring/decimal"
)

// tradingDaysPerYear is the Brazilian trading-day convention used for daily
// rate conversion throughout the engine.
var tradingDaysPerYear = decimal.NewFromInt(252)

// IncomeAccrual applies the daily additive income streams: risk-free yield
// on the Selic pool, dividends on ex-dates, and stock-lending income. The
// three streams are order-independent but must all run before the day's
// equity snapshot.
type IncomeAccrual struct {
	config *types.BacktestConfig
}

// NewIncomeAccrual creates the accrual step for one run.
func NewIncomeAccrual(config *types.BacktestConfig) *IncomeAccrual {
	return &IncomeAccrual{config: config}
}

// AccrueRiskFree compounds the Selic pool by one trading day. Runs
// unconditionally every simulated day; a zero pool accrues zero. The product
// is taken before the division so no precision is lost ahead of the multiply,
// and the yield is rounded to 8 places so daily compounding keeps the pool's
// scale bounded.
func (a *IncomeAccrual) AccrueRiskFree(p *Portfolio) decimal.Decimal {
	yield := p.SelicPrincipal().
		Mul(a.config.RiskFreeRate).
		Div(tradingDaysPerYear).
		Round(8)
	if yield.IsZero() {
		return decimal.Zero
	}
	p.AccrueRiskFree(yield)
	return yield
}

// CreditDividends credits any ex-dividend amount for the day while shares
// are held.
func (a *IncomeAccrual) CreditDividends(p *Portfolio, date time.Time, data *marketdata.HistoricalData) decimal.Decimal {
	if p.SharesHeld() == 0 {
		return decimal.Zero
	}
	perShare, ok := data.Dividend(date)
	if !ok {
		return decimal.Zero
	}
	amount := perShare.Mul(decimal.NewFromInt(p.SharesHeld()))
	p.CreditDividend(amount, a.config.ReinvestDividends)
	return amount
}

// CreditLending credits one day of stock-lending income when enabled, shares
// are held, and a rate quote exists for the day.
func (a *IncomeAccrual) CreditLending(p *Portfolio, date time.Time, data *marketdata.HistoricalData) decimal.Decimal {
	if !a.config.IncludeLendingIncome || p.SharesHeld() == 0 {
		return decimal.Zero
	}
	ratePct, ok := data.LendingRateOn(date)
	if !ok {
		return decimal.Zero
	}
	price, ok := data.Close(date)
	if !ok {
		return decimal.Zero
	}
	hundred := decimal.NewFromInt(100)
	amount := price.Mul(decimal.NewFromInt(p.SharesHeld())).
		Mul(ratePct).
		Div(hundred).
		Div(tradingDaysPerYear).
		Round(8)
	if amount.IsZero() {
		return decimal.Zero
	}
	p.CreditLending(amount)
	return amount
}
