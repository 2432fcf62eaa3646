package backtester_test

import (
	"testing"
	"time"

	"github.com/adrianolucasdepaula/invest-sub001/internal/backtester"
	"github.com/adrianolucasdepaula/invest-sub001/internal/marketdata"
	"github.com/shopspring/decimal"
)

func TestAccrueRiskFreeDailyYield(t *testing.T) {
	config := testConfig()
	config.RiskFreeRate = decimal.NewFromFloat(0.105)
	accrual := backtester.NewIncomeAccrual(config)
	p := backtester.NewPortfolio(decimal.NewFromInt(100000), decimal.NewFromInt(1))

	yield := accrual.AccrueRiskFree(p)

	// 100000 * 0.105 / 252 = 41.6666..., rounded to 8 places.
	want := decimal.RequireFromString("41.66666667")
	if !yield.Equal(want) {
		t.Errorf("Daily yield incorrect: got %s, want %s", yield, want)
	}
	if !p.SelicPrincipal().Equal(decimal.RequireFromString("100041.66666667")) {
		t.Errorf("Yield not compounded into the pool: %s", p.SelicPrincipal())
	}
	if _, _, _, riskFree := p.IncomeTotals(); !riskFree.Equal(want) {
		t.Errorf("Risk-free income counter incorrect: %s", riskFree)
	}
}

func TestAccrueRiskFreeScaleBounded(t *testing.T) {
	config := testConfig()
	accrual := backtester.NewIncomeAccrual(config)
	p := backtester.NewPortfolio(decimal.NewFromInt(100000), decimal.NewFromInt(1))

	// A full year of daily compounding must not grow the coefficient: every
	// accrued yield is rounded, so the pool never exceeds 8 decimal places.
	for i := 0; i < 252; i++ {
		accrual.AccrueRiskFree(p)
	}
	if exp := p.SelicPrincipal().Exponent(); exp < -8 {
		t.Errorf("Pool scale unbounded: exponent %d, value %s", exp, p.SelicPrincipal())
	}
	if !p.SelicPrincipal().GreaterThan(decimal.NewFromInt(100000)) {
		t.Errorf("Pool should have grown: %s", p.SelicPrincipal())
	}
}

func TestAccrueRiskFreeCompounds(t *testing.T) {
	config := testConfig()
	accrual := backtester.NewIncomeAccrual(config)
	p := backtester.NewPortfolio(decimal.NewFromInt(100000), decimal.NewFromInt(1))

	first := accrual.AccrueRiskFree(p)
	second := accrual.AccrueRiskFree(p)

	if !second.GreaterThan(first) {
		t.Errorf("Second day must accrue on a larger pool: %s vs %s", second, first)
	}
}

func TestAccrueRiskFreeZeroPool(t *testing.T) {
	config := testConfig()
	accrual := backtester.NewIncomeAccrual(config)
	p := backtester.NewPortfolio(decimal.NewFromInt(100000), decimal.Zero)

	if yield := accrual.AccrueRiskFree(p); !yield.IsZero() {
		t.Errorf("Empty pool must accrue nothing: %s", yield)
	}
}

func TestCreditDividendsRequiresSharesAndExDate(t *testing.T) {
	config := testConfig()
	accrual := backtester.NewIncomeAccrual(config)

	exDate := time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC)
	data := marketdata.NewHistoricalData("PETR4", nil, nil,
		[]marketdata.DividendEvent{{ExDate: exDate, PerShareAmount: decimal.NewFromFloat(1.5)}}, nil)

	// No shares held: nothing credited even on the ex-date.
	p := backtester.NewPortfolio(decimal.NewFromInt(100000), decimal.Zero)
	if amount := accrual.CreditDividends(p, exDate, data); !amount.IsZero() {
		t.Errorf("Dividend credited without shares: %s", amount)
	}

	// 200 shares held via an exercised put.
	pm := backtester.NewPositionManager(config)
	openPut(p, exDate.AddDate(0, 0, -7), 30, 0.5, 2)
	pm.ResolveExpirations(p, exDate.AddDate(0, 0, -7), priceData(t, exDate.AddDate(0, 0, -7), 28))

	if amount := accrual.CreditDividends(p, exDate.AddDate(0, 0, -1), data); !amount.IsZero() {
		t.Errorf("Dividend credited off the ex-date: %s", amount)
	}

	amount := accrual.CreditDividends(p, exDate, data)
	if !amount.Equal(decimal.NewFromInt(300)) {
		t.Errorf("Dividend amount incorrect: %s", amount)
	}
	if dividends, _, _, _ := p.IncomeTotals(); !dividends.Equal(decimal.NewFromInt(300)) {
		t.Errorf("Dividend counter incorrect: %s", dividends)
	}
	// ReinvestDividends defaults to true: routed into the Selic pool.
	if !p.SelicPrincipal().Equal(decimal.NewFromInt(300)) {
		t.Errorf("Reinvested dividend should sit in the Selic pool: %s", p.SelicPrincipal())
	}
}

func TestCreditLendingDailyIncome(t *testing.T) {
	config := testConfig()
	accrual := backtester.NewIncomeAccrual(config)
	pm := backtester.NewPositionManager(config)
	p := backtester.NewPortfolio(decimal.NewFromInt(100000), decimal.Zero)

	day := time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC)
	openPut(p, day.AddDate(0, 0, -7), 30, 0.5, 1)
	pm.ResolveExpirations(p, day.AddDate(0, 0, -7), priceData(t, day.AddDate(0, 0, -7), 28))

	data := marketdata.NewHistoricalData("PETR4",
		[]marketdata.PriceBar{{Date: day, Close: decimal.NewFromInt(50)}},
		nil, nil,
		[]marketdata.LendingRate{{Date: day, AnnualRatePct: decimal.NewFromInt(2)}})

	amount := accrual.CreditLending(p, day, data)

	// 50 * 100 * 2 / 100 / 252 = 0.39682539..., rounded to 8 places.
	want := decimal.RequireFromString("0.3968254")
	if !amount.Equal(want) {
		t.Errorf("Lending income incorrect: got %s, want %s", amount, want)
	}
	if _, lending, _, _ := p.IncomeTotals(); !lending.Equal(want) {
		t.Errorf("Lending counter incorrect: %s", lending)
	}
}

func TestCreditLendingDisabledByFlag(t *testing.T) {
	config := testConfig()
	config.IncludeLendingIncome = false
	accrual := backtester.NewIncomeAccrual(config)
	pm := backtester.NewPositionManager(config)
	p := backtester.NewPortfolio(decimal.NewFromInt(100000), decimal.Zero)

	day := time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC)
	openPut(p, day.AddDate(0, 0, -7), 30, 0.5, 1)
	pm.ResolveExpirations(p, day.AddDate(0, 0, -7), priceData(t, day.AddDate(0, 0, -7), 28))

	data := marketdata.NewHistoricalData("PETR4",
		[]marketdata.PriceBar{{Date: day, Close: decimal.NewFromInt(50)}},
		nil, nil,
		[]marketdata.LendingRate{{Date: day, AnnualRatePct: decimal.NewFromInt(2)}})

	if amount := accrual.CreditLending(p, day, data); !amount.IsZero() {
		t.Errorf("Lending income credited while disabled: %s", amount)
	}
}

func TestCreditLendingRequiresRateQuote(t *testing.T) {
	config := testConfig()
	accrual := backtester.NewIncomeAccrual(config)
	pm := backtester.NewPositionManager(config)
	p := backtester.NewPortfolio(decimal.NewFromInt(100000), decimal.Zero)

	day := time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC)
	openPut(p, day.AddDate(0, 0, -7), 30, 0.5, 1)
	pm.ResolveExpirations(p, day.AddDate(0, 0, -7), priceData(t, day.AddDate(0, 0, -7), 28))

	data := marketdata.NewHistoricalData("PETR4",
		[]marketdata.PriceBar{{Date: day, Close: decimal.NewFromInt(50)}},
		nil, nil, nil)

	if amount := accrual.CreditLending(p, day, data); !amount.IsZero() {
		t.Errorf("Lending income credited without a rate quote: %s", amount)
	}
}
