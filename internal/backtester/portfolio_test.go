package backtester_test

import (
	"testing"
	"time"

	"github.com/adrianolucasdepaula/invest-sub001/internal/backtester"
	"github.com/adrianolucasdepaula/invest-sub001/pkg/types"
	"github.com/shopspring/decimal"
)

func TestPortfolioInitialPools(t *testing.T) {
	p := backtester.NewPortfolio(decimal.NewFromInt(100000), decimal.NewFromFloat(0.4))

	if !p.Cash().Equal(decimal.NewFromInt(60000)) {
		t.Errorf("Cash pool incorrect: %s", p.Cash())
	}
	if !p.SelicPrincipal().Equal(decimal.NewFromInt(40000)) {
		t.Errorf("Selic pool incorrect: %s", p.SelicPrincipal())
	}
	if p.Phase() != types.PhaseSellingPuts {
		t.Errorf("Initial phase incorrect: %s", p.Phase())
	}
	if !p.Equity(decimal.Zero).Equal(decimal.NewFromInt(100000)) {
		t.Errorf("Initial equity incorrect: %s", p.Equity(decimal.Zero))
	}
}

func TestPortfolioEquityInvariant(t *testing.T) {
	p := backtester.NewPortfolio(decimal.NewFromInt(100000), decimal.NewFromFloat(0.25))

	trade := &types.SimulatedTrade{
		Type:      types.TradeTypeSellPut,
		Strike:    decimal.NewFromInt(30),
		Premium:   decimal.NewFromFloat(0.6),
		Contracts: 2,
	}
	p.OpenTrade(trade)
	p.AssignPut(trade)
	p.CreditDividend(decimal.NewFromInt(150), false)
	p.CreditLending(decimal.NewFromInt(12))

	price := decimal.NewFromInt(29)
	want := p.Cash().Add(p.SelicPrincipal()).
		Add(price.Mul(decimal.NewFromInt(p.SharesHeld())))
	if !p.Equity(price).Equal(want) {
		t.Errorf("Equity invariant broken: %s != %s", p.Equity(price), want)
	}

	// Missing quote contributes zero share value.
	wantNoQuote := p.Cash().Add(p.SelicPrincipal())
	if !p.Equity(decimal.Zero).Equal(wantNoQuote) {
		t.Errorf("Equity with no quote incorrect: %s", p.Equity(decimal.Zero))
	}
}

func TestPortfolioAssignmentLifecycle(t *testing.T) {
	p := backtester.NewPortfolio(decimal.NewFromInt(100000), decimal.Zero)

	put := &types.SimulatedTrade{
		Type:      types.TradeTypeSellPut,
		Strike:    decimal.NewFromInt(30),
		Premium:   decimal.NewFromFloat(0.5),
		Contracts: 1,
	}
	p.OpenTrade(put)

	// Premium lands in cash immediately.
	if !p.Cash().Equal(decimal.NewFromInt(100050)) {
		t.Errorf("Cash after premium incorrect: %s", p.Cash())
	}
	if !p.AllocatedCapital().Equal(decimal.NewFromInt(3000)) {
		t.Errorf("Allocated capital incorrect: %s", p.AllocatedCapital())
	}

	p.AssignPut(put)

	if p.SharesHeld() != 100 {
		t.Errorf("Shares after put assignment incorrect: %d", p.SharesHeld())
	}
	if avg := p.AveragePrice(); !avg.Valid || !avg.Decimal.Equal(decimal.NewFromInt(30)) {
		t.Errorf("Cost basis incorrect: %v", avg)
	}
	if p.Phase() != types.PhaseHoldingShares {
		t.Errorf("Phase after put assignment incorrect: %s", p.Phase())
	}
	if !p.Cash().Equal(decimal.NewFromInt(97050)) {
		t.Errorf("Cash after put assignment incorrect: %s", p.Cash())
	}

	call := &types.SimulatedTrade{
		Type:      types.TradeTypeSellCall,
		Strike:    decimal.NewFromInt(32),
		Premium:   decimal.NewFromFloat(0.4),
		Contracts: 1,
	}
	p.OpenTrade(call)

	if p.Phase() != types.PhaseSellingCalls {
		t.Errorf("Phase after opening call incorrect: %s", p.Phase())
	}

	p.AssignCall(call)

	if p.SharesHeld() != 0 {
		t.Errorf("Shares after call assignment incorrect: %d", p.SharesHeld())
	}
	if p.AveragePrice().Valid {
		t.Error("Cost basis should be cleared when flat")
	}
	if p.Phase() != types.PhaseSellingPuts {
		t.Errorf("Phase after call assignment incorrect: %s", p.Phase())
	}
}

func TestPortfolioDividendRouting(t *testing.T) {
	p := backtester.NewPortfolio(decimal.NewFromInt(50000), decimal.Zero)

	p.CreditDividend(decimal.NewFromInt(100), false)
	if !p.Cash().Equal(decimal.NewFromInt(50100)) {
		t.Errorf("Dividend should land in cash: %s", p.Cash())
	}

	p.CreditDividend(decimal.NewFromInt(200), true)
	if !p.SelicPrincipal().Equal(decimal.NewFromInt(200)) {
		t.Errorf("Reinvested dividend should land in Selic pool: %s", p.SelicPrincipal())
	}

	dividends, _, _, _ := p.IncomeTotals()
	if !dividends.Equal(decimal.NewFromInt(300)) {
		t.Errorf("Dividend counter incorrect: %s", dividends)
	}
}

func TestPortfolioEquityCurve(t *testing.T) {
	p := backtester.NewPortfolio(decimal.NewFromInt(100000), decimal.Zero)
	d0 := time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC)

	p.RecordEquityPoint(d0, decimal.Zero)
	p.CreditLending(decimal.NewFromInt(1000))
	point := p.RecordEquityPoint(d0.AddDate(0, 0, 1), decimal.Zero)

	if !point.Equity.Equal(decimal.NewFromInt(101000)) {
		t.Errorf("Equity incorrect: %s", point.Equity)
	}
	if !point.DailyReturn.Equal(decimal.NewFromFloat(0.01)) {
		t.Errorf("Daily return incorrect: %s", point.DailyReturn)
	}
	if !point.CumulativeReturn.Equal(decimal.NewFromFloat(0.01)) {
		t.Errorf("Cumulative return incorrect: %s", point.CumulativeReturn)
	}
	if !point.Drawdown.IsZero() {
		t.Errorf("Drawdown at a new peak should be zero: %s", point.Drawdown)
	}

	if len(p.EquityCurve()) != 2 {
		t.Errorf("Curve length incorrect: %d", len(p.EquityCurve()))
	}
}
