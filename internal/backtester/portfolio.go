package backtester

import (
	"time"

	"github.com/adrianolucasdepaula/invest-sub001/pkg/types"
	"github.com/shopspring/decimal"
)

// Portfolio is the single source of truth for one backtest run. It is
// mutated only by the engine's day loop, in a single goroutine, and becomes
// read-only once the run reaches a terminal status.
type Portfolio struct {
	date           time.Time
	cash           decimal.Decimal
	selicPrincipal decimal.Decimal
	sharesHeld     int64
	averagePrice   decimal.NullDecimal
	phase          types.Phase

	openTrades   []*types.SimulatedTrade
	closedTrades []types.SimulatedTrade
	equityCurve  []types.EquityCurvePoint

	initialCapital decimal.Decimal
	peakEquity     decimal.Decimal

	dividendIncome decimal.Decimal
	lendingIncome  decimal.Decimal
	premiumIncome  decimal.Decimal
	riskFreeIncome decimal.Decimal
}

// NewPortfolio creates the initial state for a run. The Selic pool is funded
// with selicAllocation * initialCapital; the remainder is working cash.
func NewPortfolio(initialCapital, selicAllocation decimal.Decimal) *Portfolio {
	selic := initialCapital.Mul(selicAllocation)
	return &Portfolio{
		cash:           initialCapital.Sub(selic),
		selicPrincipal: selic,
		phase:          types.PhaseSellingPuts,
		initialCapital: initialCapital,
		peakEquity:     initialCapital,
	}
}

// Date returns the current simulation cursor.
func (p *Portfolio) Date() time.Time { return p.date }

// SetDate advances the simulation cursor.
func (p *Portfolio) SetDate(d time.Time) { p.date = d }

// Cash returns the working cash pool.
func (p *Portfolio) Cash() decimal.Decimal { return p.cash }

// SelicPrincipal returns the risk-free pool.
func (p *Portfolio) SelicPrincipal() decimal.Decimal { return p.selicPrincipal }

// SharesHeld returns the current share count (always a multiple of 100).
func (p *Portfolio) SharesHeld() int64 { return p.sharesHeld }

// AveragePrice returns the cost basis; invalid when no shares are held.
func (p *Portfolio) AveragePrice() decimal.NullDecimal { return p.averagePrice }

// Phase returns the current wheel phase.
func (p *Portfolio) Phase() types.Phase { return p.phase }

// OpenTrades returns the unresolved positions.
func (p *Portfolio) OpenTrades() []*types.SimulatedTrade { return p.openTrades }

// ClosedTrades returns the append-only resolved trade log.
func (p *Portfolio) ClosedTrades() []types.SimulatedTrade { return p.closedTrades }

// EquityCurve returns the recorded daily snapshots.
func (p *Portfolio) EquityCurve() []types.EquityCurvePoint { return p.equityCurve }

// Equity computes total equity against the given share price. Callers pass
// zero when no quote exists for the day.
func (p *Portfolio) Equity(price decimal.Decimal) decimal.Decimal {
	shareValue := price.Mul(decimal.NewFromInt(p.sharesHeld))
	return p.cash.Add(p.selicPrincipal).Add(shareValue)
}

// AllocatedCapital is the notional collateral committed to open positions.
func (p *Portfolio) AllocatedCapital() decimal.Decimal {
	total := decimal.Zero
	for _, t := range p.openTrades {
		total = total.Add(t.Strike.Mul(decimal.NewFromInt(t.Shares())))
	}
	return total
}

// AccrueRiskFree adds a day's compounded yield to the Selic pool.
func (p *Portfolio) AccrueRiskFree(amount decimal.Decimal) {
	p.selicPrincipal = p.selicPrincipal.Add(amount)
	p.riskFreeIncome = p.riskFreeIncome.Add(amount)
}

// CreditDividend credits a dividend payment. Reinvested dividends go to the
// Selic pool so they keep compounding; otherwise they sit in cash.
func (p *Portfolio) CreditDividend(amount decimal.Decimal, reinvest bool) {
	if reinvest {
		p.selicPrincipal = p.selicPrincipal.Add(amount)
	} else {
		p.cash = p.cash.Add(amount)
	}
	p.dividendIncome = p.dividendIncome.Add(amount)
}

// CreditLending credits a day of stock-lending income to cash.
func (p *Portfolio) CreditLending(amount decimal.Decimal) {
	p.cash = p.cash.Add(amount)
	p.lendingIncome = p.lendingIncome.Add(amount)
}

// OpenTrade registers a new position and credits its premium to cash.
func (p *Portfolio) OpenTrade(t *types.SimulatedTrade) {
	premium := t.TotalPremium()
	p.cash = p.cash.Add(premium)
	p.premiumIncome = p.premiumIncome.Add(premium)
	p.openTrades = append(p.openTrades, t)

	if t.Type == types.TradeTypeSellCall && p.phase == types.PhaseHoldingShares {
		p.phase = types.PhaseSellingCalls
	}
}

// AssignPut settles an exercised put: shares are bought at the strike.
// Cost basis is set to the strike per the simulation's accounting rules.
func (p *Portfolio) AssignPut(t *types.SimulatedTrade) {
	shares := t.Shares()
	p.cash = p.cash.Sub(t.Strike.Mul(decimal.NewFromInt(shares)))
	p.sharesHeld += shares
	p.averagePrice = decimal.NewNullDecimal(t.Strike)
	p.phase = types.PhaseHoldingShares
}

// AssignCall settles an exercised call: shares are sold at the strike.
func (p *Portfolio) AssignCall(t *types.SimulatedTrade) {
	shares := t.Shares()
	p.cash = p.cash.Add(t.Strike.Mul(decimal.NewFromInt(shares)))
	p.sharesHeld -= shares
	if p.sharesHeld <= 0 {
		p.sharesHeld = 0
		p.averagePrice = decimal.NullDecimal{}
		p.phase = types.PhaseSellingPuts
	}
}

// CloseTrade moves a resolved position from the open set to the closed log.
// The closed record is never touched again.
func (p *Portfolio) CloseTrade(t *types.SimulatedTrade) {
	for i, open := range p.openTrades {
		if open == t {
			p.openTrades = append(p.openTrades[:i], p.openTrades[i+1:]...)
			break
		}
	}
	p.closedTrades = append(p.closedTrades, *t)
}

// RecordEquityPoint appends the daily snapshot. price carries zero when the
// day has no quote, so missing dates contribute nothing to share value.
func (p *Portfolio) RecordEquityPoint(date time.Time, price decimal.Decimal) types.EquityCurvePoint {
	equity := p.Equity(price)

	dailyReturn := decimal.Zero
	if n := len(p.equityCurve); n > 0 {
		prev := p.equityCurve[n-1].Equity
		if !prev.IsZero() {
			dailyReturn = equity.Sub(prev).Div(prev)
		}
	}

	cumulative := decimal.Zero
	if !p.initialCapital.IsZero() {
		cumulative = equity.Sub(p.initialCapital).Div(p.initialCapital)
	}

	if equity.GreaterThan(p.peakEquity) {
		p.peakEquity = equity
	}
	drawdown := decimal.Zero
	if !p.peakEquity.IsZero() {
		drawdown = p.peakEquity.Sub(equity).Div(p.peakEquity)
	}

	point := types.EquityCurvePoint{
		Date:             date,
		Equity:           equity,
		Cash:             p.cash,
		SelicPrincipal:   p.selicPrincipal,
		DailyReturn:      dailyReturn,
		CumulativeReturn: cumulative,
		Drawdown:         drawdown,
	}
	p.equityCurve = append(p.equityCurve, point)
	return point
}

// IncomeTotals returns the cumulative income counters.
func (p *Portfolio) IncomeTotals() (dividends, lending, premiums, riskFree decimal.Decimal) {
	return p.dividendIncome, p.lendingIncome, p.premiumIncome, p.riskFreeIncome
}
