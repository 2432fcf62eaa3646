package backtester

import (
	"time"

	"github.com/adrianolucasdepaula/invest-sub001/internal/marketdata"
	"github.com/adrianolucasdepaula/invest-sub001/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const maxOpenPositions = 10

var (
	two           = decimal.NewFromInt(2)
	premiumRate   = decimal.NewFromFloat(0.02)
	baseTenorDays = decimal.NewFromInt(30)
)

// PositionManager opens new option positions and resolves expirations. All
// mutations go through the Portfolio; the manager itself holds no run state.
type PositionManager struct {
	config *types.BacktestConfig
}

// NewPositionManager creates a position manager for one run.
func NewPositionManager(config *types.BacktestConfig) *PositionManager {
	return &PositionManager{config: config}
}

// MaybeOpen attempts to open one position on a cadence day. Returns the
// opened trade, or nil when sizing produced zero contracts or no quote
// exists for the day.
func (m *PositionManager) MaybeOpen(p *Portfolio, date time.Time, data *marketdata.HistoricalData) *types.SimulatedTrade {
	if len(p.OpenTrades()) >= maxOpenPositions {
		return nil
	}
	price, ok := data.Close(date)
	if !ok || price.IsZero() {
		return nil
	}

	sellCall := p.SharesHeld() > 0
	strike := m.estimateStrike(p, price, sellCall)
	contracts := m.sizeContracts(p, strike, sellCall)
	if contracts == 0 {
		return nil
	}

	tradeType := types.TradeTypeSellPut
	if sellCall {
		tradeType = types.TradeTypeSellCall
	}

	trade := &types.SimulatedTrade{
		ID:              uuid.New().String(),
		Type:            tradeType,
		OpenedAt:        date,
		Strike:          strike,
		Premium:         m.estimatePremium(price),
		Contracts:       contracts,
		Expiration:      marketdata.Midnight(date.AddDate(0, 0, m.config.ExpirationDays)),
		UnderlyingPrice: price,
		Delta:           m.config.TargetDelta,
	}
	p.OpenTrade(trade)
	return trade
}

// estimateStrike offsets the spot price by half the target delta: puts
// below the price, calls above it. A call strike is floored at the cost
// basis so assignment never locks in a loss on the shares.
func (m *PositionManager) estimateStrike(p *Portfolio, price decimal.Decimal, sellCall bool) decimal.Decimal {
	offset := m.config.TargetDelta.Div(two)
	if !sellCall {
		return price.Mul(decimal.NewFromInt(1).Sub(offset))
	}
	strike := price.Mul(decimal.NewFromInt(1).Add(offset))
	if avg := p.AveragePrice(); avg.Valid && strike.LessThan(avg.Decimal) {
		strike = avg.Decimal
	}
	return strike
}

// estimatePremium is the closed-form premium heuristic: 2% of the
// underlying, scaled by tenor against a 30-day base. The loaded option-chain
// snapshots are deliberately not consulted here.
func (m *PositionManager) estimatePremium(price decimal.Decimal) decimal.Decimal {
	tenor := decimal.NewFromInt(int64(m.config.ExpirationDays)).Div(baseTenorDays)
	return price.Mul(premiumRate).Mul(tenor)
}

// sizeContracts sizes the position so the notional collateral stays within
// the weekly allocation of cash. Calls are additionally covered-only.
func (m *PositionManager) sizeContracts(p *Portfolio, strike decimal.Decimal, sellCall bool) int64 {
	if strike.IsZero() || !p.Cash().IsPositive() {
		return 0
	}

	budget := p.Cash()
	if m.config.WeeklyDistribution {
		budget = budget.Mul(m.config.MaxWeeklyAllocation)
	}
	perContract := strike.Mul(decimal.NewFromInt(types.SharesPerContract))
	contracts := budget.Div(perContract).IntPart()

	if sellCall {
		covered := p.SharesHeld() / types.SharesPerContract
		for _, t := range p.OpenTrades() {
			if t.Type == types.TradeTypeSellCall {
				covered -= t.Contracts
			}
		}
		if covered < 0 {
			covered = 0
		}
		if contracts > covered {
			contracts = covered
		}
	}
	if contracts < 0 {
		contracts = 0
	}
	return contracts
}

// resolution is a pending expiration outcome. Outcomes are computed for the
// whole open set first and committed afterwards, so the open-trade slice is
// never mutated while it is being iterated.
type resolution struct {
	trade     *types.SimulatedTrade
	exercised bool
	spot      decimal.Decimal
}

// ResolveExpirations resolves every open trade whose expiration is on or
// before date, using the most recent close on or before the day as the
// settlement spot. Exact equality of spot and strike expires worthless.
func (m *PositionManager) ResolveExpirations(p *Portfolio, date time.Time, data *marketdata.HistoricalData) []*types.SimulatedTrade {
	day := marketdata.Midnight(date)

	var pending []resolution
	for _, t := range p.OpenTrades() {
		if t.Expiration.After(day) {
			continue
		}
		spot, ok := data.CloseOnOrBefore(day)
		if !ok {
			// No price has ever been quoted; leave the trade open.
			continue
		}
		pending = append(pending, resolution{
			trade:     t,
			exercised: isExercised(t.Type, spot, t.Strike),
			spot:      spot,
		})
	}

	closed := make([]*types.SimulatedTrade, 0, len(pending))
	for _, r := range pending {
		m.commit(p, r, day)
		closed = append(closed, r.trade)
	}
	return closed
}

// isExercised applies the moneyness rule with strict inequality: a put is
// assigned only below the strike, a call only above it.
func isExercised(tradeType types.TradeType, spot, strike decimal.Decimal) bool {
	switch tradeType {
	case types.TradeTypeSellPut:
		return spot.LessThan(strike)
	case types.TradeTypeSellCall:
		return spot.GreaterThan(strike)
	default:
		return false
	}
}

func (m *PositionManager) commit(p *Portfolio, r resolution, day time.Time) {
	t := r.trade
	shares := decimal.NewFromInt(t.Shares())
	premium := t.TotalPremium()

	switch {
	case t.Type == types.TradeTypeSellPut && r.exercised:
		t.RealizedPnL = premium.Sub(t.Strike.Sub(r.spot).Mul(shares))
		t.Result = types.TradeResultExercise
		t.Type = types.TradeTypeExercisePut
		p.AssignPut(t)

	case t.Type == types.TradeTypeSellCall && r.exercised:
		costBasis := t.Strike
		if avg := p.AveragePrice(); avg.Valid {
			costBasis = avg.Decimal
		}
		t.RealizedPnL = premium.Add(t.Strike.Sub(costBasis).Mul(shares))
		t.Result = types.TradeResultExercise
		t.Type = types.TradeTypeExerciseCall
		p.AssignCall(t)

	default:
		// Expired worthless: the premium is the whole profit.
		t.RealizedPnL = premium
		t.Result = types.TradeResultWin
	}

	t.ClosedAt = day
	t.SpotAtClose = decimal.NewNullDecimal(r.spot)
	p.CloseTrade(t)
}
