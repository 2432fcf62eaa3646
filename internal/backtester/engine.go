package backtester

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/adrianolucasdepaula/invest-sub001/internal/marketdata"
	"github.com/adrianolucasdepaula/invest-sub001/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// defaultProgressEvery is the progress sampling interval in simulated days.
const defaultProgressEvery = 21

// weeklyCadenceDays is the position-opening cadence in business days.
const weeklyCadenceDays = 5

// Engine prepares and executes wheel-strategy backtest runs. A single
// Engine is shared by all runs; each prepared Run owns disjoint state, so
// concurrent runs never interfere.
type Engine struct {
	logger        *zap.Logger
	provider      marketdata.Provider
	sink          ResultSink
	progressEvery int
}

// NewEngine creates a backtest engine.
func NewEngine(logger *zap.Logger, provider marketdata.Provider, sink ResultSink) *Engine {
	if sink == nil {
		sink = NopSink{}
	}
	return &Engine{
		logger:        logger,
		provider:      provider,
		sink:          sink,
		progressEvery: defaultProgressEvery,
	}
}

// SetProgressInterval overrides the progress sampling interval (days).
func (e *Engine) SetProgressInterval(days int) {
	if days > 0 {
		e.progressEvery = days
	}
}

// Run is one prepared backtest: configuration checked, data loaded, state
// allocated. Pre-run errors surface in Prepare; everything after belongs to
// Execute.
type Run struct {
	engine    *Engine
	ID        string
	config    *types.BacktestConfig
	data      *marketdata.HistoricalData
	days      []time.Time
	portfolio *Portfolio
	positions *PositionManager
	income    *IncomeAccrual
}

// Prepare validates the config and loads historical data. Configuration
// errors (bad ranges, unknown asset, empty calendar) are returned
// synchronously; no run is created for them.
func (e *Engine) Prepare(ctx context.Context, runID string, config *types.BacktestConfig) (*Run, error) {
	config.Normalize()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid backtest config: %w", err)
	}

	data, err := e.provider.Load(ctx, config.AssetID, config.StartDate, config.EndDate)
	if err != nil {
		return nil, fmt.Errorf("failed to load historical data: %w", err)
	}

	days := BusinessDays(config.StartDate, config.EndDate)
	if len(days) == 0 {
		return nil, fmt.Errorf("no business days between %s and %s",
			config.StartDate.Format("2006-01-02"), config.EndDate.Format("2006-01-02"))
	}

	return &Run{
		engine:    e,
		ID:        runID,
		config:    config,
		data:      data,
		days:      days,
		portfolio: NewPortfolio(config.InitialCapital, config.SelicAllocation),
		positions: NewPositionManager(config),
		income:    NewIncomeAccrual(config),
	}, nil
}

// Execute drives the day loop to a terminal result. Any mid-run failure is
// caught once here, at the outermost boundary, and turned into a Failed
// result; there is no retry. The sink receives exactly one terminal call.
func (r *Run) Execute(ctx context.Context) *types.BacktestResult {
	e := r.engine
	result := &types.BacktestResult{
		RunID:     r.ID,
		Config:    r.config,
		StartedAt: time.Now(),
	}

	defer func() {
		if rec := recover(); rec != nil {
			result.Status = types.RunStatusFailed
			result.Error = fmt.Sprintf("simulation panic: %v", rec)
			result.CompletedAt = time.Now()
			e.sink.Fail(r.ID, result.Error)
			e.logger.Error("Backtest panicked",
				zap.String("runId", r.ID),
				zap.Any("panic", rec),
			)
		}
	}()

	e.logger.Info("Starting backtest",
		zap.String("runId", r.ID),
		zap.String("asset", r.config.AssetID),
		zap.Int("tradingDays", len(r.days)),
		zap.String("initialCapital", r.config.InitialCapital.String()),
	)

	if err := r.loop(ctx); err != nil {
		if ctx.Err() != nil {
			result.Status = types.RunStatusCancelled
			result.Error = ctx.Err().Error()
		} else {
			result.Status = types.RunStatusFailed
			result.Error = err.Error()
		}
		result.CompletedAt = time.Now()
		e.sink.Fail(r.ID, result.Error)
		return result
	}

	metrics := NewMetricsEngine(r.config.InitialCapital, r.config.RiskFreeRate).
		Calculate(r.portfolio.EquityCurve(), r.portfolio.ClosedTrades())
	dividends, lending, premiums, riskFree := r.portfolio.IncomeTotals()
	metrics.DividendIncome = dividends
	metrics.LendingIncome = lending
	metrics.PremiumIncome = premiums
	metrics.RiskFreeIncome = riskFree

	result.Status = types.RunStatusCompleted
	result.Metrics = metrics
	result.EquityCurve = r.portfolio.EquityCurve()
	result.Trades = r.portfolio.ClosedTrades()
	result.CompletedAt = time.Now()

	e.sink.ReportProgress(r.ID, 100)
	e.sink.Complete(r.ID, result)
	return result
}

// loop runs the fixed per-day sequence: yield, expirations, dividends,
// lending, new positions, equity snapshot.
func (r *Run) loop(ctx context.Context) error {
	total := len(r.days)

	for i, day := range r.days {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		r.portfolio.SetDate(day)

		r.income.AccrueRiskFree(r.portfolio)
		r.positions.ResolveExpirations(r.portfolio, day, r.data)
		r.income.CreditDividends(r.portfolio, day, r.data)
		r.income.CreditLending(r.portfolio, day, r.data)

		if i%weeklyCadenceDays == 0 {
			r.positions.MaybeOpen(r.portfolio, day, r.data)
		}

		price, ok := r.data.Close(day)
		if !ok {
			price = decimal.Zero
		}
		r.portfolio.RecordEquityPoint(day, price)

		if (i+1)%r.engine.progressEvery == 0 && i+1 < total {
			percent := int(math.Round(float64(i+1) / float64(total) * 100))
			r.engine.sink.ReportProgress(r.ID, percent)
		}
	}
	return nil
}

// Portfolio exposes the run's state for inspection after Execute returns.
func (r *Run) Portfolio() *Portfolio { return r.portfolio }
