package backtester

import (
	"github.com/adrianolucasdepaula/invest-sub001/pkg/types"
	"go.uber.org/zap"
)

// ResultSink receives run progress and terminal outcomes. Progress reports
// are advisory, fire-and-forget and best-effort; Complete and Fail are
// terminal and called exactly once per run.
type ResultSink interface {
	ReportProgress(runID string, percent int)
	Complete(runID string, result *types.BacktestResult)
	Fail(runID string, errMsg string)
}

// NopSink discards everything. Useful for tests and standalone runs.
type NopSink struct{}

func (NopSink) ReportProgress(string, int)             {}
func (NopSink) Complete(string, *types.BacktestResult) {}
func (NopSink) Fail(string, string)                    {}

// LogSink writes progress and terminal events to the logger.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) ReportProgress(runID string, percent int) {
	s.Logger.Debug("Backtest progress", zap.String("runId", runID), zap.Int("percent", percent))
}

func (s LogSink) Complete(runID string, result *types.BacktestResult) {
	s.Logger.Info("Backtest completed",
		zap.String("runId", runID),
		zap.Int("trades", len(result.Trades)),
		zap.String("finalEquity", result.Metrics.FinalEquity.String()),
	)
}

func (s LogSink) Fail(runID string, errMsg string) {
	s.Logger.Error("Backtest failed", zap.String("runId", runID), zap.String("error", errMsg))
}

// MultiSink fans events out to several sinks in order.
type MultiSink []ResultSink

func (m MultiSink) ReportProgress(runID string, percent int) {
	for _, s := range m {
		s.ReportProgress(runID, percent)
	}
}

func (m MultiSink) Complete(runID string, result *types.BacktestResult) {
	for _, s := range m {
		s.Complete(runID, result)
	}
}

func (m MultiSink) Fail(runID string, errMsg string) {
	for _, s := range m {
		s.Fail(runID, errMsg)
	}
}
