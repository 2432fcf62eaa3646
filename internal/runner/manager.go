// Package runner supervises concurrent backtest runs.
package runner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/adrianolucasdepaula/invest-sub001/internal/backtester"
	"github.com/adrianolucasdepaula/invest-sub001/internal/marketdata"
	"github.com/adrianolucasdepaula/invest-sub001/pkg/types"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// RunState tracks one supervised run. Progress and status are updated by the
// run goroutine and read by the API; everything else is written once.
type RunState struct {
	ID        string
	Config    *types.BacktestConfig
	Status    types.RunStatus
	Progress  int
	StartedAt time.Time
	Result    *types.BacktestResult
	cancel    context.CancelFunc
}

// Summary is the read-only view of a run state handed to callers.
type Summary struct {
	ID        string              `json:"id"`
	AssetID   string              `json:"assetId"`
	Status    types.RunStatus     `json:"status"`
	Progress  int                 `json:"progress"`
	StartedAt time.Time           `json:"startedAt"`
	Metrics   *types.WheelMetrics `json:"metrics,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// Manager owns one goroutine per run, each with its own cancelable context
// and fully disjoint state. Failures propagate into the stored status, never
// just a log line, and panics are recovered into Failed.
//
// Manager is itself the engine's ResultSink: progress lands in the status
// map and every event fans out to the attached sinks (log, websocket hub).
type Manager struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	engine  *backtester.Engine
	sinks   backtester.MultiSink
	runs    map[string]*RunState
	maxRuns int
	wg      sync.WaitGroup

	runsStarted   prometheus.Counter
	runsCompleted prometheus.Counter
	runsFailed    prometheus.Counter
	runsCancelled prometheus.Counter
	runDuration   prometheus.Histogram
}

// NewManager creates a run manager over the given data provider.
func NewManager(logger *zap.Logger, provider marketdata.Provider, maxConcurrent int) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	m := &Manager{
		logger:  logger,
		runs:    make(map[string]*RunState),
		maxRuns: maxConcurrent,
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_runs_started_total",
			Help: "Number of backtest runs started.",
		}),
		runsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_runs_completed_total",
			Help: "Number of backtest runs that completed successfully.",
		}),
		runsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_runs_failed_total",
			Help: "Number of backtest runs that failed.",
		}),
		runsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backtest_runs_cancelled_total",
			Help: "Number of backtest runs cancelled by the caller.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "backtest_run_duration_seconds",
			Help:    "Wall-clock duration of backtest runs.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
	m.engine = backtester.NewEngine(logger, provider, m)
	m.sinks = backtester.MultiSink{backtester.LogSink{Logger: logger}}
	return m
}

// AttachSink adds a downstream sink (e.g. the websocket hub). Must be called
// before the first Submit.
func (m *Manager) AttachSink(sink backtester.ResultSink) {
	m.sinks = append(m.sinks, sink)
}

// ReportProgress implements backtester.ResultSink.
func (m *Manager) ReportProgress(runID string, percent int) {
	m.SetProgress(runID, percent)
	m.sinks.ReportProgress(runID, percent)
}

// Complete implements backtester.ResultSink.
func (m *Manager) Complete(runID string, result *types.BacktestResult) {
	m.sinks.Complete(runID, result)
}

// Fail implements backtester.ResultSink.
func (m *Manager) Fail(runID string, errMsg string) {
	m.sinks.Fail(runID, errMsg)
}

// Register registers the manager's collectors with a Prometheus registry.
func (m *Manager) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.runsStarted, m.runsCompleted, m.runsFailed, m.runsCancelled, m.runDuration,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// SetProgressInterval sets the engine's progress sampling interval in days.
func (m *Manager) SetProgressInterval(days int) {
	m.engine.SetProgressInterval(days)
}

// Submit validates and prepares a run synchronously, then executes it in its
// own goroutine. Pre-run errors are returned here and no run remains
// registered for them. The run is registered as Pending under the same lock
// as the concurrency check, so the cap cannot be exceeded by concurrent
// submits; it stays Pending while historical data loads and turns Running
// when its goroutine starts.
func (m *Manager) Submit(ctx context.Context, config *types.BacktestConfig) (string, error) {
	config.Normalize()
	if err := config.Validate(); err != nil {
		return "", fmt.Errorf("invalid backtest config: %w", err)
	}

	runID := uuid.New().String()
	state := &RunState{
		ID:        runID,
		Config:    config,
		Status:    types.RunStatusPending,
		StartedAt: time.Now(),
	}

	m.mu.Lock()
	active := 0
	for _, s := range m.runs {
		if s.Status == types.RunStatusRunning || s.Status == types.RunStatusPending {
			active++
		}
	}
	if active >= m.maxRuns {
		m.mu.Unlock()
		return "", fmt.Errorf("too many concurrent runs (limit %d)", m.maxRuns)
	}
	m.runs[runID] = state
	m.mu.Unlock()

	run, err := m.engine.Prepare(ctx, runID, config)
	if err != nil {
		m.mu.Lock()
		delete(m.runs, runID)
		m.mu.Unlock()
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	state.Status = types.RunStatusRunning
	state.cancel = cancel
	m.mu.Unlock()

	m.runsStarted.Inc()
	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		defer cancel()

		started := time.Now()
		result := run.Execute(runCtx)
		m.runDuration.Observe(time.Since(started).Seconds())

		m.mu.Lock()
		state.Status = result.Status
		state.Result = result
		if result.Status == types.RunStatusCompleted {
			state.Progress = 100
		}
		m.mu.Unlock()

		switch result.Status {
		case types.RunStatusCompleted:
			m.runsCompleted.Inc()
		case types.RunStatusCancelled:
			m.runsCancelled.Inc()
		default:
			m.runsFailed.Inc()
		}
	}()

	return runID, nil
}

// SetProgress records the latest advisory progress percentage for a run.
func (m *Manager) SetProgress(runID string, percent int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.runs[runID]; ok {
		state.Progress = percent
	}
}

// Get returns the summary of a run.
func (m *Manager) Get(runID string) (Summary, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.runs[runID]
	if !ok {
		return Summary{}, false
	}
	return summarize(state), true
}

// Result returns the full terminal result of a run, if available.
func (m *Manager) Result(runID string) (*types.BacktestResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.runs[runID]
	if !ok || state.Result == nil {
		return nil, false
	}
	return state.Result, true
}

// List returns summaries of all known runs, newest first.
func (m *Manager) List() []Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summaries := make([]Summary, 0, len(m.runs))
	for _, state := range m.runs {
		summaries = append(summaries, summarize(state))
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StartedAt.After(summaries[j].StartedAt)
	})
	return summaries
}

// Cancel requests cooperative cancellation of a running run.
func (m *Manager) Cancel(runID string) error {
	m.mu.RLock()
	state, ok := m.runs[runID]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	if state.Status != types.RunStatusRunning {
		return fmt.Errorf("run %s is not running", runID)
	}
	state.cancel()
	return nil
}

// Wait blocks until every submitted run has reached a terminal status.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func summarize(state *RunState) Summary {
	s := Summary{
		ID:        state.ID,
		AssetID:   state.Config.AssetID,
		Status:    state.Status,
		Progress:  state.Progress,
		StartedAt: state.StartedAt,
	}
	if state.Result != nil {
		s.Metrics = state.Result.Metrics
		s.Error = state.Result.Error
	}
	return s
}
