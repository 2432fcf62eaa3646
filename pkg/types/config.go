// Package types provides configuration types for the backtesting service.
package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Configuration bounds enforced before a run is created.
var (
	MinInitialCapital   = decimal.NewFromInt(10000)
	MinTargetDelta      = decimal.NewFromFloat(0.05)
	MaxTargetDelta      = decimal.NewFromFloat(0.30)
	MinExpirationDays   = 7
	MaxExpirationDays   = 90
	MinWeeklyAllocation = decimal.NewFromFloat(0.10)
	MaxWeeklyAllocation = decimal.NewFromFloat(0.50)
)

// Validation errors returned by BacktestConfig.Validate.
var (
	ErrNoAsset              = errors.New("asset id is required")
	ErrInvalidDateRange     = errors.New("end date must be after start date")
	ErrCapitalTooLow        = errors.New("initial capital below minimum")
	ErrDeltaOutOfRange      = errors.New("target delta out of range")
	ErrExpirationOutOfRange = errors.New("expiration days out of range")
	ErrAllocationOutOfRange = errors.New("max weekly allocation out of range")
	ErrSelicAllocation      = errors.New("selic allocation must be between 0 and 1")
)

// FundamentalScreen holds the upstream screening thresholds. The simulation
// core never reads these; screening happens before a run is submitted.
type FundamentalScreen struct {
	MinDividendYield decimal.Decimal `json:"minDividendYield"`
	MaxPayoutRatio   decimal.Decimal `json:"maxPayoutRatio"`
	MinROE           decimal.Decimal `json:"minRoe"`
}

// BacktestConfig represents the immutable configuration of a backtest run.
type BacktestConfig struct {
	AssetID              string            `json:"assetId"`
	StartDate            time.Time         `json:"startDate"`
	EndDate              time.Time         `json:"endDate"`
	InitialCapital       decimal.Decimal   `json:"initialCapital"`
	TargetDelta          decimal.Decimal   `json:"targetDelta"`
	ExpirationDays       int               `json:"expirationDays"`
	WeeklyDistribution   bool              `json:"weeklyDistribution"`
	MaxWeeklyAllocation  decimal.Decimal   `json:"maxWeeklyAllocation"`
	ReinvestDividends    bool              `json:"reinvestDividends"`
	IncludeLendingIncome bool              `json:"includeLendingIncome"`
	RiskFreeRate         decimal.Decimal   `json:"riskFreeRate"`    // annual, fraction (0.105 = 10.5%)
	SelicAllocation      decimal.Decimal   `json:"selicAllocation"` // fraction of capital parked in Selic at start
	Screen               FundamentalScreen `json:"screen"`
}

// DefaultBacktestConfig returns a config populated with defaults. Overrides
// are applied explicitly by the caller; precedence is caller over default.
func DefaultBacktestConfig() BacktestConfig {
	return BacktestConfig{
		InitialCapital:       decimal.NewFromInt(100000),
		TargetDelta:          decimal.NewFromFloat(0.20),
		ExpirationDays:       30,
		WeeklyDistribution:   true,
		MaxWeeklyAllocation:  decimal.NewFromFloat(0.25),
		ReinvestDividends:    true,
		IncludeLendingIncome: true,
		RiskFreeRate:         decimal.NewFromFloat(0.105),
		SelicAllocation:      decimal.Zero,
	}
}

// Normalize fills zero-valued fields with defaults. It never overrides a
// value the caller set explicitly.
func (c *BacktestConfig) Normalize() {
	def := DefaultBacktestConfig()
	if c.InitialCapital.IsZero() {
		c.InitialCapital = def.InitialCapital
	}
	if c.TargetDelta.IsZero() {
		c.TargetDelta = def.TargetDelta
	}
	if c.ExpirationDays == 0 {
		c.ExpirationDays = def.ExpirationDays
	}
	if c.MaxWeeklyAllocation.IsZero() {
		c.MaxWeeklyAllocation = def.MaxWeeklyAllocation
	}
	if c.RiskFreeRate.IsZero() {
		c.RiskFreeRate = def.RiskFreeRate
	}
}

// Validate rejects malformed configs before a run is created.
func (c *BacktestConfig) Validate() error {
	if c.AssetID == "" {
		return ErrNoAsset
	}
	if !c.EndDate.After(c.StartDate) {
		return ErrInvalidDateRange
	}
	if c.InitialCapital.LessThan(MinInitialCapital) {
		return fmt.Errorf("%w: got %s, minimum %s", ErrCapitalTooLow, c.InitialCapital, MinInitialCapital)
	}
	if c.TargetDelta.LessThan(MinTargetDelta) || c.TargetDelta.GreaterThan(MaxTargetDelta) {
		return fmt.Errorf("%w: got %s", ErrDeltaOutOfRange, c.TargetDelta)
	}
	if c.ExpirationDays < MinExpirationDays || c.ExpirationDays > MaxExpirationDays {
		return fmt.Errorf("%w: got %d", ErrExpirationOutOfRange, c.ExpirationDays)
	}
	if c.MaxWeeklyAllocation.LessThan(MinWeeklyAllocation) || c.MaxWeeklyAllocation.GreaterThan(MaxWeeklyAllocation) {
		return fmt.Errorf("%w: got %s", ErrAllocationOutOfRange, c.MaxWeeklyAllocation)
	}
	if c.SelicAllocation.IsNegative() || c.SelicAllocation.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: got %s", ErrSelicAllocation, c.SelicAllocation)
	}
	return nil
}

// ServerConfig represents the HTTP server configuration.
type ServerConfig struct {
	Host           string        `json:"host" mapstructure:"host"`
	Port           int           `json:"port" mapstructure:"port"`
	WebSocketPath  string        `json:"websocketPath" mapstructure:"websocket_path"`
	ReadTimeout    time.Duration `json:"readTimeout" mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `json:"writeTimeout" mapstructure:"write_timeout"`
	DataDir        string        `json:"dataDir" mapstructure:"data_dir"`
	MaxConcurrent  int           `json:"maxConcurrent" mapstructure:"max_concurrent"`
	ProgressEvery  int           `json:"progressEvery" mapstructure:"progress_every"`
	EnableMetrics  bool          `json:"enableMetrics" mapstructure:"enable_metrics"`
	AllowedOrigins []string      `json:"allowedOrigins" mapstructure:"allowed_origins"`
}
