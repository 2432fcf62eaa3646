package marketdata

import (
	"context"
	"fmt"
	"time"
)

// Provider supplies historical data for an asset and date range. Series are
// returned date-ascending and filtered to [start, end]. Providers are
// read-only and safe for concurrent use across runs.
type Provider interface {
	Load(ctx context.Context, assetID string, start, end time.Time) (*HistoricalData, error)
}

// StaticProvider serves a fixed in-memory dataset per asset. Used by tests
// and by the server's sample mode.
type StaticProvider struct {
	assets map[string]*HistoricalData
}

// NewStaticProvider creates an empty static provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{assets: make(map[string]*HistoricalData)}
}

// Add registers a dataset for an asset, replacing any previous one.
func (p *StaticProvider) Add(data *HistoricalData) {
	p.assets[data.AssetID] = data
}

// Load returns the registered dataset filtered to [start, end].
func (p *StaticProvider) Load(_ context.Context, assetID string, start, end time.Time) (*HistoricalData, error) {
	data, ok := p.assets[assetID]
	if !ok {
		return nil, fmt.Errorf("unknown asset %q", assetID)
	}
	return filterRange(data, start, end), nil
}

func filterRange(data *HistoricalData, start, end time.Time) *HistoricalData {
	start, end = Midnight(start), Midnight(end)
	in := func(d time.Time) bool {
		d = Midnight(d)
		return !d.Before(start) && !d.After(end)
	}

	out := &HistoricalData{AssetID: data.AssetID}
	for _, p := range data.Prices {
		if in(p.Date) {
			out.Prices = append(out.Prices, p)
		}
	}
	for _, o := range data.Options {
		if in(o.Date) {
			out.Options = append(out.Options, o)
		}
	}
	for _, d := range data.Dividends {
		if in(d.ExDate) {
			out.Dividends = append(out.Dividends, d)
		}
	}
	for _, r := range data.LendingRates {
		if in(r.Date) {
			out.LendingRates = append(out.LendingRates, r)
		}
	}
	out.buildIndexes()
	return out
}
