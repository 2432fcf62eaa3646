// Package marketdata provides historical market data loading for backtests.
package marketdata

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PriceBar is a single daily close for the underlying asset.
type PriceBar struct {
	Date  time.Time       `json:"date"`
	Close decimal.Decimal `json:"close"`
}

// OptionSnapshot is one quoted option contract from a chain snapshot.
// Snapshots are loaded and carried alongside the price series; the position
// opening heuristic does not consult them (pending a product decision on
// whether quoted strikes/premiums should replace the estimate).
type OptionSnapshot struct {
	Date       time.Time       `json:"date"`
	Expiration time.Time       `json:"expiration"`
	Strike     decimal.Decimal `json:"strike"`
	Premium    decimal.Decimal `json:"premium"`
	Delta      decimal.Decimal `json:"delta"`
	IsCall     bool            `json:"isCall"`
}

// DividendEvent is an ex-dividend date with its per-share amount.
type DividendEvent struct {
	ExDate         time.Time       `json:"exDate"`
	PerShareAmount decimal.Decimal `json:"perShareAmount"`
}

// LendingRate is a stock-lending rate quote, in percent per year.
type LendingRate struct {
	Date          time.Time       `json:"date"`
	AnnualRatePct decimal.Decimal `json:"annualRatePct"`
}

// HistoricalData bundles everything the simulation needs for one asset and
// date range. All series are ordered by date ascending.
type HistoricalData struct {
	AssetID      string           `json:"assetId"`
	Prices       []PriceBar       `json:"prices"`
	Options      []OptionSnapshot `json:"options"`
	Dividends    []DividendEvent  `json:"dividends"`
	LendingRates []LendingRate    `json:"lendingRates"`

	priceIndex    *PriceIndex
	dividendIndex map[time.Time]decimal.Decimal
	lendingIndex  map[time.Time]decimal.Decimal
}

// NewHistoricalData sorts the series and builds the date indexes.
func NewHistoricalData(assetID string, prices []PriceBar, options []OptionSnapshot, dividends []DividendEvent, rates []LendingRate) *HistoricalData {
	h := &HistoricalData{
		AssetID:      assetID,
		Prices:       prices,
		Options:      options,
		Dividends:    dividends,
		LendingRates: rates,
	}
	h.buildIndexes()
	return h
}

func (h *HistoricalData) buildIndexes() {
	sort.Slice(h.Prices, func(i, j int) bool { return h.Prices[i].Date.Before(h.Prices[j].Date) })
	sort.Slice(h.Options, func(i, j int) bool { return h.Options[i].Date.Before(h.Options[j].Date) })
	sort.Slice(h.Dividends, func(i, j int) bool { return h.Dividends[i].ExDate.Before(h.Dividends[j].ExDate) })
	sort.Slice(h.LendingRates, func(i, j int) bool { return h.LendingRates[i].Date.Before(h.LendingRates[j].Date) })

	h.priceIndex = NewPriceIndex(h.Prices)

	h.dividendIndex = make(map[time.Time]decimal.Decimal, len(h.Dividends))
	for _, d := range h.Dividends {
		h.dividendIndex[Midnight(d.ExDate)] = d.PerShareAmount
	}
	h.lendingIndex = make(map[time.Time]decimal.Decimal, len(h.LendingRates))
	for _, r := range h.LendingRates {
		h.lendingIndex[Midnight(r.Date)] = r.AnnualRatePct
	}
}

// Close returns the close price quoted exactly on date.
func (h *HistoricalData) Close(date time.Time) (decimal.Decimal, bool) {
	return h.priceIndex.Close(date)
}

// CloseOnOrBefore returns the most recent close on or before date.
func (h *HistoricalData) CloseOnOrBefore(date time.Time) (decimal.Decimal, bool) {
	return h.priceIndex.CloseOnOrBefore(date)
}

// Dividend returns the per-share dividend going ex on date, if any.
func (h *HistoricalData) Dividend(date time.Time) (decimal.Decimal, bool) {
	amt, ok := h.dividendIndex[Midnight(date)]
	return amt, ok
}

// LendingRateOn returns the annual lending rate (percent) quoted on date.
func (h *HistoricalData) LendingRateOn(date time.Time) (decimal.Decimal, bool) {
	rate, ok := h.lendingIndex[Midnight(date)]
	return rate, ok
}

// PriceIndex is a typed, ordered date index over daily closes. Lookups are
// binary searches over the sorted date slice, never string-keyed maps.
type PriceIndex struct {
	dates  []time.Time
	closes []decimal.Decimal
}

// NewPriceIndex builds an index from date-ascending bars.
func NewPriceIndex(bars []PriceBar) *PriceIndex {
	idx := &PriceIndex{
		dates:  make([]time.Time, len(bars)),
		closes: make([]decimal.Decimal, len(bars)),
	}
	for i, b := range bars {
		idx.dates[i] = Midnight(b.Date)
		idx.closes[i] = b.Close
	}
	return idx
}

// Len returns the number of indexed bars.
func (idx *PriceIndex) Len() int { return len(idx.dates) }

// Close returns the close quoted exactly on date.
func (idx *PriceIndex) Close(date time.Time) (decimal.Decimal, bool) {
	d := Midnight(date)
	i := sort.Search(len(idx.dates), func(i int) bool { return !idx.dates[i].Before(d) })
	if i < len(idx.dates) && idx.dates[i].Equal(d) {
		return idx.closes[i], true
	}
	return decimal.Zero, false
}

// CloseOnOrBefore returns the most recent close on or before date.
func (idx *PriceIndex) CloseOnOrBefore(date time.Time) (decimal.Decimal, bool) {
	d := Midnight(date)
	i := sort.Search(len(idx.dates), func(i int) bool { return idx.dates[i].After(d) })
	if i == 0 {
		return decimal.Zero, false
	}
	return idx.closes[i-1], true
}

// Midnight truncates a timestamp to its UTC calendar date.
func Midnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
