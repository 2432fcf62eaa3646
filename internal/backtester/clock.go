// Package backtester implements the wheel-strategy backtesting engine.
package backtester

import (
	"time"

	"github.com/adrianolucasdepaula/invest-sub001/internal/marketdata"
)

// BusinessDays returns the ordered business days (Mon-Fri, UTC midnight) in
// [start, end], inclusive of both endpoints. Exchange holidays are not
// excluded; a holiday table would have to be supplied externally.
func BusinessDays(start, end time.Time) []time.Time {
	start = marketdata.Midnight(start)
	end = marketdata.Midnight(end)
	if end.Before(start) {
		return nil
	}

	days := make([]time.Time, 0, int(end.Sub(start).Hours()/24)+1)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		switch d.Weekday() {
		case time.Saturday, time.Sunday:
			continue
		default:
			days = append(days, d)
		}
	}
	return days
}
