package series

import (
	"time"

	"finverse/internal/model"
)

// CandleSeries is the OHLC view of one instrument: an immutable
// historical prefix plus a final candle that live ticks extend in place.
// When the bar interval is known (inferred from history spacing), a tick
// past the current bucket boundary rolls a fresh candle instead of
// stretching the last one indefinitely. With an unknown interval every
// tick extends the last candle. Not goroutine-safe.
type CandleSeries struct {
	candles  []model.Candle
	interval time.Duration
}

// NewCandleSeries wraps a chronological candle slice. interval 0 disables
// bucket rolling.
func NewCandleSeries(candles []model.Candle, interval time.Duration) *CandleSeries {
	return &CandleSeries{candles: candles, interval: interval}
}

// Apply folds a traded price into the series. Returns false when the
// series is empty: no candle is synthesized from ticks alone, since there
// is no bucket to anchor one to.
func (s *CandleSeries) Apply(price float64, ts time.Time) bool {
	if len(s.candles) == 0 {
		return false
	}

	last := &s.candles[len(s.candles)-1]
	if s.interval > 0 && !ts.Before(last.TS.Add(s.interval)) {
		// Bucket rollover: freeze the last candle and open a new one
		// aligned to the interval grid.
		n := ts.Sub(last.TS) / s.interval
		bucket := last.TS.Add(n * s.interval)
		s.candles = append(s.candles, model.Candle{
			TS:    bucket,
			Open:  price,
			High:  price,
			Low:   price,
			Close: price,
		})
		return true
	}

	last.Extend(price)
	return true
}

// Len returns the number of candles.
func (s *CandleSeries) Len() int { return len(s.candles) }

// Last returns the most recent candle, if any.
func (s *CandleSeries) Last() (model.Candle, bool) {
	if len(s.candles) == 0 {
		return model.Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}

// Candles returns a copy of the series in chronological order.
func (s *CandleSeries) Candles() []model.Candle {
	out := make([]model.Candle, len(s.candles))
	copy(out, s.candles)
	return out
}
