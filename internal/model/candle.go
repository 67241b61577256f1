package model

import (
	"encoding/json"
	"time"
)

// Candle is one OHLC bar for a single instrument. Historical candles are
// immutable once loaded; only the final candle of a series is extended by
// live ticks until its bucket rolls over.
type Candle struct {
	TS     time.Time `json:"ts"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume,omitempty"`
	OI     int64     `json:"oi,omitempty"`
}

// Extend folds a traded price into the candle: close follows the trade,
// high/low widen monotonically.
func (c *Candle) Extend(price float64) {
	c.Close = price
	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// LinePoint is one point of the line-chart series: the traded price at a
// moment in time.
type LinePoint struct {
	TS    time.Time `json:"ts"`
	Value float64   `json:"value"`
}
