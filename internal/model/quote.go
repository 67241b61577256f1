package model

import "time"

// OHLC is the day open/high/low/close block of a quote snapshot.
type OHLC struct {
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// Quote is the live quote state for one instrument. It is populated from
// the snapshot endpoint and then mutated in place by ticks.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Name      string    `json:"name"`
	LastPrice float64   `json:"last_price"`
	NetChange float64   `json:"net_change"`
	OHLC      OHLC      `json:"ohlc"`
	Timestamp time.Time `json:"timestamp"`
}

// ApplyTick folds a last-traded-price update into the quote. NetChange is
// recomputed against the day open when the open is known, otherwise left
// as the snapshot value.
func (q *Quote) ApplyTick(ltp float64, ts time.Time) {
	q.LastPrice = ltp
	q.Timestamp = ts
	if q.OHLC.Open != 0 {
		q.NetChange = ltp - q.OHLC.Open
	}
}
