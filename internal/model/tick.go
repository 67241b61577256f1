package model

import "time"

// Tick is a single live price update for one instrument, extracted from a
// live_feed envelope. Key is the canonical colon form.
type Tick struct {
	Key string    `json:"key"`
	LTP float64   `json:"ltp"`
	TS  time.Time `json:"ts"`
}
