package model

import (
	"testing"
	"time"
)

func TestQuoteApplyTick(t *testing.T) {
	q := Quote{
		Symbol:    "RELIANCE",
		LastPrice: 2870.5,
		NetChange: 10.5,
		OHLC:      OHLC{Open: 2860, High: 2880, Low: 2855, Close: 2868},
	}

	ts := time.Date(2024, 6, 3, 10, 15, 0, 0, time.UTC)
	q.ApplyTick(2875.25, ts)

	if q.LastPrice != 2875.25 {
		t.Errorf("LastPrice = %v, want 2875.25", q.LastPrice)
	}
	if q.NetChange != 2875.25-2860 {
		t.Errorf("NetChange = %v, want %v", q.NetChange, 2875.25-2860)
	}
	if !q.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", q.Timestamp, ts)
	}
}

func TestQuoteApplyTick_NoOpen(t *testing.T) {
	// Index quotes may come without an OHLC block; the snapshot net change
	// must survive ticks.
	q := Quote{Symbol: "NIFTY", LastPrice: 23500, NetChange: 120}
	q.ApplyTick(23510, time.Now())

	if q.LastPrice != 23510 {
		t.Errorf("LastPrice = %v", q.LastPrice)
	}
	if q.NetChange != 120 {
		t.Errorf("NetChange changed without a day open: %v", q.NetChange)
	}
}

func TestCandleExtend(t *testing.T) {
	c := Candle{Open: 100, High: 105, Low: 98, Close: 101}

	c.Extend(103)
	if c.Close != 103 || c.High != 105 || c.Low != 98 {
		t.Errorf("after 103: %+v", c)
	}

	c.Extend(106)
	if c.High != 106 || c.Close != 106 {
		t.Errorf("high did not widen: %+v", c)
	}

	c.Extend(97)
	if c.Low != 97 || c.Close != 97 {
		t.Errorf("low did not widen: %+v", c)
	}
	if c.Open != 100 {
		t.Errorf("open must never move: %v", c.Open)
	}
}
