package series

import "finverse/internal/model"

// Synthesizer merges one instrument's tick stream into its quote, line
// window, and candle series, keeping all three derived from the identical
// stream. Not goroutine-safe; the owning session serializes ApplyTick.
type Synthesizer struct {
	quote   *model.Quote
	line    *LineWindow
	candles *CandleSeries
}

// NewSynthesizer binds the three views to one tick stream.
func NewSynthesizer(quote *model.Quote, line *LineWindow, candles *CandleSeries) *Synthesizer {
	return &Synthesizer{quote: quote, line: line, candles: candles}
}

// ApplyTick applies one live update: quote last price and net change,
// line point append with window trim, and last-candle extension or roll.
func (s *Synthesizer) ApplyTick(t model.Tick) {
	s.quote.ApplyTick(t.LTP, t.TS)
	s.line.Append(model.LinePoint{TS: t.TS, Value: t.LTP})
	s.candles.Apply(t.LTP, t.TS)
}
