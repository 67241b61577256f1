// Package series holds the two chart-facing views of one instrument's
// tick stream: the bounded line-point window and the OHLC candle series,
// plus the synthesizer that keeps both in step with the live quote.
package series

import "finverse/internal/model"

// DefaultWindow is the line-series sliding window size.
const DefaultWindow = 2000

// LineWindow is a bounded FIFO of line points backed by a fixed ring, so
// appends stay O(1) with no reallocation once the window is full. Not
// goroutine-safe; the owning session serializes access.
type LineWindow struct {
	buf   []model.LinePoint
	start int
	count int
}

// NewLineWindow creates a window holding at most capacity points.
// Capacity values < 1 fall back to DefaultWindow.
func NewLineWindow(capacity int) *LineWindow {
	if capacity < 1 {
		capacity = DefaultWindow
	}
	return &LineWindow{buf: make([]model.LinePoint, capacity)}
}

// Append adds p, evicting the oldest point once the window is full.
func (w *LineWindow) Append(p model.LinePoint) {
	if w.count < len(w.buf) {
		w.buf[(w.start+w.count)%len(w.buf)] = p
		w.count++
		return
	}
	w.buf[w.start] = p
	w.start = (w.start + 1) % len(w.buf)
}

// Load seeds the window from a chronological slice, keeping only the most
// recent capacity points.
func (w *LineWindow) Load(points []model.LinePoint) {
	w.start, w.count = 0, 0
	if len(points) > len(w.buf) {
		points = points[len(points)-len(w.buf):]
	}
	w.count = copy(w.buf, points)
}

// Len returns the number of points currently held.
func (w *LineWindow) Len() int { return w.count }

// Cap returns the window capacity.
func (w *LineWindow) Cap() int { return len(w.buf) }

// Points returns the window contents in chronological order. The result
// is a copy and safe to hold across later appends.
func (w *LineWindow) Points() []model.LinePoint {
	out := make([]model.LinePoint, w.count)
	for i := 0; i < w.count; i++ {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}
