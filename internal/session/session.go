// Package session composes the feed, history, and series layers into the
// per-symbol market data sessions consumed by charts and the gateway.
package session

import (
	"sync"
	"time"

	"finverse/internal/model"
	"finverse/internal/series"
)

// State is the lifecycle position of a session.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateSubscribed
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Session is the externally consumed surface of one viewed symbol: its
// quote, line series, candle series, and error/staleness state. All reads
// return copies; mutation happens only through the manager and the feed
// dispatcher.
type Session struct {
	symbol string

	mu          sync.RWMutex
	state       State
	key         string // canonical instrument key, set once loaded
	quote       model.Quote
	line        *series.LineWindow
	candles     *series.CandleSeries
	synth       *series.Synthesizer
	interval    time.Duration
	droppedRows int
	stale       bool
	err         error

	onApplied func(s *Session, t model.Tick)
}

// Symbol returns the symbol this session was opened for.
func (s *Session) Symbol() string { return s.symbol }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Key returns the canonical instrument key ("" until loaded).
func (s *Session) Key() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key
}

// Quote returns a snapshot of the live quote.
func (s *Session) Quote() model.Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quote
}

// Line returns the line series in chronological order.
func (s *Session) Line() []model.LinePoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.line == nil {
		return nil
	}
	return s.line.Points()
}

// Candles returns the candle series in chronological order.
func (s *Session) Candles() []model.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.candles == nil {
		return nil
	}
	return s.candles.Candles()
}

// DroppedRows returns how many malformed history rows were skipped while
// loading this session.
func (s *Session) DroppedRows() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.droppedRows
}

// Err returns the load error for a session in StateError.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Stale reports whether the feed connection is down. Loaded history stays
// valid; only liveness is degraded.
func (s *Session) Stale() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stale
}

// HandleTick applies one live update. Ticks arriving outside the
// Subscribed state (e.g. racing a teardown) are dropped: they must never
// touch an uninitialized or closed series.
func (s *Session) HandleTick(t model.Tick) {
	s.mu.Lock()
	if s.state != StateSubscribed {
		s.mu.Unlock()
		return
	}
	s.synth.ApplyTick(t)
	cb := s.onApplied
	s.mu.Unlock()

	if cb != nil {
		cb(s, t)
	}
}

func (s *Session) setStale(v bool) {
	s.mu.Lock()
	s.stale = v
	s.mu.Unlock()
}
