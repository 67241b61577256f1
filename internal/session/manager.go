package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"finverse/internal/feed"
	"finverse/internal/history"
	"finverse/internal/logger"
	"finverse/internal/model"
	"finverse/internal/series"
)

const updateBuffer = 1024

// Update is one applied tick, fanned out to downstream sinks (gateway
// status, Redis publisher).
type Update struct {
	Key    string
	Tick   model.Tick
	Quote  model.Quote
	Candle model.Candle // last candle after the tick, zero if series empty
}

// Manager opens and tears down sessions, binding each loaded session to
// the shared feed. A session is attached to the dispatcher and acquired
// in the registry only after its history is fully populated, so a live
// tick can never reach an uninitialized series.
type Manager struct {
	loader   *history.Loader
	registry *feed.Registry
	dispatch *feed.Dispatcher
	window   int

	mu       sync.Mutex
	sessions map[*Session]struct{}

	updates chan Update
}

// NewManager wires the session layer. window is the line-series sliding
// window size (<= 0 means series.DefaultWindow).
func NewManager(loader *history.Loader, registry *feed.Registry, dispatch *feed.Dispatcher, window int) *Manager {
	return &Manager{
		loader:   loader,
		registry: registry,
		dispatch: dispatch,
		window:   window,
		sessions: make(map[*Session]struct{}),
		updates:  make(chan Update, updateBuffer),
	}
}

// Updates returns the stream of applied ticks. Slow consumers drop
// updates rather than stall the feed path.
func (m *Manager) Updates() <-chan Update { return m.updates }

// Open loads and subscribes a session for symbol. On load failure the
// returned session is in StateError with the cause retained; it stays
// queryable but receives no ticks, and the caller may simply Open again
// to retry.
func (m *Manager) Open(ctx context.Context, symbol string) (*Session, error) {
	s := &Session{symbol: symbol, state: StateLoading}

	// One load ID per attempt correlates the log lines of this snapshot
	// load across the session and history packages.
	ctx = logger.WithLoadID(ctx, logger.NewLoadID(symbol, time.Now()))

	res, err := m.loader.Load(ctx, symbol)
	if err != nil {
		s.mu.Lock()
		s.state = StateError
		s.err = err
		s.mu.Unlock()
		slog.Error("session load failed",
			append(logger.WithLoad(ctx), "symbol", symbol, "error", err)...)
		return s, err
	}

	line := series.NewLineWindow(m.window)
	line.Load(res.Line)
	candles := series.NewCandleSeries(res.Candles, res.Interval)

	s.mu.Lock()
	s.key = res.InstrumentKey
	s.quote = res.Quote
	s.line = line
	s.candles = candles
	s.synth = series.NewSynthesizer(&s.quote, line, candles)
	s.interval = res.Interval
	s.droppedRows = res.DroppedRows
	s.state = StateSubscribed
	s.onApplied = m.publish
	s.mu.Unlock()

	m.mu.Lock()
	m.sessions[s] = struct{}{}
	m.mu.Unlock()

	// Populated first, attached second: ticks only flow to a ready session.
	m.dispatch.Attach(res.InstrumentKey, s)
	m.registry.Acquire(res.InstrumentKey)

	slog.Info("session subscribed",
		append(logger.WithLoad(ctx),
			"symbol", symbol, "key", res.InstrumentKey,
			"candles", candles.Len(), "dropped", res.DroppedRows)...)
	return s, nil
}

// Close releases the session's subscription and detaches it from the
// feed. Closing an unloaded or already-closed session is a no-op.
func (m *Manager) Close(s *Session) {
	if s == nil {
		return
	}

	s.mu.Lock()
	wasSubscribed := s.state == StateSubscribed
	key := s.key
	s.state = StateClosed
	s.onApplied = nil
	s.mu.Unlock()

	if wasSubscribed {
		// Detach before release: no tick may land after teardown begins.
		m.dispatch.Detach(key, s)
		m.registry.Release(key)
	}

	m.mu.Lock()
	delete(m.sessions, s)
	m.mu.Unlock()
}

// SetStale marks every active session degraded (feed down) or live again.
// Wired to the connection's OnDown/OnUp hooks.
func (m *Manager) SetStale(v bool) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.setStale(v)
	}
}

// ActiveCount returns the number of live (loaded, unclosed) sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) publish(s *Session, t model.Tick) {
	s.mu.RLock()
	u := Update{Key: s.key, Tick: t, Quote: s.quote}
	if c, ok := s.candles.Last(); ok {
		u.Candle = c
	}
	s.mu.RUnlock()

	select {
	case m.updates <- u:
	default:
		// Sinks are advisory; never stall the tick path.
	}
}
