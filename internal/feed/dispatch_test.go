package feed

import (
	"sync"
	"testing"
	"time"

	"finverse/internal/model"
)

type recordingHandler struct {
	mu    sync.Mutex
	ticks []model.Tick
}

func (h *recordingHandler) HandleTick(t model.Tick) {
	h.mu.Lock()
	h.ticks = append(h.ticks, t)
	h.mu.Unlock()
}

func (h *recordingHandler) got() []model.Tick {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]model.Tick, len(h.ticks))
	copy(out, h.ticks)
	return out
}

func ltpEnvelope(ts int64, feeds map[string]float64) *Envelope {
	env := &Envelope{Type: "live_feed", CurrentTS: ts, Feeds: map[string]FeedEntry{}}
	for k, v := range feeds {
		price := v
		env.Feeds[k] = FeedEntry{LTPC: LTPC{LTP: &price, LTT: ts}}
	}
	return env
}

func TestDispatcherKeyIsolation(t *testing.T) {
	d := NewDispatcher()
	a := &recordingHandler{}
	b := &recordingHandler{}
	d.Attach("NSE_EQ:A", a)
	d.Attach("NSE_EQ:B", b)

	d.HandleFrame(ltpEnvelope(1700000000000, map[string]float64{
		"NSE_EQ:A": 101,
		"NSE_EQ:B": 202,
	}))

	if ticks := a.got(); len(ticks) != 1 || ticks[0].LTP != 101 {
		t.Errorf("handler A got %v", ticks)
	}
	if ticks := b.got(); len(ticks) != 1 || ticks[0].LTP != 202 {
		t.Errorf("handler B got %v", ticks)
	}
}

func TestDispatcherKeyFormMismatch(t *testing.T) {
	// Attached with the colon form, payload arrives in the pipe form.
	d := NewDispatcher()
	h := &recordingHandler{}
	d.Attach("NSE_EQ:INE002A01018", h)

	d.HandleFrame(ltpEnvelope(1700000000000, map[string]float64{
		"NSE_EQ|INE002A01018": 2875.5,
	}))

	ticks := h.got()
	if len(ticks) != 1 {
		t.Fatalf("ticks = %v", ticks)
	}
	if ticks[0].Key != "NSE_EQ:INE002A01018" {
		t.Errorf("tick key not canonical: %q", ticks[0].Key)
	}
}

func TestDispatcherSkipsEntriesWithoutPrice(t *testing.T) {
	d := NewDispatcher()
	h := &recordingHandler{}
	d.Attach("NSE_EQ:A", h)

	env := &Envelope{
		Type:      "live_feed",
		CurrentTS: 1700000000000,
		Feeds: map[string]FeedEntry{
			"NSE_EQ:A": {LTPC: LTPC{LTP: nil, LTT: 1700000000000}},
		},
	}
	d.HandleFrame(env)

	if ticks := h.got(); len(ticks) != 0 {
		t.Errorf("price-less entry dispatched: %v", ticks)
	}
}

func TestDispatcherDetach(t *testing.T) {
	d := NewDispatcher()
	h := &recordingHandler{}
	d.Attach("NSE_EQ:A", h)
	d.Detach("NSE_EQ:A", h)

	d.HandleFrame(ltpEnvelope(1700000000000, map[string]float64{"NSE_EQ:A": 101}))
	if ticks := h.got(); len(ticks) != 0 {
		t.Errorf("detached handler got %v", ticks)
	}

	// Detaching again, or a never-attached pair, is a no-op.
	d.Detach("NSE_EQ:A", h)
	d.Detach("NSE_EQ:ZZZ", h)
}

func TestDispatcherTapSeesEveryEnvelope(t *testing.T) {
	d := NewDispatcher()
	var mu sync.Mutex
	var tapped int
	d.Tap(func(env *Envelope) {
		mu.Lock()
		tapped++
		mu.Unlock()
	})

	// Taps fire even with no handlers attached.
	d.HandleFrame(ltpEnvelope(1700000000000, map[string]float64{"NSE_EQ:A": 101}))
	d.HandleFrame(&Envelope{Type: "live_feed"})

	mu.Lock()
	defer mu.Unlock()
	if tapped != 2 {
		t.Errorf("tapped = %d, want 2", tapped)
	}
}

func TestTickTime(t *testing.T) {
	ltt := int64(1700000000123)
	got := tickTime(ltt, 1700000005000)
	if got.UnixMilli() != ltt {
		t.Errorf("trade time ignored: %v", got)
	}

	got = tickTime(0, 1700000005000)
	if got.UnixMilli() != 1700000005000 {
		t.Errorf("envelope time ignored: %v", got)
	}

	before := time.Now().Add(-time.Second)
	got = tickTime(0, 0)
	if got.Before(before) {
		t.Errorf("fallback time too old: %v", got)
	}
}
