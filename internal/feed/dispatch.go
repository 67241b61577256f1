package feed

import (
	"sync"
	"time"

	"finverse/internal/model"
)

// TickHandler consumes ticks for one instrument key.
type TickHandler interface {
	HandleTick(model.Tick)
}

// Dispatcher fans inbound envelopes out by instrument key. Lookup is a
// map hit per payload key, not a scan over consumers, so dispatch stays
// O(1) per tick as the number of concurrently viewed instruments grows.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]map[TickHandler]struct{} // canonical key → handlers
	taps     []func(*Envelope)

	// Metrics hook, optional: called once per dispatched tick.
	OnTick func()
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]map[TickHandler]struct{}),
	}
}

// Attach binds h to ticks for key (any textual form).
func (d *Dispatcher) Attach(key string, h TickHandler) {
	k := model.NormalizeKey(key)
	d.mu.Lock()
	set, ok := d.handlers[k]
	if !ok {
		set = make(map[TickHandler]struct{})
		d.handlers[k] = set
	}
	set[h] = struct{}{}
	d.mu.Unlock()
}

// Detach unbinds h from key. Detaching an unknown pair is a no-op.
func (d *Dispatcher) Detach(key string, h TickHandler) {
	k := model.NormalizeKey(key)
	d.mu.Lock()
	if set, ok := d.handlers[k]; ok {
		delete(set, h)
		if len(set) == 0 {
			delete(d.handlers, k)
		}
	}
	d.mu.Unlock()
}

// Tap registers a callback that sees every inbound envelope before
// per-key dispatch. Used by the gateway to re-broadcast raw feeds.
func (d *Dispatcher) Tap(fn func(*Envelope)) {
	d.mu.Lock()
	d.taps = append(d.taps, fn)
	d.mu.Unlock()
}

// HandleFrame routes one envelope: each feeds entry that carries a last
// traded price becomes a tick delivered to the handlers of that key.
// Payload keys are normalized before lookup, so pipe- and colon-delimited
// forms resolve to the same handlers.
func (d *Dispatcher) HandleFrame(env *Envelope) {
	d.mu.RLock()
	taps := d.taps
	d.mu.RUnlock()
	for _, tap := range taps {
		tap(env)
	}

	if len(env.Feeds) == 0 {
		return
	}

	for rawKey, entry := range env.Feeds {
		if entry.LTPC.LTP == nil {
			continue
		}

		tick := model.Tick{
			Key: model.NormalizeKey(rawKey),
			LTP: *entry.LTPC.LTP,
			TS:  tickTime(entry.LTPC.LTT, env.CurrentTS),
		}

		d.mu.RLock()
		set := d.handlers[tick.Key]
		targets := make([]TickHandler, 0, len(set))
		for h := range set {
			targets = append(targets, h)
		}
		d.mu.RUnlock()

		for _, h := range targets {
			h.HandleTick(tick)
		}
		if len(targets) > 0 && d.OnTick != nil {
			d.OnTick()
		}
	}
}

// tickTime prefers the trade time, then the envelope time, then now.
func tickTime(lttMillis, currentMillis int64) time.Time {
	switch {
	case lttMillis > 0:
		return time.UnixMilli(lttMillis).UTC()
	case currentMillis > 0:
		return time.UnixMilli(currentMillis).UTC()
	default:
		return time.Now().UTC()
	}
}
