package feed

import (
	"log"
	"sync"

	"finverse/internal/model"
)

// Sender is the slice of the connection manager the registry needs.
type Sender interface {
	Send(v interface{}) error
	IsOpen() bool
}

// Registry reference-counts per-instrument subscriptions. A subscribe
// frame goes out only on the 0→1 transition of a key's refcount and an
// unsubscribe only on 1→0, so a key is subscribed on the wire at most once
// regardless of how many consumers hold it.
//
// While the connection is down, 0→1 subscribes are deferred: Resync,
// called from the connection's OnUp hook, replays every active key. A 1→0
// transition while down sends nothing — the server-side subscription
// lapses with the connection.
type Registry struct {
	conn Sender

	mu     sync.Mutex
	counts map[string]int // canonical key → refcount

	// Serializes control-frame emission so frames leave in transition
	// order. On transitions it is taken while still holding mu (lock
	// order mu→sendMu), then mu is dropped before the write.
	sendMu sync.Mutex

	// Metrics hook, optional: called with FrameSubscribe/FrameUnsubscribe
	// after a control frame is sent.
	OnFrameSent func(frameType string)
}

// NewRegistry creates a registry that emits control frames on conn.
func NewRegistry(conn Sender) *Registry {
	return &Registry{
		conn:   conn,
		counts: make(map[string]int),
	}
}

// Acquire registers interest in key, subscribing on the wire if this is
// the first consumer.
func (r *Registry) Acquire(key string) {
	k := model.NormalizeKey(key)

	r.mu.Lock()
	r.counts[k]++
	if r.counts[k] != 1 {
		r.mu.Unlock()
		return
	}
	r.sendMu.Lock()
	r.mu.Unlock()
	defer r.sendMu.Unlock()

	r.sendControl(FrameSubscribe, k)
}

// Release drops one consumer's interest in key, unsubscribing on the wire
// when the last consumer leaves. Releasing a key that is not held is a
// logged no-op, never fatal.
func (r *Registry) Release(key string) {
	k := model.NormalizeKey(key)

	r.mu.Lock()
	n, ok := r.counts[k]
	if !ok || n <= 0 {
		r.mu.Unlock()
		log.Printf("[subs] release of unheld key %s ignored", k)
		return
	}
	n--
	if n > 0 {
		r.counts[k] = n
		r.mu.Unlock()
		return
	}
	delete(r.counts, k)
	r.sendMu.Lock()
	r.mu.Unlock()
	defer r.sendMu.Unlock()

	// Only bother the wire if it is up; a dropped connection already
	// lapsed the server-side subscription.
	if !r.conn.IsOpen() {
		return
	}
	r.sendControl(FrameUnsubscribe, k)
}

// Resync re-subscribes every active key. Wired to the connection's OnUp
// hook so deferred and lapsed subscriptions fire exactly once per
// (re)connect.
func (r *Registry) Resync() {
	keys := r.ActiveKeys()
	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	for _, k := range keys {
		r.sendControl(FrameSubscribe, k)
	}
}

// ActiveKeys returns the canonical keys with refcount > 0.
func (r *Registry) ActiveKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.counts))
	for k := range r.counts {
		keys = append(keys, k)
	}
	return keys
}

// Count returns the current refcount for key (0 if not held).
func (r *Registry) Count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[model.NormalizeKey(key)]
}

func (r *Registry) sendControl(frameType, canonicalKey string) {
	frame := ControlFrame{Type: frameType, Key: model.PipeKey(canonicalKey)}
	if err := r.conn.Send(frame); err != nil {
		// Deferred: Resync replays active keys once the socket is back.
		log.Printf("[subs] %s %s not sent: %v", frameType, canonicalKey, err)
		return
	}
	if r.OnFrameSent != nil {
		r.OnFrameSent(frameType)
	}
}
