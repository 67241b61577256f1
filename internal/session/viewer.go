package session

import (
	"context"
	"errors"
	"sync"
)

// ErrStaleLoad is returned by SetSymbol when the viewer switched symbols
// again before the load finished; the late result is discarded.
var ErrStaleLoad = errors.New("session: symbol changed during load")

// Viewer is one chart slot. It views a single symbol at a time: switching
// tears the current session down strictly before the next one starts
// loading, and a per-load generation token guarantees that a response for
// an abandoned load can never become the viewer's current session.
type Viewer struct {
	mgr *Manager

	mu  sync.Mutex
	gen uint64
	cur *Session
}

// NewViewer creates a viewer bound to mgr, initially idle.
func NewViewer(mgr *Manager) *Viewer {
	return &Viewer{mgr: mgr}
}

// Current returns the session being viewed, or nil when idle.
func (v *Viewer) Current() *Session {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cur
}

// SetSymbol switches the viewer to symbol: teardown of the current
// session, then load + subscribe of the new one. If another SetSymbol
// lands while this load is in flight, the late result is fully discarded
// (closed if it subscribed) and ErrStaleLoad is returned.
func (v *Viewer) SetSymbol(ctx context.Context, symbol string) (*Session, error) {
	v.mu.Lock()
	v.gen++
	gen := v.gen
	old := v.cur
	v.cur = nil
	v.mu.Unlock()

	if old != nil {
		v.mgr.Close(old)
	}

	s, err := v.mgr.Open(ctx, symbol)

	v.mu.Lock()
	if v.gen != gen {
		v.mu.Unlock()
		if err == nil {
			v.mgr.Close(s)
		}
		return nil, ErrStaleLoad
	}
	v.cur = s
	v.mu.Unlock()
	return s, err
}

// Close tears down the current session, leaving the viewer idle.
func (v *Viewer) Close() {
	v.mu.Lock()
	v.gen++
	old := v.cur
	v.cur = nil
	v.mu.Unlock()
	if old != nil {
		v.mgr.Close(old)
	}
}
