// Package feed owns the single shared upstream websocket: the connection
// manager that keeps it alive, the reference-counted subscription registry
// that decides when subscribe/unsubscribe frames go out, and the dispatcher
// that fans inbound ticks out to per-instrument consumers.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultMinBackoff = 3 * time.Second
	defaultMaxBackoff = 60 * time.Second
)

// ErrNotConnected is returned by Send while the upstream socket is down.
// Callers treat it as a deferral signal, not a fatal error.
var ErrNotConnected = errors.New("feed: connection not open")

// ConnectionError wraps a transport failure (dial, read, write). It never
// invalidates already-loaded historical data; sessions surface it as a
// stale flag.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("feed: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Conn manages the one upstream feed websocket for the whole engine. It is
// an explicitly owned, injectable value: construct it, wire the callbacks,
// then call Run. Run dials, pumps inbound frames, and redials with
// exponential backoff and jitter whenever the socket drops.
type Conn struct {
	url    string
	dialer *websocket.Dialer

	mu   sync.Mutex // guards ws
	ws   *websocket.Conn
	wrMu sync.Mutex // serializes writes to ws

	minBackoff time.Duration
	maxBackoff time.Duration

	// Callbacks, set before Run.
	OnFrame func(*Envelope)
	OnUp    func()
	OnDown  func(error)

	// Metrics hook, optional.
	OnReconnect func()
}

// NewConn creates a connection manager for the given feed URL.
func NewConn(url string) *Conn {
	return &Conn{
		url:        url,
		dialer:     websocket.DefaultDialer,
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
	}
}

// IsOpen reports whether the upstream socket is currently established.
func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

// Send marshals v and writes it as a text frame. Returns ErrNotConnected
// while the socket is down, or a ConnectionError on write failure.
func (c *Conn) Send(v interface{}) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("feed: marshal frame: %w", err)
	}

	c.wrMu.Lock()
	err = ws.WriteMessage(websocket.TextMessage, data)
	c.wrMu.Unlock()
	if err != nil {
		return &ConnectionError{Op: "write", Err: err}
	}
	return nil
}

// Run dials the upstream and pumps frames until ctx is cancelled. Each
// drop clears the socket, notifies OnDown, and retries with exponential
// backoff; OnUp fires after every successful (re)dial so the registry can
// resync subscriptions.
func (c *Conn) Run(ctx context.Context) {
	backoff := c.minBackoff
	first := true

	for {
		if ctx.Err() != nil {
			return
		}

		ws, resp, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			status := ""
			if resp != nil {
				status = resp.Status
			}
			log.Printf("[feed] dial %s failed (status=%q): %v", c.url, status, err)
			c.notifyDown(&ConnectionError{Op: "dial", Err: err})
			if !c.sleep(ctx, &backoff) {
				return
			}
			continue
		}

		c.mu.Lock()
		c.ws = ws
		c.mu.Unlock()

		if !first && c.OnReconnect != nil {
			c.OnReconnect()
		}
		first = false
		backoff = c.minBackoff
		log.Printf("[feed] connected to %s", c.url)
		if c.OnUp != nil {
			c.OnUp()
		}

		err = c.readLoop(ctx, ws)

		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		ws.Close()

		if ctx.Err() != nil {
			return
		}
		log.Printf("[feed] connection lost: %v", err)
		c.notifyDown(&ConnectionError{Op: "read", Err: err})
		if !c.sleep(ctx, &backoff) {
			return
		}
	}
}

// Close tears down the current socket, if any. Run's read loop observes
// the close and redials unless its context is done.
func (c *Conn) Close() {
	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()
	if ws != nil {
		ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		ws.Close()
	}
}

func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// Malformed frame: recoverable, skip it.
			log.Printf("[feed] unparsable frame (%d bytes): %v", len(data), err)
			continue
		}
		if c.OnFrame != nil {
			c.OnFrame(&env)
		}
	}
}

func (c *Conn) notifyDown(err error) {
	if c.OnDown != nil {
		c.OnDown(err)
	}
}

// sleep waits for the current backoff (with up to 20% jitter) and doubles
// it, capped at maxBackoff. Returns false if ctx ended first.
func (c *Conn) sleep(ctx context.Context, backoff *time.Duration) bool {
	wait := *backoff + time.Duration(rand.Int63n(int64(*backoff)/5+1))
	*backoff *= 2
	if *backoff > c.maxBackoff {
		*backoff = c.maxBackoff
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(wait):
		return true
	}
}
