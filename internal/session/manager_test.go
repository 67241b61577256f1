package session

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"finverse/internal/feed"
	"finverse/internal/history"
)

// fakeSender satisfies feed.Sender for registry wiring in tests.
type fakeSender struct {
	mu     sync.Mutex
	open   bool
	frames []feed.ControlFrame
}

func (f *fakeSender) Send(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return feed.ErrNotConnected
	}
	f.frames = append(f.frames, v.(feed.ControlFrame))
	return nil
}

func (f *fakeSender) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeSender) sent() []feed.ControlFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]feed.ControlFrame, len(f.frames))
	copy(out, f.frames)
	return out
}

const quoteBody = `{
	"symbol": "RELIANCE",
	"name": "Reliance Industries",
	"last_price": 2875.5,
	"net_change": 15.5,
	"ohlc": {"open": 2860, "high": 2880, "low": 2855, "close": 2868},
	"timestamp": "2024-06-03T10:15:00+05:30"
}`

const historyBody = `{
	"instrument_key": "NSE_EQ|INE002A01018",
	"candles": [
		["2024-06-03T09:16:00+05:30", 101, 103, 100, 102],
		["2024-06-03T09:15:00+05:30", 100, 105, 98, 101]
	]
}`

// testStack builds a manager against an httptest upstream, optionally
// delaying history responses.
func testStack(t *testing.T, historyDelay time.Duration) (*Manager, *feed.Dispatcher, *fakeSender, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/quote/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(quoteBody))
	})
	mux.HandleFunc("/api/history/", func(w http.ResponseWriter, r *http.Request) {
		if historyDelay > 0 {
			time.Sleep(historyDelay)
		}
		w.Write([]byte(historyBody))
	})
	srv := httptest.NewServer(mux)

	conn := &fakeSender{open: true}
	registry := feed.NewRegistry(conn)
	dispatch := feed.NewDispatcher()
	loader := history.NewLoader(srv.URL, 5*time.Second)
	return NewManager(loader, registry, dispatch, 100), dispatch, conn, srv
}

func envelope(key string, price float64, tsMillis int64) *feed.Envelope {
	p := price
	return &feed.Envelope{
		Type:      "live_feed",
		CurrentTS: tsMillis,
		Feeds:     map[string]feed.FeedEntry{key: {LTPC: feed.LTPC{LTP: &p, LTT: tsMillis}}},
	}
}

func TestManagerOpenClose(t *testing.T) {
	mgr, dispatch, conn, srv := testStack(t, 0)
	defer srv.Close()

	s, err := mgr.Open(context.Background(), "RELIANCE")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.State() != StateSubscribed {
		t.Fatalf("state = %v", s.State())
	}
	if s.Key() != "NSE_EQ:INE002A01018" {
		t.Errorf("key = %q", s.Key())
	}
	if len(s.Candles()) != 2 || len(s.Line()) != 2 {
		t.Errorf("candles=%d line=%d", len(s.Candles()), len(s.Line()))
	}
	if mgr.ActiveCount() != 1 {
		t.Errorf("ActiveCount = %d", mgr.ActiveCount())
	}

	// A live tick flows into the session.
	dispatch.HandleFrame(envelope("NSE_EQ|INE002A01018", 103, time.Now().UnixMilli()))
	if q := s.Quote(); q.LastPrice != 103 {
		t.Errorf("quote after tick = %+v", q)
	}
	last := s.Candles()[len(s.Candles())-1]
	if last.Close != 103 {
		t.Errorf("last candle = %+v", last)
	}

	mgr.Close(s)
	if s.State() != StateClosed {
		t.Errorf("state after close = %v", s.State())
	}
	if mgr.ActiveCount() != 0 {
		t.Errorf("ActiveCount after close = %d", mgr.ActiveCount())
	}

	frames := conn.sent()
	if len(frames) != 2 || frames[0].Type != feed.FrameSubscribe || frames[1].Type != feed.FrameUnsubscribe {
		t.Errorf("frames = %v", frames)
	}

	// Closing again is a no-op.
	mgr.Close(s)
	if got := conn.sent(); len(got) != 2 {
		t.Errorf("double close sent frames: %v", got)
	}
}

func TestManagerOpenCorrelatesLoadID(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	mgr, _, _, srv := testStack(t, 0)
	defer srv.Close()

	s, err := mgr.Open(context.Background(), "RELIANCE")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer mgr.Close(s)

	// Each load mints a {symbol}-{nanos} ID and stamps its log lines with
	// it so one snapshot load can be traced end to end.
	if out := buf.String(); !strings.Contains(out, `"load_id":"RELIANCE-`) {
		t.Errorf("load log lines missing load_id: %s", out)
	}
}

func TestManagerTickAfterCloseDropped(t *testing.T) {
	mgr, dispatch, _, srv := testStack(t, 0)
	defer srv.Close()

	s, err := mgr.Open(context.Background(), "RELIANCE")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mgr.Close(s)

	before := s.Quote()
	dispatch.HandleFrame(envelope("NSE_EQ|INE002A01018", 999, time.Now().UnixMilli()))
	if after := s.Quote(); after.LastPrice != before.LastPrice {
		t.Errorf("tick mutated a closed session: %v -> %v", before.LastPrice, after.LastPrice)
	}
}

func TestManagerLoadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"boom"}`, http.StatusBadGateway)
	}))
	defer srv.Close()

	conn := &fakeSender{open: true}
	mgr := NewManager(history.NewLoader(srv.URL, 5*time.Second), feed.NewRegistry(conn), feed.NewDispatcher(), 100)

	s, err := mgr.Open(context.Background(), "RELIANCE")
	if err == nil {
		t.Fatal("expected load error")
	}
	if s.State() != StateError {
		t.Errorf("state = %v", s.State())
	}
	if s.Err() == nil {
		t.Error("error not retained on session")
	}
	// Nothing was subscribed and nothing is tracked.
	if len(conn.sent()) != 0 {
		t.Errorf("frames = %v", conn.sent())
	}
	if mgr.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d", mgr.ActiveCount())
	}
}

func TestManagerSharedKeyRefcount(t *testing.T) {
	mgr, _, conn, srv := testStack(t, 0)
	defer srv.Close()

	a, err := mgr.Open(context.Background(), "RELIANCE")
	if err != nil {
		t.Fatal(err)
	}
	b, err := mgr.Open(context.Background(), "RELIANCE")
	if err != nil {
		t.Fatal(err)
	}

	// Two sessions on the same key: one wire subscribe.
	if got := conn.sent(); len(got) != 1 {
		t.Fatalf("frames = %v", got)
	}

	mgr.Close(a)
	if got := conn.sent(); len(got) != 1 {
		t.Fatalf("unsubscribed while still held: %v", got)
	}
	mgr.Close(b)
	if got := conn.sent(); len(got) != 2 || got[1].Type != feed.FrameUnsubscribe {
		t.Fatalf("frames = %v", got)
	}
}

func TestManagerStaleFlag(t *testing.T) {
	mgr, _, _, srv := testStack(t, 0)
	defer srv.Close()

	s, err := mgr.Open(context.Background(), "RELIANCE")
	if err != nil {
		t.Fatal(err)
	}
	if s.Stale() {
		t.Error("fresh session marked stale")
	}

	mgr.SetStale(true)
	if !s.Stale() {
		t.Error("stale flag not set on feed loss")
	}
	// History survives the outage.
	if len(s.Candles()) != 2 {
		t.Errorf("candles lost on stale: %d", len(s.Candles()))
	}

	mgr.SetStale(false)
	if s.Stale() {
		t.Error("stale flag not cleared on recovery")
	}
}

func TestManagerPublishesUpdates(t *testing.T) {
	mgr, dispatch, _, srv := testStack(t, 0)
	defer srv.Close()

	s, err := mgr.Open(context.Background(), "RELIANCE")
	if err != nil {
		t.Fatal(err)
	}
	defer mgr.Close(s)

	dispatch.HandleFrame(envelope("NSE_EQ|INE002A01018", 104.5, time.Now().UnixMilli()))

	select {
	case u := <-mgr.Updates():
		if u.Key != "NSE_EQ:INE002A01018" || u.Tick.LTP != 104.5 {
			t.Errorf("update = %+v", u)
		}
		if u.Quote.LastPrice != 104.5 {
			t.Errorf("update quote = %+v", u.Quote)
		}
		if u.Candle.Close != 104.5 {
			t.Errorf("update candle = %+v", u.Candle)
		}
	case <-time.After(time.Second):
		t.Fatal("no update published")
	}
}

func TestManagerWindowBoundsLine(t *testing.T) {
	mgr, dispatch, _, srv := testStack(t, 0)
	defer srv.Close()

	s, err := mgr.Open(context.Background(), "RELIANCE")
	if err != nil {
		t.Fatal(err)
	}
	defer mgr.Close(s)

	base := time.Now().UnixMilli()
	for i := 0; i < 150; i++ {
		dispatch.HandleFrame(envelope("NSE_EQ|INE002A01018", 100+float64(i), base+int64(i)*1000))
	}

	line := s.Line()
	if len(line) != 100 {
		t.Errorf("line length = %d, want the 100-point window", len(line))
	}
	if line[len(line)-1].Value != 249 {
		t.Errorf("newest point = %v", line[len(line)-1].Value)
	}
}
