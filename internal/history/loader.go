// Package history loads the per-instrument snapshot that seeds a market
// data session: the live quote and the historical candle series, fetched
// concurrently from the upstream HTTP API.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"finverse/internal/logger"
	"finverse/internal/model"
)

const maxErrorBody = 8 << 10

// FetchError is a non-success HTTP response from the upstream API. The
// status and (truncated) body are retained for diagnostics.
type FetchError struct {
	URL    string
	Status int
	Body   string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("history: GET %s: status %d: %s", e.URL, e.Status, e.Body)
}

// SchemaError is a structurally valid response missing a required field.
type SchemaError struct {
	Field string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("history: response missing required field %q", e.Field)
}

// Result is a fully loaded snapshot for one symbol. Line and Candles are
// built from the same rows and are aligned pairwise; rows that failed to
// parse are skipped and counted in DroppedRows.
type Result struct {
	Quote         model.Quote
	InstrumentKey string // canonical colon form
	Line          []model.LinePoint
	Candles       []model.Candle
	Interval      time.Duration // inferred bar interval, 0 if unknown
	DroppedRows   int
}

// Loader fetches quote snapshots and historical candles.
type Loader struct {
	baseURL string
	client  *http.Client

	// Metrics hooks, optional.
	OnLoad        func(ok bool)
	OnDroppedRows func(n int)
}

// NewLoader creates a loader against baseURL. timeout of 0 means no
// request timeout (callers bound loads via ctx).
func NewLoader(baseURL string, timeout time.Duration) *Loader {
	return &Loader{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Load fetches the quote snapshot and candle history for symbol
// concurrently and joins the results. Either failure discards the other
// result and fails the load as a whole.
func (l *Loader) Load(ctx context.Context, symbol string) (*Result, error) {
	type quoteRes struct {
		quote model.Quote
		err   error
	}
	type histRes struct {
		key     string
		candles []model.Candle
		dropped int
		err     error
	}

	quoteCh := make(chan quoteRes, 1)
	histCh := make(chan histRes, 1)

	go func() {
		q, err := l.fetchQuote(ctx, symbol)
		quoteCh <- quoteRes{quote: q, err: err}
	}()
	go func() {
		key, candles, dropped, err := l.fetchHistory(ctx, symbol)
		histCh <- histRes{key: key, candles: candles, dropped: dropped, err: err}
	}()

	qr := <-quoteCh
	hr := <-histCh

	if err := firstErr(qr.err, hr.err); err != nil {
		if l.OnLoad != nil {
			l.OnLoad(false)
		}
		return nil, err
	}

	res := &Result{
		Quote:         qr.quote,
		InstrumentKey: model.NormalizeKey(hr.key),
		Candles:       hr.candles,
		Line:          make([]model.LinePoint, len(hr.candles)),
		Interval:      inferInterval(hr.candles),
		DroppedRows:   hr.dropped,
	}
	for i, c := range hr.candles {
		res.Line[i] = model.LinePoint{TS: c.TS, Value: c.Close}
	}

	if hr.dropped > 0 {
		slog.Warn("dropped malformed history rows",
			append(logger.WithLoad(ctx), "symbol", symbol, "dropped", hr.dropped)...)
		if l.OnDroppedRows != nil {
			l.OnDroppedRows(hr.dropped)
		}
	}
	if l.OnLoad != nil {
		l.OnLoad(true)
	}
	return res, nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) fetchQuote(ctx context.Context, symbol string) (model.Quote, error) {
	var payload struct {
		Symbol    string     `json:"symbol"`
		Name      string     `json:"name"`
		LastPrice float64    `json:"last_price"`
		NetChange float64    `json:"net_change"`
		OHLC      model.OHLC `json:"ohlc"`
		Timestamp string     `json:"timestamp"`
	}
	if err := l.getJSON(ctx, "/api/quote/"+url.PathEscape(symbol), &payload); err != nil {
		return model.Quote{}, err
	}

	return model.Quote{
		Symbol:    payload.Symbol,
		Name:      payload.Name,
		LastPrice: payload.LastPrice,
		NetChange: payload.NetChange,
		OHLC:      payload.OHLC,
		Timestamp: parseTimestamp(payload.Timestamp),
	}, nil
}

func (l *Loader) fetchHistory(ctx context.Context, symbol string) (string, []model.Candle, int, error) {
	var payload struct {
		InstrumentKey string            `json:"instrument_key"`
		Candles       []json.RawMessage `json:"candles"`
	}
	if err := l.getJSON(ctx, "/api/history/"+url.PathEscape(symbol), &payload); err != nil {
		return "", nil, 0, err
	}
	if payload.InstrumentKey == "" {
		return "", nil, 0, &SchemaError{Field: "instrument_key"}
	}

	candles := make([]model.Candle, 0, len(payload.Candles))
	dropped := 0
	for _, raw := range payload.Candles {
		c, err := parseRow(raw)
		if err != nil {
			dropped++ // recoverable: skip the row, keep the rest
			continue
		}
		candles = append(candles, c)
	}

	// Upstream returns newest-first; the series is kept chronological.
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].TS.Before(candles[j].TS)
	})

	return payload.InstrumentKey, candles, dropped, nil
}

func (l *Loader) getJSON(ctx context.Context, path string, out interface{}) error {
	u := l.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("history: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("history: GET %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &FetchError{URL: u, Status: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("history: decode %s: %w", u, err)
	}
	return nil
}

// parseRow maps one raw history row [ts, o, h, l, c[, volume, oi]] into a
// candle. Any non-finite numeric field or unparsable timestamp fails the
// row.
func parseRow(raw json.RawMessage) (model.Candle, error) {
	var row []interface{}
	if err := json.Unmarshal(raw, &row); err != nil {
		return model.Candle{}, fmt.Errorf("history: row not an array: %w", err)
	}
	if len(row) < 5 {
		return model.Candle{}, fmt.Errorf("history: row has %d fields, want >= 5", len(row))
	}

	ts, err := parseRowTime(row[0])
	if err != nil {
		return model.Candle{}, err
	}

	var ohlc [4]float64
	for i := 0; i < 4; i++ {
		v, err := toFloat(row[i+1])
		if err != nil {
			return model.Candle{}, err
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return model.Candle{}, fmt.Errorf("history: non-finite value in row")
		}
		ohlc[i] = v
	}

	c := model.Candle{TS: ts, Open: ohlc[0], High: ohlc[1], Low: ohlc[2], Close: ohlc[3]}
	if len(row) > 5 {
		if v, err := toFloat(row[5]); err == nil {
			c.Volume = int64(v)
		}
	}
	if len(row) > 6 {
		if v, err := toFloat(row[6]); err == nil {
			c.OI = int64(v)
		}
	}
	return c, nil
}

func parseRowTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case string:
		ts := parseTimestamp(t)
		if ts.IsZero() {
			return time.Time{}, fmt.Errorf("history: unparsable timestamp %q", t)
		}
		return ts, nil
	case float64:
		return epochTime(t), nil
	default:
		return time.Time{}, fmt.Errorf("history: unsupported timestamp type %T", v)
	}
}

// parseTimestamp accepts ISO-8601 strings or stringified epoch values.
// Returns the zero time when nothing matches.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return epochTime(n)
	}
	return time.Time{}
}

// epochTime interprets n as epoch milliseconds when it is implausibly
// large for seconds, matching the upstream's mixed encodings.
func epochTime(n float64) time.Time {
	if n > 1e10 {
		return time.UnixMilli(int64(n)).UTC()
	}
	return time.Unix(int64(n), 0).UTC()
}

func toFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, fmt.Errorf("history: non-numeric field %q", t)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("history: non-numeric field of type %T", v)
	}
}

// inferInterval derives the bar interval from the spacing of the last two
// candles. 0 when the series is too short to tell.
func inferInterval(candles []model.Candle) time.Duration {
	if len(candles) < 2 {
		return 0
	}
	gap := candles[len(candles)-1].TS.Sub(candles[len(candles)-2].TS)
	if gap <= 0 {
		return 0
	}
	return gap
}
