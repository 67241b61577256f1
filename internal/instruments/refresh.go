package instruments

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"finverse/internal/markethours"
	"finverse/internal/model"
)

// DefaultMasterURL is the exchange instrument master (gzipped CSV).
const DefaultMasterURL = "https://assets.upstox.com/market-quote/instruments/exchange/NSE.csv.gz"

// Refresher downloads the instrument master and replaces the lookup
// table.
type Refresher struct {
	store  *Store
	url    string
	client *http.Client

	// Metrics hook, optional: rows loaded (0 on failure).
	OnRefresh func(rows int, err error)
}

// NewRefresher creates a refresher for store from url ("" means
// DefaultMasterURL).
func NewRefresher(store *Store, url string) *Refresher {
	if url == "" {
		url = DefaultMasterURL
	}
	return &Refresher{
		store:  store,
		url:    url,
		client: &http.Client{Timeout: 2 * time.Minute},
	}
}

// Refresh downloads, parses, and installs the instrument master. Rows
// with missing symbol or key are skipped.
func (r *Refresher) Refresh(ctx context.Context) (int, error) {
	n, err := r.refresh(ctx)
	if r.OnRefresh != nil {
		r.OnRefresh(n, err)
	}
	return n, err
}

func (r *Refresher) refresh(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return 0, fmt.Errorf("instruments: build request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("instruments: download master: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("instruments: download master: status %d", resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if strings.HasSuffix(r.url, ".gz") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return 0, fmt.Errorf("instruments: gunzip master: %w", err)
		}
		defer gz.Close()
		body = gz
	}

	rows, err := ParseMaster(body)
	if err != nil {
		return 0, err
	}
	if err := r.store.ReplaceAll(ctx, rows); err != nil {
		return 0, err
	}

	log.Printf("[instruments] refreshed %d instruments from %s", len(rows), r.url)
	return len(rows), nil
}

// RunDaily refreshes once immediately, then at each daily refresh time
// (08:00 IST, before market open). Blocks until ctx is cancelled.
func (r *Refresher) RunDaily(ctx context.Context) {
	if _, err := r.Refresh(ctx); err != nil {
		log.Printf("[instruments] initial refresh failed: %v", err)
	}

	for {
		next := markethours.NextRefresh(time.Now())
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
			if _, err := r.Refresh(ctx); err != nil {
				log.Printf("[instruments] scheduled refresh failed: %v", err)
			}
		}
	}
}

// ParseMaster reads the instrument master CSV, keeping equities and
// indices. Column positions are resolved from the header row.
func ParseMaster(src io.Reader) ([]model.Instrument, error) {
	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("instruments: read master header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"instrument_key", "tradingsymbol", "instrument_type"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("instruments: master missing column %q", required)
		}
	}

	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var out []model.Instrument
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Malformed row: skip, keep the rest.
			continue
		}

		typ := strings.ToUpper(field(rec, "instrument_type"))
		if typ != "EQUITY" && typ != "INDEX" {
			continue
		}
		sym := strings.ToUpper(field(rec, "tradingsymbol"))
		key := field(rec, "instrument_key")
		if sym == "" || key == "" {
			continue
		}
		name := field(rec, "name")
		if name == "" {
			name = sym
		}
		out = append(out, model.Instrument{
			Symbol:        sym,
			InstrumentKey: key,
			Name:          name,
			Type:          typ,
		})
	}
	return out, nil
}
