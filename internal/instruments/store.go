// Package instruments maintains the local instrument lookup database:
// symbol → instrument key resolution and prefix search, refreshed daily
// from the exchange instrument master.
package instruments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"finverse/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by Lookup for an unknown symbol.
var ErrNotFound = errors.New("instruments: symbol not found")

// Store is the SQLite-backed instrument lookup table.
type Store struct {
	db *sql.DB
}

// Open creates the store at path, initializing WAL mode and the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("instruments: open: %w", err)
	}

	// Single writer: the daily refresher.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("instruments: schema: %w", err)
	}

	log.Printf("[instruments] opened database at %s", path)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS instrument_lookup (
			symbol          TEXT PRIMARY KEY,
			instrument_key  TEXT NOT NULL,
			name            TEXT NOT NULL,
			instrument_type TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_lookup_symbol ON instrument_lookup (symbol);
	`)
	return err
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// ReplaceAll swaps the lookup table contents in one transaction.
func (s *Store) ReplaceAll(ctx context.Context, rows []model.Instrument) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("instruments: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM instrument_lookup`); err != nil {
		return fmt.Errorf("instruments: clear: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO instrument_lookup (symbol, instrument_key, name, instrument_type)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("instruments: prepare: %w", err)
	}
	defer stmt.Close()

	for _, in := range rows {
		if in.Symbol == "" || in.InstrumentKey == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, in.Symbol, in.InstrumentKey, in.Name, in.Type); err != nil {
			return fmt.Errorf("instruments: insert %s: %w", in.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("instruments: commit: %w", err)
	}
	return nil
}

// Lookup resolves a trading symbol to its instrument row.
func (s *Store) Lookup(ctx context.Context, symbol string) (model.Instrument, error) {
	var in model.Instrument
	err := s.db.QueryRowContext(ctx, `
		SELECT symbol, instrument_key, name, instrument_type
		FROM instrument_lookup WHERE symbol = ?`, symbol).
		Scan(&in.Symbol, &in.InstrumentKey, &in.Name, &in.Type)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Instrument{}, ErrNotFound
	}
	if err != nil {
		return model.Instrument{}, fmt.Errorf("instruments: lookup %s: %w", symbol, err)
	}
	return in, nil
}

// Search returns instruments whose symbol or name starts with q
// (case-insensitive via uppercased symbols), equities and indices only.
func (s *Store) Search(ctx context.Context, q string, limit int) ([]model.Instrument, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	pattern := q + "%"

	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, instrument_key, name, instrument_type
		FROM instrument_lookup
		WHERE (symbol LIKE ? OR name LIKE ?)
		  AND instrument_type IN ('EQUITY', 'INDEX')
		LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("instruments: search %q: %w", q, err)
	}
	defer rows.Close()

	var out []model.Instrument
	for rows.Next() {
		var in model.Instrument
		if err := rows.Scan(&in.Symbol, &in.InstrumentKey, &in.Name, &in.Type); err != nil {
			return nil, fmt.Errorf("instruments: scan: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// Count returns the number of rows in the lookup table.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM instrument_lookup`).Scan(&n)
	return n, err
}
