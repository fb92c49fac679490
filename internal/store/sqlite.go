// Package store persists the daily bar archive in SQLite: one bars table
// keyed by (symbol, date) plus a per-symbol sync_log tracking how much
// history has been pulled. All dates are "YYYY-MM-DD" strings, so string
// comparison matches chronological order.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"marketd/internal/domain"
	"marketd/internal/marketcal"
)

const schema = `
CREATE TABLE IF NOT EXISTS bars (
	symbol    TEXT NOT NULL,
	date      TEXT NOT NULL,
	open      REAL,
	high      REAL,
	low       REAL,
	close     REAL,
	volume    REAL,
	synced_at TEXT NOT NULL,
	PRIMARY KEY (symbol, date)
);

CREATE INDEX IF NOT EXISTS idx_bars_symbol_date ON bars (symbol, date DESC);

CREATE TABLE IF NOT EXISTS sync_log (
	symbol                 TEXT PRIMARY KEY,
	last_sync_at           TEXT,
	last_bar_date          TEXT,
	bar_count              INTEGER NOT NULL DEFAULT 0,
	full_history_completed INTEGER NOT NULL DEFAULT 0
);
`

// Store is the SQLite-backed bar archive.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens (or creates) the archive at dbPath, creating parent
// directories and the schema as needed.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// Single writer; the queue serializes upserts per symbol anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db, path: dbPath, now: time.Now}, nil
}

// SetClock replaces the store's clock. Tests use it to pin "today".
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

// Upsert merges a batch of bars for one symbol and returns the number of
// newly inserted rows. Semantics, all inside one transaction:
//
//  1. Input is deduplicated by date, last occurrence winning.
//  2. Rows whose date already exists are skipped, with one exception:
//     today's row is replaced when its previous write happened before
//     today's 15:00 close (a mid-session snapshot that must not survive).
//  3. sync_log is refreshed from the resulting table state. The
//     full_history_completed latch is preserved.
func (s *Store) Upsert(ctx context.Context, symbol string, bars []domain.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	// Dedupe by date, keeping the later occurrence and stable order.
	byDate := make(map[string]int, len(bars))
	deduped := make([]domain.Bar, 0, len(bars))
	for _, b := range bars {
		if b.Date == "" {
			continue
		}
		if i, ok := byDate[b.Date]; ok {
			deduped[i] = b
			continue
		}
		byDate[b.Date] = len(deduped)
		deduped = append(deduped, b)
	}
	if len(deduped) == 0 {
		return 0, nil
	}

	now := s.now().In(marketcal.CST)
	today := now.Format(domain.DateLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	// Stale today-bar repair: a row written before the close is a
	// mid-session snapshot; delete it so the fresh row lands.
	if _, hasToday := byDate[today]; hasToday {
		var syncedAt string
		err := tx.QueryRowContext(ctx,
			`SELECT synced_at FROM bars WHERE symbol = ? AND date = ?`,
			symbol, today).Scan(&syncedAt)
		switch {
		case err == sql.ErrNoRows:
			// no existing today row
		case err != nil:
			return 0, err
		default:
			ts, perr := time.Parse(time.RFC3339, syncedAt)
			if perr == nil && ts.In(marketcal.CST).Before(marketcal.CloseOf(now)) {
				if _, err := tx.ExecContext(ctx,
					`DELETE FROM bars WHERE symbol = ? AND date = ?`, symbol, today); err != nil {
					return 0, err
				}
			}
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO bars (symbol, date, open, high, low, close, volume, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	syncedAt := now.Format(time.RFC3339)
	inserted := 0
	for _, b := range deduped {
		res, err := stmt.ExecContext(ctx, symbol, b.Date, b.Open, b.High, b.Low, b.Close, b.Volume, syncedAt)
		if err != nil {
			return 0, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sync_log (symbol, last_sync_at, last_bar_date, bar_count)
		SELECT ?, ?, MAX(date), COUNT(*) FROM bars WHERE symbol = ?
		ON CONFLICT(symbol) DO UPDATE SET
			last_sync_at  = excluded.last_sync_at,
			last_bar_date = excluded.last_bar_date,
			bar_count     = excluded.bar_count`,
		symbol, syncedAt, symbol); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// MarkFullHistory sets the one-way latch recording that the earliest
// upstream bar for symbol has been reached.
func (s *Store) MarkFullHistory(ctx context.Context, symbol string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_log (symbol, full_history_completed) VALUES (?, 1)
		ON CONFLICT(symbol) DO UPDATE SET full_history_completed = 1`, symbol)
	return err
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// Get returns up to the last lastN bars for symbol, ascending by date.
// lastN <= 0 returns everything.
func (s *Store) Get(ctx context.Context, symbol string, lastN int) ([]domain.Bar, error) {
	q := `SELECT date, open, high, low, close, volume FROM bars
	      WHERE symbol = ? ORDER BY date DESC`
	args := []any{symbol}
	if lastN > 0 {
		q += ` LIMIT ?`
		args = append(args, lastN)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		b := domain.Bar{Symbol: symbol}
		if err := rows.Scan(&b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// The query walked the tail newest-first; flip to ascending.
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

// Has reports whether the archive holds at least minRows bars for symbol.
func (s *Store) Has(ctx context.Context, symbol string, minRows int) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bars WHERE symbol = ?`, symbol).Scan(&n)
	if err != nil {
		return false, err
	}
	return n >= minRows, nil
}

// LastDate returns the newest bar date for symbol, or "" when none exist.
func (s *Store) LastDate(ctx context.Context, symbol string) (string, error) {
	return s.dateBound(ctx, symbol, "MAX")
}

// FirstDate returns the oldest bar date for symbol, or "" when none exist.
func (s *Store) FirstDate(ctx context.Context, symbol string) (string, error) {
	return s.dateBound(ctx, symbol, "MIN")
}

func (s *Store) dateBound(ctx context.Context, symbol, agg string) (string, error) {
	var d sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT `+agg+`(date) FROM bars WHERE symbol = ?`, symbol).Scan(&d)
	if err != nil {
		return "", err
	}
	return d.String, nil
}

// IsFullHistory reports whether the full-history latch is set for symbol.
func (s *Store) IsFullHistory(ctx context.Context, symbol string) (bool, error) {
	var v int
	err := s.db.QueryRowContext(ctx,
		`SELECT full_history_completed FROM sync_log WHERE symbol = ?`, symbol).Scan(&v)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// SyncState returns the sync metadata for symbol, or nil when the symbol
// has never been synced.
func (s *Store) SyncState(ctx context.Context, symbol string) (*domain.SyncState, error) {
	var (
		lastSyncAt sql.NullString
		lastBar    sql.NullString
		count      int
		full       int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT last_sync_at, last_bar_date, bar_count, full_history_completed
		FROM sync_log WHERE symbol = ?`, symbol).
		Scan(&lastSyncAt, &lastBar, &count, &full)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	st := &domain.SyncState{
		Symbol:               symbol,
		LastBarDate:          lastBar.String,
		BarCount:             count,
		FullHistoryCompleted: full != 0,
	}
	if lastSyncAt.Valid {
		if ts, perr := time.Parse(time.RFC3339, lastSyncAt.String); perr == nil {
			st.LastSyncAt = ts
		}
	}
	st.FirstBarDate, _ = s.FirstDate(ctx, symbol)
	return st, nil
}

// CachedSymbols returns every symbol with at least one bar, most recently
// synced first.
func (s *Store) CachedSymbols(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol FROM sync_log WHERE bar_count > 0
		ORDER BY last_sync_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

// Stats summarizes the archive: distinct symbols, total rows, file size.
type Stats struct {
	Symbols   int   `json:"symbols"`
	TotalRows int   `json:"totalRows"`
	SizeBytes int64 `json:"sizeBytes"`
}

// Stats returns archive-wide statistics.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT symbol), COUNT(*) FROM bars`).
		Scan(&st.Symbols, &st.TotalRows); err != nil {
		return Stats{}, err
	}
	if fi, err := os.Stat(s.path); err == nil {
		st.SizeBytes = fi.Size()
	}
	return st, nil
}
