package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"marketd/internal/domain"
	"marketd/internal/queue"
)

// directoryMaxAge is how long a listing snapshot serves before a background
// refresh is scheduled. A stale snapshot still serves; search never blocks
// on the upstream.
const directoryMaxAge = 24 * time.Hour

// Lister fetches the full exchange listing; in production it is the
// Eastmoney adapter.
type Lister interface {
	FetchListing(ctx context.Context) ([]domain.SymbolInfo, error)
}

type directorySnapshot struct {
	Codes     []domain.SymbolInfo `json:"codes"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// Directory is the searchable symbol listing, persisted as a JSON snapshot
// and refreshed through the work queue when it ages out.
type Directory struct {
	path   string
	lister Lister
	queue  *queue.Queue
	log    *slog.Logger

	mu        sync.RWMutex
	codes     []domain.SymbolInfo
	byCode    map[string]string
	updatedAt time.Time
	now       func() time.Time
}

// NewDirectory creates a Directory persisting its snapshot under dataDir
// and loads any existing snapshot from disk.
func NewDirectory(dataDir string, lister Lister, q *queue.Queue, log *slog.Logger) *Directory {
	if log == nil {
		log = slog.Default()
	}
	d := &Directory{
		path:   filepath.Join(dataDir, "symbol_directory.json"),
		lister: lister,
		queue:  q,
		log:    log,
		byCode: make(map[string]string),
		now:    time.Now,
	}
	if err := d.loadSnapshot(); err != nil && !os.IsNotExist(err) {
		log.Warn("loading symbol directory snapshot failed", "path", d.path, "error", err)
	}
	return d
}

// SetClock replaces the staleness clock; tests pin it.
func (d *Directory) SetClock(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

// Len returns the number of listed symbols.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.codes)
}

// UpdatedAt returns when the listing snapshot was last refreshed.
func (d *Directory) UpdatedAt() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.updatedAt
}

// Name returns the display name for a symbol code, or "" when unknown.
func (d *Directory) Name(code string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	d.ensureFreshLocked()
	return d.byCode[domain.NormalizeCode(code)]
}

// Search returns up to limit symbols whose code or name contains q,
// case-insensitively. An empty query returns nothing. A stale or empty
// directory schedules a background refresh but still answers from whatever
// snapshot is held.
func (d *Directory) Search(q string, limit int) []domain.SymbolInfo {
	q = strings.TrimSpace(strings.ToLower(q))
	if q == "" {
		return nil
	}
	if limit <= 0 {
		limit = 20
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	d.ensureFreshLocked()

	var out []domain.SymbolInfo
	for _, s := range d.codes {
		if strings.Contains(strings.ToLower(s.Code), q) || strings.Contains(strings.ToLower(s.Name), q) {
			out = append(out, s)
			if len(out) >= limit {
				break
			}
		}
	}
	return out
}

// Refresh pulls the listing from the upstream synchronously and persists
// the new snapshot.
func (d *Directory) Refresh(ctx context.Context) error {
	if d.lister == nil {
		return fmt.Errorf("no listing provider configured")
	}
	codes, err := d.lister.FetchListing(ctx)
	if err != nil {
		return fmt.Errorf("refreshing symbol directory: %w", err)
	}
	if len(codes) == 0 {
		return fmt.Errorf("refreshing symbol directory: empty listing")
	}

	d.mu.Lock()
	d.codes = codes
	d.byCode = make(map[string]string, len(codes))
	for _, s := range codes {
		d.byCode[s.Code] = s.Name
	}
	d.updatedAt = d.now()
	snap := directorySnapshot{Codes: codes, UpdatedAt: d.updatedAt}
	d.mu.Unlock()

	if err := d.saveSnapshot(snap); err != nil {
		d.log.Warn("persisting symbol directory failed", "path", d.path, "error", err)
	}
	d.log.Info("symbol directory refreshed", "symbols", len(codes))
	return nil
}

// ensureFreshLocked schedules a background refresh when the snapshot has
// aged out. Callers hold at least the read lock.
func (d *Directory) ensureFreshLocked() {
	if d.queue == nil || d.lister == nil {
		return
	}
	if !d.updatedAt.IsZero() && d.now().Sub(d.updatedAt) < directoryMaxAge {
		return
	}
	d.queue.Submit(queue.Normal, "directory-refresh", func(ctx context.Context) error {
		return d.Refresh(ctx)
	})
}

func (d *Directory) loadSnapshot() error {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return err
	}
	var snap directorySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.codes = snap.Codes
	d.byCode = make(map[string]string, len(snap.Codes))
	for _, s := range snap.Codes {
		d.byCode[s.Code] = s.Name
	}
	d.updatedAt = snap.UpdatedAt
	return nil
}

func (d *Directory) saveSnapshot(snap directorySnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return err
	}
	tmp := d.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, d.path)
}
