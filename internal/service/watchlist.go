package service

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"marketd/internal/domain"
)

// Watchlist groups. Unknown group names are rejected at the API boundary.
const (
	GroupFavorites = "favorites"
	GroupHoldings  = "holdings"
	GroupWatching  = "watching"
)

var watchlistGroups = []string{GroupFavorites, GroupHoldings, GroupWatching}

// Watchlist is the user's grouped symbol lists, persisted to a JSON file on
// every mutation. Order within a group is insertion order.
type Watchlist struct {
	path string
	log  *slog.Logger

	mu     sync.Mutex
	groups map[string][]string
}

// NewWatchlist creates a Watchlist persisted under dataDir and loads any
// existing file.
func NewWatchlist(dataDir string, log *slog.Logger) *Watchlist {
	if log == nil {
		log = slog.Default()
	}
	w := &Watchlist{
		path:   filepath.Join(dataDir, "watchlist.json"),
		log:    log,
		groups: make(map[string][]string),
	}
	for _, g := range watchlistGroups {
		w.groups[g] = []string{}
	}
	if err := w.load(); err != nil && !os.IsNotExist(err) {
		log.Warn("loading watchlist failed", "path", w.path, "error", err)
	}
	return w
}

// ValidGroup reports whether name is a known watchlist group.
func ValidGroup(name string) bool {
	for _, g := range watchlistGroups {
		if g == name {
			return true
		}
	}
	return false
}

// Groups returns a snapshot of every group and its symbols.
func (w *Watchlist) Groups() map[string][]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string][]string, len(w.groups))
	for g, syms := range w.groups {
		out[g] = append([]string(nil), syms...)
	}
	return out
}

// List returns the symbols in one group, in insertion order.
func (w *Watchlist) List(group string) ([]string, error) {
	if !ValidGroup(group) {
		return nil, fmt.Errorf("unknown watchlist group %q", group)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.groups[group]...), nil
}

// Add appends a symbol to a group. Adding a symbol that is already present
// is a no-op.
func (w *Watchlist) Add(group, symbol string) error {
	if !ValidGroup(group) {
		return fmt.Errorf("unknown watchlist group %q", group)
	}
	if !domain.ValidCode(symbol) {
		return fmt.Errorf("invalid symbol %q: %w", symbol, domain.ErrInvalidSymbol)
	}
	symbol = domain.NormalizeCode(symbol)

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range w.groups[group] {
		if s == symbol {
			return nil
		}
	}
	w.groups[group] = append(w.groups[group], symbol)
	return w.save()
}

// Remove deletes a symbol from a group. Removing an absent symbol is a
// no-op.
func (w *Watchlist) Remove(group, symbol string) error {
	if !ValidGroup(group) {
		return fmt.Errorf("unknown watchlist group %q", group)
	}
	symbol = domain.NormalizeCode(symbol)

	w.mu.Lock()
	defer w.mu.Unlock()
	syms := w.groups[group]
	for i, s := range syms {
		if s == symbol {
			w.groups[group] = append(syms[:i], syms[i+1:]...)
			return w.save()
		}
	}
	return nil
}

func (w *Watchlist) load() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return err
	}
	var groups map[string][]string
	if err := json.Unmarshal(data, &groups); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, g := range watchlistGroups {
		if syms, ok := groups[g]; ok {
			w.groups[g] = syms
		}
	}
	return nil
}

// save persists the groups; callers hold the lock.
func (w *Watchlist) save() error {
	data, err := json.MarshalIndent(w.groups, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, w.path)
}
