package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/parquet-go/parquet-go"

	"marketd/internal/domain"
)

// ParquetExporter dumps the bar archive as per-symbol parquet files for
// downstream analytics tooling.
type ParquetExporter struct {
	OutDir string
}

// NewParquetExporter creates an exporter rooted at outDir.
func NewParquetExporter(outDir string) *ParquetExporter {
	return &ParquetExporter{OutDir: outDir}
}

// BarRecord is the on-disk parquet schema for one daily bar.
type BarRecord struct {
	Symbol string  `parquet:"symbol"`
	Date   string  `parquet:"date"`
	Open   float64 `parquet:"open"`
	High   float64 `parquet:"high"`
	Low    float64 `parquet:"low"`
	Close  float64 `parquet:"close"`
	Volume float64 `parquet:"volume"`
}

// ExportSymbol writes all bars for one symbol to <OutDir>/<symbol>.parquet,
// merging with any rows already in the file. Returns the row count written.
func (e *ParquetExporter) ExportSymbol(ctx context.Context, s *Store, symbol string) (int, error) {
	bars, err := s.Get(ctx, symbol, 0)
	if err != nil {
		return 0, fmt.Errorf("reading bars for %s: %w", symbol, err)
	}
	if len(bars) == 0 {
		return 0, nil
	}

	records := make([]BarRecord, 0, len(bars))
	for _, b := range bars {
		records = append(records, BarRecord{
			Symbol: b.Symbol,
			Date:   b.Date,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		})
	}

	path := e.symbolPath(symbol)
	existing, _ := readParquetFile[BarRecord](path)
	merged := mergeBarRecords(existing, records)

	if err := writeParquetFile(path, merged); err != nil {
		return 0, fmt.Errorf("writing parquet for %s: %w", symbol, err)
	}
	return len(merged), nil
}

// ExportAll exports every cached symbol and returns a symbol → row count map.
func (e *ParquetExporter) ExportAll(ctx context.Context, s *Store) (map[string]int, error) {
	symbols, err := s.CachedSymbols(ctx)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(symbols))
	for _, sym := range symbols {
		n, err := e.ExportSymbol(ctx, s, sym)
		if err != nil {
			return counts, err
		}
		counts[sym] = n
	}
	return counts, nil
}

// symbolPath returns the parquet file path for a symbol.
func (e *ParquetExporter) symbolPath(symbol string) string {
	return filepath.Join(e.OutDir, domain.NormalizeCode(symbol)+".parquet")
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates by (symbol, date), preferring incoming rows,
// and returns the result sorted by date.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		date   string
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Date}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Date}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Symbol != merged[j].Symbol {
			return merged[i].Symbol < merged[j].Symbol
		}
		return merged[i].Date < merged[j].Date
	})
	return merged
}
