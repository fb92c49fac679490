// export-bars dumps the local bar archive to parquet, one file per symbol,
// for offline analysis. Re-running merges new rows into existing files.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"marketd/internal/config"
	"marketd/internal/store"
	"marketd/internal/util"
)

func main() {
	var (
		outDir = flag.String("out", "", "output directory (default <data_dir>/parquet)")
		symbol = flag.String("symbol", "", "export a single symbol instead of the whole archive")
	)
	flag.Parse()

	cfgPath := "config/marketd.yaml"
	if p := os.Getenv("MARKETD_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	if *outDir == "" {
		*outDir = cfg.Storage.DataDir + "/parquet"
	}

	st, err := store.Open(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening bar store: %v", err)
	}
	defer st.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	exporter := store.NewParquetExporter(*outDir)

	if *symbol != "" {
		n, err := exporter.ExportSymbol(ctx, st, *symbol)
		if err != nil {
			log.Fatalf("exporting %s: %v", *symbol, err)
		}
		fmt.Printf("%s: %d rows\n", *symbol, n)
		return
	}

	counts, err := exporter.ExportAll(ctx, st)
	if err != nil {
		log.Fatalf("exporting archive: %v", err)
	}

	symbols := make([]string, 0, len(counts))
	for sym := range counts {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	total := 0
	for _, sym := range symbols {
		fmt.Printf("%s: %d rows\n", sym, counts[sym])
		total += counts[sym]
	}
	fmt.Printf("exported %d rows across %d symbols to %s\n", total, len(symbols), *outDir)
}
