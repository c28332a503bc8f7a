// Loads a bar CSV into ClickHouse: ensures the schema, then batch-inserts.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"go.uber.org/zap"

	"liquidity-sweep-backtest/services/clickhouse"
	"liquidity-sweep-backtest/services/config"
	"liquidity-sweep-backtest/services/marketdata"
)

func main() {
	in := flag.String("in", "", "Input CSV (timestamp,open,high,low,close)")
	symbol := flag.String("symbol", "", "Symbol to store the bars under")
	interval := flag.String("interval", "15m", "Interval label, e.g. 15m or 1d")
	tz := flag.String("tz", marketdata.DefaultTimezone, "Timezone for naive timestamps in the CSV")
	addr := flag.String("addr", "", "ClickHouse native addresses, comma separated (overrides config)")
	cfgPath := flag.String("config", "", "YAML config path")
	batch := flag.Int("batch", 50000, "Rows per insert batch")
	deriveDaily := flag.String("derive-daily", "", "After ingest, derive daily bars under this interval label (e.g. 1d)")
	flag.Parse()

	if *batch <= 0 {
		*batch = 50000
	}
	if *in == "" || *symbol == "" {
		log.Fatal("-in and -symbol are required")
	}
	var paths []string
	if *cfgPath != "" {
		paths = append(paths, *cfgPath)
	}
	cfg, _, err := config.Load(paths...)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *addr != "" {
		cfg.ClickHouse.Addr = strings.Split(*addr, ",")
	}
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	loc, err := marketdata.LoadLocation(*tz)
	if err != nil {
		logger.Fatal("timezone", zap.Error(err))
	}
	bars, err := marketdata.LoadCSV(*in, loc)
	if err != nil {
		logger.Fatal("read csv", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	store, err := clickhouse.Open(ctx, clickhouse.Options{
		Addr:     cfg.ClickHouse.Addr,
		Database: cfg.ClickHouse.Database,
		Table:    cfg.ClickHouse.Table,
		Username: cfg.ClickHouse.User,
		Password: cfg.ClickHouse.Password,
	})
	if err != nil {
		logger.Fatal("connect", zap.Error(err))
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal("ensure schema", zap.Error(err))
	}

	total := 0
	for start := 0; start < len(bars); start += *batch {
		end := min(start+*batch, len(bars))
		n, err := store.InsertBars(ctx, *symbol, *interval, bars[start:end])
		if err != nil {
			logger.Fatal("insert", zap.Int("offset", start), zap.Error(err))
		}
		total += n
	}
	if *deriveDaily != "" {
		if err := store.DeriveDaily(ctx, *symbol, *interval, *deriveDaily, loc); err != nil {
			logger.Fatal("derive daily", zap.Error(err))
		}
		logger.Info("daily bars derived", zap.String("interval", *deriveDaily), zap.String("timezone", loc.String()))
	}
	logger.Info("ingest complete",
		zap.String("symbol", *symbol),
		zap.String("interval", *interval),
		zap.Int("rows", total),
		zap.String("table", fmt.Sprintf("%s.%s", cfg.ClickHouse.Database, cfg.ClickHouse.Table)))
}
