package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"liquidity-sweep-backtest/services/arrowpipeline"
	"liquidity-sweep-backtest/services/clickhouse"
	"liquidity-sweep-backtest/services/config"
	"liquidity-sweep-backtest/services/engine"
	"liquidity-sweep-backtest/services/marketdata"
	"liquidity-sweep-backtest/services/report"
)

func main() {
	// Flags override the config file and BACKTEST_ environment
	cfgPath := flag.String("config", "", "YAML config path (default ./configs/backtest.yaml)")
	intradayPath := flag.String("intraday", "", "Intraday bar CSV")
	dailyPath := flag.String("daily", "", "Daily bar CSV; empty derives daily bars from intraday")
	source := flag.String("source", "", "Bar source: csv|clickhouse")
	symbol := flag.String("symbol", "", "Symbol to load from ClickHouse")
	from := flag.String("from", "", "Start (YYYY-MM-DD) for ClickHouse loads")
	to := flag.String("to", "", "End, exclusive (YYYY-MM-DD) for ClickHouse loads")
	tz := flag.String("tz", "", "Timezone defining trading days (default America/New_York)")
	balance := flag.String("balance", "", "Initial balance")
	risk := flag.String("risk", "", "Risk per trade")
	fee := flag.String("fee", "", "Fee rate per side, charged on the risk amount")
	rr := flag.String("rr", "", "Reward/risk multiplier")
	outCSV := flag.String("out-csv", "", "Write trades CSV here")
	outArrow := flag.String("out-arrow", "", "Write trades Arrow IPC stream here")
	asJSON := flag.Bool("json", false, "Print the full report as JSON instead of text")
	verbose := flag.Bool("verbose", false, "Debug logging")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *cfgPath != "" {
		cfg, _, err = config.Load(*cfgPath)
	} else {
		cfg, _, err = config.Load()
	}
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Data.IntradayPath, *intradayPath)
	set(&cfg.Data.DailyPath, *dailyPath)
	set(&cfg.Data.Source, *source)
	set(&cfg.Data.Symbol, *symbol)
	set(&cfg.Run.Timezone, *tz)
	set(&cfg.Run.InitialBalance, *balance)
	set(&cfg.Run.RiskPerTrade, *risk)
	set(&cfg.Run.FeeRate, *fee)
	set(&cfg.Run.RewardRisk, *rr)
	if *verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	runCfg, err := cfg.EngineConfig()
	if err != nil {
		logger.Fatal("engine config", zap.Error(err))
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal("timezone", zap.Error(err))
	}

	ctx := context.Background()
	intraday, daily, err := loadSeries(ctx, cfg, loc, *from, *to)
	if err != nil {
		logger.Fatal("load bars", zap.Error(err))
	}
	logger.Info("bars loaded",
		zap.Int("intraday", len(intraday)),
		zap.Int("daily", len(daily)),
		zap.String("timezone", loc.String()))

	rep, err := engine.Run(intraday, daily, runCfg, engine.WithLogger(logger))
	if err != nil {
		logger.Fatal("backtest", zap.Error(err))
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(struct {
			Report  *engine.BacktestReport `json:"report"`
			Summary report.TradeSummary    `json:"summary"`
		}{rep, report.Summarize(rep)}); err != nil {
			logger.Fatal("encode report", zap.Error(err))
		}
	} else if err := report.WriteSummary(os.Stdout, rep); err != nil {
		logger.Fatal("write summary", zap.Error(err))
	}

	if *outCSV != "" {
		if err := writeFile(*outCSV, func(f *os.File) error { return report.WriteTradesCSV(f, rep) }); err != nil {
			logger.Fatal("trades csv", zap.Error(err))
		}
		logger.Info("trades csv written", zap.String("path", *outCSV))
	}
	if *outArrow != "" {
		p := arrowpipeline.NewPipeline(arrowpipeline.Config{}, logger)
		if err := writeFile(*outArrow, func(f *os.File) error { return p.EncodeTrades(f, rep.Trades) }); err != nil {
			logger.Fatal("trades arrow", zap.Error(err))
		}
		logger.Info("trades arrow written", zap.String("path", *outArrow))
	}
}

func loadSeries(ctx context.Context, cfg *config.Config, loc *time.Location, from, to string) ([]engine.Bar, []engine.Bar, error) {
	var intraday, daily []engine.Bar
	var err error
	switch cfg.Data.Source {
	case "clickhouse":
		store, err := clickhouse.Open(ctx, clickhouse.Options{
			Addr:     cfg.ClickHouse.Addr,
			Database: cfg.ClickHouse.Database,
			Table:    cfg.ClickHouse.Table,
			Username: cfg.ClickHouse.User,
			Password: cfg.ClickHouse.Password,
		})
		if err != nil {
			return nil, nil, err
		}
		defer store.Close()
		q := clickhouse.BarQuery{Symbol: cfg.Data.Symbol, Interval: cfg.Data.IntradayInterval}
		if q.From, err = parseDay(from, loc); err != nil {
			return nil, nil, err
		}
		if q.To, err = parseDay(to, loc); err != nil {
			return nil, nil, err
		}
		if intraday, err = store.LoadBars(ctx, q, loc); err != nil {
			return nil, nil, err
		}
		if cfg.Data.DailyInterval != "" {
			q.Interval = cfg.Data.DailyInterval
			if daily, err = store.LoadBars(ctx, q, loc); err != nil {
				return nil, nil, err
			}
		}
	default:
		if cfg.Data.IntradayPath == "" {
			return nil, nil, fmt.Errorf("-intraday (or data.intradayPath) is required")
		}
		if intraday, err = marketdata.LoadCSV(cfg.Data.IntradayPath, loc); err != nil {
			return nil, nil, err
		}
		if cfg.Data.DailyPath != "" {
			if daily, err = marketdata.LoadCSV(cfg.Data.DailyPath, loc); err != nil {
				return nil, nil, err
			}
		}
	}

	intraday = marketdata.InLocation(intraday, loc)
	if len(daily) == 0 {
		daily = marketdata.ResampleDaily(intraday)
	} else {
		daily = marketdata.InLocation(daily, loc)
	}
	return intraday, daily, nil
}

func parseDay(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: %w", s, err)
	}
	return t, nil
}

func writeFile(path string, fn func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
