package config

// Configuration layer for the backtester.
//
// YAML file + environment overrides (prefix BACKTEST_) + Validate.
//
//   BACKTEST_RUN_INITIAL_BALANCE=100000
//   BACKTEST_RUN_RISK_PER_TRADE=1000
//   BACKTEST_RUN_FEE_RATE=0.003
//   BACKTEST_RUN_REWARD_RISK=1
//   BACKTEST_RUN_TIMEZONE=America/New_York
//   BACKTEST_RUN_LOCK_DAY_ON_DEGENERATE=true
//
//   BACKTEST_DATA_SOURCE=csv              # csv|clickhouse
//   BACKTEST_DATA_INTRADAY_PATH=./data/es_15m.csv
//   BACKTEST_DATA_DAILY_PATH=./data/es_1d.csv   # empty: derive from intraday
//   BACKTEST_DATA_SYMBOL=ES
//   BACKTEST_DATA_INTRADAY_INTERVAL=15m
//   BACKTEST_DATA_DAILY_INTERVAL=1d
//
//   BACKTEST_CLICKHOUSE_ADDR=localhost:9000,replica:9000
//   BACKTEST_CLICKHOUSE_DATABASE=backtest
//   BACKTEST_CLICKHOUSE_TABLE=bars
//   BACKTEST_CLICKHOUSE_USER=default
//   BACKTEST_CLICKHOUSE_PASSWORD=
//
//   BACKTEST_SERVER_ADDR=:8080
//   BACKTEST_LOG_LEVEL=info               # debug|info|warn|error
//   BACKTEST_LOG_JSON=false
//
// Example YAML (configs/backtest.yaml):
// ---
// run:
//   initialBalance: "100000"
//   riskPerTrade: "1000"
//   feeRate: "0.003"
//   rewardRisk: "1"
//   timezone: America/New_York
// data:
//   source: csv
//   intradayPath: ./data/es_15m.csv
//   dailyPath: ./data/es_1d.csv
// logging:
//   level: info

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"liquidity-sweep-backtest/services/engine"
	"liquidity-sweep-backtest/services/marketdata"
)

const EnvPrefix = "BACKTEST_"

type Config struct {
	Run        RunConfig        `yaml:"run"`
	Data       DataConfig       `yaml:"data"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// RunConfig keeps money as strings so YAML numbers never pass through float64
type RunConfig struct {
	InitialBalance      string `yaml:"initialBalance"`
	RiskPerTrade        string `yaml:"riskPerTrade"`
	FeeRate             string `yaml:"feeRate"`
	RewardRisk          string `yaml:"rewardRisk"`
	Timezone            string `yaml:"timezone"`
	LockDayOnDegenerate bool   `yaml:"lockDayOnDegenerate"`
}

type DataConfig struct {
	Source           string `yaml:"source"` // csv|clickhouse
	IntradayPath     string `yaml:"intradayPath"`
	DailyPath        string `yaml:"dailyPath"`
	Symbol           string `yaml:"symbol"`
	IntradayInterval string `yaml:"intradayInterval"`
	DailyInterval    string `yaml:"dailyInterval"`
}

type ClickHouseConfig struct {
	Addr     []string `yaml:"addr"`
	Database string   `yaml:"database"`
	Table    string   `yaml:"table"`
	User     string   `yaml:"user"`
	Password string   `yaml:"password"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

func Default() Config {
	def := engine.DefaultConfig()
	return Config{
		Run: RunConfig{
			InitialBalance:      def.InitialBalance.String(),
			RiskPerTrade:        def.RiskPerTrade.String(),
			FeeRate:             def.FeeRate.String(),
			RewardRisk:          def.RewardRisk.String(),
			Timezone:            marketdata.DefaultTimezone,
			LockDayOnDegenerate: def.LockDayOnDegenerate,
		},
		Data: DataConfig{
			Source:           "csv",
			IntradayInterval: "15m",
			DailyInterval:    "1d",
		},
		ClickHouse: ClickHouseConfig{
			Addr:     []string{"localhost:9000"},
			Database: "backtest",
			Table:    "bars",
			User:     "default",
		},
		Server:  ServerConfig{Addr: ":8080"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the first existing file of paths, applies BACKTEST_ environment
// overrides and validates. Without paths the default locations are searched and
// a missing file means defaults; a path passed explicitly must exist.
func Load(paths ...string) (*Config, string, error) {
	c := Default()
	explicit := len(paths) > 0
	if !explicit {
		paths = []string{"./configs/backtest.yaml", "./backtest.yaml"}
	}

	var used string
	for _, p := range paths {
		if p == "" {
			continue
		}
		fi, err := os.Stat(p)
		if explicit && err != nil {
			return nil, "", fmt.Errorf("config file: %w", err)
		}
		if explicit && fi.IsDir() {
			return nil, "", fmt.Errorf("config file %s is a directory", p)
		}
		if err != nil || fi.IsDir() {
			continue
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, "", fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, "", fmt.Errorf("parse config %s: %w", p, err)
		}
		used = p
		break
	}

	c.applyEnv(EnvPrefix)
	if err := c.Validate(); err != nil {
		return nil, "", err
	}
	return &c, used, nil
}

func (c *Config) Validate() error {
	if _, err := c.EngineConfig(); err != nil {
		return err
	}
	if c.Run.Timezone == "" {
		c.Run.Timezone = marketdata.DefaultTimezone
	}
	if _, err := time.LoadLocation(c.Run.Timezone); err != nil {
		return fmt.Errorf("run.timezone invalid: %w", err)
	}

	switch strings.ToLower(c.Data.Source) {
	case "", "csv":
		c.Data.Source = "csv"
	case "clickhouse":
		c.Data.Source = "clickhouse"
		if len(c.ClickHouse.Addr) == 0 || c.ClickHouse.Database == "" || c.ClickHouse.Table == "" {
			return errors.New("clickhouse.addr, clickhouse.database and clickhouse.table are required for source clickhouse")
		}
		if c.Data.Symbol == "" {
			return errors.New("data.symbol is required for source clickhouse")
		}
	default:
		return fmt.Errorf("data.source invalid: %s (allowed: csv|clickhouse)", c.Data.Source)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "":
		c.Logging.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level invalid: %s", c.Logging.Level)
	}
	return nil
}

// EngineConfig converts the run section into the engine's configuration
func (c *Config) EngineConfig() (engine.Config, error) {
	var out engine.Config
	for _, f := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"run.initialBalance", c.Run.InitialBalance, &out.InitialBalance},
		{"run.riskPerTrade", c.Run.RiskPerTrade, &out.RiskPerTrade},
		{"run.feeRate", c.Run.FeeRate, &out.FeeRate},
		{"run.rewardRisk", c.Run.RewardRisk, &out.RewardRisk},
	} {
		v, err := decimal.NewFromString(strings.TrimSpace(f.raw))
		if err != nil {
			return engine.Config{}, fmt.Errorf("%w: %s %q", engine.ErrInvalidConfig, f.name, f.raw)
		}
		*f.dst = v
	}
	out.LockDayOnDegenerate = c.Run.LockDayOnDegenerate
	if err := out.Validate(); err != nil {
		return engine.Config{}, err
	}
	return out, nil
}

func (c *Config) Location() (*time.Location, error) {
	return marketdata.LoadLocation(c.Run.Timezone)
}

func (c *Config) applyEnv(prefix string) {
	c.Run.InitialBalance = pickStr(os.Getenv(prefix+"RUN_INITIAL_BALANCE"), c.Run.InitialBalance)
	c.Run.RiskPerTrade = pickStr(os.Getenv(prefix+"RUN_RISK_PER_TRADE"), c.Run.RiskPerTrade)
	c.Run.FeeRate = pickStr(os.Getenv(prefix+"RUN_FEE_RATE"), c.Run.FeeRate)
	c.Run.RewardRisk = pickStr(os.Getenv(prefix+"RUN_REWARD_RISK"), c.Run.RewardRisk)
	c.Run.Timezone = pickStr(os.Getenv(prefix+"RUN_TIMEZONE"), c.Run.Timezone)
	c.Run.LockDayOnDegenerate = pickBool(os.Getenv(prefix+"RUN_LOCK_DAY_ON_DEGENERATE"), c.Run.LockDayOnDegenerate)

	c.Data.Source = pickStr(os.Getenv(prefix+"DATA_SOURCE"), c.Data.Source)
	c.Data.IntradayPath = pickStr(os.Getenv(prefix+"DATA_INTRADAY_PATH"), c.Data.IntradayPath)
	c.Data.DailyPath = pickStr(os.Getenv(prefix+"DATA_DAILY_PATH"), c.Data.DailyPath)
	c.Data.Symbol = pickStr(os.Getenv(prefix+"DATA_SYMBOL"), c.Data.Symbol)
	c.Data.IntradayInterval = pickStr(os.Getenv(prefix+"DATA_INTRADAY_INTERVAL"), c.Data.IntradayInterval)
	c.Data.DailyInterval = pickStr(os.Getenv(prefix+"DATA_DAILY_INTERVAL"), c.Data.DailyInterval)

	if v := os.Getenv(prefix + "CLICKHOUSE_ADDR"); v != "" {
		c.ClickHouse.Addr = splitCSV(v)
	}
	c.ClickHouse.Database = pickStr(os.Getenv(prefix+"CLICKHOUSE_DATABASE"), c.ClickHouse.Database)
	c.ClickHouse.Table = pickStr(os.Getenv(prefix+"CLICKHOUSE_TABLE"), c.ClickHouse.Table)
	c.ClickHouse.User = pickStr(os.Getenv(prefix+"CLICKHOUSE_USER"), c.ClickHouse.User)
	c.ClickHouse.Password = pickStr(os.Getenv(prefix+"CLICKHOUSE_PASSWORD"), c.ClickHouse.Password)

	c.Server.Addr = pickStr(os.Getenv(prefix+"SERVER_ADDR"), c.Server.Addr)

	c.Logging.Level = pickStr(os.Getenv(prefix+"LOG_LEVEL"), c.Logging.Level)
	c.Logging.JSON = pickBool(os.Getenv(prefix+"LOG_JSON"), c.Logging.JSON)
}

func pickStr(env, cur string) string {
	if strings.TrimSpace(env) != "" {
		return strings.TrimSpace(env)
	}
	return cur
}

func pickBool(env string, cur bool) bool {
	if strings.TrimSpace(env) == "" {
		return cur
	}
	s := strings.ToLower(strings.TrimSpace(env))
	return s == "1" || s == "true" || s == "yes" || s == "on"
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
