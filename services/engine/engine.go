package engine

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BacktestReport is the in-memory result of one run
type BacktestReport struct {
	ConfigHash       string          `json:"config_hash"`
	InitialBalance   decimal.Decimal `json:"initial_balance"`
	RiskPerTrade     decimal.Decimal `json:"risk_per_trade"`
	FinalBalance     decimal.Decimal `json:"final_balance"`
	TotalFees        decimal.Decimal `json:"total_fees"`
	TotalTrades      int             `json:"total_trades"`
	WinningTrades    int             `json:"winning_trades"`
	DiscardedSignals int             `json:"discarded_signals"`
	TradingDays      int             `json:"trading_days"`
	Trades           []Trade         `json:"trades"`
	Detector         DetectorStats   `json:"detector"`
	Events           []Event         `json:"events,omitempty"`
}

func (r *BacktestReport) LosingTrades() int { return r.TotalTrades - r.WinningTrades }

// WinRate is the percentage of winning trades, zero when nothing traded
func (r *BacktestReport) WinRate() decimal.Decimal {
	if r.TotalTrades == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(r.WinningTrades)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(r.TotalTrades)))
}

// NetPnL is final minus initial balance, fees included
func (r *BacktestReport) NetPnL() decimal.Decimal {
	return r.FinalBalance.Sub(r.InitialBalance)
}

// RawPnL counts every win as +risk and every other trade as -risk, ignoring fees
func (r *BacktestReport) RawPnL() decimal.Decimal {
	wins := decimal.NewFromInt(int64(r.WinningTrades))
	losses := decimal.NewFromInt(int64(r.LosingTrades()))
	return wins.Sub(losses).Mul(r.RiskPerTrade)
}

// DaysTraded is the number of distinct dates holding a trade
func (r *BacktestReport) DaysTraded() int {
	seen := make(map[Date]struct{}, len(r.Trades))
	for _, t := range r.Trades {
		seen[t.Date] = struct{}{}
	}
	return len(seen)
}

type runOptions struct {
	logger *zap.Logger
	sink   func(Event)
}

type Option func(*runOptions)

func WithLogger(l *zap.Logger) Option {
	return func(o *runOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithEventSink receives every event as it is appended to the run's log
func WithEventSink(fn func(Event)) Option {
	return func(o *runOptions) { o.sink = fn }
}

// Run executes the whole pipeline: reference table, detector, simulator, ledger.
// The run is deterministic; identical inputs yield an identical report.
func Run(intraday, daily []Bar, cfg Config, opts ...Option) (*BacktestReport, error) {
	o := runOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(intraday) < minIntradayBars {
		return nil, fmt.Errorf("%w: need at least %d intraday bars, got %d", ErrInsufficientData, minIntradayBars, len(intraday))
	}
	if err := checkOrdered("intraday", intraday); err != nil {
		return nil, err
	}
	if err := checkOrdered("daily", daily); err != nil {
		return nil, err
	}
	if err := checkDailyDates(daily); err != nil {
		return nil, err
	}
	table, err := BuildReferenceTable(daily)
	if err != nil {
		return nil, err
	}
	if ce := log.Check(zap.DebugLevel, "reference table built"); ce != nil {
		dates := table.Dates()
		fields := []zap.Field{zap.Int("dates", len(dates))}
		for _, d := range dates[:min(5, len(dates))] {
			fields = append(fields, zap.String(d.String(), table[d].String()))
		}
		ce.Write(fields...)
	}

	var events EventLog
	emit := func(e Event) {
		events.Append(e)
		if o.sink != nil {
			o.sink(e)
		}
	}

	det := NewDetector(intraday, table, cfg.RewardRisk)
	sim := NewSimulator(intraday, cfg)
	ledger := NewLedger(cfg)
	report := &BacktestReport{
		ConfigHash:     cfg.Hash(),
		InitialBalance: cfg.InitialBalance,
		RiskPerTrade:   cfg.RiskPerTrade,
		Trades:         []Trade{},
	}

	for sig := range det.Signals() {
		emit(signalEvent(sig))
		log.Debug("signal",
			zap.Stringer("date", sig.Date),
			zap.Time("entry_time", sig.EntryTime),
			zap.Stringer("entry", sig.EntryPrice),
			zap.Stringer("stop", sig.StopPrice),
			zap.Stringer("target", sig.TargetPrice),
			zap.Stringer("pdl", sig.ReferenceLevel))

		trade, err := sim.Resolve(sig)
		if errors.Is(err, ErrDegenerateRisk) {
			report.DiscardedSignals++
			emit(discardEvent(sig, err))
			log.Warn("signal discarded", zap.Stringer("date", sig.Date), zap.Error(err))
			if !cfg.LockDayOnDegenerate {
				det.Release(sig.Date)
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		state := ledger.Apply(trade)
		report.Trades = append(report.Trades, trade)
		emit(resolutionEvent(trade))
		log.Debug("trade resolved",
			zap.Stringer("date", trade.Date),
			zap.Stringer("outcome", trade.Outcome),
			zap.Stringer("pnl", trade.PnL),
			zap.Stringer("balance", state.Balance))
	}

	state := ledger.State()
	report.FinalBalance = state.Balance
	report.TotalFees = state.TotalFees
	report.TotalTrades = state.TradesTotal
	report.WinningTrades = state.TradesWon
	report.Detector = det.Stats()
	report.TradingDays = countDates(intraday)
	report.Events = events.Events

	log.Info("backtest complete",
		zap.Int("trades", report.TotalTrades),
		zap.Int("wins", report.WinningTrades),
		zap.Int("discarded", report.DiscardedSignals),
		zap.Stringer("final_balance", report.FinalBalance),
		zap.Stringer("total_fees", report.TotalFees),
		zap.String("config_hash", report.ConfigHash))
	return report, nil
}

func countDates(bars []Bar) int {
	n := 0
	var last Date
	for i, b := range bars {
		d := DateOf(b.Timestamp)
		if i == 0 || d != last {
			n++
			last = d
		}
	}
	return n
}
