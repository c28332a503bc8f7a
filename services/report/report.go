// Package report renders backtest results as text and CSV
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"liquidity-sweep-backtest/services/engine"
)

var hundred = decimal.NewFromInt(100)

// TradeSummary contains aggregated statistics
type TradeSummary struct {
	TotalTrades         int             `json:"total_trades"`
	Wins                int             `json:"wins"`
	Losses              int             `json:"losses"`
	WinRate             decimal.Decimal `json:"win_rate"`
	RawPnL              decimal.Decimal `json:"raw_pnl"`
	NetPnL              decimal.Decimal `json:"net_pnl"`
	TotalFees           decimal.Decimal `json:"total_fees"`
	AvgWin              decimal.Decimal `json:"avg_win"`
	AvgLoss             decimal.Decimal `json:"avg_loss"`
	ProfitFactor        decimal.Decimal `json:"profit_factor"`
	MaxDrawdown         decimal.Decimal `json:"max_drawdown_pct"`
	AvgHoldingTimeHours decimal.Decimal `json:"avg_holding_time_hours"`
	TradingDays         int             `json:"trading_days"`
	DaysTraded          int             `json:"days_traded"`
}

// Summarize derives statistics from a report. Averages and profit factor use
// pnl after fees; wins follow the ledger rule of pnl > 0 before fees.
func Summarize(r *engine.BacktestReport) TradeSummary {
	s := TradeSummary{
		TotalTrades: r.TotalTrades,
		Wins:        r.WinningTrades,
		Losses:      r.LosingTrades(),
		WinRate:     r.WinRate(),
		RawPnL:      r.RawPnL(),
		NetPnL:      r.NetPnL(),
		TotalFees:   r.TotalFees,
		TradingDays: r.TradingDays,
		DaysTraded:  r.DaysTraded(),
	}
	if len(r.Trades) == 0 {
		return s
	}

	var grossProfit, grossLoss, maxDD decimal.Decimal
	var held time.Duration
	equity, peak := r.InitialBalance, r.InitialBalance
	for _, t := range r.Trades {
		net := t.NetPnL()
		if t.PnL.IsPositive() {
			grossProfit = grossProfit.Add(net)
		} else {
			grossLoss = grossLoss.Add(net.Abs())
		}
		held += t.ResolutionTime.Sub(t.EntryTime)

		equity = equity.Add(net)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		if dd := peak.Sub(equity).Div(peak); dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	if s.Wins > 0 {
		s.AvgWin = grossProfit.Div(decimal.NewFromInt(int64(s.Wins)))
	}
	if s.Losses > 0 {
		s.AvgLoss = grossLoss.Div(decimal.NewFromInt(int64(s.Losses)))
	}
	if grossLoss.IsPositive() {
		s.ProfitFactor = grossProfit.Div(grossLoss)
	}
	s.MaxDrawdown = maxDD.Mul(hundred)
	s.AvgHoldingTimeHours = decimal.NewFromFloat(held.Hours()).Div(decimal.NewFromInt(int64(len(r.Trades))))
	return s
}

// TradeDetail is the printable view of a trade, prices rounded to cents
type TradeDetail struct {
	Date        engine.Date     `json:"date"`
	EntryCandle time.Time       `json:"entry_candle"`
	Entry       decimal.Decimal `json:"entry"`
	StopLoss    decimal.Decimal `json:"sl"`
	TakeProfit  decimal.Decimal `json:"tp"`
	Result      decimal.Decimal `json:"result"`
	PDL         decimal.Decimal `json:"pdl"`
	Outcome     engine.Outcome  `json:"outcome"`
}

func TradeDetails(trades []engine.Trade) []TradeDetail {
	out := make([]TradeDetail, len(trades))
	for i, t := range trades {
		out[i] = TradeDetail{
			Date:        t.Date,
			EntryCandle: t.EntryTime,
			Entry:       t.EntryPrice.Round(2),
			StopLoss:    t.StopPrice.Round(2),
			TakeProfit:  t.TargetPrice.Round(2),
			Result:      t.PnL.Round(2),
			PDL:         t.ReferenceLevel.Round(2),
			Outcome:     t.Outcome,
		}
	}
	return out
}

func usd(d decimal.Decimal) string { return "$" + d.StringFixed(2) }

// WriteSummary prints the results block followed by one line per trade
func WriteSummary(w io.Writer, r *engine.BacktestReport) error {
	s := Summarize(r)
	pw := &errWriter{w: w}
	pw.printf("Backtest Results:\n")
	pw.printf("Total Trades Taken: %d\n", s.TotalTrades)
	pw.printf("Winning Trades: %d\n", s.Wins)
	pw.printf("Losing Trades: %d\n", s.Losses)
	pw.printf("Win Rate: %s%%\n", s.WinRate.StringFixed(2))
	pw.printf("Raw P&L (without fees): %s\n", usd(s.RawPnL))
	pw.printf("Initial Account Balance: %s\n", usd(r.InitialBalance))
	pw.printf("Final Account Balance: %s\n", usd(r.FinalBalance))
	pw.printf("Net P&L: %s\n", usd(s.NetPnL))
	pw.printf("Total Fees: %s\n", usd(s.TotalFees))
	if r.DiscardedSignals > 0 {
		pw.printf("Discarded Signals (entry at stop): %d\n", r.DiscardedSignals)
	}

	pw.printf("\nTrade Details:\n")
	for _, d := range TradeDetails(r.Trades) {
		pw.printf("%s - Entry: %s | SL: %s | TP: %s | Result: %s | PDL: %s\n",
			d.EntryCandle.Format("2006-01-02 15:04:05-07:00"),
			usd(d.Entry), usd(d.StopLoss), usd(d.TakeProfit), usd(d.Result), usd(d.PDL))
	}

	pw.printf("\nSummary:\n")
	pw.printf("Total number of trading days: %d\n", s.TradingDays)
	pw.printf("Days with trades: %d\n", s.DaysTraded)
	pw.printf("Config hash: %s\n", r.ConfigHash)
	return pw.err
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

// WriteTradesCSV writes one row per trade and a trailing summary section
func WriteTradesCSV(w io.Writer, r *engine.BacktestReport) error {
	writer := csv.NewWriter(w)
	header := []string{
		"date", "entry_time", "entry_index", "entry_price", "stop_price", "target_price",
		"pdl", "outcome", "exit_price", "exit_time", "position_size", "pnl", "entry_fee", "exit_fee",
	}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, t := range r.Trades {
		record := []string{
			t.Date.String(),
			t.EntryTime.Format(time.RFC3339),
			strconv.Itoa(t.EntryIndex),
			t.EntryPrice.String(),
			t.StopPrice.String(),
			t.TargetPrice.String(),
			t.ReferenceLevel.String(),
			t.Outcome.String(),
			t.ExitPrice.String(),
			t.ResolutionTime.Format(time.RFC3339),
			t.PositionSize.StringFixed(8),
			t.PnL.StringFixed(8),
			t.EntryFee.String(),
			t.ExitFee.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	s := Summarize(r)
	for _, row := range [][]string{
		{""},
		{"# Summary"},
		{"total_trades", strconv.Itoa(s.TotalTrades)},
		{"wins", strconv.Itoa(s.Wins)},
		{"losses", strconv.Itoa(s.Losses)},
		{"win_rate", s.WinRate.StringFixed(2)},
		{"raw_pnl", s.RawPnL.StringFixed(2)},
		{"net_pnl", s.NetPnL.StringFixed(2)},
		{"total_fees", s.TotalFees.StringFixed(2)},
		{"final_balance", r.FinalBalance.StringFixed(2)},
		{"max_drawdown_pct", s.MaxDrawdown.StringFixed(4)},
		{"profit_factor", s.ProfitFactor.StringFixed(4)},
	} {
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
