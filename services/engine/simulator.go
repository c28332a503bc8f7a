package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FirstTouchResult indicates which level a bar hit
type FirstTouchResult int

const (
	TouchNone FirstTouchResult = iota
	TouchTarget
	TouchStop
)

// ResolveFirstTouch checks a long position against one bar. When both levels
// fall inside the bar the stop wins: bar data carries no intrabar ordering.
func ResolveFirstTouch(bar Bar, stop, target decimal.Decimal) FirstTouchResult {
	if bar.Low.LessThanOrEqual(stop) {
		return TouchStop
	}
	if bar.High.GreaterThanOrEqual(target) {
		return TouchTarget
	}
	return TouchNone
}

// Simulator resolves signals against the intraday series they came from
type Simulator struct {
	bars []Bar
	cfg  Config
}

func NewSimulator(bars []Bar, cfg Config) *Simulator {
	return &Simulator{bars: bars, cfg: cfg}
}

// Resolve walks forward from the entry bar until the stop or target is touched.
// If neither is touched the position is marked to the close of the last bar.
// An entry that gaps below its stop is booked too: the entry bar trades
// through the stop, so it resolves as a stop on that bar.
func (s *Simulator) Resolve(sig Signal) (Trade, error) {
	dist := sig.RiskDistance()
	if dist.IsZero() {
		return Trade{}, fmt.Errorf("%w: entry %s stop %s on %s", ErrDegenerateRisk, sig.EntryPrice, sig.StopPrice, sig.Date)
	}
	if sig.EntryIndex < 0 || sig.EntryIndex >= len(s.bars) {
		return Trade{}, fmt.Errorf("%w: entry index %d outside %d bars", ErrInsufficientData, sig.EntryIndex, len(s.bars))
	}

	risk := s.cfg.RiskPerTrade
	fee := s.cfg.Fee()
	trade := Trade{
		Signal:       sig,
		Outcome:      OutcomePending,
		PositionSize: risk.Div(dist),
		EntryFee:     fee,
		ExitFee:      fee,
	}

	for _, bar := range s.bars[sig.EntryIndex:] {
		switch ResolveFirstTouch(bar, sig.StopPrice, sig.TargetPrice) {
		case TouchStop:
			trade.Outcome = OutcomeStop
			trade.ExitPrice = sig.StopPrice
			trade.ResolutionTime = bar.Timestamp
			trade.PnL = risk.Neg()
			return trade, nil
		case TouchTarget:
			trade.Outcome = OutcomeTarget
			trade.ExitPrice = sig.TargetPrice
			trade.ResolutionTime = bar.Timestamp
			trade.PnL = risk.Mul(s.cfg.RewardRisk)
			return trade, nil
		}
	}

	last := s.bars[len(s.bars)-1]
	trade.Outcome = OutcomeMarkToMarket
	trade.ExitPrice = last.Close
	trade.ResolutionTime = last.Timestamp
	// multiply before dividing so 1:1 cases stay exact
	trade.PnL = last.Close.Sub(sig.EntryPrice).Mul(risk).Div(dist)
	return trade, nil
}
