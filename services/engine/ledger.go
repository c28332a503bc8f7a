package engine

import "github.com/shopspring/decimal"

// AccountState is the running account after each applied trade
type AccountState struct {
	Balance     decimal.Decimal `json:"balance"`
	TotalFees   decimal.Decimal `json:"total_fees"`
	TradesWon   int             `json:"trades_won"`
	TradesTotal int             `json:"trades_total"`
}

// Ledger owns the account state. Trades are applied in signal order, once each.
type Ledger struct {
	state AccountState
}

func NewLedger(cfg Config) *Ledger {
	return &Ledger{state: AccountState{
		Balance:   cfg.InitialBalance,
		TotalFees: decimal.Zero,
	}}
}

// Apply books a resolved trade. Stop and target carry pnl of -risk / +risk so
// the same net formula covers all three outcomes.
func (l *Ledger) Apply(t Trade) AccountState {
	fees := t.Fees()
	l.state.Balance = l.state.Balance.Add(t.PnL).Sub(fees)
	l.state.TotalFees = l.state.TotalFees.Add(fees)
	l.state.TradesTotal++
	if t.PnL.IsPositive() {
		l.state.TradesWon++
	}
	return l.state
}

func (l *Ledger) State() AccountState { return l.state }
