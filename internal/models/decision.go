package models

import "time"

// Decision - результат прогона guard'ов по паре на блоке
type Decision struct {
	ID                 int64     `json:"id,omitempty" db:"id"`
	PairSymbol         string    `json:"pairSymbol" db:"pair_symbol"`
	Block              uint64    `json:"block" db:"block"`
	BuyDex             Dex       `json:"buyDex" db:"buy_dex"`
	SellDex            Dex       `json:"sellDex" db:"sell_dex"`
	SpreadBps          float64   `json:"spreadBps" db:"spread_bps"`
	EstimatedProfitUSD float64   `json:"estimatedProfitUSD" db:"estimated_profit_usd"`
	SlippageBps        float64   `json:"slippageBps" db:"slippage_bps"`
	GasCostUSD         float64   `json:"gasCostUSD" db:"gas_cost_usd"`
	Rv3Block           float64   `json:"rv3Block" db:"rv3_block"`
	SafeLoanSize       string    `json:"safeLoanSize,omitempty" db:"safe_loan_size"` // base units token1
	ProfitGuardPassed  bool      `json:"profitGuardPassed" db:"profit_guard_passed"`
	ShouldExecute      bool      `json:"shouldExecute" db:"should_execute"`
	Reason             string    `json:"reason,omitempty" db:"reason"`
	CreatedAt          time.Time `json:"createdAt" db:"created_at"`
}

// DecisionMessage - кадр arb.decision
type DecisionMessage struct {
	Type    string   `json:"type"`
	At      string   `json:"at"`
	Payload Decision `json:"payload"`
}

// NewDecisionMessage оборачивает решение в кадр
func NewDecisionMessage(d Decision, at time.Time) DecisionMessage {
	return DecisionMessage{
		Type:    TypeArbDecision,
		At:      at.UTC().Format(time.RFC3339Nano),
		Payload: d,
	}
}
