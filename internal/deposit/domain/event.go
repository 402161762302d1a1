package domain

import (
	"github.com/shopspring/decimal"
)

// CandidateEvent 扫到的命中转账，还没和账本对账
type CandidateEvent struct {
	Chain       string          `json:"chain"`
	TxHash      string          `json:"txHash"`
	Address     string          `json:"address"`
	UserID      string          `json:"userId"`
	Amount      decimal.Decimal `json:"amount"`
	Symbol      string          `json:"symbol"`
	Contract    string          `json:"contract,omitempty"`
	From        string          `json:"from,omitempty"`
	BlockNumber int64           `json:"blockNumber"`
	BlockHash   string          `json:"blockHash,omitempty"`
}

type Outcome string

const (
	OutcomeCredited         Outcome = "credited"
	OutcomeDuplicateIgnored Outcome = "duplicate-ignored"
	OutcomeAmountMismatch   Outcome = "amount-mismatch"
)
