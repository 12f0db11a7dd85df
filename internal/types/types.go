package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type Mode string

const (
	ModeSimulation Mode = "simulation"
	ModeChain      Mode = "chain"
)

// Candidate is one asset from the menu with its estimated profit.
type Candidate struct {
	AssetID         string
	EstimatedProfit decimal.Decimal // USD
	Amount          decimal.Decimal // notional, quote-token units
}

// TradeAttempt is the outcome of a single trade. It is consumed right away by the
// ledger and is not stored.
type TradeAttempt struct {
	ID              string // tx hash, or a generated id for simulated trades
	Asset           string
	RequestedAmount decimal.Decimal
	Success         bool
	Profit          decimal.Decimal // USD
	GasCost         decimal.Decimal // native units
	TxHash          string
	Simulated       bool
	Err             error
	Timestamp       time.Time
}

type LastTrade struct {
	Timestamp       time.Time       `json:"timestamp"`
	ReferenceID     string          `json:"referenceId"`
	Asset           string          `json:"asset"`
	RequestedAmount decimal.Decimal `json:"requestedAmount"`
	Profit          decimal.Decimal `json:"profit"`
	GasCost         decimal.Decimal `json:"gasCost"`
	Simulated       bool            `json:"simulated"`
}

// LedgerSnapshot is a detached copy of the ledger counters.
type LedgerSnapshot struct {
	TotalPnL          decimal.Decimal
	TotalTrades       int64
	SuccessfulTrades  int64
	FailedTrades      int64
	GasSpent          decimal.Decimal
	RecycledToBackend decimal.Decimal
	LastRecycle       time.Time
	LastTrade         *LastTrade
}
