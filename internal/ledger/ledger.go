// Package ledger keeps the in-memory earnings record of the trading engine.
//
// Nothing here is persisted: every counter starts at zero when the process starts.
// This is a known limitation and is accepted.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/you/flash-bot/internal/types"
)

type Ledger struct {
	mu sync.RWMutex

	totalPnL         decimal.Decimal
	totalTrades      int64
	successfulTrades int64
	failedTrades     int64
	gasSpent         decimal.Decimal
	recycled         decimal.Decimal
	lastRecycle      time.Time
	lastTrade        *types.LastTrade
}

func New() *Ledger { return &Ledger{} }

// ApplyTrade records one attempt. Only successful attempts move PnL and gas.
func (l *Ledger) ApplyTrade(a types.TradeAttempt) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.totalTrades++
	if !a.Success {
		l.failedTrades++
		return
	}
	l.successfulTrades++
	l.totalPnL = l.totalPnL.Add(a.Profit)
	l.gasSpent = l.gasSpent.Add(a.GasCost)

	ts := a.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	l.lastTrade = &types.LastTrade{
		Timestamp:       ts,
		ReferenceID:     a.ID,
		Asset:           a.Asset,
		RequestedAmount: a.RequestedAmount,
		Profit:          a.Profit,
		GasCost:         a.GasCost,
		Simulated:       a.Simulated,
	}
}

// Debit subtracts amount (USD) from total PnL and returns the new balance.
func (l *Ledger) Debit(amount decimal.Decimal) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debitLocked(amount)
}

func (l *Ledger) debitLocked(amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return l.totalPnL, fmt.Errorf("%w: debit amount must be positive, got %s", types.ErrValidation, amount)
	}
	if amount.GreaterThan(l.totalPnL) {
		return l.totalPnL, fmt.Errorf("%w: debit %s exceeds balance %s", types.ErrInsufficientFunds, amount.StringFixed(2), l.totalPnL.StringFixed(2))
	}
	l.totalPnL = l.totalPnL.Sub(amount)
	return l.totalPnL, nil
}

// Recycle debits amount and books it as recycled to the backend. It only moves
// numbers in the ledger, no transaction is sent.
func (l *Ledger) Recycle(amount decimal.Decimal) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	remaining, err := l.debitLocked(amount)
	if err != nil {
		return remaining, err
	}
	l.recycled = l.recycled.Add(amount)
	l.lastRecycle = time.Now()
	return remaining, nil
}

func (l *Ledger) TotalPnL() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalPnL
}

// Snapshot returns a copy that shares nothing with the live record.
func (l *Ledger) Snapshot() types.LedgerSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := types.LedgerSnapshot{
		TotalPnL:          l.totalPnL,
		TotalTrades:       l.totalTrades,
		SuccessfulTrades:  l.successfulTrades,
		FailedTrades:      l.failedTrades,
		GasSpent:          l.gasSpent,
		RecycledToBackend: l.recycled,
		LastRecycle:       l.lastRecycle,
	}
	if l.lastTrade != nil {
		lt := *l.lastTrade
		s.LastTrade = &lt
	}
	return s
}
