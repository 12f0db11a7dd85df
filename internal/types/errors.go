package types

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientGas: treasury balance is below the configured minimum, nothing was attempted.
	ErrInsufficientGas = errors.New("insufficient gas")

	// ErrInsufficientFunds: a debit or withdrawal exceeds what is available.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrChainCall marks RPC failures. The rotating client switches endpoint on it.
	ErrChainCall = errors.New("chain call failed")

	ErrValidation    = errors.New("validation error")
	ErrNoOpportunity = errors.New("no opportunity")
	ErrTradeReverted = errors.New("trade reverted")
)

// ErrConfirmTimeout is returned when a submitted transaction has no receipt in time.
// It also matches ErrChainCall.
var ErrConfirmTimeout = fmt.Errorf("confirmation timeout: %w", ErrChainCall)

// Kind returns the name the HTTP facade reports for err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "ValidationError"
	case errors.Is(err, ErrInsufficientFunds):
		return "InsufficientFunds"
	case errors.Is(err, ErrInsufficientGas):
		return "InsufficientGas"
	case errors.Is(err, ErrNoOpportunity):
		return "NoOpportunity"
	case errors.Is(err, ErrTradeReverted):
		return "TradeReverted"
	case errors.Is(err, ErrChainCall):
		return "ChainCallFailure"
	default:
		return "InternalError"
	}
}
