package risk

import (
	"github.com/shopspring/decimal"
	"github.com/you/flash-bot/internal/config"
	"github.com/you/flash-bot/internal/types"
)

type Engine struct {
	minProfit decimal.Decimal
	maxGas    decimal.Decimal
}

func NewEngine(cfg *config.Config) *Engine {
	return &Engine{
		minProfit: decimal.NewFromFloat(cfg.MinProfit()),
		maxGas:    decimal.NewFromFloat(cfg.Risk.MaxGasUSD),
	}
}

// Accept reports whether c is worth trading. Profit must be strictly above the
// threshold. A zero max gas disables the gas cap.
func (e *Engine) Accept(c types.Candidate, gasUSD decimal.Decimal) bool {
	if !c.EstimatedProfit.GreaterThan(e.minProfit) {
		return false
	}
	if e.maxGas.IsPositive() && gasUSD.GreaterThan(e.maxGas) {
		return false
	}
	return true
}

func (e *Engine) MinProfit() decimal.Decimal { return e.minProfit }
