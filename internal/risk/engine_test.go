package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/you/flash-bot/internal/config"
	"github.com/you/flash-bot/internal/types"
)

func cand(profit string) types.Candidate {
	return types.Candidate{AssetID: "PEPE", EstimatedProfit: decimal.RequireFromString(profit)}
}

func TestAccept_Threshold(t *testing.T) {
	cfg := config.Default()
	five := 5.0
	cfg.Risk.MinProfitUSD = &five
	e := NewEngine(cfg)

	assert.False(t, e.Accept(cand("4.9"), decimal.Zero))
	assert.False(t, e.Accept(cand("5"), decimal.Zero), "threshold is exclusive")
	assert.True(t, e.Accept(cand("5.01"), decimal.Zero))
	assert.False(t, e.Accept(cand("-3"), decimal.Zero))
}

func TestAccept_GasCap(t *testing.T) {
	cfg := config.Default()
	five := 5.0
	cfg.Risk.MinProfitUSD = &five
	cfg.Risk.MaxGasUSD = 20
	e := NewEngine(cfg)

	assert.True(t, e.Accept(cand("50"), decimal.NewFromInt(19)))
	assert.False(t, e.Accept(cand("50"), decimal.NewFromInt(21)))

	cfg.Risk.MaxGasUSD = 0
	assert.True(t, NewEngine(cfg).Accept(cand("50"), decimal.NewFromInt(1000)))
}

func TestAccept_ZeroThreshold(t *testing.T) {
	cfg := config.Default()
	zero := 0.0
	cfg.Risk.MinProfitUSD = &zero
	e := NewEngine(cfg)

	assert.True(t, e.Accept(cand("0.01"), decimal.Zero))
	assert.False(t, e.Accept(cand("0"), decimal.Zero))
}
