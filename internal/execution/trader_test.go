package execution

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/you/flash-bot/internal/chain"
	"github.com/you/flash-bot/internal/config"
	"github.com/you/flash-bot/internal/flashloan"
	"github.com/you/flash-bot/internal/types"
	"go.uber.org/zap"
)

var contractAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")

func chainTraderFixture() (*ChainTrader, *fakeChain) {
	cfg := config.Default()
	cfg.Menu = []config.Asset{{Symbol: "PEPE", Address: "0x25d887ce7a35172c62febfd67a1856f20faebb00"}}
	fc := newFakeChain("1")
	return NewChainTrader(fc, flashloan.New(contractAddr), cfg, zap.NewNop()), fc
}

func pepeCandidate() types.Candidate {
	return types.Candidate{AssetID: "PEPE", EstimatedProfit: decimal.NewFromInt(10), Amount: decimal.NewFromInt(1000)}
}

func TestChainTrader_Success(t *testing.T) {
	tr, fc := chainTraderFixture()
	fc.receipt = &gethtypes.Receipt{
		Status:            1,
		TxHash:            common.HexToHash("0xfeed"),
		GasUsed:           500_000,
		EffectiveGasPrice: big.NewInt(2e9),
	}
	fc.events = []chain.Event{{
		Name:    flashloan.EventExecuted,
		Address: contractAddr,
		Fields:  map[string]interface{}{"profit": big.NewInt(12_340_000)},
	}}

	a, err := tr.Trade(context.Background(), pepeCandidate(), nil)
	require.NoError(t, err)
	assert.True(t, a.Success)
	assert.False(t, a.Simulated)
	assert.True(t, a.Profit.Equal(decimal.RequireFromString("12.34")), a.Profit.String())
	assert.True(t, a.GasCost.Equal(decimal.RequireFromString("0.001")), a.GasCost.String())
	assert.Equal(t, common.HexToHash("0xfeed").Hex(), a.TxHash)
	assert.Equal(t, a.TxHash, a.ID)

	require.Len(t, fc.submitted, 1)
	assert.Equal(t, contractAddr, fc.submitted[0].To)
	args, err := flashloan.ABI().Methods["executeFlashLoan"].Inputs.Unpack(fc.submitted[0].Data[4:])
	require.NoError(t, err)
	assert.Equal(t, "1000000000", args[1].(*big.Int).String(), "1000 USDC in base units")
}

func TestChainTrader_Reverted(t *testing.T) {
	tr, fc := chainTraderFixture()
	fc.receipt = &gethtypes.Receipt{Status: 0, TxHash: common.HexToHash("0x01")}

	a, err := tr.Trade(context.Background(), pepeCandidate(), nil)
	assert.ErrorIs(t, err, types.ErrTradeReverted)
	assert.False(t, a.Success)
	assert.NotEmpty(t, a.TxHash)
}

func TestChainTrader_SubmitError(t *testing.T) {
	tr, fc := chainTraderFixture()
	fc.submitErr = types.ErrConfirmTimeout

	_, err := tr.Trade(context.Background(), pepeCandidate(), nil)
	assert.ErrorIs(t, err, types.ErrChainCall)
}

func TestChainTrader_UnknownAsset(t *testing.T) {
	tr, fc := chainTraderFixture()
	_, err := tr.Trade(context.Background(), types.Candidate{AssetID: "NOPE", Amount: decimal.NewFromInt(1)}, nil)
	assert.ErrorIs(t, err, types.ErrValidation)
	assert.Empty(t, fc.submitted)
}

func TestSimulatedTrader(t *testing.T) {
	cfg := config.Default()
	cfg.Chain.GasLimitFlash = 900_000
	a, err := NewSimulatedTrader(cfg).Trade(context.Background(), pepeCandidate(), big.NewInt(1e9))
	require.NoError(t, err)
	assert.True(t, a.Success)
	assert.True(t, a.Simulated)
	assert.True(t, a.Profit.Equal(decimal.NewFromInt(10)))
	assert.True(t, a.GasCost.Equal(decimal.RequireFromString("0.0009")), a.GasCost.String())
	assert.Empty(t, a.TxHash)
}
