package execution

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/you/flash-bot/internal/chain"
	"github.com/you/flash-bot/internal/config"
	"github.com/you/flash-bot/internal/flashloan"
	"github.com/you/flash-bot/internal/types"
	"go.uber.org/zap"
)

// Trader performs one flash-loan trade for c. feeWei is the gas price the
// engine observed for this tick. A returned error means the trade failed; the
// attempt is still recorded.
type Trader interface {
	Trade(ctx context.Context, c types.Candidate, feeWei *big.Int) (types.TradeAttempt, error)
}

// SimulatedTrader sends nothing. Profit is the estimate and gas is what the
// flash-loan transaction would cost at feeWei.
type SimulatedTrader struct {
	gasLimit uint64
}

func NewSimulatedTrader(cfg *config.Config) *SimulatedTrader {
	return &SimulatedTrader{gasLimit: cfg.Chain.GasLimitFlash}
}

func (s *SimulatedTrader) Trade(_ context.Context, c types.Candidate, feeWei *big.Int) (types.TradeAttempt, error) {
	gas := new(big.Int)
	if feeWei != nil {
		gas.Mul(feeWei, new(big.Int).SetUint64(s.gasLimit))
	}
	return types.TradeAttempt{
		ID:              "sim-" + uuid.NewString(),
		Asset:           c.AssetID,
		RequestedAmount: c.Amount,
		Success:         true,
		Profit:          c.EstimatedProfit,
		GasCost:         chain.WeiToNative(gas),
		Simulated:       true,
		Timestamp:       time.Now(),
	}, nil
}

// ChainTrader calls executeFlashLoan on the contract and books the profit the
// contract reports in its FlashLoanExecuted event.
type ChainTrader struct {
	client   chain.Client
	contract *flashloan.Contract
	quote    config.Token
	assets   map[string]common.Address
	gasLimit uint64
	log      *zap.Logger
}

func NewChainTrader(client chain.Client, contract *flashloan.Contract, cfg *config.Config, log *zap.Logger) *ChainTrader {
	assets := make(map[string]common.Address, len(cfg.Menu))
	for _, a := range cfg.Menu {
		if a.Address != "" {
			assets[a.Symbol] = common.HexToAddress(a.Address)
		}
	}
	return &ChainTrader{
		client:   client,
		contract: contract,
		quote:    cfg.DEX.QuoteToken,
		assets:   assets,
		gasLimit: cfg.Chain.GasLimitFlash,
		log:      log,
	}
}

func (t *ChainTrader) Trade(ctx context.Context, c types.Candidate, _ *big.Int) (types.TradeAttempt, error) {
	attempt := types.TradeAttempt{
		Asset:           c.AssetID,
		RequestedAmount: c.Amount,
		Timestamp:       time.Now(),
	}
	asset, ok := t.assets[c.AssetID]
	if !ok {
		return attempt, fmt.Errorf("%w: asset %s has no address", types.ErrValidation, c.AssetID)
	}
	spec, err := t.contract.ExecuteTx(asset, chain.ToUnits(c.Amount, t.quote.Decimals), t.gasLimit)
	if err != nil {
		return attempt, err
	}

	rcpt, err := t.client.Submit(ctx, spec)
	if err != nil {
		return attempt, fmt.Errorf("execute flash loan: %w", err)
	}
	attempt.TxHash = rcpt.TxHash.Hex()
	attempt.ID = attempt.TxHash
	attempt.GasCost = chain.WeiToNative(gasPaid(rcpt.GasUsed, rcpt.EffectiveGasPrice))

	if rcpt.Status == 0 {
		return attempt, fmt.Errorf("%w: tx %s", types.ErrTradeReverted, attempt.TxHash)
	}

	events, err := t.client.ParseEvents(rcpt)
	if err != nil {
		return attempt, fmt.Errorf("parse events: %w", err)
	}
	profit, found := t.contract.Profit(events, t.quote.Decimals)
	if !found {
		t.log.Warn("no FlashLoanExecuted event in receipt, booking zero profit",
			zap.String("tx", attempt.TxHash))
	}
	attempt.Profit = profit
	attempt.Success = true
	return attempt, nil
}

func gasPaid(used uint64, price *big.Int) *big.Int {
	if price == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(used), price)
}
