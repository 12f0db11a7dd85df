package univ3

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	imetrics "github.com/you/flash-bot/internal/metrics"
	"github.com/you/flash-bot/internal/multicall"
	"go.uber.org/zap"
)

const quoterV2ABI = `[
  {"inputs":[{"components":[
      {"internalType":"address","name":"tokenIn","type":"address"},
      {"internalType":"address","name":"tokenOut","type":"address"},
      {"internalType":"uint256","name":"amountIn","type":"uint256"},
      {"internalType":"uint24","name":"fee","type":"uint24"},
      {"internalType":"uint160","name":"sqrtPriceLimitX96","type":"uint160"}],
    "internalType":"struct IQuoterV2.QuoteExactInputSingleParams","name":"params","type":"tuple"}],
   "name":"quoteExactInputSingle",
   "outputs":[
      {"internalType":"uint256","name":"amountOut","type":"uint256"},
      {"internalType":"uint160","name":"sqrtPriceX96After","type":"uint160"},
      {"internalType":"uint32","name":"initializedTicksCrossed","type":"uint32"},
      {"internalType":"uint256","name":"gasEstimate","type":"uint256"}],
   "stateMutability":"nonpayable","type":"function"}
]`

// ErrNoQuote is returned when no fee tier produced a quote for a leg.
var ErrNoQuote = errors.New("no successful quote for any fee tier")

// MultiQuoter quotes Uniswap V3 swaps through QuoterV2, batching every fee tier
// of a leg into one multicall.
type MultiQuoter struct {
	log    *zap.Logger
	mc     multicall.IClient
	q2abi  abi.ABI
	quoter common.Address
}

// RoundTrip is the best quote for quote token -> asset -> quote token.
type RoundTrip struct {
	AmountIn  *big.Int
	Mid       *big.Int // asset units received on the first leg
	AmountOut *big.Int
	FeeIn     uint32
	FeeOut    uint32
}

// Gain is AmountOut - AmountIn, negative on a losing round trip.
func (rt RoundTrip) Gain() *big.Int {
	return new(big.Int).Sub(rt.AmountOut, rt.AmountIn)
}

func NewMultiQuoter(mc multicall.IClient, quoter common.Address, log *zap.Logger) (*MultiQuoter, error) {
	if quoter == (common.Address{}) {
		return nil, fmt.Errorf("quoter v2 address is not configured")
	}
	q2abi, err := abi.JSON(strings.NewReader(quoterV2ABI))
	if err != nil {
		return nil, fmt.Errorf("parse quoter v2 abi: %w", err)
	}
	return &MultiQuoter{log: log, mc: mc, q2abi: q2abi, quoter: quoter}, nil
}

// QuoteRoundTrip sells amountIn of quote for asset on the best tier, then sells
// the asset proceeds back for quote on the best tier.
func (mq *MultiQuoter) QuoteRoundTrip(ctx context.Context, quote, asset common.Address, amountIn *big.Int, tiers []uint32) (RoundTrip, error) {
	start := time.Now()
	defer func() { imetrics.QuoteLatency.Observe(time.Since(start).Seconds()) }()

	mid, feeIn, err := mq.BestExactInput(ctx, quote, asset, amountIn, tiers)
	if err != nil {
		imetrics.QuoterErrors.Inc()
		return RoundTrip{}, fmt.Errorf("leg %s->%s: %w", quote.Hex(), asset.Hex(), err)
	}
	out, feeOut, err := mq.BestExactInput(ctx, asset, quote, mid, tiers)
	if err != nil {
		imetrics.QuoterErrors.Inc()
		return RoundTrip{}, fmt.Errorf("leg %s->%s: %w", asset.Hex(), quote.Hex(), err)
	}
	return RoundTrip{AmountIn: amountIn, Mid: mid, AmountOut: out, FeeIn: feeIn, FeeOut: feeOut}, nil
}

// BestExactInput returns the largest amountOut over tiers for swapping
// amountIn of tokenIn into tokenOut. Tiers without a pool are skipped.
func (mq *MultiQuoter) BestExactInput(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, tiers []uint32) (*big.Int, uint32, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, 0, fmt.Errorf("amountIn must be positive")
	}
	calls := make([]multicall.Call, 0, len(tiers))
	metas := make([]uint32, 0, len(tiers))
	for _, fee := range tiers {
		callData, err := mq.q2abi.Pack("quoteExactInputSingle", mq.buildExactInputParams(tokenIn, tokenOut, amountIn, fee))
		if err != nil {
			mq.log.Warn("failed to pack quote data", zap.Error(err), zap.Uint32("fee", fee))
			continue
		}
		calls = append(calls, multicall.Call{Target: mq.quoter, CallData: callData})
		metas = append(metas, fee)
	}
	if len(calls) == 0 {
		return nil, 0, fmt.Errorf("no valid calls could be constructed")
	}

	results, err := mq.mc.Aggregate(ctx, calls)
	if err != nil {
		return nil, 0, fmt.Errorf("multicall aggregate failed: %w", err)
	}

	var best *big.Int
	var bestFee uint32
	for i, res := range results {
		if i >= len(metas) || !res.Success {
			continue
		}
		unpacked, err := mq.q2abi.Methods["quoteExactInputSingle"].Outputs.Unpack(res.Data)
		if err != nil || len(unpacked) == 0 {
			continue
		}
		amount, ok := unpacked[0].(*big.Int)
		if !ok || amount.Sign() <= 0 {
			continue
		}
		if best == nil || amount.Cmp(best) > 0 {
			best, bestFee = amount, metas[i]
		}
	}
	if best == nil {
		return nil, 0, ErrNoQuote
	}
	return best, bestFee, nil
}

func (mq *MultiQuoter) buildExactInputParams(tokenIn, tokenOut common.Address, amountIn *big.Int, fee uint32) interface{} {
	return struct {
		TokenIn           common.Address
		TokenOut          common.Address
		AmountIn          *big.Int
		Fee               *big.Int
		SqrtPriceLimitX96 *big.Int
	}{
		TokenIn:           tokenIn,
		TokenOut:          tokenOut,
		AmountIn:          amountIn,
		Fee:               big.NewInt(int64(fee)),
		SqrtPriceLimitX96: big.NewInt(0),
	}
}
