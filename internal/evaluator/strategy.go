package evaluator

import (
	"context"
	"fmt"
	"math/big"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/you/flash-bot/internal/chain"
	"github.com/you/flash-bot/internal/config"
	"github.com/you/flash-bot/internal/dex/univ3"
	"github.com/you/flash-bot/internal/types"
)

// EstimationStrategy estimates the USD profit of a flash-loan round trip of
// amount (quote-token units) through asset.
type EstimationStrategy interface {
	Name() string
	Estimate(ctx context.Context, asset config.Asset, amount decimal.Decimal) (decimal.Decimal, error)
}

// Simulated draws a uniform profit between minBps and maxBps of the notional.
// It is a demo fixture for simulation mode and carries no market information.
type Simulated struct {
	minBps, maxBps float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulated seeds the generator with seed, or with the clock when seed is 0.
func NewSimulated(minBps, maxBps float64, seed uint64) *Simulated {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Simulated{
		minBps: minBps,
		maxBps: maxBps,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (s *Simulated) Name() string { return "simulated" }

func (s *Simulated) Estimate(_ context.Context, _ config.Asset, amount decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	f := s.rng.Float64()
	s.mu.Unlock()
	bps := s.minBps + f*(s.maxBps-s.minBps)
	return amount.Mul(decimal.NewFromFloat(bps)).Div(decimal.NewFromInt(10_000)).Round(6), nil
}

type RoundTripQuoter interface {
	QuoteRoundTrip(ctx context.Context, quote, asset common.Address, amountIn *big.Int, tiers []uint32) (univ3.RoundTrip, error)
}

type FeeSource interface {
	FeeEstimate(ctx context.Context) (*big.Int, error)
}

// OnChainQuote prices quote -> asset -> quote on Uniswap V3 and subtracts the
// gas of the flash-loan transaction. The quote token is treated as USD.
type OnChainQuote struct {
	quoter      RoundTripQuoter
	fees        FeeSource
	quote       config.Token
	tiers       []uint32
	gasLimit    uint64
	nativePrice decimal.Decimal
}

func NewOnChainQuote(q RoundTripQuoter, fees FeeSource, cfg *config.Config) *OnChainQuote {
	return &OnChainQuote{
		quoter:      q,
		fees:        fees,
		quote:       cfg.DEX.QuoteToken,
		tiers:       cfg.DEX.FeeTiers,
		gasLimit:    cfg.Chain.GasLimitFlash,
		nativePrice: decimal.NewFromFloat(cfg.Chain.NativeUSDPrice),
	}
}

func (o *OnChainQuote) Name() string { return "onchain_quote" }

func (o *OnChainQuote) Estimate(ctx context.Context, asset config.Asset, amount decimal.Decimal) (decimal.Decimal, error) {
	if asset.Address == "" {
		return decimal.Zero, fmt.Errorf("%w: asset %s has no address", types.ErrValidation, asset.Symbol)
	}
	amountIn := chain.ToUnits(amount, o.quote.Decimals)
	rt, err := o.quoter.QuoteRoundTrip(ctx,
		common.HexToAddress(o.quote.Address),
		common.HexToAddress(asset.Address),
		amountIn, o.tiers)
	if err != nil {
		return decimal.Zero, fmt.Errorf("quote %s: %w", asset.Symbol, err)
	}
	fee, err := o.fees.FeeEstimate(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fee estimate: %w", err)
	}
	gasWei := new(big.Int).Mul(fee, new(big.Int).SetUint64(o.gasLimit))
	gasUSD := chain.WeiToNative(gasWei).Mul(o.nativePrice)

	return chain.FromUnits(rt.Gain(), o.quote.Decimals).Sub(gasUSD), nil
}
