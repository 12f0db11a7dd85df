package univ3

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/you/flash-bot/internal/multicall"
	"go.uber.org/zap"
)

// MockMulticallClient answers each batch through Respond.
type MockMulticallClient struct {
	Respond func(calls []multicall.Call) []multicall.Result
	Error   error
	Batches int
}

func (m *MockMulticallClient) Aggregate(ctx context.Context, calls []multicall.Call) ([]multicall.Result, error) {
	m.Batches++
	if m.Error != nil {
		return nil, m.Error
	}
	return m.Respond(calls), nil
}

var (
	usdc   = common.HexToAddress("0xaf88d065e77c8cc2239327c5edb3a432268e5831")
	pepe   = common.HexToAddress("0x25d887ce7a35172c62febfd67a1856f20faebb00")
	quoter = common.HexToAddress("0x61fFE014bA17989E743c5F6cB21bF9697530B21e")
)

type quoteParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	AmountIn          *big.Int
	Fee               *big.Int
	SqrtPriceLimitX96 *big.Int
}

// pricedQuoter answers quoteExactInputSingle with amountIn*rate[tokenIn][fee]/1000.
// A missing rate is a revert.
func pricedQuoter(t *testing.T, mq *MultiQuoter, rate map[common.Address]map[uint32]int64) func([]multicall.Call) []multicall.Result {
	method := mq.q2abi.Methods["quoteExactInputSingle"]
	return func(calls []multicall.Call) []multicall.Result {
		out := make([]multicall.Result, len(calls))
		for i, c := range calls {
			require.Equal(t, quoter, c.Target)
			args, err := method.Inputs.Unpack(c.CallData[4:])
			require.NoError(t, err)
			p := *abi.ConvertType(args[0], new(quoteParams)).(*quoteParams)
			r, ok := rate[p.TokenIn][uint32(p.Fee.Int64())]
			if !ok {
				out[i] = multicall.Result{Success: false}
				continue
			}
			amt := new(big.Int).Div(new(big.Int).Mul(p.AmountIn, big.NewInt(r)), big.NewInt(1000))
			data, err := method.Outputs.Pack(amt, big.NewInt(0), uint32(0), big.NewInt(0))
			require.NoError(t, err)
			out[i] = multicall.Result{Success: true, Data: data}
		}
		return out
	}
}

func newTestQuoter(t *testing.T) (*MultiQuoter, *MockMulticallClient) {
	mock := &MockMulticallClient{}
	mq, err := NewMultiQuoter(mock, quoter, zap.NewNop())
	require.NoError(t, err)
	return mq, mock
}

func TestMultiQuoter_QuoteRoundTrip(t *testing.T) {
	mq, mock := newTestQuoter(t)
	mock.Respond = pricedQuoter(t, mq, map[common.Address]map[uint32]int64{
		usdc: {500: 2000, 3000: 2010}, // 10000 has no pool
		pepe: {500: 501, 3000: 499},
	})

	in := big.NewInt(1_000_000_000) // 1000 USDC
	rt, err := mq.QuoteRoundTrip(context.Background(), usdc, pepe, in, []uint32{500, 3000, 10000})
	require.NoError(t, err)

	assert.Equal(t, uint32(3000), rt.FeeIn)
	assert.Equal(t, uint32(500), rt.FeeOut)
	assert.Equal(t, "2010000000", rt.Mid.String())
	// 2010000000 * 501 / 1000
	assert.Equal(t, "1007010000", rt.AmountOut.String())
	assert.Equal(t, "7010000", rt.Gain().String())
	assert.Equal(t, 2, mock.Batches, "one batch per leg")
}

func TestMultiQuoter_NoTierQuotes(t *testing.T) {
	mq, mock := newTestQuoter(t)
	mock.Respond = pricedQuoter(t, mq, map[common.Address]map[uint32]int64{
		usdc: {500: 2000},
	})

	_, err := mq.QuoteRoundTrip(context.Background(), usdc, pepe, big.NewInt(1e9), []uint32{500})
	assert.ErrorIs(t, err, ErrNoQuote)
}

func TestMultiQuoter_AggregateError(t *testing.T) {
	mq, mock := newTestQuoter(t)
	mock.Error = errors.New("rpc down")

	_, err := mq.QuoteRoundTrip(context.Background(), usdc, pepe, big.NewInt(1e9), []uint32{500})
	assert.ErrorContains(t, err, "rpc down")
}

func TestMultiQuoter_RejectsZeroAmount(t *testing.T) {
	mq, _ := newTestQuoter(t)
	_, _, err := mq.BestExactInput(context.Background(), usdc, pepe, big.NewInt(0), []uint32{500})
	assert.Error(t, err)
}

func TestNewMultiQuoter_RequiresAddress(t *testing.T) {
	_, err := NewMultiQuoter(&MockMulticallClient{}, common.Address{}, zap.NewNop())
	assert.Error(t, err)
}
