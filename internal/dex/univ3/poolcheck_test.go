package univ3

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/you/flash-bot/internal/multicall"
)

func TestAvailableFeeTiers(t *testing.T) {
	fabi, err := abi.JSON(strings.NewReader(v3FactoryABI))
	require.NoError(t, err)
	factory := common.HexToAddress(DefaultFactory)
	pool := common.HexToAddress("0xd6b5b5e5dfbd3d8bfa5d4e0dd7c2c9cbbc1e4a01")

	mock := &MockMulticallClient{Respond: func(calls []multicall.Call) []multicall.Result {
		out := make([]multicall.Result, len(calls))
		for i, c := range calls {
			require.Equal(t, factory, c.Target)
			args, err := fabi.Methods["getPool"].Inputs.Unpack(c.CallData[4:])
			require.NoError(t, err)
			// tokens arrive sorted
			assert.Equal(t, usdc, args[1])
			addr := common.Address{}
			if args[2].(*big.Int).Int64() == 3000 {
				addr = pool
			}
			data, err := fabi.Methods["getPool"].Outputs.Pack(addr)
			require.NoError(t, err)
			out[i] = multicall.Result{Success: true, Data: data}
		}
		return out
	}}

	present, pools, err := AvailableFeeTiers(context.Background(), mock, factory, pepe, usdc, []uint32{500, 3000})
	require.NoError(t, err)
	assert.Equal(t, []uint32{3000}, present)
	assert.Equal(t, pool, pools[3000])
}

func TestAvailableFeeTiers_ZeroAddress(t *testing.T) {
	_, _, err := AvailableFeeTiers(context.Background(), &MockMulticallClient{}, common.Address{}, common.Address{}, usdc, []uint32{500})
	assert.Error(t, err)
}
