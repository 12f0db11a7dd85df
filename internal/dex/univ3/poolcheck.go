package univ3

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flash-bot/internal/multicall"
)

// DefaultFactory is the Uniswap V3 factory, deployed at the same address on
// mainnet and the major L2s.
const DefaultFactory = "0x1F98431c8aD98523631AE4a59f267346ea31F984"

const v3FactoryABI = `[
  {"inputs":[
    {"internalType":"address","name":"tokenA","type":"address"},
    {"internalType":"address","name":"tokenB","type":"address"},
    {"internalType":"uint24","name":"fee","type":"uint24"}],
   "name":"getPool",
   "outputs":[{"internalType":"address","name":"pool","type":"address"}],
   "stateMutability":"view","type":"function"}
]`

// AvailableFeeTiers reports which of tiers have a deployed base/quote pool,
// with the pool addresses. All lookups go out in one multicall.
func AvailableFeeTiers(ctx context.Context, mc multicall.IClient, factory, base, quote common.Address, tiers []uint32) (present []uint32, pools map[uint32]common.Address, err error) {
	if (base == common.Address{}) || (quote == common.Address{}) {
		return nil, nil, fmt.Errorf("base/quote address is zero")
	}
	fabi, err := abi.JSON(strings.NewReader(v3FactoryABI))
	if err != nil {
		return nil, nil, fmt.Errorf("parse factory abi: %w", err)
	}

	// getPool is symmetric but the factory stores pools under tokenA < tokenB.
	tokenA, tokenB := base, quote
	if strings.ToLower(tokenB.Hex()) < strings.ToLower(tokenA.Hex()) {
		tokenA, tokenB = tokenB, tokenA
	}

	calls := make([]multicall.Call, 0, len(tiers))
	for _, fee := range tiers {
		data, err := fabi.Pack("getPool", tokenA, tokenB, big.NewInt(int64(fee)))
		if err != nil {
			return nil, nil, fmt.Errorf("pack getPool: %w", err)
		}
		calls = append(calls, multicall.Call{Target: factory, CallData: data})
	}
	results, err := mc.Aggregate(ctx, calls)
	if err != nil {
		return nil, nil, fmt.Errorf("getPool batch: %w", err)
	}

	pools = make(map[uint32]common.Address, len(tiers))
	for i, res := range results {
		if i >= len(tiers) || !res.Success {
			continue
		}
		out, err := fabi.Unpack("getPool", res.Data)
		if err != nil || len(out) != 1 {
			return nil, nil, fmt.Errorf("unpack getPool(fee=%d): %w", tiers[i], err)
		}
		addr := out[0].(common.Address)
		if addr != (common.Address{}) {
			present = append(present, tiers[i])
			pools[tiers[i]] = addr
		}
	}
	return present, pools, nil
}
