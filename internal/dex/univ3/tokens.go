package univ3

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flash-bot/internal/config"
	"github.com/you/flash-bot/internal/multicall"
)

const erc20DecimalsABI = `[
  {"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

// DecimalsMismatch is a configured token whose decimals() disagrees with the
// config. OnChain is -1 when the call reverted.
type DecimalsMismatch struct {
	Token   config.Token
	OnChain int
}

func (m DecimalsMismatch) String() string {
	if m.OnChain < 0 {
		return fmt.Sprintf("%s: decimals() failed", m.Token.Symbol)
	}
	return fmt.Sprintf("%s: config %d, token %d", m.Token.Symbol, m.Token.Decimals, m.OnChain)
}

// CheckDecimals reads decimals() for every token with an address in one
// multicall batch and returns those that do not match the configured value.
func CheckDecimals(ctx context.Context, mc multicall.IClient, tokens []config.Token) ([]DecimalsMismatch, error) {
	erc20, err := abi.JSON(strings.NewReader(erc20DecimalsABI))
	if err != nil {
		return nil, fmt.Errorf("bad abi: %w", err)
	}
	input, err := erc20.Pack("decimals")
	if err != nil {
		return nil, fmt.Errorf("pack decimals: %w", err)
	}

	var (
		calls   []multicall.Call
		checked []config.Token
	)
	for _, t := range tokens {
		if t.Address == "" {
			continue
		}
		calls = append(calls, multicall.Call{Target: common.HexToAddress(t.Address), CallData: input})
		checked = append(checked, t)
	}
	if len(calls) == 0 {
		return nil, nil
	}

	res, err := mc.Aggregate(ctx, calls)
	if err != nil {
		return nil, fmt.Errorf("decimals batch: %w", err)
	}

	var out []DecimalsMismatch
	for i, r := range res {
		onChain := -1
		if r.Success {
			if vals, err := erc20.Methods["decimals"].Outputs.Unpack(r.Data); err == nil && len(vals) == 1 {
				if d, ok := vals[0].(uint8); ok {
					onChain = int(d)
				}
			}
		}
		if onChain != checked[i].Decimals {
			out = append(out, DecimalsMismatch{Token: checked[i], OnChain: onChain})
		}
	}
	return out, nil
}
