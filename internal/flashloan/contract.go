// Package flashloan packs calls to the flash-loan arbitrage contract and reads
// its FlashLoanExecuted event back out of a receipt.
package flashloan

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/you/flash-bot/internal/chain"
)

const contractABI = `[
  {"inputs":[
     {"internalType":"address","name":"asset","type":"address"},
     {"internalType":"uint256","name":"amount","type":"uint256"}],
   "name":"executeFlashLoan","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[
     {"internalType":"address","name":"to","type":"address"},
     {"internalType":"uint256","name":"amount","type":"uint256"}],
   "name":"withdraw","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"anonymous":false,"inputs":[
     {"indexed":true,"internalType":"address","name":"asset","type":"address"},
     {"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"},
     {"indexed":false,"internalType":"uint256","name":"profit","type":"uint256"}],
   "name":"FlashLoanExecuted","type":"event"}
]`

const EventExecuted = "FlashLoanExecuted"

// ABI returns the parsed contract ABI. chain.Rotating uses it to decode receipts.
func ABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		panic(fmt.Sprintf("flashloan: bad abi: %v", err))
	}
	return parsed
}

// Contract is a deployed flash-loan contract.
type Contract struct {
	Address common.Address
	abi     abi.ABI
}

func New(addr common.Address) *Contract {
	return &Contract{Address: addr, abi: ABI()}
}

// ExecuteTx builds the transaction that borrows amount (quote-token base units)
// and routes it through asset.
func (c *Contract) ExecuteTx(asset common.Address, amount *big.Int, gasLimit uint64) (chain.TxSpec, error) {
	data, err := c.abi.Pack("executeFlashLoan", asset, amount)
	if err != nil {
		return chain.TxSpec{}, fmt.Errorf("pack executeFlashLoan: %w", err)
	}
	return chain.TxSpec{To: c.Address, Data: data, GasLimit: gasLimit}, nil
}

// WithdrawTx builds the transaction that moves amount wei from the contract to to.
func (c *Contract) WithdrawTx(to common.Address, amount *big.Int, gasLimit uint64) (chain.TxSpec, error) {
	data, err := c.abi.Pack("withdraw", to, amount)
	if err != nil {
		return chain.TxSpec{}, fmt.Errorf("pack withdraw: %w", err)
	}
	return chain.TxSpec{To: c.Address, Data: data, GasLimit: gasLimit}, nil
}

// Profit sums the profit field of every FlashLoanExecuted event emitted by the
// contract and converts it with the quote token's decimals. found is false when
// the receipt carries no such event.
func (c *Contract) Profit(events []chain.Event, quoteDecimals int) (profit decimal.Decimal, found bool) {
	total := new(big.Int)
	for _, ev := range events {
		if ev.Name != EventExecuted || ev.Address != c.Address {
			continue
		}
		p, ok := ev.Fields["profit"].(*big.Int)
		if !ok {
			continue
		}
		total.Add(total, p)
		found = true
	}
	return chain.FromUnits(total, quoteDecimals), found
}
