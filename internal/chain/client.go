// Package chain is the adapter between the engine and an EVM JSON-RPC node.
package chain

import (
	"context"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// TxSpec describes a transaction to sign and send from the treasury account.
type TxSpec struct {
	To       common.Address
	Value    *big.Int
	Data     []byte
	GasLimit uint64
}

// Event is a decoded contract log.
type Event struct {
	Name    string
	Address common.Address
	TxHash  common.Hash
	Fields  map[string]interface{}
}

// Client is everything the engine needs from the chain. Every RPC failure is
// wrapped with types.ErrChainCall.
type Client interface {
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
	// FeeEstimate returns the effective gas price in wei.
	FeeEstimate(ctx context.Context) (*big.Int, error)
	// Submit signs and sends spec, then waits for its receipt within the
	// configured confirmation timeout.
	Submit(ctx context.Context, spec TxSpec) (*gethtypes.Receipt, error)
	ParseEvents(receipt *gethtypes.Receipt) ([]Event, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}
