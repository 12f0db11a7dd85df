package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/you/flash-bot/internal/types"
	"go.uber.org/zap"
)

// Backend is the subset of *ethclient.Client used by NodeClient.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

type NodeOptions struct {
	Key            *ecdsa.PrivateKey
	EventsABI      abi.ABI
	ConfirmTimeout time.Duration
	// RPCTimeout bounds the calls made before the transaction is sent.
	RPCTimeout   time.Duration
	PollInterval time.Duration
}

// NodeClient implements Client on top of a single RPC endpoint.
type NodeClient struct {
	b    Backend
	url  string
	opts NodeOptions
	from common.Address
	log  *zap.Logger

	chainMu sync.Mutex
	chainID *big.Int
}

func NewNodeClient(b Backend, url string, opts NodeOptions, log *zap.Logger) *NodeClient {
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 90 * time.Second
	}
	if opts.RPCTimeout <= 0 {
		opts.RPCTimeout = 10 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	c := &NodeClient{b: b, url: url, opts: opts, log: log}
	if opts.Key != nil {
		c.from = crypto.PubkeyToAddress(opts.Key.PublicKey)
	}
	return c
}

// Dial connects to url and wraps the connection in a NodeClient.
func Dial(ctx context.Context, url string, opts NodeOptions, log *zap.Logger) (*NodeClient, error) {
	ec, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, callErr("dial "+url, err)
	}
	log.Info("rpc endpoint connected", zap.String("url", url))
	return NewNodeClient(ec, url, opts, log), nil
}

func callErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, types.ErrChainCall, err)
}

func (c *NodeClient) URL() string { return c.url }

func (c *NodeClient) Close() { c.b.Close() }

func (c *NodeClient) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	bal, err := c.b.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, callErr("balance", err)
	}
	return bal, nil
}

func (c *NodeClient) FeeEstimate(ctx context.Context) (*big.Int, error) {
	header, err := c.b.HeaderByNumber(ctx, nil)
	if err != nil || header.BaseFee == nil {
		gp, err := c.b.SuggestGasPrice(ctx)
		if err != nil {
			return nil, callErr("suggest gas price", err)
		}
		return gp, nil
	}
	tip, err := c.b.SuggestGasTipCap(ctx)
	if err != nil {
		tip = big.NewInt(1e9) // 1 gwei
	}
	return new(big.Int).Add(header.BaseFee, tip), nil
}

func (c *NodeClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	out, err := c.b.CallContract(ctx, msg, blockNumber)
	if err != nil {
		return nil, callErr("call contract", err)
	}
	return out, nil
}

func (c *NodeClient) Submit(ctx context.Context, spec TxSpec) (*gethtypes.Receipt, error) {
	if c.opts.Key == nil {
		return nil, fmt.Errorf("%w: no signing key configured", types.ErrValidation)
	}
	tx, err := c.signAndSend(ctx, spec)
	if err != nil {
		return nil, err
	}
	c.log.Info("transaction sent",
		zap.String("tx", tx.Hash().Hex()),
		zap.String("to", spec.To.Hex()),
		zap.Uint64("nonce", tx.Nonce()),
		zap.String("rpc", c.url),
	)
	return c.awaitReceipt(ctx, tx.Hash())
}

func (c *NodeClient) signAndSend(ctx context.Context, spec TxSpec) (*gethtypes.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.RPCTimeout)
	defer cancel()
	tx, err := c.signTx(ctx, spec)
	if err != nil {
		return nil, err
	}
	if err := c.b.SendTransaction(ctx, tx); err != nil {
		return nil, callErr("send transaction", err)
	}
	return tx, nil
}

// awaitReceipt polls for the receipt until it shows up or the confirmation
// timeout passes. The transaction is never resent.
func (c *NodeClient) awaitReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, c.opts.ConfirmTimeout, types.ErrConfirmTimeout)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.PollInterval
	bo.MaxInterval = 4 * c.opts.PollInterval

	rcpt, err := backoff.Retry(ctx, func() (*gethtypes.Receipt, error) {
		return c.b.TransactionReceipt(ctx, hash)
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxElapsedTime(c.opts.ConfirmTimeout),
	)
	if err != nil {
		cause := context.Cause(ctx)
		if cause != nil && !errors.Is(cause, types.ErrConfirmTimeout) {
			// the caller gave up; the transaction may still land
			return nil, fmt.Errorf("tx %s: stopped waiting for receipt: %w", hash.Hex(), cause)
		}
		if errors.Is(err, ethereum.NotFound) || cause != nil {
			return nil, fmt.Errorf("tx %s not confirmed within %s: %w", hash.Hex(), c.opts.ConfirmTimeout, types.ErrConfirmTimeout)
		}
		return nil, callErr("transaction receipt", err)
	}
	return rcpt, nil
}

func (c *NodeClient) signTx(ctx context.Context, spec TxSpec) (*gethtypes.Transaction, error) {
	chainID, err := c.getChainID(ctx)
	if err != nil {
		return nil, err
	}
	nonce, err := c.b.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, callErr("get nonce", err)
	}
	value := spec.Value
	if value == nil {
		value = big.NewInt(0)
	}
	to := spec.To

	var tx *gethtypes.Transaction
	header, err := c.b.HeaderByNumber(ctx, nil)
	if err != nil || header.BaseFee == nil {
		gp, err := c.b.SuggestGasPrice(ctx)
		if err != nil {
			return nil, callErr("suggest gas price", err)
		}
		tx = gethtypes.NewTx(&gethtypes.LegacyTx{
			Nonce:    nonce,
			GasPrice: gp,
			Gas:      spec.GasLimit,
			To:       &to,
			Value:    value,
			Data:     spec.Data,
		})
	} else {
		tip, err := c.b.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, callErr("suggest gas tip cap", err)
		}
		feeCap := new(big.Int).Add(new(big.Int).Mul(header.BaseFee, big.NewInt(2)), tip)
		tx = gethtypes.NewTx(&gethtypes.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       spec.GasLimit,
			To:        &to,
			Value:     value,
			Data:      spec.Data,
		})
	}

	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(chainID), c.opts.Key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signed, nil
}

func (c *NodeClient) getChainID(ctx context.Context) (*big.Int, error) {
	c.chainMu.Lock()
	defer c.chainMu.Unlock()
	if c.chainID != nil {
		return c.chainID, nil
	}
	id, err := c.b.ChainID(ctx)
	if err != nil {
		return nil, callErr("get chain id", err)
	}
	c.chainID = id
	return id, nil
}

// ParseEvents decodes the receipt logs that match an event in the configured ABI.
// Logs from unknown events are skipped.
func (c *NodeClient) ParseEvents(receipt *gethtypes.Receipt) ([]Event, error) {
	return decodeEvents(c.opts.EventsABI, receipt)
}

func decodeEvents(contractABI abi.ABI, receipt *gethtypes.Receipt) ([]Event, error) {
	if receipt == nil {
		return nil, nil
	}
	var out []Event
	for _, lg := range receipt.Logs {
		if lg == nil || len(lg.Topics) == 0 {
			continue
		}
		ev, err := contractABI.EventByID(lg.Topics[0])
		if err != nil {
			continue
		}
		fields := make(map[string]interface{}, len(ev.Inputs))
		if err := ev.Inputs.UnpackIntoMap(fields, lg.Data); err != nil {
			return nil, fmt.Errorf("decode %s data: %w", ev.Name, err)
		}
		var indexed abi.Arguments
		for _, in := range ev.Inputs {
			if in.Indexed {
				indexed = append(indexed, in)
			}
		}
		if err := abi.ParseTopicsIntoMap(fields, indexed, lg.Topics[1:]); err != nil {
			return nil, fmt.Errorf("decode %s topics: %w", ev.Name, err)
		}
		out = append(out, Event{
			Name:    ev.Name,
			Address: lg.Address,
			TxHash:  lg.TxHash,
			Fields:  fields,
		})
	}
	return out, nil
}
