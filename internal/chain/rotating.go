package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	imetrics "github.com/you/flash-bot/internal/metrics"
	"github.com/you/flash-bot/internal/types"
	"go.uber.org/zap"
)

// Dialer opens a Client for one endpoint URL.
type Dialer func(ctx context.Context, url string) (Client, error)

// Rotating sends every call to the pool's current endpoint. When a call fails
// with types.ErrChainCall, it moves the pool to the next endpoint, so the next
// call goes there. Clients are dialled on first use and kept.
type Rotating struct {
	pool   *EndpointPool
	dial   Dialer
	events abi.ABI
	log    *zap.Logger

	mu      sync.Mutex
	clients map[int]Client
}

// NewRotating builds a client over pool. events is the contract ABI used by
// ParseEvents, which needs no endpoint.
func NewRotating(pool *EndpointPool, dial Dialer, events abi.ABI, log *zap.Logger) *Rotating {
	return &Rotating{
		pool:    pool,
		dial:    dial,
		events:  events,
		log:     log,
		clients: make(map[int]Client, pool.Len()),
	}
}

func (r *Rotating) Pool() *EndpointPool { return r.pool }

func (r *Rotating) current(ctx context.Context) (Client, int, error) {
	idx, url := r.pool.Current()

	r.mu.Lock()
	c, ok := r.clients[idx]
	r.mu.Unlock()
	if ok {
		return c, idx, nil
	}

	c, err := r.dial(ctx, url)
	if err != nil {
		if !errors.Is(err, types.ErrChainCall) {
			err = fmt.Errorf("dial %s: %w: %w", url, types.ErrChainCall, err)
		}
		return nil, idx, r.observe(idx, err)
	}

	r.mu.Lock()
	if existing, ok := r.clients[idx]; ok {
		r.mu.Unlock()
		closeClient(c)
		return existing, idx, nil
	}
	r.clients[idx] = c
	r.mu.Unlock()
	return c, idx, nil
}

// observe rotates the pool if err is a chain-call failure on endpoint idx.
func (r *Rotating) observe(idx int, err error) error {
	if err == nil || !errors.Is(err, types.ErrChainCall) {
		return err
	}
	next, moved := r.pool.RotateFrom(idx)
	if moved {
		imetrics.RPCRotations.Inc()
		imetrics.RPCEndpointIndex.Set(float64(next))
		_, url := r.pool.Current()
		r.log.Warn("rpc endpoint rotated",
			zap.Int("from", idx),
			zap.Int("to", next),
			zap.String("url", url),
			zap.Error(err),
		)
	}
	return err
}

func (r *Rotating) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	c, idx, err := r.current(ctx)
	if err != nil {
		return nil, err
	}
	v, err := c.Balance(ctx, addr)
	return v, r.observe(idx, err)
}

func (r *Rotating) FeeEstimate(ctx context.Context) (*big.Int, error) {
	c, idx, err := r.current(ctx)
	if err != nil {
		return nil, err
	}
	v, err := c.FeeEstimate(ctx)
	return v, r.observe(idx, err)
}

func (r *Rotating) Submit(ctx context.Context, spec TxSpec) (*gethtypes.Receipt, error) {
	c, idx, err := r.current(ctx)
	if err != nil {
		return nil, err
	}
	rcpt, err := c.Submit(ctx, spec)
	return rcpt, r.observe(idx, err)
}

func (r *Rotating) ParseEvents(receipt *gethtypes.Receipt) ([]Event, error) {
	return decodeEvents(r.events, receipt)
}

func (r *Rotating) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	c, idx, err := r.current(ctx)
	if err != nil {
		return nil, err
	}
	out, err := c.CallContract(ctx, msg, blockNumber)
	return out, r.observe(idx, err)
}

// Close closes every dialled client.
func (r *Rotating) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for idx, c := range r.clients {
		closeClient(c)
		delete(r.clients, idx)
	}
}

func closeClient(c Client) {
	if cl, ok := c.(interface{ Close() }); ok {
		cl.Close()
	}
}
