// Package redisfeed mirrors recorded trades to Redis for dashboards. The feed is
// write-mostly: the ledger never reads its state back from here.
package redisfeed

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/you/flash-bot/internal/config"
	"github.com/you/flash-bot/internal/types"
)

// NewClient opens the Redis client shared by Publisher and Consumer.
func NewClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
	})
}

type Publisher struct {
	rdb         *redis.Client
	stream      string
	snapshotKey string
	maxLen      int64
}

func NewPublisher(rdb *redis.Client, cfg *config.Config) *Publisher {
	return &Publisher{
		rdb:         rdb,
		stream:      cfg.Redis.Stream,
		snapshotKey: cfg.Redis.SnapshotKey,
		maxLen:      cfg.Redis.MaxLen,
	}
}

// PublishTrade appends a to the trade stream and overwrites the ledger
// snapshot hash, in one transaction.
func (p *Publisher) PublishTrade(ctx context.Context, a types.TradeAttempt, snap types.LedgerSnapshot) error {
	ts := a.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	values := map[string]interface{}{
		"ref":       a.ID,
		"asset":     a.Asset,
		"success":   boolStr(a.Success),
		"amount":    a.RequestedAmount.String(),
		"profit":    a.Profit.String(),
		"gas":       a.GasCost.String(),
		"tx":        a.TxHash,
		"simulated": boolStr(a.Simulated),
		"ts_ms":     ts.UnixMilli(),
	}
	if a.Err != nil {
		values["error"] = a.Err.Error()
		values["kind"] = types.Kind(a.Err)
	}

	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: p.stream,
			MaxLen: p.maxLen,
			Values: values,
		})
		pipe.HSet(ctx, p.snapshotKey, map[string]interface{}{
			"total_pnl":         snap.TotalPnL.String(),
			"total_trades":      snap.TotalTrades,
			"successful_trades": snap.SuccessfulTrades,
			"failed_trades":     snap.FailedTrades,
			"gas_spent":         snap.GasSpent.String(),
			"recycled":          snap.RecycledToBackend.String(),
			"ts_ms":             ts.UnixMilli(),
		})
		return nil
	})
	return err
}

func boolStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
