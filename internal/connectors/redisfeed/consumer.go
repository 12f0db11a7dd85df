package redisfeed

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/you/flash-bot/internal/config"
)

// TradeEvent is one entry of the trade stream.
type TradeEvent struct {
	StreamID  string    `json:"id"`
	Ref       string    `json:"referenceId"`
	Asset     string    `json:"asset"`
	Success   bool      `json:"success"`
	Amount    float64   `json:"requestedAmount"`
	Profit    float64   `json:"profit"`
	GasCost   float64   `json:"gasCost"`
	TxHash    string    `json:"txHash,omitempty"`
	Simulated bool      `json:"simulated"`
	Error     string    `json:"error,omitempty"`
	Kind      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Consumer struct {
	rdb    *redis.Client
	stream string
}

func NewConsumer(rdb *redis.Client, cfg *config.Config) *Consumer {
	return &Consumer{rdb: rdb, stream: cfg.Redis.Stream}
}

// Recent returns up to n trade events, newest first.
func (c *Consumer) Recent(ctx context.Context, n int64) ([]TradeEvent, error) {
	msgs, err := c.rdb.XRevRangeN(ctx, c.stream, "+", "-", n).Result()
	if err != nil {
		return nil, err
	}
	out := make([]TradeEvent, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, decodeEvent(m))
	}
	return out, nil
}

func decodeEvent(m redis.XMessage) TradeEvent {
	str := func(k string) string {
		v, _ := m.Values[k].(string)
		return v
	}
	num := func(k string) float64 {
		f, _ := strconv.ParseFloat(str(k), 64)
		return f
	}
	ev := TradeEvent{
		StreamID:  m.ID,
		Ref:       str("ref"),
		Asset:     str("asset"),
		Success:   str("success") == "1",
		Amount:    num("amount"),
		Profit:    num("profit"),
		GasCost:   num("gas"),
		TxHash:    str("tx"),
		Simulated: str("simulated") == "1",
		Error:     str("error"),
		Kind:      str("kind"),
	}
	if ms, err := strconv.ParseInt(str("ts_ms"), 10, 64); err == nil {
		ev.Timestamp = time.UnixMilli(ms).UTC()
	}
	return ev
}
