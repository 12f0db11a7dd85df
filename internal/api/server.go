// Package api is the HTTP facade over the engine and the earnings ledger.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/you/flash-bot/internal/connectors/redisfeed"
	"github.com/you/flash-bot/internal/execution"
	"github.com/you/flash-bot/internal/types"
	"go.uber.org/zap"
)

type Engine interface {
	Start() bool
	Stop() bool
	Running() bool
	Execute(ctx context.Context, amount *decimal.Decimal) (types.TradeAttempt, error)
	Withdraw(ctx context.Context, to common.Address, amount *decimal.Decimal) (execution.WithdrawResult, error)
	TreasuryBalance(ctx context.Context) (decimal.Decimal, error)
	Treasury() common.Address
	RecycleEarnings(amountUSD decimal.Decimal) (decimal.Decimal, error)
}

type Ledger interface {
	Snapshot() types.LedgerSnapshot
}

// TradeFeed is the optional Redis trade stream.
type TradeFeed interface {
	Recent(ctx context.Context, n int64) ([]redisfeed.TradeEvent, error)
}

// Info is static service metadata shown by the read endpoints.
type Info struct {
	Mode             types.Mode
	Strategy         string
	NativeUSDPrice   float64
	DefaultRecipient common.Address
	PushInterval     time.Duration
}

type Server struct {
	engine Engine
	ledger Ledger
	feed   TradeFeed
	info   Info
	log    *zap.Logger

	closeOnce sync.Once
	closing   chan struct{} // closed on shutdown; ends websocket streams
}

// New builds the facade. feed may be nil.
func New(engine Engine, ledger Ledger, feed TradeFeed, info Info, log *zap.Logger) *Server {
	if info.PushInterval <= 0 {
		info.PushInterval = time.Second
	}
	return &Server{engine: engine, ledger: ledger, feed: feed, info: info, log: log, closing: make(chan struct{})}
}

func (s *Server) closeStreams() { s.closeOnce.Do(func() { close(s.closing) }) }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /execute", s.handleExecute)
	mux.HandleFunc("GET /api/apex/strategies/live", s.handleLive)
	mux.HandleFunc("GET /balance", s.handleBalance)
	mux.HandleFunc("POST /withdraw", s.handleWithdraw)
	mux.HandleFunc("POST /fund-from-earnings", s.handleFund)
	mux.HandleFunc("POST /start", s.handleStart)
	mux.HandleFunc("POST /stop", s.handleStop)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /trades/recent", s.handleRecent)
	mux.HandleFunc("GET /ws/live", s.handleWS)
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(indexHTML))
	})
	return withCORS(s.withRecover(mux))
}

// Serve runs the HTTP server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 3 * time.Second,
	}
	srv.RegisterOnShutdown(s.closeStreams)

	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
	}()

	s.log.Info("api listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.log.Error("handler panic",
					zap.String("path", r.URL.Path),
					zap.Any("panic", v),
					zap.Stack("stack"),
				)
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "InternalError"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
