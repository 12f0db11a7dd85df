package main

import (
	"context"
	"crypto/ecdsa"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/you/flash-bot/internal/api"
	"github.com/you/flash-bot/internal/chain"
	"github.com/you/flash-bot/internal/config"
	"github.com/you/flash-bot/internal/connectors/redisfeed"
	"github.com/you/flash-bot/internal/dex/univ3"
	"github.com/you/flash-bot/internal/evaluator"
	"github.com/you/flash-bot/internal/execution"
	"github.com/you/flash-bot/internal/flashloan"
	"github.com/you/flash-bot/internal/ledger"
	"github.com/you/flash-bot/internal/metrics"
	"github.com/you/flash-bot/internal/multicall"
	"github.com/you/flash-bot/internal/risk"
	"github.com/you/flash-bot/internal/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newLogger(level, encoding string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	if encoding == "" {
		encoding = "json"
	}
	rfc3339 := func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format(time.RFC3339))
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(lvl),
		Development: false,
		Encoding:    encoding,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stack",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     rfc3339,
			EncodeDuration: zapcore.MillisDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	return cfg.Build()
}

func parseFlags() (cfgPath, mode, logLevel string) {
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config")
	flag.StringVar(&mode, "mode", "", "override mode: simulation | chain")
	flag.StringVar(&logLevel, "log-level", "", "override log level")
	flag.Parse()
	return cfgPath, mode, logLevel
}

func main() {
	cfgPath, mode, logLevel := parseFlags()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if mode != "" {
		cfg.Mode = types.Mode(strings.ToLower(mode))
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logger, err := newLogger(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		logger.Warn("received signal, shutting down")
		cancel()
	}()
	metrics.Serve(ctx, cfg.Metrics.ListenAddr, nil, logger)

	key, treasury, err := loadKey(cfg)
	if err != nil {
		logger.Fatal("treasury key", zap.Error(err))
	}

	pool, err := chain.NewEndpointPool(cfg.Chain.RPCEndpoints)
	if err != nil {
		logger.Fatal("rpc endpoints", zap.Error(err))
	}
	events := flashloan.ABI()
	opts := chain.NodeOptions{
		Key:            key,
		EventsABI:      events,
		ConfirmTimeout: cfg.ConfirmTimeout(),
		RPCTimeout:     cfg.RPCTimeout(),
	}
	rpc := chain.NewRotating(pool, func(ctx context.Context, url string) (chain.Client, error) {
		c, err := chain.Dial(ctx, url, opts, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	}, events, logger)
	defer rpc.Close()

	strategy, err := buildStrategy(cfg, rpc, logger)
	if err != nil {
		logger.Fatal("estimation strategy", zap.Error(err))
	}

	var contract *flashloan.Contract
	if cfg.FlashLoan.Contract != "" {
		addr, err := chain.ParseAddress(cfg.FlashLoan.Contract)
		if err != nil {
			logger.Fatal("flash-loan contract address", zap.Error(err))
		}
		contract = flashloan.New(addr)
	}

	var trader execution.Trader
	switch cfg.Mode {
	case types.ModeChain:
		trader = execution.NewChainTrader(rpc, contract, cfg, logger)
	default:
		trader = execution.NewSimulatedTrader(cfg)
	}

	var (
		sink execution.Sink
		feed api.TradeFeed
	)
	if cfg.Redis.Addr != "" {
		rdb := redisfeed.NewClient(cfg)
		defer rdb.Close()
		pctx, pcancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rdb.Ping(pctx).Err(); err != nil {
			logger.Warn("redis unreachable, trade feed will retry per trade", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		pcancel()
		sink = redisfeed.NewPublisher(rdb, cfg)
		feed = redisfeed.NewConsumer(rdb, cfg)
	}

	led := ledger.New()
	engine := execution.New(cfg, execution.Deps{
		Chain:     rpc,
		Ledger:    led,
		Evaluator: evaluator.New(strategy, logger),
		Risk:      risk.NewEngine(cfg),
		Trader:    trader,
		Treasury:  treasury,
		Contract:  contract,
		Sink:      sink,
	}, logger)

	recipient, err := chain.ParseAddress(cfg.FlashLoan.FeeRecipient)
	if err != nil {
		logger.Fatal("fee recipient address", zap.Error(err))
	}
	server := api.New(engine, led, feed, api.Info{
		Mode:             cfg.Mode,
		Strategy:         strategy.Name(),
		NativeUSDPrice:   cfg.Chain.NativeUSDPrice,
		DefaultRecipient: recipient,
		PushInterval:     cfg.PushInterval(),
	}, logger)
	go func() {
		if err := server.Serve(ctx, cfg.ListenAddr); err != nil {
			logger.Error("api server failed", zap.Error(err))
			cancel()
		}
	}()

	logger.Info("flash-bot up",
		zap.String("mode", string(cfg.Mode)),
		zap.String("strategy", strategy.Name()),
		zap.String("treasury", treasury.Hex()),
		zap.Int("rpc_endpoints", pool.Len()),
		zap.Int("menu", len(cfg.Menu)),
	)
	if cfg.Mode == types.ModeSimulation {
		logger.Warn("simulation mode: no transactions are sent and all results are flagged simulated")
	}
	if cfg.Autostart() {
		engine.Start()
	}

	<-ctx.Done()
	engine.Stop()
	// an in-flight trade may still be waiting for its receipt
	wctx, wcancel := context.WithTimeout(context.Background(), cfg.ConfirmTimeout()+10*time.Second)
	defer wcancel()
	if err := engine.Wait(wctx); err != nil {
		logger.Warn("engine did not stop in time", zap.Error(err))
	}
	logger.Info("flash-bot stopped")
}

// loadKey returns the signing key (nil without one) and the treasury address.
func loadKey(cfg *config.Config) (*ecdsa.PrivateKey, common.Address, error) {
	if cfg.Chain.WalletPK == "" {
		addr, err := chain.ParseAddress(cfg.Chain.Treasury)
		return nil, addr, err
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.Chain.WalletPK), "0x"))
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("%w: bad private key", types.ErrValidation)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	if cfg.Chain.Treasury != "" {
		want, err := chain.ParseAddress(cfg.Chain.Treasury)
		if err != nil {
			return nil, common.Address{}, err
		}
		if want != addr {
			return nil, common.Address{}, fmt.Errorf("%w: treasury %s does not match key address %s", types.ErrValidation, want.Hex(), addr.Hex())
		}
	}
	return key, addr, nil
}

func buildStrategy(cfg *config.Config, rpc chain.Client, logger *zap.Logger) (evaluator.EstimationStrategy, error) {
	switch cfg.Strategy.Kind {
	case "simulated":
		return evaluator.NewSimulated(cfg.Strategy.SimMinBps, cfg.Strategy.SimMaxBps, cfg.Strategy.Seed), nil
	case "onchain_quote":
		mc, err := multicall.New(rpc, common.HexToAddress(cfg.DEX.Multicall))
		if err != nil {
			return nil, err
		}
		q, err := univ3.NewMultiQuoter(mc, common.HexToAddress(cfg.DEX.QuoterV2), logger)
		if err != nil {
			return nil, err
		}
		return evaluator.NewOnChainQuote(q, rpc, cfg), nil
	default:
		return nil, fmt.Errorf("unknown strategy kind %q", cfg.Strategy.Kind)
	}
}
