// Package execution runs the periodic trade loop: check gas, pick the best
// candidate, trade it and record the outcome in the ledger.
package execution

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/you/flash-bot/internal/chain"
	"github.com/you/flash-bot/internal/config"
	"github.com/you/flash-bot/internal/evaluator"
	"github.com/you/flash-bot/internal/flashloan"
	"github.com/you/flash-bot/internal/ledger"
	imetrics "github.com/you/flash-bot/internal/metrics"
	"github.com/you/flash-bot/internal/risk"
	"github.com/you/flash-bot/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Tick outcomes, also used as the flash_ticks_total label.
const (
	OutcomePaused        = "paused"
	OutcomeNoOpportunity = "no_opportunity"
	OutcomeTraded        = "traded"
	OutcomeFailed        = "failed"
	OutcomeError         = "error"
)

// Sink receives every recorded trade. Errors are logged only.
type Sink interface {
	PublishTrade(ctx context.Context, a types.TradeAttempt, snap types.LedgerSnapshot) error
}

type TickResult struct {
	Outcome   string
	Balance   decimal.Decimal // treasury, native units
	Candidate *types.Candidate
	Attempt   *types.TradeAttempt
	Err       error
}

type WithdrawResult struct {
	TxHash string
	To     common.Address
	Amount decimal.Decimal // native units
}

type Deps struct {
	Chain     chain.Client
	Ledger    *ledger.Ledger
	Evaluator *evaluator.Evaluator
	Risk      *risk.Engine
	Trader    Trader
	Treasury  common.Address
	// Contract is required only when withdraw.source is "contract".
	Contract *flashloan.Contract
	Sink     Sink
}

type Engine struct {
	cfg  *config.Config
	deps Deps
	log  *zap.Logger

	minGas      decimal.Decimal
	reserve     decimal.Decimal
	nativePrice decimal.Decimal

	// submitMu serialises every path that may send a transaction.
	submitMu sync.Mutex

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
	loops   atomic.Int32
}

func New(cfg *config.Config, deps Deps, log *zap.Logger) *Engine {
	return &Engine{
		cfg:         cfg,
		deps:        deps,
		log:         log,
		minGas:      decimal.NewFromFloat(cfg.Chain.MinGasNative),
		reserve:     decimal.NewFromFloat(cfg.WithdrawReserve()),
		nativePrice: decimal.NewFromFloat(cfg.Chain.NativeUSDPrice),
	}
}

// Start launches the tick loop (and the recycle job when enabled). It returns
// false if the engine is already running.
func (e *Engine) Start() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return false
	}
	e.running = true
	e.stop = make(chan struct{})

	e.loops.Add(1)
	e.wg.Add(1)
	go e.loop(e.stop)

	if e.cfg.RecycleEnabled() {
		e.wg.Add(1)
		go e.recycleLoop(e.stop)
	}

	imetrics.EngineRunning.Set(1)
	e.log.Info("engine started",
		zap.String("mode", string(e.cfg.Mode)),
		zap.String("strategy", e.deps.Evaluator.StrategyName()),
		zap.Duration("interval", e.cfg.TickInterval()),
	)
	return true
}

// Stop prevents further ticks. A tick already in flight runs to completion.
// It returns false if the engine was not running.
func (e *Engine) Stop() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return false
	}
	e.running = false
	close(e.stop)
	imetrics.EngineRunning.Set(0)
	e.log.Info("engine stopped")
	return true
}

func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// ActiveLoops is the number of tick loops currently alive.
func (e *Engine) ActiveLoops() int { return int(e.loops.Load()) }

// Wait blocks until every loop goroutine has exited or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) loop(stop <-chan struct{}) {
	defer e.wg.Done()
	defer e.loops.Add(-1)

	interval := e.cfg.TickInterval()
	t := time.NewTimer(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			e.Tick(context.Background())
			t.Reset(interval)
		}
	}
}

// Tick runs one iteration of the trade loop. It never returns an error: the
// outcome and any cause are reported in the result.
func (e *Engine) Tick(ctx context.Context) TickResult {
	start := time.Now()
	e.submitMu.Lock()
	res := e.run(ctx, decimal.NewFromFloat(e.cfg.Trade.FlashAmount), true)
	e.submitMu.Unlock()

	imetrics.Ticks.WithLabelValues(res.Outcome).Inc()
	imetrics.TickDuration.Observe(time.Since(start).Seconds())
	return res
}

// Execute runs one trade on demand. It keeps the gas precondition but skips
// the profit threshold. amount overrides the configured notional.
func (e *Engine) Execute(ctx context.Context, amount *decimal.Decimal) (types.TradeAttempt, error) {
	notional := decimal.NewFromFloat(e.cfg.Trade.FlashAmount)
	if amount != nil {
		notional = *amount
	}
	if !notional.IsPositive() {
		return types.TradeAttempt{}, fmt.Errorf("%w: flash amount must be positive", types.ErrValidation)
	}

	// Once a transaction is sent its confirmation is awaited even if the
	// caller goes away; the RPC and confirmation timeouts still apply.
	ctx = context.WithoutCancel(ctx)

	e.submitMu.Lock()
	res := e.run(ctx, notional, false)
	e.submitMu.Unlock()

	switch res.Outcome {
	case OutcomeTraded:
		return *res.Attempt, nil
	case OutcomeFailed:
		return *res.Attempt, res.Err
	default:
		return types.TradeAttempt{}, res.Err
	}
}

// run is the body shared by Tick and Execute. The caller holds submitMu.
func (e *Engine) run(ctx context.Context, notional decimal.Decimal, applyRisk bool) TickResult {
	bal, fee, err := e.balanceAndFee(ctx)
	if err != nil {
		e.log.Warn("tick aborted: chain query failed", zap.Error(err))
		return TickResult{Outcome: OutcomeError, Err: err}
	}
	imetrics.TreasuryBalance.Set(bal.InexactFloat64())

	if bal.LessThan(e.minGas) {
		e.log.Warn("paused: insufficient gas",
			zap.String("balance", bal.String()),
			zap.String("min_gas", e.minGas.String()),
		)
		return TickResult{
			Outcome: OutcomePaused,
			Balance: bal,
			Err:     fmt.Errorf("%w: balance %s below %s", types.ErrInsufficientGas, bal, e.minGas),
		}
	}

	ectx, cancel := context.WithTimeout(ctx, e.cfg.RPCTimeout())
	cands, err := e.deps.Evaluator.Evaluate(ectx, e.cfg.Menu, notional)
	cancel()
	if err != nil {
		e.log.Warn("tick aborted: evaluation failed", zap.Error(err))
		return TickResult{Outcome: OutcomeError, Balance: bal, Err: err}
	}
	best, ok := evaluator.Best(cands)
	if !ok {
		return TickResult{Outcome: OutcomeNoOpportunity, Balance: bal, Err: types.ErrNoOpportunity}
	}

	if applyRisk && !e.deps.Risk.Accept(best, e.gasUSD(fee)) {
		e.log.Debug("best candidate rejected",
			zap.String("asset", best.AssetID),
			zap.String("estimated_profit", best.EstimatedProfit.StringFixed(2)),
			zap.String("min_profit", e.deps.Risk.MinProfit().String()),
		)
		return TickResult{
			Outcome:   OutcomeNoOpportunity,
			Balance:   bal,
			Candidate: &best,
			Err:       fmt.Errorf("%w: best %s at $%s", types.ErrNoOpportunity, best.AssetID, best.EstimatedProfit.StringFixed(2)),
		}
	}

	attempt, err := e.deps.Trader.Trade(ctx, best, fee)
	if attempt.Asset == "" {
		attempt.Asset = best.AssetID
		attempt.RequestedAmount = best.Amount
	}
	if attempt.Timestamp.IsZero() {
		attempt.Timestamp = time.Now()
	}
	if err != nil {
		attempt.Success = false
		attempt.Err = err
	}
	e.record(ctx, attempt)

	res := TickResult{Outcome: OutcomeTraded, Balance: bal, Candidate: &best, Attempt: &attempt}
	if !attempt.Success {
		res.Outcome = OutcomeFailed
		res.Err = attempt.Err
	}
	return res
}

func (e *Engine) balanceAndFee(ctx context.Context) (decimal.Decimal, *big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RPCTimeout())
	defer cancel()

	var bal, fee *big.Int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		bal, err = e.deps.Chain.Balance(gctx, e.deps.Treasury)
		return err
	})
	g.Go(func() error {
		var err error
		fee, err = e.deps.Chain.FeeEstimate(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return decimal.Zero, nil, err
	}
	return chain.WeiToNative(bal), fee, nil
}

func (e *Engine) gasUSD(fee *big.Int) decimal.Decimal {
	if fee == nil {
		return decimal.Zero
	}
	wei := new(big.Int).Mul(fee, new(big.Int).SetUint64(e.cfg.Chain.GasLimitFlash))
	return chain.WeiToNative(wei).Mul(e.nativePrice)
}

func (e *Engine) record(ctx context.Context, a types.TradeAttempt) {
	e.deps.Ledger.ApplyTrade(a)
	snap := e.deps.Ledger.Snapshot()

	imetrics.TotalPnLUSD.Set(snap.TotalPnL.InexactFloat64())
	imetrics.GasSpentNative.Set(snap.GasSpent.InexactFloat64())
	if a.Success {
		imetrics.Trades.WithLabelValues("success").Inc()
		e.log.Info("trade executed",
			zap.String("ref", a.ID),
			zap.String("asset", a.Asset),
			zap.String("profit_usd", a.Profit.StringFixed(2)),
			zap.String("gas", a.GasCost.String()),
			zap.Bool("simulated", a.Simulated),
			zap.String("total_pnl", snap.TotalPnL.StringFixed(2)),
		)
	} else {
		imetrics.Trades.WithLabelValues("failed").Inc()
		e.log.Error("trade failed",
			zap.String("asset", a.Asset),
			zap.String("tx", a.TxHash),
			zap.String("kind", types.Kind(a.Err)),
			zap.Error(a.Err),
		)
	}

	if e.deps.Sink != nil {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := e.deps.Sink.PublishTrade(pctx, a, snap); err != nil {
			e.log.Warn("trade feed publish failed", zap.Error(err))
		}
	}
}

func (e *Engine) Treasury() common.Address { return e.deps.Treasury }

// TreasuryBalance returns the treasury's on-chain balance in native units.
func (e *Engine) TreasuryBalance(ctx context.Context) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RPCTimeout())
	defer cancel()
	wei, err := e.deps.Chain.Balance(ctx, e.deps.Treasury)
	if err != nil {
		return decimal.Zero, err
	}
	bal := chain.WeiToNative(wei)
	imetrics.TreasuryBalance.Set(bal.InexactFloat64())
	return bal, nil
}

// Withdraw sends amount (native units) to to on chain. A nil amount sends
// everything available. For the treasury source, the available amount is the
// balance minus the gas reserve. For the contract source, it is the
// contract's balance. The ledger is not touched.
func (e *Engine) Withdraw(ctx context.Context, to common.Address, amount *decimal.Decimal) (WithdrawResult, error) {
	if to == (common.Address{}) {
		return WithdrawResult{}, fmt.Errorf("%w: recipient is the zero address", types.ErrValidation)
	}
	if amount != nil && !amount.IsPositive() {
		return WithdrawResult{}, fmt.Errorf("%w: withdraw amount must be positive", types.ErrValidation)
	}
	fromContract := e.cfg.Withdraw.Source == "contract"
	if fromContract && e.deps.Contract == nil {
		return WithdrawResult{}, fmt.Errorf("%w: withdraw source is contract but no contract is configured", types.ErrValidation)
	}

	e.submitMu.Lock()
	defer e.submitMu.Unlock()

	source := e.deps.Treasury
	reserve := e.reserve
	if fromContract {
		source, reserve = e.deps.Contract.Address, decimal.Zero
	}
	bctx, cancel := context.WithTimeout(ctx, e.cfg.RPCTimeout())
	wei, err := e.deps.Chain.Balance(bctx, source)
	cancel()
	if err != nil {
		return WithdrawResult{}, err
	}
	available := chain.WeiToNative(wei).Sub(reserve)

	send := available
	if amount != nil {
		send = *amount
	}
	if !available.IsPositive() || send.GreaterThan(available) {
		return WithdrawResult{}, fmt.Errorf("%w: requested %s, available %s", types.ErrInsufficientFunds, send, available.Truncate(18))
	}

	var spec chain.TxSpec
	if fromContract {
		spec, err = e.deps.Contract.WithdrawTx(to, chain.NativeToWei(send), e.cfg.Chain.GasLimitWithdraw)
		if err != nil {
			return WithdrawResult{}, err
		}
	} else {
		spec = chain.TxSpec{To: to, Value: chain.NativeToWei(send), GasLimit: e.cfg.Chain.GasLimitTransfer}
	}

	rcpt, err := e.deps.Chain.Submit(context.WithoutCancel(ctx), spec)
	if err != nil {
		return WithdrawResult{}, fmt.Errorf("withdraw: %w", err)
	}
	res := WithdrawResult{TxHash: rcpt.TxHash.Hex(), To: to, Amount: send}
	if rcpt.Status == 0 {
		return res, fmt.Errorf("%w: withdraw tx %s", types.ErrTradeReverted, res.TxHash)
	}
	e.log.Info("withdrawal sent",
		zap.String("tx", res.TxHash),
		zap.String("to", to.Hex()),
		zap.String("amount", send.String()),
		zap.Bool("from_contract", fromContract),
	)
	return res, nil
}

// RecycleEarnings moves amountUSD out of the ledger's PnL into the recycled
// total. No transaction is sent.
func (e *Engine) RecycleEarnings(amountUSD decimal.Decimal) (decimal.Decimal, error) {
	remaining, err := e.deps.Ledger.Recycle(amountUSD)
	if err != nil {
		return remaining, err
	}
	imetrics.RecycledUSD.Add(amountUSD.InexactFloat64())
	imetrics.TotalPnLUSD.Set(remaining.InexactFloat64())
	e.log.Info("earnings recycled (ledger only, no on-chain swap)",
		zap.String("amount_usd", amountUSD.StringFixed(2)),
		zap.String("remaining_usd", remaining.StringFixed(2)),
	)
	return remaining, nil
}

func (e *Engine) recycleLoop(stop <-chan struct{}) {
	defer e.wg.Done()
	t := time.NewTicker(e.cfg.RecycleInterval())
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			e.AutoRecycle(context.Background())
		}
	}
}

// AutoRecycle recycles part of the PnL when the treasury is below the gas
// minimum and PnL is above the floor. It returns the amount recycled.
func (e *Engine) AutoRecycle(ctx context.Context) (decimal.Decimal, bool) {
	bal, err := e.TreasuryBalance(ctx)
	if err != nil {
		e.log.Warn("auto-recycle skipped: balance query failed", zap.Error(err))
		return decimal.Zero, false
	}
	if !bal.LessThan(e.minGas) {
		return decimal.Zero, false
	}
	pnl := e.deps.Ledger.TotalPnL()
	if !pnl.GreaterThan(decimal.NewFromFloat(e.cfg.Recycle.FloorUSD)) {
		return decimal.Zero, false
	}
	amt := decimal.Min(
		pnl.Mul(decimal.NewFromFloat(e.cfg.Recycle.Fraction)),
		decimal.NewFromFloat(e.cfg.Recycle.CapUSD),
	).Round(6)
	if _, err := e.RecycleEarnings(amt); err != nil {
		if !errors.Is(err, types.ErrInsufficientFunds) {
			e.log.Warn("auto-recycle failed", zap.Error(err))
		}
		return decimal.Zero, false
	}
	return amt, true
}
