package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/you/flash-bot/internal/connectors/redisfeed"
	"github.com/you/flash-bot/internal/execution"
	"github.com/you/flash-bot/internal/ledger"
	"github.com/you/flash-bot/internal/types"
	"go.uber.org/zap"
)

var (
	treasuryAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
	feeRecipient = common.HexToAddress("0x4024fd78e2ad5532fbf3ec2b3ec83870fae45fc7")
)

type fakeEngine struct {
	mu      sync.Mutex
	running bool
	led     *ledger.Ledger

	execErr    error
	execAmount *decimal.Decimal

	balance     decimal.Decimal
	withdrawTo  common.Address
	withdrawAmt *decimal.Decimal
	withdrawErr error
}

func (f *fakeEngine) Start() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return false
	}
	f.running = true
	return true
}

func (f *fakeEngine) Stop() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	was := f.running
	f.running = false
	return was
}

func (f *fakeEngine) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeEngine) Execute(_ context.Context, amount *decimal.Decimal) (types.TradeAttempt, error) {
	f.execAmount = amount
	if f.execErr != nil {
		return types.TradeAttempt{}, f.execErr
	}
	a := types.TradeAttempt{ID: "sim-x", Asset: "PEPE", Success: true, Simulated: true,
		Profit: decimal.RequireFromString("12.5"), GasCost: decimal.RequireFromString("0.001")}
	f.led.ApplyTrade(a)
	return a, nil
}

func (f *fakeEngine) Withdraw(_ context.Context, to common.Address, amount *decimal.Decimal) (execution.WithdrawResult, error) {
	f.withdrawTo, f.withdrawAmt = to, amount
	if f.withdrawErr != nil {
		return execution.WithdrawResult{}, f.withdrawErr
	}
	amt := decimal.RequireFromString("0.5")
	if amount != nil {
		amt = *amount
	}
	return execution.WithdrawResult{TxHash: "0xbeef", To: to, Amount: amt}, nil
}

func (f *fakeEngine) TreasuryBalance(context.Context) (decimal.Decimal, error) { return f.balance, nil }
func (f *fakeEngine) Treasury() common.Address                                 { return treasuryAddr }
func (f *fakeEngine) RecycleEarnings(usd decimal.Decimal) (decimal.Decimal, error) {
	return f.led.Recycle(usd)
}

type fakeFeed struct{ n int64 }

func (f *fakeFeed) Recent(_ context.Context, n int64) ([]redisfeed.TradeEvent, error) {
	f.n = n
	return []redisfeed.TradeEvent{{Ref: "a"}, {Ref: "b"}}, nil
}

func newTestServer(t *testing.T, feed TradeFeed) (*httptest.Server, *fakeEngine, *ledger.Ledger, *Server) {
	t.Helper()
	led := ledger.New()
	eng := &fakeEngine{led: led, balance: decimal.RequireFromString("0.25")}
	s := New(eng, led, feed, Info{
		Mode:             types.ModeSimulation,
		Strategy:         "simulated",
		NativeUSDPrice:   3450,
		DefaultRecipient: feeRecipient,
		PushInterval:     10 * time.Millisecond,
	}, zap.NewNop())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, eng, led, s
}

func do(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestExecute(t *testing.T) {
	ts, eng, _, _ := newTestServer(t, nil)

	code, body := do(t, http.MethodPost, ts.URL+"/execute", `{"flashAmount": 2500}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "PEPE", body["asset"])
	assert.Equal(t, 12.5, body["profit"])
	assert.Equal(t, true, body["simulated"])
	require.NotNil(t, eng.execAmount)
	assert.True(t, eng.execAmount.Equal(decimal.NewFromInt(2500)))

	// empty body uses the configured amount
	code, _ = do(t, http.MethodPost, ts.URL+"/execute", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Nil(t, eng.execAmount)
}

func TestExecute_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("low: %w", types.ErrInsufficientGas), http.StatusBadRequest, "InsufficientGas"},
		{types.ErrNoOpportunity, http.StatusNotFound, "NoOpportunity"},
		{fmt.Errorf("rpc: %w", types.ErrChainCall), http.StatusInternalServerError, "ChainCallFailure"},
		{types.ErrConfirmTimeout, http.StatusInternalServerError, "ChainCallFailure"},
		{fmt.Errorf("amount: %w", types.ErrValidation), http.StatusBadRequest, "ValidationError"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			ts, eng, _, _ := newTestServer(t, nil)
			eng.execErr = tc.err
			code, body := do(t, http.MethodPost, ts.URL+"/execute", "{}")
			assert.Equal(t, tc.status, code)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tc.code, body["code"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestExecute_BadJSON(t *testing.T) {
	ts, _, _, _ := newTestServer(t, nil)
	code, body := do(t, http.MethodPost, ts.URL+"/execute", `{"flashAmount":`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "ValidationError", body["code"])
}

func TestLive(t *testing.T) {
	ts, _, led, _ := newTestServer(t, nil)
	led.ApplyTrade(types.TradeAttempt{ID: "r1", Asset: "DOGE", Success: true,
		Profit: decimal.NewFromInt(40), GasCost: decimal.RequireFromString("0.002"), Simulated: true})
	led.ApplyTrade(types.TradeAttempt{Asset: "DOGE"})

	code, body := do(t, http.MethodGet, ts.URL+"/api/apex/strategies/live", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 40.0, body["totalPnL"])
	assert.Equal(t, 2.0, body["totalTrades"])
	assert.Equal(t, 1.0, body["successfulTrades"])
	assert.Equal(t, 1.0, body["failedTrades"])
	assert.InDelta(t, 6.9, body["gasSpentUSD"], 1e-9)
	assert.Equal(t, "simulation", body["mode"])
	assert.Nil(t, body["lastRecycle"])
	lt := body["lastTrade"].(map[string]any)
	assert.Equal(t, "r1", lt["referenceId"])
	assert.Equal(t, true, lt["simulated"])
}

func TestBalanceAndStatus(t *testing.T) {
	ts, _, led, _ := newTestServer(t, nil)
	led.ApplyTrade(types.TradeAttempt{Success: true, Profit: decimal.NewFromInt(10)})

	code, body := do(t, http.MethodGet, ts.URL+"/balance", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0.25, body["balance"])
	assert.Equal(t, treasuryAddr.Hex(), body["treasury"])
	assert.Equal(t, 10.0, body["earnings"])

	code, body = do(t, http.MethodGet, ts.URL+"/status", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "online", body["status"])
	assert.Equal(t, false, body["engineRunning"])
}

func TestStartStop(t *testing.T) {
	ts, eng, _, _ := newTestServer(t, nil)

	_, body := do(t, http.MethodPost, ts.URL+"/start", "")
	assert.Equal(t, "engine started", body["message"])
	_, body = do(t, http.MethodPost, ts.URL+"/start", "")
	assert.Equal(t, "engine already running", body["message"])
	assert.True(t, eng.Running())
	_, body = do(t, http.MethodGet, ts.URL+"/status", "")
	assert.Equal(t, "online", body["status"])
	assert.Equal(t, true, body["engineRunning"])

	_, body = do(t, http.MethodPost, ts.URL+"/stop", "")
	assert.Equal(t, "engine stopped", body["message"])
	code, body := do(t, http.MethodPost, ts.URL+"/stop", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])

	code, _ = do(t, http.MethodGet, ts.URL+"/start", "")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestWithdraw(t *testing.T) {
	ts, eng, _, _ := newTestServer(t, nil)

	code, body := do(t, http.MethodPost, ts.URL+"/withdraw", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, feeRecipient, eng.withdrawTo, "defaults to the fee recipient")
	assert.Nil(t, eng.withdrawAmt)
	assert.Equal(t, "0xbeef", body["txHash"])

	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	code, _ = do(t, http.MethodPost, ts.URL+"/withdraw", fmt.Sprintf(`{"to":%q,"amountETH":0.1}`, to.Hex()))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, to, eng.withdrawTo)
	assert.True(t, eng.withdrawAmt.Equal(decimal.RequireFromString("0.1")))

	code, body = do(t, http.MethodPost, ts.URL+"/withdraw", `{"to":"0x1234"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "ValidationError", body["code"])

	eng.withdrawErr = fmt.Errorf("too much: %w", types.ErrInsufficientFunds)
	code, body = do(t, http.MethodPost, ts.URL+"/withdraw", `{"amount": 99}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "InsufficientFunds", body["code"])
}

func TestFundFromEarnings(t *testing.T) {
	ts, _, led, _ := newTestServer(t, nil)
	led.ApplyTrade(types.TradeAttempt{Success: true, Profit: decimal.NewFromInt(100)})

	code, body := do(t, http.MethodPost, ts.URL+"/fund-from-earnings", `{"amountUSD": 34.5}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 34.5, body["creditedUSD"])
	assert.InDelta(t, 0.01, body["credited"], 1e-12)
	assert.Equal(t, 65.5, body["remainingEarnings"])

	// 0.01 native at 3450 = 34.5 USD
	code, body = do(t, http.MethodPost, ts.URL+"/fund-from-earnings", `{"amount": 0.01}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 31.0, body["remainingEarnings"])

	code, body = do(t, http.MethodPost, ts.URL+"/fund-from-earnings", `{"amountUSD": 1000}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "InsufficientFunds", body["code"])

	code, _ = do(t, http.MethodPost, ts.URL+"/fund-from-earnings", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	snap := led.Snapshot()
	assert.True(t, snap.RecycledToBackend.Equal(decimal.NewFromInt(69)))
}

func TestRecentTrades(t *testing.T) {
	ts, _, _, _ := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/trades/recent")
	require.NoError(t, err)
	var events []redisfeed.TradeEvent
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&events))
	resp.Body.Close()
	assert.Empty(t, events)
	assert.NotNil(t, events)

	feed := &fakeFeed{}
	ts, _, _, _ = newTestServer(t, feed)
	resp, err = http.Get(ts.URL + "/trades/recent?limit=5000")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&events))
	resp.Body.Close()
	assert.Len(t, events, 2)
	assert.Equal(t, int64(500), feed.n)

	code, _ := do(t, http.MethodGet, ts.URL+"/trades/recent?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCORS(t *testing.T) {
	ts, _, _, _ := newTestServer(t, nil)
	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/execute", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRecoverMiddleware(t *testing.T) {
	s := New(&fakeEngine{led: ledger.New()}, nil, nil, Info{}, zap.NewNop())
	// nil ledger makes the live handler panic
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/apex/strategies/live", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "InternalError")
}

func TestIndex(t *testing.T) {
	ts, _, _, _ := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	resp, err = http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebsocketPushesSnapshots(t *testing.T) {
	ts, _, led, s := newTestServer(t, nil)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/live"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first liveDTO
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, int64(0), first.TotalTrades)

	led.ApplyTrade(types.TradeAttempt{Success: true, Profit: decimal.NewFromInt(7)})
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var next liveDTO
		require.NoError(t, conn.ReadJSON(&next))
		if next.TotalTrades == 1 {
			assert.Equal(t, 7.0, next.TotalPnL)
			break
		}
	}

	s.closeStreams()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), err.Error())
			break
		}
	}
}
