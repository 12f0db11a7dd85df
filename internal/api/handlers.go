package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/you/flash-bot/internal/chain"
	"github.com/you/flash-bot/internal/connectors/redisfeed"
	"github.com/you/flash-bot/internal/types"
	"go.uber.org/zap"
)

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

type lastTradeDTO struct {
	Timestamp       time.Time `json:"timestamp"`
	ReferenceID     string    `json:"referenceId"`
	Asset           string    `json:"asset"`
	RequestedAmount float64   `json:"requestedAmount"`
	Profit          float64   `json:"profit"`
	GasCost         float64   `json:"gasCost"`
	Simulated       bool      `json:"simulated"`
}

type liveDTO struct {
	TotalPnL          float64       `json:"totalPnL"`
	TotalTrades       int64         `json:"totalTrades"`
	SuccessfulTrades  int64         `json:"successfulTrades"`
	FailedTrades      int64         `json:"failedTrades"`
	GasSpent          float64       `json:"gasSpent"`
	GasSpentUSD       float64       `json:"gasSpentUSD"`
	LastTrade         *lastTradeDTO `json:"lastTrade"`
	EngineRunning     bool          `json:"engineRunning"`
	RecycledToBackend float64       `json:"recycledToBackend"`
	LastRecycle       *time.Time    `json:"lastRecycle"`
	Mode              types.Mode    `json:"mode"`
	Strategy          string        `json:"strategy"`
}

type executeRequest struct {
	FlashAmount *float64 `json:"flashAmount"`
}

type executeResponse struct {
	Success     bool    `json:"success"`
	TxHash      string  `json:"txHash,omitempty"`
	Profit      float64 `json:"profit"`
	GasCost     float64 `json:"gasCost"`
	Asset       string  `json:"asset"`
	Simulated   bool    `json:"simulated"`
	ReferenceID string  `json:"referenceId"`
	Error       string  `json:"error,omitempty"`
	Code        string  `json:"code,omitempty"`
}

type withdrawRequest struct {
	To        string   `json:"to"`
	Amount    *float64 `json:"amount"`
	AmountETH *float64 `json:"amountETH"`
}

type fundRequest struct {
	Amount    *float64 `json:"amount"`
	AmountUSD *float64 `json:"amountUSD"`
}

func (s *Server) liveSnapshot() liveDTO {
	snap := s.ledger.Snapshot()
	price := decimal.NewFromFloat(s.info.NativeUSDPrice)
	out := liveDTO{
		TotalPnL:          snap.TotalPnL.InexactFloat64(),
		TotalTrades:       snap.TotalTrades,
		SuccessfulTrades:  snap.SuccessfulTrades,
		FailedTrades:      snap.FailedTrades,
		GasSpent:          snap.GasSpent.InexactFloat64(),
		GasSpentUSD:       snap.GasSpent.Mul(price).InexactFloat64(),
		EngineRunning:     s.engine.Running(),
		RecycledToBackend: snap.RecycledToBackend.InexactFloat64(),
		Mode:              s.info.Mode,
		Strategy:          s.info.Strategy,
	}
	if !snap.LastRecycle.IsZero() {
		t := snap.LastRecycle
		out.LastRecycle = &t
	}
	if lt := snap.LastTrade; lt != nil {
		out.LastTrade = &lastTradeDTO{
			Timestamp:       lt.Timestamp,
			ReferenceID:     lt.ReferenceID,
			Asset:           lt.Asset,
			RequestedAmount: lt.RequestedAmount.InexactFloat64(),
			Profit:          lt.Profit.InexactFloat64(),
			GasCost:         lt.GasCost.InexactFloat64(),
			Simulated:       lt.Simulated,
		}
	}
	return out
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.liveSnapshot())
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	var amount *decimal.Decimal
	if req.FlashAmount != nil {
		d := decimal.NewFromFloat(*req.FlashAmount)
		amount = &d
	}

	a, err := s.engine.Execute(r.Context(), amount)
	resp := executeResponse{
		Success:     err == nil && a.Success,
		TxHash:      a.TxHash,
		Profit:      a.Profit.InexactFloat64(),
		GasCost:     a.GasCost.InexactFloat64(),
		Asset:       a.Asset,
		Simulated:   a.Simulated,
		ReferenceID: a.ID,
	}
	if err != nil {
		resp.Error = err.Error()
		resp.Code = types.Kind(err)
		writeJSON(w, statusFor(err), resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := s.engine.TreasuryBalance(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	snap := s.ledger.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"balance":  bal.InexactFloat64(),
		"treasury": s.engine.Treasury().Hex(),
		"earnings": snap.TotalPnL.InexactFloat64(),
		"recycled": snap.RecycledToBackend.InexactFloat64(),
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	to := s.info.DefaultRecipient
	if req.To != "" {
		addr, err := chain.ParseAddress(req.To)
		if err != nil {
			s.writeError(w, err)
			return
		}
		to = addr
	}
	var amount *decimal.Decimal
	if v := firstSet(req.Amount, req.AmountETH); v != nil {
		d := decimal.NewFromFloat(*v)
		amount = &d
	}

	res, err := s.engine.Withdraw(r.Context(), to, amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"txHash":  res.TxHash,
		"to":      res.To.Hex(),
		"amount":  res.Amount.InexactFloat64(),
	})
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	var req fundRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	price := decimal.NewFromFloat(s.info.NativeUSDPrice)
	var usd, native decimal.Decimal
	switch {
	case req.AmountUSD != nil:
		usd = decimal.NewFromFloat(*req.AmountUSD)
		if price.IsPositive() {
			native = usd.DivRound(price, 18)
		}
	case req.Amount != nil:
		native = decimal.NewFromFloat(*req.Amount)
		usd = native.Mul(price)
	default:
		s.writeError(w, fmt.Errorf("%w: amount or amountUSD is required", types.ErrValidation))
		return
	}

	remaining, err := s.engine.RecycleEarnings(usd)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"credited":          native.InexactFloat64(),
		"creditedUSD":       usd.InexactFloat64(),
		"remainingEarnings": remaining.InexactFloat64(),
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	msg := "engine started"
	if !s.engine.Start() {
		msg = "engine already running"
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": msg})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	msg := "engine stopped"
	if !s.engine.Stop() {
		msg = "engine already stopped"
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	// status reports the service; the engine state is engineRunning
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "online",
		"engineRunning": s.engine.Running(),
		"totalPnL":      s.ledger.Snapshot().TotalPnL.InexactFloat64(),
		"mode":          s.info.Mode,
	})
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := int64(20)
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			s.writeError(w, fmt.Errorf("%w: limit must be a positive integer", types.ErrValidation))
			return
		}
		limit = min(n, 500)
	}
	if s.feed == nil {
		writeJSON(w, http.StatusOK, []redisfeed.TradeEvent{})
		return
	}
	events, err := s.feed.Recent(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func firstSet(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

// decodeBody fills v from a JSON body. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: bad json body: %w", types.ErrValidation, err)
	}
	return nil
}

func statusFor(err error) int {
	switch types.Kind(err) {
	case "ValidationError", "InsufficientFunds", "InsufficientGas":
		return http.StatusBadRequest
	case "NoOpportunity":
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= 500 {
		s.log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, code, errorBody{Error: err.Error(), Code: types.Kind(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
