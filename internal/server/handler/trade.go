package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

// TradeService is the trading surface of the service layer.
type TradeService interface {
	Buy(ctx context.Context, caller domain.Address, id uint64, outcome int, shares domain.Shares, maxCost domain.Amount) (domain.TradeReceipt, error)
	Sell(ctx context.Context, caller domain.Address, id uint64, outcome int, shares domain.Shares, minProceeds domain.Amount) (domain.TradeReceipt, error)
	Claim(ctx context.Context, caller domain.Address, id uint64) (domain.Amount, error)
}

// TradeHandler serves buy, sell and claim.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logHandler(logger, "trade")}
}

// tradeRequest is the body of buy and sell. Quantities are decimal strings
// in whole units. An empty max_cost or min_proceeds leaves the trade
// unbounded.
type tradeRequest struct {
	Outcome     int    `json:"outcome"`
	Shares      string `json:"shares"`
	MaxCost     string `json:"max_cost"`
	MinProceeds string `json:"min_proceeds"`
}

func (req tradeRequest) shares() (domain.Shares, error) {
	s, err := domain.ParseShares(req.Shares)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrInvalidAmount, err)
	}
	if s <= 0 {
		return 0, domain.ErrZeroShares
	}
	return s, nil
}

// Buy purchases shares of one outcome.
// POST /api/markets/{id}/buy
func (h *TradeHandler) Buy(w http.ResponseWriter, r *http.Request) {
	caller, id, req, ok := h.decode(w, r)
	if !ok {
		return
	}
	shares, err := req.shares()
	if err != nil {
		writeServiceError(w, r, h.logger, "buy", err)
		return
	}
	maxCost, err := optionalAmount(req.MaxCost)
	if err != nil {
		writeServiceError(w, r, h.logger, "buy", err)
		return
	}

	receipt, err := h.trades.Buy(r.Context(), caller, id, req.Outcome, shares, maxCost)
	if err != nil {
		writeServiceError(w, r, h.logger, "buy", err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// Sell returns shares of one outcome to the market maker.
// POST /api/markets/{id}/sell
func (h *TradeHandler) Sell(w http.ResponseWriter, r *http.Request) {
	caller, id, req, ok := h.decode(w, r)
	if !ok {
		return
	}
	shares, err := req.shares()
	if err != nil {
		writeServiceError(w, r, h.logger, "sell", err)
		return
	}
	minProceeds, err := optionalAmount(req.MinProceeds)
	if err != nil {
		writeServiceError(w, r, h.logger, "sell", err)
		return
	}

	receipt, err := h.trades.Sell(r.Context(), caller, id, req.Outcome, shares, minProceeds)
	if err != nil {
		writeServiceError(w, r, h.logger, "sell", err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// Claim pays the caller's winning shares out of a resolved market.
// POST /api/markets/{id}/claim
func (h *TradeHandler) Claim(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	paid, err := h.trades.Claim(r.Context(), caller, id)
	if err != nil {
		writeServiceError(w, r, h.logger, "claim", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"holder":    caller,
		"paid":      paid,
	})
}

func (h *TradeHandler) decode(w http.ResponseWriter, r *http.Request) (domain.Address, uint64, tradeRequest, bool) {
	var req tradeRequest
	caller, ok := requireCaller(w, r)
	if !ok {
		return caller, 0, req, false
	}
	id, ok := marketID(w, r)
	if !ok {
		return caller, 0, req, false
	}
	if !decodeBody(w, r, &req) {
		return caller, 0, req, false
	}
	return caller, id, req, true
}
