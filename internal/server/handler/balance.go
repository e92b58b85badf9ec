package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

// BalanceService is the vault and fee-withdrawal surface of the service layer.
type BalanceService interface {
	Balance(holder domain.Address) domain.Amount
	Withdraw(ctx context.Context, caller domain.Address, amount domain.Amount) error
	Accrual(id uint64) (domain.FeeAccrual, error)
	WithdrawFees(ctx context.Context, caller domain.Address, id uint64, kind domain.FeeKind) (domain.Amount, error)
}

// BalanceHandler serves vault balances and fee withdrawals.
type BalanceHandler struct {
	balances BalanceService
	logger   *slog.Logger
}

// NewBalanceHandler creates a BalanceHandler.
func NewBalanceHandler(balances BalanceService, logger *slog.Logger) *BalanceHandler {
	return &BalanceHandler{balances: balances, logger: logHandler(logger, "balance")}
}

// GetBalance returns a holder's vault balance.
// GET /api/balances/{holder}
func (h *BalanceHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	holder, ok := addressParam(w, r, "holder")
	if !ok {
		return
	}
	bal := h.balances.Balance(holder)
	writeJSON(w, http.StatusOK, map[string]any{
		"holder":  holder,
		"balance": bal,
		"display": bal.String(),
	})
}

type withdrawRequest struct {
	Amount string `json:"amount"`
}

// Withdraw debits the caller's vault balance.
// POST /api/balances/withdraw
func (h *BalanceHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req withdrawRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := optionalAmount(req.Amount)
	if err == nil && amount == 0 {
		err = fmt.Errorf("%w: amount required", domain.ErrInvalidAmount)
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "withdraw", err)
		return
	}

	if err := h.balances.Withdraw(r.Context(), caller, amount); err != nil {
		writeServiceError(w, r, h.logger, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"holder":  caller,
		"amount":  amount,
		"balance": h.balances.Balance(caller),
	})
}

// GetAccrual returns the fees accrued by a market.
// GET /api/fees/{id}
func (h *BalanceHandler) GetAccrual(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	acc, err := h.balances.Accrual(id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get accrual", err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

type withdrawFeesRequest struct {
	Kind domain.FeeKind `json:"kind"`
}

// WithdrawFees pays accrued protocol or creator fees to their recipient.
// POST /api/fees/{id}/withdraw
func (h *BalanceHandler) WithdrawFees(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	var req withdrawFeesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Kind != domain.FeeKindProtocol && req.Kind != domain.FeeKindCreator {
		writeError(w, http.StatusBadRequest, `kind must be "protocol" or "creator"`)
		return
	}

	paid, err := h.balances.WithdrawFees(r.Context(), caller, id, req.Kind)
	if err != nil {
		writeServiceError(w, r, h.logger, "withdraw fees", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"kind":      req.Kind,
		"paid":      paid,
	})
}
