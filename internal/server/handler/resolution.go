package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

// ResolutionService is the assertion lifecycle surface of the service layer.
type ResolutionService interface {
	Assert(ctx context.Context, caller domain.Address, id uint64, outcome int, bond domain.Amount) (domain.Market, error)
	Dispute(ctx context.Context, caller domain.Address, id uint64) (domain.Market, error)
	Settle(ctx context.Context, id uint64) (domain.Market, error)
}

// ResolutionHandler serves assert, dispute and settle.
type ResolutionHandler struct {
	resolution ResolutionService
	clock      domain.Clock
	logger     *slog.Logger
}

// NewResolutionHandler creates a ResolutionHandler.
func NewResolutionHandler(resolution ResolutionService, clock domain.Clock, logger *slog.Logger) *ResolutionHandler {
	return &ResolutionHandler{
		resolution: resolution,
		clock:      clock,
		logger:     logHandler(logger, "resolution"),
	}
}

type assertRequest struct {
	Outcome int    `json:"outcome"`
	Bond    string `json:"bond"`
}

// Assert proposes a winning outcome for an ended market.
// POST /api/markets/{id}/assert
func (h *ResolutionHandler) Assert(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	var req assertRequest
	if !decodeBody(w, r, &req) {
		return
	}
	bond, err := optionalAmount(req.Bond)
	if err != nil {
		writeServiceError(w, r, h.logger, "assert", err)
		return
	}

	m, err := h.resolution.Assert(r.Context(), caller, id, req.Outcome, bond)
	if err != nil {
		writeServiceError(w, r, h.logger, "assert", err)
		return
	}
	writeJSON(w, http.StatusOK, m.Info(h.clock.Now()))
}

// Dispute rejects the pending assertion inside its window.
// POST /api/markets/{id}/dispute
func (h *ResolutionHandler) Dispute(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	m, err := h.resolution.Dispute(r.Context(), caller, id)
	if err != nil {
		writeServiceError(w, r, h.logger, "dispute", err)
		return
	}
	writeJSON(w, http.StatusOK, m.Info(h.clock.Now()))
}

// Settle resolves the market once the dispute window has elapsed. Anyone
// may call it.
// POST /api/markets/{id}/settle
func (h *ResolutionHandler) Settle(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	m, err := h.resolution.Settle(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "settle", err)
		return
	}
	writeJSON(w, http.StatusOK, m.Info(h.clock.Now()))
}
