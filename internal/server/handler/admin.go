package handler

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/alanyoungcy/lmsrmarket/internal/access"
	"github.com/alanyoungcy/lmsrmarket/internal/domain"
	"github.com/alanyoungcy/lmsrmarket/internal/ledger"
)

// AdminService is the owner-only surface of the service layer. Ownership is
// enforced by the service; the handler only authenticates the caller.
type AdminService interface {
	Credit(ctx context.Context, caller, holder domain.Address, amount domain.Amount) error
	CreationSettings() access.CreationSettings
	SetCreationSettings(ctx context.Context, caller domain.Address, s access.CreationSettings) error
	Fees() access.FeeSchedule
	SetFees(ctx context.Context, caller domain.Address, f access.FeeSchedule) error
	Correct(ctx context.Context, caller domain.Address, id uint64, c ledger.Correction) (domain.Market, error)
	Archive(ctx context.Context, caller domain.Address, id uint64) (int64, error)
	Archives(ctx context.Context, caller domain.Address, id uint64) ([]domain.BlobInfo, error)
	Audit(ctx context.Context, caller domain.Address, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AdminHandler serves the owner-only endpoints.
type AdminHandler struct {
	admin  AdminService
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(admin AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{admin: admin, logger: logHandler(logger, "admin")}
}

type creditRequest struct {
	Holder string `json:"holder"`
	Amount string `json:"amount"`
}

// Credit deposits settlement currency into a holder's vault balance.
// POST /api/admin/credit
func (h *AdminHandler) Credit(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req creditRequest
	if !decodeBody(w, r, &req) {
		return
	}
	holder, err := parseAddress(req.Holder)
	if err != nil {
		writeServiceError(w, r, h.logger, "credit", err)
		return
	}
	amount, err := optionalAmount(req.Amount)
	if err == nil && amount == 0 {
		err = fmt.Errorf("%w: amount required", domain.ErrInvalidAmount)
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "credit", err)
		return
	}

	if err := h.admin.Credit(r.Context(), caller, holder, amount); err != nil {
		writeServiceError(w, r, h.logger, "credit", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"holder": holder, "amount": amount})
}

// creationSettingsBody carries MinBalance as a decimal string so token
// amounts above 2^53 survive JSON.
type creationSettingsBody struct {
	GatingToken    string `json:"gating_token"`
	MinBalance     string `json:"min_balance"`
	PublicCreation bool   `json:"public_creation"`
}

func toCreationSettingsBody(s access.CreationSettings) creationSettingsBody {
	body := creationSettingsBody{PublicCreation: s.PublicCreation, MinBalance: "0"}
	if s.GatingToken != (domain.Address{}) {
		body.GatingToken = s.GatingToken.Hex()
	}
	if s.MinBalance != nil {
		body.MinBalance = s.MinBalance.String()
	}
	return body
}

func (b creationSettingsBody) settings() (access.CreationSettings, error) {
	s := access.CreationSettings{PublicCreation: b.PublicCreation}
	if b.GatingToken != "" {
		token, err := parseAddress(b.GatingToken)
		if err != nil {
			return s, err
		}
		s.GatingToken = token
	}
	if b.MinBalance != "" {
		v, ok := new(big.Int).SetString(b.MinBalance, 10)
		if !ok || v.Sign() < 0 {
			return s, fmt.Errorf("%w: min_balance %q", domain.ErrInvalidAmount, b.MinBalance)
		}
		s.MinBalance = v
	}
	return s, nil
}

// GetCreationSettings returns the market-creation gate settings.
// GET /api/admin/creation-settings
func (h *AdminHandler) GetCreationSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toCreationSettingsBody(h.admin.CreationSettings()))
}

// SetCreationSettings replaces the market-creation gate settings.
// PUT /api/admin/creation-settings
func (h *AdminHandler) SetCreationSettings(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var body creationSettingsBody
	if !decodeBody(w, r, &body) {
		return
	}
	s, err := body.settings()
	if err != nil {
		writeServiceError(w, r, h.logger, "set creation settings", err)
		return
	}
	if err := h.admin.SetCreationSettings(r.Context(), caller, s); err != nil {
		writeServiceError(w, r, h.logger, "set creation settings", err)
		return
	}
	writeJSON(w, http.StatusOK, toCreationSettingsBody(h.admin.CreationSettings()))
}

// GetFees returns the fee schedule applied to new markets.
// GET /api/admin/fees
func (h *AdminHandler) GetFees(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.admin.Fees())
}

// SetFees replaces the fee schedule applied to new markets.
// PUT /api/admin/fees
func (h *AdminHandler) SetFees(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var f access.FeeSchedule
	if !decodeBody(w, r, &f) {
		return
	}
	if err := h.admin.SetFees(r.Context(), caller, f); err != nil {
		writeServiceError(w, r, h.logger, "set fees", err)
		return
	}
	writeJSON(w, http.StatusOK, h.admin.Fees())
}

// correctRequest is the body of a market correction. Quantities are decimal
// strings in whole units; omitted fields are left unchanged.
type correctRequest struct {
	Liquidity   string   `json:"liquidity"`
	Outstanding []string `json:"outstanding"`
	Reason      string   `json:"reason"`
}

func (req correctRequest) correction() (ledger.Correction, error) {
	c := ledger.Correction{Reason: req.Reason}
	if req.Liquidity != "" {
		b, err := domain.ParseLiquidity(req.Liquidity)
		if err != nil {
			return c, err
		}
		c.Liquidity = &b
	}
	if len(req.Outstanding) > 0 {
		c.Outstanding = make([]domain.Shares, len(req.Outstanding))
		for i, s := range req.Outstanding {
			v, err := domain.ParseShares(s)
			if err != nil {
				return c, fmt.Errorf("%w: outstanding[%d]: %v", domain.ErrInvalidCorrection, i, err)
			}
			c.Outstanding[i] = v
		}
	}
	return c, nil
}

// Correct repairs a market's liquidity parameter or outstanding shares.
// POST /api/admin/markets/{id}/correct
func (h *AdminHandler) Correct(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	var req correctRequest
	if !decodeBody(w, r, &req) {
		return
	}
	c, err := req.correction()
	if err != nil {
		writeServiceError(w, r, h.logger, "correct", err)
		return
	}

	m, err := h.admin.Correct(r.Context(), caller, id, c)
	if err != nil {
		writeServiceError(w, r, h.logger, "correct", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Archive exports the market's new trade events to object storage.
// POST /api/admin/archive/{id}
func (h *AdminHandler) Archive(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	n, err := h.admin.Archive(r.Context(), caller, id)
	if err != nil {
		writeServiceError(w, r, h.logger, "archive", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"market_id": id, "events": n})
}

// ListArchives lists the market's exported objects.
// GET /api/admin/archive/{id}
func (h *AdminHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	infos, err := h.admin.Archives(r.Context(), caller, id)
	if err != nil {
		writeServiceError(w, r, h.logger, "list archives", err)
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"market_id": id, "objects": infos})
}

// ListAudit returns audit log entries, newest first.
// GET /api/admin/audit?kind=market_corrected&limit=50
func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.admin.Audit(r.Context(), caller, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list audit", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
