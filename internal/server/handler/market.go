package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
	"github.com/alanyoungcy/lmsrmarket/internal/ledger"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	CreateMarket(ctx context.Context, caller domain.Address, p ledger.CreateParams) (domain.Market, error)
	ListMarkets(opts domain.ListOpts) []domain.MarketInfo
	Count() int
	Info(id uint64) (domain.MarketInfo, error)
	Prices(ctx context.Context, id uint64) (domain.PriceSnapshot, error)
	Volume(ctx context.Context, id uint64) (domain.Amount, error)
	Position(id uint64, holder domain.Address) ([]domain.Shares, error)
	Trades(ctx context.Context, id uint64, opts domain.ListOpts) ([]domain.Event, error)
	Assertions(ctx context.Context, id uint64) ([]domain.AssertionRecord, error)
}

// MarketHandler serves market creation and market read endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logHandler(logger, "market"),
	}
}

// createMarketRequest is the body of POST /api/markets. Liquidity is given
// either in whole currency units ("200") or as raw base units
// ("200000000"), never both.
type createMarketRequest struct {
	Question        string   `json:"question"`
	Outcomes        []string `json:"outcomes"`
	DurationSeconds int64    `json:"duration_seconds"`
	Liquidity       string   `json:"liquidity"`
	LiquidityRaw    string   `json:"liquidity_raw"`
	CreatorFeeBps   uint32   `json:"creator_fee_bps"`
}

func (req createMarketRequest) params() (ledger.CreateParams, error) {
	var (
		b   domain.Liquidity
		err error
	)
	switch {
	case req.Liquidity != "" && req.LiquidityRaw != "":
		return ledger.CreateParams{}, fmt.Errorf("%w: give liquidity or liquidity_raw, not both", domain.ErrInvalidLiquidityParameter)
	case req.LiquidityRaw != "":
		b, err = domain.ParseRawLiquidity(req.LiquidityRaw)
	default:
		b, err = domain.ParseLiquidity(req.Liquidity)
	}
	if err != nil {
		return ledger.CreateParams{}, err
	}
	if req.DurationSeconds <= 0 {
		return ledger.CreateParams{}, fmt.Errorf("%w: duration_seconds must be positive", domain.ErrInvalidDuration)
	}
	return ledger.CreateParams{
		Question:      req.Question,
		Outcomes:      req.Outcomes,
		Duration:      time.Duration(req.DurationSeconds) * time.Second,
		Liquidity:     b,
		CreatorFeeBps: domain.Bps(req.CreatorFeeBps),
	}, nil
}

// CreateMarket opens a market funded by the caller.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req createMarketRequest
	if !decodeBody(w, r, &req) {
		return
	}
	params, err := req.params()
	if err != nil {
		writeServiceError(w, r, h.logger, "create market", err)
		return
	}

	m, err := h.markets.CreateMarket(r.Context(), caller, params)
	if err != nil {
		writeServiceError(w, r, h.logger, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []domain.MarketInfo `json:"markets"`
	Total   int                 `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// ListMarkets returns markets in id order with pagination.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	markets := h.markets.ListMarkets(opts)
	if markets == nil {
		markets = []domain.MarketInfo{}
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Total:   h.markets.Count(),
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns the basic info of a single market.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	info, err := h.markets.Info(id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// GetPrices returns the price of every outcome in basis points.
// GET /api/markets/{id}/prices
func (h *MarketHandler) GetPrices(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	snap, err := h.markets.Prices(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get prices", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetVolume returns the cumulative fee-inclusive buy volume.
// GET /api/markets/{id}/volume
func (h *MarketHandler) GetVolume(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	vol, err := h.markets.Volume(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get volume", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"volume":    vol,
		"display":   vol.String(),
	})
}

// GetPosition returns a holder's shares per outcome.
// GET /api/markets/{id}/positions/{holder}
func (h *MarketHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	holder, ok := addressParam(w, r, "holder")
	if !ok {
		return
	}
	shares, err := h.markets.Position(id, holder)
	if err != nil {
		writeServiceError(w, r, h.logger, "get position", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"holder":    holder,
		"shares":    shares,
	})
}

// ListTrades returns the market's event log, filtered by the query string.
// GET /api/markets/{id}/trades?kind=SharesPurchased&after_seq=10&limit=50
func (h *MarketHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := h.markets.Trades(r.Context(), id, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list trades", err)
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// ListAssertions returns every assertion round of the market.
// GET /api/markets/{id}/assertions
func (h *MarketHandler) ListAssertions(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	rounds, err := h.markets.Assertions(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "list assertions", err)
		return
	}
	if rounds == nil {
		rounds = []domain.AssertionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"assertions": rounds})
}
