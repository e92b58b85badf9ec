// Package server is the HTTP + WebSocket API of the market service.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
	"github.com/alanyoungcy/lmsrmarket/internal/server/handler"
	"github.com/alanyoungcy/lmsrmarket/internal/server/middleware"
	"github.com/alanyoungcy/lmsrmarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimit   int    // requests per RateWindow per client; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Markets    *handler.MarketHandler
	Trades     *handler.TradeHandler
	Resolution *handler.ResolutionHandler
	Balances   *handler.BalanceHandler
	Admin      *handler.AdminHandler
	Metrics    http.Handler // optional Prometheus scrape handler
}

// Deps are the collaborators of the middleware chain.
type Deps struct {
	Verifier middleware.SignatureVerifier
	Limiter  domain.RateLimiter // nil disables rate limiting
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (CORS, logging, auth, identity, rate limit) and
// attaches the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, deps Deps, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check and metrics (no API key required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/ready", handlers.Health.Ready)
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}

	// Markets.
	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/prices", handlers.Markets.GetPrices)
	mux.HandleFunc("GET /api/markets/{id}/volume", handlers.Markets.GetVolume)
	mux.HandleFunc("GET /api/markets/{id}/positions/{holder}", handlers.Markets.GetPosition)
	mux.HandleFunc("GET /api/markets/{id}/trades", handlers.Markets.ListTrades)
	mux.HandleFunc("GET /api/markets/{id}/assertions", handlers.Markets.ListAssertions)

	// Trading.
	mux.HandleFunc("POST /api/markets/{id}/buy", handlers.Trades.Buy)
	mux.HandleFunc("POST /api/markets/{id}/sell", handlers.Trades.Sell)
	mux.HandleFunc("POST /api/markets/{id}/claim", handlers.Trades.Claim)

	// Resolution.
	mux.HandleFunc("POST /api/markets/{id}/assert", handlers.Resolution.Assert)
	mux.HandleFunc("POST /api/markets/{id}/dispute", handlers.Resolution.Dispute)
	mux.HandleFunc("POST /api/markets/{id}/settle", handlers.Resolution.Settle)

	// Vault and fees.
	mux.HandleFunc("GET /api/balances/{holder}", handlers.Balances.GetBalance)
	mux.HandleFunc("POST /api/balances/withdraw", handlers.Balances.Withdraw)
	mux.HandleFunc("GET /api/fees/{id}", handlers.Balances.GetAccrual)
	mux.HandleFunc("POST /api/fees/{id}/withdraw", handlers.Balances.WithdrawFees)

	// Owner.
	mux.HandleFunc("POST /api/admin/credit", handlers.Admin.Credit)
	mux.HandleFunc("GET /api/admin/creation-settings", handlers.Admin.GetCreationSettings)
	mux.HandleFunc("PUT /api/admin/creation-settings", handlers.Admin.SetCreationSettings)
	mux.HandleFunc("GET /api/admin/fees", handlers.Admin.GetFees)
	mux.HandleFunc("PUT /api/admin/fees", handlers.Admin.SetFees)
	mux.HandleFunc("POST /api/admin/markets/{id}/correct", handlers.Admin.Correct)
	mux.HandleFunc("POST /api/admin/archive/{id}", handlers.Admin.Archive)
	mux.HandleFunc("GET /api/admin/archive/{id}", handlers.Admin.ListArchives)
	mux.HandleFunc("GET /api/admin/audit", handlers.Admin.ListAudit)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	if deps.Limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Identity(deps.Verifier, logger)(h)
	h = middleware.Auth(cfg.APIKey, "/api/health", "/api/ready", "/metrics")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
