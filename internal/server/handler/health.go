package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// probeTimeout bounds one readiness check round.
const probeTimeout = 3 * time.Second

// MarketCounter reports how many markets are loaded.
type MarketCounter interface {
	Count() int
}

// Probe checks that one backing dependency answers.
type Probe func(ctx context.Context) error

// HealthHandler serves the liveness and readiness endpoints.
type HealthHandler struct {
	markets   MarketCounter
	startedAt time.Time
	probes    map[string]Probe
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(markets MarketCounter, startedAt time.Time, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{markets: markets, startedAt: startedAt, logger: logger}
}

// HealthCheck responds with a simple JSON status indicating the server is alive.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"markets":        h.markets.Count(),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

// WithProbes sets the dependency checks run by Ready.
func (h *HealthHandler) WithProbes(probes map[string]Probe) *HealthHandler {
	h.probes = probes
	return h
}

// Ready runs every probe and answers 503 if any fails. Failure details are
// logged, not returned.
// GET /api/ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.probes))
	for name, probe := range h.probes {
		if err := probe(ctx); err != nil {
			status = http.StatusServiceUnavailable
			checks[name] = "unavailable"
			h.logger.WarnContext(ctx, "health: probe failed",
				slog.String("probe", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, status, map[string]any{
		"ready":  status == http.StatusOK,
		"checks": checks,
	})
}
