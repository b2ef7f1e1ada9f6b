package handlers

import (
	"net/http"
	"time"

	"clinic-api/internal/cache"
	"clinic-api/internal/circuitbreaker"
	"clinic-api/internal/metrics"
	"clinic-api/internal/ratelimit"
)

type upstreamStats struct {
	metrics.Counters
	TokenExpiresAt *time.Time `json:"tokenExpiresAt,omitempty"`
}

type statsResponse struct {
	Cache          *cache.Stats          `json:"cache,omitempty"`
	RateLimiter    *ratelimit.Status     `json:"rateLimiter,omitempty"`
	CircuitBreaker *circuitbreaker.Stats `json:"circuitBreaker,omitempty"`
	Upstream       *upstreamStats        `json:"upstream,omitempty"`
}

// GetStats returns operational statistics
// @Summary Get operational statistics
// @Description Returns cache stats, rate limiter status, circuit breaker state and upstream counters
// @Tags operations
// @Produce json
// @Success 200 {object} statsResponse
// @Router /api/stats [get]
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	response := statsResponse{}

	if h.cache != nil {
		stats := h.cache.Stats(r.Context())
		response.Cache = &stats
	}
	if h.limiter != nil {
		status := h.limiter.GetStatus()
		response.RateLimiter = &status
	}
	if h.breaker != nil {
		snapshot := h.breaker.Snapshot()
		response.CircuitBreaker = &snapshot
	}
	if h.metrics != nil {
		stats := upstreamStats{Counters: h.metrics.Snapshot()}
		if h.upstream != nil {
			if expiry := h.upstream.TokenExpiry(); !expiry.IsZero() {
				stats.TokenExpiresAt = &expiry
			}
		}
		response.Upstream = &stats
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HealthCheck reports service health
// @Summary Health check
// @Description Reports the health of the service and its cache and audit stores
// @Tags operations
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /health [get]
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"status": "ok"}
	status := http.StatusOK

	if h.cache != nil {
		if err := h.cache.Health(); err != nil {
			checks["cache"] = err.Error()
			checks["status"] = "degraded"
			status = http.StatusServiceUnavailable
		} else {
			checks["cache"] = "ok"
		}
	}
	if h.audit != nil {
		if err := h.audit.Health(); err != nil {
			checks["audit"] = err.Error()
			checks["status"] = "degraded"
			status = http.StatusServiceUnavailable
		} else {
			checks["audit"] = "ok"
		}
	}

	h.writeJSON(w, status, checks)
}
