// Package handlers implements the HTTP API consumed by the booking widget.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"clinic-api/internal/audit"
	"clinic-api/internal/auth"
	"clinic-api/internal/cache"
	"clinic-api/internal/circuitbreaker"
	"clinic-api/internal/common/errors"
	"clinic-api/internal/common/logging"
	"clinic-api/internal/metrics"
	"clinic-api/internal/ratelimit"
	"clinic-api/internal/services"
	"clinic-api/internal/upstream"
)

// SpecialtiesAPI lists bookable specialties.
type SpecialtiesAPI interface {
	Get(ctx context.Context, forceRefresh bool) []services.Specialty
}

// DoctorsAPI lists a specialty's doctors.
type DoctorsAPI interface {
	Get(ctx context.Context, specialtyID int, forceRefresh bool) []services.Doctor
}

// AvailabilityAPI returns a doctor's open slots.
type AvailabilityAPI interface {
	Get(ctx context.Context, doctorID int, startDate string, days int, forceRefresh bool) ([]services.DayAvailability, error)
}

// AppointmentsAPI books appointments and reports their status.
type AppointmentsAPI interface {
	Create(ctx context.Context, request services.BookingRequest, requestKey string) ([]byte, error)
	Status(ctx context.Context, appointmentID string) (*services.StatusRecord, error)
}

// Handlers holds the API's dependencies.
type Handlers struct {
	specialties  SpecialtiesAPI
	doctors      DoctorsAPI
	availability AvailabilityAPI
	appointments AppointmentsAPI
	sessions     *auth.Sessions

	cache    *cache.Store
	limiter  *ratelimit.Limiter
	breaker  *circuitbreaker.CircuitBreaker
	upstream *upstream.Client
	metrics  *metrics.Publisher
	audit    *audit.Store
	logger   logging.Logger
}

// New creates the handler set. The stats sources (cache, limiter, breaker,
// upstream, metrics, audit) may be nil in tests.
func New(
	specialties SpecialtiesAPI,
	doctors DoctorsAPI,
	availability AvailabilityAPI,
	appointments AppointmentsAPI,
	sessions *auth.Sessions,
	cacheStore *cache.Store,
	limiter *ratelimit.Limiter,
	breaker *circuitbreaker.CircuitBreaker,
	upstreamClient *upstream.Client,
	publisher *metrics.Publisher,
	auditStore *audit.Store,
	logger logging.Logger,
) *Handlers {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Handlers{
		specialties:  specialties,
		doctors:      doctors,
		availability: availability,
		appointments: appointments,
		sessions:     sessions,
		cache:        cacheStore,
		limiter:      limiter,
		breaker:      breaker,
		upstream:     upstreamClient,
		metrics:      publisher,
		audit:        auditStore,
		logger:       logger,
	}
}

// Sessions exposes the session issuer for route guards.
func (h *Handlers) Sessions() *auth.Sessions {
	return h.sessions
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", err)
	}
}

// writeRaw sends pre-encoded JSON, used for idempotent booking replays where
// the stored bytes must go out unmodified.
func (h *Handlers) writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

type errorResponse struct {
	Error       string `json:"error"`
	Type        string `json:"type"`
	WaitSeconds int    `json:"waitSeconds,omitempty"`
}

// writeError maps the typed error taxonomy onto HTTP status codes. Rate
// limit errors additionally carry a Retry-After header.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	response := errorResponse{
		Error: err.Error(),
		Type:  string(errors.GetType(err)),
	}

	status := http.StatusInternalServerError
	switch errors.GetType(err) {
	case errors.ErrTypeValidation:
		status = http.StatusBadRequest
	case errors.ErrTypeAuth:
		status = http.StatusUnauthorized
	case errors.ErrTypeNotFound:
		status = http.StatusNotFound
	case errors.ErrTypeRateLimit:
		status = http.StatusTooManyRequests
		response.WaitSeconds = errors.WaitSeconds(err)
		if response.WaitSeconds > 0 {
			w.Header().Set("Retry-After", fmt.Sprint(response.WaitSeconds))
		}
	case errors.ErrTypeUpstream:
		status = http.StatusBadGateway
	case errors.ErrTypeTimeout:
		status = http.StatusGatewayTimeout
	}

	if appErr, ok := err.(*errors.AppError); ok {
		response.Error = appErr.Message
	}
	h.writeJSON(w, status, response)
}

func refreshRequested(r *http.Request) bool {
	return r.URL.Query().Get("refresh") == "true"
}
