// Package upstream implements the client for the external clinic management
// API. Every call runs through a protected wrapper that enforces rate
// limits, detects the upstream's token invalidation quirk and retries once
// after a forced refresh, and records each outcome to the audit and metrics
// sinks. Read operations additionally run under a circuit breaker with a
// three-tier fallback chain.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"clinic-api/internal/audit"
	"clinic-api/internal/circuitbreaker"
	"clinic-api/internal/common/errors"
	"clinic-api/internal/common/logging"
	"clinic-api/internal/common/utils"
	"clinic-api/internal/ratelimit"
)

// snapshotTTL bounds how long a successful response stays usable as a
// fallback snapshot.
const snapshotTTL = 24 * time.Hour

// sinkTimeout bounds background audit and metrics writes, which run
// detached from the request that produced them.
const sinkTimeout = 5 * time.Second

// RequestFunc performs one upstream HTTP exchange. It is invoked again,
// unchanged, for the single post-refresh retry, so it must resolve the
// token on every invocation.
type RequestFunc func(ctx context.Context) (*Envelope, error)

// AuditSink records one entry per guarded call.
type AuditSink interface {
	Record(ctx context.Context, entry audit.Entry)
}

// MetricsSink receives operational counters and conflict alerts.
type MetricsSink interface {
	RecordRequest(ctx context.Context)
	RecordError(ctx context.Context)
	RecordTokenRefresh(ctx context.Context)
	AlertConflict(ctx context.Context, refreshesInWindow int)
}

// SnapshotCache stores fallback snapshots of successful read responses.
type SnapshotCache interface {
	Get(ctx context.Context, key string, dest interface{}) bool
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration)
}

// Options wires the client's collaborators. Audit, Metrics and Snapshots
// are optional; a nil sink simply disables that concern.
type Options struct {
	BaseURL     string
	HTTPClient  *http.Client
	Tokens      *TokenManager
	Credentials CredentialSource
	Limiter     *ratelimit.Limiter
	Breaker     *circuitbreaker.CircuitBreaker
	Snapshots   SnapshotCache
	Audit       AuditSink
	Metrics     MetricsSink
	Logger      logging.Logger
}

// Client talks to the clinic API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     *TokenManager
	creds      CredentialSource
	limiter    *ratelimit.Limiter
	breaker    *circuitbreaker.CircuitBreaker
	snapshots  SnapshotCache
	audit      AuditSink
	metrics    MetricsSink
	logger     logging.Logger
}

// NewClient creates the upstream client.
func NewClient(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		tokens:     opts.Tokens,
		creds:      opts.Credentials,
		limiter:    opts.Limiter,
		breaker:    opts.Breaker,
		snapshots:  opts.Snapshots,
		audit:      opts.Audit,
		metrics:    opts.Metrics,
		logger:     logger,
	}
}

// call performs one authenticated POST to an upstream endpoint. Non-2xx
// responses are returned as *HTTPError with the body retained, because the
// upstream occasionally wraps its auth conflict envelope in an HTTP error.
func (c *Client) call(ctx context.Context, endpoint string, body interface{}) (*Envelope, error) {
	token, err := c.tokens.GetValidToken(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.InternalError("failed to encode upstream request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL(ctx, endpoint), bytes.NewReader(payload))
	if err != nil {
		return nil, errors.InternalError("failed to build upstream request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(tokenHeader, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.ConnectionError(fmt.Sprintf("upstream call to %s failed", endpoint), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.ConnectionError(fmt.Sprintf("failed to read %s response", endpoint), err)
	}

	if resp.StatusCode >= 400 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: respBody}
	}

	var envelope Envelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, errors.ConnectionError(fmt.Sprintf("failed to decode %s response", endpoint), err)
	}
	return &envelope, nil
}

// endpointURL resolves the base URL for a call. Credentials may carry a
// clinic URL rotated through the secret store; when present it overrides
// the configured base URL.
func (c *Client) endpointURL(ctx context.Context, endpoint string) string {
	base := c.baseURL
	if c.creds != nil {
		if creds, err := c.creds.Get(ctx); err == nil && creds.ClinicURL != "" {
			base = strings.TrimSuffix(creds.ClinicURL, "/")
		}
	}
	return base + "/" + endpoint
}

// protected runs one upstream request under the rate limiter and the
// refresh-and-retry-once auth conflict policy. Every outcome is audited;
// terminal outcomes also feed the metrics counters.
func (c *Client) protected(ctx context.Context, endpoint string, fn RequestFunc) (*Envelope, error) {
	requestID := utils.MustGenerateRequestID()
	start := time.Now()

	decision := c.limiter.CanMakeRequest()
	if !decision.Allowed {
		c.recordAudit(ctx, requestID, endpoint, audit.StatusBlocked, start, decision.Reason)
		return nil, decision.Err()
	}

	c.limiter.RecordRequest()
	if c.metrics != nil {
		c.dispatch(c.metrics.RecordRequest)
	}

	envelope, err := fn(ctx)
	if !isAuthConflict(envelope, err) {
		if err != nil {
			c.recordAudit(ctx, requestID, endpoint, audit.StatusUnretriedFailure, start, err.Error())
			c.recordError(ctx)
			return nil, err
		}
		c.recordAudit(ctx, requestID, endpoint, audit.StatusSuccess, start, "")
		return envelope, nil
	}

	c.logger.Warn("upstream token conflict detected, refreshing and retrying once",
		logging.String("endpoint", endpoint),
		logging.String("request_id", requestID))

	c.limiter.RecordTokenRefresh()
	if c.metrics != nil {
		c.dispatch(c.metrics.RecordTokenRefresh)
		if status := c.limiter.GetStatus(); status.ConflictMode {
			refreshes := status.RefreshesInWindow
			c.dispatch(func(ctx context.Context) {
				c.metrics.AlertConflict(ctx, refreshes)
			})
		}
	}

	if err := c.tokens.ForceRefresh(ctx); err != nil {
		c.recordAudit(ctx, requestID, endpoint, audit.StatusRetriedFailure, start, err.Error())
		c.recordError(ctx)
		return nil, err
	}

	envelope, err = fn(ctx)
	if err != nil {
		c.recordAudit(ctx, requestID, endpoint, audit.StatusRetriedFailure, start, err.Error())
		c.recordError(ctx)
		return nil, err
	}
	if envelope.IsAuthConflict() {
		retryErr := errors.AuthError("upstream rejected the refreshed session token")
		c.recordAudit(ctx, requestID, endpoint, audit.StatusRetriedFailure, start, retryErr.Error())
		c.recordError(ctx)
		return nil, retryErr
	}

	c.recordAudit(ctx, requestID, endpoint, audit.StatusRetriedSuccess, start, "")
	return envelope, nil
}

// resilient wraps protected in the circuit breaker and applies the fallback
// chain for read operations: caller-supplied data, then the cached
// `fallback:{operation}` snapshot, then a minimal hardcoded payload.
// Genuine upstream successes refresh the snapshot; fallback results never
// touch it, so the snapshot TTL keeps bounding the age of real data.
func (c *Client) resilient(ctx context.Context, operation, endpoint string, fallbackData json.RawMessage, fn RequestFunc) (json.RawMessage, error) {
	result, err := c.breaker.Execute(ctx,
		func(ctx context.Context) (interface{}, error) {
			envelope, err := c.protected(ctx, endpoint, fn)
			if err != nil {
				return nil, err
			}
			if !envelope.Successful {
				return nil, errors.UpstreamError(
					fmt.Sprintf("%s reported a business failure", endpoint), nil,
				).WithContext("detail", envelope.Html)
			}
			if c.snapshots != nil {
				c.snapshots.Set(ctx, "fallback:"+operation, envelope.Data, snapshotTTL)
			}
			return envelope.Data, nil
		},
		func() (interface{}, error) {
			c.logger.Warn("circuit open, serving fallback data",
				logging.String("operation", operation))
			if fallbackData != nil {
				return fallbackData, nil
			}
			return c.snapshotOrStub(ctx, operation), nil
		})

	if err != nil {
		c.logger.Warn("upstream operation failed, serving fallback data",
			logging.String("operation", operation),
			logging.Err(err))
		if fallbackData != nil {
			return fallbackData, nil
		}
		return c.snapshotOrStub(ctx, operation), nil
	}

	data, ok := result.(json.RawMessage)
	if !ok {
		return nil, errors.InternalError("unexpected circuit breaker result type", nil)
	}
	return data, nil
}

// snapshotOrStub returns the cached fallback snapshot for an operation, or
// the hardcoded stub when none exists.
func (c *Client) snapshotOrStub(ctx context.Context, operation string) json.RawMessage {
	if c.snapshots != nil {
		var snapshot json.RawMessage
		if c.snapshots.Get(ctx, "fallback:"+operation, &snapshot) {
			return snapshot
		}
	}
	return fallbackPayload(operation)
}

// GetSpecialties fetches the clinic's medical specialties.
func (c *Client) GetSpecialties(ctx context.Context) ([]Specialty, error) {
	creds, err := c.creds.Get(ctx)
	if err != nil {
		return nil, err
	}

	data, err := c.resilient(ctx, "specialties", "GetEspecialidades", nil, func(ctx context.Context) (*Envelope, error) {
		return c.call(ctx, "GetEspecialidades", map[string]string{"CLI_ID": creds.ClinicID})
	})
	if err != nil {
		return nil, err
	}

	var specialties []Specialty
	if err := json.Unmarshal(data, &specialties); err != nil {
		return nil, errors.UpstreamError("failed to decode specialties payload", err)
	}
	return specialties, nil
}

// GetDoctors fetches the practitioners attached to a specialty.
func (c *Client) GetDoctors(ctx context.Context, specialtyID int) ([]Doctor, error) {
	data, err := c.resilient(ctx, "doctors", "GetDoctores", nil, func(ctx context.Context) (*Envelope, error) {
		return c.call(ctx, "GetDoctores", map[string]int{"ESP_ID": specialtyID})
	})
	if err != nil {
		return nil, err
	}

	var doctors []Doctor
	if err := json.Unmarshal(data, &doctors); err != nil {
		return nil, errors.UpstreamError("failed to decode doctors payload", err)
	}
	return doctors, nil
}

// GetAvailability fetches a doctor's open agenda slots. startDate must
// already be in the upstream's compact yyyyMMdd form.
func (c *Client) GetAvailability(ctx context.Context, doctorID int, startDate string, days int) ([]AvailabilityDay, error) {
	body := map[string]interface{}{
		"USU_ID":        doctorID,
		"fecha":         startDate,
		"diasRecuperar": days,
	}

	data, err := c.resilient(ctx, "availability", "GetAgendaDisponibilidad", nil, func(ctx context.Context) (*Envelope, error) {
		return c.call(ctx, "GetAgendaDisponibilidad", body)
	})
	if err != nil {
		return nil, err
	}

	var agenda []AvailabilityDay
	if err := json.Unmarshal(data, &agenda); err != nil {
		return nil, errors.UpstreamError("failed to decode availability payload", err)
	}
	return agenda, nil
}

// GetPatientByNIF looks a patient up by national id document. Returns a
// not-found error when the upstream has no matching record.
func (c *Client) GetPatientByNIF(ctx context.Context, nif string) (*Patient, error) {
	envelope, err := c.protected(ctx, "GetPacienteByNIF", func(ctx context.Context) (*Envelope, error) {
		return c.call(ctx, "GetPacienteByNIF", map[string]string{"id": nif})
	})
	if err != nil {
		return nil, err
	}
	if !envelope.Successful {
		return nil, upstreamFailure("GetPacienteByNIF", envelope)
	}

	var patient Patient
	if len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, &patient); err != nil {
			return nil, errors.UpstreamError("failed to decode patient payload", err)
		}
	}
	if patient.ID == 0 {
		return nil, errors.NotFoundError("patient")
	}
	return &patient, nil
}

// CreatePatient registers a new patient upstream.
func (c *Client) CreatePatient(ctx context.Context, patient NewPatient) (*PatientRef, error) {
	envelope, err := c.protected(ctx, "PostCreatePaciente", func(ctx context.Context) (*Envelope, error) {
		return c.call(ctx, "PostCreatePaciente", map[string]interface{}{"paciente": patient})
	})
	if err != nil {
		return nil, err
	}
	if !envelope.Successful {
		return nil, upstreamFailure("PostCreatePaciente", envelope)
	}

	var ref PatientRef
	if err := envelope.DecodeData(&ref); err != nil || ref.ID == 0 {
		return nil, errors.UpstreamError("patient creation returned no patient id", err)
	}
	return &ref, nil
}

// AppointmentRequest is the payload for PostCitaPaciente. Start must be in
// the upstream's compact yyyyMMddHHmm form.
type AppointmentRequest struct {
	DoctorID  int    `json:"USU_ID"`
	Start     string `json:"fechaInicioCitaString"`
	PatientID int    `json:"PAC_ID"`
	Notes     string `json:"observaciones,omitempty"`
}

// CreateAppointment books an appointment upstream.
func (c *Client) CreateAppointment(ctx context.Context, request AppointmentRequest) (*AppointmentRef, error) {
	envelope, err := c.protected(ctx, "PostCitaPaciente", func(ctx context.Context) (*Envelope, error) {
		return c.call(ctx, "PostCitaPaciente", request)
	})
	if err != nil {
		return nil, err
	}
	if !envelope.Successful {
		return nil, upstreamFailure("PostCitaPaciente", envelope)
	}

	var ref AppointmentRef
	if err := envelope.DecodeData(&ref); err != nil || ref.ID == 0 {
		return nil, errors.UpstreamError("appointment creation returned no appointment id", err)
	}
	return &ref, nil
}

// TokenExpiry exposes the session token expiry for the stats endpoint.
func (c *Client) TokenExpiry() time.Time {
	return c.tokens.Expiry()
}

// isAuthConflict checks both failure channels for the token conflict shape:
// a 200 envelope flagging the conflict, or an HTTP error whose body carries
// the same envelope.
func isAuthConflict(envelope *Envelope, err error) bool {
	if err == nil {
		return envelope.IsAuthConflict()
	}
	if httpErr, ok := err.(*HTTPError); ok {
		return httpErr.authConflict()
	}
	return false
}

// upstreamFailure converts a Successful=false envelope into a typed error.
func upstreamFailure(endpoint string, envelope *Envelope) error {
	appErr := errors.UpstreamError(fmt.Sprintf("%s reported a business failure", endpoint), nil)
	if envelope.Html != "" {
		appErr = appErr.WithContext("detail", envelope.Html)
	}
	return appErr
}

// dispatch runs one sink write in the background with its own bounded
// context, detached from the request that produced it. Sink latency and
// failures never reach the call path; a panicking sink is recovered and
// logged.
func (c *Client) dispatch(write func(ctx context.Context)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("background sink write panicked", nil,
					logging.Field{Key: "panic", Value: r})
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		defer cancel()
		write(ctx)
	}()
}

// recordAudit writes one audit entry, if an audit sink is configured.
func (c *Client) recordAudit(ctx context.Context, requestID, endpoint, status string, start time.Time, errorMessage string) {
	if c.audit == nil {
		return
	}
	entry := audit.Entry{
		RequestID:    requestID,
		Endpoint:     endpoint,
		Status:       status,
		DurationMs:   time.Since(start).Milliseconds(),
		ErrorMessage: errorMessage,
	}
	c.dispatch(func(ctx context.Context) {
		c.audit.Record(ctx, entry)
	})
}

func (c *Client) recordError(ctx context.Context) {
	if c.metrics != nil {
		c.dispatch(c.metrics.RecordError)
	}
}
