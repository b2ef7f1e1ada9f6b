package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinic-api/internal/audit"
	"clinic-api/internal/circuitbreaker"
	"clinic-api/internal/common/errors"
	"clinic-api/internal/ratelimit"
)

const conflictBody = `{"Successful":false,"Html":"Token incorrecto","Data":{"ErrorCode":-1}}`

type fakeAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (f *fakeAudit) Record(ctx context.Context, entry audit.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
}

func (f *fakeAudit) statuses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	statuses := make([]string, len(f.entries))
	for i, entry := range f.entries {
		statuses[i] = entry.Status
	}
	return statuses
}

// waitForStatuses blocks until the background audit writes have landed.
func (f *fakeAudit) waitForStatuses(t *testing.T, want []string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return reflect.DeepEqual(f.statuses(), want)
	}, time.Second, 5*time.Millisecond, "audit statuses never became %v (got %v)", want, f.statuses())
}

type fakeMetrics struct {
	mu        sync.Mutex
	requests  int
	errs      int
	refreshes int
	alerts    int
}

func (f *fakeMetrics) RecordRequest(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
}

func (f *fakeMetrics) RecordError(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs++
}

func (f *fakeMetrics) RecordTokenRefresh(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
}

func (f *fakeMetrics) AlertConflict(ctx context.Context, refreshesInWindow int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts++
}

func (f *fakeMetrics) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

type fakeSnapshots struct {
	data map[string][]byte
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{data: make(map[string][]byte)}
}

func (f *fakeSnapshots) Get(ctx context.Context, key string, dest interface{}) bool {
	raw, ok := f.data[key]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, dest) == nil
}

func (f *fakeSnapshots) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	switch v := value.(type) {
	case json.RawMessage:
		f.data[key] = v
	case []byte:
		f.data[key] = v
	default:
		raw, _ := json.Marshal(v)
		f.data[key] = raw
	}
}

// clinicServer scripts per-endpoint response sequences. Login always
// succeeds and counts its calls.
type clinicServer struct {
	mu        sync.Mutex
	responses map[string][]string
	calls     map[string]int
	logins    int
	server    *httptest.Server
}

func newClinicServer(t *testing.T) *clinicServer {
	t.Helper()
	cs := &clinicServer{
		responses: make(map[string][]string),
		calls:     make(map[string]int),
	}
	cs.server = httptest.NewServer(http.HandlerFunc(cs.handle))
	t.Cleanup(cs.server.Close)
	return cs
}

func (cs *clinicServer) handle(w http.ResponseWriter, r *http.Request) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	endpoint := r.URL.Path[1:]
	if endpoint == "LoginExternalHash" {
		cs.logins++
		fmt.Fprintf(w, `{"Successful":true,"Data":{"USU_APITOKEN":"token-%d"}}`, cs.logins)
		return
	}

	cs.calls[endpoint]++
	queue := cs.responses[endpoint]
	if len(queue) == 0 {
		http.Error(w, "unexpected call", http.StatusInternalServerError)
		return
	}

	response := queue[0]
	if len(queue) > 1 {
		cs.responses[endpoint] = queue[1:]
	}

	// A "status:<code>:" prefix scripts an HTTP-level failure
	var status int
	if n, _ := fmt.Sscanf(response, "status:%d:", &status); n == 1 {
		w.WriteHeader(status)
		fmt.Fprint(w, response[len(fmt.Sprintf("status:%d:", status)):])
		return
	}
	fmt.Fprint(w, response)
}

func (cs *clinicServer) script(endpoint string, responses ...string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.responses[endpoint] = responses
}

func (cs *clinicServer) callCount(endpoint string) int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.calls[endpoint]
}

func (cs *clinicServer) loginCount() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.logins
}

type testClient struct {
	client    *Client
	server    *clinicServer
	tokens    *TokenManager
	limiter   *ratelimit.Limiter
	breaker   *circuitbreaker.CircuitBreaker
	audit     *fakeAudit
	metrics   *fakeMetrics
	snapshots *fakeSnapshots
}

func newTestClient(t *testing.T) *testClient {
	t.Helper()
	server := newClinicServer(t)

	tokens, err := NewTokenManager(http.DefaultClient, server.server.URL, staticCreds{}, nil)
	require.NoError(t, err)

	tc := &testClient{
		server:    server,
		tokens:    tokens,
		limiter:   ratelimit.NewLimiter(nil, nil),
		breaker:   circuitbreaker.New("clinic-api", circuitbreaker.DefaultConfig()),
		audit:     &fakeAudit{},
		metrics:   &fakeMetrics{},
		snapshots: newFakeSnapshots(),
	}
	tc.client = NewClient(Options{
		BaseURL:     server.server.URL,
		HTTPClient:  http.DefaultClient,
		Tokens:      tokens,
		Credentials: staticCreds{},
		Limiter:     tc.limiter,
		Breaker:     tc.breaker,
		Snapshots:   tc.snapshots,
		Audit:       tc.audit,
		Metrics:     tc.metrics,
	})
	return tc
}

func TestRetryOnceOnAuthConflict(t *testing.T) {
	tc := newTestClient(t)
	tc.server.script("GetEspecialidades",
		conflictBody,
		`{"Successful":true,"Data":[{"ESP_ID":10,"ESP_NOMBRE":"Urología"}]}`)

	specialties, err := tc.client.GetSpecialties(context.Background())
	require.NoError(t, err)
	require.Len(t, specialties, 1)
	assert.Equal(t, 10, specialties[0].ID)

	// Exactly two endpoint calls with exactly one forced refresh between
	assert.Equal(t, 2, tc.server.callCount("GetEspecialidades"))
	assert.Equal(t, 2, tc.server.loginCount())
	tc.audit.waitForStatuses(t, []string{audit.StatusRetriedSuccess})
	require.Eventually(t, func() bool { return tc.metrics.refreshCount() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestNoDoubleRetry(t *testing.T) {
	tc := newTestClient(t)
	tc.server.script("GetEspecialidades", conflictBody)

	_, err := tc.client.protected(context.Background(), "GetEspecialidades",
		func(ctx context.Context) (*Envelope, error) {
			return tc.client.call(ctx, "GetEspecialidades", map[string]string{"CLI_ID": "19748"})
		})

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeAuth))
	assert.Equal(t, 2, tc.server.callCount("GetEspecialidades"))
	tc.audit.waitForStatuses(t, []string{audit.StatusRetriedFailure})
}

func TestPlainErrorsAreNotRetried(t *testing.T) {
	tc := newTestClient(t)

	calls := 0
	_, err := tc.client.protected(context.Background(), "GetDoctores",
		func(ctx context.Context) (*Envelope, error) {
			calls++
			return nil, fmt.Errorf("connection reset")
		})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	tc.audit.waitForStatuses(t, []string{audit.StatusUnretriedFailure})
	assert.Equal(t, 0, tc.metrics.refreshCount())
}

func TestHTTPErrorCarryingConflictBodyIsRetried(t *testing.T) {
	tc := newTestClient(t)
	tc.server.script("GetDoctores",
		"status:401:"+conflictBody,
		`{"Successful":true,"Data":[{"USU_ID":7,"USU_NOMBRE":"Dr. García"}]}`)

	doctors, err := tc.client.GetDoctors(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, doctors, 1)
	assert.Equal(t, 7, doctors[0].ID)
	assert.Equal(t, 2, tc.server.callCount("GetDoctores"))
}

func TestBusinessErrorsDoNotTriggerRefresh(t *testing.T) {
	tc := newTestClient(t)
	tc.server.script("GetPacienteByNIF",
		`{"Successful":false,"Html":"Paciente inválido","Data":{"ErrorCode":7}}`)

	_, err := tc.client.GetPatientByNIF(context.Background(), "12345678A")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeUpstream))
	assert.Equal(t, 1, tc.server.callCount("GetPacienteByNIF"))
	assert.Equal(t, 0, tc.metrics.refreshCount())
}

func TestRateLimitedRequestIsBlocked(t *testing.T) {
	tc := newTestClient(t)
	for i := 0; i < 10; i++ {
		tc.limiter.RecordRequest()
	}

	_, err := tc.client.GetPatientByNIF(context.Background(), "12345678A")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeRateLimit))
	assert.Equal(t, 60, errors.WaitSeconds(err))

	assert.Equal(t, 0, tc.server.callCount("GetPacienteByNIF"))
	tc.audit.waitForStatuses(t, []string{audit.StatusBlocked})
}

func TestResilientFallbacks(t *testing.T) {
	t.Run("propagated failure serves cached snapshot", func(t *testing.T) {
		tc := newTestClient(t)
		tc.server.script("GetEspecialidades", "status:500:boom")
		tc.snapshots.Set(context.Background(), "fallback:specialties",
			json.RawMessage(`[{"ESP_ID":3,"ESP_NOMBRE":"Cardiología"}]`), time.Hour)

		specialties, err := tc.client.GetSpecialties(context.Background())
		require.NoError(t, err)
		require.Len(t, specialties, 1)
		assert.Equal(t, "Cardiología", specialties[0].Name)
	})

	t.Run("propagated failure without snapshot serves the stub", func(t *testing.T) {
		tc := newTestClient(t)
		tc.server.script("GetEspecialidades", "status:500:boom")

		specialties, err := tc.client.GetSpecialties(context.Background())
		require.NoError(t, err)
		require.NotEmpty(t, specialties)
		assert.Equal(t, "Urología", specialties[0].Name)
	})

	t.Run("fail-fast serves fallback without calling upstream", func(t *testing.T) {
		tc := newTestClient(t)
		tc.server.script("GetDoctores", "status:500:boom")

		// Trip the breaker with consecutive failures
		for i := 0; i < 5; i++ {
			_, err := tc.client.GetDoctors(context.Background(), 10)
			require.NoError(t, err) // reads degrade to fallback data, not errors
		}
		require.Equal(t, circuitbreaker.StateOpen, tc.breaker.State())
		before := tc.server.callCount("GetDoctores")

		doctors, err := tc.client.GetDoctors(context.Background(), 10)
		require.NoError(t, err)
		require.NotEmpty(t, doctors)
		assert.Equal(t, before, tc.server.callCount("GetDoctores"))
	})
}

func TestSuccessfulReadRefreshesSnapshot(t *testing.T) {
	tc := newTestClient(t)
	payload := `[{"ESP_ID":10,"ESP_NOMBRE":"Urología"}]`
	tc.server.script("GetEspecialidades", `{"Successful":true,"Data":`+payload+`}`)

	_, err := tc.client.GetSpecialties(context.Background())
	require.NoError(t, err)

	assert.JSONEq(t, payload, string(tc.snapshots.data["fallback:specialties"]))
}

func TestFallbackResultsNeverTouchTheSnapshot(t *testing.T) {
	tc := newTestClient(t)
	tc.server.script("GetEspecialidades", "status:500:boom")

	// Trip the breaker; every degraded read serves the hardcoded stub
	for i := 0; i < 5; i++ {
		_, err := tc.client.GetSpecialties(context.Background())
		require.NoError(t, err)
	}
	require.Equal(t, circuitbreaker.StateOpen, tc.breaker.State())

	// Fail-fast read still serves the stub without calling upstream
	specialties, err := tc.client.GetSpecialties(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, specialties)

	// None of those fallback responses may masquerade as a cached snapshot
	_, exists := tc.snapshots.data["fallback:specialties"]
	assert.False(t, exists, "fallback data must not be persisted as a snapshot")
}

// blockingAudit holds every Record call until released.
type blockingAudit struct {
	release chan struct{}
	mu      sync.Mutex
	entries []audit.Entry
}

func (b *blockingAudit) Record(ctx context.Context, entry audit.Entry) {
	<-b.release
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, entry)
}

func (b *blockingAudit) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func TestAuditSinkLatencyDoesNotDelayRequests(t *testing.T) {
	tc := newTestClient(t)
	blocking := &blockingAudit{release: make(chan struct{})}
	tc.client = NewClient(Options{
		BaseURL:     tc.server.server.URL,
		HTTPClient:  http.DefaultClient,
		Tokens:      tc.tokens,
		Credentials: staticCreds{},
		Limiter:     tc.limiter,
		Breaker:     tc.breaker,
		Snapshots:   tc.snapshots,
		Audit:       blocking,
		Metrics:     tc.metrics,
	})
	tc.server.script("GetPacienteByNIF",
		`{"Successful":true,"Data":{"PAC_ID":42,"PAC_NOMBRE":"Juan"}}`)

	patient, err := tc.client.GetPatientByNIF(context.Background(), "12345678A")
	require.NoError(t, err)
	assert.Equal(t, 42, patient.ID)

	// The call returned while the audit write is still stuck, so the
	// request path cannot have waited on the sink
	assert.Equal(t, 0, blocking.count())

	close(blocking.release)
	require.Eventually(t, func() bool { return blocking.count() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestGetAvailability(t *testing.T) {
	tc := newTestClient(t)
	tc.server.script("GetAgendaDisponibilidad",
		`{"Successful":true,"Data":[{"FECHA":"2026-03-10","HORAS":["09:00","09:30"]}]}`)

	agenda, err := tc.client.GetAvailability(context.Background(), 7, "20260310", 31)
	require.NoError(t, err)
	require.Len(t, agenda, 1)
	assert.Equal(t, []string{"09:00", "09:30"}, agenda[0].Hours)
}

func TestGetPatientByNIF(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		tc := newTestClient(t)
		tc.server.script("GetPacienteByNIF",
			`{"Successful":true,"Data":{"PAC_ID":42,"PAC_NOMBRE":"Juan"}}`)

		patient, err := tc.client.GetPatientByNIF(context.Background(), "12345678A")
		require.NoError(t, err)
		assert.Equal(t, 42, patient.ID)
		assert.Equal(t, "Juan", patient.Name)
	})

	t.Run("not found", func(t *testing.T) {
		tc := newTestClient(t)
		tc.server.script("GetPacienteByNIF", `{"Successful":true,"Data":null}`)

		_, err := tc.client.GetPatientByNIF(context.Background(), "00000000Z")
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
	})
}

func TestCreatePatient(t *testing.T) {
	tc := newTestClient(t)
	tc.server.script("PostCreatePaciente", `{"Successful":true,"Data":{"PAC_ID":99}}`)

	ref, err := tc.client.CreatePatient(context.Background(), NewPatient{
		Name: "Juan", Surname: "Pérez", NIF: "12345678A",
	})
	require.NoError(t, err)
	assert.Equal(t, 99, ref.ID)
}

func TestCreateAppointment(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		tc := newTestClient(t)
		tc.server.script("PostCitaPaciente", `{"Successful":true,"Data":{"CITA_ID":1234}}`)

		ref, err := tc.client.CreateAppointment(context.Background(), AppointmentRequest{
			DoctorID:  7,
			Start:     "202603101600",
			PatientID: 42,
		})
		require.NoError(t, err)
		assert.Equal(t, 1234, ref.ID)
	})

	t.Run("business failure propagates", func(t *testing.T) {
		tc := newTestClient(t)
		tc.server.script("PostCitaPaciente",
			`{"Successful":false,"Html":"Hueco no disponible","Data":{"ErrorCode":3}}`)

		_, err := tc.client.CreateAppointment(context.Background(), AppointmentRequest{
			DoctorID:  7,
			Start:     "202603101600",
			PatientID: 42,
		})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeUpstream))
	})
}

func TestEnvelopeAuthConflictDetection(t *testing.T) {
	t.Run("conflict shape", func(t *testing.T) {
		var env Envelope
		require.NoError(t, json.Unmarshal([]byte(conflictBody), &env))
		assert.True(t, env.IsAuthConflict())
	})

	t.Run("other error codes are not conflicts", func(t *testing.T) {
		var env Envelope
		require.NoError(t, json.Unmarshal(
			[]byte(`{"Successful":false,"Html":"Other error","Data":{"ErrorCode":1}}`), &env))
		assert.False(t, env.IsAuthConflict())
	})

	t.Run("successful envelopes are never conflicts", func(t *testing.T) {
		var env Envelope
		require.NoError(t, json.Unmarshal(
			[]byte(`{"Successful":true,"Data":{"ErrorCode":-1}}`), &env))
		assert.False(t, env.IsAuthConflict())
	})
}
