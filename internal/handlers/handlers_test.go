package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinic-api/internal/auth"
	"clinic-api/internal/common/errors"
	"clinic-api/internal/services"
)

type fakeCatalog struct {
	specialties []services.Specialty
	doctors     []services.Doctor
	agenda      []services.DayAvailability
	agendaErr   error

	lastSpecialtyID int
	lastDoctorID    int
	lastStartDate   string
	lastDays        int
	refreshSeen     bool
}

func (f *fakeCatalog) Get(ctx context.Context, forceRefresh bool) []services.Specialty {
	f.refreshSeen = forceRefresh
	return f.specialties
}

type fakeDoctors struct{ catalog *fakeCatalog }

func (f *fakeDoctors) Get(ctx context.Context, specialtyID int, forceRefresh bool) []services.Doctor {
	f.catalog.lastSpecialtyID = specialtyID
	f.catalog.refreshSeen = forceRefresh
	return f.catalog.doctors
}

type fakeAvailability struct{ catalog *fakeCatalog }

func (f *fakeAvailability) Get(ctx context.Context, doctorID int, startDate string, days int, forceRefresh bool) ([]services.DayAvailability, error) {
	f.catalog.lastDoctorID = doctorID
	f.catalog.lastStartDate = startDate
	f.catalog.lastDays = days
	return f.catalog.agenda, f.catalog.agendaErr
}

type fakeAppointments struct {
	response []byte
	err      error
	record   *services.StatusRecord

	lastRequest services.BookingRequest
	lastKey     string
}

func (f *fakeAppointments) Create(ctx context.Context, request services.BookingRequest, requestKey string) ([]byte, error) {
	f.lastRequest = request
	f.lastKey = requestKey
	return f.response, f.err
}

func (f *fakeAppointments) Status(ctx context.Context, appointmentID string) (*services.StatusRecord, error) {
	if f.record == nil {
		return nil, errors.NotFoundError("appointment status")
	}
	return f.record, nil
}

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestRouter(catalog *fakeCatalog, appointments *fakeAppointments) (*mux.Router, *auth.Sessions) {
	sessions := auth.NewSessions(testSecret, 30*time.Minute)
	h := New(catalog, &fakeDoctors{catalog}, &fakeAvailability{catalog}, appointments,
		sessions, nil, nil, nil, nil, nil, nil, nil)

	router := mux.NewRouter()
	router.HandleFunc("/bootstrap/session", h.BootstrapSession).Methods("POST")
	router.HandleFunc("/medical-specialties", h.GetSpecialties).Methods("GET")
	router.HandleFunc("/doctors/{serviceId}", h.GetDoctors).Methods("GET")
	router.HandleFunc("/doctor-availability/{doctorId}/{startDate}", h.GetAvailability).Methods("GET")
	router.Handle("/appointment", sessions.RequireSession(http.HandlerFunc(h.CreateAppointment))).Methods("POST")
	router.Handle("/appointment/{id}/status", sessions.RequireSession(http.HandlerFunc(h.GetAppointmentStatus))).Methods("GET")
	router.HandleFunc("/api/stats", h.GetStats).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	return router, sessions
}

func doRequest(router *mux.Router, request *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func TestGetSpecialties(t *testing.T) {
	catalog := &fakeCatalog{specialties: []services.Specialty{{ID: 10, Name: "Urología"}}}
	router, _ := newTestRouter(catalog, &fakeAppointments{})

	recorder := doRequest(router, httptest.NewRequest("GET", "/medical-specialties", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "application/json", recorder.Header().Get("Content-Type"))

	var got []services.Specialty
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "Urología", got[0].Name)
	assert.False(t, catalog.refreshSeen)
}

func TestGetSpecialtiesRefreshParam(t *testing.T) {
	catalog := &fakeCatalog{}
	router, _ := newTestRouter(catalog, &fakeAppointments{})

	doRequest(router, httptest.NewRequest("GET", "/medical-specialties?refresh=true", nil))
	assert.True(t, catalog.refreshSeen)
}

func TestGetDoctors(t *testing.T) {
	catalog := &fakeCatalog{doctors: []services.Doctor{{ID: 7, Name: "Dr. García"}}}
	router, _ := newTestRouter(catalog, &fakeAppointments{})

	t.Run("valid id", func(t *testing.T) {
		recorder := doRequest(router, httptest.NewRequest("GET", "/doctors/9", nil))
		require.Equal(t, http.StatusOK, recorder.Code)
		assert.Equal(t, 9, catalog.lastSpecialtyID)
	})

	t.Run("non-numeric id", func(t *testing.T) {
		recorder := doRequest(router, httptest.NewRequest("GET", "/doctors/urology", nil))
		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})

	t.Run("negative id", func(t *testing.T) {
		recorder := doRequest(router, httptest.NewRequest("GET", "/doctors/-1", nil))
		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})
}

func TestGetAvailability(t *testing.T) {
	catalog := &fakeCatalog{agenda: []services.DayAvailability{
		{Date: "2026-03-10", Slots: []string{"09:00"}},
	}}
	router, _ := newTestRouter(catalog, &fakeAppointments{})

	t.Run("defaults", func(t *testing.T) {
		recorder := doRequest(router, httptest.NewRequest("GET", "/doctor-availability/7/2026-03-10", nil))
		require.Equal(t, http.StatusOK, recorder.Code)
		assert.Equal(t, 7, catalog.lastDoctorID)
		assert.Equal(t, "2026-03-10", catalog.lastStartDate)
		assert.Equal(t, 0, catalog.lastDays)
	})

	t.Run("dates_to_fetch", func(t *testing.T) {
		recorder := doRequest(router, httptest.NewRequest("GET", "/doctor-availability/7/2026-03-10?dates_to_fetch=14", nil))
		require.Equal(t, http.StatusOK, recorder.Code)
		assert.Equal(t, 14, catalog.lastDays)
	})

	t.Run("invalid dates_to_fetch", func(t *testing.T) {
		recorder := doRequest(router, httptest.NewRequest("GET", "/doctor-availability/7/2026-03-10?dates_to_fetch=lots", nil))
		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})

	t.Run("service validation error maps to 400", func(t *testing.T) {
		catalog.agendaErr = errors.ValidationError("start date must be formatted as YYYY-MM-DD")
		defer func() { catalog.agendaErr = nil }()

		recorder := doRequest(router, httptest.NewRequest("GET", "/doctor-availability/7/bad-date", nil))
		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})
}

func TestBootstrapSession(t *testing.T) {
	router, sessions := newTestRouter(&fakeCatalog{}, &fakeAppointments{})

	request := httptest.NewRequest("POST", "/bootstrap/session", nil)
	request.Header.Set("Origin", "https://clinic.example")
	recorder := doRequest(router, request)
	require.Equal(t, http.StatusOK, recorder.Code)

	var session auth.Session
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &session))
	require.NotEmpty(t, session.Token)

	claims, err := sessions.Validate(session.Token)
	require.NoError(t, err)
	assert.Equal(t, "https://clinic.example", claims.Origin)
}

func authedRequest(t *testing.T, sessions *auth.Sessions, method, target, body string) *http.Request {
	t.Helper()
	session, err := sessions.Issue("")
	require.NoError(t, err)

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, target, reader)
	request.Header.Set("Authorization", "Bearer "+session.Token)
	return request
}

func TestCreateAppointment(t *testing.T) {
	t.Run("requires a session", func(t *testing.T) {
		router, _ := newTestRouter(&fakeCatalog{}, &fakeAppointments{})
		recorder := doRequest(router, httptest.NewRequest("POST", "/appointment", strings.NewReader("{}")))
		assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	})

	t.Run("passes body and idempotency key through", func(t *testing.T) {
		appointments := &fakeAppointments{response: []byte(`{"status":"confirmed"}`)}
		router, sessions := newTestRouter(&fakeCatalog{}, appointments)

		request := authedRequest(t, sessions, "POST", "/appointment",
			`{"doctorId":7,"date":"2026-03-10","time":"16:00","patientId":42}`)
		request.Header.Set("X-Request-ID", "req-abc")

		recorder := doRequest(router, request)
		require.Equal(t, http.StatusCreated, recorder.Code)
		assert.Equal(t, `{"status":"confirmed"}`, recorder.Body.String())
		assert.Equal(t, "req-abc", appointments.lastKey)
		assert.Equal(t, 7, appointments.lastRequest.DoctorID)
	})

	t.Run("invalid JSON body", func(t *testing.T) {
		router, sessions := newTestRouter(&fakeCatalog{}, &fakeAppointments{})
		recorder := doRequest(router, authedRequest(t, sessions, "POST", "/appointment", "{not json"))
		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})

	t.Run("rate limit maps to 429 with Retry-After", func(t *testing.T) {
		appointments := &fakeAppointments{err: errors.RateLimitError("per-minute request budget exhausted", 60)}
		router, sessions := newTestRouter(&fakeCatalog{}, appointments)

		recorder := doRequest(router, authedRequest(t, sessions, "POST", "/appointment",
			`{"doctorId":7,"date":"2026-03-10","time":"16:00","patientId":42}`))
		require.Equal(t, http.StatusTooManyRequests, recorder.Code)
		assert.Equal(t, "60", recorder.Header().Get("Retry-After"))

		var response errorResponse
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
		assert.Equal(t, 60, response.WaitSeconds)
	})

	t.Run("upstream failure maps to 502", func(t *testing.T) {
		appointments := &fakeAppointments{err: errors.UpstreamError("Hueco no disponible", nil)}
		router, sessions := newTestRouter(&fakeCatalog{}, appointments)

		recorder := doRequest(router, authedRequest(t, sessions, "POST", "/appointment",
			`{"doctorId":7,"date":"2026-03-10","time":"16:00","patientId":42}`))
		assert.Equal(t, http.StatusBadGateway, recorder.Code)
	})
}

func TestGetAppointmentStatus(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		appointments := &fakeAppointments{record: &services.StatusRecord{
			AppointmentID: "req-abc",
			Status:        services.StatusConfirmed,
		}}
		router, sessions := newTestRouter(&fakeCatalog{}, appointments)

		recorder := doRequest(router, authedRequest(t, sessions, "GET", "/appointment/req-abc/status", ""))
		require.Equal(t, http.StatusOK, recorder.Code)

		var record services.StatusRecord
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &record))
		assert.Equal(t, services.StatusConfirmed, record.Status)
	})

	t.Run("unknown id", func(t *testing.T) {
		router, sessions := newTestRouter(&fakeCatalog{}, &fakeAppointments{})
		recorder := doRequest(router, authedRequest(t, sessions, "GET", "/appointment/nope/status", ""))
		assert.Equal(t, http.StatusNotFound, recorder.Code)
	})
}

func TestStatsAndHealthWithoutBackends(t *testing.T) {
	router, _ := newTestRouter(&fakeCatalog{}, &fakeAppointments{})

	recorder := doRequest(router, httptest.NewRequest("GET", "/api/stats", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, "{}", recorder.Body.String())

	recorder = doRequest(router, httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, http.StatusOK, recorder.Code)

	var checks map[string]string
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &checks))
	assert.Equal(t, "ok", checks["status"])
}
