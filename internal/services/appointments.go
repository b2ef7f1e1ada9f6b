package services

import (
	"context"
	"encoding/json"
	"time"

	"clinic-api/internal/common/errors"
	"clinic-api/internal/common/logging"
	"clinic-api/internal/common/utils"
	"clinic-api/internal/upstream"
)

// Appointment status values. A record starts in processing and moves to
// exactly one terminal state; terminal states never regress.
const (
	StatusProcessing = "processing"
	StatusConfirmed  = "confirmed"
	StatusFailed     = "failed"
)

const (
	idempotencyPrefix = "idempotency:"
	statusPrefix      = "appointment-status:"
	statusTTL         = 24 * time.Hour
)

// BookingRequest is the widget's appointment creation payload. Either an
// existing PatientID or enough Patient detail to register one is required.
type BookingRequest struct {
	DoctorID  int             `json:"doctorId"`
	Date      string          `json:"date"` // YYYY-MM-DD
	Time      string          `json:"time"` // HH:MM
	Notes     string          `json:"notes,omitempty"`
	PatientID int             `json:"patientId,omitempty"`
	Patient   *PatientDetails `json:"patient,omitempty"`
}

// PatientDetails registers a new patient as part of a booking.
type PatientDetails struct {
	Name      string `json:"name"`
	Surname   string `json:"surname"`
	NIF       string `json:"nif"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
	BirthDate string `json:"birthDate,omitempty"`
}

// BookingResponse is the confirmation returned to the widget.
type BookingResponse struct {
	AppointmentID string `json:"appointmentId"`
	UpstreamID    int    `json:"upstreamId"`
	PatientID     int    `json:"patientId"`
	Status        string `json:"status"`
	Message       string `json:"message"`
}

// StatusRecord tracks one appointment creation attempt.
type StatusRecord struct {
	AppointmentID string    `json:"appointmentId"`
	Status        string    `json:"status"`
	UpstreamID    int       `json:"upstreamId,omitempty"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// AppointmentsService books appointments and tracks their status.
type AppointmentsService struct {
	upstream       UpstreamAPI
	cache          Cache
	idempotencyTTL time.Duration
	logger         logging.Logger
	now            func() time.Time
}

// NewAppointmentsService creates the appointments service.
func NewAppointmentsService(api UpstreamAPI, cache Cache, idempotencyTTL time.Duration, logger logging.Logger) *AppointmentsService {
	if idempotencyTTL <= 0 {
		idempotencyTTL = 24 * time.Hour
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &AppointmentsService{
		upstream:       api,
		cache:          cache,
		idempotencyTTL: idempotencyTTL,
		logger:         logger,
		now:            time.Now,
	}
}

// Create books an appointment. When requestKey is set and a response was
// already stored for it, those exact bytes are replayed without contacting
// the upstream again. The returned slice is the JSON response body.
//
// Unlike the read services, errors here propagate: a booking is a write
// with downstream side effects and the caller must know whether it landed.
func (s *AppointmentsService) Create(ctx context.Context, request BookingRequest, requestKey string) ([]byte, error) {
	if requestKey != "" {
		if stored, found := s.cache.GetRaw(ctx, idempotencyPrefix+requestKey); found {
			s.logger.Info("replaying stored booking response",
				logging.String("request_key", requestKey))
			return stored, nil
		}
	}

	start, err := s.validate(request)
	if err != nil {
		return nil, err
	}

	patientID, err := s.resolvePatient(ctx, request)
	if err != nil {
		return nil, err
	}

	trackingID := requestKey
	if trackingID == "" {
		trackingID = utils.MustGenerateRequestID()
	}
	s.writeStatus(ctx, StatusRecord{
		AppointmentID: trackingID,
		Status:        StatusProcessing,
		CreatedAt:     s.now(),
		UpdatedAt:     s.now(),
	})

	ref, err := s.upstream.CreateAppointment(ctx, upstream.AppointmentRequest{
		DoctorID:  request.DoctorID,
		Start:     start,
		PatientID: patientID,
		Notes:     request.Notes,
	})
	if err != nil {
		s.transitionStatus(ctx, trackingID, StatusFailed, 0, err.Error())
		return nil, err
	}

	s.transitionStatus(ctx, trackingID, StatusConfirmed, ref.ID, "")

	response, err := json.Marshal(BookingResponse{
		AppointmentID: trackingID,
		UpstreamID:    ref.ID,
		PatientID:     patientID,
		Status:        StatusConfirmed,
		Message:       "appointment created",
	})
	if err != nil {
		return nil, errors.InternalError("failed to encode booking response", err)
	}

	if requestKey != "" {
		s.cache.Set(ctx, idempotencyPrefix+requestKey, response, s.idempotencyTTL)
	}
	return response, nil
}

// Status returns the tracking record for an appointment creation attempt.
func (s *AppointmentsService) Status(ctx context.Context, appointmentID string) (*StatusRecord, error) {
	var record StatusRecord
	if !s.cache.Get(ctx, statusPrefix+appointmentID, &record) {
		return nil, errors.NotFoundError("appointment status")
	}
	return &record, nil
}

// validate checks the booking input and returns the upstream's compact
// start timestamp.
func (s *AppointmentsService) validate(request BookingRequest) (string, error) {
	if request.DoctorID <= 0 {
		return "", errors.ValidationError("doctor id must be positive")
	}
	if request.PatientID <= 0 && request.Patient == nil {
		return "", errors.ValidationError("either patientId or patient details are required")
	}
	if request.Patient != nil && request.PatientID <= 0 {
		if request.Patient.NIF == "" || request.Patient.Name == "" {
			return "", errors.ValidationError("patient details require at least a name and NIF")
		}
	}

	start, err := utils.NormalizeDateTime(request.Date + " " + request.Time)
	if err != nil {
		return "", errors.ValidationError(err.Error())
	}
	return start, nil
}

// resolvePatient returns an existing patient id, looking the patient up by
// NIF and registering them upstream when unknown.
func (s *AppointmentsService) resolvePatient(ctx context.Context, request BookingRequest) (int, error) {
	if request.PatientID > 0 {
		return request.PatientID, nil
	}

	patient, err := s.upstream.GetPatientByNIF(ctx, request.Patient.NIF)
	if err == nil {
		return patient.ID, nil
	}
	if !errors.IsType(err, errors.ErrTypeNotFound) {
		return 0, err
	}

	ref, err := s.upstream.CreatePatient(ctx, upstream.NewPatient{
		Name:     request.Patient.Name,
		Surname:  request.Patient.Surname,
		NIF:      request.Patient.NIF,
		Phone:    request.Patient.Phone,
		Email:    request.Patient.Email,
		Birthday: request.Patient.BirthDate,
	})
	if err != nil {
		return 0, err
	}
	return ref.ID, nil
}

// writeStatus stores a fresh status record.
func (s *AppointmentsService) writeStatus(ctx context.Context, record StatusRecord) {
	s.cache.Set(ctx, statusPrefix+record.AppointmentID, record, statusTTL)
}

// transitionStatus moves a record out of processing. Terminal states are
// immutable, so a late or duplicate transition is dropped.
func (s *AppointmentsService) transitionStatus(ctx context.Context, appointmentID, status string, upstreamID int, errorMessage string) {
	var record StatusRecord
	if !s.cache.Get(ctx, statusPrefix+appointmentID, &record) {
		record = StatusRecord{AppointmentID: appointmentID, CreatedAt: s.now()}
	}
	if record.Status == StatusConfirmed || record.Status == StatusFailed {
		return
	}

	record.Status = status
	record.UpstreamID = upstreamID
	record.ErrorMessage = errorMessage
	record.UpdatedAt = s.now()
	s.writeStatus(ctx, record)
}
