package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"clinic-api/internal/common/errors"
	"clinic-api/internal/services"
)

// CreateAppointment books an appointment
// @Summary Book an appointment
// @Description Books an appointment for a patient, registering the patient first when needed. Repeating a request with the same X-Request-ID replays the original response without booking twice.
// @Tags appointments
// @Accept json
// @Produce json
// @Security SessionAuth
// @Param X-Request-ID header string false "Idempotency key"
// @Param request body services.BookingRequest true "Booking request"
// @Success 201 {object} services.BookingResponse
// @Failure 400 {object} errorResponse "Invalid booking request"
// @Failure 429 {object} errorResponse "Upstream rate budget exhausted"
// @Failure 502 {object} errorResponse "Upstream rejected the booking"
// @Router /appointment [post]
func (h *Handlers) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	var request services.BookingRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.writeError(w, errors.ValidationError("invalid JSON body"))
		return
	}

	response, err := h.appointments.Create(r.Context(), request, r.Header.Get("X-Request-ID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeRaw(w, http.StatusCreated, response)
}

// GetAppointmentStatus returns the tracking record for a booking attempt
// @Summary Get appointment status
// @Description Returns the processing/confirmed/failed record for an appointment creation attempt
// @Tags appointments
// @Produce json
// @Security SessionAuth
// @Param id path string true "Appointment tracking ID"
// @Success 200 {object} services.StatusRecord
// @Failure 404 {object} errorResponse "Unknown appointment id"
// @Router /appointment/{id}/status [get]
func (h *Handlers) GetAppointmentStatus(w http.ResponseWriter, r *http.Request) {
	record, err := h.appointments.Status(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, record)
}
