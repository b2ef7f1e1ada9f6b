package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"clinic-api/internal/common/errors"
)

// Catalog handlers. Reads never fail with a 5xx: when the upstream is down
// the services hand back empty collections and the widget renders a reduced
// page.

// GetSpecialties returns the clinic's bookable specialties
// @Summary List medical specialties
// @Description Returns the bookable specialties for the clinic
// @Tags catalog
// @Produce json
// @Param refresh query bool false "Bypass the cache and fetch fresh data"
// @Success 200 {array} services.Specialty
// @Router /medical-specialties [get]
func (h *Handlers) GetSpecialties(w http.ResponseWriter, r *http.Request) {
	specialties := h.specialties.Get(r.Context(), refreshRequested(r))
	h.writeJSON(w, http.StatusOK, specialties)
}

// GetDoctors returns the doctors for one specialty
// @Summary List doctors for a specialty
// @Description Returns the bookable doctors for the given specialty id
// @Tags catalog
// @Produce json
// @Param serviceId path int true "Specialty ID"
// @Param refresh query bool false "Bypass the cache and fetch fresh data"
// @Success 200 {array} services.Doctor
// @Failure 400 {object} errorResponse "Invalid specialty id"
// @Router /doctors/{serviceId} [get]
func (h *Handlers) GetDoctors(w http.ResponseWriter, r *http.Request) {
	specialtyID, err := strconv.Atoi(mux.Vars(r)["serviceId"])
	if err != nil || specialtyID <= 0 {
		h.writeError(w, errors.ValidationError("service id must be a positive integer"))
		return
	}

	doctors := h.doctors.Get(r.Context(), specialtyID, refreshRequested(r))
	h.writeJSON(w, http.StatusOK, doctors)
}

// GetAvailability returns a doctor's open slots
// @Summary Get doctor availability
// @Description Returns per-day open slots for a doctor starting at the given date
// @Tags catalog
// @Produce json
// @Param doctorId path int true "Doctor ID"
// @Param startDate path string true "Start date (YYYY-MM-DD)"
// @Param dates_to_fetch query int false "Number of days to fetch (default 31, max 60)"
// @Param refresh query bool false "Bypass the cache and fetch fresh data"
// @Success 200 {array} services.DayAvailability
// @Failure 400 {object} errorResponse "Invalid input"
// @Router /doctor-availability/{doctorId}/{startDate} [get]
func (h *Handlers) GetAvailability(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	doctorID, err := strconv.Atoi(vars["doctorId"])
	if err != nil || doctorID <= 0 {
		h.writeError(w, errors.ValidationError("doctor id must be a positive integer"))
		return
	}

	days := 0
	if raw := r.URL.Query().Get("dates_to_fetch"); raw != "" {
		days, err = strconv.Atoi(raw)
		if err != nil || days <= 0 {
			h.writeError(w, errors.ValidationError("dates_to_fetch must be a positive integer"))
			return
		}
	}

	agenda, err := h.availability.Get(r.Context(), doctorID, vars["startDate"], days, refreshRequested(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, agenda)
}
