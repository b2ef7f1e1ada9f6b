// Package services applies the per-resource caching policy and transforms
// the upstream clinic API's response shapes into the stable shapes the HTTP
// layer exposes to the booking widget.
package services

import (
	"context"
	"time"

	"clinic-api/internal/upstream"
)

// UpstreamAPI is the slice of the upstream client the services consume.
type UpstreamAPI interface {
	GetSpecialties(ctx context.Context) ([]upstream.Specialty, error)
	GetDoctors(ctx context.Context, specialtyID int) ([]upstream.Doctor, error)
	GetAvailability(ctx context.Context, doctorID int, startDate string, days int) ([]upstream.AvailabilityDay, error)
	GetPatientByNIF(ctx context.Context, nif string) (*upstream.Patient, error)
	CreatePatient(ctx context.Context, patient upstream.NewPatient) (*upstream.PatientRef, error)
	CreateAppointment(ctx context.Context, request upstream.AppointmentRequest) (*upstream.AppointmentRef, error)
}

// Cache is the slice of the cache store the services consume.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) bool
	GetRaw(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

// Specialty is the stable specialty shape served to the widget.
type Specialty struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Doctor is the stable practitioner shape served to the widget.
type Doctor struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Surname     string `json:"surname,omitempty"`
	SpecialtyID int    `json:"specialtyId,omitempty"`
}

// DayAvailability is one agenda day with its open slots.
type DayAvailability struct {
	Date  string   `json:"date"`
	Slots []string `json:"slots"`
}
