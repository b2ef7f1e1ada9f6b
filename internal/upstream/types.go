package upstream

import (
	"encoding/json"
	"fmt"
)

// Envelope is the response wrapper used by every clinic API endpoint. The
// upstream returns HTTP 200 even for business and authentication failures,
// so callers must inspect Successful and the embedded error code rather
// than the status code.
type Envelope struct {
	Successful bool            `json:"Successful"`
	Data       json.RawMessage `json:"Data,omitempty"`
	Html       string          `json:"Html,omitempty"`
}

// IsAuthConflict reports whether the envelope carries the upstream's token
// invalidation signal: Successful false with ErrorCode -1 in the data
// payload. Other error codes are ordinary business failures and must not
// trigger a token refresh.
func (e *Envelope) IsAuthConflict() bool {
	if e == nil || e.Successful || len(e.Data) == 0 {
		return false
	}

	var data struct {
		ErrorCode int `json:"ErrorCode"`
	}
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return false
	}
	return data.ErrorCode == -1
}

// DecodeData unmarshals the envelope payload into dest.
func (e *Envelope) DecodeData(dest interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("envelope has no data payload")
	}
	return json.Unmarshal(e.Data, dest)
}

// HTTPError is returned when the upstream answers with a non-2xx status.
// The body is retained because some auth failures arrive as HTTP errors
// with the conflict envelope inside.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream returned HTTP %d", e.StatusCode)
}

// authConflict reports whether the error body matches the token conflict
// envelope shape.
func (e *HTTPError) authConflict() bool {
	var env Envelope
	if err := json.Unmarshal(e.Body, &env); err != nil {
		return false
	}
	return env.IsAuthConflict()
}

// Specialty is one medical specialty as returned by GetEspecialidades.
type Specialty struct {
	ID          int    `json:"ESP_ID"`
	Name        string `json:"ESP_NOMBRE"`
	Description string `json:"ESP_DESCRIPCION,omitempty"`
}

// Doctor is one practitioner as returned by GetDoctores.
type Doctor struct {
	ID          int    `json:"USU_ID"`
	Name        string `json:"USU_NOMBRE"`
	Surname     string `json:"USU_APELLIDOS,omitempty"`
	SpecialtyID int    `json:"ESP_ID,omitempty"`
}

// AvailabilityDay is one agenda day as returned by GetAgendaDisponibilidad.
type AvailabilityDay struct {
	Date  string   `json:"FECHA"`
	Hours []string `json:"HORAS"`
}

// Patient is the record returned by GetPacienteByNIF.
type Patient struct {
	ID       int    `json:"PAC_ID"`
	Name     string `json:"PAC_NOMBRE,omitempty"`
	Surname  string `json:"PAC_APELLIDOS,omitempty"`
	NIF      string `json:"PAC_NIF,omitempty"`
	Phone    string `json:"PAC_TELEFONO,omitempty"`
	Email    string `json:"PAC_EMAIL,omitempty"`
	Birthday string `json:"PAC_FECHA_NACIMIENTO,omitempty"`
}

// NewPatient is the payload sent to PostCreatePaciente.
type NewPatient struct {
	Name     string `json:"PAC_NOMBRE"`
	Surname  string `json:"PAC_APELLIDOS"`
	NIF      string `json:"PAC_NIF"`
	Phone    string `json:"PAC_TELEFONO,omitempty"`
	Email    string `json:"PAC_EMAIL,omitempty"`
	Birthday string `json:"PAC_FECHA_NACIMIENTO,omitempty"`
}

// PatientRef is the creation acknowledgement from PostCreatePaciente.
type PatientRef struct {
	ID int `json:"PAC_ID"`
}

// AppointmentRef is the creation acknowledgement from PostCitaPaciente.
type AppointmentRef struct {
	ID int `json:"CITA_ID"`
}

// Hardcoded last-resort payloads served when the upstream is down and no
// cached snapshot exists. They keep the booking widget rendering something
// instead of an empty error page.
var (
	fallbackSpecialties = json.RawMessage(`[{"ESP_ID":1,"ESP_NOMBRE":"Urología"},{"ESP_ID":2,"ESP_NOMBRE":"Andrología"}]`)
	fallbackDoctors     = json.RawMessage(`[{"USU_ID":0,"USU_NOMBRE":"Equipo médico","USU_APELLIDOS":""}]`)
	fallbackGeneric     = json.RawMessage(`[]`)
)

// fallbackPayload returns the minimal stub for an operation name.
func fallbackPayload(operation string) json.RawMessage {
	switch operation {
	case "specialties":
		return fallbackSpecialties
	case "doctors":
		return fallbackDoctors
	default:
		return fallbackGeneric
	}
}
