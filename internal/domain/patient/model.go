package patient

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicmanager/clinic/internal/platform/apperr"
)

var (
	ErrPatientNotFound      = apperr.NotFound("patient")
	ErrDoctorNotFound       = apperr.NotFound("doctor")
	ErrConsultationNotFound = apperr.NotFound("consultation")
)

type Doctor struct {
	ID             uuid.UUID `json:"id"`
	ClinicID       uuid.UUID `json:"clinic_id"`
	UserID         *string   `json:"user_id,omitempty"`
	Name           string    `json:"name"`
	Specialization *string   `json:"specialization,omitempty"`
	Phone          *string   `json:"phone,omitempty"`
	Email          *string   `json:"email,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type Patient struct {
	ID           uuid.UUID  `json:"id"`
	ClinicID     uuid.UUID  `json:"clinic_id"`
	Name         string     `json:"name"`
	DateOfBirth  *time.Time `json:"date_of_birth,omitempty"`
	Gender       string     `json:"gender"`
	Phone        string     `json:"phone"`
	Email        *string    `json:"email,omitempty"`
	Address      *string    `json:"address,omitempty"`
	DoctorID     *uuid.UUID `json:"doctor_id,omitempty"`
	RegisteredAt time.Time  `json:"registered_at"`
}

type Consultation struct {
	ID        uuid.UUID  `json:"id"`
	ClinicID  uuid.UUID  `json:"clinic_id"`
	PatientID uuid.UUID  `json:"patient_id"`
	DoctorID  *uuid.UUID `json:"doctor_id,omitempty"`
	Notes     *string    `json:"notes,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// PatientInput is the writable part of a patient. DateOfBirth is YYYY-MM-DD.
type PatientInput struct {
	Name        string     `json:"name"`
	DateOfBirth string     `json:"date_of_birth"`
	Gender      string     `json:"gender"`
	Phone       string     `json:"phone"`
	Email       *string    `json:"email"`
	Address     *string    `json:"address"`
	DoctorID    *uuid.UUID `json:"doctor_id"`
}

const dateLayout = "2006-01-02"

var validGenders = map[string]bool{"M": true, "F": true, "O": true}
