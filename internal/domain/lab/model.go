// Package lab keeps the clinic's test catalog and the results recorded
// against consultations.
package lab

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/clinicmanager/clinic/internal/platform/apperr"
)

const EventResultsRecorded = "lab.results_recorded"

const (
	maxNameLen  = 100
	maxValueLen = 100
)

var (
	ErrTestNotFound   = apperr.NotFound("lab test")
	ErrResultNotFound = apperr.NotFound("lab result")
	ErrDuplicateTest  = apperr.Conflict("a lab test with that name already exists")
	ErrTestInactive   = apperr.Conflict("lab test is not active")
)

// Test is an entry in the clinic's lab catalog.
type Test struct {
	ID          uuid.UUID `json:"id"`
	ClinicID    uuid.UUID `json:"clinic_id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

type TestInput struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

func (in *TestInput) normalize() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return apperr.Invalid("name is required")
	}
	if utf8.RuneCountInString(in.Name) > maxNameLen {
		return apperr.Invalid("name must be at most %d characters", maxNameLen)
	}
	in.Description = trimmed(in.Description)
	return nil
}

// Result is one measured value for a consultation.
type Result struct {
	ID             uuid.UUID `json:"id"`
	ClinicID       uuid.UUID `json:"clinic_id"`
	ConsultationID uuid.UUID `json:"consultation_id"`
	TestID         uuid.UUID `json:"lab_test_id"`
	TestName       string    `json:"lab_test_name,omitempty"`
	Value          string    `json:"result_value"`
	Notes          *string   `json:"notes,omitempty"`
	PerformedBy    *string   `json:"performed_by,omitempty"`
	ResultDate     time.Time `json:"result_date"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type ResultInput struct {
	TestID uuid.UUID `json:"lab_test_id"`
	Value  string    `json:"result_value"`
	Notes  *string   `json:"notes"`
}

func (in *ResultInput) normalize() error {
	if in.TestID == uuid.Nil {
		return apperr.Invalid("lab_test_id is required")
	}
	return normalizeValue(&in.Value, &in.Notes)
}

// ResultUpdate changes the value or notes of a recorded result. Nil fields
// are left alone.
type ResultUpdate struct {
	Value *string `json:"result_value"`
	Notes *string `json:"notes"`
}

func normalizeValue(v *string, notes **string) error {
	*v = strings.TrimSpace(*v)
	if *v == "" {
		return apperr.Invalid("result_value is required")
	}
	if utf8.RuneCountInString(*v) > maxValueLen {
		return apperr.Invalid("result_value must be at most %d characters", maxValueLen)
	}
	*notes = trimmed(*notes)
	return nil
}

// PatientSummary is one row of the lab dashboard. ConsultationID is the
// consultation of the most recent result.
type PatientSummary struct {
	PatientID      uuid.UUID `json:"patient_id"`
	PatientName    string    `json:"patient_name"`
	TotalTests     int       `json:"total_tests"`
	LastTest       time.Time `json:"last_test"`
	ConsultationID uuid.UUID `json:"consultation_id"`
}

// ResultsRecorded is the payload of EventResultsRecorded.
type ResultsRecorded struct {
	ConsultationID uuid.UUID
	PatientID      uuid.UUID
	Results        []*Result
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
