package lab

import (
	"context"

	"github.com/google/uuid"
)

type TestRepository interface {
	Create(ctx context.Context, t *Test) error
	GetByID(ctx context.Context, clinicID, id uuid.UUID) (*Test, error)
	List(ctx context.Context, clinicID uuid.UUID, activeOnly bool) ([]*Test, error)
	SetActive(ctx context.Context, clinicID, id uuid.UUID, active bool) error
}

type ResultRepository interface {
	Create(ctx context.Context, r *Result) error
	GetByID(ctx context.Context, clinicID, id uuid.UUID) (*Result, error)
	Update(ctx context.Context, r *Result) error
	Delete(ctx context.Context, clinicID, id uuid.UUID) error
	// ForConsultation returns results oldest first.
	ForConsultation(ctx context.Context, clinicID, consultationID uuid.UUID) ([]*Result, error)
	// Summaries groups results by patient, most recent first. search matches
	// the patient name case-insensitively.
	Summaries(ctx context.Context, clinicID uuid.UUID, search string, limit, offset int) ([]*PatientSummary, int, error)
}
