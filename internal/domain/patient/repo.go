package patient

import (
	"context"

	"github.com/google/uuid"
)

type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, clinicID, id uuid.UUID) (*Doctor, error)
	List(ctx context.Context, clinicID uuid.UUID, limit, offset int) ([]*Doctor, int, error)
}

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, clinicID, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	// List filters by a case-insensitive name or phone fragment when search is set.
	List(ctx context.Context, clinicID uuid.UUID, search string, limit, offset int) ([]*Patient, int, error)
}

type ConsultationRepository interface {
	Create(ctx context.Context, c *Consultation) error
	GetByID(ctx context.Context, clinicID, id uuid.UUID) (*Consultation, error)
	ListByPatient(ctx context.Context, clinicID, patientID uuid.UUID, limit, offset int) ([]*Consultation, int, error)
}
