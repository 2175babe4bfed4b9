package specialist

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type CatalogRepository interface {
	Create(ctx context.Context, e *CatalogEntry) error
	GetByID(ctx context.Context, clinicID, id uuid.UUID) (*CatalogEntry, error)
	List(ctx context.Context, clinicID uuid.UUID, role string, activeOnly bool) ([]*CatalogEntry, error)
	SetActive(ctx context.Context, clinicID, id uuid.UUID, active bool) error
}

type TaskRepository interface {
	Create(ctx context.Context, t *Task) error
	GetByID(ctx context.Context, clinicID, id uuid.UUID) (*Task, error)
	Lock(ctx context.Context, clinicID, id uuid.UUID) (*Task, error)
	List(ctx context.Context, clinicID uuid.UUID, f TaskFilter, limit, offset int) ([]*Task, int, error)
	// Transition moves a task whose status is one of from; ErrInvalidTransition
	// when no row matched.
	Transition(ctx context.Context, clinicID, id uuid.UUID, from []string, to string, at time.Time) (*Task, error)
	SetService(ctx context.Context, clinicID, id uuid.UUID, serviceID *uuid.UUID) error
	SetBill(ctx context.Context, id, billID uuid.UUID) error
	// WaitingForPatient returns the patient's waiting tasks, oldest first.
	WaitingForPatient(ctx context.Context, clinicID, patientID uuid.UUID) ([]*Task, error)
}
