package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type EntryRepository interface {
	// Create assigns the next position on the entry's line and inserts it
	// in one transaction.
	Create(ctx context.Context, e *Entry) error
	GetByID(ctx context.Context, clinicID, id uuid.UUID) (*Entry, error)
	// Transition moves an entry from one status to another and returns the
	// updated row, or ErrInvalidTransition when it is no longer in from.
	Transition(ctx context.Context, clinicID, id uuid.UUID, from, to string, at time.Time) (*Entry, error)
	List(ctx context.Context, clinicID uuid.UUID, target Target, status string) ([]*Entry, error)
	Next(ctx context.Context, clinicID uuid.UUID, target Target) (*Entry, error)
	Positions(ctx context.Context, clinicID uuid.UUID, target Target) ([]int, error)
}
