package prescription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, clinicID, id uuid.UUID) (*Prescription, error)
	List(ctx context.Context, clinicID uuid.UUID, f Filter, limit, offset int) ([]*Prescription, int, error)
	// MarkDispensed flips an undispensed prescription; ErrAlreadyDispensed
	// when no undispensed row matched.
	MarkDispensed(ctx context.Context, clinicID, id uuid.UUID, at time.Time) error
}
