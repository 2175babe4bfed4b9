package clinic

import (
	"context"

	"github.com/google/uuid"
)

type ClinicRepository interface {
	Create(ctx context.Context, c *Clinic) error
	GetByID(ctx context.Context, id uuid.UUID) (*Clinic, error)
	List(ctx context.Context, limit, offset int) ([]*Clinic, int, error)
	// SetSubaccount stores the gateway outcome; code is nil when provisioning failed.
	SetSubaccount(ctx context.Context, id uuid.UUID, code *string, raw []byte) error
}
