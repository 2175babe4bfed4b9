package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type RoomRepository interface {
	Create(ctx context.Context, r *Room) error
	GetByID(ctx context.Context, clinicID, id uuid.UUID) (*Room, error)
	GetOrCreateByName(ctx context.Context, clinicID uuid.UUID, name string) (*Room, error)
	List(ctx context.Context, clinicID uuid.UUID) ([]*Room, error)
}

type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	// List returns messages older than before (all when zero), newest first.
	List(ctx context.Context, roomID uuid.UUID, before time.Time, limit int) ([]*Message, error)
}
