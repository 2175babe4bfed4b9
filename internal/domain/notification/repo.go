package notification

import (
	"context"

	"github.com/google/uuid"
)

type NotificationRepository interface {
	Create(ctx context.Context, n *Notification) error
	List(ctx context.Context, clinicID uuid.UUID, f Filter, limit, offset int) ([]*Notification, int, error)
	MarkRead(ctx context.Context, clinicID, id uuid.UUID) error
	// MarkAllRead returns how many notifications changed.
	MarkAllRead(ctx context.Context, clinicID uuid.UUID, recipient string) (int64, error)
}

type SubscriptionRepository interface {
	// Upsert keys subscriptions by endpoint; re-subscribing within the same
	// clinic moves it. An endpoint owned by another clinic is ErrEndpointTaken.
	Upsert(ctx context.Context, s *PushSubscription) error
	DeleteByEndpoint(ctx context.Context, clinicID uuid.UUID, endpoint string) error
	ForUser(ctx context.Context, clinicID uuid.UUID, userID string) ([]*PushSubscription, error)
	ForGroup(ctx context.Context, clinicID uuid.UUID, group string) ([]*PushSubscription, error)
}
