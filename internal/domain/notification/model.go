package notification

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/clinicmanager/clinic/internal/platform/apperr"
)

// Broadcast groups browsers can join.
const (
	GroupPatients  = "patients"
	GroupLab       = "lab_notifications"
	GroupInventory = "inventory"
	GroupBilling   = "billing"
	GroupPharmacy  = "pharmacy"
)

const (
	StatusSubscribe   = "subscribe"
	StatusUnsubscribe = "unsubscribe"
)

var (
	ErrNotificationNotFound = apperr.NotFound("notification")
	ErrInvalidStatusType    = apperr.Invalid("status_type must be %q or %q", StatusSubscribe, StatusUnsubscribe)
	ErrNoAudience           = apperr.Forbidden("subscription needs a signed-in user or a group")
	ErrEndpointTaken        = apperr.Conflict("push endpoint is registered to another clinic")
)

type Notification struct {
	ID        uuid.UUID       `json:"id"`
	ClinicID  uuid.UUID       `json:"clinic_id"`
	Recipient *string         `json:"recipient,omitempty"`
	GroupName *string         `json:"group_name,omitempty"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	URL       *string         `json:"url,omitempty"`
	Icon      *string         `json:"icon,omitempty"`
	IsRead    bool            `json:"is_read"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type Filter struct {
	Recipient  string
	Group      string
	UnreadOnly bool
}

type PushSubscription struct {
	ID        uuid.UUID `json:"id"`
	ClinicID  uuid.UUID `json:"clinic_id"`
	UserID    *string   `json:"user_id,omitempty"`
	GroupName *string   `json:"group_name,omitempty"`
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"p256dh"`
	Auth      string    `json:"auth"`
	CreatedAt time.Time `json:"created_at"`
}

// SubscriptionRequest is the body a service worker posts.
type SubscriptionRequest struct {
	StatusType   string `json:"status_type"`
	Group        string `json:"group"`
	Subscription struct {
		Endpoint string `json:"endpoint"`
		Keys     struct {
			P256dh string `json:"p256dh"`
			Auth   string `json:"auth"`
		} `json:"keys"`
	} `json:"subscription"`
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
