package chat

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicmanager/clinic/internal/platform/apperr"
)

const EventMessageCreated = "chat.message_created"

var (
	ErrRoomNotFound  = apperr.NotFound("chat room")
	ErrDuplicateRoom = apperr.Conflict("chat room already exists")
)

type Room struct {
	ID        uuid.UUID `json:"id"`
	ClinicID  uuid.UUID `json:"clinic_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Message struct {
	ID        uuid.UUID `json:"id"`
	RoomID    uuid.UUID `json:"room_id"`
	Sender    *string   `json:"sender,omitempty"`
	Content   string    `json:"content"`
	IsBot     bool      `json:"is_bot"`
	CreatedAt time.Time `json:"created_at"`
}

type PostRequest struct {
	Content string `json:"content"`
	IsBot   bool   `json:"is_bot"`
}

// MessageCreated is the payload of EventMessageCreated.
type MessageCreated struct {
	Room    *Room
	Message *Message
}

// GroupName is the broadcast group a room's messages are pushed to.
func (r *Room) GroupName() string {
	return "chat_" + r.Name
}
