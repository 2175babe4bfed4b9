package chat

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicmanager/clinic/internal/platform/apperr"
	"github.com/clinicmanager/clinic/internal/platform/events"
)

const (
	defaultHistory = 50
	maxHistory     = 200
	maxContent     = 4000
)

var roomName = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

type Service struct {
	rooms    RoomRepository
	messages MessageRepository
	events   events.Publisher
}

func NewService(rooms RoomRepository, messages MessageRepository, pub events.Publisher) *Service {
	return &Service{rooms: rooms, messages: messages, events: pub}
}

func validateRoomName(name string) error {
	if !roomName.MatchString(name) {
		return apperr.Invalid("room name must be 1-100 letters, digits, '-' or '_'")
	}
	return nil
}

func (s *Service) CreateRoom(ctx context.Context, clinicID uuid.UUID, name string) (*Room, error) {
	name = strings.TrimSpace(name)
	if err := validateRoomName(name); err != nil {
		return nil, err
	}
	r := &Room{ClinicID: clinicID, Name: name}
	if err := s.rooms.Create(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// OpenRoom returns the named room, creating it on first use.
func (s *Service) OpenRoom(ctx context.Context, clinicID uuid.UUID, name string) (*Room, error) {
	if err := validateRoomName(name); err != nil {
		return nil, err
	}
	return s.rooms.GetOrCreateByName(ctx, clinicID, name)
}

func (s *Service) GetRoom(ctx context.Context, clinicID, id uuid.UUID) (*Room, error) {
	return s.rooms.GetByID(ctx, clinicID, id)
}

func (s *Service) ListRooms(ctx context.Context, clinicID uuid.UUID) ([]*Room, error) {
	return s.rooms.List(ctx, clinicID)
}

func (s *Service) PostMessage(ctx context.Context, clinicID, roomID uuid.UUID, req PostRequest, sender string) (*Message, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, apperr.Invalid("content is required")
	}
	if len(content) > maxContent {
		return nil, apperr.Invalid("content must be at most %d bytes", maxContent)
	}
	room, err := s.rooms.GetByID(ctx, clinicID, roomID)
	if err != nil {
		return nil, err
	}
	m := &Message{RoomID: room.ID, Content: content, IsBot: req.IsBot}
	if sender != "" {
		m.Sender = &sender
	}
	if err := s.messages.Create(ctx, m); err != nil {
		return nil, err
	}
	if s.events != nil {
		s.events.Publish(ctx, events.New(EventMessageCreated, clinicID, MessageCreated{Room: room, Message: m}))
	}
	return m, nil
}

// History pages backwards through a room; before is exclusive.
func (s *Service) History(ctx context.Context, clinicID, roomID uuid.UUID, before time.Time, limit int) ([]*Message, error) {
	if _, err := s.rooms.GetByID(ctx, clinicID, roomID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistory
	}
	if limit > maxHistory {
		limit = maxHistory
	}
	return s.messages.List(ctx, roomID, before, limit)
}
