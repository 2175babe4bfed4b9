package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicmanager/clinic/internal/domain/billing"
	"github.com/clinicmanager/clinic/internal/domain/chat"
	"github.com/clinicmanager/clinic/internal/domain/inventory"
	"github.com/clinicmanager/clinic/internal/domain/prescription"
	"github.com/clinicmanager/clinic/internal/domain/queue"
	"github.com/clinicmanager/clinic/internal/domain/specialist"
	"github.com/clinicmanager/clinic/internal/platform/apperr"
	"github.com/clinicmanager/clinic/internal/platform/events"
	"github.com/clinicmanager/clinic/internal/platform/webpush"
	"github.com/clinicmanager/clinic/internal/platform/websocket"
)

// Broadcaster pushes a live message to a clinic's websocket group;
// *websocket.Hub satisfies it.
type Broadcaster interface {
	Broadcast(clinicID uuid.UUID, group string, msg websocket.Message) int
}

// Pusher delivers browser push notifications; *webpush.Sender satisfies it.
type Pusher interface {
	Keys(ctx context.Context) (*webpush.Keys, error)
	Send(ctx context.Context, sub webpush.Subscription, p webpush.Payload) error
}

type Service struct {
	notes     NotificationRepository
	subs      SubscriptionRepository
	hub       Broadcaster
	pusher    Pusher
	recipient string
	logger    zerolog.Logger
}

// NewService builds the fan-out. recipient receives notifications that have
// no natural addressee, such as new queue entries.
func NewService(notes NotificationRepository, subs SubscriptionRepository, hub Broadcaster, pusher Pusher,
	recipient string, logger zerolog.Logger) *Service {
	return &Service{
		notes:     notes,
		subs:      subs,
		hub:       hub,
		pusher:    pusher,
		recipient: recipient,
		logger:    logger.With().Str("component", "notification").Logger(),
	}
}

func (s *Service) RegisterHandlers(bus *events.Bus) {
	bus.Subscribe(queue.EventEntryCreated, "notification.queue_entry", s.onQueueEntry)
	bus.Subscribe(chat.EventMessageCreated, "notification.chat_message", s.onChatMessage)
	bus.Subscribe(inventory.EventLowStock, "notification.low_stock", s.onLowStock)
	bus.Subscribe(specialist.EventTaskCreated, "notification.task_created", s.onTaskCreated)
	bus.Subscribe(specialist.EventPatientArrived, "notification.patient_arrived", s.onPatientArrived)
	bus.Subscribe(billing.EventPaymentConfirmed, "notification.payment_confirmed", s.onPaymentConfirmed)
	bus.Subscribe(prescription.EventPrescribed, "notification.prescribed", s.onPrescribed)
}

// delivery describes one fan-out: the stored row, the live broadcast and the
// push audience. Only the stored row is required.
type delivery struct {
	note      Notification
	broadcast string
	push      *webpush.Payload
	pushUser  string
	pushGroup string
}

// deliver persists the notification, then broadcasts and pushes. Broadcast
// and push failures are logged and never returned.
func (s *Service) deliver(ctx context.Context, d delivery) error {
	n := &d.note
	if err := s.notes.Create(ctx, n); err != nil {
		return fmt.Errorf("persist notification: %w", err)
	}

	if d.broadcast != "" && s.hub != nil {
		msg := websocket.Message{
			Type:      "notification",
			Title:     n.Title,
			Body:      n.Body,
			Timestamp: n.CreatedAt,
			Data:      n.Data,
		}
		if n.URL != nil {
			msg.URL = *n.URL
		}
		s.hub.Broadcast(n.ClinicID, d.broadcast, msg)
	}

	if d.push != nil && s.pusher != nil {
		s.push(ctx, n.ClinicID, d.pushUser, d.pushGroup, *d.push)
	}
	return nil
}

func (s *Service) push(ctx context.Context, clinicID uuid.UUID, user, group string, p webpush.Payload) {
	var (
		subs []*PushSubscription
		err  error
	)
	switch {
	case user != "":
		subs, err = s.subs.ForUser(ctx, clinicID, user)
	case group != "":
		subs, err = s.subs.ForGroup(ctx, clinicID, group)
	default:
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("clinic_id", clinicID.String()).Msg("load push subscriptions")
		return
	}
	for _, sub := range subs {
		err := s.pusher.Send(ctx, webpush.Subscription{Endpoint: sub.Endpoint, P256dh: sub.P256dh, Auth: sub.Auth}, p)
		switch {
		case errors.Is(err, webpush.ErrSubscriptionGone):
			if delErr := s.subs.DeleteByEndpoint(ctx, clinicID, sub.Endpoint); delErr != nil {
				s.logger.Error().Err(delErr).Msg("delete expired push subscription")
			}
		case err != nil:
			s.logger.Warn().Err(err).
				Str("clinic_id", clinicID.String()).
				Str("subscription_id", sub.ID.String()).
				Msg("web push failed")
		}
	}
}

func marshalData(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func (s *Service) onQueueEntry(ctx context.Context, e events.Event) error {
	p, ok := e.Payload.(queue.EntryCreated)
	if !ok {
		return nil
	}
	entry := p.Entry
	data := marshalData(map[string]interface{}{
		"queue_entry_id": entry.ID,
		"patient_id":     entry.PatientID,
		"target_type":    entry.TargetType,
		"target_id":      entry.TargetID,
		"position":       entry.Position,
	})

	if entry.TargetType == queue.TargetLab {
		return s.deliver(ctx, delivery{
			note: Notification{
				ClinicID:  e.ClinicID,
				Recipient: strPtr(s.recipient),
				GroupName: strPtr(GroupLab),
				Title:     "New Lab Patient",
				Body:      fmt.Sprintf("New patient %s added to queue #%d", p.PatientName, entry.Position),
				Data:      data,
			},
			broadcast: GroupLab,
		})
	}

	body := "New patient: " + p.PatientName
	return s.deliver(ctx, delivery{
		note: Notification{
			ClinicID:  e.ClinicID,
			Recipient: strPtr(s.recipient),
			GroupName: strPtr(GroupPatients),
			Title:     "New Patient Added",
			Body:      body,
			Data:      data,
		},
		broadcast: GroupPatients,
		push:      &webpush.Payload{Head: "New Patient Added", Body: body},
		pushUser:  s.recipient,
	})
}

func (s *Service) onChatMessage(ctx context.Context, e events.Event) error {
	p, ok := e.Payload.(chat.MessageCreated)
	if !ok {
		return nil
	}
	sender := "bot"
	if p.Message.Sender != nil {
		sender = *p.Message.Sender
	}
	return s.deliver(ctx, delivery{
		note: Notification{
			ClinicID:  e.ClinicID,
			Recipient: strPtr(s.recipient),
			GroupName: strPtr(p.Room.GroupName()),
			Title:     "New Message Arrived",
			Body:      p.Message.Content,
			Data: marshalData(map[string]interface{}{
				"room_id":    p.Room.ID,
				"room":       p.Room.Name,
				"message_id": p.Message.ID,
				"sender":     sender,
			}),
		},
		broadcast: p.Room.GroupName(),
		push:      &webpush.Payload{Head: "New Message Arrived", Body: p.Message.Content},
		pushUser:  s.recipient,
	})
}

func (s *Service) onLowStock(ctx context.Context, e events.Event) error {
	p, ok := e.Payload.(inventory.LowStock)
	if !ok || p.Item == nil {
		return nil
	}
	body := fmt.Sprintf("%s is at %s %s (reorder level %s)",
		p.Item.Name, p.Item.TotalStock.String(), p.Item.Unit, p.Item.ReorderLevel.String())
	return s.deliver(ctx, delivery{
		note: Notification{
			ClinicID:  e.ClinicID,
			GroupName: strPtr(GroupInventory),
			Title:     "Low stock: " + p.Item.Name,
			Body:      body,
			Data: marshalData(map[string]interface{}{
				"item_id":     p.Item.ID,
				"movement_id": p.MovementID,
				"total_stock": p.Item.TotalStock,
			}),
		},
		broadcast: GroupInventory,
		push:      &webpush.Payload{Head: "Low stock: " + p.Item.Name, Body: body},
		pushGroup: GroupInventory,
	})
}

func (s *Service) onTaskCreated(ctx context.Context, e events.Event) error {
	p, ok := e.Payload.(specialist.TaskCreated)
	if !ok || p.Task.AssignedTo == nil {
		return nil
	}
	body := fmt.Sprintf("New %s task for %s", p.Task.Role, p.PatientName)
	return s.deliver(ctx, delivery{
		note: Notification{
			ClinicID:  e.ClinicID,
			Recipient: p.Task.AssignedTo,
			Title:     "New Task Assigned",
			Body:      body,
			Data:      marshalData(map[string]interface{}{"task_id": p.Task.ID, "patient_id": p.Task.PatientID}),
		},
		push:     &webpush.Payload{Head: "New Task Assigned", Body: body},
		pushUser: *p.Task.AssignedTo,
	})
}

func (s *Service) onPatientArrived(ctx context.Context, e events.Event) error {
	p, ok := e.Payload.(specialist.PatientArrived)
	if !ok || p.Task.AssignedTo == nil {
		return nil
	}
	body := p.PatientName + " has arrived"
	return s.deliver(ctx, delivery{
		note: Notification{
			ClinicID:  e.ClinicID,
			Recipient: p.Task.AssignedTo,
			Title:     "Patient Arrived",
			Body:      body,
			Data:      marshalData(map[string]interface{}{"task_id": p.Task.ID, "patient_id": p.Task.PatientID}),
		},
		push:     &webpush.Payload{Head: "Patient Arrived", Body: body},
		pushUser: *p.Task.AssignedTo,
	})
}

func (s *Service) onPaymentConfirmed(ctx context.Context, e events.Event) error {
	p, ok := e.Payload.(billing.PaymentConfirmed)
	if !ok || p.Payment == nil {
		return nil
	}
	return s.deliver(ctx, delivery{
		note: Notification{
			ClinicID:  e.ClinicID,
			Recipient: strPtr(s.recipient),
			GroupName: strPtr(GroupBilling),
			Title:     "Payment Received",
			Body:      fmt.Sprintf("%s received for bill %s", p.Payment.Amount.StringFixed(2), p.Payment.BillID),
			Data: marshalData(map[string]interface{}{
				"bill_id":   p.Payment.BillID,
				"reference": p.Payment.Reference,
				"status":    p.Payment.Status,
			}),
		},
		broadcast: GroupBilling,
	})
}

func (s *Service) onPrescribed(ctx context.Context, e events.Event) error {
	p, ok := e.Payload.(prescription.Prescribed)
	if !ok || len(p.Prescriptions) == 0 {
		return nil
	}
	names := make([]string, 0, len(p.Prescriptions))
	for _, rx := range p.Prescriptions {
		names = append(names, fmt.Sprintf("%s x%d", rx.ItemName, rx.Quantity))
	}
	body := strings.Join(names, ", ")
	return s.deliver(ctx, delivery{
		note: Notification{
			ClinicID:  e.ClinicID,
			GroupName: strPtr(GroupPharmacy),
			Title:     "New Prescription",
			Body:      body,
			Data: marshalData(map[string]interface{}{
				"consultation_id": p.ConsultationID,
				"patient_id":      p.PatientID,
			}),
		},
		broadcast: GroupPharmacy,
		push:      &webpush.Payload{Head: "New Prescription", Body: body},
		pushGroup: GroupPharmacy,
	})
}

// -- Inbox --

func (s *Service) List(ctx context.Context, clinicID uuid.UUID, f Filter, limit, offset int) ([]*Notification, int, error) {
	return s.notes.List(ctx, clinicID, f, limit, offset)
}

func (s *Service) MarkRead(ctx context.Context, clinicID, id uuid.UUID) error {
	return s.notes.MarkRead(ctx, clinicID, id)
}

func (s *Service) MarkAllRead(ctx context.Context, clinicID uuid.UUID, recipient string) (int64, error) {
	if recipient == "" {
		return 0, ErrNoAudience
	}
	return s.notes.MarkAllRead(ctx, clinicID, recipient)
}

// -- Subscriptions --

// SaveSubscription stores or removes a browser push subscription. It reports
// whether the subscription was created.
func (s *Service) SaveSubscription(ctx context.Context, clinicID uuid.UUID, userID string, req SubscriptionRequest) (bool, error) {
	if req.StatusType != StatusSubscribe && req.StatusType != StatusUnsubscribe {
		return false, ErrInvalidStatusType
	}
	group := strings.TrimSpace(req.Group)
	if userID == "" && group == "" {
		return false, ErrNoAudience
	}
	endpoint := strings.TrimSpace(req.Subscription.Endpoint)
	if endpoint == "" {
		return false, apperr.Invalid("subscription.endpoint is required")
	}

	if req.StatusType == StatusUnsubscribe {
		return false, s.subs.DeleteByEndpoint(ctx, clinicID, endpoint)
	}
	if req.Subscription.Keys.P256dh == "" || req.Subscription.Keys.Auth == "" {
		return false, apperr.Invalid("subscription.keys.p256dh and subscription.keys.auth are required")
	}
	sub := &PushSubscription{
		ClinicID:  clinicID,
		UserID:    strPtr(userID),
		GroupName: strPtr(group),
		Endpoint:  endpoint,
		P256dh:    req.Subscription.Keys.P256dh,
		Auth:      req.Subscription.Keys.Auth,
	}
	if err := s.subs.Upsert(ctx, sub); err != nil {
		return false, err
	}
	return true, nil
}

// VAPIDPublicKey returns the public half of the server key pair, generating
// the pair on first use.
func (s *Service) VAPIDPublicKey(ctx context.Context) (string, error) {
	if s.pusher == nil {
		return "", apperr.Upstream("web push", errors.New("not configured"))
	}
	k, err := s.pusher.Keys(ctx)
	if err != nil {
		return "", err
	}
	return k.PublicKey, nil
}
