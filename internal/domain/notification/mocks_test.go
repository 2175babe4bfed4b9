package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicmanager/clinic/internal/platform/events"
	"github.com/clinicmanager/clinic/internal/platform/webpush"
	"github.com/clinicmanager/clinic/internal/platform/websocket"
)

type mockNotes struct {
	mu    sync.Mutex
	notes []*Notification
	err   error
}

func (m *mockNotes) Create(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	n.ID = uuid.New()
	n.CreatedAt = time.Now()
	cp := *n
	m.notes = append(m.notes, &cp)
	return nil
}

func matches(n *Notification, clinicID uuid.UUID, f Filter) bool {
	if n.ClinicID != clinicID || (f.UnreadOnly && n.IsRead) {
		return false
	}
	if f.Recipient != "" && (n.Recipient == nil || *n.Recipient != f.Recipient) {
		return false
	}
	if f.Group != "" && (n.GroupName == nil || *n.GroupName != f.Group) {
		return false
	}
	return true
}

func (m *mockNotes) List(_ context.Context, clinicID uuid.UUID, f Filter, _, _ int) ([]*Notification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Notification
	for _, n := range m.notes {
		if matches(n, clinicID, f) {
			out = append(out, n)
		}
	}
	return out, len(out), nil
}

func (m *mockNotes) MarkRead(_ context.Context, clinicID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.notes {
		if n.ID == id && n.ClinicID == clinicID {
			n.IsRead = true
			return nil
		}
	}
	return ErrNotificationNotFound
}

func (m *mockNotes) MarkAllRead(_ context.Context, clinicID uuid.UUID, recipient string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, note := range m.notes {
		if matches(note, clinicID, Filter{Recipient: recipient, UnreadOnly: true}) {
			note.IsRead = true
			n++
		}
	}
	return n, nil
}

func (m *mockNotes) titles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, n := range m.notes {
		out = append(out, n.Title)
	}
	return out
}

type mockSubs struct {
	mu   sync.Mutex
	subs map[string]*PushSubscription
}

func newMockSubs() *mockSubs { return &mockSubs{subs: map[string]*PushSubscription{}} }

func (m *mockSubs) Upsert(_ context.Context, s *PushSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.subs[s.Endpoint]; ok {
		if old.ClinicID != s.ClinicID {
			return ErrEndpointTaken
		}
		s.ID = old.ID
	} else {
		s.ID = uuid.New()
	}
	cp := *s
	m.subs[s.Endpoint] = &cp
	return nil
}

func (m *mockSubs) DeleteByEndpoint(_ context.Context, clinicID uuid.UUID, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.subs[endpoint]; ok && s.ClinicID == clinicID {
		delete(m.subs, endpoint)
	}
	return nil
}

func (m *mockSubs) ForUser(_ context.Context, clinicID uuid.UUID, userID string) ([]*PushSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*PushSubscription
	for _, s := range m.subs {
		if s.ClinicID == clinicID && s.UserID != nil && *s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockSubs) ForGroup(_ context.Context, clinicID uuid.UUID, group string) ([]*PushSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*PushSubscription
	for _, s := range m.subs {
		if s.ClinicID == clinicID && s.GroupName != nil && *s.GroupName == group {
			out = append(out, s)
		}
	}
	return out, nil
}

type broadcast struct {
	clinicID uuid.UUID
	group    string
	msg      websocket.Message
}

type fakeHub struct {
	mu   sync.Mutex
	sent []broadcast
}

func (h *fakeHub) Broadcast(clinicID uuid.UUID, group string, msg websocket.Message) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, broadcast{clinicID, group, msg})
	return 1
}

type pushed struct {
	endpoint string
	payload  webpush.Payload
}

type fakePusher struct {
	mu   sync.Mutex
	sent []pushed
	gone map[string]bool
	keys *webpush.Keys
}

func (p *fakePusher) Keys(context.Context) (*webpush.Keys, error) {
	if p.keys == nil {
		p.keys = &webpush.Keys{PublicKey: "BPublic", PrivateKey: "private"}
	}
	return p.keys, nil
}

func (p *fakePusher) Send(_ context.Context, sub webpush.Subscription, payload webpush.Payload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gone[sub.Endpoint] {
		return webpush.ErrSubscriptionGone
	}
	p.sent = append(p.sent, pushed{sub.Endpoint, payload})
	return nil
}

type fixture struct {
	svc      *Service
	bus      *events.Bus
	notes    *mockNotes
	subs     *mockSubs
	hub      *fakeHub
	pusher   *fakePusher
	clinicID uuid.UUID
}

func newFixture() *fixture {
	notes, subs := &mockNotes{}, newMockSubs()
	hub, pusher := &fakeHub{}, &fakePusher{gone: map[string]bool{}}
	svc := NewService(notes, subs, hub, pusher, "admin", zerolog.Nop())
	bus := events.NewBus(zerolog.Nop())
	svc.RegisterHandlers(bus)
	return &fixture{
		svc:      svc,
		bus:      bus,
		notes:    notes,
		subs:     subs,
		hub:      hub,
		pusher:   pusher,
		clinicID: uuid.New(),
	}
}

func (f *fixture) subscribe(user, group, endpoint string) {
	f.subs.Upsert(context.Background(), &PushSubscription{
		ClinicID: f.clinicID, UserID: strPtr(user), GroupName: strPtr(group),
		Endpoint: endpoint, P256dh: "p256", Auth: "auth",
	})
}
