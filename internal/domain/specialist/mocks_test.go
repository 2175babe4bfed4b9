package specialist

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinicmanager/clinic/internal/domain/billing"
	"github.com/clinicmanager/clinic/internal/domain/patient"
	"github.com/clinicmanager/clinic/internal/platform/events"
)

type serialTx struct{ mu *sync.Mutex }

func (t serialTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fn(ctx)
}

type mockCatalog struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*CatalogEntry
}

func newMockCatalog() *mockCatalog {
	return &mockCatalog{entries: map[uuid.UUID]*CatalogEntry{}}
}

func (m *mockCatalog) Create(_ context.Context, e *CatalogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	cp := *e
	m.entries[e.ID] = &cp
	return nil
}

func (m *mockCatalog) GetByID(_ context.Context, clinicID, id uuid.UUID) (*CatalogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.ClinicID != clinicID {
		return nil, ErrServiceNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *mockCatalog) List(_ context.Context, clinicID uuid.UUID, role string, activeOnly bool) ([]*CatalogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*CatalogEntry
	for _, e := range m.entries {
		if e.ClinicID != clinicID || (role != "" && e.Role != role) || (activeOnly && !e.IsActive) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *mockCatalog) SetActive(_ context.Context, clinicID, id uuid.UUID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.ClinicID != clinicID {
		return ErrServiceNotFound
	}
	e.IsActive = active
	return nil
}

type mockTasks struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*Task
}

func newMockTasks() *mockTasks {
	return &mockTasks{tasks: map[uuid.UUID]*Task{}}
}

func (m *mockTasks) Create(_ context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = uuid.New()
	t.Status = StatusWaiting
	t.CreatedAt = time.Now()
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *mockTasks) GetByID(_ context.Context, clinicID, id uuid.UUID) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.ClinicID != clinicID {
		return nil, ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *mockTasks) Lock(ctx context.Context, clinicID, id uuid.UUID) (*Task, error) {
	return m.GetByID(ctx, clinicID, id)
}

func (m *mockTasks) List(_ context.Context, clinicID uuid.UUID, f TaskFilter, _, _ int) ([]*Task, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Task
	for _, t := range m.tasks {
		if t.ClinicID != clinicID || (f.Role != "" && t.Role != f.Role) || (f.Status != "" && t.Status != f.Status) {
			continue
		}
		if f.AssignedTo != "" && (t.AssignedTo == nil || *t.AssignedTo != f.AssignedTo) {
			continue
		}
		out = append(out, t)
	}
	return out, len(out), nil
}

func (m *mockTasks) Transition(_ context.Context, clinicID, id uuid.UUID, from []string, to string, at time.Time) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.ClinicID != clinicID {
		return nil, ErrInvalidTransition
	}
	matched := false
	for _, s := range from {
		if t.Status == s {
			matched = true
		}
	}
	if !matched {
		return nil, ErrInvalidTransition
	}
	t.Status = to
	switch to {
	case StatusInProgress:
		t.StartedAt = &at
	case StatusDone, StatusCancelled:
		t.CompletedAt = &at
	}
	cp := *t
	return &cp, nil
}

func (m *mockTasks) SetService(_ context.Context, clinicID, id uuid.UUID, serviceID *uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.ClinicID != clinicID {
		return ErrTaskNotFound
	}
	t.ServiceID = serviceID
	return nil
}

func (m *mockTasks) SetBill(_ context.Context, id, billID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[id].BillID = &billID
	return nil
}

func (m *mockTasks) WaitingForPatient(_ context.Context, clinicID, patientID uuid.UUID) ([]*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Task
	for _, t := range m.tasks {
		if t.ClinicID == clinicID && t.PatientID == patientID && t.Status == StatusWaiting {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type fakePatients map[uuid.UUID]*patient.Patient

func (f fakePatients) GetPatient(_ context.Context, clinicID, id uuid.UUID) (*patient.Patient, error) {
	p, ok := f[id]
	if !ok || p.ClinicID != clinicID {
		return nil, patient.ErrPatientNotFound
	}
	return p, nil
}

type billCall struct {
	patientID   uuid.UUID
	description string
	price       decimal.Decimal
}

type fakeBiller struct {
	mu    sync.Mutex
	calls []billCall
	err   error
}

func (b *fakeBiller) BillForService(_ context.Context, clinicID, patientID uuid.UUID, consultationID *uuid.UUID,
	description string, price decimal.Decimal) (*billing.Bill, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	b.calls = append(b.calls, billCall{patientID: patientID, description: description, price: price})
	return &billing.Bill{ID: uuid.New(), ClinicID: clinicID, PatientID: patientID, ConsultationID: consultationID, TotalAmount: price}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) ofType(eventType string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, ev := range p.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	svc       *Service
	catalog   *mockCatalog
	tasks     *mockTasks
	biller    *fakeBiller
	pub       *recordingPublisher
	clinicID  uuid.UUID
	patientID uuid.UUID
}

func newFixture() *fixture {
	clinicID, patientID := uuid.New(), uuid.New()
	patients := fakePatients{patientID: {ID: patientID, ClinicID: clinicID, Name: "Ama Mensah"}}
	catalog, tasks := newMockCatalog(), newMockTasks()
	biller, pub := &fakeBiller{}, &recordingPublisher{}
	return &fixture{
		svc:       NewService(serialTx{&sync.Mutex{}}, catalog, tasks, patients, biller, pub, zerolog.Nop()),
		catalog:   catalog,
		tasks:     tasks,
		biller:    biller,
		pub:       pub,
		clinicID:  clinicID,
		patientID: patientID,
	}
}
