package prescription

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinicmanager/clinic/internal/domain/billing"
	"github.com/clinicmanager/clinic/internal/domain/inventory"
	"github.com/clinicmanager/clinic/internal/domain/patient"
	"github.com/clinicmanager/clinic/internal/platform/events"
)

type stockKey struct{ item, location uuid.UUID }

// state is everything the fakes write. fakeTx restores a snapshot on error
// so a failed call leaves no trace.
type state struct {
	stock         map[stockKey]decimal.Decimal
	consumed      []inventory.ConsumeRequest
	charges       []billing.ItemInput
	prescriptions map[uuid.UUID]*Prescription
}

func (s *state) clone() *state {
	cp := &state{
		stock:         make(map[stockKey]decimal.Decimal, len(s.stock)),
		consumed:      append([]inventory.ConsumeRequest(nil), s.consumed...),
		charges:       append([]billing.ItemInput(nil), s.charges...),
		prescriptions: make(map[uuid.UUID]*Prescription, len(s.prescriptions)),
	}
	for k, v := range s.stock {
		cp.stock[k] = v
	}
	for k, v := range s.prescriptions {
		p := *v
		cp.prescriptions[k] = &p
	}
	return cp
}

type memDB struct {
	mu sync.Mutex
	*state
	items         map[uuid.UUID]*inventory.Item
	consultations map[uuid.UUID]*patient.Consultation
	billID        uuid.UUID
	chargeErr     error
}

func newMemDB() *memDB {
	return &memDB{
		state: &state{
			stock:         map[stockKey]decimal.Decimal{},
			prescriptions: map[uuid.UUID]*Prescription{},
		},
		items:         map[uuid.UUID]*inventory.Item{},
		consultations: map[uuid.UUID]*patient.Consultation{},
		billID:        uuid.New(),
	}
}

type fakeTx struct{ db *memDB }

func (t fakeTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.db.mu.Lock()
	snap := t.db.state.clone()
	t.db.mu.Unlock()
	if err := fn(ctx); err != nil {
		t.db.mu.Lock()
		t.db.state = snap
		t.db.mu.Unlock()
		return err
	}
	return nil
}

// -- collaborators --

type fakeConsultations struct{ db *memDB }

func (f fakeConsultations) GetConsultation(_ context.Context, clinicID, id uuid.UUID) (*patient.Consultation, error) {
	c, ok := f.db.consultations[id]
	if !ok || c.ClinicID != clinicID {
		return nil, patient.ErrConsultationNotFound
	}
	return c, nil
}

type fakeStock struct{ db *memDB }

func (f fakeStock) GetItem(_ context.Context, clinicID, id uuid.UUID) (*inventory.Item, error) {
	it, ok := f.db.items[id]
	if !ok || it.ClinicID != clinicID {
		return nil, inventory.ErrItemNotFound
	}
	return it, nil
}

func (f fakeStock) StockLevels(_ context.Context, _, itemID uuid.UUID) ([]*inventory.StockLevel, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []*inventory.StockLevel
	for k, q := range f.db.stock {
		if k.item == itemID {
			out = append(out, &inventory.StockLevel{ItemID: itemID, LocationID: k.location, Quantity: q})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocationID.String() < out[j].LocationID.String() })
	return out, nil
}

func (f fakeStock) Consume(_ context.Context, clinicID uuid.UUID, req inventory.ConsumeRequest, actor string) (*inventory.Movement, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	k := stockKey{req.ItemID, req.LocationID}
	have, ok := f.db.stock[k]
	if !ok || have.LessThan(req.Quantity) {
		return nil, inventory.ErrInsufficientStock
	}
	f.db.stock[k] = have.Sub(req.Quantity)
	f.db.consumed = append(f.db.consumed, req)
	loc := req.LocationID
	return &inventory.Movement{
		ID: uuid.New(), ClinicID: clinicID, ItemID: req.ItemID, Quantity: req.Quantity,
		FromLocationID: &loc, Type: inventory.MoveOut, Reference: req.Reference, CreatedBy: &actor,
	}, nil
}

type fakeBiller struct{ db *memDB }

func (f fakeBiller) AddCharge(_ context.Context, clinicID, patientID uuid.UUID, consultationID *uuid.UUID,
	in billing.ItemInput) (*billing.Bill, *billing.Item, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if f.db.chargeErr != nil {
		return nil, nil, f.db.chargeErr
	}
	f.db.charges = append(f.db.charges, in)
	b := &billing.Bill{ID: f.db.billID, ClinicID: clinicID, PatientID: patientID, ConsultationID: consultationID}
	it := &billing.Item{ID: uuid.New(), BillID: b.ID, Description: in.Description, Quantity: in.Quantity,
		UnitPrice: in.UnitPrice, Total: in.UnitPrice.Mul(decimal.NewFromInt(int64(in.Quantity)))}
	return b, it, nil
}

// -- repository --

type mockRepo struct{ db *memDB }

func (m mockRepo) Create(_ context.Context, p *Prescription) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	p.ID = uuid.New()
	p.PrescribedAt = time.Now()
	cp := *p
	m.db.prescriptions[p.ID] = &cp
	return nil
}

func (m mockRepo) GetByID(_ context.Context, clinicID, id uuid.UUID) (*Prescription, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	p, ok := m.db.prescriptions[id]
	if !ok || p.ClinicID != clinicID {
		return nil, ErrPrescriptionNotFound
	}
	cp := *p
	return &cp, nil
}

func (m mockRepo) List(_ context.Context, clinicID uuid.UUID, f Filter, limit, offset int) ([]*Prescription, int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []*Prescription
	for _, p := range m.db.prescriptions {
		switch {
		case p.ClinicID != clinicID:
		case f.ConsultationID != nil && p.ConsultationID != *f.ConsultationID:
		case f.PatientID != nil && p.PatientID != *f.PatientID:
		case f.Dispensed != nil && p.Dispensed != *f.Dispensed:
		default:
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PrescribedAt.After(out[j].PrescribedAt) })
	total := len(out)
	if limit > 0 {
		if offset > len(out) {
			offset = len(out)
		}
		out = out[offset:]
		if len(out) > limit {
			out = out[:limit]
		}
	}
	return out, total, nil
}

func (m mockRepo) MarkDispensed(_ context.Context, clinicID, id uuid.UUID, at time.Time) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	p, ok := m.db.prescriptions[id]
	if !ok || p.ClinicID != clinicID || p.Dispensed {
		return ErrAlreadyDispensed
	}
	p.Dispensed, p.DispensedAt = true, &at
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(_ context.Context, e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

type fixture struct {
	db       *memDB
	svc      *Service
	pub      *recordingPublisher
	clinicID uuid.UUID
	consult  *patient.Consultation
}

func newFixture() *fixture {
	mdb := newMemDB()
	pub := &recordingPublisher{}
	clinicID := uuid.New()
	consult := &patient.Consultation{ID: uuid.New(), ClinicID: clinicID, PatientID: uuid.New()}
	mdb.consultations[consult.ID] = consult
	return &fixture{
		db:       mdb,
		svc:      NewService(fakeTx{mdb}, mockRepo{mdb}, fakeConsultations{mdb}, fakeStock{mdb}, fakeBiller{mdb}, pub, zerolog.Nop()),
		pub:      pub,
		clinicID: clinicID,
		consult:  consult,
	}
}

func (f *fixture) item(name, price string) *inventory.Item {
	it := &inventory.Item{ID: uuid.New(), ClinicID: f.clinicID, Name: name, Price: dec(price)}
	f.db.items[it.ID] = it
	return it
}

func (f *fixture) stockAt(it *inventory.Item, qty string) uuid.UUID {
	loc := uuid.New()
	f.db.stock[stockKey{it.ID, loc}] = dec(qty)
	return loc
}

func (f *fixture) level(it *inventory.Item, loc uuid.UUID) decimal.Decimal {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	return f.db.stock[stockKey{it.ID, loc}]
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
