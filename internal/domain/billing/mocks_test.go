package billing

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinicmanager/clinic/internal/domain/patient"
	"github.com/clinicmanager/clinic/internal/platform/events"
	"github.com/clinicmanager/clinic/internal/platform/paystack"
)

// memDB backs every mock repository; its mutex stands in for row locks by
// serialising whole transactions.
type memDB struct {
	mu        sync.Mutex
	bills     map[uuid.UUID]*Bill
	items     map[uuid.UUID]*Item
	payments  map[uuid.UUID]*Payment
	debts     map[uuid.UUID]*DebtCase
	followUps []*FollowUp
}

func newMemDB() *memDB {
	return &memDB{
		bills:    map[uuid.UUID]*Bill{},
		items:    map[uuid.UUID]*Item{},
		payments: map[uuid.UUID]*Payment{},
		debts:    map[uuid.UUID]*DebtCase{},
	}
}

type lockingTx struct{ db *memDB }

func (t lockingTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	return fn(ctx)
}

// -- bills --

type mockBills struct{ db *memDB }

func (m mockBills) Create(_ context.Context, b *Bill) error {
	b.ID = uuid.New()
	b.TotalAmount = decimal.Zero
	b.CreatedAt = time.Now()
	cp := *b
	m.db.bills[b.ID] = &cp
	return nil
}

func (m mockBills) GetByID(_ context.Context, clinicID, id uuid.UUID) (*Bill, error) {
	b, ok := m.db.bills[id]
	if !ok || b.ClinicID != clinicID {
		return nil, ErrBillNotFound
	}
	cp := *b
	return &cp, nil
}

func (m mockBills) Lock(ctx context.Context, clinicID, id uuid.UUID) (*Bill, error) {
	return m.GetByID(ctx, clinicID, id)
}

func (m mockBills) LockOpenForEncounter(_ context.Context, clinicID, patientID uuid.UUID, consultationID *uuid.UUID) (*Bill, error) {
	for _, b := range m.db.bills {
		if b.ClinicID != clinicID || b.PatientID != patientID || b.IsPaid {
			continue
		}
		if (b.ConsultationID == nil) != (consultationID == nil) {
			continue
		}
		if consultationID != nil && *b.ConsultationID != *consultationID {
			continue
		}
		cp := *b
		return &cp, nil
	}
	return nil, ErrBillNotFound
}

func (m mockBills) List(_ context.Context, clinicID uuid.UUID, paid *bool, limit, offset int) ([]*Bill, int, error) {
	var out []*Bill
	for _, b := range m.db.bills {
		if b.ClinicID == clinicID && (paid == nil || b.IsPaid == *paid) {
			out = append(out, b)
		}
	}
	return out, len(out), nil
}

func (m mockBills) RecomputeTotal(_ context.Context, id uuid.UUID) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, it := range m.db.items {
		if it.BillID == id {
			total = total.Add(it.Total)
		}
	}
	b, ok := m.db.bills[id]
	if !ok {
		return total, ErrBillNotFound
	}
	b.TotalAmount = total
	return total, nil
}

func (m mockBills) MarkPaid(_ context.Context, id uuid.UUID) error {
	m.db.bills[id].IsPaid = true
	return nil
}

// -- items --

type mockItems struct{ db *memDB }

func (m mockItems) Create(_ context.Context, it *Item) error {
	it.ID = uuid.New()
	cp := *it
	m.db.items[it.ID] = &cp
	return nil
}

func (m mockItems) GetByID(_ context.Context, billID, id uuid.UUID) (*Item, error) {
	it, ok := m.db.items[id]
	if !ok || it.BillID != billID {
		return nil, ErrItemNotFound
	}
	cp := *it
	return &cp, nil
}

func (m mockItems) Update(_ context.Context, it *Item) error {
	cur, ok := m.db.items[it.ID]
	if !ok || cur.BillID != it.BillID {
		return ErrItemNotFound
	}
	cp := *it
	m.db.items[it.ID] = &cp
	return nil
}

func (m mockItems) Delete(_ context.Context, billID, id uuid.UUID) error {
	cur, ok := m.db.items[id]
	if !ok || cur.BillID != billID {
		return ErrItemNotFound
	}
	delete(m.db.items, id)
	return nil
}

func (m mockItems) ListByBill(_ context.Context, billID uuid.UUID) ([]*Item, error) {
	var out []*Item
	for _, it := range m.db.items {
		if it.BillID == billID {
			out = append(out, it)
		}
	}
	return out, nil
}

// -- payments --

type mockPayments struct{ db *memDB }

func (m mockPayments) Create(_ context.Context, p *Payment) error {
	for _, existing := range m.db.payments {
		if existing.Reference == p.Reference {
			return errDuplicateReference
		}
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	cp := *p
	m.db.payments[p.ID] = &cp
	return nil
}

var errDuplicateReference = errors.New("duplicate reference")

func (m mockPayments) GetByReference(_ context.Context, reference string) (*Payment, error) {
	for _, p := range m.db.payments {
		if p.Reference == reference {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (m mockPayments) LockByReference(ctx context.Context, reference string) (*Payment, error) {
	return m.GetByReference(ctx, reference)
}

func (m mockPayments) Settled(_ context.Context, billID uuid.UUID) (*Payment, error) {
	for _, p := range m.db.payments {
		if p.BillID == billID && p.Settled() {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (m mockPayments) Pending(_ context.Context, billID uuid.UUID) (*Payment, error) {
	for _, p := range m.db.payments {
		if p.BillID == billID && p.Status == PaymentPending {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (m mockPayments) FailPending(_ context.Context, billID uuid.UUID, reason json.RawMessage) (int64, error) {
	var n int64
	for _, p := range m.db.payments {
		if p.BillID == billID && p.Status == PaymentPending {
			p.Status = PaymentFailed
			p.GatewayResponse = reason
			n++
		}
	}
	return n, nil
}

func (m mockPayments) SetAuthorization(_ context.Context, id uuid.UUID, url string) error {
	m.db.payments[id].AuthorizationURL = &url
	return nil
}

func (m mockPayments) SetStatus(_ context.Context, id uuid.UUID, status string, paidAt *time.Time, response json.RawMessage) error {
	p := m.db.payments[id]
	p.Status = status
	if paidAt != nil {
		p.PaidAt = paidAt
	}
	if response != nil {
		p.GatewayResponse = response
	}
	return nil
}

func (m mockPayments) ListByBill(_ context.Context, billID uuid.UUID) ([]*Payment, error) {
	var out []*Payment
	for _, p := range m.db.payments {
		if p.BillID == billID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m mockPayments) ListSettled(_ context.Context, clinicID uuid.UUID, from, to *time.Time) ([]*Payment, error) {
	var out []*Payment
	for _, p := range m.db.payments {
		if p.ClinicID != clinicID || !p.Settled() || p.PaidAt == nil {
			continue
		}
		if from != nil && p.PaidAt.Before(*from) {
			continue
		}
		if to != nil && p.PaidAt.After(*to) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m mockPayments) count(billID uuid.UUID, status string) int {
	n := 0
	for _, p := range m.db.payments {
		if p.BillID == billID && p.Status == status {
			n++
		}
	}
	return n
}

// -- debts --

type mockDebts struct{ db *memDB }

func (m mockDebts) balance(d *DebtCase) decimal.Decimal {
	b := m.db.bills[d.BillID]
	if b == nil || b.IsPaid {
		return decimal.Zero
	}
	return b.TotalAmount
}

func (m mockDebts) GetOrCreate(_ context.Context, clinicID, billID, patientID uuid.UUID) (*DebtCase, error) {
	for _, d := range m.db.debts {
		if d.BillID == billID {
			cp := *d
			cp.Balance = m.balance(d)
			return &cp, nil
		}
	}
	d := &DebtCase{ID: uuid.New(), ClinicID: clinicID, BillID: billID, PatientID: patientID, Status: DebtOpen}
	m.db.debts[d.ID] = d
	cp := *d
	cp.Balance = m.balance(d)
	return &cp, nil
}

func (m mockDebts) GetByID(_ context.Context, clinicID, id uuid.UUID) (*DebtCase, error) {
	d, ok := m.db.debts[id]
	if !ok || d.ClinicID != clinicID {
		return nil, ErrDebtCaseNotFound
	}
	cp := *d
	cp.Balance = m.balance(d)
	return &cp, nil
}

func (m mockDebts) List(_ context.Context, clinicID uuid.UUID, status string, limit, offset int) ([]*DebtCase, int, error) {
	var out []*DebtCase
	for _, d := range m.db.debts {
		if d.ClinicID == clinicID && (status == "" || d.Status == status) {
			cp := *d
			cp.Balance = m.balance(d)
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (m mockDebts) Update(_ context.Context, d *DebtCase) error {
	if _, ok := m.db.debts[d.ID]; !ok {
		return ErrDebtCaseNotFound
	}
	cp := *d
	m.db.debts[d.ID] = &cp
	return nil
}

func (m mockDebts) MarkPaidForBill(_ context.Context, billID uuid.UUID) error {
	for _, d := range m.db.debts {
		if d.BillID == billID {
			d.Status = DebtPaid
		}
	}
	return nil
}

func (m mockDebts) AddFollowUp(_ context.Context, f *FollowUp) error {
	f.ID = uuid.New()
	m.db.followUps = append(m.db.followUps, f)
	return nil
}

func (m mockDebts) ListFollowUps(_ context.Context, caseID uuid.UUID) ([]*FollowUp, error) {
	var out []*FollowUp
	for _, f := range m.db.followUps {
		if f.DebtCaseID == caseID {
			out = append(out, f)
		}
	}
	return out, nil
}

// -- collaborators --

type fakeGateway struct {
	mu        sync.Mutex
	enabled   bool
	initErr   error
	initCalls []paystack.InitializeRequest
	verify    map[string]*paystack.Transaction
	verifyErr error
	txns      []paystack.Transaction
	// duplicateOnce makes the next Initialize fail as if an earlier attempt
	// had reached the gateway; upstream is what that attempt left behind.
	duplicateOnce bool
	upstream      string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{enabled: true, verify: map[string]*paystack.Transaction{}}
}

func (g *fakeGateway) Enabled() bool { return g.enabled }

func (g *fakeGateway) Initialize(_ context.Context, req paystack.InitializeRequest) (*paystack.InitializeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initCalls = append(g.initCalls, req)
	if g.duplicateOnce {
		g.duplicateOnce = false
		g.verify[req.Reference] = &paystack.Transaction{Status: g.upstream, Reference: req.Reference, Amount: req.Amount}
		return nil, &paystack.Error{Operation: "initialize", StatusCode: 400, Message: "Duplicate Transaction Reference"}
	}
	if g.initErr != nil {
		return nil, g.initErr
	}
	return &paystack.InitializeResult{AuthorizationURL: "https://checkout.paystack.com/" + req.Reference, Reference: req.Reference}, nil
}

func (g *fakeGateway) Verify(_ context.Context, reference string) (*paystack.Transaction, error) {
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	txn, ok := g.verify[reference]
	if !ok {
		return nil, &paystack.Error{Operation: "verify", StatusCode: 404, Message: "not found"}
	}
	return txn, nil
}

func (g *fakeGateway) ListTransactions(_ context.Context, subaccount string, perPage int) ([]paystack.Transaction, error) {
	return g.txns, nil
}

type fakeClinics struct{ code string }

func (f fakeClinics) SubaccountCode(context.Context, uuid.UUID) (string, error) { return f.code, nil }

type fakePatients struct{ byID map[uuid.UUID]*patient.Patient }

func (f fakePatients) GetPatient(_ context.Context, clinicID, id uuid.UUID) (*patient.Patient, error) {
	p, ok := f.byID[id]
	if !ok || p.ClinicID != clinicID {
		return nil, patient.ErrPatientNotFound
	}
	return p, nil
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
	svc       *Service
	db        *memDB
	gateway   *fakeGateway
	pub       *recordingPublisher
	clinicID  uuid.UUID
	patientID uuid.UUID
}

func newFixture() *fixture {
	mdb := newMemDB()
	clinicID, patientID := uuid.New(), uuid.New()
	email := "kofi@example.com"
	patients := fakePatients{byID: map[uuid.UUID]*patient.Patient{
		patientID: {ID: patientID, ClinicID: clinicID, Name: "Kofi", Email: &email},
	}}
	gw := newFakeGateway()
	pub := &recordingPublisher{}
	svc := NewService(lockingTx{db: mdb}, Repositories{
		Bills:    mockBills{db: mdb},
		Items:    mockItems{db: mdb},
		Payments: mockPayments{db: mdb},
		Debts:    mockDebts{db: mdb},
	}, gw, fakeClinics{code: "ACCT_clinic"}, patients, pub, zerolog.Nop())
	svc.CallbackURL = "https://clinic.example/api/v1/billing/paystack/callback"
	svc.WebhookSecret = "sk_test_secret"
	return &fixture{svc: svc, db: mdb, gateway: gw, pub: pub, clinicID: clinicID, patientID: patientID}
}
