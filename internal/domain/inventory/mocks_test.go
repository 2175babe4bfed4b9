package inventory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinicmanager/clinic/internal/platform/events"
)

type stockKey struct{ item, location uuid.UUID }

// memDB backs the mock repositories. mu guards the maps; txMu serialises
// transactions the way row locks would.
type memDB struct {
	txMu      sync.Mutex
	mu        sync.Mutex
	items     map[uuid.UUID]*Item
	locations map[uuid.UUID]*Location
	suppliers map[uuid.UUID]*Supplier
	stock     map[stockKey]decimal.Decimal
	movements []*Movement
	consumed  []*Consumption
	orders    map[uuid.UUID]*PurchaseOrder
}

func newMemDB() *memDB {
	return &memDB{
		items:     map[uuid.UUID]*Item{},
		locations: map[uuid.UUID]*Location{},
		suppliers: map[uuid.UUID]*Supplier{},
		stock:     map[stockKey]decimal.Decimal{},
		orders:    map[uuid.UUID]*PurchaseOrder{},
	}
}

type lockingTx struct{ db *memDB }

type inTxKey struct{}

// InTx joins an outer call the way db.RunInTx does.
func (t lockingTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(inTxKey{}) != nil {
		return fn(ctx)
	}
	t.db.txMu.Lock()
	defer t.db.txMu.Unlock()
	return fn(context.WithValue(ctx, inTxKey{}, true))
}

func (d *memDB) total(itemID uuid.UUID) decimal.Decimal {
	sum := decimal.Zero
	for k, q := range d.stock {
		if k.item == itemID {
			sum = sum.Add(q)
		}
	}
	return sum
}

// -- items --

type mockItems struct{ db *memDB }

func (m mockItems) Create(_ context.Context, it *Item) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if it.SKU != nil {
		for _, other := range m.db.items {
			if other.ClinicID == it.ClinicID && other.SKU != nil && *other.SKU == *it.SKU {
				return ErrDuplicateSKU
			}
		}
	}
	it.ID = uuid.New()
	it.CreatedAt = time.Now()
	cp := *it
	m.db.items[it.ID] = &cp
	return nil
}

func (m mockItems) get(clinicID, id uuid.UUID) (*Item, error) {
	it, ok := m.db.items[id]
	if !ok || it.ClinicID != clinicID {
		return nil, ErrItemNotFound
	}
	cp := *it
	cp.TotalStock = m.db.total(id)
	return &cp, nil
}

func (m mockItems) GetByID(_ context.Context, clinicID, id uuid.UUID) (*Item, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	return m.get(clinicID, id)
}

func (m mockItems) All(_ context.Context, clinicID uuid.UUID) ([]*Item, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []*Item
	for id, it := range m.db.items {
		if it.ClinicID == clinicID {
			cp, _ := m.get(clinicID, id)
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m mockItems) List(ctx context.Context, clinicID uuid.UUID, search string, limit, offset int) ([]*Item, int, error) {
	all, _ := m.All(ctx, clinicID)
	var out []*Item
	for _, it := range all {
		if search == "" || strings.Contains(strings.ToLower(it.Name), strings.ToLower(search)) {
			out = append(out, it)
		}
	}
	return out, len(out), nil
}

func (m mockItems) LowStock(ctx context.Context, clinicID uuid.UUID) ([]*Item, error) {
	all, _ := m.All(ctx, clinicID)
	var out []*Item
	for _, it := range all {
		if it.IsLow() {
			out = append(out, it)
		}
	}
	return out, nil
}

// -- locations --

type mockLocations struct{ db *memDB }

func (m mockLocations) create(l *Location) error {
	for _, other := range m.db.locations {
		if other.ClinicID == l.ClinicID && other.Name == l.Name {
			return ErrDuplicateLocation
		}
	}
	l.ID = uuid.New()
	l.CreatedAt = time.Now()
	cp := *l
	m.db.locations[l.ID] = &cp
	return nil
}

func (m mockLocations) Create(_ context.Context, l *Location) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	return m.create(l)
}

func (m mockLocations) GetByID(_ context.Context, clinicID, id uuid.UUID) (*Location, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	l, ok := m.db.locations[id]
	if !ok || l.ClinicID != clinicID {
		return nil, ErrLocationNotFound
	}
	cp := *l
	return &cp, nil
}

func (m mockLocations) GetOrCreateByName(_ context.Context, clinicID uuid.UUID, name string) (*Location, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, l := range m.db.locations {
		if l.ClinicID == clinicID && l.Name == name {
			cp := *l
			return &cp, nil
		}
	}
	l := &Location{ClinicID: clinicID, Name: name}
	return l, m.create(l)
}

func (m mockLocations) List(_ context.Context, clinicID uuid.UUID) ([]*Location, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []*Location
	for _, l := range m.db.locations {
		if l.ClinicID == clinicID {
			out = append(out, l)
		}
	}
	return out, nil
}

// -- suppliers --

type mockSuppliers struct{ db *memDB }

func (m mockSuppliers) Create(_ context.Context, s *Supplier) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	s.ID = uuid.New()
	cp := *s
	m.db.suppliers[s.ID] = &cp
	return nil
}

func (m mockSuppliers) GetByID(_ context.Context, clinicID, id uuid.UUID) (*Supplier, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	s, ok := m.db.suppliers[id]
	if !ok || s.ClinicID != clinicID {
		return nil, ErrSupplierNotFound
	}
	cp := *s
	return &cp, nil
}

func (m mockSuppliers) List(_ context.Context, clinicID uuid.UUID, _ string, _, _ int) ([]*Supplier, int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []*Supplier
	for _, s := range m.db.suppliers {
		if s.ClinicID == clinicID {
			out = append(out, s)
		}
	}
	return out, len(out), nil
}

// -- stock --

type mockStock struct{ db *memDB }

func (m mockStock) Debit(_ context.Context, itemID, locationID uuid.UUID, qty decimal.Decimal) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	k := stockKey{itemID, locationID}
	have, ok := m.db.stock[k]
	if !ok || have.LessThan(qty) {
		return ErrInsufficientStock
	}
	m.db.stock[k] = have.Sub(qty)
	return nil
}

func (m mockStock) Credit(_ context.Context, itemID, locationID uuid.UUID, qty decimal.Decimal) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	k := stockKey{itemID, locationID}
	m.db.stock[k] = m.db.stock[k].Add(qty)
	return nil
}

func (m mockStock) Levels(_ context.Context, itemID uuid.UUID) ([]*StockLevel, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []*StockLevel
	for k, q := range m.db.stock {
		if k.item != itemID {
			continue
		}
		lvl := &StockLevel{ItemID: itemID, LocationID: k.location, Quantity: q}
		if l, ok := m.db.locations[k.location]; ok {
			lvl.LocationName = l.Name
		}
		out = append(out, lvl)
	}
	return out, nil
}

func (m mockStock) AppendMovement(_ context.Context, mv *Movement) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	mv.ID = uuid.New()
	mv.CreatedAt = time.Now()
	cp := *mv
	m.db.movements = append(m.db.movements, &cp)
	return nil
}

func (m mockStock) AppendConsumption(_ context.Context, c *Consumption) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	c.ID = uuid.New()
	c.UsedAt = time.Now()
	cp := *c
	m.db.consumed = append(m.db.consumed, &cp)
	return nil
}

func (m mockStock) ConsumptionFor(_ context.Context, clinicID, consultationID uuid.UUID) ([]*Consumption, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []*Consumption
	for _, c := range m.db.consumed {
		if c.ClinicID == clinicID && c.ConsultationID != nil && *c.ConsultationID == consultationID {
			cp := *c
			if it, ok := m.db.items[c.ItemID]; ok {
				cp.ItemName = it.Name
			}
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m mockStock) ListMovements(_ context.Context, clinicID uuid.UUID, itemID *uuid.UUID, _, _ int) ([]*Movement, int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []*Movement
	for _, mv := range m.db.movements {
		if mv.ClinicID == clinicID && (itemID == nil || mv.ItemID == *itemID) {
			out = append(out, mv)
		}
	}
	return out, len(out), nil
}

// -- purchase orders --

type mockOrders struct{ db *memDB }

func clonePO(po *PurchaseOrder) *PurchaseOrder {
	cp := *po
	cp.Lines = nil
	for _, l := range po.Lines {
		lc := *l
		cp.Lines = append(cp.Lines, &lc)
	}
	return &cp
}

func (m mockOrders) Create(_ context.Context, po *PurchaseOrder) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, other := range m.db.orders {
		if other.ClinicID == po.ClinicID && other.Number == po.Number {
			return ErrDuplicatePONumber
		}
	}
	po.ID = uuid.New()
	po.CreatedAt = time.Now()
	for _, l := range po.Lines {
		l.ID = uuid.New()
		l.PurchaseOrderID = po.ID
	}
	m.db.orders[po.ID] = clonePO(po)
	return nil
}

func (m mockOrders) GetByID(_ context.Context, clinicID, id uuid.UUID) (*PurchaseOrder, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	po, ok := m.db.orders[id]
	if !ok || po.ClinicID != clinicID {
		return nil, ErrPurchaseOrderNotFound
	}
	return clonePO(po), nil
}

func (m mockOrders) Lock(ctx context.Context, clinicID, id uuid.UUID) (*PurchaseOrder, error) {
	return m.GetByID(ctx, clinicID, id)
}

func (m mockOrders) List(_ context.Context, clinicID uuid.UUID, status, _ string, _, _ int) ([]*PurchaseOrder, int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []*PurchaseOrder
	for _, po := range m.db.orders {
		if po.ClinicID == clinicID && (status == "" || po.Status == status) {
			out = append(out, clonePO(po))
		}
	}
	return out, len(out), nil
}

func (m mockOrders) SetStatus(_ context.Context, id uuid.UUID, status string, receivedAt *time.Time) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	po := m.db.orders[id]
	po.Status = status
	if receivedAt != nil {
		po.ReceivedAt = receivedAt
	}
	return nil
}

func (m mockOrders) SetLineReceived(_ context.Context, lineID uuid.UUID, qty decimal.Decimal) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, po := range m.db.orders {
		for _, l := range po.Lines {
			if l.ID == lineID {
				l.ReceivedQuantity = qty
				return nil
			}
		}
	}
	return nil
}

// -- events --

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

type fixture struct {
	db       *memDB
	svc      *Service
	pub      *recordingPublisher
	clinicID uuid.UUID
}

func newFixture() *fixture {
	mdb := newMemDB()
	pub := &recordingPublisher{}
	repos := Repositories{
		Items:          mockItems{mdb},
		Locations:      mockLocations{mdb},
		Suppliers:      mockSuppliers{mdb},
		Stock:          mockStock{mdb},
		PurchaseOrders: mockOrders{mdb},
	}
	return &fixture{
		db:       mdb,
		svc:      NewService(lockingTx{mdb}, repos, pub, zerolog.Nop()),
		pub:      pub,
		clinicID: uuid.New(),
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
