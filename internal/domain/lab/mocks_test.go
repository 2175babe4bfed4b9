package lab

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicmanager/clinic/internal/domain/patient"
	"github.com/clinicmanager/clinic/internal/platform/events"
)

type memDB struct {
	mu            sync.Mutex
	tests         map[uuid.UUID]*Test
	results       map[uuid.UUID]*Result
	consultations map[uuid.UUID]*patient.Consultation
	patientNames  map[uuid.UUID]string
	clock         time.Time
}

func newMemDB() *memDB {
	return &memDB{
		tests:         map[uuid.UUID]*Test{},
		results:       map[uuid.UUID]*Result{},
		consultations: map[uuid.UUID]*patient.Consultation{},
		patientNames:  map[uuid.UUID]string{},
		clock:         time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
}

// tick hands out strictly increasing timestamps so ordering is stable.
func (m *memDB) tick() time.Time {
	m.clock = m.clock.Add(time.Minute)
	return m.clock
}

// fakeTx drops results written by a failed call.
type fakeTx struct{ db *memDB }

func (t fakeTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.db.mu.Lock()
	before := make(map[uuid.UUID]*Result, len(t.db.results))
	for k, v := range t.db.results {
		before[k] = v
	}
	t.db.mu.Unlock()
	if err := fn(ctx); err != nil {
		t.db.mu.Lock()
		t.db.results = before
		t.db.mu.Unlock()
		return err
	}
	return nil
}

type fakeConsultations struct{ db *memDB }

func (f fakeConsultations) GetConsultation(_ context.Context, clinicID, id uuid.UUID) (*patient.Consultation, error) {
	c, ok := f.db.consultations[id]
	if !ok || c.ClinicID != clinicID {
		return nil, patient.ErrConsultationNotFound
	}
	return c, nil
}

type mockTests struct{ db *memDB }

func (m mockTests) Create(_ context.Context, t *Test) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, other := range m.db.tests {
		if other.ClinicID == t.ClinicID && other.Name == t.Name {
			return ErrDuplicateTest
		}
	}
	t.ID = uuid.New()
	t.CreatedAt = m.db.tick()
	cp := *t
	m.db.tests[t.ID] = &cp
	return nil
}

func (m mockTests) GetByID(_ context.Context, clinicID, id uuid.UUID) (*Test, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	t, ok := m.db.tests[id]
	if !ok || t.ClinicID != clinicID {
		return nil, ErrTestNotFound
	}
	cp := *t
	return &cp, nil
}

func (m mockTests) List(_ context.Context, clinicID uuid.UUID, activeOnly bool) ([]*Test, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []*Test
	for _, t := range m.db.tests {
		if t.ClinicID != clinicID || (activeOnly && !t.IsActive) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m mockTests) SetActive(_ context.Context, clinicID, id uuid.UUID, active bool) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	t, ok := m.db.tests[id]
	if !ok || t.ClinicID != clinicID {
		return ErrTestNotFound
	}
	t.IsActive = active
	return nil
}

type mockResults struct{ db *memDB }

func (m mockResults) Create(_ context.Context, r *Result) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	r.ID = uuid.New()
	r.ResultDate = m.db.tick()
	r.UpdatedAt = r.ResultDate
	cp := *r
	m.db.results[r.ID] = &cp
	return nil
}

func (m mockResults) GetByID(_ context.Context, clinicID, id uuid.UUID) (*Result, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	r, ok := m.db.results[id]
	if !ok || r.ClinicID != clinicID {
		return nil, ErrResultNotFound
	}
	cp := *r
	return &cp, nil
}

func (m mockResults) Update(_ context.Context, r *Result) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	cur, ok := m.db.results[r.ID]
	if !ok || cur.ClinicID != r.ClinicID {
		return ErrResultNotFound
	}
	r.UpdatedAt = m.db.tick()
	cur.Value, cur.Notes, cur.UpdatedAt = r.Value, r.Notes, r.UpdatedAt
	return nil
}

func (m mockResults) Delete(_ context.Context, clinicID, id uuid.UUID) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	r, ok := m.db.results[id]
	if !ok || r.ClinicID != clinicID {
		return ErrResultNotFound
	}
	delete(m.db.results, id)
	return nil
}

func (m mockResults) ForConsultation(_ context.Context, clinicID, consultationID uuid.UUID) ([]*Result, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []*Result
	for _, r := range m.db.results {
		if r.ClinicID == clinicID && r.ConsultationID == consultationID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResultDate.Before(out[j].ResultDate) })
	return out, nil
}

func (m mockResults) Summaries(_ context.Context, clinicID uuid.UUID, search string, limit, offset int) ([]*PatientSummary, int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	byPatient := map[uuid.UUID]*PatientSummary{}
	for _, r := range m.db.results {
		if r.ClinicID != clinicID {
			continue
		}
		c := m.db.consultations[r.ConsultationID]
		name := m.db.patientNames[c.PatientID]
		if search != "" && !strings.Contains(strings.ToLower(name), strings.ToLower(search)) {
			continue
		}
		s, ok := byPatient[c.PatientID]
		if !ok {
			s = &PatientSummary{PatientID: c.PatientID, PatientName: name}
			byPatient[c.PatientID] = s
		}
		s.TotalTests++
		if r.ResultDate.After(s.LastTest) {
			s.LastTest, s.ConsultationID = r.ResultDate, r.ConsultationID
		}
	}
	var out []*PatientSummary
	for _, s := range byPatient {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastTest.After(out[j].LastTest) })
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
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
}

func newFixture() *fixture {
	mdb := newMemDB()
	pub := &recordingPublisher{}
	return &fixture{
		db:       mdb,
		svc:      NewService(fakeTx{mdb}, mockTests{mdb}, mockResults{mdb}, fakeConsultations{mdb}, pub, zerolog.Nop()),
		pub:      pub,
		clinicID: uuid.New(),
	}
}

// consultation registers a patient called name with one consultation.
func (f *fixture) consultation(name string) *patient.Consultation {
	c := &patient.Consultation{ID: uuid.New(), ClinicID: f.clinicID, PatientID: uuid.New()}
	f.db.consultations[c.ID] = c
	f.db.patientNames[c.PatientID] = name
	return c
}

// visit adds another consultation for an existing patient.
func (f *fixture) visit(c *patient.Consultation) *patient.Consultation {
	next := &patient.Consultation{ID: uuid.New(), ClinicID: f.clinicID, PatientID: c.PatientID}
	f.db.consultations[next.ID] = next
	return next
}
