package specialist

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinicmanager/clinic/internal/domain/billing"
	"github.com/clinicmanager/clinic/internal/domain/patient"
	"github.com/clinicmanager/clinic/internal/domain/queue"
	"github.com/clinicmanager/clinic/internal/platform/apperr"
	"github.com/clinicmanager/clinic/internal/platform/numeric"
	"github.com/clinicmanager/clinic/internal/platform/db"
	"github.com/clinicmanager/clinic/internal/platform/events"
)

// Biller appends a service charge to the patient's open bill;
// *billing.Service satisfies it.
type Biller interface {
	BillForService(ctx context.Context, clinicID, patientID uuid.UUID, consultationID *uuid.UUID,
		description string, price decimal.Decimal) (*billing.Bill, error)
}

type PatientLookup interface {
	GetPatient(ctx context.Context, clinicID, id uuid.UUID) (*patient.Patient, error)
}

type Service struct {
	tx       db.Transactor
	catalog  CatalogRepository
	tasks    TaskRepository
	patients PatientLookup
	biller   Biller
	events   events.Publisher
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(tx db.Transactor, catalog CatalogRepository, tasks TaskRepository,
	patients PatientLookup, biller Biller, pub events.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		tx:       tx,
		catalog:  catalog,
		tasks:    tasks,
		patients: patients,
		biller:   biller,
		events:   pub,
		logger:   logger.With().Str("component", "specialist").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RegisterHandlers tells specialists when a patient with waiting tasks
// joins any queue.
func (s *Service) RegisterHandlers(bus *events.Bus) {
	bus.Subscribe(queue.EventEntryCreated, "specialist.patient_arrived", func(ctx context.Context, e events.Event) error {
		p, ok := e.Payload.(queue.EntryCreated)
		if !ok {
			return nil
		}
		_, err := s.PatientArrived(ctx, e.ClinicID, p.Entry.PatientID)
		return err
	})
}

// -- Catalog --

func (s *Service) CreateService(ctx context.Context, clinicID uuid.UUID, e *CatalogEntry) error {
	e.Name = strings.TrimSpace(e.Name)
	if e.Name == "" {
		return apperr.Invalid("name is required")
	}
	if !validRole(e.Role) {
		return apperr.Invalid("unknown role %q", e.Role)
	}
	if e.Price.IsNegative() {
		return apperr.Invalid("price must not be negative")
	}
	if err := numeric.Money.Check("price", e.Price); err != nil {
		return err
	}
	e.ClinicID = clinicID
	e.IsActive = true
	return s.catalog.Create(ctx, e)
}

func (s *Service) ListServices(ctx context.Context, clinicID uuid.UUID, role string, activeOnly bool) ([]*CatalogEntry, error) {
	if role != "" && !validRole(role) {
		return nil, apperr.Invalid("unknown role %q", role)
	}
	return s.catalog.List(ctx, clinicID, role, activeOnly)
}

func (s *Service) SetServiceActive(ctx context.Context, clinicID, id uuid.UUID, active bool) (*CatalogEntry, error) {
	if err := s.catalog.SetActive(ctx, clinicID, id, active); err != nil {
		return nil, err
	}
	return s.catalog.GetByID(ctx, clinicID, id)
}

// -- Tasks --

func (s *Service) CreateTask(ctx context.Context, clinicID uuid.UUID, req CreateTaskRequest) (*Task, error) {
	if req.PatientID == uuid.Nil {
		return nil, apperr.Invalid("patient_id is required")
	}
	if !validRole(req.Role) {
		return nil, apperr.Invalid("unknown role %q", req.Role)
	}
	p, err := s.patients.GetPatient(ctx, clinicID, req.PatientID)
	if err != nil {
		return nil, err
	}
	if req.ServiceID != nil {
		if _, err := s.activeService(ctx, clinicID, *req.ServiceID); err != nil {
			return nil, err
		}
	}
	if req.AssignedTo != nil {
		if v := strings.TrimSpace(*req.AssignedTo); v == "" {
			req.AssignedTo = nil
		} else {
			req.AssignedTo = &v
		}
	}

	t := &Task{
		ClinicID:       clinicID,
		PatientID:      req.PatientID,
		ConsultationID: req.ConsultationID,
		AssignedTo:     req.AssignedTo,
		Role:           req.Role,
		ServiceID:      req.ServiceID,
		Notes:          req.Notes,
	}
	if err := s.tasks.Create(ctx, t); err != nil {
		return nil, err
	}
	if s.events != nil {
		s.events.Publish(ctx, events.New(EventTaskCreated, clinicID, TaskCreated{Task: t, PatientName: p.Name}))
	}
	return t, nil
}

func (s *Service) activeService(ctx context.Context, clinicID, id uuid.UUID) (*CatalogEntry, error) {
	e, err := s.catalog.GetByID(ctx, clinicID, id)
	if err != nil {
		return nil, err
	}
	if !e.IsActive {
		return nil, ErrServiceInactive
	}
	return e, nil
}

func (s *Service) GetTask(ctx context.Context, clinicID, id uuid.UUID) (*Task, error) {
	return s.tasks.GetByID(ctx, clinicID, id)
}

func (s *Service) ListTasks(ctx context.Context, clinicID uuid.UUID, f TaskFilter, limit, offset int) ([]*Task, int, error) {
	if f.Role != "" && !validRole(f.Role) {
		return nil, 0, apperr.Invalid("unknown role %q", f.Role)
	}
	switch f.Status {
	case "", StatusWaiting, StatusInProgress, StatusDone, StatusCancelled:
	default:
		return nil, 0, apperr.Invalid("unknown status %q", f.Status)
	}
	return s.tasks.List(ctx, clinicID, f, limit, offset)
}

func (s *Service) Start(ctx context.Context, clinicID, id uuid.UUID) (*Task, error) {
	return s.transition(ctx, clinicID, id, StatusInProgress)
}

func (s *Service) Complete(ctx context.Context, clinicID, id uuid.UUID) (*Task, error) {
	return s.transition(ctx, clinicID, id, StatusDone)
}

func (s *Service) Cancel(ctx context.Context, clinicID, id uuid.UUID) (*Task, error) {
	return s.transition(ctx, clinicID, id, StatusCancelled)
}

func (s *Service) transition(ctx context.Context, clinicID, id uuid.UUID, to string) (*Task, error) {
	t, err := s.tasks.Transition(ctx, clinicID, id, sources(to), to, s.now())
	if errors.Is(err, ErrInvalidTransition) {
		if _, getErr := s.tasks.GetByID(ctx, clinicID, id); getErr != nil {
			return nil, getErr
		}
	}
	return t, err
}

// AssignService sets or clears the service a task will be billed for.
func (s *Service) AssignService(ctx context.Context, clinicID, id uuid.UUID, serviceID *uuid.UUID) (*Task, error) {
	var out *Task
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		t, err := s.tasks.Lock(ctx, clinicID, id)
		if err != nil {
			return err
		}
		if t.BillID != nil {
			return ErrAlreadyBilled
		}
		if serviceID != nil {
			e, err := s.activeService(ctx, clinicID, *serviceID)
			if err != nil {
				return err
			}
			if e.Role != t.Role {
				return apperr.Invalid("service %q belongs to role %q, task is %q", e.Name, e.Role, t.Role)
			}
		}
		if err := s.tasks.SetService(ctx, clinicID, id, serviceID); err != nil {
			return err
		}
		t.ServiceID = serviceID
		out = t
		return nil
	})
	return out, err
}

// BillTask charges the task's service to the patient's open bill. A task is
// billed at most once.
func (s *Service) BillTask(ctx context.Context, clinicID, id uuid.UUID) (*billing.Bill, error) {
	var out *billing.Bill
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		t, err := s.tasks.Lock(ctx, clinicID, id)
		if err != nil {
			return err
		}
		if t.Status == StatusCancelled {
			return ErrInvalidTransition
		}
		if t.BillID != nil {
			return ErrAlreadyBilled
		}
		if t.ServiceID == nil {
			return ErrNoService
		}
		svc, err := s.catalog.GetByID(ctx, clinicID, *t.ServiceID)
		if err != nil {
			return err
		}
		b, err := s.biller.BillForService(ctx, clinicID, t.PatientID, t.ConsultationID, svc.Name, svc.Price)
		if err != nil {
			return err
		}
		if err := s.tasks.SetBill(ctx, t.ID, b.ID); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("clinic_id", clinicID.String()).
		Str("task_id", id.String()).
		Str("bill_id", out.ID.String()).
		Msg("task billed")
	return out, nil
}

// PatientArrived announces each of the patient's waiting tasks that has an
// assignee.
func (s *Service) PatientArrived(ctx context.Context, clinicID, patientID uuid.UUID) ([]*Task, error) {
	waiting, err := s.tasks.WaitingForPatient(ctx, clinicID, patientID)
	if err != nil {
		return nil, err
	}
	var notified []*Task
	for _, t := range waiting {
		if t.AssignedTo == nil {
			continue
		}
		notified = append(notified, t)
	}
	if len(notified) == 0 || s.events == nil {
		return notified, nil
	}
	p, err := s.patients.GetPatient(ctx, clinicID, patientID)
	if err != nil {
		return nil, err
	}
	for _, t := range notified {
		s.events.Publish(ctx, events.New(EventPatientArrived, clinicID, PatientArrived{Task: t, PatientName: p.Name}))
	}
	return notified, nil
}
