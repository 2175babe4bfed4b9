package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/clinicmanager/clinic/internal/domain/patient"
	"github.com/clinicmanager/clinic/internal/platform/apperr"
	"github.com/clinicmanager/clinic/internal/platform/events"
	"github.com/clinicmanager/clinic/internal/platform/metrics"
)

// Directory resolves the people a queue entry refers to; *patient.Service
// satisfies it.
type Directory interface {
	GetPatient(ctx context.Context, clinicID, id uuid.UUID) (*patient.Patient, error)
	GetDoctor(ctx context.Context, clinicID, id uuid.UUID) (*patient.Doctor, error)
}

type Service struct {
	entries   EntryRepository
	directory Directory
	events    events.Publisher
	now       func() time.Time
}

func NewService(entries EntryRepository, directory Directory, pub events.Publisher) *Service {
	return &Service{
		entries:   entries,
		directory: directory,
		events:    pub,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Enqueue(ctx context.Context, clinicID uuid.UUID, req EnqueueRequest) (*Entry, error) {
	if !validTarget(req.TargetType) {
		return nil, apperr.Invalid("target_type must be %q or %q", TargetDoctor, TargetLab)
	}
	if req.TargetID == uuid.Nil {
		return nil, apperr.Invalid("target_id is required")
	}
	if req.PatientID == uuid.Nil {
		return nil, apperr.Invalid("patient_id is required")
	}

	p, err := s.directory.GetPatient(ctx, clinicID, req.PatientID)
	if err != nil {
		return nil, err
	}
	if req.TargetType == TargetDoctor {
		if _, err := s.directory.GetDoctor(ctx, clinicID, req.TargetID); err != nil {
			return nil, err
		}
	}

	e := &Entry{
		ClinicID:       clinicID,
		TargetType:     req.TargetType,
		TargetID:       req.TargetID,
		PatientID:      req.PatientID,
		ConsultationID: req.ConsultationID,
	}
	if err := s.entries.Create(ctx, e); err != nil {
		return nil, err
	}

	metrics.QueueEntriesCreated.WithLabelValues(e.TargetType).Inc()
	if s.events != nil {
		s.events.Publish(ctx, events.New(EventEntryCreated, clinicID, EntryCreated{Entry: e, PatientName: p.Name}))
	}
	return e, nil
}

func (s *Service) Get(ctx context.Context, clinicID, id uuid.UUID) (*Entry, error) {
	return s.entries.GetByID(ctx, clinicID, id)
}

// Start calls the patient in. Only waiting entries can start.
func (s *Service) Start(ctx context.Context, clinicID, id uuid.UUID) (*Entry, error) {
	return s.transition(ctx, clinicID, id, StatusWaiting, StatusInProgress)
}

func (s *Service) Complete(ctx context.Context, clinicID, id uuid.UUID) (*Entry, error) {
	return s.transition(ctx, clinicID, id, StatusInProgress, StatusCompleted)
}

// Skip passes over a waiting lab patient.
func (s *Service) Skip(ctx context.Context, clinicID, id uuid.UUID) (*Entry, error) {
	e, err := s.entries.GetByID(ctx, clinicID, id)
	if err != nil {
		return nil, err
	}
	if e.TargetType != TargetLab {
		return nil, ErrSkipNotAllowed
	}
	return s.transition(ctx, clinicID, id, StatusWaiting, StatusSkipped)
}

func (s *Service) transition(ctx context.Context, clinicID, id uuid.UUID, from, to string) (*Entry, error) {
	if !canTransition(from, to) {
		return nil, ErrInvalidTransition
	}
	e, err := s.entries.Transition(ctx, clinicID, id, from, to, s.now())
	if errors.Is(err, ErrInvalidTransition) {
		// Distinguish a missing entry from one in the wrong state.
		if _, getErr := s.entries.GetByID(ctx, clinicID, id); getErr != nil {
			return nil, getErr
		}
	}
	return e, err
}

func (s *Service) List(ctx context.Context, clinicID uuid.UUID, target Target, status string) ([]*Entry, error) {
	if !validTarget(target.Type) {
		return nil, apperr.Invalid("unknown queue type %q", target.Type)
	}
	switch status {
	case "", StatusWaiting, StatusInProgress, StatusCompleted, StatusSkipped:
	default:
		return nil, apperr.Invalid("unknown status %q", status)
	}
	return s.entries.List(ctx, clinicID, target, status)
}

// Next returns the waiting entry with the lowest position.
func (s *Service) Next(ctx context.Context, clinicID uuid.UUID, target Target) (*Entry, error) {
	if !validTarget(target.Type) {
		return nil, apperr.Invalid("unknown queue type %q", target.Type)
	}
	return s.entries.Next(ctx, clinicID, target)
}

// Audit checks that a line's positions run 1..N without repeats.
func (s *Service) Audit(ctx context.Context, clinicID uuid.UUID, target Target) (PositionReport, error) {
	if !validTarget(target.Type) {
		return PositionReport{}, apperr.Invalid("unknown queue type %q", target.Type)
	}
	positions, err := s.entries.Positions(ctx, clinicID, target)
	if err != nil {
		return PositionReport{}, err
	}
	return AuditPositions(positions), nil
}
