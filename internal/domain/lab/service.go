package lab

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicmanager/clinic/internal/domain/patient"
	"github.com/clinicmanager/clinic/internal/platform/apperr"
	"github.com/clinicmanager/clinic/internal/platform/db"
	"github.com/clinicmanager/clinic/internal/platform/events"
)

type ConsultationLookup interface {
	GetConsultation(ctx context.Context, clinicID, id uuid.UUID) (*patient.Consultation, error)
}

type Service struct {
	tx            db.Transactor
	tests         TestRepository
	results       ResultRepository
	consultations ConsultationLookup
	events        events.Publisher
	logger        zerolog.Logger
}

func NewService(tx db.Transactor, tests TestRepository, results ResultRepository,
	consultations ConsultationLookup, pub events.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		tx:            tx,
		tests:         tests,
		results:       results,
		consultations: consultations,
		events:        pub,
		logger:        logger.With().Str("component", "lab").Logger(),
	}
}

// -- Catalog --

func (s *Service) CreateTest(ctx context.Context, clinicID uuid.UUID, in TestInput) (*Test, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	t := &Test{ClinicID: clinicID, Name: in.Name, Description: in.Description, IsActive: true}
	if err := s.tests.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) ListTests(ctx context.Context, clinicID uuid.UUID, activeOnly bool) ([]*Test, error) {
	return s.tests.List(ctx, clinicID, activeOnly)
}

func (s *Service) SetTestActive(ctx context.Context, clinicID, id uuid.UUID, active bool) (*Test, error) {
	if err := s.tests.SetActive(ctx, clinicID, id, active); err != nil {
		return nil, err
	}
	return s.tests.GetByID(ctx, clinicID, id)
}

// -- Results --

// RecordResults stores every result for the consultation or none of them.
// Each test must belong to the clinic and be active.
func (s *Service) RecordResults(ctx context.Context, clinicID, consultationID uuid.UUID, in []ResultInput, actor string) ([]*Result, error) {
	if len(in) == 0 {
		return nil, apperr.Invalid("at least one result is required")
	}
	for i := range in {
		if err := in[i].normalize(); err != nil {
			return nil, err
		}
	}
	consult, err := s.consultations.GetConsultation(ctx, clinicID, consultationID)
	if err != nil {
		return nil, err
	}
	var by *string
	if actor != "" {
		by = &actor
	}

	var out []*Result
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		out = out[:0]
		for _, r := range in {
			t, err := s.tests.GetByID(ctx, clinicID, r.TestID)
			if err != nil {
				return err
			}
			if !t.IsActive {
				return ErrTestInactive
			}
			res := &Result{
				ClinicID:       clinicID,
				ConsultationID: consult.ID,
				TestID:         t.ID,
				TestName:       t.Name,
				Value:          r.Value,
				Notes:          r.Notes,
				PerformedBy:    by,
			}
			if err := s.results.Create(ctx, res); err != nil {
				return err
			}
			out = append(out, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("clinic_id", clinicID.String()).
		Str("consultation_id", consult.ID.String()).
		Int("results", len(out)).
		Msg("lab results recorded")
	if s.events != nil {
		s.events.Publish(ctx, events.New(EventResultsRecorded, clinicID, ResultsRecorded{
			ConsultationID: consult.ID,
			PatientID:      consult.PatientID,
			Results:        out,
		}))
	}
	return out, nil
}

func (s *Service) UpdateResult(ctx context.Context, clinicID, id uuid.UUID, in ResultUpdate) (*Result, error) {
	res, err := s.results.GetByID(ctx, clinicID, id)
	if err != nil {
		return nil, err
	}
	if in.Value != nil {
		res.Value = *in.Value
	}
	if in.Notes != nil {
		res.Notes = in.Notes
	}
	if err := normalizeValue(&res.Value, &res.Notes); err != nil {
		return nil, err
	}
	if err := s.results.Update(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) DeleteResult(ctx context.Context, clinicID, id uuid.UUID) error {
	return s.results.Delete(ctx, clinicID, id)
}

func (s *Service) ResultsForConsultation(ctx context.Context, clinicID, consultationID uuid.UUID) ([]*Result, error) {
	if _, err := s.consultations.GetConsultation(ctx, clinicID, consultationID); err != nil {
		return nil, err
	}
	return s.results.ForConsultation(ctx, clinicID, consultationID)
}

// Dashboard lists patients with lab results, most recently tested first.
func (s *Service) Dashboard(ctx context.Context, clinicID uuid.UUID, search string, limit, offset int) ([]*PatientSummary, int, error) {
	return s.results.Summaries(ctx, clinicID, search, limit, offset)
}
