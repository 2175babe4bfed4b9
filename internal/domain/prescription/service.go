package prescription

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinicmanager/clinic/internal/domain/billing"
	"github.com/clinicmanager/clinic/internal/domain/inventory"
	"github.com/clinicmanager/clinic/internal/domain/patient"
	"github.com/clinicmanager/clinic/internal/platform/apperr"
	"github.com/clinicmanager/clinic/internal/platform/db"
	"github.com/clinicmanager/clinic/internal/platform/events"
)

type ConsultationLookup interface {
	GetConsultation(ctx context.Context, clinicID, id uuid.UUID) (*patient.Consultation, error)
}

// Stock is the pharmacy side; *inventory.Service satisfies it.
type Stock interface {
	GetItem(ctx context.Context, clinicID, id uuid.UUID) (*inventory.Item, error)
	StockLevels(ctx context.Context, clinicID, itemID uuid.UUID) ([]*inventory.StockLevel, error)
	Consume(ctx context.Context, clinicID uuid.UUID, req inventory.ConsumeRequest, actor string) (*inventory.Movement, error)
}

// Biller charges the encounter bill; *billing.Service satisfies it.
type Biller interface {
	AddCharge(ctx context.Context, clinicID, patientID uuid.UUID, consultationID *uuid.UUID,
		in billing.ItemInput) (*billing.Bill, *billing.Item, error)
}

type Service struct {
	tx            db.Transactor
	prescriptions Repository
	consultations ConsultationLookup
	stock         Stock
	biller        Biller
	events        events.Publisher
	logger        zerolog.Logger
	now           func() time.Time
}

func NewService(tx db.Transactor, repo Repository, consultations ConsultationLookup, stock Stock,
	biller Biller, pub events.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		tx:            tx,
		prescriptions: repo,
		consultations: consultations,
		stock:         stock,
		biller:        biller,
		events:        pub,
		logger:        logger.With().Str("component", "prescription").Logger(),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Reference is the stock movement reference for a consultation's prescriptions.
func Reference(consultationID uuid.UUID) string {
	return "PRESC-" + consultationID.String()
}

// Prescribe writes every line for the consultation in one transaction. Each
// line draws stock with an OUT movement, records the consumption and adds a
// line to the encounter bill. Any failure leaves nothing behind.
func (s *Service) Prescribe(ctx context.Context, clinicID, consultationID uuid.UUID, lines []Line, actor string) ([]*Prescription, error) {
	if len(lines) == 0 {
		return nil, apperr.Invalid("at least one item is required")
	}
	for _, l := range lines {
		if err := l.validate(); err != nil {
			return nil, err
		}
	}
	consult, err := s.consultations.GetConsultation(ctx, clinicID, consultationID)
	if err != nil {
		return nil, err
	}
	items := make(map[uuid.UUID]*inventory.Item, len(lines))
	for _, l := range lines {
		if _, ok := items[l.ItemID]; ok {
			continue
		}
		it, err := s.stock.GetItem(ctx, clinicID, l.ItemID)
		if err != nil {
			return nil, err
		}
		items[l.ItemID] = it
	}

	ref := Reference(consult.ID)
	var by *string
	if actor != "" {
		by = &actor
	}
	var out []*Prescription
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		out = out[:0]
		for _, l := range lines {
			it := items[l.ItemID]
			qty := decimal.NewFromInt(int64(l.Quantity))
			loc, err := s.pickLocation(ctx, clinicID, l, qty)
			if err != nil {
				return err
			}
			m, err := s.stock.Consume(ctx, clinicID, inventory.ConsumeRequest{
				ItemID:         it.ID,
				LocationID:     loc,
				Quantity:       qty,
				ConsultationID: &consult.ID,
				Reference:      &ref,
			}, actor)
			if err != nil {
				return err
			}
			bill, line, err := s.biller.AddCharge(ctx, clinicID, consult.PatientID, &consult.ID, billing.ItemInput{
				Description: it.Name,
				Quantity:    l.Quantity,
				UnitPrice:   it.Price,
			})
			if err != nil {
				return err
			}
			p := &Prescription{
				ClinicID:       clinicID,
				ConsultationID: consult.ID,
				PatientID:      consult.PatientID,
				ItemID:         it.ID,
				ItemName:       it.Name,
				Quantity:       l.Quantity,
				Instructions:   trimmed(l.Instructions),
				PrescribedBy:   by,
				MovementID:     m.ID,
				BillID:         bill.ID,
				BillItemID:     &line.ID,
			}
			if err := s.prescriptions.Create(ctx, p); err != nil {
				return err
			}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("clinic_id", clinicID.String()).
		Str("consultation_id", consult.ID.String()).
		Int("lines", len(out)).
		Msg("prescription written")
	if s.events != nil {
		s.events.Publish(ctx, events.New(EventPrescribed, clinicID, Prescribed{
			ConsultationID: consult.ID,
			PatientID:      consult.PatientID,
			Prescriptions:  out,
		}))
	}
	return out, nil
}

// pickLocation honours the requested shelf, else takes the location with
// the most stock that covers qty.
func (s *Service) pickLocation(ctx context.Context, clinicID uuid.UUID, l Line, qty decimal.Decimal) (uuid.UUID, error) {
	if l.LocationID != nil {
		return *l.LocationID, nil
	}
	levels, err := s.stock.StockLevels(ctx, clinicID, l.ItemID)
	if err != nil {
		return uuid.Nil, err
	}
	var best *inventory.StockLevel
	for _, lvl := range levels {
		if lvl.Quantity.LessThan(qty) {
			continue
		}
		if best == nil || lvl.Quantity.GreaterThan(best.Quantity) {
			best = lvl
		}
	}
	if best == nil {
		return uuid.Nil, inventory.ErrInsufficientStock
	}
	return best.LocationID, nil
}

func (s *Service) Get(ctx context.Context, clinicID, id uuid.UUID) (*Prescription, error) {
	return s.prescriptions.GetByID(ctx, clinicID, id)
}

func (s *Service) List(ctx context.Context, clinicID uuid.UUID, f Filter, limit, offset int) ([]*Prescription, int, error) {
	return s.prescriptions.List(ctx, clinicID, f, limit, offset)
}

func (s *Service) ForConsultation(ctx context.Context, clinicID, consultationID uuid.UUID) ([]*Prescription, error) {
	if _, err := s.consultations.GetConsultation(ctx, clinicID, consultationID); err != nil {
		return nil, err
	}
	out, _, err := s.prescriptions.List(ctx, clinicID, Filter{ConsultationID: &consultationID}, 0, 0)
	return out, err
}

// Dispense marks a prescription handed over. A second call is rejected.
func (s *Service) Dispense(ctx context.Context, clinicID, id uuid.UUID) (*Prescription, error) {
	err := s.prescriptions.MarkDispensed(ctx, clinicID, id, s.now())
	if errors.Is(err, ErrAlreadyDispensed) {
		if _, getErr := s.prescriptions.GetByID(ctx, clinicID, id); getErr != nil {
			return nil, getErr
		}
	}
	if err != nil {
		return nil, err
	}
	return s.prescriptions.GetByID(ctx, clinicID, id)
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
