package clinic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicmanager/clinic/internal/platform/apperr"
	"github.com/clinicmanager/clinic/internal/platform/events"
	"github.com/clinicmanager/clinic/internal/platform/paystack"
)

// SubaccountGateway creates settlement subaccounts; *paystack.Client satisfies it.
type SubaccountGateway interface {
	Enabled() bool
	CreateSubaccount(ctx context.Context, req paystack.SubaccountRequest) (*paystack.Subaccount, error)
}

type Service struct {
	clinics ClinicRepository
	gateway SubaccountGateway
	events  events.Publisher
	logger  zerolog.Logger
	// PercentageCharge is the platform's share of each settlement.
	PercentageCharge float64
}

func NewService(clinics ClinicRepository, gateway SubaccountGateway, pub events.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		clinics: clinics,
		gateway: gateway,
		events:  pub,
		logger:  logger.With().Str("component", "clinic").Logger(),
	}
}

// RegisterHandlers provisions a gateway subaccount for every new clinic.
func (s *Service) RegisterHandlers(bus *events.Bus) {
	bus.Subscribe(EventCreated, "clinic.provision_subaccount", func(ctx context.Context, e events.Event) error {
		_, err := s.ProvisionSubaccount(ctx, e.ClinicID)
		return err
	})
}

func (s *Service) Create(ctx context.Context, c *Clinic) error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return apperr.Invalid("name is required")
	}
	if err := s.clinics.Create(ctx, c); err != nil {
		return err
	}
	if s.events != nil {
		s.events.Publish(ctx, events.New(EventCreated, c.ID, Created{Clinic: c}))
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	return s.clinics.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Clinic, int, error) {
	return s.clinics.List(ctx, limit, offset)
}

// SubaccountCode returns the clinic's gateway subaccount, or "" when none.
func (s *Service) SubaccountCode(ctx context.Context, id uuid.UUID) (string, error) {
	c, err := s.clinics.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if c.PaystackSubaccountCode == nil {
		return "", nil
	}
	return *c.PaystackSubaccountCode, nil
}

// ProvisionSubaccount requests a settlement subaccount once. A gateway
// rejection is stored on the clinic as the raw error and is not returned.
func (s *Service) ProvisionSubaccount(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	c, err := s.clinics.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.PaystackSubaccountCode != nil || !c.HasSettlementAccount() {
		return c, nil
	}
	if s.gateway == nil || !s.gateway.Enabled() {
		return c, nil
	}

	sub, gwErr := s.gateway.CreateSubaccount(ctx, paystack.SubaccountRequest{
		BusinessName:     c.Name,
		SettlementBank:   *c.SettlementBank,
		AccountNumber:    *c.AccountNumber,
		PercentageCharge: s.PercentageCharge,
	})
	if gwErr != nil {
		s.logger.Error().Err(gwErr).
			Str("clinic_id", id.String()).
			Bool("transient", paystack.IsTransient(gwErr)).
			Msg("subaccount provisioning failed")
		raw, _ := json.Marshal(map[string]string{"error": gwErr.Error()})
		if err := s.clinics.SetSubaccount(ctx, id, nil, raw); err != nil {
			return nil, fmt.Errorf("store subaccount error: %w", err)
		}
		c.PaystackRaw = raw
		return c, nil
	}

	code := sub.SubaccountCode
	if err := s.clinics.SetSubaccount(ctx, id, &code, sub.Raw); err != nil {
		return nil, fmt.Errorf("store subaccount: %w", err)
	}
	c.PaystackSubaccountCode = &code
	c.PaystackRaw = sub.Raw
	return c, nil
}
