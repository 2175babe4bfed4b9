package billing

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinicmanager/clinic/internal/domain/patient"
	"github.com/clinicmanager/clinic/internal/platform/apperr"
	"github.com/clinicmanager/clinic/internal/platform/db"
	"github.com/clinicmanager/clinic/internal/platform/events"
	"github.com/clinicmanager/clinic/internal/platform/metrics"
	"github.com/clinicmanager/clinic/internal/platform/paystack"
)

// Gateway is the payment provider; *paystack.Client satisfies it.
type Gateway interface {
	Enabled() bool
	Initialize(ctx context.Context, req paystack.InitializeRequest) (*paystack.InitializeResult, error)
	Verify(ctx context.Context, reference string) (*paystack.Transaction, error)
	ListTransactions(ctx context.Context, subaccount string, perPage int) ([]paystack.Transaction, error)
}

// SubaccountLookup returns a clinic's settlement subaccount; *clinic.Service satisfies it.
type SubaccountLookup interface {
	SubaccountCode(ctx context.Context, clinicID uuid.UUID) (string, error)
}

// PatientLookup is satisfied by *patient.Service.
type PatientLookup interface {
	GetPatient(ctx context.Context, clinicID, id uuid.UUID) (*patient.Patient, error)
}

type Repositories struct {
	Bills    BillRepository
	Items    ItemRepository
	Payments PaymentRepository
	Debts    DebtRepository
}

type Service struct {
	tx       db.Transactor
	bills    BillRepository
	items    ItemRepository
	payments PaymentRepository
	debts    DebtRepository
	gateway  Gateway
	clinics  SubaccountLookup
	patients PatientLookup
	events   events.Publisher
	logger   zerolog.Logger
	now      func() time.Time

	// CallbackURL is where the gateway redirects the payer.
	CallbackURL string
	// WebhookSecret verifies inbound webhook signatures.
	WebhookSecret string
}

func NewService(tx db.Transactor, repos Repositories, gateway Gateway, clinics SubaccountLookup,
	patients PatientLookup, pub events.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		tx:       tx,
		bills:    repos.Bills,
		items:    repos.Items,
		payments: repos.Payments,
		debts:    repos.Debts,
		gateway:  gateway,
		clinics:  clinics,
		patients: patients,
		events:   pub,
		logger:   logger.With().Str("component", "billing").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// -- Bills and items --

func (s *Service) CreateBill(ctx context.Context, clinicID uuid.UUID, req CreateBillRequest) (*Bill, error) {
	if req.PatientID == uuid.Nil {
		return nil, apperr.Invalid("patient_id is required")
	}
	for _, in := range req.Items {
		if err := in.validate(); err != nil {
			return nil, err
		}
	}
	if _, err := s.patients.GetPatient(ctx, clinicID, req.PatientID); err != nil {
		return nil, err
	}

	b := &Bill{ClinicID: clinicID, PatientID: req.PatientID, ConsultationID: req.ConsultationID}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.bills.Create(ctx, b); err != nil {
			return err
		}
		for _, in := range req.Items {
			it := in.toItem(b.ID)
			if err := s.items.Create(ctx, it); err != nil {
				return err
			}
			b.Items = append(b.Items, it)
		}
		total, err := s.bills.RecomputeTotal(ctx, b.ID)
		b.TotalAmount = total
		return err
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// GetBill returns the bill with its items and payments.
func (s *Service) GetBill(ctx context.Context, clinicID, id uuid.UUID) (*Bill, error) {
	b, err := s.bills.GetByID(ctx, clinicID, id)
	if err != nil {
		return nil, err
	}
	if b.Items, err = s.items.ListByBill(ctx, id); err != nil {
		return nil, err
	}
	if b.Payments, err = s.payments.ListByBill(ctx, id); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) ListBills(ctx context.Context, clinicID uuid.UUID, paid *bool, limit, offset int) ([]*Bill, int, error) {
	return s.bills.List(ctx, clinicID, paid, limit, offset)
}

var supersededReason = json.RawMessage(`{"error":"bill changed after checkout was opened"}`)

// mutateItems locks an unpaid bill, applies fn and re-derives the total.
// A changed total voids checkouts opened for the old amount.
func (s *Service) mutateItems(ctx context.Context, clinicID, billID uuid.UUID, fn func(ctx context.Context, b *Bill) error) (*Bill, error) {
	var out *Bill
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		b, err := s.bills.Lock(ctx, clinicID, billID)
		if err != nil {
			return err
		}
		if b.IsPaid {
			return ErrBillPaid
		}
		before := b.TotalAmount
		if err := fn(ctx, b); err != nil {
			return err
		}
		if b.TotalAmount, err = s.bills.RecomputeTotal(ctx, b.ID); err != nil {
			return err
		}
		if !b.TotalAmount.Equal(before) {
			if _, err := s.payments.FailPending(ctx, b.ID, supersededReason); err != nil {
				return err
			}
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) AddItem(ctx context.Context, clinicID, billID uuid.UUID, in ItemInput) (*Bill, *Item, error) {
	if err := in.validate(); err != nil {
		return nil, nil, err
	}
	it := in.toItem(billID)
	b, err := s.mutateItems(ctx, clinicID, billID, func(ctx context.Context, _ *Bill) error {
		return s.items.Create(ctx, it)
	})
	if err != nil {
		return nil, nil, err
	}
	return b, it, nil
}

func (s *Service) UpdateItem(ctx context.Context, clinicID, billID, itemID uuid.UUID, in ItemInput) (*Bill, *Item, error) {
	if err := in.validate(); err != nil {
		return nil, nil, err
	}
	it := in.toItem(billID)
	it.ID = itemID
	b, err := s.mutateItems(ctx, clinicID, billID, func(ctx context.Context, _ *Bill) error {
		return s.items.Update(ctx, it)
	})
	if err != nil {
		return nil, nil, err
	}
	return b, it, nil
}

func (s *Service) RemoveItem(ctx context.Context, clinicID, billID, itemID uuid.UUID) (*Bill, error) {
	return s.mutateItems(ctx, clinicID, billID, func(ctx context.Context, _ *Bill) error {
		return s.items.Delete(ctx, billID, itemID)
	})
}

// BillForService appends a priced service to the encounter's open bill,
// creating the bill when there is none, and opens a debt case for it.
func (s *Service) BillForService(ctx context.Context, clinicID, patientID uuid.UUID, consultationID *uuid.UUID,
	description string, price decimal.Decimal) (*Bill, error) {
	b, _, err := s.AddCharge(ctx, clinicID, patientID, consultationID,
		ItemInput{Description: description, Quantity: 1, UnitPrice: price})
	return b, err
}

// AddCharge appends a line to the patient's open bill for the encounter,
// opening one when none exists. It joins a transaction already in ctx.
func (s *Service) AddCharge(ctx context.Context, clinicID, patientID uuid.UUID, consultationID *uuid.UUID,
	in ItemInput) (*Bill, *Item, error) {
	if err := in.validate(); err != nil {
		return nil, nil, err
	}

	var (
		out  *Bill
		item *Item
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		b, err := s.bills.LockOpenForEncounter(ctx, clinicID, patientID, consultationID)
		if errors.Is(err, ErrBillNotFound) {
			b = &Bill{ClinicID: clinicID, PatientID: patientID, ConsultationID: consultationID}
			err = s.bills.Create(ctx, b)
		}
		if err != nil {
			return err
		}
		it := in.toItem(b.ID)
		if err := s.items.Create(ctx, it); err != nil {
			return err
		}
		before := b.TotalAmount
		if b.TotalAmount, err = s.bills.RecomputeTotal(ctx, b.ID); err != nil {
			return err
		}
		if !b.TotalAmount.Equal(before) {
			if _, err := s.payments.FailPending(ctx, b.ID, supersededReason); err != nil {
				return err
			}
		}
		if _, err := s.debts.GetOrCreate(ctx, clinicID, b.ID, patientID); err != nil {
			return err
		}
		out, item = b, it
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return out, item, nil
}

// -- Settlement --

func manualReference(billID uuid.UUID, manual bool) string {
	if manual {
		return "MANUAL-" + billID.String()
	}
	return "SETTLED-" + billID.String()
}

// MarkPaid settles a bill outside the gateway. A bill that already has a
// settling payment is returned unchanged with that payment.
func (s *Service) MarkPaid(ctx context.Context, clinicID, billID uuid.UUID, manual bool, actor string) (*Payment, error) {
	var (
		out     *Payment
		created bool
		bill    *Bill
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		b, err := s.bills.Lock(ctx, clinicID, billID)
		if err != nil {
			return err
		}
		existing, err := s.payments.Settled(ctx, billID)
		if err == nil {
			out = existing
			return nil
		}
		if !errors.Is(err, ErrPaymentNotFound) {
			return err
		}

		now := s.now()
		p := &Payment{
			ClinicID:  clinicID,
			BillID:    billID,
			Reference: manualReference(billID, manual),
			Amount:    b.TotalAmount,
			Status:    PaymentSuccess,
			PaidAt:    &now,
		}
		if manual {
			p.Status = PaymentManual
		}
		if actor != "" {
			p.CreatedBy = &actor
		}
		if err := s.payments.Create(ctx, p); err != nil {
			return err
		}
		if err := s.settleBill(ctx, b); err != nil {
			return err
		}
		out, created, bill = p, true, b
		return nil
	})
	if err != nil {
		return nil, err
	}
	if created {
		s.confirmed(ctx, out, bill)
	}
	return out, nil
}

func (s *Service) settleBill(ctx context.Context, b *Bill) error {
	if err := s.bills.MarkPaid(ctx, b.ID); err != nil {
		return err
	}
	b.IsPaid = true
	return s.debts.MarkPaidForBill(ctx, b.ID)
}

func (s *Service) confirmed(ctx context.Context, p *Payment, b *Bill) {
	metrics.PaymentsConfirmed.WithLabelValues(p.Status).Inc()
	if s.events != nil {
		s.events.Publish(ctx, events.New(EventPaymentConfirmed, p.ClinicID, PaymentConfirmed{Payment: p, Bill: b}))
	}
}

func newReference(billID uuid.UUID) string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("BILL-%s-%d", billID.String()[:8], time.Now().UnixNano())
	}
	return fmt.Sprintf("BILL-%s-%s", billID.String()[:8], strings.ToUpper(hex.EncodeToString(buf)))
}

type InitiateRequest struct {
	Email       string `json:"email"`
	CallbackURL string `json:"callback_url"`
}

// InitiatePayment opens a gateway checkout for the bill's current total.
// The pending payment is stored before the gateway is called, and an
// outstanding checkout for the same amount is reused.
func (s *Service) InitiatePayment(ctx context.Context, clinicID, billID uuid.UUID, req InitiateRequest) (*InitiateResult, error) {
	if s.gateway == nil || !s.gateway.Enabled() {
		return nil, ErrPaymentsDisabled
	}
	b, err := s.bills.GetByID(ctx, clinicID, billID)
	if err != nil {
		return nil, err
	}
	if b.IsPaid {
		return nil, ErrBillPaid
	}
	if !b.TotalAmount.IsPositive() {
		return nil, ErrNothingToPay
	}

	if p, err := s.payments.Pending(ctx, billID); err == nil && p.AuthorizationURL != nil && p.Amount.Equal(b.TotalAmount) {
		return &InitiateResult{AuthorizationURL: *p.AuthorizationURL, Reference: p.Reference}, nil
	} else if err != nil && !errors.Is(err, ErrPaymentNotFound) {
		return nil, err
	}

	email := strings.TrimSpace(req.Email)
	if email == "" {
		pt, err := s.patients.GetPatient(ctx, clinicID, b.PatientID)
		if err != nil {
			return nil, err
		}
		if pt.Email != nil {
			email = *pt.Email
		}
	}
	if email == "" {
		return nil, apperr.Invalid("an email address is required for online payment")
	}

	subaccount := ""
	if s.clinics != nil {
		if subaccount, err = s.clinics.SubaccountCode(ctx, clinicID); err != nil {
			return nil, err
		}
	}

	p := &Payment{
		ClinicID:  clinicID,
		BillID:    billID,
		Reference: newReference(billID),
		Amount:    b.TotalAmount,
		Status:    PaymentPending,
	}
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, err
	}

	callback := req.CallbackURL
	if callback == "" {
		callback = s.CallbackURL
	}
	init := paystack.InitializeRequest{
		Email:       email,
		Amount:      MinorUnits(b.TotalAmount),
		Reference:   p.Reference,
		CallbackURL: callback,
		Subaccount:  subaccount,
	}
	res, gwErr := s.gateway.Initialize(ctx, init)
	if paystack.IsDuplicateReference(gwErr) {
		// an earlier attempt reached the gateway but its reply was lost
		fresh, err := s.reopenCheckout(ctx, p)
		if err != nil {
			return nil, err
		}
		p, init.Reference = fresh, fresh.Reference
		res, gwErr = s.gateway.Initialize(ctx, init)
	}
	if gwErr != nil {
		s.logger.Error().Err(gwErr).
			Str("clinic_id", clinicID.String()).
			Str("reference", p.Reference).
			Bool("transient", paystack.IsTransient(gwErr)).
			Msg("payment initialization failed")
		raw, _ := json.Marshal(map[string]string{"error": gwErr.Error()})
		if err := s.payments.SetStatus(ctx, p.ID, PaymentFailed, nil, raw); err != nil {
			s.logger.Error().Err(err).Str("reference", p.Reference).Msg("mark payment failed")
		}
		return nil, apperr.Upstream("paystack", gwErr)
	}

	if err := s.payments.SetAuthorization(ctx, p.ID, res.AuthorizationURL); err != nil {
		return nil, err
	}
	return &InitiateResult{AuthorizationURL: res.AuthorizationURL, Reference: p.Reference}, nil
}

var reopenedReason = json.RawMessage(`{"error":"checkout reopened under a new reference"}`)

// reopenCheckout settles what the gateway already knows about p. If p was
// not paid it is voided and a fresh pending payment replaces it.
func (s *Service) reopenCheckout(ctx context.Context, p *Payment) (*Payment, error) {
	known, err := s.ConfirmPayment(ctx, p.Reference)
	if err != nil {
		return nil, err
	}
	if known.Settled() {
		return nil, ErrBillPaid
	}
	if known.Status == PaymentPending {
		if err := s.payments.SetStatus(ctx, known.ID, PaymentFailed, nil, reopenedReason); err != nil {
			return nil, err
		}
	}
	s.logger.Info().Str("reference", p.Reference).Msg("checkout reopened after duplicate reference")
	fresh := &Payment{
		ClinicID:  p.ClinicID,
		BillID:    p.BillID,
		Reference: newReference(p.BillID),
		Amount:    p.Amount,
		Status:    PaymentPending,
	}
	if err := s.payments.Create(ctx, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// ConfirmPayment reconciles a payment with the gateway's record of it. The
// gateway is always asked; callers' claims about the outcome are ignored.
func (s *Service) ConfirmPayment(ctx context.Context, reference string) (*Payment, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, apperr.Invalid("reference is required")
	}
	p, err := s.payments.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if p.Settled() {
		return p, nil
	}
	if s.gateway == nil || !s.gateway.Enabled() {
		return nil, ErrPaymentsDisabled
	}

	txn, gwErr := s.gateway.Verify(ctx, reference)
	if gwErr != nil {
		s.logger.Error().Err(gwErr).
			Str("reference", reference).
			Bool("transient", paystack.IsTransient(gwErr)).
			Msg("payment verification failed")
		return nil, apperr.Upstream("paystack", gwErr)
	}

	var (
		bill      *Bill
		mismatch  bool
		expected  int64
		confirmed bool
	)
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		locked, err := s.payments.LockByReference(ctx, reference)
		if err != nil {
			return err
		}
		p = locked
		if p.Settled() {
			return nil
		}

		switch txn.Status {
		case "success":
			b, err := s.bills.Lock(ctx, p.ClinicID, p.BillID)
			if err != nil {
				return err
			}
			// the bill may have changed since checkout; only its current total settles it
			if txn.Amount != MinorUnits(p.Amount) || txn.Amount != MinorUnits(b.TotalAmount) {
				mismatch, expected = true, MinorUnits(b.TotalAmount)
				p.Status = PaymentFailed
				return s.payments.SetStatus(ctx, p.ID, PaymentFailed, nil, txn.Raw)
			}
			now := s.now()
			if err := s.payments.SetStatus(ctx, p.ID, PaymentSuccess, &now, txn.Raw); err != nil {
				return err
			}
			p.Status, p.PaidAt, p.GatewayResponse = PaymentSuccess, &now, txn.Raw
			if err := s.settleBill(ctx, b); err != nil {
				return err
			}
			bill, confirmed = b, true
		case "failed", "abandoned", "reversed":
			p.Status = PaymentFailed
			return s.payments.SetStatus(ctx, p.ID, PaymentFailed, nil, txn.Raw)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if mismatch {
		s.logger.Warn().
			Str("reference", reference).
			Int64("gateway_amount", txn.Amount).
			Int64("payment_amount", MinorUnits(p.Amount)).
			Int64("bill_amount", expected).
			Msg("payment amount mismatch")
		return p, ErrAmountMismatch
	}
	if confirmed {
		s.confirmed(ctx, p, bill)
	}
	return p, nil
}

// HandleWebhook applies a signed gateway event. Unknown references and
// event types are acknowledged and ignored.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	ev, err := paystack.ParseWebhook(body, s.WebhookSecret, signature)
	if errors.Is(err, paystack.ErrInvalidSignature) {
		return apperr.Unauthorized("invalid webhook signature")
	}
	if err != nil {
		return apperr.Invalid("malformed webhook body")
	}
	if ev.Event != "charge.success" {
		return nil
	}
	_, err = s.ConfirmPayment(ctx, ev.Reference())
	if errors.Is(err, ErrPaymentNotFound) {
		s.logger.Warn().Str("reference", ev.Reference()).Msg("webhook for unknown payment")
		return nil
	}
	return err
}

// RevenueReport sums settled payments by paid_at within [from, to].
func (s *Service) RevenueReport(ctx context.Context, clinicID uuid.UUID, from, to *time.Time) (*RevenueReport, error) {
	payments, err := s.payments.ListSettled(ctx, clinicID, from, to)
	if err != nil {
		return nil, err
	}
	r := &RevenueReport{From: from, To: to, Total: decimal.Zero, Payments: payments}
	if r.Payments == nil {
		r.Payments = []*Payment{}
	}
	for _, p := range payments {
		r.Total = r.Total.Add(p.Amount)
	}
	return r, nil
}

// ListGatewayTransactions returns the latest n gateway transactions settled
// to the clinic's subaccount.
func (s *Service) ListGatewayTransactions(ctx context.Context, clinicID uuid.UUID, n int) ([]paystack.Transaction, error) {
	if s.gateway == nil || !s.gateway.Enabled() {
		return nil, ErrPaymentsDisabled
	}
	if n <= 0 {
		n = 6
	}
	code, err := s.clinics.SubaccountCode(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return []paystack.Transaction{}, nil
	}
	txns, err := s.gateway.ListTransactions(ctx, code, 50)
	if err != nil {
		return nil, apperr.Upstream("paystack", err)
	}
	if len(txns) > n {
		txns = txns[:n]
	}
	return txns, nil
}

// -- Debt cases --

func (s *Service) ListDebtCases(ctx context.Context, clinicID uuid.UUID, status string, limit, offset int) ([]*DebtCase, int, error) {
	if status != "" && !validDebtStatus(status) {
		return nil, 0, apperr.Invalid("unknown debt status %q", status)
	}
	return s.debts.List(ctx, clinicID, status, limit, offset)
}

func (s *Service) GetDebtCase(ctx context.Context, clinicID, id uuid.UUID) (*DebtCase, error) {
	d, err := s.debts.GetByID(ctx, clinicID, id)
	if err != nil {
		return nil, err
	}
	if d.FollowUps, err = s.debts.ListFollowUps(ctx, id); err != nil {
		return nil, err
	}
	return d, nil
}

func validDebtStatus(s string) bool {
	switch s {
	case DebtOpen, DebtPromised, DebtPaid, DebtWrittenOff:
		return true
	}
	return false
}

func (s *Service) UpdateDebtCase(ctx context.Context, clinicID, id uuid.UUID, in DebtCaseUpdate) (*DebtCase, error) {
	d, err := s.debts.GetByID(ctx, clinicID, id)
	if err != nil {
		return nil, err
	}
	if in.Status != "" {
		if !validDebtStatus(in.Status) {
			return nil, apperr.Invalid("unknown debt status %q", in.Status)
		}
		d.Status = in.Status
	}
	if in.NextFollowUpAt != nil {
		d.NextFollowUpAt = in.NextFollowUpAt
	}
	if in.Notes != nil {
		d.Notes = in.Notes
	}
	if err := s.debts.Update(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) AddFollowUp(ctx context.Context, clinicID, caseID uuid.UUID, f *FollowUp, actor string) error {
	if !followUpChannels[f.Channel] {
		return apperr.Invalid("unknown channel %q", f.Channel)
	}
	if strings.TrimSpace(f.Message) == "" {
		return apperr.Invalid("message is required")
	}
	if _, err := s.debts.GetByID(ctx, clinicID, caseID); err != nil {
		return err
	}
	f.DebtCaseID = caseID
	if actor != "" {
		f.CreatedBy = &actor
	}
	return s.debts.AddFollowUp(ctx, f)
}
