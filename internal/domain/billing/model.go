package billing

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinicmanager/clinic/internal/platform/apperr"
	"github.com/clinicmanager/clinic/internal/platform/numeric"
)

const EventPaymentConfirmed = "billing.payment_confirmed"

const (
	PaymentPending = "pending"
	PaymentSuccess = "success"
	PaymentFailed  = "failed"
	PaymentManual  = "manual"
)

const (
	DebtOpen       = "open"
	DebtPromised   = "promised"
	DebtPaid       = "paid"
	DebtWrittenOff = "written_off"
)

var followUpChannels = map[string]bool{
	"whatsapp": true, "email": true, "call": true, "sms": true, "other": true,
}

var (
	ErrBillNotFound     = apperr.NotFound("bill")
	ErrItemNotFound     = apperr.NotFound("bill item")
	ErrPaymentNotFound  = apperr.NotFound("payment")
	ErrDebtCaseNotFound = apperr.NotFound("debt case")
	ErrBillPaid         = apperr.Conflict("bill is already paid")
	ErrNothingToPay     = apperr.Invalid("bill total must be positive to pay online")
	ErrAmountMismatch   = apperr.Conflict("gateway amount does not match payment")
	ErrPaymentsDisabled = apperr.Conflict("online payments are not configured")
)

type Bill struct {
	ID             uuid.UUID       `json:"id"`
	ClinicID       uuid.UUID       `json:"clinic_id"`
	PatientID      uuid.UUID       `json:"patient_id"`
	ConsultationID *uuid.UUID      `json:"consultation_id,omitempty"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	IsPaid         bool            `json:"is_paid"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`

	Items    []*Item    `json:"items,omitempty"`
	Payments []*Payment `json:"payments,omitempty"`
}

func (b *Bill) Status() string {
	if b.IsPaid {
		return "Paid"
	}
	return "Unpaid"
}

type Item struct {
	ID          uuid.UUID       `json:"id"`
	BillID      uuid.UUID       `json:"bill_id"`
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Total       decimal.Decimal `json:"total"`
	CreatedAt   time.Time       `json:"created_at"`
}

type ItemInput struct {
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

func (in ItemInput) validate() error {
	if in.Description == "" {
		return apperr.Invalid("description is required")
	}
	if in.Quantity < 0 {
		return apperr.Invalid("quantity must not be negative")
	}
	if in.UnitPrice.IsNegative() {
		return apperr.Invalid("unit_price must not be negative")
	}
	if err := numeric.Money.Check("unit_price", in.UnitPrice); err != nil {
		return err
	}
	return numeric.Money.Check("line total", in.total())
}

func (in ItemInput) total() decimal.Decimal {
	return in.UnitPrice.Mul(decimal.NewFromInt(int64(in.Quantity)))
}

// toItem derives the line total; stored totals are never client supplied.
func (in ItemInput) toItem(billID uuid.UUID) *Item {
	return &Item{
		BillID:      billID,
		Description: in.Description,
		Quantity:    in.Quantity,
		UnitPrice:   in.UnitPrice,
		Total:       in.total(),
	}
}

type CreateBillRequest struct {
	PatientID      uuid.UUID   `json:"patient_id"`
	ConsultationID *uuid.UUID  `json:"consultation_id"`
	Items          []ItemInput `json:"items"`
}

type Payment struct {
	ID               uuid.UUID       `json:"id"`
	ClinicID         uuid.UUID       `json:"clinic_id"`
	BillID           uuid.UUID       `json:"bill_id"`
	Reference        string          `json:"reference"`
	Amount           decimal.Decimal `json:"amount"`
	Status           string          `json:"status"`
	AuthorizationURL *string         `json:"authorization_url,omitempty"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	CreatedBy        *string         `json:"created_by,omitempty"`
	GatewayResponse  json.RawMessage `json:"gateway_response,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Settled reports a payment that paid its bill.
func (p *Payment) Settled() bool {
	return p.Status == PaymentSuccess || p.Status == PaymentManual
}

// MinorUnits converts a major-unit amount to the gateway's smallest unit.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

type InitiateResult struct {
	AuthorizationURL string `json:"authorization_url"`
	Reference        string `json:"reference"`
}

// PaymentConfirmed is the payload of EventPaymentConfirmed.
type PaymentConfirmed struct {
	Payment *Payment
	Bill    *Bill
}

type DebtCase struct {
	ID             uuid.UUID       `json:"id"`
	ClinicID       uuid.UUID       `json:"clinic_id"`
	BillID         uuid.UUID       `json:"bill_id"`
	PatientID      uuid.UUID       `json:"patient_id"`
	Status         string          `json:"status"`
	NextFollowUpAt *time.Time      `json:"next_followup_at,omitempty"`
	Notes          *string         `json:"notes,omitempty"`
	Balance        decimal.Decimal `json:"balance"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`

	FollowUps []*FollowUp `json:"followups,omitempty"`
}

type DebtCaseUpdate struct {
	Status         string     `json:"status"`
	NextFollowUpAt *time.Time `json:"next_followup_at"`
	Notes          *string    `json:"notes"`
}

type FollowUp struct {
	ID         uuid.UUID `json:"id"`
	DebtCaseID uuid.UUID `json:"debt_case_id"`
	Channel    string    `json:"channel"`
	Message    string    `json:"message"`
	SentTo     *string   `json:"sent_to,omitempty"`
	CreatedBy  *string   `json:"created_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type RevenueReport struct {
	From     *time.Time      `json:"from,omitempty"`
	To       *time.Time      `json:"to,omitempty"`
	Total    decimal.Decimal `json:"total"`
	Payments []*Payment      `json:"payments"`
}
