package billing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BillRepository interface {
	Create(ctx context.Context, b *Bill) error
	GetByID(ctx context.Context, clinicID, id uuid.UUID) (*Bill, error)
	// Lock reads the bill and holds a row lock until the transaction ends.
	Lock(ctx context.Context, clinicID, id uuid.UUID) (*Bill, error)
	// LockOpenForEncounter returns the newest unpaid bill of the encounter,
	// or ErrBillNotFound.
	LockOpenForEncounter(ctx context.Context, clinicID, patientID uuid.UUID, consultationID *uuid.UUID) (*Bill, error)
	List(ctx context.Context, clinicID uuid.UUID, paid *bool, limit, offset int) ([]*Bill, int, error)
	// RecomputeTotal sets total_amount to the sum of the bill's item totals.
	RecomputeTotal(ctx context.Context, id uuid.UUID) (decimal.Decimal, error)
	MarkPaid(ctx context.Context, id uuid.UUID) error
}

type ItemRepository interface {
	Create(ctx context.Context, it *Item) error
	GetByID(ctx context.Context, billID, id uuid.UUID) (*Item, error)
	Update(ctx context.Context, it *Item) error
	Delete(ctx context.Context, billID, id uuid.UUID) error
	ListByBill(ctx context.Context, billID uuid.UUID) ([]*Item, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	GetByReference(ctx context.Context, reference string) (*Payment, error)
	LockByReference(ctx context.Context, reference string) (*Payment, error)
	// Settled returns the bill's success or manual payment, or ErrPaymentNotFound.
	Settled(ctx context.Context, billID uuid.UUID) (*Payment, error)
	// Pending returns the bill's newest pending payment, or ErrPaymentNotFound.
	Pending(ctx context.Context, billID uuid.UUID) (*Payment, error)
	// FailPending marks every pending payment of the bill failed, recording
	// reason as the gateway response, and returns how many were changed.
	FailPending(ctx context.Context, billID uuid.UUID, reason json.RawMessage) (int64, error)
	SetAuthorization(ctx context.Context, id uuid.UUID, url string) error
	SetStatus(ctx context.Context, id uuid.UUID, status string, paidAt *time.Time, response json.RawMessage) error
	ListByBill(ctx context.Context, billID uuid.UUID) ([]*Payment, error)
	ListSettled(ctx context.Context, clinicID uuid.UUID, from, to *time.Time) ([]*Payment, error)
}

type DebtRepository interface {
	// GetOrCreate opens a case for the bill unless one exists.
	GetOrCreate(ctx context.Context, clinicID, billID, patientID uuid.UUID) (*DebtCase, error)
	GetByID(ctx context.Context, clinicID, id uuid.UUID) (*DebtCase, error)
	List(ctx context.Context, clinicID uuid.UUID, status string, limit, offset int) ([]*DebtCase, int, error)
	Update(ctx context.Context, d *DebtCase) error
	// MarkPaidForBill closes the bill's case if one exists.
	MarkPaidForBill(ctx context.Context, billID uuid.UUID) error
	AddFollowUp(ctx context.Context, f *FollowUp) error
	ListFollowUps(ctx context.Context, caseID uuid.UUID) ([]*FollowUp, error)
}
