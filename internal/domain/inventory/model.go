package inventory

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinicmanager/clinic/internal/platform/apperr"
	"github.com/clinicmanager/clinic/internal/platform/numeric"
)

const EventLowStock = "inventory.low_stock"

const (
	MoveIn       = "IN"
	MoveOut      = "OUT"
	MoveTransfer = "TRANSFER"
	MoveAdjust   = "ADJUST"
)

const (
	PODraft     = "DRAFT"
	POOrdered   = "ORDERED"
	POReceived  = "RECEIVED"
	POCancelled = "CANCELLED"
)

var (
	ErrItemNotFound          = apperr.NotFound("item")
	ErrLocationNotFound      = apperr.NotFound("location")
	ErrSupplierNotFound      = apperr.NotFound("supplier")
	ErrPurchaseOrderNotFound = apperr.NotFound("purchase order")
	ErrInsufficientStock     = apperr.Conflict("insufficient stock")
	ErrInvalidTransition     = apperr.Conflict("invalid purchase order status transition")
	ErrDuplicateSKU          = apperr.Conflict("sku already exists")
	ErrDuplicateLocation     = apperr.Conflict("location already exists")
	ErrDuplicatePONumber     = apperr.Conflict("purchase order number already exists")
)

type Supplier struct {
	ID        uuid.UUID `json:"id"`
	ClinicID  uuid.UUID `json:"clinic_id"`
	Name      string    `json:"name"`
	Contact   *string   `json:"contact,omitempty"`
	Email     *string   `json:"email,omitempty"`
	Phone     *string   `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Location struct {
	ID        uuid.UUID `json:"id"`
	ClinicID  uuid.UUID `json:"clinic_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Item struct {
	ID           uuid.UUID       `json:"id"`
	ClinicID     uuid.UUID       `json:"clinic_id"`
	SKU          *string         `json:"sku,omitempty"`
	Name         string          `json:"name"`
	Unit         string          `json:"unit"`
	Barcode      *string         `json:"barcode,omitempty"`
	Category     *string         `json:"category,omitempty"`
	SupplierID   *uuid.UUID      `json:"supplier_id,omitempty"`
	ReorderLevel decimal.Decimal `json:"reorder_level"`
	BuyingPrice  decimal.Decimal `json:"buying_price"`
	Price        decimal.Decimal `json:"price"`
	CreatedAt    time.Time       `json:"created_at"`

	// TotalStock is the sum over all locations, filled on reads.
	TotalStock decimal.Decimal `json:"total_stock"`
}

// IsLow reports whether the item is at or below its reorder level.
func (it *Item) IsLow() bool {
	return it.TotalStock.LessThanOrEqual(it.ReorderLevel)
}

type StockLevel struct {
	ItemID       uuid.UUID       `json:"item_id"`
	LocationID   uuid.UUID       `json:"location_id"`
	LocationName string          `json:"location_name"`
	Quantity     decimal.Decimal `json:"quantity"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Movement is an immutable ledger row explaining a stock change.
type Movement struct {
	ID             uuid.UUID       `json:"id"`
	ClinicID       uuid.UUID       `json:"clinic_id"`
	ItemID         uuid.UUID       `json:"item_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	FromLocationID *uuid.UUID      `json:"from_location_id,omitempty"`
	ToLocationID   *uuid.UUID      `json:"to_location_id,omitempty"`
	Type           string          `json:"movement_type"`
	Reference      *string         `json:"reference,omitempty"`
	Notes          *string         `json:"notes,omitempty"`
	CreatedBy      *string         `json:"created_by,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type MoveRequest struct {
	ItemID         uuid.UUID       `json:"item_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	FromLocationID *uuid.UUID      `json:"from_location_id"`
	ToLocationID   *uuid.UUID      `json:"to_location_id"`
	Type           string          `json:"movement_type"`
	Reference      *string         `json:"reference"`
	Notes          *string         `json:"notes"`
}

// ValidateMove checks quantity and the locations each movement type needs.
func ValidateMove(req MoveRequest) error {
	if req.ItemID == uuid.Nil {
		return apperr.Invalid("item_id is required")
	}
	if !req.Quantity.IsPositive() {
		return apperr.Invalid("quantity must be positive")
	}
	if err := numeric.Quantity.Check("quantity", req.Quantity); err != nil {
		return err
	}
	from, to := req.FromLocationID != nil, req.ToLocationID != nil
	switch req.Type {
	case MoveIn:
		if !to || from {
			return apperr.Invalid("IN needs a destination and no source")
		}
	case MoveOut:
		if !from || to {
			return apperr.Invalid("OUT needs a source and no destination")
		}
	case MoveTransfer:
		if !from || !to {
			return apperr.Invalid("TRANSFER needs a source and a destination")
		}
		if *req.FromLocationID == *req.ToLocationID {
			return apperr.Invalid("TRANSFER locations must differ")
		}
	case MoveAdjust:
		if from == to {
			return apperr.Invalid("ADJUST needs exactly one location")
		}
	default:
		return apperr.Invalid("unknown movement type %q", req.Type)
	}
	return nil
}

type ConsumeRequest struct {
	ItemID         uuid.UUID       `json:"item_id"`
	LocationID     uuid.UUID       `json:"location_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	ConsultationID *uuid.UUID      `json:"consultation_id"`
	Notes          *string         `json:"notes"`
	// Reference replaces the CONSULT-<consultation> movement reference.
	Reference *string `json:"-"`
}

// Consumption records stock used during care, one per consuming movement.
type Consumption struct {
	ID             uuid.UUID       `json:"id"`
	ClinicID       uuid.UUID       `json:"clinic_id"`
	ConsultationID *uuid.UUID      `json:"consultation_id,omitempty"`
	ItemID         uuid.UUID       `json:"item_id"`
	ItemName       string          `json:"item_name,omitempty"`
	LocationID     uuid.UUID       `json:"location_id"`
	MovementID     uuid.UUID       `json:"movement_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	UsedBy         *string         `json:"used_by,omitempty"`
	Notes          *string         `json:"notes,omitempty"`
	UsedAt         time.Time       `json:"used_at"`
}

type PurchaseOrder struct {
	ID           uuid.UUID  `json:"id"`
	ClinicID     uuid.UUID  `json:"clinic_id"`
	SupplierID   *uuid.UUID `json:"supplier_id,omitempty"`
	Number       string     `json:"number"`
	Status       string     `json:"status"`
	ExpectedDate *time.Time `json:"expected_date,omitempty"`
	Notes        *string    `json:"notes,omitempty"`
	CreatedBy    *string    `json:"created_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ReceivedAt   *time.Time `json:"received_at,omitempty"`

	Lines []*PurchaseOrderLine `json:"lines"`
}

type PurchaseOrderLine struct {
	ID               uuid.UUID       `json:"id"`
	PurchaseOrderID  uuid.UUID       `json:"purchase_order_id"`
	ItemID           uuid.UUID       `json:"item_id"`
	Quantity         decimal.Decimal `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	ReceivedQuantity decimal.Decimal `json:"received_quantity"`
}

// LineTotal is quantity times unit price.
func (l *PurchaseOrderLine) LineTotal() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice)
}

var poTransitions = map[string][]string{
	PODraft:   {POOrdered, POReceived, POCancelled},
	POOrdered: {POReceived, POCancelled},
}

func canTransitionPO(from, to string) bool {
	for _, s := range poTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// LowStock is the payload of EventLowStock.
type LowStock struct {
	Item       *Item
	MovementID uuid.UUID
}
