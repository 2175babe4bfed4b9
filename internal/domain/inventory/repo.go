package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ItemRepository interface {
	Create(ctx context.Context, it *Item) error
	// GetByID fills TotalStock.
	GetByID(ctx context.Context, clinicID, id uuid.UUID) (*Item, error)
	List(ctx context.Context, clinicID uuid.UUID, search string, limit, offset int) ([]*Item, int, error)
	// All returns every item of the clinic with its total, ordered by name.
	All(ctx context.Context, clinicID uuid.UUID) ([]*Item, error)
	LowStock(ctx context.Context, clinicID uuid.UUID) ([]*Item, error)
}

type LocationRepository interface {
	Create(ctx context.Context, l *Location) error
	GetByID(ctx context.Context, clinicID, id uuid.UUID) (*Location, error)
	GetOrCreateByName(ctx context.Context, clinicID uuid.UUID, name string) (*Location, error)
	List(ctx context.Context, clinicID uuid.UUID) ([]*Location, error)
}

type SupplierRepository interface {
	Create(ctx context.Context, s *Supplier) error
	GetByID(ctx context.Context, clinicID, id uuid.UUID) (*Supplier, error)
	List(ctx context.Context, clinicID uuid.UUID, search string, limit, offset int) ([]*Supplier, int, error)
}

type StockRepository interface {
	// Debit removes qty from a location, holding the stock row lock, or
	// fails with ErrInsufficientStock.
	Debit(ctx context.Context, itemID, locationID uuid.UUID, qty decimal.Decimal) error
	Credit(ctx context.Context, itemID, locationID uuid.UUID, qty decimal.Decimal) error
	Levels(ctx context.Context, itemID uuid.UUID) ([]*StockLevel, error)
	AppendMovement(ctx context.Context, m *Movement) error
	AppendConsumption(ctx context.Context, c *Consumption) error
	// ConsumptionFor lists what a consultation used, oldest first.
	ConsumptionFor(ctx context.Context, clinicID, consultationID uuid.UUID) ([]*Consumption, error)
	ListMovements(ctx context.Context, clinicID uuid.UUID, itemID *uuid.UUID, limit, offset int) ([]*Movement, int, error)
}

type PurchaseOrderRepository interface {
	// Create inserts the order and its lines.
	Create(ctx context.Context, po *PurchaseOrder) error
	// GetByID loads the order with its lines.
	GetByID(ctx context.Context, clinicID, id uuid.UUID) (*PurchaseOrder, error)
	Lock(ctx context.Context, clinicID, id uuid.UUID) (*PurchaseOrder, error)
	List(ctx context.Context, clinicID uuid.UUID, status, search string, limit, offset int) ([]*PurchaseOrder, int, error)
	SetStatus(ctx context.Context, id uuid.UUID, status string, receivedAt *time.Time) error
	SetLineReceived(ctx context.Context, lineID uuid.UUID, qty decimal.Decimal) error
}
