package inventory

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinicmanager/clinic/internal/platform/apperr"
	"github.com/clinicmanager/clinic/internal/platform/numeric"
	"github.com/clinicmanager/clinic/internal/platform/db"
	"github.com/clinicmanager/clinic/internal/platform/events"
	"github.com/clinicmanager/clinic/internal/platform/metrics"
)

type Repositories struct {
	Items          ItemRepository
	Locations      LocationRepository
	Suppliers      SupplierRepository
	Stock          StockRepository
	PurchaseOrders PurchaseOrderRepository
}

type Service struct {
	tx        db.Transactor
	items     ItemRepository
	locations LocationRepository
	suppliers SupplierRepository
	stock     StockRepository
	orders    PurchaseOrderRepository
	events    events.Publisher
	logger    zerolog.Logger
	now       func() time.Time

	// DefaultLocation receives purchase order deliveries.
	DefaultLocation string
}

func NewService(tx db.Transactor, repos Repositories, pub events.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		tx:              tx,
		items:           repos.Items,
		locations:       repos.Locations,
		suppliers:       repos.Suppliers,
		stock:           repos.Stock,
		orders:          repos.PurchaseOrders,
		events:          pub,
		logger:          logger.With().Str("component", "inventory").Logger(),
		now:             func() time.Time { return time.Now().UTC() },
		DefaultLocation: "Main Store",
	}
}

// -- Catalog --

func (s *Service) CreateItem(ctx context.Context, clinicID uuid.UUID, it *Item) error {
	it.Name = strings.TrimSpace(it.Name)
	if it.Name == "" {
		return apperr.Invalid("name is required")
	}
	if it.Unit == "" {
		it.Unit = "pcs"
	}
	if it.ReorderLevel.IsNegative() || it.BuyingPrice.IsNegative() || it.Price.IsNegative() {
		return apperr.Invalid("reorder level and prices must not be negative")
	}
	if err := numeric.Quantity.Check("reorder_level", it.ReorderLevel); err != nil {
		return err
	}
	if err := numeric.Money.Check("buying_price", it.BuyingPrice); err != nil {
		return err
	}
	if err := numeric.Money.Check("price", it.Price); err != nil {
		return err
	}
	if it.SupplierID != nil {
		if _, err := s.suppliers.GetByID(ctx, clinicID, *it.SupplierID); err != nil {
			return err
		}
	}
	it.ClinicID = clinicID
	it.TotalStock = decimal.Zero
	return s.items.Create(ctx, it)
}

func (s *Service) GetItem(ctx context.Context, clinicID, id uuid.UUID) (*Item, error) {
	return s.items.GetByID(ctx, clinicID, id)
}

func (s *Service) ListItems(ctx context.Context, clinicID uuid.UUID, search string, limit, offset int) ([]*Item, int, error) {
	return s.items.List(ctx, clinicID, strings.TrimSpace(search), limit, offset)
}

func (s *Service) LowStockItems(ctx context.Context, clinicID uuid.UUID) ([]*Item, error) {
	return s.items.LowStock(ctx, clinicID)
}

// StockLevels returns the item's quantity per location.
func (s *Service) StockLevels(ctx context.Context, clinicID, itemID uuid.UUID) ([]*StockLevel, error) {
	if _, err := s.items.GetByID(ctx, clinicID, itemID); err != nil {
		return nil, err
	}
	return s.stock.Levels(ctx, itemID)
}

func (s *Service) CreateLocation(ctx context.Context, clinicID uuid.UUID, l *Location) error {
	l.Name = strings.TrimSpace(l.Name)
	if l.Name == "" {
		return apperr.Invalid("name is required")
	}
	l.ClinicID = clinicID
	return s.locations.Create(ctx, l)
}

func (s *Service) ListLocations(ctx context.Context, clinicID uuid.UUID) ([]*Location, error) {
	return s.locations.List(ctx, clinicID)
}

func (s *Service) CreateSupplier(ctx context.Context, clinicID uuid.UUID, sp *Supplier) error {
	sp.Name = strings.TrimSpace(sp.Name)
	if sp.Name == "" {
		return apperr.Invalid("name is required")
	}
	sp.ClinicID = clinicID
	return s.suppliers.Create(ctx, sp)
}

func (s *Service) GetSupplier(ctx context.Context, clinicID, id uuid.UUID) (*Supplier, error) {
	return s.suppliers.GetByID(ctx, clinicID, id)
}

func (s *Service) ListSuppliers(ctx context.Context, clinicID uuid.UUID, search string, limit, offset int) ([]*Supplier, int, error) {
	return s.suppliers.List(ctx, clinicID, strings.TrimSpace(search), limit, offset)
}

// -- Movements --

// Move applies one stock movement and appends its ledger row. The low-stock
// check runs after the outermost transaction commits, so Move can join a
// caller's transaction.
func (s *Service) Move(ctx context.Context, clinicID uuid.UUID, req MoveRequest, actor string) (*Movement, error) {
	if err := ValidateMove(req); err != nil {
		return nil, err
	}
	item, err := s.items.GetByID(ctx, clinicID, req.ItemID)
	if err != nil {
		return nil, err
	}
	for _, loc := range []*uuid.UUID{req.FromLocationID, req.ToLocationID} {
		if loc == nil {
			continue
		}
		if _, err := s.locations.GetByID(ctx, clinicID, *loc); err != nil {
			return nil, err
		}
	}

	m := &Movement{
		ClinicID:       clinicID,
		ItemID:         req.ItemID,
		Quantity:       req.Quantity,
		FromLocationID: req.FromLocationID,
		ToLocationID:   req.ToLocationID,
		Type:           req.Type,
		Reference:      req.Reference,
		Notes:          req.Notes,
	}
	if actor != "" {
		m.CreatedBy = &actor
	}
	if err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.apply(ctx, m); err != nil {
			return err
		}
		db.AfterCommit(ctx, func(ctx context.Context) { s.checkLowStock(ctx, item, m.ID) })
		return nil
	}); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) apply(ctx context.Context, m *Movement) error {
	if m.FromLocationID != nil {
		if err := s.stock.Debit(ctx, m.ItemID, *m.FromLocationID, m.Quantity); err != nil {
			return err
		}
	}
	if m.ToLocationID != nil {
		if err := s.stock.Credit(ctx, m.ItemID, *m.ToLocationID, m.Quantity); err != nil {
			return err
		}
	}
	return s.stock.AppendMovement(ctx, m)
}

// checkLowStock emits one alert when the item's total is at or below its
// reorder level. Alerts are not deduplicated.
func (s *Service) checkLowStock(ctx context.Context, item *Item, movementID uuid.UUID) {
	fresh, err := s.items.GetByID(ctx, item.ClinicID, item.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("item_id", item.ID.String()).Msg("low stock check failed")
		return
	}
	if !fresh.IsLow() {
		return
	}
	metrics.LowStockAlerts.Inc()
	s.logger.Info().
		Str("clinic_id", fresh.ClinicID.String()).
		Str("item", fresh.Name).
		Str("total_stock", fresh.TotalStock.String()).
		Msg("stock at or below reorder level")
	if s.events != nil {
		s.events.Publish(ctx, events.New(EventLowStock, fresh.ClinicID, LowStock{Item: fresh, MovementID: movementID}))
	}
}

// Consume records items used during care as an OUT movement plus a
// consumption row in the same transaction.
func (s *Service) Consume(ctx context.Context, clinicID uuid.UUID, req ConsumeRequest, actor string) (*Movement, error) {
	if req.LocationID == uuid.Nil {
		return nil, apperr.Invalid("location_id is required")
	}
	loc := req.LocationID
	move := MoveRequest{
		ItemID:         req.ItemID,
		Quantity:       req.Quantity,
		FromLocationID: &loc,
		Type:           MoveOut,
		Notes:          req.Notes,
		Reference:      req.Reference,
	}
	if move.Reference == nil && req.ConsultationID != nil {
		ref := "CONSULT-" + req.ConsultationID.String()
		move.Reference = &ref
	}

	var m *Movement
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if m, err = s.Move(ctx, clinicID, move, actor); err != nil {
			return err
		}
		return s.stock.AppendConsumption(ctx, &Consumption{
			ClinicID:       clinicID,
			ConsultationID: req.ConsultationID,
			ItemID:         req.ItemID,
			LocationID:     loc,
			MovementID:     m.ID,
			Quantity:       req.Quantity,
			UsedBy:         m.CreatedBy,
			Notes:          req.Notes,
		})
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) ConsultationConsumption(ctx context.Context, clinicID, consultationID uuid.UUID) ([]*Consumption, error) {
	return s.stock.ConsumptionFor(ctx, clinicID, consultationID)
}

func (s *Service) ListMovements(ctx context.Context, clinicID uuid.UUID, itemID *uuid.UUID, limit, offset int) ([]*Movement, int, error) {
	return s.stock.ListMovements(ctx, clinicID, itemID, limit, offset)
}

// -- Purchase orders --

type PurchaseOrderRequest struct {
	SupplierID   *uuid.UUID `json:"supplier_id"`
	Number       string     `json:"number"`
	ExpectedDate *time.Time `json:"expected_date"`
	Notes        *string    `json:"notes"`
	Lines        []LineInput `json:"lines"`
}

type LineInput struct {
	ItemID    uuid.UUID       `json:"item_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (s *Service) poNumber() string {
	return fmt.Sprintf("PO-%s-%s", s.now().Format("20060102"), strings.ToUpper(uuid.NewString()[:6]))
}

func (s *Service) CreatePurchaseOrder(ctx context.Context, clinicID uuid.UUID, req PurchaseOrderRequest, actor string) (*PurchaseOrder, error) {
	if len(req.Lines) == 0 {
		return nil, apperr.Invalid("at least one line is required")
	}
	if req.SupplierID != nil {
		if _, err := s.suppliers.GetByID(ctx, clinicID, *req.SupplierID); err != nil {
			return nil, err
		}
	}
	po := &PurchaseOrder{
		ClinicID:     clinicID,
		SupplierID:   req.SupplierID,
		Number:       strings.TrimSpace(req.Number),
		Status:       PODraft,
		ExpectedDate: req.ExpectedDate,
		Notes:        req.Notes,
	}
	if po.Number == "" {
		po.Number = s.poNumber()
	}
	if actor != "" {
		po.CreatedBy = &actor
	}
	for _, l := range req.Lines {
		if !l.Quantity.IsPositive() {
			return nil, apperr.Invalid("line quantity must be positive")
		}
		if l.UnitPrice.IsNegative() {
			return nil, apperr.Invalid("line unit_price must not be negative")
		}
		if err := numeric.Quantity.Check("line quantity", l.Quantity); err != nil {
			return nil, err
		}
		if err := numeric.Money.Check("line unit_price", l.UnitPrice); err != nil {
			return nil, err
		}
		if _, err := s.items.GetByID(ctx, clinicID, l.ItemID); err != nil {
			return nil, err
		}
		po.Lines = append(po.Lines, &PurchaseOrderLine{
			ItemID:           l.ItemID,
			Quantity:         l.Quantity,
			UnitPrice:        l.UnitPrice,
			ReceivedQuantity: decimal.Zero,
		})
	}
	if err := s.orders.Create(ctx, po); err != nil {
		return nil, err
	}
	return po, nil
}

func (s *Service) GetPurchaseOrder(ctx context.Context, clinicID, id uuid.UUID) (*PurchaseOrder, error) {
	return s.orders.GetByID(ctx, clinicID, id)
}

func (s *Service) ListPurchaseOrders(ctx context.Context, clinicID uuid.UUID, status, search string, limit, offset int) ([]*PurchaseOrder, int, error) {
	return s.orders.List(ctx, clinicID, status, strings.TrimSpace(search), limit, offset)
}

func (s *Service) setPOStatus(ctx context.Context, clinicID, id uuid.UUID, to string) (*PurchaseOrder, error) {
	var out *PurchaseOrder
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		po, err := s.orders.Lock(ctx, clinicID, id)
		if err != nil {
			return err
		}
		if !canTransitionPO(po.Status, to) {
			return ErrInvalidTransition
		}
		if err := s.orders.SetStatus(ctx, po.ID, to, nil); err != nil {
			return err
		}
		po.Status = to
		out = po
		return nil
	})
	return out, err
}

func (s *Service) MarkOrdered(ctx context.Context, clinicID, id uuid.UUID) (*PurchaseOrder, error) {
	return s.setPOStatus(ctx, clinicID, id, POOrdered)
}

func (s *Service) CancelPurchaseOrder(ctx context.Context, clinicID, id uuid.UUID) (*PurchaseOrder, error) {
	return s.setPOStatus(ctx, clinicID, id, POCancelled)
}

// ReceivePurchaseOrder books every line into the default location as an IN
// movement referencing the order number.
func (s *Service) ReceivePurchaseOrder(ctx context.Context, clinicID, id uuid.UUID, actor string) (*PurchaseOrder, error) {
	var (
		out       *PurchaseOrder
		movements []*Movement
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		po, err := s.orders.Lock(ctx, clinicID, id)
		if err != nil {
			return err
		}
		if !canTransitionPO(po.Status, POReceived) {
			return ErrInvalidTransition
		}
		loc, err := s.locations.GetOrCreateByName(ctx, clinicID, s.DefaultLocation)
		if err != nil {
			return err
		}
		for _, l := range po.Lines {
			ref := po.Number
			m := &Movement{
				ClinicID:     clinicID,
				ItemID:       l.ItemID,
				Quantity:     l.Quantity,
				ToLocationID: &loc.ID,
				Type:         MoveIn,
				Reference:    &ref,
			}
			if actor != "" {
				m.CreatedBy = &actor
			}
			if err := s.apply(ctx, m); err != nil {
				return err
			}
			if err := s.orders.SetLineReceived(ctx, l.ID, l.Quantity); err != nil {
				return err
			}
			l.ReceivedQuantity = l.Quantity
			movements = append(movements, m)
		}
		now := s.now()
		if err := s.orders.SetStatus(ctx, po.ID, POReceived, &now); err != nil {
			return err
		}
		po.Status, po.ReceivedAt = POReceived, &now
		out = po
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, m := range movements {
		s.checkLowStock(ctx, &Item{ID: m.ItemID, ClinicID: clinicID}, m.ID)
	}
	return out, nil
}

// -- Export --

// ExportCSV writes one row per item: sku,item,total_stock,reorder_level.
func (s *Service) ExportCSV(ctx context.Context, clinicID uuid.UUID, w io.Writer) error {
	items, err := s.items.All(ctx, clinicID)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"sku", "item", "total_stock", "reorder_level"}); err != nil {
		return err
	}
	for _, it := range items {
		sku := ""
		if it.SKU != nil {
			sku = *it.SKU
		}
		if err := cw.Write([]string{sku, it.Name, it.TotalStock.String(), it.ReorderLevel.String()}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
