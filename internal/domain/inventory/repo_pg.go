package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/clinicmanager/clinic/internal/platform/db"
)

// -- Items --

type itemRepoPG struct{ pool *pgxpool.Pool }

func NewItemRepoPG(pool *pgxpool.Pool) ItemRepository {
	return &itemRepoPG{pool: pool}
}

const itemSelect = `
	SELECT i.id, i.clinic_id, i.sku, i.name, i.unit, i.barcode, i.category, i.supplier_id,
		i.reorder_level, i.buying_price, i.price, i.created_at,
		COALESCE((SELECT SUM(s.quantity) FROM stock_levels s WHERE s.item_id = i.id), 0) AS total_stock
	FROM items i`

func scanItem(row pgx.Row) (*Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.ClinicID, &it.SKU, &it.Name, &it.Unit, &it.Barcode, &it.Category, &it.SupplierID,
		&it.ReorderLevel, &it.BuyingPrice, &it.Price, &it.CreatedAt, &it.TotalStock)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	return &it, err
}

func collectItems(rows pgx.Rows) ([]*Item, error) {
	defer rows.Close()
	var items []*Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *itemRepoPG) Create(ctx context.Context, it *Item) error {
	it.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO items (id, clinic_id, sku, name, unit, barcode, category, supplier_id, reorder_level, buying_price, price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at`,
		it.ID, it.ClinicID, it.SKU, it.Name, it.Unit, it.Barcode, it.Category, it.SupplierID,
		it.ReorderLevel, it.BuyingPrice, it.Price,
	).Scan(&it.CreatedAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateSKU
	}
	return err
}

func (r *itemRepoPG) GetByID(ctx context.Context, clinicID, id uuid.UUID) (*Item, error) {
	return scanItem(db.Conn(ctx, r.pool).QueryRow(ctx, itemSelect+` WHERE i.clinic_id = $1 AND i.id = $2`, clinicID, id))
}

func (r *itemRepoPG) List(ctx context.Context, clinicID uuid.UUID, search string, limit, offset int) ([]*Item, int, error) {
	q := db.Conn(ctx, r.pool)
	const where = ` WHERE i.clinic_id = $1 AND ($2 = '' OR i.name ILIKE '%' || $2 || '%' OR i.sku ILIKE '%' || $2 || '%')`
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM items i`+where, clinicID, search).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, itemSelect+where+` ORDER BY i.name LIMIT $3 OFFSET $4`, clinicID, search, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectItems(rows)
	return items, total, err
}

func (r *itemRepoPG) All(ctx context.Context, clinicID uuid.UUID) ([]*Item, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, itemSelect+` WHERE i.clinic_id = $1 ORDER BY i.name`, clinicID)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

func (r *itemRepoPG) LowStock(ctx context.Context, clinicID uuid.UUID) ([]*Item, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT * FROM (`+itemSelect+` WHERE i.clinic_id = $1) t
		WHERE t.total_stock <= t.reorder_level ORDER BY t.name`, clinicID)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

// -- Locations --

type locationRepoPG struct{ pool *pgxpool.Pool }

func NewLocationRepoPG(pool *pgxpool.Pool) LocationRepository {
	return &locationRepoPG{pool: pool}
}

func scanLocation(row pgx.Row) (*Location, error) {
	var l Location
	err := row.Scan(&l.ID, &l.ClinicID, &l.Name, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrLocationNotFound
	}
	return &l, err
}

func (r *locationRepoPG) Create(ctx context.Context, l *Location) error {
	l.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO locations (id, clinic_id, name) VALUES ($1, $2, $3) RETURNING created_at`,
		l.ID, l.ClinicID, l.Name).Scan(&l.CreatedAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateLocation
	}
	return err
}

func (r *locationRepoPG) GetByID(ctx context.Context, clinicID, id uuid.UUID) (*Location, error) {
	return scanLocation(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id, clinic_id, name, created_at FROM locations WHERE clinic_id = $1 AND id = $2`, clinicID, id))
}

func (r *locationRepoPG) GetOrCreateByName(ctx context.Context, clinicID uuid.UUID, name string) (*Location, error) {
	q := db.Conn(ctx, r.pool)
	if _, err := q.Exec(ctx, `
		INSERT INTO locations (id, clinic_id, name) VALUES ($1, $2, $3)
		ON CONFLICT (clinic_id, name) DO NOTHING`, uuid.New(), clinicID, name); err != nil {
		return nil, err
	}
	return scanLocation(q.QueryRow(ctx,
		`SELECT id, clinic_id, name, created_at FROM locations WHERE clinic_id = $1 AND name = $2`, clinicID, name))
}

func (r *locationRepoPG) List(ctx context.Context, clinicID uuid.UUID) ([]*Location, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT id, clinic_id, name, created_at FROM locations WHERE clinic_id = $1 ORDER BY name`, clinicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Location
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// -- Suppliers --

type supplierRepoPG struct{ pool *pgxpool.Pool }

func NewSupplierRepoPG(pool *pgxpool.Pool) SupplierRepository {
	return &supplierRepoPG{pool: pool}
}

const supplierCols = `id, clinic_id, name, contact, email, phone, created_at`

func scanSupplier(row pgx.Row) (*Supplier, error) {
	var s Supplier
	err := row.Scan(&s.ID, &s.ClinicID, &s.Name, &s.Contact, &s.Email, &s.Phone, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSupplierNotFound
	}
	return &s, err
}

func (r *supplierRepoPG) Create(ctx context.Context, s *Supplier) error {
	s.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO suppliers (id, clinic_id, name, contact, email, phone)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
		s.ID, s.ClinicID, s.Name, s.Contact, s.Email, s.Phone).Scan(&s.CreatedAt)
}

func (r *supplierRepoPG) GetByID(ctx context.Context, clinicID, id uuid.UUID) (*Supplier, error) {
	return scanSupplier(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+supplierCols+` FROM suppliers WHERE clinic_id = $1 AND id = $2`, clinicID, id))
}

func (r *supplierRepoPG) List(ctx context.Context, clinicID uuid.UUID, search string, limit, offset int) ([]*Supplier, int, error) {
	q := db.Conn(ctx, r.pool)
	const where = ` WHERE clinic_id = $1 AND ($2 = '' OR name ILIKE '%' || $2 || '%')`
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM suppliers`+where, clinicID, search).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT `+supplierCols+` FROM suppliers`+where+` ORDER BY name LIMIT $3 OFFSET $4`,
		clinicID, search, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*Supplier
	for rows.Next() {
		s, err := scanSupplier(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

// -- Stock --

type stockRepoPG struct{ pool *pgxpool.Pool }

func NewStockRepoPG(pool *pgxpool.Pool) StockRepository {
	return &stockRepoPG{pool: pool}
}

func (r *stockRepoPG) Debit(ctx context.Context, itemID, locationID uuid.UUID, qty decimal.Decimal) error {
	q := db.Conn(ctx, r.pool)
	var have decimal.Decimal
	err := q.QueryRow(ctx, `
		SELECT quantity FROM stock_levels WHERE item_id = $1 AND location_id = $2 FOR UPDATE`,
		itemID, locationID).Scan(&have)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrInsufficientStock
	}
	if err != nil {
		return err
	}
	if have.LessThan(qty) {
		return ErrInsufficientStock
	}
	_, err = q.Exec(ctx, `
		UPDATE stock_levels SET quantity = quantity - $3, updated_at = NOW()
		WHERE item_id = $1 AND location_id = $2`, itemID, locationID, qty)
	if db.IsCheckViolation(err) {
		return ErrInsufficientStock
	}
	return err
}

func (r *stockRepoPG) Credit(ctx context.Context, itemID, locationID uuid.UUID, qty decimal.Decimal) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO stock_levels (item_id, location_id, quantity) VALUES ($1, $2, $3)
		ON CONFLICT (item_id, location_id)
		DO UPDATE SET quantity = stock_levels.quantity + EXCLUDED.quantity, updated_at = NOW()`,
		itemID, locationID, qty)
	return err
}

func (r *stockRepoPG) Levels(ctx context.Context, itemID uuid.UUID) ([]*StockLevel, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT s.item_id, s.location_id, l.name, s.quantity, s.updated_at
		FROM stock_levels s JOIN locations l ON l.id = s.location_id
		WHERE s.item_id = $1 ORDER BY l.name`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*StockLevel
	for rows.Next() {
		var sl StockLevel
		if err := rows.Scan(&sl.ItemID, &sl.LocationID, &sl.LocationName, &sl.Quantity, &sl.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &sl)
	}
	return out, rows.Err()
}

const movementCols = `id, clinic_id, item_id, quantity, from_location_id, to_location_id,
	movement_type, reference, notes, created_by, created_at`

func (r *stockRepoPG) AppendMovement(ctx context.Context, m *Movement) error {
	m.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO stock_movements (id, clinic_id, item_id, quantity, from_location_id, to_location_id,
			movement_type, reference, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`,
		m.ID, m.ClinicID, m.ItemID, m.Quantity, m.FromLocationID, m.ToLocationID,
		m.Type, m.Reference, m.Notes, m.CreatedBy,
	).Scan(&m.CreatedAt)
}

func (r *stockRepoPG) AppendConsumption(ctx context.Context, c *Consumption) error {
	c.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO consumption_records (id, clinic_id, consultation_id, item_id, location_id, movement_id,
			quantity, used_by, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING used_at`,
		c.ID, c.ClinicID, c.ConsultationID, c.ItemID, c.LocationID, c.MovementID,
		c.Quantity, c.UsedBy, c.Notes,
	).Scan(&c.UsedAt)
}

func (r *stockRepoPG) ConsumptionFor(ctx context.Context, clinicID, consultationID uuid.UUID) ([]*Consumption, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT c.id, c.clinic_id, c.consultation_id, c.item_id, i.name, c.location_id, c.movement_id,
			c.quantity, c.used_by, c.notes, c.used_at
		FROM consumption_records c JOIN items i ON i.id = c.item_id
		WHERE c.clinic_id = $1 AND c.consultation_id = $2
		ORDER BY c.used_at`, clinicID, consultationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Consumption
	for rows.Next() {
		var c Consumption
		if err := rows.Scan(&c.ID, &c.ClinicID, &c.ConsultationID, &c.ItemID, &c.ItemName, &c.LocationID,
			&c.MovementID, &c.Quantity, &c.UsedBy, &c.Notes, &c.UsedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (r *stockRepoPG) ListMovements(ctx context.Context, clinicID uuid.UUID, itemID *uuid.UUID, limit, offset int) ([]*Movement, int, error) {
	q := db.Conn(ctx, r.pool)
	const where = ` WHERE clinic_id = $1 AND ($2::uuid IS NULL OR item_id = $2)`
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM stock_movements`+where, clinicID, itemID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT `+movementCols+` FROM stock_movements`+where+
		` ORDER BY created_at DESC LIMIT $3 OFFSET $4`, clinicID, itemID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.ClinicID, &m.ItemID, &m.Quantity, &m.FromLocationID, &m.ToLocationID,
			&m.Type, &m.Reference, &m.Notes, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, &m)
	}
	return out, total, rows.Err()
}

// -- Purchase orders --

type purchaseOrderRepoPG struct{ pool *pgxpool.Pool }

func NewPurchaseOrderRepoPG(pool *pgxpool.Pool) PurchaseOrderRepository {
	return &purchaseOrderRepoPG{pool: pool}
}

const poCols = `id, clinic_id, supplier_id, number, status, expected_date, notes, created_by, created_at, received_at`

func scanPO(row pgx.Row) (*PurchaseOrder, error) {
	var po PurchaseOrder
	err := row.Scan(&po.ID, &po.ClinicID, &po.SupplierID, &po.Number, &po.Status, &po.ExpectedDate,
		&po.Notes, &po.CreatedBy, &po.CreatedAt, &po.ReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPurchaseOrderNotFound
	}
	return &po, err
}

func (r *purchaseOrderRepoPG) Create(ctx context.Context, po *PurchaseOrder) error {
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		q := db.Conn(ctx, r.pool)
		po.ID = uuid.New()
		err := q.QueryRow(ctx, `
			INSERT INTO purchase_orders (id, clinic_id, supplier_id, number, status, expected_date, notes, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING created_at`,
			po.ID, po.ClinicID, po.SupplierID, po.Number, po.Status, po.ExpectedDate, po.Notes, po.CreatedBy,
		).Scan(&po.CreatedAt)
		if db.IsUniqueViolation(err) {
			return ErrDuplicatePONumber
		}
		if err != nil {
			return err
		}
		for _, l := range po.Lines {
			l.ID = uuid.New()
			l.PurchaseOrderID = po.ID
			if _, err := q.Exec(ctx, `
				INSERT INTO purchase_order_lines (id, purchase_order_id, item_id, quantity, unit_price)
				VALUES ($1, $2, $3, $4, $5)`,
				l.ID, l.PurchaseOrderID, l.ItemID, l.Quantity, l.UnitPrice); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *purchaseOrderRepoPG) withLines(ctx context.Context, po *PurchaseOrder) (*PurchaseOrder, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, purchase_order_id, item_id, quantity, unit_price, received_quantity
		FROM purchase_order_lines WHERE purchase_order_id = $1 ORDER BY id`, po.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	po.Lines = nil
	for rows.Next() {
		var l PurchaseOrderLine
		if err := rows.Scan(&l.ID, &l.PurchaseOrderID, &l.ItemID, &l.Quantity, &l.UnitPrice, &l.ReceivedQuantity); err != nil {
			return nil, err
		}
		po.Lines = append(po.Lines, &l)
	}
	return po, rows.Err()
}

func (r *purchaseOrderRepoPG) GetByID(ctx context.Context, clinicID, id uuid.UUID) (*PurchaseOrder, error) {
	po, err := scanPO(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+poCols+` FROM purchase_orders WHERE clinic_id = $1 AND id = $2`, clinicID, id))
	if err != nil {
		return nil, err
	}
	return r.withLines(ctx, po)
}

func (r *purchaseOrderRepoPG) Lock(ctx context.Context, clinicID, id uuid.UUID) (*PurchaseOrder, error) {
	po, err := scanPO(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+poCols+` FROM purchase_orders WHERE clinic_id = $1 AND id = $2 FOR UPDATE`, clinicID, id))
	if err != nil {
		return nil, err
	}
	return r.withLines(ctx, po)
}

func (r *purchaseOrderRepoPG) List(ctx context.Context, clinicID uuid.UUID, status, search string, limit, offset int) ([]*PurchaseOrder, int, error) {
	q := db.Conn(ctx, r.pool)
	const where = ` WHERE clinic_id = $1 AND ($2 = '' OR status = $2) AND ($3 = '' OR number ILIKE '%' || $3 || '%')`
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders`+where, clinicID, status, search).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT `+poCols+` FROM purchase_orders`+where+
		` ORDER BY created_at DESC LIMIT $4 OFFSET $5`, clinicID, status, search, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*PurchaseOrder
	for rows.Next() {
		po, err := scanPO(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, po)
	}
	return out, total, rows.Err()
}

func (r *purchaseOrderRepoPG) SetStatus(ctx context.Context, id uuid.UUID, status string, receivedAt *time.Time) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE purchase_orders SET status = $2, received_at = COALESCE($3, received_at) WHERE id = $1`,
		id, status, receivedAt)
	return err
}

func (r *purchaseOrderRepoPG) SetLineReceived(ctx context.Context, lineID uuid.UUID, qty decimal.Decimal) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE purchase_order_lines SET received_quantity = $2 WHERE id = $1`, lineID, qty)
	return err
}
