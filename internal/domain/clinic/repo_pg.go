package clinic

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicmanager/clinic/internal/platform/db"
)

type clinicRepoPG struct{ pool *pgxpool.Pool }

func NewClinicRepoPG(pool *pgxpool.Pool) ClinicRepository {
	return &clinicRepoPG{pool: pool}
}

const clinicCols = `id, name, address, phone, email, settlement_bank, account_number,
	paystack_subaccount_code, paystack_raw, created_at`

func scanClinic(row pgx.Row) (*Clinic, error) {
	var c Clinic
	var raw []byte
	err := row.Scan(&c.ID, &c.Name, &c.Address, &c.Phone, &c.Email, &c.SettlementBank, &c.AccountNumber,
		&c.PaystackSubaccountCode, &raw, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrClinicNotFound
	}
	if err != nil {
		return nil, err
	}
	c.PaystackRaw = raw
	return &c, nil
}

func (r *clinicRepoPG) Create(ctx context.Context, c *Clinic) error {
	c.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO clinics (id, name, address, phone, email, settlement_bank, account_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		c.ID, c.Name, c.Address, c.Phone, c.Email, c.SettlementBank, c.AccountNumber).Scan(&c.CreatedAt)
}

func (r *clinicRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	return scanClinic(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+clinicCols+` FROM clinics WHERE id = $1`, id))
}

func (r *clinicRepoPG) List(ctx context.Context, limit, offset int) ([]*Clinic, int, error) {
	q := db.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM clinics`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT `+clinicCols+` FROM clinics ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Clinic
	for rows.Next() {
		c, err := scanClinic(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func (r *clinicRepoPG) SetSubaccount(ctx context.Context, id uuid.UUID, code *string, raw []byte) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE clinics SET paystack_subaccount_code = COALESCE($2, paystack_subaccount_code), paystack_raw = $3
		WHERE id = $1`, id, code, raw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrClinicNotFound
	}
	return nil
}
