package billing

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/clinicmanager/clinic/internal/platform/db"
)

// -- Bills --

type billRepoPG struct{ pool *pgxpool.Pool }

func NewBillRepoPG(pool *pgxpool.Pool) BillRepository {
	return &billRepoPG{pool: pool}
}

const billCols = `id, clinic_id, patient_id, consultation_id, total_amount, is_paid, created_at, updated_at`

func scanBill(row pgx.Row) (*Bill, error) {
	var b Bill
	err := row.Scan(&b.ID, &b.ClinicID, &b.PatientID, &b.ConsultationID, &b.TotalAmount, &b.IsPaid, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBillNotFound
	}
	return &b, err
}

func (r *billRepoPG) Create(ctx context.Context, b *Bill) error {
	b.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO bills (id, clinic_id, patient_id, consultation_id)
		VALUES ($1, $2, $3, $4)
		RETURNING total_amount, is_paid, created_at, updated_at`,
		b.ID, b.ClinicID, b.PatientID, b.ConsultationID,
	).Scan(&b.TotalAmount, &b.IsPaid, &b.CreatedAt, &b.UpdatedAt)
}

func (r *billRepoPG) GetByID(ctx context.Context, clinicID, id uuid.UUID) (*Bill, error) {
	return scanBill(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+billCols+` FROM bills WHERE clinic_id = $1 AND id = $2`, clinicID, id))
}

func (r *billRepoPG) Lock(ctx context.Context, clinicID, id uuid.UUID) (*Bill, error) {
	return scanBill(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+billCols+` FROM bills WHERE clinic_id = $1 AND id = $2 FOR UPDATE`, clinicID, id))
}

func (r *billRepoPG) LockOpenForEncounter(ctx context.Context, clinicID, patientID uuid.UUID, consultationID *uuid.UUID) (*Bill, error) {
	return scanBill(db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+billCols+` FROM bills
		WHERE clinic_id = $1 AND patient_id = $2 AND consultation_id IS NOT DISTINCT FROM $3 AND NOT is_paid
		ORDER BY created_at DESC LIMIT 1
		FOR UPDATE`, clinicID, patientID, consultationID))
}

func (r *billRepoPG) List(ctx context.Context, clinicID uuid.UUID, paid *bool, limit, offset int) ([]*Bill, int, error) {
	q := db.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx,
		`SELECT COUNT(*) FROM bills WHERE clinic_id = $1 AND ($2::boolean IS NULL OR is_paid = $2)`,
		clinicID, paid).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `
		SELECT `+billCols+` FROM bills
		WHERE clinic_id = $1 AND ($2::boolean IS NULL OR is_paid = $2)
		ORDER BY created_at DESC LIMIT $3 OFFSET $4`, clinicID, paid, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	return items, total, rows.Err()
}

func (r *billRepoPG) RecomputeTotal(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE bills SET
			total_amount = (SELECT COALESCE(SUM(total), 0) FROM bill_items WHERE bill_id = $1),
			updated_at = NOW()
		WHERE id = $1
		RETURNING total_amount`, id).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		return total, ErrBillNotFound
	}
	return total, err
}

func (r *billRepoPG) MarkPaid(ctx context.Context, id uuid.UUID) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE bills SET is_paid = TRUE, updated_at = NOW() WHERE id = $1`, id)
	return err
}

// -- Items --

type itemRepoPG struct{ pool *pgxpool.Pool }

func NewItemRepoPG(pool *pgxpool.Pool) ItemRepository {
	return &itemRepoPG{pool: pool}
}

const itemCols = `id, bill_id, description, quantity, unit_price, total, created_at`

func scanItem(row pgx.Row) (*Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.BillID, &it.Description, &it.Quantity, &it.UnitPrice, &it.Total, &it.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	return &it, err
}

func (r *itemRepoPG) Create(ctx context.Context, it *Item) error {
	it.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO bill_items (id, bill_id, description, quantity, unit_price, total)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		it.ID, it.BillID, it.Description, it.Quantity, it.UnitPrice, it.Total,
	).Scan(&it.CreatedAt)
}

func (r *itemRepoPG) GetByID(ctx context.Context, billID, id uuid.UUID) (*Item, error) {
	return scanItem(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+itemCols+` FROM bill_items WHERE bill_id = $1 AND id = $2`, billID, id))
}

func (r *itemRepoPG) Update(ctx context.Context, it *Item) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE bill_items SET description = $3, quantity = $4, unit_price = $5, total = $6
		WHERE bill_id = $1 AND id = $2`,
		it.BillID, it.ID, it.Description, it.Quantity, it.UnitPrice, it.Total)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *itemRepoPG) Delete(ctx context.Context, billID, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM bill_items WHERE bill_id = $1 AND id = $2`, billID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *itemRepoPG) ListByBill(ctx context.Context, billID uuid.UUID) ([]*Item, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+itemCols+` FROM bill_items WHERE bill_id = $1 ORDER BY created_at`, billID)
	if err != nil {
		return nil, err
	}
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

// -- Payments --

type paymentRepoPG struct{ pool *pgxpool.Pool }

func NewPaymentRepoPG(pool *pgxpool.Pool) PaymentRepository {
	return &paymentRepoPG{pool: pool}
}

const paymentCols = `id, clinic_id, bill_id, reference, amount, status, authorization_url,
	paid_at, created_by, gateway_response, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	var resp []byte
	err := row.Scan(&p.ID, &p.ClinicID, &p.BillID, &p.Reference, &p.Amount, &p.Status, &p.AuthorizationURL,
		&p.PaidAt, &p.CreatedBy, &resp, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(resp) > 0 {
		p.GatewayResponse = json.RawMessage(resp)
	}
	return &p, nil
}

func (r *paymentRepoPG) Create(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	var resp []byte
	if len(p.GatewayResponse) > 0 {
		resp = p.GatewayResponse
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO payments (id, clinic_id, bill_id, reference, amount, status, authorization_url, paid_at, created_by, gateway_response)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		p.ID, p.ClinicID, p.BillID, p.Reference, p.Amount, p.Status, p.AuthorizationURL, p.PaidAt, p.CreatedBy, resp,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *paymentRepoPG) GetByReference(ctx context.Context, reference string) (*Payment, error) {
	return scanPayment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+paymentCols+` FROM payments WHERE reference = $1`, reference))
}

func (r *paymentRepoPG) LockByReference(ctx context.Context, reference string) (*Payment, error) {
	return scanPayment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+paymentCols+` FROM payments WHERE reference = $1 FOR UPDATE`, reference))
}

func (r *paymentRepoPG) Settled(ctx context.Context, billID uuid.UUID) (*Payment, error) {
	return scanPayment(db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+paymentCols+` FROM payments
		WHERE bill_id = $1 AND status IN ('success', 'manual')
		ORDER BY created_at LIMIT 1`, billID))
}

func (r *paymentRepoPG) Pending(ctx context.Context, billID uuid.UUID) (*Payment, error) {
	return scanPayment(db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+paymentCols+` FROM payments
		WHERE bill_id = $1 AND status = 'pending'
		ORDER BY created_at DESC LIMIT 1`, billID))
}

func (r *paymentRepoPG) SetAuthorization(ctx context.Context, id uuid.UUID, url string) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE payments SET authorization_url = $2, updated_at = NOW() WHERE id = $1`, id, url)
	return err
}

func (r *paymentRepoPG) FailPending(ctx context.Context, billID uuid.UUID, reason json.RawMessage) (int64, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE payments SET status = 'failed', gateway_response = $2, updated_at = NOW()
		WHERE bill_id = $1 AND status = 'pending'`, billID, []byte(reason))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *paymentRepoPG) SetStatus(ctx context.Context, id uuid.UUID, status string, paidAt *time.Time, response json.RawMessage) error {
	var resp []byte
	if len(response) > 0 {
		resp = response
	}
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE payments SET status = $2, paid_at = COALESCE($3, paid_at),
			gateway_response = COALESCE($4, gateway_response), updated_at = NOW()
		WHERE id = $1`, id, status, paidAt, resp)
	return err
}

func (r *paymentRepoPG) list(ctx context.Context, sql string, args ...interface{}) ([]*Payment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *paymentRepoPG) ListByBill(ctx context.Context, billID uuid.UUID) ([]*Payment, error) {
	return r.list(ctx, `SELECT `+paymentCols+` FROM payments WHERE bill_id = $1 ORDER BY created_at`, billID)
}

func (r *paymentRepoPG) ListSettled(ctx context.Context, clinicID uuid.UUID, from, to *time.Time) ([]*Payment, error) {
	return r.list(ctx, `
		SELECT `+paymentCols+` FROM payments
		WHERE clinic_id = $1 AND status IN ('success', 'manual')
			AND ($2::timestamptz IS NULL OR paid_at >= $2)
			AND ($3::timestamptz IS NULL OR paid_at <= $3)
		ORDER BY paid_at DESC`, clinicID, from, to)
}

// -- Debt cases --

type debtRepoPG struct{ pool *pgxpool.Pool }

func NewDebtRepoPG(pool *pgxpool.Pool) DebtRepository {
	return &debtRepoPG{pool: pool}
}

// The balance is derived from the bill so it never drifts from payments.
const debtSelect = `
	SELECT d.id, d.clinic_id, d.bill_id, d.patient_id, d.status, d.next_followup_at, d.notes,
		CASE WHEN b.is_paid THEN 0 ELSE b.total_amount END, d.created_at, d.updated_at
	FROM debt_cases d JOIN bills b ON b.id = d.bill_id`

func scanDebt(row pgx.Row) (*DebtCase, error) {
	var d DebtCase
	err := row.Scan(&d.ID, &d.ClinicID, &d.BillID, &d.PatientID, &d.Status, &d.NextFollowUpAt, &d.Notes,
		&d.Balance, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDebtCaseNotFound
	}
	return &d, err
}

func (r *debtRepoPG) GetOrCreate(ctx context.Context, clinicID, billID, patientID uuid.UUID) (*DebtCase, error) {
	q := db.Conn(ctx, r.pool)
	if _, err := q.Exec(ctx, `
		INSERT INTO debt_cases (id, clinic_id, bill_id, patient_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (bill_id) DO NOTHING`, uuid.New(), clinicID, billID, patientID); err != nil {
		return nil, err
	}
	return scanDebt(q.QueryRow(ctx, debtSelect+` WHERE d.clinic_id = $1 AND d.bill_id = $2`, clinicID, billID))
}

func (r *debtRepoPG) GetByID(ctx context.Context, clinicID, id uuid.UUID) (*DebtCase, error) {
	return scanDebt(db.Conn(ctx, r.pool).QueryRow(ctx, debtSelect+` WHERE d.clinic_id = $1 AND d.id = $2`, clinicID, id))
}

func (r *debtRepoPG) List(ctx context.Context, clinicID uuid.UUID, status string, limit, offset int) ([]*DebtCase, int, error) {
	q := db.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx,
		`SELECT COUNT(*) FROM debt_cases WHERE clinic_id = $1 AND ($2 = '' OR status = $2)`,
		clinicID, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, debtSelect+`
		WHERE d.clinic_id = $1 AND ($2 = '' OR d.status = $2)
		ORDER BY d.next_followup_at NULLS LAST, d.created_at LIMIT $3 OFFSET $4`,
		clinicID, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*DebtCase
	for rows.Next() {
		d, err := scanDebt(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

func (r *debtRepoPG) Update(ctx context.Context, d *DebtCase) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE debt_cases SET status = $3, next_followup_at = $4, notes = $5, updated_at = NOW()
		WHERE clinic_id = $1 AND id = $2`,
		d.ClinicID, d.ID, d.Status, d.NextFollowUpAt, d.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDebtCaseNotFound
	}
	return nil
}

func (r *debtRepoPG) MarkPaidForBill(ctx context.Context, billID uuid.UUID) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE debt_cases SET status = 'paid', updated_at = NOW() WHERE bill_id = $1 AND status <> 'paid'`, billID)
	return err
}

func (r *debtRepoPG) AddFollowUp(ctx context.Context, f *FollowUp) error {
	f.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO debt_followups (id, debt_case_id, channel, message, sent_to, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		f.ID, f.DebtCaseID, f.Channel, f.Message, f.SentTo, f.CreatedBy,
	).Scan(&f.CreatedAt)
}

func (r *debtRepoPG) ListFollowUps(ctx context.Context, caseID uuid.UUID) ([]*FollowUp, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, debt_case_id, channel, message, sent_to, created_by, created_at
		FROM debt_followups WHERE debt_case_id = $1 ORDER BY created_at`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*FollowUp
	for rows.Next() {
		var f FollowUp
		if err := rows.Scan(&f.ID, &f.DebtCaseID, &f.Channel, &f.Message, &f.SentTo, &f.CreatedBy, &f.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &f)
	}
	return items, rows.Err()
}
