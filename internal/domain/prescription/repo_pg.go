package prescription

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicmanager/clinic/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const cols = `p.id, p.clinic_id, p.consultation_id, p.patient_id, p.item_id, i.name, p.quantity, p.instructions,
	p.prescribed_by, p.movement_id, p.bill_id, p.bill_item_id, p.dispensed, p.dispensed_at, p.prescribed_at`

const from = ` FROM prescriptions p JOIN items i ON i.id = p.item_id`

func scan(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.ClinicID, &p.ConsultationID, &p.PatientID, &p.ItemID, &p.ItemName, &p.Quantity,
		&p.Instructions, &p.PrescribedBy, &p.MovementID, &p.BillID, &p.BillItemID, &p.Dispensed,
		&p.DispensedAt, &p.PrescribedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPrescriptionNotFound
	}
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *Prescription) error {
	p.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO prescriptions (id, clinic_id, consultation_id, patient_id, item_id, quantity, instructions,
			prescribed_by, movement_id, bill_id, bill_item_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING prescribed_at`,
		p.ID, p.ClinicID, p.ConsultationID, p.PatientID, p.ItemID, p.Quantity, p.Instructions,
		p.PrescribedBy, p.MovementID, p.BillID, p.BillItemID,
	).Scan(&p.PrescribedAt)
}

func (r *repoPG) GetByID(ctx context.Context, clinicID, id uuid.UUID) (*Prescription, error) {
	return scan(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+cols+from+` WHERE p.clinic_id = $1 AND p.id = $2`, clinicID, id))
}

// List returns newest first; limit <= 0 returns every match.
func (r *repoPG) List(ctx context.Context, clinicID uuid.UUID, f Filter, limit, offset int) ([]*Prescription, int, error) {
	q := db.Conn(ctx, r.pool)
	const where = ` WHERE p.clinic_id = $1
		AND ($2::uuid IS NULL OR p.consultation_id = $2)
		AND ($3::uuid IS NULL OR p.patient_id = $3)
		AND ($4::boolean IS NULL OR p.dispensed = $4)`
	args := []interface{}{clinicID, f.ConsultationID, f.PatientID, f.Dispensed}

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM prescriptions p`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	sql := `SELECT ` + cols + from + where + ` ORDER BY p.prescribed_at DESC, p.id`
	if limit > 0 {
		sql += ` LIMIT $5 OFFSET $6`
		args = append(args, limit, offset)
	}
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*Prescription
	for rows.Next() {
		p, err := scan(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func (r *repoPG) MarkDispensed(ctx context.Context, clinicID, id uuid.UUID, at time.Time) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE prescriptions SET dispensed = TRUE, dispensed_at = $3
		WHERE clinic_id = $1 AND id = $2 AND NOT dispensed`, clinicID, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyDispensed
	}
	return nil
}
