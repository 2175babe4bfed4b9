package lab

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicmanager/clinic/internal/platform/db"
)

// -- Catalog --

type testRepoPG struct{ pool *pgxpool.Pool }

func NewTestRepoPG(pool *pgxpool.Pool) TestRepository {
	return &testRepoPG{pool: pool}
}

const testCols = `id, clinic_id, name, description, is_active, created_at`

func scanTest(row pgx.Row) (*Test, error) {
	var t Test
	err := row.Scan(&t.ID, &t.ClinicID, &t.Name, &t.Description, &t.IsActive, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTestNotFound
	}
	return &t, err
}

func (r *testRepoPG) Create(ctx context.Context, t *Test) error {
	t.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO lab_tests (id, clinic_id, name, description, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		t.ID, t.ClinicID, t.Name, t.Description, t.IsActive,
	).Scan(&t.CreatedAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateTest
	}
	return err
}

func (r *testRepoPG) GetByID(ctx context.Context, clinicID, id uuid.UUID) (*Test, error) {
	return scanTest(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+testCols+` FROM lab_tests WHERE clinic_id = $1 AND id = $2`, clinicID, id))
}

func (r *testRepoPG) List(ctx context.Context, clinicID uuid.UUID, activeOnly bool) ([]*Test, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+testCols+` FROM lab_tests
		WHERE clinic_id = $1 AND (NOT $2 OR is_active)
		ORDER BY name`, clinicID, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Test
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *testRepoPG) SetActive(ctx context.Context, clinicID, id uuid.UUID, active bool) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE lab_tests SET is_active = $3 WHERE clinic_id = $1 AND id = $2`, clinicID, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTestNotFound
	}
	return nil
}

// -- Results --

type resultRepoPG struct{ pool *pgxpool.Pool }

func NewResultRepoPG(pool *pgxpool.Pool) ResultRepository {
	return &resultRepoPG{pool: pool}
}

const resultCols = `r.id, r.clinic_id, r.consultation_id, r.lab_test_id, t.name, r.result_value, r.notes,
	r.performed_by, r.result_date, r.updated_at`

const resultFrom = ` FROM lab_results r JOIN lab_tests t ON t.id = r.lab_test_id`

func scanResult(row pgx.Row) (*Result, error) {
	var res Result
	err := row.Scan(&res.ID, &res.ClinicID, &res.ConsultationID, &res.TestID, &res.TestName, &res.Value,
		&res.Notes, &res.PerformedBy, &res.ResultDate, &res.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrResultNotFound
	}
	return &res, err
}

func (r *resultRepoPG) Create(ctx context.Context, res *Result) error {
	res.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO lab_results (id, clinic_id, consultation_id, lab_test_id, result_value, notes, performed_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING result_date, updated_at`,
		res.ID, res.ClinicID, res.ConsultationID, res.TestID, res.Value, res.Notes, res.PerformedBy,
	).Scan(&res.ResultDate, &res.UpdatedAt)
}

func (r *resultRepoPG) GetByID(ctx context.Context, clinicID, id uuid.UUID) (*Result, error) {
	return scanResult(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+resultCols+resultFrom+` WHERE r.clinic_id = $1 AND r.id = $2`, clinicID, id))
}

func (r *resultRepoPG) Update(ctx context.Context, res *Result) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE lab_results SET result_value = $3, notes = $4, updated_at = NOW()
		WHERE clinic_id = $1 AND id = $2
		RETURNING updated_at`,
		res.ClinicID, res.ID, res.Value, res.Notes,
	).Scan(&res.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrResultNotFound
	}
	return err
}

func (r *resultRepoPG) Delete(ctx context.Context, clinicID, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM lab_results WHERE clinic_id = $1 AND id = $2`, clinicID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrResultNotFound
	}
	return nil
}

func (r *resultRepoPG) ForConsultation(ctx context.Context, clinicID, consultationID uuid.UUID) ([]*Result, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+resultCols+resultFrom+`
		WHERE r.clinic_id = $1 AND r.consultation_id = $2
		ORDER BY r.result_date, r.id`, clinicID, consultationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Result
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *resultRepoPG) Summaries(ctx context.Context, clinicID uuid.UUID, search string, limit, offset int) ([]*PatientSummary, int, error) {
	q := db.Conn(ctx, r.pool)
	const where = ` FROM lab_results r
		JOIN consultations c ON c.id = r.consultation_id
		JOIN patients p ON p.id = c.patient_id
		WHERE r.clinic_id = $1 AND ($2 = '' OR p.name ILIKE '%' || $2 || '%')`

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(DISTINCT c.patient_id)`+where, clinicID, search).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `
		SELECT c.patient_id, p.name, COUNT(*), MAX(r.result_date),
			(ARRAY_AGG(r.consultation_id ORDER BY r.result_date DESC))[1]`+where+`
		GROUP BY c.patient_id, p.name
		ORDER BY MAX(r.result_date) DESC, c.patient_id
		LIMIT $3 OFFSET $4`, clinicID, search, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*PatientSummary
	for rows.Next() {
		var s PatientSummary
		if err := rows.Scan(&s.PatientID, &s.PatientName, &s.TotalTests, &s.LastTest, &s.ConsultationID); err != nil {
			return nil, 0, err
		}
		out = append(out, &s)
	}
	return out, total, rows.Err()
}
