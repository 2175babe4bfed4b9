package specialist

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicmanager/clinic/internal/platform/db"
)

// -- Catalog --

type catalogRepoPG struct{ pool *pgxpool.Pool }

func NewCatalogRepoPG(pool *pgxpool.Pool) CatalogRepository {
	return &catalogRepoPG{pool: pool}
}

const catalogCols = `id, clinic_id, name, role, description, price, is_active, created_at`

func scanCatalogEntry(row pgx.Row) (*CatalogEntry, error) {
	var e CatalogEntry
	err := row.Scan(&e.ID, &e.ClinicID, &e.Name, &e.Role, &e.Description, &e.Price, &e.IsActive, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrServiceNotFound
	}
	return &e, err
}

func (r *catalogRepoPG) Create(ctx context.Context, e *CatalogEntry) error {
	e.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO service_catalog (id, clinic_id, name, role, description, price, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		e.ID, e.ClinicID, e.Name, e.Role, e.Description, e.Price, e.IsActive,
	).Scan(&e.CreatedAt)
}

func (r *catalogRepoPG) GetByID(ctx context.Context, clinicID, id uuid.UUID) (*CatalogEntry, error) {
	return scanCatalogEntry(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+catalogCols+` FROM service_catalog WHERE clinic_id = $1 AND id = $2`, clinicID, id))
}

func (r *catalogRepoPG) List(ctx context.Context, clinicID uuid.UUID, role string, activeOnly bool) ([]*CatalogEntry, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+catalogCols+` FROM service_catalog
		WHERE clinic_id = $1 AND ($2 = '' OR role = $2) AND (NOT $3 OR is_active)
		ORDER BY role, name`, clinicID, role, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*CatalogEntry
	for rows.Next() {
		e, err := scanCatalogEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *catalogRepoPG) SetActive(ctx context.Context, clinicID, id uuid.UUID, active bool) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE service_catalog SET is_active = $3 WHERE clinic_id = $1 AND id = $2`, clinicID, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrServiceNotFound
	}
	return nil
}

// -- Tasks --

type taskRepoPG struct{ pool *pgxpool.Pool }

func NewTaskRepoPG(pool *pgxpool.Pool) TaskRepository {
	return &taskRepoPG{pool: pool}
}

const taskCols = `id, clinic_id, patient_id, consultation_id, assigned_to, role, service_id, notes,
	status, bill_id, created_at, started_at, completed_at`

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	err := row.Scan(&t.ID, &t.ClinicID, &t.PatientID, &t.ConsultationID, &t.AssignedTo, &t.Role, &t.ServiceID,
		&t.Notes, &t.Status, &t.BillID, &t.CreatedAt, &t.StartedAt, &t.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	return &t, err
}

func collectTasks(rows pgx.Rows) ([]*Task, error) {
	defer rows.Close()
	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *taskRepoPG) Create(ctx context.Context, t *Task) error {
	t.ID = uuid.New()
	t.Status = StatusWaiting
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO specialist_tasks (id, clinic_id, patient_id, consultation_id, assigned_to, role, service_id, notes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`,
		t.ID, t.ClinicID, t.PatientID, t.ConsultationID, t.AssignedTo, t.Role, t.ServiceID, t.Notes, t.Status,
	).Scan(&t.CreatedAt)
}

func (r *taskRepoPG) GetByID(ctx context.Context, clinicID, id uuid.UUID) (*Task, error) {
	return scanTask(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+taskCols+` FROM specialist_tasks WHERE clinic_id = $1 AND id = $2`, clinicID, id))
}

func (r *taskRepoPG) Lock(ctx context.Context, clinicID, id uuid.UUID) (*Task, error) {
	return scanTask(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+taskCols+` FROM specialist_tasks WHERE clinic_id = $1 AND id = $2 FOR UPDATE`, clinicID, id))
}

const taskFilter = `clinic_id = $1 AND ($2 = '' OR role = $2) AND ($3 = '' OR status = $3)
	AND ($4 = '' OR assigned_to = $4)`

func (r *taskRepoPG) List(ctx context.Context, clinicID uuid.UUID, f TaskFilter, limit, offset int) ([]*Task, int, error) {
	q := db.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM specialist_tasks WHERE `+taskFilter,
		clinicID, f.Role, f.Status, f.AssignedTo).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `
		SELECT `+taskCols+` FROM specialist_tasks WHERE `+taskFilter+`
		ORDER BY created_at LIMIT $5 OFFSET $6`,
		clinicID, f.Role, f.Status, f.AssignedTo, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	tasks, err := collectTasks(rows)
	return tasks, total, err
}

func (r *taskRepoPG) Transition(ctx context.Context, clinicID, id uuid.UUID, from []string, to string, at time.Time) (*Task, error) {
	t, err := scanTask(db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE specialist_tasks SET status = $4,
			started_at = CASE WHEN $4 = 'in_progress' THEN $5 ELSE started_at END,
			completed_at = CASE WHEN $4 IN ('done', 'cancelled') THEN $5 ELSE completed_at END
		WHERE clinic_id = $1 AND id = $2 AND status = ANY($3)
		RETURNING `+taskCols, clinicID, id, from, to, at))
	if errors.Is(err, ErrTaskNotFound) {
		return nil, ErrInvalidTransition
	}
	return t, err
}

func (r *taskRepoPG) SetService(ctx context.Context, clinicID, id uuid.UUID, serviceID *uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE specialist_tasks SET service_id = $3 WHERE clinic_id = $1 AND id = $2`, clinicID, id, serviceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (r *taskRepoPG) SetBill(ctx context.Context, id, billID uuid.UUID) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE specialist_tasks SET bill_id = $2 WHERE id = $1`, id, billID)
	return err
}

func (r *taskRepoPG) WaitingForPatient(ctx context.Context, clinicID, patientID uuid.UUID) ([]*Task, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+taskCols+` FROM specialist_tasks
		WHERE clinic_id = $1 AND patient_id = $2 AND status = 'waiting'
		ORDER BY created_at`, clinicID, patientID)
	if err != nil {
		return nil, err
	}
	return collectTasks(rows)
}
