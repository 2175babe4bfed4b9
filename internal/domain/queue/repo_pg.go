package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicmanager/clinic/internal/platform/db"
)

type entryRepoPG struct{ pool *pgxpool.Pool }

func NewEntryRepoPG(pool *pgxpool.Pool) EntryRepository {
	return &entryRepoPG{pool: pool}
}

const entryCols = `id, clinic_id, target_type, target_id, patient_id, consultation_id,
	position, status, created_at, started_at, completed_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.ClinicID, &e.TargetType, &e.TargetID, &e.PatientID, &e.ConsultationID,
		&e.Position, &e.Status, &e.CreatedAt, &e.StartedAt, &e.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	return &e, err
}

func (r *entryRepoPG) Create(ctx context.Context, e *Entry) error {
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		q := db.Conn(ctx, r.pool)

		// The upsert takes a row lock on the counter, serialising concurrent
		// enqueues on the same line until this transaction ends.
		if err := q.QueryRow(ctx, `
			INSERT INTO queue_counters (clinic_id, target_type, target_id, last_position)
			VALUES ($1, $2, $3, 1)
			ON CONFLICT (clinic_id, target_type, target_id)
			DO UPDATE SET last_position = queue_counters.last_position + 1
			RETURNING last_position`,
			e.ClinicID, e.TargetType, e.TargetID).Scan(&e.Position); err != nil {
			return err
		}

		e.ID = uuid.New()
		e.Status = StatusWaiting
		return q.QueryRow(ctx, `
			INSERT INTO queue_entries (id, clinic_id, target_type, target_id, patient_id, consultation_id, position, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING created_at`,
			e.ID, e.ClinicID, e.TargetType, e.TargetID, e.PatientID, e.ConsultationID, e.Position, e.Status,
		).Scan(&e.CreatedAt)
	})
}

func (r *entryRepoPG) GetByID(ctx context.Context, clinicID, id uuid.UUID) (*Entry, error) {
	return scanEntry(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+entryCols+` FROM queue_entries WHERE clinic_id = $1 AND id = $2`, clinicID, id))
}

func (r *entryRepoPG) Transition(ctx context.Context, clinicID, id uuid.UUID, from, to string, at time.Time) (*Entry, error) {
	e, err := scanEntry(db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE queue_entries SET status = $4,
			started_at = CASE WHEN $4 = 'in_progress' THEN $5 ELSE started_at END,
			completed_at = CASE WHEN $4 IN ('completed', 'skipped') THEN $5 ELSE completed_at END
		WHERE clinic_id = $1 AND id = $2 AND status = $3
		RETURNING `+entryCols, clinicID, id, from, to, at))
	if errors.Is(err, ErrEntryNotFound) {
		return nil, ErrInvalidTransition
	}
	return e, err
}

func (r *entryRepoPG) List(ctx context.Context, clinicID uuid.UUID, target Target, status string) ([]*Entry, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+entryCols+` FROM queue_entries
		WHERE clinic_id = $1 AND target_type = $2 AND target_id = $3 AND ($4 = '' OR status = $4)
		ORDER BY position`, clinicID, target.Type, target.ID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r *entryRepoPG) Next(ctx context.Context, clinicID uuid.UUID, target Target) (*Entry, error) {
	return scanEntry(db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+entryCols+` FROM queue_entries
		WHERE clinic_id = $1 AND target_type = $2 AND target_id = $3 AND status = 'waiting'
		ORDER BY position LIMIT 1`, clinicID, target.Type, target.ID))
}

func (r *entryRepoPG) Positions(ctx context.Context, clinicID uuid.UUID, target Target) ([]int, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT position FROM queue_entries
		WHERE clinic_id = $1 AND target_type = $2 AND target_id = $3
		ORDER BY position`, clinicID, target.Type, target.ID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int])
}
