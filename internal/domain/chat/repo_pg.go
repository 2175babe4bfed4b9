package chat

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicmanager/clinic/internal/platform/db"
)

type roomRepoPG struct{ pool *pgxpool.Pool }

func NewRoomRepoPG(pool *pgxpool.Pool) RoomRepository {
	return &roomRepoPG{pool: pool}
}

const roomCols = `id, clinic_id, name, created_at`

func scanRoom(row pgx.Row) (*Room, error) {
	var r Room
	err := row.Scan(&r.ID, &r.ClinicID, &r.Name, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	return &r, err
}

func (r *roomRepoPG) Create(ctx context.Context, room *Room) error {
	room.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO chat_rooms (id, clinic_id, name) VALUES ($1, $2, $3) RETURNING created_at`,
		room.ID, room.ClinicID, room.Name).Scan(&room.CreatedAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateRoom
	}
	return err
}

func (r *roomRepoPG) GetByID(ctx context.Context, clinicID, id uuid.UUID) (*Room, error) {
	return scanRoom(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+roomCols+` FROM chat_rooms WHERE clinic_id = $1 AND id = $2`, clinicID, id))
}

func (r *roomRepoPG) GetOrCreateByName(ctx context.Context, clinicID uuid.UUID, name string) (*Room, error) {
	// The no-op update makes RETURNING yield the existing row on conflict.
	return scanRoom(db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO chat_rooms (id, clinic_id, name) VALUES ($1, $2, $3)
		ON CONFLICT (clinic_id, name) DO UPDATE SET name = EXCLUDED.name
		RETURNING `+roomCols, uuid.New(), clinicID, name))
}

func (r *roomRepoPG) List(ctx context.Context, clinicID uuid.UUID) ([]*Room, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+roomCols+` FROM chat_rooms WHERE clinic_id = $1 ORDER BY name`, clinicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, room)
	}
	return out, rows.Err()
}

type messageRepoPG struct{ pool *pgxpool.Pool }

func NewMessageRepoPG(pool *pgxpool.Pool) MessageRepository {
	return &messageRepoPG{pool: pool}
}

func (r *messageRepoPG) Create(ctx context.Context, m *Message) error {
	m.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO chat_messages (id, room_id, sender, content, is_bot)
		VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		m.ID, m.RoomID, m.Sender, m.Content, m.IsBot).Scan(&m.CreatedAt)
}

func (r *messageRepoPG) List(ctx context.Context, roomID uuid.UUID, before time.Time, limit int) ([]*Message, error) {
	var cutoff *time.Time
	if !before.IsZero() {
		cutoff = &before
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, room_id, sender, content, is_bot, created_at FROM chat_messages
		WHERE room_id = $1 AND ($2::timestamptz IS NULL OR created_at < $2)
		ORDER BY created_at DESC LIMIT $3`, roomID, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.Sender, &m.Content, &m.IsBot, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
