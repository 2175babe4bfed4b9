package notification

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicmanager/clinic/internal/platform/db"
)

type notificationRepoPG struct{ pool *pgxpool.Pool }

func NewNotificationRepoPG(pool *pgxpool.Pool) NotificationRepository {
	return &notificationRepoPG{pool: pool}
}

const notificationCols = `id, clinic_id, recipient, group_name, title, body, url, icon, is_read, data, created_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	var data []byte
	err := row.Scan(&n.ID, &n.ClinicID, &n.Recipient, &n.GroupName, &n.Title, &n.Body, &n.URL, &n.Icon,
		&n.IsRead, &data, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotificationNotFound
	}
	n.Data = data
	return &n, err
}

func (r *notificationRepoPG) Create(ctx context.Context, n *Notification) error {
	n.ID = uuid.New()
	var data []byte
	if len(n.Data) > 0 {
		data = n.Data
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO notifications (id, clinic_id, recipient, group_name, title, body, url, icon, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`,
		n.ID, n.ClinicID, n.Recipient, n.GroupName, n.Title, n.Body, n.URL, n.Icon, data,
	).Scan(&n.CreatedAt)
}

const notificationFilter = `clinic_id = $1 AND ($2 = '' OR recipient = $2) AND ($3 = '' OR group_name = $3)
	AND (NOT $4 OR NOT is_read)`

func (r *notificationRepoPG) List(ctx context.Context, clinicID uuid.UUID, f Filter, limit, offset int) ([]*Notification, int, error) {
	q := db.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE `+notificationFilter,
		clinicID, f.Recipient, f.Group, f.UnreadOnly).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `
		SELECT `+notificationCols+` FROM notifications WHERE `+notificationFilter+`
		ORDER BY created_at DESC LIMIT $5 OFFSET $6`,
		clinicID, f.Recipient, f.Group, f.UnreadOnly, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

func (r *notificationRepoPG) MarkRead(ctx context.Context, clinicID, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE clinic_id = $1 AND id = $2`, clinicID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (r *notificationRepoPG) MarkAllRead(ctx context.Context, clinicID uuid.UUID, recipient string) (int64, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE clinic_id = $1 AND recipient = $2 AND NOT is_read`,
		clinicID, recipient)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type subscriptionRepoPG struct{ pool *pgxpool.Pool }

func NewSubscriptionRepoPG(pool *pgxpool.Pool) SubscriptionRepository {
	return &subscriptionRepoPG{pool: pool}
}

const subscriptionCols = `id, clinic_id, user_id, group_name, endpoint, p256dh, auth, created_at`

func (r *subscriptionRepoPG) Upsert(ctx context.Context, s *PushSubscription) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO push_subscriptions (id, clinic_id, user_id, group_name, endpoint, p256dh, auth)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (endpoint) DO UPDATE SET
			user_id = EXCLUDED.user_id, group_name = EXCLUDED.group_name,
			p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth
		WHERE push_subscriptions.clinic_id = EXCLUDED.clinic_id
		RETURNING id, created_at`,
		uuid.New(), s.ClinicID, s.UserID, s.GroupName, s.Endpoint, s.P256dh, s.Auth,
	).Scan(&s.ID, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrEndpointTaken
	}
	return err
}

func (r *subscriptionRepoPG) DeleteByEndpoint(ctx context.Context, clinicID uuid.UUID, endpoint string) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM push_subscriptions WHERE endpoint = $1 AND clinic_id = $2`, endpoint, clinicID)
	return err
}

func (r *subscriptionRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*PushSubscription, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*PushSubscription
	for rows.Next() {
		var s PushSubscription
		if err := rows.Scan(&s.ID, &s.ClinicID, &s.UserID, &s.GroupName, &s.Endpoint, &s.P256dh, &s.Auth, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (r *subscriptionRepoPG) ForUser(ctx context.Context, clinicID uuid.UUID, userID string) ([]*PushSubscription, error) {
	return r.query(ctx, `SELECT `+subscriptionCols+` FROM push_subscriptions WHERE clinic_id = $1 AND user_id = $2`,
		clinicID, userID)
}

func (r *subscriptionRepoPG) ForGroup(ctx context.Context, clinicID uuid.UUID, group string) ([]*PushSubscription, error) {
	return r.query(ctx, `SELECT `+subscriptionCols+` FROM push_subscriptions WHERE clinic_id = $1 AND group_name = $2`,
		clinicID, group)
}
