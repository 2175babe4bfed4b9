// Package webpush sends browser push notifications signed with the
// server's VAPID key pair.
package webpush

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	webpushgo "github.com/SherClockHolmes/webpush-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicmanager/clinic/internal/platform/db"
	"github.com/clinicmanager/clinic/internal/platform/metrics"
)

// ErrSubscriptionGone means the push service no longer accepts the
// subscription and it should be deleted.
var ErrSubscriptionGone = errors.New("push subscription expired")

type Keys struct {
	PublicKey  string
	PrivateKey string
}

// KeyStore persists the server-wide VAPID key pair.
type KeyStore interface {
	Load(ctx context.Context) (*Keys, error)
	// Save stores k unless a pair already exists, and returns the stored pair.
	Save(ctx context.Context, k Keys) (*Keys, error)
}

type pgKeyStore struct {
	pool *pgxpool.Pool
}

func NewPGKeyStore(pool *pgxpool.Pool) KeyStore {
	return &pgKeyStore{pool: pool}
}

func (s *pgKeyStore) Load(ctx context.Context) (*Keys, error) {
	var k Keys
	err := db.Conn(ctx, s.pool).QueryRow(ctx,
		`SELECT public_key, private_key FROM vapid_keys WHERE id = 1`).Scan(&k.PublicKey, &k.PrivateKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load vapid keys: %w", err)
	}
	return &k, nil
}

func (s *pgKeyStore) Save(ctx context.Context, k Keys) (*Keys, error) {
	q := db.Conn(ctx, s.pool)
	if _, err := q.Exec(ctx,
		`INSERT INTO vapid_keys (id, public_key, private_key) VALUES (1, $1, $2) ON CONFLICT (id) DO NOTHING`,
		k.PublicKey, k.PrivateKey); err != nil {
		return nil, fmt.Errorf("save vapid keys: %w", err)
	}
	return s.Load(ctx)
}

// Subscription is a browser push endpoint with its encryption keys.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

// Payload is the JSON the service worker renders.
type Payload struct {
	Head string `json:"head"`
	Body string `json:"body"`
	URL  string `json:"url,omitempty"`
	Icon string `json:"icon,omitempty"`
}

// SendFunc matches webpush-go's SendNotificationWithContext.
type SendFunc func(ctx context.Context, message []byte, s *webpushgo.Subscription, opts *webpushgo.Options) (*http.Response, error)

type Sender struct {
	store   KeyStore
	subject string
	ttl     int
	send    SendFunc
	genKeys func() (private, public string, err error)

	mu   sync.Mutex
	keys *Keys
}

func NewSender(store KeyStore, subject string) *Sender {
	return &Sender{
		store:   store,
		subject: subject,
		ttl:     3600,
		send:    webpushgo.SendNotificationWithContext,
		genKeys: webpushgo.GenerateVAPIDKeys,
	}
}

// Keys returns the VAPID pair, generating and storing one on first use.
// Concurrent first calls across processes converge on the stored pair.
func (s *Sender) Keys(ctx context.Context) (*Keys, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.keys != nil {
		return s.keys, nil
	}
	k, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if k == nil {
		priv, pub, err := s.genKeys()
		if err != nil {
			return nil, fmt.Errorf("generate vapid keys: %w", err)
		}
		if k, err = s.store.Save(ctx, Keys{PublicKey: pub, PrivateKey: priv}); err != nil {
			return nil, err
		}
		if k == nil {
			return nil, errors.New("vapid keys missing after save")
		}
	}
	s.keys = k
	return k, nil
}

func (s *Sender) Send(ctx context.Context, sub Subscription, p Payload) error {
	keys, err := s.Keys(ctx)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(p)
	if err != nil {
		return err
	}

	resp, err := s.send(ctx, msg, &webpushgo.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpushgo.Keys{Auth: sub.Auth, P256dh: sub.P256dh},
	}, &webpushgo.Options{
		Subscriber:      s.subject,
		VAPIDPublicKey:  keys.PublicKey,
		VAPIDPrivateKey: keys.PrivateKey,
		TTL:             s.ttl,
	})
	if err != nil {
		metrics.PushDeliveries.WithLabelValues("webpush", "error").Inc()
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		metrics.PushDeliveries.WithLabelValues("webpush", "gone").Inc()
		return ErrSubscriptionGone
	case resp.StatusCode >= 400:
		metrics.PushDeliveries.WithLabelValues("webpush", "error").Inc()
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}
	metrics.PushDeliveries.WithLabelValues("webpush", "ok").Inc()
	return nil
}
