// Package paystack is a small client for the Paystack transactions and
// subaccounts APIs plus webhook signature checking.
package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/clinicmanager/clinic/internal/platform/metrics"
)

const DefaultBaseURL = "https://api.paystack.co"

type Config struct {
	SecretKey  string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	// RetryDelay is the first back-off; each retry doubles it.
	RetryDelay time.Duration
}

// Error is a failed gateway call. Transient errors are safe to retry.
type Error struct {
	Operation  string
	StatusCode int
	Message    string
	Transient  bool
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("paystack %s: status %d: %s", e.Operation, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("paystack %s: %s", e.Operation, e.Message)
}

// IsTransient reports whether err is a retryable gateway failure.
func IsTransient(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Transient
}

// IsDuplicateReference reports whether Paystack refused an initialize because
// the reference is already known to it. A retried initialize whose first
// attempt reached the gateway fails this way.
func IsDuplicateReference(err error) bool {
	var pe *Error
	if !errors.As(err, &pe) || pe.StatusCode < 400 || pe.StatusCode >= 500 {
		return false
	}
	return strings.Contains(strings.ToLower(pe.Message), "duplicate transaction reference")
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

func New(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Enabled reports whether a secret key is configured.
func (c *Client) Enabled() bool {
	return c.cfg.SecretKey != ""
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type InitializeRequest struct {
	Email       string `json:"email"`
	Amount      int64  `json:"amount"`
	Reference   string `json:"reference"`
	CallbackURL string `json:"callback_url,omitempty"`
	Subaccount  string `json:"subaccount,omitempty"`
}

type InitializeResult struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type Customer struct {
	Email string `json:"email"`
}

// Transaction is the subset of a Paystack transaction the ledger uses.
type Transaction struct {
	ID        int64    `json:"id"`
	Status    string   `json:"status"`
	Reference string   `json:"reference"`
	Amount    int64    `json:"amount"`
	Currency  string   `json:"currency"`
	PaidAt    string   `json:"paid_at"`
	Customer  Customer `json:"customer"`

	Raw json.RawMessage `json:"-"`
}

type SubaccountRequest struct {
	BusinessName     string  `json:"business_name"`
	SettlementBank   string  `json:"settlement_bank"`
	AccountNumber    string  `json:"account_number"`
	PercentageCharge float64 `json:"percentage_charge"`
}

type Subaccount struct {
	SubaccountCode string `json:"subaccount_code"`
	BusinessName   string `json:"business_name"`

	Raw json.RawMessage `json:"-"`
}

func (c *Client) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	var out InitializeResult
	if _, err := c.do(ctx, "initialize", http.MethodPost, "/transaction/initialize", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Verify(ctx context.Context, reference string) (*Transaction, error) {
	var out Transaction
	raw, err := c.do(ctx, "verify", http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &out)
	if err != nil {
		return nil, err
	}
	out.Raw = raw
	return &out, nil
}

// ListTransactions returns the most recent transactions, optionally
// restricted to one subaccount.
func (c *Client) ListTransactions(ctx context.Context, subaccount string, perPage int) ([]Transaction, error) {
	if perPage <= 0 {
		perPage = 50
	}
	q := url.Values{}
	q.Set("perPage", strconv.Itoa(perPage))
	if subaccount != "" {
		q.Set("subaccount", subaccount)
	}
	var out []Transaction
	if _, err := c.do(ctx, "list", http.MethodGet, "/transaction?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateSubaccount(ctx context.Context, req SubaccountRequest) (*Subaccount, error) {
	var out Subaccount
	raw, err := c.do(ctx, "subaccount", http.MethodPost, "/subaccount", req, &out)
	if err != nil {
		return nil, err
	}
	out.Raw = raw
	return &out, nil
}

// do sends one request, retrying transient failures with the same body.
// It returns the raw data field of the envelope.
func (c *Client) do(ctx context.Context, op, method, path string, body, out interface{}) (json.RawMessage, error) {
	if !c.Enabled() {
		return nil, &Error{Operation: op, Message: "secret key not configured"}
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", op, err)
		}
	}

	delay := c.cfg.RetryDelay
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, &Error{Operation: op, Message: ctx.Err().Error()}
			case <-time.After(delay):
			}
			delay *= 2
		}

		raw, err := c.once(ctx, op, method, path, payload)
		if err == nil {
			metrics.GatewayRequests.WithLabelValues(op, "ok").Inc()
			if out != nil && len(raw) > 0 && string(raw) != "null" {
				if err := json.Unmarshal(raw, out); err != nil {
					return nil, &Error{Operation: op, Message: "decode data: " + err.Error()}
				}
			}
			return raw, nil
		}
		lastErr = err
		if !IsTransient(err) {
			metrics.GatewayRequests.WithLabelValues(op, "rejected").Inc()
			return nil, err
		}
		metrics.GatewayRequests.WithLabelValues(op, "transient").Inc()
	}
	return nil, lastErr
}

func (c *Client) once(ctx context.Context, op, method, path string, payload []byte) (json.RawMessage, error) {
	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rdr)
	if err != nil {
		return nil, &Error{Operation: op, Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// a cancelled caller is final; anything else on the wire is retryable
		return nil, &Error{Operation: op, Message: err.Error(), Transient: ctx.Err() == nil}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &Error{Operation: op, StatusCode: resp.StatusCode, Message: err.Error(), Transient: true}
	}

	var env envelope
	decodeErr := json.Unmarshal(data, &env)

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &Error{Operation: op, StatusCode: resp.StatusCode, Message: messageOr(env.Message, resp.Status), Transient: true}
	}
	if resp.StatusCode >= 400 {
		return nil, &Error{Operation: op, StatusCode: resp.StatusCode, Message: messageOr(env.Message, resp.Status)}
	}
	if decodeErr != nil {
		return nil, &Error{Operation: op, StatusCode: resp.StatusCode, Message: "malformed response"}
	}
	if !env.Status {
		return nil, &Error{Operation: op, StatusCode: resp.StatusCode, Message: messageOr(env.Message, "request rejected")}
	}
	return env.Data, nil
}

func messageOr(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}
