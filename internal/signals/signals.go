// Package signals delivers downstream notifications raised by the
// reputation engine. Today that is one signal: a prompt asking the client
// of a freshly credited booking to leave a review.
//
// Delivery is fire-and-forget. Requests are queued and POSTed by a small
// worker pool to a single endpoint, signed with HMAC-SHA256, retried with
// backoff and guarded by a circuit breaker.
package signals

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/axmarket/repengine/internal/circuitbreaker"
	"github.com/axmarket/repengine/internal/retry"
)

// EventReviewRequested is the type of a review prompt.
const EventReviewRequested = "review.requested"

// Headers set on every delivery.
const (
	HeaderEvent     = "X-Repengine-Event"
	HeaderTimestamp = "X-Repengine-Timestamp"
	HeaderSignature = "X-Repengine-Signature"
)

var (
	ErrQueueFull   = errors.New("signal queue full")
	ErrCircuitOpen = errors.New("signal endpoint circuit open")
	ErrStopped     = errors.New("signal emitter stopped")
)

// ReviewRequest asks the marketplace to prompt a client for a review.
type ReviewRequest struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	ProviderID string    `json:"providerId"`
	ClientID   string    `json:"clientId"`
	BookingID  string    `json:"bookingId"`
}

// Config tunes delivery.
type Config struct {
	URL    string
	Secret string // HMAC key; deliveries are unsigned when empty

	Timeout     time.Duration
	MaxAttempts int
	RetryDelay  time.Duration

	BreakerThreshold int
	BreakerCooldown  time.Duration

	QueueSize int
	Workers   int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 200 * time.Millisecond
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	return c
}

// statusError is a non-2xx response.
type statusError struct{ code int }

func (e *statusError) Error() string { return fmt.Sprintf("status %d", e.code) }

// Dispatcher POSTs signals to the configured endpoint.
type Dispatcher struct {
	url         string
	secret      string
	client      *http.Client
	breaker     *circuitbreaker.Breaker
	maxAttempts int
	retryDelay  time.Duration
}

// NewDispatcher creates a dispatcher for cfg.URL.
func NewDispatcher(cfg Config) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		url:    cfg.URL,
		secret: cfg.Secret,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker:     circuitbreaker.New(cfg.BreakerThreshold, cfg.BreakerCooldown),
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
	}
}

// Breaker exposes the dispatcher's circuit breaker.
func (d *Dispatcher) Breaker() *circuitbreaker.Breaker { return d.breaker }

// Send delivers req, retrying transport errors, 429s and 5xx responses.
func (d *Dispatcher) Send(ctx context.Context, req *ReviewRequest) error {
	if !d.breaker.Allow(d.url) {
		return ErrCircuitOpen
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}

	err = retry.Do(ctx, d.maxAttempts, d.retryDelay, func() error {
		err := d.post(ctx, req, payload)
		var se *statusError
		if errors.As(err, &se) && se.code < 500 && se.code != http.StatusTooManyRequests {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		d.breaker.RecordFailure(d.url)
		return err
	}
	d.breaker.RecordSuccess(d.url)
	return nil
}

func (d *Dispatcher) post(ctx context.Context, req *ReviewRequest, payload []byte) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(HeaderEvent, req.Type)
	httpReq.Header.Set(HeaderTimestamp, strconv.FormatInt(req.Timestamp.Unix(), 10))
	if d.secret != "" {
		httpReq.Header.Set(HeaderSignature, Sign(payload, d.secret))
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether signature matches payload under secret.
func Verify(payload []byte, secret, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hmac.Equal(h.Sum(nil), want)
}
