package signals

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/axmarket/repengine/internal/idgen"
	"github.com/axmarket/repengine/internal/metrics"
	"github.com/axmarket/repengine/internal/traces"
)

// Delivery results recorded in metrics.
const (
	resultDelivered   = "delivered"
	resultFailed      = "failed"
	resultCircuitOpen = "circuit_open"
	resultDropped     = "dropped"
	resultLogged      = "logged"
)

// Emitter queues review prompts and delivers them in the background.
// RequestReview never blocks on the network.
type Emitter struct {
	d       *Dispatcher
	logger  *slog.Logger
	queue   chan *ReviewRequest
	workers int

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewEmitter creates an emitter. Call Start before queueing.
func NewEmitter(d *Dispatcher, cfg Config, logger *slog.Logger) *Emitter {
	cfg = cfg.withDefaults()
	return &Emitter{
		d:       d,
		logger:  logger,
		queue:   make(chan *ReviewRequest, cfg.QueueSize),
		workers: cfg.Workers,
	}
}

// RequestReview queues a review prompt for the booking's client.
func (e *Emitter) RequestReview(_ context.Context, providerID, clientID, bookingID string) error {
	req := &ReviewRequest{
		ID:         idgen.WithPrefix(idgen.PrefixSignal),
		Type:       EventReviewRequested,
		Timestamp:  time.Now(),
		ProviderID: providerID,
		ClientID:   clientID,
		BookingID:  bookingID,
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stopped {
		return ErrStopped
	}
	select {
	case e.queue <- req:
		return nil
	default:
		metrics.SignalDeliveriesTotal.WithLabelValues(resultDropped).Inc()
		return ErrQueueFull
	}
}

// Start launches the delivery workers. Deliveries use ctx; they run until
// Stop drains the queue.
func (e *Emitter) Start(ctx context.Context) {
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for req := range e.queue {
				e.deliver(ctx, req)
			}
		}()
	}
}

// Stop rejects new requests, delivers what is queued and waits for the
// workers to exit.
func (e *Emitter) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	close(e.queue)
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Emitter) deliver(ctx context.Context, req *ReviewRequest) {
	ctx, span := traces.StartSpan(ctx, "signals.deliver",
		traces.ProviderID(req.ProviderID))
	defer span.End()

	err := e.d.Send(ctx, req)
	switch {
	case err == nil:
		metrics.SignalDeliveriesTotal.WithLabelValues(resultDelivered).Inc()
		e.logger.Debug("review prompt delivered", "signal_id", req.ID, "booking_id", req.BookingID)
	case errors.Is(err, ErrCircuitOpen):
		metrics.SignalDeliveriesTotal.WithLabelValues(resultCircuitOpen).Inc()
		e.logger.Warn("review prompt skipped, endpoint circuit open",
			"signal_id", req.ID, "booking_id", req.BookingID)
	default:
		traces.Fail(span, err, "review prompt delivery failed")
		metrics.SignalDeliveriesTotal.WithLabelValues(resultFailed).Inc()
		e.logger.Warn("review prompt delivery failed",
			"signal_id", req.ID, "booking_id", req.BookingID, "provider_id", req.ProviderID, "error", err)
	}
}

// LogSignaler records review prompts in the log only. It backs demo mode
// and deployments without a prompt endpoint.
type LogSignaler struct {
	logger *slog.Logger
}

// NewLogSignaler creates a log-only signaler.
func NewLogSignaler(logger *slog.Logger) *LogSignaler {
	return &LogSignaler{logger: logger}
}

func (l *LogSignaler) RequestReview(ctx context.Context, providerID, clientID, bookingID string) error {
	metrics.SignalDeliveriesTotal.WithLabelValues(resultLogged).Inc()
	l.logger.InfoContext(ctx, "review prompt requested",
		"provider_id", providerID, "client_id", clientID, "booking_id", bookingID)
	return nil
}
