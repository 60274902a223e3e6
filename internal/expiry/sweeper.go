// Package expiry removes time-limited badges whose award has lapsed.
package expiry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/axmarket/repengine/internal/reputation"
	"github.com/axmarket/repengine/internal/traces"
)

// DefaultBatchSize bounds each expired-award query.
const DefaultBatchSize = 100

// Expirer is the part of the reputation service the sweeper drives.
type Expirer interface {
	ListExpiredAwards(ctx context.Context, limit int) ([]*reputation.AwardRecord, error)
	ExpireAward(ctx context.Context, rec *reputation.AwardRecord) (bool, error)
}

// Sweeper periodically applies award expiries.
type Sweeper struct {
	svc      Expirer
	interval time.Duration
	batch    int
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// NewSweeper creates a sweeper. interval is typically an hour in
// production and seconds in demo mode.
func NewSweeper(svc Expirer, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		svc:      svc,
		interval: interval,
		batch:    DefaultBatchSize,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start runs a sweep immediately and then on every tick. Call in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.run(ctx)
		}
	}
}

// Stop signals the sweeper to stop. It is safe to call more than once.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Sweeper) run(ctx context.Context) {
	removed, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Warn("badge expiry sweep failed", "error", err, "removed", removed)
		return
	}
	if removed > 0 {
		s.logger.Info("badge expiry sweep completed", "removed", removed)
	}
}

// Sweep applies every pending expiry and returns how many badges were
// removed. Records that fail are logged and left for the next sweep.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	ctx, span := traces.StartSpan(ctx, "expiry.Sweep")
	defer span.End()

	removed := 0
	tried := make(map[string]bool)
	for {
		recs, err := s.svc.ListExpiredAwards(ctx, s.batch)
		if err != nil {
			traces.Fail(span, err, "expiry sweep failed")
			return removed, err
		}

		progress := false
		for _, rec := range recs {
			if tried[rec.ID] {
				continue
			}
			tried[rec.ID] = true
			progress = true

			ok, err := s.svc.ExpireAward(ctx, rec)
			if err != nil {
				s.logger.Warn("failed to expire award",
					"award_id", rec.ID, "provider_id", rec.ProviderID, "badge_id", rec.BadgeID, "error", err)
				continue
			}
			if ok {
				removed++
			}
		}

		if len(recs) < s.batch || !progress {
			break
		}
		if err := ctx.Err(); err != nil {
			return removed, err
		}
	}
	span.SetAttributes(attribute.Int("badges.expired", removed))
	return removed, nil
}
