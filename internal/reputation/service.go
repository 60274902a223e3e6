package reputation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/axmarket/repengine/internal/badges"
	"github.com/axmarket/repengine/internal/eligibility"
	"github.com/axmarket/repengine/internal/events"
	"github.com/axmarket/repengine/internal/idgen"
	"github.com/axmarket/repengine/internal/logging"
	"github.com/axmarket/repengine/internal/metrics"
	"github.com/axmarket/repengine/internal/retry"
	"github.com/axmarket/repengine/internal/scoring"
	"github.com/axmarket/repengine/internal/traces"
)

// Defaults for the conflict retry loop.
const (
	DefaultMaxAttempts = 5
	DefaultRetryDelay  = 25 * time.Millisecond
)

// Status is the terminal disposition of a handled event.
type Status string

const (
	StatusApplied  Status = "applied"
	StatusRejected Status = "rejected" // not a creditable transition
	StatusDropped  Status = "dropped"  // references missing data
)

// Stage is how far an event got through the pipeline.
type Stage string

const (
	StageReceived  Stage = "received"
	StageValidated Stage = "validated"
	StagePersisted Stage = "persisted"
	StageDone      Stage = "done"
)

// Outcome describes what handling an event did.
type Outcome struct {
	EventType  events.Type `json:"type"`
	Key        string      `json:"key"`
	ProviderID string      `json:"providerId"`
	Status     Status      `json:"status"`
	Stage      Stage       `json:"stage"`
	Reason     string      `json:"reason,omitempty"`
	Score      int         `json:"score"`
	NewBadges  []string    `json:"newBadges,omitempty"`
	Attempts   int         `json:"attempts"`
}

func newOutcome(ev events.Event) *Outcome {
	return &Outcome{
		EventType:  ev.EventType(),
		Key:        ev.NaturalKey(),
		ProviderID: ev.Provider(),
		Stage:      StageReceived,
	}
}

func (o *Outcome) reject(reason string) *Outcome {
	o.Status = StatusRejected
	o.Reason = reason
	return o
}

func (o *Outcome) drop(reason string) *Outcome {
	o.Status = StatusDropped
	o.Reason = reason
	return o
}

// Service applies domain events to provider reputation.
type Service struct {
	providers Store
	bookings  BookingStore
	offers    OfferStore
	reviews   ReviewStore
	awards    AwardStore

	calc      *scoring.Calculator
	catalog   *badges.Catalog
	evaluator *eligibility.Evaluator
	signaler  Signaler
	logger    *slog.Logger

	maxAttempts int
	retryDelay  time.Duration
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithSignaler sets the downstream signal sink.
func WithSignaler(sig Signaler) Option {
	return func(s *Service) { s.signaler = sig }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithRetry bounds the conflict retry loop.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(s *Service) {
		s.maxAttempts = maxAttempts
		s.retryDelay = baseDelay
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the service. It fails if the eligibility rules reference
// badges missing from catalog.
func NewService(stores Stores, calc *scoring.Calculator, catalog *badges.Catalog, opts ...Option) (*Service, error) {
	evaluator, err := eligibility.NewEvaluator(catalog)
	if err != nil {
		return nil, fmt.Errorf("build evaluator: %w", err)
	}
	s := &Service{
		providers:   stores.Providers,
		bookings:    stores.Bookings,
		offers:      stores.Offers,
		reviews:     stores.Reviews,
		awards:      stores.Awards,
		calc:        calc,
		catalog:     catalog,
		evaluator:   evaluator,
		logger:      slog.Default(),
		maxAttempts: DefaultMaxAttempts,
		retryDelay:  DefaultRetryDelay,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Catalog returns the badge catalog the service scores against.
func (s *Service) Catalog() *badges.Catalog { return s.catalog }

// HandleEvent applies ev. The returned error is non-nil only for failures
// the event source should redeliver (it wraps ErrRetryable); rejected and
// dropped events are reported through the Outcome.
func (s *Service) HandleEvent(ctx context.Context, ev events.Event) (*Outcome, error) {
	start := time.Now()
	typ := string(ev.EventType())
	ctx, span := traces.StartSpan(ctx, "reputation.HandleEvent",
		traces.EventType(typ), traces.EventKey(ev.NaturalKey()), traces.ProviderID(ev.Provider()))
	defer span.End()

	var (
		out *Outcome
		err error
	)
	switch e := ev.(type) {
	case *events.BookingCompletedEvent:
		out, err = s.handleBooking(ctx, e)
	case *events.ReviewApprovedEvent:
		out, err = s.handleReview(ctx, e)
	default:
		out = newOutcome(ev).drop(fmt.Sprintf("unsupported event %T", ev))
	}

	metrics.EventDuration.WithLabelValues(typ).Observe(time.Since(start).Seconds())
	log := s.logger.With("event_type", typ, "event_key", out.Key, "provider_id", out.ProviderID)
	if id := logging.RequestID(ctx); id != "" {
		log = log.With("request_id", id)
	}

	if err != nil {
		metrics.EventsTotal.WithLabelValues(typ, "failed").Inc()
		traces.Fail(span, err, "event handling failed")
		log.Error("event handling failed", "stage", out.Stage, "attempts", out.Attempts, "error", err)
		return out, err
	}

	metrics.EventsTotal.WithLabelValues(typ, string(out.Status)).Inc()
	span.SetAttributes(traces.Outcome(string(out.Status)))
	switch out.Status {
	case StatusApplied:
		log.Info("event applied", "score", out.Score, "new_badges", out.NewBadges, "attempts", out.Attempts)
	case StatusRejected:
		log.Info("event rejected", "reason", out.Reason)
	default:
		log.Warn("event dropped", "reason", out.Reason)
	}
	return out, nil
}

func (s *Service) handleBooking(ctx context.Context, ev *events.BookingCompletedEvent) (*Outcome, error) {
	out := newOutcome(ev)
	if reason := bookingRejection(ev); reason != "" {
		return out.reject(reason), nil
	}

	stored, err := s.bookings.GetBooking(ctx, ev.BookingID)
	if errors.Is(err, ErrBookingNotFound) {
		return out.drop(err.Error()), nil
	}
	if err != nil {
		return out, retryable("get booking", err)
	}
	if reason := storedBookingRejection(ev, stored); reason != "" {
		return out.reject(reason), nil
	}
	out.Stage = StageValidated

	now := s.now()
	completedAt := ev.CompletedAt
	if completedAt.IsZero() {
		completedAt = stored.CompletedAt
	}
	if completedAt.IsZero() {
		completedAt = now
	}
	current := *stored
	current.ClientID = ev.ClientID
	current.Status = events.BookingCompleted
	current.CompletedAt = completedAt

	recent, err := s.bookings.ListCompletedBookings(ctx, BookingQuery{
		ProviderID: ev.ProviderID,
		Since:      now.Add(-DistinctClientWindow),
		Limit:      MaxHistoryBookings,
	})
	if err != nil {
		return out, retryable("list recent bookings", err)
	}
	recent = withBooking(recent, &current, 0)

	in := eligibility.Input{
		Activity: eligibility.ActivityAggregate{CompletedLast30d: completedSince(recent, now.Add(-ActivityWindow))},
	}
	if role, ok := eligibility.ParseRole(current.Offer.Role); ok {
		agg, err := s.roleAggregate(ctx, ev.ProviderID, role, &current, now)
		if err != nil {
			return out, retryable("role history", err)
		}
		in.Role = &agg
	}

	awards, err := s.awards.ListAwards(ctx, ev.ProviderID)
	if err != nil {
		return out, retryable("list awards", err)
	}
	idx := indexAwards(awards)

	effect := bookingEffect{
		Source:          ev.Source(),
		CompletedAt:     completedAt,
		DistinctClients: distinctClients(recent),
	}
	var earned []string
	state, attempts, err := s.apply(ctx, ev.ProviderID, ev.NaturalKey(), func(cur ProviderState) (ProviderState, error) {
		next := applyBooking(cur, effect)
		earned = s.settle(&next, in, idx, now)
		return next, nil
	})
	out.Attempts = attempts
	if err != nil {
		return s.applyFailed(out, err)
	}
	s.committed(out, state, earned)

	s.recordAwards(ctx, ev.ProviderID, earned, AwardedBySystem, ev.NaturalKey(), now)
	if err := s.bookings.MarkCreditAwarded(ctx, ev.BookingID); err != nil {
		s.sideEffectFailed(ctx, "credit_marker", out, err)
	}
	if s.signaler != nil {
		if err := s.signaler.RequestReview(ctx, ev.ProviderID, ev.ClientID, ev.BookingID); err != nil {
			s.sideEffectFailed(ctx, "review_prompt", out, err)
		}
	}
	out.Stage = StageDone
	return out, nil
}

func (s *Service) handleReview(ctx context.Context, ev *events.ReviewApprovedEvent) (*Outcome, error) {
	out := newOutcome(ev)
	if reason := reviewRejection(ev); reason != "" {
		return out.reject(reason), nil
	}

	booking, err := s.bookings.GetBooking(ctx, ev.BookingID)
	if errors.Is(err, ErrBookingNotFound) {
		return out.drop(err.Error()), nil
	}
	if err != nil {
		return out, retryable("get booking", err)
	}
	if reason := reviewedBookingRejection(ev, booking); reason != "" {
		return out.reject(reason), nil
	}
	out.Stage = StageValidated

	now := s.now()
	recent, err := s.bookings.ListCompletedBookings(ctx, BookingQuery{
		ProviderID: ev.TargetID,
		Since:      now.Add(-DistinctClientWindow),
		Limit:      MaxHistoryBookings,
	})
	if err != nil {
		return out, retryable("list recent bookings", err)
	}
	history, err := s.bookings.ListCompletedBookings(ctx, BookingQuery{
		ProviderID: ev.TargetID,
		Limit:      MaxHistoryBookings,
	})
	if err != nil {
		return out, retryable("list booking history", err)
	}
	reviews, err := s.reviews.ListRecentReviews(ctx, ev.TargetID, MaxStreakReviews)
	if err != nil {
		return out, retryable("list reviews", err)
	}
	reviews = withReview(reviews, &Review{
		ID:         ev.ReviewID,
		ProviderID: ev.TargetID,
		BookingID:  ev.BookingID,
		Rating:     ev.Rating,
		Visible:    ev.Visible,
		Status:     ev.Status,
		CreatedAt:  now,
	})

	rate, considered := repeatClientRate(history)
	in := eligibility.Input{
		Activity: eligibility.ActivityAggregate{CompletedLast30d: completedSince(recent, now.Add(-ActivityWindow))},
		Review: &eligibility.ReviewAggregate{
			FiveStarStreak:     fiveStarStreak(reviews),
			RepeatClientRate:   rate,
			BookingsConsidered: considered,
		},
	}

	awards, err := s.awards.ListAwards(ctx, ev.TargetID)
	if err != nil {
		return out, retryable("list awards", err)
	}
	idx := indexAwards(awards)

	effect := reviewEffect{Rating: ev.Rating, DistinctClients: distinctClients(recent)}
	var earned []string
	state, attempts, err := s.apply(ctx, ev.TargetID, ev.NaturalKey(), func(cur ProviderState) (ProviderState, error) {
		next := applyReview(cur, effect)
		earned = s.settle(&next, in, idx, now)
		return next, nil
	})
	out.Attempts = attempts
	if err != nil {
		return s.applyFailed(out, err)
	}
	s.committed(out, state, earned)

	s.recordAwards(ctx, ev.TargetID, earned, AwardedBySystem, ev.NaturalKey(), now)
	out.Stage = StageDone
	return out, nil
}

// roleAggregate fetches the role's bounded booking window and live offers.
func (s *Service) roleAggregate(ctx context.Context, providerID string, role eligibility.Role, current *Booking, now time.Time) (eligibility.RoleAggregate, error) {
	window, _ := eligibility.WindowFor(role)
	q := BookingQuery{ProviderID: providerID, Role: string(role), Limit: window.MaxBookings}
	if window.MaxAge > 0 {
		q.Since = now.Add(-window.MaxAge)
	}
	bookings, err := s.bookings.ListCompletedBookings(ctx, q)
	if err != nil {
		return eligibility.RoleAggregate{}, err
	}
	bookings = withBooking(bookings, current, window.MaxBookings)

	offers, err := s.offers.ListActiveOffers(ctx, providerID, string(role), MaxOffers)
	if err != nil {
		return eligibility.RoleAggregate{}, err
	}
	return roleAggregate(role, bookings, offers), nil
}

// apply commits mutate for providerID, retrying with fresh reads while the
// store reports a conflict.
func (s *Service) apply(ctx context.Context, providerID, key string, mutate MutateFunc) (*ProviderState, int, error) {
	var (
		state    *ProviderState
		attempts int
	)
	policy := retry.Policy{MaxAttempts: s.maxAttempts, BaseDelay: s.retryDelay}
	err := policy.Do(ctx, func(attempt int) error {
		attempts = attempt
		st, err := s.providers.Apply(ctx, providerID, key, mutate)
		if errors.Is(err, ErrConflict) {
			metrics.TxConflictsTotal.Inc()
			trace.SpanFromContext(ctx).AddEvent("provider update conflict",
				trace.WithAttributes(traces.Attempt(attempts)))
			s.logger.Debug("provider update conflict, retrying", "provider_id", providerID, "attempt", attempts)
			return err
		}
		if err != nil {
			return retry.Permanent(err)
		}
		state = st
		return nil
	})
	return state, attempts, err
}

// applyFailed maps a commit failure onto the outcome.
func (s *Service) applyFailed(out *Outcome, err error) (*Outcome, error) {
	switch {
	case errors.Is(err, ErrDuplicateEvent):
		return out.reject(ReasonAlreadyApplied), nil
	case errors.Is(err, ErrProviderNotFound):
		return out.drop(err.Error()), nil
	case errors.Is(err, ErrConflict):
		return out, fmt.Errorf("%w: gave up after %d attempts: %w", ErrRetryable, out.Attempts, err)
	}
	return out, retryable("apply", err)
}

func (s *Service) committed(out *Outcome, state *ProviderState, earned []string) {
	out.Status = StatusApplied
	out.Stage = StagePersisted
	out.Score = state.CredibilityScore
	out.NewBadges = earned
}

// settle scores next, adds any newly earned badges and scores again so the
// persisted score already includes them. It returns the new badges.
func (s *Service) settle(next *ProviderState, in eligibility.Input, idx awardIndex, now time.Time) []string {
	next.CredibilityScore = s.calc.ComputeScore(s.factors(*next, idx, nil, now))

	in.Stats = next.Stats
	in.Credits = next.Credits
	in.Held = s.liveBadges(*next, idx, now)
	in.AccountCreatedAt = next.AccountCreatedAt
	in.Now = now
	earned := s.evaluator.Evaluate(in)
	if len(earned) == 0 {
		return nil
	}

	// Renewed time-limited ids are already in the set; AddBadges keeps it unchanged.
	next.AddBadges(earned...)
	next.CredibilityScore = s.calc.ComputeScore(s.factors(*next, idx, earned, now))
	return earned
}

// liveBadges is the held set minus time-limited badges whose awards have all
// lapsed, so the evaluator can renew them before the sweeper removes them.
func (s *Service) liveBadges(st ProviderState, idx awardIndex, now time.Time) map[string]bool {
	held := st.HeldSet()
	for id := range held {
		if def, err := s.catalog.Lookup(id); err == nil && def.TimeLimited && !idx.active(id, now) {
			delete(held, id)
		}
	}
	return held
}

func (s *Service) factors(st ProviderState, idx awardIndex, fresh []string, now time.Time) scoring.CredibilityFactors {
	return scoring.CredibilityFactors{
		Tier:             st.Tier,
		Credits:          st.Credits,
		Stats:            st.Stats,
		AccountCreatedAt: st.AccountCreatedAt,
		ActiveBadges:     s.activeBadges(st.BadgeIDs, idx, fresh, now),
		Now:              now,
	}
}

// activeBadges resolves held ids against the catalog. Ids the catalog does
// not know are skipped; time-limited badges count only while unexpired.
func (s *Service) activeBadges(held []string, idx awardIndex, fresh []string, now time.Time) []badges.Definition {
	active := make([]badges.Definition, 0, len(held))
	for _, id := range held {
		def, err := s.catalog.Lookup(id)
		if err != nil {
			continue
		}
		if def.TimeLimited && !slices.Contains(fresh, id) && !idx.active(id, now) {
			continue
		}
		active = append(active, def)
	}
	return active
}

// recordAwards writes audit records for time-limited badges (and for every
// admin grant). Failures are logged and otherwise ignored.
func (s *Service) recordAwards(ctx context.Context, providerID string, ids []string, by, source string, now time.Time) {
	for _, id := range ids {
		metrics.BadgesAwardedTotal.WithLabelValues(id).Inc()

		def, err := s.catalog.Lookup(id)
		if err != nil || (!def.TimeLimited && by != AwardedByAdmin) {
			continue
		}
		rec := &AwardRecord{
			ID:         idgen.WithPrefix(idgen.PrefixAward),
			ProviderID: providerID,
			BadgeID:    id,
			AwardedAt:  now,
			AwardedBy:  by,
			Source:     source,
		}
		if def.TimeLimited {
			exp := now.AddDate(0, 0, def.ExpiryDays)
			rec.ExpiresAt = &exp
		}
		if err := s.awards.CreateAward(ctx, rec); err != nil {
			metrics.SideEffectFailuresTotal.WithLabelValues("award_record").Inc()
			s.logger.Warn("failed to record badge award",
				"provider_id", providerID, "badge_id", id, "source", source, "error", err)
		}
	}
}

func (s *Service) sideEffectFailed(ctx context.Context, effect string, out *Outcome, err error) {
	metrics.SideEffectFailuresTotal.WithLabelValues(effect).Inc()
	s.logger.WarnContext(ctx, "best-effort side effect failed",
		"effect", effect, "event_key", out.Key, "provider_id", out.ProviderID, "error", err)
}

func retryable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrRetryable, op, err)
}
