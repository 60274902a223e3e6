package reputation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/lib/pq"

	"github.com/axmarket/repengine/internal/scoring"
)

// Compile-time check that PostgresStore implements every collection.
var _ Backend = (*PostgresStore)(nil)

// PostgresStore implements the reputation collections on PostgreSQL. The
// schema lives in migrations/ and is applied with goose.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Ping reports whether the database is reachable.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

const providerColumns = `provider_id, tier,
	ax_verified_credits, client_confirmed_credits, self_reported_credits,
	completed_bookings, positive_review_count, response_rate_pct,
	avg_response_time_hours, last_completed_at, distinct_clients_90d,
	badge_ids, credibility_score, account_created_at, version, updated_at`

func (p *PostgresStore) CreateProvider(ctx context.Context, ps *ProviderState) error {
	badgeIDs := slices.Compact(slices.Sorted(slices.Values(ps.BadgeIDs)))
	if badgeIDs == nil {
		badgeIDs = []string{}
	}
	updatedAt := ps.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO providers (`+providerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		ps.ProviderID, string(ps.Tier),
		ps.Credits.AxVerified, ps.Credits.ClientConfirmed, ps.Credits.SelfReported,
		ps.Stats.CompletedBookings, ps.Stats.PositiveReviewCount, ps.Stats.ResponseRatePct,
		ps.Stats.AvgResponseTimeHours, nullTime(ps.Stats.LastCompletedAt), ps.Stats.DistinctClients90d,
		pq.Array(badgeIDs), ps.CredibilityScore, ps.AccountCreatedAt, ps.Version, updatedAt,
	)
	if isUniqueViolation(err) {
		return ErrProviderExists
	}
	if err != nil {
		return fmt.Errorf("insert provider: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetProvider(ctx context.Context, providerID string) (*ProviderState, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+providerColumns+` FROM providers WHERE provider_id = $1`, providerID)
	ps, err := scanProvider(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProviderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get provider: %w", err)
	}
	return ps, nil
}

// Apply is an optimistic read-modify-write. The row is read without a lock;
// the UPDATE only succeeds if version is unchanged, and the event key is
// inserted in the same transaction so a key commits at most once.
func (p *PostgresStore) Apply(ctx context.Context, providerID, eventKey string, mutate MutateFunc) (*ProviderState, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var applied bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_key = $1)`, eventKey,
	).Scan(&applied); err != nil {
		return nil, fmt.Errorf("check event key: %w", err)
	}
	if applied {
		return nil, ErrDuplicateEvent
	}

	cur, err := scanProvider(tx.QueryRowContext(ctx,
		`SELECT `+providerColumns+` FROM providers WHERE provider_id = $1`, providerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProviderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read provider: %w", err)
	}

	next, err := mutate(cur.Clone())
	if err != nil {
		return nil, err
	}
	next.ProviderID = providerID
	next.Version = cur.Version + 1
	next.UpdatedAt = time.Now()
	if next.BadgeIDs == nil {
		next.BadgeIDs = []string{}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE providers SET
			tier                     = $2,
			ax_verified_credits      = $3,
			client_confirmed_credits = $4,
			self_reported_credits    = $5,
			completed_bookings       = $6,
			positive_review_count    = $7,
			response_rate_pct        = $8,
			avg_response_time_hours  = $9,
			last_completed_at        = $10,
			distinct_clients_90d     = $11,
			badge_ids                = $12,
			credibility_score        = $13,
			version                  = $14,
			updated_at               = $15
		WHERE provider_id = $1 AND version = $16
	`,
		providerID, string(next.Tier),
		next.Credits.AxVerified, next.Credits.ClientConfirmed, next.Credits.SelfReported,
		next.Stats.CompletedBookings, next.Stats.PositiveReviewCount, next.Stats.ResponseRatePct,
		next.Stats.AvgResponseTimeHours, nullTime(next.Stats.LastCompletedAt), next.Stats.DistinctClients90d,
		pq.Array(next.BadgeIDs), next.CredibilityScore, next.Version, next.UpdatedAt,
		cur.Version,
	)
	if err != nil {
		return nil, txError("update provider", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return nil, ErrConflict
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO processed_events (event_key, provider_id, processed_at) VALUES ($1, $2, $3)`,
		eventKey, providerID, next.UpdatedAt,
	); err != nil {
		return nil, txError("record event key", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, txError("commit", err)
	}
	return &next, nil
}

const bookingColumns = `id, provider_id, client_id, status, is_paid, was_refunded,
	credit_awarded, offer_id, byo_invite_id, offer_role, offer_kind, license_type,
	service_type, equipment_tags, completed_at, created_at`

// UpsertBooking writes a booking row. The marketplace owns this table; the
// method exists for backfills and tests.
func (p *PostgresStore) UpsertBooking(ctx context.Context, b *Booking) error {
	tags := b.Offer.EquipmentTags
	if tags == nil {
		tags = []string{}
	}
	createdAt := b.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			status         = EXCLUDED.status,
			is_paid        = EXCLUDED.is_paid,
			was_refunded   = EXCLUDED.was_refunded,
			credit_awarded = bookings.credit_awarded OR EXCLUDED.credit_awarded,
			completed_at   = EXCLUDED.completed_at
	`,
		b.ID, b.ProviderID, b.ClientID, b.Status, b.IsPaid, b.WasRefunded,
		b.CreditAwarded, nullString(b.OfferID), nullString(b.BYOInviteID),
		nullString(b.Offer.Role), nullString(b.Offer.Kind), nullString(b.Offer.LicenseType),
		nullString(b.Offer.ServiceType), pq.Array(tags), nullTime(b.CompletedAt), createdAt,
	)
	if err != nil {
		return fmt.Errorf("upsert booking: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetBooking(ctx context.Context, id string) (*Booking, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

func (p *PostgresStore) ListCompletedBookings(ctx context.Context, q BookingQuery) ([]*Booking, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = MaxHistoryBookings
	}
	var since any
	if !q.Since.IsZero() {
		since = q.Since
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE provider_id = $1 AND status = 'completed'
		  AND ($2::TEXT = '' OR LOWER(offer_role) = LOWER($2))
		  AND ($3::TIMESTAMPTZ IS NULL OR completed_at >= $3)
		ORDER BY completed_at DESC NULLS LAST, id
		LIMIT $4
	`, q.ProviderID, q.Role, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list completed bookings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func (p *PostgresStore) MarkCreditAwarded(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE bookings SET credit_awarded = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark credit awarded: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrBookingNotFound
	}
	return nil
}

// UpsertOffer writes an offer row for backfills and tests.
func (p *PostgresStore) UpsertOffer(ctx context.Context, o *Offer) error {
	tags := o.EquipmentTags
	if tags == nil {
		tags = []string{}
	}
	createdAt := o.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO offers (id, provider_id, role, kind, license_type, service_type, equipment_tags, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			kind           = EXCLUDED.kind,
			license_type   = EXCLUDED.license_type,
			service_type   = EXCLUDED.service_type,
			equipment_tags = EXCLUDED.equipment_tags,
			active         = EXCLUDED.active
	`,
		o.ID, o.ProviderID, o.Role, o.Kind, nullString(o.LicenseType), nullString(o.ServiceType),
		pq.Array(tags), o.Active, createdAt,
	)
	if err != nil {
		return fmt.Errorf("upsert offer: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListActiveOffers(ctx context.Context, providerID, role string, limit int) ([]*Offer, error) {
	if limit <= 0 {
		limit = MaxOffers
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, provider_id, role, kind, license_type, service_type, equipment_tags, active, created_at
		FROM offers
		WHERE provider_id = $1 AND active
		  AND ($2::TEXT = '' OR LOWER(role) = LOWER($2))
		ORDER BY id
		LIMIT $3
	`, providerID, role, limit)
	if err != nil {
		return nil, fmt.Errorf("list active offers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Offer
	for rows.Next() {
		var (
			o                Offer
			license, service sql.NullString
			tags             []string
		)
		if err := rows.Scan(&o.ID, &o.ProviderID, &o.Role, &o.Kind, &license, &service,
			pq.Array(&tags), &o.Active, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		o.LicenseType = license.String
		o.ServiceType = service.String
		o.EquipmentTags = tags
		result = append(result, &o)
	}
	return result, rows.Err()
}

// UpsertReview writes a review row for backfills and tests.
func (p *PostgresStore) UpsertReview(ctx context.Context, r *Review) error {
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO reviews (id, provider_id, booking_id, rating, visible, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			visible = EXCLUDED.visible,
			status  = EXCLUDED.status
	`, r.ID, r.ProviderID, r.BookingID, r.Rating, r.Visible, r.Status, createdAt)
	if err != nil {
		return fmt.Errorf("upsert review: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListRecentReviews(ctx context.Context, providerID string, limit int) ([]*Review, error) {
	if limit <= 0 {
		limit = MaxStreakReviews
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, provider_id, booking_id, rating, visible, status, created_at
		FROM reviews
		WHERE provider_id = $1 AND visible AND status = 'approved'
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, providerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent reviews: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Review
	for rows.Next() {
		var r Review
		if err := rows.Scan(&r.ID, &r.ProviderID, &r.BookingID, &r.Rating, &r.Visible, &r.Status, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		result = append(result, &r)
	}
	return result, rows.Err()
}

func (p *PostgresStore) CreateAward(ctx context.Context, a *AwardRecord) error {
	var expires any
	if a.ExpiresAt != nil {
		expires = *a.ExpiresAt
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO awarded_badges (id, provider_id, badge_id, awarded_at, expires_at, awarded_by, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.ID, a.ProviderID, a.BadgeID, a.AwardedAt, expires, a.AwardedBy, a.Source)
	if err != nil {
		return fmt.Errorf("insert award: %w", err)
	}
	return nil
}

const awardColumns = `a.id, a.provider_id, a.badge_id, a.awarded_at, a.expires_at, a.awarded_by, a.source`

func (p *PostgresStore) ListAwards(ctx context.Context, providerID string) ([]*AwardRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+awardColumns+` FROM awarded_badges a
		WHERE a.provider_id = $1
		ORDER BY a.awarded_at, a.id
	`, providerID)
	if err != nil {
		return nil, fmt.Errorf("list awards: %w", err)
	}
	return scanAwards(rows)
}

func (p *PostgresStore) SkipAward(ctx context.Context, a *AwardRecord, at time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO processed_events (event_key, provider_id, processed_at) VALUES ($1, $2, $3)
		ON CONFLICT (event_key) DO NOTHING
	`, ExpiryEventKey(a.ID), a.ProviderID, at)
	if err != nil {
		return fmt.Errorf("skip award: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListExpiredAwards(ctx context.Context, before time.Time, limit int) ([]*AwardRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+awardColumns+` FROM awarded_badges a
		WHERE a.expires_at IS NOT NULL AND a.expires_at <= $1
		  AND NOT EXISTS (
			SELECT 1 FROM processed_events e WHERE e.event_key = 'expiry:' || a.id
		  )
		ORDER BY a.expires_at, a.id
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired awards: %w", err)
	}
	return scanAwards(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProvider(row rowScanner) (*ProviderState, error) {
	var (
		ps            ProviderState
		tier          string
		lastCompleted sql.NullTime
		badgeIDs      []string
	)
	err := row.Scan(
		&ps.ProviderID, &tier,
		&ps.Credits.AxVerified, &ps.Credits.ClientConfirmed, &ps.Credits.SelfReported,
		&ps.Stats.CompletedBookings, &ps.Stats.PositiveReviewCount, &ps.Stats.ResponseRatePct,
		&ps.Stats.AvgResponseTimeHours, &lastCompleted, &ps.Stats.DistinctClients90d,
		pq.Array(&badgeIDs), &ps.CredibilityScore, &ps.AccountCreatedAt, &ps.Version, &ps.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	ps.Tier = scoring.Tier(tier)
	if lastCompleted.Valid {
		ps.Stats.LastCompletedAt = lastCompleted.Time
	}
	slices.Sort(badgeIDs)
	ps.BadgeIDs = slices.Compact(badgeIDs)
	return &ps, nil
}

func scanBooking(row rowScanner) (*Booking, error) {
	var b Booking
	var offerID, byo, role, kind, license, service sql.NullString
	var tags []string
	var completedAt sql.NullTime
	err := row.Scan(&b.ID, &b.ProviderID, &b.ClientID, &b.Status, &b.IsPaid, &b.WasRefunded,
		&b.CreditAwarded, &offerID, &byo, &role, &kind, &license,
		&service, pq.Array(&tags), &completedAt, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	b.OfferID = offerID.String
	b.BYOInviteID = byo.String
	b.Offer = OfferSnapshot{
		Role:          role.String,
		Kind:          kind.String,
		LicenseType:   license.String,
		ServiceType:   service.String,
		EquipmentTags: tags,
	}
	if completedAt.Valid {
		b.CompletedAt = completedAt.Time
	}
	return &b, nil
}

func scanAwards(rows *sql.Rows) ([]*AwardRecord, error) {
	defer func() { _ = rows.Close() }()

	var result []*AwardRecord
	for rows.Next() {
		var (
			a       AwardRecord
			expires sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.ProviderID, &a.BadgeID, &a.AwardedAt, &expires, &a.AwardedBy, &a.Source); err != nil {
			return nil, fmt.Errorf("scan award: %w", err)
		}
		if expires.Valid {
			t := expires.Time
			a.ExpiresAt = &t
		}
		result = append(result, &a)
	}
	return result, rows.Err()
}

// txError maps serialization failures and deadlocks to ErrConflict and
// unique violations on the event key to ErrDuplicateEvent.
func txError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%s: %w: %s", op, ErrConflict, pqErr.Message)
		case "23505":
			return fmt.Errorf("%s: %w", op, ErrDuplicateEvent)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
