//go:build integration

package reputation

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axmarket/repengine/internal/badges"
	"github.com/axmarket/repengine/internal/events"
	"github.com/axmarket/repengine/internal/scoring"
	"github.com/axmarket/repengine/internal/testutil"
)

func setupPostgres(t *testing.T) (*PostgresStore, *sql.DB) {
	t.Helper()
	db, cleanup := testutil.PGTest(t)
	t.Cleanup(cleanup)
	return NewPostgresStore(db), db
}

func pgProvider(t *testing.T, s *PostgresStore, id string) {
	t.Helper()
	require.NoError(t, s.CreateProvider(context.Background(), &ProviderState{
		ProviderID:       id,
		Tier:             scoring.TierStandard,
		AccountCreatedAt: now.AddDate(0, -3, 0),
	}))
}

func TestPostgresProviderLifecycle(t *testing.T) {
	s, _ := setupPostgres(t)
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	pgProvider(t, s, "prov_pg")
	assert.ErrorIs(t, s.CreateProvider(ctx, &ProviderState{ProviderID: "prov_pg", Tier: scoring.TierStandard}), ErrProviderExists)

	p, err := s.GetProvider(ctx, "prov_pg")
	require.NoError(t, err)
	assert.Equal(t, scoring.TierStandard, p.Tier)
	assert.Empty(t, p.BadgeIDs)
	assert.Zero(t, p.Version)

	_, err = s.GetProvider(ctx, "nobody")
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestPostgresApply(t *testing.T) {
	s, _ := setupPostgres(t)
	ctx := context.Background()
	pgProvider(t, s, "prov_ap")

	last := now.Add(-time.Hour).UTC()
	got, err := s.Apply(ctx, "prov_ap", "booking:bk_1", func(cur ProviderState) (ProviderState, error) {
		next := applyBooking(cur, bookingEffect{Source: scoring.SourceAxVerified, CompletedAt: last, DistinctClients: 1})
		next.AddBadges(badges.FirstBooking)
		next.CredibilityScore = 42
		return next, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)

	p, err := s.GetProvider(ctx, "prov_ap")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Stats.CompletedBookings)
	assert.Equal(t, 1, p.Credits.AxVerified)
	assert.Equal(t, []string{badges.FirstBooking}, p.BadgeIDs)
	assert.Equal(t, 42, p.CredibilityScore)
	assert.True(t, last.Equal(p.Stats.LastCompletedAt))

	_, err = s.Apply(ctx, "prov_ap", "booking:bk_1", func(cur ProviderState) (ProviderState, error) {
		t.Fatal("mutate must not run for an applied key")
		return cur, nil
	})
	assert.ErrorIs(t, err, ErrDuplicateEvent)

	_, err = s.Apply(ctx, "nobody", "booking:bk_2", func(cur ProviderState) (ProviderState, error) { return cur, nil })
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestPostgresApplyDetectsConflict(t *testing.T) {
	s, db := setupPostgres(t)
	ctx := context.Background()
	pgProvider(t, s, "prov_cf")

	_, err := s.Apply(ctx, "prov_cf", "booking:bk_a", func(cur ProviderState) (ProviderState, error) {
		// A concurrent writer commits between our read and our update.
		_, err := db.ExecContext(ctx, `UPDATE providers SET version = version + 1 WHERE provider_id = $1`, "prov_cf")
		require.NoError(t, err)
		next := cur.Clone()
		next.Stats.CompletedBookings++
		return next, nil
	})
	assert.ErrorIs(t, err, ErrConflict)

	var processed bool
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_key = 'booking:bk_a')`).Scan(&processed))
	assert.False(t, processed, "a conflicted attempt must not record its key")
}

func TestPostgresBookingQueries(t *testing.T) {
	s, _ := setupPostgres(t)
	ctx := context.Background()

	put := func(id, client, role string, status string, ago time.Duration) {
		require.NoError(t, s.UpsertBooking(ctx, &Booking{
			ID: id, ProviderID: "prov_q", ClientID: client, Status: status, IsPaid: true,
			Offer:       OfferSnapshot{Role: role, ServiceType: "mixing", EquipmentTags: []string{"desk"}},
			CompletedAt: now.Add(-ago),
		}))
	}
	put("bk_1", "c1", "engineer", events.BookingCompleted, time.Hour)
	put("bk_2", "c2", "Engineer", events.BookingCompleted, 40*24*time.Hour)
	put("bk_3", "c3", "producer", events.BookingCompleted, 2*time.Hour)
	put("bk_4", "c4", "engineer", events.BookingConfirmed, time.Hour)

	all, err := s.ListCompletedBookings(ctx, BookingQuery{ProviderID: "prov_q"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "bk_1", all[0].ID, "newest first")

	role, err := s.ListCompletedBookings(ctx, BookingQuery{ProviderID: "prov_q", Role: "engineer"})
	require.NoError(t, err)
	assert.Len(t, role, 2)
	assert.Equal(t, []string{"desk"}, role[0].Offer.EquipmentTags)

	recent, err := s.ListCompletedBookings(ctx, BookingQuery{ProviderID: "prov_q", Since: now.Add(-ActivityWindow), Limit: 1})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "bk_1", recent[0].ID)

	require.NoError(t, s.MarkCreditAwarded(ctx, "bk_1"))
	b, err := s.GetBooking(ctx, "bk_1")
	require.NoError(t, err)
	assert.True(t, b.CreditAwarded)

	assert.ErrorIs(t, s.MarkCreditAwarded(ctx, "bk_missing"), ErrBookingNotFound)
	_, err = s.GetBooking(ctx, "bk_missing")
	assert.ErrorIs(t, err, ErrBookingNotFound)
}

func TestPostgresOffersAndReviews(t *testing.T) {
	s, _ := setupPostgres(t)
	ctx := context.Background()

	for i, active := range []bool{true, true, false} {
		require.NoError(t, s.UpsertOffer(ctx, &Offer{
			ID: fmt.Sprintf("off_%d", i), ProviderID: "prov_o", Role: "producer", Kind: "beat",
			EquipmentTags: []string{"mpc"}, Active: active,
		}))
	}
	offers, err := s.ListActiveOffers(ctx, "prov_o", "producer", MaxOffers)
	require.NoError(t, err)
	assert.Len(t, offers, 2)

	for i, r := range []struct {
		rating  int
		visible bool
	}{{5, true}, {4, true}, {5, false}} {
		require.NoError(t, s.UpsertReview(ctx, &Review{
			ID: fmt.Sprintf("rv_%d", i), ProviderID: "prov_o", BookingID: "bk_x",
			Rating: r.rating, Visible: r.visible, Status: events.ReviewApproved,
			CreatedAt: now.Add(-time.Duration(i) * time.Hour),
		}))
	}
	reviews, err := s.ListRecentReviews(ctx, "prov_o", MaxStreakReviews)
	require.NoError(t, err)
	require.Len(t, reviews, 2)
	assert.Equal(t, "rv_0", reviews[0].ID)
}

func TestPostgresAwards(t *testing.T) {
	s, _ := setupPostgres(t)
	ctx := context.Background()
	pgProvider(t, s, "prov_aw")

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	require.NoError(t, s.CreateAward(ctx, &AwardRecord{ID: "awd_1", ProviderID: "prov_aw", BadgeID: badges.InDemand, AwardedAt: now.AddDate(0, 0, -30), ExpiresAt: &past, AwardedBy: AwardedBySystem}))
	require.NoError(t, s.CreateAward(ctx, &AwardRecord{ID: "awd_2", ProviderID: "prov_aw", BadgeID: badges.RisingStar, AwardedAt: now, ExpiresAt: &future, AwardedBy: AwardedBySystem}))
	require.NoError(t, s.CreateAward(ctx, &AwardRecord{ID: "awd_3", ProviderID: "prov_aw", BadgeID: badges.CenturyClub, AwardedAt: now, AwardedBy: AwardedByAdmin, Source: "admin"}))

	awards, err := s.ListAwards(ctx, "prov_aw")
	require.NoError(t, err)
	assert.Len(t, awards, 3)

	expired, err := s.ListExpiredAwards(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "awd_1", expired[0].ID)

	_, err = s.Apply(ctx, "prov_aw", ExpiryEventKey("awd_1"), func(cur ProviderState) (ProviderState, error) { return cur, nil })
	require.NoError(t, err)
	expired, err = s.ListExpiredAwards(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, expired)

	orphan := &AwardRecord{ID: "awd_orphan", ProviderID: "prov_gone", BadgeID: badges.InDemand, AwardedAt: now.AddDate(0, 0, -30), ExpiresAt: &past, AwardedBy: AwardedBySystem}
	require.NoError(t, s.CreateAward(ctx, orphan))
	expired, err = s.ListExpiredAwards(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)

	require.NoError(t, s.SkipAward(ctx, orphan, now))
	require.NoError(t, s.SkipAward(ctx, orphan, now), "skipping twice is a no-op")
	expired, err = s.ListExpiredAwards(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestPostgresServiceConcurrentEvents(t *testing.T) {
	s, _ := setupPostgres(t)
	ctx := context.Background()
	pgProvider(t, s, "prov_svc")

	svc, err := NewService(StoresFrom(s), scoring.NewCalculator(), badges.Default(),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithRetry(20, time.Millisecond),
		WithClock(func() time.Time { return now }),
	)
	require.NoError(t, err)

	const n = 8
	for i := 0; i < n; i++ {
		require.NoError(t, s.UpsertBooking(ctx, &Booking{
			ID: fmt.Sprintf("bk_%d", i), ProviderID: "prov_svc", ClientID: fmt.Sprintf("cli_%d", i),
			Status: events.BookingCompleted, IsPaid: true, CompletedAt: now.Add(-time.Hour),
		}))
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := svc.HandleEvent(ctx, &events.BookingCompletedEvent{
				BookingID: fmt.Sprintf("bk_%d", i), ProviderID: "prov_svc", ClientID: fmt.Sprintf("cli_%d", i),
				Status: events.BookingCompleted, IsPaid: true,
			})
			assert.NoError(t, err)
			if out != nil {
				assert.Equal(t, StatusApplied, out.Status)
			}
		}(i)
	}
	wg.Wait()

	p, err := s.GetProvider(ctx, "prov_svc")
	require.NoError(t, err)
	assert.Equal(t, n, p.Stats.CompletedBookings)
	assert.Equal(t, n, p.Stats.DistinctClients90d)
	assert.True(t, p.HasBadge(badges.FirstBooking))
	assert.True(t, p.HasBadge(badges.InDemand))

	awards, err := s.ListAwards(ctx, "prov_svc")
	require.NoError(t, err)
	require.Len(t, awards, 1)
	assert.Equal(t, badges.InDemand, awards[0].BadgeID)

	for i := 0; i < n; i++ {
		b, err := s.GetBooking(ctx, fmt.Sprintf("bk_%d", i))
		require.NoError(t, err)
		assert.True(t, b.CreditAwarded)
	}
}
