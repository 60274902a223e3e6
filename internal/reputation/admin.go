package reputation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/axmarket/repengine/internal/badges"
	"github.com/axmarket/repengine/internal/idgen"
	"github.com/axmarket/repengine/internal/metrics"
	"github.com/axmarket/repengine/internal/pagination"
	"github.com/axmarket/repengine/internal/scoring"
	"github.com/axmarket/repengine/internal/traces"
)

var ErrBadgeHeld = errors.New("badge already held")

// ExpiryEventKey is the idempotency key for applying an award's expiry.
func ExpiryEventKey(awardID string) string { return "expiry:" + awardID }

// Reputation is the read model served for a provider.
type Reputation struct {
	Provider     ProviderState       `json:"provider"`
	Breakdown    scoring.Components  `json:"breakdown"`
	ActiveBadges []badges.Definition `json:"activeBadges"`
	Awards       []*AwardRecord      `json:"awards,omitempty"`
}

// GetReputation returns the stored record plus a breakdown computed at the
// current time.
func (s *Service) GetReputation(ctx context.Context, providerID string) (*Reputation, error) {
	p, err := s.providers.GetProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	awards, err := s.awards.ListAwards(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("list awards: %w", err)
	}
	f := s.factors(*p, indexAwards(awards), nil, s.now())
	return &Reputation{
		Provider:     *p,
		Breakdown:    s.calc.Breakdown(f),
		ActiveBadges: f.ActiveBadges,
		Awards:       awards,
	}, nil
}

// RegisterProvider creates a provider record with a zero history. Signup
// normally happens upstream; this mirrors it for demo mode and backfills.
func (s *Service) RegisterProvider(ctx context.Context, providerID string, tier scoring.Tier, createdAt time.Time) (*ProviderState, error) {
	if tier == "" {
		tier = scoring.TierStandard
	}
	if !tier.Valid() {
		return nil, fmt.Errorf("invalid tier %q", tier)
	}
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	p := &ProviderState{
		ProviderID:       providerID,
		Tier:             tier,
		AccountCreatedAt: createdAt,
		BadgeIDs:         []string{},
	}
	p.CredibilityScore = s.calc.ComputeScore(s.factors(*p, nil, nil, s.now()))
	if err := s.providers.CreateProvider(ctx, p); err != nil {
		return nil, err
	}
	return s.providers.GetProvider(ctx, providerID)
}

// GrantBadge awards badgeID to a provider by hand and rescores. The grant
// is recorded with AwardedBy=admin.
func (s *Service) GrantBadge(ctx context.Context, providerID, badgeID, note string) (*ProviderState, error) {
	ctx, span := traces.StartSpan(ctx, "reputation.GrantBadge",
		traces.ProviderID(providerID), traces.BadgeID(badgeID))
	defer span.End()

	if _, err := s.catalog.Lookup(badgeID); err != nil {
		return nil, err
	}
	awards, err := s.awards.ListAwards(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("list awards: %w", err)
	}
	idx := indexAwards(awards)
	now := s.now()
	fresh := []string{badgeID}

	key := "grant:" + idgen.WithPrefix(idgen.PrefixGrant)
	state, _, err := s.apply(ctx, providerID, key, func(cur ProviderState) (ProviderState, error) {
		if cur.HasBadge(badgeID) {
			return cur, ErrBadgeHeld
		}
		next := cur.Clone()
		next.AddBadges(badgeID)
		next.CredibilityScore = s.calc.ComputeScore(s.factors(next, idx, fresh, now))
		return next, nil
	})
	if err != nil {
		return nil, err
	}

	source := "admin"
	if note != "" {
		source = "admin: " + note
	}
	s.recordAwards(ctx, providerID, fresh, AwardedByAdmin, source, now)
	s.logger.Info("badge granted", "provider_id", providerID, "badge_id", badgeID, "score", state.CredibilityScore)
	return state, nil
}

// ExpireAward applies the expiry of a time-limited award: the badge is
// removed unless another unexpired award for it exists, and the score is
// recomputed. It reports whether the badge was removed. Expiring the same
// award twice is a no-op.
func (s *Service) ExpireAward(ctx context.Context, rec *AwardRecord) (bool, error) {
	ctx, span := traces.StartSpan(ctx, "reputation.ExpireAward",
		traces.ProviderID(rec.ProviderID), traces.BadgeID(rec.BadgeID))
	defer span.End()

	now := s.now()
	if !rec.Expired(now) {
		return false, nil
	}
	awards, err := s.awards.ListAwards(ctx, rec.ProviderID)
	if err != nil {
		return false, fmt.Errorf("list awards: %w", err)
	}
	idx := indexAwards(awards)

	var removed bool
	_, _, err = s.apply(ctx, rec.ProviderID, ExpiryEventKey(rec.ID), func(cur ProviderState) (ProviderState, error) {
		next := cur.Clone()
		removed = false
		if !idx.active(rec.BadgeID, now) {
			removed = next.RemoveBadge(rec.BadgeID)
		}
		next.CredibilityScore = s.calc.ComputeScore(s.factors(next, idx, nil, now))
		return next, nil
	})
	if errors.Is(err, ErrDuplicateEvent) {
		return false, nil
	}
	if errors.Is(err, ErrProviderNotFound) {
		s.logger.Warn("award belongs to unknown provider, skipping",
			"provider_id", rec.ProviderID, "badge_id", rec.BadgeID, "award_id", rec.ID)
		if err := s.awards.SkipAward(ctx, rec, now); err != nil {
			return false, err
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if removed {
		metrics.BadgesExpiredTotal.Inc()
		s.logger.Info("badge expired", "provider_id", rec.ProviderID, "badge_id", rec.BadgeID, "award_id", rec.ID)
	}
	return removed, nil
}

// ListExpiredAwards exposes the award store to the expiry sweeper.
func (s *Service) ListExpiredAwards(ctx context.Context, limit int) ([]*AwardRecord, error) {
	return s.awards.ListExpiredAwards(ctx, s.now(), limit)
}

// AwardPage is one page of a provider's award history, newest first.
type AwardPage struct {
	Awards     []*AwardRecord `json:"awards"`
	NextCursor string         `json:"nextCursor,omitempty"`
	HasMore    bool           `json:"hasMore"`
}

// ListAwardHistory pages through a provider's award records ordered by
// award time descending.
func (s *Service) ListAwardHistory(ctx context.Context, providerID string, cursor *pagination.Cursor, limit int) (*AwardPage, error) {
	if _, err := s.providers.GetProvider(ctx, providerID); err != nil {
		return nil, err
	}
	all, err := s.awards.ListAwards(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("list awards: %w", err)
	}
	slices.SortFunc(all, func(a, b *AwardRecord) int {
		if c := b.AwardedAt.Compare(a.AwardedAt); c != 0 {
			return c
		}
		return cmpDesc(a.ID, b.ID)
	})

	page := make([]*AwardRecord, 0, limit+1)
	for _, a := range all {
		if !cursor.Before(a.AwardedAt, a.ID) {
			continue
		}
		page = append(page, a)
		if len(page) > limit {
			break
		}
	}
	items, next, more := pagination.ComputePage(page, limit, func(a *AwardRecord) (time.Time, string) {
		return a.AwardedAt, a.ID
	})
	return &AwardPage{Awards: items, NextCursor: next, HasMore: more}, nil
}

func cmpDesc(a, b string) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	}
	return 0
}
