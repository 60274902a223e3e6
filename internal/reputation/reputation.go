// Package reputation keeps each provider's credibility score and badge set
// in step with the marketplace.
//
// It consumes booking-completion and review-approval events, updates the
// provider record inside an optimistic transaction, and fires best-effort
// follow-ups (award records, booking markers, review prompts) after commit.
// Every event is applied at most once, keyed by its natural key.
package reputation

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/axmarket/repengine/internal/scoring"
)

var (
	ErrProviderNotFound = errors.New("provider not found")
	ErrProviderExists   = errors.New("provider already exists")
	ErrBookingNotFound  = errors.New("booking not found")
	ErrConflict         = errors.New("provider record changed concurrently")
	ErrDuplicateEvent   = errors.New("event already applied")
	// ErrRetryable marks failures the event source should redeliver.
	ErrRetryable = errors.New("retryable failure")
)

// PositiveRatingThreshold is the lowest rating that counts as a positive review.
const PositiveRatingThreshold = 4

// ProviderState is the reputation-relevant part of a provider record.
type ProviderState struct {
	ProviderID       string          `json:"providerId"`
	Tier             scoring.Tier    `json:"tier"`
	Credits          scoring.Credits `json:"credits"`
	Stats            scoring.Stats   `json:"stats"`
	BadgeIDs         []string        `json:"badgeIds"` // sorted, unique
	CredibilityScore int             `json:"credibilityScore"`
	AccountCreatedAt time.Time       `json:"accountCreatedAt"`
	Version          int64           `json:"version"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Clone returns a deep copy.
func (p ProviderState) Clone() ProviderState {
	p.BadgeIDs = slices.Clone(p.BadgeIDs)
	return p
}

// HasBadge reports whether the provider holds id.
func (p ProviderState) HasBadge(id string) bool {
	_, ok := slices.BinarySearch(p.BadgeIDs, id)
	return ok
}

// HeldSet returns the badge ids as a set.
func (p ProviderState) HeldSet() map[string]bool {
	m := make(map[string]bool, len(p.BadgeIDs))
	for _, id := range p.BadgeIDs {
		m[id] = true
	}
	return m
}

// AddBadges merges ids into the badge set. The set only grows.
func (p *ProviderState) AddBadges(ids ...string) {
	for _, id := range ids {
		i, found := slices.BinarySearch(p.BadgeIDs, id)
		if !found {
			p.BadgeIDs = slices.Insert(p.BadgeIDs, i, id)
		}
	}
}

// RemoveBadge drops id from the badge set. Only badge expiry calls it.
func (p *ProviderState) RemoveBadge(id string) bool {
	i, found := slices.BinarySearch(p.BadgeIDs, id)
	if !found {
		return false
	}
	p.BadgeIDs = slices.Delete(p.BadgeIDs, i, i+1)
	return true
}

// OfferSnapshot is the offer data copied onto a booking when it was made.
type OfferSnapshot struct {
	Role          string   `json:"role,omitempty"`
	Kind          string   `json:"kind,omitempty"`
	LicenseType   string   `json:"licenseType,omitempty"`
	ServiceType   string   `json:"serviceType,omitempty"`
	EquipmentTags []string `json:"equipmentTags,omitempty"`
}

// Booking is the engine's view of a booking record.
type Booking struct {
	ID            string        `json:"id"`
	ProviderID    string        `json:"providerId"`
	ClientID      string        `json:"clientId"`
	Status        string        `json:"status"`
	IsPaid        bool          `json:"isPaid"`
	WasRefunded   bool          `json:"wasRefunded"`
	CreditAwarded bool          `json:"creditAwarded"`
	OfferID       string        `json:"offerId,omitempty"`
	BYOInviteID   string        `json:"byoInviteId,omitempty"`
	Offer         OfferSnapshot `json:"offer"`
	CompletedAt   time.Time     `json:"completedAt,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// Offer is a listing a provider publishes.
type Offer struct {
	ID            string    `json:"id"`
	ProviderID    string    `json:"providerId"`
	Role          string    `json:"role"`
	Kind          string    `json:"kind"`
	LicenseType   string    `json:"licenseType,omitempty"`
	ServiceType   string    `json:"serviceType,omitempty"`
	EquipmentTags []string  `json:"equipmentTags,omitempty"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Review is a client review of a provider.
type Review struct {
	ID         string    `json:"id"`
	ProviderID string    `json:"providerId"`
	BookingID  string    `json:"bookingId"`
	Rating     int       `json:"rating"`
	Visible    bool      `json:"visible"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Who granted an award.
const (
	AwardedBySystem = "system"
	AwardedByAdmin  = "admin"
)

// AwardRecord is the audit trail for a badge grant.
type AwardRecord struct {
	ID         string     `json:"id"`
	ProviderID string     `json:"providerId"`
	BadgeID    string     `json:"badgeId"`
	AwardedAt  time.Time  `json:"awardedAt"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	AwardedBy  string     `json:"awardedBy"`
	Source     string     `json:"source"` // event key that triggered the grant
}

// Expired reports whether the award has lapsed at now.
func (a *AwardRecord) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}

// MutateFunc derives the next provider state from the current one. It may be
// called more than once when a commit conflicts and must not have side effects.
type MutateFunc func(cur ProviderState) (ProviderState, error)

// Store persists provider records.
type Store interface {
	CreateProvider(ctx context.Context, p *ProviderState) error
	GetProvider(ctx context.Context, providerID string) (*ProviderState, error)
	// Apply reads the provider, runs mutate and commits the result together
	// with eventKey. It fails with ErrConflict if the record changed since the
	// read and with ErrDuplicateEvent if eventKey was already committed.
	Apply(ctx context.Context, providerID, eventKey string, mutate MutateFunc) (*ProviderState, error)
}

// BookingQuery selects completed bookings, newest first.
type BookingQuery struct {
	ProviderID string
	Role       string    // matches the offer snapshot role; empty means any
	Since      time.Time // zero means no lower bound
	Limit      int
}

// BookingStore reads bookings and writes the credit marker.
type BookingStore interface {
	GetBooking(ctx context.Context, id string) (*Booking, error)
	ListCompletedBookings(ctx context.Context, q BookingQuery) ([]*Booking, error)
	MarkCreditAwarded(ctx context.Context, id string) error
}

// OfferStore reads provider offers.
type OfferStore interface {
	ListActiveOffers(ctx context.Context, providerID, role string, limit int) ([]*Offer, error)
}

// ReviewStore reads reviews.
type ReviewStore interface {
	// ListRecentReviews returns visible approved reviews, newest first.
	ListRecentReviews(ctx context.Context, providerID string, limit int) ([]*Review, error)
}

// AwardStore persists award records.
type AwardStore interface {
	CreateAward(ctx context.Context, a *AwardRecord) error
	ListAwards(ctx context.Context, providerID string) ([]*AwardRecord, error)
	// ListExpiredAwards returns awards expired at before whose expiry has
	// not yet been applied.
	ListExpiredAwards(ctx context.Context, before time.Time, limit int) ([]*AwardRecord, error)
	// SkipAward marks an award's expiry as handled without touching any
	// provider, removing it from ListExpiredAwards.
	SkipAward(ctx context.Context, a *AwardRecord, at time.Time) error
}

// Stores groups the collections the service reads and writes.
type Stores struct {
	Providers Store
	Bookings  BookingStore
	Offers    OfferStore
	Reviews   ReviewStore
	Awards    AwardStore
}

// Backend is implemented by stores that hold every collection.
type Backend interface {
	Store
	BookingStore
	OfferStore
	ReviewStore
	AwardStore
}

// StoresFrom uses b for every collection.
func StoresFrom(b Backend) Stores {
	return Stores{Providers: b, Bookings: b, Offers: b, Reviews: b, Awards: b}
}

// Signaler sends downstream signals. Calls are fire-and-forget; an error
// only means the signal could not be handed off.
type Signaler interface {
	RequestReview(ctx context.Context, providerID, clientID, bookingID string) error
}
