package reputation

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/axmarket/repengine/internal/events"
)

var _ Backend = (*MemoryStore)(nil)

// MemoryStore is an in-memory backend for demo/development mode and tests.
type MemoryStore struct {
	providers map[string]*ProviderState
	processed map[string]struct{} // applied event keys
	bookings  map[string]*Booking
	offers    map[string]*Offer
	reviews   map[string]*Review
	awards    []*AwardRecord
	mu        sync.RWMutex
}

// NewMemoryStore creates an empty in-memory backend.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		providers: make(map[string]*ProviderState),
		processed: make(map[string]struct{}),
		bookings:  make(map[string]*Booking),
		offers:    make(map[string]*Offer),
		reviews:   make(map[string]*Review),
	}
}

func (m *MemoryStore) CreateProvider(ctx context.Context, p *ProviderState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.providers[p.ProviderID]; ok {
		return ErrProviderExists
	}
	cp := p.Clone()
	slices.Sort(cp.BadgeIDs)
	cp.BadgeIDs = slices.Compact(cp.BadgeIDs)
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}
	m.providers[p.ProviderID] = &cp
	return nil
}

func (m *MemoryStore) GetProvider(ctx context.Context, providerID string) (*ProviderState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.providers[providerID]
	if !ok {
		return nil, ErrProviderNotFound
	}
	cp := p.Clone()
	return &cp, nil
}

// Apply runs mutate without holding the lock and commits only if the
// provider's version is unchanged.
func (m *MemoryStore) Apply(ctx context.Context, providerID, eventKey string, mutate MutateFunc) (*ProviderState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	p, ok := m.providers[providerID]
	var cur ProviderState
	if ok {
		cur = p.Clone()
	}
	_, applied := m.processed[eventKey]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrProviderNotFound
	}
	if applied {
		return nil, ErrDuplicateEvent
	}

	readVersion := cur.Version
	next, err := mutate(cur)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.processed[eventKey]; dup {
		return nil, ErrDuplicateEvent
	}
	if m.providers[providerID].Version != readVersion {
		return nil, ErrConflict
	}

	next.ProviderID = providerID
	next.Version = readVersion + 1
	next.UpdatedAt = time.Now()
	stored := next.Clone()
	m.providers[providerID] = &stored
	m.processed[eventKey] = struct{}{}

	out := next.Clone()
	return &out, nil
}

// PutBooking inserts or replaces a booking record.
func (m *MemoryStore) PutBooking(b *Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	cp.Offer.EquipmentTags = slices.Clone(b.Offer.EquipmentTags)
	m.bookings[b.ID] = &cp
}

func (m *MemoryStore) GetBooking(ctx context.Context, id string) (*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) ListCompletedBookings(ctx context.Context, q BookingQuery) ([]*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Booking
	for _, b := range m.bookings {
		if b.ProviderID != q.ProviderID || b.Status != events.BookingCompleted {
			continue
		}
		if q.Role != "" && !strings.EqualFold(b.Offer.Role, q.Role) {
			continue
		}
		if !q.Since.IsZero() && b.CompletedAt.Before(q.Since) {
			continue
		}
		cp := *b
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CompletedAt.Equal(result[j].CompletedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CompletedAt.After(result[j].CompletedAt)
	})
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

func (m *MemoryStore) MarkCreditAwarded(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bookings[id]
	if !ok {
		return ErrBookingNotFound
	}
	b.CreditAwarded = true
	return nil
}

// PutOffer inserts or replaces an offer.
func (m *MemoryStore) PutOffer(o *Offer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	cp.EquipmentTags = slices.Clone(o.EquipmentTags)
	m.offers[o.ID] = &cp
}

func (m *MemoryStore) ListActiveOffers(ctx context.Context, providerID, role string, limit int) ([]*Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Offer
	for _, o := range m.offers {
		if o.ProviderID != providerID || !o.Active {
			continue
		}
		if role != "" && !strings.EqualFold(o.Role, role) {
			continue
		}
		cp := *o
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// PutReview inserts or replaces a review.
func (m *MemoryStore) PutReview(r *Review) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.reviews[r.ID] = &cp
}

func (m *MemoryStore) ListRecentReviews(ctx context.Context, providerID string, limit int) ([]*Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Review
	for _, r := range m.reviews {
		if r.ProviderID != providerID || !r.Visible || r.Status != events.ReviewApproved {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) CreateAward(ctx context.Context, a *AwardRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.awards = append(m.awards, &cp)
	return nil
}

func (m *MemoryStore) ListAwards(ctx context.Context, providerID string) ([]*AwardRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*AwardRecord
	for _, a := range m.awards {
		if a.ProviderID == providerID {
			cp := *a
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) SkipAward(ctx context.Context, a *AwardRecord, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[ExpiryEventKey(a.ID)] = struct{}{}
	return nil
}

func (m *MemoryStore) ListExpiredAwards(ctx context.Context, before time.Time, limit int) ([]*AwardRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*AwardRecord
	for _, a := range m.awards {
		if !a.Expired(before) {
			continue
		}
		if _, done := m.processed[ExpiryEventKey(a.ID)]; done {
			continue
		}
		cp := *a
		result = append(result, &cp)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}
