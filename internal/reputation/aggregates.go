package reputation

import (
	"time"

	"github.com/axmarket/repengine/internal/eligibility"
)

// History windows and fetch bounds for the read-only aggregate queries.
const (
	DistinctClientWindow = 90 * 24 * time.Hour
	ActivityWindow       = 30 * 24 * time.Hour

	// MaxHistoryBookings bounds every completed-bookings query.
	MaxHistoryBookings = 1000
	// MaxStreakReviews bounds the review fetch for the five-star streak.
	MaxStreakReviews = 50
	// MaxOffers bounds the active-offer fetch for role rules.
	MaxOffers = 200
)

// withBooking returns list with current prepended when it is not already
// present, truncated to limit.
func withBooking(list []*Booking, current *Booking, limit int) []*Booking {
	if current == nil {
		return list
	}
	for _, b := range list {
		if b.ID == current.ID {
			return list
		}
	}
	out := make([]*Booking, 0, len(list)+1)
	out = append(out, current)
	out = append(out, list...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// distinctClients counts distinct client ids across bookings.
func distinctClients(bookings []*Booking) int {
	seen := make(map[string]struct{}, len(bookings))
	for _, b := range bookings {
		if b.ClientID != "" {
			seen[b.ClientID] = struct{}{}
		}
	}
	return len(seen)
}

// completedSince counts bookings completed at or after since.
func completedSince(bookings []*Booking, since time.Time) int {
	n := 0
	for _, b := range bookings {
		if !b.CompletedAt.Before(since) {
			n++
		}
	}
	return n
}

// fiveStarStreak counts leading five-star ratings in reviews (newest first).
func fiveStarStreak(reviews []*Review) int {
	n := 0
	for _, r := range reviews {
		if r.Rating != 5 {
			break
		}
		n++
	}
	return n
}

// withReview prepends current to reviews unless it is already present.
func withReview(reviews []*Review, current *Review) []*Review {
	for _, r := range reviews {
		if r.ID == current.ID {
			return reviews
		}
	}
	return append([]*Review{current}, reviews...)
}

// repeatClientRate is the share of distinct clients with two or more
// completed bookings, together with the number of bookings considered.
func repeatClientRate(bookings []*Booking) (float64, int) {
	perClient := make(map[string]int)
	for _, b := range bookings {
		if b.ClientID != "" {
			perClient[b.ClientID]++
		}
	}
	if len(perClient) == 0 {
		return 0, len(bookings)
	}
	repeat := 0
	for _, n := range perClient {
		if n >= 2 {
			repeat++
		}
	}
	return float64(repeat) / float64(len(perClient)), len(bookings)
}

// roleAggregate summarizes the role's booking window and the provider's
// live offers for the role rules.
func roleAggregate(role eligibility.Role, window []*Booking, offers []*Offer) eligibility.RoleAggregate {
	agg := eligibility.RoleAggregate{
		Role:               role,
		WindowBookings:     len(window),
		ServiceTypes:       make(map[string]int),
		LicenseTypes:       make(map[string]int),
		EquipmentTags:      make(map[string]int),
		ActiveOffersByKind: make(map[string]int),
	}
	for _, b := range window {
		if b.Offer.ServiceType != "" {
			agg.ServiceTypes[b.Offer.ServiceType]++
		}
		if b.Offer.LicenseType != "" {
			agg.LicenseTypes[b.Offer.LicenseType]++
		}
		for _, tag := range uniqueStrings(b.Offer.EquipmentTags) {
			agg.EquipmentTags[tag]++
		}
	}

	tags := make(map[string]struct{})
	for _, o := range offers {
		if !o.Active {
			continue
		}
		if o.Kind != "" {
			agg.ActiveOffersByKind[o.Kind]++
		}
		for _, tag := range o.EquipmentTags {
			tags[tag] = struct{}{}
		}
	}
	agg.DistinctEquipmentTags = len(tags)
	return agg
}

func uniqueStrings(in []string) []string {
	if len(in) < 2 {
		return in
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// awardIndex groups award records by badge id.
type awardIndex map[string][]*AwardRecord

func indexAwards(awards []*AwardRecord) awardIndex {
	idx := make(awardIndex, len(awards))
	for _, a := range awards {
		idx[a.BadgeID] = append(idx[a.BadgeID], a)
	}
	return idx
}

// active reports whether badgeID is live at now. A badge with no award
// records is active; otherwise at least one record must be unexpired.
func (idx awardIndex) active(badgeID string, now time.Time) bool {
	recs := idx[badgeID]
	if len(recs) == 0 {
		return true
	}
	for _, a := range recs {
		if !a.Expired(now) {
			return true
		}
	}
	return false
}
