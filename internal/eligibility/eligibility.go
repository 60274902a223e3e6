// Package eligibility decides which badges a provider has newly earned.
//
// Rules are pure predicates over aggregates the caller has already fetched.
// Nothing in this package performs I/O, so every rule is O(1) and can be
// tested in isolation.
package eligibility

import (
	"fmt"
	"time"

	"github.com/axmarket/repengine/internal/badges"
	"github.com/axmarket/repengine/internal/scoring"
)

// ActivityAggregate summarizes recent completed bookings.
type ActivityAggregate struct {
	CompletedLast30d int `json:"completedLast30d"`
}

// ReviewAggregate summarizes a provider's review and repeat-client history.
type ReviewAggregate struct {
	// FiveStarStreak counts consecutive five-star ratings, newest first.
	FiveStarStreak int `json:"fiveStarStreak"`
	// RepeatClientRate is the share of distinct clients with two or more
	// completed bookings.
	RepeatClientRate float64 `json:"repeatClientRate"`
	// BookingsConsidered is how many completed bookings fed RepeatClientRate.
	BookingsConsidered int `json:"bookingsConsidered"`
}

// Input is everything a rule may look at.
type Input struct {
	Stats            scoring.Stats
	Credits          scoring.Credits
	Held             map[string]bool
	AccountCreatedAt time.Time
	Now              time.Time

	Activity ActivityAggregate
	Review   *ReviewAggregate // nil unless the trigger was a review
	Role     *RoleAggregate   // nil unless the trigger carried a role
}

// Rule awards BadgeID when Earned holds.
type Rule struct {
	BadgeID string
	Earned  func(Input) bool
}

// UniversalRules apply to every provider regardless of role.
var UniversalRules = []Rule{
	{badges.FirstBooking, bookingsAtLeast(1)},
	{badges.TenBookings, bookingsAtLeast(10)},
	{badges.FiftyBookings, bookingsAtLeast(50)},
	{badges.CenturyClub, bookingsAtLeast(100)},
	{badges.QuickResponder, func(in Input) bool {
		return in.Stats.CompletedBookings >= 5 &&
			in.Stats.AvgResponseTimeHours > 0 && in.Stats.AvgResponseTimeHours <= 2
	}},
	{badges.Communicator, func(in Input) bool {
		return in.Stats.CompletedBookings >= 5 && in.Stats.ResponseRatePct >= 95
	}},
	{badges.FiveStarStreak, func(in Input) bool {
		return in.Review != nil && in.Review.FiveStarStreak >= 5
	}},
	{badges.ClientFavorite, func(in Input) bool {
		return in.Review != nil && in.Review.BookingsConsidered >= 10 && in.Review.RepeatClientRate >= 0.30
	}},
	{badges.RisingStar, func(in Input) bool {
		if in.AccountCreatedAt.IsZero() || in.Now.Sub(in.AccountCreatedAt) > 90*24*time.Hour {
			return false
		}
		return in.Activity.CompletedLast30d >= 5
	}},
	{badges.InDemand, func(in Input) bool {
		return in.Stats.DistinctClients90d >= 8
	}},
}

func bookingsAtLeast(n int) func(Input) bool {
	return func(in Input) bool { return in.Stats.CompletedBookings >= n }
}

// Evaluator runs the universal and role rule tables.
type Evaluator struct {
	universal []Rule
	roles     map[Role]RoleRuleSet
}

// NewEvaluator checks every rule against the catalog so that rules and
// catalog cannot drift apart at runtime.
func NewEvaluator(catalog *badges.Catalog) (*Evaluator, error) {
	for _, r := range UniversalRules {
		if !catalog.Has(r.BadgeID) {
			return nil, fmt.Errorf("universal rule references unknown badge %q", r.BadgeID)
		}
	}
	for role, set := range RoleRules {
		for _, r := range set.Rules {
			if !catalog.Has(r.BadgeID) {
				return nil, fmt.Errorf("%s rule references unknown badge %q", role, r.BadgeID)
			}
		}
	}
	return &Evaluator{universal: UniversalRules, roles: RoleRules}, nil
}

// Evaluate returns the badges earned by in that are not already held, in
// rule-table order (universal first, then the role's rules), without
// duplicates.
func (e *Evaluator) Evaluate(in Input) []string {
	var earned []string
	seen := make(map[string]bool)

	consider := func(r Rule) {
		if in.Held[r.BadgeID] || seen[r.BadgeID] {
			return
		}
		if r.Earned(in) {
			seen[r.BadgeID] = true
			earned = append(earned, r.BadgeID)
		}
	}

	for _, r := range e.universal {
		consider(r)
	}

	if in.Role != nil {
		set, ok := e.roles[in.Role.Role]
		if ok {
			for _, rr := range set.Rules {
				rr := rr
				consider(Rule{BadgeID: rr.BadgeID, Earned: func(Input) bool { return rr.Earned(*in.Role) }})
			}
		}
	}

	return earned
}
