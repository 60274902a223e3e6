// Package scoring computes a provider's credibility score.
//
// The score is a pure function of the provider's tier, credits, activity
// stats and active badges:
//   - tier base weight
//   - weighted credits with logarithmic diminishing returns
//   - breadth of distinct clients (capped)
//   - positive reviews
//   - response rate and response time bonuses
//   - recency boost or inactivity penalty
//   - score impact of active badges
//
// The result is floored at zero and rounded to an integer.
package scoring

import (
	"math"
	"time"

	"github.com/axmarket/repengine/internal/badges"
)

// Tier is the provider's verification level.
type Tier string

const (
	TierStandard  Tier = "standard"
	TierVerified  Tier = "verified"
	TierSignature Tier = "signature"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierStandard, TierVerified, TierSignature:
		return true
	}
	return false
}

// CreditSource says who attested a unit of completed work.
type CreditSource string

const (
	SourceAxVerified      CreditSource = "ax-verified"      // Platform-verified
	SourceClientConfirmed CreditSource = "client-confirmed" // Client-attested
	SourceSelfReported    CreditSource = "self-reported"
)

// Valid reports whether s is a known credit source.
func (s CreditSource) Valid() bool {
	switch s {
	case SourceAxVerified, SourceClientConfirmed, SourceSelfReported:
		return true
	}
	return false
}

// Credits counts attributed completed work per source.
type Credits struct {
	AxVerified      int `json:"axVerifiedCount"`
	ClientConfirmed int `json:"clientConfirmedCount"`
	SelfReported    int `json:"selfReportedCount,omitempty"`
}

// Add increments the counter for source.
func (c *Credits) Add(source CreditSource) {
	switch source {
	case SourceAxVerified:
		c.AxVerified++
	case SourceClientConfirmed:
		c.ClientConfirmed++
	case SourceSelfReported:
		c.SelfReported++
	}
}

// Stats are the activity aggregates kept on the provider record.
type Stats struct {
	CompletedBookings    int       `json:"completedBookings"`
	PositiveReviewCount  int       `json:"positiveReviewCount"`
	ResponseRatePct      float64   `json:"responseRatePct"`
	AvgResponseTimeHours float64   `json:"avgResponseTimeHours"`
	LastCompletedAt      time.Time `json:"lastCompletedAt,omitempty"`
	DistinctClients90d   int       `json:"distinctClients90d"`
}

// CredibilityFactors is everything the score depends on. Now is an input so
// that the same factors always produce the same score.
type CredibilityFactors struct {
	Tier             Tier
	Credits          Credits
	Stats            Stats
	AccountCreatedAt time.Time
	ActiveBadges     []badges.Definition
	Now              time.Time
}

// Components breaks the score down per term.
type Components struct {
	TierScore           float64 `json:"tierScore"`
	CreditScore         float64 `json:"creditScore"`
	DistinctClientScore float64 `json:"distinctClientScore"`
	ReviewScore         float64 `json:"reviewScore"`
	ResponseRateBonus   float64 `json:"responseRateBonus"`
	ResponseTimeBonus   float64 `json:"responseTimeBonus"`
	RecencyAdjustment   float64 `json:"recencyAdjustment"`
	BadgeScore          float64 `json:"badgeScore"`
	Total               int     `json:"total"`
}

// Calculator computes credibility scores from an injected Config.
type Calculator struct {
	cfg Config
}

// NewCalculator creates a calculator with the default profile.
func NewCalculator() *Calculator {
	return &Calculator{cfg: DefaultConfig()}
}

// NewCalculatorWithConfig creates a calculator with a custom profile.
func NewCalculatorWithConfig(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// Config returns the calculator's profile.
func (c *Calculator) Config() Config {
	return c.cfg
}

// ComputeScore returns the credibility score for f.
func (c *Calculator) ComputeScore(f CredibilityFactors) int {
	return c.Breakdown(f).Total
}

// Breakdown returns the per-term contributions and the final score.
func (c *Calculator) Breakdown(f CredibilityFactors) Components {
	comp := Components{
		TierScore:           c.tierScore(f.Tier),
		CreditScore:         c.creditScore(f.Credits),
		DistinctClientScore: c.distinctClientScore(f.Stats.DistinctClients90d),
		ReviewScore:         float64(max(f.Stats.PositiveReviewCount, 0)) * c.cfg.ReviewWeight,
		ResponseRateBonus:   c.responseRateBonus(f.Stats.ResponseRatePct),
		ResponseTimeBonus:   c.responseTimeBonus(f.Stats.AvgResponseTimeHours),
		RecencyAdjustment:   c.recencyAdjustment(f.Stats.LastCompletedAt, f.AccountCreatedAt, f.Now),
		BadgeScore:          badgeScore(f.ActiveBadges),
	}

	sum := comp.TierScore +
		comp.CreditScore +
		comp.DistinctClientScore +
		comp.ReviewScore +
		comp.ResponseRateBonus +
		comp.ResponseTimeBonus +
		comp.RecencyAdjustment +
		comp.BadgeScore

	comp.Total = int(math.Round(math.Max(0, sum)))
	return comp
}

func (c *Calculator) tierScore(t Tier) float64 {
	switch t {
	case TierSignature:
		return c.cfg.Tiers.Signature
	case TierVerified:
		return c.cfg.Tiers.Verified
	default:
		return c.cfg.Tiers.Standard
	}
}

func (c *Calculator) creditScore(cr Credits) float64 {
	w := c.cfg.Credits
	weighted := float64(max(cr.AxVerified, 0))*w.AxVerified +
		float64(max(cr.ClientConfirmed, 0))*w.ClientConfirmed +
		float64(max(cr.SelfReported, 0))*w.SelfReported

	if weighted <= w.DiminishingThreshold {
		return weighted
	}
	excess := weighted - w.DiminishingThreshold
	return w.DiminishingThreshold + math.Log1p(excess)*w.LogScaling
}

func (c *Calculator) distinctClientScore(n int) float64 {
	n = min(max(n, 0), c.cfg.DistinctClients.MaxImpactCap)
	return float64(n) * c.cfg.DistinctClients.PerClientScore
}

func (c *Calculator) responseRateBonus(pct float64) float64 {
	r := c.cfg.ResponseRate
	switch {
	case pct >= r.ExcellentPct:
		return r.ExcellentBonus
	case pct >= r.GoodPct:
		return r.GoodBonus
	case pct >= r.DecentPct:
		return r.DecentBonus
	default:
		return 0
	}
}

// responseTimeBonus treats a non-positive average as "no data".
func (c *Calculator) responseTimeBonus(hours float64) float64 {
	if hours <= 0 {
		return 0
	}
	r := c.cfg.ResponseTime
	switch {
	case hours <= r.FastHours:
		return r.FastBonus
	case hours <= r.GoodHours:
		return r.GoodBonus
	case hours <= r.OKHours:
		return r.OKBonus
	default:
		return 0
	}
}

// recencyAdjustment boosts providers with a recent completion and penalizes
// stale ones. A provider with no completions never gets a boost; staleness
// is then measured from account creation.
func (c *Calculator) recencyAdjustment(lastCompleted, accountCreated, now time.Time) float64 {
	r := c.cfg.Recency

	ref := lastCompleted
	if ref.IsZero() {
		ref = accountCreated
	}
	if ref.IsZero() {
		return 0
	}
	days := math.Max(0, now.Sub(ref).Hours()/24)

	switch {
	case days > r.HeavyInactiveDays:
		return -r.HeavyInactivePenalty
	case days > r.InactiveDays:
		return -r.InactivePenalty
	}

	if lastCompleted.IsZero() {
		return 0
	}
	switch {
	case days <= r.VeryRecentDays:
		return r.VeryRecentBoost
	case days <= r.RecentDays:
		return r.RecentBoost
	case days <= r.SomewhatRecentDays:
		return r.SomewhatRecentBoost
	default:
		return 0
	}
}

func badgeScore(active []badges.Definition) float64 {
	total := 0
	for _, d := range active {
		total += d.ScoreImpact
	}
	return float64(total)
}
