package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/axmarket/repengine/internal/badges"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(d float64) time.Time {
	return testNow.Add(-time.Duration(d * 24 * float64(time.Hour)))
}

func TestComputeScoreEmptyProvider(t *testing.T) {
	calc := NewCalculator()
	score := calc.ComputeScore(CredibilityFactors{Tier: TierStandard, Now: testNow})
	assert.Equal(t, 0, score)
}

func TestComputeScoreFullBreakdown(t *testing.T) {
	calc := NewCalculator()
	first := badges.MustCatalog(badges.DefaultDefinitions...)
	def, err := first.Lookup(badges.FirstBooking)
	require.NoError(t, err)

	f := CredibilityFactors{
		Tier:    TierVerified,
		Credits: Credits{AxVerified: 3, ClientConfirmed: 2},
		Stats: Stats{
			CompletedBookings:    5,
			PositiveReviewCount:  5,
			ResponseRatePct:      90,
			AvgResponseTimeHours: 2,
			LastCompletedAt:      daysAgo(1),
			DistinctClients90d:   4,
		},
		AccountCreatedAt: daysAgo(100),
		ActiveBadges:     []badges.Definition{def},
		Now:              testNow,
	}

	comp := calc.Breakdown(f)
	assert.Equal(t, 50.0, comp.TierScore)
	assert.Equal(t, 42.0, comp.CreditScore)
	assert.Equal(t, 20.0, comp.DistinctClientScore)
	assert.Equal(t, 20.0, comp.ReviewScore)
	assert.Equal(t, 20.0, comp.ResponseRateBonus)
	assert.Equal(t, 15.0, comp.ResponseTimeBonus)
	assert.Equal(t, 20.0, comp.RecencyAdjustment)
	assert.Equal(t, 5.0, comp.BadgeScore)
	assert.Equal(t, 192, comp.Total)
	assert.Equal(t, comp.Total, calc.ComputeScore(f))
}

func TestComputeScoreDeterministic(t *testing.T) {
	calc := NewCalculator()
	f := CredibilityFactors{
		Tier:             TierSignature,
		Credits:          Credits{AxVerified: 120, ClientConfirmed: 40, SelfReported: 7},
		Stats:            Stats{PositiveReviewCount: 33, ResponseRatePct: 97, AvgResponseTimeHours: 0.5, LastCompletedAt: daysAgo(10), DistinctClients90d: 17},
		AccountCreatedAt: daysAgo(900),
		Now:              testNow,
	}

	first := calc.ComputeScore(f)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, calc.ComputeScore(f))
	}
}

func TestComputeScoreNeverNegative(t *testing.T) {
	calc := NewCalculator()

	tests := []struct {
		name string
		f    CredibilityFactors
	}{
		{"zero everything", CredibilityFactors{Now: testNow}},
		{"old account never booked", CredibilityFactors{AccountCreatedAt: daysAgo(800), Now: testNow}},
		{"heavy inactivity", CredibilityFactors{
			Credits:          Credits{SelfReported: 1},
			Stats:            Stats{CompletedBookings: 1, LastCompletedAt: daysAgo(500)},
			AccountCreatedAt: daysAgo(900),
			Now:              testNow,
		}},
		{"negative counters", CredibilityFactors{
			Credits: Credits{AxVerified: -5, ClientConfirmed: -3},
			Stats:   Stats{PositiveReviewCount: -10, DistinctClients90d: -4},
			Now:     testNow,
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.GreaterOrEqual(t, calc.ComputeScore(tc.f), 0)
		})
	}
}

func TestDistinctClientCap(t *testing.T) {
	calc := NewCalculator()
	cfg := calc.Config()

	comp := calc.Breakdown(CredibilityFactors{Stats: Stats{DistinctClients90d: 10_000}, Now: testNow})
	assert.Equal(t, float64(cfg.DistinctClients.MaxImpactCap)*cfg.DistinctClients.PerClientScore, comp.DistinctClientScore)

	under := calc.Breakdown(CredibilityFactors{Stats: Stats{DistinctClients90d: 3}, Now: testNow})
	assert.Equal(t, 3*cfg.DistinctClients.PerClientScore, under.DistinctClientScore)
}

func TestDiminishingReturns(t *testing.T) {
	calc := NewCalculator()
	cfg := calc.Config().Credits

	atThreshold := calc.Breakdown(CredibilityFactors{Credits: Credits{AxVerified: 50}, Now: testNow})
	assert.Equal(t, cfg.DiminishingThreshold, atThreshold.CreditScore)

	above := calc.Breakdown(CredibilityFactors{Credits: Credits{AxVerified: 100}, Now: testNow})
	want := cfg.DiminishingThreshold + math.Log1p(500)*cfg.LogScaling
	assert.InDelta(t, want, above.CreditScore, 1e-9)

	// Doubling volume again adds far less than linear.
	huge := calc.Breakdown(CredibilityFactors{Credits: Credits{AxVerified: 200}, Now: testNow})
	assert.Greater(t, huge.CreditScore, above.CreditScore)
	assert.Less(t, huge.CreditScore-above.CreditScore, 1000.0)
}

func TestCreditSourceOrdering(t *testing.T) {
	calc := NewCalculator()
	ax := calc.ComputeScore(CredibilityFactors{Credits: Credits{AxVerified: 1}, Now: testNow})
	client := calc.ComputeScore(CredibilityFactors{Credits: Credits{ClientConfirmed: 1}, Now: testNow})
	self := calc.ComputeScore(CredibilityFactors{Credits: Credits{SelfReported: 1}, Now: testNow})

	assert.Greater(t, ax, client)
	assert.Greater(t, client, self)
}

func TestTierOrdering(t *testing.T) {
	calc := NewCalculator()
	base := CredibilityFactors{Credits: Credits{ClientConfirmed: 3}, Now: testNow}

	standard := base
	standard.Tier = TierStandard
	verified := base
	verified.Tier = TierVerified
	signature := base
	signature.Tier = TierSignature

	assert.Less(t, calc.ComputeScore(standard), calc.ComputeScore(verified))
	assert.Less(t, calc.ComputeScore(verified), calc.ComputeScore(signature))
}

func TestResponseBonuses(t *testing.T) {
	calc := NewCalculator()

	rate := []struct {
		pct  float64
		want float64
	}{
		{100, 30}, {95, 30}, {94.9, 20}, {85, 20}, {70, 10}, {69, 0}, {0, 0},
	}
	for _, tc := range rate {
		comp := calc.Breakdown(CredibilityFactors{Stats: Stats{ResponseRatePct: tc.pct}, Now: testNow})
		assert.Equal(t, tc.want, comp.ResponseRateBonus, "rate %.1f", tc.pct)
	}

	hours := []struct {
		h    float64
		want float64
	}{
		{0, 0}, {0.25, 25}, {1, 25}, {3, 15}, {4, 15}, {12, 5}, {24, 0},
	}
	for _, tc := range hours {
		comp := calc.Breakdown(CredibilityFactors{Stats: Stats{AvgResponseTimeHours: tc.h}, Now: testNow})
		assert.Equal(t, tc.want, comp.ResponseTimeBonus, "hours %.2f", tc.h)
	}

	// Both bonuses stack.
	both := calc.Breakdown(CredibilityFactors{Stats: Stats{ResponseRatePct: 99, AvgResponseTimeHours: 0.5}, Now: testNow})
	assert.Equal(t, 55, both.Total)
}

func TestRecencyAdjustment(t *testing.T) {
	calc := NewCalculator()

	tests := []struct {
		name string
		days float64
		want float64
	}{
		{"very recent", 3, 20},
		{"recent", 20, 10},
		{"somewhat recent", 60, 5},
		{"neutral", 120, 0},
		{"inactive", 200, -25},
		{"heavily inactive", 400, -60},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			comp := calc.Breakdown(CredibilityFactors{
				Stats:            Stats{LastCompletedAt: daysAgo(tc.days)},
				AccountCreatedAt: daysAgo(1000),
				Now:              testNow,
			})
			assert.Equal(t, tc.want, comp.RecencyAdjustment)
		})
	}
}

func TestRecencyNeverBookedUsesAccountAge(t *testing.T) {
	calc := NewCalculator()

	fresh := calc.Breakdown(CredibilityFactors{AccountCreatedAt: daysAgo(2), Now: testNow})
	assert.Zero(t, fresh.RecencyAdjustment, "new accounts get neither boost nor penalty")

	stale := calc.Breakdown(CredibilityFactors{AccountCreatedAt: daysAgo(200), Now: testNow})
	assert.Equal(t, -25.0, stale.RecencyAdjustment)
}

func TestRecencyFutureTimestampCountsAsNow(t *testing.T) {
	calc := NewCalculator()
	comp := calc.Breakdown(CredibilityFactors{
		Stats: Stats{LastCompletedAt: testNow.Add(2 * time.Hour)},
		Now:   testNow,
	})
	assert.Equal(t, 20.0, comp.RecencyAdjustment)
}

func TestBadgeContribution(t *testing.T) {
	calc := NewCalculator()
	active := []badges.Definition{
		{ID: "a", ScoreImpact: 5},
		{ID: "b", ScoreImpact: 12},
		{ID: "c"},
	}
	comp := calc.Breakdown(CredibilityFactors{ActiveBadges: active, Now: testNow})
	assert.Equal(t, 17.0, comp.BadgeScore)
	assert.Equal(t, 17, comp.Total)
}

func TestRounding(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DistinctClients.PerClientScore = 0.5
	calc := NewCalculatorWithConfig(cfg)

	assert.Equal(t, 2, calc.ComputeScore(CredibilityFactors{Stats: Stats{DistinctClients90d: 3}, Now: testNow}))
	assert.Equal(t, 1, calc.ComputeScore(CredibilityFactors{Stats: Stats{DistinctClients90d: 2}, Now: testNow}))
}

func TestCreditsAdd(t *testing.T) {
	var c Credits
	c.Add(SourceAxVerified)
	c.Add(SourceClientConfirmed)
	c.Add(SourceClientConfirmed)
	c.Add(SourceSelfReported)
	c.Add(CreditSource("bogus"))

	assert.Equal(t, Credits{AxVerified: 1, ClientConfirmed: 2, SelfReported: 1}, c)
}
