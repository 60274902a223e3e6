package scoring

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds every tuning constant of the credibility formula.
// Operators change scoring behavior by swapping the profile, not the code.
type Config struct {
	Tiers           TierWeights        `yaml:"tiers"`
	Credits         CreditWeights      `yaml:"credits"`
	DistinctClients DistinctClientRule `yaml:"distinct_clients"`
	ReviewWeight    float64            `yaml:"review_weight"`
	ResponseRate    ResponseRateRule   `yaml:"response_rate"`
	ResponseTime    ResponseTimeRule   `yaml:"response_time"`
	Recency         RecencyRule        `yaml:"recency"`
}

// TierWeights is the base score per provider tier.
type TierWeights struct {
	Standard  float64 `yaml:"standard"`
	Verified  float64 `yaml:"verified"`
	Signature float64 `yaml:"signature"`
}

// CreditWeights converts credits into points. Above DiminishingThreshold the
// excess is log-scaled: threshold + ln(1+excess) * LogScaling.
type CreditWeights struct {
	AxVerified           float64 `yaml:"ax_verified"`
	ClientConfirmed      float64 `yaml:"client_confirmed"`
	SelfReported         float64 `yaml:"self_reported"`
	DiminishingThreshold float64 `yaml:"diminishing_threshold"`
	LogScaling           float64 `yaml:"log_scaling"`
}

// DistinctClientRule rewards breadth of clientele over the trailing 90 days.
type DistinctClientRule struct {
	MaxImpactCap   int     `yaml:"max_impact_cap"`
	PerClientScore float64 `yaml:"per_client_score"`
}

// ResponseRateRule awards the best matching tier only.
type ResponseRateRule struct {
	ExcellentPct   float64 `yaml:"excellent_pct"`
	GoodPct        float64 `yaml:"good_pct"`
	DecentPct      float64 `yaml:"decent_pct"`
	ExcellentBonus float64 `yaml:"excellent_bonus"`
	GoodBonus      float64 `yaml:"good_bonus"`
	DecentBonus    float64 `yaml:"decent_bonus"`
}

// ResponseTimeRule awards the best matching tier only. Thresholds are hours.
type ResponseTimeRule struct {
	FastHours float64 `yaml:"fast_hours"`
	GoodHours float64 `yaml:"good_hours"`
	OKHours   float64 `yaml:"ok_hours"`
	FastBonus float64 `yaml:"fast_bonus"`
	GoodBonus float64 `yaml:"good_bonus"`
	OKBonus   float64 `yaml:"ok_bonus"`
}

// RecencyRule boosts recent activity and penalizes inactivity. Penalties are
// stored as positive numbers and subtracted.
type RecencyRule struct {
	VeryRecentDays      float64 `yaml:"very_recent_days"`
	RecentDays          float64 `yaml:"recent_days"`
	SomewhatRecentDays  float64 `yaml:"somewhat_recent_days"`
	VeryRecentBoost     float64 `yaml:"very_recent_boost"`
	RecentBoost         float64 `yaml:"recent_boost"`
	SomewhatRecentBoost float64 `yaml:"somewhat_recent_boost"`

	InactiveDays         float64 `yaml:"inactive_days"`
	HeavyInactiveDays    float64 `yaml:"heavy_inactive_days"`
	InactivePenalty      float64 `yaml:"inactive_penalty"`
	HeavyInactivePenalty float64 `yaml:"heavy_inactive_penalty"`
}

// DefaultConfig is the production scoring profile.
func DefaultConfig() Config {
	return Config{
		Tiers: TierWeights{
			Standard:  0,
			Verified:  50,
			Signature: 100,
		},
		Credits: CreditWeights{
			AxVerified:           10,
			ClientConfirmed:      6,
			SelfReported:         2,
			DiminishingThreshold: 500,
			LogScaling:           40,
		},
		DistinctClients: DistinctClientRule{
			MaxImpactCap:   20,
			PerClientScore: 5,
		},
		ReviewWeight: 4,
		ResponseRate: ResponseRateRule{
			ExcellentPct:   95,
			GoodPct:        85,
			DecentPct:      70,
			ExcellentBonus: 30,
			GoodBonus:      20,
			DecentBonus:    10,
		},
		ResponseTime: ResponseTimeRule{
			FastHours: 1,
			GoodHours: 4,
			OKHours:   12,
			FastBonus: 25,
			GoodBonus: 15,
			OKBonus:   5,
		},
		Recency: RecencyRule{
			VeryRecentDays:       7,
			RecentDays:           30,
			SomewhatRecentDays:   90,
			VeryRecentBoost:      20,
			RecentBoost:          10,
			SomewhatRecentBoost:  5,
			InactiveDays:         180,
			HeavyInactiveDays:    365,
			InactivePenalty:      25,
			HeavyInactivePenalty: 60,
		},
	}
}

// LoadConfig reads a YAML scoring profile. Keys missing from the file keep
// their DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied profile path
	if err != nil {
		return Config{}, fmt.Errorf("reading scoring profile %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing scoring profile: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("scoring profile %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the ordering constraints the formula relies on.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	t := c.Tiers
	check(t.Standard < t.Verified && t.Verified < t.Signature,
		"tier weights must increase standard < verified < signature")

	cr := c.Credits
	check(cr.AxVerified > cr.ClientConfirmed && cr.ClientConfirmed > cr.SelfReported && cr.SelfReported >= 0,
		"credit multipliers must satisfy ax_verified > client_confirmed > self_reported >= 0")
	check(cr.DiminishingThreshold >= 0, "diminishing_threshold must be >= 0")
	check(cr.LogScaling >= 0, "log_scaling must be >= 0")

	check(c.DistinctClients.MaxImpactCap >= 0, "max_impact_cap must be >= 0")
	check(c.DistinctClients.PerClientScore >= 0, "per_client_score must be >= 0")
	check(c.ReviewWeight >= 0, "review_weight must be >= 0")

	rr := c.ResponseRate
	check(rr.ExcellentPct > rr.GoodPct && rr.GoodPct > rr.DecentPct,
		"response rate thresholds must satisfy excellent > good > decent")
	rt := c.ResponseTime
	check(rt.FastHours > 0 && rt.FastHours < rt.GoodHours && rt.GoodHours < rt.OKHours,
		"response time thresholds must satisfy 0 < fast < good < ok")

	r := c.Recency
	check(r.VeryRecentDays < r.RecentDays && r.RecentDays < r.SomewhatRecentDays,
		"recency windows must satisfy very_recent < recent < somewhat_recent")
	check(r.SomewhatRecentDays <= r.InactiveDays && r.InactiveDays < r.HeavyInactiveDays,
		"inactivity thresholds must satisfy somewhat_recent <= inactive < heavy_inactive")
	check(r.InactivePenalty >= 0 && r.HeavyInactivePenalty >= r.InactivePenalty,
		"penalties must satisfy 0 <= inactive_penalty <= heavy_inactive_penalty")

	return errors.Join(errs...)
}
