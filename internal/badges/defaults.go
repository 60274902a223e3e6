package badges

import "sync"

// Badge ids referenced by the eligibility rules.
const (
	FirstBooking   = "first-booking"
	TenBookings    = "ten-bookings"
	FiftyBookings  = "fifty-bookings"
	CenturyClub    = "century-club"
	QuickResponder = "quick-responder"
	Communicator   = "reliable-communicator"
	FiveStarStreak = "five-star-streak"
	ClientFavorite = "client-favorite"
	RisingStar     = "rising-star"
	InDemand       = "in-demand"

	BeatStoreActive     = "beat-store-active"
	ExclusiveSeller     = "exclusive-seller"
	OnLocationPro       = "on-location-pro"
	CinemaRig           = "cinema-rig"
	MixMaster           = "mix-master"
	MasteringSpecialist = "mastering-specialist"
	SessionRegular      = "session-regular"
	LivePerformer       = "live-performer"
	StudioHotspot       = "studio-hotspot"
	FullyEquipped       = "fully-equipped"
)

// DefaultDefinitions is the built-in badge table.
var DefaultDefinitions = []Definition{
	// Milestones
	{ID: FirstBooking, Name: "First Booking", Description: "Completed a first paid booking", Category: CategoryAchievement, ScoreImpact: 5},
	{ID: TenBookings, Name: "Ten Bookings", Description: "Completed 10 paid bookings", Category: CategoryAchievement, ScoreImpact: 10},
	{ID: FiftyBookings, Name: "Fifty Bookings", Description: "Completed 50 paid bookings", Category: CategoryAchievement, ScoreImpact: 20},
	{ID: CenturyClub, Name: "Century Club", Description: "Completed 100 paid bookings", Category: CategoryAchievement, ScoreImpact: 35},

	// Performance
	{ID: QuickResponder, Name: "Quick Responder", Description: "Replies to clients within two hours on average", Category: CategoryPerformance, ScoreImpact: 10},
	{ID: Communicator, Name: "Reliable Communicator", Description: "Responds to 95% of booking requests", Category: CategoryPerformance, ScoreImpact: 10},
	{ID: FiveStarStreak, Name: "Five-Star Streak", Description: "Last five reviews were all five stars", Category: CategoryPerformance, ScoreImpact: 15},
	{ID: ClientFavorite, Name: "Client Favorite", Description: "Clients keep coming back", Category: CategoryPerformance, ScoreImpact: 15},

	// Dynamic
	{ID: RisingStar, Name: "Rising Star", Description: "Busy first months on the marketplace", Category: CategoryDynamic, ScoreImpact: 10, TimeLimited: true, ExpiryDays: 30},
	{ID: InDemand, Name: "In Demand", Description: "Booked by many different clients recently", Category: CategoryDynamic, ScoreImpact: 10, TimeLimited: true, ExpiryDays: 30},
	{ID: StudioHotspot, Name: "Studio Hotspot", Description: "Studio booked solid this month", Category: CategoryDynamic, ScoreImpact: 10, TimeLimited: true, ExpiryDays: 30},

	// Role: producer
	{ID: BeatStoreActive, Name: "Beat Store Active", Description: "Keeps at least three beats on sale", Category: CategoryAchievement, ScoreImpact: 5},
	{ID: ExclusiveSeller, Name: "Exclusive Seller", Description: "Sold exclusive licenses repeatedly", Category: CategoryPerformance, ScoreImpact: 10},

	// Role: videographer
	{ID: OnLocationPro, Name: "On-Location Pro", Description: "Shoots on location regularly", Category: CategoryPerformance, ScoreImpact: 10},
	{ID: CinemaRig, Name: "Cinema Rig", Description: "Delivers with cinema-grade equipment", Category: CategoryAchievement, ScoreImpact: 5},

	// Role: engineer
	{ID: MixMaster, Name: "Mix Master", Description: "Delivered many mixing sessions", Category: CategoryPerformance, ScoreImpact: 10},
	{ID: MasteringSpecialist, Name: "Mastering Specialist", Description: "Focuses on mastering work", Category: CategoryPerformance, ScoreImpact: 10},

	// Role: artist
	{ID: SessionRegular, Name: "Session Regular", Description: "Books sessions every few weeks", Category: CategoryAchievement, ScoreImpact: 5},
	{ID: LivePerformer, Name: "Live Performer", Description: "Performs live bookings", Category: CategoryPerformance, ScoreImpact: 10},

	// Role: studio
	{ID: FullyEquipped, Name: "Fully Equipped", Description: "Studio lists a complete equipment set", Category: CategoryAchievement, ScoreImpact: 5},
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the built-in catalog. It is built once and shared.
func Default() *Catalog {
	defaultOnce.Do(func() {
		defaultCatalog = MustCatalog(DefaultDefinitions...)
	})
	return defaultCatalog
}
