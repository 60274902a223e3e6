package eligibility

import (
	"strings"
	"time"

	"github.com/axmarket/repengine/internal/badges"
)

// Role is the service role an offer is listed under.
type Role string

const (
	RoleProducer     Role = "producer"
	RoleVideographer Role = "videographer"
	RoleEngineer     Role = "engineer"
	RoleArtist       Role = "artist"
	RoleStudio       Role = "studio"
)

// Valid reports whether r has a rule set.
func (r Role) Valid() bool {
	_, ok := RoleRules[r]
	return ok
}

// ParseRole maps an offer's role label onto a Role. Labels are matched
// case-insensitively, as the stores match them.
func ParseRole(label string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(label)))
	return r, r.Valid()
}

// HistoryWindow bounds the booking history fetched for a role.
// MaxAge of zero means "no age limit"; MaxBookings is always enforced.
type HistoryWindow struct {
	MaxBookings int
	MaxAge      time.Duration
}

// RoleAggregate is the precomputed view of a provider's recent role history.
// Counts over bookings refer to the bookings inside the role's window.
type RoleAggregate struct {
	Role Role `json:"role"`

	// WindowBookings is the number of completed bookings fetched.
	WindowBookings int `json:"windowBookings"`
	// ServiceTypes counts window bookings per offer service type.
	ServiceTypes map[string]int `json:"serviceTypes,omitempty"`
	// LicenseTypes counts window bookings per offer license type.
	LicenseTypes map[string]int `json:"licenseTypes,omitempty"`
	// EquipmentTags counts window bookings whose offer carried each tag.
	EquipmentTags map[string]int `json:"equipmentTags,omitempty"`

	// ActiveOffersByKind counts the provider's live offers per kind.
	ActiveOffersByKind map[string]int `json:"activeOffersByKind,omitempty"`
	// DistinctEquipmentTags counts distinct tags across live offers.
	DistinctEquipmentTags int `json:"distinctEquipmentTags"`
}

// RoleRule awards BadgeID when Earned holds for the role aggregate.
type RoleRule struct {
	BadgeID string
	Earned  func(RoleAggregate) bool
}

// RoleRuleSet is a role's history window plus its rules.
type RoleRuleSet struct {
	Window HistoryWindow
	Rules  []RoleRule
}

// Offer kinds, service types, license types and equipment tags used by the
// role rules. They match the offer snapshot values written by the booking
// workflow.
const (
	OfferKindBeat = "beat"

	LicenseExclusive = "exclusive"

	ServiceOnLocation = "on-location"
	ServiceMixing     = "mixing"
	ServiceMastering  = "mastering"
	ServiceLive       = "live"

	TagCinemaCamera = "cinema-camera"
)

// RoleRules maps each role to its rule set.
var RoleRules = map[Role]RoleRuleSet{
	RoleProducer: {
		Window: HistoryWindow{MaxBookings: 10},
		Rules: []RoleRule{
			{badges.BeatStoreActive, func(a RoleAggregate) bool {
				return a.ActiveOffersByKind[OfferKindBeat] >= 3
			}},
			{badges.ExclusiveSeller, func(a RoleAggregate) bool {
				return a.LicenseTypes[LicenseExclusive] >= 3
			}},
		},
	},
	RoleVideographer: {
		Window: HistoryWindow{MaxBookings: 10, MaxAge: 60 * 24 * time.Hour},
		Rules: []RoleRule{
			{badges.OnLocationPro, func(a RoleAggregate) bool {
				return a.ServiceTypes[ServiceOnLocation] >= 5
			}},
			{badges.CinemaRig, func(a RoleAggregate) bool {
				return a.EquipmentTags[TagCinemaCamera] >= 3
			}},
		},
	},
	RoleEngineer: {
		Window: HistoryWindow{MaxBookings: 10},
		Rules: []RoleRule{
			{badges.MixMaster, func(a RoleAggregate) bool {
				return a.ServiceTypes[ServiceMixing] >= 5
			}},
			{badges.MasteringSpecialist, func(a RoleAggregate) bool {
				return a.ServiceTypes[ServiceMastering] >= 5
			}},
		},
	},
	RoleArtist: {
		Window: HistoryWindow{MaxBookings: 20, MaxAge: 60 * 24 * time.Hour},
		Rules: []RoleRule{
			{badges.SessionRegular, func(a RoleAggregate) bool {
				return a.WindowBookings >= 4
			}},
			{badges.LivePerformer, func(a RoleAggregate) bool {
				return a.ServiceTypes[ServiceLive] >= 3
			}},
		},
	},
	RoleStudio: {
		Window: HistoryWindow{MaxBookings: 50, MaxAge: 30 * 24 * time.Hour},
		Rules: []RoleRule{
			{badges.StudioHotspot, func(a RoleAggregate) bool {
				return a.WindowBookings >= 8
			}},
			{badges.FullyEquipped, func(a RoleAggregate) bool {
				return a.DistinctEquipmentTags >= 10
			}},
		},
	},
}

// WindowFor returns the history window for role.
func WindowFor(role Role) (HistoryWindow, bool) {
	set, ok := RoleRules[role]
	return set.Window, ok
}
