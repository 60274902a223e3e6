// Package events defines the domain events the reputation engine consumes
// and decodes them from their wire envelope.
//
// Each event is a concrete type behind the Event interface. Payloads are
// validated here so that nothing loosely typed reaches the scoring core.
package events

import (
	"time"

	"github.com/axmarket/repengine/internal/scoring"
)

// Type identifies an event variant on the wire.
type Type string

const (
	TypeBookingCompleted Type = "booking.completed"
	TypeReviewApproved   Type = "review.approved"
)

// Booking statuses written by the booking workflow.
const (
	BookingPending   = "pending"
	BookingConfirmed = "confirmed"
	BookingCompleted = "completed"
	BookingCancelled = "cancelled"
	BookingRefunded  = "refunded"
)

// Review statuses written by moderation.
const (
	ReviewPending  = "pending"
	ReviewApproved = "approved"
	ReviewRejected = "rejected"
)

// Event is implemented by every domain event variant.
type Event interface {
	EventType() Type
	// NaturalKey identifies the real-world occurrence; replays share it.
	NaturalKey() string
	// Provider is the provider whose reputation the event affects.
	Provider() string
}

// BookingCompletedEvent is emitted on any update of a booking record. The
// engine itself decides whether the update is a genuine completion.
type BookingCompletedEvent struct {
	BookingID      string               `json:"bookingId" validate:"required,max=128"`
	ProviderID     string               `json:"providerId" validate:"required,max=128"`
	ClientID       string               `json:"clientId" validate:"required,max=128"`
	Status         string               `json:"status" validate:"required,oneof=pending confirmed completed cancelled refunded"`
	PreviousStatus string               `json:"previousStatus,omitempty" validate:"omitempty,oneof=pending confirmed completed cancelled refunded"`
	IsPaid         bool                 `json:"isPaid"`
	WasRefunded    bool                 `json:"wasRefunded"`
	CreditAwarded  bool                 `json:"creditAwarded"`
	CreditSource   scoring.CreditSource `json:"creditSource,omitempty" validate:"omitempty,oneof=ax-verified client-confirmed self-reported"`
	OfferID        string               `json:"offerId,omitempty" validate:"max=128"`
	BYOInviteID    string               `json:"byoInviteId,omitempty" validate:"max=128"`
	CompletedAt    time.Time            `json:"completedAt,omitempty"`
}

func (e *BookingCompletedEvent) EventType() Type    { return TypeBookingCompleted }
func (e *BookingCompletedEvent) NaturalKey() string { return "booking:" + e.BookingID }
func (e *BookingCompletedEvent) Provider() string   { return e.ProviderID }

// Source returns the credit source, deriving it when the payload omits it:
// bookings that came in through a bring-your-own-client invite are
// client-confirmed, everything else went through the platform.
func (e *BookingCompletedEvent) Source() scoring.CreditSource {
	if e.CreditSource != "" {
		return e.CreditSource
	}
	if e.BYOInviteID != "" {
		return scoring.SourceClientConfirmed
	}
	return scoring.SourceAxVerified
}

// ReviewApprovedEvent is emitted once when a review is created.
type ReviewApprovedEvent struct {
	ReviewID  string `json:"reviewId" validate:"required,max=128"`
	TargetID  string `json:"targetId" validate:"required,max=128"`
	BookingID string `json:"bookingId" validate:"required,max=128"`
	Visible   bool   `json:"visible"`
	Status    string `json:"status" validate:"required,oneof=pending approved rejected"`
	Rating    int    `json:"rating" validate:"min=1,max=5"`
}

func (e *ReviewApprovedEvent) EventType() Type    { return TypeReviewApproved }
func (e *ReviewApprovedEvent) NaturalKey() string { return "review:" + e.ReviewID }
func (e *ReviewApprovedEvent) Provider() string   { return e.TargetID }
