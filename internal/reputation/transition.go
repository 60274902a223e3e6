package reputation

import (
	"time"

	"github.com/axmarket/repengine/internal/events"
	"github.com/axmarket/repengine/internal/scoring"
)

// Rejection reasons. A rejected event is terminal and changes nothing.
const (
	ReasonNotCompleted      = "booking is not completed"
	ReasonAlreadyCompleted  = "booking was already completed before this update"
	ReasonUnpaid            = "booking is unpaid"
	ReasonRefunded          = "booking was refunded or cancelled"
	ReasonCreditAwarded     = "credit already awarded for booking"
	ReasonProviderMismatch  = "booking belongs to a different provider"
	ReasonReviewHidden      = "review is not visible"
	ReasonReviewNotApproved = "review is not approved"
	ReasonBookingIncomplete = "reviewed booking is not completed"
	ReasonAlreadyApplied    = "event already applied"
)

// bookingRejection checks that the update is a genuine, creditable
// completion transition. It returns "" when the event should be applied.
func bookingRejection(ev *events.BookingCompletedEvent) string {
	switch {
	case ev.Status != events.BookingCompleted:
		return ReasonNotCompleted
	case ev.PreviousStatus == events.BookingCompleted:
		return ReasonAlreadyCompleted
	case ev.WasRefunded:
		return ReasonRefunded
	case !ev.IsPaid:
		return ReasonUnpaid
	case ev.CreditAwarded:
		return ReasonCreditAwarded
	}
	return ""
}

// storedBookingRejection checks the booking record the event refers to.
func storedBookingRejection(ev *events.BookingCompletedEvent, b *Booking) string {
	switch {
	case b.ProviderID != ev.ProviderID:
		return ReasonProviderMismatch
	case b.CreditAwarded:
		return ReasonCreditAwarded
	case b.WasRefunded, b.Status == events.BookingRefunded, b.Status == events.BookingCancelled:
		return ReasonRefunded
	}
	return ""
}

func reviewRejection(ev *events.ReviewApprovedEvent) string {
	switch {
	case !ev.Visible:
		return ReasonReviewHidden
	case ev.Status != events.ReviewApproved:
		return ReasonReviewNotApproved
	}
	return ""
}

func reviewedBookingRejection(ev *events.ReviewApprovedEvent, b *Booking) string {
	switch {
	case b.Status != events.BookingCompleted:
		return ReasonBookingIncomplete
	case b.ProviderID != ev.TargetID:
		return ReasonProviderMismatch
	}
	return ""
}

// bookingEffect is what a completed booking changes on the provider.
type bookingEffect struct {
	Source          scoring.CreditSource
	CompletedAt     time.Time
	DistinctClients int
}

// applyBooking returns cur with eff applied. cur is not modified.
func applyBooking(cur ProviderState, eff bookingEffect) ProviderState {
	next := cur.Clone()
	next.Stats.CompletedBookings++
	next.Credits.Add(eff.Source)
	if eff.CompletedAt.After(next.Stats.LastCompletedAt) {
		next.Stats.LastCompletedAt = eff.CompletedAt
	}
	next.Stats.DistinctClients90d = eff.DistinctClients
	return next
}

// reviewEffect is what an approved review changes on the provider.
type reviewEffect struct {
	Rating          int
	DistinctClients int
}

// applyReview returns cur with eff applied. cur is not modified.
func applyReview(cur ProviderState, eff reviewEffect) ProviderState {
	next := cur.Clone()
	if eff.Rating >= PositiveRatingThreshold {
		next.Stats.PositiveReviewCount++
	}
	next.Stats.DistinctClients90d = eff.DistinctClients
	return next
}
