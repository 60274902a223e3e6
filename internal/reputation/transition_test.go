package reputation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/axmarket/repengine/internal/events"
)

func TestBookingRejection(t *testing.T) {
	valid := func() *events.BookingCompletedEvent {
		return &events.BookingCompletedEvent{
			BookingID: "bk", ProviderID: "p", ClientID: "c",
			Status: events.BookingCompleted, PreviousStatus: events.BookingConfirmed, IsPaid: true,
		}
	}

	assert.Empty(t, bookingRejection(valid()))

	noPrev := valid()
	noPrev.PreviousStatus = ""
	assert.Empty(t, bookingRejection(noPrev), "a missing previous status is not a replay")

	cases := map[string]func(*events.BookingCompletedEvent){
		ReasonNotCompleted:     func(e *events.BookingCompletedEvent) { e.Status = events.BookingCancelled },
		ReasonAlreadyCompleted: func(e *events.BookingCompletedEvent) { e.PreviousStatus = events.BookingCompleted },
		ReasonRefunded:         func(e *events.BookingCompletedEvent) { e.WasRefunded = true },
		ReasonUnpaid:           func(e *events.BookingCompletedEvent) { e.IsPaid = false },
		ReasonCreditAwarded:    func(e *events.BookingCompletedEvent) { e.CreditAwarded = true },
	}
	for want, mod := range cases {
		ev := valid()
		mod(ev)
		assert.Equal(t, want, bookingRejection(ev))
	}
}

func TestStoredBookingRejection(t *testing.T) {
	ev := &events.BookingCompletedEvent{ProviderID: "p"}

	assert.Empty(t, storedBookingRejection(ev, &Booking{ProviderID: "p", Status: events.BookingCompleted}))
	assert.Equal(t, ReasonProviderMismatch, storedBookingRejection(ev, &Booking{ProviderID: "q"}))
	assert.Equal(t, ReasonCreditAwarded, storedBookingRejection(ev, &Booking{ProviderID: "p", CreditAwarded: true}))
	assert.Equal(t, ReasonRefunded, storedBookingRejection(ev, &Booking{ProviderID: "p", Status: events.BookingRefunded}))
	assert.Equal(t, ReasonRefunded, storedBookingRejection(ev, &Booking{ProviderID: "p", WasRefunded: true}))
}

func TestReviewRejection(t *testing.T) {
	ok := &events.ReviewApprovedEvent{TargetID: "p", Visible: true, Status: events.ReviewApproved}
	assert.Empty(t, reviewRejection(ok))
	assert.Equal(t, ReasonReviewHidden, reviewRejection(&events.ReviewApprovedEvent{Status: events.ReviewApproved}))
	assert.Equal(t, ReasonReviewNotApproved, reviewRejection(&events.ReviewApprovedEvent{Visible: true, Status: events.ReviewRejected}))

	assert.Empty(t, reviewedBookingRejection(ok, &Booking{ProviderID: "p", Status: events.BookingCompleted}))
	assert.Equal(t, ReasonBookingIncomplete, reviewedBookingRejection(ok, &Booking{ProviderID: "p", Status: events.BookingPending}))
	assert.Equal(t, ReasonProviderMismatch, reviewedBookingRejection(ok, &Booking{ProviderID: "q", Status: events.BookingCompleted}))
}
