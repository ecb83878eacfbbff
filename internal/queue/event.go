// Package queue defines message payloads exchanged over the message broker
// and the consumer of booking notifications.
package queue

import (
    "time"

    "github.com/iliyamo/cinema-booking-engine/internal/model"
)

// BookingConfirmedQueue is the durable queue booking events are sent to.
const BookingConfirmedQueue = "booking.confirmed"

// BookingConfirmedEvent is published when a booking is committed.  It
// contains enough information for downstream consumers to log, notify, or
// trigger analytics without querying the primary database.
type BookingConfirmedEvent struct {
    BookingID        uint64       `json:"booking_id"`
    Reference        string       `json:"reference"`
    UserID           uint64       `json:"user_id"`
    ScheduleID       uint64       `json:"schedule_id"`
    SeatLabels       []string     `json:"seats"`
    Snacks           []EventSnack `json:"snacks,omitempty"`
    TotalAmountCents int64        `json:"total_amount_cents"`
    ConfirmedAt      string       `json:"confirmed_at"`
}

// EventSnack is one snack line of a confirmed booking.
type EventSnack struct {
    ScheduleSnackID uint64 `json:"schedule_snack_id"`
    Name            string `json:"name"`
    Quantity        uint32 `json:"quantity"`
    UnitPriceCents  int64  `json:"unit_price_cents"`
}

// NewBookingConfirmedEvent builds the event for a committed booking.
func NewBookingConfirmedEvent(b *model.Booking) BookingConfirmedEvent {
    at := b.CreatedAt
    if at.IsZero() {
        at = time.Now()
    }
    ev := BookingConfirmedEvent{
        BookingID:        b.ID,
        Reference:        b.Reference,
        UserID:           b.UserID,
        ScheduleID:       b.ScheduleID,
        SeatLabels:       append([]string(nil), b.Seats...),
        TotalAmountCents: b.TotalAmountCents,
        ConfirmedAt:      at.UTC().Format(time.RFC3339),
    }
    for _, s := range b.Snacks {
        ev.Snacks = append(ev.Snacks, EventSnack{
            ScheduleSnackID: s.ScheduleSnackID,
            Name:            s.SnackName,
            Quantity:        s.Quantity,
            UnitPriceCents:  s.UnitPriceCents,
        })
    }
    return ev
}
