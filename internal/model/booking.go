package model

import "time"

// BookingStatusConfirmed is the only status a booking is created with.
const BookingStatusConfirmed = "CONFIRMED"

// Booking records a committed reservation of seats and snacks for a
// schedule.  It is created only after every validation step has passed and
// is immutable afterwards.
//
// Fields:
//  ID               – primary key identifier.
//  Reference        – public booking reference (uuid).
//  ScheduleID       – schedule being booked.
//  UserID           – user the booking belongs to.
//  Status           – booking status (CONFIRMED).
//  TotalAmountCents – final total in cents.
//  Seats            – committed seat labels in request order.
//  Snacks           – committed snack lines with authoritative prices.
//  CreatedAt        – creation timestamp.
type Booking struct {
    ID               uint64         `json:"id"`
    Reference        string         `json:"reference"`
    ScheduleID       uint64         `json:"schedule_id"`
    UserID           uint64         `json:"user_id"`
    Status           string         `json:"status"`
    TotalAmountCents int64          `json:"total_amount_cents"`
    Seats            []string       `json:"seats"`
    Snacks           []BookingSnack `json:"snacks"`
    CreatedAt        time.Time      `json:"created_at"`
}

// BookingSnack is one committed snack line of a booking.
type BookingSnack struct {
    ScheduleSnackID uint64 `json:"schedule_snack_id"`
    SnackName       string `json:"snack_name,omitempty"`
    Quantity        uint32 `json:"quantity"`
    UnitPriceCents  int64  `json:"unit_price_cents"`
}

// LineTotal returns quantity multiplied by the unit price.
func (s BookingSnack) LineTotal() int64 {
    return int64(s.Quantity) * s.UnitPriceCents
}

// BookingRequest is what a caller submits to create a booking.  It is
// consumed once by the coordinator and never mutated.
type BookingRequest struct {
    UserID           uint64        // authenticated caller
    Role             string        // caller role from the session token
    OnBehalfOf       uint64        // optional target user (ADMIN/STAFF only)
    ScheduleID       uint64        // schedule to book
    ScheduleToken    string        // schedule-scoped token
    Seats            []string      // requested seat labels, in order
    Snacks           []SnackLine   // requested snack lines
    TotalAmountCents int64         // client-declared total
}

// SnackLine is one requested snack line.  PriceCents is advisory; zero
// means the client did not send a price.
type SnackLine struct {
    ScheduleSnackID uint64
    SnackToken      string
    Quantity        uint32
    PriceCents      int64
}
