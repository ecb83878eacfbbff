package model

import "time"

// Schedule is a single showtime of a movie in a specific hall.  The seat
// map is derived from the hall grid and the schedule's capacity; the set of
// occupied seats is owned by the seat ledger, not by this struct.
//
// Fields:
//  ID             – primary key identifier.
//  MovieID        – movie being screened.
//  HallID         – hall where the screening takes place.
//  ShowTime       – when the screening starts (UTC).
//  Capacity       – total number of seats that can be sold.
//  SeatPriceCents – price of one seat in cents.
//  SeatRows       – hall grid rows, copied from the hall.
//  SeatCols       – hall grid columns, copied from the hall.
type Schedule struct {
    ID             uint64    // schedules.id
    MovieID        uint64    // schedules.movie_id
    HallID         uint64    // schedules.hall_id
    ShowTime       time.Time // schedules.show_time
    Capacity       uint32    // schedules.available_seats
    SeatPriceCents int64     // schedules.price_cents
    SeatRows       uint32    // halls.seat_rows
    SeatCols       uint32    // halls.seat_cols
    CreatedAt      time.Time // schedules.created_at
    UpdatedAt      time.Time // schedules.updated_at
}

// SeatLabels returns the ordered list of valid seat labels for the schedule.
func (s *Schedule) SeatLabels() []string {
    return SeatLabels(s.SeatRows, s.SeatCols, s.Capacity)
}

// SeatSet returns the seat map as a set for membership checks.
func (s *Schedule) SeatSet() map[string]struct{} {
    all := s.SeatLabels()
    set := make(map[string]struct{}, len(all))
    for _, l := range all {
        set[l] = struct{}{}
    }
    return set
}

// HasSeat reports whether label belongs to the schedule's seat map.
func (s *Schedule) HasSeat(label string) bool {
    _, ok := s.SeatSet()[label]
    return ok
}

// Started reports whether the screening has begun at the given instant.
func (s *Schedule) Started(now time.Time) bool {
    return !s.ShowTime.IsZero() && !now.Before(s.ShowTime)
}
