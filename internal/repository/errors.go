// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as the
// booking coordinator and the handlers to distinguish between different
// failure scenarios. For example, ErrSeatTaken indicates that the database
// already holds a booking for one of the seats, while
// ErrSnackStockExhausted signals that a snack offering ran out between
// validation and commit.
package repository

import "errors"

// ErrScheduleNotFound is returned when no schedule exists with the
// requested ID.  Handlers should translate this into an HTTP 404 response.
var ErrScheduleNotFound = errors.New("schedule not found")

// ErrScheduleSnackNotFound is returned when no schedule snack exists with
// the requested ID.
var ErrScheduleSnackNotFound = errors.New("schedule snack not found")

// ErrBookingNotFound is returned when a booking does not exist or does not
// belong to the caller.
var ErrBookingNotFound = errors.New("booking not found")

// ErrSeatTaken is returned when inserting a booking seat violates the
// unique (schedule_id, seat_label) key.  It is the durable backstop against
// double booking; callers should translate it into a 409 response.
var ErrSeatTaken = errors.New("seat already booked")

// ErrSnackStockExhausted is returned when a conditional stock decrement
// matched no row because the remaining quantity is too small.
var ErrSnackStockExhausted = errors.New("snack stock exhausted")
