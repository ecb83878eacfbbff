package booking

import (
	"fmt"
	"strings"
)

// Kind is the stable category of a booking failure.  Clients switch on it,
// so values never change once published.
type Kind string

const (
	KindTokenInvalid          Kind = "TOKEN_INVALID"
	KindTokenExpired          Kind = "TOKEN_EXPIRED"
	KindTokenMismatch         Kind = "TOKEN_MISMATCH"
	KindScheduleNotFound      Kind = "SCHEDULE_NOT_FOUND"
	KindScheduleClosed        Kind = "SCHEDULE_CLOSED"
	KindSnackNotInSchedule    Kind = "SNACK_NOT_IN_SCHEDULE"
	KindSnackQuantityExceeded Kind = "SNACK_QUANTITY_EXCEEDED"
	KindInvalidSeat           Kind = "INVALID_SEAT"
	KindDuplicateSeat         Kind = "DUPLICATE_SEAT"
	KindSeatUnavailable       Kind = "SEAT_UNAVAILABLE"
	KindPriceMismatch         Kind = "PRICE_MISMATCH"
	KindForbidden             Kind = "FORBIDDEN"
	KindPersistenceFailure    Kind = "PERSISTENCE_FAILURE"
)

// Error is returned by every operation of the package.  errors.Is matches
// on Kind, so callers compare against the Err* values below.
type Error struct {
	Kind    Kind
	Message string
	// Seats lists the offending labels for seat errors.
	Seats []string
	// ScheduleSnackID names the offending snack line, if any.
	ScheduleSnackID uint64
	// Expected and Declared are set for PRICE_MISMATCH, in cents.
	Expected int64
	Declared int64
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Seats) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.Seats, ","))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a booking error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrTokenInvalid          = &Error{Kind: KindTokenInvalid}
	ErrTokenExpired          = &Error{Kind: KindTokenExpired}
	ErrTokenMismatch         = &Error{Kind: KindTokenMismatch}
	ErrScheduleNotFound      = &Error{Kind: KindScheduleNotFound}
	ErrScheduleClosed        = &Error{Kind: KindScheduleClosed}
	ErrSnackNotInSchedule    = &Error{Kind: KindSnackNotInSchedule}
	ErrSnackQuantityExceeded = &Error{Kind: KindSnackQuantityExceeded}
	ErrInvalidSeat           = &Error{Kind: KindInvalidSeat}
	ErrDuplicateSeat         = &Error{Kind: KindDuplicateSeat}
	ErrSeatUnavailable       = &Error{Kind: KindSeatUnavailable}
	ErrPriceMismatch         = &Error{Kind: KindPriceMismatch}
	ErrForbidden             = &Error{Kind: KindForbidden}
	ErrPersistenceFailure    = &Error{Kind: KindPersistenceFailure}
)

func newError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}
