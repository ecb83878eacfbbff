// Package ledger is the seat inventory of every schedule.  It is the only
// component that mutates which seats of a schedule are occupied, and it
// arbitrates concurrent claims: checking that the requested seats are free
// and claiming them happens as one indivisible step per schedule.
//
// A successful Reserve returns a Handle holding the seats provisionally.
// The caller must either Commit the handle once the booking is durable or
// Release it; a released or expired hold frees the seats again.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/cinema-booking-engine/internal/model"
)

var (
	// ErrNoSeats is returned when a reservation names no seats.
	ErrNoSeats = errors.New("no seats requested")
	// ErrInvalidSeat is returned for labels outside the schedule seat map.
	ErrInvalidSeat = errors.New("seat not in hall")
	// ErrDuplicateSeat is returned when a label appears twice in one request.
	ErrDuplicateSeat = errors.New("duplicate seat in request")
	// ErrSeatUnavailable is returned when any requested seat is occupied.
	ErrSeatUnavailable = errors.New("seat unavailable")
	// ErrHandleClosed is returned when committing a released handle.
	ErrHandleClosed = errors.New("reservation already released")
)

// SeatError wraps one of the sentinel errors with the offending labels.
type SeatError struct {
	Err   error
	Seats []string
}

func (e *SeatError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, strings.Join(e.Seats, ","))
}

func (e *SeatError) Unwrap() error { return e.Err }

// Status is the state of one seat as seen by readers.
type Status string

const (
	StatusFree     Status = "FREE"
	StatusHeld     Status = "HELD"
	StatusReserved Status = "RESERVED"
)

// OccupiedSource returns the seats already committed for a schedule.  It
// seeds a schedule the first time the ledger touches it.
type OccupiedSource interface {
	BookedSeats(ctx context.Context, scheduleID uint64) ([]string, error)
}

// Ledger reserves seats for schedules.
type Ledger interface {
	// Reserve atomically claims all seats or none.
	Reserve(ctx context.Context, sched *model.Schedule, seats []string) (*Handle, error)
	// Snapshot returns the status of every seat in the schedule's seat map.
	Snapshot(ctx context.Context, sched *model.Schedule) (map[string]Status, error)
}

type settler interface {
	commit(ctx context.Context, h *Handle, ref string) error
	release(ctx context.Context, h *Handle) error
}

type handleState int

const (
	stateHeld handleState = iota
	stateCommitted
	stateReleased
)

// Handle is a provisional reservation.  It is safe to call Release after
// Commit; the call is then a no-op, so callers can defer Release right after
// a successful Reserve.
type Handle struct {
	ID         string
	ScheduleID uint64
	Seats      []string
	ExpiresAt  time.Time

	mu    sync.Mutex
	state handleState
	owner settler
}

// Commit makes the reservation permanent under the booking reference ref.
func (h *Handle) Commit(ctx context.Context, ref string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.state {
	case stateCommitted:
		return nil
	case stateReleased:
		return ErrHandleClosed
	}
	if err := h.owner.commit(ctx, h, ref); err != nil {
		return err
	}
	h.state = stateCommitted
	return nil
}

// Release frees the held seats.  It does nothing once the handle has been
// committed or released.
func (h *Handle) Release(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != stateHeld {
		return nil
	}
	if err := h.owner.release(ctx, h); err != nil {
		return err
	}
	h.state = stateReleased
	return nil
}

// Committed reports whether Commit succeeded.
func (h *Handle) Committed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == stateCommitted
}

// NormalizeSeat upper-cases and trims a seat label.
func NormalizeSeat(label string) string {
	return strings.ToUpper(strings.TrimSpace(label))
}

// validateSeats normalizes the request and rejects empty requests,
// duplicates and labels that are not part of the seat map.
func validateSeats(sched *model.Schedule, seats []string) ([]string, error) {
	if len(seats) == 0 {
		return nil, ErrNoSeats
	}
	valid := sched.SeatSet()
	out := make([]string, 0, len(seats))
	seen := make(map[string]struct{}, len(seats))
	var dup, invalid []string
	for _, raw := range seats {
		s := NormalizeSeat(raw)
		if _, ok := seen[s]; ok {
			dup = append(dup, s)
			continue
		}
		seen[s] = struct{}{}
		if _, ok := valid[s]; !ok {
			invalid = append(invalid, s)
		}
		out = append(out, s)
	}
	if len(dup) > 0 {
		return nil, &SeatError{Err: ErrDuplicateSeat, Seats: dup}
	}
	if len(invalid) > 0 {
		return nil, &SeatError{Err: ErrInvalidSeat, Seats: invalid}
	}
	return out, nil
}

// freeSnapshot returns every label of the schedule marked FREE.
func freeSnapshot(sched *model.Schedule) map[string]Status {
	labels := sched.SeatLabels()
	out := make(map[string]Status, len(labels))
	for _, l := range labels {
		out[l] = StatusFree
	}
	return out
}
