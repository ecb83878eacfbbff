package ledger

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/iliyamo/cinema-booking-engine/internal/model"
)

type seatEntry struct {
	status Status
	holder string // handle id while held, booking reference once reserved
}

// scheduleSeats is the occupancy of one schedule.  mu serializes every
// check-then-claim for that schedule.
type scheduleSeats struct {
	mu     sync.Mutex
	loaded bool
	seats  map[string]seatEntry
}

// MemoryLedger keeps occupancy in process memory with one mutex per
// schedule.  The map of schedules has its own short-lived lock that is only
// held while looking up or creating an entry, so different schedules never
// wait on each other.
type MemoryLedger struct {
	mu        sync.Mutex
	schedules map[uint64]*scheduleSeats
	source    OccupiedSource
}

// NewMemoryLedger returns a ledger seeded lazily from source.  source may
// be nil, in which case schedules start empty.
func NewMemoryLedger(source OccupiedSource) *MemoryLedger {
	return &MemoryLedger{schedules: make(map[uint64]*scheduleSeats), source: source}
}

func (l *MemoryLedger) schedule(id uint64) *scheduleSeats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.schedules[id]
	if !ok {
		s = &scheduleSeats{seats: make(map[string]seatEntry)}
		l.schedules[id] = s
	}
	return s
}

// load seeds the schedule once.  The caller must hold s.mu.
func (l *MemoryLedger) load(ctx context.Context, s *scheduleSeats, scheduleID uint64) error {
	if s.loaded {
		return nil
	}
	if l.source != nil {
		booked, err := l.source.BookedSeats(ctx, scheduleID)
		if err != nil {
			return err
		}
		for _, label := range booked {
			s.seats[NormalizeSeat(label)] = seatEntry{status: StatusReserved}
		}
	}
	s.loaded = true
	return nil
}

// Reserve claims all requested seats for the schedule or none of them.
func (l *MemoryLedger) Reserve(ctx context.Context, sched *model.Schedule, seats []string) (*Handle, error) {
	labels, err := validateSeats(sched, seats)
	if err != nil {
		return nil, err
	}
	s := l.schedule(sched.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := l.load(ctx, s, sched.ID); err != nil {
		return nil, err
	}
	var taken []string
	for _, label := range labels {
		if _, ok := s.seats[label]; ok {
			taken = append(taken, label)
		}
	}
	if len(taken) > 0 {
		return nil, &SeatError{Err: ErrSeatUnavailable, Seats: taken}
	}
	if sched.Capacity > 0 && len(s.seats)+len(labels) > int(sched.Capacity) {
		return nil, &SeatError{Err: ErrSeatUnavailable, Seats: labels}
	}
	h := &Handle{ID: uuid.NewString(), ScheduleID: sched.ID, Seats: labels, owner: l}
	for _, label := range labels {
		s.seats[label] = seatEntry{status: StatusHeld, holder: h.ID}
	}
	return h, nil
}

func (l *MemoryLedger) commit(_ context.Context, h *Handle, ref string) error {
	s := l.schedule(h.ScheduleID)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, label := range h.Seats {
		s.seats[label] = seatEntry{status: StatusReserved, holder: ref}
	}
	return nil
}

func (l *MemoryLedger) release(_ context.Context, h *Handle) error {
	s := l.schedule(h.ScheduleID)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, label := range h.Seats {
		if e, ok := s.seats[label]; ok && e.status == StatusHeld && e.holder == h.ID {
			delete(s.seats, label)
		}
	}
	return nil
}

// Snapshot returns the status of every seat of the schedule.
func (l *MemoryLedger) Snapshot(ctx context.Context, sched *model.Schedule) (map[string]Status, error) {
	s := l.schedule(sched.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := l.load(ctx, s, sched.ID); err != nil {
		return nil, err
	}
	out := freeSnapshot(sched)
	for label, e := range s.seats {
		if _, ok := out[label]; ok {
			out[label] = e.status
		}
	}
	return out, nil
}
