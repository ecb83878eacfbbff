// Package booking turns a booking request into a committed booking.  The
// Coordinator verifies the scoped tokens, provisionally reserves the seats
// in the ledger, prices the snack lines, validates the declared total and
// only then persists the booking and makes the reservation permanent.  Any
// failure after the seats were reserved releases them before returning.
package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-booking-engine/internal/ledger"
	"github.com/iliyamo/cinema-booking-engine/internal/model"
	"github.com/iliyamo/cinema-booking-engine/internal/repository"
	"github.com/iliyamo/cinema-booking-engine/internal/scopedtoken"
)

// Catalog is the read side of schedules and their snack offerings.
type Catalog interface {
	SnackLookup
	GetSchedule(ctx context.Context, id uint64) (*model.Schedule, error)
}

// Store persists committed bookings.  SaveBooking fills in ID and
// CreatedAt and is durable once it returns nil.
type Store interface {
	SaveBooking(ctx context.Context, b *model.Booking) error
}

// TokenVerifier checks entity scoped tokens.
type TokenVerifier interface {
	Verify(raw string, entity scopedtoken.EntityType, id uint64) (*scopedtoken.Claims, error)
}

// Publisher announces committed bookings.  Failures are logged only.
type Publisher interface {
	PublishBookingConfirmed(ctx context.Context, b *model.Booking) error
}

// State is a step of the booking pipeline, used in logs.
type State string

const (
	StateReceived       State = "received"
	StateTokensVerified State = "tokens_verified"
	StateSeatsReserved  State = "seats_reserved"
	StateLinesResolved  State = "lines_resolved"
	StatePriceValidated State = "price_validated"
	StateCommitted      State = "committed"
	StateRolledBack     State = "rolled_back"
)

// Coordinator runs the booking pipeline.  It is safe for concurrent use.
type Coordinator struct {
	catalog   Catalog
	ledger    ledger.Ledger
	tokens    TokenVerifier
	store     Store
	resolver  *Resolver
	publisher Publisher
	log       *zap.Logger
	now       func() time.Time
	timeout   time.Duration
}

// CoordinatorOption customises a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger sets the logger; the default discards everything.
func WithLogger(l *zap.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.log = l }
}

// WithPublisher enables booking.confirmed notifications.
func WithPublisher(p Publisher) CoordinatorOption {
	return func(c *Coordinator) { c.publisher = p }
}

// WithClock overrides time.Now, used for the schedule start check.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

// WithTimeout bounds one booking attempt.  Zero leaves the caller's
// deadline as the only limit.
func WithTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.timeout = d }
}

// NewCoordinator wires the pipeline together.
func NewCoordinator(catalog Catalog, l ledger.Ledger, tokens TokenVerifier, store Store, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		catalog:  catalog,
		ledger:   l,
		tokens:   tokens,
		store:    store,
		resolver: NewResolver(catalog),
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CreateBooking processes req and returns the committed booking, or an
// *Error describing why nothing was booked.
func (c *Coordinator) CreateBooking(ctx context.Context, req model.BookingRequest) (*model.Booking, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	log := c.log.With(
		zap.Uint64("schedule_id", req.ScheduleID),
		zap.Uint64("user_id", req.UserID),
		zap.Strings("seats", req.Seats),
	)
	log.Debug("booking state", zap.String("state", string(StateReceived)))

	owner, err := bookingOwner(req)
	if err != nil {
		return nil, err
	}
	if err := c.verifyTokens(req); err != nil {
		log.Info("booking rejected", zap.Error(err))
		return nil, err
	}
	log.Debug("booking state", zap.String("state", string(StateTokensVerified)))

	sched, err := c.catalog.GetSchedule(ctx, req.ScheduleID)
	if errors.Is(err, repository.ErrScheduleNotFound) {
		return nil, newError(KindScheduleNotFound, "schedule does not exist", nil)
	}
	if err != nil {
		return nil, newError(KindPersistenceFailure, "load schedule", err)
	}
	if sched.Started(c.now()) {
		return nil, newError(KindScheduleClosed, "screening has already started", nil)
	}

	handle, err := c.ledger.Reserve(ctx, sched, req.Seats)
	if err != nil {
		err = seatError(err)
		log.Info("booking rejected", zap.Error(err))
		return nil, err
	}
	log = log.With(zap.String("hold_id", handle.ID))
	log.Debug("booking state", zap.String("state", string(StateSeatsReserved)))

	committed := false
	defer func() {
		if committed {
			return
		}
		// the request context may already be done; the hold must still go
		if rerr := handle.Release(context.WithoutCancel(ctx)); rerr != nil {
			log.Error("release hold failed", zap.Error(rerr))
			return
		}
		log.Info("booking state", zap.String("state", string(StateRolledBack)))
	}()

	lines, err := c.resolver.ResolveLines(ctx, sched.ID, req.Snacks)
	if err != nil {
		log.Info("booking rejected", zap.Error(err))
		return nil, err
	}
	log.Debug("booking state", zap.String("state", string(StateLinesResolved)))

	total, err := ValidateTotal(len(handle.Seats), sched.SeatPriceCents, lines, req.TotalAmountCents)
	if err != nil {
		log.Info("booking rejected", zap.Error(err))
		return nil, err
	}
	log.Debug("booking state", zap.String("state", string(StatePriceValidated)))

	if err := ctx.Err(); err != nil {
		return nil, newError(KindPersistenceFailure, "request ended before commit", err)
	}

	b := &model.Booking{
		Reference:        uuid.NewString(),
		ScheduleID:       sched.ID,
		UserID:           owner,
		Status:           model.BookingStatusConfirmed,
		TotalAmountCents: total,
		Seats:            handle.Seats,
		Snacks:           make([]model.BookingSnack, 0, len(lines)),
	}
	for _, l := range lines {
		b.Snacks = append(b.Snacks, model.BookingSnack{
			ScheduleSnackID: l.Snack.ID,
			SnackName:       l.Snack.SnackName,
			Quantity:        l.Quantity,
			UnitPriceCents:  l.UnitPriceCents,
		})
	}
	if err := c.store.SaveBooking(ctx, b); err != nil {
		err = storeError(err)
		log.Warn("booking not persisted", zap.Error(err))
		return nil, err
	}
	committed = true

	// The booking row is durable now; a failed ledger commit leaves the hold
	// to expire while the unique seat key keeps the seats taken.
	if err := handle.Commit(context.WithoutCancel(ctx), b.Reference); err != nil {
		log.Error("ledger commit failed", zap.String("reference", b.Reference), zap.Error(err))
	}
	log.Info("booking state",
		zap.String("state", string(StateCommitted)),
		zap.String("reference", b.Reference),
		zap.Int64("total_amount_cents", b.TotalAmountCents),
	)

	if c.publisher != nil {
		if err := c.publisher.PublishBookingConfirmed(context.WithoutCancel(ctx), b); err != nil {
			log.Warn("publish booking.confirmed failed", zap.Error(err))
		}
	}
	return b, nil
}

// bookingOwner returns the user the booking is recorded for.
func bookingOwner(req model.BookingRequest) (uint64, error) {
	if req.OnBehalfOf == 0 || req.OnBehalfOf == req.UserID {
		return req.UserID, nil
	}
	if !model.CanActForOthers(req.Role) {
		return 0, newError(KindForbidden, "only admin or staff may book for another user", nil)
	}
	return req.OnBehalfOf, nil
}

func (c *Coordinator) verifyTokens(req model.BookingRequest) error {
	if _, err := c.tokens.Verify(req.ScheduleToken, scopedtoken.EntitySchedule, req.ScheduleID); err != nil {
		return tokenError(err, "schedule token")
	}
	for _, line := range req.Snacks {
		if _, err := c.tokens.Verify(line.SnackToken, scopedtoken.EntityScheduleSnack, line.ScheduleSnackID); err != nil {
			e := tokenError(err, "snack token")
			e.ScheduleSnackID = line.ScheduleSnackID
			return e
		}
	}
	return nil
}

func tokenError(err error, what string) *Error {
	switch {
	case errors.Is(err, scopedtoken.ErrExpired):
		return newError(KindTokenExpired, what+" expired", err)
	case errors.Is(err, scopedtoken.ErrMismatch):
		return newError(KindTokenMismatch, what+" was issued for another entity", err)
	default:
		return newError(KindTokenInvalid, what+" invalid", err)
	}
}

func seatError(err error) error {
	var seats []string
	var se *ledger.SeatError
	if errors.As(err, &se) {
		seats = se.Seats
	}
	var kind Kind
	switch {
	case errors.Is(err, ledger.ErrDuplicateSeat):
		kind = KindDuplicateSeat
	case errors.Is(err, ledger.ErrInvalidSeat), errors.Is(err, ledger.ErrNoSeats):
		kind = KindInvalidSeat
	case errors.Is(err, ledger.ErrSeatUnavailable):
		kind = KindSeatUnavailable
	default:
		return newError(KindPersistenceFailure, "reserve seats", err)
	}
	return &Error{Kind: kind, Seats: seats, Err: err}
}

func storeError(err error) *Error {
	switch {
	case errors.Is(err, repository.ErrSeatTaken):
		return newError(KindSeatUnavailable, "seat already booked", err)
	case errors.Is(err, repository.ErrSnackStockExhausted):
		return newError(KindSnackQuantityExceeded, "snack sold out", err)
	default:
		return newError(KindPersistenceFailure, "save booking", err)
	}
}
