package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-booking-engine/internal/ledger"
	"github.com/iliyamo/cinema-booking-engine/internal/model"
	"github.com/iliyamo/cinema-booking-engine/internal/repository"
	"github.com/iliyamo/cinema-booking-engine/internal/scopedtoken"
)

var testKey = scopedtoken.DeriveKey("test-secret")

type fakeCatalog struct {
	schedules map[uint64]*model.Schedule
	snacks    map[uint64]*model.ScheduleSnack
	// onSnack runs on every snack lookup.
	onSnack func()
}

func (f *fakeCatalog) GetSchedule(_ context.Context, id uint64) (*model.Schedule, error) {
	s, ok := f.schedules[id]
	if !ok {
		return nil, repository.ErrScheduleNotFound
	}
	return s, nil
}

func (f *fakeCatalog) GetScheduleSnack(_ context.Context, id uint64) (*model.ScheduleSnack, error) {
	if f.onSnack != nil {
		f.onSnack()
	}
	s, ok := f.snacks[id]
	if !ok {
		return nil, repository.ErrScheduleSnackNotFound
	}
	return s, nil
}

type fakeStore struct {
	mu    sync.Mutex
	saved []*model.Booking
	err   error
}

func (f *fakeStore) SaveBooking(_ context.Context, b *model.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	b.ID = uint64(len(f.saved) + 1)
	b.CreatedAt = time.Now().UTC()
	f.saved = append(f.saved, b)
	return nil
}

type fakePublisher struct {
	published []*model.Booking
}

func (f *fakePublisher) PublishBookingConfirmed(_ context.Context, b *model.Booking) error {
	f.published = append(f.published, b)
	return nil
}

func uint32p(v uint32) *uint32 { return &v }

type fixture struct {
	catalog *fakeCatalog
	store   *fakeStore
	ledger  *ledger.MemoryLedger
	issuer  *scopedtoken.Issuer
	coord   *Coordinator
}

func newFixture(t *testing.T, opts ...CoordinatorOption) *fixture {
	t.Helper()
	f := &fixture{
		catalog: &fakeCatalog{
			schedules: map[uint64]*model.Schedule{
				3: {ID: 3, SeatRows: 2, SeatCols: 5, Capacity: 10, SeatPriceCents: 1000},
				4: {ID: 4, SeatRows: 2, SeatCols: 5, Capacity: 10, SeatPriceCents: 1200},
			},
			snacks: map[uint64]*model.ScheduleSnack{
				7:  {ID: 7, ScheduleID: 3, SnackName: "Popcorn", PriceCents: 350, Available: true},
				8:  {ID: 8, ScheduleID: 3, SnackName: "Soda", PriceCents: 200, Available: true, AvailableQuantity: uint32p(3)},
				9:  {ID: 9, ScheduleID: 4, SnackName: "Nachos", PriceCents: 400, Available: true},
				10: {ID: 10, ScheduleID: 3, SnackName: "Hot dog", PriceCents: 500, Available: false},
			},
		},
		store:  &fakeStore{},
		ledger: ledger.NewMemoryLedger(nil),
		issuer: scopedtoken.NewIssuer(testKey),
	}
	f.coord = NewCoordinator(f.catalog, f.ledger, scopedtoken.NewVerifier(testKey), f.store, opts...)
	return f
}

func (f *fixture) token(t *testing.T, entity scopedtoken.EntityType, id uint64) string {
	t.Helper()
	tok, err := f.issuer.Issue(entity, id)
	require.NoError(t, err)
	return tok.Raw
}

func (f *fixture) request(t *testing.T, seats []string, total int64, snacks ...model.SnackLine) model.BookingRequest {
	for i := range snacks {
		if snacks[i].SnackToken == "" {
			snacks[i].SnackToken = f.token(t, scopedtoken.EntityScheduleSnack, snacks[i].ScheduleSnackID)
		}
	}
	return model.BookingRequest{
		UserID:           42,
		Role:             model.RoleCustomer,
		ScheduleID:       3,
		ScheduleToken:    f.token(t, scopedtoken.EntitySchedule, 3),
		Seats:            seats,
		Snacks:           snacks,
		TotalAmountCents: total,
	}
}

func (f *fixture) occupied(t *testing.T, scheduleID uint64) []string {
	t.Helper()
	snap, err := f.ledger.Snapshot(context.Background(), f.catalog.schedules[scheduleID])
	require.NoError(t, err)
	var out []string
	for label, st := range snap {
		if st != ledger.StatusFree {
			out = append(out, label)
		}
	}
	return out
}

func TestValidateTotal(t *testing.T) {
	lines := []ResolvedLine{{Snack: &model.ScheduleSnack{ID: 7}, Quantity: 2, UnitPriceCents: 350}}

	total, err := ValidateTotal(2, 1000, lines, 2700)
	require.NoError(t, err)
	assert.Equal(t, int64(2700), total)

	_, err = ValidateTotal(2, 1000, lines, 2701)
	assert.NoError(t, err)

	_, err = ValidateTotal(2, 1000, lines, 3050)
	require.ErrorIs(t, err, ErrPriceMismatch)
	var be *Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, int64(2700), be.Expected)
	assert.Equal(t, int64(3050), be.Declared)
}

func TestCreateBookingSeatsOnly(t *testing.T) {
	pub := &fakePublisher{}
	f := newFixture(t, WithPublisher(pub))

	b, err := f.coord.CreateBooking(context.Background(), f.request(t, []string{"A1", "A2"}, 2000))
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "A2"}, b.Seats)
	assert.Equal(t, int64(2000), b.TotalAmountCents)
	assert.Equal(t, uint64(42), b.UserID)
	assert.Equal(t, model.BookingStatusConfirmed, b.Status)
	assert.NotEmpty(t, b.Reference)
	assert.Empty(t, b.Snacks)

	require.Len(t, f.store.saved, 1)
	assert.ElementsMatch(t, []string{"A1", "A2"}, f.occupied(t, 3))
	snap, err := f.ledger.Snapshot(context.Background(), f.catalog.schedules[3])
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusReserved, snap["A1"])
	require.Len(t, pub.published, 1)
	assert.Equal(t, b.Reference, pub.published[0].Reference)
}

func TestCreateBookingWithSnacks(t *testing.T) {
	f := newFixture(t)
	req := f.request(t, []string{"A1", "A2"}, 2700, model.SnackLine{ScheduleSnackID: 7, Quantity: 2, PriceCents: 350})

	b, err := f.coord.CreateBooking(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, b.Snacks, 1)
	assert.Equal(t, model.BookingSnack{ScheduleSnackID: 7, SnackName: "Popcorn", Quantity: 2, UnitPriceCents: 350}, b.Snacks[0])
	assert.Equal(t, int64(2700), b.TotalAmountCents)
}

func TestCreateBookingDuplicateSeat(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.CreateBooking(context.Background(), f.request(t, []string{"A1", "A1"}, 2000))
	require.ErrorIs(t, err, ErrDuplicateSeat)
	var be *Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, []string{"A1"}, be.Seats)
	assert.Empty(t, f.occupied(t, 3))
	assert.Empty(t, f.store.saved)
}

func TestCreateBookingInvalidSeats(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.CreateBooking(context.Background(), f.request(t, []string{"C1"}, 1000))
	assert.ErrorIs(t, err, ErrInvalidSeat)
	_, err = f.coord.CreateBooking(context.Background(), f.request(t, nil, 0))
	assert.ErrorIs(t, err, ErrInvalidSeat)
}

func TestCreateBookingPriceMismatchReleasesSeats(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.CreateBooking(context.Background(), f.request(t, []string{"A1"}, 1000))
	require.NoError(t, err)

	req := f.request(t, []string{"A2", "A3"}, 3050, model.SnackLine{ScheduleSnackID: 7, Quantity: 2})
	_, err = f.coord.CreateBooking(context.Background(), req)
	require.ErrorIs(t, err, ErrPriceMismatch)
	assert.Equal(t, []string{"A1"}, f.occupied(t, 3))
	assert.Len(t, f.store.saved, 1)
}

func TestCreateBookingSeatUnavailable(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.CreateBooking(context.Background(), f.request(t, []string{"A1"}, 1000))
	require.NoError(t, err)

	_, err = f.coord.CreateBooking(context.Background(), f.request(t, []string{"A1", "A2"}, 2000))
	require.ErrorIs(t, err, ErrSeatUnavailable)
	var be *Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, []string{"A1"}, be.Seats)
	assert.Equal(t, []string{"A1"}, f.occupied(t, 3))
}

func TestCreateBookingPersistenceFailureReleasesSeats(t *testing.T) {
	f := newFixture(t)
	f.store.err = errors.New("connection reset")

	_, err := f.coord.CreateBooking(context.Background(), f.request(t, []string{"A1", "A2"}, 2000))
	require.ErrorIs(t, err, ErrPersistenceFailure)
	assert.Empty(t, f.occupied(t, 3))
}

func TestCreateBookingDuplicateKeyIsSeatUnavailable(t *testing.T) {
	f := newFixture(t)
	f.store.err = repository.ErrSeatTaken

	_, err := f.coord.CreateBooking(context.Background(), f.request(t, []string{"B1"}, 1000))
	require.ErrorIs(t, err, ErrSeatUnavailable)
	assert.Empty(t, f.occupied(t, 3))
}

func TestCreateBookingTokenErrors(t *testing.T) {
	f := newFixture(t)

	req := f.request(t, []string{"A1"}, 1200)
	req.ScheduleID = 4
	_, err := f.coord.CreateBooking(context.Background(), req)
	assert.ErrorIs(t, err, ErrTokenMismatch)

	req = f.request(t, []string{"A1"}, 1000)
	req.ScheduleToken = f.token(t, scopedtoken.EntityScheduleSnack, 3)
	_, err = f.coord.CreateBooking(context.Background(), req)
	assert.ErrorIs(t, err, ErrTokenMismatch)

	req = f.request(t, []string{"A1"}, 1000)
	req.ScheduleToken = "garbage"
	_, err = f.coord.CreateBooking(context.Background(), req)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	expired := scopedtoken.NewIssuer(testKey, scopedtoken.WithClock(func() time.Time {
		return time.Now().Add(-time.Hour)
	}))
	tok, err := expired.Issue(scopedtoken.EntitySchedule, 3)
	require.NoError(t, err)
	req = f.request(t, []string{"A1"}, 1000)
	req.ScheduleToken = tok.Raw
	_, err = f.coord.CreateBooking(context.Background(), req)
	assert.ErrorIs(t, err, ErrTokenExpired)

	req = f.request(t, []string{"A1"}, 1350, model.SnackLine{
		ScheduleSnackID: 7,
		SnackToken:      f.token(t, scopedtoken.EntityScheduleSnack, 8),
		Quantity:        1,
	})
	_, err = f.coord.CreateBooking(context.Background(), req)
	assert.ErrorIs(t, err, ErrTokenMismatch)

	assert.Empty(t, f.occupied(t, 3))
}

func TestCreateBookingScheduleErrors(t *testing.T) {
	now := time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)
	f := newFixture(t, WithClock(func() time.Time { return now }))
	f.catalog.schedules[3].ShowTime = now.Add(-time.Minute)

	_, err := f.coord.CreateBooking(context.Background(), f.request(t, []string{"A1"}, 1000))
	assert.ErrorIs(t, err, ErrScheduleClosed)

	req := f.request(t, []string{"A1"}, 1000)
	req.ScheduleID = 99
	req.ScheduleToken = f.token(t, scopedtoken.EntitySchedule, 99)
	_, err = f.coord.CreateBooking(context.Background(), req)
	assert.ErrorIs(t, err, ErrScheduleNotFound)
}

func TestCreateBookingSnackErrors(t *testing.T) {
	cases := []struct {
		name  string
		lines []model.SnackLine
		total int64
		want  error
	}{
		{"unknown offering", []model.SnackLine{{ScheduleSnackID: 77, Quantity: 1}}, 1350, ErrSnackNotInSchedule},
		{"other schedule", []model.SnackLine{{ScheduleSnackID: 9, Quantity: 1}}, 1400, ErrSnackNotInSchedule},
		{"not on sale", []model.SnackLine{{ScheduleSnackID: 10, Quantity: 1}}, 1500, ErrSnackNotInSchedule},
		{"zero quantity", []model.SnackLine{{ScheduleSnackID: 7, Quantity: 0}}, 1000, ErrSnackQuantityExceeded},
		{"over cap", []model.SnackLine{{ScheduleSnackID: 8, Quantity: 4}}, 1800, ErrSnackQuantityExceeded},
		{"over cap across lines", []model.SnackLine{{ScheduleSnackID: 8, Quantity: 2}, {ScheduleSnackID: 8, Quantity: 2}}, 1800, ErrSnackQuantityExceeded},
		{"stale client price", []model.SnackLine{{ScheduleSnackID: 7, Quantity: 1, PriceCents: 300}}, 1300, ErrPriceMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.coord.CreateBooking(context.Background(), f.request(t, []string{"A1"}, tc.total, tc.lines...))
			assert.ErrorIs(t, err, tc.want)
			assert.Empty(t, f.occupied(t, 3))
		})
	}
}

func TestCreateBookingOnBehalf(t *testing.T) {
	f := newFixture(t)

	req := f.request(t, []string{"A1"}, 1000)
	req.OnBehalfOf = 7
	_, err := f.coord.CreateBooking(context.Background(), req)
	assert.ErrorIs(t, err, ErrForbidden)

	req.Role = model.RoleStaff
	b, err := f.coord.CreateBooking(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), b.UserID)
}

func TestCreateBookingCancelledBeforeCommit(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.catalog.onSnack = cancel

	req := f.request(t, []string{"A1", "A2"}, 2350, model.SnackLine{ScheduleSnackID: 7, Quantity: 1})
	_, err := f.coord.CreateBooking(ctx, req)
	require.ErrorIs(t, err, ErrPersistenceFailure)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.occupied(t, 3))
	assert.Empty(t, f.store.saved)
}

func TestCreateBookingConcurrentSameSeat(t *testing.T) {
	f := newFixture(t)
	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	reqs := make([]model.BookingRequest, n)
	for i := range reqs {
		reqs[i] = f.request(t, []string{"B3"}, 1000)
	}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.coord.CreateBooking(context.Background(), reqs[i])
		}(i)
	}
	wg.Wait()
	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrSeatUnavailable)
	}
	assert.Equal(t, 1, ok)
	assert.Len(t, f.store.saved, 1)
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: KindSeatUnavailable, Seats: []string{"A1"}, Err: errors.New("taken")}
	assert.Equal(t, "SEAT_UNAVAILABLE [A1]: taken", err.Error())
	assert.False(t, errors.Is(err, ErrPriceMismatch))
}
