package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-booking-engine/internal/booking"
	"github.com/iliyamo/cinema-booking-engine/internal/ledger"
	"github.com/iliyamo/cinema-booking-engine/internal/middleware"
	"github.com/iliyamo/cinema-booking-engine/internal/model"
	"github.com/iliyamo/cinema-booking-engine/internal/repository"
	"github.com/iliyamo/cinema-booking-engine/internal/scopedtoken"
)

func withIdentity(id uint64, role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			middleware.SetIdentity(c, id, role)
			return next(c)
		}
	}
}

type fakeCreator struct {
	req model.BookingRequest
	err error
}

func (f *fakeCreator) CreateBooking(_ context.Context, req model.BookingRequest) (*model.Booking, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &model.Booking{
		ID:               11,
		Reference:        "ref-11",
		ScheduleID:       req.ScheduleID,
		UserID:           req.UserID,
		Status:           model.BookingStatusConfirmed,
		TotalAmountCents: req.TotalAmountCents,
		Seats:            req.Seats,
	}, nil
}

type fakeReader struct {
	bookings map[uint64]*model.Booking
	err      error
}

func (f *fakeReader) GetByID(_ context.Context, id uint64) (*model.Booking, error) {
	if f.err != nil {
		return nil, f.err
	}
	b, ok := f.bookings[id]
	if !ok {
		return nil, repository.ErrBookingNotFound
	}
	return b, nil
}

func (f *fakeReader) ListByUser(_ context.Context, userID uint64) ([]model.Booking, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []model.Booking
	for _, b := range f.bookings {
		if b.UserID == userID {
			out = append(out, *b)
		}
	}
	return out, nil
}

type fakeInvalidator struct{ paths []string }

func (f *fakeInvalidator) Invalidate(_ context.Context, path string) error {
	f.paths = append(f.paths, path)
	return nil
}

func doJSON(e *echo.Echo, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func bookingServer(creator BookingCreator, reader BookingReader, cache CacheInvalidator, id uint64, role string) *echo.Echo {
	h := NewBookingHandler(creator, reader, cache, nil)
	e := echo.New()
	g := e.Group("/v1", withIdentity(id, role))
	g.POST("/bookings", h.CreateBooking)
	g.GET("/bookings/:id", h.GetBooking)
	g.GET("/my-bookings", h.ListMyBookings)
	return e
}

func TestCreateBooking(t *testing.T) {
	creator := &fakeCreator{}
	cache := &fakeInvalidator{}
	e := bookingServer(creator, &fakeReader{}, cache, 5, model.RoleCustomer)

	rec, body := doJSON(e, http.MethodPost, "/v1/bookings", `{
		"schedule_id": 3,
		"schedule_token": "sched-tok",
		"seats": ["A1", "A2"],
		"snacks": [{"schedule_snack_id": 7, "snack_token": "snack-tok", "quantity": 2, "price": 3.5}],
		"total_amount": 27
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "27.00", body["total_amount"])
	assert.Equal(t, "ref-11", body["reference"])

	assert.Equal(t, uint64(5), creator.req.UserID)
	assert.Equal(t, model.RoleCustomer, creator.req.Role)
	assert.Equal(t, int64(2700), creator.req.TotalAmountCents)
	assert.Equal(t, []string{"A1", "A2"}, creator.req.Seats)
	require.Len(t, creator.req.Snacks, 1)
	assert.Equal(t, model.SnackLine{ScheduleSnackID: 7, SnackToken: "snack-tok", Quantity: 2, PriceCents: 350}, creator.req.Snacks[0])
	assert.Equal(t, []string{"/v1/schedules/3"}, cache.paths)
}

func TestCreateBookingOmittedSnackPrice(t *testing.T) {
	creator := &fakeCreator{}
	e := bookingServer(creator, &fakeReader{}, nil, 5, model.RoleCustomer)

	rec, _ := doJSON(e, http.MethodPost, "/v1/bookings", `{
		"schedule_id": 3, "schedule_token": "t", "seats": ["A1"],
		"snacks": [{"schedule_snack_id": 7, "snack_token": "s", "quantity": 1}],
		"total_amount": "13.50", "user_id": 9
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, int64(0), creator.req.Snacks[0].PriceCents)
	assert.Equal(t, int64(1350), creator.req.TotalAmountCents)
	assert.Equal(t, uint64(9), creator.req.OnBehalfOf)
}

func TestCreateBookingBadRequest(t *testing.T) {
	e := bookingServer(&fakeCreator{}, &fakeReader{}, nil, 5, model.RoleCustomer)
	cases := map[string]string{
		"malformed":        `{"schedule_id":`,
		"no schedule":      `{"schedule_token":"t","seats":["A1"],"total_amount":10}`,
		"no token":         `{"schedule_id":3,"seats":["A1"],"total_amount":10}`,
		"no total":         `{"schedule_id":3,"schedule_token":"t","seats":["A1"]}`,
		"negative total":   `{"schedule_id":3,"schedule_token":"t","seats":["A1"],"total_amount":-1}`,
		"snack sans token": `{"schedule_id":3,"schedule_token":"t","seats":["A1"],"total_amount":10,"snacks":[{"schedule_snack_id":7,"quantity":1}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec, out := doJSON(e, http.MethodPost, "/v1/bookings", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "BAD_REQUEST", out["code"])
		})
	}
}

func TestCreateBookingErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		check  func(t *testing.T, body map[string]any)
	}{
		{"seat unavailable", &booking.Error{Kind: booking.KindSeatUnavailable, Seats: []string{"A1"}}, http.StatusConflict,
			func(t *testing.T, body map[string]any) {
				assert.Equal(t, []any{"A1"}, body["seats"])
				assert.Equal(t, "one or more seats are no longer available", body["error"])
			}},
		{"price mismatch", &booking.Error{Kind: booking.KindPriceMismatch, Message: "total does not match", Expected: 2700, Declared: 3050},
			http.StatusUnprocessableEntity, func(t *testing.T, body map[string]any) {
				assert.Equal(t, "27.00", body["expected"])
				assert.Equal(t, "30.50", body["declared"])
			}},
		{"snack line", &booking.Error{Kind: booking.KindSnackNotInSchedule, Message: "snack not offered", ScheduleSnackID: 9},
			http.StatusUnprocessableEntity, func(t *testing.T, body map[string]any) {
				assert.Equal(t, float64(9), body["schedule_snack_id"])
			}},
		{"token invalid", booking.ErrTokenInvalid, http.StatusUnauthorized, nil},
		{"token expired", booking.ErrTokenExpired, http.StatusUnauthorized, nil},
		{"token mismatch", booking.ErrTokenMismatch, http.StatusForbidden, nil},
		{"schedule closed", booking.ErrScheduleClosed, http.StatusConflict, nil},
		{"not found", booking.ErrScheduleNotFound, http.StatusNotFound, nil},
		{"forbidden", booking.ErrForbidden, http.StatusForbidden, nil},
		{"persistence", &booking.Error{Kind: booking.KindPersistenceFailure, Err: errors.New("dial tcp: refused")},
			http.StatusServiceUnavailable, func(t *testing.T, body map[string]any) {
				assert.NotContains(t, body["error"], "dial tcp")
			}},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cache := &fakeInvalidator{}
			e := bookingServer(&fakeCreator{err: tc.err}, &fakeReader{}, cache, 5, model.RoleCustomer)
			rec, body := doJSON(e, http.MethodPost, "/v1/bookings",
				`{"schedule_id":3,"schedule_token":"t","seats":["A1"],"total_amount":10}`)
			assert.Equal(t, tc.status, rec.Code)
			var be *booking.Error
			if errors.As(tc.err, &be) {
				assert.Equal(t, string(be.Kind), body["code"])
			}
			if tc.check != nil {
				tc.check(t, body)
			}
			assert.Empty(t, cache.paths)
		})
	}
}

func TestGetBooking(t *testing.T) {
	reader := &fakeReader{bookings: map[uint64]*model.Booking{
		11: {ID: 11, UserID: 5, ScheduleID: 3, TotalAmountCents: 2000, Seats: []string{"A1"}},
	}}
	cases := []struct {
		name   string
		caller uint64
		role   string
		path   string
		status int
	}{
		{"owner", 5, model.RoleCustomer, "/v1/bookings/11", http.StatusOK},
		{"other customer", 6, model.RoleCustomer, "/v1/bookings/11", http.StatusNotFound},
		{"staff", 6, model.RoleStaff, "/v1/bookings/11", http.StatusOK},
		{"missing", 5, model.RoleCustomer, "/v1/bookings/99", http.StatusNotFound},
		{"bad id", 5, model.RoleCustomer, "/v1/bookings/abc", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := bookingServer(&fakeCreator{}, reader, nil, tc.caller, tc.role)
			rec, body := doJSON(e, http.MethodGet, tc.path, "")
			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, "20.00", body["total_amount"])
			}
		})
	}

	e := bookingServer(&fakeCreator{}, &fakeReader{err: errors.New("db down")}, nil, 5, model.RoleCustomer)
	rec, _ := doJSON(e, http.MethodGet, "/v1/bookings/11", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListMyBookings(t *testing.T) {
	reader := &fakeReader{bookings: map[uint64]*model.Booking{
		11: {ID: 11, UserID: 5, TotalAmountCents: 1000},
		12: {ID: 12, UserID: 6, TotalAmountCents: 1000},
	}}
	e := bookingServer(&fakeCreator{}, reader, nil, 5, model.RoleCustomer)
	rec, body := doJSON(e, http.MethodGet, "/v1/my-bookings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	items, ok := body["items"].([]any)
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.Equal(t, float64(11), items[0].(map[string]any)["id"])

	e = bookingServer(&fakeCreator{}, &fakeReader{}, nil, 7, model.RoleCustomer)
	rec, body = doJSON(e, http.MethodGet, "/v1/my-bookings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, body["items"])
}

func TestAmountToCents(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		err  bool
	}{
		{"27", 2700, false},
		{"30.5", 3050, false},
		{"30.50", 3050, false},
		{"0.005", 1, false},
		{"0.004", 0, false},
		{"12.345", 1235, false},
		{".5", 50, false},
		{"-1", 0, true},
		{"1e3", 0, true},
		{"", 0, true},
		{"1.2x", 0, true},
	}
	for _, tc := range cases {
		got, err := amountToCents(json.Number(tc.in))
		if tc.err {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
	assert.Equal(t, "27.00", formatCents(2700))
	assert.Equal(t, "0.05", formatCents(5))
	assert.Equal(t, "-3.50", formatCents(-350))
}

type scheduleCatalog struct {
	schedules map[uint64]*model.Schedule
	snacks    []model.ScheduleSnack
}

func (s *scheduleCatalog) GetSchedule(_ context.Context, id uint64) (*model.Schedule, error) {
	sched, ok := s.schedules[id]
	if !ok {
		return nil, repository.ErrScheduleNotFound
	}
	return sched, nil
}

func (s *scheduleCatalog) ListScheduleSnacks(_ context.Context, scheduleID uint64) ([]model.ScheduleSnack, error) {
	var out []model.ScheduleSnack
	for _, sn := range s.snacks {
		if sn.ScheduleID == scheduleID {
			out = append(out, sn)
		}
	}
	return out, nil
}

type bookedSeats []string

func (b bookedSeats) BookedSeats(context.Context, uint64) ([]string, error) { return b, nil }

func TestGetSchedule(t *testing.T) {
	now := time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)
	cap3 := uint32(3)
	catalog := &scheduleCatalog{
		schedules: map[uint64]*model.Schedule{
			3: {ID: 3, MovieID: 1, HallID: 2, ShowTime: now.Add(time.Hour), Capacity: 10, SeatPriceCents: 1000, SeatRows: 2, SeatCols: 5},
			4: {ID: 4, MovieID: 1, HallID: 2, ShowTime: now.Add(-time.Minute), Capacity: 10, SeatPriceCents: 1000, SeatRows: 2, SeatCols: 5},
		},
		snacks: []model.ScheduleSnack{
			{ID: 7, ScheduleID: 3, SnackID: 1, SnackName: "Popcorn", PriceCents: 350, Available: true},
			{ID: 8, ScheduleID: 3, SnackID: 2, SnackName: "Soda", PriceCents: 200, AvailableQuantity: &cap3, Available: true},
		},
	}
	key := scopedtoken.DeriveKey("scoped-secret")
	clock := func() time.Time { return now }
	issuer := scopedtoken.NewIssuer(key, scopedtoken.WithClock(clock), scopedtoken.WithTTL(10*time.Minute))
	verifier := scopedtoken.NewVerifier(key, scopedtoken.WithClock(clock))

	h := NewScheduleHandler(catalog, ledger.NewMemoryLedger(bookedSeats{"A1"}), issuer, nil)
	h.Now = clock
	e := echo.New()
	e.GET("/v1/schedules/:id", h.GetSchedule)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/schedules/3", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var view ScheduleView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))

	assert.True(t, view.Bookable)
	assert.Equal(t, "10.00", view.Schedule.SeatPrice)
	assert.Equal(t, 9, view.AvailableSeats)
	require.Len(t, view.Seats, 10)
	assert.Equal(t, PublicSeat{Label: "A1", Status: ledger.StatusReserved}, view.Seats[0])
	assert.Equal(t, ledger.StatusFree, view.Seats[1].Status)

	require.NotNil(t, view.ScheduleToken)
	_, err := verifier.Verify(view.ScheduleToken.Raw, scopedtoken.EntitySchedule, 3)
	assert.NoError(t, err)

	require.Len(t, view.Snacks, 2)
	assert.Equal(t, "3.50", view.Snacks[0].Price)
	require.NotNil(t, view.Snacks[1].Token)
	_, err = verifier.Verify(view.Snacks[1].Token.Raw, scopedtoken.EntityScheduleSnack, 8)
	assert.NoError(t, err)
	require.NotNil(t, view.Snacks[1].AvailableQuantity)
	assert.Equal(t, uint32(3), *view.Snacks[1].AvailableQuantity)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/schedules/4", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var started ScheduleView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	assert.False(t, started.Bookable)
	assert.Nil(t, started.ScheduleToken)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/schedules/99", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "SCHEDULE_NOT_FOUND")

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/schedules/x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndReady(t *testing.T) {
	e := echo.New()
	e.GET("/healthz", Health)
	e.GET("/readyz", Ready(map[string]Check{
		"mysql": func(context.Context) error { return nil },
		"redis": func(context.Context) error { return errors.New("connection refused") },
	}))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec, body := doJSON(e, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["mysql"])
	assert.Equal(t, "connection refused", checks["redis"])
}
