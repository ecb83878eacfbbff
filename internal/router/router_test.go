package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-booking-engine/internal/handler"
	"github.com/iliyamo/cinema-booking-engine/internal/model"
)

type nopBookings struct{}

func (nopBookings) CreateBooking(context.Context, model.BookingRequest) (*model.Booking, error) {
	return &model.Booking{}, nil
}
func (nopBookings) GetByID(context.Context, uint64) (*model.Booking, error)     { return &model.Booking{}, nil }
func (nopBookings) ListByUser(context.Context, uint64) ([]model.Booking, error) { return nil, nil }

func TestRoutes(t *testing.T) {
	e := New(zap.NewNop())
	RegisterRoutes(e, map[string]handler.Check{"mysql": func(context.Context) error { return nil }})
	RegisterBooking(e, handler.NewBookingHandler(nopBookings{}, nopBookings{}, nil, nil), "session-secret-0123", nil)

	cases := []struct {
		method, path string
		status       int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/readyz", http.StatusOK},
		{http.MethodPost, "/v1/bookings", http.StatusUnauthorized},
		{http.MethodGet, "/v1/bookings/1", http.StatusUnauthorized},
		{http.MethodGet, "/v1/my-bookings", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, strings.NewReader("{}")))
		assert.Equal(t, tc.status, rec.Code, tc.method+" "+tc.path)
	}
}
