package handler

import (
	"context"       // context for collaborator interfaces
	"encoding/json" // json.Number for decimal amounts
	"errors"        // errors.Is / errors.As
	"net/http"      // HTTP status codes
	"strconv"       // cache path formatting

	"github.com/labstack/echo/v4" // Echo web framework
	"go.uber.org/zap"             // structured logging

	"github.com/iliyamo/cinema-booking-engine/internal/booking"
	"github.com/iliyamo/cinema-booking-engine/internal/middleware"
	"github.com/iliyamo/cinema-booking-engine/internal/model"
	"github.com/iliyamo/cinema-booking-engine/internal/repository"
)

// BookingCreator runs the booking pipeline.
type BookingCreator interface {
	CreateBooking(ctx context.Context, req model.BookingRequest) (*model.Booking, error)
}

// BookingReader loads committed bookings.
type BookingReader interface {
	GetByID(ctx context.Context, id uint64) (*model.Booking, error)
	ListByUser(ctx context.Context, userID uint64) ([]model.Booking, error)
}

// CacheInvalidator drops cached responses for a path.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, path string) error
}

// BookingHandler serves the booking endpoints.  All methods assume that JWT
// authentication has already been performed by middleware.
type BookingHandler struct {
	Bookings BookingCreator
	Reader   BookingReader
	Cache    CacheInvalidator // optional
	Log      *zap.Logger
}

// NewBookingHandler constructs a BookingHandler.  cache and log may be nil.
func NewBookingHandler(bookings BookingCreator, reader BookingReader, cache CacheInvalidator, log *zap.Logger) *BookingHandler {
	if bookings == nil || reader == nil {
		panic("nil dependency passed to NewBookingHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BookingHandler{Bookings: bookings, Reader: reader, Cache: cache, Log: log}
}

type snackLineBody struct {
	ScheduleSnackID uint64      `json:"schedule_snack_id"`
	SnackToken      string      `json:"snack_token"`
	Quantity        uint32      `json:"quantity"`
	Price           json.Number `json:"price"`
}

type createBookingBody struct {
	ScheduleID    uint64          `json:"schedule_id"`
	ScheduleToken string          `json:"schedule_token"`
	Seats         []string        `json:"seats"`
	Snacks        []snackLineBody `json:"snacks"`
	TotalAmount   json.Number     `json:"total_amount"`
	UserID        uint64          `json:"user_id"` // on behalf of, ADMIN/STAFF only
}

// BookingResponse is a booking as returned to clients.
type BookingResponse struct {
	*model.Booking
	TotalAmount string `json:"total_amount"`
}

func newBookingResponse(b *model.Booking) BookingResponse {
	return BookingResponse{Booking: b, TotalAmount: formatCents(b.TotalAmountCents)}
}

// CreateBooking handles POST /v1/bookings.  It returns 201 with the
// committed booking, or a typed error:
//
//	{"error": "...", "code": "SEAT_UNAVAILABLE", "seats": ["A1"]}
func (h *BookingHandler) CreateBooking(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "code": "UNAUTHENTICATED"})
	}
	var body createBookingBody
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.ScheduleID == 0 {
		return badRequest(c, "schedule_id is required")
	}
	if body.ScheduleToken == "" {
		return badRequest(c, "schedule_token is required")
	}
	total, err := amountToCents(body.TotalAmount)
	if err != nil {
		return badRequest(c, "total_amount: "+err.Error())
	}
	req := model.BookingRequest{
		UserID:           userID,
		Role:             middleware.Role(c),
		OnBehalfOf:       body.UserID,
		ScheduleID:       body.ScheduleID,
		ScheduleToken:    body.ScheduleToken,
		Seats:            body.Seats,
		Snacks:           make([]model.SnackLine, 0, len(body.Snacks)),
		TotalAmountCents: total,
	}
	for i, s := range body.Snacks {
		if s.ScheduleSnackID == 0 || s.SnackToken == "" {
			return badRequest(c, "snacks["+strconv.Itoa(i)+"]: schedule_snack_id and snack_token are required")
		}
		var price int64
		if s.Price != "" {
			if price, err = amountToCents(s.Price); err != nil {
				return badRequest(c, "snacks["+strconv.Itoa(i)+"].price: "+err.Error())
			}
		}
		req.Snacks = append(req.Snacks, model.SnackLine{
			ScheduleSnackID: s.ScheduleSnackID,
			SnackToken:      s.SnackToken,
			Quantity:        s.Quantity,
			PriceCents:      price,
		})
	}

	b, err := h.Bookings.CreateBooking(c.Request().Context(), req)
	if err != nil {
		return writeBookingError(c, err)
	}
	if h.Cache != nil {
		if err := h.Cache.Invalidate(c.Request().Context(), schedulePath(b.ScheduleID)); err != nil {
			h.Log.Warn("invalidate schedule cache failed", zap.Uint64("schedule_id", b.ScheduleID), zap.Error(err))
		}
	}
	return c.JSON(http.StatusCreated, newBookingResponse(b))
}

// GetBooking handles GET /v1/bookings/:id.  Customers only see their own
// bookings; ADMIN and STAFF see all.  Foreign bookings answer 404 so ids
// cannot be probed.
func (h *BookingHandler) GetBooking(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "code": "UNAUTHENTICATED"})
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return badRequest(c, "invalid booking id")
	}
	b, err := h.Reader.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrBookingNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found", "code": "BOOKING_NOT_FOUND"})
		}
		h.Log.Error("load booking failed", zap.Uint64("booking_id", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if b.UserID != userID && !model.CanActForOthers(middleware.Role(c)) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found", "code": "BOOKING_NOT_FOUND"})
	}
	return c.JSON(http.StatusOK, newBookingResponse(b))
}

// ListMyBookings handles GET /v1/my-bookings.
func (h *BookingHandler) ListMyBookings(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "code": "UNAUTHENTICATED"})
	}
	list, err := h.Reader.ListByUser(c.Request().Context(), userID)
	if err != nil {
		h.Log.Error("list bookings failed", zap.Uint64("user_id", userID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	items := make([]BookingResponse, 0, len(list))
	for i := range list {
		items = append(items, newBookingResponse(&list[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

var kindStatus = map[booking.Kind]int{
	booking.KindTokenInvalid:          http.StatusUnauthorized,
	booking.KindTokenExpired:          http.StatusUnauthorized,
	booking.KindTokenMismatch:         http.StatusForbidden,
	booking.KindScheduleNotFound:      http.StatusNotFound,
	booking.KindScheduleClosed:        http.StatusConflict,
	booking.KindSnackNotInSchedule:    http.StatusUnprocessableEntity,
	booking.KindSnackQuantityExceeded: http.StatusConflict,
	booking.KindInvalidSeat:           http.StatusUnprocessableEntity,
	booking.KindDuplicateSeat:         http.StatusUnprocessableEntity,
	booking.KindSeatUnavailable:       http.StatusConflict,
	booking.KindPriceMismatch:         http.StatusUnprocessableEntity,
	booking.KindForbidden:             http.StatusForbidden,
	booking.KindPersistenceFailure:    http.StatusServiceUnavailable,
}

// writeBookingError maps a booking error to its status and JSON body.
func writeBookingError(c echo.Context, err error) error {
	var be *booking.Error
	if !errors.As(err, &be) {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	status, ok := kindStatus[be.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	msg := be.Message
	if msg == "" || be.Kind == booking.KindPersistenceFailure {
		msg = defaultMessage(be.Kind)
	}
	body := echo.Map{"error": msg, "code": be.Kind}
	if len(be.Seats) > 0 {
		body["seats"] = be.Seats
	}
	if be.ScheduleSnackID != 0 {
		body["schedule_snack_id"] = be.ScheduleSnackID
	}
	if be.Kind == booking.KindPriceMismatch {
		body["expected"] = formatCents(be.Expected)
		body["declared"] = formatCents(be.Declared)
	}
	return c.JSON(status, body)
}

func defaultMessage(k booking.Kind) string {
	switch k {
	case booking.KindSeatUnavailable:
		return "one or more seats are no longer available"
	case booking.KindDuplicateSeat:
		return "a seat appears more than once"
	case booking.KindInvalidSeat:
		return "seat not in hall"
	case booking.KindPersistenceFailure:
		return "booking could not be stored, please retry"
	}
	return "booking rejected"
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg, "code": "BAD_REQUEST"})
}

func schedulePath(id uint64) string {
	return "/v1/schedules/" + strconv.FormatUint(id, 10)
}
