package handler

import (
	"context"  // context for collaborator interfaces
	"errors"   // errors.Is
	"net/http" // HTTP status codes
	"time"     // show times and clock

	"github.com/labstack/echo/v4" // Echo web framework
	"go.uber.org/zap"             // structured logging

	"github.com/iliyamo/cinema-booking-engine/internal/ledger"
	"github.com/iliyamo/cinema-booking-engine/internal/model"
	"github.com/iliyamo/cinema-booking-engine/internal/repository"
	"github.com/iliyamo/cinema-booking-engine/internal/scopedtoken"
)

// ScheduleCatalog is the read side the schedule view needs.
type ScheduleCatalog interface {
	GetSchedule(ctx context.Context, id uint64) (*model.Schedule, error)
	ListScheduleSnacks(ctx context.Context, scheduleID uint64) ([]model.ScheduleSnack, error)
}

// SeatSnapshotter reports seat status per schedule.
type SeatSnapshotter interface {
	Snapshot(ctx context.Context, sched *model.Schedule) (map[string]ledger.Status, error)
}

// TokenIssuer signs scoped tokens.
type TokenIssuer interface {
	Issue(entity scopedtoken.EntityType, id uint64) (scopedtoken.Token, error)
}

// ScheduleHandler serves the public schedule view.  Every view hands out
// fresh scoped tokens for the schedule and each snack offering; a booking
// must present them to prove the client saw the current record.
type ScheduleHandler struct {
	Catalog ScheduleCatalog
	Seats   SeatSnapshotter
	Tokens  TokenIssuer
	Log     *zap.Logger
	Now     func() time.Time
}

// NewScheduleHandler constructs a ScheduleHandler.  log may be nil.
func NewScheduleHandler(catalog ScheduleCatalog, seats SeatSnapshotter, tokens TokenIssuer, log *zap.Logger) *ScheduleHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ScheduleHandler{Catalog: catalog, Seats: seats, Tokens: tokens, Log: log, Now: time.Now}
}

// PublicSchedule is the schedule part of the view.
type PublicSchedule struct {
	ID             uint64    `json:"id"`
	MovieID        uint64    `json:"movie_id"`
	HallID         uint64    `json:"hall_id"`
	ShowTime       time.Time `json:"show_time"`
	Capacity       uint32    `json:"capacity"`
	SeatPrice      string    `json:"seat_price"`
	SeatPriceCents int64     `json:"seat_price_cents"`
	SeatRows       uint32    `json:"seat_rows"`
	SeatCols       uint32    `json:"seat_cols"`
}

// PublicSeat is one seat of the seat map.
type PublicSeat struct {
	Label  string        `json:"label"`
	Status ledger.Status `json:"status"`
}

// PublicSnack is a snack offering with its scoped token.
type PublicSnack struct {
	ID                uint64             `json:"id"`
	SnackID           uint64             `json:"snack_id"`
	Name              string             `json:"name"`
	Price             string             `json:"price"`
	PriceCents        int64              `json:"price_cents"`
	AvailableQuantity *uint32            `json:"available_quantity,omitempty"`
	Token             *scopedtoken.Token `json:"snack_token,omitempty"`
}

// ScheduleView is the response of GET /v1/schedules/:id.
type ScheduleView struct {
	Schedule       PublicSchedule     `json:"schedule"`
	Bookable       bool               `json:"bookable"`
	ScheduleToken  *scopedtoken.Token `json:"schedule_token,omitempty"`
	AvailableSeats int                `json:"available_seats"`
	Seats          []PublicSeat       `json:"seats"`
	Snacks         []PublicSnack      `json:"snacks"`
}

// GetSchedule handles GET /v1/schedules/:id.  Schedules that already
// started are shown without tokens.
func (h *ScheduleHandler) GetSchedule(c echo.Context) error {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return badRequest(c, "invalid schedule id")
	}
	ctx := c.Request().Context()
	sched, err := h.Catalog.GetSchedule(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrScheduleNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "schedule not found", "code": "SCHEDULE_NOT_FOUND"})
		}
		h.Log.Error("load schedule failed", zap.Uint64("schedule_id", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	status, err := h.Seats.Snapshot(ctx, sched)
	if err != nil {
		h.Log.Error("seat snapshot failed", zap.Uint64("schedule_id", id), zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "seat map unavailable"})
	}
	snacks, err := h.Catalog.ListScheduleSnacks(ctx, id)
	if err != nil {
		h.Log.Error("list snacks failed", zap.Uint64("schedule_id", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	view := ScheduleView{
		Schedule: PublicSchedule{
			ID:             sched.ID,
			MovieID:        sched.MovieID,
			HallID:         sched.HallID,
			ShowTime:       sched.ShowTime,
			Capacity:       sched.Capacity,
			SeatPrice:      formatCents(sched.SeatPriceCents),
			SeatPriceCents: sched.SeatPriceCents,
			SeatRows:       sched.SeatRows,
			SeatCols:       sched.SeatCols,
		},
		Bookable: !sched.Started(h.Now()),
		Snacks:   make([]PublicSnack, 0, len(snacks)),
	}
	for _, label := range sched.SeatLabels() {
		st := status[label]
		if st == "" {
			st = ledger.StatusFree
		}
		if st == ledger.StatusFree {
			view.AvailableSeats++
		}
		view.Seats = append(view.Seats, PublicSeat{Label: label, Status: st})
	}
	if view.Bookable {
		tok, err := h.Tokens.Issue(scopedtoken.EntitySchedule, sched.ID)
		if err != nil {
			h.Log.Error("issue schedule token failed", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token error"})
		}
		view.ScheduleToken = &tok
	}
	for _, s := range snacks {
		ps := PublicSnack{
			ID:                s.ID,
			SnackID:           s.SnackID,
			Name:              s.SnackName,
			Price:             formatCents(s.PriceCents),
			PriceCents:        s.PriceCents,
			AvailableQuantity: s.AvailableQuantity,
		}
		if view.Bookable {
			tok, err := h.Tokens.Issue(scopedtoken.EntityScheduleSnack, s.ID)
			if err != nil {
				h.Log.Error("issue snack token failed", zap.Error(err))
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token error"})
			}
			ps.Token = &tok
		}
		view.Snacks = append(view.Snacks, ps)
	}
	return c.JSON(http.StatusOK, view)
}
