package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/iliyamo/cinema-booking-engine/internal/model"
	"github.com/iliyamo/cinema-booking-engine/internal/repository"
)

// priceEpsilonCents is the rounding tolerance for client supplied amounts.
const priceEpsilonCents = 1

// SnackLookup loads schedule snack offerings.  Implementations return
// repository.ErrScheduleSnackNotFound for unknown ids.
type SnackLookup interface {
	GetScheduleSnack(ctx context.Context, id uint64) (*model.ScheduleSnack, error)
}

// ResolvedLine is a snack line priced from the offering of record.
type ResolvedLine struct {
	Snack          *model.ScheduleSnack
	Quantity       uint32
	UnitPriceCents int64
}

// Total returns the line amount in cents.
func (l ResolvedLine) Total() int64 {
	return int64(l.Quantity) * l.UnitPriceCents
}

// Resolver validates requested snack lines against a schedule's offerings.
type Resolver struct {
	snacks SnackLookup
}

// NewResolver returns a Resolver reading offerings from snacks.
func NewResolver(snacks SnackLookup) *Resolver {
	return &Resolver{snacks: snacks}
}

// ResolveLines looks up every line, checks that the offering belongs to
// scheduleID and is on sale, checks quantities against the stock cap and
// returns the lines priced with the offering's price.  The client price on a
// line is only cross-checked; zero means the client sent none.  Lines for
// the same offering are checked against the cap with their summed quantity.
func (r *Resolver) ResolveLines(ctx context.Context, scheduleID uint64, lines []model.SnackLine) ([]ResolvedLine, error) {
	out := make([]ResolvedLine, 0, len(lines))
	requested := make(map[uint64]uint64, len(lines))
	for _, line := range lines {
		snack, err := r.snacks.GetScheduleSnack(ctx, line.ScheduleSnackID)
		if errors.Is(err, repository.ErrScheduleSnackNotFound) {
			return nil, lineError(KindSnackNotInSchedule, line.ScheduleSnackID, "snack offering does not exist", nil)
		}
		if err != nil {
			return nil, lineError(KindPersistenceFailure, line.ScheduleSnackID, "load snack offering", err)
		}
		if snack.ScheduleID != scheduleID || !snack.Available {
			return nil, lineError(KindSnackNotInSchedule, line.ScheduleSnackID,
				fmt.Sprintf("snack offering is not on sale for schedule %d", scheduleID), nil)
		}
		if line.Quantity == 0 {
			return nil, lineError(KindSnackQuantityExceeded, line.ScheduleSnackID, "quantity must be positive", nil)
		}
		requested[snack.ID] += uint64(line.Quantity)
		if snack.AvailableQuantity != nil && requested[snack.ID] > uint64(*snack.AvailableQuantity) {
			return nil, lineError(KindSnackQuantityExceeded, line.ScheduleSnackID,
				fmt.Sprintf("only %d left", *snack.AvailableQuantity), nil)
		}
		if line.PriceCents != 0 && abs(line.PriceCents-snack.PriceCents) > priceEpsilonCents {
			return nil, &Error{
				Kind:            KindPriceMismatch,
				Message:         "snack price differs from the current offering",
				ScheduleSnackID: line.ScheduleSnackID,
				Expected:        snack.PriceCents,
				Declared:        line.PriceCents,
			}
		}
		out = append(out, ResolvedLine{Snack: snack, Quantity: line.Quantity, UnitPriceCents: snack.PriceCents})
	}
	return out, nil
}

func lineError(kind Kind, id uint64, msg string, cause error) *Error {
	e := newError(kind, msg, cause)
	e.ScheduleSnackID = id
	return e
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
