package repository

import (
    "context"
    "database/sql"
    "errors"

    "github.com/iliyamo/cinema-booking-engine/internal/model"
)

// CatalogRepo reads schedules and their snack offerings.  Catalog rows are
// maintained by the scheduling service; this repository never writes them
// except for the snack stock decrement performed inside a booking
// transaction (see BookingRepo).
type CatalogRepo struct {
    db *sql.DB
}

// NewCatalogRepo returns a new CatalogRepo bound to the given database.
func NewCatalogRepo(db *sql.DB) *CatalogRepo { return &CatalogRepo{db: db} }

const scheduleColumns = `s.id, s.movie_id, s.hall_id, s.show_time, s.available_seats, s.price_cents,
                         h.seat_rows, h.seat_cols, s.created_at, s.updated_at`

// GetSchedule loads a schedule together with its hall grid.  It returns
// ErrScheduleNotFound when no row matches.
func (r *CatalogRepo) GetSchedule(ctx context.Context, id uint64) (*model.Schedule, error) {
    const q = `SELECT ` + scheduleColumns + `
               FROM schedules s
               JOIN halls h ON h.id = s.hall_id
               WHERE s.id = ?`
    var s model.Schedule
    err := r.db.QueryRowContext(ctx, q, id).Scan(
        &s.ID, &s.MovieID, &s.HallID, &s.ShowTime, &s.Capacity, &s.SeatPriceCents,
        &s.SeatRows, &s.SeatCols, &s.CreatedAt, &s.UpdatedAt,
    )
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return nil, ErrScheduleNotFound
        }
        return nil, err
    }
    return &s, nil
}

const scheduleSnackColumns = `ss.id, ss.schedule_id, ss.snack_id, sn.name, ss.price_cents,
                              ss.available_quantity, ss.available, ss.created_at, ss.updated_at`

// GetScheduleSnack loads one snack offering.  It returns
// ErrScheduleSnackNotFound when no row matches.
func (r *CatalogRepo) GetScheduleSnack(ctx context.Context, id uint64) (*model.ScheduleSnack, error) {
    const q = `SELECT ` + scheduleSnackColumns + `
               FROM schedule_snacks ss
               JOIN snacks sn ON sn.id = ss.snack_id
               WHERE ss.id = ?`
    ss, err := scanScheduleSnack(r.db.QueryRowContext(ctx, q, id))
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return nil, ErrScheduleSnackNotFound
        }
        return nil, err
    }
    return ss, nil
}

// ListScheduleSnacks returns the offerings of a schedule that are on sale,
// ordered by id.
func (r *CatalogRepo) ListScheduleSnacks(ctx context.Context, scheduleID uint64) ([]model.ScheduleSnack, error) {
    const q = `SELECT ` + scheduleSnackColumns + `
               FROM schedule_snacks ss
               JOIN snacks sn ON sn.id = ss.snack_id
               WHERE ss.schedule_id = ? AND ss.available = 1
               ORDER BY ss.id`
    rows, err := r.db.QueryContext(ctx, q, scheduleID)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var out []model.ScheduleSnack
    for rows.Next() {
        ss, err := scanScheduleSnack(rows)
        if err != nil {
            return nil, err
        }
        out = append(out, *ss)
    }
    return out, rows.Err()
}

type rowScanner interface {
    Scan(dest ...interface{}) error
}

func scanScheduleSnack(row rowScanner) (*model.ScheduleSnack, error) {
    var ss model.ScheduleSnack
    var qty sql.NullInt64
    if err := row.Scan(
        &ss.ID, &ss.ScheduleID, &ss.SnackID, &ss.SnackName, &ss.PriceCents,
        &qty, &ss.Available, &ss.CreatedAt, &ss.UpdatedAt,
    ); err != nil {
        return nil, err
    }
    if qty.Valid {
        q := uint32(qty.Int64)
        ss.AvailableQuantity = &q
    }
    return &ss, nil
}
