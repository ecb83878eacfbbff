package repository

import (
    "context"
    "database/sql"
    "errors"
    "sort"
    "strings"

    "github.com/go-sql-driver/mysql"

    "github.com/iliyamo/cinema-booking-engine/internal/model"
)

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

// BookingRepo persists bookings with their seats and snack lines.  Seats
// are stored in booking_seats, whose unique (schedule_id, seat_label) key
// guarantees that a seat is booked at most once per schedule even if two
// processes disagreed about seat availability.
type BookingRepo struct {
    db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

// SaveBooking stores b in a single transaction: the booking row, its seats,
// its snack lines and the stock decrement of capped offerings.  On success
// b.ID and b.CreatedAt are populated.  It returns ErrSeatTaken when a seat
// is already booked and ErrSnackStockExhausted when an offering ran out.
func (r *BookingRepo) SaveBooking(ctx context.Context, b *model.Booking) error {
    tx, err := r.db.BeginTx(ctx, nil)
    if err != nil {
        return err
    }
    committed := false
    defer func() {
        if !committed {
            _ = tx.Rollback()
        }
    }()

    if err := r.createTx(ctx, tx, b); err != nil {
        return err
    }
    if err := r.createSeatsBulkTx(ctx, tx, b); err != nil {
        if isDuplicateEntry(err) {
            return ErrSeatTaken
        }
        return err
    }
    if err := r.decrementStockTx(ctx, tx, b.Snacks); err != nil {
        return err
    }
    if err := r.createSnacksBulkTx(ctx, tx, b); err != nil {
        return err
    }
    if err := tx.Commit(); err != nil {
        return err
    }
    committed = true
    return nil
}

// createTx inserts the booking row and reads back the generated id and
// creation time.
func (r *BookingRepo) createTx(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
    const q = `INSERT INTO bookings (reference, schedule_id, user_id, status, total_amount_cents) VALUES (?, ?, ?, ?, ?)`
    res, err := tx.ExecContext(ctx, q, b.Reference, b.ScheduleID, b.UserID, b.Status, b.TotalAmountCents)
    if err != nil {
        return err
    }
    id, err := res.LastInsertId()
    if err != nil {
        return err
    }
    b.ID = uint64(id)
    return tx.QueryRowContext(ctx, `SELECT created_at FROM bookings WHERE id = ?`, b.ID).Scan(&b.CreatedAt)
}

// createSeatsBulkTx inserts every seat of the booking in one statement.
func (r *BookingRepo) createSeatsBulkTx(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
    if len(b.Seats) == 0 {
        return nil
    }
    var sb strings.Builder
    sb.WriteString(`INSERT INTO booking_seats (booking_id, schedule_id, seat_label, position) VALUES `)
    args := make([]interface{}, 0, len(b.Seats)*4)
    for i, label := range b.Seats {
        if i > 0 {
            sb.WriteString(",")
        }
        sb.WriteString("(?, ?, ?, ?)")
        args = append(args, b.ID, b.ScheduleID, label, i)
    }
    _, err := tx.ExecContext(ctx, sb.String(), args...)
    return err
}

// decrementStockTx takes the requested quantities off capped offerings.
// The offering rows are locked for the rest of the transaction.
func (r *BookingRepo) decrementStockTx(ctx context.Context, tx *sql.Tx, lines []model.BookingSnack) error {
    want := make(map[uint64]uint64, len(lines))
    for _, l := range lines {
        want[l.ScheduleSnackID] += uint64(l.Quantity)
    }
    ids := make([]uint64, 0, len(want))
    for id := range want {
        ids = append(ids, id)
    }
    // lock rows in id order so concurrent bookings cannot deadlock
    sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
    for _, id := range ids {
        var qty sql.NullInt64
        err := tx.QueryRowContext(ctx,
            `SELECT available_quantity FROM schedule_snacks WHERE id = ? FOR UPDATE`, id,
        ).Scan(&qty)
        if err != nil {
            if errors.Is(err, sql.ErrNoRows) {
                return ErrScheduleSnackNotFound
            }
            return err
        }
        if !qty.Valid {
            continue
        }
        if uint64(qty.Int64) < want[id] {
            return ErrSnackStockExhausted
        }
        if _, err := tx.ExecContext(ctx,
            `UPDATE schedule_snacks SET available_quantity = available_quantity - ? WHERE id = ?`,
            want[id], id,
        ); err != nil {
            return err
        }
    }
    return nil
}

// createSnacksBulkTx inserts the snack lines of the booking.
func (r *BookingRepo) createSnacksBulkTx(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
    if len(b.Snacks) == 0 {
        return nil
    }
    var sb strings.Builder
    sb.WriteString(`INSERT INTO booking_snacks (booking_id, schedule_snack_id, quantity, unit_price_cents) VALUES `)
    args := make([]interface{}, 0, len(b.Snacks)*4)
    for i, s := range b.Snacks {
        if i > 0 {
            sb.WriteString(",")
        }
        sb.WriteString("(?, ?, ?, ?)")
        args = append(args, b.ID, s.ScheduleSnackID, s.Quantity, s.UnitPriceCents)
    }
    _, err := tx.ExecContext(ctx, sb.String(), args...)
    return err
}

// BookedSeats returns every seat label booked for the schedule.  It seeds
// the seat ledger.
func (r *BookingRepo) BookedSeats(ctx context.Context, scheduleID uint64) ([]string, error) {
    rows, err := r.db.QueryContext(ctx, `SELECT seat_label FROM booking_seats WHERE schedule_id = ?`, scheduleID)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var out []string
    for rows.Next() {
        var label string
        if err := rows.Scan(&label); err != nil {
            return nil, err
        }
        out = append(out, label)
    }
    return out, rows.Err()
}

const bookingColumns = `id, reference, schedule_id, user_id, status, total_amount_cents, created_at`

// GetByID loads a booking with its seats and snack lines.  It returns
// ErrBookingNotFound when no row matches.
func (r *BookingRepo) GetByID(ctx context.Context, id uint64) (*model.Booking, error) {
    var b model.Booking
    err := r.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id).Scan(
        &b.ID, &b.Reference, &b.ScheduleID, &b.UserID, &b.Status, &b.TotalAmountCents, &b.CreatedAt,
    )
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return nil, ErrBookingNotFound
        }
        return nil, err
    }
    if err := r.loadLines(ctx, []*model.Booking{&b}); err != nil {
        return nil, err
    }
    return &b, nil
}

// ListByUser returns the bookings of a user, newest first.
func (r *BookingRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Booking, error) {
    rows, err := r.db.QueryContext(ctx,
        `SELECT `+bookingColumns+` FROM bookings WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
    if err != nil {
        return nil, err
    }
    var out []model.Booking
    for rows.Next() {
        var b model.Booking
        if err := rows.Scan(&b.ID, &b.Reference, &b.ScheduleID, &b.UserID, &b.Status, &b.TotalAmountCents, &b.CreatedAt); err != nil {
            rows.Close()
            return nil, err
        }
        out = append(out, b)
    }
    if err := rows.Err(); err != nil {
        rows.Close()
        return nil, err
    }
    rows.Close()
    ptrs := make([]*model.Booking, len(out))
    for i := range out {
        ptrs[i] = &out[i]
    }
    if err := r.loadLines(ctx, ptrs); err != nil {
        return nil, err
    }
    return out, nil
}

// loadLines fills Seats and Snacks of the given bookings with two queries.
func (r *BookingRepo) loadLines(ctx context.Context, bookings []*model.Booking) error {
    if len(bookings) == 0 {
        return nil
    }
    byID := make(map[uint64]*model.Booking, len(bookings))
    args := make([]interface{}, 0, len(bookings))
    for _, b := range bookings {
        b.Seats = []string{}
        b.Snacks = []model.BookingSnack{}
        byID[b.ID] = b
        args = append(args, b.ID)
    }
    in := "(" + strings.TrimSuffix(strings.Repeat("?,", len(bookings)), ",") + ")"

    rows, err := r.db.QueryContext(ctx,
        `SELECT booking_id, seat_label FROM booking_seats WHERE booking_id IN `+in+` ORDER BY booking_id, position`, args...)
    if err != nil {
        return err
    }
    for rows.Next() {
        var id uint64
        var label string
        if err := rows.Scan(&id, &label); err != nil {
            rows.Close()
            return err
        }
        if b, ok := byID[id]; ok {
            b.Seats = append(b.Seats, label)
        }
    }
    if err := rows.Err(); err != nil {
        rows.Close()
        return err
    }
    rows.Close()

    rows, err = r.db.QueryContext(ctx,
        `SELECT bs.booking_id, bs.schedule_snack_id, sn.name, bs.quantity, bs.unit_price_cents
         FROM booking_snacks bs
         JOIN schedule_snacks ss ON ss.id = bs.schedule_snack_id
         JOIN snacks sn ON sn.id = ss.snack_id
         WHERE bs.booking_id IN `+in+`
         ORDER BY bs.booking_id, bs.schedule_snack_id`, args...)
    if err != nil {
        return err
    }
    defer rows.Close()
    for rows.Next() {
        var id uint64
        var s model.BookingSnack
        if err := rows.Scan(&id, &s.ScheduleSnackID, &s.SnackName, &s.Quantity, &s.UnitPriceCents); err != nil {
            return err
        }
        if b, ok := byID[id]; ok {
            b.Snacks = append(b.Snacks, s)
        }
    }
    return rows.Err()
}

func isDuplicateEntry(err error) bool {
    var me *mysql.MySQLError
    return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
