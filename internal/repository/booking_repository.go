package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/parkline/capacity-engine/internal/model"
	"github.com/parkline/capacity-engine/internal/store"
)

// BookingRepo provides access to the bookings table.  Bookings are never
// deleted; every change is a status transition guarded by the current
// status.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

const bookingColumns = `id, trip_id, park_id, passenger_name, passenger_phone, kin_name, kin_phone, kin_address,
	seat_number, amount_paid, payment_status, payment_reference, status, cancellation_reason,
	checked_in, checked_in_at, created_at, updated_at`

func scanBooking(row rowScanner) (*model.Booking, error) {
	var (
		b                 model.Booking
		payStatus, status string
		payRef, cancelWhy sql.NullString
		checkedInAt       sql.NullTime
	)
	err := row.Scan(&b.ID, &b.TripID, &b.ParkID, &b.Passenger.Name, &b.Passenger.Phone,
		&b.NextOfKin.Name, &b.NextOfKin.Phone, &b.NextOfKin.Address,
		&b.SeatNumber, &b.AmountPaid, &payStatus, &payRef, &status, &cancelWhy,
		&b.CheckedIn, &checkedInAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.PaymentStatus = model.PaymentStatus(payStatus)
	b.Status = model.BookingStatus(status)
	b.PaymentReference = payRef.String
	b.CancellationReason = cancelWhy.String
	if checkedInAt.Valid {
		at := checkedInAt.Time
		b.CheckedInAt = &at
	}
	return &b, nil
}

// CreateHeldBooking locks the trip row, picks the lowest seat number not
// held by an active booking and inserts the booking and its hold.  The
// unique key on (trip_id, active_seat) backs the choice.
func (r *BookingRepo) CreateHeldBooking(ctx context.Context, b *model.Booking, h *model.Hold) error {
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

	var seatCount int
	if err := tx.QueryRowContext(ctx, `SELECT seat_count FROM trips WHERE id = ? FOR UPDATE`, b.TripID).Scan(&seatCount); err != nil {
		return notFound(err)
	}
	rows, err := tx.QueryContext(ctx,
		`SELECT seat_number FROM bookings WHERE trip_id = ? AND status IN ('pending','confirmed')`, b.TripID)
	if err != nil {
		return err
	}
	used := make(map[int]bool)
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return err
		}
		used[n] = true
	}
	if err := rows.Close(); err != nil {
		return err
	}
	seat := 0
	for n := 1; n <= seatCount; n++ {
		if !used[n] {
			seat = n
			break
		}
	}
	if seat == 0 {
		return store.ErrNoSeat
	}
	b.SeatNumber = seat
	h.SeatNumber = seat

	const insBooking = `INSERT INTO bookings (id, trip_id, park_id, passenger_name, passenger_phone, kin_name, kin_phone, kin_address,
		seat_number, amount_paid, payment_status, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insBooking, b.ID, b.TripID, b.ParkID, b.Passenger.Name, b.Passenger.Phone,
		b.NextOfKin.Name, b.NextOfKin.Phone, b.NextOfKin.Address, b.SeatNumber, b.AmountPaid,
		string(b.PaymentStatus), string(b.Status), b.CreatedAt, b.UpdatedAt); err != nil {
		if isDuplicate(err) {
			return store.ErrDuplicate
		}
		return err
	}
	const insHold = `INSERT INTO holds (id, trip_id, booking_id, seat_number, hold_token, state, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insHold, h.ID, h.TripID, h.BookingID, h.SeatNumber, h.Token,
		string(h.State), h.CreatedAt, h.ExpiresAt); err != nil {
		if isDuplicate(err) {
			return store.ErrDuplicate
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (r *BookingRepo) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	b, err := scanBooking(r.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return b, nil
}

func (r *BookingRepo) ListBookingsByTrip(ctx context.Context, tripID string) ([]model.Booking, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE trip_id = ? ORDER BY seat_number, created_at`, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (r *BookingRepo) UpdateBooking(ctx context.Context, id string, from model.BookingStatus, upd model.BookingUpdate) (bool, error) {
	q := `UPDATE bookings SET updated_at = UTC_TIMESTAMP(6)`
	var args []any
	if upd.Status != nil {
		q += `, status = ?`
		args = append(args, string(*upd.Status))
	}
	if upd.PaymentStatus != nil {
		q += `, payment_status = ?`
		args = append(args, string(*upd.PaymentStatus))
	}
	if upd.PaymentReference != nil {
		q += `, payment_reference = ?`
		args = append(args, nullString(*upd.PaymentReference))
	}
	if upd.CancellationReason != nil {
		q += `, cancellation_reason = ?`
		args = append(args, nullString(*upd.CancellationReason))
	}
	q += ` WHERE id = ? AND status = ?`
	args = append(args, id, string(from))

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	return r.changed(ctx, res, id)
}

func (r *BookingRepo) MarkCheckedIn(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE bookings SET checked_in = 1, checked_in_at = ?, updated_at = ? WHERE id = ? AND checked_in = 0 AND status = 'confirmed'`,
		at, at, id)
	if err != nil {
		return false, err
	}
	return r.changed(ctx, res, id)
}

func (r *BookingRepo) CountActiveBookings(ctx context.Context, tripID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings WHERE trip_id = ? AND status IN ('pending','confirmed')`, tripID).Scan(&n)
	return n, err
}

// changed reports whether a guarded UPDATE hit its row, returning
// store.ErrNotFound when the booking does not exist at all.
func (r *BookingRepo) changed(ctx context.Context, res sql.Result, id string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	var one int
	if err := r.db.QueryRowContext(ctx, `SELECT 1 FROM bookings WHERE id = ?`, id).Scan(&one); err != nil {
		return false, notFound(err)
	}
	return false, nil
}
