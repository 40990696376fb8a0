package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/parkline/capacity-engine/internal/model"
)

// HoldRepo provides access to the holds table.  Rows are created by
// BookingRepo.CreateHeldBooking together with their booking; afterwards the
// only write is the state claim.
type HoldRepo struct {
	db *sql.DB
}

// NewHoldRepo returns a new HoldRepo bound to the given database.
func NewHoldRepo(db *sql.DB) *HoldRepo { return &HoldRepo{db: db} }

const holdColumns = `id, trip_id, booking_id, seat_number, hold_token, state, created_at, expires_at, closed_at`

func scanHold(row rowScanner) (*model.Hold, error) {
	var (
		h      model.Hold
		state  string
		closed sql.NullTime
	)
	if err := row.Scan(&h.ID, &h.TripID, &h.BookingID, &h.SeatNumber, &h.Token, &state,
		&h.CreatedAt, &h.ExpiresAt, &closed); err != nil {
		return nil, err
	}
	h.State = model.HoldState(state)
	if closed.Valid {
		at := closed.Time
		h.ClosedAt = &at
	}
	return &h, nil
}

func (r *HoldRepo) GetHold(ctx context.Context, id string) (*model.Hold, error) {
	h, err := scanHold(r.db.QueryRowContext(ctx, `SELECT `+holdColumns+` FROM holds WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return h, nil
}

func (r *HoldRepo) GetHoldByBooking(ctx context.Context, bookingID string) (*model.Hold, error) {
	h, err := scanHold(r.db.QueryRowContext(ctx, `SELECT `+holdColumns+` FROM holds WHERE booking_id = ?`, bookingID))
	if err != nil {
		return nil, notFound(err)
	}
	return h, nil
}

// ClaimHold is the compare-and-set on the hold state.  Of any number of
// concurrent claims on one hold, exactly one matches state = 'held'.
func (r *HoldRepo) ClaimHold(ctx context.Context, id string, to model.HoldState, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE holds SET state = ?, closed_at = ? WHERE id = ? AND state = 'held'`, string(to), at, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	var one int
	if err := r.db.QueryRowContext(ctx, `SELECT 1 FROM holds WHERE id = ?`, id).Scan(&one); err != nil {
		return false, notFound(err)
	}
	return false, nil
}

func (r *HoldRepo) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]model.Hold, error) {
	return r.queryHolds(ctx,
		`SELECT `+holdColumns+` FROM holds WHERE state = 'held' AND expires_at < ? ORDER BY expires_at LIMIT ?`,
		now, limit)
}

// ListExpiredTripHolds is served by the (trip_id, state, expires_at) index.
func (r *HoldRepo) ListExpiredTripHolds(ctx context.Context, tripID string, now time.Time, limit int) ([]model.Hold, error) {
	return r.queryHolds(ctx,
		`SELECT `+holdColumns+` FROM holds WHERE trip_id = ? AND state = 'held' AND expires_at < ? ORDER BY expires_at LIMIT ?`,
		tripID, now, limit)
}

func (r *HoldRepo) queryHolds(ctx context.Context, q string, args ...any) ([]model.Hold, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Hold, 0)
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}
