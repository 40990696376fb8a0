package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/parkline/capacity-engine/internal/capacity"
	"github.com/parkline/capacity-engine/internal/model"
	"github.com/parkline/capacity-engine/internal/store"
)

// TripRepo provides access to the trips table and implements
// capacity.Ledger on its counter columns.
type TripRepo struct {
	db *sql.DB
}

// NewTripRepo returns a new TripRepo bound to the given database.
func NewTripRepo(db *sql.DB) *TripRepo { return &TripRepo{db: db} }

const tripColumns = `id, park_id, route_id, service_date, departure_time, vehicle_id, driver_id,
	seat_count, confirmed_count, held_count, max_parcels, assigned_parcels,
	status, payout_status, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(row rowScanner) (*model.Trip, error) {
	var (
		t                 model.Trip
		serviceDate       time.Time
		vehicleID, driver sql.NullString
		status            string
	)
	err := row.Scan(&t.ID, &t.ParkID, &t.RouteID, &serviceDate, &t.DepartureTime, &vehicleID, &driver,
		&t.SeatCount, &t.ConfirmedCount, &t.HeldCount, &t.MaxParcels, &t.AssignedParcels,
		&status, &t.PayoutStatus, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.ServiceDate = serviceDate.Format("2006-01-02")
	t.VehicleID = vehicleID.String
	t.DriverID = driver.String
	t.Status = model.TripStatus(status)
	return &t, nil
}

func (r *TripRepo) CreateTrip(ctx context.Context, t *model.Trip) error {
	const q = `INSERT INTO trips (id, park_id, route_id, service_date, departure_time, vehicle_id, driver_id,
		seat_count, confirmed_count, held_count, max_parcels, assigned_parcels, status, payout_status, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q, t.ID, t.ParkID, t.RouteID, t.ServiceDate, t.DepartureTime,
		nullString(t.VehicleID), nullString(t.DriverID), t.SeatCount, t.ConfirmedCount, t.HeldCount,
		t.MaxParcels, t.AssignedParcels, string(t.Status), t.PayoutStatus, t.Version, t.CreatedAt, t.UpdatedAt)
	if isDuplicate(err) {
		return store.ErrDuplicate
	}
	return err
}

func (r *TripRepo) GetTrip(ctx context.Context, id string) (*model.Trip, error) {
	t, err := scanTrip(r.db.QueryRowContext(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

func (r *TripRepo) ListTripsByDate(ctx context.Context, serviceDate string) ([]model.Trip, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+tripColumns+` FROM trips WHERE service_date = ? ORDER BY departure_time, id`, serviceDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Trip, 0)
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *TripRepo) UpdateTripStatus(ctx context.Context, id string, from, to model.TripStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE trips SET status = ?, updated_at = UTC_TIMESTAMP(6) WHERE id = ? AND status = ?`,
		string(to), id, string(from))
	if err != nil {
		return err
	}
	return r.affectedOr(ctx, res, id, store.ErrStale)
}

func (r *TripRepo) SetTripDriver(ctx context.Context, id, driverID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE trips SET driver_id = ?, updated_at = UTC_TIMESTAMP(6) WHERE id = ?`, nullString(driverID), id)
	if err != nil {
		return err
	}
	return r.affectedOr(ctx, res, id, nil)
}

func (r *TripRepo) SetTripVehicle(ctx context.Context, id, vehicleID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE trips SET vehicle_id = ?, updated_at = UTC_TIMESTAMP(6) WHERE id = ?`, nullString(vehicleID), id)
	if err != nil {
		return err
	}
	return r.affectedOr(ctx, res, id, nil)
}

// DeleteTrip locks the trip row, checks for dependents and deletes it in
// one transaction.  Booking intake takes the same row lock, so no booking
// can slip in between the check and the delete.
func (r *TripRepo) DeleteTrip(ctx context.Context, id string) error {
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

	var assigned int
	if err := tx.QueryRowContext(ctx, `SELECT assigned_parcels FROM trips WHERE id = ? FOR UPDATE`, id).Scan(&assigned); err != nil {
		return notFound(err)
	}
	var active int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings WHERE trip_id = ? AND status IN ('pending','confirmed')`, id).Scan(&active); err != nil {
		return err
	}
	if assigned > 0 || active > 0 {
		return store.ErrStale
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM trips WHERE id = ?`, id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// affectedOr returns nil when the statement changed a row.  Otherwise it
// tells a missing trip (store.ErrNotFound) from a failed precondition
// (miss).  A nil miss treats "row exists, nothing changed" as success.
func (r *TripRepo) affectedOr(ctx context.Context, res sql.Result, id string, miss error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var one int
	if err := r.db.QueryRowContext(ctx, `SELECT 1 FROM trips WHERE id = ?`, id).Scan(&one); err != nil {
		return notFound(err)
	}
	return miss
}

// ----- capacity.Ledger -----

var _ capacity.Ledger = (*TripRepo)(nil)

func (r *TripRepo) TryReserveSeat(ctx context.Context, tripID string) (capacity.Result, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE trips SET held_count = held_count + 1, version = version + 1
		 WHERE id = ? AND confirmed_count + held_count < seat_count`, tripID)
	if err != nil {
		return capacity.Result{}, err
	}
	return r.result(ctx, res, tripID,
		`SELECT GREATEST(seat_count - confirmed_count - held_count, 0) FROM trips WHERE id = ?`)
}

func (r *TripRepo) ReleaseHeldSeat(ctx context.Context, tripID string) error {
	return r.release(ctx, tripID,
		`UPDATE trips SET held_count = held_count - 1, version = version + 1 WHERE id = ? AND held_count > 0`)
}

func (r *TripRepo) CommitHeldSeat(ctx context.Context, tripID string) error {
	return r.release(ctx, tripID,
		`UPDATE trips SET held_count = held_count - 1, confirmed_count = confirmed_count + 1, version = version + 1
		 WHERE id = ? AND held_count > 0`)
}

func (r *TripRepo) ReleaseConfirmedSeat(ctx context.Context, tripID string) error {
	return r.release(ctx, tripID,
		`UPDATE trips SET confirmed_count = confirmed_count - 1, version = version + 1 WHERE id = ? AND confirmed_count > 0`)
}

func (r *TripRepo) TryReserveParcelSlots(ctx context.Context, tripID string, count int, allowOverride bool) (capacity.Result, error) {
	const remaining = `SELECT GREATEST(max_parcels - assigned_parcels, 0) FROM trips WHERE id = ?`
	if count <= 0 {
		var n int
		if err := r.db.QueryRowContext(ctx, remaining, tripID).Scan(&n); err != nil {
			return capacity.Result{}, ledgerErr(err)
		}
		return capacity.Result{Granted: true, Remaining: n}, nil
	}
	q := `UPDATE trips SET assigned_parcels = assigned_parcels + ?, version = version + 1
		WHERE id = ? AND assigned_parcels + ? <= max_parcels`
	args := []any{count, tripID, count}
	if allowOverride {
		q = `UPDATE trips SET assigned_parcels = assigned_parcels + ?, version = version + 1 WHERE id = ?`
		args = args[:2]
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return capacity.Result{}, err
	}
	return r.result(ctx, res, tripID, remaining)
}

func (r *TripRepo) ReleaseParcelSlots(ctx context.Context, tripID string, count int) error {
	if count <= 0 {
		return nil
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE trips SET assigned_parcels = assigned_parcels - ?, version = version + 1
		 WHERE id = ? AND assigned_parcels >= ?`, count, tripID, count)
	if err != nil {
		return err
	}
	return ledgerErr(r.affectedOr(ctx, res, tripID, capacity.ErrUnderflow))
}

// result reads back the remaining capacity after a conditional reserve.
// The UPDATE alone decided the outcome; the read is informational.
func (r *TripRepo) result(ctx context.Context, res sql.Result, tripID, remainingQuery string) (capacity.Result, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return capacity.Result{}, err
	}
	var left int
	if err := r.db.QueryRowContext(ctx, remainingQuery, tripID).Scan(&left); err != nil {
		return capacity.Result{}, ledgerErr(err)
	}
	return capacity.Result{Granted: n > 0, Remaining: left}, nil
}

func (r *TripRepo) release(ctx context.Context, tripID, q string) error {
	res, err := r.db.ExecContext(ctx, q, tripID)
	if err != nil {
		return err
	}
	return ledgerErr(r.affectedOr(ctx, res, tripID, capacity.ErrUnderflow))
}

func ledgerErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, store.ErrNotFound) {
		return capacity.ErrUnknownTrip
	}
	return err
}
