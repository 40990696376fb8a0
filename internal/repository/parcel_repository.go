package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/parkline/capacity-engine/internal/model"
	"github.com/parkline/capacity-engine/internal/store"
)

// ParcelRepo provides access to the parcels table.
type ParcelRepo struct {
	db *sql.DB
}

// NewParcelRepo returns a new ParcelRepo bound to the given database.
func NewParcelRepo(db *sql.DB) *ParcelRepo { return &ParcelRepo{db: db} }

const parcelColumns = `id, park_id, sender_name, receiver_name, fee, status, assigned_trip_id, created_at, updated_at`

func scanParcel(row rowScanner) (*model.Parcel, error) {
	var (
		p      model.Parcel
		status string
		tripID sql.NullString
	)
	if err := row.Scan(&p.ID, &p.ParkID, &p.SenderName, &p.ReceiverName, &p.Fee, &status, &tripID,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Status = model.ParcelStatus(status)
	p.AssignedTripID = tripID.String
	return &p, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func (r *ParcelRepo) CreateParcel(ctx context.Context, p *model.Parcel) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO parcels (id, park_id, sender_name, receiver_name, fee, status, assigned_trip_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ParkID, p.SenderName, p.ReceiverName, p.Fee, string(p.Status), nullString(p.AssignedTripID),
		p.CreatedAt, p.UpdatedAt)
	if isDuplicate(err) {
		return store.ErrDuplicate
	}
	return err
}

func (r *ParcelRepo) GetParcel(ctx context.Context, id string) (*model.Parcel, error) {
	p, err := scanParcel(r.db.QueryRowContext(ctx, `SELECT `+parcelColumns+` FROM parcels WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

func (r *ParcelRepo) GetParcels(ctx context.Context, ids []string) ([]model.Parcel, error) {
	if len(ids) == 0 {
		return []model.Parcel{}, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+parcelColumns+` FROM parcels WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	byID := make(map[string]model.Parcel, len(ids))
	for rows.Next() {
		p, err := scanParcel(rows)
		if err != nil {
			return nil, err
		}
		byID[p.ID] = *p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]model.Parcel, 0, len(ids))
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			return nil, store.ErrNotFound
		}
		out = append(out, p)
	}
	return out, nil
}

// AssignParcels moves every listed parcel from unassigned to assigned in
// one statement inside a transaction; if any of them was not unassigned
// the transaction is rolled back.
func (r *ParcelRepo) AssignParcels(ctx context.Context, tripID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
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

	args := make([]any, 0, len(ids)+1)
	args = append(args, tripID)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE parcels SET status = 'assigned', assigned_trip_id = ?, updated_at = UTC_TIMESTAMP(6)
		 WHERE status = 'unassigned' AND id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if int(n) != len(ids) {
		return store.ErrStale
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (r *ParcelRepo) UpdateParcelStatus(ctx context.Context, id string, from, to model.ParcelStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE parcels SET status = ?, updated_at = UTC_TIMESTAMP(6) WHERE id = ? AND status = ?`,
		string(to), id, string(from))
	if err != nil {
		return err
	}
	return r.affectedOr(ctx, res, id)
}

// UnassignParcel reads the assigned trip under a row lock and clears it.
func (r *ParcelRepo) UnassignParcel(ctx context.Context, id string) (string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var status string
	var tripID sql.NullString
	if err := tx.QueryRowContext(ctx,
		`SELECT status, assigned_trip_id FROM parcels WHERE id = ? FOR UPDATE`, id).Scan(&status, &tripID); err != nil {
		return "", notFound(err)
	}
	if model.ParcelStatus(status) != model.ParcelAssigned {
		return "", store.ErrStale
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE parcels SET status = 'unassigned', assigned_trip_id = NULL, updated_at = UTC_TIMESTAMP(6) WHERE id = ?`, id); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	committed = true
	return tripID.String, nil
}

func (r *ParcelRepo) affectedOr(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var one int
	if err := r.db.QueryRowContext(ctx, `SELECT 1 FROM parcels WHERE id = ?`, id).Scan(&one); err != nil {
		return notFound(err)
	}
	return store.ErrStale
}
