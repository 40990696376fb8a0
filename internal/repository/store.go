package repository

import (
	"database/sql"

	"github.com/parkline/capacity-engine/internal/store"
)

// Store bundles the MySQL repositories into a store.Backend.
type Store struct {
	*TripRepo
	*BookingRepo
	*HoldRepo
	*ParcelRepo
	*AuditRepo
}

var _ store.Backend = (*Store)(nil)

// NewStore returns a Store whose repositories share db.
func NewStore(db *sql.DB) *Store {
	return &Store{
		TripRepo:    NewTripRepo(db),
		BookingRepo: NewBookingRepo(db),
		HoldRepo:    NewHoldRepo(db),
		ParcelRepo:  NewParcelRepo(db),
		AuditRepo:   NewAuditRepo(db),
	}
}
