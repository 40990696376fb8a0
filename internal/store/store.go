// Package store declares the persistence contracts used by the capacity
// engine and provides Memory, an in-process implementation of all of them.
// The MySQL implementation lives in the repository package.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/parkline/capacity-engine/internal/capacity"
	"github.com/parkline/capacity-engine/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a record with the same ID exists.
	ErrDuplicate = errors.New("store: duplicate id")
	// ErrNoSeat is returned when no seat number is free on the trip.
	ErrNoSeat = errors.New("store: no free seat number")
	// ErrStale is returned when a conditional write found the record in a
	// different state than the caller expected.
	ErrStale = errors.New("store: precondition failed")
)

// TripStore persists trips.  Counter fields are only changed through the
// capacity.Ledger methods of the same backend.
type TripStore interface {
	CreateTrip(ctx context.Context, t *model.Trip) error
	GetTrip(ctx context.Context, id string) (*model.Trip, error)
	ListTripsByDate(ctx context.Context, serviceDate string) ([]model.Trip, error)
	// UpdateTripStatus sets the status to `to` only if it is currently `from`.
	UpdateTripStatus(ctx context.Context, id string, from, to model.TripStatus) error
	SetTripDriver(ctx context.Context, id, driverID string) error
	SetTripVehicle(ctx context.Context, id, vehicleID string) error
	// DeleteTrip removes a trip that has no active bookings and no parcel
	// slots in use; otherwise it returns ErrStale.
	DeleteTrip(ctx context.Context, id string) error
}

// BookingStore persists bookings and creates them together with their hold.
type BookingStore interface {
	// CreateHeldBooking assigns the lowest seat number not used by an
	// active booking on the trip, then stores b and h atomically.
	CreateHeldBooking(ctx context.Context, b *model.Booking, h *model.Hold) error
	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	ListBookingsByTrip(ctx context.Context, tripID string) ([]model.Booking, error)
	// UpdateBooking applies upd only if the booking's status is currently
	// `from`.  It reports false, without error, when the status differs.
	UpdateBooking(ctx context.Context, id string, from model.BookingStatus, upd model.BookingUpdate) (bool, error)
	// MarkCheckedIn flips checkedIn from false to true on a confirmed
	// booking.  It reports false when the booking was already checked in or
	// is no longer confirmed.
	MarkCheckedIn(ctx context.Context, id string, at time.Time) (bool, error)
	// CountActiveBookings counts pending and confirmed bookings on a trip.
	CountActiveBookings(ctx context.Context, tripID string) (int, error)
}

// HoldStore persists seat holds.
type HoldStore interface {
	GetHold(ctx context.Context, id string) (*model.Hold, error)
	GetHoldByBooking(ctx context.Context, bookingID string) (*model.Hold, error)
	// ClaimHold moves a hold out of HELD into `to`.  It reports false,
	// without error, when the hold had already left HELD.
	ClaimHold(ctx context.Context, id string, to model.HoldState, at time.Time) (bool, error)
	// ListExpiredHolds returns up to limit HELD holds whose expiry is
	// before now, oldest first.
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]model.Hold, error)
	// ListExpiredTripHolds is ListExpiredHolds restricted to one trip.
	ListExpiredTripHolds(ctx context.Context, tripID string, now time.Time, limit int) ([]model.Hold, error)
}

// ParcelStore persists parcels.
type ParcelStore interface {
	CreateParcel(ctx context.Context, p *model.Parcel) error
	GetParcel(ctx context.Context, id string) (*model.Parcel, error)
	// GetParcels returns every requested parcel or ErrNotFound.
	GetParcels(ctx context.Context, ids []string) ([]model.Parcel, error)
	// AssignParcels assigns every parcel to the trip, or none of them when
	// any is not currently unassigned (ErrStale).
	AssignParcels(ctx context.Context, tripID string, ids []string) error
	UpdateParcelStatus(ctx context.Context, id string, from, to model.ParcelStatus) error
	// UnassignParcel returns an assigned parcel to unassigned and reports
	// the trip it was assigned to.
	UnassignParcel(ctx context.Context, id string) (string, error)
}

// AuditStore is the append-only audit log.
type AuditStore interface {
	AppendAudit(ctx context.Context, e model.AuditEntry) error
	QueryAudit(ctx context.Context, f model.AuditFilter) ([]model.AuditEntry, error)
}

// Backend bundles everything a deployment needs from one store.
type Backend interface {
	TripStore
	BookingStore
	HoldStore
	ParcelStore
	AuditStore
	capacity.Ledger
}

// LookupErr converts a failed lookup of resource into a NOT_FOUND or
// INTERNAL model error.
func LookupErr(resource string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return model.NotFound(resource, err)
	}
	return model.Internal("load "+resource, err)
}
