// Package capacity defines the per-trip seat and parcel ledger.  Every
// reservation or release is a single atomic step against the trip's
// counters: implementations never expose a read-check-write sequence to
// concurrent callers, so confirmed+held never exceeds the seat count.
package capacity

import (
	"context"
	"errors"

	"github.com/parkline/capacity-engine/internal/model"
)

var (
	// ErrUnknownTrip is returned when the ledger has no counters for a trip.
	ErrUnknownTrip = errors.New("capacity: unknown trip")
	// ErrUnderflow is returned when a release would drive a counter below
	// zero.  It means the ledger and its callers disagree and is a bug.
	ErrUnderflow = errors.New("capacity: counter underflow")
)

// Result is the outcome of a reservation attempt.  Remaining is the
// capacity left after the attempt.
type Result struct {
	Granted   bool
	Remaining int
}

// Ledger is the atomic counter primitive guarding a trip's capacity.  A
// granted reservation is itself the commit: there is no separate step that
// could be skipped by a crashing caller and leave the trip oversold.
type Ledger interface {
	// TryReserveSeat moves one unit of free capacity into the held count.
	TryReserveSeat(ctx context.Context, tripID string) (Result, error)
	// ReleaseHeldSeat returns a held seat to free capacity.
	ReleaseHeldSeat(ctx context.Context, tripID string) error
	// CommitHeldSeat moves a held seat into the confirmed count.
	CommitHeldSeat(ctx context.Context, tripID string) error
	// ReleaseConfirmedSeat returns a confirmed seat to free capacity.
	ReleaseConfirmedSeat(ctx context.Context, tripID string) error
	// TryReserveParcelSlots takes count parcel slots.  With allowOverride
	// the reservation is granted even past capacity.
	TryReserveParcelSlots(ctx context.Context, tripID string, count int, allowOverride bool) (Result, error)
	// ReleaseParcelSlots returns count parcel slots.
	ReleaseParcelSlots(ctx context.Context, tripID string, count int) error
}

// The functions below are the counter arithmetic shared by in-process
// ledgers.  Callers must hold the trip's lock.

// ReserveSeat applies a seat reservation to t.
func ReserveSeat(t *model.Trip) Result {
	if t.ConfirmedCount+t.HeldCount >= t.SeatCount {
		return Result{Granted: false, Remaining: t.SeatsRemaining()}
	}
	t.HeldCount++
	t.Version++
	return Result{Granted: true, Remaining: t.SeatsRemaining()}
}

// ReleaseHeld returns a held seat on t.
func ReleaseHeld(t *model.Trip) error {
	if t.HeldCount <= 0 {
		return ErrUnderflow
	}
	t.HeldCount--
	t.Version++
	return nil
}

// CommitHeld converts a held seat on t into a confirmed one.
func CommitHeld(t *model.Trip) error {
	if t.HeldCount <= 0 {
		return ErrUnderflow
	}
	t.HeldCount--
	t.ConfirmedCount++
	t.Version++
	return nil
}

// ReleaseConfirmed returns a confirmed seat on t.
func ReleaseConfirmed(t *model.Trip) error {
	if t.ConfirmedCount <= 0 {
		return ErrUnderflow
	}
	t.ConfirmedCount--
	t.Version++
	return nil
}

// ReserveParcels takes count parcel slots on t.
func ReserveParcels(t *model.Trip, count int, allowOverride bool) Result {
	if count <= 0 {
		return Result{Granted: true, Remaining: t.ParcelSlotsRemaining()}
	}
	if !allowOverride && t.AssignedParcels+count > t.MaxParcels {
		return Result{Granted: false, Remaining: t.ParcelSlotsRemaining()}
	}
	t.AssignedParcels += count
	t.Version++
	return Result{Granted: true, Remaining: t.ParcelSlotsRemaining()}
}

// ReleaseParcels returns count parcel slots on t.
func ReleaseParcels(t *model.Trip, count int) error {
	if count <= 0 {
		return nil
	}
	if t.AssignedParcels < count {
		return ErrUnderflow
	}
	t.AssignedParcels -= count
	t.Version++
	return nil
}
