package model

import "time"

// TripStatus is the lifecycle state of a scheduled departure.
type TripStatus string

const (
	TripDraft     TripStatus = "draft"
	TripPublished TripStatus = "published"
	TripLive      TripStatus = "live"
	TripCompleted TripStatus = "completed"
	TripCancelled TripStatus = "cancelled"
)

// Bookable reports whether passengers may still reserve seats on a trip in
// this state.
func (s TripStatus) Bookable() bool {
	return s == TripPublished || s == TripLive
}

// Terminal reports whether no further lifecycle transition is possible.
func (s TripStatus) Terminal() bool {
	return s == TripCompleted || s == TripCancelled
}

// CanTransition reports whether a trip may move from s to next.  Trips move
// forward draft -> published -> live -> completed; any non-terminal trip may
// be cancelled.
func (s TripStatus) CanTransition(next TripStatus) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case TripCancelled:
		return true
	case TripPublished:
		return s == TripDraft
	case TripLive:
		return s == TripPublished
	case TripCompleted:
		return s == TripLive
	}
	return false
}

// ValidTripStatus reports whether s names a known trip status.
func ValidTripStatus(s string) bool {
	switch TripStatus(s) {
	case TripDraft, TripPublished, TripLive, TripCompleted, TripCancelled:
		return true
	}
	return false
}

// Trip is one scheduled vehicle departure.  The trip exclusively owns its
// seat and parcel counters; bookings and parcels refer to it by ID only.
//
// Fields:
//  ID              – trip identifier.
//  ParkID          – owning motor park.
//  RouteID         – route served by the departure.
//  ServiceDate     – calendar date of the departure (YYYY-MM-DD).
//  DepartureTime   – local departure time (HH:MM).
//  VehicleID       – assigned vehicle (empty if unassigned).
//  DriverID        – assigned driver (empty if unassigned).
//  SeatCount       – total seat capacity.
//  ConfirmedCount  – seats permanently taken by confirmed bookings.
//  HeldCount       – seats provisionally taken by live holds.
//  MaxParcels      – parcel slot capacity.
//  AssignedParcels – parcel slots in use.
//  Status          – lifecycle state.
//  PayoutStatus    – settlement state, maintained by the payout service.
//  Version         – bumped on every counter mutation.
type Trip struct {
	ID              string     `json:"id"`
	ParkID          string     `json:"parkId"`
	RouteID         string     `json:"routeId"`
	ServiceDate     string     `json:"serviceDate"`
	DepartureTime   string     `json:"departureTime"`
	VehicleID       string     `json:"vehicleId,omitempty"`
	DriverID        string     `json:"driverId,omitempty"`
	SeatCount       int        `json:"seatCount"`
	ConfirmedCount  int        `json:"confirmedBookingsCount"`
	HeldCount       int        `json:"heldCount"`
	MaxParcels      int        `json:"maxParcelsPerVehicle"`
	AssignedParcels int        `json:"assignedParcels"`
	Status          TripStatus `json:"status"`
	PayoutStatus    string     `json:"payoutStatus"`
	Version         uint64     `json:"version"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// SeatsRemaining is the number of seats neither confirmed nor held.
func (t Trip) SeatsRemaining() int {
	if r := t.SeatCount - t.ConfirmedCount - t.HeldCount; r > 0 {
		return r
	}
	return 0
}

// ParcelSlotsRemaining is the number of unused parcel slots.  It is zero,
// never negative, when an override pushed the trip past capacity.
func (t Trip) ParcelSlotsRemaining() int {
	if r := t.MaxParcels - t.AssignedParcels; r > 0 {
		return r
	}
	return 0
}
