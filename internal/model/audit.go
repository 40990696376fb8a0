package model

import "time"

// Entity types recorded in the audit log.
const (
	EntityTrip    = "trip"
	EntityBooking = "booking"
	EntityHold    = "hold"
	EntityParcel  = "parcel"
)

// Audit actions.
const (
	ActionTripScheduled          = "trip_scheduled"
	ActionTripStatusChanged      = "trip_status_changed"
	ActionTripDeleted            = "trip_deleted"
	ActionSeatHeld               = "seat_held"
	ActionBookingConfirmed       = "booking_confirmed"
	ActionHoldExpired            = "hold_expired"
	ActionBookingCancelled       = "booking_cancelled"
	ActionBookingRefunded        = "booking_refunded"
	ActionDriverAssigned         = "driver_assigned"
	ActionVehicleAssigned        = "vehicle_assigned"
	ActionParcelCreated          = "parcel_created"
	ActionParcelsAssigned        = "parcels_assigned"
	ActionParcelCapacityOverride = "parcel_capacity_override"
	ActionParcelUnassigned       = "parcel_unassigned"
	ActionParcelStatusChanged    = "parcel_status_changed"
	ActionPassengerCheckedIn     = "passenger_checked_in"
)

// AuditEntry is an immutable record of a state-changing action.
type AuditEntry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	UserID     string         `json:"userId"`
	ParkID     string         `json:"parkId"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// AuditFilter selects audit entries.  Empty fields match everything; a
// non-positive Limit means no limit.  Results are newest first.
type AuditFilter struct {
	EntityType string
	EntityID   string
	ParkID     string
	UserID     string
	Limit      int
}

// Match reports whether e satisfies the filter's equality predicates.
func (f AuditFilter) Match(e AuditEntry) bool {
	if f.EntityType != "" && f.EntityType != e.EntityType {
		return false
	}
	if f.EntityID != "" && f.EntityID != e.EntityID {
		return false
	}
	if f.ParkID != "" && f.ParkID != e.ParkID {
		return false
	}
	if f.UserID != "" && f.UserID != e.UserID {
		return false
	}
	return true
}
