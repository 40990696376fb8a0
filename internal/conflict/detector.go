// Package conflict assigns drivers and vehicles to trips, refusing an
// assignment that would put the same driver or vehicle on two live trips
// of the same service date.
package conflict

import (
	"context"
	"fmt"
	"strings"

	"github.com/labstack/gommon/log"

	"github.com/parkline/capacity-engine/internal/audit"
	"github.com/parkline/capacity-engine/internal/model"
	"github.com/parkline/capacity-engine/internal/store"
)

type resource struct {
	kind   string
	code   model.Code
	action string
	field  func(t *model.Trip) string
	set    func(ctx context.Context, s store.TripStore, tripID, id string) error
}

var (
	driverResource = resource{
		kind:   "driver",
		code:   model.CodeDriverConflict,
		action: model.ActionDriverAssigned,
		field:  func(t *model.Trip) string { return t.DriverID },
		set: func(ctx context.Context, s store.TripStore, tripID, id string) error {
			return s.SetTripDriver(ctx, tripID, id)
		},
	}
	vehicleResource = resource{
		kind:   "vehicle",
		code:   model.CodeVehicleConflict,
		action: model.ActionVehicleAssigned,
		field:  func(t *model.Trip) string { return t.VehicleID },
		set: func(ctx context.Context, s store.TripStore, tripID, id string) error {
			return s.SetTripVehicle(ctx, tripID, id)
		},
	}
)

// Detector checks and records driver and vehicle assignments.  The scan for
// a conflicting trip and the write of the new assignment happen under one
// lock per resource kind and service date.
type Detector struct {
	trips  store.TripStore
	locker Locker
	audit  *audit.Log
	logger *log.Logger
}

// NewDetector wires a Detector.  A nil locker means a LocalLocker.
func NewDetector(trips store.TripStore, locker Locker, auditLog *audit.Log) *Detector {
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Detector{trips: trips, locker: locker, audit: auditLog, logger: log.New("conflict")}
}

// AssignDriver puts driverID on tripID.  If the driver is already on
// another non-cancelled trip that day, it fails with DRIVER_CONFLICT and
// the other trip's ID in ConflictTripID.
func (d *Detector) AssignDriver(ctx context.Context, tripID, driverID string) (*model.Trip, error) {
	return d.assign(ctx, driverResource, tripID, driverID)
}

// AssignVehicle is AssignDriver for vehicles (VEHICLE_CONFLICT).
func (d *Detector) AssignVehicle(ctx context.Context, tripID, vehicleID string) (*model.Trip, error) {
	return d.assign(ctx, vehicleResource, tripID, vehicleID)
}

func (d *Detector) assign(ctx context.Context, r resource, tripID, id string) (*model.Trip, error) {
	if strings.TrimSpace(tripID) == "" || strings.TrimSpace(id) == "" {
		return nil, model.Invalid(fmt.Sprintf("tripId and %sId are required", r.kind))
	}
	trip, err := d.trips.GetTrip(ctx, tripID)
	if err != nil {
		return nil, store.LookupErr("trip", err)
	}
	if err := audit.Authorize(ctx, trip.ParkID); err != nil {
		return nil, err
	}
	if trip.Status.Terminal() {
		return nil, &model.Error{Code: model.CodeInvalidTransition, Msg: fmt.Sprintf("cannot assign a %s to a %s trip", r.kind, trip.Status)}
	}

	unlock, err := d.locker.Lock(ctx, fmt.Sprintf("assign:%s:%s", r.kind, trip.ServiceDate))
	if err != nil {
		return nil, model.Internal("acquire assignment lock", err)
	}
	defer unlock()

	sameDay, err := d.trips.ListTripsByDate(ctx, trip.ServiceDate)
	if err != nil {
		return nil, model.Internal("list trips", err)
	}
	for i := range sameDay {
		other := &sameDay[i]
		if other.ID == tripID || other.Status == model.TripCancelled {
			continue
		}
		if r.field(other) == id {
			return nil, &model.Error{
				Code:           r.code,
				Msg:            fmt.Sprintf("%s %s is already assigned to trip %s", r.kind, id, other.ID),
				ConflictTripID: other.ID,
			}
		}
	}

	previous := r.field(trip)
	if err := r.set(ctx, d.trips, tripID, id); err != nil {
		return nil, store.LookupErr("trip", err)
	}
	d.audit.Record(ctx, r.action, model.EntityTrip, tripID, trip.ParkID, map[string]any{
		r.kind + "Id": id,
		"previous":    previous,
		"serviceDate": trip.ServiceDate,
	})
	d.logger.Infof("%s %s assigned to trip=%s", r.kind, id, tripID)

	updated, err := d.trips.GetTrip(ctx, tripID)
	if err != nil {
		return nil, store.LookupErr("trip", err)
	}
	return updated, nil
}
