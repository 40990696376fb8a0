// Package trip schedules trips and moves them through their lifecycle.
package trip

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"

	"github.com/parkline/capacity-engine/internal/audit"
	"github.com/parkline/capacity-engine/internal/model"
	"github.com/parkline/capacity-engine/internal/store"
)

// Schedule is a request to create a trip.
type Schedule struct {
	ParkID        string
	RouteID       string
	ServiceDate   string
	DepartureTime string
	SeatCount     int
	MaxParcels    int
	Status        model.TripStatus // draft when empty
}

// BookingCanceller cancels the live bookings of a trip.
type BookingCanceller interface {
	CancelTripBookings(ctx context.Context, tripID, reason string) (int, error)
}

// Service manages trips.  Driver and vehicle assignment live in the
// conflict package; seat and parcel counters are only touched through the
// ledger.
type Service struct {
	store  store.Backend
	audit  *audit.Log
	logger *log.Logger
	Now    func() time.Time

	// Bookings, when set, has the bookings of a cancelled trip cancelled
	// with it.
	Bookings BookingCanceller
}

// NewService wires a Service.
func NewService(s store.Backend, auditLog *audit.Log) *Service {
	return &Service{store: s, audit: auditLog, logger: log.New("trip"), Now: time.Now}
}

func (in Schedule) validate() error {
	switch {
	case strings.TrimSpace(in.ParkID) == "" || strings.TrimSpace(in.RouteID) == "":
		return model.Invalid("parkId and routeId are required")
	case in.SeatCount <= 0:
		return model.Invalid("seatCount must be positive")
	case in.MaxParcels < 0:
		return model.Invalid("maxParcelsPerVehicle must not be negative")
	}
	if _, err := time.Parse("2006-01-02", in.ServiceDate); err != nil {
		return model.Invalid("serviceDate must be YYYY-MM-DD")
	}
	if _, err := time.Parse("15:04", in.DepartureTime); err != nil {
		return model.Invalid("departureTime must be HH:MM")
	}
	if in.Status != "" && in.Status != model.TripDraft && in.Status != model.TripPublished {
		return model.Invalid("a new trip must be draft or published")
	}
	return nil
}

// Schedule creates a trip with empty counters.
func (s *Service) Schedule(ctx context.Context, in Schedule) (*model.Trip, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := audit.Authorize(ctx, in.ParkID); err != nil {
		return nil, err
	}
	status := in.Status
	if status == "" {
		status = model.TripDraft
	}
	now := s.Now().UTC()
	t := &model.Trip{
		ID:            uuid.NewString(),
		ParkID:        in.ParkID,
		RouteID:       in.RouteID,
		ServiceDate:   in.ServiceDate,
		DepartureTime: in.DepartureTime,
		SeatCount:     in.SeatCount,
		MaxParcels:    in.MaxParcels,
		Status:        status,
		PayoutStatus:  "pending",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateTrip(ctx, t); err != nil {
		return nil, model.Internal("store trip", err)
	}
	s.audit.Record(ctx, model.ActionTripScheduled, model.EntityTrip, t.ID, t.ParkID, map[string]any{
		"routeId":     t.RouteID,
		"serviceDate": t.ServiceDate,
		"seatCount":   t.SeatCount,
	})
	return t, nil
}

// Get returns a trip with its current counters.
func (s *Service) Get(ctx context.Context, id string) (*model.Trip, error) {
	t, err := s.store.GetTrip(ctx, id)
	if err != nil {
		return nil, store.LookupErr("trip", err)
	}
	if err := audit.Authorize(ctx, t.ParkID); err != nil {
		return nil, err
	}
	return t, nil
}

// Transition moves a trip to next if the lifecycle allows it.  Cancelling a
// trip cancels its pending and confirmed bookings; cancelling an already
// cancelled trip retries that step.
func (s *Service) Transition(ctx context.Context, id string, next model.TripStatus) (*model.Trip, error) {
	if !model.ValidTripStatus(string(next)) {
		return nil, model.Invalid(fmt.Sprintf("unknown status %q", next))
	}
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status == model.TripCancelled && next == model.TripCancelled {
		if err := s.cancelDependents(ctx, t); err != nil {
			return nil, err
		}
		return s.Get(ctx, id)
	}
	if !t.Status.CanTransition(next) {
		return nil, &model.Error{Code: model.CodeInvalidTransition, Msg: fmt.Sprintf("trip cannot move from %s to %s", t.Status, next)}
	}
	if err := s.store.UpdateTripStatus(ctx, id, t.Status, next); err != nil {
		if errors.Is(err, store.ErrStale) {
			return nil, &model.Error{Code: model.CodeInvalidTransition, Msg: "trip status changed concurrently"}
		}
		return nil, store.LookupErr("trip", err)
	}
	s.audit.Record(ctx, model.ActionTripStatusChanged, model.EntityTrip, id, t.ParkID, map[string]any{
		"from": t.Status,
		"to":   next,
	})
	s.logger.Infof("trip=%s %s -> %s", id, t.Status, next)
	if next == model.TripCancelled {
		if err := s.cancelDependents(ctx, t); err != nil {
			return nil, err
		}
	}
	return s.Get(ctx, id)
}

func (s *Service) cancelDependents(ctx context.Context, t *model.Trip) error {
	if s.Bookings == nil {
		return nil
	}
	n, err := s.Bookings.CancelTripBookings(ctx, t.ID, model.ReasonTripCancelled)
	if err != nil {
		s.logger.Errorf("trip=%s cancelled with %d booking(s) released: %v", t.ID, n, err)
		return err
	}
	return nil
}

// Delete removes a trip.  Trips with active bookings or assigned parcels
// are refused with TRIP_HAS_DEPENDENTS; cancel the trip instead.
func (s *Service) Delete(ctx context.Context, id string) error {
	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	active, err := s.store.CountActiveBookings(ctx, id)
	if err != nil {
		return store.LookupErr("trip", err)
	}
	if active > 0 || t.AssignedParcels > 0 {
		return model.ErrTripHasDependents
	}
	if err := s.store.DeleteTrip(ctx, id); err != nil {
		if errors.Is(err, store.ErrStale) {
			return model.ErrTripHasDependents
		}
		return store.LookupErr("trip", err)
	}
	s.audit.Record(ctx, model.ActionTripDeleted, model.EntityTrip, id, t.ParkID, map[string]any{
		"serviceDate": t.ServiceDate,
	})
	return nil
}
