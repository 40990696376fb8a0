// Package parcel assigns parcels to trips against the trip's parcel slot
// capacity.  A batch is assigned completely or not at all.
package parcel

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

// DefaultOverrideReason is recorded when an override carries no reason.
const DefaultOverrideReason = "no reason given"

// NewParcel is a parcel registration.
type NewParcel struct {
	ParkID       string
	SenderName   string
	ReceiverName string
	Fee          int64
}

// Assignment is the outcome of a successful AssignParcels.
type Assignment struct {
	TripID     string   `json:"tripId"`
	ParcelIDs  []string `json:"parcelIds"`
	Assigned   int      `json:"assignedParcels"`
	MaxParcels int      `json:"maxParcelsPerVehicle"`
	Override   bool     `json:"override"`
}

// Allocator manages parcel registration and assignment.
type Allocator struct {
	store  store.Backend
	audit  *audit.Log
	logger *log.Logger
	Now    func() time.Time
}

// NewAllocator wires an Allocator.
func NewAllocator(s store.Backend, auditLog *audit.Log) *Allocator {
	return &Allocator{store: s, audit: auditLog, logger: log.New("parcel"), Now: time.Now}
}

// Create registers an unassigned parcel.
func (a *Allocator) Create(ctx context.Context, in NewParcel) (*model.Parcel, error) {
	switch {
	case strings.TrimSpace(in.ParkID) == "":
		return nil, model.Invalid("parkId is required")
	case strings.TrimSpace(in.SenderName) == "" || strings.TrimSpace(in.ReceiverName) == "":
		return nil, model.Invalid("senderName and receiverName are required")
	case in.Fee < 0:
		return nil, model.Invalid("fee must not be negative")
	}
	if err := audit.Authorize(ctx, in.ParkID); err != nil {
		return nil, err
	}
	now := a.Now().UTC()
	p := &model.Parcel{
		ID:           uuid.NewString(),
		ParkID:       in.ParkID,
		SenderName:   in.SenderName,
		ReceiverName: in.ReceiverName,
		Fee:          in.Fee,
		Status:       model.ParcelUnassigned,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateParcel(ctx, p); err != nil {
		return nil, model.Internal("store parcel", err)
	}
	a.audit.Record(ctx, model.ActionParcelCreated, model.EntityParcel, p.ID, p.ParkID, map[string]any{"fee": p.Fee})
	return p, nil
}

// Get returns one parcel.
func (a *Allocator) Get(ctx context.Context, id string) (*model.Parcel, error) {
	p, err := a.store.GetParcel(ctx, id)
	if err != nil {
		return nil, store.LookupErr("parcel", err)
	}
	if err := audit.Authorize(ctx, p.ParkID); err != nil {
		return nil, err
	}
	return p, nil
}

// AssignParcels puts every parcel in ids on tripID.  Without override a
// batch that would exceed the trip's parcel capacity fails with
// PARCEL_CAPACITY_EXCEEDED and changes nothing.  With override the batch is
// assigned regardless and, if capacity is breached, an override entry
// carrying reason is written to the audit log.
func (a *Allocator) AssignParcels(ctx context.Context, tripID string, ids []string, override bool, reason string) (*Assignment, error) {
	if strings.TrimSpace(tripID) == "" || len(ids) == 0 {
		return nil, model.Invalid("tripId and parcelIds are required")
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return nil, model.Invalid("duplicate parcel id " + id)
		}
		seen[id] = true
	}

	trip, err := a.store.GetTrip(ctx, tripID)
	if err != nil {
		return nil, store.LookupErr("trip", err)
	}
	if err := audit.Authorize(ctx, trip.ParkID); err != nil {
		return nil, err
	}
	if trip.Status.Terminal() {
		return nil, &model.Error{Code: model.CodeInvalidTransition, Msg: fmt.Sprintf("trip is %s", trip.Status)}
	}

	parcels, err := a.store.GetParcels(ctx, ids)
	if err != nil {
		return nil, store.LookupErr("parcel", err)
	}
	for _, p := range parcels {
		if p.ParkID != trip.ParkID {
			return nil, model.Invalid(fmt.Sprintf("parcel %s belongs to another park", p.ID))
		}
		if p.Status != model.ParcelUnassigned {
			return nil, &model.Error{Code: model.CodeInvalidTransition, Msg: fmt.Sprintf("parcel %s is %s", p.ID, p.Status)}
		}
	}

	res, err := a.store.TryReserveParcelSlots(ctx, tripID, len(ids), override)
	if err != nil {
		return nil, model.Internal("reserve parcel slots", err)
	}
	if !res.Granted {
		return nil, &model.Error{
			Code: model.CodeParcelCapacityExceeded,
			Msg:  fmt.Sprintf("trip %s has %d parcel slot(s) left, %d requested", tripID, res.Remaining, len(ids)),
		}
	}

	if err := a.store.AssignParcels(ctx, tripID, ids); err != nil {
		if rerr := a.store.ReleaseParcelSlots(ctx, tripID, len(ids)); rerr != nil {
			a.logger.Errorf("release %d parcel slot(s) trip=%s: %v", len(ids), tripID, rerr)
		}
		if errors.Is(err, store.ErrStale) {
			return nil, &model.Error{Code: model.CodeInvalidTransition, Msg: "a parcel in the batch was assigned concurrently"}
		}
		return nil, store.LookupErr("parcel", err)
	}

	after, err := a.store.GetTrip(ctx, tripID)
	if err != nil {
		return nil, store.LookupErr("trip", err)
	}
	a.audit.Record(ctx, model.ActionParcelsAssigned, model.EntityTrip, tripID, trip.ParkID, map[string]any{
		"parcelIds": ids,
		"override":  override,
	})
	breached := after.AssignedParcels > after.MaxParcels
	if override && breached {
		if strings.TrimSpace(reason) == "" {
			reason = DefaultOverrideReason
		}
		a.audit.Record(ctx, model.ActionParcelCapacityOverride, model.EntityTrip, tripID, trip.ParkID, map[string]any{
			"parcelIds":       ids,
			"reason":          reason,
			"maxParcels":      after.MaxParcels,
			"assignedParcels": after.AssignedParcels,
		})
		a.logger.Warnf("parcel capacity override trip=%s assigned=%d max=%d", tripID, after.AssignedParcels, after.MaxParcels)
	}
	return &Assignment{
		TripID:     tripID,
		ParcelIDs:  ids,
		Assigned:   after.AssignedParcels,
		MaxParcels: after.MaxParcels,
		Override:   override && breached,
	}, nil
}

// UpdateStatus advances an assigned parcel to in-transit or delivered.
func (a *Allocator) UpdateStatus(ctx context.Context, id string, next model.ParcelStatus) (*model.Parcel, error) {
	p, err := a.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Status.CanAdvance(next) {
		return nil, &model.Error{Code: model.CodeInvalidTransition, Msg: fmt.Sprintf("parcel cannot move from %s to %s", p.Status, next)}
	}
	if err := a.store.UpdateParcelStatus(ctx, id, p.Status, next); err != nil {
		if errors.Is(err, store.ErrStale) {
			return nil, &model.Error{Code: model.CodeInvalidTransition, Msg: "parcel status changed concurrently"}
		}
		return nil, store.LookupErr("parcel", err)
	}
	a.audit.Record(ctx, model.ActionParcelStatusChanged, model.EntityParcel, id, p.ParkID, map[string]any{
		"from":   p.Status,
		"to":     next,
		"tripId": p.AssignedTripID,
	})
	return a.Get(ctx, id)
}

// Unassign takes an assigned parcel off its trip and frees the slot.
func (a *Allocator) Unassign(ctx context.Context, id string) (*model.Parcel, error) {
	p, err := a.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	tripID, err := a.store.UnassignParcel(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrStale) {
			return nil, &model.Error{Code: model.CodeInvalidTransition, Msg: fmt.Sprintf("parcel is %s", p.Status)}
		}
		return nil, store.LookupErr("parcel", err)
	}
	if err := a.store.ReleaseParcelSlots(ctx, tripID, 1); err != nil {
		a.logger.Errorf("release parcel slot trip=%s parcel=%s: %v", tripID, id, err)
		return nil, model.Internal("release parcel slot", err)
	}
	a.audit.Record(ctx, model.ActionParcelUnassigned, model.EntityParcel, id, p.ParkID, map[string]any{"tripId": tripID})
	return a.Get(ctx, id)
}
