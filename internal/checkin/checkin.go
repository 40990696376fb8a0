// Package checkin validates and records passenger check-in.
package checkin

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/parkline/capacity-engine/internal/audit"
	"github.com/parkline/capacity-engine/internal/model"
	"github.com/parkline/capacity-engine/internal/store"
)

// Context is where and when a check-in is attempted.
type Context struct {
	TripID      string
	CurrentDate string // YYYY-MM-DD in the park's timezone
	ParkID      string
}

// Validate applies the check-in rules to already loaded state, in order:
// booking exists, not already checked in, not cancelled or refunded,
// payment confirmed, trip not cancelled and running on CurrentDate, booking
// belongs to the given trip and park.  It has no side effects.
func Validate(b *model.Booking, trip *model.Trip, cc Context) error {
	switch {
	case b == nil:
		return &model.Error{Code: model.CodeInvalidBooking, Msg: "booking not found"}
	case b.CheckedIn:
		return model.ErrDuplicateCheckIn
	case b.Status == model.BookingCancelled || b.Status == model.BookingRefunded:
		return model.ErrCancelledBooking
	case b.PaymentStatus != model.PaymentConfirmed:
		return model.ErrPaymentPending
	case trip == nil:
		return &model.Error{Code: model.CodeInvalidBooking, Msg: "trip not found"}
	case trip.Status == model.TripCancelled:
		return &model.Error{Code: model.CodeCancelledBooking, Msg: "trip is cancelled"}
	case trip.ServiceDate != cc.CurrentDate:
		return model.ErrWrongDate
	case b.TripID != cc.TripID || (cc.ParkID != "" && b.ParkID != cc.ParkID):
		return model.ErrInvalidBooking
	}
	return nil
}

// Service records check-ins.
type Service struct {
	store  store.Backend
	audit  *audit.Log
	loc    *time.Location
	logger *log.Logger
	Now    func() time.Time
}

// NewService wires a Service.  loc decides which calendar day "today" is;
// nil means UTC.
func NewService(s store.Backend, auditLog *audit.Log, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{store: s, audit: auditLog, loc: loc, logger: log.New("checkin"), Now: time.Now}
}

// Today returns the current service date.
func (s *Service) Today() string {
	return s.Now().In(s.loc).Format("2006-01-02")
}

// CheckIn validates the booking against tripID and today's date and marks
// it checked in.  The park comes from the acting user unless they are an
// admin.  A retried check-in returns DUPLICATE_CHECKIN and changes nothing.
func (s *Service) CheckIn(ctx context.Context, bookingID, tripID string) (*model.Booking, error) {
	if strings.TrimSpace(bookingID) == "" || strings.TrimSpace(tripID) == "" {
		return nil, model.Invalid("tripId and bookingId are required")
	}
	actor := audit.ActorFromContext(ctx)
	cc := Context{TripID: tripID, CurrentDate: s.Today()}
	if actor.Role != audit.RoleAdmin {
		cc.ParkID = actor.ParkID
	}

	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, model.Internal("load booking", err)
	}
	var trip *model.Trip
	if b != nil {
		trip, err = s.store.GetTrip(ctx, b.TripID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, model.Internal("load trip", err)
		}
	}
	if err := Validate(b, trip, cc); err != nil {
		return nil, err
	}

	now := s.Now().UTC()
	ok, err := s.store.MarkCheckedIn(ctx, bookingID, now)
	if err != nil {
		return nil, model.Internal("mark checked in", err)
	}
	if !ok {
		return nil, s.missed(ctx, bookingID)
	}
	s.audit.Record(ctx, model.ActionPassengerCheckedIn, model.EntityBooking, bookingID, b.ParkID, map[string]any{
		"tripId":     tripID,
		"seatNumber": b.SeatNumber,
	})
	s.logger.Infof("booking=%s checked in on trip=%s", bookingID, tripID)
	out, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, store.LookupErr("booking", err)
	}
	return out, nil
}

// missed explains a check-in write that found the booking changed since it
// was validated.
func (s *Service) missed(ctx context.Context, bookingID string) error {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return store.LookupErr("booking", err)
	}
	if b.CheckedIn {
		return model.ErrDuplicateCheckIn
	}
	return model.ErrCancelledBooking
}
