// Package booking turns booking requests into held seats and drives them
// through confirmation, cancellation and refund.
package booking

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"

	"github.com/parkline/capacity-engine/internal/audit"
	"github.com/parkline/capacity-engine/internal/hold"
	"github.com/parkline/capacity-engine/internal/model"
	"github.com/parkline/capacity-engine/internal/store"
)

// Notifier is told about confirmed bookings after the confirmation has
// been committed.  Failures are logged and never undo the booking.
type Notifier interface {
	BookingConfirmed(ctx context.Context, b model.Booking, t model.Trip) error
}

// Request is a booking intake.
type Request struct {
	TripID    string
	Passenger model.Contact
	NextOfKin model.Contact
	Amount    int64
}

// Result is a held booking.
type Result struct {
	Booking model.Booking
	Hold    model.Hold
}

// Engine creates and transitions bookings.
type Engine struct {
	store    store.Backend
	holds    *hold.Manager
	audit    *audit.Log
	notifier Notifier
	logger   *log.Logger

	// NotifyTimeout bounds each notification attempt.
	NotifyTimeout time.Duration
}

// NewEngine wires an Engine.  notifier may be nil.
func NewEngine(s store.Backend, holds *hold.Manager, auditLog *audit.Log, notifier Notifier) *Engine {
	return &Engine{
		store:         s,
		holds:         holds,
		audit:         auditLog,
		notifier:      notifier,
		logger:        log.New("booking"),
		NotifyTimeout: 10 * time.Second,
	}
}

func validate(req Request) error {
	switch {
	case strings.TrimSpace(req.TripID) == "":
		return model.Invalid("tripId is required")
	case strings.TrimSpace(req.Passenger.Name) == "":
		return model.Invalid("passenger.name is required")
	case strings.TrimSpace(req.Passenger.Phone) == "":
		return model.Invalid("passenger.phone is required")
	case req.Amount < 0:
		return model.Invalid("amount must not be negative")
	}
	return nil
}

// Book reserves one seat on the requested trip and records a pending
// booking behind a hold.  A request that finds the trip full gets
// ErrSlotConflict and leaves nothing behind.
func (e *Engine) Book(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	trip, err := e.store.GetTrip(ctx, req.TripID)
	if err != nil {
		return nil, store.LookupErr("trip", err)
	}
	if err := audit.Authorize(ctx, trip.ParkID); err != nil {
		return nil, err
	}
	if !trip.Status.Bookable() {
		return nil, model.ErrTripNotBookable
	}

	if err := e.reserve(ctx, trip.ID); err != nil {
		return nil, err
	}

	h, err := e.holds.New(trip.ID, uuid.NewString())
	if err != nil {
		e.compensate(ctx, trip.ID)
		return nil, model.Internal("create hold token", err)
	}
	b := &model.Booking{
		ID:            h.BookingID,
		TripID:        trip.ID,
		ParkID:        trip.ParkID,
		Passenger:     req.Passenger,
		NextOfKin:     req.NextOfKin,
		AmountPaid:    req.Amount,
		PaymentStatus: model.PaymentPending,
		Status:        model.BookingPending,
		CreatedAt:     h.CreatedAt,
		UpdatedAt:     h.CreatedAt,
	}
	if err := e.store.CreateHeldBooking(ctx, b, h); err != nil {
		e.compensate(ctx, trip.ID)
		if errors.Is(err, store.ErrNoSeat) {
			e.logger.Errorf("trip=%s ledger granted a seat but no seat number is free", trip.ID)
		}
		return nil, model.Internal("store booking", err)
	}

	e.audit.Record(ctx, model.ActionSeatHeld, model.EntityBooking, b.ID, b.ParkID, map[string]any{
		"tripId":     trip.ID,
		"holdId":     h.ID,
		"seatNumber": b.SeatNumber,
		"expiresAt":  h.ExpiresAt,
	})
	return &Result{Booking: *b, Hold: *h}, nil
}

// reserve takes a seat from the ledger.  When the trip looks full it first
// reclaims the trip's own overdue holds, so an expired hold never blocks a
// new booking while waiting for the next sweep.
func (e *Engine) reserve(ctx context.Context, tripID string) error {
	res, err := e.store.TryReserveSeat(ctx, tripID)
	if err != nil {
		return model.Internal("reserve seat", err)
	}
	if res.Granted {
		return nil
	}
	n, err := e.holds.SweepTrip(ctx, tripID)
	if err != nil {
		e.logger.Warnf("lazy sweep for trip=%s: %v", tripID, err)
	}
	if n == 0 {
		return model.ErrSlotConflict
	}
	res, err = e.store.TryReserveSeat(ctx, tripID)
	if err != nil {
		return model.Internal("reserve seat", err)
	}
	if !res.Granted {
		return model.ErrSlotConflict
	}
	return nil
}

func (e *Engine) compensate(ctx context.Context, tripID string) {
	if err := e.store.ReleaseHeldSeat(ctx, tripID); err != nil {
		e.logger.Errorf("release seat after failed booking trip=%s: %v", tripID, err)
	}
}

// Confirm records payment for a pending booking.  Duplicate callbacks, and
// callbacks for bookings whose hold already ended, return the booking as it
// stands without changing anything.  If the hold has run out, the booking
// is cancelled and ErrHoldExpired returned.  Bookings on a cancelled trip are
// cancelled instead of confirmed and ErrTripNotBookable is returned.
func (e *Engine) Confirm(ctx context.Context, bookingID, paymentRef string) (*model.Booking, error) {
	b, err := e.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, store.LookupErr("booking", err)
	}
	if err := audit.Authorize(ctx, b.ParkID); err != nil {
		return nil, err
	}
	if cancelled, err := e.tripCancelled(ctx, b.TripID); err != nil {
		return nil, err
	} else if cancelled {
		if _, err := e.cancel(ctx, b, model.ReasonTripCancelled); err != nil {
			return nil, err
		}
		return nil, model.ErrTripNotBookable
	}
	h, err := e.store.GetHoldByBooking(ctx, bookingID)
	if err != nil {
		return nil, model.Internal("load hold for booking "+bookingID, err)
	}

	won, err := e.holds.Confirm(ctx, h)
	if err != nil {
		return nil, err
	}
	if !won {
		return e.reload(ctx, bookingID)
	}

	confirmed, paid := model.BookingConfirmed, model.PaymentConfirmed
	updated, err := e.store.UpdateBooking(ctx, bookingID, model.BookingPending, model.BookingUpdate{
		Status:           &confirmed,
		PaymentStatus:    &paid,
		PaymentReference: &paymentRef,
	})
	if err != nil {
		return nil, model.Internal("confirm booking", err)
	}
	if !updated {
		e.logger.Warnf("booking=%s left pending before its confirmed hold was recorded", bookingID)
	}
	e.audit.Record(ctx, model.ActionBookingConfirmed, model.EntityBooking, bookingID, b.ParkID, map[string]any{
		"tripId":           b.TripID,
		"holdId":           h.ID,
		"seatNumber":       b.SeatNumber,
		"paymentReference": paymentRef,
	})

	out, err := e.reload(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	// The trip may have been cancelled while this confirmation was in
	// flight, after its bookings were listed.
	if cancelled, err := e.tripCancelled(ctx, b.TripID); err != nil {
		return nil, err
	} else if cancelled {
		if _, err := e.cancel(ctx, out, model.ReasonTripCancelled); err != nil {
			return nil, err
		}
		return nil, model.ErrTripNotBookable
	}
	e.notify(*out)
	return out, nil
}

func (e *Engine) tripCancelled(ctx context.Context, tripID string) (bool, error) {
	trip, err := e.store.GetTrip(ctx, tripID)
	if err != nil {
		return false, store.LookupErr("trip", err)
	}
	return trip.Status == model.TripCancelled, nil
}

// notify runs outside any critical section and after commit.
func (e *Engine) notify(b model.Booking) {
	if e.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.NotifyTimeout)
		defer cancel()
		trip, err := e.store.GetTrip(ctx, b.TripID)
		if err != nil {
			e.logger.Warnf("notify booking=%s: load trip: %v", b.ID, err)
			return
		}
		if err := e.notifier.BookingConfirmed(ctx, b, *trip); err != nil {
			e.logger.Warnf("notify booking=%s: %v", b.ID, err)
		}
	}()
}

// Cancel cancels a pending or confirmed booking and frees its seat.
// Cancelling an already cancelled or refunded booking is a no-op.
func (e *Engine) Cancel(ctx context.Context, bookingID, reason string) (*model.Booking, error) {
	if strings.TrimSpace(reason) == "" {
		reason = model.ReasonPassengerCancel
	}
	b, err := e.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, store.LookupErr("booking", err)
	}
	if err := audit.Authorize(ctx, b.ParkID); err != nil {
		return nil, err
	}
	return e.cancel(ctx, b, reason)
}

// CancelTripBookings cancels every pending and confirmed booking on a trip
// and returns how many it cancelled.  It is safe to repeat.
func (e *Engine) CancelTripBookings(ctx context.Context, tripID, reason string) (int, error) {
	list, err := e.store.ListBookingsByTrip(ctx, tripID)
	if err != nil {
		return 0, model.Internal("list bookings", err)
	}
	n := 0
	var firstErr error
	for i := range list {
		b := &list[i]
		if !b.Status.Active() {
			continue
		}
		out, err := e.cancel(ctx, b, reason)
		if err != nil {
			e.logger.Errorf("cancel booking=%s on trip=%s: %v", b.ID, tripID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if out.Status == model.BookingCancelled {
			n++
		}
	}
	if n > 0 {
		e.logger.Infof("trip=%s cancelled %d booking(s)", tripID, n)
	}
	return n, firstErr
}

func (e *Engine) cancel(ctx context.Context, b *model.Booking, reason string) (*model.Booking, error) {
	bookingID := b.ID
	if b.Status == model.BookingPending {
		h, err := e.store.GetHoldByBooking(ctx, bookingID)
		if err != nil {
			return nil, model.Internal("load hold for booking "+bookingID, err)
		}
		won, err := e.holds.Cancel(ctx, h, reason)
		if err != nil {
			return nil, err
		}
		if won {
			return e.reload(ctx, bookingID)
		}
		// The hold ended concurrently; act on whatever it became.
		if b, err = e.reload(ctx, bookingID); err != nil {
			return nil, err
		}
	}

	if b.Status != model.BookingConfirmed {
		return b, nil
	}
	cancelled := model.BookingCancelled
	updated, err := e.store.UpdateBooking(ctx, bookingID, model.BookingConfirmed, model.BookingUpdate{
		Status:             &cancelled,
		CancellationReason: &reason,
	})
	if err != nil {
		return nil, model.Internal("cancel booking", err)
	}
	if updated {
		if err := e.store.ReleaseConfirmedSeat(ctx, b.TripID); err != nil {
			e.logger.Errorf("release confirmed seat trip=%s booking=%s: %v", b.TripID, bookingID, err)
			return nil, model.Internal("release confirmed seat", err)
		}
		e.audit.Record(ctx, model.ActionBookingCancelled, model.EntityBooking, bookingID, b.ParkID, map[string]any{
			"tripId":     b.TripID,
			"seatNumber": b.SeatNumber,
			"reason":     reason,
		})
	}
	return e.reload(ctx, bookingID)
}

// Refund reverses a confirmed booking's payment and frees its seat.
func (e *Engine) Refund(ctx context.Context, bookingID string) (*model.Booking, error) {
	b, err := e.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, store.LookupErr("booking", err)
	}
	if err := audit.Authorize(ctx, b.ParkID); err != nil {
		return nil, err
	}
	if b.Status == model.BookingRefunded {
		return b, nil
	}
	if b.Status != model.BookingConfirmed {
		return nil, &model.Error{Code: model.CodeInvalidTransition, Msg: "only confirmed bookings can be refunded"}
	}
	refunded, payRefunded := model.BookingRefunded, model.PaymentRefunded
	updated, err := e.store.UpdateBooking(ctx, bookingID, model.BookingConfirmed, model.BookingUpdate{
		Status:        &refunded,
		PaymentStatus: &payRefunded,
	})
	if err != nil {
		return nil, model.Internal("refund booking", err)
	}
	if !updated {
		return e.reload(ctx, bookingID)
	}
	if err := e.store.ReleaseConfirmedSeat(ctx, b.TripID); err != nil {
		e.logger.Errorf("release confirmed seat trip=%s booking=%s: %v", b.TripID, bookingID, err)
		return nil, model.Internal("release confirmed seat", err)
	}
	e.audit.Record(ctx, model.ActionBookingRefunded, model.EntityBooking, bookingID, b.ParkID, map[string]any{
		"tripId":     b.TripID,
		"seatNumber": b.SeatNumber,
		"amount":     b.AmountPaid,
	})
	return e.reload(ctx, bookingID)
}

// Get returns a booking, expiring its hold first if it has run out.
func (e *Engine) Get(ctx context.Context, bookingID string) (*model.Booking, error) {
	b, err := e.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, store.LookupErr("booking", err)
	}
	if err := audit.Authorize(ctx, b.ParkID); err != nil {
		return nil, err
	}
	if b.Status != model.BookingPending {
		return b, nil
	}
	h, err := e.store.GetHoldByBooking(ctx, bookingID)
	if err != nil {
		return nil, model.Internal("load hold for booking "+bookingID, err)
	}
	won, err := e.holds.Expire(ctx, h)
	if err != nil {
		return nil, err
	}
	if won {
		return e.reload(ctx, bookingID)
	}
	return b, nil
}

// ListByTrip returns every booking on a trip ordered by seat.
func (e *Engine) ListByTrip(ctx context.Context, tripID string) ([]model.Booking, error) {
	trip, err := e.store.GetTrip(ctx, tripID)
	if err != nil {
		return nil, store.LookupErr("trip", err)
	}
	if err := audit.Authorize(ctx, trip.ParkID); err != nil {
		return nil, err
	}
	list, err := e.store.ListBookingsByTrip(ctx, tripID)
	if err != nil {
		return nil, model.Internal("list bookings", err)
	}
	return list, nil
}

func (e *Engine) reload(ctx context.Context, bookingID string) (*model.Booking, error) {
	b, err := e.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, store.LookupErr("booking", err)
	}
	return b, nil
}
