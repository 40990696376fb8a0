// Package hold issues time-boxed seat holds and reclaims them.
//
// A hold leaves the HELD state exactly once.  Every exit (confirmation,
// expiry, cancellation) first wins a compare-and-set on the hold's state and
// only then touches the ledger, so a confirmation racing an expiry sweep can
// never both commit and release the same seat.
package hold

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"

	"github.com/parkline/capacity-engine/internal/audit"
	"github.com/parkline/capacity-engine/internal/capacity"
	"github.com/parkline/capacity-engine/internal/model"
	"github.com/parkline/capacity-engine/internal/store"
	"github.com/parkline/capacity-engine/internal/utils"
)

// Config controls hold lifetime and sweeping.
type Config struct {
	Duration      time.Duration
	SweepInterval time.Duration
	SweepBatch    int
}

// DefaultConfig is used for zero fields of the Config passed to NewManager.
var DefaultConfig = Config{
	Duration:      15 * time.Minute,
	SweepInterval: 5 * time.Second,
	SweepBatch:    200,
}

// Manager owns the hold lifecycle.
type Manager struct {
	holds    store.HoldStore
	bookings store.BookingStore
	ledger   capacity.Ledger
	audit    *audit.Log
	cfg      Config
	logger   *log.Logger

	// Now is the clock; tests replace it to move time past expiry.
	Now func() time.Time
}

// NewManager wires a Manager.
func NewManager(holds store.HoldStore, bookings store.BookingStore, ledger capacity.Ledger, auditLog *audit.Log, cfg Config) *Manager {
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultConfig.Duration
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig.SweepInterval
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = DefaultConfig.SweepBatch
	}
	return &Manager{
		holds:    holds,
		bookings: bookings,
		ledger:   ledger,
		audit:    auditLog,
		cfg:      cfg,
		logger:   log.New("hold"),
		Now:      time.Now,
	}
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// New builds an unsaved HELD hold for a booking.  The seat number is filled
// in when the store assigns one.
func (m *Manager) New(tripID, bookingID string) (*model.Hold, error) {
	token, err := utils.RandomHex(32)
	if err != nil {
		return nil, err
	}
	now := m.Now().UTC()
	return &model.Hold{
		ID:        uuid.NewString(),
		TripID:    tripID,
		BookingID: bookingID,
		Token:     token,
		State:     model.HoldHeld,
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.Duration),
	}, nil
}

// Confirm promotes h to CONFIRMED and moves its seat into the confirmed
// count.  It reports false when the hold had already left HELD, which
// callers treat as an idempotent success.  A hold found past its expiry is
// expired instead and ErrHoldExpired is returned.
func (m *Manager) Confirm(ctx context.Context, h *model.Hold) (bool, error) {
	now := m.Now().UTC()
	if h.ExpiredAt(now) {
		won, err := m.release(ctx, h, model.HoldExpired, model.ReasonHoldExpired, now)
		if err != nil {
			return false, err
		}
		if won {
			return false, model.ErrHoldExpired
		}
		return false, nil
	}
	won, err := m.holds.ClaimHold(ctx, h.ID, model.HoldConfirmed, now)
	if err != nil {
		return false, model.Internal("claim hold", err)
	}
	if !won {
		return false, nil
	}
	if err := m.ledger.CommitHeldSeat(ctx, h.TripID); err != nil {
		m.logger.Errorf("commit seat trip=%s hold=%s: %v", h.TripID, h.ID, err)
		return true, model.Internal("commit held seat", err)
	}
	return true, nil
}

// Cancel releases a live hold on explicit request.  It reports false when
// the hold had already left HELD.
func (m *Manager) Cancel(ctx context.Context, h *model.Hold, reason string) (bool, error) {
	return m.release(ctx, h, model.HoldCancelled, reason, m.Now().UTC())
}

// Expire reclaims h if it is past its expiry.
func (m *Manager) Expire(ctx context.Context, h *model.Hold) (bool, error) {
	now := m.Now().UTC()
	if !h.ExpiredAt(now) {
		return false, nil
	}
	return m.release(ctx, h, model.HoldExpired, model.ReasonHoldExpired, now)
}

// release claims h into state `to`, cancels its booking and returns the seat
// to the ledger, in that order.  A crash part way through can leave a seat
// counted as held without a live booking (undersold), never the reverse.
func (m *Manager) release(ctx context.Context, h *model.Hold, to model.HoldState, reason string, now time.Time) (bool, error) {
	won, err := m.holds.ClaimHold(ctx, h.ID, to, now)
	if err != nil {
		return false, model.Internal("claim hold", err)
	}
	if !won {
		return false, nil
	}
	status := model.BookingCancelled
	updated, err := m.bookings.UpdateBooking(ctx, h.BookingID, model.BookingPending, model.BookingUpdate{
		Status:             &status,
		CancellationReason: &reason,
	})
	if err != nil {
		m.logger.Errorf("cancel booking=%s after hold %s: %v", h.BookingID, to, err)
		return true, model.Internal("cancel booking", err)
	}
	if !updated {
		m.logger.Warnf("booking=%s not pending when hold %s went %s", h.BookingID, h.ID, to)
	}
	if err := m.ledger.ReleaseHeldSeat(ctx, h.TripID); err != nil {
		m.logger.Errorf("release seat trip=%s hold=%s: %v", h.TripID, h.ID, err)
		return true, model.Internal("release held seat", err)
	}

	action := model.ActionHoldExpired
	if to == model.HoldCancelled {
		action = model.ActionBookingCancelled
	}
	parkID := ""
	if b, err := m.bookings.GetBooking(ctx, h.BookingID); err == nil {
		parkID = b.ParkID
	}
	m.audit.Record(ctx, action, model.EntityBooking, h.BookingID, parkID, map[string]any{
		"tripId":     h.TripID,
		"holdId":     h.ID,
		"seatNumber": h.SeatNumber,
		"reason":     reason,
	})
	return true, nil
}

// Sweep expires up to one batch of overdue holds and returns how many it
// reclaimed.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	expired, err := m.holds.ListExpiredHolds(ctx, m.Now().UTC(), m.cfg.SweepBatch)
	if err != nil {
		return 0, model.Internal("list expired holds", err)
	}
	n, err := m.expireAll(ctx, expired)
	if n > 0 {
		m.logger.Infof("expired %d hold(s)", n)
	}
	return n, err
}

// SweepTrip is Sweep restricted to one trip.  Overdue holds elsewhere never
// use up its batch.
func (m *Manager) SweepTrip(ctx context.Context, tripID string) (int, error) {
	expired, err := m.holds.ListExpiredTripHolds(ctx, tripID, m.Now().UTC(), m.cfg.SweepBatch)
	if err != nil {
		return 0, model.Internal("list expired holds", err)
	}
	n, err := m.expireAll(ctx, expired)
	if n > 0 {
		m.logger.Infof("trip=%s expired %d hold(s)", tripID, n)
	}
	return n, err
}

func (m *Manager) expireAll(ctx context.Context, expired []model.Hold) (int, error) {
	n := 0
	var firstErr error
	for i := range expired {
		won, err := m.Expire(ctx, &expired[i])
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if won {
			n++
		}
	}
	return n, firstErr
}

// Run sweeps every SweepInterval until ctx is cancelled.  A seat released by
// an expired hold is therefore bookable again within one interval even if
// nothing touches the trip in the meantime.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Warnf("sweep: %v", err)
			}
		}
	}
}
