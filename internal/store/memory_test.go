package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkline/capacity-engine/internal/capacity"
	"github.com/parkline/capacity-engine/internal/model"
)

func newTrip(t *testing.T, m *Memory, id string, seats, confirmed int) {
	t.Helper()
	require.NoError(t, m.CreateTrip(context.Background(), &model.Trip{
		ID: id, ParkID: "park-a", ServiceDate: "2026-03-01", DepartureTime: "07:30",
		SeatCount: seats, ConfirmedCount: confirmed, MaxParcels: 15, Status: model.TripPublished,
	}))
}

func heldPair(tripID, id string) (*model.Booking, *model.Hold) {
	b := &model.Booking{ID: id, TripID: tripID, ParkID: "park-a", Status: model.BookingPending, PaymentStatus: model.PaymentPending}
	h := &model.Hold{ID: "h-" + id, TripID: tripID, BookingID: id, State: model.HoldHeld, ExpiresAt: time.Now().Add(time.Minute)}
	return b, h
}

func TestMemory_ConcurrentReserveNeverOversells(t *testing.T) {
	m := NewMemory()
	newTrip(t, m, "trip-1", 10, 4)

	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.TryReserveSeat(context.Background(), "trip-1")
			if err == nil && res.Granted {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(6), granted.Load())
	trip, err := m.GetTrip(context.Background(), "trip-1")
	require.NoError(t, err)
	assert.Equal(t, 10, trip.ConfirmedCount+trip.HeldCount)
	assert.Equal(t, 0, trip.SeatsRemaining())
}

func TestMemory_UnknownTrip(t *testing.T) {
	m := NewMemory()
	_, err := m.TryReserveSeat(context.Background(), "nope")
	assert.ErrorIs(t, err, capacity.ErrUnknownTrip)
	_, err = m.GetTrip(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_SeatNumbersUniqueAndReused(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	newTrip(t, m, "trip-1", 3, 0)

	for i := 1; i <= 3; i++ {
		b, h := heldPair("trip-1", fmt.Sprintf("b-%d", i))
		require.NoError(t, m.CreateHeldBooking(ctx, b, h))
		assert.Equal(t, i, b.SeatNumber)
		assert.Equal(t, i, h.SeatNumber)
	}
	b, h := heldPair("trip-1", "b-4")
	assert.ErrorIs(t, m.CreateHeldBooking(ctx, b, h), ErrNoSeat)

	cancelled := model.BookingCancelled
	ok, err := m.UpdateBooking(ctx, "b-2", model.BookingPending, model.BookingUpdate{Status: &cancelled})
	require.NoError(t, err)
	require.True(t, ok)

	b, h = heldPair("trip-1", "b-5")
	require.NoError(t, m.CreateHeldBooking(ctx, b, h))
	assert.Equal(t, 2, b.SeatNumber, "seat freed by cancellation is reused")

	n, err := m.CountActiveBookings(ctx, "trip-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestMemory_ClaimHoldIsExclusive(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	newTrip(t, m, "trip-1", 3, 0)
	b, h := heldPair("trip-1", "b-1")
	require.NoError(t, m.CreateHeldBooking(ctx, b, h))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for _, to := range []model.HoldState{model.HoldConfirmed, model.HoldExpired, model.HoldCancelled, model.HoldConfirmed} {
		wg.Add(1)
		go func(to model.HoldState) {
			defer wg.Done()
			ok, err := m.ClaimHold(ctx, h.ID, to, time.Now())
			if err == nil && ok {
				wins.Add(1)
			}
		}(to)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	got, err := m.GetHoldByBooking(ctx, "b-1")
	require.NoError(t, err)
	assert.True(t, got.State.Terminal())
	assert.NotNil(t, got.ClosedAt)
}

func TestMemory_UpdateBookingChecksStatus(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	newTrip(t, m, "trip-1", 3, 0)
	b, h := heldPair("trip-1", "b-1")
	require.NoError(t, m.CreateHeldBooking(ctx, b, h))

	refunded := model.BookingRefunded
	ok, err := m.UpdateBooking(ctx, "b-1", model.BookingConfirmed, model.BookingUpdate{Status: &refunded})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.UpdateBooking(ctx, "missing", model.BookingPending, model.BookingUpdate{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_MarkCheckedInOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	newTrip(t, m, "trip-1", 3, 0)
	b, h := heldPair("trip-1", "b-1")
	require.NoError(t, m.CreateHeldBooking(ctx, b, h))

	at := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	ok, err := m.MarkCheckedIn(ctx, "b-1", at)
	require.NoError(t, err)
	assert.False(t, ok, "pending bookings cannot check in")

	confirmed := model.BookingConfirmed
	_, err = m.UpdateBooking(ctx, "b-1", model.BookingPending, model.BookingUpdate{Status: &confirmed})
	require.NoError(t, err)

	ok, err = m.MarkCheckedIn(ctx, "b-1", at)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = m.MarkCheckedIn(ctx, "b-1", at.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := m.GetBooking(ctx, "b-1")
	require.NoError(t, err)
	assert.True(t, got.CheckedIn)
	assert.Equal(t, at, *got.CheckedInAt)
}

func TestMemory_MarkCheckedInRefusesCancelled(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	newTrip(t, m, "trip-1", 3, 0)
	b, h := heldPair("trip-1", "b-1")
	require.NoError(t, m.CreateHeldBooking(ctx, b, h))
	cancelled := model.BookingCancelled
	_, err := m.UpdateBooking(ctx, "b-1", model.BookingPending, model.BookingUpdate{Status: &cancelled})
	require.NoError(t, err)

	ok, err := m.MarkCheckedIn(ctx, "b-1", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
	got, err := m.GetBooking(ctx, "b-1")
	require.NoError(t, err)
	assert.False(t, got.CheckedIn)
}

func TestMemory_ListExpiredHolds(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	newTrip(t, m, "trip-1", 5, 0)
	now := time.Now()
	for i, offset := range []time.Duration{-3 * time.Minute, -time.Minute, time.Minute} {
		b, h := heldPair("trip-1", fmt.Sprintf("b-%d", i))
		h.ExpiresAt = now.Add(offset)
		require.NoError(t, m.CreateHeldBooking(ctx, b, h))
	}

	got, err := m.ListExpiredHolds(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b-0", got[0].BookingID)

	got, err = m.ListExpiredHolds(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMemory_AssignParcelsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, id := range []string{"p1", "p2", "p3"} {
		require.NoError(t, m.CreateParcel(ctx, &model.Parcel{ID: id, Status: model.ParcelUnassigned}))
	}
	require.NoError(t, m.AssignParcels(ctx, "trip-1", []string{"p1"}))

	assert.ErrorIs(t, m.AssignParcels(ctx, "trip-2", []string{"p2", "p1"}), ErrStale)
	p2, err := m.GetParcel(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, model.ParcelUnassigned, p2.Status)

	assert.ErrorIs(t, m.AssignParcels(ctx, "trip-2", []string{"p2", "missing"}), ErrNotFound)

	tripID, err := m.UnassignParcel(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "trip-1", tripID)
	_, err = m.UnassignParcel(ctx, "p1")
	assert.ErrorIs(t, err, ErrStale)
}

func TestMemory_ListExpiredTripHolds(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	newTrip(t, m, "trip-1", 5, 0)
	newTrip(t, m, "trip-2", 5, 0)
	now := time.Now()
	for i, tripID := range []string{"trip-2", "trip-2", "trip-1"} {
		b, h := heldPair(tripID, fmt.Sprintf("b-%d", i))
		h.ExpiresAt = now.Add(-time.Duration(10-i) * time.Minute)
		require.NoError(t, m.CreateHeldBooking(ctx, b, h))
	}

	got, err := m.ListExpiredTripHolds(ctx, "trip-1", now, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b-2", got[0].BookingID)

	got, err = m.ListExpiredTripHolds(ctx, "trip-2", now, 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = m.ListExpiredTripHolds(ctx, "nope", now, 10)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_ConcurrentOverlappingParcelBatches(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for i := 0; i < 4; i++ {
		require.NoError(t, m.CreateParcel(ctx, &model.Parcel{ID: fmt.Sprintf("p%d", i), Status: model.ParcelUnassigned}))
	}

	var won atomic.Int32
	var wg sync.WaitGroup
	batches := [][]string{{"p0", "p1"}, {"p1", "p0"}, {"p2", "p3"}, {"p3", "p2"}}
	for i, ids := range batches {
		wg.Add(1)
		go func(tripID string, ids []string) {
			defer wg.Done()
			if m.AssignParcels(ctx, tripID, ids) == nil {
				won.Add(1)
			}
		}(fmt.Sprintf("trip-%d", i), ids)
	}
	wg.Wait()

	assert.Equal(t, int32(2), won.Load())
	for i := 0; i < 4; i++ {
		p, err := m.GetParcel(ctx, fmt.Sprintf("p%d", i))
		require.NoError(t, err)
		assert.Equal(t, model.ParcelAssigned, p.Status)
	}
	p0, _ := m.GetParcel(ctx, "p0")
	p1, _ := m.GetParcel(ctx, "p1")
	assert.Equal(t, p0.AssignedTripID, p1.AssignedTripID)
}

func TestMemory_DeleteTripWithDependents(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	newTrip(t, m, "trip-1", 3, 0)
	b, h := heldPair("trip-1", "b-1")
	require.NoError(t, m.CreateHeldBooking(ctx, b, h))

	assert.ErrorIs(t, m.DeleteTrip(ctx, "trip-1"), ErrStale)

	cancelled := model.BookingCancelled
	_, err := m.UpdateBooking(ctx, "b-1", model.BookingPending, model.BookingUpdate{Status: &cancelled})
	require.NoError(t, err)
	require.NoError(t, m.DeleteTrip(ctx, "trip-1"))
	_, err = m.GetTrip(ctx, "trip-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_UpdateTripStatusCompareAndSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	newTrip(t, m, "trip-1", 3, 0)

	require.NoError(t, m.UpdateTripStatus(ctx, "trip-1", model.TripPublished, model.TripLive))
	assert.ErrorIs(t, m.UpdateTripStatus(ctx, "trip-1", model.TripPublished, model.TripCancelled), ErrStale)

	trips, err := m.ListTripsByDate(ctx, "2026-03-01")
	require.NoError(t, err)
	require.Len(t, trips, 1)
	assert.Equal(t, model.TripLive, trips[0].Status)
}
