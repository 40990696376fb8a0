package checkin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkline/capacity-engine/internal/audit"
	"github.com/parkline/capacity-engine/internal/model"
	"github.com/parkline/capacity-engine/internal/store"
)

func TestValidate_Order(t *testing.T) {
	trip := &model.Trip{ID: "trip-1", ParkID: "park-a", ServiceDate: "2026-03-01"}
	good := model.Booking{ID: "b", TripID: "trip-1", ParkID: "park-a", Status: model.BookingConfirmed, PaymentStatus: model.PaymentConfirmed}
	cc := Context{TripID: "trip-1", CurrentDate: "2026-03-01", ParkID: "park-a"}

	tests := []struct {
		name string
		mod  func(b *model.Booking, cc *Context)
		want error
	}{
		{"valid", func(*model.Booking, *Context) {}, nil},
		{"checked in beats cancelled", func(b *model.Booking, _ *Context) {
			b.CheckedIn = true
			b.Status = model.BookingCancelled
		}, model.ErrDuplicateCheckIn},
		{"cancelled", func(b *model.Booking, _ *Context) { b.Status = model.BookingCancelled }, model.ErrCancelledBooking},
		{"refunded", func(b *model.Booking, _ *Context) {
			b.Status = model.BookingRefunded
			b.PaymentStatus = model.PaymentRefunded
		}, model.ErrCancelledBooking},
		{"payment pending beats wrong date", func(b *model.Booking, cc *Context) {
			b.PaymentStatus = model.PaymentPending
			cc.CurrentDate = "2026-03-02"
		}, model.ErrPaymentPending},
		{"wrong date beats wrong trip", func(_ *model.Booking, cc *Context) {
			cc.CurrentDate = "2026-03-02"
			cc.TripID = "trip-2"
		}, model.ErrWrongDate},
		{"wrong trip", func(_ *model.Booking, cc *Context) { cc.TripID = "trip-2" }, model.ErrInvalidBooking},
		{"wrong park", func(_ *model.Booking, cc *Context) { cc.ParkID = "park-b" }, model.ErrInvalidBooking},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, c := good, cc
			tt.mod(&b, &c)
			err := Validate(&b, trip, c)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.ErrorIs(t, Validate(nil, nil, cc), model.ErrInvalidBooking)

	cancelledTrip := *trip
	cancelledTrip.Status = model.TripCancelled
	assert.ErrorIs(t, Validate(&good, &cancelledTrip, cc), model.ErrCancelledBooking)
}

func setup(t *testing.T) (*Service, *store.Memory, *audit.Log) {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemory()
	a := audit.NewLog(s)
	require.NoError(t, s.CreateTrip(ctx, &model.Trip{ID: "trip-1", ParkID: "park-a", ServiceDate: "2026-03-01", SeatCount: 18, Status: model.TripLive}))

	paid := &model.Booking{ID: "paid", TripID: "trip-1", ParkID: "park-a", Status: model.BookingPending, PaymentStatus: model.PaymentPending}
	require.NoError(t, s.CreateHeldBooking(ctx, paid, &model.Hold{ID: "h1", TripID: "trip-1", BookingID: "paid", State: model.HoldConfirmed}))
	confirmed, payConfirmed := model.BookingConfirmed, model.PaymentConfirmed
	_, err := s.UpdateBooking(ctx, "paid", model.BookingPending, model.BookingUpdate{Status: &confirmed, PaymentStatus: &payConfirmed})
	require.NoError(t, err)

	unpaid := &model.Booking{ID: "unpaid", TripID: "trip-1", ParkID: "park-a", Status: model.BookingPending, PaymentStatus: model.PaymentPending}
	require.NoError(t, s.CreateHeldBooking(ctx, unpaid, &model.Hold{ID: "h2", TripID: "trip-1", BookingID: "unpaid", State: model.HoldHeld}))

	svc := NewService(s, a, time.UTC)
	svc.Now = func() time.Time { return time.Date(2026, 3, 1, 6, 45, 0, 0, time.UTC) }
	return svc, s, a
}

func TestCheckIn_Idempotent(t *testing.T) {
	svc, s, a := setup(t)
	ctx := audit.WithActor(context.Background(), audit.Actor{UserID: "clerk", ParkID: "park-a"})

	b, err := svc.CheckIn(ctx, "paid", "trip-1")
	require.NoError(t, err)
	assert.True(t, b.CheckedIn)
	firstAt := *b.CheckedInAt

	svc.Now = func() time.Time { return time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC) }
	_, err = svc.CheckIn(ctx, "paid", "trip-1")
	assert.ErrorIs(t, err, model.ErrDuplicateCheckIn)

	got, err := s.GetBooking(ctx, "paid")
	require.NoError(t, err)
	assert.True(t, got.CheckedIn)
	assert.Equal(t, firstAt, *got.CheckedInAt)

	entries, err := a.Query(ctx, model.AuditFilter{EntityID: "paid"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.ActionPassengerCheckedIn, entries[0].Action)
}

func TestCheckIn_Failures(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := audit.WithActor(context.Background(), audit.Actor{UserID: "clerk", ParkID: "park-a"})

	_, err := svc.CheckIn(ctx, "unpaid", "trip-1")
	assert.ErrorIs(t, err, model.ErrPaymentPending)

	_, err = svc.CheckIn(ctx, "missing", "trip-1")
	assert.ErrorIs(t, err, model.ErrInvalidBooking)

	_, err = svc.CheckIn(ctx, "paid", "trip-9")
	assert.ErrorIs(t, err, model.ErrInvalidBooking)

	other := audit.WithActor(context.Background(), audit.Actor{UserID: "clerk", ParkID: "park-b"})
	_, err = svc.CheckIn(other, "paid", "trip-1")
	assert.ErrorIs(t, err, model.ErrInvalidBooking)

	svc.Now = func() time.Time { return time.Date(2026, 3, 2, 6, 45, 0, 0, time.UTC) }
	_, err = svc.CheckIn(ctx, "paid", "trip-1")
	assert.ErrorIs(t, err, model.ErrWrongDate)

	_, err = svc.CheckIn(ctx, "", "trip-1")
	assert.ErrorIs(t, err, model.ErrValidation)
}

// cancelBeforeWrite cancels the booking between validation and the
// check-in write.
type cancelBeforeWrite struct {
	*store.Memory
}

func (c cancelBeforeWrite) MarkCheckedIn(ctx context.Context, id string, at time.Time) (bool, error) {
	cancelled := model.BookingCancelled
	if _, err := c.UpdateBooking(ctx, id, model.BookingConfirmed, model.BookingUpdate{Status: &cancelled}); err != nil {
		return false, err
	}
	return c.Memory.MarkCheckedIn(ctx, id, at)
}

func TestCheckIn_BookingCancelledDuringCheckIn(t *testing.T) {
	svc, s, a := setup(t)
	svc.store = cancelBeforeWrite{s}
	ctx := audit.WithActor(context.Background(), audit.Actor{UserID: "clerk", ParkID: "park-a"})

	_, err := svc.CheckIn(ctx, "paid", "trip-1")
	assert.ErrorIs(t, err, model.ErrCancelledBooking)

	got, err := s.GetBooking(ctx, "paid")
	require.NoError(t, err)
	assert.False(t, got.CheckedIn)
	assert.Nil(t, got.CheckedInAt)

	entries, err := a.Query(ctx, model.AuditFilter{EntityID: "paid"})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestToday_UsesLocation(t *testing.T) {
	lagos := time.FixedZone("WAT", 3600)
	svc := NewService(store.NewMemory(), nil, lagos)
	svc.Now = func() time.Time { return time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC) }
	assert.Equal(t, "2026-03-02", svc.Today())
}
