package conflict

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkline/capacity-engine/internal/audit"
	"github.com/parkline/capacity-engine/internal/model"
	"github.com/parkline/capacity-engine/internal/store"
)

func setup(t *testing.T) (*Detector, *store.Memory, *audit.Log) {
	t.Helper()
	s := store.NewMemory()
	a := audit.NewLog(s)
	trips := []model.Trip{
		{ID: "A", ServiceDate: "2026-03-01", DepartureTime: "07:00"},
		{ID: "B", ServiceDate: "2026-03-01", DepartureTime: "13:00"},
		{ID: "C", ServiceDate: "2026-03-02", DepartureTime: "07:00"},
		{ID: "X", ServiceDate: "2026-03-01", DepartureTime: "09:00", Status: model.TripCancelled},
	}
	for i := range trips {
		trips[i].ParkID = "park-a"
		trips[i].SeatCount = 18
		if trips[i].Status == "" {
			trips[i].Status = model.TripPublished
		}
		require.NoError(t, s.CreateTrip(context.Background(), &trips[i]))
	}
	return NewDetector(s, nil, a), s, a
}

func TestAssignDriver_SameDayConflict(t *testing.T) {
	ctx := context.Background()
	d, _, a := setup(t)

	trip, err := d.AssignDriver(ctx, "A", "D")
	require.NoError(t, err)
	assert.Equal(t, "D", trip.DriverID)

	_, err = d.AssignDriver(ctx, "B", "D")
	require.ErrorIs(t, err, model.ErrDriverConflict)
	var me *model.Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "A", me.ConflictTripID)

	_, err = d.AssignDriver(ctx, "C", "D")
	assert.NoError(t, err, "different date")

	_, err = d.AssignDriver(ctx, "A", "D")
	assert.NoError(t, err, "reassigning to the same trip is not a conflict")

	entries, err := a.Query(ctx, model.AuditFilter{EntityType: model.EntityTrip})
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	for _, e := range entries {
		assert.Equal(t, model.ActionDriverAssigned, e.Action)
	}
}

func TestAssignDriver_CancelledTripDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	d, s, _ := setup(t)
	require.NoError(t, s.SetTripDriver(ctx, "X", "D"))

	_, err := d.AssignDriver(ctx, "A", "D")
	assert.NoError(t, err)

	_, err = d.AssignDriver(ctx, "X", "E")
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestAssignVehicle(t *testing.T) {
	ctx := context.Background()
	d, _, _ := setup(t)

	_, err := d.AssignVehicle(ctx, "A", "BUS-1")
	require.NoError(t, err)
	_, err = d.AssignVehicle(ctx, "B", "BUS-1")
	require.ErrorIs(t, err, model.ErrVehicleConflict)

	_, err = d.AssignDriver(ctx, "B", "BUS-1")
	assert.NoError(t, err, "drivers and vehicles are separate namespaces")

	_, err = d.AssignVehicle(ctx, "missing", "BUS-1")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = d.AssignVehicle(ctx, "A", "")
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestAssignDriver_ConcurrentSameDriver(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	d := NewDetector(s, nil, audit.NewLog(s))
	for i := 0; i < 10; i++ {
		require.NoError(t, s.CreateTrip(ctx, &model.Trip{
			ID: fmt.Sprintf("T%d", i), ParkID: "park-a", ServiceDate: "2026-03-01", Status: model.TripPublished,
		}))
	}

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := d.AssignDriver(ctx, fmt.Sprintf("T%d", i), "D"); err == nil {
				ok.Add(1)
			} else {
				assert.ErrorIs(t, err, model.ErrDriverConflict)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
}

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "k")
	require.NoError(t, err)

	other, err := l.Lock(ctx, "other")
	require.NoError(t, err, "different keys do not contend")
	other()

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(short, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock2, err := l.Lock(ctx, "k")
	require.NoError(t, err)
	unlock2()
	assert.Empty(t, l.locks)
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}

	l := NewRedisLocker(rdb, "test:lock:", time.Second)
	l.wait = 100 * time.Millisecond
	key := fmt.Sprintf("k-%d", time.Now().UnixNano())

	unlock, err := l.Lock(ctx, key)
	require.NoError(t, err)
	_, err = l.Lock(ctx, key)
	assert.ErrorIs(t, err, ErrLockTimeout)
	unlock()

	unlock, err = l.Lock(ctx, key)
	require.NoError(t, err)
	unlock()
}
