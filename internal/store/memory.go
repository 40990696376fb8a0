package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/parkline/capacity-engine/internal/capacity"
	"github.com/parkline/capacity-engine/internal/model"
)

// Memory is an in-process Backend.  Each trip carries its own mutex, which
// is the only serialization point for that trip's counters, bookings and
// holds; operations on different trips never wait on each other.  Memory
// is constructed once and injected; it holds no package-level state.
type Memory struct {
	mu            sync.RWMutex // guards the maps below, not the entries
	trips         map[string]*tripEntry
	bookingTrip   map[string]string
	holdTrip      map[string]string
	holdByBooking map[string]string

	parcelMu sync.RWMutex // guards the map; each parcel has its own lock
	parcels  map[string]*parcelEntry

	auditMu sync.RWMutex
	audit   []model.AuditEntry
}

type tripEntry struct {
	mu       sync.Mutex
	trip     model.Trip
	bookings map[string]*model.Booking
	holds    map[string]*model.Hold
}

type parcelEntry struct {
	mu     sync.Mutex
	parcel model.Parcel
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		trips:         make(map[string]*tripEntry),
		bookingTrip:   make(map[string]string),
		holdTrip:      make(map[string]string),
		holdByBooking: make(map[string]string),
		parcels:       make(map[string]*parcelEntry),
	}
}

var _ Backend = (*Memory)(nil)

func (m *Memory) entry(tripID string) (*tripEntry, error) {
	m.mu.RLock()
	e, ok := m.trips[tripID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

func (m *Memory) lookup(index map[string]string, id string) (*tripEntry, error) {
	m.mu.RLock()
	tripID, ok := index[id]
	e := m.trips[tripID]
	m.mu.RUnlock()
	if !ok || e == nil {
		return nil, ErrNotFound
	}
	return e, nil
}

// ----- trips -----

// CreateTrip stores a new trip.
func (m *Memory) CreateTrip(_ context.Context, t *model.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trips[t.ID]; ok {
		return ErrDuplicate
	}
	m.trips[t.ID] = &tripEntry{
		trip:     *t,
		bookings: make(map[string]*model.Booking),
		holds:    make(map[string]*model.Hold),
	}
	return nil
}

// GetTrip returns a snapshot of a trip and its counters.
func (m *Memory) GetTrip(_ context.Context, id string) (*model.Trip, error) {
	e, err := m.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	t := e.trip
	e.mu.Unlock()
	return &t, nil
}

// ListTripsByDate returns the trips running on serviceDate ordered by departure.
func (m *Memory) ListTripsByDate(_ context.Context, serviceDate string) ([]model.Trip, error) {
	out := make([]model.Trip, 0)
	for _, e := range m.entries() {
		e.mu.Lock()
		if e.trip.ServiceDate == serviceDate {
			out = append(out, e.trip)
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DepartureTime < out[j].DepartureTime })
	return out, nil
}

func (m *Memory) entries() []*tripEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*tripEntry, 0, len(m.trips))
	for _, e := range m.trips {
		list = append(list, e)
	}
	return list
}

// UpdateTripStatus moves a trip from one status to another.
func (m *Memory) UpdateTripStatus(_ context.Context, id string, from, to model.TripStatus) error {
	return m.withTrip(id, func(e *tripEntry) error {
		if e.trip.Status != from {
			return ErrStale
		}
		e.trip.Status = to
		e.trip.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// SetTripDriver records the trip's driver.
func (m *Memory) SetTripDriver(_ context.Context, id, driverID string) error {
	return m.withTrip(id, func(e *tripEntry) error {
		e.trip.DriverID = driverID
		e.trip.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// SetTripVehicle records the trip's vehicle.
func (m *Memory) SetTripVehicle(_ context.Context, id, vehicleID string) error {
	return m.withTrip(id, func(e *tripEntry) error {
		e.trip.VehicleID = vehicleID
		e.trip.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// DeleteTrip removes a trip with no active bookings and no assigned parcels.
func (m *Memory) DeleteTrip(_ context.Context, id string) error {
	e, err := m.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.trip.AssignedParcels > 0 {
		return ErrStale
	}
	for _, b := range e.bookings {
		if b.Status.Active() {
			return ErrStale
		}
	}
	m.mu.Lock()
	delete(m.trips, id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) withTrip(id string, fn func(e *tripEntry) error) error {
	e, err := m.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e)
}

// ----- ledger -----

// TryReserveSeat takes one seat into the held count if one is free.
func (m *Memory) TryReserveSeat(_ context.Context, tripID string) (capacity.Result, error) {
	var res capacity.Result
	err := m.withTrip(tripID, func(e *tripEntry) error {
		res = capacity.ReserveSeat(&e.trip)
		return nil
	})
	return res, ledgerErr(err)
}

// ReleaseHeldSeat returns a held seat.
func (m *Memory) ReleaseHeldSeat(_ context.Context, tripID string) error {
	return ledgerErr(m.withTrip(tripID, func(e *tripEntry) error { return capacity.ReleaseHeld(&e.trip) }))
}

// CommitHeldSeat moves a held seat into the confirmed count.
func (m *Memory) CommitHeldSeat(_ context.Context, tripID string) error {
	return ledgerErr(m.withTrip(tripID, func(e *tripEntry) error { return capacity.CommitHeld(&e.trip) }))
}

// ReleaseConfirmedSeat returns a confirmed seat.
func (m *Memory) ReleaseConfirmedSeat(_ context.Context, tripID string) error {
	return ledgerErr(m.withTrip(tripID, func(e *tripEntry) error { return capacity.ReleaseConfirmed(&e.trip) }))
}

// TryReserveParcelSlots takes count parcel slots, past capacity only with allowOverride.
func (m *Memory) TryReserveParcelSlots(_ context.Context, tripID string, count int, allowOverride bool) (capacity.Result, error) {
	var res capacity.Result
	err := m.withTrip(tripID, func(e *tripEntry) error {
		res = capacity.ReserveParcels(&e.trip, count, allowOverride)
		return nil
	})
	return res, ledgerErr(err)
}

// ReleaseParcelSlots returns count parcel slots.
func (m *Memory) ReleaseParcelSlots(_ context.Context, tripID string, count int) error {
	return ledgerErr(m.withTrip(tripID, func(e *tripEntry) error { return capacity.ReleaseParcels(&e.trip, count) }))
}

func ledgerErr(err error) error {
	if err == ErrNotFound {
		return capacity.ErrUnknownTrip
	}
	return err
}

// ----- bookings -----

// CreateHeldBooking stores b and h under the lowest free seat number.
func (m *Memory) CreateHeldBooking(_ context.Context, b *model.Booking, h *model.Hold) error {
	e, err := m.entry(b.TripID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.bookings[b.ID]; ok {
		return ErrDuplicate
	}
	used := make(map[int]bool, len(e.bookings))
	for _, other := range e.bookings {
		if other.Status.Active() {
			used[other.SeatNumber] = true
		}
	}
	seat := 0
	for n := 1; n <= e.trip.SeatCount; n++ {
		if !used[n] {
			seat = n
			break
		}
	}
	if seat == 0 {
		return ErrNoSeat
	}
	b.SeatNumber = seat
	h.SeatNumber = seat
	bc, hc := *b, *h
	e.bookings[b.ID] = &bc
	e.holds[h.ID] = &hc

	m.mu.Lock()
	m.bookingTrip[b.ID] = b.TripID
	m.holdTrip[h.ID] = h.TripID
	m.holdByBooking[b.ID] = h.ID
	m.mu.Unlock()
	return nil
}

// GetBooking returns a copy of one booking.
func (m *Memory) GetBooking(_ context.Context, id string) (*model.Booking, error) {
	e, err := m.lookup(m.bookingTrip, id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *b
	return &out, nil
}

// ListBookingsByTrip returns a trip's bookings ordered by seat.
func (m *Memory) ListBookingsByTrip(_ context.Context, tripID string) ([]model.Booking, error) {
	e, err := m.entry(tripID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	out := make([]model.Booking, 0, len(e.bookings))
	for _, b := range e.bookings {
		out = append(out, *b)
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SeatNumber < out[j].SeatNumber })
	return out, nil
}

// UpdateBooking applies upd when the booking is in status from.
func (m *Memory) UpdateBooking(_ context.Context, id string, from model.BookingStatus, upd model.BookingUpdate) (bool, error) {
	e, err := m.lookup(m.bookingTrip, id)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.bookings[id]
	if !ok {
		return false, ErrNotFound
	}
	if b.Status != from {
		return false, nil
	}
	if upd.Status != nil {
		b.Status = *upd.Status
	}
	if upd.PaymentStatus != nil {
		b.PaymentStatus = *upd.PaymentStatus
	}
	if upd.PaymentReference != nil {
		b.PaymentReference = *upd.PaymentReference
	}
	if upd.CancellationReason != nil {
		b.CancellationReason = *upd.CancellationReason
	}
	b.UpdatedAt = time.Now().UTC()
	return true, nil
}

// MarkCheckedIn checks in a confirmed booking once.
func (m *Memory) MarkCheckedIn(_ context.Context, id string, at time.Time) (bool, error) {
	e, err := m.lookup(m.bookingTrip, id)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.bookings[id]
	if !ok {
		return false, ErrNotFound
	}
	if b.CheckedIn || b.Status != model.BookingConfirmed {
		return false, nil
	}
	b.CheckedIn = true
	t := at
	b.CheckedInAt = &t
	b.UpdatedAt = at
	return true, nil
}

// CountActiveBookings counts pending and confirmed bookings on a trip.
func (m *Memory) CountActiveBookings(_ context.Context, tripID string) (int, error) {
	n := 0
	err := m.withTrip(tripID, func(e *tripEntry) error {
		for _, b := range e.bookings {
			if b.Status.Active() {
				n++
			}
		}
		return nil
	})
	return n, err
}

// ----- holds -----

// GetHold returns a copy of one hold.
func (m *Memory) GetHold(_ context.Context, id string) (*model.Hold, error) {
	e, err := m.lookup(m.holdTrip, id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.holds[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *h
	return &out, nil
}

// GetHoldByBooking returns the hold created with a booking.
func (m *Memory) GetHoldByBooking(ctx context.Context, bookingID string) (*model.Hold, error) {
	m.mu.RLock()
	holdID, ok := m.holdByBooking[bookingID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.GetHold(ctx, holdID)
}

// ClaimHold moves a HELD hold into to.
func (m *Memory) ClaimHold(_ context.Context, id string, to model.HoldState, at time.Time) (bool, error) {
	e, err := m.lookup(m.holdTrip, id)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.holds[id]
	if !ok {
		return false, ErrNotFound
	}
	if h.State != model.HoldHeld {
		return false, nil
	}
	h.State = to
	closed := at
	h.ClosedAt = &closed
	return true, nil
}

// ListExpiredHolds scans every trip for overdue holds.
func (m *Memory) ListExpiredHolds(_ context.Context, now time.Time, limit int) ([]model.Hold, error) {
	out := make([]model.Hold, 0)
	for _, e := range m.entries() {
		e.mu.Lock()
		for _, h := range e.holds {
			if h.ExpiredAt(now) {
				out = append(out, *h)
			}
		}
		e.mu.Unlock()
	}
	return oldestFirst(out, limit), nil
}

func oldestFirst(holds []model.Hold, limit int) []model.Hold {
	sort.Slice(holds, func(i, j int) bool { return holds[i].ExpiresAt.Before(holds[j].ExpiresAt) })
	if limit > 0 && len(holds) > limit {
		holds = holds[:limit]
	}
	return holds
}

// ListExpiredTripHolds looks only at the holds of tripID.
func (m *Memory) ListExpiredTripHolds(_ context.Context, tripID string, now time.Time, limit int) ([]model.Hold, error) {
	e, err := m.entry(tripID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Hold, 0)
	e.mu.Lock()
	for _, h := range e.holds {
		if h.ExpiredAt(now) {
			out = append(out, *h)
		}
	}
	e.mu.Unlock()
	return oldestFirst(out, limit), nil
}

// ----- parcels -----

func (m *Memory) parcel(id string) (*parcelEntry, bool) {
	m.parcelMu.RLock()
	pe, ok := m.parcels[id]
	m.parcelMu.RUnlock()
	return pe, ok
}

// CreateParcel stores a new parcel.
func (m *Memory) CreateParcel(_ context.Context, p *model.Parcel) error {
	m.parcelMu.Lock()
	defer m.parcelMu.Unlock()
	if _, ok := m.parcels[p.ID]; ok {
		return ErrDuplicate
	}
	m.parcels[p.ID] = &parcelEntry{parcel: *p}
	return nil
}

// GetParcel returns a copy of one parcel.
func (m *Memory) GetParcel(_ context.Context, id string) (*model.Parcel, error) {
	pe, ok := m.parcel(id)
	if !ok {
		return nil, ErrNotFound
	}
	pe.mu.Lock()
	out := pe.parcel
	pe.mu.Unlock()
	return &out, nil
}

// GetParcels returns copies of every requested parcel.
func (m *Memory) GetParcels(ctx context.Context, ids []string) ([]model.Parcel, error) {
	out := make([]model.Parcel, 0, len(ids))
	for _, id := range ids {
		p, err := m.GetParcel(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

// AssignParcels locks the batch's parcels in ID order and assigns all of
// them, or none when any is missing or not unassigned.
func (m *Memory) AssignParcels(_ context.Context, tripID string, ids []string) error {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	locked := make([]*parcelEntry, 0, len(sorted))
	defer func() {
		for _, pe := range locked {
			pe.mu.Unlock()
		}
	}()
	for i, id := range sorted {
		if i > 0 && id == sorted[i-1] {
			continue
		}
		pe, ok := m.parcel(id)
		if !ok {
			return ErrNotFound
		}
		pe.mu.Lock()
		locked = append(locked, pe)
		if pe.parcel.Status != model.ParcelUnassigned {
			return ErrStale
		}
	}
	now := time.Now().UTC()
	for _, pe := range locked {
		pe.parcel.Status = model.ParcelAssigned
		pe.parcel.AssignedTripID = tripID
		pe.parcel.UpdatedAt = now
	}
	return nil
}

// UpdateParcelStatus moves a parcel from one status to another.
func (m *Memory) UpdateParcelStatus(_ context.Context, id string, from, to model.ParcelStatus) error {
	pe, ok := m.parcel(id)
	if !ok {
		return ErrNotFound
	}
	pe.mu.Lock()
	defer pe.mu.Unlock()
	if pe.parcel.Status != from {
		return ErrStale
	}
	pe.parcel.Status = to
	pe.parcel.UpdatedAt = time.Now().UTC()
	return nil
}

// UnassignParcel returns an assigned parcel to unassigned.
func (m *Memory) UnassignParcel(_ context.Context, id string) (string, error) {
	pe, ok := m.parcel(id)
	if !ok {
		return "", ErrNotFound
	}
	pe.mu.Lock()
	defer pe.mu.Unlock()
	if pe.parcel.Status != model.ParcelAssigned {
		return "", ErrStale
	}
	tripID := pe.parcel.AssignedTripID
	pe.parcel.Status = model.ParcelUnassigned
	pe.parcel.AssignedTripID = ""
	pe.parcel.UpdatedAt = time.Now().UTC()
	return tripID, nil
}

// ----- audit -----

// AppendAudit appends one entry.
func (m *Memory) AppendAudit(_ context.Context, e model.AuditEntry) error {
	m.auditMu.Lock()
	defer m.auditMu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}

// QueryAudit returns matching entries newest first.
func (m *Memory) QueryAudit(_ context.Context, f model.AuditFilter) ([]model.AuditEntry, error) {
	m.auditMu.RLock()
	out := make([]model.AuditEntry, 0)
	// newest appended last; walk backwards so ties keep insertion order reversed
	for i := len(m.audit) - 1; i >= 0; i-- {
		if f.Match(m.audit[i]) {
			out = append(out, m.audit[i])
		}
	}
	m.auditMu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
