package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkline/capacity-engine/internal/audit"
	"github.com/parkline/capacity-engine/internal/booking"
	"github.com/parkline/capacity-engine/internal/checkin"
	"github.com/parkline/capacity-engine/internal/conflict"
	"github.com/parkline/capacity-engine/internal/handler"
	"github.com/parkline/capacity-engine/internal/hold"
	"github.com/parkline/capacity-engine/internal/parcel"
	"github.com/parkline/capacity-engine/internal/store"
	"github.com/parkline/capacity-engine/internal/trip"
	"github.com/parkline/capacity-engine/internal/utils"
)

const (
	secret = "router-test-secret"
	today  = "2026-03-01"
)

type api struct {
	e       *echo.Echo
	manager string
	agent   string
	payer   string
	rival   string
}

func newAPI(t *testing.T) *api {
	t.Helper()
	mem := store.NewMemory()
	auditLog := audit.NewLog(mem)
	holds := hold.NewManager(mem, mem, mem, auditLog, hold.DefaultConfig)
	engine := booking.NewEngine(mem, holds, auditLog, nil)
	checkins := checkin.NewService(mem, auditLog, time.UTC)
	checkins.Now = func() time.Time { return time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC) }

	trips := trip.NewService(mem, auditLog)
	trips.Bookings = engine

	e := echo.New()
	RegisterRoutes(e, nil)
	RegisterAPI(e, Handlers{
		Trips:       handler.NewTripHandler(trips, engine),
		Bookings:    handler.NewBookingHandler(engine),
		Assignments: handler.NewAssignmentHandler(conflict.NewDetector(mem, nil, auditLog)),
		Parcels:     handler.NewParcelHandler(parcel.NewAllocator(mem, auditLog)),
		CheckIn:     handler.NewCheckInHandler(checkins),
		Audit:       handler.NewAuditHandler(auditLog),
	}, Options{JWTSecret: secret})

	tok := func(sub, role, park string) string {
		at, err := utils.NewAccessToken(secret, sub, role, park, time.Hour)
		require.NoError(t, err)
		return at.Token
	}
	return &api{
		e:       e,
		manager: tok("mgr-1", audit.RoleManager, "park-a"),
		agent:   tok("agent-1", audit.RoleAgent, "park-a"),
		payer:   tok("payments", audit.RoleService, ""),
		rival:   tok("mgr-9", audit.RoleManager, "park-b"),
	}
}

func (a *api) do(t *testing.T, token, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	out := map[string]any{}
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec.Code, out
}

func (a *api) scheduleTrip(t *testing.T, seats, parcels int, date string) string {
	t.Helper()
	code, body := a.do(t, a.manager, http.MethodPost, "/v1/trips", echo.Map{
		"routeId": "lagos-ibadan", "serviceDate": date, "departureTime": "07:30",
		"seatCount": seats, "maxParcelsPerVehicle": parcels, "status": "published",
	})
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, "park-a", body["parkId"])
	return body["id"].(string)
}

func (a *api) book(t *testing.T, tripID, name string) (int, map[string]any) {
	return a.do(t, a.agent, http.MethodPost, "/v1/bookings", echo.Map{
		"tripId":    tripID,
		"passenger": echo.Map{"name": name, "phone": "0803"},
		"nextOfKin": echo.Map{"name": "Kin", "phone": "0805", "address": "12 Allen Ave"},
		"amount":    750000,
	})
}

func TestHealthAndAuth(t *testing.T) {
	a := newAPI(t)
	code, body := a.do(t, "", http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, _ = a.do(t, "", http.MethodGet, "/v1/trips/x", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	// Agents cannot schedule trips.
	code, _ = a.do(t, a.agent, http.MethodPost, "/v1/trips", echo.Map{})
	assert.Equal(t, http.StatusForbidden, code)
}

func TestBookingFlow_LastSeatRace(t *testing.T) {
	a := newAPI(t)
	tripID := a.scheduleTrip(t, 2, 0, today)

	code, first := a.book(t, tripID, "Ada")
	require.Equal(t, http.StatusCreated, code, first)
	assert.NotEmpty(t, first["holdToken"])
	assert.EqualValues(t, 1, first["seatNumber"])

	code, confirmed := a.do(t, a.payer, http.MethodPost, "/v1/payments/confirm", echo.Map{
		"bookingId": first["bookingId"], "paymentReference": "pay-1",
	})
	require.Equal(t, http.StatusOK, code, confirmed)
	assert.Equal(t, "confirmed", confirmed["bookingStatus"])

	// Duplicate callback is a no-op success.
	code, _ = a.do(t, a.payer, http.MethodPost, "/v1/payments/confirm", echo.Map{
		"bookingId": first["bookingId"], "paymentReference": "pay-1",
	})
	assert.Equal(t, http.StatusOK, code)

	var wg sync.WaitGroup
	codes := make([]int, 2)
	bodies := make([]map[string]any, 2)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			time.Sleep(time.Duration(i*10) * time.Millisecond)
			codes[i], bodies[i] = a.book(t, tripID, "Racer")
		}(i)
	}
	wg.Wait()

	created, conflicts := 0, 0
	for i, c := range codes {
		switch c {
		case http.StatusCreated:
			created++
		case http.StatusConflict:
			conflicts++
			assert.Equal(t, "SLOT_CONFLICT", bodies[i]["error"])
			assert.Equal(t, "SLOT_CONFLICT", bodies[i]["conflictType"])
			assert.NotContains(t, bodies[i], "bookingId")
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, conflicts)

	code, view := a.do(t, a.agent, http.MethodGet, "/v1/trips/"+tripID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, view["seatsRemaining"])
	assert.EqualValues(t, 1, view["confirmedBookingsCount"])
	assert.EqualValues(t, 1, view["heldCount"])
}

func TestCancelAndRefund(t *testing.T) {
	a := newAPI(t)
	tripID := a.scheduleTrip(t, 1, 0, today)

	_, held := a.book(t, tripID, "Ada")
	id := held["bookingId"].(string)

	code, body := a.do(t, a.agent, http.MethodPost, "/v1/bookings/"+id+"/refund", nil)
	assert.Equal(t, http.StatusForbidden, code, body)

	code, body = a.do(t, a.manager, http.MethodPost, "/v1/bookings/"+id+"/refund", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "INVALID_TRANSITION", body["error"])

	code, body = a.do(t, a.agent, http.MethodPost, "/v1/bookings/"+id+"/cancel", echo.Map{"reason": "changed plans"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "cancelled", body["bookingStatus"])

	code, _ = a.book(t, tripID, "Next")
	assert.Equal(t, http.StatusCreated, code, "cancelled hold frees the seat")
}

func TestDriverConflict(t *testing.T) {
	a := newAPI(t)
	tripA := a.scheduleTrip(t, 18, 0, today)
	tripB := a.scheduleTrip(t, 18, 0, today)
	tripC := a.scheduleTrip(t, 18, 0, "2026-03-02")

	code, body := a.do(t, a.manager, http.MethodPost, "/v1/assignments/driver", echo.Map{"tripId": tripA, "driverId": "drv-1"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["success"])

	code, body = a.do(t, a.manager, http.MethodPost, "/v1/assignments/driver", echo.Map{"tripId": tripB, "driverId": "drv-1"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "DRIVER_CONFLICT", body["error"])
	assert.Equal(t, tripA, body["conflictTripId"])

	code, _ = a.do(t, a.manager, http.MethodPost, "/v1/assignments/driver", echo.Map{"tripId": tripC, "driverId": "drv-1"})
	assert.Equal(t, http.StatusOK, code)

	code, body = a.do(t, a.manager, http.MethodPost, "/v1/assignments/vehicle", echo.Map{"tripId": tripA, "vehicleId": "bus-7"})
	require.Equal(t, http.StatusOK, code, body)
	code, body = a.do(t, a.manager, http.MethodPost, "/v1/assignments/vehicle", echo.Map{"tripId": tripB, "vehicleId": "bus-7"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "VEHICLE_CONFLICT", body["error"])
}

func TestParcelAssignment(t *testing.T) {
	a := newAPI(t)
	tripID := a.scheduleTrip(t, 18, 2, today)

	ids := make([]string, 3)
	for i := range ids {
		code, body := a.do(t, a.agent, http.MethodPost, "/v1/parcels", echo.Map{
			"senderName": "Sender", "receiverName": "Receiver", "fee": 1500,
		})
		require.Equal(t, http.StatusCreated, code, body)
		ids[i] = body["id"].(string)
	}

	code, body := a.do(t, a.manager, http.MethodPost, "/v1/parcels/assign", echo.Map{"tripId": tripID, "parcelIds": ids})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "PARCEL_CAPACITY_EXCEEDED", body["error"])

	code, body = a.do(t, a.manager, http.MethodPost, "/v1/parcels/assign", echo.Map{
		"tripId": tripID, "parcelIds": ids, "override": true, "reason": "festive rush",
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["success"])

	code, body = a.do(t, a.agent, http.MethodPost, "/v1/parcels/"+ids[0]+"/status", echo.Map{"status": "in-transit"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "in-transit", body["status"])

	code, body = a.do(t, a.manager, http.MethodGet, "/v1/audit?entityType=trip&entityId="+tripID, nil)
	require.Equal(t, http.StatusOK, code)
	entries := body["entries"].([]any)
	require.NotEmpty(t, entries)
	newest := entries[0].(map[string]any)
	assert.Equal(t, "parcel_capacity_override", newest["action"])
	assert.Equal(t, "festive rush", newest["details"].(map[string]any)["reason"])
}

func TestCheckIn(t *testing.T) {
	a := newAPI(t)
	tripID := a.scheduleTrip(t, 18, 0, today)
	_, held := a.book(t, tripID, "Ada")
	id := held["bookingId"].(string)

	code, body := a.do(t, a.agent, http.MethodPost, "/v1/checkin", echo.Map{"tripId": tripID, "bookingId": id})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "PAYMENT_PENDING", body["error"])

	code, _ = a.do(t, a.payer, http.MethodPost, "/v1/payments/confirm", echo.Map{"bookingId": id, "paymentReference": "pay-9"})
	require.Equal(t, http.StatusOK, code)

	code, body = a.do(t, a.agent, http.MethodPost, "/v1/checkin", echo.Map{"tripId": tripID, "bookingId": id})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["valid"])

	code, body = a.do(t, a.agent, http.MethodPost, "/v1/checkin", echo.Map{"tripId": tripID, "bookingId": id})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "DUPLICATE_CHECKIN", body["error"])
}

func TestParkScoping(t *testing.T) {
	a := newAPI(t)
	tripID := a.scheduleTrip(t, 18, 0, today)

	code, body := a.do(t, a.rival, http.MethodGet, "/v1/trips/"+tripID, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", body["error"])

	code, _ = a.do(t, a.rival, http.MethodGet, "/v1/audit?parkId=park-a", nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, body = a.do(t, a.rival, http.MethodGet, "/v1/audit", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, body["count"])

	code, _ = a.do(t, a.agent, http.MethodGet, "/v1/audit", nil)
	assert.Equal(t, http.StatusForbidden, code, "agents cannot read the audit log")
}

func TestTripLifecycle(t *testing.T) {
	a := newAPI(t)
	tripID := a.scheduleTrip(t, 18, 0, today)

	code, body := a.do(t, a.manager, http.MethodPost, "/v1/trips/"+tripID+"/status", echo.Map{"status": "completed"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "INVALID_TRANSITION", body["error"])

	_, held := a.book(t, tripID, "Ada")
	code, body = a.do(t, a.manager, http.MethodDelete, "/v1/trips/"+tripID, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "TRIP_HAS_DEPENDENTS", body["error"])

	code, _ = a.do(t, a.agent, http.MethodPost, "/v1/bookings/"+held["bookingId"].(string)+"/cancel", nil)
	require.Equal(t, http.StatusOK, code)

	code, body = a.do(t, a.manager, http.MethodGet, "/v1/trips/"+tripID+"/bookings", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["bookings"], 1)

	code, _ = a.do(t, a.manager, http.MethodDelete, "/v1/trips/"+tripID, nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = a.do(t, a.manager, http.MethodGet, "/v1/trips/"+tripID, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCancelledTripReleasesBookings(t *testing.T) {
	a := newAPI(t)
	tripID := a.scheduleTrip(t, 18, 0, today)
	_, pending := a.book(t, tripID, "Ada")
	_, paid := a.book(t, tripID, "Bola")
	pendingID, paidID := pending["bookingId"].(string), paid["bookingId"].(string)
	code, _ := a.do(t, a.payer, http.MethodPost, "/v1/payments/confirm", echo.Map{"bookingId": paidID, "paymentReference": "pay-1"})
	require.Equal(t, http.StatusOK, code)

	code, body := a.do(t, a.manager, http.MethodPost, "/v1/trips/"+tripID+"/status", echo.Map{"status": "cancelled"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "cancelled", body["status"])
	assert.EqualValues(t, 0, body["confirmedBookingsCount"])
	assert.EqualValues(t, 0, body["heldCount"])

	code, body = a.do(t, a.payer, http.MethodPost, "/v1/payments/confirm", echo.Map{"bookingId": pendingID, "paymentReference": "pay-2"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "TRIP_NOT_BOOKABLE", body["error"])

	code, body = a.do(t, a.agent, http.MethodPost, "/v1/checkin", echo.Map{"tripId": tripID, "bookingId": paidID})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "CANCELLED_BOOKING", body["error"])

	code, body = a.do(t, a.manager, http.MethodGet, "/v1/bookings/"+paidID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "cancelled", body["bookingStatus"])
	assert.Equal(t, "trip_cancelled", body["cancellationReason"])

	code, _ = a.do(t, a.manager, http.MethodDelete, "/v1/trips/"+tripID, nil)
	assert.Equal(t, http.StatusNoContent, code)
}
