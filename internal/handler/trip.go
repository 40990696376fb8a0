package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/parkline/capacity-engine/internal/booking"
	"github.com/parkline/capacity-engine/internal/middleware"
	"github.com/parkline/capacity-engine/internal/model"
	"github.com/parkline/capacity-engine/internal/trip"
)

// TripHandler serves the trip registry and lifecycle.
type TripHandler struct {
	Trips    *trip.Service
	Bookings *booking.Engine
}

// NewTripHandler constructs a TripHandler.
func NewTripHandler(trips *trip.Service, bookings *booking.Engine) *TripHandler {
	if trips == nil || bookings == nil {
		panic("nil dependency passed to NewTripHandler")
	}
	return &TripHandler{Trips: trips, Bookings: bookings}
}

// tripView is a trip plus its availability snapshot.
type tripView struct {
	*model.Trip
	SeatsRemaining       int `json:"seatsRemaining"`
	ParcelSlotsRemaining int `json:"parcelSlotsRemaining"`
}

func viewOf(t *model.Trip) tripView {
	return tripView{Trip: t, SeatsRemaining: t.SeatsRemaining(), ParcelSlotsRemaining: t.ParcelSlotsRemaining()}
}

type scheduleRequest struct {
	ParkID        string `json:"parkId"`
	RouteID       string `json:"routeId"`
	ServiceDate   string `json:"serviceDate"`
	DepartureTime string `json:"departureTime"`
	SeatCount     int    `json:"seatCount"`
	MaxParcels    int    `json:"maxParcelsPerVehicle"`
	Status        string `json:"status"`
}

// Create handles POST /v1/trips.  parkId defaults to the caller's park.
func (h *TripHandler) Create(c echo.Context) error {
	var req scheduleRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.ParkID == "" {
		req.ParkID = middleware.Actor(c).ParkID
	}
	t, err := h.Trips.Schedule(c.Request().Context(), trip.Schedule{
		ParkID:        req.ParkID,
		RouteID:       req.RouteID,
		ServiceDate:   req.ServiceDate,
		DepartureTime: req.DepartureTime,
		SeatCount:     req.SeatCount,
		MaxParcels:    req.MaxParcels,
		Status:        model.TripStatus(req.Status),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, viewOf(t))
}

// Get handles GET /v1/trips/:id.
func (h *TripHandler) Get(c echo.Context) error {
	t, err := h.Trips.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, viewOf(t))
}

// ListBookings handles GET /v1/trips/:id/bookings.
func (h *TripHandler) ListBookings(c echo.Context) error {
	list, err := h.Bookings.ListByTrip(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	if list == nil {
		list = []model.Booking{}
	}
	return c.JSON(http.StatusOK, echo.Map{"tripId": c.Param("id"), "bookings": list})
}

// Transition handles POST /v1/trips/:id/status with {"status": ...}.
func (h *TripHandler) Transition(c echo.Context) error {
	var req struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	t, err := h.Trips.Transition(c.Request().Context(), c.Param("id"), model.TripStatus(req.Status))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, viewOf(t))
}

// Delete handles DELETE /v1/trips/:id.
func (h *TripHandler) Delete(c echo.Context) error {
	if err := h.Trips.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
