package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/parkline/capacity-engine/internal/conflict"
)

// AssignmentHandler serves driver and vehicle assignment.
type AssignmentHandler struct {
	Detector *conflict.Detector
}

// NewAssignmentHandler constructs an AssignmentHandler.
func NewAssignmentHandler(d *conflict.Detector) *AssignmentHandler {
	if d == nil {
		panic("nil detector passed to NewAssignmentHandler")
	}
	return &AssignmentHandler{Detector: d}
}

// AssignDriver handles POST /v1/assignments/driver with {tripId, driverId}.
// A clash answers 409 {error: DRIVER_CONFLICT, conflictTripId}.
func (h *AssignmentHandler) AssignDriver(c echo.Context) error {
	var req struct {
		TripID   string `json:"tripId"`
		DriverID string `json:"driverId"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	t, err := h.Detector.AssignDriver(c.Request().Context(), req.TripID, req.DriverID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "trip": t})
}

// AssignVehicle handles POST /v1/assignments/vehicle with {tripId, vehicleId}.
func (h *AssignmentHandler) AssignVehicle(c echo.Context) error {
	var req struct {
		TripID    string `json:"tripId"`
		VehicleID string `json:"vehicleId"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	t, err := h.Detector.AssignVehicle(c.Request().Context(), req.TripID, req.VehicleID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "trip": t})
}
