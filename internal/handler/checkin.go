package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/parkline/capacity-engine/internal/checkin"
)

// CheckInHandler serves POST /v1/checkin.
type CheckInHandler struct {
	Service *checkin.Service
}

// NewCheckInHandler constructs a CheckInHandler.
func NewCheckInHandler(s *checkin.Service) *CheckInHandler {
	if s == nil {
		panic("nil service passed to NewCheckInHandler")
	}
	return &CheckInHandler{Service: s}
}

// CheckIn validates and records a check-in for {tripId, bookingId}.
// Validation failures answer 422 with the typed error code.
func (h *CheckInHandler) CheckIn(c echo.Context) error {
	var req struct {
		TripID    string `json:"tripId"`
		BookingID string `json:"bookingId"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	b, err := h.Service.CheckIn(c.Request().Context(), req.BookingID, req.TripID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"valid": true, "booking": b})
}
