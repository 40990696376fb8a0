// Package handler exposes the reservation engine over HTTP.  Handlers bind
// and shape JSON; every rule lives in the engine packages.
package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/parkline/capacity-engine/internal/model"
)

// statusOf maps an error code to its HTTP status.
func statusOf(code model.Code) int {
	switch code {
	case model.CodeSlotConflict, model.CodeDriverConflict, model.CodeVehicleConflict,
		model.CodeParcelCapacityExceeded, model.CodeTripHasDependents, model.CodeInvalidTransition,
		model.CodeHoldExpired, model.CodeTripNotBookable:
		return http.StatusConflict
	case model.CodeWrongDate, model.CodeDuplicateCheckIn, model.CodeCancelledBooking,
		model.CodePaymentPending, model.CodeInvalidBooking:
		return http.StatusUnprocessableEntity
	case model.CodeNotFound:
		return http.StatusNotFound
	case model.CodeForbidden:
		return http.StatusForbidden
	case model.CodeValidation:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// respondError writes err as {"error": CODE, "message": ...}.  Slot
// conflicts add conflictType and assignment conflicts add conflictTripId.
// Internal faults are logged and their detail withheld.
func respondError(c echo.Context, err error) error {
	var e *model.Error
	if !errors.As(err, &e) {
		e = model.Internal("unexpected error", err)
	}
	body := echo.Map{"error": e.Code, "message": e.Msg}
	switch e.Code {
	case model.CodeSlotConflict:
		body["conflictType"] = model.CodeSlotConflict
	case model.CodeDriverConflict, model.CodeVehicleConflict:
		if e.ConflictTripID != "" {
			body["conflictTripId"] = e.ConflictTripID
		}
	case model.CodeInternal:
		c.Logger().Errorf("%s %s: %v", c.Request().Method, c.Path(), err)
		body["message"] = "internal error"
	}
	return c.JSON(statusOf(e.Code), body)
}

// badRequest reports a body that could not be bound.
func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": model.CodeValidation, "message": msg})
}
