package router

import (
	"github.com/labstack/echo/v4"

	"github.com/parkline/capacity-engine/internal/middleware"
)

// registerOperations wires assignments, parcels and check-in.
func registerOperations(api *echo.Group, h Handlers) {
	staffOnly := middleware.RequireRole(staff...)
	managersOnly := middleware.RequireRole(managers...)

	api.POST("/assignments/driver", h.Assignments.AssignDriver, managersOnly)
	api.POST("/assignments/vehicle", h.Assignments.AssignVehicle, managersOnly)

	api.POST("/parcels", h.Parcels.Create, staffOnly)
	api.POST("/parcels/assign", h.Parcels.Assign, managersOnly)
	api.POST("/parcels/:id/status", h.Parcels.UpdateStatus, staffOnly)
	api.POST("/parcels/:id/unassign", h.Parcels.Unassign, managersOnly)

	api.POST("/checkin", h.CheckIn.CheckIn, staffOnly)
}
