package router

import (
	"github.com/labstack/echo/v4"

	"github.com/parkline/capacity-engine/internal/middleware"
)

// registerTrips wires the trip registry.  Park staff may read trips;
// scheduling, lifecycle changes and deletion are for managers.
func registerTrips(api *echo.Group, h Handlers) {
	read := middleware.RequireRole(staff...)
	write := middleware.RequireRole(managers...)

	api.POST("/trips", h.Trips.Create, write)
	api.GET("/trips/:id", h.Trips.Get, read)
	api.GET("/trips/:id/bookings", h.Trips.ListBookings, read)
	api.POST("/trips/:id/status", h.Trips.Transition, write)
	api.DELETE("/trips/:id", h.Trips.Delete, write)
}
