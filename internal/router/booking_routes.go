package router

import (
	"github.com/labstack/echo/v4"

	"github.com/parkline/capacity-engine/internal/middleware"
)

// registerBookings wires booking intake and the payment callback.  The
// callback is called by the payment service, not by park staff.
func registerBookings(api *echo.Group, h Handlers, opts Options) {
	staffOnly := middleware.RequireRole(staff...)

	intake := append([]echo.MiddlewareFunc{staffOnly}, optional(opts.BookingLimit)...)
	api.POST("/bookings", h.Bookings.Create, intake...)
	api.GET("/bookings/:id", h.Bookings.Get, staffOnly)
	api.POST("/bookings/:id/cancel", h.Bookings.Cancel, staffOnly)
	api.POST("/bookings/:id/refund", h.Bookings.Refund, middleware.RequireRole(managers...))

	api.POST("/payments/confirm", h.Bookings.ConfirmPayment, middleware.RequireRole(payments...))
}
