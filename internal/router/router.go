// Package router registers the HTTP routes and their middleware.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/parkline/capacity-engine/internal/audit"
	"github.com/parkline/capacity-engine/internal/handler"
	"github.com/parkline/capacity-engine/internal/middleware"
)

// Role sets used by the route groups.
var (
	staff    = []string{audit.RoleAdmin, audit.RoleManager, audit.RoleAgent}
	managers = []string{audit.RoleAdmin, audit.RoleManager}
	payments = []string{audit.RoleAdmin, audit.RoleService}
)

// Handlers bundles the API handlers.
type Handlers struct {
	Trips       *handler.TripHandler
	Bookings    *handler.BookingHandler
	Assignments *handler.AssignmentHandler
	Parcels     *handler.ParcelHandler
	CheckIn     *handler.CheckInHandler
	Audit       *handler.AuditHandler
}

// Options carries route-level middleware.  Nil entries are skipped.
type Options struct {
	JWTSecret    string
	BookingLimit echo.MiddlewareFunc // throttles booking intake
	AuditCache   echo.MiddlewareFunc // caches audit queries
}

// RegisterRoutes registers the unauthenticated routes.
func RegisterRoutes(e *echo.Echo, db handler.Pinger) {
	e.GET("/healthz", handler.Health(db))
}

// RegisterAPI registers every /v1 route.  All of them require a valid
// access token; each group then restricts the roles it accepts.
func RegisterAPI(e *echo.Echo, h Handlers, opts Options) {
	api := e.Group("/v1", middleware.JWTAuth(opts.JWTSecret))
	registerTrips(api, h)
	registerBookings(api, h, opts)
	registerOperations(api, h)

	auditMW := append([]echo.MiddlewareFunc{middleware.RequireRole(managers...)}, optional(opts.AuditCache)...)
	api.GET("/audit", h.Audit.Query, auditMW...)
}

func optional(mw echo.MiddlewareFunc) []echo.MiddlewareFunc {
	if mw == nil {
		return nil
	}
	return []echo.MiddlewareFunc{mw}
}
