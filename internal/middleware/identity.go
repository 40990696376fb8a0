package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/parkline/capacity-engine/internal/audit"
)

// Context keys set by JWTAuth.
const (
	ctxUserID = "user_id"
	ctxRole   = "role"
	ctxParkID = "park_id"
)

// ctxString reads a string stored on the echo context.
func ctxString(c echo.Context, key string) string {
	s, _ := c.Get(key).(string)
	return s
}

// userID returns the authenticated subject, or "anon" before JWTAuth ran.
func userID(c echo.Context) string {
	if s := ctxString(c, ctxUserID); s != "" {
		return s
	}
	return "anon"
}

// Actor returns the authenticated caller of c as an audit.Actor.
func Actor(c echo.Context) audit.Actor {
	return audit.Actor{
		UserID: ctxString(c, ctxUserID),
		ParkID: ctxString(c, ctxParkID),
		Role:   ctxString(c, ctxRole),
	}
}
