// Package middleware holds the echo middleware shared by the API routes:
// token verification, role checks, rate limiting and response caching.
package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/parkline/capacity-engine/internal/audit"
)

// JWTAuth validates the Bearer access token and exposes its sub, role and
// park_id claims through c.Get and, as an audit.Actor, through the request
// context so the engine components can scope and attribute the call.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, echo.ErrUnauthorized
				}
				return []byte(secret), nil
			})
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			claims, ok := tok.Claims.(jwt.MapClaims)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
			}

			sub, _ := claims["sub"].(string)
			role, _ := claims["role"].(string)
			park, _ := claims["park_id"].(string)
			if sub == "" || role == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
			}
			if park == "" && role != audit.RoleAdmin && role != audit.RoleService {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "token has no park"})
			}

			c.Set(ctxUserID, sub)
			c.Set(ctxRole, role)
			c.Set(ctxParkID, park)

			req := c.Request()
			c.SetRequest(req.WithContext(audit.WithActor(req.Context(), Actor(c))))
			return next(c)
		}
	}
}
