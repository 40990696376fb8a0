package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/parkline/capacity-engine/internal/audit"
	"github.com/parkline/capacity-engine/internal/model"
)

// AuditHandler serves the read-only audit query.
type AuditHandler struct {
	Log *audit.Log
}

// NewAuditHandler constructs an AuditHandler.
func NewAuditHandler(l *audit.Log) *AuditHandler {
	if l == nil {
		panic("nil audit log passed to NewAuditHandler")
	}
	return &AuditHandler{Log: l}
}

// Query handles GET /v1/audit?entityType=&entityId=&parkId=&userId=&limit=.
// Entries come back newest first.
func (h *AuditHandler) Query(c echo.Context) error {
	f := model.AuditFilter{
		EntityType: c.QueryParam("entityType"),
		EntityID:   c.QueryParam("entityId"),
		ParkID:     c.QueryParam("parkId"),
		UserID:     c.QueryParam("userId"),
	}
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return badRequest(c, "limit must be a positive integer")
		}
		f.Limit = n
	}
	entries, err := h.Log.Query(c.Request().Context(), f)
	if err != nil {
		return respondError(c, err)
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	return c.JSON(http.StatusOK, echo.Map{"entries": entries, "count": len(entries)})
}
