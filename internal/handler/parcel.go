package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/parkline/capacity-engine/internal/middleware"
	"github.com/parkline/capacity-engine/internal/model"
	"github.com/parkline/capacity-engine/internal/parcel"
)

// ParcelHandler serves parcel registration, assignment and progress.
type ParcelHandler struct {
	Allocator *parcel.Allocator
}

// NewParcelHandler constructs a ParcelHandler.
func NewParcelHandler(a *parcel.Allocator) *ParcelHandler {
	if a == nil {
		panic("nil allocator passed to NewParcelHandler")
	}
	return &ParcelHandler{Allocator: a}
}

// Create handles POST /v1/parcels.  parkId defaults to the caller's park.
func (h *ParcelHandler) Create(c echo.Context) error {
	var req struct {
		ParkID       string `json:"parkId"`
		SenderName   string `json:"senderName"`
		ReceiverName string `json:"receiverName"`
		Fee          int64  `json:"fee"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.ParkID == "" {
		req.ParkID = middleware.Actor(c).ParkID
	}
	p, err := h.Allocator.Create(c.Request().Context(), parcel.NewParcel{
		ParkID:       req.ParkID,
		SenderName:   req.SenderName,
		ReceiverName: req.ReceiverName,
		Fee:          req.Fee,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, p)
}

// Assign handles POST /v1/parcels/assign with {tripId, parcelIds, override,
// reason}.  Without override a batch that does not fit is refused whole.
func (h *ParcelHandler) Assign(c echo.Context) error {
	var req struct {
		TripID    string   `json:"tripId"`
		ParcelIDs []string `json:"parcelIds"`
		Override  bool     `json:"override"`
		Reason    string   `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	res, err := h.Allocator.AssignParcels(c.Request().Context(), req.TripID, req.ParcelIDs, req.Override, req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "assignment": res})
}

// UpdateStatus handles POST /v1/parcels/:id/status.
func (h *ParcelHandler) UpdateStatus(c echo.Context) error {
	var req struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	p, err := h.Allocator.UpdateStatus(c.Request().Context(), c.Param("id"), model.ParcelStatus(req.Status))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

// Unassign handles POST /v1/parcels/:id/unassign.
func (h *ParcelHandler) Unassign(c echo.Context) error {
	p, err := h.Allocator.Unassign(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}
