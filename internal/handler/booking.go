package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/parkline/capacity-engine/internal/booking"
	"github.com/parkline/capacity-engine/internal/model"
)

// BookingHandler serves booking intake, payment confirmation and the
// cancel/refund transitions.
type BookingHandler struct {
	Engine *booking.Engine
}

// NewBookingHandler constructs a BookingHandler.
func NewBookingHandler(engine *booking.Engine) *BookingHandler {
	if engine == nil {
		panic("nil engine passed to NewBookingHandler")
	}
	return &BookingHandler{Engine: engine}
}

type contactBody struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

func (b contactBody) contact() model.Contact {
	return model.Contact{
		Name:    strings.TrimSpace(b.Name),
		Phone:   strings.TrimSpace(b.Phone),
		Address: strings.TrimSpace(b.Address),
	}
}

type intakeRequest struct {
	TripID    string      `json:"tripId"`
	Passenger contactBody `json:"passenger"`
	NextOfKin contactBody `json:"nextOfKin"`
	Amount    int64       `json:"amount"`
}

type intakeResponse struct {
	BookingID  string    `json:"bookingId"`
	HoldToken  string    `json:"holdToken"`
	SeatNumber int       `json:"seatNumber"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Create handles POST /v1/bookings.  A trip with no seat left answers 409
// with conflictType SLOT_CONFLICT as fast as a success would.
func (h *BookingHandler) Create(c echo.Context) error {
	var req intakeRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	res, err := h.Engine.Book(c.Request().Context(), booking.Request{
		TripID:    strings.TrimSpace(req.TripID),
		Passenger: req.Passenger.contact(),
		NextOfKin: req.NextOfKin.contact(),
		Amount:    req.Amount,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, intakeResponse{
		BookingID:  res.Booking.ID,
		HoldToken:  res.Hold.Token,
		SeatNumber: res.Booking.SeatNumber,
		ExpiresAt:  res.Hold.ExpiresAt,
	})
}

// Get handles GET /v1/bookings/:id.
func (h *BookingHandler) Get(c echo.Context) error {
	b, err := h.Engine.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// Cancel handles POST /v1/bookings/:id/cancel with an optional reason.
func (h *BookingHandler) Cancel(c echo.Context) error {
	var req struct {
		Reason string `json:"reason"`
	}
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}
	b, err := h.Engine.Cancel(c.Request().Context(), c.Param("id"), strings.TrimSpace(req.Reason))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// Refund handles POST /v1/bookings/:id/refund.
func (h *BookingHandler) Refund(c echo.Context) error {
	b, err := h.Engine.Refund(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// ConfirmPayment handles POST /v1/payments/confirm.  Duplicate callbacks
// are answered 200 with the booking unchanged.
func (h *BookingHandler) ConfirmPayment(c echo.Context) error {
	var req struct {
		BookingID        string `json:"bookingId"`
		PaymentReference string `json:"paymentReference"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if strings.TrimSpace(req.BookingID) == "" || strings.TrimSpace(req.PaymentReference) == "" {
		return badRequest(c, "bookingId and paymentReference are required")
	}
	b, err := h.Engine.Confirm(c.Request().Context(), strings.TrimSpace(req.BookingID), strings.TrimSpace(req.PaymentReference))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}
