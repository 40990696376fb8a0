// Package queue publishes and consumes booking events over RabbitMQ.
package queue

import (
	"time"

	"github.com/parkline/capacity-engine/internal/model"
)

// BookingConfirmedQueue is the durable queue confirmed bookings go to.
const BookingConfirmedQueue = "booking.confirmed"

// BookingConfirmedEvent is published when a booking's payment has been
// confirmed.  It carries enough for downstream consumers (receipts,
// manifests, analytics) to act without reading the engine's store.
// Passenger phone numbers are deliberately absent.
type BookingConfirmedEvent struct {
	BookingID        string `json:"bookingId"`
	TripID           string `json:"tripId"`
	ParkID           string `json:"parkId"`
	RouteID          string `json:"routeId"`
	ServiceDate      string `json:"serviceDate"`
	DepartureTime    string `json:"departureTime"`
	SeatNumber       int    `json:"seatNumber"`
	PassengerName    string `json:"passengerName"`
	AmountPaid       int64  `json:"amountPaid"`
	PaymentReference string `json:"paymentReference"`
	ConfirmedAt      string `json:"confirmedAt"`
}

// NewBookingConfirmedEvent builds the event for b on trip t.
func NewBookingConfirmedEvent(b model.Booking, t model.Trip) BookingConfirmedEvent {
	return BookingConfirmedEvent{
		BookingID:        b.ID,
		TripID:           t.ID,
		ParkID:           b.ParkID,
		RouteID:          t.RouteID,
		ServiceDate:      t.ServiceDate,
		DepartureTime:    t.DepartureTime,
		SeatNumber:       b.SeatNumber,
		PassengerName:    b.Passenger.Name,
		AmountPaid:       b.AmountPaid,
		PaymentReference: b.PaymentReference,
		ConfirmedAt:      b.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
