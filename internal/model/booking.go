package model

import "time"

// BookingStatus is the reservation state of a booking.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingRefunded  BookingStatus = "refunded"
)

// Active reports whether a booking in this state still occupies its seat.
func (s BookingStatus) Active() bool {
	return s == BookingPending || s == BookingConfirmed
}

// PaymentStatus tracks money received for a booking.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Cancellation reasons recorded on bookings.
const (
	ReasonHoldExpired     = "hold_expired"
	ReasonPassengerCancel = "cancelled_by_request"
	ReasonTripCancelled   = "trip_cancelled"
)

// Contact is a name/phone pair; Address is only collected for next of kin.
type Contact struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address,omitempty"`
}

// Booking is one passenger's reservation of one seat on one trip.  Bookings
// are never deleted; cancellation and refund are status transitions.
type Booking struct {
	ID                 string        `json:"id"`
	TripID             string        `json:"tripId"`
	ParkID             string        `json:"parkId"`
	Passenger          Contact       `json:"passenger"`
	NextOfKin          Contact       `json:"nextOfKin"`
	SeatNumber         int           `json:"seatNumber"`
	AmountPaid         int64         `json:"amountPaid"`
	PaymentStatus      PaymentStatus `json:"paymentStatus"`
	PaymentReference   string        `json:"paymentReference,omitempty"`
	Status             BookingStatus `json:"bookingStatus"`
	CancellationReason string        `json:"cancellationReason,omitempty"`
	CheckedIn          bool          `json:"checkedIn"`
	CheckedInAt        *time.Time    `json:"checkedInAt,omitempty"`
	CreatedAt          time.Time     `json:"createdAt"`
	UpdatedAt          time.Time     `json:"updatedAt"`
}

// BookingUpdate carries the fields of a status transition.  Nil pointers
// leave the stored value untouched.
type BookingUpdate struct {
	Status             *BookingStatus
	PaymentStatus      *PaymentStatus
	PaymentReference   *string
	CancellationReason *string
}
