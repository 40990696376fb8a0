package model

import "time"

// HoldState is the state of a seat hold.  HELD is the only non-terminal
// state; CONFIRMED, EXPIRED and CANCELLED are final.
type HoldState string

const (
	HoldHeld      HoldState = "held"
	HoldConfirmed HoldState = "confirmed"
	HoldExpired   HoldState = "expired"
	HoldCancelled HoldState = "cancelled"
)

// Terminal reports whether the hold can no longer change state.
func (s HoldState) Terminal() bool { return s != HoldHeld }

// Hold is a time-boxed provisional claim on one seat while payment is
// pending.  It is created together with its booking and leaves the HELD
// state exactly once, through a compare-and-set on State.
//
// Fields:
//  ID         – hold identifier.
//  TripID     – trip whose seat is held.
//  BookingID  – booking created alongside the hold.
//  SeatNumber – seat reference.
//  Token      – opaque token returned to the client.
//  State      – HELD or one of the terminal states.
//  ExpiresAt  – CreatedAt + hold duration.
//  ClosedAt   – when the hold left HELD.
type Hold struct {
	ID         string     `json:"id"`
	TripID     string     `json:"tripId"`
	BookingID  string     `json:"bookingId"`
	SeatNumber int        `json:"seatNumber"`
	Token      string     `json:"holdToken"`
	State      HoldState  `json:"state"`
	CreatedAt  time.Time  `json:"createdAt"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	ClosedAt   *time.Time `json:"closedAt,omitempty"`
}

// ExpiredAt reports whether a still-held hold has passed its expiry at now.
func (h Hold) ExpiredAt(now time.Time) bool {
	return h.State == HoldHeld && now.After(h.ExpiresAt)
}
