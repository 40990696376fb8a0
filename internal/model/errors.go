package model

import (
	"errors"
	"fmt"
)

// Code classifies an Error.  Business-rule codes are expected outcomes that
// callers recover from; CodeInternal indicates a fault.
type Code string

const (
	CodeSlotConflict           Code = "SLOT_CONFLICT"
	CodeDriverConflict         Code = "DRIVER_CONFLICT"
	CodeVehicleConflict        Code = "VEHICLE_CONFLICT"
	CodeParcelCapacityExceeded Code = "PARCEL_CAPACITY_EXCEEDED"
	CodeWrongDate              Code = "WRONG_DATE"
	CodeDuplicateCheckIn       Code = "DUPLICATE_CHECKIN"
	CodeCancelledBooking       Code = "CANCELLED_BOOKING"
	CodePaymentPending         Code = "PAYMENT_PENDING"
	CodeInvalidBooking         Code = "INVALID_BOOKING"
	CodeTripNotBookable        Code = "TRIP_NOT_BOOKABLE"
	CodeHoldExpired            Code = "HOLD_EXPIRED"
	CodeInvalidTransition      Code = "INVALID_TRANSITION"
	CodeTripHasDependents      Code = "TRIP_HAS_DEPENDENTS"
	CodeNotFound               Code = "NOT_FOUND"
	CodeForbidden              Code = "FORBIDDEN"
	CodeValidation             Code = "VALIDATION"
	CodeInternal               Code = "INTERNAL"
)

// Error is the error type returned by the engine components.  Two Errors
// match under errors.Is when their codes are equal, so callers compare
// against the sentinels below.
type Error struct {
	Code           Code
	Msg            string
	ConflictTripID string
	Err            error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrSlotConflict           = &Error{Code: CodeSlotConflict, Msg: "no seats remaining"}
	ErrDriverConflict         = &Error{Code: CodeDriverConflict, Msg: "driver already assigned to another trip"}
	ErrVehicleConflict        = &Error{Code: CodeVehicleConflict, Msg: "vehicle already assigned to another trip"}
	ErrParcelCapacityExceeded = &Error{Code: CodeParcelCapacityExceeded, Msg: "parcel capacity exceeded"}
	ErrWrongDate              = &Error{Code: CodeWrongDate, Msg: "booking is not for today's trip"}
	ErrDuplicateCheckIn       = &Error{Code: CodeDuplicateCheckIn, Msg: "passenger already checked in"}
	ErrCancelledBooking       = &Error{Code: CodeCancelledBooking, Msg: "booking is cancelled"}
	ErrPaymentPending         = &Error{Code: CodePaymentPending, Msg: "payment not confirmed"}
	ErrInvalidBooking         = &Error{Code: CodeInvalidBooking, Msg: "booking does not match trip or park"}
	ErrTripNotBookable        = &Error{Code: CodeTripNotBookable, Msg: "trip is not open for booking"}
	ErrHoldExpired            = &Error{Code: CodeHoldExpired, Msg: "hold expired"}
	ErrInvalidTransition      = &Error{Code: CodeInvalidTransition, Msg: "invalid status transition"}
	ErrTripHasDependents      = &Error{Code: CodeTripHasDependents, Msg: "trip has active bookings or parcels"}
	ErrNotFound               = &Error{Code: CodeNotFound, Msg: "not found"}
	ErrForbidden              = &Error{Code: CodeForbidden, Msg: "resource belongs to another park"}
	ErrValidation             = &Error{Code: CodeValidation, Msg: "invalid request"}
	ErrInternal               = &Error{Code: CodeInternal, Msg: "internal error"}
)

// NotFound builds a NOT_FOUND error naming the missing resource.
func NotFound(resource string, err error) *Error {
	return &Error{Code: CodeNotFound, Msg: resource + " not found", Err: err}
}

// Invalid builds a VALIDATION error.
func Invalid(msg string) *Error {
	return &Error{Code: CodeValidation, Msg: msg}
}

// Internal wraps an unexpected failure.
func Internal(msg string, err error) *Error {
	return &Error{Code: CodeInternal, Msg: msg, Err: err}
}

// CodeOf returns the code carried by err, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
