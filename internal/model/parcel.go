package model

import "time"

// ParcelStatus is the assignment state of a parcel.
type ParcelStatus string

const (
	ParcelUnassigned ParcelStatus = "unassigned"
	ParcelAssigned   ParcelStatus = "assigned"
	ParcelInTransit  ParcelStatus = "in-transit"
	ParcelDelivered  ParcelStatus = "delivered"
)

// CanAdvance reports whether a parcel may move from s to next along
// assigned -> in-transit -> delivered.
func (s ParcelStatus) CanAdvance(next ParcelStatus) bool {
	switch s {
	case ParcelAssigned:
		return next == ParcelInTransit
	case ParcelInTransit:
		return next == ParcelDelivered
	}
	return false
}

// Parcel is one shippable item optionally carried by a trip.
type Parcel struct {
	ID             string       `json:"id"`
	ParkID         string       `json:"parkId"`
	SenderName     string       `json:"senderName"`
	ReceiverName   string       `json:"receiverName"`
	Fee            int64        `json:"fee"`
	Status         ParcelStatus `json:"status"`
	AssignedTripID string       `json:"assignedTripId,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}
