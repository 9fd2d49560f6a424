package models

import "time"

// ValidateDeliveryRequest is submitted by the deliverer at handoff.
type ValidateDeliveryRequest struct {
	DeliveryID     string    `json:"deliveryId" validate:"required"`
	ValidationCode string    `json:"validationCode" validate:"required,len=6,numeric"`
	Location       *Location `json:"location,omitempty" validate:"omitempty"`
	ProofPhotos    []string  `json:"proofPhotos,omitempty" validate:"omitempty,dive,url"`
	Notes          *string   `json:"notes,omitempty" validate:"omitempty,max=1000"`
}

// StatusUpdateRequest moves a delivery through the first half of the lifecycle.
type StatusUpdateRequest struct {
	Status   DeliveryStatus `json:"status" validate:"required,oneof=PICKED_UP IN_TRANSIT"`
	Location *Location      `json:"location,omitempty" validate:"omitempty"`
}

// CoordinatesRequest reports the deliverer's current position.
type CoordinatesRequest struct {
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
}

// StatsRequest bounds the statistics window. Zero values use the default range.
type StatsRequest struct {
	From time.Time `query:"from"`
	To   time.Time `query:"to"`
}

// RateDeliveryRequest is a participant's rating of the other party.
type RateDeliveryRequest struct {
	Rating  int     `json:"rating" validate:"required,min=1,max=5"`
	Comment *string `json:"comment,omitempty" validate:"omitempty,max=1000"`
}

// FailureKind classifies why a validation was rejected.
type FailureKind string

const (
	FailureNotFound     FailureKind = "not_found"
	FailureUnauthorized FailureKind = "unauthorized"
	FailureInvalidState FailureKind = "invalid_state"
	FailureInvalidCode  FailureKind = "invalid_code"
	FailureInternal     FailureKind = "internal"
)

// ValidationResult is the outcome of a validation attempt. Rejections are
// values, never errors.
type ValidationResult struct {
	Success  bool        `json:"success"`
	Message  string      `json:"message,omitempty"`
	Delivery *Delivery   `json:"delivery,omitempty"`
	Earnings *float64    `json:"earnings,omitempty"`
	Failure  FailureKind `json:"-"`
}
