package models

import "time"

// DeliveryStatus is the lifecycle state of a delivery.
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "PENDING"
	StatusAccepted  DeliveryStatus = "ACCEPTED"
	StatusPickedUp  DeliveryStatus = "PICKED_UP"
	StatusInTransit DeliveryStatus = "IN_TRANSIT"
	StatusDelivered DeliveryStatus = "DELIVERED"
	StatusCancelled DeliveryStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed.
func (s DeliveryStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

const (
	PaymentPending   = "PENDING"
	PaymentCompleted = "COMPLETED"
)

// Location is a free-form address with optional coordinates.
type Location struct {
	Address string   `json:"address" validate:"required"`
	Lat     *float64 `json:"lat,omitempty" validate:"omitempty,latitude"`
	Lng     *float64 `json:"lng,omitempty" validate:"omitempty,longitude"`
}

// Delivery represents one physical handoff of a package from a deliverer to a recipient.
type Delivery struct {
	ID               string         `json:"id"`
	ClientID         string         `json:"clientId"`
	DelivererID      string         `json:"delivererId"`
	Status           DeliveryStatus `json:"status"`
	TrackingCode     string         `json:"trackingCode"`
	ValidationCode   *string        `json:"-"`
	Price            float64        `json:"price"`
	ScheduledAt      *time.Time     `json:"scheduledAt,omitempty"`
	PickedUpAt       *time.Time     `json:"pickedUpAt,omitempty"`
	InTransitAt      *time.Time     `json:"inTransitAt,omitempty"`
	CompletedAt      *time.Time     `json:"completedAt,omitempty"`
	PickupLocation   *Location      `json:"pickupLocation,omitempty"`
	DeliveryLocation *Location      `json:"deliveryLocation,omitempty"`
	Notes            *string        `json:"notes,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// HasValidationCode reports whether a code has been issued for the delivery.
func (d *Delivery) HasValidationCode() bool {
	return d.ValidationCode != nil && *d.ValidationCode != ""
}

// ProofOfDelivery is created at most once per delivery, on successful validation.
type ProofOfDelivery struct {
	ID          string    `json:"id"`
	DeliveryID  string    `json:"deliveryId"`
	PhotoURLs   []string  `json:"photoUrls"`
	Location    *Location `json:"location,omitempty"`
	ValidatedBy string    `json:"validatedBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Payment is the monetary record tied 1:1 to a delivery.
type Payment struct {
	ID          string     `json:"id"`
	DeliveryID  string     `json:"deliveryId"`
	Amount      float64    `json:"amount"`
	Status      string     `json:"status"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// DelivererStats are the aggregate counters of a deliverer.
type DelivererStats struct {
	DelivererID     string  `json:"delivererId"`
	TotalDeliveries int     `json:"totalDeliveries"`
	TotalEarnings   float64 `json:"totalEarnings"`
}

// LogAction classifies an audit trail entry.
type LogAction string

const (
	LogActionStatusChanged    LogAction = "STATUS_CHANGED"
	LogActionValidated        LogAction = "VALIDATED"
	LogActionValidationFailed LogAction = "VALIDATION_FAILED"
)

// DeliveryLog is an append-only audit entry. Entries are never updated or deleted.
type DeliveryLog struct {
	ID         string         `json:"id"`
	DeliveryID string         `json:"deliveryId"`
	Action     LogAction      `json:"action"`
	FromStatus DeliveryStatus `json:"fromStatus,omitempty"`
	ToStatus   DeliveryStatus `json:"toStatus,omitempty"`
	ActorID    string         `json:"actorId"`
	Message    string         `json:"message"`
	Location   *Location      `json:"location,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// DeliveryCoordinates is a single GPS breadcrumb reported by the deliverer.
type DeliveryCoordinates struct {
	ID         string    `json:"id"`
	DeliveryID string    `json:"deliveryId"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	CreatedAt  time.Time `json:"createdAt"`
}

// DeliveryStats summarises deliveries created in a time range.
type DeliveryStats struct {
	TotalDeliveries      int       `json:"totalDeliveries"`
	PendingDeliveries    int       `json:"pendingDeliveries"`
	InProgressDeliveries int       `json:"inProgressDeliveries"`
	CompletedDeliveries  int       `json:"completedDeliveries"`
	CancelledDeliveries  int       `json:"cancelledDeliveries"`
	CompletionRate       float64   `json:"completionRate"`
	From                 time.Time `json:"from"`
	To                   time.Time `json:"to"`
}

// DeliveryRating is one party's rating of the other after a delivery.
type DeliveryRating struct {
	ID         string    `json:"id"`
	DeliveryID string    `json:"deliveryId"`
	RatedByID  string    `json:"ratedById"`
	TargetID   string    `json:"targetId"`
	Rating     int       `json:"rating"`
	Comment    *string   `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// DeliveryDetails is a delivery together with its audit trail.
type DeliveryDetails struct {
	Delivery    *Delivery              `json:"delivery"`
	Logs        []*DeliveryLog         `json:"logs"`
	Proof       *ProofOfDelivery       `json:"proof,omitempty"`
	Coordinates []*DeliveryCoordinates `json:"coordinates"`
	Ratings     []*DeliveryRating      `json:"ratings"`
}

// DeliveryParties holds the contact details the notification collaborators need.
type DeliveryParties struct {
	ClientEmail   string
	PayoutAccount string
}

// Completion carries everything written by a successful validation.
type Completion struct {
	DeliveryID     string
	DelivererID    string
	ValidationCode string
	Location       *Location
	ProofPhotos    []string
	Notes          *string
	CompletedAt    time.Time
}
