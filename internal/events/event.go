package events

import (
	"strings"
	"time"

	"ecodeli-delivery/internal/models"
)

// Type distinguishes the delivery events carried on the bus.
type Type string

const (
	TypeStatusChanged Type = "DELIVERY_STATUS_CHANGED"
	TypeDelivered     Type = "DELIVERY_DELIVERED"
)

// DeliveryEvent is published after a delivery changes status. Consumers
// notify the client and settle the deliverer's earnings.
type DeliveryEvent struct {
	Type          Type                  `json:"type"`
	DeliveryID    string                `json:"deliveryId"`
	TrackingCode  string                `json:"trackingCode"`
	DelivererID   string                `json:"delivererId"`
	ClientID      string                `json:"clientId"`
	ClientEmail   string                `json:"clientEmail,omitempty"`
	PayoutAccount string                `json:"payoutAccount,omitempty"`
	Status        models.DeliveryStatus `json:"status"`
	Earnings      float64               `json:"earnings"`
	OccurredAt    time.Time             `json:"occurredAt"`
}

// RoutingKey is delivery.<status>, e.g. delivery.in_transit.
func (e DeliveryEvent) RoutingKey() string {
	return "delivery." + strings.ToLower(string(e.Status))
}

// NewDeliveryEvent builds the event for an updated delivery.
func NewDeliveryEvent(d *models.Delivery, parties *models.DeliveryParties, earnings float64, at time.Time) DeliveryEvent {
	ev := DeliveryEvent{
		Type:         TypeStatusChanged,
		DeliveryID:   d.ID,
		TrackingCode: d.TrackingCode,
		DelivererID:  d.DelivererID,
		ClientID:     d.ClientID,
		Status:       d.Status,
		Earnings:     earnings,
		OccurredAt:   at.UTC(),
	}
	if d.Status == models.StatusDelivered {
		ev.Type = TypeDelivered
	}
	if parties != nil {
		ev.ClientEmail = parties.ClientEmail
		ev.PayoutAccount = parties.PayoutAccount
	}
	return ev
}
