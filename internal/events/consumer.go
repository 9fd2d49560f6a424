package events

import (
	"context"
	"encoding/json"
	"errors"

	"ecodeli-delivery/internal/metrics"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Handler processes one event. Returning an error dead-letters the message.
type Handler func(ctx context.Context, ev DeliveryEvent) error

// Chain runs every handler and joins their errors, so one failing
// collaborator does not starve the others.
func Chain(handlers ...Handler) Handler {
	return func(ctx context.Context, ev DeliveryEvent) error {
		var errs []error
		for _, h := range handlers {
			if err := h(ctx, ev); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

// Consumer drains a delivery channel into a Handler with manual acks.
type Consumer struct {
	deliveries <-chan amqp.Delivery
	log        *zap.Logger
}

func NewConsumer(deliveries <-chan amqp.Delivery, log *zap.Logger) *Consumer {
	return &Consumer{deliveries: deliveries, log: log}
}

// Run blocks until ctx is cancelled or the channel is closed.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-c.deliveries:
			if !ok {
				return nil
			}
			c.handle(ctx, d, h)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery, h Handler) {
	var ev DeliveryEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		c.log.Warn("dropping malformed delivery event", zap.String("message_id", d.MessageId), zap.Error(err))
		metrics.EventsHandledTotal.WithLabelValues("malformed").Inc()
		_ = d.Nack(false, false)
		return
	}
	if err := h(ctx, ev); err != nil {
		c.log.Error("delivery event handler failed",
			zap.String("delivery_id", ev.DeliveryID),
			zap.String("type", string(ev.Type)),
			zap.Error(err))
		metrics.EventsHandledTotal.WithLabelValues("error").Inc()
		_ = d.Nack(false, false)
		return
	}
	metrics.EventsHandledTotal.WithLabelValues("ok").Inc()
	if err := d.Ack(false); err != nil {
		c.log.Warn("ack failed", zap.String("delivery_id", ev.DeliveryID), zap.Error(err))
	}
}
