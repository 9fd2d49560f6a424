package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ecodeli-delivery/internal/metrics"

	amqp "github.com/rabbitmq/amqp091-go"
)

const deadLetterSuffix = ".dlx"

// Client owns one AMQP connection and channel.
type Client struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func Dial(url string) (*Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	return &Client{conn: conn, ch: ch}, nil
}

func (c *Client) Channel() *amqp.Channel { return c.ch }

func (c *Client) Close() {
	if c == nil {
		return
	}
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// DeclareTopology declares the topic exchange, its dead-letter exchange and,
// when queue is not empty, a durable queue bound to every delivery event.
func (c *Client) DeclareTopology(exchange, queue string) error {
	dlx := exchange + deadLetterSuffix
	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	if err := c.ch.ExchangeDeclare(dlx, "fanout", true, false, false, false, nil); err != nil {
		return err
	}
	if queue == "" {
		return nil
	}
	if _, err := c.ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange": dlx,
	}); err != nil {
		return err
	}
	if _, err := c.ch.QueueDeclare(queue+deadLetterSuffix, true, false, false, false, nil); err != nil {
		return err
	}
	if err := c.ch.QueueBind(queue, "delivery.#", exchange, false, nil); err != nil {
		return err
	}
	return c.ch.QueueBind(queue+deadLetterSuffix, "", dlx, false, nil)
}

// Consume starts a manual-ack consumer with the given prefetch.
func (c *Client) Consume(queue, consumer string, prefetch int) (<-chan amqp.Delivery, error) {
	if err := c.ch.Qos(prefetch, 0, false); err != nil {
		return nil, err
	}
	return c.ch.Consume(queue, consumer, false, false, false, false, nil)
}

// publishChannel is the subset of *amqp.Channel the publisher needs.
type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher sends delivery events as persistent JSON messages.
type Publisher struct {
	ch       publishChannel
	exchange string
}

func NewPublisher(ch publishChannel, exchange string) *Publisher {
	return &Publisher{ch: ch, exchange: exchange}
}

func (p *Publisher) Publish(ctx context.Context, ev DeliveryEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal delivery event: %w", err)
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, ev.RoutingKey(), false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		ContentType:  "application/json",
		MessageId:    ev.DeliveryID + ":" + string(ev.Status),
		Type:         string(ev.Type),
		Body:         body,
	})
	if err != nil {
		metrics.EventsPublishedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("publish delivery event: %w", err)
	}
	metrics.EventsPublishedTotal.WithLabelValues("ok").Inc()
	return nil
}
