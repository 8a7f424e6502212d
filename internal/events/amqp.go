package events

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	// ExchangeName is the durable topic exchange scheduling outcomes are
	// published to; consumers bind with the event type as routing key.
	ExchangeName = "citycare.appointments"

	confirmTimeout = 5 * time.Second
)

// AMQPPublisher pushes committed scheduling events onto RabbitMQ. It is used
// by the outbox relay, not by the request path.
type AMQPPublisher struct {
	ch       *amqp.Channel
	confirms chan amqp.Confirmation
	log      *zap.Logger
}

// NewAMQPPublisher opens a channel, declares the exchange, and enables
// publisher confirms so the relay only marks rows published once the broker
// has accepted them.
func NewAMQPPublisher(conn *amqp.Connection, log *zap.Logger) (*AMQPPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		ExchangeName, // name
		"topic",      // kind
		true,         // durable
		false,        // autoDelete
		false,        // internal
		false,        // noWait
		nil,          // args
	)
	if err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	return &AMQPPublisher{
		ch:       ch,
		confirms: ch.NotifyPublish(make(chan amqp.Confirmation, 1)),
		log:      log,
	}, nil
}

// PublishEvent publishes one JSON payload with the event type as routing key
// and waits for the broker confirmation.
func (p *AMQPPublisher) PublishEvent(ctx context.Context, eventType string, payload []byte) error {
	err := p.ch.PublishWithContext(ctx,
		ExchangeName, // exchange
		eventType,    // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Type:         eventType,
			Body:         payload,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}

	select {
	case confirm := <-p.confirms:
		if !confirm.Ack {
			return fmt.Errorf("publish %s: broker nacked delivery %d", eventType, confirm.DeliveryTag)
		}
	case <-time.After(confirmTimeout):
		return fmt.Errorf("publish %s: confirm timeout", eventType)
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (p *AMQPPublisher) Close() error {
	return p.ch.Close()
}
