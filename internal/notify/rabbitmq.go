package notify

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/marco-scarnato/greenhouse-dt-module/internal/plant"
)

// Channel is the subset of *amqp.Channel used by the publisher.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitPublisher publishes status change events to a topic exchange.
type RabbitPublisher struct {
	channel    Channel
	exchange   string
	routingKey string
}

// NewRabbitPublisher opens a channel on conn and declares a durable topic exchange.
func NewRabbitPublisher(conn *amqp.Connection, exchange, routingKey string) (*RabbitPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return newRabbitPublisher(ch, exchange, routingKey), nil
}

func newRabbitPublisher(ch Channel, exchange, routingKey string) *RabbitPublisher {
	return &RabbitPublisher{channel: ch, exchange: exchange, routingKey: routingKey}
}

// PublishStatusChange sends event as a persistent JSON message.
func (p *RabbitPublisher) PublishStatusChange(ctx context.Context, event plant.StatusChanged) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx,
		p.exchange,
		p.routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    event.ChangedAt,
			Type:         "plant.status_changed",
			Body:         body,
		},
	)
}

// Close closes the underlying channel.
func (p *RabbitPublisher) Close() error {
	return p.channel.Close()
}
