// Package rabbitmq publishes registration lifecycle events to a durable
// topic exchange. Publishing is best-effort: the engine never fails a
// committed operation because the broker was unavailable.
package rabbitmq

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Exchange is the topic exchange all registration events go to.
const Exchange = "registration_events"

// SubscriptionEvent is the payload published on subscribe, fund and
// status-change operations.
type SubscriptionEvent struct {
	SubscriptionID string    `json:"subscription_id"`
	OfferingID     string    `json:"offering_id"`
	SubscriberID   string    `json:"subscriber_id"`
	Status         string    `json:"status"`
	Amount         int64     `json:"amount"`
	Timestamp      time.Time `json:"timestamp"`
}

// Publisher is implemented by types that can publish subscription events.
type Publisher interface {
	PublishSubscriptionEvent(ctx context.Context, routingKey string, event SubscriptionEvent) error
	Close()
}

// Producer holds the AMQP connection and channel for publishing.
type Producer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

// NewProducer dials the broker, opens a channel and declares the
// exchange. The dial timeout is bounded so startup cannot hang.
func NewProducer(amqpURL string) (*Producer, error) {
	conn, err := amqp091.DialConfig(amqpURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &Producer{conn: conn, channel: ch}, nil
}

// PublishSubscriptionEvent sends one event to the registration exchange.
func (p *Producer) PublishSubscriptionEvent(ctx context.Context, routingKey string, event SubscriptionEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	err = p.channel.PublishWithContext(ctx,
		Exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        body,
		},
	)
	if err == nil {
		return nil
	}
	// One-shot retry on a fresh channel; a closed channel is the usual
	// failure after a broker restart.
	ch, chErr := p.conn.Channel()
	if chErr != nil {
		return err
	}
	p.channel = ch
	return p.channel.PublishWithContext(ctx,
		Exchange, routingKey, false, false,
		amqp091.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        body,
		},
	)
}

// Close gracefully closes the channel and connection.
func (p *Producer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// NopPublisher is used when no broker is configured or reachable at
// startup; publishes are logged and dropped.
type NopPublisher struct {
	Logger *slog.Logger
}

func (p *NopPublisher) PublishSubscriptionEvent(ctx context.Context, routingKey string, event SubscriptionEvent) error {
	if p.Logger != nil {
		p.Logger.Debug("event publish skipped, no broker configured",
			"routing_key", routingKey, "subscription_id", event.SubscriptionID)
	}
	return nil
}

func (p *NopPublisher) Close() {}
