// Package rabbitmq publishes billing domain events to a durable topic exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tradejournal/billing/pkg/config"
)

const (
	RoutingKeySubscriptionActivated = "subscription.activated"
	RoutingKeySubscriptionCanceled  = "subscription.canceled"
)

// SubscriptionEvent is the payload of subscription lifecycle events.
type SubscriptionEvent struct {
	SubscriptionID string    `json:"subscription_id"`
	UserID         string    `json:"user_id"`
	PlanType       string    `json:"plan_type"`
	Amount         string    `json:"amount"`
	Free           bool      `json:"free"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, routingKey string, body any) error
	Close()
}

// NopPublisher is used when no broker URL is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }
func (NopPublisher) Close()                                     {}

// EventProducer holds one connection and channel. Publishes are serialized
// because an amqp channel is not safe for concurrent use.
type EventProducer struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
}

func validateURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

func NewEventProducer(amqpURL, exchange string) (*EventProducer, error) {
	cleanURL, err := validateURL(amqpURL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &EventProducer{conn: conn, channel: ch, exchange: exchange}, nil
}

func (p *EventProducer) Publish(ctx context.Context, routingKey string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", routingKey, err)
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Body:         payload,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
	if err == nil || p.conn.IsClosed() {
		return err
	}
	// channel closed by the broker (e.g. after a channel-level error): reopen once
	ch, chErr := p.conn.Channel()
	if chErr != nil {
		return errors.Join(err, chErr)
	}
	p.channel = ch
	return p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
}

func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// NewPublisher connects to the broker, falling back to NopPublisher when no
// URL is configured or the broker is unreachable at startup.
func NewPublisher(lc fx.Lifecycle, l *zap.SugaredLogger, cfg *config.Config) Publisher {
	if cfg.RabbitMQ.URL == "" {
		l.Infow("rabbitmq not configured, events disabled")
		return NopPublisher{}
	}
	producer, err := NewEventProducer(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
	if err != nil {
		l.Warnw("rabbitmq unavailable, events disabled", "err", err)
		return NopPublisher{}
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			producer.Close()
			return nil
		},
	})
	l.Infow("rabbitmq producer ready", "exchange", cfg.RabbitMQ.Exchange)
	return producer
}

var Module = fx.Options(
	fx.Provide(NewPublisher),
)
