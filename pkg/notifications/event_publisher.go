package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/markus-lassfolk/locnotifier/pkg"
	"github.com/markus-lassfolk/locnotifier/pkg/logx"
)

// EventTypeArrival tags arrival alerts on the event exchange
const EventTypeArrival = "arrival_alert"

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// EventPublisher fans arrival alerts out on a RabbitMQ exchange for other consumers
type EventPublisher struct {
	conn     *amqp.Connection
	ch       amqpChannel
	exchange string
	logger   *logx.Logger
	now      func() time.Time
}

type alertEvent struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Insistent bool   `json:"insistent"`
	Timestamp int64  `json:"timestamp"`
}

// DialEventPublisher connects to the broker and declares a durable fanout exchange
func DialEventPublisher(config RabbitMQConfig, logger *logx.Logger) (*EventPublisher, error) {
	conn, err := amqp.Dial(config.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq connect: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	exchange := config.Exchange
	if exchange == "" {
		exchange = defaultExchange
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	p := newEventPublisher(ch, exchange, logger)
	p.conn = conn
	return p, nil
}

func newEventPublisher(ch amqpChannel, exchange string, logger *logx.Logger) *EventPublisher {
	return &EventPublisher{
		ch:       ch,
		exchange: exchange,
		logger:   logger,
		now:      time.Now,
	}
}

func (p *EventPublisher) Name() string { return "rabbitmq" }

// Send publishes the alert as a persistent JSON message
func (p *EventPublisher) Send(ctx context.Context, alert pkg.Alert) error {
	body, err := json.Marshal(alertEvent{
		Type:      EventTypeArrival,
		Title:     alert.Title,
		Body:      alert.Body,
		Insistent: alert.Insistent,
		Timestamp: p.now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    p.now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}

	p.logger.Debug("Arrival event published", "exchange", p.exchange, "size", len(body))
	return nil
}

// Close releases the channel and the connection
func (p *EventPublisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
