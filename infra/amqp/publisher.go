// Package amqp publishes order lifecycle events to a RabbitMQ topic exchange.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kilianp07/courierd/core/events"
	"github.com/kilianp07/courierd/core/model"
	coremon "github.com/kilianp07/courierd/core/monitoring"
	"github.com/kilianp07/courierd/infra/logger"
)

const DefaultExchange = "courierd.orders"

// Config defines the broker connection.
type Config struct {
	URL      string `json:"url"`
	Exchange string `json:"exchange"`
}

// Enabled reports whether a broker is configured.
func (c Config) Enabled() bool { return c.URL != "" }

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// OrderMessage is the body of a published order event.
type OrderMessage struct {
	EventID   string            `json:"event_id"`
	OrderID   int64             `json:"order_id"`
	From      model.OrderStatus `json:"from,omitempty"`
	Status    model.OrderStatus `json:"status"`
	DriverID  string            `json:"driver_id,omitempty"`
	ActorID   string            `json:"actor_id"`
	ActorRole model.Role        `json:"actor_role"`
	Time      time.Time         `json:"time"`
	Order     model.Order       `json:"order"`
}

// Publisher sends order events with routing key order.created or order.<status>.
type Publisher struct {
	ch       channel
	close    func() error
	exchange string
	logger   logger.Logger
}

// Dial connects to the broker and declares a durable topic exchange.
func Dial(cfg Config, log logger.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	p, err := NewPublisher(ch, exchange, log)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.close = func() error {
		if err := ch.Close(); err != nil && !conn.IsClosed() {
			return fmt.Errorf("close rabbitmq channel: %w", err)
		}
		if !conn.IsClosed() {
			return conn.Close()
		}
		return nil
	}
	return p, nil
}

// NewPublisher wraps an already open channel.
func NewPublisher(ch channel, exchange string, log logger.Logger) (*Publisher, error) {
	if ch == nil {
		return nil, fmt.Errorf("channel is nil")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &Publisher{ch: ch, close: ch.Close, exchange: exchange, logger: log}, nil
}

// RoutingKey returns the key an event is published under.
func RoutingKey(ev events.OrderEvent) string {
	if ev.Created() {
		return "order.created"
	}
	return "order." + string(ev.Order.Status)
}

func priority(p model.Priority) uint8 {
	switch p {
	case model.PriorityUrgent:
		return 9
	case model.PriorityHigh:
		return 6
	case model.PriorityLow:
		return 1
	default:
		return 3
	}
}

// Publish sends one event.
func (p *Publisher) Publish(ctx context.Context, ev events.OrderEvent) error {
	msg := OrderMessage{
		EventID:   uuid.NewString(),
		OrderID:   ev.Order.ID,
		From:      ev.From,
		Status:    ev.Order.Status,
		DriverID:  ev.Order.AssignedDriverID,
		ActorID:   ev.Actor.ID,
		ActorRole: ev.Actor.Role,
		Time:      ev.Time,
		Order:     ev.Order,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(ev), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Priority:     priority(ev.Order.Priority),
		MessageId:    msg.EventID,
		Timestamp:    ev.Time,
		Body:         body,
	})
}

// Run publishes every event received on sub until ctx is done or sub closes.
func (p *Publisher) Run(ctx context.Context, sub <-chan events.OrderEvent) {
	defer coremon.Recover()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := p.Publish(pctx, ev)
			cancel()
			if err != nil {
				p.logger.Errorf("publish order %d event: %v", ev.Order.ID, err)
				coremon.CaptureException(err, map[string]string{"module": "amqp", "routing_key": RoutingKey(ev)})
			}
		}
	}
}

// Close releases the channel and connection.
func (p *Publisher) Close() error {
	if p.close == nil {
		return nil
	}
	return p.close()
}
