package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/restaurant-floor/models"
	"github.com/yeremiapane/restaurant-floor/utils"
)

const source = "restaurant-floor"

// Publisher forwards committed floor events to a topic exchange so that
// kitchen, billing and reporting consumers can follow the floor.
type Publisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	mu       sync.Mutex
}

// NewPublisher dials the broker and declares a durable topic exchange.
func NewPublisher(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	utils.InfoLogger.WithField("exchange", exchange).Info("AMQP publisher ready")
	return &Publisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// RoutingKey is floor.<operation type>.<branch>, e.g. floor.session_start.b1.
func RoutingKey(event models.FloorEvent) string {
	branch := event.Operation.BranchID
	if branch == "" {
		branch = "default"
	}
	return fmt.Sprintf("floor.%s.%s", event.Operation.Type, branch)
}

func buildMessage(event models.FloorEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal floor event: %w", err)
	}
	ts := event.Operation.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return amqp.Publishing{
		DeliveryMode:  amqp.Persistent,
		ContentType:   "application/json",
		MessageId:     event.Operation.Ref,
		CorrelationId: fmt.Sprintf("table-%d", event.Operation.TableID),
		Timestamp:     ts.UTC(),
		Type:          event.Operation.Type,
		Headers: amqp.Table{
			"x-source": source,
		},
		Body: body,
	}, nil
}

// Notify publishes the event. Channels are not safe for concurrent publish,
// so calls are serialized.
func (p *Publisher) Notify(ctx context.Context, event models.FloorEvent) error {
	msg, err := buildMessage(event)
	if err != nil {
		return err
	}
	key := RoutingKey(event)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, p.exchange, key, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	utils.InfoLogger.WithFields(logrus.Fields{
		"exchange": p.exchange,
		"key":      key,
		"ref":      msg.MessageId,
	}).Debug("Floor event published")
	return nil
}

// Ping reports whether the broker connection is still open.
func (p *Publisher) Ping() error {
	if p.conn == nil || p.conn.IsClosed() {
		return fmt.Errorf("amqp connection is closed")
	}
	return nil
}

func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
