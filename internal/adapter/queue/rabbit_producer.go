package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/farmlink/market-api/internal/usecase"
)

const (
	DefaultExchange = "market.notifications"
	DefaultQueue    = "notifications.deliver.q"
	routingPrefix   = "notification."
)

var ErrNotConfirmed = errors.New("broker did not confirm publish")

// channel is the part of *amqp.Channel the producer uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Confirm(noWait bool) error
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
}

// RabbitNotifier implements usecase.Notifier by publishing to a topic exchange.
type RabbitNotifier struct {
	mu       sync.Mutex // an AMQP channel is not safe for concurrent publishes
	ch       channel
	exchange string
}

// NewRabbitNotifier sets up the exchange, queue, and binding once at startup.
func NewRabbitNotifier(ch channel, exchange, queue string) (*RabbitNotifier, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if queue == "" {
		queue = DefaultQueue
	}
	// 1. declare exchange (topic type, durable)
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	// 2. declare queue
	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	// 3. bind queue → exchange for every notification type
	if err := ch.QueueBind(q.Name, routingPrefix+"#", exchange, false, nil); err != nil {
		return nil, fmt.Errorf("queue bind: %w", err)
	}

	// 4. publisher confirms
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable confirm mode: %w", err)
	}

	return &RabbitNotifier{ch: ch, exchange: exchange}, nil
}

func (p *RabbitNotifier) Notify(ctx context.Context, msg usecase.NotificationMsg) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // survive broker restarts
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	p.mu.Lock()
	dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, routingPrefix+msg.Type, false, false, pub)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if dc == nil {
		return nil
	}
	ok, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm: %w", err)
	}
	if !ok {
		return ErrNotConfirmed
	}
	return nil
}

var _ usecase.Notifier = (*RabbitNotifier)(nil)
