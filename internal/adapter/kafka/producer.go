package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/IBM/sarama"

	"github.com/farmlink/market-api/internal/logging"
	"github.com/farmlink/market-api/internal/observ"
	"github.com/farmlink/market-api/internal/usecase"
)

// OrderEventProducer publishes order events without blocking the request path.
// Delivery results are drained in the background.
type OrderEventProducer struct {
	producer sarama.AsyncProducer
	topic    string
	wg       sync.WaitGroup
}

func NewOrderEventProducer(p sarama.AsyncProducer, topic string) *OrderEventProducer {
	ep := &OrderEventProducer{producer: p, topic: topic}
	log := logging.New("kafka-producer")
	ep.wg.Add(2)
	go func() {
		defer ep.wg.Done()
		for err := range p.Errors() {
			observ.SideEffectFailures.WithLabelValues("order_event").Inc()
			log.Error("order event not delivered", "topic", err.Msg.Topic, "err", err.Err)
		}
	}()
	go func() {
		defer ep.wg.Done()
		for range p.Successes() {
		}
	}()
	return ep
}

func (p *OrderEventProducer) PublishOrderEvent(ctx context.Context, msg usecase.OrderEventMsg) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}
	m := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(msg.OrderID), // per-order ordering
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("type"), Value: []byte(msg.Type)},
		},
	}
	select {
	case p.producer.Input() <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes buffered messages and waits for the drain goroutines.
func (p *OrderEventProducer) Close() error {
	p.producer.AsyncClose()
	p.wg.Wait()
	return nil
}

var _ usecase.OrderEventPublisher = (*OrderEventProducer)(nil)

// PaymentEventPublisher hands webhook events to the reconciliation consumers.
// It is synchronous so the webhook only acknowledges stored events.
type PaymentEventPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewPaymentEventPublisher(p sarama.SyncProducer, topic string) *PaymentEventPublisher {
	return &PaymentEventPublisher{producer: p, topic: topic}
}

func (p *PaymentEventPublisher) PublishPaymentEvent(_ context.Context, msg usecase.PaymentEventMsg) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal payment event: %w", err)
	}
	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(msg.Reference),
		Value: sarama.ByteEncoder(body),
	})
	if err != nil {
		return fmt.Errorf("send payment event: %w", err)
	}
	return nil
}

func (p *PaymentEventPublisher) Close() error { return p.producer.Close() }

var _ usecase.PaymentEventQueue = (*PaymentEventPublisher)(nil)
