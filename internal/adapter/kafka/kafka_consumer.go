package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/farmlink/market-api/internal/logging"
	"github.com/farmlink/market-api/internal/usecase"
)

// HandlerFunc processes a decoded payment event.
type HandlerFunc func(ctx context.Context, ev usecase.PaymentEventMsg) error

// Consumer consumes a topic with a single handler.
type Consumer struct {
	Group    sarama.ConsumerGroup
	Topics   []string
	Handle   HandlerFunc
	Attempts int           // per message before it is skipped
	Backoff  time.Duration // between attempts
	Logger   *slog.Logger
}

func NewConsumer(group sarama.ConsumerGroup, topics []string, h HandlerFunc) *Consumer {
	return &Consumer{
		Group:    group,
		Topics:   topics,
		Handle:   h,
		Attempts: 3,
		Backoff:  time.Second,
		Logger:   logging.New("kafka-consumer"),
	}
}

// Start blocks until ctx is cancelled or the group fails.
func (c *Consumer) Start(ctx context.Context) error {
	handler := &cgHandler{handle: c.Handle, attempts: c.Attempts, backoff: c.Backoff, logger: c.Logger}
	for {
		if err := c.Group.Consume(ctx, c.Topics, handler); err != nil {
			return err
		}
		// When Consume returns, it’s because ctx was cancelled or a rebalance happened.
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

type cgHandler struct {
	handle   HandlerFunc
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
}

func (h *cgHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *cgHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *cgHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		log := h.logger.With("topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "key", string(msg.Key))
		var ev usecase.PaymentEventMsg
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			log.Warn("kafka decode error", "err", err)
			// mark to avoid reprocessing poison
			sess.MarkMessage(msg, "decode-error")
			continue
		}
		ctx := logging.WithCtx(sess.Context(), log)
		if err := h.process(ctx, ev); err != nil {
			if sess.Context().Err() != nil {
				// leave it unmarked for whoever owns the partition next
				return nil
			}
			log.Error("giving up on event", "err", err, "event", ev.Event, "reference", ev.Reference)
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}

func (h *cgHandler) process(ctx context.Context, ev usecase.PaymentEventMsg) error {
	attempts := h.attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = h.handle(ctx, ev); err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		logging.FromCtx(ctx).Warn("handler error, retrying", "err", err, "attempt", i)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i) * h.backoff):
		}
	}
	return err
}
