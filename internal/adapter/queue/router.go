package queue

import (
	"context"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/farmlink/market-api/internal/logging"
)

// Router manages multiple consumers (one per registered queue) on a single AMQP channel.
type Router struct {
	ch            *amqp.Channel
	prefetch      int
	callTimeout   time.Duration
	requeueOnErr  bool
	registrations []registration
	permanent     []error
}

type registration struct {
	queueName   string
	handler     Handler
	consumerTag string
}

// --- Options ---

type RouterOption func(*Router)

func WithPrefetch(n int) RouterOption          { return func(r *Router) { r.prefetch = n } }
func WithTimeout(d time.Duration) RouterOption { return func(r *Router) { r.callTimeout = d } }
func WithRequeue(b bool) RouterOption          { return func(r *Router) { r.requeueOnErr = b } }

// WithPermanent adds errors that are dropped instead of requeued.
func WithPermanent(errs ...error) RouterOption {
	return func(r *Router) { r.permanent = append(r.permanent, errs...) }
}

// NewRouter constructs a Router. Defaults: prefetch=50, timeout=10s, requeueOnErr=true.
func NewRouter(ch *amqp.Channel, opts ...RouterOption) *Router {
	r := &Router{
		ch:           ch,
		prefetch:     50,
		callTimeout:  10 * time.Second,
		requeueOnErr: true,
		permanent:    []error{ErrPermanent},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register associates a queue with a handler. Call multiple times for multiple queues.
func (r *Router) Register(queueName string, h Handler) {
	r.registrations = append(r.registrations, registration{
		queueName:   queueName,
		handler:     h,
		consumerTag: "c_" + queueName,
	})
}

// Start begins consuming; non-blocking (spawns one goroutine per queue).
// Consumers stop when ctx ends or the channel closes.
func (r *Router) Start(ctx context.Context) error {
	if err := r.ch.Qos(r.prefetch, 0, false); err != nil {
		return err
	}

	for _, reg := range r.registrations {
		deliveries, err := r.ch.ConsumeWithContext(
			ctx,
			reg.queueName,
			reg.consumerTag,
			false, // manual ack
			false, // exclusive
			false, // no-local
			false, // no-wait
			nil,
		)
		if err != nil {
			return err
		}

		go func(reg registration, msgs <-chan amqp.Delivery) {
			log := logging.New("rmq-router").With("queue", reg.queueName, "tag", reg.consumerTag)
			for d := range msgs {
				r.dispatch(ctx, reg.handler, d)
			}
			log.Info("consumer stopped")
		}(reg, deliveries)
	}

	return nil
}

func (r *Router) dispatch(parent context.Context, h Handler, d amqp.Delivery) {
	ctx, cancel := context.WithTimeout(parent, r.callTimeout)
	defer cancel()
	log := logging.New("rmq-router").With("rk", d.RoutingKey, "msg_id", d.MessageId)
	ctx = logging.WithCtx(ctx, log)

	err := h.Handle(ctx, d)
	if err == nil {
		_ = d.Ack(false)
		return
	}
	requeue := r.requeueOnErr && !r.isPermanent(err) && !d.Redelivered
	log.Error("handler error", "err", err, "requeue", requeue)
	_ = d.Nack(false, requeue)
}

func (r *Router) isPermanent(err error) bool {
	for _, p := range r.permanent {
		if errors.Is(err, p) {
			return true
		}
	}
	return false
}
