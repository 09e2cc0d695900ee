package queue

import (
	"context"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes a single delivery. It should be idempotent.
// Return nil => ACK; return error => NACK (requeue unless the error is permanent).
type Handler interface {
	Handle(ctx context.Context, d amqp.Delivery) error
}

// ErrPermanent marks failures that redelivery cannot fix, such as undecodable bodies.
var ErrPermanent = errors.New("permanent failure")
