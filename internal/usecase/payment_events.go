package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/farmlink/market-api/internal/entity"
	"github.com/farmlink/market-api/internal/logging"
)

// MarkPaymentFailed cancels an order whose gateway transaction did not go through.
type MarkPaymentFailed struct {
	store   Store
	gateway PaymentGateway
	retry   RetryPolicy
	effects Effects
}

func NewMarkPaymentFailed(store Store, gw PaymentGateway, retry RetryPolicy, fx Effects) *MarkPaymentFailed {
	return &MarkPaymentFailed{store: store, gateway: gw, retry: retry, effects: fx}
}

func (uc *MarkPaymentFailed) Execute(ctx context.Context, reference string) (*domain.Order, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, validationf("reference is required")
	}
	if uc.gateway == nil {
		return nil, fmt.Errorf("%w: no gateway configured", ErrGateway)
	}
	tx, err := uc.gateway.Verify(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	if tx.Paid {
		return nil, fmt.Errorf("%w: transaction %s succeeded", domain.ErrInvalidTransition, reference)
	}
	orderID := strings.TrimSpace(tx.Metadata.OrderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: missing orderId", ErrInvalidMetadata)
	}

	var (
		order   *domain.Order
		changed bool
	)
	err = uc.retry.Do(ctx, "mark_payment_failed", func(ctx context.Context) error {
		changed = false
		return uc.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
			o, err := uc.store.Orders.GetByID(ctx, orderID)
			if errors.Is(err, domain.ErrNotFound) {
				return ErrOrderNotFound
			}
			if err != nil {
				return err
			}
			order = o
			if o.PaymentStatus == domain.PaymentFailed {
				return nil
			}
			if err := o.FailPayment(); err != nil {
				return err
			}
			o.UpdatedAt = time.Now().UTC()
			if err := uc.store.Orders.Update(ctx, o); err != nil {
				return err
			}
			changed = true
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if changed {
		logging.FromCtx(ctx).Info("payment failed, order cancelled", "order_id", order.ID, "reference", reference)
		uc.effects.statusChanged(ctx, order)
	}
	return order, nil
}

// PaymentEvents reconciles orders from gateway webhook events.
type PaymentEvents struct {
	verify *VerifyPayment
	failed *MarkPaymentFailed
}

func NewPaymentEvents(verify *VerifyPayment, failed *MarkPaymentFailed) *PaymentEvents {
	return &PaymentEvents{verify: verify, failed: failed}
}

// Handle returns an error only when redelivering the event could help.
func (h *PaymentEvents) Handle(ctx context.Context, msg PaymentEventMsg) error {
	log := logging.FromCtx(ctx).With("event", msg.Event, "reference", msg.Reference)
	var err error
	switch msg.Event {
	case PaymentEventChargeSuccess:
		_, err = h.verify.Execute(ctx, msg.Reference)
	case PaymentEventChargeFailed:
		_, err = h.failed.Execute(ctx, msg.Reference)
	default:
		log.Debug("payment event ignored")
		return nil
	}
	if err == nil {
		log.Info("payment event applied")
		return nil
	}
	if retryable(err) {
		return err
	}
	log.Warn("payment event rejected", "err", err)
	return nil
}

// PublishPaymentEvent dispatches in-process when no broker is configured.
func (h *PaymentEvents) PublishPaymentEvent(ctx context.Context, msg PaymentEventMsg) error {
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}
	return h.Handle(ctx, msg)
}

var _ PaymentEventQueue = (*PaymentEvents)(nil)

func retryable(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict) || errors.Is(err, ErrGateway) ||
		errors.Is(err, context.DeadlineExceeded)
}
