package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/farmlink/market-api/internal/entity"
	"github.com/farmlink/market-api/internal/logging"
	"github.com/farmlink/market-api/internal/observ"
)

type VerifyPaymentOutput struct {
	Order *domain.Order
	// AlreadyVerified is set when an earlier call completed the payment.
	AlreadyVerified bool
}

// VerifyPayment reconciles an order with the gateway's view of its transaction.
type VerifyPayment struct {
	store   Store
	gateway PaymentGateway
	retry   RetryPolicy
	effects Effects
}

func NewVerifyPayment(store Store, gw PaymentGateway, retry RetryPolicy, fx Effects) *VerifyPayment {
	return &VerifyPayment{store: store, gateway: gw, retry: retry, effects: fx}
}

func (uc *VerifyPayment) Execute(ctx context.Context, reference string) (VerifyPaymentOutput, error) {
	out, err := uc.execute(ctx, reference)
	observ.PaymentVerifications.WithLabelValues(verifyOutcome(out, err)).Inc()
	return out, err
}

func (uc *VerifyPayment) execute(ctx context.Context, reference string) (VerifyPaymentOutput, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return VerifyPaymentOutput{}, validationf("reference is required")
	}
	if uc.gateway == nil {
		return VerifyPaymentOutput{}, fmt.Errorf("%w: no gateway configured", ErrGateway)
	}
	tx, err := uc.gateway.Verify(ctx, reference)
	if err != nil {
		return VerifyPaymentOutput{}, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	if !tx.Paid {
		return VerifyPaymentOutput{}, fmt.Errorf("%w: transaction %s is %s", ErrGateway, reference, tx.Status)
	}
	// The order id is taken from the gateway, never from the caller.
	orderID := strings.TrimSpace(tx.Metadata.OrderID)
	if orderID == "" {
		return VerifyPaymentOutput{}, fmt.Errorf("%w: missing orderId", ErrInvalidMetadata)
	}

	details := domain.PaymentDetails{
		Reference:  reference,
		Channel:    tx.Channel,
		PaidAt:     tx.PaidAt,
		AmountPaid: tx.AmountMinor,
	}
	if details.PaidAt.IsZero() {
		details.PaidAt = time.Now().UTC()
	}

	var (
		order   *domain.Order
		already bool
	)
	err = uc.retry.Do(ctx, "verify_payment", func(ctx context.Context) error {
		already = false
		return uc.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
			o, noop, err := uc.settle(ctx, orderID, tx.Metadata.UserID, details)
			order, already = o, noop
			return err
		})
	})
	if err != nil {
		return VerifyPaymentOutput{}, err
	}
	if already {
		return VerifyPaymentOutput{Order: order, AlreadyVerified: true}, nil
	}

	logging.FromCtx(ctx).Info("payment verified",
		"order_id", order.ID, "reference", reference, "amount", tx.AmountMinor, "channel", tx.Channel)
	uc.effects.paymentConfirmed(ctx, order)
	return VerifyPaymentOutput{Order: order}, nil
}

func (uc *VerifyPayment) settle(ctx context.Context, orderID, metaUserID string, p domain.PaymentDetails) (*domain.Order, bool, error) {
	o, err := uc.store.Orders.GetByID(ctx, orderID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, false, ErrOrderNotFound
	}
	if err != nil {
		return nil, false, err
	}
	if metaUserID != "" && metaUserID != o.BuyerID {
		return nil, false, fmt.Errorf("%w: order %s does not belong to the paying user", ErrInvalidMetadata, o.ID)
	}
	if p.AmountPaid < o.TotalPrice {
		return nil, false, fmt.Errorf("%w: paid %d, total %d", ErrAmountMismatch, p.AmountPaid, o.TotalPrice)
	}
	if o.PaymentStatus == domain.PaymentCompleted {
		return o, true, nil
	}
	// a closed order takes no stock; the payment has to be refunded out of band
	if o.Status.Terminal() {
		return nil, false, fmt.Errorf("%w: order %s is %s, payment %s needs a refund",
			domain.ErrInvalidTransition, o.ID, o.Status, p.Reference)
	}

	if err := o.CompletePayment(p); err != nil {
		return nil, false, err
	}
	o.UpdatedAt = time.Now().UTC()
	if err := uc.store.Orders.Update(ctx, o); err != nil {
		return nil, false, err
	}
	if err := uc.store.Carts.DeleteByUser(ctx, o.BuyerID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}
	for _, it := range o.Items {
		prod, err := uc.store.Products.GetByID(ctx, it.ProductID)
		if errors.Is(err, domain.ErrNotFound) {
			logging.FromCtx(ctx).Warn("paid order references a removed product", "order_id", o.ID, "product_id", it.ProductID)
			continue
		}
		if err != nil {
			return nil, false, err
		}
		// Stock was never held for gateway orders; a sell-out since checkout aborts the settlement.
		if prod.Quantity < it.Quantity {
			return nil, false, &OutOfStockError{ProductID: prod.ID, Requested: it.Quantity, Available: prod.Quantity}
		}
		if err := uc.store.Products.DecrementStock(ctx, prod.ID, it.Quantity, prod.Version); err != nil {
			return nil, false, err
		}
	}
	return o, false, nil
}

func verifyOutcome(out VerifyPaymentOutput, err error) string {
	var conflict *ConflictError
	switch {
	case err == nil && out.AlreadyVerified:
		return "already_verified"
	case err == nil:
		return "verified"
	case errors.Is(err, ErrAmountMismatch):
		return "amount_mismatch"
	case errors.Is(err, ErrInvalidMetadata):
		return "invalid_metadata"
	case errors.Is(err, ErrGateway):
		return "gateway_error"
	case errors.Is(err, ErrOrderNotFound):
		return "not_found"
	case errors.Is(err, ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "order_closed"
	case errors.As(err, &conflict):
		return "conflict"
	}
	return "error"
}
