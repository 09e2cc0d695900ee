package usecase

import (
	"context"
	"errors"
	"time"

	domain "github.com/farmlink/market-api/internal/entity"
	"github.com/farmlink/market-api/internal/logging"
)

type UpdateOrderStatusInput struct {
	OrderID string
	ActorID string
	Status  string
}

// UpdateOrderStatus lets a farmer with a line in the order move it along the fulfilment flow.
type UpdateOrderStatus struct {
	orders  OrderRepo
	tx      TxRunner
	retry   RetryPolicy
	effects Effects
}

func NewUpdateOrderStatus(store Store, retry RetryPolicy, fx Effects) *UpdateOrderStatus {
	return &UpdateOrderStatus{orders: store.Orders, tx: store.Tx, retry: retry, effects: fx}
}

func (uc *UpdateOrderStatus) Execute(ctx context.Context, in UpdateOrderStatusInput) (*domain.Order, error) {
	next, ok := domain.ParseStatus(in.Status)
	if !ok || next == domain.StatusPending {
		return nil, validationf("status must be one of processing, shipped, delivered, cancelled")
	}
	if in.ActorID == "" {
		return nil, ErrUnauthorized
	}

	var order *domain.Order
	err := uc.retry.Do(ctx, "update_order_status", func(ctx context.Context) error {
		return uc.tx.WithinTx(ctx, func(ctx context.Context) error {
			o, err := uc.orders.GetByID(ctx, in.OrderID)
			if errors.Is(err, domain.ErrNotFound) {
				return ErrOrderNotFound
			}
			if err != nil {
				return err
			}
			if !o.HasFarmer(in.ActorID) {
				return ErrForbidden
			}
			if err := o.TransitionTo(next); err != nil {
				return err
			}
			o.UpdatedAt = time.Now().UTC()
			if err := uc.orders.Update(ctx, o); err != nil {
				return err
			}
			order = o
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	logging.FromCtx(ctx).Info("order status updated", "order_id", order.ID, "status", order.Status, "actor_id", in.ActorID)
	uc.effects.statusChanged(ctx, order)
	return order, nil
}
