package usecase

import (
	"context"
	"fmt"
	"time"

	domain "github.com/farmlink/market-api/internal/entity"
	"github.com/farmlink/market-api/internal/logging"
	"github.com/farmlink/market-api/internal/observ"
)

// Effects fans committed workflow results out to the best-effort sinks.
// Every field is optional and failures are only logged.
type Effects struct {
	Notifier Notifier
	Events   OrderEventPublisher
	Cache    OrderCache
}

func (e Effects) notify(ctx context.Context, msg NotificationMsg) {
	if e.Notifier == nil || msg.UserID == "" {
		return
	}
	if err := e.Notifier.Notify(ctx, msg); err != nil {
		observ.SideEffectFailures.WithLabelValues("notification").Inc()
		logging.FromCtx(ctx).Warn("notification dropped", "user_id", msg.UserID, "type", msg.Type, "err", err)
	}
}

func (e Effects) publish(ctx context.Context, typ string, o *domain.Order) {
	if e.Events == nil {
		return
	}
	msg := OrderEventMsg{
		Type:          typ,
		OrderID:       o.ID,
		BuyerID:       o.BuyerID,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		TotalPrice:    o.TotalPrice,
		OccurredAt:    time.Now().UTC(),
	}
	if err := e.Events.PublishOrderEvent(ctx, msg); err != nil {
		observ.SideEffectFailures.WithLabelValues("order_event").Inc()
		logging.FromCtx(ctx).Warn("order event dropped", "order_id", o.ID, "type", typ, "err", err)
	}
}

func (e Effects) invalidate(ctx context.Context, orderID string) {
	if e.Cache == nil {
		return
	}
	if err := e.Cache.Invalidate(ctx, orderID); err != nil {
		observ.SideEffectFailures.WithLabelValues("cache").Inc()
		logging.FromCtx(ctx).Warn("order cache invalidate failed", "order_id", orderID, "err", err)
	}
}

func orderLink(id string) string { return "/orders/" + id }

func (e Effects) orderPlaced(ctx context.Context, o *domain.Order) {
	meta := map[string]string{"orderId": o.ID}
	e.notify(ctx, NotificationMsg{
		UserID:   o.BuyerID,
		Title:    "Order placed",
		Message:  fmt.Sprintf("Your order %s has been placed.", o.OrderNumber()),
		Type:     string(domain.NotifyOrderUpdate),
		Link:     orderLink(o.ID),
		Metadata: meta,
	})
	for _, farmerID := range o.FarmerIDs() {
		e.notify(ctx, NotificationMsg{
			UserID:   farmerID,
			Title:    "New order",
			Message:  fmt.Sprintf("You have a new order %s.", o.OrderNumber()),
			Type:     string(domain.NotifyNewOrder),
			Link:     orderLink(o.ID),
			Metadata: meta,
		})
	}
	e.publish(ctx, EventOrderCreated, o)
	e.invalidate(ctx, o.ID)
}

func (e Effects) paymentConfirmed(ctx context.Context, o *domain.Order) {
	meta := map[string]string{"orderId": o.ID, "reference": o.TransactionReference}
	e.notify(ctx, NotificationMsg{
		UserID:   o.BuyerID,
		Title:    "Payment confirmed",
		Message:  fmt.Sprintf("Payment for order %s was received.", o.OrderNumber()),
		Type:     string(domain.NotifyPaymentConfirmation),
		Link:     orderLink(o.ID),
		Metadata: meta,
	})
	for _, farmerID := range o.FarmerIDs() {
		e.notify(ctx, NotificationMsg{
			UserID:   farmerID,
			Title:    "Payment received",
			Message:  fmt.Sprintf("Order %s has been paid and is ready for processing.", o.OrderNumber()),
			Type:     string(domain.NotifyPaymentReceived),
			Link:     orderLink(o.ID),
			Metadata: meta,
		})
	}
	e.publish(ctx, EventOrderPaid, o)
	e.invalidate(ctx, o.ID)
}

func (e Effects) statusChanged(ctx context.Context, o *domain.Order) {
	typ := domain.NotifyOrderUpdate
	title := "Order updated"
	msg := fmt.Sprintf("Order %s is now %s.", o.OrderNumber(), o.Status)
	if o.Status == domain.StatusCancelled {
		typ = domain.NotifyOrderCancel
		title = "Order cancelled"
		msg = fmt.Sprintf("Order %s has been cancelled.", o.OrderNumber())
	}
	e.notify(ctx, NotificationMsg{
		UserID:   o.BuyerID,
		Title:    title,
		Message:  msg,
		Type:     string(typ),
		Link:     orderLink(o.ID),
		Metadata: map[string]string{"orderId": o.ID, "status": string(o.Status)},
	})
	e.publish(ctx, EventOrderStatusChanged, o)
	e.invalidate(ctx, o.ID)
}
