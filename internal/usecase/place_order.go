package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/farmlink/market-api/internal/entity"
	"github.com/farmlink/market-api/internal/logging"
	"github.com/farmlink/market-api/internal/observ"
)

type PlaceOrderInput struct {
	UserID         string
	Email          string
	Shipping       domain.ShippingAddress
	PaymentMethod  string
	IdempotencyKey string
}

type PlaceOrderOutput struct {
	Order       *domain.Order
	RedirectURL string
	AccessCode  string
	Replayed    bool
}

// PlaceOrder converts the buyer's cart into an order.
type PlaceOrder struct {
	store       Store
	gateway     PaymentGateway
	idem        IdempotencyStore
	retry       RetryPolicy
	effects     Effects
	callbackURL string
	now         func() time.Time
}

type PlaceOrderOption func(*PlaceOrder)

func WithIdempotency(s IdempotencyStore) PlaceOrderOption {
	return func(uc *PlaceOrder) { uc.idem = s }
}

func WithCallbackURL(u string) PlaceOrderOption {
	return func(uc *PlaceOrder) { uc.callbackURL = u }
}

func NewPlaceOrder(store Store, gw PaymentGateway, retry RetryPolicy, fx Effects, opts ...PlaceOrderOption) *PlaceOrder {
	uc := &PlaceOrder{store: store, gateway: gw, retry: retry, effects: fx, now: time.Now}
	for _, o := range opts {
		o(uc)
	}
	return uc
}

const (
	idemScopeOrders = "orders"
	releaseTimeout  = 2 * time.Second
)

// placeAttempt carries state across retries of one createOrder call.
type placeAttempt struct {
	id   string
	init *InitializeResult
	// amount the gateway checkout was opened for
	initAmount int64
}

func (uc *PlaceOrder) Execute(ctx context.Context, in PlaceOrderInput) (PlaceOrderOutput, error) {
	method, err := uc.validate(in)
	if err != nil {
		return PlaceOrderOutput{}, err
	}

	key := ""
	if uc.idem != nil && in.IdempotencyKey != "" {
		key = in.UserID + ":" + in.IdempotencyKey
		// Fast path: a finished request with the same key
		if id, ok, _ := uc.idem.Recall(ctx, idemScopeOrders, key); ok {
			o, err := uc.store.Orders.GetByID(ctx, id)
			if err == nil {
				return PlaceOrderOutput{Order: o, Replayed: true}, nil
			}
			logging.FromCtx(ctx).Warn("idempotent replay lookup failed", "order_id", id, "err", err)
		}
		ok, err := uc.idem.TryLock(ctx, idemScopeOrders, key)
		if err != nil {
			return PlaceOrderOutput{}, err
		}
		if !ok {
			return PlaceOrderOutput{}, ErrDuplicateRequest
		}
	}

	// one id for every attempt, so a retried gateway checkout keeps its reference
	att := &placeAttempt{id: uuid.NewString()}
	var out PlaceOrderOutput
	err = uc.retry.Do(ctx, "place_order", func(ctx context.Context) error {
		out = PlaceOrderOutput{}
		return uc.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
			var err error
			out, err = uc.place(ctx, in, method, att)
			return err
		})
	})
	if err != nil {
		if key != "" {
			uc.release(ctx, key)
		}
		return PlaceOrderOutput{}, err
	}

	if key != "" {
		if err := uc.idem.Remember(ctx, idemScopeOrders, key, out.Order.ID); err != nil {
			logging.FromCtx(ctx).Warn("idempotency remember failed", "order_id", out.Order.ID, "err", err)
		}
	}
	observ.OrdersCreated.WithLabelValues(string(method)).Inc()
	logging.FromCtx(ctx).Info("order placed",
		"order_id", out.Order.ID, "method", method, "total", out.Order.TotalPrice, "status", out.Order.Status)
	uc.effects.orderPlaced(ctx, out.Order)
	return out, nil
}

// release frees the idempotency lock even when the request context is already done.
func (uc *PlaceOrder) release(ctx context.Context, key string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := uc.idem.Release(rctx, idemScopeOrders, key); err != nil {
		logging.FromCtx(ctx).Warn("idempotency release failed", "err", err)
	}
}

func (uc *PlaceOrder) validate(in PlaceOrderInput) (domain.PaymentMethod, error) {
	if in.UserID == "" {
		return "", ErrUnauthorized
	}
	method, ok := domain.ParsePaymentMethod(in.PaymentMethod)
	if !ok {
		return "", validationf("unsupported payment method %q", in.PaymentMethod)
	}
	if err := in.Shipping.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if method == domain.PaymentGateway {
		if uc.gateway == nil {
			return "", validationf("payment method %s is not available", method)
		}
		if strings.TrimSpace(in.Email) == "" {
			return "", validationf("email is required for online payment")
		}
	}
	return method, nil
}

// place is one attempt of the atomic unit; any error aborts the whole transaction.
func (uc *PlaceOrder) place(ctx context.Context, in PlaceOrderInput, method domain.PaymentMethod, att *placeAttempt) (PlaceOrderOutput, error) {
	cart, err := uc.store.Carts.GetByUser(ctx, in.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return PlaceOrderOutput{}, ErrCartEmpty
	}
	if err != nil {
		return PlaceOrderOutput{}, err
	}
	if len(cart.Items) == 0 {
		return PlaceOrderOutput{}, ErrCartEmpty
	}

	products := make([]*domain.Product, 0, len(cart.Items))
	items := make([]domain.OrderItem, 0, len(cart.Items))
	var total int64
	for _, line := range cart.Items {
		p, err := uc.store.Products.GetByID(ctx, line.ProductID)
		if errors.Is(err, domain.ErrNotFound) {
			return PlaceOrderOutput{}, fmt.Errorf("%w: %s", ErrProductUnavailable, line.ProductID)
		}
		if err != nil {
			return PlaceOrderOutput{}, err
		}
		if p.Quantity < line.Quantity {
			return PlaceOrderOutput{}, &OutOfStockError{ProductID: p.ID, Requested: line.Quantity, Available: p.Quantity}
		}
		products = append(products, p)
		items = append(items, domain.OrderItem{
			ProductID:       p.ID,
			FarmerID:        p.FarmerID,
			Quantity:        line.Quantity,
			PriceAtPurchase: p.Price,
		})
		total += p.Price * line.Quantity
	}

	now := uc.now().UTC()
	id := att.id
	order := &domain.Order{
		ID:                   id,
		BuyerID:              in.UserID,
		Items:                items,
		TotalPrice:           total,
		Shipping:             in.Shipping,
		PaymentMethod:        method,
		Status:               domain.StatusPending,
		PaymentStatus:        domain.PaymentPending,
		TransactionReference: domain.ReferenceFor(id),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if method == domain.PaymentCashOnDelivery {
		if err := order.TransitionTo(domain.StatusProcessing); err != nil {
			return PlaceOrderOutput{}, err
		}
	}
	if err := uc.store.Orders.Create(ctx, order); err != nil {
		return PlaceOrderOutput{}, err
	}

	out := PlaceOrderOutput{Order: order}
	switch method {
	case domain.PaymentGateway:
		// Stock is only checked here; it is decremented once the payment is verified.
		// A checkout opened by an earlier attempt is reused while the amount still matches.
		if att.init == nil || att.initAmount != total {
			res, err := uc.gateway.Initialize(ctx, InitializeRequest{
				Email:       in.Email,
				AmountMinor: total,
				Reference:   order.TransactionReference,
				CallbackURL: uc.callbackURL,
				Metadata:    PaymentMetadata{OrderID: order.ID, UserID: in.UserID},
			})
			if err != nil {
				return PlaceOrderOutput{}, fmt.Errorf("%w: %v", ErrPaymentInit, err)
			}
			att.init, att.initAmount = &res, total
		}
		out.RedirectURL = att.init.RedirectURL
		out.AccessCode = att.init.AccessCode
	case domain.PaymentCashOnDelivery:
		for i, p := range products {
			if err := uc.store.Products.DecrementStock(ctx, p.ID, items[i].Quantity, p.Version); err != nil {
				return PlaceOrderOutput{}, err
			}
		}
		if err := uc.store.Carts.DeleteByUser(ctx, in.UserID); err != nil {
			return PlaceOrderOutput{}, err
		}
	case domain.PaymentBankTransfer:
		// awaits manual confirmation
	}
	return out, nil
}
