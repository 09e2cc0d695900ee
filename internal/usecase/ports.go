package usecase

import (
	"context"
	"time"

	domain "github.com/farmlink/market-api/internal/entity"
)

// TxRunner runs fn as one atomic unit. Repositories called with the ctx passed to fn
// join that unit; a nested WithinTx joins the outer one.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type ProductRepo interface {
	Create(ctx context.Context, p *domain.Product) error
	GetByID(ctx context.Context, id string) (*domain.Product, error)
	// DecrementStock subtracts qty if the record is still at version and has enough stock,
	// otherwise it returns domain.ErrConflict.
	DecrementStock(ctx context.Context, id string, qty, version int64) error
	IncrementStock(ctx context.Context, id string, qty, version int64) error
	// Update writes name, price and quantity if p.Version still matches; p.Version is bumped.
	Update(ctx context.Context, p *domain.Product) error
	Delete(ctx context.Context, id string) error
	// List returns every product, newest first.
	List(ctx context.Context) ([]domain.Product, error)
	ListByFarmer(ctx context.Context, farmerID string) ([]domain.Product, error)
}

type CartRepo interface {
	GetByUser(ctx context.Context, userID string) (*domain.Cart, error)
	// Save inserts a cart with Version 0 or compare-and-swaps an existing one; c.Version is bumped.
	Save(ctx context.Context, c *domain.Cart) error
	DeleteByUser(ctx context.Context, userID string) error
}

type OrderRepo interface {
	Create(ctx context.Context, o *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	// Update writes the mutable fields if o.Version still matches; o.Version is bumped.
	Update(ctx context.Context, o *domain.Order) error
	ListByBuyer(ctx context.Context, buyerID string) ([]domain.Order, error)
	ListByFarmer(ctx context.Context, farmerID string) ([]domain.Order, error)
}

type NotificationRepo interface {
	Create(ctx context.Context, n *domain.Notification) error
	ListUnread(ctx context.Context, userID string, limit int) ([]domain.Notification, error)
	MarkRead(ctx context.Context, id, userID string) (*domain.Notification, error)
	// MarkAllRead returns how many notifications flipped to read.
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	// Delete removes the user's notification; a missing one is not an error.
	Delete(ctx context.Context, id, userID string) error
}

// Store bundles the transactional repositories of one backend.
type Store struct {
	Tx       TxRunner
	Products ProductRepo
	Carts    CartRepo
	Orders   OrderRepo
}

type IdempotencyStore interface {
	TryLock(ctx context.Context, scope, key string) (bool, error)
	Release(ctx context.Context, scope, key string) error
	Remember(ctx context.Context, scope, key, value string) error
	Recall(ctx context.Context, scope, key string) (string, bool, error)
}

// OrderCache is a best-effort read cache in front of OrderRepo.
type OrderCache interface {
	Get(ctx context.Context, id string) (*domain.Order, bool, error)
	Set(ctx context.Context, o *domain.Order) error
	Invalidate(ctx context.Context, id string) error
}

type PaymentMetadata struct {
	OrderID string `json:"orderId"`
	UserID  string `json:"userId"`
}

type InitializeRequest struct {
	Email       string
	AmountMinor int64
	Reference   string
	CallbackURL string
	Metadata    PaymentMetadata
}

type InitializeResult struct {
	RedirectURL string
	AccessCode  string
	Reference   string
}

type VerifyResult struct {
	Paid        bool
	Status      string // gateway wording, e.g. "success", "abandoned"
	AmountMinor int64
	Reference   string
	Channel     string
	PaidAt      time.Time
	Metadata    PaymentMetadata
}

type PaymentGateway interface {
	Initialize(ctx context.Context, req InitializeRequest) (InitializeResult, error)
	Verify(ctx context.Context, reference string) (VerifyResult, error)
}

// Notifier is a fire-and-forget sink; callers never roll back on its errors.
type Notifier interface {
	Notify(ctx context.Context, msg NotificationMsg) error
}

type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, msg OrderEventMsg) error
}

// PaymentEventQueue accepts gateway events for asynchronous reconciliation.
type PaymentEventQueue interface {
	PublishPaymentEvent(ctx context.Context, msg PaymentEventMsg) error
}
