package usecase_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/farmlink/market-api/internal/adapter/memstore"
	"github.com/farmlink/market-api/internal/adapter/payment"
	domain "github.com/farmlink/market-api/internal/entity"
	"github.com/farmlink/market-api/internal/usecase"
)

type recorder struct {
	mu     sync.Mutex
	msgs   []usecase.NotificationMsg
	events []usecase.OrderEventMsg
}

func (r *recorder) Notify(_ context.Context, msg usecase.NotificationMsg) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) PublishOrderEvent(_ context.Context, msg usecase.OrderEventMsg) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, msg)
	return nil
}

func (r *recorder) types(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.msgs {
		if m.UserID == userID {
			out = append(out, m.Type)
		}
	}
	return out
}

func (r *recorder) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	t       *testing.T
	mem     *memstore.Store
	store   usecase.Store
	gw      *payment.Sandbox
	rec     *recorder
	retry   usecase.RetryPolicy
	place   *usecase.PlaceOrder
	verify  *usecase.VerifyPayment
	status  *usecase.UpdateOrderStatus
	failed  *usecase.MarkPaymentFailed
	cart    *usecase.Cart
	queries *usecase.OrderQueries
}

func newFixture(t *testing.T, opts ...usecase.PlaceOrderOption) *fixture {
	t.Helper()
	mem := memstore.New()
	f := &fixture{
		t:     t,
		mem:   mem,
		store: mem.Usecase(),
		gw:    payment.NewSandbox("http://sandbox.local"),
		rec:   &recorder{},
		retry: usecase.RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond},
	}
	fx := usecase.Effects{Notifier: f.rec, Events: f.rec}
	f.place = usecase.NewPlaceOrder(f.store, f.gw, f.retry, fx, opts...)
	f.verify = usecase.NewVerifyPayment(f.store, f.gw, f.retry, fx)
	f.status = usecase.NewUpdateOrderStatus(f.store, f.retry, fx)
	f.failed = usecase.NewMarkPaymentFailed(f.store, f.gw, f.retry, fx)
	f.cart = usecase.NewCart(f.store, f.retry)
	f.queries = usecase.NewOrderQueries(f.store.Orders, nil)
	return f
}

func (f *fixture) product(id, farmerID string, price, qty int64) {
	f.t.Helper()
	p := &domain.Product{ID: id, FarmerID: farmerID, Name: "product " + id, Price: price, Quantity: qty}
	require.NoError(f.t, f.store.Products.Create(context.Background(), p))
}

// fill writes the cart directly so tests can also stage quantities above stock.
func (f *fixture) fill(userID string, lines ...domain.CartItem) {
	f.t.Helper()
	c := &domain.Cart{UserID: userID, Items: lines}
	require.NoError(f.t, f.store.Carts.Save(context.Background(), c))
}

func (f *fixture) stock(id string) int64 {
	f.t.Helper()
	p, err := f.store.Products.GetByID(context.Background(), id)
	require.NoError(f.t, err)
	return p.Quantity
}

func (f *fixture) hasCart(userID string) bool {
	_, err := f.store.Carts.GetByUser(context.Background(), userID)
	return err == nil
}

func (f *fixture) order(id string) *domain.Order {
	f.t.Helper()
	o, err := f.store.Orders.GetByID(context.Background(), id)
	require.NoError(f.t, err)
	return o
}

func line(productID string, qty int64) domain.CartItem {
	return domain.CartItem{ProductID: productID, Quantity: qty}
}

var shipping = domain.ShippingAddress{Address: "12 Market Rd", City: "Ibadan", State: "Oyo", Phone: "+2348000000000"}

func placeInput(userID, method string) usecase.PlaceOrderInput {
	return usecase.PlaceOrderInput{UserID: userID, Email: userID + "@example.com", Shipping: shipping, PaymentMethod: method}
}
