package usecase_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmlink/market-api/internal/adapter/cache"
	"github.com/farmlink/market-api/internal/adapter/memstore"
	domain "github.com/farmlink/market-api/internal/entity"
	"github.com/farmlink/market-api/internal/usecase"
)

func TestPlaceOrderCashOnDelivery(t *testing.T) {
	f := newFixture(t)
	f.product("p1", "farmer-1", 250, 5)
	f.fill("buyer-a", line("p1", 3))

	out, err := f.place.Execute(context.Background(), placeInput("buyer-a", "cash_on_delivery"))
	require.NoError(t, err)

	o := out.Order
	assert.Equal(t, domain.StatusProcessing, o.Status)
	assert.Equal(t, domain.PaymentPending, o.PaymentStatus)
	assert.EqualValues(t, 750, o.TotalPrice)
	assert.Equal(t, "order_"+o.ID, o.TransactionReference)
	assert.Empty(t, out.RedirectURL)
	assert.EqualValues(t, 2, f.stock("p1"))
	assert.False(t, f.hasCart("buyer-a"))

	assert.Equal(t, []string{"order-update"}, f.rec.types("buyer-a"))
	assert.Equal(t, []string{"new-order"}, f.rec.types("farmer-1"))
	assert.Equal(t, []string{usecase.EventOrderCreated}, f.rec.eventTypes())
}

func TestPlaceOrderGatewayDefersStock(t *testing.T) {
	f := newFixture(t, usecase.WithCallbackURL("https://shop.example/verify"))
	f.product("p1", "farmer-1", 500, 4)
	f.fill("buyer-a", line("p1", 2))

	out, err := f.place.Execute(context.Background(), placeInput("buyer-a", "paystack"))
	require.NoError(t, err)

	o := out.Order
	assert.Equal(t, domain.PaymentGateway, o.PaymentMethod)
	assert.Equal(t, domain.StatusPending, o.Status)
	assert.EqualValues(t, 1000, o.TotalPrice)
	assert.Equal(t, "http://sandbox.local/checkout/"+o.TransactionReference, out.RedirectURL)
	assert.EqualValues(t, 4, f.stock("p1"), "stock is only checked for gateway orders")
	assert.True(t, f.hasCart("buyer-a"), "cart is kept until payment is verified")

	req, ok := f.gw.Initialized(o.TransactionReference)
	require.True(t, ok)
	assert.EqualValues(t, 1000, req.AmountMinor)
	assert.Equal(t, "buyer-a@example.com", req.Email)
	assert.Equal(t, "https://shop.example/verify", req.CallbackURL)
	assert.Equal(t, usecase.PaymentMetadata{OrderID: o.ID, UserID: "buyer-a"}, req.Metadata)
}

func TestPlaceOrderBankTransfer(t *testing.T) {
	f := newFixture(t)
	f.product("p1", "farmer-1", 100, 3)
	f.fill("buyer-a", line("p1", 1))

	out, err := f.place.Execute(context.Background(), placeInput("buyer-a", "bank-transfer"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, out.Order.Status)
	assert.EqualValues(t, 3, f.stock("p1"))
	assert.True(t, f.hasCart("buyer-a"))
}

func TestPlaceOrderOutOfStockWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.product("p1", "farmer-1", 100, 10)
	f.product("p2", "farmer-2", 100, 1)
	f.fill("buyer-a", line("p1", 2), line("p2", 3))

	_, err := f.place.Execute(context.Background(), placeInput("buyer-a", "cash_on_delivery"))
	require.ErrorIs(t, err, usecase.ErrOutOfStock)

	var oos *usecase.OutOfStockError
	require.True(t, errors.As(err, &oos))
	assert.Equal(t, "p2", oos.ProductID)
	assert.EqualValues(t, 1, oos.Available)
	assert.EqualValues(t, 3, oos.Requested)

	assert.Zero(t, f.mem.CountOrders())
	assert.EqualValues(t, 10, f.stock("p1"))
	assert.EqualValues(t, 1, f.stock("p2"))
	assert.True(t, f.hasCart("buyer-a"))
	assert.Empty(t, f.rec.types("buyer-a"))
}

func TestPlaceOrderPreconditions(t *testing.T) {
	f := newFixture(t)
	f.product("p1", "farmer-1", 100, 10)
	f.fill("buyer-a", line("p1", 1), line("gone", 1))

	tests := []struct {
		name string
		in   usecase.PlaceOrderInput
		want error
	}{
		{"unknown method", placeInput("buyer-a", "barter"), usecase.ErrValidation},
		{"missing shipping", usecase.PlaceOrderInput{UserID: "buyer-a", PaymentMethod: "cash_on_delivery"}, usecase.ErrValidation},
		{"gateway without email", usecase.PlaceOrderInput{UserID: "buyer-a", Shipping: shipping, PaymentMethod: "gateway"}, usecase.ErrValidation},
		{"no user", placeInput("", "cash_on_delivery"), usecase.ErrUnauthorized},
		{"no cart", placeInput("buyer-b", "cash_on_delivery"), usecase.ErrCartEmpty},
		{"vanished product", placeInput("buyer-a", "cash_on_delivery"), usecase.ErrProductUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.place.Execute(context.Background(), tc.in)
			require.ErrorIs(t, err, tc.want)
		})
	}
	assert.Zero(t, f.mem.CountOrders())
	assert.EqualValues(t, 10, f.stock("p1"))
}

func TestPlaceOrderGatewayInitFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.product("p1", "farmer-1", 100, 10)
	f.fill("buyer-a", line("p1", 1))
	f.gw.FailInitialize(errors.New("gateway down"))

	_, err := f.place.Execute(context.Background(), placeInput("buyer-a", "gateway"))
	require.ErrorIs(t, err, usecase.ErrPaymentInit)
	assert.Zero(t, f.mem.CountOrders(), "order must not outlive a failed payment attempt")
	assert.True(t, f.hasCart("buyer-a"))
}

func TestPlaceOrderPriceAtPurchaseIsStable(t *testing.T) {
	f := newFixture(t)
	f.product("p1", "farmer-1", 300, 10)
	f.fill("buyer-a", line("p1", 2))

	out, err := f.place.Execute(context.Background(), placeInput("buyer-a", "bank_transfer"))
	require.NoError(t, err)

	p, err := f.store.Products.GetByID(context.Background(), "p1")
	require.NoError(t, err)
	p.Price = 999
	(*memstore.ProductRepo)(f.mem).Put(*p)

	o := f.order(out.Order.ID)
	require.Len(t, o.Items, 1)
	assert.EqualValues(t, 300, o.Items[0].PriceAtPurchase)
	assert.EqualValues(t, 600, o.TotalPrice)
}

func TestPlaceOrderConcurrentSingleUnit(t *testing.T) {
	for round := 0; round < 20; round++ {
		f := newFixture(t)
		f.product("p1", "farmer-1", 100, 1)
		f.fill("buyer-a", line("p1", 1))
		f.fill("buyer-b", line("p1", 1))

		var (
			wg   sync.WaitGroup
			errs = make([]error, 2)
		)
		for i, buyer := range []string{"buyer-a", "buyer-b"} {
			wg.Add(1)
			go func(i int, buyer string) {
				defer wg.Done()
				_, errs[i] = f.place.Execute(context.Background(), placeInput(buyer, "cash_on_delivery"))
			}(i, buyer)
		}
		wg.Wait()

		var ok, rejected int
		for _, err := range errs {
			var conflict *usecase.ConflictError
			switch {
			case err == nil:
				ok++
			case errors.Is(err, usecase.ErrOutOfStock), errors.As(err, &conflict):
				rejected++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		require.Equal(t, 1, ok, "round %d", round)
		require.Equal(t, 1, rejected, "round %d", round)
		require.EqualValues(t, 0, f.stock("p1"))
		require.Equal(t, 1, f.mem.CountOrders())
	}
}

type memIdem struct {
	mu     sync.Mutex
	locks  map[string]bool
	values map[string]string
}

func newMemIdem() *memIdem {
	return &memIdem{locks: map[string]bool{}, values: map[string]string{}}
}

func (m *memIdem) TryLock(_ context.Context, scope, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := scope + "/" + key
	if m.locks[k] {
		return false, nil
	}
	m.locks[k] = true
	return true, nil
}

func (m *memIdem) Release(_ context.Context, scope, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, scope+"/"+key)
	return nil
}

func (m *memIdem) Remember(_ context.Context, scope, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[scope+"/"+key] = value
	return nil
}

func (m *memIdem) Recall(_ context.Context, scope, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[scope+"/"+key]
	return v, ok, nil
}

func TestPlaceOrderIdempotencyKey(t *testing.T) {
	idem := newMemIdem()
	f := newFixture(t, usecase.WithIdempotency(idem))
	f.product("p1", "farmer-1", 100, 5)
	f.fill("buyer-a", line("p1", 1))

	in := placeInput("buyer-a", "cash_on_delivery")
	in.IdempotencyKey = "k-1"

	first, err := f.place.Execute(context.Background(), in)
	require.NoError(t, err)
	second, err := f.place.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, 1, f.mem.CountOrders())
	assert.EqualValues(t, 4, f.stock("p1"))

	// a key held by an in-flight request
	locked, err := idem.TryLock(context.Background(), "orders", "buyer-a:k-2")
	require.NoError(t, err)
	require.True(t, locked)
	in.IdempotencyKey = "k-2"
	_, err = f.place.Execute(context.Background(), in)
	require.ErrorIs(t, err, usecase.ErrDuplicateRequest)

	// a failed attempt frees its key
	in.IdempotencyKey = "k-3"
	_, err = f.place.Execute(context.Background(), in)
	require.ErrorIs(t, err, usecase.ErrCartEmpty)
	ok, err := idem.TryLock(context.Background(), "orders", "buyer-a:k-3")
	require.NoError(t, err)
	assert.True(t, ok)
}

// interferingGateway runs interfere during the first Initialize, outside the placing transaction.
type interferingGateway struct {
	usecase.PaymentGateway
	mu        sync.Mutex
	calls     []usecase.InitializeRequest
	interfere func()
}

func (g *interferingGateway) Initialize(ctx context.Context, req usecase.InitializeRequest) (usecase.InitializeResult, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	first := len(g.calls) == 1
	g.mu.Unlock()
	if first && g.interfere != nil {
		g.interfere()
	}
	return g.PaymentGateway.Initialize(ctx, req)
}

func TestPlaceOrderGatewayRetryKeepsReference(t *testing.T) {
	tests := []struct {
		name      string
		price     int64
		wantCalls int
	}{
		{"conflict without price change reuses the checkout", 500, 1},
		{"price change reopens the same reference", 600, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.product("p1", "farmer-1", 500, 5)
			f.fill("buyer-a", line("p1", 2))

			gw := &interferingGateway{PaymentGateway: f.gw}
			gw.interfere = func() {
				p, err := f.store.Products.GetByID(context.Background(), "p1")
				require.NoError(t, err)
				p.Price = tc.price
				(*memstore.ProductRepo)(f.mem).Put(*p)
			}
			place := usecase.NewPlaceOrder(f.store, gw, f.retry, usecase.Effects{})

			out, err := place.Execute(context.Background(), placeInput("buyer-a", "gateway"))
			require.NoError(t, err)
			require.Len(t, gw.calls, tc.wantCalls)
			for _, c := range gw.calls {
				assert.Equal(t, out.Order.TransactionReference, c.Reference)
				assert.Equal(t, out.Order.ID, c.Metadata.OrderID)
			}
			assert.EqualValues(t, 2*tc.price, gw.calls[len(gw.calls)-1].AmountMinor)
			assert.EqualValues(t, 2*tc.price, out.Order.TotalPrice)
			assert.Equal(t, 1, f.mem.CountOrders())
			assert.Contains(t, out.RedirectURL, out.Order.TransactionReference)
		})
	}
}

// stallingGateway blocks its first Initialize until the caller gives up.
type stallingGateway struct {
	usecase.PaymentGateway
	stalled atomic.Bool
}

func (g *stallingGateway) Initialize(ctx context.Context, req usecase.InitializeRequest) (usecase.InitializeResult, error) {
	if g.stalled.CompareAndSwap(false, true) {
		<-ctx.Done()
		return usecase.InitializeResult{}, ctx.Err()
	}
	return g.PaymentGateway.Initialize(ctx, req)
}

func TestPlaceOrderTimeoutReleasesIdempotencyKey(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	idem := cache.NewRedisIdempotencyStore(rdb, 24*time.Hour)

	f := newFixture(t)
	f.product("p1", "farmer-1", 500, 5)
	f.fill("buyer-a", line("p1", 1))
	gw := &stallingGateway{PaymentGateway: f.gw}
	place := usecase.NewPlaceOrder(f.store, gw, f.retry, usecase.Effects{}, usecase.WithIdempotency(idem))

	in := placeInput("buyer-a", "gateway")
	in.IdempotencyKey = "k-timeout"

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := place.Execute(ctx, in)
	require.ErrorIs(t, err, usecase.ErrPaymentInit)
	assert.False(t, mr.Exists("idemp:orders:buyer-a:k-timeout"))

	out, err := place.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, out.Replayed)
	assert.Equal(t, 1, f.mem.CountOrders())
}
