package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/farmlink/market-api/internal/entity"
	"github.com/farmlink/market-api/internal/usecase"
)

func placeGateway(t *testing.T, f *fixture) *domain.Order {
	t.Helper()
	f.product("p1", "farmer-1", 500, 5)
	f.fill("buyer-a", line("p1", 2))
	out, err := f.place.Execute(context.Background(), placeInput("buyer-a", "gateway"))
	require.NoError(t, err)
	require.EqualValues(t, 1000, out.Order.TotalPrice)
	return out.Order
}

func TestVerifyPaymentSettlesOrder(t *testing.T) {
	f := newFixture(t)
	o := placeGateway(t, f)
	paidAt := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	f.gw.SetOutcome(o.TransactionReference, usecase.VerifyResult{
		Paid: true, Status: "success", AmountMinor: 1000, Channel: "card", PaidAt: paidAt,
		Metadata: usecase.PaymentMetadata{OrderID: o.ID, UserID: "buyer-a"},
	})

	out, err := f.verify.Execute(context.Background(), o.TransactionReference)
	require.NoError(t, err)
	assert.False(t, out.AlreadyVerified)

	got := f.order(o.ID)
	assert.Equal(t, domain.PaymentCompleted, got.PaymentStatus)
	assert.Equal(t, domain.StatusProcessing, got.Status)
	require.NotNil(t, got.Payment)
	assert.Equal(t, "card", got.Payment.Channel)
	assert.Equal(t, paidAt, got.Payment.PaidAt)
	assert.EqualValues(t, 1000, got.Payment.AmountPaid)
	assert.EqualValues(t, 3, f.stock("p1"))
	assert.False(t, f.hasCart("buyer-a"))

	assert.Contains(t, f.rec.types("buyer-a"), "payment-confirmation")
	assert.Contains(t, f.rec.types("farmer-1"), "payment-received")
	assert.Contains(t, f.rec.eventTypes(), usecase.EventOrderPaid)
}

func TestVerifyPaymentIsIdempotent(t *testing.T) {
	f := newFixture(t)
	o := placeGateway(t, f)

	_, err := f.verify.Execute(context.Background(), o.TransactionReference)
	require.NoError(t, err)
	first := f.order(o.ID)
	notified := len(f.rec.types("buyer-a"))

	for i := 0; i < 3; i++ {
		out, err := f.verify.Execute(context.Background(), o.TransactionReference)
		require.NoError(t, err)
		assert.True(t, out.AlreadyVerified)
	}

	again := f.order(o.ID)
	assert.Equal(t, first.Version, again.Version)
	assert.Equal(t, first.PaymentStatus, again.PaymentStatus)
	assert.EqualValues(t, 3, f.stock("p1"), "stock is decremented once")
	assert.Len(t, f.rec.types("buyer-a"), notified)
}

func TestVerifyPaymentAmountMismatch(t *testing.T) {
	f := newFixture(t)
	o := placeGateway(t, f)
	f.gw.SetOutcome(o.TransactionReference, usecase.VerifyResult{
		Paid: true, Status: "success", AmountMinor: 500,
		Metadata: usecase.PaymentMetadata{OrderID: o.ID},
	})

	_, err := f.verify.Execute(context.Background(), o.TransactionReference)
	require.ErrorIs(t, err, usecase.ErrAmountMismatch)

	got := f.order(o.ID)
	assert.Equal(t, o.Version, got.Version)
	assert.Equal(t, domain.PaymentPending, got.PaymentStatus)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.EqualValues(t, 5, f.stock("p1"))
	assert.True(t, f.hasCart("buyer-a"))
}

func TestVerifyPaymentRejections(t *testing.T) {
	f := newFixture(t)
	o := placeGateway(t, f)
	ref := o.TransactionReference

	tests := []struct {
		name    string
		outcome *usecase.VerifyResult
		gwErr   error
		want    error
	}{
		{"gateway unreachable", nil, errors.New("dial tcp: refused"), usecase.ErrGateway},
		{"not paid", &usecase.VerifyResult{Status: "abandoned", Metadata: usecase.PaymentMetadata{OrderID: o.ID}}, nil, usecase.ErrGateway},
		{"no order id", &usecase.VerifyResult{Paid: true, AmountMinor: 1000}, nil, usecase.ErrInvalidMetadata},
		{"other buyer", &usecase.VerifyResult{Paid: true, AmountMinor: 1000, Metadata: usecase.PaymentMetadata{OrderID: o.ID, UserID: "mallory"}}, nil, usecase.ErrInvalidMetadata},
		{"unknown order", &usecase.VerifyResult{Paid: true, AmountMinor: 1000, Metadata: usecase.PaymentMetadata{OrderID: "nope"}}, nil, usecase.ErrOrderNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f.gw.FailVerify(tc.gwErr)
			if tc.outcome != nil {
				f.gw.SetOutcome(ref, *tc.outcome)
			}
			_, err := f.verify.Execute(context.Background(), ref)
			require.ErrorIs(t, err, tc.want)
		})
	}

	got := f.order(o.ID)
	assert.Equal(t, o.Version, got.Version)
	assert.Equal(t, domain.PaymentPending, got.PaymentStatus)
	assert.EqualValues(t, 5, f.stock("p1"))
}

func TestVerifyPaymentSoldOutSinceCheckout(t *testing.T) {
	f := newFixture(t)
	o := placeGateway(t, f)

	// another buyer takes the remaining stock on delivery
	f.fill("buyer-b", line("p1", 4))
	_, err := f.place.Execute(context.Background(), placeInput("buyer-b", "cash_on_delivery"))
	require.NoError(t, err)
	require.EqualValues(t, 1, f.stock("p1"))

	_, err = f.verify.Execute(context.Background(), o.TransactionReference)
	require.ErrorIs(t, err, usecase.ErrOutOfStock)

	got := f.order(o.ID)
	assert.Equal(t, domain.PaymentPending, got.PaymentStatus)
	assert.EqualValues(t, 1, f.stock("p1"))
}

func TestMarkPaymentFailed(t *testing.T) {
	f := newFixture(t)
	o := placeGateway(t, f)
	f.gw.Decline(o.TransactionReference)

	got, err := f.failed.Execute(context.Background(), o.TransactionReference)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, got.PaymentStatus)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.Contains(t, f.rec.types("buyer-a"), "order-cancel")

	again, err := f.failed.Execute(context.Background(), o.TransactionReference)
	require.NoError(t, err)
	assert.Equal(t, got.Version, again.Version)
}

func TestMarkPaymentFailedKeepsCompletedPayment(t *testing.T) {
	f := newFixture(t)
	o := placeGateway(t, f)
	_, err := f.verify.Execute(context.Background(), o.TransactionReference)
	require.NoError(t, err)

	_, err = f.failed.Execute(context.Background(), o.TransactionReference)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, domain.PaymentCompleted, f.order(o.ID).PaymentStatus)
}

func TestPaymentEventsRouting(t *testing.T) {
	f := newFixture(t)
	o := placeGateway(t, f)
	events := usecase.NewPaymentEvents(f.verify, f.failed)
	ctx := context.Background()

	require.NoError(t, events.Handle(ctx, usecase.PaymentEventMsg{Event: "transfer.success", Reference: o.TransactionReference}))
	assert.Equal(t, domain.PaymentPending, f.order(o.ID).PaymentStatus)

	require.NoError(t, events.PublishPaymentEvent(ctx, usecase.PaymentEventMsg{Event: usecase.PaymentEventChargeSuccess, Reference: o.TransactionReference}))
	assert.Equal(t, domain.PaymentCompleted, f.order(o.ID).PaymentStatus)

	// a permanent rejection is swallowed, a gateway outage is handed back for redelivery
	require.NoError(t, events.Handle(ctx, usecase.PaymentEventMsg{Event: usecase.PaymentEventChargeFailed, Reference: o.TransactionReference}))
	f.gw.FailVerify(errors.New("timeout"))
	require.ErrorIs(t, events.Handle(ctx, usecase.PaymentEventMsg{Event: usecase.PaymentEventChargeSuccess, Reference: o.TransactionReference}), usecase.ErrGateway)
}

func TestVerifyPaymentRejectsCancelledOrder(t *testing.T) {
	f := newFixture(t)
	o := placeGateway(t, f)
	_, err := f.status.Execute(context.Background(), usecase.UpdateOrderStatusInput{
		OrderID: o.ID, ActorID: "farmer-1", Status: "cancelled",
	})
	require.NoError(t, err)
	before := f.order(o.ID)

	_, err = f.verify.Execute(context.Background(), o.TransactionReference)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	got := f.order(o.ID)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.Equal(t, domain.PaymentPending, got.PaymentStatus)
	assert.Equal(t, before.Version, got.Version)
	assert.EqualValues(t, 5, f.stock("p1"))
	assert.True(t, f.hasCart("buyer-a"))
	assert.NotContains(t, f.rec.types("buyer-a"), "payment-confirmation")
}

func TestVerifyPaymentConcurrentCallers(t *testing.T) {
	f := newFixture(t)
	o := placeGateway(t, f)

	const callers = 8
	var (
		wg   sync.WaitGroup
		errs = make([]error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.verify.Execute(context.Background(), o.TransactionReference)
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		var conflict *usecase.ConflictError
		switch {
		case err == nil:
			ok++
		case errors.As(err, &conflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.GreaterOrEqual(t, ok, 1)
	assert.EqualValues(t, 3, f.stock("p1"), "stock is decremented once")
	assert.Equal(t, domain.PaymentCompleted, f.order(o.ID).PaymentStatus)

	confirmations := 0
	for _, typ := range f.rec.types("buyer-a") {
		if typ == "payment-confirmation" {
			confirmations++
		}
	}
	assert.Equal(t, 1, confirmations)
}
