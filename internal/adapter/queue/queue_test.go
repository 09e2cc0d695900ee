package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmlink/market-api/internal/usecase"
)

type fakeChannel struct {
	bindings  []string
	confirmed bool
	published []amqp.Publishing
	keys      []string
	pubErr    error
}

func (f *fakeChannel) ExchangeDeclare(string, string, bool, bool, bool, bool, amqp.Table) error {
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	f.bindings = append(f.bindings, exchange+"->"+name+":"+key)
	return nil
}

func (f *fakeChannel) Confirm(bool) error { f.confirmed = true; return nil }

func (f *fakeChannel) PublishWithDeferredConfirmWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error) {
	if f.pubErr != nil {
		return nil, f.pubErr
	}
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil, nil
}

func TestRabbitNotifierPublishes(t *testing.T) {
	ch := &fakeChannel{}
	n, err := NewRabbitNotifier(ch, "", "")
	require.NoError(t, err)
	assert.True(t, ch.confirmed)
	assert.Equal(t, []string{DefaultExchange + "->" + DefaultQueue + ":notification.#"}, ch.bindings)

	msg := usecase.NotificationMsg{UserID: "farmer-1", Title: "New order", Type: "new-order", Link: "/orders/o1"}
	require.NoError(t, n.Notify(context.Background(), msg))

	require.Len(t, ch.published, 1)
	assert.Equal(t, "notification.new-order", ch.keys[0])
	assert.Equal(t, amqp.Persistent, ch.published[0].DeliveryMode)
	assert.NotEmpty(t, ch.published[0].MessageId)
	var got usecase.NotificationMsg
	require.NoError(t, json.Unmarshal(ch.published[0].Body, &got))
	assert.Equal(t, msg, got)

	ch.pubErr = amqp.ErrClosed
	require.ErrorIs(t, n.Notify(context.Background(), msg), amqp.ErrClosed)
}

type ackRecorder struct {
	acked, nacked, requeued bool
}

func (a *ackRecorder) Ack(uint64, bool) error { a.acked = true; return nil }
func (a *ackRecorder) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked, a.requeued = true, requeue
	return nil
}
func (a *ackRecorder) Reject(_ uint64, requeue bool) error {
	a.nacked, a.requeued = true, requeue
	return nil
}

func TestRouterDispatch(t *testing.T) {
	r := NewRouter(nil, WithPermanent(usecase.ErrValidation))
	var delivered []usecase.NotificationMsg
	h := JSONHandler[usecase.NotificationMsg]{HandleFunc: func(_ context.Context, m usecase.NotificationMsg) error {
		if m.UserID == "" {
			return usecase.ErrValidation
		}
		if m.UserID == "flaky" {
			return errors.New("db unavailable")
		}
		delivered = append(delivered, m)
		return nil
	}}

	tests := []struct {
		name        string
		body        string
		redelivered bool
		ack         bool
		requeue     bool
	}{
		{"ok", `{"userId":"u1","title":"hi"}`, false, true, false},
		{"poison body", `{not json`, false, false, false},
		{"permanent error", `{"title":"no user"}`, false, false, false},
		{"transient error", `{"userId":"flaky"}`, false, false, true},
		{"transient error twice", `{"userId":"flaky"}`, true, false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ack := &ackRecorder{}
			r.dispatch(context.Background(), h, amqp.Delivery{Acknowledger: ack, Body: []byte(tc.body), Redelivered: tc.redelivered})
			assert.Equal(t, tc.ack, ack.acked)
			assert.Equal(t, !tc.ack, ack.nacked)
			assert.Equal(t, tc.requeue, ack.requeued)
		})
	}
	require.Len(t, delivered, 1)
	assert.Equal(t, "u1", delivered[0].UserID)
}
