package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmlink/market-api/internal/adapter/memstore"
	"github.com/farmlink/market-api/internal/usecase"
)

func TestDirectDeliversIntoInbox(t *testing.T) {
	inbox := usecase.NewInbox(memstore.New().Notifications())
	d := NewDirect(inbox)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Notify(ctx, usecase.NotificationMsg{UserID: "u1", Title: "Order placed", Type: "order-update"}))

	list, err := inbox.Unread(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Order placed", list[0].Title)
	assert.NotEmpty(t, list[0].ID)

	require.ErrorIs(t, d.Notify(context.Background(), usecase.NotificationMsg{Title: "nobody"}), usecase.ErrValidation)
}
