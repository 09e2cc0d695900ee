// Package notify holds the in-process notification sink used when no broker is configured.
package notify

import (
	"context"

	"github.com/farmlink/market-api/internal/usecase"
)

// Direct stores notifications straight into the inbox.
type Direct struct {
	inbox *usecase.Inbox
}

func NewDirect(inbox *usecase.Inbox) *Direct { return &Direct{inbox: inbox} }

func (d *Direct) Notify(ctx context.Context, msg usecase.NotificationMsg) error {
	// detached so a cancelled request still records the notification
	return d.inbox.Deliver(context.WithoutCancel(ctx), msg)
}

var _ usecase.Notifier = (*Direct)(nil)
