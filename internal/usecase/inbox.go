package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	domain "github.com/farmlink/market-api/internal/entity"
)

const unreadLimit = 50

// Inbox persists delivered notifications and serves them back to their owner.
type Inbox struct {
	repo NotificationRepo
	now  func() time.Time
}

func NewInbox(repo NotificationRepo) *Inbox {
	return &Inbox{repo: repo, now: time.Now}
}

// Deliver stores msg; it is the consumer end of the notification sink.
func (in *Inbox) Deliver(ctx context.Context, msg NotificationMsg) error {
	if msg.UserID == "" {
		return validationf("notification without recipient")
	}
	return in.repo.Create(ctx, &domain.Notification{
		ID:        uuid.NewString(),
		UserID:    msg.UserID,
		Title:     msg.Title,
		Message:   msg.Message,
		Type:      domain.NotificationType(msg.Type),
		Link:      msg.Link,
		Metadata:  msg.Metadata,
		CreatedAt: in.now().UTC(),
	})
}

func (in *Inbox) Unread(ctx context.Context, userID string) ([]domain.Notification, error) {
	return in.repo.ListUnread(ctx, userID, unreadLimit)
}

func (in *Inbox) MarkRead(ctx context.Context, userID, id string) (*domain.Notification, error) {
	return in.repo.MarkRead(ctx, id, userID)
}

func (in *Inbox) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return in.repo.MarkAllRead(ctx, userID)
}

func (in *Inbox) Delete(ctx context.Context, userID, id string) error {
	return in.repo.Delete(ctx, id, userID)
}
