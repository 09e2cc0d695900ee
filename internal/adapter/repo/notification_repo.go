package repo

import (
	"context"
	"encoding/json"

	domain "github.com/farmlink/market-api/internal/entity"
	"github.com/farmlink/market-api/internal/usecase"
)

type NotificationRepo struct{ db *DB }

func NewNotificationRepo(db *DB) *NotificationRepo { return &NotificationRepo{db: db} }

var _ usecase.NotificationRepo = (*NotificationRepo)(nil)

func (r *NotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	meta, err := json.Marshal(n.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.exec(ctx, `
INSERT INTO notifications (id,user_id,title,message,type,link,metadata_json,is_read,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		n.ID, n.UserID, n.Title, n.Message, string(n.Type), n.Link, string(meta), n.Read, n.CreatedAt)
	return err
}

func (r *NotificationRepo) ListUnread(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	rows, err := r.db.query(ctx, `
SELECT id,user_id,title,message,type,link,metadata_json,is_read,created_at
FROM notifications WHERE user_id=? AND is_read=FALSE
ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.Notification{}
	for rows.Next() {
		var (
			n    domain.Notification
			typ  string
			meta string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &typ, &n.Link, &meta, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Type = domain.NotificationType(typ)
		if meta != "" && meta != "null" {
			if err := json.Unmarshal([]byte(meta), &n.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *NotificationRepo) MarkRead(ctx context.Context, id, userID string) (*domain.Notification, error) {
	var out *domain.Notification
	err := r.db.WithinTx(ctx, func(ctx context.Context) error {
		var (
			n    domain.Notification
			typ  string
			meta string
		)
		row := r.db.queryRow(ctx, `
SELECT id,user_id,title,message,type,link,metadata_json,is_read,created_at
FROM notifications WHERE id=? AND user_id=?`, id, userID)
		if err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &typ, &n.Link, &meta, &n.Read, &n.CreatedAt); err != nil {
			return r.db.mapErr(err)
		}
		if _, err := r.db.exec(ctx, `UPDATE notifications SET is_read=TRUE WHERE id=?`, id); err != nil {
			return err
		}
		n.Type = domain.NotificationType(typ)
		if meta != "" && meta != "null" {
			_ = json.Unmarshal([]byte(meta), &n.Metadata)
		}
		n.Read = true
		out = &n
		return nil
	})
	return out, err
}

func (r *NotificationRepo) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.exec(ctx, `UPDATE notifications SET is_read=TRUE WHERE user_id=? AND is_read=FALSE`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *NotificationRepo) Delete(ctx context.Context, id, userID string) error {
	_, err := r.db.exec(ctx, `DELETE FROM notifications WHERE id=? AND user_id=?`, id, userID)
	return err
}
