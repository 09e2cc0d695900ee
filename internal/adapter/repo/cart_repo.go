package repo

import (
	"context"

	domain "github.com/farmlink/market-api/internal/entity"
	"github.com/farmlink/market-api/internal/usecase"
)

type CartRepo struct{ db *DB }

func NewCartRepo(db *DB) *CartRepo { return &CartRepo{db: db} }

var _ usecase.CartRepo = (*CartRepo)(nil)

func (r *CartRepo) GetByUser(ctx context.Context, userID string) (*domain.Cart, error) {
	c := domain.Cart{UserID: userID}
	row := r.db.queryRow(ctx, `SELECT version,updated_at FROM carts WHERE user_id=?`, userID)
	if err := row.Scan(&c.Version, &c.UpdatedAt); err != nil {
		return nil, r.db.mapErr(err)
	}

	rows, err := r.db.query(ctx, `
SELECT product_id,quantity,added_at
FROM cart_items WHERE user_id=? ORDER BY position`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it domain.CartItem
		if err := rows.Scan(&it.ProductID, &it.Quantity, &it.AddedAt); err != nil {
			return nil, err
		}
		c.Items = append(c.Items, it)
	}
	return &c, rows.Err()
}

// Save inserts a new cart or swaps the stored one if its version is unchanged,
// then rewrites the lines.
func (r *CartRepo) Save(ctx context.Context, c *domain.Cart) error {
	return r.db.WithinTx(ctx, func(ctx context.Context) error {
		if c.Version == 0 {
			if _, err := r.db.exec(ctx, `INSERT INTO carts (user_id,version,updated_at) VALUES (?,1,?)`,
				c.UserID, c.UpdatedAt); err != nil {
				return err
			}
		} else if err := r.db.execCAS(ctx, `
UPDATE carts SET version = version + 1, updated_at = ?
WHERE user_id = ? AND version = ?`, c.UpdatedAt, c.UserID, c.Version); err != nil {
			return err
		}

		if _, err := r.db.exec(ctx, `DELETE FROM cart_items WHERE user_id=?`, c.UserID); err != nil {
			return err
		}
		for i, it := range c.Items {
			if _, err := r.db.exec(ctx, `
INSERT INTO cart_items (user_id,product_id,quantity,added_at,position)
VALUES (?,?,?,?,?)`, c.UserID, it.ProductID, it.Quantity, it.AddedAt, i); err != nil {
				return err
			}
		}
		c.Version++
		return nil
	})
}

func (r *CartRepo) DeleteByUser(ctx context.Context, userID string) error {
	return r.db.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := r.db.exec(ctx, `DELETE FROM cart_items WHERE user_id=?`, userID); err != nil {
			return err
		}
		_, err := r.db.exec(ctx, `DELETE FROM carts WHERE user_id=?`, userID)
		return err
	})
}
