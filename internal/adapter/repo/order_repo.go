package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	domain "github.com/farmlink/market-api/internal/entity"
	"github.com/farmlink/market-api/internal/usecase"
)

type OrderRepo struct{ db *DB }

func NewOrderRepo(db *DB) *OrderRepo { return &OrderRepo{db: db} }

var _ usecase.OrderRepo = (*OrderRepo)(nil)

const orderColumns = `id,buyer_id,total_price,shipping_json,payment_method,status,payment_status,
transaction_reference,payment_channel,paid_at,amount_paid,version,created_at,updated_at`

func (r *OrderRepo) Create(ctx context.Context, o *domain.Order) error {
	shipping, err := json.Marshal(o.Shipping)
	if err != nil {
		return err
	}
	o.Version = 1
	channel, paidAt, amount := paymentColumns(o.Payment)
	return r.db.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := r.db.exec(ctx, `
INSERT INTO orders (`+orderColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			o.ID, o.BuyerID, o.TotalPrice, string(shipping), string(o.PaymentMethod), string(o.Status),
			string(o.PaymentStatus), o.TransactionReference, channel, paidAt, amount, o.Version,
			o.CreatedAt, o.UpdatedAt); err != nil {
			return err
		}
		for i, it := range o.Items {
			if _, err := r.db.exec(ctx, `
INSERT INTO order_items (order_id,position,product_id,farmer_id,quantity,price_at_purchase)
VALUES (?,?,?,?,?,?)`, o.ID, i, it.ProductID, it.FarmerID, it.Quantity, it.PriceAtPurchase); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *OrderRepo) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	orders, err := r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=?`, id)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, domain.ErrNotFound
	}
	return &orders[0], nil
}

// Update persists the mutable part of the order under a version guard.
func (r *OrderRepo) Update(ctx context.Context, o *domain.Order) error {
	channel, paidAt, amount := paymentColumns(o.Payment)
	if err := r.db.execCAS(ctx, `
UPDATE orders
SET status = ?, payment_status = ?, transaction_reference = ?, payment_channel = ?,
    paid_at = ?, amount_paid = ?, updated_at = ?, version = version + 1
WHERE id = ? AND version = ?`,
		string(o.Status), string(o.PaymentStatus), o.TransactionReference, channel, paidAt, amount,
		o.UpdatedAt, o.ID, o.Version); err != nil {
		return err
	}
	o.Version++
	return nil
}

func (r *OrderRepo) ListByBuyer(ctx context.Context, buyerID string) ([]domain.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE buyer_id=? ORDER BY created_at DESC`, buyerID)
}

func (r *OrderRepo) ListByFarmer(ctx context.Context, farmerID string) ([]domain.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders
WHERE id IN (SELECT order_id FROM order_items WHERE farmer_id=?)
ORDER BY created_at DESC`, farmerID)
}

// list loads the order rows first and their items afterwards so that only one
// result set is open per connection.
func (r *OrderRepo) list(ctx context.Context, q string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	out := []domain.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range out {
		items, err := r.items(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Items = items
	}
	return out, nil
}

func (r *OrderRepo) items(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.query(ctx, `
SELECT product_id,farmer_id,quantity,price_at_purchase
FROM order_items WHERE order_id=? ORDER BY position`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []domain.OrderItem
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ProductID, &it.FarmerID, &it.Quantity, &it.PriceAtPurchase); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func scanOrder(rows *sql.Rows) (domain.Order, error) {
	var (
		o                                  domain.Order
		shipping                           string
		method, status, payStatus, channel string
		paidAt                             sql.NullTime
		amount                             sql.NullInt64
	)
	if err := rows.Scan(&o.ID, &o.BuyerID, &o.TotalPrice, &shipping, &method, &status, &payStatus,
		&o.TransactionReference, &channel, &paidAt, &amount, &o.Version, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return o, err
	}
	if err := json.Unmarshal([]byte(shipping), &o.Shipping); err != nil {
		return o, fmt.Errorf("order %s: shipping: %w", o.ID, err)
	}
	o.PaymentMethod = domain.PaymentMethod(method)
	o.Status = domain.Status(status)
	o.PaymentStatus = domain.PaymentStatus(payStatus)
	if paidAt.Valid {
		o.Payment = &domain.PaymentDetails{
			Reference:  o.TransactionReference,
			Channel:    channel,
			PaidAt:     paidAt.Time.UTC(),
			AmountPaid: amount.Int64,
		}
	}
	return o, nil
}

func paymentColumns(p *domain.PaymentDetails) (string, sql.NullTime, sql.NullInt64) {
	if p == nil {
		return "", sql.NullTime{}, sql.NullInt64{}
	}
	return p.Channel, sql.NullTime{Time: p.PaidAt, Valid: true}, sql.NullInt64{Int64: p.AmountPaid, Valid: true}
}
