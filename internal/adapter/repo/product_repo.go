package repo

import (
	"context"

	domain "github.com/farmlink/market-api/internal/entity"
	"github.com/farmlink/market-api/internal/usecase"
)

type ProductRepo struct{ db *DB }

func NewProductRepo(db *DB) *ProductRepo { return &ProductRepo{db: db} }

var _ usecase.ProductRepo = (*ProductRepo)(nil)

func (r *ProductRepo) Create(ctx context.Context, p *domain.Product) error {
	p.Version = 1
	_, err := r.db.exec(ctx, `
INSERT INTO products (id,farmer_id,name,price,quantity,version,created_at)
VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.FarmerID, p.Name, p.Price, p.Quantity, p.Version, p.CreatedAt)
	return err
}

func (r *ProductRepo) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	row := r.db.queryRow(ctx, `
SELECT id,farmer_id,name,price,quantity,version,created_at
FROM products WHERE id=?`, id)
	var p domain.Product
	if err := row.Scan(&p.ID, &p.FarmerID, &p.Name, &p.Price, &p.Quantity, &p.Version, &p.CreatedAt); err != nil {
		return nil, r.db.mapErr(err)
	}
	return &p, nil
}

func (r *ProductRepo) DecrementStock(ctx context.Context, id string, qty, version int64) error {
	if qty <= 0 {
		return domain.ErrInvalidAmount
	}
	return r.db.execCAS(ctx, `
UPDATE products
SET quantity = quantity - ?, version = version + 1
WHERE id = ? AND version = ? AND quantity >= ?`,
		qty, id, version, qty)
}

func (r *ProductRepo) IncrementStock(ctx context.Context, id string, qty, version int64) error {
	if qty <= 0 {
		return domain.ErrInvalidAmount
	}
	return r.db.execCAS(ctx, `
UPDATE products
SET quantity = quantity + ?, version = version + 1
WHERE id = ? AND version = ?`,
		qty, id, version)
}

func (r *ProductRepo) Update(ctx context.Context, p *domain.Product) error {
	if err := r.db.execCAS(ctx, `
UPDATE products
SET name = ?, price = ?, quantity = ?, version = version + 1
WHERE id = ? AND version = ?`,
		p.Name, p.Price, p.Quantity, p.ID, p.Version); err != nil {
		return err
	}
	p.Version++
	return nil
}

func (r *ProductRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.exec(ctx, `DELETE FROM products WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ProductRepo) List(ctx context.Context) ([]domain.Product, error) {
	return r.list(ctx, `
SELECT id,farmer_id,name,price,quantity,version,created_at
FROM products ORDER BY created_at DESC`)
}

func (r *ProductRepo) ListByFarmer(ctx context.Context, farmerID string) ([]domain.Product, error) {
	return r.list(ctx, `
SELECT id,farmer_id,name,price,quantity,version,created_at
FROM products WHERE farmer_id=? ORDER BY created_at DESC`, farmerID)
}

func (r *ProductRepo) list(ctx context.Context, q string, args ...any) ([]domain.Product, error) {
	rows, err := r.db.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.Product{}
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.FarmerID, &p.Name, &p.Price, &p.Quantity, &p.Version, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
