package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	domain "github.com/farmlink/market-api/internal/entity"
)

type CreateProductInput struct {
	Name     string
	Price    int64
	Quantity int64
}

// UpdateProductInput replaces the editable fields of a product.
type UpdateProductInput struct {
	Name     string
	Price    int64
	Quantity int64
}

// Catalog is the product surface: farmers manage their listings, anyone browses.
type Catalog struct {
	store Store
	retry RetryPolicy
}

func NewCatalog(store Store, retry RetryPolicy) *Catalog {
	return &Catalog{store: store, retry: retry}
}

func (c *Catalog) Create(ctx context.Context, actor Actor, in CreateProductInput) (*domain.Product, error) {
	if actor.Role != RoleFarmer {
		return nil, ErrForbidden
	}
	p := &domain.Product{
		ID:        uuid.NewString(),
		FarmerID:  actor.UserID,
		Name:      in.Name,
		Price:     in.Price,
		Quantity:  in.Quantity,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := c.store.Products.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (c *Catalog) Get(ctx context.Context, id string) (*domain.Product, error) {
	return c.store.Products.GetByID(ctx, id)
}

// AddStock restocks a product owned by the farmer.
func (c *Catalog) AddStock(ctx context.Context, actor Actor, id string, qty int64) (*domain.Product, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrValidation, domain.ErrInvalidAmount)
	}
	var out *domain.Product
	err := c.retry.Do(ctx, "add_stock", func(ctx context.Context) error {
		return c.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
			p, err := c.store.Products.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if p.FarmerID != actor.UserID {
				return ErrForbidden
			}
			if err := c.store.Products.IncrementStock(ctx, id, qty, p.Version); err != nil {
				return err
			}
			p.Quantity += qty
			p.Version++
			out = p
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update rewrites a product owned by the farmer. Stock set here replaces the
// current count, so a racing checkout either lands first or retries on the new one.
func (c *Catalog) Update(ctx context.Context, actor Actor, id string, in UpdateProductInput) (*domain.Product, error) {
	var out *domain.Product
	err := c.retry.Do(ctx, "update_product", func(ctx context.Context) error {
		p, err := c.store.Products.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if p.FarmerID != actor.UserID {
			return ErrForbidden
		}
		p.Name, p.Price, p.Quantity = in.Name, in.Price, in.Quantity
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if err := c.store.Products.Update(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a product owned by the farmer. Placed orders keep their snapshot;
// carts drop the line on their next read.
func (c *Catalog) Delete(ctx context.Context, actor Actor, id string) error {
	return c.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := c.store.Products.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if p.FarmerID != actor.UserID {
			return ErrForbidden
		}
		return c.store.Products.Delete(ctx, id)
	})
}

func (c *Catalog) List(ctx context.Context) ([]domain.Product, error) {
	return c.store.Products.List(ctx)
}

// Mine lists the farmer's own products, newest first.
func (c *Catalog) Mine(ctx context.Context, actor Actor) ([]domain.Product, error) {
	if actor.Role != RoleFarmer {
		return nil, ErrForbidden
	}
	return c.store.Products.ListByFarmer(ctx, actor.UserID)
}
