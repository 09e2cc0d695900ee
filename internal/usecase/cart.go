package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/farmlink/market-api/internal/entity"
	"github.com/farmlink/market-api/internal/logging"
)

type CartLine struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int64  `json:"quantity"`
	Available int64  `json:"available"`
	Subtotal  int64  `json:"subtotal"`
}

type CartView struct {
	UserID string     `json:"userId"`
	Items  []CartLine `json:"items"`
	Total  int64      `json:"total"`
}

// Cart manages the buyer's cart. It only reads stock, it never changes it.
type Cart struct {
	store Store
	retry RetryPolicy
	now   func() time.Time
}

func NewCart(store Store, retry RetryPolicy) *Cart {
	return &Cart{store: store, retry: retry, now: time.Now}
}

// View drops lines whose product vanished and clamps the rest to current stock,
// persisting the cart when anything changed.
func (uc *Cart) View(ctx context.Context, userID string) (CartView, error) {
	var view CartView
	err := uc.mutate(ctx, "cart_view", userID, func(ctx context.Context, c *domain.Cart) (bool, error) {
		lines, changed, err := uc.reconcile(ctx, c)
		if err != nil {
			return false, err
		}
		view = newCartView(userID, lines)
		return changed, nil
	})
	return view, err
}

func (uc *Cart) AddItem(ctx context.Context, userID, productID string, qty int64) (CartView, error) {
	if qty < 1 || qty > domain.MaxCartItemQuantity {
		return CartView{}, validationf("quantity must be between 1 and %d", domain.MaxCartItemQuantity)
	}
	return uc.change(ctx, "cart_add", userID, func(ctx context.Context, c *domain.Cart) error {
		p, err := uc.product(ctx, productID)
		if err != nil {
			return err
		}
		want := qty
		i, found := c.Find(productID)
		if found {
			want += c.Items[i].Quantity
		}
		if want > domain.MaxCartItemQuantity {
			return validationf("at most %d units of a product per cart", domain.MaxCartItemQuantity)
		}
		if want > p.Quantity {
			return &OutOfStockError{ProductID: p.ID, Requested: want, Available: p.Quantity}
		}
		if found {
			c.Items[i].Quantity = want
		} else {
			c.Items = append(c.Items, domain.CartItem{ProductID: productID, Quantity: want, AddedAt: uc.now().UTC()})
		}
		return nil
	})
}

func (uc *Cart) UpdateItem(ctx context.Context, userID, productID string, qty int64) (CartView, error) {
	if qty < 1 || qty > domain.MaxCartItemQuantity {
		return CartView{}, validationf("quantity must be between 1 and %d", domain.MaxCartItemQuantity)
	}
	return uc.change(ctx, "cart_update", userID, func(ctx context.Context, c *domain.Cart) error {
		i, found := c.Find(productID)
		if !found {
			return fmt.Errorf("%w: product %s is not in the cart", domain.ErrNotFound, productID)
		}
		p, err := uc.product(ctx, productID)
		if err != nil {
			return err
		}
		if qty > p.Quantity {
			return &OutOfStockError{ProductID: p.ID, Requested: qty, Available: p.Quantity}
		}
		c.Items[i].Quantity = qty
		return nil
	})
}

func (uc *Cart) RemoveItem(ctx context.Context, userID, productID string) (CartView, error) {
	return uc.change(ctx, "cart_remove", userID, func(_ context.Context, c *domain.Cart) error {
		if !c.Remove(productID) {
			return fmt.Errorf("%w: product %s is not in the cart", domain.ErrNotFound, productID)
		}
		return nil
	})
}

func (uc *Cart) Clear(ctx context.Context, userID string) error {
	return uc.store.Carts.DeleteByUser(ctx, userID)
}

// change applies fn to the (possibly new) cart, saves it and returns the reconciled view.
func (uc *Cart) change(ctx context.Context, op, userID string, fn func(context.Context, *domain.Cart) error) (CartView, error) {
	var view CartView
	err := uc.mutate(ctx, op, userID, func(ctx context.Context, c *domain.Cart) (bool, error) {
		if err := fn(ctx, c); err != nil {
			return false, err
		}
		lines, _, err := uc.reconcile(ctx, c)
		if err != nil {
			return false, err
		}
		view = newCartView(userID, lines)
		return true, nil
	})
	return view, err
}

func (uc *Cart) mutate(ctx context.Context, op, userID string, fn func(context.Context, *domain.Cart) (bool, error)) error {
	if userID == "" {
		return ErrUnauthorized
	}
	return uc.retry.Do(ctx, op, func(ctx context.Context) error {
		return uc.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
			c, err := uc.store.Carts.GetByUser(ctx, userID)
			if errors.Is(err, domain.ErrNotFound) {
				c = &domain.Cart{UserID: userID}
			} else if err != nil {
				return err
			}
			dirty, err := fn(ctx, c)
			if err != nil || !dirty {
				return err
			}
			c.UpdatedAt = uc.now().UTC()
			return uc.store.Carts.Save(ctx, c)
		})
	})
}

func (uc *Cart) product(ctx context.Context, id string) (*domain.Product, error) {
	p, err := uc.store.Products.GetByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrProductUnavailable, id)
	}
	return p, err
}

// reconcile joins cart lines with current products, dropping and clamping in place.
func (uc *Cart) reconcile(ctx context.Context, c *domain.Cart) ([]CartLine, bool, error) {
	var (
		lines   []CartLine
		kept    = c.Items[:0]
		changed bool
	)
	for _, it := range c.Items {
		p, err := uc.store.Products.GetByID(ctx, it.ProductID)
		if errors.Is(err, domain.ErrNotFound) {
			logging.FromCtx(ctx).Debug("cart line dropped", "user_id", c.UserID, "product_id", it.ProductID)
			changed = true
			continue
		}
		if err != nil {
			return nil, false, err
		}
		if it.Quantity > p.Quantity {
			logging.FromCtx(ctx).Debug("cart line clamped to stock",
				"user_id", c.UserID, "product_id", it.ProductID, "from", it.Quantity, "to", p.Quantity)
			it.Quantity = p.Quantity
			changed = true
		}
		if it.Quantity < 1 {
			changed = true
			continue
		}
		kept = append(kept, it)
		lines = append(lines, CartLine{
			ProductID: p.ID,
			Name:      p.Name,
			Price:     p.Price,
			Quantity:  it.Quantity,
			Available: p.Quantity,
			Subtotal:  p.Price * it.Quantity,
		})
	}
	c.Items = kept
	return lines, changed, nil
}

func newCartView(userID string, lines []CartLine) CartView {
	v := CartView{UserID: userID, Items: lines}
	if v.Items == nil {
		v.Items = []CartLine{}
	}
	for _, l := range lines {
		v.Total += l.Subtotal
	}
	return v
}
