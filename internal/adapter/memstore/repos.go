package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	domain "github.com/farmlink/market-api/internal/entity"
	"github.com/farmlink/market-api/internal/usecase"
)

const (
	productPrefix      = "product/"
	cartPrefix         = "cart/"
	orderPrefix        = "order/"
	notificationPrefix = "notification/"
)

type ProductRepo Store

var _ usecase.ProductRepo = (*ProductRepo)(nil)

func (r *ProductRepo) Create(ctx context.Context, p *domain.Product) error {
	return (*Store)(r).run(ctx, func(t *tx) error {
		key := productPrefix + p.ID
		if _, err := t.get(key); err == nil {
			return fmt.Errorf("product %s: %w", p.ID, domain.ErrConflict)
		}
		p.Version = 1
		t.put(key, *p)
		return nil
	})
}

func (r *ProductRepo) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	var out *domain.Product
	err := (*Store)(r).run(ctx, func(t *tx) error {
		v, err := t.get(productPrefix + id)
		if err != nil {
			return err
		}
		p := v.(domain.Product)
		out = &p
		return nil
	})
	return out, err
}

func (r *ProductRepo) DecrementStock(ctx context.Context, id string, qty, version int64) error {
	return r.adjust(ctx, id, -qty, version)
}

func (r *ProductRepo) IncrementStock(ctx context.Context, id string, qty, version int64) error {
	return r.adjust(ctx, id, qty, version)
}

func (r *ProductRepo) adjust(ctx context.Context, id string, delta, version int64) error {
	if delta == 0 {
		return domain.ErrInvalidAmount
	}
	return (*Store)(r).run(ctx, func(t *tx) error {
		key := productPrefix + id
		v, err := t.get(key)
		if err != nil {
			return err
		}
		p := v.(domain.Product)
		if p.Version != version || p.Quantity+delta < 0 {
			return domain.ErrConflict
		}
		p.Quantity += delta
		p.Version++
		t.put(key, p)
		return nil
	})
}

func (r *ProductRepo) Update(ctx context.Context, p *domain.Product) error {
	return (*Store)(r).run(ctx, func(t *tx) error {
		key := productPrefix + p.ID
		v, err := t.get(key)
		if err != nil {
			return err
		}
		cur := v.(domain.Product)
		if cur.Version != p.Version {
			return domain.ErrConflict
		}
		cur.Name, cur.Price, cur.Quantity = p.Name, p.Price, p.Quantity
		cur.Version++
		t.put(key, cur)
		*p = cur
		return nil
	})
}

func (r *ProductRepo) Delete(ctx context.Context, id string) error {
	return (*Store)(r).run(ctx, func(t *tx) error {
		key := productPrefix + id
		if _, err := t.get(key); err != nil {
			return err
		}
		t.del(key)
		return nil
	})
}

func (r *ProductRepo) List(ctx context.Context) ([]domain.Product, error) {
	return r.list(ctx, func(*domain.Product) bool { return true })
}

func (r *ProductRepo) ListByFarmer(ctx context.Context, farmerID string) ([]domain.Product, error) {
	return r.list(ctx, func(p *domain.Product) bool { return p.FarmerID == farmerID })
}

func (r *ProductRepo) list(ctx context.Context, match func(*domain.Product) bool) ([]domain.Product, error) {
	out := []domain.Product{}
	err := (*Store)(r).run(ctx, func(t *tx) error {
		t.scan(productPrefix, func(v any) {
			if p := v.(domain.Product); match(&p) {
				out = append(out, p)
			}
		})
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, err
}

// Put replaces a product as is; used to seed fixtures and to reprice in tests.
func (r *ProductRepo) Put(p domain.Product) {
	_ = (*Store)(r).run(context.Background(), func(t *tx) error {
		t.put(productPrefix+p.ID, p)
		return nil
	})
}

type CartRepo Store

var _ usecase.CartRepo = (*CartRepo)(nil)

func (r *CartRepo) GetByUser(ctx context.Context, userID string) (*domain.Cart, error) {
	var out *domain.Cart
	err := (*Store)(r).run(ctx, func(t *tx) error {
		v, err := t.get(cartPrefix + userID)
		if err != nil {
			return err
		}
		c := v.(domain.Cart).Clone()
		out = &c
		return nil
	})
	return out, err
}

func (r *CartRepo) Save(ctx context.Context, c *domain.Cart) error {
	return (*Store)(r).run(ctx, func(t *tx) error {
		key := cartPrefix + c.UserID
		cur, err := t.get(key)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			if c.Version != 0 {
				return domain.ErrConflict
			}
		case err != nil:
			return err
		case cur.(domain.Cart).Version != c.Version:
			return domain.ErrConflict
		}
		c.Version++
		t.put(key, c.Clone())
		return nil
	})
}

func (r *CartRepo) DeleteByUser(ctx context.Context, userID string) error {
	return (*Store)(r).run(ctx, func(t *tx) error {
		t.del(cartPrefix + userID)
		return nil
	})
}

type OrderRepo Store

var _ usecase.OrderRepo = (*OrderRepo)(nil)

func (r *OrderRepo) Create(ctx context.Context, o *domain.Order) error {
	return (*Store)(r).run(ctx, func(t *tx) error {
		key := orderPrefix + o.ID
		if _, err := t.get(key); err == nil {
			return fmt.Errorf("order %s: %w", o.ID, domain.ErrConflict)
		}
		o.Version = 1
		t.put(key, o.Clone())
		return nil
	})
}

func (r *OrderRepo) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	var out *domain.Order
	err := (*Store)(r).run(ctx, func(t *tx) error {
		v, err := t.get(orderPrefix + id)
		if err != nil {
			return err
		}
		o := v.(domain.Order).Clone()
		out = &o
		return nil
	})
	return out, err
}

func (r *OrderRepo) Update(ctx context.Context, o *domain.Order) error {
	return (*Store)(r).run(ctx, func(t *tx) error {
		key := orderPrefix + o.ID
		v, err := t.get(key)
		if err != nil {
			return err
		}
		if v.(domain.Order).Version != o.Version {
			return domain.ErrConflict
		}
		o.Version++
		t.put(key, o.Clone())
		return nil
	})
}

func (r *OrderRepo) ListByBuyer(ctx context.Context, buyerID string) ([]domain.Order, error) {
	return r.list(ctx, func(o *domain.Order) bool { return o.BuyerID == buyerID })
}

func (r *OrderRepo) ListByFarmer(ctx context.Context, farmerID string) ([]domain.Order, error) {
	return r.list(ctx, func(o *domain.Order) bool { return o.HasFarmer(farmerID) })
}

func (r *OrderRepo) list(ctx context.Context, match func(*domain.Order) bool) ([]domain.Order, error) {
	out := []domain.Order{}
	err := (*Store)(r).run(ctx, func(t *tx) error {
		t.scan(orderPrefix, func(v any) {
			o := v.(domain.Order)
			if match(&o) {
				out = append(out, o.Clone())
			}
		})
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, err
}

// CountOrders is a test helper.
func (s *Store) CountOrders() int {
	n := 0
	_ = s.run(context.Background(), func(t *tx) error {
		t.scan(orderPrefix, func(any) { n++ })
		return nil
	})
	return n
}

type NotificationRepo Store

var _ usecase.NotificationRepo = (*NotificationRepo)(nil)

func cloneNotification(n domain.Notification) domain.Notification {
	if n.Metadata != nil {
		m := make(map[string]string, len(n.Metadata))
		for k, v := range n.Metadata {
			m[k] = v
		}
		n.Metadata = m
	}
	return n
}

func (r *NotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	return (*Store)(r).run(ctx, func(t *tx) error {
		t.put(notificationPrefix+n.ID, cloneNotification(*n))
		return nil
	})
}

func (r *NotificationRepo) ListUnread(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	out := []domain.Notification{}
	err := (*Store)(r).run(ctx, func(t *tx) error {
		t.scan(notificationPrefix, func(v any) {
			n := v.(domain.Notification)
			if n.UserID == userID && !n.Read {
				out = append(out, cloneNotification(n))
			}
		})
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r *NotificationRepo) MarkRead(ctx context.Context, id, userID string) (*domain.Notification, error) {
	var out *domain.Notification
	err := (*Store)(r).run(ctx, func(t *tx) error {
		key := notificationPrefix + id
		v, err := t.get(key)
		if err != nil {
			return err
		}
		n := cloneNotification(v.(domain.Notification))
		if n.UserID != userID {
			return domain.ErrNotFound
		}
		n.Read = true
		t.put(key, n)
		out = &n
		return nil
	})
	return out, err
}

func (r *NotificationRepo) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := (*Store)(r).run(ctx, func(t *tx) error {
		var ids []string
		t.scan(notificationPrefix, func(v any) {
			if note := v.(domain.Notification); note.UserID == userID && !note.Read {
				ids = append(ids, note.ID)
			}
		})
		for _, id := range ids {
			key := notificationPrefix + id
			v, err := t.get(key)
			if err != nil {
				return err
			}
			note := cloneNotification(v.(domain.Notification))
			note.Read = true
			t.put(key, note)
		}
		n = int64(len(ids))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *NotificationRepo) Delete(ctx context.Context, id, userID string) error {
	return (*Store)(r).run(ctx, func(t *tx) error {
		key := notificationPrefix + id
		v, err := t.get(key)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if v.(domain.Notification).UserID != userID {
			return nil
		}
		t.del(key)
		return nil
	})
}
