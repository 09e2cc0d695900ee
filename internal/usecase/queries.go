package usecase

import (
	"context"
	"errors"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	domain "github.com/farmlink/market-api/internal/entity"
	"github.com/farmlink/market-api/internal/logging"
)

const loadTimeout = 5 * time.Second

type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleFarmer Role = "farmer"
)

type Actor struct {
	UserID string
	Role   Role
}

type BuyerStats struct {
	Count      int   `json:"count"`
	TotalSpent int64 `json:"totalSpent"`
}

// OrderQueries serves the read side of orders.
type OrderQueries struct {
	orders OrderRepo
	cache  OrderCache
	loads  singleflight.Group
}

func NewOrderQueries(orders OrderRepo, cache OrderCache) *OrderQueries {
	return &OrderQueries{orders: orders, cache: cache}
}

// Get returns the order to its buyer or to a farmer with a line in it.
func (q *OrderQueries) Get(ctx context.Context, actor Actor, id string) (*domain.Order, error) {
	o, err := q.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.BuyerID != actor.UserID && !o.HasFarmer(actor.UserID) {
		return nil, ErrForbidden
	}
	return o, nil
}

func (q *OrderQueries) load(ctx context.Context, id string) (*domain.Order, error) {
	if q.cache != nil {
		if o, ok, err := q.cache.Get(ctx, id); err != nil {
			logging.FromCtx(ctx).Warn("order cache read failed", "order_id", id, "err", err)
		} else if ok {
			return o, nil
		}
	}
	// concurrent misses for the same order share one store read, detached from
	// whichever caller happened to start it
	ch := q.loads.DoChan(id, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return q.fill(lctx, id)
	})
	var r singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r = <-ch:
	}
	if errors.Is(r.Err, domain.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if r.Err != nil {
		return nil, r.Err
	}
	o := r.Val.(*domain.Order).Clone()
	return &o, nil
}

// fill reads the order and caches it. A writer may commit and invalidate between
// the read and the Set, so the version is checked again afterwards and the entry
// dropped if it moved.
func (q *OrderQueries) fill(ctx context.Context, id string) (*domain.Order, error) {
	o, err := q.orders.GetByID(ctx, id)
	if err != nil || q.cache == nil {
		return o, err
	}
	log := logging.FromCtx(ctx)
	if err := q.cache.Set(ctx, o); err != nil {
		log.Warn("order cache write failed", "order_id", id, "err", err)
		return o, nil
	}
	cur, err := q.orders.GetByID(ctx, id)
	if err == nil && cur.Version == o.Version {
		return o, nil
	}
	if err := q.cache.Invalidate(ctx, id); err != nil {
		log.Warn("order cache invalidate failed", "order_id", id, "err", err)
	}
	if err == nil {
		return cur, nil
	}
	return o, nil
}

// ListForBuyer returns the buyer's orders, newest first.
func (q *OrderQueries) ListForBuyer(ctx context.Context, buyerID string) ([]domain.Order, error) {
	orders, err := q.orders.ListByBuyer(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	newestFirst(orders)
	return orders, nil
}

// ListForFarmer returns orders containing the farmer's products with the other sellers'
// lines removed and the total recomputed from purchase prices.
func (q *OrderQueries) ListForFarmer(ctx context.Context, actor Actor) ([]domain.Order, error) {
	if actor.Role != RoleFarmer {
		return nil, ErrForbidden
	}
	orders, err := q.orders.ListByFarmer(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	out := orders[:0]
	for _, o := range orders {
		var items []domain.OrderItem
		var total int64
		for _, it := range o.Items {
			if it.FarmerID == actor.UserID {
				items = append(items, it)
				total += it.Subtotal()
			}
		}
		if len(items) == 0 {
			continue
		}
		o.Items, o.TotalPrice = items, total
		out = append(out, o)
	}
	newestFirst(out)
	return out, nil
}

func (q *OrderQueries) BuyerStats(ctx context.Context, buyerID string) (BuyerStats, error) {
	orders, err := q.orders.ListByBuyer(ctx, buyerID)
	if err != nil {
		return BuyerStats{}, err
	}
	st := BuyerStats{Count: len(orders)}
	for _, o := range orders {
		if o.Status != domain.StatusCancelled {
			st.TotalSpent += o.TotalPrice
		}
	}
	return st, nil
}

func newestFirst(orders []domain.Order) {
	sort.SliceStable(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
}
