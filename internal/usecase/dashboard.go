package usecase

import (
	"context"

	domain "github.com/farmlink/market-api/internal/entity"
)

const recentOrdersOnDashboard = 5

type DashboardStats struct {
	TotalProducts  int            `json:"totalProducts"`
	ActiveOrders   int            `json:"activeOrders"`
	TotalEarnings  int64          `json:"totalEarnings"`
	TotalCustomers int            `json:"totalCustomers"`
	RecentOrders   []domain.Order `json:"recentOrders"`
}

// FarmerDashboard summarizes a farmer's catalog and sales. Orders are seen
// through ListForFarmer, so totals only count the farmer's own lines.
type FarmerDashboard struct {
	products ProductRepo
	orders   *OrderQueries
}

func NewFarmerDashboard(products ProductRepo, orders *OrderQueries) *FarmerDashboard {
	return &FarmerDashboard{products: products, orders: orders}
}

func (d *FarmerDashboard) Stats(ctx context.Context, actor Actor) (DashboardStats, error) {
	if actor.Role != RoleFarmer {
		return DashboardStats{}, ErrForbidden
	}
	products, err := d.products.ListByFarmer(ctx, actor.UserID)
	if err != nil {
		return DashboardStats{}, err
	}
	orders, err := d.orders.ListForFarmer(ctx, actor)
	if err != nil {
		return DashboardStats{}, err
	}
	st := DashboardStats{TotalProducts: len(products)}
	buyers := make(map[string]struct{})
	for _, o := range orders {
		buyers[o.BuyerID] = struct{}{}
		if !o.Status.Terminal() {
			st.ActiveOrders++
		}
		// cancelled orders never paid out
		if o.Status != domain.StatusCancelled {
			st.TotalEarnings += o.TotalPrice
		}
	}
	st.TotalCustomers = len(buyers)
	if len(orders) > recentOrdersOnDashboard {
		orders = orders[:recentOrdersOnDashboard]
	}
	st.RecentOrders = orders
	return st, nil
}
