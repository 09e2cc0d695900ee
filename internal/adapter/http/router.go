package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/farmlink/market-api/internal/adapter/http/middleware"
	"github.com/farmlink/market-api/internal/logging"
	"github.com/farmlink/market-api/internal/security"
)

type RouterDeps struct {
	Orders        *OrderHandler
	Cart          *CartHandler
	Products      *ProductHandler
	Notifications *NotificationHandler
	Dashboard     *DashboardHandler
	Webhook       *WebhookHandler
	// Tokens is optional; set only in dev.
	Tokens     *TokenHandler
	Authn      *middleware.Authn
	Signatures *security.WebhookVerifier
	// Ready reports dependency health for /healthz.
	Ready  func(ctx context.Context) error
	Logger *slog.Logger
}

func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.MetricsMiddleware())

	l := d.Logger
	if l == nil {
		l = logging.New("http")
	}
	r.Use(middleware.Logging(l))

	r.GET("/healthz", func(c *gin.Context) {
		if d.Ready != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := d.Ready(ctx); err != nil {
				logging.From(c).Warn("health check failed", "err", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	// Prometheus endpoint (scraped by Prometheus)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if d.Tokens != nil {
		r.POST("/dev/token", d.Tokens.IssueToken)
	}

	auth := d.Authn.Authenticate()
	farmer := middleware.RequireRole(security.RoleFarmer)

	orders := r.Group("/orders", auth)
	{
		orders.POST("", d.Orders.CreateOrder)
		orders.GET("/my-orders", d.Orders.MyOrders)
		orders.GET("/farmer-orders", farmer, d.Orders.FarmerOrders)
		orders.GET("/recent", d.Orders.Recent)
		orders.GET("/verify-payment/:reference", d.Orders.VerifyPayment)
		orders.GET("/:id", d.Orders.GetOrderByID)
		orders.PATCH("/:id/status", farmer, d.Orders.UpdateStatus)
	}

	cart := r.Group("/cart", auth)
	{
		cart.GET("", d.Cart.Get)
		cart.DELETE("", d.Cart.Clear)
		cart.POST("/items", d.Cart.AddItem)
		cart.PUT("/items/:productId", d.Cart.UpdateItem)
		cart.DELETE("/items/:productId", d.Cart.RemoveItem)
	}

	products := r.Group("/products")
	{
		products.GET("/public", d.Products.List)
		products.GET("/public/:id", d.Products.Get)
		products.GET("/my-products", auth, farmer, d.Products.Mine)
		products.GET("/:id", d.Products.Get)
		products.POST("", auth, farmer, d.Products.Create)
		products.PUT("/:id", auth, farmer, d.Products.Update)
		products.DELETE("/:id", auth, farmer, d.Products.Delete)
		products.POST("/:id/stock", auth, farmer, d.Products.AddStock)
	}

	notifications := r.Group("/notifications", auth)
	{
		notifications.GET("", d.Notifications.Unread)
		notifications.PATCH("/mark-all-read", d.Notifications.MarkAllRead)
		notifications.PATCH("/:id/read", d.Notifications.MarkRead)
		notifications.DELETE("/:id", d.Notifications.Delete)
	}

	r.GET("/farmer/dashboard-stats", auth, farmer, d.Dashboard.Stats)

	r.POST("/payments/webhook", middleware.WebhookSignature(d.Signatures), d.Webhook.Handle)

	return r
}
