package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	domain "github.com/farmlink/market-api/internal/entity"
	"github.com/farmlink/market-api/internal/usecase"
)

type OrderHandler struct {
	place   *usecase.PlaceOrder
	verify  *usecase.VerifyPayment
	status  *usecase.UpdateOrderStatus
	query   *usecase.OrderQueries
	errs    ErrorWriter
	timeout time.Duration
}

func NewOrderHandler(place *usecase.PlaceOrder, verify *usecase.VerifyPayment, status *usecase.UpdateOrderStatus,
	query *usecase.OrderQueries, errs ErrorWriter, timeout time.Duration) *OrderHandler {
	return &OrderHandler{place: place, verify: verify, status: status, query: query, errs: errs, timeout: timeout}
}

type createOrderReq struct {
	ShippingInfo  domain.ShippingAddress `json:"shippingInfo"`
	PaymentMethod string                 `json:"paymentMethod" binding:"required"`
	Email         string                 `json:"email"`
}

type createOrderResp struct {
	Order       *domain.Order `json:"order"`
	OrderNumber string        `json:"orderNumber"`
	RedirectURL string        `json:"redirectUrl,omitempty"`
	AccessCode  string        `json:"accessCode,omitempty"`
}

// CreateOrder handler: translate to use case input
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errs.BadRequest(c, err)
		return
	}

	idemKey := c.GetHeader("Idempotency-Key") // prevent duplicated requests
	if idemKey == "" {
		idemKey = c.GetHeader("X-Idempotency-Key")
	}
	email := p.Email
	if email == "" {
		email = strings.TrimSpace(req.Email)
	}

	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	out, err := h.place.Execute(ctx, usecase.PlaceOrderInput{
		UserID:         p.UserID,
		Email:          email,
		Shipping:       req.ShippingInfo,
		PaymentMethod:  req.PaymentMethod,
		IdempotencyKey: idemKey,
	})
	if err != nil {
		h.errs.Write(c, err)
		return
	}

	status := http.StatusCreated
	if out.Replayed {
		c.Header("Idempotent-Replayed", "true")
		status = http.StatusOK
	}
	c.JSON(status, createOrderResp{
		Order:       out.Order,
		OrderNumber: out.Order.OrderNumber(),
		RedirectURL: out.RedirectURL,
		AccessCode:  out.AccessCode,
	})
}

func (h *OrderHandler) GetOrderByID(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	o, err := h.query.Get(ctx, actorOf(p), c.Param("id"))
	if err != nil {
		h.errs.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}

func (h *OrderHandler) MyOrders(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	orders, err := h.query.ListForBuyer(ctx, p.UserID)
	if err != nil {
		h.errs.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

func (h *OrderHandler) FarmerOrders(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	orders, err := h.query.ListForFarmer(ctx, actorOf(p))
	if err != nil {
		h.errs.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

func (h *OrderHandler) Recent(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	stats, err := h.query.BuyerStats(ctx, p.UserID)
	if err != nil {
		h.errs.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// VerifyPayment is hit by the buyer after the gateway redirect.
func (h *OrderHandler) VerifyPayment(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	out, err := h.verify.Execute(ctx, c.Param("reference"))
	if err != nil {
		h.errs.Write(c, err)
		return
	}
	// settlement is idempotent, only the view is restricted to the buyer
	if out.Order.BuyerID != p.UserID {
		h.errs.Write(c, usecase.ErrForbidden)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": out.Order, "alreadyVerified": out.AlreadyVerified})
}

type updateStatusReq struct {
	Status string `json:"status" binding:"required"`
}

func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req updateStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errs.BadRequest(c, err)
		return
	}
	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	o, err := h.status.Execute(ctx, usecase.UpdateOrderStatusInput{
		OrderID: c.Param("id"),
		ActorID: p.UserID,
		Status:  req.Status,
	})
	if err != nil {
		h.errs.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}
