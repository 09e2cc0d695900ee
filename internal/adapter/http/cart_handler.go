package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/farmlink/market-api/internal/usecase"
)

type CartHandler struct {
	cart    *usecase.Cart
	errs    ErrorWriter
	timeout time.Duration
}

func NewCartHandler(cart *usecase.Cart, errs ErrorWriter, timeout time.Duration) *CartHandler {
	return &CartHandler{cart: cart, errs: errs, timeout: timeout}
}

type addItemReq struct {
	ProductID string `json:"productId" binding:"required"`
	Quantity  int64  `json:"quantity" binding:"required,gt=0"`
}

type updateItemReq struct {
	Quantity int64 `json:"quantity" binding:"required,gt=0"`
}

func (h *CartHandler) Get(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	view, err := h.cart.View(ctx, p.UserID)
	h.respond(c, view, err)
}

func (h *CartHandler) AddItem(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req addItemReq
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errs.BadRequest(c, err)
		return
	}
	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	view, err := h.cart.AddItem(ctx, p.UserID, req.ProductID, req.Quantity)
	h.respond(c, view, err)
}

func (h *CartHandler) UpdateItem(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req updateItemReq
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errs.BadRequest(c, err)
		return
	}
	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	view, err := h.cart.UpdateItem(ctx, p.UserID, c.Param("productId"), req.Quantity)
	h.respond(c, view, err)
}

func (h *CartHandler) RemoveItem(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	view, err := h.cart.RemoveItem(ctx, p.UserID, c.Param("productId"))
	h.respond(c, view, err)
}

func (h *CartHandler) Clear(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	if err := h.cart.Clear(ctx, p.UserID); err != nil {
		h.errs.Write(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CartHandler) respond(c *gin.Context, view usecase.CartView, err error) {
	if err != nil {
		h.errs.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cart": view})
}
