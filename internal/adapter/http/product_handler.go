package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/farmlink/market-api/internal/usecase"
)

type ProductHandler struct {
	catalog *usecase.Catalog
	errs    ErrorWriter
	timeout time.Duration
}

func NewProductHandler(catalog *usecase.Catalog, errs ErrorWriter, timeout time.Duration) *ProductHandler {
	return &ProductHandler{catalog: catalog, errs: errs, timeout: timeout}
}

type createProductReq struct {
	Name     string `json:"name" binding:"required"`
	Price    int64  `json:"price" binding:"required,gt=0"`
	Quantity int64  `json:"quantity" binding:"gte=0"`
}

type updateProductReq struct {
	Name     string `json:"name" binding:"required"`
	Price    int64  `json:"price" binding:"required,gt=0"`
	Quantity int64  `json:"quantity" binding:"gte=0"`
}

type addStockReq struct {
	Quantity int64 `json:"quantity" binding:"required,gt=0"`
}

func (h *ProductHandler) Create(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req createProductReq
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errs.BadRequest(c, err)
		return
	}
	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	prod, err := h.catalog.Create(ctx, actorOf(p), usecase.CreateProductInput{
		Name:     req.Name,
		Price:    req.Price,
		Quantity: req.Quantity,
	})
	if err != nil {
		h.errs.Write(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"product": prod})
}

func (h *ProductHandler) Get(c *gin.Context) {
	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	prod, err := h.catalog.Get(ctx, c.Param("id"))
	if err != nil {
		h.errs.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": prod})
}

func (h *ProductHandler) AddStock(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req addStockReq
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errs.BadRequest(c, err)
		return
	}
	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	prod, err := h.catalog.AddStock(ctx, actorOf(p), c.Param("id"), req.Quantity)
	if err != nil {
		h.errs.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": prod})
}

func (h *ProductHandler) Update(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req updateProductReq
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errs.BadRequest(c, err)
		return
	}
	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	prod, err := h.catalog.Update(ctx, actorOf(p), c.Param("id"), usecase.UpdateProductInput{
		Name:     req.Name,
		Price:    req.Price,
		Quantity: req.Quantity,
	})
	if err != nil {
		h.errs.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": prod})
}

func (h *ProductHandler) Delete(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	if err := h.catalog.Delete(ctx, actorOf(p), c.Param("id")); err != nil {
		h.errs.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "product deleted"})
}

// List is the public catalog.
func (h *ProductHandler) List(c *gin.Context) {
	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	list, err := h.catalog.List(ctx)
	if err != nil {
		h.errs.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": list, "count": len(list)})
}

func (h *ProductHandler) Mine(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	list, err := h.catalog.Mine(ctx, actorOf(p))
	if err != nil {
		h.errs.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": list, "count": len(list)})
}
