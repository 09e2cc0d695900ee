package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/farmlink/market-api/internal/usecase"
)

type DashboardHandler struct {
	dash    *usecase.FarmerDashboard
	errs    ErrorWriter
	timeout time.Duration
}

func NewDashboardHandler(dash *usecase.FarmerDashboard, errs ErrorWriter, timeout time.Duration) *DashboardHandler {
	return &DashboardHandler{dash: dash, errs: errs, timeout: timeout}
}

func (h *DashboardHandler) Stats(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	st, err := h.dash.Stats(ctx, actorOf(p))
	if err != nil {
		h.errs.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
