package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/farmlink/market-api/internal/adapter/http/middleware"
	"github.com/farmlink/market-api/internal/logging"
	"github.com/farmlink/market-api/internal/usecase"
)

// WebhookHandler accepts signed gateway callbacks and hands them to the payment event queue.
type WebhookHandler struct {
	queue   usecase.PaymentEventQueue
	errs    ErrorWriter
	timeout time.Duration
	now     func() time.Time
}

func NewWebhookHandler(queue usecase.PaymentEventQueue, errs ErrorWriter, timeout time.Duration) *WebhookHandler {
	return &WebhookHandler{queue: queue, errs: errs, timeout: timeout, now: time.Now}
}

type webhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
	} `json:"data"`
}

func (h *WebhookHandler) Handle(c *gin.Context) {
	var ev webhookEvent
	if err := json.Unmarshal(middleware.RawBody(c), &ev); err != nil {
		h.errs.BadRequest(c, err)
		return
	}
	l := logging.From(c).With("event", ev.Event, "reference", ev.Data.Reference)

	switch ev.Event {
	case usecase.PaymentEventChargeSuccess, usecase.PaymentEventChargeFailed:
	default:
		// acknowledged so the gateway stops resending events we do not handle
		l.Debug("webhook event ignored")
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}
	if ev.Data.Reference == "" {
		h.errs.BadRequest(c, nil)
		return
	}

	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	err := h.queue.PublishPaymentEvent(ctx, usecase.PaymentEventMsg{
		Event:      ev.Event,
		Reference:  ev.Data.Reference,
		ReceivedAt: h.now().UTC(),
	})
	if err != nil {
		// non-2xx makes the gateway retry delivery
		l.Error("webhook publish failed", "err", err)
		h.errs.Write(c, err)
		return
	}
	l.Info("webhook accepted")
	c.JSON(http.StatusOK, gin.H{"received": true})
}
