package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/farmlink/market-api/internal/usecase"
)

type NotificationHandler struct {
	inbox   *usecase.Inbox
	errs    ErrorWriter
	timeout time.Duration
}

func NewNotificationHandler(inbox *usecase.Inbox, errs ErrorWriter, timeout time.Duration) *NotificationHandler {
	return &NotificationHandler{inbox: inbox, errs: errs, timeout: timeout}
}

func (h *NotificationHandler) Unread(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	list, err := h.inbox.Unread(ctx, p.UserID)
	if err != nil {
		h.errs.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list, "count": len(list)})
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	n, err := h.inbox.MarkRead(ctx, p.UserID, c.Param("id"))
	if err != nil {
		h.errs.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notification": n})
}

func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	n, err := h.inbox.MarkAllRead(ctx, p.UserID)
	if err != nil {
		h.errs.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

func (h *NotificationHandler) Delete(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	ctx, cancel := withTimeout(c, h.timeout)
	defer cancel()

	if err := h.inbox.Delete(ctx, p.UserID, c.Param("id")); err != nil {
		h.errs.Write(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
