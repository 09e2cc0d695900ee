package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/farmlink/market-api/internal/adapter/http/middleware"
	"github.com/farmlink/market-api/internal/security"
	"github.com/farmlink/market-api/internal/usecase"
)

const defaultTimeout = 5 * time.Second

func principal(c *gin.Context) (security.Principal, bool) {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "missing principal"})
	}
	return p, ok
}

func actorOf(p security.Principal) usecase.Actor {
	return usecase.Actor{UserID: p.UserID, Role: usecase.Role(p.Role)}
}

func withTimeout(c *gin.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = defaultTimeout
	}
	return context.WithTimeout(c.Request.Context(), d)
}
