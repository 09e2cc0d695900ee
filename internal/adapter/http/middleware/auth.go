package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/farmlink/market-api/internal/logging"
	"github.com/farmlink/market-api/internal/security"
)

const principalKey = "principal"

type Authn struct {
	tokens *security.Tokens
}

func NewAuthn(tokens *security.Tokens) *Authn {
	return &Authn{tokens: tokens}
}

// Authenticate checks the bearer JWT and stores the caller in the gin context.
func (a *Authn) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			unauth(c, "invalid_request", "missing bearer token")
			return
		}

		p, err := a.tokens.Parse(strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			unauth(c, "invalid_token", "invalid jwt")
			return
		}

		c.Set(principalKey, p)
		logging.With(c, logging.From(c).With("user_id", p.UserID, "role", p.Role))
		c.Next()
	}
}

// RequireRole must run after Authenticate.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok {
			unauth(c, "invalid_request", "missing bearer token")
			return
		}
		if p.Role != role {
			forbidden(c, "insufficient_scope", "requires role "+role)
			return
		}
		c.Next()
	}
}

func PrincipalFrom(c *gin.Context) (security.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return security.Principal{}, false
	}
	p, ok := v.(security.Principal)
	return p, ok
}

func unauth(c *gin.Context, code, desc string) {
	c.Header("WWW-Authenticate", `Bearer error="`+code+`", error_description="`+desc+`"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": desc})
}

func forbidden(c *gin.Context, code, desc string) {
	c.Header("WWW-Authenticate", `Bearer error="`+code+`", error_description="`+desc+`"`)
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": desc})
}
