package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/farmlink/market-api/internal/logging"
	"github.com/farmlink/market-api/internal/security"
)

const (
	SignatureHeader = "x-paystack-signature"
	rawBodyKey      = "raw_body"
	webhookBodyMax  = 1 << 20 // 1MB
)

// WebhookSignature rejects callbacks whose HMAC over the raw body does not match the header.
// The verified body is kept in the context and restored for the handler.
func WebhookSignature(v *security.WebhookVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, truncated := readCapped(c.Request.Body, webhookBodyMax)
		if truncated {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload_too_large", "message": "webhook body too large"})
			return
		}

		if !v.Verify(raw, c.GetHeader(SignatureHeader)) {
			logging.From(c).Warn("webhook signature rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature", "message": "signature verification failed"})
			return
		}

		c.Set(rawBodyKey, raw)
		c.Request.Body = io.NopCloser(bytes.NewReader(raw))
		c.Next()
	}
}

func RawBody(c *gin.Context) []byte {
	if v, ok := c.Get(rawBodyKey); ok {
		if b, ok := v.([]byte); ok {
			return b
		}
	}
	return nil
}
