package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/farmlink/market-api/internal/security"
)

// TokenHandler mints bearer tokens for local development. It is only routed when app.env is dev.
type TokenHandler struct {
	tokens *security.Tokens
	errs   ErrorWriter
}

func NewTokenHandler(tokens *security.Tokens, errs ErrorWriter) *TokenHandler {
	return &TokenHandler{tokens: tokens, errs: errs}
}

type issueTokenReq struct {
	UserID string `json:"userId" binding:"required"`
	Role   string `json:"role" binding:"required,oneof=buyer farmer"`
	Email  string `json:"email"`
}

// POST /dev/token
func (h *TokenHandler) IssueToken(c *gin.Context) {
	var req issueTokenReq
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errs.BadRequest(c, err)
		return
	}

	signed, err := h.tokens.Issue(security.Principal{UserID: req.UserID, Role: req.Role, Email: req.Email})
	if err != nil {
		h.errs.BadRequest(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": signed,
		"token_type":   "Bearer",
		"expires_in":   int(h.tokens.TTL().Seconds()),
	})
}
