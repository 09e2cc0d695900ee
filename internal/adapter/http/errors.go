package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	domain "github.com/farmlink/market-api/internal/entity"
	"github.com/farmlink/market-api/internal/logging"
	"github.com/farmlink/market-api/internal/usecase"
)

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorWriter renders use case errors as {"error", "message"}; details are added in dev only.
type ErrorWriter struct {
	Dev bool
}

type errMapping struct {
	target error
	status int
	code   string
}

// first match wins; ConflictError is checked before the generic sentinels.
var errTable = []errMapping{
	{usecase.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{usecase.ErrForbidden, http.StatusForbidden, "forbidden"},
	{usecase.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{usecase.ErrDuplicateRequest, http.StatusConflict, "duplicate_request"},
	{domain.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{domain.ErrConflict, http.StatusConflict, "conflict"},
	{usecase.ErrCartEmpty, http.StatusBadRequest, "cart_empty"},
	{usecase.ErrOutOfStock, http.StatusBadRequest, "out_of_stock"},
	{usecase.ErrProductUnavailable, http.StatusBadRequest, "product_unavailable"},
	{usecase.ErrPaymentInit, http.StatusBadRequest, "payment_init_failed"},
	{usecase.ErrAmountMismatch, http.StatusBadRequest, "amount_mismatch"},
	{usecase.ErrInvalidMetadata, http.StatusBadRequest, "invalid_metadata"},
	{usecase.ErrValidation, http.StatusBadRequest, "validation_error"},
	{domain.ErrInvalidShipping, http.StatusBadRequest, "validation_error"},
	{domain.ErrInvalidAmount, http.StatusBadRequest, "validation_error"},
	{domain.ErrInvalidProduct, http.StatusBadRequest, "validation_error"},
	{usecase.ErrGateway, http.StatusBadGateway, "gateway_error"},
}

func classify(err error) (int, string) {
	var ce *usecase.ConflictError
	if errors.As(err, &ce) {
		return http.StatusConflict, "conflict"
	}
	for _, m := range errTable {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

func (w ErrorWriter) Write(c *gin.Context, err error) {
	status, code := classify(err)
	_ = c.Error(err)

	body := apiError{Error: code, Message: err.Error()}
	if status >= http.StatusInternalServerError {
		logging.From(c).Error("request failed", "err", err)
		if status == http.StatusInternalServerError {
			body.Message = "internal server error"
		}
	}

	if w.Dev {
		details := gin.H{"cause": err.Error()}
		var oos *usecase.OutOfStockError
		if errors.As(err, &oos) {
			details["productId"] = oos.ProductID
			details["requested"] = oos.Requested
			details["available"] = oos.Available
		}
		var ce *usecase.ConflictError
		if errors.As(err, &ce) {
			details["operation"] = ce.Op
			details["attempts"] = ce.Attempts
		}
		body.Details = details
	}
	c.AbortWithStatusJSON(status, body)
}

// BadRequest reports an unparseable request body.
func (w ErrorWriter) BadRequest(c *gin.Context, err error) {
	body := apiError{Error: "bad_request", Message: "invalid request body"}
	if w.Dev && err != nil {
		body.Details = gin.H{"cause": err.Error()}
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, body)
}
