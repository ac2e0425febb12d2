package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	invoicedomain "github.com/nordbooks/varekost/internal/invoices/domain"
	pricedomain "github.com/nordbooks/varekost/internal/priceledger/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := err.Error()
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: "invalid value",
				},
			},
		}
	}

	switch {
	case errors.Is(err, pricedomain.ErrInvalidValidity):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "invalid_validity_window",
			Message: "the requested validity window would invert an existing record",
		}
	case errors.Is(err, pricedomain.ErrActivationConflict):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "a concurrent activation won the key, retry the request",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, invoicedomain.ErrInvalidStatus),
		errors.Is(err, invoicedomain.ErrInvoiceTerminal):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, pricedomain.ErrIncompleteKey),
		errors.Is(err, pricedomain.ErrInvalidPrice),
		errors.Is(err, pricedomain.ErrInvalidCurrency),
		errors.Is(err, pricedomain.ErrInvalidSupplier),
		errors.Is(err, pricedomain.ErrRecordInactive),
		errors.Is(err, invoicedomain.ErrInvalidInvoice),
		errors.Is(err, invoicedomain.ErrInvalidLine),
		errors.Is(err, invoicedomain.ErrNoLines):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, pricedomain.ErrNotFound),
		errors.Is(err, invoicedomain.ErrNotFound),
		errors.Is(err, invoicedomain.ErrLineNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorField(code string) string {
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

// classifyErrorForLog feeds the request logger's error_type/error_code fields.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= 500:
		return "internal", payload.Type
	case status == http.StatusNotFound:
		return "not_found", payload.Type
	case status == http.StatusConflict:
		return "conflict", payload.Type
	default:
		return "validation", payload.Type
	}
}
