package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/dmitrymomot/newsletter/internal/auth"
	"github.com/dmitrymomot/newsletter/internal/command"
	"github.com/dmitrymomot/newsletter/internal/content"
	"github.com/dmitrymomot/newsletter/internal/engine"
	"github.com/dmitrymomot/newsletter/internal/newsletter"
	"github.com/dmitrymomot/newsletter/internal/tracking"
	"github.com/dmitrymomot/newsletter/middlewares"
)

// HTTPError is an error with everything needed to render a JSON error
// response.
type HTTPError struct {
	// Err is the underlying error (for logging, not exposed to users).
	Err error

	// Message is the user-facing error message.
	Message string

	// ErrorCode is a stable machine-readable code.
	ErrorCode string

	// Fields holds per-field validation messages.
	Fields map[string]string

	// Code is the HTTP status code.
	Code int
}

func (e *HTTPError) Error() string {
	return e.Message
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// HTTPErrorOption configures an HTTPError.
type HTTPErrorOption func(*HTTPError)

// NewHTTPError creates an HTTPError with the given status code and message.
func NewHTTPError(code int, message string, opts ...HTTPErrorOption) *HTTPError {
	e := &HTTPError{Code: code, Message: message}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func WithErrorCode(code string) HTTPErrorOption {
	return func(e *HTTPError) {
		e.ErrorCode = code
	}
}

func WithError(err error) HTTPErrorOption {
	return func(e *HTTPError) {
		e.Err = err
	}
}

func WithFields(fields map[string]string) HTTPErrorOption {
	return func(e *HTTPError) {
		e.Fields = fields
	}
}

func ErrBadRequest(message string, opts ...HTTPErrorOption) *HTTPError {
	return NewHTTPError(http.StatusBadRequest, message, opts...)
}

func ErrUnauthorized(message string, opts ...HTTPErrorOption) *HTTPError {
	return NewHTTPError(http.StatusUnauthorized, message, opts...)
}

func ErrUnprocessable(message string, opts ...HTTPErrorOption) *HTTPError {
	return NewHTTPError(http.StatusUnprocessableEntity, message, opts...)
}

func ErrInternal(message string, opts ...HTTPErrorOption) *HTTPError {
	return NewHTTPError(http.StatusInternalServerError, message, opts...)
}

// errorMapping ties a domain sentinel to its HTTP rendering.
type errorMapping struct {
	target  error
	code    int
	errCode string
	message string
}

var errorMappings = []errorMapping{
	{auth.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated", "Unauthorized"},
	{auth.ErrForbidden, http.StatusForbidden, "forbidden", "Admin access required"},

	{newsletter.ErrSendNotFound, http.StatusNotFound, "send_not_found", "Send not found"},
	{newsletter.ErrTicketNotFound, http.StatusNotFound, "recipient_not_found", "Recipient not found"},

	{newsletter.ErrTicketNotFailed, http.StatusConflict, "recipient_not_failed", "Recipient is not in failed state"},
	{engine.ErrClaimLost, http.StatusConflict, "claim_lost", "Recipient is already being delivered"},

	{newsletter.ErrNoStoredContent, http.StatusUnprocessableEntity, "no_stored_content", "Cannot resume: this send has no stored content"},
	{engine.ErrNoArticles, http.StatusUnprocessableEntity, "no_articles", "No articles available to send"},
	{content.ErrNoArticles, http.StatusUnprocessableEntity, "no_articles", "No articles available to send"},
	{engine.ErrNoRecipients, http.StatusUnprocessableEntity, "no_recipients", "No active subscribers"},

	{engine.ErrInvalidRequest, http.StatusBadRequest, "invalid_request", "Invalid request"},
	{newsletter.ErrInvalidStatus, http.StatusBadRequest, "invalid_status", "Invalid status"},
	{newsletter.ErrInvalidEmail, http.StatusBadRequest, "invalid_email", "Invalid email address"},
	{command.ErrUnknownCommand, http.StatusBadRequest, "unknown_command", "Unknown command"},
	{tracking.ErrInvalidHit, http.StatusBadRequest, "invalid_hit", "Invalid tracking parameters"},
	{tracking.ErrInvalidTarget, http.StatusBadRequest, "invalid_target", "Invalid redirect target"},
	{tracking.ErrInvalidPayload, http.StatusBadRequest, "invalid_payload", "Invalid webhook payload"},

	{tracking.ErrMissingSignature, http.StatusUnauthorized, "missing_signature", "Missing webhook signature"},
	{tracking.ErrBadSignature, http.StatusUnauthorized, "bad_signature", "Invalid webhook signature"},
	{tracking.ErrStaleWebhook, http.StatusUnauthorized, "stale_webhook", "Webhook timestamp out of tolerance"},

	{engine.ErrSchedule, http.StatusInternalServerError, "schedule_failed", "Failed to schedule send"},
}

// AsHTTPError converts any error into an HTTPError. Unknown errors become
// an opaque 500.
func AsHTTPError(err error) *HTTPError {
	if err == nil {
		return nil
	}

	var he *HTTPError
	if errors.As(err, &he) {
		return he
	}

	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		return ErrUnprocessable("Validation failed",
			WithErrorCode("validation_failed"),
			WithFields(validationFields(ve)),
			WithError(err),
		)
	}

	if middlewares.IsPanicError(err) {
		return ErrInternal("Internal server error", WithErrorCode("panic"), WithError(err))
	}
	if middlewares.IsTimeoutError(err) {
		return NewHTTPError(http.StatusGatewayTimeout, "Request timed out", WithErrorCode("timeout"), WithError(err))
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return NewHTTPError(m.code, m.message, WithErrorCode(m.errCode), WithError(err))
		}
	}

	return ErrInternal("Internal server error", WithError(err))
}
