package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dmitrymomot/newsletter/middlewares"
)

// maxBodySize caps JSON request bodies. Target lists can be long.
const maxBodySize = 4 << 20

// handlerFunc is an http handler that reports failure by returning an error.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

type errorBody struct {
	Success   bool              `json:"success"`
	Error     string            `json:"error"`
	Code      string            `json:"code,omitempty"`
	RequestID string            `json:"requestId,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(v)
}

// handle adapts h to net/http, rendering any returned error.
func (a *API) handle(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			a.renderError(w, r, err)
		}
	}
}

// renderError writes err as {success:false, error}. Server errors are
// logged with the underlying cause; client errors only at debug level.
func (a *API) renderError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	if te := middlewares.NewTimeoutError(ctx, err); te != nil {
		err = errors.Join(err, te)
	}

	he := AsHTTPError(err)
	if he.Code >= http.StatusInternalServerError {
		a.log.ErrorContext(ctx, "request failed",
			slog.String("path", r.URL.Path),
			slog.Int("status", he.Code),
			slog.Any("error", err),
		)
	} else {
		a.log.DebugContext(ctx, "request rejected",
			slog.String("path", r.URL.Path),
			slog.Int("status", he.Code),
			slog.Any("error", err),
		)
	}

	_ = writeJSON(w, he.Code, errorBody{
		Error:     he.Message,
		Code:      he.ErrorCode,
		RequestID: middlewares.GetRequestID(ctx),
		Fields:    he.Fields,
	})
}

// bindJSON decodes the request body into v and validates it. An empty body
// decodes as the zero value so optional-only commands accept no payload.
func (a *API) bindJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return ErrBadRequest("Invalid JSON body", WithErrorCode("invalid_json"), WithError(err))
	}
	return a.validate.StructCtx(r.Context(), v)
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationFields(errs validator.ValidationErrors) map[string]string {
	fields := make(map[string]string, len(errs))
	for _, fe := range errs {
		fields[fe.Field()] = validationMessage(fe)
	}
	return fields
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
