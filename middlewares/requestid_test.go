package middlewares_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/newsletter/middlewares"
)

func serveRequestID(t *testing.T, req *http.Request, opts ...middlewares.RequestIDOption) (string, *httptest.ResponseRecorder) {
	t.Helper()

	var got string
	handler := middlewares.RequestID(opts...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = middlewares.GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return got, rec
}

func TestRequestID(t *testing.T) {
	t.Parallel()

	t.Run("generates uuid when no header present", func(t *testing.T) {
		t.Parallel()

		got, rec := serveRequestID(t, httptest.NewRequest(http.MethodGet, "/", nil))

		_, err := uuid.Parse(got)
		require.NoError(t, err)
		require.Equal(t, got, rec.Header().Get("X-Request-ID"))
	})

	t.Run("preserves incoming header", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "upstream-id")

		got, rec := serveRequestID(t, req)
		require.Equal(t, "upstream-id", got)
		require.Equal(t, "upstream-id", rec.Header().Get("X-Request-ID"))
	})

	t.Run("falls back to correlation id", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Correlation-ID", "corr-1")

		got, _ := serveRequestID(t, req)
		require.Equal(t, "corr-1", got)
	})

	t.Run("honours custom options", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "ignored")

		got, rec := serveRequestID(t, req,
			middlewares.WithRequestIDHeaders("X-Trace"),
			middlewares.WithRequestIDGenerator(func() string { return "fixed" }),
			middlewares.WithRequestIDResponseHeader("X-Trace"),
		)
		require.Equal(t, "fixed", got)
		require.Equal(t, "fixed", rec.Header().Get("X-Trace"))
	})
}

func TestRequestIDExtractor(t *testing.T) {
	t.Parallel()

	extract := middlewares.RequestIDExtractor()

	_, ok := extract(context.Background())
	require.False(t, ok)

	attr, ok := extract(middlewares.WithRequestID(context.Background(), "abc"))
	require.True(t, ok)
	require.Equal(t, "request_id", attr.Key)
	require.Equal(t, "abc", attr.Value.String())
}
