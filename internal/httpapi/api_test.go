package httpapi_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/newsletter/internal/auth"
	"github.com/dmitrymomot/newsletter/internal/command"
	"github.com/dmitrymomot/newsletter/internal/content"
	"github.com/dmitrymomot/newsletter/internal/delivery"
	"github.com/dmitrymomot/newsletter/internal/engine"
	"github.com/dmitrymomot/newsletter/internal/httpapi"
	"github.com/dmitrymomot/newsletter/internal/metrics"
	"github.com/dmitrymomot/newsletter/internal/newsletter"
	"github.com/dmitrymomot/newsletter/internal/store/memstore"
	"github.com/dmitrymomot/newsletter/internal/tracking"
	"github.com/dmitrymomot/newsletter/internal/unsubscribe"
	"github.com/dmitrymomot/newsletter/pkg/mailer"
)

const (
	adminToken    = "s3cret"
	webhookSecret = "test-webhook-secret"
)

type nopSender struct{}

func (nopSender) Send(_ context.Context, e *mailer.Email) (string, error) {
	return "msg-" + e.To[0], nil
}

type recordingScheduler struct {
	ids []uuid.UUID
	mu  sync.Mutex
}

func (s *recordingScheduler) ScheduleRun(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, id)
	return nil
}

type testServer struct {
	store     *memstore.Store
	signer    *unsubscribe.Signer
	engine    *engine.Engine
	scheduler *recordingScheduler
	handler   http.Handler
}

func newTestServer(t *testing.T, opts ...httpapi.Option) *testServer {
	t.Helper()

	store := memstore.New()
	signer, err := unsubscribe.NewSigner("test-secret")
	require.NoError(t, err)

	worker := delivery.NewWorker(store, nopSender{}, signer, delivery.Config{
		From:            "News <news@example.com>",
		TrackingBase:    "https://api.example.com/track",
		UnsubscribeBase: "https://api.example.com/unsubscribe",
	})
	scheduler := &recordingScheduler{}
	eng := engine.New(store, worker, content.NewComposer(content.Brand{}), scheduler, engine.Config{BatchSize: 10})

	authn, err := auth.ParseStaticTokens([]string{"ops:" + adminToken})
	require.NoError(t, err)

	m := metrics.New(prometheus.NewRegistry())
	tr := tracking.New(store, signer, tracking.WithMetrics(m))

	opts = append([]httpapi.Option{httpapi.WithMetrics(m)}, opts...)
	api := httpapi.New(command.NewDispatcher(eng), authn, tr, opts...)

	return &testServer{store: store, signer: signer, engine: eng, scheduler: scheduler, handler: api.Handler()}
}

func (s *testServer) seed() {
	s.store.AddArticle(newsletter.Article{Title: "Sleep trackers go clinical", URL: "https://example.com/a", Source: "Wired"})
	for _, e := range []string{"a@example.com", "b@example.com"} {
		s.store.AddSubscriber(newsletter.Subscriber{Email: e, Active: true, SubscribedAt: time.Now().Add(-time.Hour)})
	}
}

func (s *testServer) do(t *testing.T, method, target string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	for k, v := range header {
		req.Header[k] = v
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) admin(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, http.MethodPost, path, body, http.Header{
		"Authorization": {"Bearer " + adminToken},
		"Content-Type":  {"application/json"},
	})
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

type errorResponse struct {
	Success   bool              `json:"success"`
	Error     string            `json:"error"`
	Code      string            `json:"code"`
	RequestID string            `json:"requestId"`
	Fields    map[string]string `json:"fields"`
}

func TestAdminAuth(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	t.Run("missing token", func(t *testing.T) {
		t.Parallel()

		rec := srv.do(t, http.MethodPost, "/api/sends/history", nil, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)

		body := decode[errorResponse](t, rec)
		assert.False(t, body.Success)
		assert.Equal(t, "unauthenticated", body.Code)
		assert.NotEmpty(t, body.RequestID)
	})

	t.Run("wrong token", func(t *testing.T) {
		t.Parallel()

		rec := srv.do(t, http.MethodPost, "/api/sends/history", nil, http.Header{"Authorization": {"Bearer nope"}})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestCreateAndStatus(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	srv.seed()

	rec := srv.admin(t, "/api/sends", map[string]any{"subject": "Weekly"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	created := decode[engine.CreateResult](t, rec)
	assert.Equal(t, 2, created.SubscriberCount)
	assert.Equal(t, 1, created.ArticleCount)
	assert.Equal(t, 10, created.BatchSize)
	require.Len(t, srv.scheduler.ids, 1)
	assert.Equal(t, created.SendID, srv.scheduler.ids[0])

	require.NoError(t, srv.engine.Run(context.Background(), created.SendID))

	rec = srv.admin(t, "/api/sends/status", map[string]any{"sendId": created.SendID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	status := decode[engine.StatusView](t, rec)
	assert.Equal(t, newsletter.SendSent, status.Status)
	assert.Equal(t, 2, status.RecipientCount)

	rec = srv.admin(t, "/api/sends/history", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	history := decode[struct {
		Sends []struct {
			ID      uuid.UUID `json:"id"`
			Subject string    `json:"subject"`
		} `json:"sends"`
		TotalCount int `json:"totalCount"`
	}](t, rec)
	assert.Equal(t, 1, history.TotalCount)
	require.Len(t, history.Sends, 1)
	assert.Equal(t, "Weekly", history.Sends[0].Subject)

	rec = srv.admin(t, "/api/sends/recipients", map[string]any{"sendId": created.SendID, "status": "sent"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	page := decode[struct {
		Recipients []struct {
			Email  string `json:"email"`
			Status string `json:"status"`
		} `json:"recipients"`
		Total int `json:"total"`
	}](t, rec)
	assert.Equal(t, 2, page.Total)
	assert.Len(t, page.Recipients, 2)
}

func TestAdminErrors(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	t.Run("unknown send", func(t *testing.T) {
		t.Parallel()

		rec := srv.admin(t, "/api/sends/status", map[string]any{"sendId": uuid.New()})
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "send_not_found", decode[errorResponse](t, rec).Code)
	})

	t.Run("validation failure", func(t *testing.T) {
		t.Parallel()

		rec := srv.admin(t, "/api/sends/update-status", map[string]any{"sendId": uuid.New(), "status": "sending"})
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		body := decode[errorResponse](t, rec)
		assert.Equal(t, "validation_failed", body.Code)
		assert.Contains(t, body.Fields, "status")
	})

	t.Run("missing required id", func(t *testing.T) {
		t.Parallel()

		rec := srv.admin(t, "/api/sends/resume", map[string]any{})
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, decode[errorResponse](t, rec).Fields, "sendId")
	})

	t.Run("malformed json", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodPost, "/api/sends/status", strings.NewReader("{"))
		req.Header.Set("Authorization", "Bearer "+adminToken)
		rec := httptest.NewRecorder()
		srv.handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_json", decode[errorResponse](t, rec).Code)
	})

	t.Run("no articles", func(t *testing.T) {
		t.Parallel()

		rec := srv.admin(t, "/api/sends", map[string]any{})
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "no_articles", decode[errorResponse](t, rec).Code)
	})

	t.Run("unknown route", func(t *testing.T) {
		t.Parallel()

		rec := srv.do(t, http.MethodGet, "/nope", nil, nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.False(t, decode[errorResponse](t, rec).Success)
	})
}

func TestTrack(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	sendID := uuid.New()

	t.Run("open returns pixel and records event", func(t *testing.T) {
		q := url.Values{"sid": {sendID.String()}, "e": {"A@Example.com"}, "t": {"o"}}
		rec := srv.do(t, http.MethodGet, "/track?"+q.Encode(), nil, http.Header{"X-Forwarded-For": {"203.0.113.7, 10.0.0.1"}})

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")
		assert.NotEmpty(t, rec.Body.Bytes())

		events := srv.store.Events()
		require.Len(t, events, 1)
		assert.Equal(t, "a@example.com", events[0].Email)
		assert.Equal(t, "203.0.113.7", events[0].IPAddress)
	})

	t.Run("click redirects", func(t *testing.T) {
		q := url.Values{"sid": {sendID.String()}, "e": {"a@example.com"}, "t": {"c"}, "url": {"https://example.com/read"}}
		rec := srv.do(t, http.MethodGet, "/track?"+q.Encode(), nil, nil)

		require.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "https://example.com/read", rec.Header().Get("Location"))
		assert.Len(t, srv.store.Events(), 2)
	})

	t.Run("unsafe click target is refused", func(t *testing.T) {
		q := url.Values{"sid": {sendID.String()}, "e": {"a@example.com"}, "t": {"c"}, "url": {"javascript:alert(1)"}}
		rec := srv.do(t, http.MethodGet, "/track?"+q.Encode(), nil, nil)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Len(t, srv.store.Events(), 2)
	})

	t.Run("broken open still returns pixel", func(t *testing.T) {
		rec := srv.do(t, http.MethodGet, "/track?t=o", nil, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
		assert.Len(t, srv.store.Events(), 2)
	})
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	srv.seed()

	t.Run("valid token deactivates", func(t *testing.T) {
		rec := srv.do(t, http.MethodGet, "/unsubscribe?token="+url.QueryEscape(srv.signer.Token("a@example.com")), nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"success":true}`, rec.Body.String())

		sub, ok := srv.store.Subscriber("a@example.com")
		require.True(t, ok)
		assert.False(t, sub.Active)
	})

	t.Run("json body token", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, "/unsubscribe", map[string]string{"token": srv.signer.Token("b@example.com")},
			http.Header{"Content-Type": {"application/json"}})
		require.Equal(t, http.StatusOK, rec.Code)

		sub, _ := srv.store.Subscriber("b@example.com")
		assert.False(t, sub.Active)
	})

	t.Run("tampered token still succeeds", func(t *testing.T) {
		rec := srv.do(t, http.MethodGet, "/unsubscribe?token=garbage", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"success":true}`, rec.Body.String())
	})
}

func signWebhook(t *testing.T, id string, ts time.Time, body []byte) http.Header {
	t.Helper()

	stamp := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	fmt.Fprintf(mac, "%s.%s.", id, stamp)
	mac.Write(body)

	return http.Header{
		"Svix-Id":        {id},
		"Svix-Timestamp": {stamp},
		"Svix-Signature": {"v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil))},
	}
}

func TestResendWebhook(t *testing.T) {
	t.Parallel()

	verifier, err := tracking.NewWebhookVerifier("whsec_" + base64.StdEncoding.EncodeToString([]byte(webhookSecret)))
	require.NoError(t, err)

	srv := newTestServer(t, httpapi.WithWebhookVerifier(verifier))
	srv.seed()

	body := []byte(`{"type":"email.bounced","created_at":"2026-10-01T00:00:00Z","data":{"email_id":"m1","to":["a@example.com"],"bounce":{"type":"Permanent"}}}`)

	t.Run("unsigned request rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/resend", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		srv.handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "missing_signature", decode[errorResponse](t, rec).Code)

		sub, _ := srv.store.Subscriber("a@example.com")
		assert.True(t, sub.Active)
	})

	t.Run("signed bounce deactivates", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/resend", bytes.NewReader(body))
		for k, v := range signWebhook(t, "msg_1", time.Now(), body) {
			req.Header[k] = v
		}
		rec := httptest.NewRecorder()
		srv.handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, `{"received":true}`, rec.Body.String())

		sub, _ := srv.store.Subscriber("a@example.com")
		assert.False(t, sub.Active)
		assert.True(t, sub.Bounced)
		assert.Equal(t, "permanent", sub.BounceType)
	})

	t.Run("invalid payload", func(t *testing.T) {
		bad := []byte(`{"data":{}}`)
		req := httptest.NewRequest(http.MethodPost, "/webhooks/resend", bytes.NewReader(bad))
		for k, v := range signWebhook(t, "msg_2", time.Now(), bad) {
			req.Header[k] = v
		}
		rec := httptest.NewRecorder()
		srv.handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestProbes(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	rec := srv.do(t, http.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}
