// Package httpapi exposes the newsletter engine over HTTP: admin commands
// under /api/sends, public tracking and unsubscribe endpoints, the provider
// webhook, health probes and Prometheus metrics.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/dmitrymomot/newsletter/internal/auth"
	"github.com/dmitrymomot/newsletter/internal/command"
	"github.com/dmitrymomot/newsletter/internal/metrics"
	"github.com/dmitrymomot/newsletter/internal/tracking"
	"github.com/dmitrymomot/newsletter/middlewares"
	"github.com/dmitrymomot/newsletter/pkg/health"
	"github.com/dmitrymomot/newsletter/pkg/logger"
)

// API holds the collaborators behind the HTTP surface.
type API struct {
	commands *command.Dispatcher
	auth     auth.Authenticator
	tracking *tracking.Service
	verifier *tracking.WebhookVerifier
	checks   health.Checks
	metrics  *metrics.Metrics
	log      *slog.Logger
	validate *validator.Validate
	timeout  time.Duration
}

// Option configures an API.
type Option func(*API)

func WithLogger(l *slog.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *API) { a.metrics = m }
}

// WithWebhookVerifier enables signature checks on the provider webhook.
// Without it webhooks are accepted unsigned.
func WithWebhookVerifier(v *tracking.WebhookVerifier) Option {
	return func(a *API) { a.verifier = v }
}

// WithHealthChecks sets the readiness checks.
func WithHealthChecks(checks health.Checks) Option {
	return func(a *API) { a.checks = checks }
}

// WithTimeout bounds every request context.
func WithTimeout(d time.Duration) Option {
	return func(a *API) { a.timeout = d }
}

// New creates an API.
func New(commands *command.Dispatcher, authn auth.Authenticator, tr *tracking.Service, opts ...Option) *API {
	a := &API{
		commands: commands,
		auth:     authn,
		tracking: tr,
		checks:   health.Checks{},
		log:      logger.NewNope(),
		validate: newValidator(),
		timeout:  middlewares.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler builds the router.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middlewares.RequestID(),
		a.metrics.Middleware,
		middlewares.Recover(
			middlewares.WithRecoverLogger(a.log),
			middlewares.WithRecoverHandler(a.renderError),
		),
		middlewares.Timeout(a.timeout),
	)
	r.NotFound(a.handle(func(w http.ResponseWriter, r *http.Request) error {
		return NewHTTPError(http.StatusNotFound, "Not found", WithErrorCode("not_found"))
	}))
	r.MethodNotAllowed(a.handle(func(w http.ResponseWriter, r *http.Request) error {
		return NewHTTPError(http.StatusMethodNotAllowed, "Method not allowed", WithErrorCode("method_not_allowed"))
	}))

	r.Get("/health/live", health.LivenessHandler())
	r.Get("/health/ready", health.ReadinessHandler(a.checks, health.WithLogger(a.log)))
	r.Method(http.MethodGet, "/metrics", a.metrics.Handler())

	r.Get("/track", a.handle(a.track))
	r.Get("/unsubscribe", a.handle(a.unsubscribe))
	r.Post("/unsubscribe", a.handle(a.unsubscribe))
	r.Post("/webhooks/resend", a.handle(a.resendWebhook))

	r.Route("/api/sends", func(r chi.Router) {
		r.Use(a.authenticate)
		r.Post("/", a.handle(dispatch[command.Send](a, http.StatusAccepted)))
		r.Post("/status", a.handle(dispatch[command.Status](a, http.StatusOK)))
		r.Post("/history", a.handle(dispatch[command.History](a, http.StatusOK)))
		r.Post("/update-status", a.handle(dispatch[command.UpdateStatus](a, http.StatusOK)))
		r.Post("/resume", a.handle(dispatch[command.Resume](a, http.StatusOK)))
		r.Post("/resend-to-new", a.handle(dispatch[command.ResendToNew](a, http.StatusOK)))
		r.Post("/resend-to-missing", a.handle(dispatch[command.ResendToMissing](a, http.StatusOK)))
		r.Post("/retry-recipient", a.handle(dispatch[command.RetryRecipient](a, http.StatusOK)))
		r.Post("/recipients", a.handle(dispatch[command.Recipients](a, http.StatusOK)))
	})

	return r
}
