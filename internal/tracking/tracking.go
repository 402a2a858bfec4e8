// Package tracking records engagement with delivered newsletters: open
// pixels, click redirects, unsubscribe links and provider webhooks.
package tracking

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrymomot/newsletter/internal/metrics"
	"github.com/dmitrymomot/newsletter/internal/newsletter"
	"github.com/dmitrymomot/newsletter/internal/unsubscribe"
	"github.com/dmitrymomot/newsletter/pkg/logger"
)

var (
	ErrInvalidHit    = errors.New("tracking: invalid tracking parameters")
	ErrInvalidTarget = errors.New("tracking: click target must be an http(s) url")
	ErrRecord        = errors.New("tracking: failed to record event")
)

// Store persists events and subscriber state changes.
type Store interface {
	InsertEvent(ctx context.Context, e *newsletter.Event) error
	RefreshEngagement(ctx context.Context, sendID uuid.UUID) (newsletter.Engagement, error)
	DeactivateSubscriber(ctx context.Context, email string, d newsletter.Deactivation) (bool, error)
	TicketByMessageID(ctx context.Context, messageID string) (*newsletter.Ticket, error)
}

// Service records tracking events.
type Service struct {
	store   Store
	signer  *unsubscribe.Signer
	metrics *metrics.Metrics
	log     *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates a Service. signer verifies unsubscribe tokens.
func New(store Store, signer *unsubscribe.Signer, opts ...Option) *Service {
	s := &Service{store: store, signer: signer, log: logger.NewNope()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hit is one open or click reported by a tracking URL.
type Hit struct {
	SendID    uuid.UUID
	Email     string
	Type      newsletter.EventType
	LinkURL   string
	UserAgent string
	IPAddress string
}

// ParseHit reads the sid, e, t and url query parameters of a tracking URL.
func ParseHit(q url.Values) (Hit, error) {
	sendID, err := uuid.Parse(q.Get("sid"))
	if err != nil {
		return Hit{}, errors.Join(ErrInvalidHit, err)
	}
	email := newsletter.NormalizeEmail(q.Get("e"))
	if email == "" {
		return Hit{}, ErrInvalidHit
	}

	h := Hit{SendID: sendID, Email: email}
	switch q.Get("t") {
	case "o":
		h.Type = newsletter.EventOpen
	case "c":
		h.Type = newsletter.EventClick
		target, err := ClickTarget(q.Get("url"))
		if err != nil {
			return Hit{}, err
		}
		h.LinkURL = target
	default:
		return Hit{}, ErrInvalidHit
	}
	return h, nil
}

// ClickTarget validates a redirect target. Only absolute http and https
// URLs are accepted.
func ClickTarget(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", ErrInvalidTarget
	}
	return u.String(), nil
}

// Record stores the hit and recomputes the send's engagement counters.
func (s *Service) Record(ctx context.Context, h Hit) error {
	err := s.store.InsertEvent(ctx, &newsletter.Event{
		SendID:    h.SendID,
		Email:     h.Email,
		Type:      h.Type,
		LinkURL:   h.LinkURL,
		UserAgent: h.UserAgent,
		IPAddress: h.IPAddress,
	})
	if err != nil {
		return errors.Join(ErrRecord, err)
	}
	s.metrics.Event(string(h.Type))

	if _, err := s.store.RefreshEngagement(ctx, h.SendID); err != nil {
		return errors.Join(ErrRecord, err)
	}
	return nil
}

// Unsubscribe verifies token and deactivates its subscriber. It returns the
// address that was unsubscribed; callers should not reveal errors to the
// client.
func (s *Service) Unsubscribe(ctx context.Context, token string) (string, error) {
	email, err := s.signer.Verify(token)
	if err != nil {
		return "", err
	}

	found, err := s.store.DeactivateSubscriber(ctx, email, newsletter.Deactivation{})
	if err != nil {
		return "", errors.Join(ErrRecord, err)
	}
	s.metrics.Unsubscribe()

	s.log.InfoContext(ctx, "subscriber unsubscribed", slog.Bool("known", found))
	return email, nil
}
