package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/newsletter/internal/metrics"
	"github.com/dmitrymomot/newsletter/internal/newsletter"
	"github.com/dmitrymomot/newsletter/internal/unsubscribe"
	"github.com/dmitrymomot/newsletter/pkg/logger"
	"github.com/dmitrymomot/newsletter/pkg/mailer"
)

var ErrStoreWrite = errors.New("delivery: failed to record outcome")

// Store records per-ticket outcomes. MarkTicketSent must never touch a row
// that is already sent; MarkTicketFailed only moves sending rows.
type Store interface {
	MarkTicketSent(ctx context.Context, ticketID uuid.UUID, messageID string) error
	MarkTicketFailed(ctx context.Context, ticketID uuid.UUID, errMsg string) error
}

// Content is the shared, unpersonalised message of a send.
type Content struct {
	SendID  uuid.UUID
	Subject string
	HTML    string
}

// Outcome is the result of one delivery attempt.
type Outcome struct {
	TicketID  uuid.UUID               `json:"ticketId"`
	Email     string                  `json:"email"`
	Status    newsletter.TicketStatus `json:"status"`
	Error     string                  `json:"error,omitempty"`
	MessageID string                  `json:"messageId,omitempty"`
}

// Config holds the sender identity and public URLs.
type Config struct {
	From            string
	ReplyTo         string
	TrackingBase    string
	UnsubscribeBase string
}

// Worker delivers tickets through a mailer.Sender.
type Worker struct {
	store   Store
	sender  mailer.Sender
	signer  *unsubscribe.Signer
	metrics *metrics.Metrics
	log     *slog.Logger
	cfg     Config
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the logger. Nil is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.log = l
		}
	}
}

// WithMetrics counts delivery outcomes and provider latency in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// NewWorker creates a Worker.
func NewWorker(store Store, sender mailer.Sender, signer *unsubscribe.Signer, cfg Config, opts ...Option) *Worker {
	w := &Worker{store: store, sender: sender, signer: signer, cfg: cfg, log: logger.NewNope()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Deliver personalises content for t and sends it. The returned error is
// non-nil only when the outcome could not be stored.
func (w *Worker) Deliver(ctx context.Context, content Content, t newsletter.Ticket) (Outcome, error) {
	out := Outcome{TicketID: t.ID, Email: t.Email}
	log := w.log.With(
		slog.String("send_id", content.SendID.String()),
		slog.String("ticket_id", t.ID.String()),
	)

	email, err := w.compose(content, t.Email)
	if err != nil {
		return w.fail(ctx, log, out, err, 0)
	}

	start := time.Now()
	messageID, err := w.sender.Send(ctx, email)
	took := time.Since(start)
	if err != nil {
		return w.fail(ctx, log, out, err, took)
	}

	if err := w.store.MarkTicketSent(ctx, t.ID, messageID); err != nil {
		return out, errors.Join(ErrStoreWrite, err)
	}
	w.metrics.Delivery(string(newsletter.TicketSent), took)

	out.Status = newsletter.TicketSent
	out.MessageID = messageID
	return out, nil
}

func (w *Worker) fail(ctx context.Context, log *slog.Logger, out Outcome, cause error, took time.Duration) (Outcome, error) {
	msg := cause.Error()
	log.WarnContext(ctx, "delivery failed", slog.String("error", msg))

	if err := w.store.MarkTicketFailed(ctx, out.TicketID, msg); err != nil {
		return out, errors.Join(ErrStoreWrite, err)
	}
	w.metrics.Delivery(string(newsletter.TicketFailed), took)

	out.Status = newsletter.TicketFailed
	out.Error = msg
	return out, nil
}

func (w *Worker) compose(content Content, to string) (*mailer.Email, error) {
	unsubURL := ""
	if w.signer != nil && w.cfg.UnsubscribeBase != "" {
		unsubURL = w.signer.URL(w.cfg.UnsubscribeBase, to)
	}

	body, err := Personalize(content.HTML, Personalization{
		SendID:         content.SendID,
		Email:          to,
		TrackingBase:   w.cfg.TrackingBase,
		UnsubscribeURL: unsubURL,
	})
	if err != nil {
		return nil, err
	}

	email := &mailer.Email{
		From:    w.cfg.From,
		ReplyTo: w.cfg.ReplyTo,
		To:      []string{to},
		Subject: content.Subject,
		HTML:    body,
		Tags:    mailer.Tags{"send_id": content.SendID.String()},
	}
	if unsubURL != "" {
		email.Headers = map[string]string{
			"List-Unsubscribe":      fmt.Sprintf("<%s>", unsubURL),
			"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
		}
	}
	return email, nil
}
