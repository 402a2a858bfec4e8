package tracking

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrymomot/newsletter/internal/newsletter"
)

var (
	ErrMissingSignature = errors.New("tracking: missing webhook signature headers")
	ErrBadSignature     = errors.New("tracking: webhook signature mismatch")
	ErrStaleWebhook     = errors.New("tracking: webhook timestamp outside tolerance")
	ErrInvalidSecret    = errors.New("tracking: invalid webhook secret")
	ErrInvalidPayload   = errors.New("tracking: invalid webhook payload")
)

// webhookTolerance bounds clock skew and replay of signed webhooks.
const webhookTolerance = 5 * time.Minute

// Provider event types handled by HandleWebhook.
const (
	EventEmailOpened     = "email.opened"
	EventEmailClicked    = "email.clicked"
	EventEmailBounced    = "email.bounced"
	EventEmailComplained = "email.complained"
)

// WebhookEvent is the subset of a Resend webhook body that is used.
type WebhookEvent struct {
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
	Data      struct {
		EmailID string   `json:"email_id"`
		To      []string `json:"to"`
		Bounce  *struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"bounce,omitempty"`
		Click *struct {
			Link string `json:"link"`
		} `json:"click,omitempty"`
	} `json:"data"`
}

// ParseWebhook decodes a webhook body.
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, errors.Join(ErrInvalidPayload, err)
	}
	if ev.Type == "" {
		return nil, ErrInvalidPayload
	}
	return &ev, nil
}

func (ev *WebhookEvent) recipient() string {
	if len(ev.Data.To) == 0 {
		return ""
	}
	return newsletter.NormalizeEmail(ev.Data.To[0])
}

// HandleWebhook applies a provider event. Bounces and complaints deactivate
// the recipient; opens and clicks are recorded against the send whose
// ticket carries the provider message id. Events for mail that was not a
// newsletter delivery are ignored.
func (s *Service) HandleWebhook(ctx context.Context, ev *WebhookEvent) error {
	s.metrics.Webhook(ev.Type)
	log := s.log.With(slog.String("event", ev.Type), slog.String("message_id", ev.Data.EmailID))

	switch ev.Type {
	case EventEmailBounced, EventEmailComplained:
		email := ev.recipient()
		if email == "" {
			return nil
		}
		d := newsletter.Deactivation{}
		if ev.Type == EventEmailBounced {
			d.Bounced, d.BounceType = true, "bounce"
			if ev.Data.Bounce != nil && ev.Data.Bounce.Type != "" {
				d.BounceType = strings.ToLower(ev.Data.Bounce.Type)
			}
		}
		if _, err := s.store.DeactivateSubscriber(ctx, email, d); err != nil {
			return errors.Join(ErrRecord, err)
		}
		log.InfoContext(ctx, "subscriber deactivated by provider event")
		return nil

	case EventEmailOpened, EventEmailClicked:
		ticket, err := s.store.TicketByMessageID(ctx, ev.Data.EmailID)
		if errors.Is(err, newsletter.ErrTicketNotFound) {
			log.DebugContext(ctx, "webhook for unknown message")
			return nil
		}
		if err != nil {
			return errors.Join(ErrRecord, err)
		}

		h := Hit{SendID: ticket.SendID, Email: ticket.Email, Type: newsletter.EventOpen}
		if ev.Type == EventEmailClicked {
			h.Type = newsletter.EventClick
			if ev.Data.Click != nil {
				h.LinkURL = ev.Data.Click.Link
			}
		}
		return s.Record(ctx, h)
	}

	log.DebugContext(ctx, "webhook event ignored")
	return nil
}

// WebhookVerifier checks Svix signatures on provider webhooks.
type WebhookVerifier struct {
	now    func() time.Time
	secret []byte
}

// NewWebhookVerifier decodes a "whsec_" prefixed base64 secret.
func NewWebhookVerifier(secret string) (*WebhookVerifier, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, "whsec_"))
	if err != nil || len(key) == 0 {
		return nil, ErrInvalidSecret
	}
	return &WebhookVerifier{secret: key, now: time.Now}, nil
}

// Verify checks the svix-id, svix-timestamp and svix-signature header
// values against body. The signature header may carry several
// space-separated "v1,<base64>" entries; any match is accepted.
func (v *WebhookVerifier) Verify(id, timestamp, signatures string, body []byte) error {
	if id == "" || timestamp == "" || signatures == "" {
		return ErrMissingSignature
	}

	sec, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	if skew := v.now().Sub(time.Unix(sec, 0)).Abs(); skew > webhookTolerance {
		return ErrStaleWebhook
	}

	expected := v.sign(id, timestamp, body)
	for _, entry := range strings.Fields(signatures) {
		version, sig, ok := strings.Cut(entry, ",")
		if !ok || version != "v1" {
			continue
		}
		got, err := base64.StdEncoding.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return nil
		}
	}
	return ErrBadSignature
}

func (v *WebhookVerifier) sign(id, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(id))
	mac.Write([]byte{'.'})
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return mac.Sum(nil)
}
