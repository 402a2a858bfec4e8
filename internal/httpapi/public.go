package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/dmitrymomot/newsletter/internal/tracking"
)

// maxWebhookSize caps provider webhook bodies.
const maxWebhookSize = 1 << 20

// pixel is a transparent 1x1 GIF.
var pixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x21,
	0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00,
	0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44,
	0x01, 0x00, 0x3b,
}

// track records an open or click. Broken or unrecordable hits still
// answer with the pixel or the redirect so the email keeps rendering; only
// a click without a safe target is refused.
func (a *API) track(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()

	var target string
	if q.Get("t") == "c" {
		var err error
		if target, err = tracking.ClickTarget(q.Get("url")); err != nil {
			return err
		}
	}

	hit, err := tracking.ParseHit(q)
	if err != nil {
		a.log.DebugContext(r.Context(), "tracking hit ignored", slog.Any("error", err))
	} else {
		hit.UserAgent = r.UserAgent()
		hit.IPAddress = clientIP(r)
		if err := a.tracking.Record(r.Context(), hit); err != nil {
			a.log.ErrorContext(r.Context(), "failed to record tracking hit",
				slog.String("send_id", hit.SendID.String()),
				slog.Any("error", err),
			)
		}
	}

	if target != "" {
		http.Redirect(w, r, target, http.StatusFound)
		return nil
	}

	h := w.Header()
	h.Set("Content-Type", "image/gif")
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(pixel)
	return err
}

// unsubscribe deactivates the subscriber named by a signed token. It
// reports success whatever happens so addresses cannot be probed.
func (a *API) unsubscribe(w http.ResponseWriter, r *http.Request) error {
	token := r.URL.Query().Get("token")
	if token == "" && r.Method == http.MethodPost {
		token = tokenFromBody(w, r)
	}

	if token == "" {
		a.log.InfoContext(r.Context(), "unsubscribe without token")
	} else if _, err := a.tracking.Unsubscribe(r.Context(), token); err != nil {
		a.log.WarnContext(r.Context(), "unsubscribe rejected", slog.Any("error", err))
	}

	return writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// tokenFromBody accepts a JSON {"token"} body or a form field. One-click
// unsubscribe (RFC 8058) posts a form with no token, relying on the URL.
func tokenFromBody(w http.ResponseWriter, r *http.Request) string {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			Token string `json:"token"`
		}
		_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookSize)).Decode(&body)
		return body.Token
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookSize)
	return r.PostFormValue("token")
}

func (a *API) resendWebhook(w http.ResponseWriter, r *http.Request) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookSize))
	if err != nil {
		return ErrBadRequest("Invalid webhook body", WithError(err))
	}

	if a.verifier != nil {
		err := a.verifier.Verify(
			r.Header.Get("svix-id"),
			r.Header.Get("svix-timestamp"),
			r.Header.Get("svix-signature"),
			body,
		)
		if err != nil {
			return err
		}
	}

	ev, err := tracking.ParseWebhook(body)
	if err != nil {
		return err
	}
	if err := a.tracking.HandleWebhook(r.Context(), ev); err != nil {
		return err
	}

	return writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// clientIP prefers the first X-Forwarded-For hop, then CF-Connecting-IP,
// then the peer address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
