package delivery

import (
	"errors"
	"html"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"github.com/dmitrymomot/newsletter/internal/newsletter"
)

var ErrPersonalize = errors.New("delivery: failed to personalize content")

// Personalization is everything recipient-specific in a message body.
type Personalization struct {
	SendID         uuid.UUID
	Email          string
	TrackingBase   string // empty disables open and click tracking
	UnsubscribeURL string
}

// TrackingURL builds the tracking endpoint URL. kind is "o" for opens and
// "c" for clicks; target is only used for clicks.
func TrackingURL(base string, sendID uuid.UUID, email, kind, target string) string {
	var b strings.Builder
	b.WriteString(base)
	if strings.Contains(base, "?") {
		b.WriteByte('&')
	} else {
		b.WriteByte('?')
	}
	b.WriteString("sid=")
	b.WriteString(sendID.String())
	b.WriteString("&e=")
	b.WriteString(url.QueryEscape(email))
	b.WriteString("&t=")
	b.WriteString(kind)
	if target != "" {
		b.WriteString("&url=")
		b.WriteString(url.QueryEscape(target))
	}
	return b.String()
}

// Personalize rewrites body for one recipient: http(s) links go through
// the click tracker (mailto, fragment and already-tracked links are left
// alone), a 1x1 open pixel is appended to <body>, and the unsubscribe and
// email placeholders are substituted.
func Personalize(body string, p Personalization) (string, error) {
	out := body

	if p.TrackingBase != "" {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
		if err != nil {
			return "", errors.Join(ErrPersonalize, err)
		}

		doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			if trackable(href, p.TrackingBase) {
				a.SetAttr("href", TrackingURL(p.TrackingBase, p.SendID, p.Email, "c", strings.TrimSpace(href)))
			}
		})

		pixel := `<img src="` + html.EscapeString(TrackingURL(p.TrackingBase, p.SendID, p.Email, "o", "")) +
			`" width="1" height="1" style="display:block;width:1px;height:1px;border:0;" alt=""/>`
		doc.Find("body").AppendHtml(pixel)

		out, err = doc.Html()
		if err != nil {
			return "", errors.Join(ErrPersonalize, err)
		}
	}

	return strings.NewReplacer(
		newsletter.PlaceholderUnsubscribe, html.EscapeString(p.UnsubscribeURL),
		newsletter.PlaceholderEmail, html.EscapeString(p.Email),
	).Replace(out), nil
}

func trackable(href, trackingBase string) bool {
	href = strings.TrimSpace(href)
	lower := strings.ToLower(href)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return false
	}
	return !strings.HasPrefix(href, trackingBase)
}
