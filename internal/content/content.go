// Package content composes the shared newsletter body from articles. It is
// a pure function of its input: the same articles, intro and issue date
// always produce the same subject and HTML, which is stored with the send
// and reused verbatim on resume.
package content

import (
	"embed"
	"errors"
	"html/template"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrymomot/newsletter/internal/newsletter"
	"github.com/dmitrymomot/newsletter/pkg/mailer"
	"github.com/dmitrymomot/newsletter/pkg/sanitizer"
)

//go:embed templates
var templates embed.FS

const (
	templateName = "newsletter.md"
	layoutName   = "newsletter.html"

	// Markers survive html/template URL escaping and are swapped for the
	// per-recipient placeholders after rendering.
	unsubscribeMarker = "newsletter-unsubscribe-url"
	emailMarker       = "newsletter-recipient-email"

	defaultIntro = "Here are the top stories from the intersection of AI, wellness, and fitness this week, " +
		"with insights on why they matter for your business."
)

var (
	ErrNoArticles = errors.New("content: at least one article is required")
	ErrCompose    = errors.New("content: failed to compose newsletter")
)

// Brand is the fixed identity printed around every issue.
type Brand struct {
	Name       string `env:"BRAND_NAME" envDefault:"Wellness Genius"`
	Tagline    string `env:"BRAND_TAGLINE" envDefault:"AI & Wellness Industry Intelligence"`
	CTAURL     string `env:"BRAND_CTA_URL" envDefault:"https://www.wellnessgenius.co.uk/ai-readiness"`
	PrivacyURL string `env:"BRAND_PRIVACY_URL" envDefault:"https://wellnessgenius.co.uk/privacy-policy"`
}

// DefaultBrand is used when no brand is configured.
var DefaultBrand = Brand{
	Name:       "Wellness Genius",
	Tagline:    "AI & Wellness Industry Intelligence",
	CTAURL:     "https://www.wellnessgenius.co.uk/ai-readiness",
	PrivacyURL: "https://wellnessgenius.co.uk/privacy-policy",
}

// Input is everything an issue is built from.
type Input struct {
	Articles []newsletter.Article
	Intro    string    // optional Markdown, sanitised before use
	Subject  string    // optional override of the template subject
	IssuedAt time.Time // drives dates printed in the issue
}

// Result is the composed, unpersonalised newsletter.
type Result struct {
	Subject string
	HTML    string
}

// Composer renders issues with the embedded templates.
type Composer struct {
	renderer *mailer.Renderer
	brand    Brand
}

// NewComposer creates a Composer. A zero brand uses DefaultBrand.
func NewComposer(brand Brand) *Composer {
	if brand.Name == "" {
		brand = DefaultBrand
	}
	sub, err := fs.Sub(templates, "templates")
	if err != nil {
		panic(err) // embedded path is static
	}
	return &Composer{renderer: mailer.NewRenderer(sub), brand: brand}
}

type articleView struct {
	Category        string
	Title           string
	URL             string
	Source          string
	Date            string
	Summary         string
	WhyItMatters    []string
	CommercialAngle string
}

// Compose renders in into a subject and HTML body carrying the
// newsletter.PlaceholderUnsubscribe and newsletter.PlaceholderEmail
// placeholders.
func (c *Composer) Compose(in Input) (*Result, error) {
	if len(in.Articles) == 0 {
		return nil, ErrNoArticles
	}

	views := make([]articleView, len(in.Articles))
	for i, a := range in.Articles {
		views[i] = articleView{
			Category:        escapeMarkdown(fallback(a.Category, "News")),
			Title:           escapeMarkdown(a.Title),
			URL:             safeURL(a.URL),
			Source:          escapeMarkdown(a.Source),
			Summary:         escapeMarkdown(a.DisplaySummary()),
			CommercialAngle: escapeMarkdown(a.AICommercialAngle),
		}
		if !a.PublishedAt.IsZero() {
			views[i].Date = a.PublishedAt.UTC().Format("2 Jan")
		}
		for _, p := range a.AIWhyItMatters {
			views[i].WhyItMatters = append(views[i].WhyItMatters, escapeMarkdown(p))
		}
	}

	intro, err := c.intro(in.Intro)
	if err != nil {
		return nil, err
	}

	res, err := c.renderer.Render(layoutName, templateName, map[string]any{
		"Lead":              in.Articles[0].Title,
		"Articles":          views,
		"CTAURL":            c.brand.CTAURL,
		"Intro":             intro,
		"Brand":             c.brand.Name,
		"Tagline":           c.brand.Tagline,
		"PrivacyURL":        c.brand.PrivacyURL,
		"Year":              in.IssuedAt.UTC().Year(),
		"UnsubscribeMarker": unsubscribeMarker,
		"EmailMarker":       emailMarker,
	})
	if err != nil {
		return nil, errors.Join(ErrCompose, err)
	}

	subject := strings.TrimSpace(in.Subject)
	if subject == "" {
		subject = strings.TrimSpace(res.Subject)
	}

	html := strings.NewReplacer(
		unsubscribeMarker, newsletter.PlaceholderUnsubscribe,
		emailMarker, newsletter.PlaceholderEmail,
	).Replace(res.HTML)

	return &Result{Subject: subject, HTML: html}, nil
}

func (c *Composer) intro(src string) (template.HTML, error) {
	if strings.TrimSpace(src) == "" {
		return template.HTML("<p>" + template.HTMLEscapeString(defaultIntro) + "</p>"), nil //nolint:gosec // escaped constant
	}
	rendered, err := c.renderer.Markdown(src)
	if err != nil {
		return "", errors.Join(ErrCompose, err)
	}
	return template.HTML(sanitizer.EmailHTML(rendered)), nil //nolint:gosec // sanitised above
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "`", "\\`", "*", `\*`, "_", `\_`,
	"[", `\[`, "]", `\]`, "<", `\<`, ">", `\>`, "#", `\#`, "|", `\|`,
)

// escapeMarkdown neutralises Markdown syntax in untrusted text and folds
// newlines so a field cannot open new blocks.
func escapeMarkdown(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return markdownEscaper.Replace(s)
}

// safeURL keeps absolute http(s) URLs and percent-encodes characters that
// would end a Markdown link destination.
func safeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "#"
	}
	return strings.NewReplacer("<", "%3C", ">", "%3E", " ", "%20").Replace(u.String())
}

func fallback(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
