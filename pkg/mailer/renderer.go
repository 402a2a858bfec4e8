package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"path"
	"sync"
	texttemplate "text/template"

	"github.com/yuin/goldmark"
)

// Renderer turns Markdown templates into HTML wrapped in a layout.
// Parsed templates and layouts are cached; it is safe for concurrent use.
type Renderer struct {
	fs        fs.FS
	md        goldmark.Markdown
	templates map[string]*parsedTemplate
	layouts   map[string]*template.Template
	layoutDir string
	mu        sync.RWMutex
}

type parsedTemplate struct {
	metadata map[string]any
	body     *texttemplate.Template
	subject  *texttemplate.Template
}

// RendererOption configures a Renderer.
type RendererOption func(*Renderer)

// WithLayoutDir sets the directory layouts are read from (default "layouts").
func WithLayoutDir(dir string) RendererOption {
	return func(r *Renderer) {
		if dir != "" {
			r.layoutDir = dir
		}
	}
}

// WithCTAStyle overrides the inline style of rendered [!cta|...] buttons.
func WithCTAStyle(style string) RendererOption {
	return func(r *Renderer) {
		r.md = goldmark.New(goldmark.WithExtensions(NewCTAExtension(style)))
	}
}

// NewRenderer reads templates from fsys.
func NewRenderer(fsys fs.FS, opts ...RendererOption) *Renderer {
	r := &Renderer{
		fs:        fsys,
		md:        goldmark.New(goldmark.WithExtensions(NewCTAExtension(""))),
		templates: make(map[string]*parsedTemplate),
		layouts:   make(map[string]*template.Template),
		layoutDir: "layouts",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Result is a rendered message body.
type Result struct {
	Metadata map[string]any
	Subject  string
	HTML     string
	Text     string // executed Markdown, before HTML conversion
}

// Render executes the template with data, converts it to HTML and wraps it
// in the layout. Subject is the executed frontmatter Subject, if any.
func (r *Renderer) Render(layout, name string, data any) (*Result, error) {
	tmpl, err := r.template(name)
	if err != nil {
		return nil, err
	}

	var markdown bytes.Buffer
	if err := tmpl.body.Execute(&markdown, data); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRenderFailed, name, err)
	}

	var content bytes.Buffer
	if err := r.md.Convert(markdown.Bytes(), &content); err != nil {
		return nil, fmt.Errorf("%w: %s: markdown: %v", ErrRenderFailed, name, err)
	}

	var subject string
	if tmpl.subject != nil {
		var buf bytes.Buffer
		if err := tmpl.subject.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("%w: %s: subject: %v", ErrRenderFailed, name, err)
		}
		subject = buf.String()
	}

	lt, err := r.layout(layout)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	if err := lt.Execute(&out, map[string]any{
		"Content":  template.HTML(content.String()), //nolint:gosec // produced by goldmark without raw HTML
		"Metadata": tmpl.metadata,
		"Subject":  subject,
		"Data":     data,
	}); err != nil {
		return nil, fmt.Errorf("%w: layout %s: %v", ErrRenderFailed, layout, err)
	}

	return &Result{
		Metadata: tmpl.metadata,
		Subject:  subject,
		HTML:     out.String(),
		Text:     markdown.String(),
	}, nil
}

// Markdown converts a Markdown fragment to HTML with the renderer's
// extensions. Raw HTML in the source is dropped.
func (r *Renderer) Markdown(src string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("%w: markdown: %v", ErrRenderFailed, err)
	}
	return buf.String(), nil
}

func (r *Renderer) template(name string) (*parsedTemplate, error) {
	r.mu.RLock()
	t, ok := r.templates[name]
	r.mu.RUnlock()
	if ok {
		return t, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.templates[name]; ok {
		return t, nil
	}

	raw, err := fs.ReadFile(r.fs, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTemplateNotFound, name, err)
	}

	parsed, err := ParseTemplate(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRenderFailed, name, err)
	}

	body, err := texttemplate.New(name).Parse(parsed.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRenderFailed, name, err)
	}

	t = &parsedTemplate{metadata: parsed.Metadata, body: body}
	if s, ok := parsed.Metadata["Subject"].(string); ok && s != "" {
		t.subject, err = texttemplate.New(name + ":subject").Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: subject: %v", ErrRenderFailed, name, err)
		}
	}

	r.templates[name] = t
	return t, nil
}

func (r *Renderer) layout(name string) (*template.Template, error) {
	r.mu.RLock()
	lt, ok := r.layouts[name]
	r.mu.RUnlock()
	if ok {
		return lt, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if lt, ok := r.layouts[name]; ok {
		return lt, nil
	}

	raw, err := fs.ReadFile(r.fs, path.Join(r.layoutDir, name))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLayoutNotFound, name, err)
	}

	lt, err = template.New(name).Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: layout %s: %v", ErrRenderFailed, name, err)
	}

	r.layouts[name] = lt
	return lt, nil
}
