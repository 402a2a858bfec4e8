package mailer

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// DefaultCTAStyle is an inline style most email clients honour.
const DefaultCTAStyle = "display:inline-block;padding:12px 24px;background:#0d9488;color:#ffffff;" +
	"font-size:14px;font-weight:600;text-decoration:none;border-radius:8px;"

// KindCTA is the AST kind of a call-to-action button.
var KindCTA = ast.NewNodeKind("CTA")

// CTANode is a [!cta|Label](URL) button.
type CTANode struct {
	ast.BaseInline
	URL   []byte
	Label []byte
}

func (n *CTANode) Kind() ast.NodeKind { return KindCTA }

func (n *CTANode) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{
		"URL":   string(n.URL),
		"Label": string(n.Label),
	}, nil)
}

var ctaPrefix = []byte("[!cta|")

type ctaParser struct{}

func (ctaParser) Trigger() []byte { return []byte{'['} }

func (ctaParser) Parse(_ ast.Node, block text.Reader, _ parser.Context) ast.Node {
	line, _ := block.PeekLine()
	if !bytes.HasPrefix(line, ctaPrefix) {
		return nil
	}

	labelEnd := bytes.IndexByte(line[len(ctaPrefix):], ']')
	if labelEnd == -1 {
		return nil
	}
	labelEnd += len(ctaPrefix)
	if labelEnd+1 >= len(line) || line[labelEnd+1] != '(' {
		return nil
	}

	urlStart := labelEnd + 2
	urlEnd := bytes.IndexByte(line[urlStart:], ')')
	if urlEnd == -1 {
		return nil
	}
	urlEnd += urlStart

	block.Advance(urlEnd + 1)
	return &CTANode{
		Label: line[len(ctaPrefix):labelEnd],
		URL:   line[urlStart:urlEnd],
	}
}

type ctaRenderer struct {
	style string
}

func (r *ctaRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindCTA, r.render)
}

func (r *ctaRenderer) render(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*CTANode)

	_, _ = w.WriteString(`<a href="`)
	if !isSafeURL(n.URL) {
		_, _ = w.WriteString("#")
	} else {
		_, _ = w.Write(util.EscapeHTML(util.URLEscape(n.URL, false)))
	}
	_, _ = w.WriteString(`" style="`)
	_, _ = w.Write(util.EscapeHTML([]byte(r.style)))
	_, _ = w.WriteString(`">`)
	_, _ = w.Write(util.EscapeHTML(n.Label))
	_, _ = w.WriteString(`</a>`)
	return ast.WalkContinue, nil
}

func isSafeURL(u []byte) bool {
	lower := bytes.ToLower(bytes.TrimSpace(u))
	return bytes.HasPrefix(lower, []byte("https://")) ||
		bytes.HasPrefix(lower, []byte("http://")) ||
		bytes.HasPrefix(lower, []byte("mailto:"))
}

type ctaExtension struct {
	style string
}

// NewCTAExtension registers the [!cta|Label](URL) syntax. An empty style
// uses DefaultCTAStyle.
func NewCTAExtension(style string) goldmark.Extender {
	if style == "" {
		style = DefaultCTAStyle
	}
	return &ctaExtension{style: style}
}

func (e *ctaExtension) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(parser.WithInlineParsers(util.Prioritized(ctaParser{}, 50)))
	m.Renderer().AddOptions(renderer.WithNodeRenderers(util.Prioritized(&ctaRenderer{style: e.style}, 50)))
}
