// Package mailer defines the provider-neutral email message, the Sender
// contract every provider adapter implements, and a Markdown renderer that
// turns a frontmatter template plus an HTML layout into a finished message
// body.
//
// Templates are Markdown files with optional YAML frontmatter. The body and
// the Subject field are Go text templates executed with the render data:
//
//	---
//	Subject: "Weekly digest: {{ .Lead.Title }}"
//	Preheader: Five stories worth your time
//	---
//	{{ range .Articles }}
//	## [{{ .Title }}]({{ .URL }})
//	{{ .Summary }}
//	{{ end }}
//
//	[!cta|Read more](https://example.com)
//
// The [!cta|Label](URL) syntax renders an email-safe button. The rendered
// Markdown is injected into the layout as {{ .Content }} and the frontmatter
// is available as {{ .Metadata }}.
package mailer
