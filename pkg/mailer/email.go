package mailer

import (
	"context"
	"fmt"
)

// Sender delivers one prepared message and returns the provider's message id.
// An error means the provider did not accept the message.
type Sender interface {
	Send(ctx context.Context, email *Email) (string, error)
}

// Tags are provider tags. Presence-only tags use struct{}{} as the value.
type Tags map[string]any

// Email is a fully prepared message.
type Email struct {
	Headers map[string]string
	Tags    Tags
	From    string
	ReplyTo string
	Subject string
	HTML    string
	Text    string
	To      []string
}

// Validate checks the fields every provider requires.
func (e *Email) Validate() error {
	switch {
	case e == nil || len(e.To) == 0:
		return ErrNoRecipient
	case e.Subject == "":
		return ErrNoSubject
	case e.HTML == "":
		return ErrNoContent
	}
	return nil
}

// Recipient formats an RFC 5322 address, "Name <email>" or just the email.
func Recipient(name, email string) string {
	if name == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", name, email)
}
