package resend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/newsletter/pkg/mailer"
)

func TestTagValue(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "true", tagValue(nil))
	assert.Equal(t, "true", tagValue(struct{}{}))
	assert.Equal(t, "abc", tagValue("abc"))
	assert.Equal(t, "false", tagValue(false))
	assert.Equal(t, "42", tagValue(42))
	assert.Equal(t, "42", tagValue(int64(42)))
	assert.Equal(t, "1.5", tagValue(1.5))
}

func TestConvertTags(t *testing.T) {
	t.Parallel()

	tags := convertTags(mailer.Tags{"send_id": "s1"})
	require.Len(t, tags, 1)
	assert.Equal(t, "send_id", tags[0].Name)
	assert.Equal(t, "s1", tags[0].Value)
}

func TestSender_Defaults(t *testing.T) {
	t.Parallel()

	s := New(Config{APIKey: "re_test", SenderEmail: "news@example.com", SenderName: "News", ReplyTo: "hi@example.com"})

	assert.Equal(t, "News <news@example.com>", s.from(&mailer.Email{}))
	assert.Equal(t, "Other <o@example.com>", s.from(&mailer.Email{From: "Other <o@example.com>"}))
	assert.Equal(t, "hi@example.com", s.replyTo(&mailer.Email{}))
	assert.Equal(t, "x@example.com", s.replyTo(&mailer.Email{ReplyTo: "x@example.com"}))
}

func TestSender_SendValidates(t *testing.T) {
	t.Parallel()

	s := New(Config{APIKey: "re_test", SenderEmail: "news@example.com"})
	_, err := s.Send(context.Background(), &mailer.Email{Subject: "s", HTML: "<p>x</p>"})
	require.ErrorIs(t, err, mailer.ErrNoRecipient)
}
