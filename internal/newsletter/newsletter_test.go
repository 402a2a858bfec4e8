package newsletter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/newsletter/internal/newsletter"
)

func TestNormalizeEmails(t *testing.T) {
	t.Parallel()

	got := newsletter.NormalizeEmails([]string{
		"  Alice@Example.com ",
		"alice@example.com",
		"not-an-email",
		"bob@example",
		"carol@example.org",
		"",
		"dan @example.com",
	})
	assert.Equal(t, []string{"alice@example.com", "carol@example.org"}, got)
}

func TestIsLikelyEmail(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{"a@b.co", true},
		{"first.last+tag@sub.example.com", true},
		{"a@b", false},
		{"@b.co", false},
		{"a b@c.de", false},
		{"a@@b.co", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, newsletter.IsLikelyEmail(tt.in), tt.in)
	}
}

func TestSendStatus_Overridable(t *testing.T) {
	t.Parallel()

	for _, s := range []newsletter.SendStatus{newsletter.SendSent, newsletter.SendPartial, newsletter.SendFailed, newsletter.SendPending} {
		assert.True(t, s.Overridable(), s)
	}
	assert.False(t, newsletter.SendSending.Overridable())
	assert.False(t, newsletter.SendStatus("bogus").Overridable())
}

func TestCounts(t *testing.T) {
	t.Parallel()

	c := newsletter.Counts{Pending: 1, Sending: 2, Sent: 3, Failed: 4}
	assert.Equal(t, 10, c.Total())
	assert.True(t, c.Open())
	assert.False(t, newsletter.Counts{Sent: 3}.Open())
}

func TestArticle_DisplaySummary(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ai", newsletter.Article{Summary: "plain", AISummary: "ai"}.DisplaySummary())
	assert.Equal(t, "plain", newsletter.Article{Summary: "plain"}.DisplaySummary())
}
