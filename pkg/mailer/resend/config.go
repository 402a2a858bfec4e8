package resend

// Config holds Resend provider settings.
type Config struct {
	APIKey      string `env:"RESEND_API_KEY,required"`
	SenderEmail string `env:"RESEND_FROM_EMAIL,required"`
	SenderName  string `env:"RESEND_FROM_NAME"`
	ReplyTo     string `env:"RESEND_REPLY_TO"`
}
