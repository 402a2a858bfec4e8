// Package config loads process configuration from the environment. A .env
// file in the working directory is applied first when present; variables
// already set in the environment win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/dmitrymomot/newsletter/internal/content"
	"github.com/dmitrymomot/newsletter/internal/engine"
	"github.com/dmitrymomot/newsletter/pkg/db"
	"github.com/dmitrymomot/newsletter/pkg/logger"
	"github.com/dmitrymomot/newsletter/pkg/mailer/resend"
	"github.com/dmitrymomot/newsletter/pkg/redis"
	"github.com/dmitrymomot/newsletter/pkg/storage"
)

// Config is the full process configuration.
type Config struct {
	Server   Server
	Auth     Auth
	Tracking Tracking
	Jobs     Jobs
	Engine   engine.Config
	Brand    content.Brand
	Log      logger.Config
	DB       db.Config
	Redis    redis.Config
	Resend   resend.Config
	Storage  storage.Config
}

// Server configures the HTTP listener.
type Server struct {
	Address         string        `env:"HTTP_ADDRESS" envDefault:":8080"`
	RequestTimeout  time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// Auth lists admin bearer tokens as "principal:token" pairs.
type Auth struct {
	AdminTokens []string `env:"ADMIN_TOKENS,required" envSeparator:","`
}

// Tracking configures public links embedded in every email.
type Tracking struct {
	TrackingBaseURL    string        `env:"TRACKING_BASE_URL,required"`
	UnsubscribeBaseURL string        `env:"UNSUBSCRIBE_BASE_URL,required"`
	UnsubscribeSecret  string        `env:"UNSUBSCRIBE_SECRET,required"`
	UnsubscribeTTL     time.Duration `env:"UNSUBSCRIBE_TOKEN_TTL" envDefault:"8760h"`
	WebhookSecret      string        `env:"RESEND_WEBHOOK_SECRET"`
}

// Jobs configures background processing.
type Jobs struct {
	MaxWorkers           int           `env:"JOB_MAX_WORKERS" envDefault:"10"`
	ClaimTTL             time.Duration `env:"CLAIM_TTL" envDefault:"15m"`
	RescueStuckJobsAfter time.Duration `env:"JOB_RESCUE_AFTER" envDefault:"1h"`
}

// Load reads the optional env files (".env" when none are given) and then
// parses the environment. Missing required variables are reported together.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Sender returns the From header for outgoing mail.
func (c *Config) Sender() string {
	if c.Resend.SenderName == "" {
		return c.Resend.SenderEmail
	}
	return fmt.Sprintf("%s <%s>", c.Resend.SenderName, c.Resend.SenderEmail)
}
