package logger

import "log/slog"

// Config controls output format, level and the optional Sentry sink.
type Config struct {
	Level       slog.Level `env:"LOG_LEVEL" envDefault:"info"`
	Format      string     `env:"LOG_FORMAT" envDefault:"json"`
	SentryDSN   string     `env:"SENTRY_DSN"`
	Environment string     `env:"SENTRY_ENVIRONMENT" envDefault:"production"`

	// SentryMinLevel is the lowest level stored as a Sentry log entry.
	// Errors always create Sentry issues.
	SentryMinLevel slog.Level `env:"SENTRY_MIN_LEVEL" envDefault:"warn"`
}
