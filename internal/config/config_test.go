package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/newsletter/internal/config"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/newsletter")
	t.Setenv("RESEND_API_KEY", "re_test")
	t.Setenv("RESEND_FROM_EMAIL", "news@example.com")
	t.Setenv("ADMIN_TOKENS", "ops:one,two")
	t.Setenv("TRACKING_BASE_URL", "https://api.example.com/track")
	t.Setenv("UNSUBSCRIBE_BASE_URL", "https://api.example.com/unsubscribe")
	t.Setenv("UNSUBSCRIBE_SECRET", "secret")
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		setRequired(t)

		cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
		require.NoError(t, err)

		assert.Equal(t, ":8080", cfg.Server.Address)
		assert.Equal(t, 50, cfg.Engine.BatchSize)
		assert.Equal(t, 2*time.Second, cfg.Engine.BatchDelay)
		assert.Equal(t, 8, cfg.Engine.ArticleLimit)
		assert.Equal(t, 15*time.Minute, cfg.Jobs.ClaimTTL)
		assert.Equal(t, []string{"ops:one", "two"}, cfg.Auth.AdminTokens)
		assert.Equal(t, "Wellness Genius", cfg.Brand.Name)
		assert.False(t, cfg.Redis.Enabled())
		assert.False(t, cfg.Storage.Enabled())
		assert.Equal(t, "news@example.com", cfg.Sender())
	})

	t.Run("env file fills unset variables", func(t *testing.T) {
		setRequired(t)
		t.Setenv("SEND_BATCH_SIZE", "10")

		path := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(path, []byte("SEND_BATCH_SIZE=99\nRESEND_FROM_NAME=Weekly\n"), 0o600))
		t.Cleanup(func() { os.Unsetenv("RESEND_FROM_NAME") })

		cfg, err := config.Load(path)
		require.NoError(t, err)

		assert.Equal(t, 10, cfg.Engine.BatchSize)
		assert.Equal(t, "Weekly <news@example.com>", cfg.Sender())
	})

	t.Run("missing required variables", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "")
		require.NoError(t, os.Unsetenv("DATABASE_URL"))

		_, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "DATABASE_URL")
	})
}
