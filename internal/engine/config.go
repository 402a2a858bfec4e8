package engine

import "time"

// Config tunes the send loop. A zero BatchDelay disables pacing unless a
// limiter is supplied with WithLimiter.
type Config struct {
	BatchSize      int           `env:"SEND_BATCH_SIZE" envDefault:"50"`
	BatchDelay     time.Duration `env:"SEND_BATCH_DELAY" envDefault:"2s"`
	ArticleLimit   int           `env:"SEND_ARTICLE_LIMIT" envDefault:"8"`
	StatusCacheTTL time.Duration `env:"SEND_STATUS_CACHE_TTL" envDefault:"5s"`
}

const (
	defaultBatchSize    = 50
	defaultArticleLimit = 8
	defaultStatusTTL    = 5 * time.Second

	subscriberPageSize = 1000
	defaultHistory     = 10
	maxHistory         = 100
	defaultPageSize    = 50
	maxPageSize        = 200
)

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.ArticleLimit <= 0 {
		c.ArticleLimit = defaultArticleLimit
	}
	if c.StatusCacheTTL <= 0 {
		c.StatusCacheTTL = defaultStatusTTL
	}
	return c
}
