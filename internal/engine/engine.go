package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/newsletter/internal/content"
	"github.com/dmitrymomot/newsletter/internal/delivery"
	"github.com/dmitrymomot/newsletter/internal/metrics"
	"github.com/dmitrymomot/newsletter/internal/newsletter"
	"github.com/dmitrymomot/newsletter/internal/progress"
	"github.com/dmitrymomot/newsletter/internal/queue"
	"github.com/dmitrymomot/newsletter/internal/ratelimit"
	"github.com/dmitrymomot/newsletter/pkg/cache"
	"github.com/dmitrymomot/newsletter/pkg/logger"
)

// Store is the persistence the engine needs on top of what the queue,
// worker and aggregator use.
type Store interface {
	queue.Store
	delivery.Store
	progress.Store

	CreateSend(ctx context.Context, send *newsletter.Send) error
	GetSend(ctx context.Context, id uuid.UUID) (*newsletter.Send, error)
	ListSends(ctx context.Context, limit int) ([]newsletter.Send, int, error)

	ResetFailedTicket(ctx context.Context, sendID, ticketID uuid.UUID) error
	ListTickets(ctx context.Context, f newsletter.TicketFilter) ([]newsletter.Ticket, int, error)

	EligibleEmails(ctx context.Context, f newsletter.SubscriberFilter, offset, limit int) ([]string, error)
	CountEligibleSubscribers(ctx context.Context, f newsletter.SubscriberFilter) (int, error)

	Articles(ctx context.Context, ids []uuid.UUID) ([]newsletter.Article, error)
	LatestArticles(ctx context.Context, limit int) ([]newsletter.Article, error)
	MarkArticlesProcessed(ctx context.Context, ids []uuid.UUID) error
}

// Deliverer sends one claimed ticket.
type Deliverer interface {
	Deliver(ctx context.Context, c delivery.Content, t newsletter.Ticket) (delivery.Outcome, error)
}

// Composer renders the shared issue body.
type Composer interface {
	Compose(in content.Input) (*content.Result, error)
}

// Scheduler hands a send to the durable background runner, which calls Run.
type Scheduler interface {
	ScheduleRun(ctx context.Context, sendID uuid.UUID) error
}

// Archiver keeps a copy of each composed issue.
type Archiver interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
}

// Engine orchestrates sends and the operator actions on them.
type Engine struct {
	store     Store
	queue     *queue.Queue
	progress  *progress.Aggregator
	worker    Deliverer
	composer  Composer
	scheduler Scheduler
	limiter   ratelimit.Limiter
	archiver  Archiver
	status    cache.Cache[StatusView]
	metrics   *metrics.Metrics
	log       *slog.Logger
	now       func() time.Time
	cfg       Config
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Nil is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetrics records claimed batches and finished sends in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLimiter replaces the in-process interval between full batches.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(e *Engine) {
		if l != nil {
			e.limiter = l
		}
	}
}

// WithArchiver stores each composed issue under "<send id>.html".
func WithArchiver(a Archiver) Option {
	return func(e *Engine) { e.archiver = a }
}

// WithStatusCache sets the cache behind Status. The default is in-memory.
func WithStatusCache(c cache.Cache[StatusView]) Option {
	return func(e *Engine) {
		if c != nil {
			e.status = c
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an Engine.
func New(store Store, worker Deliverer, composer Composer, scheduler Scheduler, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		worker:    worker,
		composer:  composer,
		scheduler: scheduler,
		cfg:       cfg.withDefaults(),
		log:       logger.NewNope(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.limiter == nil {
		e.limiter = ratelimit.Interval{Delay: e.cfg.BatchDelay}
	}
	if e.status == nil {
		e.status = cache.NewMemory[StatusView](cache.WithDefaultTTL(e.cfg.StatusCacheTTL))
	}
	e.queue = queue.New(store, queue.WithLogger(e.log))
	e.progress = progress.New(store, progress.WithLogger(e.log), progress.WithMetrics(e.metrics))
	return e
}

// BatchSize is the number of tickets claimed per iteration.
func (e *Engine) BatchSize() int { return e.cfg.BatchSize }
