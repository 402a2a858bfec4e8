package job

import (
	"context"
	"log/slog"
	"time"
)

type config struct {
	registry    *registry
	queues      map[string]int
	logger      *slog.Logger
	schedules   []schedule
	maxWorkers  int
	rescueAfter time.Duration
}

func newConfig() *config {
	return &config{
		registry: newRegistry(),
		queues:   make(map[string]int),
	}
}

type schedule struct {
	handle func(context.Context) error
	name   string
	cron   string
}

// Option configures the Manager.
type Option func(*config)

// WithTask registers a task. P is inferred from the Handle signature.
func WithTask[P any, T interface {
	Name() string
	Handle(context.Context, P) error
}](task T) Option {
	return func(c *config) {
		c.registry.register(task.Name(), &typedExecutor[P, T]{task: task})
	}
}

// WithScheduledTask registers a periodic task driven by a five-field cron
// expression (minute hour day-of-month month day-of-week).
func WithScheduledTask[T interface {
	Name() string
	Schedule() string
	Handle(context.Context) error
}](task T) Option {
	return func(c *config) {
		c.schedules = append(c.schedules, schedule{
			name:   task.Name(),
			cron:   task.Schedule(),
			handle: task.Handle,
		})
	}
}

// WithQueue declares a named queue with its own worker limit.
// Non-positive worker counts are ignored.
func WithQueue(name string, workers int) Option {
	return func(c *config) {
		if name != "" && workers > 0 {
			c.queues[name] = workers
		}
	}
}

// WithLogger sets the logger used by the manager and River. Nil is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMaxWorkers sets the default queue's worker limit (default 20).
func WithMaxWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxWorkers = n
		}
	}
}

// WithRescueStuckJobsAfter sets how long a running job may go without
// completing before River assumes its worker died and makes it available
// again. Keep it above the longest expected send.
func WithRescueStuckJobsAfter(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.rescueAfter = d
		}
	}
}
