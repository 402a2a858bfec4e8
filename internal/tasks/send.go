package tasks

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/newsletter/internal/engine"
	"github.com/dmitrymomot/newsletter/internal/newsletter"
	"github.com/dmitrymomot/newsletter/pkg/job"
	"github.com/dmitrymomot/newsletter/pkg/logger"
)

const (
	RunSendName = "run_send"

	// runSendAttempts bounds how often a run interrupted by a crash or
	// shutdown is retried before an operator has to resume it.
	runSendAttempts = 3
)

// RunSendPayload identifies the send to run.
type RunSendPayload struct {
	SendID uuid.UUID `json:"send_id"`
}

// Runner executes a send loop.
type Runner interface {
	Run(ctx context.Context, sendID uuid.UUID) error
}

// RunSend is the run_send task.
type RunSend struct {
	runner Runner
	log    *slog.Logger
}

// NewRunSend creates the run_send task.
func NewRunSend(runner Runner, log *slog.Logger) *RunSend {
	if log == nil {
		log = logger.NewNope()
	}
	return &RunSend{runner: runner, log: log}
}

func (*RunSend) Name() string { return RunSendName }

// Handle runs the send. Outcomes that a retry cannot change are cancelled
// instead of returned, so River does not run them again.
func (t *RunSend) Handle(ctx context.Context, p RunSendPayload) error {
	if p.SendID == uuid.Nil {
		return job.Cancel(errors.Join(engine.ErrInvalidRequest, errors.New("missing send id")))
	}

	err := t.runner.Run(ctx, p.SendID)
	if err == nil {
		return nil
	}
	if permanent(err) {
		t.log.WarnContext(ctx, "send run stopped",
			slog.String("send_id", p.SendID.String()),
			slog.Any("error", err),
		)
		return job.Cancel(err)
	}
	return err
}

func permanent(err error) bool {
	return errors.Is(err, engine.ErrNoRecipients) ||
		errors.Is(err, engine.ErrAborted) ||
		errors.Is(err, newsletter.ErrSendNotFound)
}

// Enqueuer puts a named task on the durable queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any, opts ...job.EnqueueOption) error
}

// Scheduler schedules send runs as run_send jobs.
type Scheduler struct {
	enqueuer Enqueuer
}

// NewScheduler wraps enq, usually a *job.Manager.
func NewScheduler(enq Enqueuer) *Scheduler {
	return &Scheduler{enqueuer: enq}
}

// ScheduleRun enqueues a run of the send.
func (s *Scheduler) ScheduleRun(ctx context.Context, sendID uuid.UUID) error {
	return s.enqueuer.Enqueue(ctx, RunSendName, RunSendPayload{SendID: sendID},
		job.MaxAttempts(runSendAttempts),
		job.Tags("send", sendID.String()),
	)
}
