// Package progress derives a send's counters and final status from its
// ticket rows. Nothing here keeps in-process tallies, so every operation can
// be replayed after a crash or by a concurrent loop and converge on the same
// result.
package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/newsletter/internal/metrics"
	"github.com/dmitrymomot/newsletter/internal/newsletter"
	"github.com/dmitrymomot/newsletter/pkg/logger"
)

var ErrAggregate = errors.New("progress: failed to aggregate send")

// Store exposes ticket counts and the send fields derived from them.
type Store interface {
	TicketCounts(ctx context.Context, sendID uuid.UUID) (newsletter.Counts, error)
	SetRecipientCount(ctx context.Context, sendID uuid.UUID, n int) error
	UpdateSendStatus(ctx context.Context, sendID uuid.UUID, status newsletter.SendStatus, errMsg string) error
}

// Aggregator recomputes send progress.
type Aggregator struct {
	store   Store
	metrics *metrics.Metrics
	log     *slog.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the logger. Nil is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.log = l
		}
	}
}

// WithMetrics records finished sends in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// New creates an Aggregator.
func New(store Store, opts ...Option) *Aggregator {
	a := &Aggregator{store: store, log: logger.NewNope()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Refresh reads ticket counts and persists recipient_count = sent.
func (a *Aggregator) Refresh(ctx context.Context, sendID uuid.UUID) (newsletter.Counts, error) {
	counts, err := a.store.TicketCounts(ctx, sendID)
	if err != nil {
		return counts, errors.Join(ErrAggregate, err)
	}
	if err := a.store.SetRecipientCount(ctx, sendID, counts.Sent); err != nil {
		return counts, errors.Join(ErrAggregate, err)
	}
	return counts, nil
}

// FailureMessage is the error_message of a partial send.
func FailureMessage(failed int) string {
	return fmt.Sprintf("%d emails failed to send", failed)
}

// Finalize sets the terminal status once nothing is left to claim: sent
// when no ticket failed, partial otherwise. While any ticket is still
// pending or sending the send stays sending and SendSending is returned;
// the run that owns those tickets, or the stale-claim sweeper, finishes it.
func (a *Aggregator) Finalize(ctx context.Context, sendID uuid.UUID) (newsletter.SendStatus, newsletter.Counts, error) {
	counts, err := a.Refresh(ctx, sendID)
	if err != nil {
		return "", counts, err
	}
	if counts.Open() {
		a.log.InfoContext(ctx, "send has tickets in flight, not finalizing",
			slog.String("send_id", sendID.String()),
			slog.Int("pending", counts.Pending),
			slog.Int("sending", counts.Sending),
		)
		return newsletter.SendSending, counts, nil
	}

	status, msg := newsletter.SendSent, ""
	if counts.Failed > 0 {
		status, msg = newsletter.SendPartial, FailureMessage(counts.Failed)
	}

	if err := a.store.UpdateSendStatus(ctx, sendID, status, msg); err != nil {
		return "", counts, errors.Join(ErrAggregate, err)
	}
	a.metrics.SendFinished(string(status))

	a.log.InfoContext(ctx, "send finalized",
		slog.String("send_id", sendID.String()),
		slog.String("status", string(status)),
		slog.Int("sent", counts.Sent),
		slog.Int("failed", counts.Failed),
	)
	return status, counts, nil
}

// Fail marks the send failed with msg.
func (a *Aggregator) Fail(ctx context.Context, sendID uuid.UUID, msg string) error {
	if err := a.store.UpdateSendStatus(ctx, sendID, newsletter.SendFailed, msg); err != nil {
		return errors.Join(ErrAggregate, err)
	}
	a.metrics.SendFinished(string(newsletter.SendFailed))

	a.log.WarnContext(ctx, "send failed",
		slog.String("send_id", sendID.String()),
		slog.String("reason", msg),
	)
	return nil
}
