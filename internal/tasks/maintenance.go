package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/newsletter/internal/metrics"
	"github.com/dmitrymomot/newsletter/internal/newsletter"
	"github.com/dmitrymomot/newsletter/pkg/logger"
)

const (
	SweepStaleClaimsName  = "sweep_stale_claims"
	SyncDeliveryStatsName = "sync_delivery_stats"

	DefaultClaimTTL = 15 * time.Minute
)

// ClaimReleaser returns stuck sending tickets to pending and reports how
// many were released per send.
type ClaimReleaser interface {
	ReleaseStaleClaims(ctx context.Context, claimedBefore time.Time) (map[uuid.UUID]int, error)
}

// Resumer flips a send back to sending and schedules a run for its pending
// tickets.
type Resumer interface {
	Resume(ctx context.Context, sendID uuid.UUID) (newsletter.Counts, error)
}

// SweepStaleClaims releases tickets whose claim outlived the TTL, which
// happens only when the process that claimed them died mid-batch. Every
// send that got tickets back is resumed so they are delivered.
type SweepStaleClaims struct {
	store   ClaimReleaser
	resumer Resumer
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
	ttl     time.Duration
}

// NewSweepStaleClaims creates the sweeper. A non-positive ttl uses
// DefaultClaimTTL.
func NewSweepStaleClaims(store ClaimReleaser, resumer Resumer, ttl time.Duration, m *metrics.Metrics, log *slog.Logger) *SweepStaleClaims {
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}
	if log == nil {
		log = logger.NewNope()
	}
	return &SweepStaleClaims{store: store, resumer: resumer, ttl: ttl, metrics: m, log: log, now: time.Now}
}

// Name returns the periodic job name.
func (*SweepStaleClaims) Name() string { return SweepStaleClaimsName }

// Schedule runs the sweep every five minutes.
func (*SweepStaleClaims) Schedule() string { return "*/5 * * * *" }

// Handle releases stale claims and resumes the affected sends. A send
// without stored content cannot be resumed and is only logged.
func (t *SweepStaleClaims) Handle(ctx context.Context) error {
	released, err := t.store.ReleaseStaleClaims(ctx, t.now().Add(-t.ttl))
	if err != nil {
		return fmt.Errorf("release stale claims: %w", err)
	}

	var errs []error
	for sendID, n := range released {
		t.metrics.StaleReleased(n)
		t.log.WarnContext(ctx, "stale claims released",
			slog.String("send_id", sendID.String()),
			slog.Int("tickets", n),
			slog.Duration("ttl", t.ttl),
		)

		_, err := t.resumer.Resume(ctx, sendID)
		switch {
		case errors.Is(err, newsletter.ErrNoStoredContent):
			t.log.WarnContext(ctx, "released tickets left pending, send has no stored content",
				slog.String("send_id", sendID.String()),
			)
		case err != nil:
			errs = append(errs, fmt.Errorf("resume send %s: %w", sendID, err))
		}
	}
	return errors.Join(errs...)
}

// StatsSyncer recomputes per-subscriber delivery statistics.
type StatsSyncer interface {
	SyncDeliveryStats(ctx context.Context) (int, error)
}

// SyncDeliveryStats refreshes delivery_count and last_delivered_at for
// every subscriber from sent tickets.
type SyncDeliveryStats struct {
	store StatsSyncer
	log   *slog.Logger
}

// NewSyncDeliveryStats creates the hourly stats refresh.
func NewSyncDeliveryStats(store StatsSyncer, log *slog.Logger) *SyncDeliveryStats {
	if log == nil {
		log = logger.NewNope()
	}
	return &SyncDeliveryStats{store: store, log: log}
}

// Name returns the periodic job name.
func (*SyncDeliveryStats) Name() string { return SyncDeliveryStatsName }

// Schedule runs the refresh at the top of every hour.
func (*SyncDeliveryStats) Schedule() string { return "0 * * * *" }

// Handle recomputes the statistics.
func (t *SyncDeliveryStats) Handle(ctx context.Context) error {
	n, err := t.store.SyncDeliveryStats(ctx)
	if err != nil {
		return fmt.Errorf("sync delivery stats: %w", err)
	}
	t.log.InfoContext(ctx, "delivery stats synced", slog.Int("subscribers", n))
	return nil
}
