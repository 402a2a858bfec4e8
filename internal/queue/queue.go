package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/newsletter/internal/newsletter"
	"github.com/dmitrymomot/newsletter/pkg/logger"
)

// ChunkSize is the number of tickets inserted per statement.
const ChunkSize = 500

var (
	ErrInvalidBatchSize = errors.New("queue: batch size must be positive")
	ErrSeedFailed       = errors.New("queue: failed to seed recipients")
	ErrClaimFailed      = errors.New("queue: failed to claim recipients")
)

// Store persists tickets. InsertTickets must ignore rows that conflict on
// (send_id, lower(email)) and report only the rows it inserted. ClaimTickets
// must flip pending rows to sending (setting claimed_at) and return exactly
// the rows it flipped.
type Store interface {
	TicketCounts(ctx context.Context, sendID uuid.UUID) (newsletter.Counts, error)
	InsertTickets(ctx context.Context, sendID uuid.UUID, emails []string) (int, error)
	PendingTicketIDs(ctx context.Context, sendID uuid.UUID, limit int) ([]uuid.UUID, error)
	ClaimTickets(ctx context.Context, sendID uuid.UUID, ids []uuid.UUID) ([]newsletter.Ticket, error)
}

// Queue seeds and claims tickets.
type Queue struct {
	store Store
	log   *slog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger. Nil is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.log = l
		}
	}
}

// New creates a Queue over store.
func New(store Store, opts ...Option) *Queue {
	q := &Queue{store: store, log: logger.NewNope()}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Seed inserts tickets for emails only when the send has none yet, so a
// replayed run does not reseed a send whose queue already exists. It returns
// the number of tickets inserted.
func (q *Queue) Seed(ctx context.Context, sendID uuid.UUID, emails []string) (int, error) {
	counts, err := q.store.TicketCounts(ctx, sendID)
	if err != nil {
		return 0, errors.Join(ErrSeedFailed, err)
	}
	if counts.Total() > 0 {
		q.log.DebugContext(ctx, "queue already seeded",
			slog.String("send_id", sendID.String()),
			slog.Int("tickets", counts.Total()),
		)
		return 0, nil
	}
	return q.Extend(ctx, sendID, emails)
}

// Extend inserts tickets for emails that are not yet queued for the send.
// Addresses are normalised and implausible ones dropped first.
func (q *Queue) Extend(ctx context.Context, sendID uuid.UUID, emails []string) (int, error) {
	emails = newsletter.NormalizeEmails(emails)

	inserted := 0
	for start := 0; start < len(emails); start += ChunkSize {
		end := min(start+ChunkSize, len(emails))
		n, err := q.store.InsertTickets(ctx, sendID, emails[start:end])
		if err != nil {
			return inserted, errors.Join(ErrSeedFailed, fmt.Errorf("chunk %d-%d: %w", start, end, err))
		}
		inserted += n
	}

	if inserted > 0 {
		q.log.InfoContext(ctx, "recipients queued",
			slog.String("send_id", sendID.String()),
			slog.Int("inserted", inserted),
			slog.Int("candidates", len(emails)),
		)
	}
	return inserted, nil
}

// Claim reserves up to batchSize pending tickets, oldest first. An empty
// result means nothing is pending.
func (q *Queue) Claim(ctx context.Context, sendID uuid.UUID, batchSize int) ([]newsletter.Ticket, error) {
	if batchSize <= 0 {
		return nil, ErrInvalidBatchSize
	}

	ids, err := q.store.PendingTicketIDs(ctx, sendID, batchSize)
	if err != nil {
		return nil, errors.Join(ErrClaimFailed, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	return q.claim(ctx, sendID, ids)
}

// ClaimOne reserves a single pending ticket. ok is false when another
// claimer got there first or the ticket is not pending.
func (q *Queue) ClaimOne(ctx context.Context, sendID, ticketID uuid.UUID) (newsletter.Ticket, bool, error) {
	tickets, err := q.claim(ctx, sendID, []uuid.UUID{ticketID})
	if err != nil || len(tickets) == 0 {
		return newsletter.Ticket{}, false, err
	}
	return tickets[0], true, nil
}

func (q *Queue) claim(ctx context.Context, sendID uuid.UUID, ids []uuid.UUID) ([]newsletter.Ticket, error) {
	tickets, err := q.store.ClaimTickets(ctx, sendID, ids)
	if err != nil {
		return nil, errors.Join(ErrClaimFailed, err)
	}
	if lost := len(ids) - len(tickets); lost > 0 {
		q.log.DebugContext(ctx, "claim race lost",
			slog.String("send_id", sendID.String()),
			slog.Int("requested", len(ids)),
			slog.Int("lost", lost),
		)
	}
	return tickets, nil
}
