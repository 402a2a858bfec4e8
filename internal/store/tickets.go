package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/newsletter/internal/newsletter"
)

const ticketColumns = `id, send_id, email, status, coalesce(error_message, ''), coalesce(provider_message_id, ''),
	sent_at, claimed_at, created_at, updated_at`

func scanTicket(row pgx.Row) (newsletter.Ticket, error) {
	var t newsletter.Ticket
	err := row.Scan(
		&t.ID, &t.SendID, &t.Email, &t.Status, &t.ErrorMessage, &t.ProviderMessageID,
		&t.SentAt, &t.ClaimedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	return t, err
}

func collectTickets(rows pgx.Rows) ([]newsletter.Ticket, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (newsletter.Ticket, error) {
		return scanTicket(row)
	})
}

func (s *Store) TicketCounts(ctx context.Context, sendID uuid.UUID) (newsletter.Counts, error) {
	var c newsletter.Counts
	err := s.db.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE status = 'pending'),
			count(*) FILTER (WHERE status = 'sending'),
			count(*) FILTER (WHERE status = 'sent'),
			count(*) FILTER (WHERE status = 'failed')
		FROM newsletter_send_recipients
		WHERE send_id = $1`,
		sendID,
	).Scan(&c.Pending, &c.Sending, &c.Sent, &c.Failed)
	if err != nil {
		return newsletter.Counts{}, fmt.Errorf("store: ticket counts: %w", err)
	}
	return c, nil
}

// InsertTickets adds a pending ticket per address. Addresses that already
// have a ticket for the send are skipped by the unique index; the return
// value counts only new rows.
func (s *Store) InsertTickets(ctx context.Context, sendID uuid.UUID, emails []string) (int, error) {
	if len(emails) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, `
		INSERT INTO newsletter_send_recipients (send_id, email)
		SELECT $1, e FROM unnest($2::text[]) AS e
		ON CONFLICT (send_id, lower(email)) DO NOTHING`,
		sendID, emails,
	)
	if isForeignKeyViolation(err) {
		return 0, newsletter.ErrSendNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("store: insert tickets: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) PendingTicketIDs(ctx context.Context, sendID uuid.UUID, limit int) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id FROM newsletter_send_recipients
		WHERE send_id = $1 AND status = 'pending'
		ORDER BY created_at, seq
		LIMIT $2`,
		sendID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: pending tickets: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("store: pending tickets: %w", err)
	}
	return ids, nil
}

// ClaimTickets flips the given tickets from pending to sending and returns
// only the rows this call changed. Tickets claimed by a concurrent run are
// silently left out.
func (s *Store) ClaimTickets(ctx context.Context, sendID uuid.UUID, ids []uuid.UUID) ([]newsletter.Ticket, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		UPDATE newsletter_send_recipients
		SET status = 'sending', claimed_at = now(), updated_at = now()
		WHERE send_id = $1 AND id = ANY($2) AND status = 'pending'
		RETURNING `+ticketColumns,
		sendID, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("store: claim tickets: %w", err)
	}
	tickets, err := collectTickets(rows)
	if err != nil {
		return nil, fmt.Errorf("store: claim tickets: %w", err)
	}
	return tickets, nil
}

func (s *Store) MarkTicketSent(ctx context.Context, id uuid.UUID, messageID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE newsletter_send_recipients
		SET status = 'sent', sent_at = now(), error_message = NULL, provider_message_id = $2, updated_at = now()
		WHERE id = $1 AND status IN ('sending', 'pending')`,
		id, nullString(messageID),
	)
	if err != nil {
		return fmt.Errorf("store: mark ticket sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.ticketExists(ctx, id)
	}
	return nil
}

func (s *Store) MarkTicketFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE newsletter_send_recipients
		SET status = 'failed', error_message = $2, updated_at = now()
		WHERE id = $1 AND status = 'sending'`,
		id, nullString(errMsg),
	)
	if err != nil {
		return fmt.Errorf("store: mark ticket failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.ticketExists(ctx, id)
	}
	return nil
}

// ticketExists reports ErrTicketNotFound for unknown ids; a guarded update
// that matched nothing on an existing ticket is a no-op.
func (s *Store) ticketExists(ctx context.Context, id uuid.UUID) error {
	var ok bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM newsletter_send_recipients WHERE id = $1)`, id).Scan(&ok); err != nil {
		return fmt.Errorf("store: ticket exists: %w", err)
	}
	if !ok {
		return newsletter.ErrTicketNotFound
	}
	return nil
}

func (s *Store) ResetFailedTicket(ctx context.Context, sendID, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE newsletter_send_recipients
		SET status = 'pending', error_message = NULL, updated_at = now()
		WHERE id = $1 AND send_id = $2 AND status = 'failed'`,
		id, sendID,
	)
	if err != nil {
		return fmt.Errorf("store: reset ticket: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var status newsletter.TicketStatus
	err = s.db.QueryRow(ctx, `
		SELECT status FROM newsletter_send_recipients WHERE id = $1 AND send_id = $2`,
		id, sendID,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return newsletter.ErrTicketNotFound
	}
	if err != nil {
		return fmt.Errorf("store: reset ticket: %w", err)
	}
	return newsletter.ErrTicketNotFailed
}

// ReleaseStaleClaims returns sending tickets claimed before claimedBefore to
// pending and reports how many were released per send.
func (s *Store) ReleaseStaleClaims(ctx context.Context, claimedBefore time.Time) (map[uuid.UUID]int, error) {
	rows, err := s.db.Query(ctx, `
		WITH released AS (
			UPDATE newsletter_send_recipients
			SET status = 'pending', claimed_at = NULL, updated_at = now()
			WHERE status = 'sending' AND claimed_at < $1
			RETURNING send_id
		)
		SELECT send_id, count(*) FROM released GROUP BY send_id`,
		claimedBefore,
	)
	if err != nil {
		return nil, fmt.Errorf("store: release stale claims: %w", err)
	}
	type row struct {
		SendID uuid.UUID
		N      int
	}
	released, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (row, error) {
		var v row
		err := r.Scan(&v.SendID, &v.N)
		return v, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: release stale claims: %w", err)
	}
	out := make(map[uuid.UUID]int, len(released))
	for _, v := range released {
		out[v.SendID] = v.N
	}
	return out, nil
}

func (s *Store) ListTickets(ctx context.Context, f newsletter.TicketFilter) ([]newsletter.Ticket, int, error) {
	where := sq.And{sq.Eq{"send_id": f.SendID}}
	if f.Status != "" {
		where = append(where, sq.Eq{"status": f.Status})
	}
	if f.Search != "" {
		where = append(where, sq.ILike{"email": likePattern(f.Search)})
	}

	q := s.sq.Select(ticketColumns).
		From("newsletter_send_recipients").
		Where(where).
		OrderBy("created_at", "seq")
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("store: build list tickets: %w", err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list tickets: %w", err)
	}
	tickets, err := collectTickets(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list tickets: %w", err)
	}

	query, args, err = s.sq.Select("count(*)").From("newsletter_send_recipients").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("store: build count tickets: %w", err)
	}
	var total int
	if err := s.db.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count tickets: %w", err)
	}
	return tickets, total, nil
}

func (s *Store) TicketByMessageID(ctx context.Context, messageID string) (*newsletter.Ticket, error) {
	if messageID == "" {
		return nil, newsletter.ErrTicketNotFound
	}
	t, err := scanTicket(s.db.QueryRow(ctx, `
		SELECT `+ticketColumns+` FROM newsletter_send_recipients
		WHERE provider_message_id = $1
		LIMIT 1`,
		messageID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, newsletter.ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: ticket by message id: %w", err)
	}
	return &t, nil
}
