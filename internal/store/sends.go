package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/newsletter/internal/newsletter"
)

const sendColumns = `id, status, subject, coalesce(email_html, ''), coalesce(error_message, ''),
	article_ids, target_emails, recipient_count, article_count,
	unique_opens, total_opens, unique_clicks, total_clicks,
	created_at, sent_at, updated_at`

// sendSummaryColumns omits the rendered body for listings.
const sendSummaryColumns = `id, status, subject, '', coalesce(error_message, ''),
	article_ids, target_emails, recipient_count, article_count,
	unique_opens, total_opens, unique_clicks, total_clicks,
	created_at, sent_at, updated_at`

func scanSend(row pgx.Row) (newsletter.Send, error) {
	var s newsletter.Send
	err := row.Scan(
		&s.ID, &s.Status, &s.Subject, &s.HTML, &s.ErrorMessage,
		&s.ArticleIDs, &s.TargetEmails, &s.RecipientCount, &s.ArticleCount,
		&s.Engagement.UniqueOpens, &s.Engagement.TotalOpens,
		&s.Engagement.UniqueClicks, &s.Engagement.TotalClicks,
		&s.CreatedAt, &s.SentAt, &s.UpdatedAt,
	)
	return s, err
}

func (s *Store) CreateSend(ctx context.Context, send *newsletter.Send) error {
	if send.ID == uuid.Nil {
		send.ID = uuid.New()
	}
	articleIDs := send.ArticleIDs
	if articleIDs == nil {
		articleIDs = []uuid.UUID{}
	}

	err := s.db.QueryRow(ctx, `
		INSERT INTO newsletter_sends
			(id, status, subject, email_html, error_message, article_ids, target_emails, recipient_count, article_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, sent_at, updated_at`,
		send.ID, send.Status, send.Subject, nullString(send.HTML), nullString(send.ErrorMessage),
		articleIDs, send.TargetEmails, send.RecipientCount, send.ArticleCount,
	).Scan(&send.CreatedAt, &send.SentAt, &send.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create send: %w", err)
	}
	return nil
}

func (s *Store) GetSend(ctx context.Context, id uuid.UUID) (*newsletter.Send, error) {
	send, err := scanSend(s.db.QueryRow(ctx, `SELECT `+sendColumns+` FROM newsletter_sends WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, newsletter.ErrSendNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get send: %w", err)
	}
	return &send, nil
}

func (s *Store) UpdateSendStatus(ctx context.Context, id uuid.UUID, status newsletter.SendStatus, errMsg string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE newsletter_sends
		SET status = $2, error_message = $3, updated_at = now()
		WHERE id = $1`,
		id, status, nullString(errMsg),
	)
	if err != nil {
		return fmt.Errorf("store: update send status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return newsletter.ErrSendNotFound
	}
	return nil
}

func (s *Store) SetRecipientCount(ctx context.Context, id uuid.UUID, n int) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE newsletter_sends SET recipient_count = $2, updated_at = now() WHERE id = $1`,
		id, n,
	)
	if err != nil {
		return fmt.Errorf("store: set recipient count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return newsletter.ErrSendNotFound
	}
	return nil
}

// ListSends returns the newest sends first, without their rendered body,
// and the total number of sends.
func (s *Store) ListSends(ctx context.Context, limit int) ([]newsletter.Send, int, error) {
	q := s.sq.Select(sendSummaryColumns).From("newsletter_sends").OrderBy("sent_at DESC", "id")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("store: build list sends: %w", err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list sends: %w", err)
	}
	sends, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (newsletter.Send, error) {
		return scanSend(row)
	})
	if err != nil {
		return nil, 0, fmt.Errorf("store: list sends: %w", err)
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM newsletter_sends`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count sends: %w", err)
	}
	return sends, total, nil
}

// RefreshEngagement recomputes open and click counters from events.
func (s *Store) RefreshEngagement(ctx context.Context, sendID uuid.UUID) (newsletter.Engagement, error) {
	var eng newsletter.Engagement
	err := s.db.QueryRow(ctx, `
		UPDATE newsletter_sends s
		SET unique_opens  = e.unique_opens,
		    total_opens   = e.total_opens,
		    unique_clicks = e.unique_clicks,
		    total_clicks  = e.total_clicks,
		    updated_at    = now()
		FROM (
			SELECT
				count(DISTINCT subscriber_email) FILTER (WHERE event_type = 'open')  AS unique_opens,
				count(*)                         FILTER (WHERE event_type = 'open')  AS total_opens,
				count(DISTINCT subscriber_email) FILTER (WHERE event_type = 'click') AS unique_clicks,
				count(*)                         FILTER (WHERE event_type = 'click') AS total_clicks
			FROM newsletter_events
			WHERE send_id = $1
		) e
		WHERE s.id = $1
		RETURNING s.unique_opens, s.total_opens, s.unique_clicks, s.total_clicks`,
		sendID,
	).Scan(&eng.UniqueOpens, &eng.TotalOpens, &eng.UniqueClicks, &eng.TotalClicks)
	if errors.Is(err, pgx.ErrNoRows) {
		return newsletter.Engagement{}, newsletter.ErrSendNotFound
	}
	if err != nil {
		return newsletter.Engagement{}, fmt.Errorf("store: refresh engagement: %w", err)
	}
	return eng, nil
}

func (s *Store) InsertEvent(ctx context.Context, e *newsletter.Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO newsletter_events (id, send_id, subscriber_email, event_type, link_url, user_agent, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		e.ID, e.SendID, e.Email, e.Type, nullString(e.LinkURL), nullString(e.UserAgent), nullString(e.IPAddress),
	).Scan(&e.CreatedAt)
	if isForeignKeyViolation(err) {
		return newsletter.ErrSendNotFound
	}
	if err != nil {
		return fmt.Errorf("store: insert event: %w", err)
	}
	return nil
}
