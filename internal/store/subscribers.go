package store

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/newsletter/internal/newsletter"
)

func eligibleWhere(f newsletter.SubscriberFilter) sq.And {
	where := sq.And{sq.Expr("is_active"), sq.Expr("NOT bounced")}
	if f.JoinedAfter != nil {
		where = append(where, sq.Gt{"subscribed_at": *f.JoinedAfter})
	}
	return where
}

// EligibleEmails pages through active, non-bounced subscribers in a stable
// order so consecutive pages neither skip nor repeat addresses.
func (s *Store) EligibleEmails(ctx context.Context, f newsletter.SubscriberFilter, offset, limit int) ([]string, error) {
	q := s.sq.Select("lower(email)").
		From("newsletter_subscribers").
		Where(eligibleWhere(f)).
		OrderBy("lower(email)")
	if offset > 0 {
		q = q.Offset(uint64(offset))
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("store: build eligible emails: %w", err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: eligible emails: %w", err)
	}
	emails, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("store: eligible emails: %w", err)
	}
	return emails, nil
}

func (s *Store) CountEligibleSubscribers(ctx context.Context, f newsletter.SubscriberFilter) (int, error) {
	query, args, err := s.sq.Select("count(*)").
		From("newsletter_subscribers").
		Where(eligibleWhere(f)).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("store: build count subscribers: %w", err)
	}
	var n int
	if err := s.db.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count subscribers: %w", err)
	}
	return n, nil
}

// DeactivateSubscriber reports whether a subscriber matched the address.
func (s *Store) DeactivateSubscriber(ctx context.Context, email string, d newsletter.Deactivation) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE newsletter_subscribers
		SET is_active   = false,
		    bounced     = CASE WHEN $2 THEN true ELSE bounced END,
		    bounced_at  = CASE WHEN $2 THEN now() ELSE bounced_at END,
		    bounce_type = CASE WHEN $2 THEN $3 ELSE bounce_type END
		WHERE lower(email) = $1`,
		newsletter.NormalizeEmail(email), d.Bounced, nullString(d.BounceType),
	)
	if err != nil {
		return false, fmt.Errorf("store: deactivate subscriber: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SyncDeliveryStats recomputes delivery_count and last_delivered_at from
// sent tickets and returns how many subscribers changed.
func (s *Store) SyncDeliveryStats(ctx context.Context) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE newsletter_subscribers AS sub
		SET delivery_count = agg.delivered, last_delivered_at = agg.last_sent
		FROM (
			SELECT lower(email) AS email, count(*) AS delivered, max(sent_at) AS last_sent
			FROM newsletter_send_recipients
			WHERE status = 'sent' AND sent_at IS NOT NULL
			GROUP BY lower(email)
		) AS agg
		WHERE lower(sub.email) = agg.email
		  AND (sub.delivery_count IS DISTINCT FROM agg.delivered
		       OR sub.last_delivered_at IS DISTINCT FROM agg.last_sent)`,
	)
	if err != nil {
		return 0, fmt.Errorf("store: sync delivery stats: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
