package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/newsletter/internal/newsletter"
)

const articleColumns = `id, title, url, coalesce(source, ''), coalesce(category, ''), coalesce(summary, ''),
	coalesce(ai_summary, ''), coalesce(ai_why_it_matters, '{}'), coalesce(ai_commercial_angle, ''),
	processed, published_at`

func collectArticles(rows pgx.Rows) ([]newsletter.Article, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (newsletter.Article, error) {
		var a newsletter.Article
		err := row.Scan(
			&a.ID, &a.Title, &a.URL, &a.Source, &a.Category, &a.Summary,
			&a.AISummary, &a.AIWhyItMatters, &a.AICommercialAngle,
			&a.Processed, &a.PublishedAt,
		)
		return a, err
	})
}

// Articles returns the articles with the given ids in the order the ids
// were passed. Unknown ids are skipped.
func (s *Store) Articles(ctx context.Context, ids []uuid.UUID) ([]newsletter.Article, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+articleColumns+` FROM articles
		WHERE id = ANY($1)
		ORDER BY array_position($1::uuid[], id)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("store: articles: %w", err)
	}
	articles, err := collectArticles(rows)
	if err != nil {
		return nil, fmt.Errorf("store: articles: %w", err)
	}
	return articles, nil
}

// LatestArticles returns unprocessed articles, newest first.
func (s *Store) LatestArticles(ctx context.Context, limit int) ([]newsletter.Article, error) {
	q := s.sq.Select(articleColumns).
		From("articles").
		Where("NOT processed").
		OrderBy("published_at DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("store: build latest articles: %w", err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: latest articles: %w", err)
	}
	articles, err := collectArticles(rows)
	if err != nil {
		return nil, fmt.Errorf("store: latest articles: %w", err)
	}
	return articles, nil
}

func (s *Store) MarkArticlesProcessed(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.db.Exec(ctx, `UPDATE articles SET processed = true WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("store: mark articles processed: %w", err)
	}
	return nil
}
