package store_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/newsletter/internal/newsletter"
	"github.com/dmitrymomot/newsletter/internal/store"
	"github.com/dmitrymomot/newsletter/pkg/db"
	"github.com/dmitrymomot/newsletter/pkg/logger"
)

var (
	poolOnce sync.Once
	pool     *pgxpool.Pool
	poolErr  error
)

// setup returns a store bound to a transaction that is rolled back when the
// test ends. Tests are skipped unless TEST_DATABASE_URL points at Postgres.
func setup(t *testing.T) *store.Store {
	s, _ := setupTx(t)
	return s
}

func setupTx(t *testing.T) (*store.Store, pgx.Tx) {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	poolOnce.Do(func() {
		ctx := context.Background()
		pool, poolErr = db.Connect(ctx, db.Config{ConnectionString: dsn, RetryAttempts: 1})
		if poolErr != nil {
			return
		}
		poolErr = db.Migrate(ctx, pool, store.Migrations, "newsletter_test_migrations", logger.NewNope())
	})
	require.NoError(t, poolErr)

	tx, err := pool.Begin(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback(context.Background()) })

	return store.New(tx), tx
}

func createSend(t *testing.T, s *store.Store) *newsletter.Send {
	t.Helper()
	send := &newsletter.Send{Status: newsletter.SendSending, Subject: "Weekly", HTML: "<p>hi</p>"}
	require.NoError(t, s.CreateSend(context.Background(), send))
	return send
}

func TestSends(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	send := createSend(t, s)
	require.NotEqual(t, uuid.Nil, send.ID)

	got, err := s.GetSend(ctx, send.ID)
	require.NoError(t, err)
	assert.Equal(t, "Weekly", got.Subject)
	assert.True(t, got.HasContent())
	assert.Empty(t, got.TargetEmails)

	require.NoError(t, s.UpdateSendStatus(ctx, send.ID, newsletter.SendPartial, "2 failed"))
	require.NoError(t, s.SetRecipientCount(ctx, send.ID, 7))
	got, err = s.GetSend(ctx, send.ID)
	require.NoError(t, err)
	assert.Equal(t, newsletter.SendPartial, got.Status)
	assert.Equal(t, "2 failed", got.ErrorMessage)
	assert.Equal(t, 7, got.RecipientCount)

	sends, total, err := s.ListSends(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, sends, 1)
	assert.Empty(t, sends[0].HTML)

	_, err = s.GetSend(ctx, uuid.New())
	require.ErrorIs(t, err, newsletter.ErrSendNotFound)
	require.ErrorIs(t, s.SetRecipientCount(ctx, uuid.New(), 1), newsletter.ErrSendNotFound)
}

func TestTickets_InsertIsIdempotent(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	send := createSend(t, s)

	n, err := s.InsertTickets(ctx, send.ID, []string{"a@example.com", "b@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.InsertTickets(ctx, send.ID, []string{"A@example.com", "c@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	counts, err := s.TicketCounts(ctx, send.ID)
	require.NoError(t, err)
	assert.Equal(t, newsletter.Counts{Pending: 3}, counts)

	_, err = s.InsertTickets(ctx, uuid.New(), []string{"a@example.com"})
	require.ErrorIs(t, err, newsletter.ErrSendNotFound)
}

func TestTickets_Lifecycle(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	send := createSend(t, s)

	_, err := s.InsertTickets(ctx, send.ID, []string{"a@example.com", "b@example.com", "c@example.com"})
	require.NoError(t, err)

	ids, err := s.PendingTicketIDs(ctx, send.ID, 2)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	claimed, err := s.ClaimTickets(ctx, send.ID, ids)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, newsletter.TicketSending, claimed[0].Status)
	assert.NotNil(t, claimed[0].ClaimedAt)

	again, err := s.ClaimTickets(ctx, send.ID, ids)
	require.NoError(t, err)
	assert.Empty(t, again, "a claimed ticket must not be claimed twice")

	require.NoError(t, s.MarkTicketSent(ctx, claimed[0].ID, "msg-1"))
	require.NoError(t, s.MarkTicketFailed(ctx, claimed[1].ID, "mailbox full"))

	// Sent never regresses.
	require.NoError(t, s.MarkTicketFailed(ctx, claimed[0].ID, "late failure"))

	counts, err := s.TicketCounts(ctx, send.ID)
	require.NoError(t, err)
	assert.Equal(t, newsletter.Counts{Pending: 1, Sent: 1, Failed: 1}, counts)

	byMsg, err := s.TicketByMessageID(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, claimed[0].ID, byMsg.ID)
	_, err = s.TicketByMessageID(ctx, "")
	require.ErrorIs(t, err, newsletter.ErrTicketNotFound)

	require.ErrorIs(t, s.ResetFailedTicket(ctx, send.ID, claimed[0].ID), newsletter.ErrTicketNotFailed)
	require.ErrorIs(t, s.ResetFailedTicket(ctx, send.ID, uuid.New()), newsletter.ErrTicketNotFound)
	require.NoError(t, s.ResetFailedTicket(ctx, send.ID, claimed[1].ID))

	require.ErrorIs(t, s.MarkTicketSent(ctx, uuid.New(), ""), newsletter.ErrTicketNotFound)

	failed, total, err := s.ListTickets(ctx, newsletter.TicketFilter{SendID: send.ID, Status: newsletter.TicketPending})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, failed, 2)

	found, total, err := s.ListTickets(ctx, newsletter.TicketFilter{SendID: send.ID, Search: "B@EXA", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, found, 1)
	assert.Equal(t, "b@example.com", found[0].Email)
}

func TestReleaseStaleClaims(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	send := createSend(t, s)

	_, err := s.InsertTickets(ctx, send.ID, []string{"a@example.com"})
	require.NoError(t, err)
	ids, err := s.PendingTicketIDs(ctx, send.ID, 10)
	require.NoError(t, err)
	_, err = s.ClaimTickets(ctx, send.ID, ids)
	require.NoError(t, err)

	released, err := s.ReleaseStaleClaims(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, released)

	released, err = s.ReleaseStaleClaims(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]int{send.ID: 1}, released)

	counts, err := s.TicketCounts(ctx, send.ID)
	require.NoError(t, err)
	assert.Equal(t, newsletter.Counts{Pending: 1}, counts)
}

func TestEventsAndEngagement(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	send := createSend(t, s)

	for _, e := range []newsletter.Event{
		{SendID: send.ID, Email: "a@example.com", Type: newsletter.EventOpen},
		{SendID: send.ID, Email: "a@example.com", Type: newsletter.EventOpen},
		{SendID: send.ID, Email: "b@example.com", Type: newsletter.EventOpen},
		{SendID: send.ID, Email: "a@example.com", Type: newsletter.EventClick, LinkURL: "https://example.com"},
	} {
		require.NoError(t, s.InsertEvent(ctx, &e))
	}

	eng, err := s.RefreshEngagement(ctx, send.ID)
	require.NoError(t, err)
	assert.Equal(t, newsletter.Engagement{UniqueOpens: 2, TotalOpens: 3, UniqueClicks: 1, TotalClicks: 1}, eng)

	err = s.InsertEvent(ctx, &newsletter.Event{SendID: uuid.New(), Email: "a@example.com", Type: newsletter.EventOpen})
	require.ErrorIs(t, err, newsletter.ErrSendNotFound)
}

func TestSubscribers(t *testing.T) {
	s, tx := setupTx(t)
	ctx := context.Background()

	_, err := tx.Exec(ctx, `
		INSERT INTO newsletter_subscribers (email, is_active, bounced, subscribed_at) VALUES
			('Carol@Example.com', true,  false, now() - interval '1 day'),
			('alice@example.com', true,  false, now() - interval '10 days'),
			('bob@example.com',   false, false, now() - interval '10 days'),
			('dan@example.com',   true,  true,  now() - interval '10 days')`)
	require.NoError(t, err)

	emails, err := s.EligibleEmails(ctx, newsletter.SubscriberFilter{}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice@example.com", "carol@example.com"}, emails)

	page, err := s.EligibleEmails(ctx, newsletter.SubscriberFilter{}, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"carol@example.com"}, page)

	since := time.Now().Add(-5 * 24 * time.Hour)
	n, err := s.CountEligibleSubscribers(ctx, newsletter.SubscriberFilter{JoinedAfter: &since})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ok, err := s.DeactivateSubscriber(ctx, "CAROL@example.com", newsletter.Deactivation{Bounced: true, BounceType: "hard"})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.DeactivateSubscriber(ctx, "nobody@example.com", newsletter.Deactivation{})
	require.NoError(t, err)
	assert.False(t, ok)

	var bounced bool
	var bounceType string
	require.NoError(t, tx.QueryRow(ctx,
		`SELECT bounced, bounce_type FROM newsletter_subscribers WHERE lower(email) = 'carol@example.com'`,
	).Scan(&bounced, &bounceType))
	assert.True(t, bounced)
	assert.Equal(t, "hard", bounceType)

	send := createSend(t, s)
	_, err = s.InsertTickets(ctx, send.ID, []string{"alice@example.com"})
	require.NoError(t, err)
	ids, err := s.PendingTicketIDs(ctx, send.ID, 1)
	require.NoError(t, err)
	require.NoError(t, s.MarkTicketSent(ctx, ids[0], "msg"))

	updated, err := s.SyncDeliveryStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)
	updated, err = s.SyncDeliveryStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, updated)
}

func TestArticles(t *testing.T) {
	s, tx := setupTx(t)
	ctx := context.Background()

	first, second := uuid.New(), uuid.New()
	_, err := tx.Exec(ctx, `
		INSERT INTO articles (id, title, url, published_at, ai_why_it_matters) VALUES
			($1, 'Older', 'https://example.com/1', now() - interval '2 days', NULL),
			($2, 'Newer', 'https://example.com/2', now() - interval '1 day', ARRAY['fast'])`,
		first, second)
	require.NoError(t, err)

	got, err := s.Articles(ctx, []uuid.UUID{second, uuid.New(), first})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, second, got[0].ID)
	assert.Equal(t, []string{"fast"}, got[0].AIWhyItMatters)
	assert.Equal(t, first, got[1].ID)

	latest, err := s.LatestArticles(ctx, 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "Newer", latest[0].Title)

	require.NoError(t, s.MarkArticlesProcessed(ctx, []uuid.UUID{second}))
	latest, err = s.LatestArticles(ctx, 10)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "Older", latest[0].Title)
}
