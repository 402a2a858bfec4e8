package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/newsletter/internal/engine"
	"github.com/dmitrymomot/newsletter/internal/newsletter"
	"github.com/dmitrymomot/newsletter/internal/store/memstore"
	"github.com/dmitrymomot/newsletter/pkg/job"
)

type runnerFunc func(ctx context.Context, id uuid.UUID) error

func (f runnerFunc) Run(ctx context.Context, id uuid.UUID) error { return f(ctx, id) }

func TestPermanent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "no recipients", err: engine.ErrNoRecipients, want: true},
		{name: "aborted", err: errors.Join(engine.ErrAborted, errors.New("db down")), want: true},
		{name: "missing send", err: newsletter.ErrSendNotFound, want: true},
		{name: "interrupted", err: context.Canceled, want: false},
		{name: "transient", err: errors.New("connection reset"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, permanent(tt.err))
		})
	}
}

func TestRunSend_Handle(t *testing.T) {
	t.Parallel()

	id := uuid.New()

	t.Run("passes send id", func(t *testing.T) {
		t.Parallel()
		var got uuid.UUID
		task := NewRunSend(runnerFunc(func(_ context.Context, sid uuid.UUID) error {
			got = sid
			return nil
		}), nil)

		require.NoError(t, task.Handle(context.Background(), RunSendPayload{SendID: id}))
		assert.Equal(t, id, got)
		assert.Equal(t, "run_send", task.Name())
	})

	t.Run("transient error is returned for retry", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("boom")
		task := NewRunSend(runnerFunc(func(context.Context, uuid.UUID) error { return boom }), nil)
		assert.Equal(t, boom, task.Handle(context.Background(), RunSendPayload{SendID: id}))
	})

	t.Run("permanent error keeps its cause", func(t *testing.T) {
		t.Parallel()
		task := NewRunSend(runnerFunc(func(context.Context, uuid.UUID) error { return engine.ErrNoRecipients }), nil)
		err := task.Handle(context.Background(), RunSendPayload{SendID: id})
		require.Error(t, err)
		assert.ErrorIs(t, err, engine.ErrNoRecipients)
	})

	t.Run("empty payload", func(t *testing.T) {
		t.Parallel()
		called := false
		task := NewRunSend(runnerFunc(func(context.Context, uuid.UUID) error {
			called = true
			return nil
		}), nil)
		require.Error(t, task.Handle(context.Background(), RunSendPayload{}))
		assert.False(t, called)
	})
}

type recordingEnqueuer struct {
	payload any
	name    string
	opts    int
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, name string, payload any, opts ...job.EnqueueOption) error {
	r.name, r.payload, r.opts = name, payload, len(opts)
	return nil
}

func TestScheduler_ScheduleRun(t *testing.T) {
	t.Parallel()

	enq := &recordingEnqueuer{}
	id := uuid.New()
	require.NoError(t, NewScheduler(enq).ScheduleRun(context.Background(), id))

	assert.Equal(t, RunSendName, enq.name)
	assert.Equal(t, RunSendPayload{SendID: id}, enq.payload)
	assert.Equal(t, 2, enq.opts)
}

type recordingResumer struct {
	err     error
	resumed []uuid.UUID
}

func (r *recordingResumer) Resume(_ context.Context, id uuid.UUID) (newsletter.Counts, error) {
	r.resumed = append(r.resumed, id)
	return newsletter.Counts{}, r.err
}

func TestSweepStaleClaims(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	send := &newsletter.Send{Status: newsletter.SendSending, HTML: "<p>x</p>"}
	require.NoError(t, store.CreateSend(ctx, send))

	_, err := store.InsertTickets(ctx, send.ID, []string{"stale@example.com", "fresh@example.com", "done@example.com", "idle@example.com"})
	require.NoError(t, err)

	byEmail := map[string]newsletter.Ticket{}
	for _, tk := range store.Tickets(send.ID) {
		byEmail[tk.Email] = tk
	}
	claimed, err := store.ClaimTickets(ctx, send.ID, []uuid.UUID{
		byEmail["stale@example.com"].ID, byEmail["fresh@example.com"].ID, byEmail["done@example.com"].ID,
	})
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	require.NoError(t, store.MarkTicketSent(ctx, byEmail["done@example.com"].ID, "m"))
	store.SetTicketClaimedAt(byEmail["stale@example.com"].ID, time.Now().Add(-time.Hour))
	store.SetTicketClaimedAt(byEmail["done@example.com"].ID, time.Now().Add(-time.Hour))

	resumer := &recordingResumer{}
	task := NewSweepStaleClaims(store, resumer, 15*time.Minute, nil, nil)
	assert.Equal(t, "*/5 * * * *", task.Schedule())
	require.NoError(t, task.Handle(ctx))
	assert.Equal(t, []uuid.UUID{send.ID}, resumer.resumed)

	after := map[string]newsletter.TicketStatus{}
	for _, tk := range store.Tickets(send.ID) {
		after[tk.Email] = tk.Status
	}
	assert.Equal(t, newsletter.TicketPending, after["stale@example.com"])
	assert.Equal(t, newsletter.TicketSending, after["fresh@example.com"])
	assert.Equal(t, newsletter.TicketSent, after["done@example.com"])
	assert.Equal(t, newsletter.TicketPending, after["idle@example.com"])
}

func TestSweepStaleClaims_Resume(t *testing.T) {
	t.Parallel()

	stale := func(t *testing.T) (*memstore.Store, uuid.UUID) {
		t.Helper()
		ctx := context.Background()
		store := memstore.New()
		send := &newsletter.Send{Status: newsletter.SendSending, HTML: "<p>x</p>"}
		require.NoError(t, store.CreateSend(ctx, send))
		_, err := store.InsertTickets(ctx, send.ID, []string{"a@example.com"})
		require.NoError(t, err)
		tk := store.Tickets(send.ID)[0]
		_, err = store.ClaimTickets(ctx, send.ID, []uuid.UUID{tk.ID})
		require.NoError(t, err)
		store.SetTicketClaimedAt(tk.ID, time.Now().Add(-time.Hour))
		return store, send.ID
	}

	t.Run("nothing stale resumes nothing", func(t *testing.T) {
		t.Parallel()
		resumer := &recordingResumer{}
		require.NoError(t, NewSweepStaleClaims(memstore.New(), resumer, 0, nil, nil).Handle(context.Background()))
		assert.Empty(t, resumer.resumed)
	})

	t.Run("send without content is skipped", func(t *testing.T) {
		t.Parallel()
		store, id := stale(t)
		resumer := &recordingResumer{err: newsletter.ErrNoStoredContent}
		require.NoError(t, NewSweepStaleClaims(store, resumer, 0, nil, nil).Handle(context.Background()))
		assert.Equal(t, []uuid.UUID{id}, resumer.resumed)
		assert.Equal(t, newsletter.TicketPending, store.Tickets(id)[0].Status)
	})

	t.Run("resume failure is returned", func(t *testing.T) {
		t.Parallel()
		store, _ := stale(t)
		boom := errors.New("queue down")
		err := NewSweepStaleClaims(store, &recordingResumer{err: boom}, 0, nil, nil).Handle(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
	})
}

func TestSyncDeliveryStats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	store.AddSubscriber(newsletter.Subscriber{Email: "a@example.com", Active: true})

	send := &newsletter.Send{Status: newsletter.SendSending, HTML: "<p>x</p>"}
	require.NoError(t, store.CreateSend(ctx, send))
	_, err := store.InsertTickets(ctx, send.ID, []string{"a@example.com"})
	require.NoError(t, err)
	require.NoError(t, store.MarkTicketSent(ctx, store.Tickets(send.ID)[0].ID, "m"))

	require.NoError(t, NewSyncDeliveryStats(store, nil).Handle(ctx))

	sub, ok := store.Subscriber("a@example.com")
	require.True(t, ok)
	assert.Equal(t, 1, sub.DeliveryCount)
	assert.NotNil(t, sub.LastDeliveredAt)
}
