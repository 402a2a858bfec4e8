package command_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/newsletter/internal/auth"
	"github.com/dmitrymomot/newsletter/internal/command"
	"github.com/dmitrymomot/newsletter/internal/delivery"
	"github.com/dmitrymomot/newsletter/internal/engine"
	"github.com/dmitrymomot/newsletter/internal/newsletter"
)

// recorder notes which operation ran and with which send id.
type recorder struct {
	op     string
	sendID uuid.UUID
}

func (r *recorder) Create(_ context.Context, req engine.CreateRequest) (*engine.CreateResult, error) {
	r.op = "create"
	return &engine.CreateResult{SendID: uuid.New(), ArticleCount: len(req.ArticleIDs)}, nil
}

func (r *recorder) Status(_ context.Context, id uuid.UUID) (engine.StatusView, error) {
	r.op, r.sendID = "status", id
	return engine.StatusView{ID: id, Status: newsletter.SendSending}, nil
}

func (r *recorder) History(_ context.Context, limit int) ([]newsletter.Send, int, error) {
	r.op = "history"
	return make([]newsletter.Send, limit), 42, nil
}

func (r *recorder) UpdateStatus(_ context.Context, id uuid.UUID, _ newsletter.SendStatus) error {
	r.op, r.sendID = "update-status", id
	return nil
}

func (r *recorder) Resume(_ context.Context, id uuid.UUID) (newsletter.Counts, error) {
	r.op, r.sendID = "resume", id
	return newsletter.Counts{Pending: 7}, nil
}

func (r *recorder) ResendToNew(_ context.Context, id uuid.UUID) (*engine.ResendResult, error) {
	r.op, r.sendID = "resend-to-new", id
	return &engine.ResendResult{Count: 1}, nil
}

func (r *recorder) ResendToMissing(_ context.Context, id uuid.UUID) (*engine.ResendResult, error) {
	r.op, r.sendID = "resend-to-missing", id
	return &engine.ResendResult{Count: 2}, nil
}

func (r *recorder) RetryRecipient(_ context.Context, id, ticketID uuid.UUID) (delivery.Outcome, error) {
	r.op, r.sendID = "retry-recipient", id
	return delivery.Outcome{TicketID: ticketID, Status: newsletter.TicketSent}, nil
}

func (r *recorder) Recipients(_ context.Context, q engine.RecipientsQuery) (*engine.RecipientsPage, error) {
	r.op, r.sendID = "recipients", q.SendID
	return &engine.RecipientsPage{Page: q.Page}, nil
}

type unknown struct{ command.Status }

func TestDispatcher(t *testing.T) {
	t.Parallel()

	admin := auth.Principal{ID: "alice", Admin: true}
	id := uuid.New()

	tests := []struct {
		cmd    command.Command
		check  func(t *testing.T, res any)
		name   string
		wantOp string
	}{
		{name: "send", cmd: command.Send{ArticleIDs: []uuid.UUID{uuid.New()}}, wantOp: "create", check: func(t *testing.T, res any) {
			assert.Equal(t, 1, res.(*engine.CreateResult).ArticleCount)
		}},
		{name: "status", cmd: command.Status{SendID: id}, wantOp: "status"},
		{name: "history", cmd: command.History{Limit: 3}, wantOp: "history", check: func(t *testing.T, res any) {
			h := res.(command.HistoryResult)
			assert.Len(t, h.Sends, 3)
			assert.Equal(t, 42, h.TotalCount)
		}},
		{name: "update status", cmd: command.UpdateStatus{SendID: id, Status: newsletter.SendSent}, wantOp: "update-status", check: func(t *testing.T, res any) {
			assert.Equal(t, newsletter.SendSent, res.(command.UpdateStatusResult).Status)
		}},
		{name: "resume", cmd: command.Resume{SendID: id}, wantOp: "resume", check: func(t *testing.T, res any) {
			assert.Equal(t, 7, res.(command.ResumeResult).Pending)
		}},
		{name: "resend to new", cmd: command.ResendToNew{SendID: id}, wantOp: "resend-to-new"},
		{name: "resend to missing", cmd: command.ResendToMissing{SendID: id}, wantOp: "resend-to-missing"},
		{name: "retry recipient", cmd: command.RetryRecipient{SendID: id, TicketID: uuid.New()}, wantOp: "retry-recipient"},
		{name: "recipients", cmd: command.Recipients{SendID: id, Page: 2}, wantOp: "recipients"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := &recorder{}
			res, err := command.NewDispatcher(rec).Dispatch(context.Background(), admin, tt.cmd)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOp, rec.op)
			if tt.check != nil {
				tt.check(t, res)
			}
		})
	}
}

func TestDispatcher_RequiresAdmin(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	d := command.NewDispatcher(rec)

	_, err := d.Dispatch(context.Background(), auth.Principal{ID: "bob"}, command.Status{SendID: uuid.New()})
	require.ErrorIs(t, err, auth.ErrForbidden)
	assert.Empty(t, rec.op)
}

func TestDispatcher_Unknown(t *testing.T) {
	t.Parallel()

	_, err := command.NewDispatcher(&recorder{}).Dispatch(context.Background(), auth.Principal{Admin: true}, unknown{})
	require.True(t, errors.Is(err, command.ErrUnknownCommand))
}
