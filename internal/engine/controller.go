package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/newsletter/internal/delivery"
	"github.com/dmitrymomot/newsletter/internal/newsletter"
	"github.com/dmitrymomot/newsletter/pkg/cache"
)

const nothingToResend = "All subscribers have already received this newsletter."

// StatusView is the polled progress of a send.
type StatusView struct {
	ID             uuid.UUID             `json:"id"`
	Status         newsletter.SendStatus `json:"status"`
	RecipientCount int                   `json:"recipientCount"`
	ArticleCount   int                   `json:"articleCount"`
	ErrorMessage   string                `json:"errorMessage,omitempty"`
	SentAt         time.Time             `json:"sentAt"`
	Counts         newsletter.Counts     `json:"counts"`
}

// ResendResult reports how many tickets a resend queued.
type ResendResult struct {
	Count   int    `json:"count"`
	Message string `json:"message"`
}

// RecipientsQuery pages through a send's tickets. Page is 1-based.
type RecipientsQuery struct {
	SendID   uuid.UUID
	Status   newsletter.TicketStatus
	Search   string
	Page     int
	PageSize int
}

// RecipientsPage is one page of tickets plus the send-wide breakdown.
type RecipientsPage struct {
	Recipients []newsletter.Ticket
	Total      int
	Page       int
	PageSize   int
	Counts     newsletter.Counts
}

// Resume re-enters the loop for a stalled send. Only pending tickets are
// picked up; sent and failed ones are never touched.
func (e *Engine) Resume(ctx context.Context, sendID uuid.UUID) (newsletter.Counts, error) {
	send, err := e.store.GetSend(ctx, sendID)
	if err != nil {
		return newsletter.Counts{}, err
	}
	if !send.HasContent() {
		return newsletter.Counts{}, newsletter.ErrNoStoredContent
	}

	if err := e.restart(ctx, sendID); err != nil {
		return newsletter.Counts{}, err
	}

	counts, err := e.store.TicketCounts(ctx, sendID)
	if err != nil {
		return newsletter.Counts{}, err
	}
	e.log.InfoContext(ctx, "send resumed",
		slog.String("send_id", sendID.String()),
		slog.Int("pending", counts.Pending),
	)
	return counts, nil
}

// RetryRecipient resets one failed ticket, claims it and delivers it
// synchronously. The send's status and recipient_count are left as they
// were; the next Run or Finalize of the send picks up the new outcome.
func (e *Engine) RetryRecipient(ctx context.Context, sendID, ticketID uuid.UUID) (delivery.Outcome, error) {
	send, err := e.store.GetSend(ctx, sendID)
	if err != nil {
		return delivery.Outcome{}, err
	}
	if !send.HasContent() {
		return delivery.Outcome{}, newsletter.ErrNoStoredContent
	}

	if err := e.store.ResetFailedTicket(ctx, sendID, ticketID); err != nil {
		return delivery.Outcome{}, err
	}

	ticket, ok, err := e.queue.ClaimOne(ctx, sendID, ticketID)
	if err != nil {
		return delivery.Outcome{}, err
	}
	if !ok {
		return delivery.Outcome{}, ErrClaimLost
	}

	out, err := e.worker.Deliver(ctx, delivery.Content{SendID: send.ID, Subject: send.Subject, HTML: send.HTML}, ticket)
	if err != nil {
		return out, err
	}
	e.invalidate(ctx, sendID)

	e.log.InfoContext(ctx, "recipient retried",
		slog.String("send_id", sendID.String()),
		slog.String("ticket_id", ticketID.String()),
		slog.String("status", string(out.Status)),
	)
	return out, nil
}

// ResendToNew queues subscribers who joined after the send was created and
// have no ticket yet.
func (e *Engine) ResendToNew(ctx context.Context, sendID uuid.UUID) (*ResendResult, error) {
	return e.resend(ctx, sendID, true, "Sending to %d subscriber(s) who joined after this newsletter.")
}

// ResendToMissing queues every eligible subscriber without a ticket.
func (e *Engine) ResendToMissing(ctx context.Context, sendID uuid.UUID) (*ResendResult, error) {
	return e.resend(ctx, sendID, false, "Sending to %d subscriber(s) who haven't received this newsletter.")
}

func (e *Engine) resend(ctx context.Context, sendID uuid.UUID, joinedAfter bool, format string) (*ResendResult, error) {
	send, err := e.store.GetSend(ctx, sendID)
	if err != nil {
		return nil, err
	}
	if !send.HasContent() {
		return nil, newsletter.ErrNoStoredContent
	}

	var f newsletter.SubscriberFilter
	if joinedAfter {
		f.JoinedAfter = &send.CreatedAt
	}
	candidates, err := e.eligible(ctx, f)
	if err != nil {
		return nil, err
	}

	// Tickets are unique per send and address, so Extend adds only the
	// candidates that were never queued.
	n, err := e.queue.Extend(ctx, sendID, candidates)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return &ResendResult{Message: nothingToResend}, nil
	}

	if err := e.restart(ctx, sendID); err != nil {
		return nil, err
	}

	e.log.InfoContext(ctx, "resend queued",
		slog.String("send_id", sendID.String()),
		slog.Int("queued", n),
		slog.Bool("new_only", joinedAfter),
	)
	return &ResendResult{Count: n, Message: fmt.Sprintf(format, n)}, nil
}

// restart flips the send back to sending and schedules a run.
func (e *Engine) restart(ctx context.Context, sendID uuid.UUID) error {
	if err := e.store.UpdateSendStatus(ctx, sendID, newsletter.SendSending, ""); err != nil {
		return err
	}
	e.invalidate(ctx, sendID)
	if err := e.scheduler.ScheduleRun(ctx, sendID); err != nil {
		return errors.Join(ErrSchedule, err)
	}
	return nil
}

// Status returns the send's progress. Results are cached briefly so a
// polling UI does not hit the database on every tick.
func (e *Engine) Status(ctx context.Context, sendID uuid.UUID) (StatusView, error) {
	return cache.GetOrSet(ctx, e.status, statusKey(sendID), func(ctx context.Context) (StatusView, time.Duration, error) {
		send, err := e.store.GetSend(ctx, sendID)
		if err != nil {
			return StatusView{}, 0, err
		}
		counts, err := e.store.TicketCounts(ctx, sendID)
		if err != nil {
			return StatusView{}, 0, err
		}
		return StatusView{
			ID:             send.ID,
			Status:         send.Status,
			RecipientCount: send.RecipientCount,
			ArticleCount:   send.ArticleCount,
			ErrorMessage:   send.ErrorMessage,
			SentAt:         send.SentAt,
			Counts:         counts,
		}, e.cfg.StatusCacheTTL, nil
	})
}

// History lists the most recent sends and the total number of sends.
func (e *Engine) History(ctx context.Context, limit int) ([]newsletter.Send, int, error) {
	switch {
	case limit <= 0:
		limit = defaultHistory
	case limit > maxHistory:
		limit = maxHistory
	}
	return e.store.ListSends(ctx, limit)
}

// UpdateStatus overrides a send's status by hand. Only sent, partial,
// failed and pending are accepted; the error message is kept.
func (e *Engine) UpdateStatus(ctx context.Context, sendID uuid.UUID, status newsletter.SendStatus) error {
	if !status.Overridable() {
		return newsletter.ErrInvalidStatus
	}
	send, err := e.store.GetSend(ctx, sendID)
	if err != nil {
		return err
	}
	if err := e.store.UpdateSendStatus(ctx, sendID, status, send.ErrorMessage); err != nil {
		return err
	}
	e.invalidate(ctx, sendID)

	e.log.InfoContext(ctx, "send status overridden",
		slog.String("send_id", sendID.String()),
		slog.String("from", string(send.Status)),
		slog.String("to", string(status)),
	)
	return nil
}

// Recipients lists a send's tickets filtered by status and email substring.
func (e *Engine) Recipients(ctx context.Context, q RecipientsQuery) (*RecipientsPage, error) {
	if q.Status != "" && !q.Status.Valid() {
		return nil, newsletter.ErrInvalidStatus
	}
	if _, err := e.store.GetSend(ctx, q.SendID); err != nil {
		return nil, err
	}

	page, size := max(q.Page, 1), q.PageSize
	switch {
	case size <= 0:
		size = defaultPageSize
	case size > maxPageSize:
		size = maxPageSize
	}

	tickets, total, err := e.store.ListTickets(ctx, newsletter.TicketFilter{
		SendID: q.SendID,
		Status: q.Status,
		Search: strings.TrimSpace(q.Search),
		Limit:  size,
		Offset: (page - 1) * size,
	})
	if err != nil {
		return nil, err
	}
	counts, err := e.store.TicketCounts(ctx, q.SendID)
	if err != nil {
		return nil, err
	}

	return &RecipientsPage{
		Recipients: tickets,
		Total:      total,
		Page:       page,
		PageSize:   size,
		Counts:     counts,
	}, nil
}

func statusKey(sendID uuid.UUID) string { return "send-status:" + sendID.String() }

func (e *Engine) invalidate(ctx context.Context, sendID uuid.UUID) {
	if err := e.status.Delete(ctx, statusKey(sendID)); err != nil {
		e.log.DebugContext(ctx, "failed to drop cached status", slog.Any("error", err))
	}
}
