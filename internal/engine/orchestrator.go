package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/newsletter/internal/content"
	"github.com/dmitrymomot/newsletter/internal/delivery"
	"github.com/dmitrymomot/newsletter/internal/newsletter"
	"github.com/dmitrymomot/newsletter/pkg/logger"
)

const noSubscribersMessage = "No active subscribers"

// CreateRequest starts a new send. Without ArticleIDs the latest
// unprocessed articles are used; without TargetEmails every active,
// non-bounced subscriber receives it.
type CreateRequest struct {
	ArticleIDs   []uuid.UUID
	TargetEmails []string
	CustomIntro  string
	Subject      string
}

// CreateResult describes the send that was scheduled.
type CreateResult struct {
	SendID          uuid.UUID `json:"sendId"`
	SubscriberCount int       `json:"subscriberCount"`
	ArticleCount    int       `json:"articleCount"`
	BatchSize       int       `json:"batchSize"`
	DelaySeconds    int       `json:"delaySeconds"`
}

// Create composes the issue, stores it with a new send in the sending state
// and schedules the run. It returns before any email is sent.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	var targets []string
	if len(req.TargetEmails) > 0 {
		targets = newsletter.NormalizeEmails(req.TargetEmails)
		if len(targets) == 0 {
			return nil, errors.Join(ErrInvalidRequest, newsletter.ErrInvalidEmail)
		}
	}

	articles, err := e.selectArticles(ctx, req.ArticleIDs)
	if err != nil {
		return nil, err
	}

	issue, err := e.composer.Compose(content.Input{
		Articles: articles,
		Intro:    req.CustomIntro,
		Subject:  req.Subject,
		IssuedAt: e.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("compose: %w", err)
	}

	subscribers := len(targets)
	if targets == nil {
		subscribers, err = e.store.CountEligibleSubscribers(ctx, newsletter.SubscriberFilter{})
		if err != nil {
			return nil, fmt.Errorf("count subscribers: %w", err)
		}
	}

	send := &newsletter.Send{
		Status:       newsletter.SendSending,
		Subject:      issue.Subject,
		HTML:         issue.HTML,
		ArticleIDs:   articleIDs(articles),
		TargetEmails: targets,
		ArticleCount: len(articles),
	}
	if err := e.store.CreateSend(ctx, send); err != nil {
		return nil, fmt.Errorf("create send: %w", err)
	}

	log := e.log.With(slog.String("send_id", send.ID.String()))
	e.archive(ctx, log, send)

	if err := e.scheduler.ScheduleRun(ctx, send.ID); err != nil {
		if ferr := e.progress.Fail(context.WithoutCancel(ctx), send.ID, "Failed to schedule send"); ferr != nil {
			log.ErrorContext(ctx, "failed to mark unscheduled send", slog.Any("error", ferr))
		}
		return nil, errors.Join(ErrSchedule, err)
	}

	log.InfoContext(ctx, "send created",
		slog.Int("articles", len(articles)),
		slog.Int("subscribers", subscribers),
		slog.Bool("targeted", targets != nil),
	)

	return &CreateResult{
		SendID:          send.ID,
		SubscriberCount: subscribers,
		ArticleCount:    len(articles),
		BatchSize:       e.cfg.BatchSize,
		DelaySeconds:    int(e.cfg.BatchDelay.Seconds()),
	}, nil
}

func (e *Engine) selectArticles(ctx context.Context, ids []uuid.UUID) ([]newsletter.Article, error) {
	var (
		articles []newsletter.Article
		err      error
	)
	if len(ids) > 0 {
		articles, err = e.store.Articles(ctx, ids)
	} else {
		articles, err = e.store.LatestArticles(ctx, e.cfg.ArticleLimit)
	}
	if err != nil {
		return nil, fmt.Errorf("load articles: %w", err)
	}
	if len(articles) == 0 {
		return nil, ErrNoArticles
	}
	return articles, nil
}

func (e *Engine) archive(ctx context.Context, log *slog.Logger, send *newsletter.Send) {
	if e.archiver == nil {
		return
	}
	key := send.ID.String() + ".html"
	if err := e.archiver.Put(ctx, key, "text/html; charset=utf-8", []byte(send.HTML)); err != nil {
		log.WarnContext(ctx, "failed to archive newsletter", slog.String("key", key), slog.Any("error", err))
	}
}

// Run executes the send loop. Sends that are not in the sending state are
// left alone, so a duplicate or late run is a no-op. A send without any
// eligible recipient is marked failed and ErrNoRecipients returned; any
// other workflow error marks it failed and is returned joined with
// ErrAborted. Context cancellation is returned as is and leaves the send
// sending, ready to be picked up again.
func (e *Engine) Run(ctx context.Context, sendID uuid.UUID) error {
	ctx = logger.WithAttrs(ctx, slog.String("send_id", sendID.String()))

	send, err := e.store.GetSend(ctx, sendID)
	if err != nil {
		return fmt.Errorf("load send: %w", err)
	}
	if send.Status != newsletter.SendSending {
		e.log.InfoContext(ctx, "send is not sending, skipping run", slog.String("status", string(send.Status)))
		return nil
	}
	if !send.HasContent() {
		return e.abort(ctx, sendID, newsletter.ErrNoStoredContent)
	}
	defer e.invalidate(ctx, sendID)

	if err := e.seed(ctx, send); err != nil {
		return e.abort(ctx, sendID, err)
	}

	counts, err := e.store.TicketCounts(ctx, sendID)
	if err != nil {
		return e.abort(ctx, sendID, err)
	}
	if counts.Total() == 0 {
		if err := e.progress.Fail(ctx, sendID, noSubscribersMessage); err != nil {
			return err
		}
		return ErrNoRecipients
	}

	if err := e.loop(ctx, send); err != nil {
		return e.abort(ctx, sendID, err)
	}

	status, _, err := e.progress.Finalize(ctx, sendID)
	if err != nil {
		return e.abort(ctx, sendID, err)
	}
	if status == newsletter.SendSending {
		return nil
	}

	if len(send.ArticleIDs) > 0 {
		if err := e.store.MarkArticlesProcessed(ctx, send.ArticleIDs); err != nil {
			e.log.WarnContext(ctx, "failed to mark articles processed", slog.Any("error", err))
		}
	}
	return nil
}

// seed queues the explicit target list or, failing that, every eligible
// subscriber. It does nothing for a send that already has tickets.
func (e *Engine) seed(ctx context.Context, send *newsletter.Send) error {
	counts, err := e.store.TicketCounts(ctx, send.ID)
	if err != nil {
		return err
	}
	if counts.Total() > 0 {
		return nil
	}

	emails := send.TargetEmails
	if len(emails) == 0 {
		emails, err = e.eligible(ctx, newsletter.SubscriberFilter{})
		if err != nil {
			return err
		}
	}
	_, err = e.queue.Seed(ctx, send.ID, emails)
	return err
}

// eligible pages through the active, non-bounced subscribers matching f.
func (e *Engine) eligible(ctx context.Context, f newsletter.SubscriberFilter) ([]string, error) {
	var all []string
	for offset := 0; ; offset += subscriberPageSize {
		page, err := e.store.EligibleEmails(ctx, f, offset, subscriberPageSize)
		if err != nil {
			return nil, fmt.Errorf("load subscribers: %w", err)
		}
		all = append(all, page...)
		if len(page) < subscriberPageSize {
			return all, nil
		}
	}
}

func (e *Engine) loop(ctx context.Context, send *newsletter.Send) error {
	msg := delivery.Content{SendID: send.ID, Subject: send.Subject, HTML: send.HTML}

	for batch := 1; ; batch++ {
		tickets, err := e.queue.Claim(ctx, send.ID, e.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(tickets) == 0 {
			return nil
		}
		e.metrics.Batch(len(tickets))

		if err := e.deliverBatch(ctx, msg, tickets); err != nil {
			return err
		}

		counts, err := e.progress.Refresh(ctx, send.ID)
		if err != nil {
			return err
		}
		e.invalidate(ctx, send.ID)

		e.log.InfoContext(ctx, "batch processed",
			slog.Int("batch", batch),
			slog.Int("batch_size", len(tickets)),
			slog.Int("sent", counts.Sent),
			slog.Int("failed", counts.Failed),
			slog.Int("pending", counts.Pending),
		)

		if len(tickets) == e.cfg.BatchSize {
			if err := e.limiter.Wait(ctx); err != nil {
				return err
			}
		}
	}
}

// deliverBatch sends every ticket concurrently and waits for all of them.
// In-flight deliveries are not cancelled when one fails to record its
// outcome.
func (e *Engine) deliverBatch(ctx context.Context, msg delivery.Content, tickets []newsletter.Ticket) error {
	var g errgroup.Group
	g.SetLimit(len(tickets))
	for _, t := range tickets {
		g.Go(func() error {
			_, err := e.worker.Deliver(ctx, msg, t)
			return err
		})
	}
	return g.Wait()
}

func (e *Engine) abort(ctx context.Context, sendID uuid.UUID, cause error) error {
	if ctx.Err() != nil {
		e.log.WarnContext(ctx, "send run interrupted", slog.Any("error", cause))
		return cause
	}

	msg := cause.Error()
	if errors.Is(cause, newsletter.ErrNoStoredContent) {
		msg = "Send has no stored content"
	}
	if err := e.progress.Fail(context.WithoutCancel(ctx), sendID, msg); err != nil {
		e.log.ErrorContext(ctx, "failed to mark send failed", slog.Any("error", err))
	}
	e.invalidate(ctx, sendID)
	return errors.Join(ErrAborted, cause)
}

func articleIDs(articles []newsletter.Article) []uuid.UUID {
	ids := make([]uuid.UUID, len(articles))
	for i, a := range articles {
		ids[i] = a.ID
	}
	return ids
}
