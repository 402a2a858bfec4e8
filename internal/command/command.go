// Package command is the closed set of operator commands and the
// dispatcher that routes each of them to exactly one engine operation.
package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmitrymomot/newsletter/internal/auth"
	"github.com/dmitrymomot/newsletter/internal/delivery"
	"github.com/dmitrymomot/newsletter/internal/engine"
	"github.com/dmitrymomot/newsletter/internal/newsletter"
)

var ErrUnknownCommand = errors.New("command: unknown command")

// Command is implemented only by the types in this package.
type Command interface {
	command()
}

// Send creates a new send.
type Send struct {
	ArticleIDs   []uuid.UUID `json:"articleIds" validate:"omitempty,max=50"`
	TargetEmails []string    `json:"targetEmails" validate:"omitempty,max=10000"`
	CustomIntro  string      `json:"customIntro" validate:"max=20000"`
	Subject      string      `json:"subject" validate:"max=200"`
}

// Status polls one send.
type Status struct {
	SendID uuid.UUID `json:"sendId" validate:"required"`
}

// History lists recent sends.
type History struct {
	Limit int `json:"limit" validate:"gte=0,lte=100"`
}

// UpdateStatus overrides a send's status.
type UpdateStatus struct {
	SendID uuid.UUID             `json:"sendId" validate:"required"`
	Status newsletter.SendStatus `json:"status" validate:"required,oneof=sent partial failed pending"`
}

// Resume re-enters the loop for pending tickets.
type Resume struct {
	SendID uuid.UUID `json:"sendId" validate:"required"`
}

// ResendToNew queues subscribers who joined after the send.
type ResendToNew struct {
	SendID uuid.UUID `json:"sendId" validate:"required"`
}

// ResendToMissing queues every eligible subscriber without a ticket.
type ResendToMissing struct {
	SendID uuid.UUID `json:"sendId" validate:"required"`
}

// RetryRecipient delivers one failed ticket again.
type RetryRecipient struct {
	SendID   uuid.UUID `json:"sendId" validate:"required"`
	TicketID uuid.UUID `json:"ticketId" validate:"required"`
}

// Recipients pages through a send's tickets.
type Recipients struct {
	SendID   uuid.UUID               `json:"sendId" validate:"required"`
	Status   newsletter.TicketStatus `json:"status" validate:"omitempty,oneof=pending sending sent failed"`
	Search   string                  `json:"search" validate:"max=320"`
	Page     int                     `json:"page" validate:"gte=0"`
	PageSize int                     `json:"pageSize" validate:"gte=0,lte=200"`
}

func (Send) command()            {}
func (Status) command()          {}
func (History) command()         {}
func (UpdateStatus) command()    {}
func (Resume) command()          {}
func (ResendToNew) command()     {}
func (ResendToMissing) command() {}
func (RetryRecipient) command()  {}
func (Recipients) command()      {}

// HistoryResult is the outcome of History.
type HistoryResult struct {
	Sends      []newsletter.Send
	TotalCount int
}

// UpdateStatusResult is the outcome of UpdateStatus.
type UpdateStatusResult struct {
	SendID uuid.UUID             `json:"sendId"`
	Status newsletter.SendStatus `json:"newStatus"`
}

// ResumeResult is the outcome of Resume.
type ResumeResult struct {
	SendID  uuid.UUID `json:"sendId"`
	Pending int       `json:"pending"`
	Message string    `json:"message"`
}

// Engine is the set of operations commands map onto.
type Engine interface {
	Create(ctx context.Context, req engine.CreateRequest) (*engine.CreateResult, error)
	Status(ctx context.Context, sendID uuid.UUID) (engine.StatusView, error)
	History(ctx context.Context, limit int) ([]newsletter.Send, int, error)
	UpdateStatus(ctx context.Context, sendID uuid.UUID, status newsletter.SendStatus) error
	Resume(ctx context.Context, sendID uuid.UUID) (newsletter.Counts, error)
	ResendToNew(ctx context.Context, sendID uuid.UUID) (*engine.ResendResult, error)
	ResendToMissing(ctx context.Context, sendID uuid.UUID) (*engine.ResendResult, error)
	RetryRecipient(ctx context.Context, sendID, ticketID uuid.UUID) (delivery.Outcome, error)
	Recipients(ctx context.Context, q engine.RecipientsQuery) (*engine.RecipientsPage, error)
}

// Dispatcher executes commands on behalf of an admin principal.
type Dispatcher struct {
	engine Engine
}

// NewDispatcher creates a Dispatcher over e.
func NewDispatcher(e Engine) *Dispatcher {
	return &Dispatcher{engine: e}
}

// Dispatch runs cmd. Every command requires an admin principal.
func (d *Dispatcher) Dispatch(ctx context.Context, p auth.Principal, cmd Command) (any, error) {
	if !p.Admin {
		return nil, auth.ErrForbidden
	}

	switch c := cmd.(type) {
	case Send:
		return d.engine.Create(ctx, engine.CreateRequest{
			ArticleIDs:   c.ArticleIDs,
			TargetEmails: c.TargetEmails,
			CustomIntro:  c.CustomIntro,
			Subject:      c.Subject,
		})
	case Status:
		return d.engine.Status(ctx, c.SendID)
	case History:
		sends, total, err := d.engine.History(ctx, c.Limit)
		if err != nil {
			return nil, err
		}
		return HistoryResult{Sends: sends, TotalCount: total}, nil
	case UpdateStatus:
		if err := d.engine.UpdateStatus(ctx, c.SendID, c.Status); err != nil {
			return nil, err
		}
		return UpdateStatusResult{SendID: c.SendID, Status: c.Status}, nil
	case Resume:
		counts, err := d.engine.Resume(ctx, c.SendID)
		if err != nil {
			return nil, err
		}
		return ResumeResult{SendID: c.SendID, Pending: counts.Pending, Message: "Resume started"}, nil
	case ResendToNew:
		return d.engine.ResendToNew(ctx, c.SendID)
	case ResendToMissing:
		return d.engine.ResendToMissing(ctx, c.SendID)
	case RetryRecipient:
		return d.engine.RetryRecipient(ctx, c.SendID, c.TicketID)
	case Recipients:
		return d.engine.Recipients(ctx, engine.RecipientsQuery{
			SendID:   c.SendID,
			Status:   c.Status,
			Search:   c.Search,
			Page:     c.Page,
			PageSize: c.PageSize,
		})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}
}
