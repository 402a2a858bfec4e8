package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/newsletter/internal/auth"
	"github.com/dmitrymomot/newsletter/internal/command"
	"github.com/dmitrymomot/newsletter/internal/engine"
	"github.com/dmitrymomot/newsletter/internal/newsletter"
)

// authenticate resolves the bearer token into a principal. Whether the
// principal may act is decided by the dispatcher.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			a.renderError(w, r, auth.ErrUnauthenticated)
			return
		}

		p, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			a.renderError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

// dispatch decodes the body into a C and runs it through the dispatcher.
func dispatch[C command.Command](a *API, status int) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		var cmd C
		if err := a.bindJSON(r, &cmd); err != nil {
			return err
		}

		p, ok := auth.FromContext(r.Context())
		if !ok {
			return auth.ErrUnauthenticated
		}

		res, err := a.commands.Dispatch(r.Context(), p, cmd)
		if err != nil {
			return err
		}
		return writeJSON(w, status, present(res))
	}
}

type sendView struct {
	ID             uuid.UUID             `json:"id"`
	Status         newsletter.SendStatus `json:"status"`
	Subject        string                `json:"subject"`
	RecipientCount int                   `json:"recipientCount"`
	ArticleCount   int                   `json:"articleCount"`
	ErrorMessage   string                `json:"errorMessage,omitempty"`
	Targeted       bool                  `json:"targeted"`
	Engagement     newsletter.Engagement `json:"engagement"`
	SentAt         time.Time             `json:"sentAt"`
	UpdatedAt      time.Time             `json:"updatedAt"`
}

type ticketView struct {
	ID           uuid.UUID               `json:"id"`
	Email        string                  `json:"email"`
	Status       newsletter.TicketStatus `json:"status"`
	ErrorMessage string                  `json:"errorMessage,omitempty"`
	SentAt       *time.Time              `json:"sentAt,omitempty"`
	CreatedAt    time.Time               `json:"createdAt"`
}

type historyView struct {
	Sends      []sendView `json:"sends"`
	TotalCount int        `json:"totalCount"`
}

type recipientsView struct {
	Recipients []ticketView      `json:"recipients"`
	Total      int               `json:"total"`
	Page       int               `json:"page"`
	PageSize   int               `json:"pageSize"`
	Counts     newsletter.Counts `json:"counts"`
}

// present maps command results onto their wire shape. Results that already
// carry json tags pass through.
func present(res any) any {
	switch v := res.(type) {
	case command.HistoryResult:
		out := historyView{Sends: make([]sendView, 0, len(v.Sends)), TotalCount: v.TotalCount}
		for _, s := range v.Sends {
			out.Sends = append(out.Sends, sendView{
				ID:             s.ID,
				Status:         s.Status,
				Subject:        s.Subject,
				RecipientCount: s.RecipientCount,
				ArticleCount:   s.ArticleCount,
				ErrorMessage:   s.ErrorMessage,
				Targeted:       len(s.TargetEmails) > 0,
				Engagement:     s.Engagement,
				SentAt:         s.SentAt,
				UpdatedAt:      s.UpdatedAt,
			})
		}
		return out
	case *engine.RecipientsPage:
		out := recipientsView{
			Recipients: make([]ticketView, 0, len(v.Recipients)),
			Total:      v.Total,
			Page:       v.Page,
			PageSize:   v.PageSize,
			Counts:     v.Counts,
		}
		for _, t := range v.Recipients {
			out.Recipients = append(out.Recipients, ticketView{
				ID:           t.ID,
				Email:        t.Email,
				Status:       t.Status,
				ErrorMessage: t.ErrorMessage,
				SentAt:       t.SentAt,
				CreatedAt:    t.CreatedAt,
			})
		}
		return out
	default:
		return res
	}
}
