// Package memstore is an in-process implementation of the delivery engine's
// persistence contracts. It applies the same conditional updates as the
// Postgres store, so claim races and status transitions behave identically,
// and is used by tests and local dry runs.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/newsletter/internal/newsletter"
)

// Store keeps everything in maps guarded by a single mutex.
type Store struct {
	sends       map[uuid.UUID]*newsletter.Send
	tickets     map[uuid.UUID]*ticket
	byKey       map[string]uuid.UUID
	subscribers map[string]*newsletter.Subscriber
	articles    map[uuid.UUID]*newsletter.Article
	events      []newsletter.Event
	now         func() time.Time
	seq         int64
	mu          sync.Mutex
}

type ticket struct {
	newsletter.Ticket
	seq int64
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		sends:       make(map[uuid.UUID]*newsletter.Send),
		tickets:     make(map[uuid.UUID]*ticket),
		byKey:       make(map[string]uuid.UUID),
		subscribers: make(map[string]*newsletter.Subscriber),
		articles:    make(map[uuid.UUID]*newsletter.Article),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func ticketKey(sendID uuid.UUID, email string) string {
	return sendID.String() + "|" + strings.ToLower(email)
}

// Sends

func (s *Store) CreateSend(_ context.Context, send *newsletter.Send) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if send.ID == uuid.Nil {
		send.ID = uuid.New()
	}
	now := s.now()
	send.CreatedAt, send.SentAt, send.UpdatedAt = now, now, now
	cp := cloneSend(send)
	s.sends[send.ID] = &cp
	return nil
}

func (s *Store) GetSend(_ context.Context, id uuid.UUID) (*newsletter.Send, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	send, ok := s.sends[id]
	if !ok {
		return nil, newsletter.ErrSendNotFound
	}
	cp := cloneSend(send)
	return &cp, nil
}

func (s *Store) UpdateSendStatus(_ context.Context, id uuid.UUID, status newsletter.SendStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	send, ok := s.sends[id]
	if !ok {
		return newsletter.ErrSendNotFound
	}
	send.Status = status
	send.ErrorMessage = errMsg
	send.UpdatedAt = s.now()
	return nil
}

func (s *Store) SetRecipientCount(_ context.Context, id uuid.UUID, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	send, ok := s.sends[id]
	if !ok {
		return newsletter.ErrSendNotFound
	}
	send.RecipientCount = n
	send.UpdatedAt = s.now()
	return nil
}

func (s *Store) ListSends(_ context.Context, limit int) ([]newsletter.Send, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]newsletter.Send, 0, len(s.sends))
	for _, send := range s.sends {
		all = append(all, cloneSend(send))
	}
	slices.SortFunc(all, func(a, b newsletter.Send) int { return b.SentAt.Compare(a.SentAt) })

	total := len(all)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

// Tickets

func (s *Store) TicketCounts(_ context.Context, sendID uuid.UUID) (newsletter.Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c newsletter.Counts
	for _, t := range s.tickets {
		if t.SendID != sendID {
			continue
		}
		switch t.Status {
		case newsletter.TicketPending:
			c.Pending++
		case newsletter.TicketSending:
			c.Sending++
		case newsletter.TicketSent:
			c.Sent++
		case newsletter.TicketFailed:
			c.Failed++
		}
	}
	return c, nil
}

func (s *Store) InsertTickets(_ context.Context, sendID uuid.UUID, emails []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sends[sendID]; !ok {
		return 0, newsletter.ErrSendNotFound
	}

	inserted := 0
	now := s.now()
	for _, email := range emails {
		key := ticketKey(sendID, email)
		if _, exists := s.byKey[key]; exists {
			continue
		}
		s.seq++
		t := &ticket{
			Ticket: newsletter.Ticket{
				ID:        uuid.New(),
				SendID:    sendID,
				Email:     email,
				Status:    newsletter.TicketPending,
				CreatedAt: now,
				UpdatedAt: now,
			},
			seq: s.seq,
		}
		s.tickets[t.ID] = t
		s.byKey[key] = t.ID
		inserted++
	}
	return inserted, nil
}

func (s *Store) PendingTicketIDs(_ context.Context, sendID uuid.UUID, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.filter(func(t *ticket) bool {
		return t.SendID == sendID && t.Status == newsletter.TicketPending
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}

	ids := make([]uuid.UUID, len(pending))
	for i, t := range pending {
		ids[i] = t.ID
	}
	return ids, nil
}

func (s *Store) ClaimTickets(_ context.Context, sendID uuid.UUID, ids []uuid.UUID) ([]newsletter.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	claimed := make([]newsletter.Ticket, 0, len(ids))
	for _, id := range ids {
		t, ok := s.tickets[id]
		if !ok || t.SendID != sendID || t.Status != newsletter.TicketPending {
			continue
		}
		t.Status = newsletter.TicketSending
		t.ClaimedAt = &now
		t.UpdatedAt = now
		claimed = append(claimed, t.Ticket)
	}
	return claimed, nil
}

func (s *Store) MarkTicketSent(_ context.Context, id uuid.UUID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok {
		return newsletter.ErrTicketNotFound
	}
	if t.Status != newsletter.TicketSending && t.Status != newsletter.TicketPending {
		return nil
	}
	now := s.now()
	t.Status = newsletter.TicketSent
	t.SentAt = &now
	t.ErrorMessage = ""
	t.ProviderMessageID = messageID
	t.UpdatedAt = now
	return nil
}

func (s *Store) MarkTicketFailed(_ context.Context, id uuid.UUID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok {
		return newsletter.ErrTicketNotFound
	}
	if t.Status != newsletter.TicketSending {
		return nil
	}
	t.Status = newsletter.TicketFailed
	t.ErrorMessage = errMsg
	t.UpdatedAt = s.now()
	return nil
}

func (s *Store) ResetFailedTicket(_ context.Context, sendID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[id]
	if !ok || t.SendID != sendID {
		return newsletter.ErrTicketNotFound
	}
	if t.Status != newsletter.TicketFailed {
		return newsletter.ErrTicketNotFailed
	}
	t.Status = newsletter.TicketPending
	t.ErrorMessage = ""
	t.UpdatedAt = s.now()
	return nil
}

func (s *Store) ReleaseStaleClaims(_ context.Context, claimedBefore time.Time) (map[uuid.UUID]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	released := make(map[uuid.UUID]int)
	for _, t := range s.tickets {
		if t.Status == newsletter.TicketSending && t.ClaimedAt != nil && t.ClaimedAt.Before(claimedBefore) {
			t.Status = newsletter.TicketPending
			t.ClaimedAt = nil
			t.UpdatedAt = s.now()
			released[t.SendID]++
		}
	}
	return released, nil
}

func (s *Store) ListTickets(_ context.Context, f newsletter.TicketFilter) ([]newsletter.Ticket, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	search := strings.ToLower(f.Search)
	matched := s.filter(func(t *ticket) bool {
		return t.SendID == f.SendID &&
			(f.Status == "" || t.Status == f.Status) &&
			(search == "" || strings.Contains(t.Email, search))
	})

	total := len(matched)
	if f.Offset > 0 {
		matched = matched[min(f.Offset, len(matched)):]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}

	out := make([]newsletter.Ticket, len(matched))
	for i, t := range matched {
		out[i] = t.Ticket
	}
	return out, total, nil
}

func (s *Store) TicketByMessageID(_ context.Context, messageID string) (*newsletter.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tickets {
		if messageID != "" && t.ProviderMessageID == messageID {
			cp := t.Ticket
			return &cp, nil
		}
	}
	return nil, newsletter.ErrTicketNotFound
}

// filter returns matching tickets in claim order (created_at, then insertion).
func (s *Store) filter(keep func(*ticket) bool) []*ticket {
	var out []*ticket
	for _, t := range s.tickets {
		if keep(t) {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b *ticket) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	return out
}

// Subscribers

func (s *Store) EligibleEmails(_ context.Context, f newsletter.SubscriberFilter, offset, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	emails := s.eligible(f)
	if offset >= len(emails) {
		return nil, nil
	}
	emails = emails[offset:]
	if limit > 0 && len(emails) > limit {
		emails = emails[:limit]
	}
	return emails, nil
}

func (s *Store) CountEligibleSubscribers(_ context.Context, f newsletter.SubscriberFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.eligible(f)), nil
}

func (s *Store) eligible(f newsletter.SubscriberFilter) []string {
	var out []string
	for _, sub := range s.subscribers {
		if !sub.Active || sub.Bounced {
			continue
		}
		if f.JoinedAfter != nil && !sub.SubscribedAt.After(*f.JoinedAfter) {
			continue
		}
		out = append(out, sub.Email)
	}
	slices.Sort(out)
	return out
}

func (s *Store) DeactivateSubscriber(_ context.Context, email string, d newsletter.Deactivation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscribers[newsletter.NormalizeEmail(email)]
	if !ok {
		return false, nil
	}
	sub.Active = false
	if d.Bounced {
		now := s.now()
		sub.Bounced = true
		sub.BouncedAt = &now
		sub.BounceType = d.BounceType
	}
	return true, nil
}

func (s *Store) SyncDeliveryStats(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type stat struct {
		count int
		last  time.Time
	}
	stats := make(map[string]stat)
	for _, t := range s.tickets {
		if t.Status != newsletter.TicketSent || t.SentAt == nil {
			continue
		}
		st := stats[t.Email]
		st.count++
		if t.SentAt.After(st.last) {
			st.last = *t.SentAt
		}
		stats[t.Email] = st
	}

	updated := 0
	for email, sub := range s.subscribers {
		st, ok := stats[email]
		if !ok || (sub.DeliveryCount == st.count && sub.LastDeliveredAt != nil && sub.LastDeliveredAt.Equal(st.last)) {
			continue
		}
		last := st.last
		sub.DeliveryCount = st.count
		sub.LastDeliveredAt = &last
		updated++
	}
	return updated, nil
}

// Articles

func (s *Store) Articles(_ context.Context, ids []uuid.UUID) ([]newsletter.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]newsletter.Article, 0, len(ids))
	for _, id := range ids {
		if a, ok := s.articles[id]; ok {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *Store) LatestArticles(_ context.Context, limit int) ([]newsletter.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []newsletter.Article
	for _, a := range s.articles {
		if !a.Processed {
			out = append(out, *a)
		}
	}
	slices.SortFunc(out, func(a, b newsletter.Article) int { return b.PublishedAt.Compare(a.PublishedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkArticlesProcessed(_ context.Context, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if a, ok := s.articles[id]; ok {
			a.Processed = true
		}
	}
	return nil
}

// Events

func (s *Store) InsertEvent(_ context.Context, e *newsletter.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sends[e.SendID]; !ok {
		return newsletter.ErrSendNotFound
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = s.now()
	s.events = append(s.events, *e)
	return nil
}

func (s *Store) RefreshEngagement(_ context.Context, sendID uuid.UUID) (newsletter.Engagement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	send, ok := s.sends[sendID]
	if !ok {
		return newsletter.Engagement{}, newsletter.ErrSendNotFound
	}

	var eng newsletter.Engagement
	opens := map[string]struct{}{}
	clicks := map[string]struct{}{}
	for _, e := range s.events {
		if e.SendID != sendID {
			continue
		}
		switch e.Type {
		case newsletter.EventOpen:
			eng.TotalOpens++
			opens[e.Email] = struct{}{}
		case newsletter.EventClick:
			eng.TotalClicks++
			clicks[e.Email] = struct{}{}
		}
	}
	eng.UniqueOpens, eng.UniqueClicks = len(opens), len(clicks)
	send.Engagement = eng
	return eng, nil
}

func cloneSend(s *newsletter.Send) newsletter.Send {
	cp := *s
	cp.ArticleIDs = slices.Clone(s.ArticleIDs)
	cp.TargetEmails = slices.Clone(s.TargetEmails)
	return cp
}
