package memstore

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/newsletter/internal/newsletter"
)

// AddSubscriber stores sub and returns it with its normalised email. Zero
// SubscribedAt defaults to the store clock.
func (s *Store) AddSubscriber(sub newsletter.Subscriber) newsletter.Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	sub.Email = newsletter.NormalizeEmail(sub.Email)
	if sub.SubscribedAt.IsZero() {
		sub.SubscribedAt = s.now()
	}
	cp := sub
	s.subscribers[sub.Email] = &cp
	return sub
}

// Subscriber returns a copy of the subscriber with the given email.
func (s *Store) Subscriber(email string) (newsletter.Subscriber, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscribers[newsletter.NormalizeEmail(email)]
	if !ok {
		return newsletter.Subscriber{}, false
	}
	return *sub, true
}

// AddArticle stores an article and returns it.
func (s *Store) AddArticle(a newsletter.Article) newsletter.Article {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.PublishedAt.IsZero() {
		a.PublishedAt = s.now()
	}
	cp := a
	cp.AIWhyItMatters = slices.Clone(a.AIWhyItMatters)
	s.articles[a.ID] = &cp
	return a
}

// Article returns a copy of the article.
func (s *Store) Article(id uuid.UUID) (newsletter.Article, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.articles[id]
	if !ok {
		return newsletter.Article{}, false
	}
	return *a, true
}

// Tickets returns the send's tickets in claim order.
func (s *Store) Tickets(sendID uuid.UUID) []newsletter.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := s.filter(func(t *ticket) bool { return t.SendID == sendID })
	out := make([]newsletter.Ticket, len(matched))
	for i, t := range matched {
		out[i] = t.Ticket
	}
	return out
}

// SetTicketClaimedAt backdates a claim, for sweeper scenarios.
func (s *Store) SetTicketClaimedAt(id uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tickets[id]; ok {
		t.ClaimedAt = &at
	}
}

// Events returns all recorded events.
func (s *Store) Events() []newsletter.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}
