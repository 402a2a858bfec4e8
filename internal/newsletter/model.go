package newsletter

import (
	"time"

	"github.com/google/uuid"
)

// Send is one newsletter campaign and its rendered content.
type Send struct {
	ID             uuid.UUID
	Status         SendStatus
	Subject        string
	HTML           string
	ErrorMessage   string
	ArticleIDs     []uuid.UUID
	TargetEmails   []string
	RecipientCount int
	ArticleCount   int
	Engagement     Engagement
	CreatedAt      time.Time
	SentAt         time.Time
	UpdatedAt      time.Time
}

// HasContent reports whether the rendered body was stored with the send.
func (s *Send) HasContent() bool {
	return s != nil && s.HTML != ""
}

// Engagement aggregates tracking events for a send.
type Engagement struct {
	UniqueOpens  int `json:"uniqueOpens"`
	TotalOpens   int `json:"totalOpens"`
	UniqueClicks int `json:"uniqueClicks"`
	TotalClicks  int `json:"totalClicks"`
}

// Ticket is a per-send, per-recipient delivery record.
type Ticket struct {
	ID                uuid.UUID
	SendID            uuid.UUID
	Email             string
	Status            TicketStatus
	ErrorMessage      string
	ProviderMessageID string
	SentAt            *time.Time
	ClaimedAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Counts is the ticket breakdown of a send by status.
type Counts struct {
	Pending int `json:"pending"`
	Sending int `json:"sending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

// Total is the number of tickets.
func (c Counts) Total() int { return c.Pending + c.Sending + c.Sent + c.Failed }

// Open reports whether any ticket still awaits delivery.
func (c Counts) Open() bool { return c.Pending+c.Sending > 0 }

// Subscriber is a mailing list member.
type Subscriber struct {
	ID              uuid.UUID
	Email           string
	Name            string
	Source          string
	BounceType      string
	Active          bool
	Bounced         bool
	DeliveryCount   int
	SubscribedAt    time.Time
	BouncedAt       *time.Time
	LastDeliveredAt *time.Time
}

// Article is a content item selected into a newsletter. The AI fields are
// filled by an external pipeline and may be empty.
type Article struct {
	ID                uuid.UUID
	Title             string
	URL               string
	Source            string
	Category          string
	Summary           string
	AISummary         string
	AIWhyItMatters    []string
	AICommercialAngle string
	Processed         bool
	PublishedAt       time.Time
}

// DisplaySummary prefers the AI summary and falls back to the plain one.
func (a Article) DisplaySummary() string {
	if a.AISummary != "" {
		return a.AISummary
	}
	return a.Summary
}

// Event is a single open or click.
type Event struct {
	ID        uuid.UUID
	SendID    uuid.UUID
	Email     string
	Type      EventType
	LinkURL   string
	UserAgent string
	IPAddress string
	CreatedAt time.Time
}
