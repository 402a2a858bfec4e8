package newsletter

import (
	"time"

	"github.com/google/uuid"
)

// SubscriberFilter narrows the active, non-bounced subscriber set.
type SubscriberFilter struct {
	// JoinedAfter keeps only subscribers who subscribed strictly later.
	JoinedAfter *time.Time
}

// TicketFilter selects tickets of one send for listing.
type TicketFilter struct {
	SendID uuid.UUID
	Status TicketStatus // empty means any
	Search string       // case-insensitive email substring
	Limit  int
	Offset int
}

// Deactivation describes why a subscriber stops receiving mail.
type Deactivation struct {
	Bounced    bool
	BounceType string
}
