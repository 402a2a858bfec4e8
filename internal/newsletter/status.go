package newsletter

// SendStatus is the lifecycle state of a Send.
type SendStatus string

const (
	SendPending SendStatus = "pending"
	SendSending SendStatus = "sending"
	SendSent    SendStatus = "sent"
	SendPartial SendStatus = "partial"
	SendFailed  SendStatus = "failed"
)

func (s SendStatus) String() string { return string(s) }

// Overridable reports whether an operator may set s by hand.
func (s SendStatus) Overridable() bool {
	switch s {
	case SendSent, SendPartial, SendFailed, SendPending:
		return true
	}
	return false
}

// TicketStatus is the delivery state of a single recipient.
type TicketStatus string

const (
	TicketPending TicketStatus = "pending"
	TicketSending TicketStatus = "sending"
	TicketSent    TicketStatus = "sent"
	TicketFailed  TicketStatus = "failed"
)

func (s TicketStatus) String() string { return string(s) }

// Valid reports whether s is a known ticket status.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketPending, TicketSending, TicketSent, TicketFailed:
		return true
	}
	return false
}

// EventType is an engagement event kind.
type EventType string

const (
	EventOpen  EventType = "open"
	EventClick EventType = "click"
)
