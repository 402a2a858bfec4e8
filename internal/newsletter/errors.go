package newsletter

import "errors"

var (
	ErrSendNotFound    = errors.New("newsletter: send not found")
	ErrTicketNotFound  = errors.New("newsletter: recipient not found")
	ErrTicketNotFailed = errors.New("newsletter: recipient is not in failed state")
	ErrNoStoredContent = errors.New("newsletter: cannot resume: this send has no stored content")
	ErrInvalidStatus   = errors.New("newsletter: invalid status")
	ErrInvalidEmail    = errors.New("newsletter: invalid email address")
)
