package engine

import "errors"

var (
	ErrInvalidRequest = errors.New("engine: invalid request")
	ErrNoArticles     = errors.New("engine: no articles available to send")
	ErrNoRecipients   = errors.New("engine: no active subscribers")
	ErrAborted        = errors.New("engine: send workflow aborted")
	ErrSchedule       = errors.New("engine: failed to schedule send")
	ErrClaimLost      = errors.New("engine: recipient was claimed by another run")
)
