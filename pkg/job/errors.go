package job

import "errors"

var (
	// ErrUnknownTask is returned when enqueueing or executing a task name
	// that was never registered.
	ErrUnknownTask = errors.New("job: unknown task")

	// ErrInvalidPayload is returned when a stored payload does not decode
	// into the task's payload type.
	ErrInvalidPayload = errors.New("job: invalid payload")

	ErrAlreadyStarted = errors.New("job: already started")
	ErrNotStarted     = errors.New("job: not started")
	ErrPoolRequired   = errors.New("job: pool is required")

	// ErrHealthcheckFailed is returned by the manager's readiness probe.
	ErrHealthcheckFailed = errors.New("job: healthcheck failed")
)
