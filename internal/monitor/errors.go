package monitor

import "errors"

// Sentinel errors shared across subsystems. Callers classify with errors.Is.
var (
	// ErrFetchTimeout is returned when a fetch exceeds its deadline.
	ErrFetchTimeout = errors.New("fetch timed out")
	// ErrContentTooLarge is returned when a response body exceeds the
	// configured size cap.
	ErrContentTooLarge = errors.New("content too large")
	// ErrTargetUnreachable is returned for network-level fetch failures.
	ErrTargetUnreachable = errors.New("target unreachable")

	// ErrDuplicateInFlight signals that a submitted target already has a
	// queued or running job. It is a merge signal, not a failure: the
	// accompanying job is the one the caller attached to.
	ErrDuplicateInFlight = errors.New("target already in flight")

	// ErrJobNotFound is returned by job stores for unknown job IDs.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when a status update would violate
	// the monotonic job lifecycle.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNotFound is returned by stores for missing records.
	ErrNotFound = errors.New("record not found")

	// ErrUserExists is returned on signup when the username is taken.
	ErrUserExists = errors.New("username already exists")
	// ErrUnauthorized covers bad credentials and invalid tokens.
	ErrUnauthorized = errors.New("unauthorized")
)
