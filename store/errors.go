package store

import "github.com/pkg/errors"

// Error kinds surfaced by the store. Callers classify with errors.Is.
var (
	// ErrNotFound indicates an unknown memory, tag, or category key.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument indicates a request rejected before any mutation,
	// e.g. importance out of range or a malformed time range.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPersistenceFailure indicates the durable write failed. The operation
	// is aborted with state unchanged; callers decide whether to retry.
	ErrPersistenceFailure = errors.New("persistence failure")

	// ErrConcurrentMutation indicates the per-id serialization invariant was
	// bypassed. This is a programming error, not an expected runtime condition.
	ErrConcurrentMutation = errors.New("concurrent mutation conflict")
)
