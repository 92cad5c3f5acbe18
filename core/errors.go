package core

import (
	"errors"
	"fmt"
	"time"
)

// Standard sentinel errors for comparison using errors.Is().
// These are generic errors that can be wrapped with additional context.
var (
	// Connector errors
	ErrConfigInvalid      = errors.New("invalid connector configuration")
	ErrAdapterUnavailable = errors.New("source adapter unavailable")
	ErrConnectorNotFound  = errors.New("connector not found")
	ErrConnectorDisabled  = errors.New("connector disabled")

	// Pipeline errors
	ErrValidation = errors.New("event validation failed")
	ErrParse      = errors.New("event parse failed")
	ErrEnrich     = errors.New("event enrichment failed")

	// Queue errors
	ErrQueueFull   = errors.New("job queue full")
	ErrQueueClosed = errors.New("job queue closed")

	// Store errors
	ErrStore         = errors.New("store operation failed")
	ErrAgentNotFound = errors.New("agent not found")

	// State errors
	ErrAlreadyStarted = errors.New("already started")
	ErrNotStarted     = errors.New("not started")

	// Auth errors
	ErrInvalidOrgKey = errors.New("invalid organization key")
	ErrInvalidToken  = errors.New("invalid agent token")
)

// RateLimitedError is returned by a source client when the upstream applies
// rate limiting. It carries the adapter-provided deadline; the scheduler
// suppresses the connector until then.
type RateLimitedError struct {
	RetryAfter time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited until %s", e.RetryAfter.Format(time.RFC3339))
}

// OpError provides structured error information with context. It implements
// the error interface and supports error wrapping.
type OpError struct {
	Op   string // operation that failed, e.g. "registry.Register"
	Kind string // error kind, e.g. "connector", "queue", "store"
	ID   string // optional id of the entity involved
	Err  error  // underlying error
}

func (e *OpError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for use with errors.Is/As.
func (e *OpError) Unwrap() error {
	return e.Err
}

// NewOpError creates a new OpError.
func NewOpError(op, kind, id string, err error) *OpError {
	return &OpError{Op: op, Kind: kind, ID: id, Err: err}
}

// IsRetryable reports whether an error is a transient fault worth retrying.
// Config and validation failures are terminal by design.
func IsRetryable(err error) bool {
	if IsRateLimited(err) {
		return true
	}
	return errors.Is(err, ErrAdapterUnavailable) ||
		errors.Is(err, ErrStore)
}

// IsRateLimited reports whether err carries a rate-limit deadline.
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

// RetryAfter extracts the rate-limit deadline, if any.
func RetryAfter(err error) (time.Time, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return time.Time{}, false
}

// IsConfigError reports whether err is a configuration fault that must not
// be retried.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrConfigInvalid)
}
