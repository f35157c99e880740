package llm

import "errors"

// TransientError marks a failure that may succeed on retry (timeouts,
// 429, 5xx).
type TransientError struct{ err error }

func (e *TransientError) Error() string { return e.err.Error() }
func (e *TransientError) Unwrap() error { return e.err }

// NewTransientError wraps err as retryable.
func NewTransientError(err error) error { return &TransientError{err: err} }

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// ErrNotConfigured is returned by extractors that lack credentials.
var ErrNotConfigured = errors.New("llm: extractor not configured")
