package llm

import "errors"

// Provider failures are classified so the pipeline can log them usefully:
// transient errors (timeouts, 5xx, rate limits) suggest the next model may
// fare better; fatal errors (auth, bad request) point at configuration.
// Either way the pipeline advances; no model is retried.

// TransientError marks a failure that is specific to this attempt.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string { return e.err.Error() }
func (e *TransientError) Unwrap() error { return e.err }

// NewTransientError wraps an error as transient.
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError marks a failure that will recur on every attempt.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string { return e.err.Error() }
func (e *FatalError) Unwrap() error { return e.err }

// NewFatalError wraps an error as fatal.
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// IsTransient reports whether the error is classified transient.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal reports whether the error is classified fatal.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}
