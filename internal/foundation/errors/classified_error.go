package errors

import (
	"errors"
	"fmt"
	"maps"
)

// ClassifiedError is the error currency shared by the store, the executor and
// the HTTP and CLI adapters.
type ClassifiedError struct {
	category  ErrorCategory
	severity  ErrorSeverity
	retryable bool
	message   string
	cause     error
	context   ErrorContext
}

func (e *ClassifiedError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.category, e.severity, e.message, e.cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.category, e.severity, e.message)
}

func (e *ClassifiedError) Unwrap() error { return e.cause }

func (e *ClassifiedError) Category() ErrorCategory { return e.category }
func (e *ClassifiedError) Severity() ErrorSeverity { return e.severity }
func (e *ClassifiedError) Message() string         { return e.message }
func (e *ClassifiedError) Context() ErrorContext   { return e.context }

// CanRetry reports whether repeating the failed operation may succeed.
func (e *ClassifiedError) CanRetry() bool { return e.retryable }

// Is matches on category and message, so a sentinel still matches after it
// has been decorated with context or a cause.
func (e *ClassifiedError) Is(target error) bool {
	other, ok := target.(*ClassifiedError)
	return ok && e.category == other.category && e.message == other.message
}

// WithContext returns a copy of e with one more context value. The receiver
// is never modified, so package-level sentinels can be decorated freely.
func (e *ClassifiedError) WithContext(key string, value any) *ClassifiedError {
	c := e.clone()
	c.context[key] = value
	return c
}

// Wrap returns a copy of e caused by err.
func (e *ClassifiedError) Wrap(err error) *ClassifiedError {
	c := e.clone()
	c.cause = err
	return c
}

func (e *ClassifiedError) clone() *ClassifiedError {
	c := *e
	c.context = make(ErrorContext, len(e.context)+1)
	maps.Copy(c.context, e.context)
	return &c
}

// AsClassified finds the first ClassifiedError in the error chain.
func AsClassified(err error) (*ClassifiedError, bool) {
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified, true
	}
	return nil, false
}

// HasCategory reports whether the first ClassifiedError in the chain has category c.
func HasCategory(err error, c ErrorCategory) bool {
	classified, ok := AsClassified(err)
	return ok && classified.category == c
}
