// Package errs defines the failure taxonomy shared by every pipeline component.
package errs

import (
	"errors"
	"fmt"
)

// Reason is a categorical failure cause.
type Reason string

// Retryable reasons.
const (
	RateLimit Reason = "rate_limit"
	Network   Reason = "network"
	Timeout   Reason = "timeout"
)

// Content reasons.
const (
	TooShort    Reason = "too_short"
	Boilerplate Reason = "boilerplate"
	NonEnglish  Reason = "non_english"
	LowQuality  Reason = "low_quality"
	Duplicate   Reason = "duplicate"
)

// Fatal reasons.
const (
	AuthError    Reason = "auth_error"
	ConfigError  Reason = "config_error"
	DatabaseDown Reason = "database_down"
)

// RetryableError is a transient failure that is safe to retry as-is.
type RetryableError struct {
	Reason  Reason
	Message string
	Context map[string]any
	Err     error
}

func (e *RetryableError) Error() string { return format("retryable", e.Reason, e.Message, e.Err) }
func (e *RetryableError) Unwrap() error { return e.Err }

// ContentError means this content cannot yield a record. Callers move on to
// other content instead of retrying.
type ContentError struct {
	Reason  Reason
	Message string
	Context map[string]any
}

func (e *ContentError) Error() string { return format("content", e.Reason, e.Message, nil) }

// ParseError is returned when a generation call produced unusable structured output.
// RawOutput holds the text that could not be parsed.
type ParseError struct {
	Message   string
	RawOutput string
	Context   map[string]any
	Err       error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse: %s: %v", e.Message, e.Err)
	}
	return "parse: " + e.Message
}

func (e *ParseError) Unwrap() error { return e.Err }

// FatalError is unrecoverable and terminates the calling session.
type FatalError struct {
	Reason  Reason
	Message string
	Context map[string]any
	Err     error
}

func (e *FatalError) Error() string { return format("fatal", e.Reason, e.Message, e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

func format(kind string, reason Reason, msg string, cause error) string {
	s := fmt.Sprintf("%s (%s): %s", kind, reason, msg)
	if cause != nil {
		s += ": " + cause.Error()
	}
	return s
}

// Retryable returns a RetryableError wrapping cause.
func Retryable(reason Reason, msg string, cause error) *RetryableError {
	return &RetryableError{Reason: reason, Message: msg, Err: cause, Context: map[string]any{}}
}

// Content returns a ContentError.
func Content(reason Reason, msg string) *ContentError {
	return &ContentError{Reason: reason, Message: msg, Context: map[string]any{}}
}

// Parse returns a ParseError carrying the unparseable output.
func Parse(msg, raw string) *ParseError {
	return &ParseError{Message: msg, RawOutput: raw, Context: map[string]any{}}
}

// Fatal returns a FatalError wrapping cause.
func Fatal(reason Reason, msg string, cause error) *FatalError {
	return &FatalError{Reason: reason, Message: msg, Err: cause, Context: map[string]any{}}
}

// IsRetryable reports whether err is or wraps a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// IsFatal reports whether err is or wraps a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// AsParse returns the ParseError in err's chain, if any.
func AsParse(err error) (*ParseError, bool) {
	var pe *ParseError
	ok := errors.As(err, &pe)
	return pe, ok
}

// ReasonOf returns the reason carried by a taxonomy error in err's chain, or "".
func ReasonOf(err error) Reason {
	var (
		re *RetryableError
		ce *ContentError
		fe *FatalError
	)
	switch {
	case errors.As(err, &fe):
		return fe.Reason
	case errors.As(err, &re):
		return re.Reason
	case errors.As(err, &ce):
		return ce.Reason
	}
	return ""
}
