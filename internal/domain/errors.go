package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidState  = errors.New("invalid state")
	ErrUpstream      = errors.New("upstream failure")
	ErrConfiguration = errors.New("configuration error")
	ErrInternal      = errors.New("internal failure")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")
)

// ErrorKind classifies an error for callers that report failures as data
// rather than propagating them.
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindNotFound      ErrorKind = "not_found"
	KindInvalidState  ErrorKind = "invalid_state"
	KindUpstream      ErrorKind = "upstream_failure"
	KindConfiguration ErrorKind = "configuration_error"
	KindInternal      ErrorKind = "internal_failure"
)

// KindOf maps err onto one of the error kinds. Anything that does not wrap a
// known sentinel is an internal failure.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrUpstream), errors.Is(err, ErrRateLimited):
		return KindUpstream
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	default:
		return KindInternal
	}
}
