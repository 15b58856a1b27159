package api

import (
	"errors"
	"fmt"
)

// Kind classifies a failed call.
type Kind int

const (
	// KindRequest means the request could not be built or encoded.
	KindRequest Kind = iota
	// KindTimeout means the call exceeded the per-call timeout.
	KindTimeout
	// KindConnection covers refused, reset and other network failures.
	KindConnection
	// KindCanceled means the caller cancelled the call.
	KindCanceled
	// KindHTTP means the server answered with status >= 400.
	KindHTTP
	// KindMalformed means a success response claimed JSON but did not parse.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindTimeout:
		return "timeout"
	case KindConnection:
		return "connection"
	case KindCanceled:
		return "canceled"
	case KindHTTP:
		return "http"
	case KindMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the failure outcome of a Transport call. Message is meant to be
// shown to the user as is.
type Error struct {
	Kind    Kind
	Status  int
	URL     string
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err when it is, or wraps, an *Error.
func KindOf(err error) (Kind, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind, true
	}
	return 0, false
}

// IsTimeout reports whether err is a Transport timeout.
func IsTimeout(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindTimeout
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
