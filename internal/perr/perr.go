// Package perr defines the error taxonomy shared by the rpc, supervisor,
// facade, and lspserver packages: Transport, Timeout, Protocol, Parse,
// RemoteError, NotFound, Cancelled, and Degraded.
package perr

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the taxonomy buckets from spec §7.
type Kind int

const (
	KindTransport Kind = iota
	KindTimeout
	KindProtocol
	KindParse
	KindRemote
	KindNotFound
	KindCancelled
	KindDegraded
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "Transport"
	case KindTimeout:
		return "Timeout"
	case KindProtocol:
		return "Protocol"
	case KindParse:
		return "Parse"
	case KindRemote:
		return "RemoteError"
	case KindNotFound:
		return "NotFound"
	case KindCancelled:
		return "Cancelled"
	case KindDegraded:
		return "Degraded"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type carried across component boundaries.
// It wraps an optional underlying cause and, for KindRemote, a JSON-RPC
// error code as reported by the Pike child.
type Error struct {
	Kind    Kind
	Message string
	Code    int // only meaningful for KindRemote
	Cause   error
}

func (e *Error) Error() string {
	if e.Kind == KindRemote {
		return fmt.Sprintf("%s: code=%d %s", e.Kind, e.Code, e.Message)
	}
	if e.Message == "" && e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, perr.Transport) style sentinel-shaped matching
// by comparing Kind, ignoring Message/Code/Cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Message != "" || t.Cause != nil {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel markers usable with errors.Is(err, perr.Transport).
var (
	Transport = &Error{Kind: KindTransport}
	Timeout   = &Error{Kind: KindTimeout}
	Protocol  = &Error{Kind: KindProtocol}
	Parse     = &Error{Kind: KindParse}
	NotFound  = &Error{Kind: KindNotFound}
	Cancelled = &Error{Kind: KindCancelled}
	Degraded  = &Error{Kind: KindDegraded}
)

// New constructs an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Remote constructs a well-formed remote JSON-RPC error response.
func Remote(code int, message string) *Error {
	return &Error{Kind: KindRemote, Code: code, Message: message}
}

// KindOf extracts the Kind of err; it returns the zero Kind and false
// when err does not wrap a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Is reports whether err's Kind matches kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
