// Package errs defines the error taxonomy shared by the cache engine.
//
// Every recoverable failure is reported as an *Error carrying a Kind plus the
// operation, collection and entity it concerns. Callers branch on the kind with
// the IsXxx helpers, which see through wrapping via errors.As.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes engine errors.
type Kind string

const (
	// KindValidation indicates bad input rejected before any optimistic write.
	KindValidation Kind = "VALIDATION"

	// KindRemoteMutation indicates the remote source rejected a create, update or remove.
	KindRemoteMutation Kind = "REMOTE_MUTATION"

	// KindQuery indicates a fetch of the collection failed.
	KindQuery Kind = "QUERY"

	// KindRealtimeDecode indicates a realtime frame was malformed or unrecognized.
	KindRealtimeDecode Kind = "REALTIME_DECODE"

	// KindDisposed indicates an operation resolved or was issued after disposal.
	KindDisposed Kind = "DISPOSED"

	// KindInFlight indicates a mutation was rejected because another one is
	// already in flight for the same identifier.
	KindInFlight Kind = "IN_FLIGHT"

	// KindDisabled indicates the store is disabled (no token, or Enabled is false).
	KindDisabled Kind = "DISABLED"

	// KindNotFound indicates the identifier is not visible in the cache.
	KindNotFound Kind = "NOT_FOUND"
)

// Error is an engine error with structured fields for diagnostics.
type Error struct {
	// Kind identifies the error category.
	Kind Kind

	// Op is the operation that failed ("create", "update", "remove", "query", "realtime").
	Op string

	// Collection is the store name.
	Collection string

	// ID identifies the affected entity, if any.
	ID string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)

	var attrs []string
	if e.Collection != "" {
		attrs = append(attrs, "collection="+e.Collection)
	}
	if e.Op != "" {
		attrs = append(attrs, "op="+e.Op)
	}
	if e.ID != "" {
		attrs = append(attrs, "id="+e.ID)
	}
	if len(attrs) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(attrs, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool { return is(err, KindValidation) }

// IsRemoteMutation returns true if err is a remote mutation error.
func IsRemoteMutation(err error) bool { return is(err, KindRemoteMutation) }

// IsQuery returns true if err is a query error.
func IsQuery(err error) bool { return is(err, KindQuery) }

// IsRealtimeDecode returns true if err is a realtime decode error.
func IsRealtimeDecode(err error) bool { return is(err, KindRealtimeDecode) }

// IsDisposed returns true if err reports use after disposal.
func IsDisposed(err error) bool { return is(err, KindDisposed) }

// IsInFlight returns true if err reports a rejected concurrent mutation.
func IsInFlight(err error) bool { return is(err, KindInFlight) }

// IsDisabled returns true if err reports a disabled store.
func IsDisabled(err error) bool { return is(err, KindDisabled) }

// IsNotFound returns true if err reports a missing entity.
func IsNotFound(err error) bool { return is(err, KindNotFound) }

// NewValidation creates a validation error for op.
func NewValidation(collection, op string, cause error) *Error {
	return &Error{
		Kind:       KindValidation,
		Op:         op,
		Collection: collection,
		Message:    "input rejected",
		Err:        cause,
	}
}

// NewRemoteMutation wraps a remote source failure for op on id.
func NewRemoteMutation(collection, op, id string, cause error) *Error {
	return &Error{
		Kind:       KindRemoteMutation,
		Op:         op,
		Collection: collection,
		ID:         id,
		Message:    "remote source rejected mutation",
		Err:        cause,
	}
}

// NewQuery wraps a failed fetch.
func NewQuery(collection string, cause error) *Error {
	return &Error{
		Kind:       KindQuery,
		Op:         "query",
		Collection: collection,
		Message:    "fetch failed",
		Err:        cause,
	}
}

// NewRealtimeDecode reports a malformed or unrecognized realtime frame.
func NewRealtimeDecode(collection, reason string, cause error) *Error {
	return &Error{
		Kind:       KindRealtimeDecode,
		Op:         "realtime",
		Collection: collection,
		Message:    reason,
		Err:        cause,
	}
}

// NewDisposed reports use of a disposed store.
func NewDisposed(collection, op string) *Error {
	return &Error{
		Kind:       KindDisposed,
		Op:         op,
		Collection: collection,
		Message:    "store disposed",
	}
}

// NewInFlight reports a mutation rejected because id already has one in flight.
func NewInFlight(collection, op, id string, inflight string) *Error {
	return &Error{
		Kind:       KindInFlight,
		Op:         op,
		Collection: collection,
		ID:         id,
		Message:    fmt.Sprintf("%s already in flight", inflight),
	}
}

// NewDisabled reports an operation attempted while the store is disabled.
func NewDisabled(collection, op string) *Error {
	return &Error{
		Kind:       KindDisabled,
		Op:         op,
		Collection: collection,
		Message:    "store disabled",
	}
}

// NewNotFound reports an operation on an identifier not visible in the cache.
func NewNotFound(collection, op, id string) *Error {
	return &Error{
		Kind:       KindNotFound,
		Op:         op,
		Collection: collection,
		ID:         id,
		Message:    "entity not found",
	}
}
