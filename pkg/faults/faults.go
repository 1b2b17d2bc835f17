package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a failure into one of the stable categories the API and
// dispatch layers agree on. Every user-visible failure maps to exactly one
// kind plus a human-readable message.
type Kind int

const (
	// NotFound: the referenced entity does not exist.
	NotFound Kind = iota
	// Forbidden: authenticated but not authorized (not a participant, not
	// the sender, not the admin).
	Forbidden
	// Conflict: duplicate reaction, duplicate direct conversation, and
	// similar uniqueness violations.
	Conflict
	// InvalidArgument: malformed pagination, unsupported values.
	InvalidArgument
	// InvalidState: the operation is valid but the entity is in a state
	// that rejects it (editing a deleted message, admin leaving a group).
	InvalidState
	// DecryptionFailed: localized decryption failure; callers substitute a
	// placeholder rather than failing the whole response.
	DecryptionFailed
	// Transient: store or cache unavailable; retried at the infrastructure
	// boundary, not inside dispatch.
	Transient
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Forbidden:
		return "forbidden"
	case Conflict:
		return "conflict"
	case InvalidArgument:
		return "invalid_argument"
	case InvalidState:
		return "invalid_state"
	case DecryptionFailed:
		return "decryption_failed"
	case Transient:
		return "transient"
	}
	return "unknown"
}

// Fault is an error with a stable kind. The wrapped cause, when present, is
// kept for logging and never shown to the caller verbatim.
type Fault struct {
	Kind Kind
	Msg  string
	Err  error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Msg, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Msg)
}

func (f *Fault) Unwrap() error { return f.Err }

// New returns a Fault of the given kind with a formatted message.
func New(k Kind, format string, args ...any) error {
	return &Fault{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(k Kind, err error, format string, args ...any) error {
	return &Fault{Kind: k, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from an error chain. Unclassified errors report
// Transient so infrastructure failures never masquerade as domain outcomes.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return Transient
}

// Is reports whether err carries the given kind.
func Is(err error, k Kind) bool {
	var f *Fault
	return errors.As(err, &f) && f.Kind == k
}

// Message returns the user-facing message for err, or a generic fallback for
// unclassified errors.
func Message(err error) string {
	var f *Fault
	if errors.As(err, &f) {
		return f.Msg
	}
	return "internal error"
}
