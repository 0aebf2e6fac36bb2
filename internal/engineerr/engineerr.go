// Package engineerr defines the funnel's error taxonomy: a small set of
// kinds that codec, kernel, store and orchestrator errors all map into so
// callers can branch on failure class with errors.As instead of string
// matching.
package engineerr

import "fmt"

// Kind classifies a funnel error.
type Kind int

const (
	// InvalidArgument covers dimension mismatches, slice_vector(m=0 or
	// m>len(v)), and malformed ids.
	InvalidArgument Kind = iota
	// NotFound is returned when a caller asks for a document id that
	// does not exist.
	NotFound
	// StorageUnavailable means the underlying store could not be opened
	// or has lost its handle.
	StorageUnavailable
	// StorageCorrupt means the documents/vector-table referential
	// invariant was violated.
	StorageCorrupt
	// DimensionMismatch is a specialization of InvalidArgument for
	// insert-time dimension disagreement against the database's D/M.
	DimensionMismatch
	// Cancelled covers cooperative cancellation or a deadline exceeded
	// between funnel stages.
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid_argument"
	case NotFound:
		return "not_found"
	case StorageUnavailable:
		return "storage_unavailable"
	case StorageCorrupt:
		return "storage_corrupt"
	case DimensionMismatch:
		return "dimension_mismatch"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is a taxonomy-tagged error. Wrap with fmt.Errorf("...: %w", err)
// to add context while preserving the Kind for errors.As.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a Kind-tagged error with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a Kind-tagged error around an existing error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Is reports whether err (or anything in its chain) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ee, ok := err.(*Error); ok {
			e = ee
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}
