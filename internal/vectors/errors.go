package vectors

import (
	"errors"
	"fmt"
)

// Kind classifies failures surfaced by the store, the resolver and the
// collaborators that feed them. The set is closed; callers switch on it.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindEpochFormat
	KindInvalidTable
	KindProviderUnavailable
	KindInvalidValue
	KindNotReady
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindEpochFormat:
		return "malformed epoch"
	case KindInvalidTable:
		return "invalid table"
	case KindProviderUnavailable:
		return "provider unavailable"
	case KindInvalidValue:
		return "invalid value"
	case KindNotReady:
		return "no state vectors available yet"
	default:
		return "unknown error"
	}
}

// Error is the concrete error type for every Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Sentinels for errors.Is. A sentinel matches any *Error of the same Kind.
var (
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrEpochFormat         = &Error{Kind: KindEpochFormat}
	ErrInvalidTable        = &Error{Kind: KindInvalidTable}
	ErrProviderUnavailable = &Error{Kind: KindProviderUnavailable}
	ErrInvalidValue        = &Error{Kind: KindInvalidValue}
	ErrNotReady            = &Error{Kind: KindNotReady}
)

// NewError wraps err with a kind and the operation that failed.
func NewError(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf is NewError with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return e.Kind.String()
	case e.Err == nil:
		return e.Op + ": " + e.Kind.String()
	case e.Op == "":
		return e.Kind.String() + ": " + e.Err.Error()
	default:
		return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the outermost *Error in err's chain,
// or KindUnknown when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
