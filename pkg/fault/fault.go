// Package fault defines the error kinds returned by the imagestash
// operations. Every error crossing a public operation boundary is a
// *fault.Error carrying the operation name, its Kind and the original cause.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	// InvalidArgument: the caller passed a value of the wrong shape
	// (not a file handle, not a byte buffer).
	InvalidArgument Kind = iota + 1
	// MissingParameter: a required string or buffer was empty or nil.
	MissingParameter
	// ReadFailure: reading the file handle failed.
	ReadFailure
	// StoreFailure: opening, transacting on, reading or writing the store failed.
	StoreFailure
	// ConversionFailure: minting a display URL failed.
	ConversionFailure
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid argument"
	case MissingParameter:
		return "missing parameter"
	case ReadFailure:
		return "read failure"
	case StoreFailure:
		return "store failure"
	case ConversionFailure:
		return "conversion failure"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching by kind.
var (
	ErrInvalidArgument   = &Error{Kind: InvalidArgument}
	ErrMissingParameter  = &Error{Kind: MissingParameter}
	ErrReadFailure       = &Error{Kind: ReadFailure}
	ErrStoreFailure      = &Error{Kind: StoreFailure}
	ErrConversionFailure = &Error{Kind: ConversionFailure}
)

// Error is a classified failure of a single operation.
type Error struct {
	Op    string // e.g. "bytestore.Put"
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *Error of the same Kind. Sentinels match
// any error of their kind regardless of op, message and cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New returns an error of the given kind without an underlying cause.
func New(op string, kind Kind, msg string) error {
	return &Error{Op: op, Kind: kind, Msg: msg}
}

// Newf is New with a format string.
func Newf(op string, kind Kind, format string, args ...any) error {
	return &Error{Op: op, Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause. A nil cause yields nil.
func Wrap(op string, kind Kind, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Cause: cause}
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}
