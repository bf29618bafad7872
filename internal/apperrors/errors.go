package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so the UI can pick the right banner.
type Kind int

const (
	KindUnknown Kind = iota
	UnsupportedPlatform
	AccessDenied
	EncodeStartFailure
	ProcessingFailure
	PlaybackFailure
	NotFound
	Busy
)

func (k Kind) String() string {
	switch k {
	case UnsupportedPlatform:
		return "unsupported_platform"
	case AccessDenied:
		return "access_denied"
	case EncodeStartFailure:
		return "encode_start_failure"
	case ProcessingFailure:
		return "processing_failure"
	case PlaybackFailure:
		return "playback_failure"
	case NotFound:
		return "not_found"
	case Busy:
		return "busy"
	default:
		return "unknown"
	}
}

var (
	ErrNotFound = errors.New("not found")
	ErrBusy     = errors.New("operation already in progress")
)

// Error carries the failing operation and its kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with a kind and operation name.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return NotFound
	case errors.Is(err, ErrBusy):
		return Busy
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
