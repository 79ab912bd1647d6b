// Package bcerr defines the recoverable error kinds shared across the
// verifier. Every failure produced by a lower layer is wrapped in one of
// these so the outer driver (internal/maincmd) and bcreport can map it to
// an exit code without inspecting error strings.
package bcerr

import "fmt"

// Kind classifies a recoverable error. The zero value is not a valid kind.
type Kind int

const (
	_ Kind = iota
	LoadError
	ToolNotFound
	ToolTimeout
	ToolFailure
	PathAmbiguous
	PathMissing
	VersionMismatch
	InternalInvariant
)

func (k Kind) String() string {
	switch k {
	case LoadError:
		return "LoadError"
	case ToolNotFound:
		return "ToolNotFound"
	case ToolTimeout:
		return "ToolTimeout"
	case ToolFailure:
		return "ToolFailure"
	case PathAmbiguous:
		return "PathAmbiguous"
	case PathMissing:
		return "PathMissing"
	case VersionMismatch:
		return "VersionMismatch"
	case InternalInvariant:
		return "InternalInvariant"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with a Kind so callers can recover via
// errors.As without parsing messages.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets callers write errors.Is(err, bcerr.ToolTimeout) by comparing Kind
// against a sentinel *Error with only Kind set.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinel returns a comparable target for errors.Is(err, bcerr.Sentinel(bcerr.ToolTimeout)).
func Sentinel(kind Kind) error {
	return &Error{Kind: kind}
}
