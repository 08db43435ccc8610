package moq

import "fmt"

// ErrorCode is a protocol-level error code, transported as a VarInt on
// stream resets and session closes.
type ErrorCode uint64

const (
	// NoError closes a session or stream with no error.
	NoError ErrorCode = 0
	// CancelError marks a local drop; not a protocol violation.
	CancelError ErrorCode = 1
	// NotFoundError marks a subscribed path or track with no producer.
	NotFoundError ErrorCode = 2
	// ProtocolError marks a wire decode failure or out-of-order sequence.
	ProtocolError ErrorCode = 3
	// VersionError marks a setup with no common version.
	VersionError ErrorCode = 4
	// UnexpectedStreamError marks a stream opened with an unknown kind.
	UnexpectedStreamError ErrorCode = 5
	// WrongSizeError marks a frame finished with size != declared.
	WrongSizeError ErrorCode = 6
	// TransportError wraps an opaque underlying transport error.
	TransportError ErrorCode = 7
)

func (c ErrorCode) String() string {
	switch c {
	case NoError:
		return "NoError"
	case CancelError:
		return "Cancel"
	case NotFoundError:
		return "NotFound"
	case ProtocolError:
		return "Protocol"
	case VersionError:
		return "Version"
	case UnexpectedStreamError:
		return "UnexpectedStream"
	case WrongSizeError:
		return "WrongSize"
	case TransportError:
		return "Transport"
	default:
		return fmt.Sprintf("ErrorCode(%d)", uint64(c))
	}
}

// Error is the typed error returned across the core's public API. Every
// error that crosses a producer/consumer boundary or a session boundary
// carries one of these so callers can branch on Code without parsing
// strings.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func WrapError(code ErrorCode, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Message: cause.Error(), Cause: cause}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Code, so callers
// can do errors.Is(err, moq.NewError(moq.NotFoundError, "")).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// CancelErr is the sentinel returned to consumers when their producer
// dropped without finishing or aborting.
var CancelErr = NewError(CancelError, "dropped")

// ErrClosed is returned by Watch operations once the cell has been closed
// and has no pending modification to report.
var ErrClosed = NewError(CancelError, "closed")

// asError converts a possibly-nil *Error into the error interface
// without the typed-nil trap: a bare `return someNilStarError` as an
// `error` return value produces a non-nil interface wrapping a nil
// pointer, which callers' `err != nil` checks would see as an error.
func asError(e *Error) error {
	if e == nil {
		return nil
	}
	return e
}
