package notify

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind is the error taxonomy every Backend, WatcherFacade, and
// debouncer reports through.
type ErrorKind uint8

const (
	ErrGeneric ErrorKind = iota
	ErrIo
	ErrPathNotFound
	ErrWatchNotFound
	ErrInvalidConfig
	ErrMaxFilesWatch
)

func (k ErrorKind) String() string {
	switch k {
	case ErrIo:
		return "io"
	case ErrPathNotFound:
		return "path not found"
	case ErrWatchNotFound:
		return "watch not found"
	case ErrInvalidConfig:
		return "invalid config"
	case ErrMaxFilesWatch:
		return "max files watch"
	default:
		return "generic"
	}
}

// Error is the concrete error type returned synchronously from
// Watch/Unwatch/Configure and pushed asynchronously to an EventSink's
// SendError. It carries the paths it refers to (possibly none) and, for
// ErrIo, the underlying cause.
type Error struct {
	Kind  ErrorKind
	Msg   string
	Paths []string
	cause error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if len(e.Paths) > 0 {
		msg = fmt.Sprintf("%s: %v", msg, e.Paths)
	}
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.cause)
	}
	return msg
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// Cause exposes the wrapped cause via github.com/pkg/errors' convention as
// well, for callers that still use errors.Cause.
func (e *Error) Cause() error { return e.cause }

// Is reports whether target is an *Error of the same Kind, so callers can
// write errors.Is(err, notify.ErrWatchNotFoundSentinel).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// PathList returns the paths this error refers to.
func (e *Error) PathList() []string { return e.Paths }

func newError(kind ErrorKind, msg string, cause error, paths ...string) *Error {
	var wrapped error
	if cause != nil {
		wrapped = errors.WithStack(cause)
	}
	return &Error{Kind: kind, Msg: msg, Paths: paths, cause: wrapped}
}

// Sentinel values for errors.Is comparisons against a specific kind,
// e.g. errors.Is(err, notify.ErrWatchNotFoundSentinel).
var (
	ErrGenericSentinel       = &Error{Kind: ErrGeneric}
	ErrIoSentinel            = &Error{Kind: ErrIo}
	ErrPathNotFoundSentinel  = &Error{Kind: ErrPathNotFound}
	ErrWatchNotFoundSentinel = &Error{Kind: ErrWatchNotFound}
	ErrInvalidConfigSentinel = &Error{Kind: ErrInvalidConfig}
	ErrMaxFilesWatchSentinel = &Error{Kind: ErrMaxFilesWatch}
)

func errIo(cause error, paths ...string) *Error {
	return newError(ErrIo, "filesystem or syscall failed", cause, paths...)
}

func errPathNotFound(paths ...string) *Error {
	return newError(ErrPathNotFound, "watch target not found", nil, paths...)
}

func errWatchNotFound(paths ...string) *Error {
	return newError(ErrWatchNotFound, "no such watch", nil, paths...)
}

func errInvalidConfig(msg string) *Error {
	return newError(ErrInvalidConfig, msg, nil)
}

func errMaxFilesWatch(paths ...string) *Error {
	return newError(ErrMaxFilesWatch, "kernel watch limit reached", nil, paths...)
}
