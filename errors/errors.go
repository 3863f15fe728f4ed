package errors

import (
	stderrors "errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// TransportError represents errors that occur at the transport layer
type TransportError int

const (
	ResolutionFailure TransportError = iota
	AllCandidatesFailed
	SocketCreateFailure
	SocketConnectFailure
	SocketWriteFailure
	SocketReadFailure
	ConnectionClosed
	SocketCloseFailure
	InitFailure
	InvalidArgument
)

func (e TransportError) Error() string {
	switch e {
	case ResolutionFailure:
		return "Name resolution failed"
	case AllCandidatesFailed:
		return "None of the addresses succeeded"
	case SocketCreateFailure:
		return "Socket creation failed"
	case SocketConnectFailure:
		return "Socket connection failed"
	case SocketWriteFailure:
		return "Socket write failed"
	case SocketReadFailure:
		return "Socket read failed"
	case ConnectionClosed:
		return "Connection closed"
	case SocketCloseFailure:
		return "Socket close failed"
	case InitFailure:
		return "Initialization failed"
	case InvalidArgument:
		return "Invalid argument"
	default:
		return fmt.Sprintf("Unknown transport error: %d", e)
	}
}

// Error is the error type returned by every package in this module.
// Attempts is only set for AllCandidatesFailed.
type Error struct {
	TransportErr TransportError
	Message      string
	Attempts     int
	underlying   error
}

func (e *Error) Error() string {
	s := e.TransportErr.Error()
	if e.Message != "" {
		s = fmt.Sprintf("%s: %s", s, e.Message)
	}
	if e.underlying != nil {
		return fmt.Sprintf("%s (underlying: %v)", s, e.underlying)
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.underlying
}

// Format prints the stack of the underlying cause with %+v.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') && e.underlying != nil {
			fmt.Fprintf(s, "%s: %+v", e.TransportErr.Error(), e.underlying)
			return
		}
		fallthrough
	case 's':
		fmt.Fprint(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}

// NewTransportError creates a new Error. A non-nil underlying error is
// annotated with the caller's stack.
func NewTransportError(te TransportError, message string, underlying error) *Error {
	if underlying != nil {
		underlying = pkgerrors.WithStack(underlying)
	}
	return &Error{
		TransportErr: te,
		Message:      message,
		underlying:   underlying,
	}
}

// NewResolutionError reports that host/service produced no usable candidate.
func NewResolutionError(host, service string, underlying error) *Error {
	return NewTransportError(ResolutionFailure, fmt.Sprintf("%s/%s", host, service), underlying)
}

// NewAllCandidatesFailedError reports that every resolved candidate failed.
// last is the error of the final attempt.
func NewAllCandidatesFailedError(host, service string, attempts int, last error) *Error {
	err := NewTransportError(AllCandidatesFailed, fmt.Sprintf("%s/%s after %d attempt(s)", host, service, attempts), last)
	err.Attempts = attempts
	return err
}

// Kind returns the TransportError carried by err, if any.
func Kind(err error) (TransportError, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e.TransportErr, true
	}
	return 0, false
}

// Is reports whether err carries the given TransportError.
func Is(err error, te TransportError) bool {
	k, ok := Kind(err)
	return ok && k == te
}

func IsResolution(err error) bool {
	return Is(err, ResolutionFailure)
}

func IsAllCandidatesFailed(err error) bool {
	return Is(err, AllCandidatesFailed)
}
