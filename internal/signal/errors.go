package signal

import (
	"errors"
	"fmt"

	"github.com/ashureev/focus-labs/internal/domain"
)

// Sentinels matched by ConnectionError.Is.
var (
	ErrUnavailable      = errors.New("source unavailable")
	ErrPermissionDenied = errors.New("permission denied")
	ErrTimeout          = errors.New("connection timed out")
	ErrProtocolMismatch = errors.New("protocol mismatch")

	// ErrNoSample is returned by Read before the source has produced anything.
	ErrNoSample = errors.New("no sample available")
	// ErrNotConnected is returned by Read on a disconnected source.
	ErrNotConnected = errors.New("source not connected")
)

// ErrorKind classifies a connection failure.
type ErrorKind int

const (
	KindUnavailable ErrorKind = iota + 1
	KindPermissionDenied
	KindTimeout
	KindProtocolMismatch
)

func (k ErrorKind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission denied"
	case KindTimeout:
		return "timeout"
	case KindProtocolMismatch:
		return "protocol mismatch"
	default:
		return "unavailable"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindPermissionDenied:
		return ErrPermissionDenied
	case KindTimeout:
		return ErrTimeout
	case KindProtocolMismatch:
		return ErrProtocolMismatch
	default:
		return ErrUnavailable
	}
}

// ConnectionError is returned when a source cannot connect.
type ConnectionError struct {
	Kind   ErrorKind
	Source domain.SourceKind
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connect %s: %s", e.Source, e.Kind)
	}
	return fmt.Sprintf("connect %s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *ConnectionError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func connErr(source domain.SourceKind, kind ErrorKind, err error) *ConnectionError {
	return &ConnectionError{Kind: kind, Source: source, Err: err}
}

// ParseError is a malformed or out-of-schema source message.
type ParseError struct {
	Source domain.SourceKind
	Raw    string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s message: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// RemoteError is an error status reported by the source itself.
type RemoteError struct {
	Source  domain.SourceKind
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s reported: %s", e.Source, e.Message)
}
