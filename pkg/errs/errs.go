// Package errs implements the storage node's error taxonomy, modeled on
// pkg/content.ContentError and pkg/wire.Error from the surrounding codebase.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a storage node error per the taxonomy used throughout the
// block store, node engine, session managers, and request pipeline.
type Kind string

const (
	NotFound          Kind = "NotFound"
	NotAManifest      Kind = "NotAManifest"
	MalformedManifest Kind = "MalformedManifest"
	InvalidBlock      Kind = "InvalidBlock"
	InvalidCid        Kind = "InvalidCid"
	QuotaExceeded     Kind = "QuotaExceeded"
	IoFailure         Kind = "IoFailure"
	NetworkFailure    Kind = "NetworkFailure"
	InvalidState      Kind = "InvalidState"
	InvalidArgument   Kind = "InvalidArgument"
	Cancelled         Kind = "Cancelled"
	DispatchFailed    Kind = "DispatchFailed"
	Timeout           Kind = "Timeout"
	Internal          Kind = "Internal"
)

// Error is the single error type produced by the storage node core.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, errs.New(kind, "")) match on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable mirrors content.ContentError.IsRetryable: only network-shaped
// failures are worth a caller retrying: the node engine itself never retries.
func Retryable(err error) bool {
	switch KindOf(err) {
	case NetworkFailure, Timeout:
		return true
	default:
		return false
	}
}

// Stats tracks error counts by kind, modeled on content.ErrorStats.
type Stats struct {
	counts map[Kind]uint64
	last   *Error
}

func NewStats() *Stats {
	return &Stats{counts: make(map[Kind]uint64)}
}

func (s *Stats) Record(err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = &Error{Kind: Internal, Message: err.Error()}
	}
	s.counts[e.Kind]++
	s.last = e
}

func (s *Stats) Count(kind Kind) uint64 {
	return s.counts[kind]
}

func (s *Stats) Total() uint64 {
	var total uint64
	for _, c := range s.counts {
		total += c
	}
	return total
}

func (s *Stats) LastError() *Error {
	return s.last
}
