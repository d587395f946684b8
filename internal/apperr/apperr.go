// Package apperr defines the error taxonomy shared by every executor and
// storage package: validation, not-found, concurrency, storage, domain-rule,
// and internal faults. Callers test the kind with errors.Is/errors.As rather
// than matching on message text.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the taxonomy buckets from SPEC_FULL §9.
type Kind string

const (
	Validation  Kind = "validation"
	NotFound    Kind = "not_found"
	Concurrency Kind = "concurrency"
	Storage     Kind = "storage"
	Domain      Kind = "domain"
	Internal    Kind = "internal"
)

// Error wraps an underlying cause with a Kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a target *Error by Kind. A target with a nil Err matches on Kind
// alone; a target with a non-nil Err (such as the sentinels below) also
// requires the wrapped cause to match it. For a plain Kind check use Is(err,
// kind) below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Err == nil {
		return e.Kind == t.Kind
	}
	return e.Kind == t.Kind && errors.Is(e.Err, t.Err)
}

// New builds a new taxonomy error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a new taxonomy error from a format string.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of err if it (or something it wraps) is an *Error,
// and Internal otherwise — uncaught faults default to Internal per SPEC_FULL §9.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err's Kind matches kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Sentinel domain errors referenced by name throughout the executors.
var (
	ErrInvalidFileType      = New(Validation, "", errors.New("invalid file type"))
	ErrInvalidStream        = New(Validation, "", errors.New("invalid or unreadable stream"))
	ErrConcurrentRefUpdate  = New(Concurrency, "", errors.New("ref moved concurrently; expected commit no longer current"))
	ErrStorageWrite         = New(Storage, "", errors.New("storage backend write failed"))
	ErrNotFound             = New(NotFound, "", errors.New("resource not found"))
	ErrUnknownSamplingMethod = New(Validation, "", errors.New("unknown sampling method"))
	ErrDenylistedSQL        = New(Validation, "", errors.New("sql contains a denylisted construct"))
)
