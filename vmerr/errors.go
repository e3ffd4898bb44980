// Package vmerr defines the typed error kinds shared across the engine,
// following the teacher's classified-error pattern (forge-core/llm/errors.go
// FailoverError: a Kind enum, Unwrap, and a constructor).
package vmerr

import "fmt"

// Kind classifies a failure (spec §7).
type Kind string

const (
	KindPageNotFound     Kind = "page_not_found"
	KindPageIO           Kind = "page_io_error"
	KindIndexCorrupt     Kind = "index_corrupt"
	KindSummariserFailed Kind = "summariser_failure"
	KindEmbeddingFailed  Kind = "embedding_failure"
	KindBatchSubmit      Kind = "batch_submit_failure"
	KindSlotExhausted    Kind = "slot_exhausted"
	KindForkNotFound     Kind = "fork_not_found"
)

// Error wraps an underlying failure with its classification.
type Error struct {
	Kind    Kind
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// New constructs a classified Error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a classified Error around an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Wrapped: cause}
}

// Is supports errors.Is(err, vmerr.ErrPageNotFound) style checks against
// the sentinels below: any *Error target with the same Kind matches, rather
// than only the identical value, since each Error is constructed fresh per
// call site.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel values usable with errors.Is(err, vmerr.ErrPageNotFound).
var (
	ErrPageNotFound     = New(KindPageNotFound, "page not found")
	ErrIndexCorrupt     = New(KindIndexCorrupt, "page index corrupt")
	ErrSlotExhausted    = New(KindSlotExhausted, "all loaded pages are pinned")
	ErrForkNotFound     = New(KindForkNotFound, "fork not found")
)
