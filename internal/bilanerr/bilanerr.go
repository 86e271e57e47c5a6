// Package bilanerr defines the structured errors surfaced by the client SDK.
// Each error carries a category, the failing operation, and a
// human-actionable suggestion so callers can fix configuration problems
// without reading source.
package bilanerr

import (
	"errors"
	"fmt"
)

// Base error values for errors.Is matching.
var (
	ErrNotInitialized = errors.New("sdk not initialized")
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrInvalidInput   = errors.New("invalid input")
	ErrStorage        = errors.New("storage failure")
	ErrNetwork        = errors.New("network failure")
)

// Kind categorizes a client-surface error.
type Kind string

const (
	KindInit    Kind = "init"
	KindVote    Kind = "vote"
	KindStats   Kind = "stats"
	KindNetwork Kind = "network"
	KindStorage Kind = "storage"
)

// Error is the structured client error.
type Error struct {
	Kind       Kind
	Op         string // Operation that failed (e.g. "init", "vote", "flush")
	Err        error  // Underlying error
	Suggestion string // Human-actionable fix
}

func (e *Error) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s failed: %v (%s)", e.Op, e.Err, e.Suggestion)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches base error values against the error's category and wrapped
// chain.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrInvalidConfig:
		return e.Kind == KindInit
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrStorage:
		return e.Kind == KindStorage
	}
	return errors.Is(e.Err, target)
}

// NewInit reports a configuration problem found during SDK initialization.
func NewInit(err error, suggestion string) *Error {
	return &Error{Kind: KindInit, Op: "init", Err: err, Suggestion: suggestion}
}

// NewVote reports a failed vote submission.
func NewVote(err error, suggestion string) *Error {
	return &Error{Kind: KindVote, Op: "vote", Err: err, Suggestion: suggestion}
}

// NewStats reports a failed stats read.
func NewStats(err error) *Error {
	return &Error{Kind: KindStats, Op: "stats", Err: err}
}

// NewNetwork reports a transport-level failure.
func NewNetwork(op string, err error) *Error {
	return &Error{Kind: KindNetwork, Op: op, Err: err, Suggestion: "check endpoint reachability and API key"}
}

// NewStorage reports a local persistence failure.
func NewStorage(op string, err error) *Error {
	return &Error{Kind: KindStorage, Op: op, Err: err}
}
