// Package errs defines the error kinds the memory engine surfaces to its
// transport layers, following the same wrap-with-%w convention the rest of
// the codebase uses for store errors.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error so callers can branch on retryability without
// parsing messages.
type Kind int

const (
	Internal Kind = iota
	InvalidInput
	NotFound
	Contended
	EmbedderUnavailable
	ExtractorUnavailable
	VectorStoreUnavailable
	GraphStoreUnavailable
	LockManagerUnavailable
	Timeout
	ConflictUnresolved
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case NotFound:
		return "not_found"
	case Contended:
		return "contended"
	case EmbedderUnavailable:
		return "embedder_unavailable"
	case ExtractorUnavailable:
		return "extractor_unavailable"
	case VectorStoreUnavailable:
		return "vector_store_unavailable"
	case GraphStoreUnavailable:
		return "graph_store_unavailable"
	case LockManagerUnavailable:
		return "lock_manager_unavailable"
	case Timeout:
		return "timeout"
	case ConflictUnresolved:
		return "conflict_unresolved"
	default:
		return "internal"
	}
}

// Retryable reports whether the transport may retry the operation with
// backoff, per the propagation policy.
func (k Kind) Retryable() bool {
	switch k {
	case Contended, Timeout, EmbedderUnavailable, ExtractorUnavailable,
		VectorStoreUnavailable, GraphStoreUnavailable, LockManagerUnavailable:
		return true
	default:
		return false
	}
}

// E is the engine's error type: a kind, the failing operation, the scope
// and/or id involved if known, and the wrapped cause.
type E struct {
	Kind     Kind
	Op       string
	ScopeKey string
	ID       string
	Err      error
}

func (e *E) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.ID != "" {
		msg += fmt.Sprintf(" id=%s", e.ID)
	}
	if e.ScopeKey != "" {
		msg += fmt.Sprintf(" scope=%s", e.ScopeKey)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *E) Unwrap() error { return e.Err }

// New builds an *E, wrapping err if non-nil.
func New(kind Kind, op string, err error) *E {
	return &E{Kind: kind, Op: op, Err: err}
}

// WithScope attaches scope/id correlation identifiers for the caller.
func (e *E) WithScope(scopeKey, id string) *E {
	e.ScopeKey = scopeKey
	e.ID = id
	return e
}

// KindOf extracts the Kind from err, defaulting to Internal when err is not
// (or does not wrap) an *E.
func KindOf(err error) Kind {
	var e *E
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is (or wraps) an *E of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
