package models

import (
	"errors"
	"fmt"
)

// Kind identifies which bucket of the error taxonomy an Error belongs to.
type Kind string

const (
	KindInvalidRequest       Kind = "invalid_request"
	KindNotFound             Kind = "not_found"
	KindConflict             Kind = "conflict"
	KindStorageTransient     Kind = "storage_transient"
	KindStoragePermanent     Kind = "storage_permanent"
	KindEmbeddingUnavailable Kind = "embedding_unavailable"
	KindEmbeddingTimeout     Kind = "embedding_timeout"
	KindSchemaMismatch       Kind = "schema_mismatch"
	KindOperationTimeout     Kind = "operation_timeout"
	KindOperationCancelled   Kind = "operation_cancelled"
	KindInternal             Kind = "internal"
)

// Error is the typed error returned across component boundaries. It carries
// enough information for callers to classify failures without string
// matching against driver or filesystem error text.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError constructs a classified Error.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
