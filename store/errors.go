package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is returned when an item doesn't exist in its partition.
	ErrNotFound = errors.New("catalog: item not found")

	// ErrAlreadyExists is returned when creating an item with an id already in use.
	ErrAlreadyExists = errors.New("catalog: item already exists")

	// ErrPreconditionFailed is returned when the caller's ETag no longer matches.
	ErrPreconditionFailed = errors.New("catalog: version tag mismatch")

	// ErrInvalidRequest is returned for malformed input that never reached the store.
	ErrInvalidRequest = errors.New("catalog: invalid request")

	// ErrStoreUnavailable is returned for transport failures and unclassified store errors.
	ErrStoreUnavailable = errors.New("catalog: store unavailable")

	// ErrPartialBatchFailure marks an operation rolled back because a sibling failed.
	ErrPartialBatchFailure = errors.New("catalog: failed dependency in batch")
)

// Kind classifies every failure the catalog reports.
type Kind int

const (
	KindStoreUnavailable Kind = iota
	KindNotFound
	KindAlreadyExists
	KindPreconditionFailed
	KindInvalidRequest
	KindPartialBatchFailure
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAlreadyExists:
		return "already_exists"
	case KindPreconditionFailed:
		return "precondition_failed"
	case KindInvalidRequest:
		return "invalid_request"
	case KindPartialBatchFailure:
		return "partial_batch_failure"
	default:
		return "store_unavailable"
	}
}

// Status returns the HTTP status code conventionally used for the kind.
func (k Kind) Status() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyExists:
		return http.StatusConflict
	case KindPreconditionFailed:
		return http.StatusPreconditionFailed
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindPartialBatchFailure:
		return http.StatusFailedDependency
	default:
		return http.StatusServiceUnavailable
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindAlreadyExists:
		return ErrAlreadyExists
	case KindPreconditionFailed:
		return ErrPreconditionFailed
	case KindInvalidRequest:
		return ErrInvalidRequest
	case KindPartialBatchFailure:
		return ErrPartialBatchFailure
	default:
		return ErrStoreUnavailable
	}
}

// Classify maps a store status code onto the error taxonomy.
// Anything without a dedicated kind is treated as the store being unavailable.
func Classify(status int) Kind {
	switch status {
	case http.StatusBadRequest:
		return KindInvalidRequest
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict:
		return KindAlreadyExists
	case http.StatusPreconditionFailed:
		return KindPreconditionFailed
	case http.StatusFailedDependency:
		return KindPartialBatchFailure
	default:
		return KindStoreUnavailable
	}
}

// Error carries a classified failure together with the store's own status and message.
type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Message string
	Err     error
}

// NewError builds an Error whose status is the kind's conventional status.
func NewError(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Status: kind.Status(), Message: message}
}

// Invalid is shorthand for an InvalidRequest error.
func Invalid(op, format string, args ...any) *Error {
	return NewError(KindInvalidRequest, op, fmt.Sprintf(format, args...))
}

// FromStatus classifies a raw store status code.
func FromStatus(op string, status int, message string) *Error {
	return &Error{Kind: Classify(status), Op: op, Status: status, Message: message}
}

// Unavailable wraps a transport-level failure.
func Unavailable(op string, err error) *Error {
	return &Error{
		Kind:    KindStoreUnavailable,
		Op:      op,
		Status:  http.StatusServiceUnavailable,
		Message: "store unavailable",
		Err:     err,
	}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.sentinel().Error()
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op == "" {
		return fmt.Sprintf("%s (%d)", msg, e.Status)
	}
	return fmt.Sprintf("%s: %s (%d)", e.Op, msg, e.Status)
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf classifies an arbitrary error. Unknown errors, including context
// cancellation, count as the store being unavailable.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	for _, k := range []Kind{KindNotFound, KindAlreadyExists, KindPreconditionFailed, KindInvalidRequest, KindPartialBatchFailure} {
		if errors.Is(err, k.sentinel()) {
			return k
		}
	}
	return KindStoreUnavailable
}

// AsError returns err as an *Error, wrapping unclassified errors as unavailable.
func AsError(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Unavailable(op, err)
	}
	if k := KindOf(err); k != KindStoreUnavailable {
		return &Error{Kind: k, Op: op, Status: k.Status(), Message: err.Error(), Err: err}
	}
	return Unavailable(op, err)
}

// BatchError is returned by BatchExecute when the store rejected the batch.
// Results holds one entry per submitted operation; none of them were applied.
type BatchError struct {
	FailedIndex int
	Results     []OperationResult
}

func (e *BatchError) Error() string {
	if e.FailedIndex >= 0 && e.FailedIndex < len(e.Results) {
		r := e.Results[e.FailedIndex]
		return fmt.Sprintf("catalog: batch rejected at operation %d: status %d: %s", e.FailedIndex, r.Status, r.Message)
	}
	return "catalog: batch rejected"
}
