package workorders

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates the work order does not exist.
	ErrNotFound = errors.New("Work Order not found")
	// ErrOperationNotFound indicates no operation carries the requested sequence.
	ErrOperationNotFound = errors.New("operation not found")
	// ErrResourceIndexOutOfRange indicates the resource index does not exist.
	ErrResourceIndexOutOfRange = errors.New("resource index out of range")
	// ErrInvalidTransition indicates a status change not allowed from the current state.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrTerminalState indicates a structural change on a finished work order.
	ErrTerminalState = errors.New("work order is in a terminal state")
	// ErrConflict indicates a concurrent write won; the caller may retry.
	ErrConflict = errors.New("work order was modified concurrently")
	// ErrStoreUnavailable indicates the document store could not be reached.
	ErrStoreUnavailable = errors.New("work order store unavailable")
)

// ValidationError carries field-level messages keyed by JSON path.
type ValidationError struct {
	Fields map[string]string
}

func newValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}

func (e *ValidationError) add(field, format string, args ...any) {
	if _, exists := e.Fields[field]; exists {
		return
	}
	e.Fields[field] = fmt.Sprintf(format, args...)
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func fieldError(field, format string, args ...any) error {
	v := newValidationError()
	v.add(field, format, args...)
	return v
}
