package models

import (
	"fmt"

	"github.com/pkg/errors"
)

// kernel error codes, numbered like the seL4 error enum
const (
	KERR_INVALID_ARGUMENT   = 1
	KERR_INVALID_CAPABILITY = 2
	KERR_ILLEGAL_OPERATION  = 3
	KERR_RANGE_ERROR        = 4
	KERR_ALIGNMENT_ERROR    = 5
	KERR_FAILED_LOOKUP      = 6
	KERR_TRUNCATED_MESSAGE  = 7
	KERR_DELETE_FIRST       = 8
	KERR_REVOKE_FIRST       = 9
	KERR_NOT_ENOUGH_MEMORY  = 10
)

// KernelError is returned by Kernel operations the kernel rejected.
// For KERR_FAILED_LOOKUP, Level is the translation level that was missing.
type KernelError struct {
	Op    string
	Code  int
	Level int
}

func (k *KernelError) Error() string {
	reason := "kernel error"
	switch k.Code {
	case KERR_INVALID_ARGUMENT:
		reason = "invalid argument"
	case KERR_INVALID_CAPABILITY:
		reason = "invalid capability"
	case KERR_ILLEGAL_OPERATION:
		reason = "illegal operation"
	case KERR_RANGE_ERROR:
		reason = "range error"
	case KERR_ALIGNMENT_ERROR:
		reason = "alignment error"
	case KERR_FAILED_LOOKUP:
		return fmt.Sprintf("%s: failed lookup at level %d", k.Op, k.Level)
	case KERR_TRUNCATED_MESSAGE:
		reason = "truncated message"
	case KERR_DELETE_FIRST:
		reason = "delete first"
	case KERR_REVOKE_FIRST:
		reason = "revoke first"
	case KERR_NOT_ENOUGH_MEMORY:
		reason = "not enough memory"
	}
	return fmt.Sprintf("%s: %s", k.Op, reason)
}

func kernelCode(err error) int {
	var kerr *KernelError
	if errors.As(err, &kerr) {
		return kerr.Code
	}
	return 0
}

// IsFailedLookup reports whether err means an intermediate translation
// structure is missing.
func IsFailedLookup(err error) bool { return kernelCode(err) == KERR_FAILED_LOOKUP }

// IsDeleteFirst reports whether err means the target slot or table entry is occupied.
func IsDeleteFirst(err error) bool { return kernelCode(err) == KERR_DELETE_FIRST }

// ErrorKind is the failure taxonomy surfaced by realm construction and mapping.
type ErrorKind int

const (
	ErrUnknown ErrorKind = iota
	ErrOutOfMemory
	ErrOutOfSlots
	ErrObjectCreation
	ErrAsidAssignment
	ErrMappingFailed
	ErrTcbConfiguration
	ErrNoBootImage
)

func (k ErrorKind) String() string {
	switch k {
	case ErrOutOfMemory:
		return "out of memory"
	case ErrOutOfSlots:
		return "out of slots"
	case ErrObjectCreation:
		return "object creation failed"
	case ErrAsidAssignment:
		return "asid assignment failed"
	case ErrMappingFailed:
		return "mapping failed"
	case ErrTcbConfiguration:
		return "tcb configuration failed"
	case ErrNoBootImage:
		return "no boot image"
	}
	return "unknown error"
}

// Error carries an ErrorKind, the step that failed and the underlying cause.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Fail builds an *Error with a stack trace attached.
func Fail(kind ErrorKind, op string, cause error) error {
	return errors.WithStack(&Error{Kind: kind, Op: op, Err: cause})
}

// KindOf returns the ErrorKind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrUnknown
}
