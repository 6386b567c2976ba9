// Package errors provides the structured error types used across the sync
// core. Every failure is classified by a Code that decides its handling:
// validation and not-found errors surface synchronously to the caller,
// transient adapter errors are retried with backoff, and fatal adapter
// errors halt automatic retry until the caller intervenes.
package errors

import (
	"errors"
	"fmt"
)

// Code classifies the failure for routing and retry decisions.
type Code string

const (
	// CodeValidation marks malformed input. Never retried.
	CodeValidation Code = "VALIDATION_FAILURE"

	// CodeNotFound marks an operation on an unknown or removed record id.
	CodeNotFound Code = "NOT_FOUND"

	// CodeStorage marks a local persistence failure.
	CodeStorage Code = "STORAGE_FAILURE"

	// CodeTransientAdapter marks a network, timeout or server-busy failure
	// at the remote boundary. Retried with backoff, never user-visible.
	CodeTransientAdapter Code = "TRANSIENT_ADAPTER"

	// CodeFatalAdapter marks an unrecoverable remote failure such as
	// revoked credentials. Halts automatic retry; local data is untouched.
	CodeFatalAdapter Code = "FATAL_ADAPTER"
)

// Op names the sync operation during which an error occurred.
type Op string

const (
	OpInsert     Op = "insert"
	OpUpdate     Op = "update"
	OpDelete     Op = "delete"
	OpGet        Op = "get"
	OpList       Op = "list"
	OpEnqueue    Op = "enqueue"
	OpPeek       Op = "peek"
	OpAck        Op = "acknowledge"
	OpReschedule Op = "reschedule"
	OpDiscard    Op = "discard"
	OpPush       Op = "push"
	OpPull       Op = "pull"
	OpApply      Op = "apply"
	OpCheckpoint Op = "checkpoint"
	OpStore      Op = "store"
	OpClose      Op = "close"
)

// SyncError is the structured error carried through the sync core.
type SyncError struct {
	// Op is the operation that failed.
	Op Op

	// Component generated the error (e.g. "repository", "outbox",
	// "adapter/http").
	Component string

	// Code classifies the failure.
	Code Code

	// Retryable reports whether repeating the operation may succeed.
	Retryable bool

	// Err is the underlying cause.
	Err error
}

func (e *SyncError) Error() string {
	msg := fmt.Sprintf("%s operation failed", e.Op)
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s", e.Op, e.Component)
	}
	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}
	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// NewValidation creates a validation error. Not retryable.
func NewValidation(op Op, cause error) *SyncError {
	return &SyncError{Op: op, Code: CodeValidation, Err: cause}
}

// NewNotFound creates a not-found error for the given record id.
func NewNotFound(op Op, id string) *SyncError {
	return &SyncError{Op: op, Code: CodeNotFound, Err: fmt.Errorf("record %q not found", id)}
}

// NewStorage creates a local storage error. Retryable.
func NewStorage(op Op, cause error) *SyncError {
	return &SyncError{Op: op, Code: CodeStorage, Component: "store", Err: cause, Retryable: true}
}

// NewTransient creates a transient adapter error. Retryable with backoff.
func NewTransient(op Op, cause error) *SyncError {
	return &SyncError{Op: op, Code: CodeTransientAdapter, Component: "adapter", Err: cause, Retryable: true}
}

// NewFatal creates a fatal adapter error. Halts automatic retry.
func NewFatal(op Op, cause error) *SyncError {
	return &SyncError{Op: op, Code: CodeFatalAdapter, Component: "adapter", Err: cause}
}

// codeOf extracts the Code from an error chain, or "" when absent.
func codeOf(err error) Code {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsRetryable reports whether err is a SyncError marked retryable.
func IsRetryable(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// IsNotFound reports whether err carries CodeNotFound.
func IsNotFound(err error) bool { return codeOf(err) == CodeNotFound }

// IsValidation reports whether err carries CodeValidation.
func IsValidation(err error) bool { return codeOf(err) == CodeValidation }

// IsTransient reports whether err carries CodeTransientAdapter.
func IsTransient(err error) bool { return codeOf(err) == CodeTransientAdapter }

// IsFatal reports whether err carries CodeFatalAdapter.
func IsFatal(err error) bool { return codeOf(err) == CodeFatalAdapter }
