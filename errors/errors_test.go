package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestSyncErrorMessage(t *testing.T) {
	err := NewTransient(OpPush, fmt.Errorf("connection refused"))
	msg := err.Error()

	for _, want := range []string{"push", "adapter", "TRANSIENT_ADAPTER", "connection refused"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message %q missing %q", msg, want)
		}
	}
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := NewStorage(OpStore, cause)

	if !stderrors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		notFound  bool
		valid     bool
		transient bool
		fatal     bool
		retryable bool
	}{
		{"validation", NewValidation(OpInsert, fmt.Errorf("bad payload")), false, true, false, false, false},
		{"not found", NewNotFound(OpUpdate, "abc"), true, false, false, false, false},
		{"storage", NewStorage(OpStore, fmt.Errorf("disk full")), false, false, false, false, true},
		{"transient", NewTransient(OpPush, fmt.Errorf("timeout")), false, false, true, false, true},
		{"fatal", NewFatal(OpPull, fmt.Errorf("auth revoked")), false, false, false, true, false},
		{"plain", fmt.Errorf("plain"), false, false, false, false, false},
		{"nil", nil, false, false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotFound(tt.err); got != tt.notFound {
				t.Errorf("IsNotFound = %v, want %v", got, tt.notFound)
			}
			if got := IsValidation(tt.err); got != tt.valid {
				t.Errorf("IsValidation = %v, want %v", got, tt.valid)
			}
			if got := IsTransient(tt.err); got != tt.transient {
				t.Errorf("IsTransient = %v, want %v", got, tt.transient)
			}
			if got := IsFatal(tt.err); got != tt.fatal {
				t.Errorf("IsFatal = %v, want %v", got, tt.fatal)
			}
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestWrapOpComponentPreservesClassification(t *testing.T) {
	inner := NewTransient(OpPush, fmt.Errorf("503"))
	wrapped := WrapOpComponent(inner, OpPush, "coordinator")

	if !IsTransient(wrapped) {
		t.Error("wrapping lost the transient code")
	}
	if !IsRetryable(wrapped) {
		t.Error("wrapping lost the retryable flag")
	}
	if WrapOpComponent(nil, OpPush, "coordinator") != nil {
		t.Error("wrapping nil should return nil")
	}
}
