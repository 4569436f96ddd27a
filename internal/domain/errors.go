package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures. Kinds are classification, not
// typing: callers branch on kind, not on concrete error types.
type ErrorKind string

const (
	// KindConfig covers mode out of range and missing rule weights.
	KindConfig ErrorKind = "CONFIG_ERROR"

	// KindSchema covers a required column absent for a requested rule.
	KindSchema ErrorKind = "SCHEMA_ERROR"

	// KindModelUnavailable means no artifact on disk for a rule. Treated
	// as a zero column, never fatal.
	KindModelUnavailable ErrorKind = "MODEL_UNAVAILABLE"

	// KindModelLoad means an artifact exists but failed to deserialize.
	// Fatal for that rule only.
	KindModelLoad ErrorKind = "MODEL_LOAD_ERROR"

	// KindPrediction is a runtime failure during predict; the rule's
	// optimized column defaults to zero.
	KindPrediction ErrorKind = "PREDICTION_ERROR"

	// KindData marks a malformed amount or date; the row is skipped and
	// counted.
	KindData ErrorKind = "DATA_ERROR"

	// KindFatal aborts the batch.
	KindFatal ErrorKind = "FATAL"
)

// Error is a classified pipeline error.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E wraps err with a kind and operation name.
func E(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Ef creates a classified error from a format string.
func Ef(kind ErrorKind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the error kind; unclassified errors report KindFatal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}

// IsFatal reports whether the error should abort the batch.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindFatal, KindConfig:
		return true
	default:
		return false
	}
}
