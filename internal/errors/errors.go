// Package errors defines the stable, machine-readable error taxonomy
// the rollup core returns across every component: a category, an
// HTTP status, a retryability flag, and a severity, as required by
// spec.md §6-7.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Category is one of the four-letter families from spec.md §6.
type Category string

const (
	CategoryValidation Category = "VAL"
	CategoryResource   Category = "RES"
	CategoryExecution  Category = "EXEC"
	CategoryMatch      Category = "MATCH"
	CategoryMerge      Category = "MERGE"
	CategoryBlast      Category = "BLAST"
	CategoryLimit      Category = "LIMIT"
	CategoryPermission Category = "PERM"
	CategoryInfra      Category = "INFRA"
	CategoryState      Category = "STATE"
)

// Severity mirrors the teacher's severity scale, reused here for audit
// event scaling and for deciding whether an error should abort a phase.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// Error is a structured, stable-coded error. Code is always
// "ROLLUP_<CATEGORY>_<NAME>", e.g. "ROLLUP_RES_VERSION_CONFLICT".
type Error struct {
	Code       string
	Category   Category
	HTTPStatus int
	Retryable  bool
	Severity   Severity
	Message    string
	Cause      error
	Context    map[string]interface{}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches by Code, so errors.Is(err, SomeSentinel) works for the
// exported sentinel values below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithContext attaches a key/value pair for logging or audit, returning
// the same *Error for chaining.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func newErr(category Category, name string, httpStatus int, retryable bool, severity Severity, format string, args ...interface{}) *Error {
	return &Error{
		Code:       fmt.Sprintf("ROLLUP_%s_%s", category, name),
		Category:   category,
		HTTPStatus: httpStatus,
		Retryable:  retryable,
		Severity:   severity,
		Message:    fmt.Sprintf(format, args...),
	}
}

func wrapErr(cause error, category Category, name string, httpStatus int, retryable bool, severity Severity, format string, args ...interface{}) *Error {
	e := newErr(category, name, httpStatus, retryable, severity, format, args...)
	e.Cause = cause
	return e
}

// Validation errors — never retried, 4xx.

func ValidationErrorf(name, format string, args ...interface{}) *Error {
	return newErr(CategoryValidation, name, 422, false, SeverityHigh, format, args...)
}

// Resource errors — not retried, except RES_VERSION_CONFLICT/RES_LOCKED.

func NotFoundErrorf(format string, args ...interface{}) *Error {
	return newErr(CategoryResource, "NOT_FOUND", 404, false, SeverityMedium, format, args...)
}

func VersionConflictErrorf(format string, args ...interface{}) *Error {
	return newErr(CategoryResource, "VERSION_CONFLICT", 409, true, SeverityMedium, format, args...)
}

func LockedErrorf(format string, args ...interface{}) *Error {
	return newErr(CategoryResource, "LOCKED", 423, true, SeverityMedium, format, args...)
}

// Execution errors.

func ExecutionErrorf(name, format string, args ...interface{}) *Error {
	retryable := true
	switch name {
	case "MATCH_FAILED", "MERGE_FAILED", "CANCELLED", "IN_PROGRESS":
		retryable = false
	}
	return newErr(CategoryExecution, name, 500, retryable, SeverityHigh, format, args...)
}

func TimeoutErrorf(phase, format string, args ...interface{}) *Error {
	return newErr(CategoryExecution, "TIMEOUT", 504, true, SeverityHigh, format, args...).WithContext("phase", phase)
}

// Match/Merge errors — not retried, returned to caller.

func MatchErrorf(name, format string, args ...interface{}) *Error {
	return newErr(CategoryMatch, name, 422, false, SeverityMedium, format, args...)
}

func MergeErrorf(name, format string, args ...interface{}) *Error {
	return newErr(CategoryMerge, name, 422, false, SeverityHigh, format, args...)
}

// Blast-radius errors — mostly not retried.

func BlastErrorf(retryable bool, format string, args ...interface{}) *Error {
	return newErr(CategoryBlast, "ERROR", 500, retryable, SeverityMedium, format, args...)
}

// Limit errors.

func RateLimitErrorf(retryAfterSeconds int, format string, args ...interface{}) *Error {
	return newErr(CategoryLimit, "RATE", 429, true, SeverityLow, format, args...).
		WithContext("retry_after_seconds", retryAfterSeconds)
}

func MaxConcurrentErrorf(retryAfterSeconds int, format string, args ...interface{}) *Error {
	return newErr(CategoryLimit, "MAX_CONCURRENT", 429, true, SeverityLow, format, args...).
		WithContext("retry_after_seconds", retryAfterSeconds)
}

// Permission and state errors.

func PermissionDeniedErrorf(format string, args ...interface{}) *Error {
	return newErr(CategoryPermission, "DENIED", 403, false, SeverityHigh, format, args...)
}

func ArchivedErrorf(format string, args ...interface{}) *Error {
	return newErr(CategoryState, "ARCHIVED", 409, false, SeverityMedium, format, args...)
}

// Infrastructure errors — retried up to maxAttempts by the caller.

func InfraErrorf(cause error, format string, args ...interface{}) *Error {
	return wrapErr(cause, CategoryInfra, "FAILURE", 502, true, SeverityHigh, format, args...)
}

// IsRetryable reports whether err (if it is, or wraps, an *Error)
// should be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// Code returns the stable code of err, or "" if it is not an *Error.
func Code(err error) string {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
