package errors

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"syscall"
)

// AppError is the structured error type for tablerag.
// It provides rich context for error handling, logging, and user presentation.
type AppError struct {
	// Code is the unique error code (e.g., "ERR_205_CORRUPT_INDEX").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried by the caller.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Sentinels for errors.Is comparisons. Matching is by code, so these are
// never returned directly; use the constructors below.
var (
	ErrEmptyCorpus   = &AppError{Code: ErrCodeEmptyCorpus}
	ErrCorruptIndex  = &AppError{Code: ErrCodeCorruptIndex}
	ErrScoringFailed = &AppError{Code: ErrCodeScoringFailed}
	ErrNotReady      = &AppError{Code: ErrCodeNotReady}
	ErrInvalidInput  = &AppError{Code: ErrCodeInvalidInput}
)

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
func (e *AppError) Is(target error) bool {
	if t, ok := target.(*AppError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *AppError) WithSuggestion(suggestion string) *AppError {
	e.Suggestion = suggestion
	return e
}

// New creates a new AppError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an AppError from an existing error.
func Wrap(code string, err error) *AppError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *AppError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *AppError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *AppError {
	return New(ErrCodeInternal, message, cause)
}

// EmptyCorpus reports a build that produced nothing to index.
func EmptyCorpus(message string) *AppError {
	return New(ErrCodeEmptyCorpus, message, nil).
		WithSuggestion("Upload a report that contains at least one record")
}

// NotReady reports an operation attempted before the engine reached Ready.
func NotReady(op, state string) *AppError {
	return New(ErrCodeNotReady, fmt.Sprintf("%s requires a ready engine (state: %s)", op, state), nil).
		WithDetail("operation", op).
		WithDetail("state", state)
}

// ScoringFailure wraps an embedder or re-ranker failure during search.
func ScoringFailure(stage string, cause error) *AppError {
	return New(ErrCodeScoringFailed, stage+" failed", cause).
		WithDetail("stage", stage)
}

// CorruptIndex reports a persisted bundle that cannot be loaded. The reason
// is derived from cause unless the cause is nil.
func CorruptIndex(message string, cause error) *AppError {
	reason := ReasonCorrupt
	switch {
	case stderrors.Is(cause, fs.ErrNotExist):
		reason = ReasonNotFound
	case stderrors.Is(cause, fs.ErrPermission):
		reason = ReasonPermissionDenied
	}
	return New(ErrCodeCorruptIndex, message, cause).
		WithDetail("reason", reason).
		WithSuggestion("Rebuild the index from the source records")
}

// IndexMismatch reports bundle artifacts that disagree with each other.
func IndexMismatch(message string) *AppError {
	return New(ErrCodeCorruptIndex, message, nil).
		WithDetail("reason", ReasonMismatch).
		WithSuggestion("Rebuild the index from the source records")
}

// IOFailure classifies a filesystem error into not-found, permission,
// disk-full or internal codes.
func IOFailure(message string, cause error) *AppError {
	code := ErrCodeInternal
	switch {
	case stderrors.Is(cause, fs.ErrNotExist):
		code = ErrCodeFileNotFound
	case stderrors.Is(cause, fs.ErrPermission):
		code = ErrCodeFilePermission
	case stderrors.Is(cause, syscall.ENOSPC):
		code = ErrCodeDiskFull
	}
	return New(code, message, cause)
}

// As extracts the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var ae *AppError
	if stderrors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// GetCode extracts the error code, or "" if err carries none.
func GetCode(err error) string {
	if ae, ok := As(err); ok {
		return ae.Code
	}
	return ""
}

// GetDetail returns a detail value from the first AppError in err's chain.
func GetDetail(err error, key string) string {
	if ae, ok := As(err); ok {
		return ae.Details[key]
	}
	return ""
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if ae, ok := As(err); ok {
		return ae.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	if ae, ok := As(err); ok {
		return ae.Severity == SeverityFatal
	}
	return false
}
