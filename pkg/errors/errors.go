package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryValidation ErrorCategory = "validation"
	CategoryState      ErrorCategory = "state"
	CategoryDependency ErrorCategory = "dependency"
	CategoryStorage    ErrorCategory = "storage"
	CategoryInternal   ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// Validation errors
	CodeValidationError ErrorCode = "validation_error"

	// State errors: expected business outcomes of the match state machine
	CodeNotFound   ErrorCode = "not_found"
	CodeConflict   ErrorCode = "conflict"
	CodeNotMatched ErrorCode = "not_matched"

	// Dependency errors
	CodeDependencyUnavailable ErrorCode = "dependency_unavailable"
	CodeTimeout               ErrorCode = "timeout"

	// Storage errors
	CodeStorageError ErrorCode = "storage_error"

	// Internal errors
	CodeInternalError ErrorCode = "internal_error"
)

// MatchError is the base error type for all matching engine errors
type MatchError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *MatchError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *MatchError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns an appropriate exit code for the error
func (e *MatchError) GetExitCode() int {
	switch e.Category {
	case CategoryValidation:
		return 2
	case CategoryState:
		return 3
	case CategoryDependency:
		return 4
	case CategoryStorage, CategoryInternal:
		return 5
	default:
		return 1
	}
}

// WithContext adds context information to the error
func (e *MatchError) WithContext(key string, value interface{}) *MatchError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for resolving the error
func (e *MatchError) WithSuggestion(suggestion string) *MatchError {
	e.Suggestion = suggestion
	return e
}

// New creates a new MatchError
func New(category ErrorCategory, code ErrorCode, message string) *MatchError {
	return &MatchError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with MatchError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *MatchError {
	if err == nil {
		return nil
	}

	return &MatchError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// stackTracer interface for extracting stack traces
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// Specific error constructors

// ValidationError creates a validation error for malformed input to a public operation
func ValidationError(field string, value interface{}, reason string) *MatchError {
	return New(CategoryValidation, CodeValidationError,
		fmt.Sprintf("invalid value for '%s': %s", field, reason)).
		WithSuggestion("check the request parameters and retry").
		WithContext("field", field).
		WithContext("value", value)
}

// NotFound creates a not-found error. Cross-tenant lookups produce the same
// error as a genuinely missing row so existence never leaks across tenants.
func NotFound(entity, id string) *MatchError {
	return New(CategoryState, CodeNotFound,
		fmt.Sprintf("%s not found: %s", entity, id)).
		WithContext("entity", entity).
		WithContext("id", id)
}

// Conflict creates an error for confirming a match when a different one is already confirmed
func Conflict(inboxID, confirmedTransactionID string) *MatchError {
	return New(CategoryState, CodeConflict,
		fmt.Sprintf("inbox item %s already has a confirmed match", inboxID)).
		WithSuggestion("unmatch the existing pairing before confirming a new one").
		WithContext("inbox_id", inboxID).
		WithContext("confirmed_transaction_id", confirmedTransactionID)
}

// TransactionConflict creates an error for confirming a pairing whose
// transaction is already matched to a different inbox item
func TransactionConflict(transactionID, confirmedInboxID string) *MatchError {
	return New(CategoryState, CodeConflict,
		fmt.Sprintf("transaction %s is already matched to inbox item %s",
			transactionID, confirmedInboxID)).
		WithSuggestion("unmatch the other inbox item before confirming this pairing").
		WithContext("transaction_id", transactionID).
		WithContext("confirmed_inbox_id", confirmedInboxID)
}

// NotMatched creates an error for unmatching an item with no confirmed match
func NotMatched(inboxID string) *MatchError {
	return New(CategoryState, CodeNotMatched,
		fmt.Sprintf("inbox item %s has no confirmed match", inboxID)).
		WithContext("inbox_id", inboxID)
}

// DependencyUnavailable creates an error for an unavailable external collaborator
func DependencyUnavailable(dependency string, err error) *MatchError {
	var result *MatchError
	if err != nil {
		result = Wrap(err, CategoryDependency, CodeDependencyUnavailable,
			fmt.Sprintf("dependency unavailable: %s", dependency))
	} else {
		result = New(CategoryDependency, CodeDependencyUnavailable,
			fmt.Sprintf("dependency unavailable: %s", dependency))
	}

	return result.
		WithSuggestion("the operation may succeed once the dependency recovers").
		WithContext("dependency", dependency)
}

// Timeout creates an error for an operation exceeding its deadline
func Timeout(operation string, err error) *MatchError {
	var result *MatchError
	if err != nil {
		result = Wrap(err, CategoryDependency, CodeTimeout,
			fmt.Sprintf("timeout during %s", operation))
	} else {
		result = New(CategoryDependency, CodeTimeout,
			fmt.Sprintf("timeout during %s", operation))
	}

	return result.WithContext("operation", operation)
}

// StorageError creates an error for a failed persistence operation
func StorageError(operation string, err error) *MatchError {
	var result *MatchError
	if err != nil {
		result = Wrap(err, CategoryStorage, CodeStorageError,
			fmt.Sprintf("storage operation failed: %s", operation))
	} else {
		result = New(CategoryStorage, CodeStorageError,
			fmt.Sprintf("storage operation failed: %s", operation))
	}

	return result.WithContext("operation", operation)
}

// InternalError creates an opaque error for unexpected failures. Internals are
// logged with full context; callers only see the operation name.
func InternalError(operation string, err error) *MatchError {
	var result *MatchError
	if err != nil {
		result = Wrap(err, CategoryInternal, CodeInternalError,
			fmt.Sprintf("internal error during %s", operation))
	} else {
		result = New(CategoryInternal, CodeInternalError,
			fmt.Sprintf("internal error during %s", operation))
	}

	return result.
		WithSuggestion("this is likely a bug - please report it with the error details").
		WithContext("operation", operation)
}

// Utility functions

// IsMatchError checks if an error is a MatchError
func IsMatchError(err error) bool {
	_, ok := err.(*MatchError)
	return ok
}

// AsMatchError extracts a MatchError from an error chain
func AsMatchError(err error) (*MatchError, bool) {
	var matchErr *MatchError
	if errors.As(err, &matchErr) {
		return matchErr, true
	}
	return nil, false
}

// Code returns the error code of an error, or CodeInternalError for untyped errors
func Code(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if matchErr, ok := AsMatchError(err); ok {
		return matchErr.Code
	}
	return CodeInternalError
}

// HasCode reports whether the error chain carries the given code
func HasCode(err error, code ErrorCode) bool {
	return Code(err) == code
}

// WrapIfNeeded wraps an error if it's not already a MatchError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *MatchError {
	if err == nil {
		return nil
	}

	if matchErr, ok := AsMatchError(err); ok {
		return matchErr
	}

	return Wrap(err, category, code, message)
}

// ErrorSummary provides a summary of multiple errors from a batch run
type ErrorSummary struct {
	Total      int                   `json:"total"`
	ByCategory map[ErrorCategory]int `json:"by_category"`
	ByCode     map[ErrorCode]int     `json:"by_code"`
	Errors     []*MatchError         `json:"errors"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errors []*MatchError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errors),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errors,
	}

	for _, err := range errors {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	return summary
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}

	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	var categories []string
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// HasCategory checks if the summary contains errors of the given category
func (es *ErrorSummary) HasCategory(category ErrorCategory) bool {
	count, exists := es.ByCategory[category]
	return exists && count > 0
}
