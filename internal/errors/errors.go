// Package errors defines the structured error taxonomy shared by the
// processor pipeline, the repositories, and the broker subscriber.
//
// Every error that crosses a phase boundary inside a processor pipeline run
// is expected to be (or to wrap into) an *AppError so that the pipeline can
// record a phase and a typed reason on the execution row, and so that the
// broker subscriber can classify delivery failures without string-matching
// against library-specific error text.
package errors

import (
	"fmt"
	"strings"
)

// ErrorType is a taxonomy of error kinds, one per processor phase plus the
// cross-cutting persistence/configuration/network concerns. It does not
// name Go types; it names failure kinds.
type ErrorType string

const (
	ErrorTypePrevalidation     ErrorType = "prevalidation"
	ErrorTypeTransformation    ErrorType = "transformation"
	ErrorTypeInputValidation   ErrorType = "input_validation"
	ErrorTypeFactorExtraction  ErrorType = "factor_extraction"
	ErrorTypeDataTransformation ErrorType = "data_transformation"
	ErrorTypeApi               ErrorType = "api"
	ErrorTypeResultValidation  ErrorType = "result_validation"
	ErrorTypePersistence       ErrorType = "persistence"
	ErrorTypeConfiguration     ErrorType = "configuration"

	// Legacy-compatible general-purpose kinds, carried so the taxonomy also
	// covers cross-cutting concerns outside the processor pipeline proper
	// (broker connectivity, generic validation, auth on the HTTP surface).
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeDatabase   ErrorType = "database"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
)

// AppError is the structured error carried on execution rows
// (Execution.FailedCode / Execution.FailedReason) and logged at every
// workflow stage.
type AppError struct {
	Type       ErrorType
	Message    string
	Details    string
	Cause      error
	APIName    string
	StatusCode int
	Retryable  bool
}

// New creates an AppError of the given type with no cause.
func New(t ErrorType, message string) *AppError {
	return &AppError{Type: t, Message: message}
}

// Wrap captures an underlying error as the Cause of a new AppError.
func Wrap(cause error, t ErrorType, message string) *AppError {
	return &AppError{Type: t, Message: message, Cause: cause}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(cause error, t ErrorType, format string, args ...any) *AppError {
	return &AppError{Type: t, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap allows errors.Is/errors.As to see through to Cause.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails mutates and returns the same error with Details set.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf is WithDetails with a formatted string.
func (e *AppError) WithDetailsf(format string, args ...any) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// Predefined constructors, one per processor phase plus the cross-cutting
// kinds, mirroring spec.md §7's taxonomy.

func NewPrevalidationError(message string) *AppError {
	return New(ErrorTypePrevalidation, message)
}

func NewTransformationError(message string) *AppError {
	return New(ErrorTypeTransformation, message)
}

func NewInputValidationError(message, processorName string) *AppError {
	return New(ErrorTypeInputValidation, message).WithDetails(processorName)
}

func NewFactorExtractionError(message string) *AppError {
	return New(ErrorTypeFactorExtraction, message)
}

func NewDataTransformationError(message string) *AppError {
	return New(ErrorTypeDataTransformation, message)
}

// NewApiError carries the extra context spec.md §7 requires for outbound
// call failures: api_name, status_code, is_retryable.
func NewApiError(message, apiName string, statusCode int, retryable bool) *AppError {
	return &AppError{
		Type:       ErrorTypeApi,
		Message:    message,
		APIName:    apiName,
		StatusCode: statusCode,
		Retryable:  retryable,
	}
}

func NewResultValidationError(message, processorName string) *AppError {
	return New(ErrorTypeResultValidation, message).WithDetails(processorName)
}

// The WrapX helpers below attach the originating processor name as error
// Details, matching how spec.md §7 wants phase failures attributed on the
// execution row.

func WrapPrevalidation(cause error, processorName string) *AppError {
	return Wrap(cause, ErrorTypePrevalidation, cause.Error()).WithDetails(processorName)
}

func WrapTransformation(cause error, processorName string) *AppError {
	return Wrap(cause, ErrorTypeTransformation, cause.Error()).WithDetails(processorName)
}

func WrapInputValidation(cause error, processorName string) *AppError {
	return Wrap(cause, ErrorTypeInputValidation, cause.Error()).WithDetails(processorName)
}

func WrapResultValidation(cause error, processorName string) *AppError {
	return Wrap(cause, ErrorTypeResultValidation, cause.Error()).WithDetails(processorName)
}

func NewPersistenceError(operation string, cause error) *AppError {
	return Wrapf(cause, ErrorTypePersistence, "persistence operation failed: %s", operation)
}

func NewConfigurationError(message string) *AppError {
	return New(ErrorTypeConfiguration, message)
}

func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message)
}

func NewDatabaseError(operation string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeDatabase, "database operation failed: %s", operation)
}

func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource))
}

func NewAuthError(message string) *AppError {
	return New(ErrorTypeAuth, message)
}

func NewTimeoutError(operation string) *AppError {
	return New(ErrorTypeTimeout, fmt.Sprintf("operation timed out: %s", operation))
}

// IsType reports whether err is an *AppError of the given type.
func IsType(err error, t ErrorType) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.Type == t
}

// GetType returns the error's type, or ErrorTypeInternal for non-AppErrors.
func GetType(err error) ErrorType {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// Phase maps an error's type to the processor pipeline phase it belongs to,
// per spec.md §4.1. Errors outside the taxonomy map to "unknown".
func Phase(err error) string {
	switch GetType(err) {
	case ErrorTypePrevalidation, ErrorTypeTransformation, ErrorTypeInputValidation:
		return "pre-extraction"
	case ErrorTypeFactorExtraction, ErrorTypeApi, ErrorTypeDataTransformation:
		return "extraction"
	case ErrorTypeResultValidation:
		return "post-extraction"
	default:
		return "unknown"
	}
}

// transientSubstrings are checked against a non-AppError's message when it
// didn't originate in our taxonomy (e.g. a raw network error surfaced by
// the pgx driver or the broker client).
var transientSubstrings = []string{
	"connection", "timeout", "network", "temporarily unavailable",
	"unavailable", "reset by peer", "broken pipe", "i/o timeout",
}

// IsTransient decides the broker ack/nack policy of spec.md §7: transient
// errors (connection/timeout/network/unavailable) should nack (redeliver);
// everything else should ack (drop to audit) to avoid poison-pill loops.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if appErr, ok := err.(*AppError); ok {
		switch appErr.Type {
		case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeDatabase:
			return true
		case ErrorTypeApi:
			return appErr.Retryable
		default:
			return false
		}
	}
	msg := strings.ToLower(err.Error())
	for _, s := range transientSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// ErrorMessages holds the safe, user-facing strings for error types whose
// internal details must not leak (e.g. to an HTTP client).
var ErrorMessages = struct {
	ResourceNotFound       string
	AuthenticationFailed   string
	OperationTimeout       string
	RateLimitExceeded      string
	ConcurrentModification string
}{
	ResourceNotFound:       "The requested resource was not found",
	AuthenticationFailed:   "Authentication failed",
	OperationTimeout:       "The operation timed out",
	RateLimitExceeded:      "Rate limit exceeded, please try again later",
	ConcurrentModification: "The resource was modified concurrently",
}

// SafeErrorMessage returns a message suitable for returning to a caller
// outside the trust boundary (the HTTP trigger surface), never leaking
// internal details for anything but validation errors.
func SafeErrorMessage(err error) string {
	appErr, ok := err.(*AppError)
	if !ok {
		return "An unexpected error occurred"
	}
	switch appErr.Type {
	case ErrorTypeValidation, ErrorTypeInputValidation, ErrorTypeResultValidation,
		ErrorTypePrevalidation, ErrorTypeConfiguration:
		return appErr.Message
	case ErrorTypeNotFound:
		return ErrorMessages.ResourceNotFound
	case ErrorTypeAuth:
		return ErrorMessages.AuthenticationFailed
	case ErrorTypeTimeout:
		return ErrorMessages.OperationTimeout
	case ErrorTypeRateLimit:
		return ErrorMessages.RateLimitExceeded
	case ErrorTypeConflict:
		return ErrorMessages.ConcurrentModification
	default:
		return "An internal error occurred"
	}
}

// LogFields renders structured logging fields for an error, suitable for
// zap.Any("error", ...) style adoption at every workflow stage.
func LogFields(err error) map[string]any {
	fields := map[string]any{"error": err.Error()}

	appErr, ok := err.(*AppError)
	if !ok {
		return fields
	}

	fields["error_type"] = string(appErr.Type)
	if appErr.Details != "" {
		fields["error_details"] = appErr.Details
	}
	if appErr.Cause != nil {
		fields["underlying_error"] = appErr.Cause.Error()
	}
	if appErr.APIName != "" {
		fields["api_name"] = appErr.APIName
	}
	return fields
}

// Chain concatenates non-nil errors with " -> " separators, returning nil
// when no errors are given, and returning the single error unwrapped when
// only one is given.
func Chain(errs ...error) error {
	var nonNil []error
	for _, e := range errs {
		if e != nil {
			nonNil = append(nonNil, e)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	}
	msgs := make([]string, len(nonNil))
	for i, e := range nonNil {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("%s", strings.Join(msgs, " -> "))
}
