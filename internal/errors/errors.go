// Package errors provides centralized error definitions and error handling utilities
// for the sneaker codebase. It defines the repository error taxonomy, semantic error
// types, error constructors with context wrapping, and error classification helpers.
//
// # Error Types
//
// Repository errors describe the outcome of opening, creating and driving a
// repository session:
//   - ClassifiedError: a failed open/create, tagged NotARepository, AlreadyExists or Other
//   - EngineOperationError: a named operation the storage engine rejected
//   - SessionError: misuse of a session (for example invoking on a closed one)
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - AlreadyExistsError: resource already exists
//   - ValidationError: invalid input or state
//
// # Usage
//
// Branch on the class, never on message text:
//
//	switch errors.ClassOf(err) {
//	case errors.ClassNotARepository:
//	    // offer to create one
//	case errors.ClassAlreadyExists:
//	    // refuse, the directory is left untouched
//	default:
//	    // surface verbatim
//	}
//
// The sentinels work with errors.Is as well:
//
//	if errors.Is(err, errors.ErrNotARepository) { ... }
//
// # Error Classification
//
// Errors can be classified by severity and behavior:
//   - Retryable: transient errors that may succeed on retry
//   - UserFacing: errors safe to display to users (vs internal errors)
//   - Severity: Debug, Info, Warning, Error, Critical
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Repository sentinel errors, one per ClassifiedError class.
var (
	// ErrNotARepository indicates the path exists but is not a valid repository.
	ErrNotARepository = New("not a repository")
	// ErrAlreadyExists indicates a create was refused because the path is populated.
	ErrAlreadyExists = New("path already exists")
	// ErrOther indicates an engine failure unrelated to path validity.
	ErrOther = New("repository engine failure")
)

// Session-related sentinel errors
var (
	// ErrEngineOperationFailed indicates the engine rejected a forwarded operation.
	ErrEngineOperationFailed = New("engine operation failed")
	// ErrSessionClosed indicates an operation on a session that was closed.
	ErrSessionClosed = New("session is closed")
)

// General sentinel errors
var (
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// SneakerError is the base interface for all sneaker errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type SneakerError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	// This is used by errors.Is() for error comparison.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Repository Errors
// -----------------------------------------------------------------------------

// Class is the closed set of outcomes of a failed open or create.
type Class int

const (
	// ClassOther is an engine-level failure unrelated to path validity.
	ClassOther Class = iota
	// ClassNotARepository means the location lacks a valid repository structure.
	ClassNotARepository
	// ClassAlreadyExists means create was asked for a populated path.
	ClassAlreadyExists
)

// String returns the string representation of the class.
func (c Class) String() string {
	switch c {
	case ClassNotARepository:
		return "not_a_repository"
	case ClassAlreadyExists:
		return "already_exists"
	default:
		return "other"
	}
}

// sentinel returns the sentinel error matched by errors.Is for this class.
func (c Class) sentinel() error {
	switch c {
	case ClassNotARepository:
		return ErrNotARepository
	case ClassAlreadyExists:
		return ErrAlreadyExists
	default:
		return ErrOther
	}
}

// ClassifiedError is the tagged result of a failed open or create attempt.
// Callers decide what to do from Class; the cause is kept untouched so the
// engine's own diagnostic survives.
//
// Example:
//
//	err := errors.NewClassifiedError(errors.ClassNotARepository, "open", "/tmp/x", cause)
//	fmt.Println(err) // "open /tmp/x: not a repository: <cause>"
type ClassifiedError struct {
	baseError
	Class Class
	Op    string
	Path  string
}

// NewClassifiedError creates a new ClassifiedError.
func NewClassifiedError(class Class, op, path string, cause error) *ClassifiedError {
	e := &ClassifiedError{
		baseError: baseError{
			message:    class.sentinel().Error(),
			cause:      cause,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		Class: class,
		Op:    op,
		Path:  path,
	}
	if class == ClassOther {
		e.severity = SeverityError
	}
	return e
}

// Message returns the underlying engine message verbatim, or the class
// description when there is no cause.
func (e *ClassifiedError) Message() string {
	if e.cause != nil {
		return e.cause.Error()
	}
	return e.message
}

// Error returns the formatted error message.
func (e *ClassifiedError) Error() string {
	prefix := e.Op
	if e.Path != "" {
		prefix = strings.TrimSpace(fmt.Sprintf("%s %s", e.Op, e.Path))
	}
	if prefix == "" {
		prefix = "repository"
	}
	if e.Class == ClassOther && e.cause != nil {
		return fmt.Sprintf("%s: %v", prefix, e.cause)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ClassifiedError) Is(target error) bool {
	if _, ok := target.(*ClassifiedError); ok {
		return true
	}
	if target == e.Class.sentinel() {
		return true
	}
	return e.baseError.Is(target)
}

// EngineOperationError is returned when the storage engine fails a forwarded
// operation. Error() is the engine's message unchanged.
type EngineOperationError struct {
	baseError
	Operation string
}

// NewEngineOperationError creates a new EngineOperationError.
func NewEngineOperationError(operation string, cause error) *EngineOperationError {
	return &EngineOperationError{
		baseError: baseError{
			message:    ErrEngineOperationFailed.Error(),
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
		Operation: operation,
	}
}

// WithSeverity sets the error severity.
func (e *EngineOperationError) WithSeverity(s Severity) *EngineOperationError {
	e.severity = s
	return e
}

// WithUserFacing sets whether the engine's message is meant for end users.
func (e *EngineOperationError) WithUserFacing(userFacing bool) *EngineOperationError {
	e.userFacing = userFacing
	return e
}

// Error returns the engine's message.
func (e *EngineOperationError) Error() string {
	if e.cause != nil {
		return e.cause.Error()
	}
	return fmt.Sprintf("%s: %s", e.Operation, e.message)
}

// Is checks if this error matches the target.
func (e *EngineOperationError) Is(target error) bool {
	if _, ok := target.(*EngineOperationError); ok {
		return true
	}
	if target == ErrEngineOperationFailed {
		return true
	}
	return e.baseError.Is(target)
}

// SessionError represents misuse of a repository session.
//
// Example:
//
//	err := errors.NewSessionError("invoke log", errors.ErrSessionClosed).WithSessionID("abc123")
//	fmt.Println(err) // "session error [session=abc123]: invoke log: session is closed"
type SessionError struct {
	baseError
	SessionID string
}

// NewSessionError creates a new SessionError.
func NewSessionError(message string, cause error) *SessionError {
	return &SessionError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithSessionID adds a session ID to the error context.
func (e *SessionError) WithSessionID(id string) *SessionError {
	e.SessionID = id
	return e
}

// WithSeverity sets the error severity.
func (e *SessionError) WithSeverity(s Severity) *SessionError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *SessionError) Error() string {
	prefix := "session error"
	if e.SessionID != "" {
		prefix = fmt.Sprintf("session error [session=%s]", e.SessionID)
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *SessionError) Is(target error) bool {
	if _, ok := target.(*SessionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("repository", "/srv/photos")
//	fmt.Println(err) // "repository '/srv/photos' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// AlreadyExistsError represents a resource that already exists.
//
// Example:
//
//	err := errors.NewAlreadyExistsError("session", "photos")
//	fmt.Println(err) // "session 'photos' already exists"
type AlreadyExistsError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewAlreadyExistsError creates a new AlreadyExistsError.
func NewAlreadyExistsError(resourceType, resourceID string) *AlreadyExistsError {
	return &AlreadyExistsError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' already exists", resourceType, resourceID),
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *AlreadyExistsError) WithCause(cause error) *AlreadyExistsError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *AlreadyExistsError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' already exists: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' already exists", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *AlreadyExistsError) Is(target error) bool {
	if _, ok := target.(*AlreadyExistsError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("repository path cannot be empty")
//	err = err.WithField("path").WithValue("")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// ClassOf returns the class of a failed open or create. Errors that are not
// ClassifiedErrors are ClassOther.
func ClassOf(err error) Class {
	var classified *ClassifiedError
	if As(err, &classified) {
		return classified.Class
	}
	return ClassOther
}

// IsUserFacing returns true if the error message is safe to display to end users.
// This checks for:
//   - Errors implementing SneakerError with IsUserFacing() returning true
//   - Semantic errors (NotFoundError, AlreadyExistsError, ValidationError)
//
// Example:
//
//	if errors.IsUserFacing(err) {
//	    displayToUser(err.Error())
//	} else {
//	    displayToUser("An internal error occurred")
//	    log.Error("internal error", "err", err)
//	}
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var sneakerErr SneakerError
	if As(err, &sneakerErr) {
		return sneakerErr.IsUserFacing()
	}

	var notFound *NotFoundError
	var alreadyExists *AlreadyExistsError
	var validation *ValidationError

	return As(err, &notFound) || As(err, &alreadyExists) || As(err, &validation)
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement SneakerError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var sneakerErr SneakerError
	if As(err, &sneakerErr) {
		return sneakerErr.Severity()
	}

	return SeverityError
}

// IsRepositoryError returns true if the error belongs to the repository
// taxonomy (ClassifiedError, EngineOperationError or SessionError).
func IsRepositoryError(err error) bool {
	if err == nil {
		return false
	}

	var classified *ClassifiedError
	var engineErr *EngineOperationError
	var sessionErr *SessionError

	return As(err, &classified) || As(err, &engineErr) || As(err, &sessionErr)
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
// Unlike fmt.Errorf with %w, this preserves the SneakerError interface.
//
// Example:
//
//	err := errors.Wrap(baseErr, "failed to record repository")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
//
// Example:
//
//	err := errors.Wrapf(baseErr, "failed to import %s", dir)
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
