// Package errors provides centralized error definitions and error handling
// utilities for wamux. It defines the session lifecycle error taxonomy,
// typed errors carrying the session identity, and classification helpers.
//
// # Error Types
//
// Domain-specific errors:
//   - SessionError: errors from manager operations, tagged with the identity
//   - ClientError: failures of the underlying messaging client
//     (initialization, liveness evaluation, teardown)
//
// Semantic errors:
//   - NotFoundError: operation on an absent identity
//   - AlreadyExistsError: duplicate setup of a registered identity
//   - ValidationError: invalid input such as a malformed identity
//   - TimeoutError: a bounded wait expired
//   - PathTraversalError: a resolved deletion path escapes the sessions root
//
// # Usage
//
//	err := errors.NewClientError("launch failed", errors.ErrInitialization).
//		WithSessionID("alice").
//		WithOperation("initialize")
//
//	if errors.Is(err, errors.ErrInitialization) { ... }
//
//	var nf *errors.NotFoundError
//	if errors.As(err, &nf) { ... }
//
// Timeouts on close and disconnect waits are soft: callers log them and
// proceed. Use IsSoft to tell them apart from failures that must be reported.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions so callers only import this package.
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

// Session-related sentinel errors
var (
	// ErrSessionNotFound indicates that no registry entry exists for the identity.
	ErrSessionNotFound = New("session not found")
	// ErrSessionExists indicates that the identity is already registered.
	ErrSessionExists = New("session already exists")
	// ErrPathTraversal indicates a session path resolved outside the sessions root.
	ErrPathTraversal = New("directory traversal detected")
	// ErrRootLocked indicates another live process manages the sessions root.
	ErrRootLocked = New("sessions root is locked by another process")
)

// Client-related sentinel errors
var (
	// ErrInitialization indicates the client failed to launch or load.
	ErrInitialization = New("client initialization failed")
	// ErrEvaluation indicates the liveness probe failed.
	ErrEvaluation = New("client evaluation failed")
	// ErrTeardown indicates logout or destroy failed.
	ErrTeardown = New("client teardown failed")
	// ErrClientClosed indicates the client's page or process is gone.
	ErrClientClosed = New("client closed")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// WamuxError is the base interface for all typed errors in this package.
type WamuxError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the operation may succeed on retry.
	IsRetryable() bool
}

type baseError struct {
	message   string
	cause     error
	severity  Severity
	retryable bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error { return e.cause }

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) Severity() Severity { return e.severity }
func (e *baseError) IsRetryable() bool  { return e.retryable }

func formatTagged(kind string, tags []string, message string, cause error) string {
	prefix := kind
	if len(tags) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(tags, ", "))
	}
	if cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, message, cause)
	}
	return fmt.Sprintf("%s: %s", prefix, message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// SessionError wraps a manager operation failure with the session identity.
//
//	err := errors.NewSessionError("delete failed", cause).WithSessionID("alice")
//	fmt.Println(err) // "session error [session=alice]: delete failed: <cause>"
type SessionError struct {
	baseError
	SessionID string
}

// NewSessionError creates a new SessionError.
func NewSessionError(message string, cause error) *SessionError {
	return &SessionError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
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

// WithRetryable sets whether the error is retryable.
func (e *SessionError) WithRetryable(r bool) *SessionError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *SessionError) Error() string {
	var tags []string
	if e.SessionID != "" {
		tags = append(tags, "session="+e.SessionID)
	}
	return formatTagged("session error", tags, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *SessionError) Is(target error) bool {
	if _, ok := target.(*SessionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ClientError represents a failure of the underlying messaging client.
// The cause is normally one of ErrInitialization, ErrEvaluation or
// ErrTeardown, optionally joined with the driver error.
type ClientError struct {
	baseError
	SessionID string
	Operation string
}

// NewClientError creates a new ClientError.
func NewClientError(message string, cause error) *ClientError {
	return &ClientError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
		},
	}
}

// WithSessionID adds a session ID to the error context.
func (e *ClientError) WithSessionID(id string) *ClientError {
	e.SessionID = id
	return e
}

// WithOperation records which client operation failed.
func (e *ClientError) WithOperation(op string) *ClientError {
	e.Operation = op
	return e
}

// WithSeverity sets the error severity.
func (e *ClientError) WithSeverity(s Severity) *ClientError {
	e.severity = s
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *ClientError) WithRetryable(r bool) *ClientError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *ClientError) Error() string {
	var tags []string
	if e.SessionID != "" {
		tags = append(tags, "session="+e.SessionID)
	}
	if e.Operation != "" {
		tags = append(tags, "op="+e.Operation)
	}
	return formatTagged("client error", tags, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *ClientError) Is(target error) bool {
	if _, ok := target.(*ClientError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents an operation on an absent session identity.
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:  fmt.Sprintf("%s not found", resourceType),
			severity: SeverityWarning,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.ResourceType, e.ResourceID)
}

// Is matches any *NotFoundError and ErrSessionNotFound for sessions.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return target == ErrSessionNotFound && e.ResourceType == "session"
}

// AlreadyExistsError represents a duplicate setup of a registered identity.
type AlreadyExistsError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewAlreadyExistsError creates a new AlreadyExistsError.
func NewAlreadyExistsError(resourceType, resourceID string) *AlreadyExistsError {
	return &AlreadyExistsError{
		baseError: baseError{
			message:  fmt.Sprintf("%s already exists", resourceType),
			severity: SeverityInfo,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// Error returns the formatted error message.
func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.ResourceType, e.ResourceID)
}

// Is matches any *AlreadyExistsError and ErrSessionExists for sessions.
func (e *AlreadyExistsError) Is(target error) bool {
	if _, ok := target.(*AlreadyExistsError); ok {
		return true
	}
	return target == ErrSessionExists && e.ResourceType == "session"
}

// ValidationError represents invalid caller input.
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:  message,
			cause:    ErrInvalidInput,
			severity: SeverityWarning,
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

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	msg := "validation error"
	if e.Field != "" {
		msg += fmt.Sprintf(" [field=%s]", e.Field)
	}
	msg += ": " + e.message
	if e.Value != nil {
		msg += fmt.Sprintf(" (got: %v)", e.Value)
	}
	return msg
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an expired bounded wait.
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
	soft      bool
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:   fmt.Sprintf("%s timed out after %v", operation, duration),
			cause:     ErrTimeout,
			severity:  SeverityWarning,
			retryable: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// AsSoft marks the timeout as non-fatal: the caller proceeds anyway.
func (e *TimeoutError) AsSoft() *TimeoutError {
	e.soft = true
	e.severity = SeverityInfo
	return e
}

// Soft reports whether the timeout is non-fatal.
func (e *TimeoutError) Soft() bool { return e.soft }

// Error returns the formatted error message.
func (e *TimeoutError) Error() string { return e.message }

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// PathTraversalError is returned when a session directory resolves outside
// the sessions root. Nothing is deleted when it is returned.
type PathTraversalError struct {
	baseError
	SessionID string
	Resolved  string
	Root      string
}

// NewPathTraversalError creates a new PathTraversalError.
func NewPathTraversalError(sessionID, resolved, root string) *PathTraversalError {
	return &PathTraversalError{
		baseError: baseError{
			message:  "invalid path",
			cause:    ErrPathTraversal,
			severity: SeverityCritical,
		},
		SessionID: sessionID,
		Resolved:  resolved,
		Root:      root,
	}
}

// Error returns the formatted error message.
func (e *PathTraversalError) Error() string {
	return fmt.Sprintf("invalid path for session %q: %s escapes %s", e.SessionID, e.Resolved, e.Root)
}

// Is checks if this error matches the target.
func (e *PathTraversalError) Is(target error) bool {
	if _, ok := target.(*PathTraversalError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var we WamuxError
	if errors.As(err, &we) {
		return we.IsRetryable()
	}
	return errors.Is(err, ErrTimeout)
}

// IsSoft returns true for timeouts the caller is expected to log and ignore.
func IsSoft(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te) && te.Soft()
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement WamuxError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var we WamuxError
	if errors.As(err, &we) {
		return we.Severity()
	}
	return SeverityError
}

// Wrapf wraps an error with a formatted context message.
// Returns nil if err is nil.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
