package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeConfig   ErrorType = "config"
	ErrorTypeBuild    ErrorType = "build"
	ErrorTypeNotFound ErrorType = "not_found"
	ErrorTypeConflict ErrorType = "conflict"
	ErrorTypeBridge   ErrorType = "bridge"
	ErrorTypeIO       ErrorType = "io"
	ErrorTypeInternal ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeInvalidPath       = "ERR_INVALID_PATH"
	ErrCodeConfigInvalid     = "ERR_CONFIG_INVALID"
	ErrCodeBuildFailed       = "ERR_BUILD_FAILED"
	ErrCodeModuleNotFound    = "ERR_MODULE_NOT_FOUND"
	ErrCodeUnknownTransition = "ERR_UNKNOWN_TRANSITION"
	ErrCodeRouteConflict     = "ERR_ROUTE_CONFLICT"
	ErrCodeNotFound          = "ERR_NOT_FOUND"
	ErrCodeNegotiation       = "ERR_NEGOTIATION"
	ErrCodeDeliveryFailed    = "ERR_DELIVERY_FAILED"
	ErrCodeEngineClosed      = "ERR_ENGINE_CLOSED"
	ErrCodeWriteFailed       = "ERR_WRITE_FAILED"
	ErrCodeReadFailed        = "ERR_READ_FAILED"
	ErrCodeInternalError     = "ERR_INTERNAL"
	ErrCodeWatchFailed       = "ERR_WATCH_FAILED"
)

// PagepackError is a structured error type with context.
type PagepackError struct {
	Type    ErrorType
	Code    string
	Message string
	Path    string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *PagepackError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Path != "" {
		parts = append(parts, e.Path)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *PagepackError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison on type and code.
func (e *PagepackError) Is(target error) bool {
	var t *PagepackError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *PagepackError) WithContext(key string, value interface{}) *PagepackError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithPath records the file or route path the error concerns.
func (e *PagepackError) WithPath(path string) *PagepackError {
	e.Path = path

	return e
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *PagepackError {
	return &PagepackError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
	}
}

// NewInvalidPathError reports a root or project path that cannot be used.
func NewInvalidPathError(path, reason string) *PagepackError {
	return NewConfigError(ErrCodeInvalidPath, "invalid path: "+reason).WithPath(path)
}

// NewBuildError creates a build error.
func NewBuildError(code, message string, cause error) *PagepackError {
	return &PagepackError{
		Type:    ErrorTypeBuild,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(what string) *PagepackError {
	return &PagepackError{
		Type:    ErrorTypeNotFound,
		Code:    ErrCodeNotFound,
		Message: "not found: " + what,
	}
}

// NewConflictError reports several sources claiming one pathname.
func NewConflictError(pathname string, sources []string) *PagepackError {
	return &PagepackError{
		Type:    ErrorTypeConflict,
		Code:    ErrCodeRouteConflict,
		Message: fmt.Sprintf("conflicting routes at %s: %s", pathname, strings.Join(sources, ", ")),
		Path:    pathname,
	}
}

// NewBridgeError creates an error raised while delivering to an external callback.
func NewBridgeError(code, message string, cause error) *PagepackError {
	return &PagepackError{
		Type:    ErrorTypeBridge,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *PagepackError {
	return &PagepackError{
		Type:    ErrorTypeIO,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *PagepackError {
	return &PagepackError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func hasType(err error, t ErrorType) bool {
	var pe *PagepackError
	if errors.As(err, &pe) {
		return pe.Type == t
	}

	return false
}

// IsConfigError checks if an error is configuration-related.
func IsConfigError(err error) bool { return hasType(err, ErrorTypeConfig) }

// IsBuildError checks if an error is build-related.
func IsBuildError(err error) bool { return hasType(err, ErrorTypeBuild) }

// IsBridgeError checks if an error came from the subscription bridge.
func IsBridgeError(err error) bool { return hasType(err, ErrorTypeBridge) }

// IsNotFound checks if an error is a not-found error.
func IsNotFound(err error) bool { return hasType(err, ErrorTypeNotFound) }

// IsConflict checks if an error reports a route conflict.
func IsConflict(err error) bool { return hasType(err, ErrorTypeConflict) }
