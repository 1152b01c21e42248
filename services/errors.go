package services

import (
	"errors"
	"fmt"

	"github.com/botmesh/model-gateway/models"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeForbidden    ErrorType = "forbidden"
	ErrorTypeNoProvider   ErrorType = "no_provider"
	ErrorTypeTranslation  ErrorType = "translation"
	ErrorTypeInternal     ErrorType = "internal"
	ErrorTypeExternal     ErrorType = "external"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Validation Errors
	ErrInvalidInput      = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrInvalidCapability = NewDomainError(ErrorTypeValidation, "unknown capability", nil)
	ErrInvalidDialect    = NewDomainError(ErrorTypeValidation, "unknown wire dialect", nil)
	ErrEmptyMessages     = NewDomainError(ErrorTypeValidation, "messages cannot be empty", nil)
	ErrStreamUnsupported = NewDomainError(ErrorTypeValidation, "streaming is not supported for this operation", nil)

	// Authorization Errors
	ErrUnauthorized      = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrInvalidServiceKey = NewDomainError(ErrorTypeUnauthorized, "invalid service key", nil)
	ErrServiceKeyExpired = NewDomainError(ErrorTypeUnauthorized, "service key expired", nil)

	// Permission Errors
	ErrForbidden      = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)
	ErrTenantMismatch = NewDomainError(ErrorTypeForbidden, "tenant mismatch", nil)

	// Translation Errors
	ErrTranslationFailed = NewDomainError(ErrorTypeTranslation, "dialect translation failed", nil)

	// Internal Errors
	ErrInternal      = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrDatabaseError = NewDomainError(ErrorTypeInternal, "database error", nil)
	ErrCacheFailed   = NewDomainError(ErrorTypeInternal, "cache operation failed", nil)

	// External Provider Errors
	ErrProviderUnavailable = NewDomainError(ErrorTypeExternal, "provider unavailable", nil)
	ErrProviderTimeout     = NewDomainError(ErrorTypeExternal, "provider timeout", nil)
	ErrCostSourceFailed    = NewDomainError(ErrorTypeExternal, "cost configuration source failed", nil)
)

// NoProviderAvailableError reports that no enabled, healthy provider (with a
// registered adapter) can currently serve a capability. Surfaced to clients
// as a 503-class condition.
type NoProviderAvailableError struct {
	Capability models.Capability
}

// Error implements the error interface
func (e *NoProviderAvailableError) Error() string {
	return fmt.Sprintf("no provider available for capability %q", e.Capability)
}

// NewNoProviderAvailableError creates a NoProviderAvailableError
func NewNoProviderAvailableError(capability models.Capability) *NoProviderAvailableError {
	return &NoProviderAvailableError{Capability: capability}
}

// IsNoProviderAvailable checks if an error is a NoProviderAvailableError
func IsNoProviderAvailable(err error) bool {
	var npa *NoProviderAvailableError
	return errors.As(err, &npa)
}

// Error type checking helper functions

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeValidation
	}
	return false
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeUnauthorized
	}
	return false
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeForbidden
	}
	return false
}

// IsTranslationError checks if an error is a translation error
func IsTranslationError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeTranslation
	}
	return false
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeInternal
	}
	return false
}

// IsExternalError checks if an error is an external provider error
func IsExternalError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeExternal
	}
	return false
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapExternal wraps an error as an external provider error
func WrapExternal(message string, err error) error {
	return NewDomainError(ErrorTypeExternal, message, err)
}
