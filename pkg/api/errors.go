package api

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of a gateway error. The set is closed:
// every failure above the adapter boundary is classified into exactly one
// of these kinds.
type ErrorType string

const (
	// ErrorTypeValidation covers bad input, unknown providers, and missing
	// credentials. Detected before any network call.
	ErrorTypeValidation ErrorType = "validation"

	// ErrorTypeCredential covers credential decryption and format failures.
	ErrorTypeCredential ErrorType = "credential"

	// ErrorTypeRateLimited means the backend signaled throttling.
	ErrorTypeRateLimited ErrorType = "rate_limited"

	// ErrorTypeProviderUnavailable covers backend 5xx and network failures.
	ErrorTypeProviderUnavailable ErrorType = "provider_unavailable"

	// ErrorTypeAborted means the caller cancelled the request.
	ErrorTypeAborted ErrorType = "aborted"

	// ErrorTypeUnknownProvider means the request named a provider the
	// registry does not know.
	ErrorTypeUnknownProvider ErrorType = "unknown_provider"

	// ErrorTypeInternal covers unclassified internal failures.
	ErrorTypeInternal ErrorType = "internal"
)

// Error is the structured error shared across all adapters and layers.
type Error struct {
	Type     ErrorType `json:"type"`
	Provider string    `json:"provider,omitempty"`
	Message  string    `json:"message"`

	// HTTPStatus is the backend status code, when one was observed.
	HTTPStatus int `json:"-"`

	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.Cause }

// ErrorResponse wraps an Error for JSON serialization as the top-level
// error response body.
type ErrorResponse struct {
	Error *Error `json:"error"`
}

// NewValidationError creates an Error for invalid input.
func NewValidationError(message string) *Error {
	return &Error{Type: ErrorTypeValidation, Message: message}
}

// NewCredentialError creates an Error for credential failures.
func NewCredentialError(provider, message string) *Error {
	return &Error{Type: ErrorTypeCredential, Provider: provider, Message: message}
}

// NewRateLimitError creates an Error for backend throttling.
func NewRateLimitError(provider, message string) *Error {
	return &Error{Type: ErrorTypeRateLimited, Provider: provider, Message: message, HTTPStatus: 429}
}

// NewProviderUnavailableError creates an Error for backend or network failures.
func NewProviderUnavailableError(provider, message string) *Error {
	return &Error{Type: ErrorTypeProviderUnavailable, Provider: provider, Message: message}
}

// NewAbortedError creates an Error for caller-initiated cancellation.
func NewAbortedError(provider string) *Error {
	return &Error{Type: ErrorTypeAborted, Provider: provider, Message: "request cancelled"}
}

// NewUnknownProviderError creates an Error for an unregistered provider id.
func NewUnknownProviderError(provider string) *Error {
	return &Error{Type: ErrorTypeUnknownProvider, Provider: provider,
		Message: fmt.Sprintf("unknown provider %q", provider)}
}

// NewInternalError creates an Error for unclassified failures.
func NewInternalError(message string) *Error {
	return &Error{Type: ErrorTypeInternal, Message: message}
}

// AsError extracts an *Error from an error chain. Unclassified errors are
// wrapped as ErrorTypeInternal so callers always see the closed taxonomy.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Type: ErrorTypeInternal, Message: err.Error(), Cause: err}
}

// IsAborted reports whether err classifies as caller-initiated cancellation.
func IsAborted(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == ErrorTypeAborted
}
