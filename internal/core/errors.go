// Package core provides core types and interfaces for the gateway.
package core

import (
	"encoding/json"
	"fmt"
	"net/http"
	"unicode/utf8"
)

// ErrorKind discriminates how a failure is reported to the caller.
type ErrorKind string

const (
	// KindValidation means the caller's payload violated the request schema (400).
	KindValidation ErrorKind = "validation"
	// KindPolicy means an access or capability policy denied the request (403 or 400).
	KindPolicy ErrorKind = "policy"
	// KindUnroutable means no provider serves the requested model (400).
	KindUnroutable ErrorKind = "unroutable"
	// KindUpstream is a single failed upstream attempt. It is recovered by failover
	// and never reaches the caller on its own.
	KindUpstream ErrorKind = "upstream"
	// KindUpstreamExhausted means every failover candidate failed (502).
	KindUpstreamExhausted ErrorKind = "upstream_exhausted"
	// KindInternal is anything unexpected (500).
	KindInternal ErrorKind = "internal"
)

// ErrorType is the "type" string written in JSON error bodies.
type ErrorType string

const (
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	ErrorTypePermission     ErrorType = "permission_error"
	ErrorTypeAuthentication ErrorType = "authentication_error"
	ErrorTypeProvider       ErrorType = "provider_error"
	ErrorTypeUpstream       ErrorType = "upstream_error"
	ErrorTypeServer         ErrorType = "server_error"
)

var kindStatus = map[ErrorKind]int{
	KindValidation:        http.StatusBadRequest,
	KindPolicy:            http.StatusForbidden,
	KindUnroutable:        http.StatusBadRequest,
	KindUpstream:          http.StatusBadGateway,
	KindUpstreamExhausted: http.StatusBadGateway,
	KindInternal:          http.StatusInternalServerError,
}

var kindType = map[ErrorKind]ErrorType{
	KindValidation:        ErrorTypeInvalidRequest,
	KindPolicy:            ErrorTypePermission,
	KindUnroutable:        ErrorTypeInvalidRequest,
	KindUpstream:          ErrorTypeProvider,
	KindUpstreamExhausted: ErrorTypeUpstream,
	KindInternal:          ErrorTypeServer,
}

// GatewayError is the base error type for all gateway errors
type GatewayError struct {
	Kind       ErrorKind `json:"kind"`
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	Details    []string  `json:"details,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.ErrorType(), e.Message)
	}
	return fmt.Sprintf("%s: %s", e.ErrorType(), e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// ErrorType returns the wire type, derived from Kind when not set explicitly.
func (e *GatewayError) ErrorType() ErrorType {
	if e.Type != "" {
		return e.Type
	}
	if t, ok := kindType[e.Kind]; ok {
		return t
	}
	return ErrorTypeServer
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *GatewayError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	if status, ok := kindStatus[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ToJSON converts the error to a JSON-compatible map
func (e *GatewayError) ToJSON() map[string]interface{} {
	body := map[string]interface{}{
		"type":    e.ErrorType(),
		"message": e.Message,
	}
	if len(e.Details) > 0 {
		body["details"] = e.Details
	}
	return map[string]interface{}{"error": body}
}

// NewValidationError lists every schema violation found in a request.
func NewValidationError(details []string) *GatewayError {
	return &GatewayError{
		Kind:    KindValidation,
		Message: "request validation failed",
		Details: details,
	}
}

// NewInvalidRequestError creates a validation error for a malformed body that
// could not be inspected field by field.
func NewInvalidRequestError(message string, err error) *GatewayError {
	return &GatewayError{
		Kind:    KindValidation,
		Message: message,
		Err:     err,
	}
}

// NewPolicyError creates a policy denial (403)
func NewPolicyError(reason string) *GatewayError {
	return &GatewayError{
		Kind:    KindPolicy,
		Message: reason,
	}
}

// NewImageUnsupportedError is the policy denial for image content sent to a
// model without vision support. It is a caller mistake, so it maps to 400.
func NewImageUnsupportedError(model string) *GatewayError {
	return &GatewayError{
		Kind:       KindPolicy,
		Type:       ErrorTypeInvalidRequest,
		Message:    fmt.Sprintf("model %s does not support image content", model),
		StatusCode: http.StatusBadRequest,
	}
}

// NewUnroutableError creates an unsupported model error (400)
func NewUnroutableError(model string) *GatewayError {
	return &GatewayError{
		Kind:    KindUnroutable,
		Message: "unsupported model: " + model,
	}
}

// NewUpstreamExhaustedError creates the aggregate failover error (502).
// The per-attempt causes stay in err and the logs.
func NewUpstreamExhaustedError(err error) *GatewayError {
	return &GatewayError{
		Kind:    KindUpstreamExhausted,
		Message: "all providers failed",
		Err:     err,
	}
}

// NewInternalError creates a new internal error (500)
func NewInternalError(message string, err error) *GatewayError {
	return &GatewayError{
		Kind:    KindInternal,
		Message: message,
		Err:     err,
	}
}

// NewAuthenticationError creates a new authentication error (401)
func NewAuthenticationError(message string) *GatewayError {
	return &GatewayError{
		Kind:       KindPolicy,
		Type:       ErrorTypeAuthentication,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

// ParseProviderError parses an error response from a provider into a single
// upstream attempt failure.
func ParseProviderError(provider string, statusCode int, body []byte, originalErr error) *GatewayError {
	var errorResponse struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}

	message := string(body)
	if err := json.Unmarshal(body, &errorResponse); err == nil && errorResponse.Error.Message != "" {
		message = errorResponse.Error.Message
	}
	message = truncateUTF8(message, maxProviderMessage)

	return &GatewayError{
		Kind:       KindUpstream,
		Message:    fmt.Sprintf("upstream returned status %d: %s", statusCode, message),
		StatusCode: statusCode,
		Provider:   provider,
		Err:        originalErr,
	}
}

const maxProviderMessage = 512

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
