package integration

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	// Registry errors
	ErrAdapterNotFound        = errors.New("integration: adapter not found")
	ErrDuplicateAdapter       = errors.New("integration: adapter already registered in scope")
	ErrAdapterNotConnected    = errors.New("integration: adapter not connected")
	ErrCircuitBreakerOpen     = errors.New("integration: circuit breaker open")
	ErrManagerNotRunning      = errors.New("integration: manager not running")
	ErrSubscriptionNotFound   = errors.New("integration: subscription not found")
	ErrUnsupportedSystemType  = errors.New("integration: unsupported system type")
	ErrNoConstructorForType   = errors.New("integration: no adapter constructor registered for type")
	ErrInvalidConfig          = errors.New("integration: invalid integration config")
	ErrAmbientTenantUnbound   = errors.New("integration: no ambient tenant bound")

	// Pipeline errors
	ErrPipelineNotFound  = errors.New("integration: pipeline not found")
	ErrDuplicatePipeline = errors.New("integration: pipeline already exists")
	ErrPipelineRunning   = errors.New("integration: pipeline already running")
	ErrPipelineStopped   = errors.New("integration: pipeline not running")

	// Transformer errors
	ErrRuleNotFound  = errors.New("integration: transformation rule not found")
	ErrDuplicateRule = errors.New("integration: transformation rule already registered")
)

// ---------------------------------------------------------------------------
// Error classification
// ---------------------------------------------------------------------------

// ErrorKind classifies integration failures
type ErrorKind string

const (
	// ErrorKindConnection indicates a failure to establish or keep a link
	ErrorKindConnection ErrorKind = "connection_error"
	// ErrorKindAuthentication indicates rejected credentials or tokens
	ErrorKindAuthentication ErrorKind = "authentication_error"
	// ErrorKindConfiguration indicates an invalid or incomplete config
	ErrorKindConfiguration ErrorKind = "configuration_error"
	// ErrorKindCommunication indicates a failure while exchanging data
	ErrorKindCommunication ErrorKind = "communication_error"
	// ErrorKindTransformation indicates a format conversion failure
	ErrorKindTransformation ErrorKind = "transformation_error"
	// ErrorKindValidation indicates payload or rule validation failed
	ErrorKindValidation ErrorKind = "validation_error"
	// ErrorKindTimeout indicates an operation exceeded its deadline
	ErrorKindTimeout ErrorKind = "timeout_error"
	// ErrorKindUnknown indicates an unclassified failure
	ErrorKindUnknown ErrorKind = "unknown_error"
)

// IsValid returns true if the error kind is valid
func (k ErrorKind) IsValid() bool {
	switch k {
	case ErrorKindConnection, ErrorKindAuthentication, ErrorKindConfiguration,
		ErrorKindCommunication, ErrorKindTransformation, ErrorKindValidation,
		ErrorKindTimeout, ErrorKindUnknown:
		return true
	default:
		return false
	}
}

// String returns the string representation of ErrorKind
func (k ErrorKind) String() string {
	return string(k)
}

// ---------------------------------------------------------------------------
// IntegrationError
// ---------------------------------------------------------------------------

// IntegrationError is the typed failure attached to health records and
// carried on events. It wraps the original cause for errors.Is/As chains.
type IntegrationError struct {
	Kind          ErrorKind      `json:"kind"`
	Message       string         `json:"message"`
	Cause         error          `json:"-"`
	Timestamp     time.Time      `json:"timestamp"`
	IntegrationID string         `json:"integration_id,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
}

// Error implements the error interface
func (e *IntegrationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the original cause
func (e *IntegrationError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key/value pair to the error context
func (e *IntegrationError) WithContext(key string, value any) *IntegrationError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// NewError creates a typed integration error
func NewError(kind ErrorKind, integrationID, message string, cause error) *IntegrationError {
	if !kind.IsValid() {
		kind = ErrorKindUnknown
	}
	return &IntegrationError{
		Kind:          kind,
		Message:       message,
		Cause:         cause,
		Timestamp:     time.Now(),
		IntegrationID: integrationID,
	}
}

// NewConnectionError creates a connection-kind error
func NewConnectionError(integrationID, message string, cause error) *IntegrationError {
	return NewError(ErrorKindConnection, integrationID, message, cause)
}

// NewConfigurationError creates a configuration-kind error
func NewConfigurationError(integrationID, message string, cause error) *IntegrationError {
	return NewError(ErrorKindConfiguration, integrationID, message, cause)
}

// NewCommunicationError creates a communication-kind error
func NewCommunicationError(integrationID, message string, cause error) *IntegrationError {
	return NewError(ErrorKindCommunication, integrationID, message, cause)
}

// NewTransformationError creates a transformation-kind error
func NewTransformationError(integrationID, message string, cause error) *IntegrationError {
	return NewError(ErrorKindTransformation, integrationID, message, cause)
}

// NewValidationError creates a validation-kind error
func NewValidationError(integrationID, message string, cause error) *IntegrationError {
	return NewError(ErrorKindValidation, integrationID, message, cause)
}

// NewTimeoutError creates a timeout-kind error
func NewTimeoutError(integrationID, message string, cause error) *IntegrationError {
	return NewError(ErrorKindTimeout, integrationID, message, cause)
}

// Classify wraps an arbitrary error into an IntegrationError, inferring the
// kind from well-known error chains. Already-typed errors pass through.
func Classify(integrationID string, err error) *IntegrationError {
	if err == nil {
		return nil
	}

	var ie *IntegrationError
	if errors.As(err, &ie) {
		return ie
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewTimeoutError(integrationID, "operation timed out", err)
	case errors.Is(err, ErrCircuitBreakerOpen):
		return NewConnectionError(integrationID, "circuit breaker open", err)
	case errors.Is(err, ErrInvalidConfig):
		return NewConfigurationError(integrationID, "invalid configuration", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewTimeoutError(integrationID, "network timeout", err)
		}
		return NewConnectionError(integrationID, "network failure", err)
	}

	return NewError(ErrorKindUnknown, integrationID, err.Error(), err)
}
