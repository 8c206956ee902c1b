package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeModel represents language model API errors
	ErrorTypeModel ErrorType = "model"
	// ErrorTypeTool represents tool resolution and execution errors
	ErrorTypeTool ErrorType = "tool"
	// ErrorTypeRegistry represents tool registration errors
	ErrorTypeRegistry ErrorType = "registry"
	// ErrorTypeTransport represents inbound/outbound SMS transport errors
	ErrorTypeTransport ErrorType = "transport"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeContext represents context cancellation/timeout errors
	ErrorTypeContext ErrorType = "context"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Model Errors

// ModelFailureKind classifies a failed model API call
type ModelFailureKind string

const (
	// ModelUnavailable covers 5xx responses and transport failures
	ModelUnavailable ModelFailureKind = "model_unavailable"
	// ModelRateLimited covers 429 responses
	ModelRateLimited ModelFailureKind = "model_rate_limited"
	// ModelRejected covers any other 4xx; retrying will not help
	ModelRejected ModelFailureKind = "model_rejected"
)

// ErrModelFailed is returned when the model API cannot produce a response
type ErrModelFailed struct {
	*BaseError
	Kind     ModelFailureKind
	Model    string
	Attempts int
}

// NewModelFailed creates a model failure of the given kind
func NewModelFailed(kind ModelFailureKind, model string, attempts int, err error) *ErrModelFailed {
	msg := fmt.Sprintf("%s (model %s)", kind, model)
	if attempts > 1 {
		msg = fmt.Sprintf("%s after %d attempts", msg, attempts)
	}
	return &ErrModelFailed{
		BaseError: NewBaseError(ErrorTypeModel, msg, err),
		Kind:      kind,
		Model:     model,
		Attempts:  attempts,
	}
}

// Retryable reports whether another attempt could succeed
func (e *ErrModelFailed) Retryable() bool {
	return e.Kind == ModelUnavailable || e.Kind == ModelRateLimited
}

// ErrModelNoResponse is returned when the model returns no choices
var ErrModelNoResponse = NewBaseError(ErrorTypeModel, "no response from model", nil)

// Tool Errors

// ToolFailureKind is the closed set of failures a tool round can produce
type ToolFailureKind string

const (
	ToolNotFound            ToolFailureKind = "not_found"
	ToolInvalidArguments    ToolFailureKind = "invalid_arguments"
	ToolUpstreamUnavailable ToolFailureKind = "upstream_unavailable"
	ToolUpstreamError       ToolFailureKind = "upstream_error"
	ToolTimeout             ToolFailureKind = "timeout"
)

// ErrToolFailed describes a tool call that did not yield a result.
// It is folded back into the conversation, never raised out of the loop.
type ErrToolFailed struct {
	*BaseError
	Kind     ToolFailureKind
	ToolName string
	Detail   string
}

func newToolFailed(kind ToolFailureKind, toolName, detail string, err error) *ErrToolFailed {
	msg := fmt.Sprintf("%s: %s", kind, toolName)
	if detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, detail)
	}
	return &ErrToolFailed{
		BaseError: NewBaseError(ErrorTypeTool, msg, err),
		Kind:      kind,
		ToolName:  toolName,
		Detail:    detail,
	}
}

// NewToolNotFound is returned when a requested tool is not registered
func NewToolNotFound(toolName string) *ErrToolFailed {
	return newToolFailed(ToolNotFound, toolName, "no such tool", nil)
}

// NewToolInvalidArguments is returned when tool arguments are malformed or violate the schema
func NewToolInvalidArguments(toolName, reason string) *ErrToolFailed {
	return newToolFailed(ToolInvalidArguments, toolName, reason, nil)
}

// NewToolUpstreamUnavailable is returned when the integration is unreachable or unconfigured
func NewToolUpstreamUnavailable(toolName string, err error) *ErrToolFailed {
	return newToolFailed(ToolUpstreamUnavailable, toolName, "service unavailable", err)
}

// NewToolUpstreamError is returned when the integration answered with an error
func NewToolUpstreamError(toolName, detail string, err error) *ErrToolFailed {
	return newToolFailed(ToolUpstreamError, toolName, detail, err)
}

// NewToolTimeout is returned when a tool call exceeded its deadline
func NewToolTimeout(toolName string, timeout time.Duration) *ErrToolFailed {
	return newToolFailed(ToolTimeout, toolName, fmt.Sprintf("no answer within %v", timeout), nil)
}

// OutcomeText is the short form shown to the model. Wrapped diagnostics are
// left out; they go to the logs.
func (e *ErrToolFailed) OutcomeText() string {
	if e.Detail == "" {
		return fmt.Sprintf("error: %s", e.Kind)
	}
	return fmt.Sprintf("error: %s: %s", e.Kind, e.Detail)
}

// Registry Errors

// ErrDuplicateTool is returned when a tool name is registered twice
type ErrDuplicateTool struct {
	*BaseError
	ToolName string
}

func NewDuplicateTool(toolName string) *ErrDuplicateTool {
	return &ErrDuplicateTool{
		BaseError: NewBaseError(ErrorTypeRegistry, fmt.Sprintf("tool already registered: %s", toolName), nil),
		ToolName:  toolName,
	}
}

// Transport Errors

// ErrTransportMalformedInput is returned when an inbound webhook cannot be parsed.
// Handlers answer it with a 400.
type ErrTransportMalformedInput struct {
	*BaseError
	Reason string
}

func NewTransportMalformedInput(reason string, err error) *ErrTransportMalformedInput {
	return &ErrTransportMalformedInput{
		BaseError: NewBaseError(ErrorTypeTransport, fmt.Sprintf("malformed inbound message: %s", reason), err),
		Reason:    reason,
	}
}

// ErrTransportSendFailed is returned when the outbound SMS could not be delivered
type ErrTransportSendFailed struct {
	*BaseError
	To string
}

func NewTransportSendFailed(to string, err error) *ErrTransportSendFailed {
	return &ErrTransportSendFailed{
		BaseError: NewBaseError(ErrorTypeTransport, "failed to send reply", err),
		To:        to,
	}
}

// Context Errors

// ErrContextCancelled is returned when context is cancelled
type ErrContextCancelled struct {
	*BaseError
	Operation string
}

func NewContextCancelled(operation string, err error) *ErrContextCancelled {
	return &ErrContextCancelled{
		BaseError: NewBaseError(ErrorTypeContext, fmt.Sprintf("context cancelled: %s", operation), err),
		Operation: operation,
	}
}

// Config Errors

// ErrConfigValidationFailed is returned when configuration validation fails
type ErrConfigValidationFailed struct {
	*BaseError
	Field  string
	Reason string
}

func NewConfigValidationFailed(field, reason string) *ErrConfigValidationFailed {
	return &ErrConfigValidationFailed{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("config validation failed: %s - %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// ErrConfigMissingRequired is returned when a required config value is missing
type ErrConfigMissingRequired struct {
	*BaseError
	Field string
}

func NewConfigMissingRequired(field string) *ErrConfigMissingRequired {
	return &ErrConfigMissingRequired{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("missing required config: %s", field), nil),
		Field:     field,
	}
}

// Helper functions

// IsErrorType checks if err or anything it wraps is a BaseError of errType
func IsErrorType(err error, errType ErrorType) bool {
	for err != nil {
		switch e := err.(type) {
		case *BaseError:
			if e.Type == errType {
				return true
			}
		case interface{ base() *BaseError }:
			if e.base().Type == errType {
				return true
			}
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

func (e *ErrModelFailed) base() *BaseError { return e.BaseError }
func (e *ErrToolFailed) base() *BaseError { return e.BaseError }
func (e *ErrDuplicateTool) base() *BaseError { return e.BaseError }
func (e *ErrTransportMalformedInput) base() *BaseError { return e.BaseError }
func (e *ErrTransportSendFailed) base() *BaseError { return e.BaseError }
func (e *ErrContextCancelled) base() *BaseError { return e.BaseError }
func (e *ErrConfigValidationFailed) base() *BaseError { return e.BaseError }
func (e *ErrConfigMissingRequired) base() *BaseError { return e.BaseError }

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	// Context errors are not retryable
	if IsErrorType(err, ErrorTypeContext) {
		return false
	}
	var modelErr *ErrModelFailed
	if stderrors.As(err, &modelErr) {
		return modelErr.Retryable()
	}
	return false
}

// AsToolFailure extracts the tool failure wrapped in err, if any
func AsToolFailure(err error) (*ErrToolFailed, bool) {
	var toolErr *ErrToolFailed
	if stderrors.As(err, &toolErr) {
		return toolErr, true
	}
	return nil, false
}
