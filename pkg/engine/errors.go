package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorClass represents the classification of an error.
type ErrorClass string

const (
	// ErrorClassConfig indicates the run cannot start because the inputs are wrong.
	// Configuration errors are always raised before any resource is applied.
	ErrorClassConfig ErrorClass = "config"

	// ErrorClassApply indicates a resource failed while being converged.
	ErrorClassApply ErrorClass = "apply"

	// ErrorClassPolicy indicates the declaration set was rejected by policy.
	ErrorClassPolicy ErrorClass = "policy"

	// ErrorClassInternal indicates a programming or environment fault.
	ErrorClassInternal ErrorClass = "internal"
)

// Error codes for programmatic handling.
const (
	ErrCodeMissingAttribute   = "MISSING_ATTRIBUTE"
	ErrCodeInterpolationCycle = "INTERPOLATION_CYCLE"
	ErrCodeInvalidAttribute   = "INVALID_ATTRIBUTE"
	ErrCodeInvalidDeclaration = "INVALID_DECLARATION"
	ErrCodeRecipeGraph        = "RECIPE_GRAPH"
	ErrCodeTemplate           = "TEMPLATE"
	ErrCodeResourceApply      = "RESOURCE_APPLY"
	ErrCodeCommandTimeout     = "COMMAND_TIMEOUT"
	ErrCodePolicyDenied       = "POLICY_DENIED"
	ErrCodeProviderMissing    = "PROVIDER_MISSING"
	ErrCodeInvalidTransition  = "INVALID_TRANSITION"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// Sentinels for errors.Is. Matching is by class and code only.
var (
	ErrMissingAttribute   = &EngineError{Class: ErrorClassConfig, Code: ErrCodeMissingAttribute}
	ErrInterpolationCycle = &EngineError{Class: ErrorClassConfig, Code: ErrCodeInterpolationCycle}
	ErrInvalidDeclaration = &EngineError{Class: ErrorClassConfig, Code: ErrCodeInvalidDeclaration}
	ErrRecipeGraph        = &EngineError{Class: ErrorClassConfig, Code: ErrCodeRecipeGraph}
	ErrTemplate           = &EngineError{Class: ErrorClassConfig, Code: ErrCodeTemplate}
	ErrResourceApply      = &EngineError{Class: ErrorClassApply, Code: ErrCodeResourceApply}
	ErrCommandTimeout     = &EngineError{Class: ErrorClassApply, Code: ErrCodeCommandTimeout}
	ErrPolicyDenied       = &EngineError{Class: ErrorClassPolicy, Code: ErrCodePolicyDenied}
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the resource identity that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Class, e.Message))
	switch {
	case e.Resource != "" && e.Operation != "":
		sb.WriteString(fmt.Sprintf(" (resource=%s, operation=%s)", e.Resource, e.Operation))
	case e.Resource != "":
		sb.WriteString(fmt.Sprintf(" (resource=%s)", e.Resource))
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
// A command timeout also satisfies ErrResourceApply.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	if e.Class == t.Class && e.Code == t.Code {
		return true
	}
	return e.Code == ErrCodeCommandTimeout && t.Code == ErrCodeResourceApply
}

// ErrorClass returns the class as a string, for span attributes.
func (e *EngineError) ErrorClass() string {
	return string(e.Class)
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resourceID string) *EngineError {
	e.Resource = resourceID
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewConfigError creates a new configuration error.
func NewConfigError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConfig,
		Message: message,
		Err:     err,
	}
}

// NewApplyError creates a new apply error.
func NewApplyError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassApply,
		Message: message,
		Code:    ErrCodeResourceApply,
		Err:     err,
	}
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassInternal,
		Message: message,
		Code:    ErrCodeInternal,
		Err:     err,
	}
}

// NewMissingAttributeError reports an attribute path that was never set.
// When referencedBy is non-empty the path was reached through interpolation.
func NewMissingAttributeError(path, referencedBy string) *EngineError {
	msg := fmt.Sprintf("attribute %q is not set and has no default", path)
	if referencedBy != "" {
		msg = fmt.Sprintf("attribute %q referenced by %q is not set and has no default", path, referencedBy)
	}
	return NewConfigError(msg, nil).
		WithCode(ErrCodeMissingAttribute).
		WithDetail("path", path)
}

// NewInterpolationCycleError reports a reference loop between attributes.
func NewInterpolationCycleError(cycle []string) *EngineError {
	return NewConfigError(
		fmt.Sprintf("attribute interpolation cycle: %s", formatCycle(cycle)), nil,
	).WithCode(ErrCodeInterpolationCycle).WithDetail("cycle", cycle)
}

// NewCommandTimeoutError reports a post-write or execute command that outlived its budget.
func NewCommandTimeoutError(command string, timeout time.Duration, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassApply,
		Message: fmt.Sprintf("command %q did not finish within %s", command, timeout),
		Code:    ErrCodeCommandTimeout,
		Err:     err,
		Details: map[string]interface{}{"command": command, "timeout": timeout.String()},
	}
}

// NewPolicyDeniedError reports a declaration set rejected before apply.
func NewPolicyDeniedError(violations []string) *EngineError {
	return &EngineError{
		Class:   ErrorClassPolicy,
		Message: fmt.Sprintf("denied by policy: %s", strings.Join(violations, "; ")),
		Code:    ErrCodePolicyDenied,
		Details: map[string]interface{}{"violations": violations},
	}
}

// IsConfig returns true if the error is classified as a configuration error.
func IsConfig(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConfig
	}
	return false
}

// IsApply returns true if the error happened while converging a resource.
func IsApply(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassApply
	}
	return false
}

// IsPolicy returns true if the error is a policy rejection.
func IsPolicy(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPolicy
	}
	return false
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []string) string {
	if len(cycle) == 0 {
		return ""
	}
	return strings.Join(cycle, " -> ")
}
