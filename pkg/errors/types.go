package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorCode tags every error the SDK produces. The set is closed: adapters
// switch on it instead of inspecting type names.
type ErrorCode string

const (
	// Connection layer
	ErrCodeConnectionFailure ErrorCode = "CONNECTION_FAILURE"
	ErrCodeValidationTimeout ErrorCode = "VALIDATION_TIMEOUT"

	// Reporting layer
	ErrCodeReportingDisabled ErrorCode = "REPORTING_DISABLED"
	ErrCodeUnsupportedType   ErrorCode = "UNSUPPORTED_EXCEPTION_TYPE"
	// Set by driver.Handled on failures a driver command already reported.
	ErrCodeDriverHandled ErrorCode = "DRIVER_HANDLED"
	ErrCodeAgentAPI      ErrorCode = "AGENT_API"
	ErrCodeJournal       ErrorCode = "JOURNAL"

	// Configuration errors
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Generic errors
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeInternal     ErrorCode = "INTERNAL"
)

var knownCodes = map[ErrorCode]struct{}{
	ErrCodeConnectionFailure: {},
	ErrCodeValidationTimeout: {},
	ErrCodeReportingDisabled: {},
	ErrCodeUnsupportedType:   {},
	ErrCodeDriverHandled:     {},
	ErrCodeAgentAPI:          {},
	ErrCodeJournal:           {},
	ErrCodeConfigLoad:        {},
	ErrCodeConfigInvalid:     {},
	ErrCodeInvalidInput:      {},
	ErrCodeInternal:          {},
}

// Known reports whether code belongs to the SDK taxonomy.
func Known(code ErrorCode) bool {
	_, ok := knownCodes[code]
	return ok
}

// Error represents a structured steplink error
type Error struct {
	Code        ErrorCode
	Message     string
	Underlying  error
	Context     map[string]any
	Remediation []string
}

// New creates a new structured error
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// Newf is New with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with steplink error context
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:       code,
		Message:    message,
		Underlying: err,
		Context:    make(map[string]any),
	}
}

// WithContext adds context key-value pairs to the error
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRemediation appends actionable remediation tips for the error.
func (e *Error) WithRemediation(tips ...string) *Error {
	if len(tips) == 0 {
		return e
	}
	e.Remediation = append(e.Remediation, tips...)
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "[%s] %s", e.Code, e.Message)

	// Context keys are sorted so messages are stable in logs and tests.
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s: %v", k, e.Context[k])
		}
		sb.WriteString("}")
	}

	if e.Underlying != nil {
		fmt.Fprintf(&sb, ": %v", e.Underlying)
	}

	if len(e.Remediation) > 0 {
		sb.WriteString(" (hint: ")
		sb.WriteString(strings.Join(e.Remediation, "; "))
		sb.WriteString(")")
	}

	return sb.String()
}

// Unwrap returns the underlying error for errors.Is/As
func (e *Error) Unwrap() error {
	return e.Underlying
}

// As finds the first steplink error in err's chain.
func As(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stderrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the code of the first steplink error in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	e, ok := As(err)
	if !ok {
		return "", false
	}
	return e.Code, true
}

// IsCode checks if an error has a specific error code
func IsCode(err error, code ErrorCode) bool {
	got, ok := CodeOf(err)
	return ok && got == code
}

// GetCode extracts the error code from an error, falling back to INTERNAL
// for foreign errors.
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if code, ok := CodeOf(err); ok {
		return code
	}
	return ErrCodeInternal
}
