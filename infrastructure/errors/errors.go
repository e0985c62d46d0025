// Package errors provides the structured error taxonomy shared by the
// watchpost engine, from registration-time configuration failures through
// to the runtime dispositions each check-engine error kind receives.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a distinct failure kind in the watchpost taxonomy.
type ErrorCode string

const (
	// Registration-time errors (1xxx). These abort engine startup.
	ErrCodeInvalidCheckConfiguration ErrorCode = "CFG_1001"
	ErrCodeUnknownDatasourceType     ErrorCode = "CFG_1002"
	ErrCodeSchedulingConflict        ErrorCode = "CFG_1003"
	ErrCodeInvalidDuration           ErrorCode = "CFG_1004"
	ErrCodeEmptyTargetEnvironments   ErrorCode = "CFG_1005"

	// Runtime errors (2xxx). These are recovered to an UNKNOWN result.
	ErrCodeDatasourceUnavailable  ErrorCode = "RUN_2001"
	ErrCodeCheckExecutionError    ErrorCode = "RUN_2002"
	ErrCodeHostnameResolutionFail ErrorCode = "RUN_2003"
	ErrCodeExecutorSaturated      ErrorCode = "RUN_2004"
	ErrCodeExecutorShutdown       ErrorCode = "RUN_2005"

	// Storage/cache errors (3xxx). These degrade to a cache miss.
	ErrCodeStorageUnavailable ErrorCode = "STORE_3001"
)

// WatchpostError is a structured error carrying a stable code, a
// human-readable message, optional key/value details, and an optional
// wrapped cause.
type WatchpostError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Err     error
}

// Error implements the error interface.
func (e *WatchpostError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error, if any.
func (e *WatchpostError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a key/value pair of diagnostic context and returns
// the receiver for chaining.
func (e *WatchpostError) WithDetails(key string, value interface{}) *WatchpostError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a WatchpostError with no wrapped cause.
func New(code ErrorCode, message string) *WatchpostError {
	return &WatchpostError{Code: code, Message: message}
}

// Wrap creates a WatchpostError wrapping an existing error.
func Wrap(code ErrorCode, message string, err error) *WatchpostError {
	return &WatchpostError{Code: code, Message: message, Err: err}
}

// Registration-time constructors. These are aggregated into a multi-error
// and raised at startup; the engine never starts if any occurs.

// InvalidCheckConfiguration reports a malformed or unresolvable check
// registration (bad signature plan, unknown parameter type, and so on).
func InvalidCheckConfiguration(checkID, reason string) *WatchpostError {
	return New(ErrCodeInvalidCheckConfiguration, "invalid check configuration").
		WithDetails("check_id", checkID).
		WithDetails("reason", reason)
}

// UnknownDatasourceType reports a signature parameter whose type has no
// matching datasource registration.
func UnknownDatasourceType(checkID, typeName string) *WatchpostError {
	return New(ErrCodeUnknownDatasourceType, "unknown datasource type").
		WithDetails("check_id", checkID).
		WithDetails("type", typeName)
}

// SchedulingConflict reports that no execution environment satisfies the
// intersection of a check's declared scheduling strategies for a target
// environment.
func SchedulingConflict(checkID, targetEnv string, strategies []string) *WatchpostError {
	return New(ErrCodeSchedulingConflict, "conflicting scheduling strategies").
		WithDetails("check_id", checkID).
		WithDetails("target_environment", targetEnv).
		WithDetails("strategies", strategies)
}

// InvalidDuration reports a cache-duration string that does not match the
// `^(\d+)(s|m|h|d)$` grammar.
func InvalidDuration(raw string) *WatchpostError {
	return New(ErrCodeInvalidDuration, "invalid duration string").
		WithDetails("value", raw)
}

// EmptyTargetEnvironments reports a check registered with no target
// environments, which spec §8 requires to be a registration-time error.
func EmptyTargetEnvironments(checkID string) *WatchpostError {
	return New(ErrCodeEmptyTargetEnvironments, "check has no target environments").
		WithDetails("check_id", checkID)
}

// Runtime constructors. These are always recovered to an UNKNOWN result by
// the engine; they never abort a poll.

// DatasourceUnavailable wraps a transient failure signaled by a datasource
// implementation. The cached value is deliberately NOT substituted for this
// — the grace-read policy already covers the unavailability window.
func DatasourceUnavailable(datasourceType string, err error) *WatchpostError {
	return Wrap(ErrCodeDatasourceUnavailable, "datasource unavailable", err).
		WithDetails("datasource_type", datasourceType)
}

// CheckExecutionError wraps an unhandled error thrown by a check body.
func CheckExecutionError(checkID string, err error) *WatchpostError {
	return Wrap(ErrCodeCheckExecutionError, "check execution failed", err).
		WithDetails("check_id", checkID)
}

// HostnameResolutionFailed reports that hostname resolution yielded an
// empty string with coercion disabled.
func HostnameResolutionFailed(checkID, envName string) *WatchpostError {
	return New(ErrCodeHostnameResolutionFail, "hostname resolution produced an empty value").
		WithDetails("check_id", checkID).
		WithDetails("environment", envName)
}

// ExecutorSaturated reports that the executor rejected a submission because
// its backpressure limit was exceeded.
func ExecutorSaturated(key string) *WatchpostError {
	return New(ErrCodeExecutorSaturated, "executor saturated").
		WithDetails("key", key)
}

// ExecutorShutdown reports that the executor rejected a submission because
// it has already been (or is being) shut down — spec §8's "shutdown with
// drain=true then submit" boundary.
func ExecutorShutdown(key string) *WatchpostError {
	return New(ErrCodeExecutorShutdown, "executor is shut down").
		WithDetails("key", key)
}

// StorageUnavailable wraps a back-end I/O failure. Per spec §7 this always
// degrades to a cache miss and is never observed by a check body.
func StorageUnavailable(backend string, err error) *WatchpostError {
	return Wrap(ErrCodeStorageUnavailable, "storage backend unavailable", err).
		WithDetails("backend", backend)
}

// IsWatchpostError reports whether err is, or wraps, a *WatchpostError.
func IsWatchpostError(err error) bool {
	var we *WatchpostError
	return errors.As(err, &we)
}

// AsWatchpostError extracts a *WatchpostError from an error chain, or nil.
func AsWatchpostError(err error) *WatchpostError {
	var we *WatchpostError
	if errors.As(err, &we) {
		return we
	}
	return nil
}

// IsConfigurationError reports whether err is a registration-time error
// that must abort engine startup, as opposed to a runtime error the engine
// recovers into an UNKNOWN result.
func IsConfigurationError(err error) bool {
	we := AsWatchpostError(err)
	if we == nil {
		return false
	}
	switch we.Code {
	case ErrCodeInvalidCheckConfiguration, ErrCodeUnknownDatasourceType,
		ErrCodeSchedulingConflict, ErrCodeInvalidDuration, ErrCodeEmptyTargetEnvironments:
		return true
	default:
		return false
	}
}

// MultiError aggregates multiple registration-time errors raised while
// validating the full set of registered checks, so startup reports every
// problem at once instead of failing on the first.
type MultiError struct {
	Errors []error
}

// Error implements the error interface, joining each constituent message.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}
	msg := fmt.Sprintf("%d configuration errors:", len(m.Errors))
	for _, err := range m.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Unwrap supports errors.Is/As traversal over every constituent error.
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// Add appends a non-nil error to the aggregate.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors reports whether any error has been added.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// AsError returns the MultiError as an error, or nil if it is empty — the
// idiomatic way to return "no startup errors occurred".
func (m *MultiError) AsError() error {
	if !m.HasErrors() {
		return nil
	}
	return m
}
