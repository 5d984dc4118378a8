// Package errors provides structured error handling for netman operations.
// It defines error codes, typed errors for device, database and configuration
// failures, and helpers to inspect them anywhere in a wrapped chain.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeConflict      ErrorCode = "CONFLICT"

	// Device discovery errors.
	CodeInvalidAddress          ErrorCode = "INVALID_ADDRESS"
	CodeNoCredentials           ErrorCode = "NO_CREDENTIALS"
	CodeUnreachable             ErrorCode = "UNREACHABLE"
	CodeClassificationExhausted ErrorCode = "CLASSIFICATION_EXHAUSTED"
	CodeCommandFailed           ErrorCode = "COMMAND_FAILED"
	CodeDuplicateIdentity       ErrorCode = "DUPLICATE_IDENTITY"
	CodeRecentlyUndiscoverable  ErrorCode = "RECENTLY_UNDISCOVERABLE"
	CodeRegistryInvalid         ErrorCode = "REGISTRY_INVALID"

	// Database errors.
	CodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	CodeDatabaseQuery      ErrorCode = "DATABASE_QUERY"
	CodeDatabaseMigration  ErrorCode = "DATABASE_MIGRATION"
	CodeDatabaseTimeout    ErrorCode = "DATABASE_TIMEOUT"

	// Service errors.
	CodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	CodeQueueFull          ErrorCode = "QUEUE_FULL"
)

// DeviceError represents an error raised while discovering or scanning a device.
type DeviceError struct {
	Code      ErrorCode
	Message   string
	IP        string
	Operation string
	Cause     error
	Context   map[string]interface{}
}

// Error implements the error interface.
func (e *DeviceError) Error() string {
	if e.IP != "" {
		return fmt.Sprintf("[%s] %s (ip: %s)", e.Code, e.Message, e.IP)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *DeviceError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *DeviceError) WithContext(key string, value interface{}) *DeviceError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithOperation records the operation that was running when the error occurred.
func (e *DeviceError) WithOperation(operation string) *DeviceError {
	e.Operation = operation
	return e
}

// NewDeviceError creates a new device error for the given address.
func NewDeviceError(code ErrorCode, message, ip string) *DeviceError {
	return &DeviceError{
		Code:    code,
		Message: message,
		IP:      ip,
		Context: make(map[string]interface{}),
	}
}

// WrapDeviceError wraps an existing error as a device error.
func WrapDeviceError(code ErrorCode, message, ip string, err error) *DeviceError {
	return &DeviceError{
		Code:    code,
		Message: message,
		IP:      ip,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// DatabaseError represents database-related errors.
type DatabaseError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Query     string
	Cause     error
	Context   map[string]interface{}
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// WithQuery adds the SQL query that caused the error.
func (e *DatabaseError) WithQuery(query string) *DatabaseError {
	e.Query = query
	return e
}

// NewDatabaseError creates a new database error.
func NewDatabaseError(code ErrorCode, message string) *DatabaseError {
	return &DatabaseError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WrapDatabaseError wraps an existing error as a database error.
func WrapDatabaseError(code ErrorCode, message string, err error) *DatabaseError {
	return &DatabaseError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a new configuration error.
func NewConfigError(code ErrorCode, message string) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
	}
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Utility functions for common error operations

// GetCode extracts the first error code found in the error chain.
func GetCode(err error) ErrorCode {
	var deviceErr *DeviceError
	if stderrors.As(err, &deviceErr) {
		return deviceErr.Code
	}
	var dbErr *DatabaseError
	if stderrors.As(err, &dbErr) {
		return dbErr.Code
	}
	var cfgErr *ConfigError
	if stderrors.As(err, &cfgErr) {
		return cfgErr.Code
	}
	return CodeUnknown
}

// GetMessage returns the message of the first typed error in the chain,
// without its code prefix. Other errors return err.Error().
func GetMessage(err error) string {
	if err == nil {
		return ""
	}
	var deviceErr *DeviceError
	if stderrors.As(err, &deviceErr) {
		return deviceErr.Message
	}
	var dbErr *DatabaseError
	if stderrors.As(err, &dbErr) {
		return dbErr.Message
	}
	var cfgErr *ConfigError
	if stderrors.As(err, &cfgErr) {
		return cfgErr.Message
	}
	return err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	return GetCode(err) == code
}

// IsRetryable determines if an error indicates a retryable condition.
// Unreachable devices are retryable: the next attempt may find them up.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeTimeout, CodeUnreachable, CodeDatabaseTimeout, CodeServiceUnavailable:
		return true
	default:
		return false
	}
}

// IsFatal determines if an error indicates a fatal condition that should stop execution.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodeConfiguration, CodeDatabaseMigration, CodeRegistryInvalid:
		return true
	default:
		return false
	}
}

// Common error creation functions

// ErrInvalidAddress creates an error for a missing or malformed device address.
func ErrInvalidAddress(ip string) *DeviceError {
	return NewDeviceError(CodeInvalidAddress, "Invalid device address", ip)
}

// ErrNoCredentials creates an error for a device without any usable credential.
func ErrNoCredentials(ip string) *DeviceError {
	return NewDeviceError(CodeNoCredentials, "No credentials available for device", ip)
}

// ErrUnreachable creates an error for a device no credential/dialect could reach.
func ErrUnreachable(ip string, err error) *DeviceError {
	return WrapDeviceError(CodeUnreachable, "Unable to establish a session with device", ip, err)
}

// ErrClassificationExhausted creates an error for a device that matched no known type.
func ErrClassificationExhausted(ip string) *DeviceError {
	return NewDeviceError(CodeClassificationExhausted, "Unable to determine device type", ip)
}

// ErrCommandFailed creates an error for a single failed command.
func ErrCommandFailed(ip, command string, err error) *DeviceError {
	return WrapDeviceError(CodeCommandFailed, "Command execution failed", ip, err).
		WithContext("command", command)
}

// ErrDuplicateIdentity creates an error for a discovered device that matches another record.
func ErrDuplicateIdentity(ip, existingIP string) *DeviceError {
	return NewDeviceError(CodeDuplicateIdentity, "Device already exists under another address", ip).
		WithContext("existing_ip", existingIP)
}

// ErrRecentlyUndiscoverable creates an error for an address that failed discovery moments ago.
func ErrRecentlyUndiscoverable(ip string) *DeviceError {
	return NewDeviceError(CodeRecentlyUndiscoverable, "Device was recently undiscoverable", ip)
}

// ErrDatabaseConnection creates an error for database connection failures.
func ErrDatabaseConnection(err error) *DatabaseError {
	return WrapDatabaseError(CodeDatabaseConnection, "Failed to connect to database", err)
}

// ErrDatabaseQuery creates an error for database query failures.
func ErrDatabaseQuery(query string, err error) *DatabaseError {
	return WrapDatabaseError(CodeDatabaseQuery, "Database query failed", err).WithQuery(query)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}

// ErrConfigMissing creates an error for missing required configuration.
func ErrConfigMissing(field string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "Required configuration field missing", field, nil)
}
