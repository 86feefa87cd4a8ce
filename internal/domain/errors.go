package domain

import (
	"errors"
	"fmt"
)

// Base error types (sentinel errors).
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnsupported  = errors.New("unsupported operation")
	ErrInternal     = errors.New("internal error")
	ErrUnavailable  = errors.New("service unavailable")
	ErrConflict     = errors.New("conflict")
)

// Configuration errors. These are never retried.
var (
	ErrUnknownSourceType    = fmt.Errorf("unknown source type: %w", ErrInvalidInput)
	ErrAlreadyRegistered    = fmt.Errorf("already registered: %w", ErrConflict)
	ErrPlatformNotSupported = fmt.Errorf("platform not supported: %w", ErrUnsupported)
	ErrCapabilityMissing    = fmt.Errorf("required capability missing: %w", ErrUnsupported)
)

// Request and I/O errors.
var (
	ErrMalformedRequest   = fmt.Errorf("malformed request: %w", ErrInvalidInput)
	ErrTileNotFound       = fmt.Errorf("tile: %w", ErrNotFound)
	ErrDatabaseNotFound   = fmt.Errorf("database: %w", ErrNotFound)
	ErrWorkerClosed       = fmt.Errorf("worker closed: %w", ErrUnavailable)
	ErrStorageUnavailable = fmt.Errorf("storage: %w", ErrUnavailable)
)

// MalformedRequestError reports a request that is missing an identifying field.
// It indicates a caller bug rather than bad user input.
type MalformedRequestError struct {
	Operation string // Operation name of the envelope
	Field     string // Missing or invalid field
	Reason    string // Optional detail
}

// Error implements the error interface.
func (e *MalformedRequestError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("malformed %s request: %s: %s", e.Operation, e.Field, e.Reason)
	}
	return fmt.Sprintf("malformed %s request: missing %s", e.Operation, e.Field)
}

// Unwrap returns the underlying error type.
func (e *MalformedRequestError) Unwrap() error {
	return ErrMalformedRequest
}

// ValidationError represents a detailed validation error.
type ValidationError struct {
	Field      string      // Field that failed validation
	Value      interface{} // The invalid value
	Constraint string      // The constraint that was violated
	Message    string      // Human-readable message
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s (value: %v, constraint: %s)",
		e.Field, e.Message, e.Value, e.Constraint)
}

// Unwrap returns the underlying error type.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// StorageError represents an error during storage operations.
type StorageError struct {
	Operation string // Operation that failed (download, list, etc.)
	Key       string // Object key
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage error during %s for %s: %v",
			e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// ProvisionError represents a failure while resolving, provisioning or opening
// a database file.
type ProvisionError struct {
	Location string // Requested database location
	Step     string // resolve-root, locate, provision, open
	Err      error  // Underlying error
}

// Error implements the error interface.
func (e *ProvisionError) Error() string {
	return fmt.Sprintf("database %s: %s: %v", e.Location, e.Step, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// ImportError represents a failure to load an extension manifest.
type ImportError struct {
	URL string // Manifest location
	Err error  // Underlying error
}

// Error implements the error interface.
func (e *ImportError) Error() string {
	return fmt.Sprintf("importing %s: %v", e.URL, e.Err)
}

// Unwrap returns the underlying error.
func (e *ImportError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string // Configuration field
	Message string // Error message
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error type.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidInput
}
