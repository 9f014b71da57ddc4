package errors

import (
	"fmt"
	"time"
)

// Error types for staleguard
type ErrorType string

const (
	ErrorTypeSearch    ErrorType = "search"
	ErrorTypeIndex     ErrorType = "index"
	ErrorTypeTransport ErrorType = "transport"
	ErrorTypeConfig    ErrorType = "config"
	ErrorTypeInternal  ErrorType = "internal"
)

// SearchError wraps a failed search with the query that produced it
type SearchError struct {
	Type       ErrorType
	Query      string
	Underlying error
	Timestamp  time.Time
}

// NewSearchError creates a new search error
func NewSearchError(query string, err error) *SearchError {
	return &SearchError{
		Type:       ErrorTypeSearch,
		Query:      query,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *SearchError) Error() string {
	return fmt.Sprintf("search failed for query %q: %v", e.Query, e.Underlying)
}

// Unwrap returns the underlying error
func (e *SearchError) Unwrap() error {
	return e.Underlying
}

// IndexError is a failure to ingest or remove a document
type IndexError struct {
	Type        ErrorType
	DocumentID  string
	Operation   string
	Underlying  error
	Timestamp   time.Time
	Recoverable bool
}

// NewIndexError creates a new index error with context
func NewIndexError(op string, err error) *IndexError {
	return &IndexError{
		Type:       ErrorTypeIndex,
		Operation:  op,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// WithDocument adds the document ID to the error
func (e *IndexError) WithDocument(id string) *IndexError {
	e.DocumentID = id
	return e
}

// WithRecoverable marks the error as recoverable
func (e *IndexError) WithRecoverable(recoverable bool) *IndexError {
	e.Recoverable = recoverable
	return e
}

// Error implements the error interface
func (e *IndexError) Error() string {
	if e.DocumentID != "" {
		return fmt.Sprintf("%s %s failed for %s: %v", e.Type, e.Operation, e.DocumentID, e.Underlying)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Type, e.Operation, e.Underlying)
}

// Unwrap returns the underlying error for errors.Is/As
func (e *IndexError) Unwrap() error {
	return e.Underlying
}

// IsRecoverable checks if the error can be retried
func (e *IndexError) IsRecoverable() bool {
	return e.Recoverable
}

// TransportError is a failure talking to the index server
type TransportError struct {
	Type       ErrorType
	Operation  string
	Endpoint   string
	Underlying error
	Timestamp  time.Time
}

// NewTransportError creates a new transport error
func NewTransportError(op, endpoint string, err error) *TransportError {
	return &TransportError{
		Type:       ErrorTypeTransport,
		Operation:  op,
		Endpoint:   endpoint,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Operation, e.Endpoint, e.Underlying)
}

// Unwrap returns the underlying error
func (e *TransportError) Unwrap() error {
	return e.Underlying
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field      string
	Value      string
	Underlying error
	Timestamp  time.Time
}

// NewConfigError creates a new config error
func NewConfigError(field, value string, err error) *ConfigError {
	return &ConfigError{
		Field:      field,
		Value:      value,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("config error for field %s: %v", e.Field, e.Underlying)
	}
	return fmt.Sprintf("config error for field %s (value %s): %v", e.Field, e.Value, e.Underlying)
}

// Unwrap returns the underlying error
func (e *ConfigError) Unwrap() error {
	return e.Underlying
}

// MultiError represents multiple errors
type MultiError struct {
	Errors []error
}

// NewMultiError creates a new multi-error, dropping nils
func NewMultiError(errs []error) *MultiError {
	filtered := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	return &MultiError{Errors: filtered}
}

// ErrorOrNil returns nil when no errors were collected
func (e *MultiError) ErrorOrNil() error {
	if e == nil || len(e.Errors) == 0 {
		return nil
	}
	return e
}

// Error implements the error interface
func (e *MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors: %v", len(e.Errors), e.Errors)
}

// Unwrap returns all errors
func (e *MultiError) Unwrap() []error {
	return e.Errors
}
