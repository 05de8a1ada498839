package core

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCredential is wrapped by ConfigError when a connection
	// descriptor is built without an API key.
	ErrMissingCredential = errors.New("missing credential")

	// ErrClientClosed is wrapped by TransportError when a request is issued
	// through a connection descriptor that has already been closed.
	ErrClientClosed = errors.New("client closed")
)

// ConfigError reports invalid or incomplete configuration detected before any
// remote call is attempted.
type ConfigError struct {
	Field   string // Offending option or config key
	Message string
	Err     error // Optional cause (e.g. ErrMissingCredential)
}

func (e *ConfigError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Field != "" {
		return fmt.Sprintf("config error [%s]: %s", e.Field, msg)
	}
	return fmt.Sprintf("config error: %s", msg)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError creates a ConfigError for the given field.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// TransportError reports a failed, timed out or malformed exchange with the
// remote chat-completion service.
type TransportError struct {
	Provider   string // "openai", "anthropic", "gemini", "ollama", ...
	StatusCode int    // HTTP status if known, 0 otherwise
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s transport error (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s transport error: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError wraps err as a TransportError for provider.
func NewTransportError(provider string, statusCode int, err error) *TransportError {
	return &TransportError{Provider: provider, StatusCode: statusCode, Err: err}
}

// RenderError reports a failure of the output sink.
type RenderError struct {
	Err error
}

func (e *RenderError) Error() string { return fmt.Sprintf("render error: %v", e.Err) }

func (e *RenderError) Unwrap() error { return e.Err }

// IsTransportError reports whether err (or any error it wraps) is a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsConfigError reports whether err (or any error it wraps) is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
