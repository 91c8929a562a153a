// Package apperrors implements the error taxonomy as sentinel kinds with
// wrapping helpers: config, transport, auth, protocol and state errors, plus
// ErrTransportUnavailable for calls refused by an open circuit breaker. The
// kinds only classify errors; callers decide the handling (config errors
// stop startup, transport errors are retried or trip the circuit breaker).
// No caller re-logs in on an auth error, and no caller builds protocol or
// state errors.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Wrap these with fmt.Errorf("...: %w", ErrConfig) or use
// the New* helpers below.
var (
	ErrConfig             = errors.New("config error")
	ErrTransport          = errors.New("transport error")
	ErrAuth               = errors.New("auth error")
	ErrProtocol           = errors.New("protocol error")
	ErrState              = errors.New("state error")
	ErrTransportUnavailable = errors.New("transport unavailable: circuit open")
)

// NewConfig builds a ConfigError with the given message.
func NewConfig(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrConfig)
}

// NewTransport wraps err as a TransportError.
func NewTransport(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

// NewAuth wraps err as an AuthError.
func NewAuth(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrAuth, err)
}

// NewProtocol builds a ProtocolError with the given message.
func NewProtocol(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrProtocol)
}

// NewState builds a StateError with the given message.
func NewState(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrState)
}

// IsConfig, IsTransport, IsAuth, IsProtocol, IsState classify an error.
func IsConfig(err error) bool    { return errors.Is(err, ErrConfig) }
func IsTransport(err error) bool { return errors.Is(err, ErrTransport) }
func IsAuth(err error) bool      { return errors.Is(err, ErrAuth) }
func IsProtocol(err error) bool  { return errors.Is(err, ErrProtocol) }
func IsState(err error) bool     { return errors.Is(err, ErrState) }
