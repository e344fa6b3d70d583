// Package mailerr defines the error taxonomy shared by the dispatch engine:
// fatal configuration errors, per-recipient errors, and classified relay
// transport errors that drive relay health decisions.
package mailerr

import (
	"errors"
	"fmt"
)

// ErrNoAttempts is returned as the underlying cause when a send made zero attempts.
var ErrNoAttempts = errors.New("no relay attempts were made")

// ConfigurationError aborts a whole campaign before any message is sent.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// Configf builds a ConfigurationError from a format string.
func Configf(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// IsConfiguration reports whether err is, or wraps, a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// ValidationError marks a recipient that cannot be sent to.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid recipient: " + e.Reason
	}
	return fmt.Sprintf("invalid recipient %s: %s", e.Field, e.Reason)
}

// RenderError is returned when an attachment could not be generated.
type RenderError struct {
	Err error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("attachment render failed: %v", e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// DispatchExhaustedError reports that every attempted relay failed for one message.
type DispatchExhaustedError struct {
	Attempts int
	Err      error
}

func (e *DispatchExhaustedError) Error() string {
	return fmt.Sprintf("failed to send email after %d attempts: %v", e.Attempts, e.Err)
}

func (e *DispatchExhaustedError) Unwrap() error { return e.Err }
