// Package apperror defines the error taxonomy shared by every layer.
//
// Local faults (bad input, unreachable kernel server, broken channel) are
// returned as *AppError values wrapping one of the sentinels below, so callers
// classify them with errors.Is regardless of how many times they were wrapped.
// Exceptions raised by remote code are NOT errors: they are captured as data
// in executor.ExecutionResult.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("Validation Error")

	// ErrContextCreation is returned when a kernel could not be created
	// (network failure, rejected credentials, malformed response).
	ErrContextCreation = errors.New("context creation failed")
	// ErrChannel is returned when the duplex channel handshake fails or the
	// channel closes while a run is in flight.
	ErrChannel = errors.New("channel error")
	// ErrParameterEncoding is returned when a parameter cannot be expressed
	// as a literal in the kernel's language.
	ErrParameterEncoding = errors.New("parameter encoding error")
)

type AppError struct {
	Err     error  // sentinel classifying the error
	Cause   error  // optional underlying error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes both the sentinel and the cause to errors.Is / errors.As.
func (e *AppError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// ContextCreation reports a failed kernel creation for the given kernel name.
func ContextCreation(kernelName string, cause error) *AppError {
	return &AppError{
		Err:     ErrContextCreation,
		Cause:   cause,
		Message: fmt.Sprintf("creating %q kernel", kernelName),
	}
}

// Channel reports a failed or lost duplex channel for the given kernel.
func Channel(kernelID string, cause error) *AppError {
	return &AppError{
		Err:     ErrChannel,
		Cause:   cause,
		Message: fmt.Sprintf("kernel %s channel", kernelID),
	}
}

// ParameterEncoding reports a parameter that cannot be bound in the kernel.
func ParameterEncoding(name, message string) *AppError {
	return &AppError{
		Err:     ErrParameterEncoding,
		Message: fmt.Sprintf("parameter %q: %s", name, message),
		Field:   name,
	}
}
