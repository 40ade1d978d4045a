package executor

import (
	"context"
	"time"

	"github.com/sakif/pyrun-jupyter/internal/params"
)

// ExecutionRequest represents a request to execute Python code on a kernel.
type ExecutionRequest struct {
	Code    string        `json:"code"`
	Params  params.Params `json:"params,omitempty"`
	Timeout time.Duration `json:"timeout"`
}

// AbortReason tells why result collection stopped before the kernel
// reported completion. It is never used for exceptions raised by the code.
type AbortReason string

const (
	AbortNone         AbortReason = ""
	AbortTimeout      AbortReason = "timeout"
	AbortDisconnected AbortReason = "disconnected"
	AbortCanceled     AbortReason = "canceled"
)

// ExecutionResult represents the output and status of one execution.
// It is sealed once returned and must not be modified.
type ExecutionResult struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`

	// HasError is set when the code raised or when collection was aborted.
	HasError bool `json:"hasError"`
	// Remote exception details; empty when the run was aborted.
	ErrorName      string   `json:"errorName,omitempty"`
	ErrorMessage   string   `json:"errorMessage,omitempty"`
	ErrorTraceback []string `json:"errorTraceback,omitempty"`

	Abort          AbortReason   `json:"abort,omitempty"`
	ExecutionCount int           `json:"executionCount,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// Success reports whether the code ran to completion without raising.
func (r *ExecutionResult) Success() bool {
	return !r.HasError && r.Abort == AbortNone
}

// TimedOut reports whether the caller stopped waiting at the deadline.
func (r *ExecutionResult) TimedOut() bool {
	return r.Abort == AbortTimeout
}

// ErrorSummary formats the remote exception as "Name: message".
func (r *ExecutionResult) ErrorSummary() string {
	if r.ErrorName == "" {
		return r.ErrorMessage
	}
	if r.ErrorMessage == "" {
		return r.ErrorName
	}
	return r.ErrorName + ": " + r.ErrorMessage
}

// Executor represents the core interface for running code in a remote kernel.
type Executor interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}
