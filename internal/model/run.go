// Package model defines the data structures used throughout the application.
package model

import (
	"time"

	"github.com/sakif/pyrun-jupyter/internal/executor"
	"github.com/sakif/pyrun-jupyter/internal/params"
)

// RunStatus summarizes how an execution ended.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	// RunFailed means the code raised an exception on the kernel.
	RunFailed   RunStatus = "failed"
	RunTimedOut RunStatus = "timed_out"
	// RunAborted means the channel dropped or the caller went away.
	RunAborted RunStatus = "aborted"
)

// Run is one recorded execution: what was submitted and what came back.
//
// The remote exception fields and Abort are never both set. A run that
// timed out or was aborted has empty ErrorName/ErrorMessage even though
// HasError is true.
type Run struct {
	ID         string        `json:"id"`
	Subject    string        `json:"subject,omitempty"` // token subject that submitted the run
	KernelName string        `json:"kernelName"`
	Code       string        `json:"code"`
	Params     params.Params `json:"params,omitempty"`
	Status     RunStatus     `json:"status"`

	Stdout         string               `json:"stdout"`
	Stderr         string               `json:"stderr"`
	HasError       bool                 `json:"hasError"`
	ErrorName      string               `json:"errorName,omitempty"`
	ErrorMessage   string               `json:"errorMessage,omitempty"`
	ErrorTraceback []string             `json:"errorTraceback,omitempty"`
	Abort          executor.AbortReason `json:"abort,omitempty"`
	ExecutionCount int                  `json:"executionCount,omitempty"`
	DurationMS     int64                `json:"durationMs"`
	CreatedAt      time.Time            `json:"createdAt"`
}

// StatusOf classifies an execution result.
func StatusOf(res *executor.ExecutionResult) RunStatus {
	switch {
	case res.Abort == executor.AbortTimeout:
		return RunTimedOut
	case res.Abort != executor.AbortNone:
		return RunAborted
	case res.HasError:
		return RunFailed
	default:
		return RunSucceeded
	}
}

// ApplyResult copies an execution result onto the run.
func (r *Run) ApplyResult(res *executor.ExecutionResult) {
	r.Status = StatusOf(res)
	r.Stdout = res.Stdout
	r.Stderr = res.Stderr
	r.HasError = res.HasError
	r.ErrorName = res.ErrorName
	r.ErrorMessage = res.ErrorMessage
	r.ErrorTraceback = append([]string(nil), res.ErrorTraceback...)
	r.Abort = res.Abort
	r.ExecutionCount = res.ExecutionCount
	r.DurationMS = res.Duration.Milliseconds()
}
