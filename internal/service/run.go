// Package service holds the business rules between the HTTP handlers and the
// executor and repository layers.
//
//	RunHandler (HTTP) → RunService → Executor (Jupyter kernels)
//	                               ↘ RunRepository (SQLite history)
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/pyrun-jupyter/internal/apperror"
	"github.com/sakif/pyrun-jupyter/internal/executor"
	"github.com/sakif/pyrun-jupyter/internal/model"
	"github.com/sakif/pyrun-jupyter/internal/params"
	"github.com/sakif/pyrun-jupyter/internal/repository"
)

const (
	MaxCodeLength    = 100000 // ~100KB of code
	MaxTimeout       = 10 * time.Minute
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// RunService executes code and keeps a history of the outcomes.
type RunService struct {
	exec       executor.Executor
	repo       repository.RunRepository
	kernelName string
	logger     *slog.Logger
}

func NewRunService(exec executor.Executor, repo repository.RunRepository, kernelName string, logger *slog.Logger) *RunService {
	return &RunService{
		exec:       exec,
		repo:       repo,
		kernelName: kernelName,
		logger:     logger,
	}
}

// Execute validates the request, runs it and records the run.
//
// A run whose code raised is recorded and returned with a nil error. If the
// executor returned a partial result together with an error (lost channel,
// caller gone) the partial run is still recorded, and the error is returned
// alongside it.
func (s *RunService) Execute(ctx context.Context, subject, code string, p params.Params, timeout time.Duration) (*model.Run, error) {
	if strings.TrimSpace(code) == "" {
		return nil, apperror.ValidationFailed("code", "code is required")
	}
	if len(code) > MaxCodeLength {
		return nil, apperror.ValidationFailed("code",
			fmt.Sprintf("code must be %d characters or less", MaxCodeLength))
	}
	if timeout < 0 || timeout > MaxTimeout {
		return nil, apperror.ValidationFailed("timeout",
			fmt.Sprintf("timeout must be between 0 and %s", MaxTimeout))
	}
	if s.exec == nil {
		return nil, errors.New("no executor configured")
	}

	res, execErr := s.exec.Execute(ctx, executor.ExecutionRequest{
		Code:    code,
		Params:  p,
		Timeout: timeout,
	})
	if res == nil {
		if execErr == nil {
			execErr = errors.New("executor returned no result")
		}
		s.logger.Error("execution failed", slog.String("error", execErr.Error()))
		return nil, execErr
	}

	run := &model.Run{
		Subject:    subject,
		KernelName: s.kernelName,
		Code:       code,
		Params:     p,
	}
	run.ApplyResult(res)

	// Record with a fresh context so a canceled request still leaves a trace.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.repo.Create(recordCtx, run); err != nil {
		s.logger.Error("failed to record run", slog.String("error", err.Error()))
		return nil, fmt.Errorf("recording run: %w", err)
	}

	s.logger.Info("run recorded",
		slog.String("id", run.ID),
		slog.String("status", string(run.Status)),
		slog.Int64("durationMs", run.DurationMS),
	)

	return run, execErr
}

// GetByID returns a run. With a non-empty subject, runs submitted by anyone
// else are reported as not found.
func (s *RunService) GetByID(ctx context.Context, subject, id string) (*model.Run, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "run ID is required")
	}

	run, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if subject != "" && run.Subject != subject {
		return nil, apperror.NotFound("run", id)
	}
	return run, nil
}

// List returns runs newest first, optionally filtered by status.
func (s *RunService) List(ctx context.Context, subject string, status model.RunStatus, limit, offset int) ([]model.Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	switch status {
	case "", model.RunSucceeded, model.RunFailed, model.RunTimedOut, model.RunAborted:
	default:
		return nil, apperror.ValidationFailed("status", fmt.Sprintf("unknown status %q", status))
	}

	runs, err := s.repo.List(ctx, repository.ListOptions{
		Limit:   limit,
		Offset:  offset,
		Status:  status,
		Subject: subject,
	})
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

// Delete removes a run from the history.
func (s *RunService) Delete(ctx context.Context, subject, id string) error {
	if _, err := s.GetByID(ctx, subject, id); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, strings.TrimSpace(id)); err != nil {
		return err
	}

	s.logger.Info("run deleted", slog.String("id", id))
	return nil
}
