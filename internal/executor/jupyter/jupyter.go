package jupyter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/pyrun-jupyter/internal/executor"
	"github.com/sakif/pyrun-jupyter/internal/kernel"
	"github.com/sakif/pyrun-jupyter/internal/params"
)

// Executor implements the executor.Executor interface on Jupyter kernels.
// Every request gets a fresh kernel, taken from a pool of pre-started ones.
type Executor struct {
	config Config
	logger *slog.Logger
	pool   *Pool
}

var _ executor.Executor = (*Executor)(nil)

// New creates an Executor and starts warming its pool.
func New(client *kernel.Client, cfg Config, logger *slog.Logger) *Executor {
	if cfg.KernelName == "" {
		cfg.KernelName = DefaultConfig().KernelName
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	e := &Executor{
		config: cfg,
		logger: logger,
		pool:   NewPool(client, cfg, logger),
	}
	e.pool.Start()
	return e
}

// Close stops the pool and every idle kernel in it.
func (e *Executor) Close() error {
	e.pool.Stop()
	return nil
}

// Execute binds the request's parameters, runs the code on a fresh kernel and
// deletes that kernel afterwards.
func (e *Executor) Execute(ctx context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	code, err := params.Inject(req.Params, req.Code)
	if err != nil {
		return nil, err
	}

	s, err := e.pool.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get kernel from pool: %w", err)
	}
	// Always release the kernel we acquired
	defer s.Stop()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.config.Timeout
	}

	return s.Run(ctx, code, timeout)
}
