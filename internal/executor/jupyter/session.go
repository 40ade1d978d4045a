// Package jupyter runs code on Jupyter kernels.
//
// A Session owns exactly one kernel and the channel attached to it. Runs on
// a session are strictly sequential; independent sessions share nothing and
// may run in parallel.
//
// Timeouts abandon the local wait only. No interrupt is sent to the kernel,
// so after a timed-out run the kernel may still be executing that code and
// later runs on the same session queue behind it.
package jupyter

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/sakif/pyrun-jupyter/internal/apperror"
	"github.com/sakif/pyrun-jupyter/internal/executor"
	"github.com/sakif/pyrun-jupyter/internal/kernel"
	"github.com/sakif/pyrun-jupyter/internal/params"
)

var (
	// ErrNotStarted is returned by Run before Start has succeeded.
	ErrNotStarted = errors.New("session not started")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("session already started")
	// ErrStopped is returned by operations on a stopped session.
	ErrStopped = errors.New("session stopped")
)

// Session is one kernel plus its channel.
type Session struct {
	client      *kernel.Client
	kernelName  string
	stopTimeout time.Duration
	logger      *slog.Logger

	mu      sync.Mutex // serializes runs and guards the fields below
	kernel  *kernel.Kernel
	channel *kernel.Channel
	broken  error
	stopped bool
}

// NewSession prepares a session; nothing is contacted until Start.
func NewSession(client *kernel.Client, kernelName string, logger *slog.Logger) *Session {
	if kernelName == "" {
		kernelName = DefaultConfig().KernelName
	}
	return &Session{
		client:      client,
		kernelName:  kernelName,
		stopTimeout: DefaultConfig().StopTimeout,
		logger:      logger,
	}
}

// Start creates the kernel and opens its channel. On a channel failure the
// freshly created kernel is deleted before the error is returned.
func (s *Session) Start(ctx context.Context) (*kernel.Kernel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, ErrStopped
	}
	if s.kernel != nil {
		return nil, ErrAlreadyStarted
	}

	k, err := s.client.Create(ctx, s.kernelName)
	if err != nil {
		return nil, err
	}

	ch, err := s.client.OpenChannel(ctx, k.ID)
	if err != nil {
		s.destroy(k)
		return nil, err
	}

	s.kernel = k
	s.channel = ch
	s.logger = s.logger.With(slog.String("kernel_id", k.ID))
	s.logger.Info("session started", slog.String("kernel", k.Name))

	started := *k
	return &started, nil
}

// Kernel returns a copy of the session's kernel, or nil before Start.
func (s *Session) Kernel() *kernel.Kernel {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kernel == nil {
		return nil
	}
	k := *s.kernel
	return &k
}

// Run submits code and waits until the kernel reports the request idle or
// timeout elapses, measured from send time. A non-positive timeout means
// DefaultTimeout.
//
// Exceptions raised by the code come back in the result, not as an error.
// A timeout comes back as a result with Abort == AbortTimeout and a nil
// error. If the channel drops mid-run, Run returns the partial result
// together with an apperror.ErrChannel error and the session is unusable.
// If ctx ends first, Run returns the partial result and ctx.Err().
func (s *Session) Run(ctx context.Context, code string, timeout time.Duration) (*executor.ExecutionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.stopped:
		return nil, ErrStopped
	case s.channel == nil:
		return nil, ErrNotStarted
	case s.broken != nil:
		return nil, apperror.Channel(s.kernel.ID, s.broken)
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	req := kernel.NewExecuteRequest(code)
	c := newCorrelator()
	c.begin(req)

	if err := s.channel.Send(req); err != nil {
		s.broken = err
		return nil, apperror.Channel(s.kernel.ID, err)
	}

	deadline := req.SubmittedAt.Add(timeout)
	var runErr error
	for !c.sealed() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.abort(executor.AbortTimeout)
			break
		}

		msg, err := s.channel.Receive(ctx, remaining)
		switch {
		case err == nil:
			c.consume(msg)
		case errors.Is(err, kernel.ErrReceiveTimeout):
			c.abort(executor.AbortTimeout)
		case errors.Is(err, kernel.ErrChannelClosed):
			c.abort(executor.AbortDisconnected)
			s.broken = err
			runErr = apperror.Channel(s.kernel.ID, err)
		case ctx.Err() != nil:
			c.abort(executor.AbortCanceled)
			runErr = ctx.Err()
		default:
			c.abort(executor.AbortDisconnected)
			s.broken = err
			runErr = apperror.Channel(s.kernel.ID, err)
		}
	}

	res := c.snapshot()
	s.logger.Info("execution finished",
		slog.String("msg_id", req.ID),
		slog.Bool("has_error", res.HasError),
		slog.String("abort", string(res.Abort)),
		slog.Duration("duration", res.Duration),
	)
	if res.Abort == executor.AbortTimeout {
		s.logger.Warn("execution timed out; kernel was not interrupted", slog.Duration("timeout", timeout))
	}
	return res, runErr
}

// RunFile reads the file at path, binds p ahead of its contents and runs it.
// Encoding failures are reported before anything is sent.
func (s *Session) RunFile(ctx context.Context, path string, p params.Params, timeout time.Duration) (*executor.ExecutionResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperror.NotFound("file", path)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	code, err := params.Inject(p, string(data))
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, code, timeout)
}

// Stop closes the channel and deletes the kernel. It never fails, and is
// safe to call more than once or after a failed Start.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true

	if s.channel != nil {
		if err := s.channel.Close(); err != nil {
			s.logger.Warn("failed to close channel", slog.String("error", err.Error()))
		}
	}
	if s.kernel != nil {
		s.destroy(s.kernel)
		s.logger.Info("session stopped")
	}
}

func (s *Session) destroy(k *kernel.Kernel) {
	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()

	s.client.Destroy(ctx, k.ID)
	k.State = kernel.StateTerminated
}

// WithSession starts a session, hands it to fn and stops it on every exit
// path, including a panic in fn.
func WithSession(ctx context.Context, client *kernel.Client, kernelName string, logger *slog.Logger, fn func(*Session) error) error {
	s := NewSession(client, kernelName, logger)
	defer s.Stop()

	if _, err := s.Start(ctx); err != nil {
		return err
	}
	return fn(s)
}
