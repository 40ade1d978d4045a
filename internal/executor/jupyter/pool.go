package jupyter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/pyrun-jupyter/internal/kernel"
)

// Pool keeps a number of started sessions ready so a request does not pay
// for kernel startup. Each session handed out belongs to the caller, who
// must Stop it.
type Pool struct {
	client    *kernel.Client
	config    Config
	logger    *slog.Logger
	sessions  chan *Session
	done      chan struct{}
	wg        sync.WaitGroup
	startDone sync.Once
	stopDone  sync.Once
}

// NewPool initializes a pool; no kernel is started until Start.
func NewPool(client *kernel.Client, cfg Config, logger *slog.Logger) *Pool {
	size := cfg.PoolSize
	if size < 0 {
		size = 0
	}
	return &Pool{
		client:   client,
		config:   cfg,
		logger:   logger,
		sessions: make(chan *Session, size),
		done:     make(chan struct{}),
	}
}

// Start begins filling the pool in the background.
func (p *Pool) Start() {
	if cap(p.sessions) == 0 {
		return
	}
	p.startDone.Do(func() {
		p.logger.Info("starting kernel session pool", slog.Int("poolSize", cap(p.sessions)))
		p.wg.Add(1)
		go p.manager()
	})
}

// Stop shuts down the manager and stops every session still in the pool.
func (p *Pool) Stop() {
	p.stopDone.Do(func() {
		p.logger.Info("shutting down kernel session pool")
		close(p.done)
		p.wg.Wait()

		for {
			select {
			case s := <-p.sessions:
				s.Stop()
			default:
				return
			}
		}
	})
}

// Get returns a started session. With an empty pool configuration it starts
// one on demand; otherwise it blocks until one is ready or ctx ends.
func (p *Pool) Get(ctx context.Context) (*Session, error) {
	if cap(p.sessions) == 0 {
		return p.startSession(ctx)
	}

	select {
	case s := <-p.sessions:
		return s, nil
	case <-p.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// manager keeps the pool at capacity.
func (p *Pool) manager() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		default:
		}

		if len(p.sessions) >= cap(p.sessions) {
			select {
			case <-p.done:
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), p.startTimeout())
		s, err := p.startSession(ctx)
		cancel()
		if err != nil {
			p.logger.Error("failed to start pre-warmed session", slog.String("error", err.Error()))
			select {
			case <-p.done:
				return
			case <-time.After(time.Second):
			}
			continue
		}

		select {
		case p.sessions <- s:
		case <-p.done:
			s.Stop()
			return
		}
	}
}

func (p *Pool) startSession(ctx context.Context) (*Session, error) {
	s := NewSession(p.client, p.config.KernelName, p.logger)
	if p.config.StopTimeout > 0 {
		s.stopTimeout = p.config.StopTimeout
	}
	if _, err := s.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting session: %w", err)
	}
	return s, nil
}

func (p *Pool) startTimeout() time.Duration {
	if p.config.StartTimeout > 0 {
		return p.config.StartTimeout
	}
	return DefaultConfig().StartTimeout
}
