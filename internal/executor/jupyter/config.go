package jupyter

import (
	"time"
)

// DefaultTimeout bounds a run when the caller gives no timeout.
const DefaultTimeout = 60 * time.Second

// Config holds the configuration for kernel-backed execution.
type Config struct {
	// KernelName is the kernel spec to start, e.g. "python3".
	KernelName string
	// Timeout is the default deadline for one run, measured from send time.
	Timeout time.Duration
	// PoolSize is the number of pre-started sessions to keep ready.
	// Zero starts a session on demand for every request.
	PoolSize int
	// StartTimeout bounds kernel creation and the channel handshake.
	StartTimeout time.Duration
	// StopTimeout bounds the kernel delete call made on teardown.
	StopTimeout time.Duration
}

// DefaultConfig provides defaults matching a stock Jupyter Server.
func DefaultConfig() Config {
	return Config{
		KernelName:   "python3",
		Timeout:      DefaultTimeout,
		PoolSize:     2,
		StartTimeout: 30 * time.Second,
		StopTimeout:  10 * time.Second,
	}
}
