// Package config loads settings shared by the server and the CLI.
//
// Sources are applied in order, later ones winning: built-in defaults, an
// optional YAML file (with ${VAR} expansion), then PYRUN_* and server
// environment variables. Command-line flags are applied by the binaries on
// top of the result.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sakif/pyrun-jupyter/internal/apperror"
	"github.com/sakif/pyrun-jupyter/internal/executor/jupyter"
	"github.com/sakif/pyrun-jupyter/internal/kernel"
)

type Config struct {
	Jupyter JupyterConfig `yaml:"jupyter"`
	Pool    PoolConfig    `yaml:"pool"`
	Server  ServerConfig  `yaml:"server"`
}

type JupyterConfig struct {
	URL            string        `yaml:"url"`
	Token          string        `yaml:"token"`
	Kernel         string        `yaml:"kernel"`
	Timeout        time.Duration `yaml:"timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type PoolConfig struct {
	Size         int           `yaml:"size"`
	StartTimeout time.Duration `yaml:"start_timeout"`
	StopTimeout  time.Duration `yaml:"stop_timeout"`
}

type ServerConfig struct {
	Port      int    `yaml:"port"`
	DBPath    string `yaml:"db_path"`
	JWTSecret string `yaml:"jwt_secret"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	exec := jupyter.DefaultConfig()
	return &Config{
		Jupyter: JupyterConfig{
			Kernel:         exec.KernelName,
			Timeout:        exec.Timeout,
			RequestTimeout: 30 * time.Second,
		},
		Pool: PoolConfig{
			Size:         exec.PoolSize,
			StartTimeout: exec.StartTimeout,
			StopTimeout:  exec.StopTimeout,
		},
		Server: ServerConfig{
			Port:   8080,
			DBPath: "data/pyrun.db",
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		// Expand environment variables in the YAML
		expanded := os.ExpandEnv(string(data))

		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PYRUN_URL"); v != "" {
		c.Jupyter.URL = v
	}
	if v := os.Getenv("PYRUN_TOKEN"); v != "" {
		c.Jupyter.Token = v
	}
	if v := os.Getenv("PYRUN_KERNEL"); v != "" {
		c.Jupyter.Kernel = v
	}
	if v := os.Getenv("PYRUN_TIMEOUT"); v != "" {
		d, err := ParseTimeout(v)
		if err != nil {
			return apperror.ValidationFailed("PYRUN_TIMEOUT", err.Error())
		}
		c.Jupyter.Timeout = d
	}
	if v := os.Getenv("PYRUN_POOL_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return apperror.ValidationFailed("PYRUN_POOL_SIZE", "must be an integer")
		}
		c.Pool.Size = n
	}
	if v := os.Getenv("PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return apperror.ValidationFailed("PORT", "must be an integer")
		}
		c.Server.Port = n
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.Server.DBPath = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Server.JWTSecret = v
	}
	return nil
}

func (c *Config) validate() error {
	if c.Jupyter.URL != "" && !strings.HasPrefix(c.Jupyter.URL, "http://") && !strings.HasPrefix(c.Jupyter.URL, "https://") {
		return apperror.ValidationFailed("jupyter.url", "must start with http:// or https://")
	}
	if c.Jupyter.Timeout < 0 {
		return apperror.ValidationFailed("jupyter.timeout", "must not be negative")
	}
	if c.Pool.Size < 0 {
		return apperror.ValidationFailed("pool.size", "must not be negative")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return apperror.ValidationFailed("server.port", "must be between 1 and 65535")
	}

	// Apply defaults
	d := Default()
	if c.Jupyter.Kernel == "" {
		c.Jupyter.Kernel = d.Jupyter.Kernel
	}
	if c.Jupyter.Timeout == 0 {
		c.Jupyter.Timeout = d.Jupyter.Timeout
	}
	if c.Jupyter.RequestTimeout == 0 {
		c.Jupyter.RequestTimeout = d.Jupyter.RequestTimeout
	}
	if c.Pool.StartTimeout == 0 {
		c.Pool.StartTimeout = d.Pool.StartTimeout
	}
	if c.Pool.StopTimeout == 0 {
		c.Pool.StopTimeout = d.Pool.StopTimeout
	}
	if c.Server.DBPath == "" {
		c.Server.DBPath = d.Server.DBPath
	}

	return nil
}

// RequireURL fails when no Jupyter server URL was configured.
func (c *Config) RequireURL() error {
	if c.Jupyter.URL == "" {
		return apperror.ValidationFailed("jupyter.url", "is required (set PYRUN_URL or --url)")
	}
	return nil
}

// Kernel returns the transport settings.
func (c *Config) Kernel() kernel.Config {
	return kernel.Config{
		BaseURL:        c.Jupyter.URL,
		Token:          c.Jupyter.Token,
		RequestTimeout: c.Jupyter.RequestTimeout,
	}
}

// Executor returns the execution settings.
func (c *Config) Executor() jupyter.Config {
	return jupyter.Config{
		KernelName:   c.Jupyter.Kernel,
		Timeout:      c.Jupyter.Timeout,
		PoolSize:     c.Pool.Size,
		StartTimeout: c.Pool.StartTimeout,
		StopTimeout:  c.Pool.StopTimeout,
	}
}

// ParseTimeout accepts either a Go duration ("90s", "2m") or a plain number
// of seconds ("60", "0.5").
func ParseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q", s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
