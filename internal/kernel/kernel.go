// Package kernel talks to a Jupyter Server: it creates and deletes kernels
// through the REST API and opens the websocket channel that carries every
// execution request and its replies.
//
// A Client holds no per-kernel state. Each Kernel and Channel it hands out is
// owned by exactly one caller, which is responsible for closing the channel
// and destroying the kernel.
package kernel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sakif/pyrun-jupyter/internal/apperror"
)

// State is the lifecycle state of a remote kernel.
type State int

const (
	StateUninitialized State = iota
	StateActive
	StateTerminated
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateActive:
		return "Active"
	case StateTerminated:
		return "Terminated"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// Kernel identifies a live remote execution context.
type Kernel struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State State  `json:"-"`
}

// Config configures a Client.
type Config struct {
	// BaseURL is the Jupyter Server URL, e.g. http://localhost:8888.
	// A base path (JupyterHub user servers) is preserved.
	BaseURL string
	// Token is sent as "Authorization: token <Token>" when non-empty.
	Token string
	// Username is reported in message headers.
	Username string
	// RequestTimeout bounds each REST call and the websocket handshake.
	RequestTimeout time.Duration
	// HTTPClient overrides the client used for REST calls.
	HTTPClient *http.Client
}

// Client issues lifecycle calls and opens channels against one server.
type Client struct {
	base     *url.URL
	token    string
	username string
	http     *http.Client
	dialer   *websocket.Dialer
	logger   *slog.Logger
}

// NewClient validates the configuration and returns a Client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, apperror.ValidationFailed("url", "server URL is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, apperror.ValidationFailed("url", fmt.Sprintf("invalid server URL: %v", err))
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, apperror.ValidationFailed("url", fmt.Sprintf("server URL must be http or https, got %q", cfg.BaseURL))
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	username := cfg.Username
	if username == "" {
		username = "pyrun-jupyter"
	}

	return &Client{
		base:     base,
		token:    cfg.Token,
		username: username,
		http:     httpClient,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
		},
		logger: logger,
	}, nil
}

// Create starts a kernel of the given kind.
func (c *Client) Create(ctx context.Context, kernelName string) (*Kernel, error) {
	body, err := json.Marshal(map[string]string{"name": kernelName})
	if err != nil {
		return nil, apperror.ContextCreation(kernelName, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.JoinPath("api", "kernels").String(), bytes.NewReader(body))
	if err != nil {
		return nil, apperror.ContextCreation(kernelName, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperror.ContextCreation(kernelName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperror.ContextCreation(kernelName, statusError(resp))
	}

	var k Kernel
	if err := json.NewDecoder(resp.Body).Decode(&k); err != nil {
		return nil, apperror.ContextCreation(kernelName, fmt.Errorf("decoding response: %w", err))
	}
	if k.ID == "" {
		return nil, apperror.ContextCreation(kernelName, errors.New("response carries no kernel id"))
	}
	if k.Name == "" {
		k.Name = kernelName
	}
	k.State = StateActive

	c.logger.Info("kernel created", slog.String("kernel_id", k.ID), slog.String("kernel", k.Name))
	return &k, nil
}

// Destroy deletes a kernel. It is best-effort: failures are logged and
// never returned, so it can run on every exit path.
func (c *Client) Destroy(ctx context.Context, kernelID string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.base.JoinPath("api", "kernels", kernelID).String(), nil)
	if err != nil {
		c.logger.Error("failed to build kernel delete request", slog.String("kernel_id", kernelID), slog.String("error", err.Error()))
		return
	}
	c.authorize(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("failed to delete kernel", slog.String("kernel_id", kernelID), slog.String("error", err.Error()))
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.logger.Warn("kernel already gone", slog.String("kernel_id", kernelID))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		c.logger.Error("failed to delete kernel", slog.String("kernel_id", kernelID), slog.String("error", statusError(resp).Error()))
	default:
		c.logger.Info("kernel deleted", slog.String("kernel_id", kernelID))
	}
}

func (c *Client) authorize(h http.Header) {
	if c.token != "" {
		h.Set("Authorization", "token "+c.token)
	}
}

// channelURL maps the server URL onto the kernel's websocket endpoint.
func (c *Client) channelURL(kernelID, sessionID string) string {
	u := c.base.JoinPath("api", "kernels", kernelID, "channels")
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"session_id": {sessionID}}.Encode()
	return u.String()
}

// statusError summarises a non-success response, including a bounded body excerpt.
func statusError(resp *http.Response) error {
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if len(bytes.TrimSpace(excerpt)) == 0 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return fmt.Errorf("unexpected status %s: %s", resp.Status, bytes.TrimSpace(excerpt))
}
