package kernel_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/pyrun-jupyter/internal/apperror"
	"github.com/sakif/pyrun-jupyter/internal/kernel"
	"github.com/sakif/pyrun-jupyter/internal/kernel/kerneltest"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newClient(t *testing.T, url, token string) *kernel.Client {
	t.Helper()
	c, err := kernel.NewClient(kernel.Config{BaseURL: url, Token: token, RequestTimeout: 5 * time.Second}, newTestLogger())
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{name: "empty", url: ""},
		{name: "no scheme", url: "localhost:8888"},
		{name: "websocket scheme", url: "ws://localhost:8888"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := kernel.NewClient(kernel.Config{BaseURL: tt.url}, newTestLogger())
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperror.ErrValidation))
		})
	}
}

func TestCreateAndDestroy(t *testing.T) {
	srv := kerneltest.New(t, kerneltest.Echo, kerneltest.WithToken("secret"))
	c := newClient(t, srv.URL, "secret")
	ctx := context.Background()

	k, err := c.Create(ctx, "python3")
	require.NoError(t, err)
	assert.NotEmpty(t, k.ID)
	assert.Equal(t, "python3", k.Name)
	assert.Equal(t, kernel.StateActive, k.State)
	assert.Equal(t, 1, srv.Live())

	c.Destroy(ctx, k.ID)
	assert.Equal(t, 0, srv.Live())
	assert.Equal(t, []string{k.ID}, srv.Deleted())

	// A second delete hits a 404 and must stay silent.
	c.Destroy(ctx, k.ID)
}

func TestCreate_Failures(t *testing.T) {
	t.Run("bad credentials", func(t *testing.T) {
		srv := kerneltest.New(t, kerneltest.Echo, kerneltest.WithToken("secret"))
		c := newClient(t, srv.URL, "wrong")

		_, err := c.Create(context.Background(), "python3")
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperror.ErrContextCreation))
		assert.Contains(t, err.Error(), "403")
	})

	t.Run("server refuses", func(t *testing.T) {
		srv := kerneltest.New(t, kerneltest.Echo, kerneltest.WithCreateStatus(http.StatusInternalServerError))
		c := newClient(t, srv.URL, "")

		_, err := c.Create(context.Background(), "python3")
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperror.ErrContextCreation))
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := kerneltest.New(t, kerneltest.Echo)
		url := srv.URL
		srv.Close()
		c := newClient(t, url, "")

		_, err := c.Create(context.Background(), "python3")
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperror.ErrContextCreation))
	})
}

func TestDestroy_ServerErrorIsSwallowed(t *testing.T) {
	srv := kerneltest.New(t, kerneltest.Echo, kerneltest.WithDeleteStatus(http.StatusInternalServerError))
	c := newClient(t, srv.URL, "")

	k, err := c.Create(context.Background(), "python3")
	require.NoError(t, err)

	assert.NotPanics(t, func() { c.Destroy(context.Background(), k.ID) })
}

func TestOpenChannel_SendReceive(t *testing.T) {
	srv := kerneltest.New(t, kerneltest.Echo, kerneltest.WithToken("secret"))
	c := newClient(t, srv.URL, "secret")
	ctx := context.Background()

	k, err := c.Create(ctx, "python3")
	require.NoError(t, err)

	ch, err := c.OpenChannel(ctx, k.ID)
	require.NoError(t, err)
	defer ch.Close()
	assert.Equal(t, k.ID, ch.KernelID())

	req := kernel.NewExecuteRequest("hello")
	require.NoError(t, ch.Send(req))

	var kinds []kernel.Kind
	for {
		msg, err := ch.Receive(ctx, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, req.ID, msg.ParentID)
		kinds = append(kinds, msg.Kind)
		if msg.Kind == kernel.KindStatus && msg.ExecutionState == kernel.ExecutionStateIdle {
			break
		}
	}
	assert.Equal(t, []kernel.Kind{kernel.KindStatus, kernel.KindStream, kernel.KindReply, kernel.KindStatus}, kinds)

	requests := srv.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "hello", requests[0].Code)
	assert.Equal(t, req.ID, requests[0].MsgID)
}

func TestOpenChannel_Rejected(t *testing.T) {
	srv := kerneltest.New(t, kerneltest.Echo)
	c := newClient(t, srv.URL, "")

	_, err := c.OpenChannel(context.Background(), "no-such-kernel")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrChannel))
	assert.Contains(t, err.Error(), "404")
}

func TestReceive_Timeout(t *testing.T) {
	silent := func(kerneltest.Request) []kerneltest.Frame { return nil }
	srv := kerneltest.New(t, silent)
	c := newClient(t, srv.URL, "")
	ctx := context.Background()

	k, err := c.Create(ctx, "python3")
	require.NoError(t, err)
	ch, err := c.OpenChannel(ctx, k.ID)
	require.NoError(t, err)
	defer ch.Close()

	_, err = ch.Receive(ctx, 10*time.Millisecond)
	assert.ErrorIs(t, err, kernel.ErrReceiveTimeout)

	_, err = ch.Receive(ctx, 0)
	assert.ErrorIs(t, err, kernel.ErrReceiveTimeout)
}

func TestReceive_ContextCanceled(t *testing.T) {
	silent := func(kerneltest.Request) []kerneltest.Frame { return nil }
	srv := kerneltest.New(t, silent)
	c := newClient(t, srv.URL, "")

	k, err := c.Create(context.Background(), "python3")
	require.NoError(t, err)
	ch, err := c.OpenChannel(context.Background(), k.ID)
	require.NoError(t, err)
	defer ch.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ch.Receive(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReceive_ServerHangup(t *testing.T) {
	hangup := func(kerneltest.Request) []kerneltest.Frame {
		return []kerneltest.Frame{kerneltest.Busy(), kerneltest.Hangup()}
	}
	srv := kerneltest.New(t, hangup)
	c := newClient(t, srv.URL, "")
	ctx := context.Background()

	k, err := c.Create(ctx, "python3")
	require.NoError(t, err)
	ch, err := c.OpenChannel(ctx, k.ID)
	require.NoError(t, err)
	defer ch.Close()

	require.NoError(t, ch.Send(kernel.NewExecuteRequest("boom")))

	msg, err := ch.Receive(ctx, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, kernel.KindStatus, msg.Kind)

	_, err = ch.Receive(ctx, 2*time.Second)
	assert.ErrorIs(t, err, kernel.ErrChannelClosed)
}

func TestChannelClose_Idempotent(t *testing.T) {
	srv := kerneltest.New(t, kerneltest.Echo)
	c := newClient(t, srv.URL, "")
	ctx := context.Background()

	k, err := c.Create(ctx, "python3")
	require.NoError(t, err)
	ch, err := c.OpenChannel(ctx, k.ID)
	require.NoError(t, err)

	assert.NoError(t, ch.Close())
	assert.NoError(t, ch.Close())
	assert.ErrorIs(t, ch.Send(kernel.NewExecuteRequest("x")), kernel.ErrChannelClosed)

	_, err = ch.Receive(ctx, time.Second)
	assert.ErrorIs(t, err, kernel.ErrChannelClosed)
}
