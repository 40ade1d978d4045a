package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sakif/pyrun-jupyter/internal/apperror"
)

var (
	// ErrReceiveTimeout is returned by Receive when no message arrived in time.
	ErrReceiveTimeout = errors.New("kernel: receive timed out")
	// ErrChannelClosed is returned by Receive and Send once the channel is gone.
	ErrChannelClosed = errors.New("kernel: channel closed")
)

const (
	inboxSize    = 256
	writeTimeout = 10 * time.Second
)

// Channel is the persistent duplex connection to one kernel. Frames are read
// by a single goroutine and delivered in arrival order through Receive.
//
// Send and Receive may be called from different goroutines, but the channel
// carries no per-request state: demultiplexing by correlation id is up to
// the caller.
type Channel struct {
	conn     *websocket.Conn
	kernelID string
	session  string
	username string
	logger   *slog.Logger

	writeMu sync.Mutex

	inbox   chan Message
	done    chan struct{}
	readErr error // set by readLoop before inbox is closed

	closeOnce sync.Once
}

// OpenChannel dials the kernel's websocket endpoint. It blocks until the
// handshake completes or fails.
func (c *Client) OpenChannel(ctx context.Context, kernelID string) (*Channel, error) {
	session := uuid.NewString()
	header := http.Header{}
	c.authorize(header)

	conn, resp, err := c.dialer.DialContext(ctx, c.channelURL(kernelID, session), header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("handshake rejected with status %s: %w", resp.Status, err)
		}
		return nil, apperror.Channel(kernelID, err)
	}

	ch := &Channel{
		conn:     conn,
		kernelID: kernelID,
		session:  session,
		username: c.username,
		logger:   c.logger.With(slog.String("kernel_id", kernelID)),
		inbox:    make(chan Message, inboxSize),
		done:     make(chan struct{}),
	}
	go ch.readLoop()

	ch.logger.Debug("channel opened", slog.String("session", session))
	return ch, nil
}

// KernelID returns the id of the kernel this channel is attached to.
func (ch *Channel) KernelID() string {
	return ch.kernelID
}

// Send transmits one execute request. It does not wait for any reply.
func (ch *Channel) Send(req ExecuteRequest) error {
	frame, err := encodeExecuteRequest(req, ch.session, ch.username)
	if err != nil {
		return err
	}

	select {
	case <-ch.done:
		return ErrChannelClosed
	default:
	}

	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()

	if err := ch.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("kernel: setting write deadline: %w", err)
	}
	if err := ch.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("kernel: writing execute request: %w", err)
	}

	ch.logger.Debug("execute request sent", slog.String("msg_id", req.ID))
	return nil
}

// Receive returns the next inbound message. It fails with ErrReceiveTimeout
// when nothing arrives within timeout, with ErrChannelClosed once the
// connection is gone, or with the context's error if ctx ends first.
// A non-positive timeout polls without blocking.
func (ch *Channel) Receive(ctx context.Context, timeout time.Duration) (Message, error) {
	if timeout <= 0 {
		select {
		case msg, ok := <-ch.inbox:
			return ch.deliver(msg, ok)
		default:
			return Message{}, ErrReceiveTimeout
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-ch.inbox:
		return ch.deliver(msg, ok)
	case <-timer.C:
		return Message{}, ErrReceiveTimeout
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (ch *Channel) deliver(msg Message, ok bool) (Message, error) {
	if !ok {
		if ch.readErr != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrChannelClosed, ch.readErr)
		}
		return Message{}, ErrChannelClosed
	}
	return msg, nil
}

// Close sends a close frame and releases the connection. It is idempotent.
func (ch *Channel) Close() error {
	var err error
	ch.closeOnce.Do(func() {
		close(ch.done)

		ch.writeMu.Lock()
		_ = ch.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		ch.writeMu.Unlock()

		err = ch.conn.Close()
		ch.logger.Debug("channel closed")
	})
	return err
}

// readLoop pumps frames into the inbox until the connection fails.
func (ch *Channel) readLoop() {
	defer close(ch.inbox)

	for {
		_, data, err := ch.conn.ReadMessage()
		if err != nil {
			select {
			case <-ch.done:
				// closed by us
			default:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					ch.logger.Info("channel closed by server")
				} else {
					ch.logger.Warn("channel read failed", slog.String("error", err.Error()))
				}
				ch.readErr = err
			}
			return
		}

		msg, err := ParseMessage(data)
		if err != nil {
			ch.logger.Warn("dropping undecodable frame", slog.String("error", err.Error()))
			continue
		}

		select {
		case ch.inbox <- msg:
		case <-ch.done:
			return
		}
	}
}
