package kernel

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion is the Jupyter messaging protocol version we speak.
const ProtocolVersion = "5.3"

// Kind classifies an inbound message by its effect on an execution.
type Kind int

const (
	KindUnknown Kind = iota
	KindStatus
	KindStream
	KindError
	KindReply
)

// String returns a string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindStream:
		return "stream"
	case KindError:
		return "error"
	case KindReply:
		return "reply"
	default:
		return "unknown"
	}
}

// Execution states reported by status messages.
const (
	ExecutionStateBusy     = "busy"
	ExecutionStateIdle     = "idle"
	ExecutionStateStarting = "starting"
)

// Stream names reported by stream messages.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// Header is the Jupyter message header, also used as parent_header.
type Header struct {
	MsgID    string `json:"msg_id"`
	Session  string `json:"session"`
	Username string `json:"username"`
	MsgType  string `json:"msg_type"`
	Version  string `json:"version"`
	Date     string `json:"date,omitempty"`
}

// envelope is one websocket frame in the Jupyter Server JSON framing.
type envelope struct {
	Header       Header          `json:"header"`
	ParentHeader Header          `json:"parent_header"`
	Metadata     map[string]any  `json:"metadata"`
	Content      json.RawMessage `json:"content"`
	Channel      string          `json:"channel"`
	Buffers      []any           `json:"buffers"`
}

// ExecuteRequest is one code submission. It is immutable once sent.
type ExecuteRequest struct {
	ID          string
	Code        string
	SubmittedAt time.Time
}

// NewExecuteRequest tags code with a fresh correlation id.
func NewExecuteRequest(code string) ExecuteRequest {
	return ExecuteRequest{
		ID:          uuid.NewString(),
		Code:        code,
		SubmittedAt: time.Now(),
	}
}

type executeContent struct {
	Code            string         `json:"code"`
	Silent          bool           `json:"silent"`
	StoreHistory    bool           `json:"store_history"`
	UserExpressions map[string]any `json:"user_expressions"`
	AllowStdin      bool           `json:"allow_stdin"`
	StopOnError     bool           `json:"stop_on_error"`
}

// encodeExecuteRequest builds the shell-channel execute_request frame.
func encodeExecuteRequest(req ExecuteRequest, session, username string) ([]byte, error) {
	content, err := json.Marshal(executeContent{
		Code:            req.Code,
		StoreHistory:    true,
		UserExpressions: map[string]any{},
		StopOnError:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("kernel: encoding execute content: %w", err)
	}

	frame, err := json.Marshal(envelope{
		Header: Header{
			MsgID:    req.ID,
			Session:  session,
			Username: username,
			MsgType:  "execute_request",
			Version:  ProtocolVersion,
			Date:     req.SubmittedAt.UTC().Format(time.RFC3339Nano),
		},
		Metadata: map[string]any{},
		Content:  content,
		Channel:  "shell",
		Buffers:  []any{},
	})
	if err != nil {
		return nil, fmt.Errorf("kernel: encoding execute request: %w", err)
	}
	return frame, nil
}

// Message is one classified inbound frame.
type Message struct {
	Kind     Kind
	Type     string // raw msg_type
	Channel  string
	ParentID string // correlation id: msg_id of the request this answers

	// Status
	ExecutionState string

	// Stream
	StreamName string
	Text       string

	// Error
	ErrorName  string
	ErrorValue string
	Traceback  []string

	// Reply
	ReplyStatus    string
	ExecutionCount int
}

type statusContent struct {
	ExecutionState string `json:"execution_state"`
}

type streamContent struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

type errorContent struct {
	EName     string   `json:"ename"`
	EValue    string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

type replyContent struct {
	Status         string `json:"status"`
	ExecutionCount int    `json:"execution_count"`
}

// ParseMessage decodes and classifies one inbound frame. Message types that
// carry nothing relevant to execution progress come back as KindUnknown.
func ParseMessage(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("kernel: decoding frame: %w", err)
	}

	msg := Message{
		Type:     env.Header.MsgType,
		Channel:  env.Channel,
		ParentID: env.ParentHeader.MsgID,
	}

	switch env.Header.MsgType {
	case "status":
		var c statusContent
		if err := decodeContent(env, &c); err != nil {
			return Message{}, err
		}
		msg.Kind = KindStatus
		msg.ExecutionState = c.ExecutionState

	case "stream":
		var c streamContent
		if err := decodeContent(env, &c); err != nil {
			return Message{}, err
		}
		msg.Kind = KindStream
		msg.StreamName = c.Name
		msg.Text = c.Text

	case "error":
		var c errorContent
		if err := decodeContent(env, &c); err != nil {
			return Message{}, err
		}
		msg.Kind = KindError
		msg.ErrorName = c.EName
		msg.ErrorValue = c.EValue
		msg.Traceback = c.Traceback

	case "execute_reply":
		var c replyContent
		if err := decodeContent(env, &c); err != nil {
			return Message{}, err
		}
		msg.Kind = KindReply
		msg.ReplyStatus = c.Status
		msg.ExecutionCount = c.ExecutionCount

	default:
		msg.Kind = KindUnknown
	}

	return msg, nil
}

func decodeContent(env envelope, v any) error {
	if len(env.Content) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Content, v); err != nil {
		return fmt.Errorf("kernel: decoding %s content: %w", env.Header.MsgType, err)
	}
	return nil
}
