// Package kerneltest provides a scripted stand-in for a Jupyter Server: the
// kernels REST endpoints plus the websocket channel. Each execute_request is
// answered with the frames a Script returns for it.
package kerneltest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Request is an execute_request as received by the fake server.
type Request struct {
	MsgID   string
	Session string
	Code    string
}

// Frame is one message the fake kernel emits.
type Frame struct {
	MsgType string
	Channel string
	Content map[string]any
	// ParentID overrides the correlation id; empty means the request's msg_id.
	ParentID string
	// Delay is slept before the frame is written.
	Delay time.Duration
	// Hangup closes the connection instead of writing a frame.
	Hangup bool
}

// Script decides how the kernel answers one request.
type Script func(req Request) []Frame

// Busy reports the kernel started working on the request.
func Busy() Frame {
	return Frame{MsgType: "status", Channel: "iopub", Content: map[string]any{"execution_state": "busy"}}
}

// Idle reports the request finished.
func Idle() Frame {
	return Frame{MsgType: "status", Channel: "iopub", Content: map[string]any{"execution_state": "idle"}}
}

// Stdout emits text on the stdout stream.
func Stdout(text string) Frame {
	return Frame{MsgType: "stream", Channel: "iopub", Content: map[string]any{"name": "stdout", "text": text}}
}

// Stderr emits text on the stderr stream.
func Stderr(text string) Frame {
	return Frame{MsgType: "stream", Channel: "iopub", Content: map[string]any{"name": "stderr", "text": text}}
}

// Error emits a raised exception.
func Error(name, value string, traceback ...string) Frame {
	return Frame{MsgType: "error", Channel: "iopub", Content: map[string]any{
		"ename": name, "evalue": value, "traceback": traceback,
	}}
}

// Reply emits the shell execute_reply.
func Reply(status string, count int) Frame {
	return Frame{MsgType: "execute_reply", Channel: "shell", Content: map[string]any{
		"status": status, "execution_count": count,
	}}
}

// Hangup drops the connection.
func Hangup() Frame {
	return Frame{Hangup: true}
}

// Foreign re-tags a frame with another request's correlation id.
func Foreign(f Frame, parentID string) Frame {
	f.ParentID = parentID
	return f
}

// Completed wraps frames in the busy … reply, idle envelope of a normal run.
func Completed(frames ...Frame) []Frame {
	out := []Frame{Busy()}
	out = append(out, frames...)
	status := "ok"
	for _, f := range frames {
		if f.MsgType == "error" {
			status = "error"
		}
	}
	return append(out, Reply(status, 1), Idle())
}

// Option configures a Server.
type Option func(*Server)

// WithToken requires "Authorization: token <token>" on every request.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithCreateStatus makes kernel creation fail with the given status.
func WithCreateStatus(status int) Option {
	return func(s *Server) { s.createStatus = status }
}

// WithDeleteStatus makes kernel deletion answer with the given status.
func WithDeleteStatus(status int) Option {
	return func(s *Server) { s.deleteStatus = status }
}

// WithChannelStatus makes the channel handshake fail with the given status.
func WithChannelStatus(status int) Option {
	return func(s *Server) { s.channelStatus = status }
}

// Server is a running fake Jupyter Server.
type Server struct {
	*httptest.Server

	script       Script
	token        string
	createStatus int
	deleteStatus int

	channelStatus int

	mu       sync.Mutex
	live     map[string]bool
	created  []string
	deleted  []string
	requests []Request
}

// New starts a fake server that answers requests with script. It is shut
// down when the test ends.
func New(t testing.TB, script Script, opts ...Option) *Server {
	t.Helper()

	s := &Server{
		script: script,
		live:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(s.requireToken)
	r.Post("/api/kernels", s.handleCreate)
	r.Delete("/api/kernels/{id}", s.handleDelete)
	r.Get("/api/kernels/{id}/channels", s.handleChannels)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// Created returns the ids of every kernel created so far.
func (s *Server) Created() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.created...)
}

// Deleted returns the ids of every kernel deleted so far.
func (s *Server) Deleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

// Live returns the number of kernels created and not yet deleted.
func (s *Server) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Requests returns every execute_request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("Authorization") != "token "+s.token {
			http.Error(w, `{"message":"Forbidden"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if s.createStatus != 0 {
		http.Error(w, `{"message":"kernel creation refused"}`, s.createStatus)
		return
	}

	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.live[id] = true
	s.created = append(s.created, id)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":              id,
		"name":            body.Name,
		"execution_state": "starting",
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.deleteStatus != 0 {
		w.WriteHeader(s.deleteStatus)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live[id] {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	delete(s.live, id)
	s.deleted = append(s.deleted, id)
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type header struct {
	MsgID    string `json:"msg_id"`
	Session  string `json:"session"`
	Username string `json:"username"`
	MsgType  string `json:"msg_type"`
	Version  string `json:"version"`
}

type envelope struct {
	Header       header         `json:"header"`
	ParentHeader header         `json:"parent_header"`
	Metadata     map[string]any `json:"metadata"`
	Content      map[string]any `json:"content"`
	Channel      string         `json:"channel"`
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.channelStatus != 0 {
		http.Error(w, "channel refused", s.channelStatus)
		return
	}
	s.mu.Lock()
	known := s.live[id]
	s.mu.Unlock()
	if !known {
		http.Error(w, "no such kernel", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var in envelope
		if err := conn.ReadJSON(&in); err != nil {
			return
		}
		if in.Header.MsgType != "execute_request" {
			continue
		}

		code, _ := in.Content["code"].(string)
		req := Request{MsgID: in.Header.MsgID, Session: in.Header.Session, Code: code}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()

		for _, f := range s.script(req) {
			if f.Delay > 0 {
				time.Sleep(f.Delay)
			}
			if f.Hangup {
				return
			}
			parent := in.Header
			if f.ParentID != "" {
				parent.MsgID = f.ParentID
			}
			out := envelope{
				Header: header{
					MsgID:    uuid.NewString(),
					Session:  "kernel-" + id,
					Username: "kernel",
					MsgType:  f.MsgType,
					Version:  "5.3",
				},
				ParentHeader: parent,
				Metadata:     map[string]any{},
				Content:      f.Content,
				Channel:      f.Channel,
			}
			if err := conn.WriteJSON(out); err != nil {
				return
			}
		}
	}
}

// Echo is a Script that prints each request's code back on stdout.
func Echo(req Request) []Frame {
	return Completed(Stdout(fmt.Sprintf("%s\n", req.Code)))
}
