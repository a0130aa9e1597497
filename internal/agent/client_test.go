// ABOUTME: Tests for the agent tunnel client: request reconstruction,
// ABOUTME: response capture, and a full session against a fake manager.

package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyhook-io/skyhook/internal/tunnel"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExecuteReconstructsRequest(t *testing.T) {
	var seen *http.Request
	var seenBody []byte
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r
		seenBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Request-Cost", "3ms")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"p1"}`))
	})

	c := NewClient("ws://unused", "env-1", "tok", handler, discardLogger())
	resp := c.execute(&tunnel.Message{
		ID:     "req-1",
		Type:   tunnel.MessageTypeRequest,
		Method: http.MethodPost,
		Path:   "/api/projects?notify=1",
		Headers: map[string]string{
			"Content-Type": "application/json",
			"Host":         "tunnel.example.com",
			"X-Custom":     "verbatim",
		},
		Body: []byte(`{"name":"My Project"}`),
	})

	require.NotNil(t, seen)
	assert.Equal(t, http.MethodPost, seen.Method)
	assert.Equal(t, "/api/projects", seen.URL.Path)
	assert.Equal(t, "notify=1", seen.URL.RawQuery)
	assert.Equal(t, `{"name":"My Project"}`, string(seenBody))
	assert.Equal(t, "tunnel.example.com", seen.Host, "Host rides the request line, not the header map")
	assert.Empty(t, seen.Header.Get("Host"))
	assert.Equal(t, "verbatim", seen.Header.Get("X-Custom"))

	assert.Equal(t, "req-1", resp.ID)
	assert.Equal(t, tunnel.MessageTypeResponse, resp.Type)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Empty(t, resp.Error)
	assert.JSONEq(t, `{"id":"p1"}`, string(resp.Body))
	assert.Equal(t, "application/json", resp.Headers["Content-Type"])
	assert.Equal(t, "3ms", resp.Headers["X-Request-Cost"])
}

func TestExecuteHandlerFailureIsNotTunnelError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	c := NewClient("ws://unused", "env-1", "tok", handler, discardLogger())
	resp := c.execute(&tunnel.Message{ID: "req-1", Method: http.MethodGet, Path: "/crash"})

	assert.Equal(t, http.StatusInternalServerError, resp.Status)
	assert.Empty(t, resp.Error, "a handler 5xx is an answer, not a transport failure")
	assert.Contains(t, string(resp.Body), "boom")
}

func TestExecuteUnbuildableRequest(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run for an unbuildable request")
	})

	c := NewClient("ws://unused", "env-1", "tok", handler, discardLogger())
	resp := c.execute(&tunnel.Message{ID: "req-1", Method: "GET", Path: "://bad"})

	assert.Equal(t, "req-1", resp.ID)
	assert.Equal(t, http.StatusBadGateway, resp.Status)
	assert.NotEmpty(t, resp.Error)
}

func TestExecuteDefaultStatus(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("implicit ok"))
	})

	c := NewClient("ws://unused", "env-1", "tok", handler, discardLogger())
	resp := c.execute(&tunnel.Message{ID: "req-1", Method: http.MethodGet, Path: "/"})

	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "implicit ok", string(resp.Body))
}

func TestRecorderFirstStatusWins(t *testing.T) {
	rec := newRecorder()
	rec.WriteHeader(http.StatusTeapot)
	rec.WriteHeader(http.StatusOK)
	rec.Write([]byte("tea"))

	assert.Equal(t, http.StatusTeapot, rec.status)
	assert.Equal(t, "tea", rec.body.String())
}

// fakeManager accepts one agent connection and exposes it as a tunnel.Conn.
type fakeManager struct {
	srv     *httptest.Server
	conns   chan *tunnel.Conn
	headers chan http.Header
}

func newFakeManager(t *testing.T) *fakeManager {
	t.Helper()
	m := &fakeManager{
		conns:   make(chan *tunnel.Conn, 1),
		headers: make(chan http.Header, 1),
	}
	m.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.headers <- r.Header.Clone()
		upgrader := websocket.Upgrader{}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		m.conns <- tunnel.NewConn(ws)
	}))
	t.Cleanup(m.srv.Close)
	return m
}

func (m *fakeManager) wsURL() string {
	return "ws" + strings.TrimPrefix(m.srv.URL, "http")
}

func TestClientSession(t *testing.T) {
	manager := newFakeManager(t)

	var mu sync.Mutex
	var origins []string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		origins = append(origins, r.Header.Get("Origin"))
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"p1"}`))
	})

	c := NewClient(manager.wsURL(), "env-1", "secret-token", handler, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sessionDone := make(chan error, 1)
	go func() { sessionDone <- c.connect(ctx) }()

	hdr := <-manager.headers
	assert.Equal(t, "Bearer secret-token", hdr.Get("Authorization"))
	assert.Equal(t, "env-1", hdr.Get(tunnel.AgentIDHeader))

	conn := <-manager.conns
	defer conn.Close()

	require.NoError(t, conn.Send(&tunnel.Message{
		ID:     "req-1",
		Type:   tunnel.MessageTypeRequest,
		Method: http.MethodPost,
		Path:   "/api/projects",
		Body:   []byte(`{"name":"My Project"}`),
	}))

	resp, err := conn.Receive()
	require.NoError(t, err)
	assert.Equal(t, "req-1", resp.ID)
	assert.Equal(t, tunnel.MessageTypeResponse, resp.Type)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.JSONEq(t, `{"id":"p1"}`, string(resp.Body))

	// A non-request frame is ignored, not fatal.
	require.NoError(t, conn.Send(&tunnel.Message{ID: "stray", Type: tunnel.MessageTypeResponse}))

	require.NoError(t, conn.Send(&tunnel.Message{
		ID:     "req-2",
		Type:   tunnel.MessageTypeRequest,
		Method: http.MethodGet,
		Path:   "/api/projects",
	}))
	resp, err = conn.Receive()
	require.NoError(t, err)
	assert.Equal(t, "req-2", resp.ID)

	// The manager dropping the connection ends the session.
	conn.Close()
	select {
	case err := <-sessionDone:
		require.Error(t, err)
		assert.NotErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end after manager closed the connection")
	}
}

func TestClientSessionEndsOnContextCancel(t *testing.T) {
	manager := newFakeManager(t)
	c := NewClient(manager.wsURL(), "env-1", "tok", http.NotFoundHandler(), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	sessionDone := make(chan error, 1)
	go func() { sessionDone <- c.connect(ctx) }()

	conn := <-manager.conns
	defer conn.Close()
	<-manager.headers

	cancel()
	select {
	case err := <-sessionDone:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end on cancel")
	}
}

func TestClientDialFailure(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1/ws/agent", "env-1", "tok", http.NotFoundHandler(), discardLogger())

	err := c.connect(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
}
