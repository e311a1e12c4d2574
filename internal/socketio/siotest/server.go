// Package siotest provides an in-process Socket.IO server for tests.
package siotest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const waitTimeout = 2 * time.Second

// Server accepts Engine.IO websocket connections and completes the
// namespace handshake for Namespace.
type Server struct {
	*httptest.Server

	Namespace string

	// PingInterval and PingTimeout are advertised in the open packet.
	PingInterval time.Duration
	PingTimeout  time.Duration

	mu         sync.Mutex
	rejectWith string
	stall      bool

	conns   chan *Conn
	queries chan url.Values
}

// NewServer starts a server joined to namespace. It is closed on test
// cleanup.
func NewServer(t *testing.T, namespace string) *Server {
	t.Helper()
	s := &Server{
		Namespace:    namespace,
		PingInterval: 25 * time.Second,
		PingTimeout:  20 * time.Second,
		conns:        make(chan *Conn, 8),
		queries:      make(chan url.Values, 8),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Reject makes subsequent namespace connects fail with message.
func (s *Server) Reject(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectWith = message
}

// Stall makes subsequent connections upgrade and then never send the
// Engine.IO open packet.
func (s *Server) Stall() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stall = true
}

// WSURL returns the server address with a ws scheme.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	select {
	case s.queries <- r.URL.Query():
	default:
	}

	s.mu.Lock()
	stall := s.stall
	s.mu.Unlock()
	if stall {
		// Wait for the client to give up.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				ws.Close()
				return
			}
		}
	}

	open, _ := json.Marshal(map[string]any{
		"sid":          "engine-sid",
		"upgrades":     []string{},
		"pingInterval": s.PingInterval.Milliseconds(),
		"pingTimeout":  s.PingTimeout.Milliseconds(),
		"maxPayload":   1000000,
	})
	if err := ws.WriteMessage(websocket.TextMessage, append([]byte("0"), open...)); err != nil {
		ws.Close()
		return
	}

	ws.SetReadDeadline(time.Now().Add(waitTimeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		ws.Close()
		return
	}
	ws.SetReadDeadline(time.Time{})
	want := "40" + s.Namespace + ","
	if s.Namespace == "/" {
		want = "40"
	}
	if string(data) != want {
		ws.Close()
		return
	}

	s.mu.Lock()
	reject := s.rejectWith
	s.mu.Unlock()
	if reject != "" {
		msg, _ := json.Marshal(map[string]string{"message": reject})
		ws.WriteMessage(websocket.TextMessage, []byte("44"+s.prefix()+string(msg)))
		ws.Close()
		return
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte("40"+s.prefix()+`{"sid":"ns-sid"}`)); err != nil {
		ws.Close()
		return
	}
	s.conns <- &Conn{ws: ws, prefix: s.prefix()}
}

func (s *Server) prefix() string {
	if s.Namespace == "/" {
		return ""
	}
	return s.Namespace + ","
}

// Accept waits for the next connection that completed the handshake.
func (s *Server) Accept(t *testing.T) *Conn {
	t.Helper()
	select {
	case c := <-s.conns:
		t.Cleanup(func() { c.ws.Close() })
		return c
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for socket.io connection")
		return nil
	}
}

// Query waits for the query string of the next websocket upgrade.
func (s *Server) Query(t *testing.T) url.Values {
	t.Helper()
	select {
	case q := <-s.queries:
		return q
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for websocket upgrade")
		return nil
	}
}

// Conn is the server side of one client connection.
type Conn struct {
	ws     *websocket.Conn
	prefix string
	mu     sync.Mutex
}

// Emit sends an EVENT with JSON-encodable arguments.
func (c *Conn) Emit(t *testing.T, event string, args ...any) {
	t.Helper()
	parts := append([]any{event}, args...)
	data, err := json.Marshal(parts)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	c.SendText(t, "42"+c.prefix+string(data))
}

// EmitRaw sends an EVENT whose arguments are already JSON encoded.
func (c *Conn) EmitRaw(t *testing.T, event string, args ...string) {
	t.Helper()
	name, _ := json.Marshal(event)
	parts := append([]string{string(name)}, args...)
	c.SendText(t, "42"+c.prefix+"["+strings.Join(parts, ",")+"]")
}

// Ack answers the client's acknowledgement request id with args.
func (c *Conn) Ack(t *testing.T, id int, args ...any) {
	t.Helper()
	if args == nil {
		args = []any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal ack: %v", err)
	}
	c.SendText(t, fmt.Sprintf("43%s%d%s", c.prefix, id, data))
}

// EmitBinary sends a BINARY_EVENT with a single attachment argument.
func (c *Conn) EmitBinary(t *testing.T, event string, attachment []byte) {
	t.Helper()
	name, _ := json.Marshal(event)
	c.SendText(t, fmt.Sprintf(`451-%s[%s,{"_placeholder":true,"num":0}]`, c.prefix, name))
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, attachment); err != nil {
		t.Fatalf("write attachment: %v", err)
	}
}

// SendText writes a raw Engine.IO text frame.
func (c *Conn) SendText(t *testing.T, msg string) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write %q: %v", msg, err)
	}
}

// ReadText waits for the next text frame from the client.
func (c *Conn) ReadText(t *testing.T) string {
	t.Helper()
	c.ws.SetReadDeadline(time.Now().Add(waitTimeout))
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			t.Fatalf("read from client: %v", err)
		}
		if kind == websocket.TextMessage {
			return string(data)
		}
	}
}

// Disconnect ends the namespace session from the server side.
func (c *Conn) Disconnect(t *testing.T) {
	t.Helper()
	c.SendText(t, "41"+c.prefix)
}

// Drop closes the underlying connection without a goodbye.
func (c *Conn) Drop() {
	c.ws.Close()
}
