package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultHandshakeTimeout = 20 * time.Second
	defaultReconnectBase    = 1 * time.Second
	defaultReconnectMax     = 30 * time.Second
	writeTimeout            = 10 * time.Second

	// Used until the server's open packet says otherwise.
	defaultPingInterval = 25 * time.Second
	defaultPingTimeout  = 20 * time.Second
)

// ErrConnectRejected is returned when the server answers the namespace
// CONNECT with CONNECT_ERROR.
var ErrConnectRejected = errors.New("socket.io: namespace connect rejected")

// ErrClosed is returned by Emit after the client has stopped.
var ErrClosed = errors.New("socket.io: client closed")

// Options configures Dial.
type Options struct {
	// URL is the server endpoint, with any query parameters the server
	// expects. http(s) schemes are mapped to ws(s). An empty path becomes
	// /socket.io/.
	URL string

	// Namespace to join. Empty means "/".
	Namespace string

	Handlers Handlers
	Logger   *slog.Logger

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	HandshakeTimeout time.Duration

	// Reconnect re-establishes a dropped connection. Dial itself never
	// retries.
	Reconnect          bool
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
}

// Client is a Socket.IO v5 client over the Engine.IO v4 websocket
// transport, joined to a single namespace.
type Client struct {
	url       string
	namespace string
	handlers  Handlers
	logger    *slog.Logger
	dialer    *websocket.Dialer
	opts      Options

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	conn    *websocket.Conn
	sid     string
	closed  bool
	acks    map[int]AckFunc // pending acknowledgements by packet id
	nextAck int

	writeMu sync.Mutex // serialises all conn writes

	pingInterval time.Duration
	pingTimeout  time.Duration
}

// Dial connects, performs the Engine.IO handshake and joins the namespace.
// Events are delivered to handlers on the client's read goroutine, one at
// a time, in receipt order.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	u, err := EngineURL(opts.URL)
	if err != nil {
		return nil, err
	}
	if opts.Namespace == "" {
		opts.Namespace = "/"
	}
	if !strings.HasPrefix(opts.Namespace, "/") {
		return nil, fmt.Errorf("socket.io: namespace %q must start with /", opts.Namespace)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.ReconnectBaseDelay <= 0 {
		opts.ReconnectBaseDelay = defaultReconnectBase
	}
	if opts.ReconnectMaxDelay <= 0 {
		opts.ReconnectMaxDelay = defaultReconnectMax
	}
	if opts.Handlers == nil {
		opts.Handlers = Handlers{}
	}

	lifetime, cancel := context.WithCancel(context.Background())
	c := &Client{
		url:          u,
		namespace:    opts.Namespace,
		handlers:     opts.Handlers,
		logger:       opts.Logger.With("namespace", opts.Namespace),
		dialer:       opts.Dialer,
		opts:         opts,
		ctx:          lifetime,
		cancel:       cancel,
		done:         make(chan struct{}),
		acks:         make(map[int]AckFunc),
		pingInterval: defaultPingInterval,
		pingTimeout:  defaultPingTimeout,
	}

	conn, err := c.connect(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.run(conn)
	return c, nil
}

// EngineURL converts a server endpoint into the Engine.IO websocket URL.
func EngineURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("socket.io: parse url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("socket.io: unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("socket.io: url %q has no host", raw)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/socket.io/"
	}
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// SID returns the namespace session id assigned by the server.
func (c *Client) SID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sid
}

// Connected reports whether a live connection is currently held.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.closed
}

// Done is closed once the client has stopped for good.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Emit sends an event with JSON-encodable arguments.
func (c *Client) Emit(event string, args ...any) error {
	data, err := encodeEvent(event, args)
	if err != nil {
		return fmt.Errorf("socket.io: encode %s: %w", event, err)
	}
	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return fmt.Errorf("socket.io: emit %s: not connected", event)
	}
	return c.writePacket(conn, Packet{Type: PacketEvent, Namespace: c.namespace, Data: data})
}

// EmitWithAck sends an event that asks the server for an acknowledgement.
// ack runs on the read goroutine with the server's reply arguments. If the
// connection drops first, ack is never called.
func (c *Client) EmitWithAck(event string, ack AckFunc, args ...any) error {
	data, err := encodeEvent(event, args)
	if err != nil {
		return fmt.Errorf("socket.io: encode %s: %w", event, err)
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return fmt.Errorf("socket.io: emit %s: not connected", event)
	}
	id := c.nextAck
	c.nextAck++
	c.acks[id] = ack
	c.mu.Unlock()

	if err := c.writePacket(conn, Packet{Type: PacketEvent, Namespace: c.namespace, ID: &id, Data: data}); err != nil {
		c.mu.Lock()
		delete(c.acks, id)
		c.mu.Unlock()
		return err
	}
	return nil
}

// Close leaves the namespace and closes the connection. Reconnection stops.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	c.cancel()
	if conn == nil {
		return nil
	}
	_ = c.writePacket(conn, Packet{Type: PacketDisconnect, Namespace: c.namespace})
	return conn.Close()
}

// connect dials and runs both handshakes.
func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("socket.io: dial %s: %w (http %s)", redact(c.url), err, resp.Status)
		}
		return nil, fmt.Errorf("socket.io: dial %s: %w", redact(c.url), err)
	}
	if err := c.handshake(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (c *Client) handshake(ctx context.Context, conn *websocket.Conn) error {
	deadline := time.Now().Add(c.opts.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	// Reads below only end on deadline, so cancellation closes the conn.
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-finished:
		}
	}()

	_, data, err := conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("socket.io: handshake: %w", ctx.Err())
		}
		return fmt.Errorf("socket.io: read open packet: %w", err)
	}
	if len(data) == 0 || data[0] != engineOpen {
		return fmt.Errorf("socket.io: expected open packet, got %q", data)
	}
	var open engineHandshake
	if err := json.Unmarshal(data[1:], &open); err != nil {
		return fmt.Errorf("socket.io: decode open packet: %w", err)
	}
	if open.PingInterval > 0 {
		c.pingInterval = time.Duration(open.PingInterval) * time.Millisecond
	}
	if open.PingTimeout > 0 {
		c.pingTimeout = time.Duration(open.PingTimeout) * time.Millisecond
	}

	if err := c.writePacket(conn, Packet{Type: PacketConnect, Namespace: c.namespace}); err != nil {
		return fmt.Errorf("socket.io: send connect: %w", err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("socket.io: handshake: %w", ctx.Err())
			}
			return fmt.Errorf("socket.io: await namespace connect: %w", err)
		}
		if len(data) == 0 {
			continue
		}
		switch data[0] {
		case enginePing:
			if err := c.writeEngine(conn, string(enginePong)); err != nil {
				return fmt.Errorf("socket.io: pong: %w", err)
			}
			continue
		case engineMessage:
		case engineClose:
			return fmt.Errorf("socket.io: server closed during handshake")
		default:
			continue
		}

		p, err := ParsePacket(string(data[1:]))
		if err != nil {
			return fmt.Errorf("socket.io: handshake: %w", err)
		}
		if p.Namespace != c.namespace {
			continue
		}
		switch p.Type {
		case PacketConnect:
			var ack struct {
				SID string `json:"sid"`
			}
			if len(p.Data) > 0 {
				_ = json.Unmarshal(p.Data, &ack)
			}
			c.mu.Lock()
			c.sid = ack.SID
			c.mu.Unlock()
			c.logger.Info("connected to control server", "engine_sid", open.SID, "sid", ack.SID)
			return nil
		case PacketConnectError:
			var ce connectError
			if len(p.Data) > 0 {
				_ = json.Unmarshal(p.Data, &ce)
			}
			if ce.Message == "" {
				ce.Message = string(p.Data)
			}
			return fmt.Errorf("%w: %s", ErrConnectRejected, ce.Message)
		}
	}
}

// run owns the read side of the connection and the reconnect cycle.
func (c *Client) run(conn *websocket.Conn) {
	defer close(c.done)
	for {
		serverLeft, err := c.readLoop(conn)

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		closed := c.closed
		dropped := len(c.acks)
		clear(c.acks)
		c.mu.Unlock()
		conn.Close()

		if dropped > 0 {
			c.logger.Warn("dropping unanswered acknowledgements", "count", dropped)
		}

		if closed {
			return
		}
		if serverLeft {
			c.logger.Warn("disconnected by control server")
			c.markClosed()
			return
		}
		c.logger.Warn("disconnected from control server", "error", err)
		if !c.opts.Reconnect {
			c.markClosed()
			return
		}

		conn = c.reconnect()
		if conn == nil {
			return
		}
	}
}

func (c *Client) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
}

// reconnect retries with exponential delay until it succeeds or the
// client is closed. Returns nil when closed.
func (c *Client) reconnect() *websocket.Conn {
	delay := c.opts.ReconnectBaseDelay
	for attempt := 1; ; attempt++ {
		select {
		case <-c.ctx.Done():
			return nil
		case <-time.After(delay):
		}

		conn, err := c.connect(c.ctx)
		if err == nil {
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				conn.Close()
				return nil
			}
			c.conn = conn
			c.mu.Unlock()
			c.logger.Info("reconnected to control server", "attempt", attempt)
			return conn
		}
		c.logger.Warn("reconnect failed", "attempt", attempt, "error", err, "retry_in", delay)
		delay = min(delay*2, c.opts.ReconnectMaxDelay)
	}
}

// readLoop reads until the connection fails. serverLeft is true when the
// server explicitly ended the namespace session.
func (c *Client) readLoop(conn *websocket.Conn) (serverLeft bool, err error) {
	var pending *binaryEvent
	for {
		conn.SetReadDeadline(time.Now().Add(c.pingInterval + c.pingTimeout))
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return false, err
		}

		if kind == websocket.BinaryMessage {
			if pending == nil {
				c.logger.Warn("unexpected binary frame", "bytes", len(data))
				continue
			}
			if data == nil {
				data = []byte{}
			}
			pending.attachments = append(pending.attachments, data)
			if len(pending.attachments) == pending.packet.Attachments {
				c.completeBinary(pending)
				pending = nil
			}
			continue
		}

		if len(data) == 0 {
			continue
		}
		switch data[0] {
		case enginePing:
			if err := c.writeEngine(conn, string(enginePong)+string(data[1:])); err != nil {
				return false, fmt.Errorf("pong: %w", err)
			}
		case engineClose:
			return false, fmt.Errorf("server closed engine session")
		case engineMessage:
			p, err := ParsePacket(string(data[1:]))
			if err != nil {
				c.logger.Warn("dropping malformed packet", "error", err)
				continue
			}
			if p.Namespace != c.namespace {
				continue
			}
			switch p.Type {
			case PacketEvent:
				c.dispatchText(p)
			case PacketBinaryEvent, PacketBinaryAck:
				if p.Attachments == 0 {
					c.completeBinary(&binaryEvent{packet: p})
					continue
				}
				pending = &binaryEvent{packet: p}
			case PacketDisconnect:
				return true, nil
			case PacketConnectError:
				c.logger.Error("control server reported connect error", "data", string(p.Data))
			case PacketAck:
				c.resolveAck(p, nil)
			}
		case enginePong, engineNoop, engineUpgrade, engineOpen:
		default:
			c.logger.Debug("ignoring unknown engine packet", "type", string(data[0]))
		}
	}
}

type binaryEvent struct {
	packet      Packet
	attachments [][]byte
}

func (c *Client) dispatchText(p Packet) {
	name, raw, err := decodeEvent(p.Data)
	if err != nil {
		c.logger.Warn("dropping malformed event", "error", err)
		return
	}
	args := make([]Payload, len(raw))
	for i, r := range raw {
		args[i] = Payload{Text: r}
	}
	c.dispatch(Event{Namespace: p.Namespace, Name: name, Args: args})
}

func (c *Client) completeBinary(be *binaryEvent) {
	if be.packet.Type == PacketBinaryAck {
		c.resolveAck(be.packet, be.attachments)
		return
	}
	name, raw, err := decodeEvent(be.packet.Data)
	if err != nil {
		c.logger.Warn("dropping malformed binary event", "error", err)
		return
	}
	args := c.expandArgs(name, raw, be.attachments)
	c.dispatch(Event{Namespace: be.packet.Namespace, Name: name, Args: args})
}

// expandArgs replaces top-level placeholder arguments with their
// attachments. Nested placeholders are passed through as text.
func (c *Client) expandArgs(name string, raw []json.RawMessage, attachments [][]byte) []Payload {
	args := make([]Payload, len(raw))
	for i, r := range raw {
		args[i] = Payload{Text: r}
		if len(attachments) == 0 || len(r) == 0 || r[0] != '{' {
			continue
		}
		var ph placeholder
		if json.Unmarshal(r, &ph) != nil || !ph.Placeholder || ph.Num == nil {
			continue
		}
		if *ph.Num < 0 || *ph.Num >= len(attachments) {
			c.logger.Warn("binary placeholder out of range", "event", name, "num", *ph.Num)
			continue
		}
		args[i] = Payload{Binary: attachments[*ph.Num]}
	}
	return args
}

// resolveAck hands an ACK reply to the callback registered under its id.
func (c *Client) resolveAck(p Packet, attachments [][]byte) {
	if p.ID == nil {
		c.logger.Warn("ack without id")
		return
	}
	c.mu.Lock()
	ack, ok := c.acks[*p.ID]
	delete(c.acks, *p.ID)
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("ack for unknown id", "id", *p.ID)
		return
	}

	var raw []json.RawMessage
	if len(p.Data) > 0 {
		if err := json.Unmarshal(p.Data, &raw); err != nil {
			c.logger.Warn("dropping malformed ack", "id", *p.ID, "error", err)
			return
		}
	}
	args := c.expandArgs("ack", raw, attachments)
	c.invoke("ack", func() { ack(args) })
}

func (c *Client) dispatch(e Event) {
	h, ok := c.handlers[e.Name]
	if !ok {
		c.logger.Debug("no handler for event", "event", e.Name)
		return
	}
	c.invoke(e.Name, func() { h.HandleEvent(e) })
}

// invoke runs a callback, logging instead of crashing if it panics.
func (c *Client) invoke(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event handler panicked", "event", name, "panic", r)
		}
	}()
	fn()
}

func (c *Client) writePacket(conn *websocket.Conn, p Packet) error {
	return c.writeEngine(conn, string(engineMessage)+p.Encode())
}

func (c *Client) writeEngine(conn *websocket.Conn, msg string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

// redact hides query values (the auth token travels there) in log output.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
