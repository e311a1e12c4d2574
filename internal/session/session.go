// Package session owns the agent's single subscription to the control
// server: it builds the connection URL, registers event handlers and keeps
// the transport handle for the life of the process.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/seeder-control/seeder-agent/internal/config"
	"github.com/seeder-control/seeder-agent/internal/hostinfo"
	"github.com/seeder-control/seeder-agent/internal/socketio"
)

// Event names the session registers.
const (
	EventNewTarget = "newTarget"
	EventError     = "error"
	EventOutOfDate = "outOfDate"

	// RequestTargets asks the server for its current targets; the reply
	// arrives as an acknowledgement.
	RequestTargets = "getTarget"
)

// Games lists the target slots the server reports, in delivery order.
var Games = []string{"BF4", "BF1"}

// ConnectionConfig holds everything encoded into the subscription URL.
// Build it once with NewConnectionConfig and treat it as read-only.
type ConnectionConfig struct {
	RootURL    string
	Namespace  string
	Hostname   string
	PlayerName string
	Version    string
	Token      string
	HasBF4     bool
	HasBF1     bool

	HandshakeTimeout time.Duration
	Reconnect        bool
}

// NewConnectionConfig combines loaded configuration with host identity and
// the client version. Both capability flags are always set.
func NewConnectionConfig(cfg *config.Config, host hostinfo.Info, version string) ConnectionConfig {
	return ConnectionConfig{
		RootURL:          cfg.Server.URL,
		Namespace:        cfg.Server.Namespace,
		Hostname:         host.Hostname,
		PlayerName:       cfg.Agent.PlayerName,
		Version:          version,
		Token:            cfg.Server.Token,
		HasBF4:           true,
		HasBF1:           true,
		HandshakeTimeout: cfg.Server.HandshakeTimeout,
		Reconnect:        cfg.Server.Reconnect,
	}
}

// URL returns RootURL with the identity and capability query parameters.
// Parameters already present on RootURL are kept.
func (cc ConnectionConfig) URL() (string, error) {
	u, err := url.Parse(cc.RootURL)
	if err != nil {
		return "", fmt.Errorf("parse root url: %w", err)
	}
	q := u.Query()
	q.Set("hostname", cc.Hostname)
	q.Set("playerName", cc.PlayerName)
	q.Set("version", cc.Version)
	q.Set("token", cc.Token)
	q.Set("hasBF4", strconv.FormatBool(cc.HasBF4))
	q.Set("hasBF1", strconv.FormatBool(cc.HasBF1))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Session is the open subscription. It is created by Open and lives until
// Close or until the server ends it.
type Session struct {
	config      ConnectionConfig
	client      *socketio.Client
	logger      *slog.Logger
	onNewTarget socketio.Handler

	// ready is closed once client is set; handlers may run before Dial
	// returns.
	ready chan struct{}
}

// Option adjusts Open.
type Option func(*openOptions)

type openOptions struct {
	handlers socketio.Handlers
}

// WithHandler registers an additional event handler. The built-in
// newTarget, error and outOfDate registrations take precedence.
func WithHandler(event string, h socketio.Handler) Option {
	return func(o *openOptions) { o.handlers[event] = h }
}

// Open connects to the control server and subscribes onNewTarget to
// "newTarget" events. Handlers run on the transport's read goroutine.
// Once joined it requests the server's current targets and feeds each one
// to onNewTarget as a ("BF4"|"BF1", target) event.
//
// A failed connection is returned as an error; Open does not retry.
func Open(ctx context.Context, cc ConnectionConfig, onNewTarget socketio.Handler, logger *slog.Logger, opts ...Option) (*Session, error) {
	o := openOptions{handlers: socketio.Handlers{}}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Session{config: cc, logger: logger, onNewTarget: onNewTarget, ready: make(chan struct{})}
	o.handlers.
		On(EventNewTarget, onNewTarget).
		On(EventError, socketio.HandlerFunc(s.onError)).
		On(EventOutOfDate, socketio.HandlerFunc(s.onOutOfDate))

	rawURL, err := cc.URL()
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	client, err := socketio.Dial(ctx, socketio.Options{
		URL:              rawURL,
		Namespace:        cc.Namespace,
		Handlers:         o.handlers,
		Logger:           logger,
		HandshakeTimeout: cc.HandshakeTimeout,
		Reconnect:        cc.Reconnect,
	})
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	s.client = client
	close(s.ready)

	logger.Info("subscribed to control server",
		"namespace", cc.Namespace,
		"hostname", cc.Hostname,
		"version", cc.Version,
	)

	if err := client.EmitWithAck(RequestTargets, s.onCurrentTargets); err != nil {
		logger.Warn("could not request current targets", "error", err)
	}
	return s, nil
}

// onCurrentTargets routes the getTarget reply, a map of game to target,
// through the newTarget handler. Games without a target are skipped.
func (s *Session) onCurrentTargets(args []socketio.Payload) {
	if len(args) == 0 || args[0].IsBinary() {
		s.logger.Warn("unexpected reply to target request", "args", len(args))
		return
	}
	var targets map[string]json.RawMessage
	if err := json.Unmarshal(args[0].Text, &targets); err != nil {
		s.logger.Warn("malformed reply to target request", "error", err)
		return
	}
	for _, game := range Games {
		raw, ok := targets[game]
		if !ok || string(raw) == "null" {
			s.logger.Debug("no current target", "game", game)
			continue
		}
		label, _ := json.Marshal(game)
		s.onNewTarget.HandleEvent(socketio.Event{
			Namespace: s.config.Namespace,
			Name:      EventNewTarget,
			Args:      []socketio.Payload{{Text: label}, {Text: raw}},
		})
	}
}

// onOutOfDate ends the session; the server refuses this client version.
func (s *Session) onOutOfDate(socketio.Event) {
	s.logger.Error("client is out of date, please update", "version", s.config.Version)
	<-s.ready
	if err := s.client.Close(); err != nil {
		s.logger.Debug("close after outOfDate", "error", err)
	}
}

// onError logs server-signalled errors. The connection stays open.
func (s *Session) onError(e socketio.Event) {
	payloads := make([]string, len(e.Args))
	for i, a := range e.Args {
		payloads[i] = a.String()
	}
	s.logger.Error("control server error", "payload", payloads)
}

// Config returns the connection parameters the session was opened with.
func (s *Session) Config() ConnectionConfig {
	return s.config
}

// Connected reports whether the transport currently holds a live link.
func (s *Session) Connected() bool {
	return s.client.Connected()
}

// Done is closed once the session has ended for good.
func (s *Session) Done() <-chan struct{} {
	return s.client.Done()
}

// Close leaves the namespace and closes the connection.
func (s *Session) Close() error {
	return s.client.Close()
}
