// Package router turns inbound "newTarget" events into target records.
package router

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/seeder-control/seeder-agent/internal/socketio"
	"github.com/seeder-control/seeder-agent/internal/target"
)

// Sink receives every successfully decoded record.
type Sink func(target.Record)

// Router decodes newTarget payloads. Decode failures are logged and the
// event is dropped; they never reach the caller.
type Router struct {
	logger  *slog.Logger
	console io.Writer
	sink    Sink
}

// Option configures a Router.
type Option func(*Router)

// WithSink hands decoded records to s after they are logged.
func WithSink(s Sink) Option {
	return func(r *Router) { r.sink = s }
}

// WithConsole sets where raw binary payloads are printed. Defaults to
// os.Stdout.
func WithConsole(w io.Writer) Option {
	return func(r *Router) { r.console = w }
}

func New(logger *slog.Logger, opts ...Option) *Router {
	r := &Router{logger: logger, console: os.Stdout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleEvent implements socketio.Handler. The record is the last
// argument; an optional leading string names the game ("BF4", "BF1").
func (r *Router) HandleEvent(e socketio.Event) {
	if len(e.Args) == 0 {
		r.logger.Warn("newTarget event without payload")
		return
	}
	logger := r.logger
	if len(e.Args) > 1 {
		logger = logger.With("game_label", gameLabel(e.Args[0]))
	}
	r.onNewTarget(logger, e.Args[len(e.Args)-1])
}

// OnNewTarget handles one newTarget payload. It returns the decoded record
// and true when the payload was text and matched the schema.
func (r *Router) OnNewTarget(payload socketio.Payload) (target.Record, bool) {
	return r.onNewTarget(r.logger, payload)
}

func (r *Router) onNewTarget(logger *slog.Logger, payload socketio.Payload) (target.Record, bool) {
	logger = logger.With("event_id", uuid.NewString())
	logger.Info("received new server")

	if payload.IsBinary() {
		fmt.Fprintf(r.console, "Received bytes: %v\n", payload.Binary)
		return target.Record{}, false
	}

	logger.Debug("raw target payload", "payload", string(payload.Text))
	rec, err := target.Decode(payload.Text)
	if err != nil {
		logger.Error("discarding malformed target", "error", err, "payload", string(payload.Text))
		return target.Record{}, false
	}
	logger.Info("decoded target", "target", rec)
	if r.sink != nil {
		r.sink(rec)
	}
	return rec, true
}

// gameLabel unquotes a JSON string label, falling back to the raw text.
func gameLabel(p socketio.Payload) string {
	var label string
	if p.IsBinary() || json.Unmarshal(p.Text, &label) != nil {
		return p.String()
	}
	return label
}
