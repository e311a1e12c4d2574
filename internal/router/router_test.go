package router

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/seeder-control/seeder-agent/internal/socketio"
	"github.com/seeder-control/seeder-agent/internal/target"
)

// syncBuffer lets the logger and test read the same buffer safely.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestRouter(opts ...Option) (*Router, *syncBuffer, *bytes.Buffer) {
	logs := &syncBuffer{}
	console := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	opts = append(opts, WithConsole(console))
	return New(logger, opts...), logs, console
}

func text(s string) socketio.Payload {
	return socketio.Payload{Text: []byte(s)}
}

func TestOnNewTargetDecodes(t *testing.T) {
	var got []target.Record
	r, logs, _ := newTestRouter(WithSink(func(rec target.Record) { got = append(got, rec) }))

	rec, ok := r.OnNewTarget(text(`{"game":1,"user":"alice","timestamp":1700000000000}`))
	if !ok {
		t.Fatal("OnNewTarget() ok = false for a valid payload")
	}
	if rec.User != "alice" || rec.Game != 1 || rec.Name != nil {
		t.Errorf("record = %+v", rec)
	}
	if len(got) != 1 || !got[0].Equal(rec) {
		t.Errorf("sink received %v, want the decoded record", got)
	}

	out := logs.String()
	if !strings.Contains(out, "level=INFO") || !strings.Contains(out, "decoded target") {
		t.Errorf("expected info log of the decoded target, got:\n%s", out)
	}
	if !strings.Contains(out, "target.user=alice") || !strings.Contains(out, "target.name=<none>") {
		t.Errorf("record fields missing from log:\n%s", out)
	}
}

func TestOnNewTargetMalformedIsRecoverable(t *testing.T) {
	called := false
	r, logs, _ := newTestRouter(WithSink(func(target.Record) { called = true }))

	for _, payload := range []string{
		`{"game":1,"timestamp":1}`,
		`{"game":"x","user":"a","timestamp":1}`,
		`not json`,
	} {
		if _, ok := r.OnNewTarget(text(payload)); ok {
			t.Errorf("OnNewTarget(%s) ok = true, want false", payload)
		}
	}
	if called {
		t.Error("sink called for a malformed payload")
	}
	if !strings.Contains(logs.String(), "discarding malformed target") {
		t.Errorf("decode failure not logged:\n%s", logs.String())
	}

	// The router keeps working after bad input.
	if _, ok := r.OnNewTarget(text(`{"game":2,"user":"b","timestamp":3}`)); !ok {
		t.Error("valid payload rejected after malformed ones")
	}
}

func TestOnNewTargetBinarySkipsDecoding(t *testing.T) {
	called := false
	r, logs, console := newTestRouter(WithSink(func(target.Record) { called = true }))

	if _, ok := r.OnNewTarget(socketio.Payload{Binary: []byte{1, 2, 3}}); ok {
		t.Error("binary payload reported as decoded")
	}
	if called {
		t.Error("sink called for a binary payload")
	}
	if got := console.String(); got != "Received bytes: [1 2 3]\n" {
		t.Errorf("console = %q", got)
	}
	if strings.Contains(logs.String(), "malformed") {
		t.Errorf("binary payload went through the decoder:\n%s", logs.String())
	}
}

func TestHandleEventUsesLastArgument(t *testing.T) {
	var got []target.Record
	r, logs, _ := newTestRouter(WithSink(func(rec target.Record) { got = append(got, rec) }))

	r.HandleEvent(socketio.Event{
		Name: "newTarget",
		Args: []socketio.Payload{text(`"BF4"`), text(`{"game":0,"user":"c","timestamp":5}`)},
	})
	r.HandleEvent(socketio.Event{Name: "newTarget"})

	if len(got) != 1 || got[0].User != "c" {
		t.Fatalf("sink received %v", got)
	}
	if !strings.Contains(logs.String(), "game_label=BF4 ") {
		t.Errorf("game label not logged:\n%s", logs.String())
	}
	if !strings.Contains(logs.String(), "newTarget event without payload") {
		t.Errorf("empty event not reported:\n%s", logs.String())
	}
}
