// Package liveness emits a periodic heartbeat so log monitors can tell the
// agent has not hung.
package liveness

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultInterval is the time between heartbeats.
const DefaultInterval = 30 * time.Second

// HeartbeatMessage is the fixed line logged on every beat.
const HeartbeatMessage = "heartbeat"

// Loop logs HeartbeatMessage once per interval until its context ends.
// It shares no state with the connection.
type Loop struct {
	interval time.Duration
	logger   *slog.Logger
	after    func(time.Duration) <-chan time.Time
	beats    atomic.Uint64
}

func New(interval time.Duration, logger *slog.Logger) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Loop{interval: interval, logger: logger, after: time.After}
}

// Run blocks, sleeping one interval and then logging a heartbeat, forever.
// It is the agent's run-forever primitive: it only returns when ctx is
// cancelled, with ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.after(l.interval):
		}
		n := l.beats.Add(1)
		l.logger.Info(HeartbeatMessage, "beat", n)
	}
}

// Beats returns how many heartbeats have been logged.
func (l *Loop) Beats() uint64 {
	return l.beats.Load()
}
