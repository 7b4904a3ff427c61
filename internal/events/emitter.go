// Package events owns the single outward event sink.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tinywideclouds/go-messaging-bridge/pkg/bridge"
)

// Emitter multiplexes every event source into one stream. Events pushed
// while no sink is bound are dropped; there is no replay.
type Emitter struct {
	platform string
	now      func() time.Time
	logger   *slog.Logger

	mu    sync.RWMutex
	sink  bridge.Sink
	debug bool
}

func NewEmitter(platform string, logger *slog.Logger) *Emitter {
	return &Emitter{
		platform: platform,
		now:      time.Now,
		logger:   logger.With("component", "EventEmitter"),
	}
}

// WithClock replaces the timestamp source.
func (e *Emitter) WithClock(now func() time.Time) *Emitter {
	e.now = now
	return e
}

// Bind replaces the active sink. Always succeeds.
func (e *Emitter) Bind(sink bridge.Sink) {
	e.mu.Lock()
	e.sink = sink
	e.mu.Unlock()
}

// Unbind clears the active sink.
func (e *Emitter) Unbind() {
	e.Bind(nil)
}

// UnbindIf clears the sink only when it is still the given one, so a stale
// consumer closing late does not detach its replacement.
func (e *Emitter) UnbindIf(sink bridge.Sink) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sink != sink {
		return false
	}
	e.sink = nil
	return true
}

func (e *Emitter) Bound() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sink != nil
}

// SetDebug toggles the diagnostic mirror.
func (e *Emitter) SetDebug(enabled bool) {
	e.mu.Lock()
	e.debug = enabled
	e.mu.Unlock()
}

// Push stamps the event and delivers it to the bound sink, if any.
func (e *Emitter) Push(ev bridge.Event) {
	if ev.Platform == "" {
		ev.Platform = e.platform
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now()
	}

	e.mu.RLock()
	sink, debug := e.sink, e.debug
	e.mu.RUnlock()

	if debug {
		e.logger.Info("sendEvent", "type", ev.Type, "event", ev.Map())
	}
	if sink == nil {
		return
	}
	if err := sink.Send(ev); err != nil {
		e.logger.Warn("Event delivery failed", "type", ev.Type, "err", err)
	}
}
