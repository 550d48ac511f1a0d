// Package hooks dispatches sale, callback, session and server lifecycle
// events to in-process handlers and configured shell commands.
package hooks

import (
	"context"
	"sync"
	"time"

	"github.com/soyeahso/multiclube/internal/logging"
)

// Event names.
const (
	EventSaleInitiated    = "sale_initiated"
	EventSaleCompleted    = "sale_completed"
	EventSaleRejected     = "sale_rejected"
	EventSaleTimedOut     = "sale_timed_out"
	EventCallbackReceived = "callback_received"
	EventSessionStart     = "session_start"
	EventSessionEnd       = "session_end"
	EventServerStart      = "server_start"
	EventServerStop       = "server_stop"
)

// AllEvents lists every event the gateway emits.
var AllEvents = []string{
	EventSaleInitiated,
	EventSaleCompleted,
	EventSaleRejected,
	EventSaleTimedOut,
	EventCallbackReceived,
	EventSessionStart,
	EventSessionEnd,
	EventServerStart,
	EventServerStop,
}

// Payload is what a handler receives. Command hooks get it as JSON.
type Payload struct {
	Event string         `json:"event"`
	Time  time.Time      `json:"time"`
	Data  map[string]any `json:"data,omitempty"`
}

// Handler reacts to an event. A returned error is logged and does not
// stop the remaining handlers.
type Handler func(ctx context.Context, p Payload) error

type namedHandler struct {
	name    string
	handler Handler
}

// Manager holds handlers per event. A nil *Manager drops every event, so
// components can emit without checking whether hooks are configured.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	inflight sync.WaitGroup
	now      func() time.Time
	log      *logging.Logger
}

// NewManager creates an empty manager.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		handlers: make(map[string][]namedHandler),
		now:      time.Now,
		log:      log.Sub("hooks"),
	}
}

// On adds handler for event under name, which appears in error logs.
func (m *Manager) On(event, name string, handler Handler) {
	m.mu.Lock()
	m.handlers[event] = append(m.handlers[event], namedHandler{name: name, handler: handler})
	m.mu.Unlock()
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

// Count returns the number of handlers for event.
func (m *Manager) Count(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers[event])
}

// snapshot copies the handlers for event so dispatch runs unlocked.
func (m *Manager) snapshot(event string) []namedHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.handlers[event]) == 0 {
		return nil
	}
	return append([]namedHandler(nil), m.handlers[event]...)
}

func (m *Manager) run(ctx context.Context, h namedHandler, p Payload) {
	if err := h.handler(ctx, p); err != nil {
		m.log.Warn().
			Err(err).
			Str("event", p.Event).
			Str("handler", h.name).
			Msg("hook handler failed")
	}
}

// Emit runs the handlers for event one after another in registration
// order and returns when all are done.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	if m == nil {
		return
	}
	handlers := m.snapshot(event)
	if handlers == nil {
		return
	}
	p := Payload{Event: event, Time: m.now().UTC(), Data: data}
	for _, h := range handlers {
		m.run(ctx, h, p)
	}
}

// EmitAsync runs each handler for event in its own goroutine and returns
// immediately. Wait blocks until they finish.
func (m *Manager) EmitAsync(ctx context.Context, event string, data map[string]any) {
	if m == nil {
		return
	}
	handlers := m.snapshot(event)
	if handlers == nil {
		return
	}
	p := Payload{Event: event, Time: m.now().UTC(), Data: data}
	m.inflight.Add(len(handlers))
	for _, h := range handlers {
		go func() {
			defer m.inflight.Done()
			m.run(ctx, h, p)
		}()
	}
}

// Wait blocks until every handler started by EmitAsync has returned, or
// ctx ends.
func (m *Manager) Wait(ctx context.Context) error {
	if m == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
