// Package session maps MCP session ids to their transports and serves
// the streamable HTTP endpoint that creates, routes to and tears down
// those sessions.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/multiclube/internal/hooks"
	"github.com/soyeahso/multiclube/internal/logging"
	"github.com/soyeahso/multiclube/internal/mcp"
)

var (
	// ErrNotFound is returned for a session id that is not active.
	ErrNotFound = errors.New("session not found")
	// ErrNoSession is returned when a request carries no session id and
	// is not an initialize request.
	ErrNoSession = errors.New("no valid session id provided")
)

// Registry holds the active sessions.
type Registry struct {
	server *mcp.Server
	hooks  *hooks.Manager
	log    *logging.Logger

	mu      sync.RWMutex
	entries map[string]*Transport
}

// NewRegistry creates an empty registry whose transports dispatch to
// server. hm may be nil.
func NewRegistry(server *mcp.Server, hm *hooks.Manager, log *logging.Logger) *Registry {
	return &Registry{
		server:  server,
		hooks:   hm,
		log:     log.Sub("session"),
		entries: make(map[string]*Transport),
	}
}

// NewTransport creates a transport with a fresh session id. It joins the
// registry only once its initialize succeeds and leaves it when closed.
func (r *Registry) NewTransport() *Transport {
	t := newTransport(uuid.New().String(), r.server, r.log)
	t.onInitialized = r.add
	t.onClose = r.remove
	return t
}

func (r *Registry) add(t *Transport) {
	r.mu.Lock()
	r.entries[t.ID] = t
	n := len(r.entries)
	r.mu.Unlock()

	r.log.Info().Str("session", t.ID).Int("active", n).Msg("session started")
	r.hooks.EmitAsync(context.Background(), hooks.EventSessionStart, map[string]any{"sessionId": t.ID})
}

func (r *Registry) remove(t *Transport) {
	r.mu.Lock()
	cur, ok := r.entries[t.ID]
	if ok && cur == t {
		delete(r.entries, t.ID)
	}
	n := len(r.entries)
	r.mu.Unlock()

	if !ok || cur != t {
		return
	}
	r.log.Info().
		Str("session", t.ID).
		Dur("age", time.Since(t.CreatedAt)).
		Int("active", n).
		Msg("session ended")
	r.hooks.EmitAsync(context.Background(), hooks.EventSessionEnd, map[string]any{"sessionId": t.ID})
}

// Get returns the transport of an active session.
func (r *Registry) Get(id string) (*Transport, error) {
	if id == "" {
		return nil, ErrNoSession
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

// Close terminates a session.
func (r *Registry) Close(id string) error {
	t, err := r.Get(id)
	if err != nil {
		return err
	}
	t.Close()
	return nil
}

// CloseAll terminates every session.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	all := make([]*Transport, 0, len(r.entries))
	for _, t := range r.entries {
		all = append(all, t)
	}
	r.mu.RUnlock()

	for _, t := range all {
		t.Close()
	}
	if len(all) > 0 {
		r.log.Info().Int("count", len(all)).Msg("closed all sessions")
	}
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
