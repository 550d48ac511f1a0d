// Package pending correlates outbound calls with the inbound callbacks that
// complete them. Each in-flight call is keyed by an opaque transaction key
// and is disposed of exactly once: by a callback, by its deadline, by an
// explicit cancel, or by registry shutdown.
package pending

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/soyeahso/multiclube/internal/logging"
)

var (
	// ErrDuplicateKey is returned by Register when the key is in flight or
	// was retired recently.
	ErrDuplicateKey = errors.New("pending: duplicate transaction key")
	// ErrTimeout is delivered when no callback arrived before the deadline.
	ErrTimeout = errors.New("pending: callback timed out")
	// ErrClosed is returned after Close, and delivered to calls drained by it.
	ErrClosed = errors.New("pending: registry closed")
	// ErrCancelled is delivered to a waiter whose call was cancelled.
	ErrCancelled = errors.New("pending: call cancelled")
)

// DefaultTimeout is how long a call waits for its callback when Options
// leaves Timeout unset.
const DefaultTimeout = 60 * time.Second

// DefaultRetention is how long retired keys are remembered.
const DefaultRetention = 30 * time.Minute

// Payload is the decoded body of a callback.
type Payload map[string]any

// Handle is returned by Register and passed to Await.
type Handle struct {
	Key       string
	CreatedAt time.Time
	Deadline  time.Time

	done chan result
}

type result struct {
	payload Payload
	err     error
}

type entry struct {
	handle *Handle
	timer  *time.Timer
}

// Options configures a Registry.
type Options struct {
	Timeout   time.Duration
	Retention time.Duration
	Logger    *logging.Logger
}

// Registry maps transaction keys to waiting calls.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	retired map[string]time.Time
	closed  bool

	timeout   time.Duration
	retention time.Duration
	now       func() time.Time
	log       *logging.Logger
}

// New creates an empty registry.
func New(opts Options) *Registry {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	log := opts.Logger
	if log == nil {
		log = logging.New(nil, "silent")
	}
	return &Registry{
		entries:   make(map[string]*entry),
		retired:   make(map[string]time.Time),
		timeout:   opts.Timeout,
		retention: opts.Retention,
		now:       time.Now,
		log:       log.Sub("pending"),
	}
}

// Timeout returns the deadline applied to new calls.
func (r *Registry) Timeout() time.Duration { return r.timeout }

// Register creates a pending call for key. It must be called before the
// outbound request carrying the key is sent.
func (r *Registry) Register(key string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	now := r.now()
	r.pruneRetiredLocked(now)

	if _, live := r.entries[key]; live {
		return nil, ErrDuplicateKey
	}
	if _, seen := r.retired[key]; seen {
		return nil, ErrDuplicateKey
	}

	h := &Handle{
		Key:       key,
		CreatedAt: now,
		Deadline:  now.Add(r.timeout),
		done:      make(chan result, 1),
	}
	e := &entry{handle: h}
	e.timer = time.AfterFunc(r.timeout, func() { r.expire(h) })
	r.entries[key] = e

	r.log.Debug().Str("key", key).Time("deadline", h.Deadline).Msg("call registered")
	return h, nil
}

// Resolve completes the call for key with payload. It reports false when
// the key is unknown or the call was already disposed of.
func (r *Registry) Resolve(key string, payload Payload) bool {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		_, stale := r.retired[key]
		r.mu.Unlock()
		if stale {
			r.log.Warn().Str("key", key).Msg("stale callback for finished call ignored")
		} else {
			r.log.Debug().Str("key", key).Msg("resolve for unknown key ignored")
		}
		return false
	}
	r.removeLocked(key, e)
	r.mu.Unlock()

	if payload == nil {
		payload = Payload{}
	}
	e.handle.done <- result{payload: payload}
	r.log.Debug().Str("key", key).Msg("call resolved")
	return true
}

// Cancel removes the call for key without signalling a timeout. The
// waiter, if any, receives ErrCancelled.
func (r *Registry) Cancel(key string) bool {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		r.mu.Unlock()
		return false
	}
	r.removeLocked(key, e)
	r.mu.Unlock()

	e.handle.done <- result{err: ErrCancelled}
	r.log.Debug().Str("key", key).Msg("call cancelled")
	return true
}

// Await blocks until the call behind h is disposed of. If ctx ends first
// the call is cancelled and ctx's error returned, unless a disposition
// already won the race, in which case that disposition is returned.
func (r *Registry) Await(ctx context.Context, h *Handle) (Payload, error) {
	select {
	case res := <-h.done:
		return res.payload, res.err
	case <-ctx.Done():
		if r.cancelHandle(h) {
			return nil, ctx.Err()
		}
		res := <-h.done
		return res.payload, res.err
	}
}

// Close drains every pending call with ErrClosed. Later Register calls
// fail with ErrClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	drained := make([]*entry, 0, len(r.entries))
	for key, e := range r.entries {
		r.removeLocked(key, e)
		drained = append(drained, e)
	}
	r.mu.Unlock()

	for _, e := range drained {
		e.handle.done <- result{err: ErrClosed}
	}
	if len(drained) > 0 {
		r.log.Info().Int("count", len(drained)).Msg("pending calls drained")
	}
}

// Len returns the number of in-flight calls.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) expire(h *Handle) {
	r.mu.Lock()
	e, ok := r.entries[h.Key]
	if !ok || e.handle != h {
		r.mu.Unlock()
		return
	}
	r.removeLocked(h.Key, e)
	r.mu.Unlock()

	h.done <- result{err: ErrTimeout}
	r.log.Warn().Str("key", h.Key).Dur("timeout", r.timeout).Msg("call timed out")
}

// cancelHandle is Cancel restricted to the exact call behind h, so a
// waiter never disposes of someone else's entry.
func (r *Registry) cancelHandle(h *Handle) bool {
	r.mu.Lock()
	e, ok := r.entries[h.Key]
	if !ok || e.handle != h {
		r.mu.Unlock()
		return false
	}
	r.removeLocked(h.Key, e)
	r.mu.Unlock()

	h.done <- result{err: ErrCancelled}
	return true
}

// removeLocked retires key. Callers hold r.mu and send exactly one result
// on the removed handle afterwards.
func (r *Registry) removeLocked(key string, e *entry) {
	e.timer.Stop()
	delete(r.entries, key)
	r.retired[key] = r.now()
}

func (r *Registry) pruneRetiredLocked(now time.Time) {
	for key, at := range r.retired {
		if now.Sub(at) > r.retention {
			delete(r.retired, key)
		}
	}
}
