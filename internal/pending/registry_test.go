package pending

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/multiclube/internal/logging"
)

func newTestRegistry(timeout time.Duration) *Registry {
	return New(Options{Timeout: timeout, Logger: logging.New(nil, "silent")})
}

func TestRegisterAndResolve(t *testing.T) {
	r := newTestRegistry(time.Second)

	h, err := r.Register("k1")
	require.NoError(t, err)
	assert.Equal(t, "k1", h.Key)
	assert.Equal(t, time.Second, h.Deadline.Sub(h.CreatedAt))
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.Resolve("k1", Payload{"value": "167.00"}))

	p, err := r.Await(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, "167.00", p["value"])
	assert.Equal(t, 0, r.Len())
}

func TestResolveNilPayloadBecomesEmpty(t *testing.T) {
	r := newTestRegistry(time.Second)
	h, err := r.Register("k")
	require.NoError(t, err)

	require.True(t, r.Resolve("k", nil))
	p, err := r.Await(context.Background(), h)
	require.NoError(t, err)
	assert.NotNil(t, p)
	assert.Empty(t, p)
}

func TestDuplicateKey(t *testing.T) {
	r := newTestRegistry(time.Second)

	_, err := r.Register("dup")
	require.NoError(t, err)

	_, err = r.Register("dup")
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestRetiredKeyCannotBeReused(t *testing.T) {
	r := newTestRegistry(time.Second)

	h, err := r.Register("once")
	require.NoError(t, err)
	require.True(t, r.Resolve("once", Payload{}))
	_, err = r.Await(context.Background(), h)
	require.NoError(t, err)

	_, err = r.Register("once")
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestRetiredKeysArePrunedAfterRetention(t *testing.T) {
	r := New(Options{Timeout: time.Second, Retention: time.Minute, Logger: logging.New(nil, "silent")})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	_, err := r.Register("old")
	require.NoError(t, err)
	require.True(t, r.Cancel("old"))

	now = now.Add(2 * time.Minute)
	h, err := r.Register("old")
	require.NoError(t, err)
	r.Cancel(h.Key)
}

func TestDoubleResolve(t *testing.T) {
	r := newTestRegistry(time.Second)
	h, err := r.Register("k")
	require.NoError(t, err)

	assert.True(t, r.Resolve("k", Payload{"n": 1}))
	assert.False(t, r.Resolve("k", Payload{"n": 2}))

	p, err := r.Await(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, 1, p["n"])
}

func TestResolveUnknownKey(t *testing.T) {
	r := newTestRegistry(time.Second)
	_, err := r.Register("known")
	require.NoError(t, err)

	assert.False(t, r.Resolve("unknown", Payload{}))
	assert.Equal(t, 1, r.Len())
}

func TestLateCallbackLoggedAsStale(t *testing.T) {
	var buf bytes.Buffer
	r := New(Options{Timeout: time.Second, Logger: logging.New(&buf, "debug")})
	h, err := r.Register("done")
	require.NoError(t, err)
	require.True(t, r.Resolve("done", Payload{}))
	_, err = r.Await(context.Background(), h)
	require.NoError(t, err)

	buf.Reset()
	assert.False(t, r.Resolve("done", Payload{}))
	assert.Contains(t, buf.String(), "stale callback for finished call ignored")
	assert.Contains(t, buf.String(), `"level":"warn"`)

	buf.Reset()
	assert.False(t, r.Resolve("never-registered", Payload{}))
	assert.Contains(t, buf.String(), "resolve for unknown key ignored")
	assert.NotContains(t, buf.String(), "stale")
}

func TestKeysAreIsolated(t *testing.T) {
	r := newTestRegistry(time.Second)
	a, err := r.Register("a")
	require.NoError(t, err)
	b, err := r.Register("b")
	require.NoError(t, err)

	require.True(t, r.Resolve("b", Payload{"who": "b"}))
	require.True(t, r.Resolve("a", Payload{"who": "a"}))

	pa, err := r.Await(context.Background(), a)
	require.NoError(t, err)
	pb, err := r.Await(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, "a", pa["who"])
	assert.Equal(t, "b", pb["who"])
}

func TestTimeoutThenLateResolve(t *testing.T) {
	r := newTestRegistry(30 * time.Millisecond)
	h, err := r.Register("slow")
	require.NoError(t, err)

	start := time.Now()
	_, err = r.Await(context.Background(), h)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, 0, r.Len())

	assert.False(t, r.Resolve("slow", Payload{}))
}

func TestTimeoutDoesNotAffectOtherKeys(t *testing.T) {
	r := newTestRegistry(50 * time.Millisecond)
	slow, err := r.Register("slow")
	require.NoError(t, err)
	fast, err := r.Register("fast")
	require.NoError(t, err)

	require.True(t, r.Resolve("fast", Payload{"ok": true}))
	p, err := r.Await(context.Background(), fast)
	require.NoError(t, err)
	assert.Equal(t, true, p["ok"])

	_, err = r.Await(context.Background(), slow)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestCancel(t *testing.T) {
	r := newTestRegistry(time.Second)
	h, err := r.Register("c")
	require.NoError(t, err)

	assert.True(t, r.Cancel("c"))
	assert.False(t, r.Cancel("c"))
	assert.False(t, r.Resolve("c", Payload{}))
	assert.Equal(t, 0, r.Len())

	_, err = r.Await(context.Background(), h)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestAwaitContextCancelled(t *testing.T) {
	r := newTestRegistry(time.Second)
	h, err := r.Register("ctx")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = r.Await(ctx, h)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.Resolve("ctx", Payload{}))
}

func TestAwaitContextCancelledAfterResolve(t *testing.T) {
	r := newTestRegistry(time.Second)
	h, err := r.Register("won")
	require.NoError(t, err)
	require.True(t, r.Resolve("won", Payload{"paid": true}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Either branch of the select may run; the resolution must win both.
	p, err := r.Await(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, true, p["paid"])
}

func TestClose(t *testing.T) {
	r := newTestRegistry(time.Minute)
	h1, err := r.Register("one")
	require.NoError(t, err)
	h2, err := r.Register("two")
	require.NoError(t, err)

	r.Close()
	assert.Equal(t, 0, r.Len())

	_, err = r.Await(context.Background(), h1)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = r.Await(context.Background(), h2)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = r.Register("three")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDefaults(t *testing.T) {
	r := New(Options{})
	assert.Equal(t, DefaultTimeout, r.Timeout())
	assert.Equal(t, DefaultRetention, r.retention)
}

func TestConcurrentResolveExactlyOnce(t *testing.T) {
	r := newTestRegistry(time.Second)

	const keys = 50
	handles := make([]*Handle, keys)
	for i := range handles {
		h, err := r.Register(fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
		handles[i] = h
	}

	var wins atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < keys; i++ {
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func(i, j int) {
				defer wg.Done()
				if r.Resolve(fmt.Sprintf("key-%d", i), Payload{"by": j}) {
					wins.Add(1)
				}
			}(i, j)
		}
	}
	wg.Wait()

	assert.Equal(t, int64(keys), wins.Load())
	for _, h := range handles {
		_, err := r.Await(context.Background(), h)
		require.NoError(t, err)
	}
	assert.Equal(t, 0, r.Len())
}
