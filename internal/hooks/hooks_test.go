package hooks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soyeahso/multiclube/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager() *Manager {
	return NewManager(logging.New(nil, "silent"))
}

func TestEmit_RunsHandlersInOrderWithPayload(t *testing.T) {
	m := testManager()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("BRT", -3*3600))
	m.now = func() time.Time { return fixed }

	var got []Payload
	var order []string
	for _, name := range []string{"first", "second"} {
		m.On(EventSaleCompleted, name, func(_ context.Context, p Payload) error {
			order = append(order, name)
			got = append(got, p)
			return nil
		})
	}

	m.Emit(context.Background(), EventSaleCompleted, map[string]any{"transactionKey": "k-1"})

	assert.Equal(t, []string{"first", "second"}, order)
	require.Len(t, got, 2)
	assert.Equal(t, EventSaleCompleted, got[0].Event)
	assert.Equal(t, "k-1", got[0].Data["transactionKey"])
	assert.Equal(t, fixed.UTC(), got[0].Time)
	assert.Equal(t, time.UTC, got[0].Time.Location())
}

func TestEmit_ErrorDoesNotStopLaterHandlers(t *testing.T) {
	m := testManager()

	var secondCalled bool
	m.On(EventServerStart, "failing", func(_ context.Context, _ Payload) error {
		return errors.New("handler broke")
	})
	m.On(EventServerStart, "second", func(_ context.Context, _ Payload) error {
		secondCalled = true
		return nil
	})

	m.Emit(context.Background(), EventServerStart, nil)
	assert.True(t, secondCalled)
}

func TestEmit_OnlyMatchingEvent(t *testing.T) {
	m := testManager()
	var calls int
	m.On(EventSaleTimedOut, "t", func(_ context.Context, _ Payload) error {
		calls++
		return nil
	})

	m.Emit(context.Background(), EventSaleCompleted, nil)
	m.Emit(context.Background(), EventServerStop, nil)
	assert.Zero(t, calls)
}

func TestNilManager(t *testing.T) {
	var m *Manager
	assert.NotPanics(t, func() {
		m.Emit(context.Background(), EventSaleCompleted, nil)
		m.EmitAsync(context.Background(), EventSessionEnd, nil)
		require.NoError(t, m.Wait(context.Background()))
	})
}

func TestEmitAsync_WaitFlushesHandlers(t *testing.T) {
	m := testManager()

	var count atomic.Int32
	release := make(chan struct{})
	for _, name := range []string{"a", "b"} {
		m.On(EventSessionEnd, name, func(_ context.Context, _ Payload) error {
			<-release
			count.Add(1)
			return nil
		})
	}

	m.EmitAsync(context.Background(), EventSessionEnd, map[string]any{"sessionId": "s-1"})

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Wait(short), context.DeadlineExceeded)

	close(release)
	require.NoError(t, m.Wait(context.Background()))
	assert.Equal(t, int32(2), count.Load())
}

func TestEmitAsync_HandlerSeesSnapshot(t *testing.T) {
	m := testManager()
	got := make(chan string, 2)
	m.On(EventSessionStart, "early", func(_ context.Context, _ Payload) error {
		got <- "early"
		return nil
	})

	m.EmitAsync(context.Background(), EventSessionStart, nil)
	m.On(EventSessionStart, "late", func(_ context.Context, _ Payload) error {
		got <- "late"
		return nil
	})
	require.NoError(t, m.Wait(context.Background()))

	close(got)
	var names []string
	for n := range got {
		names = append(names, n)
	}
	assert.Equal(t, []string{"early"}, names)
}

func TestCount(t *testing.T) {
	m := testManager()
	assert.Equal(t, 0, m.Count(EventServerStart))

	m.On(EventServerStart, "h1", func(_ context.Context, _ Payload) error { return nil })
	m.On(EventServerStart, "h2", func(_ context.Context, _ Payload) error { return nil })
	assert.Equal(t, 2, m.Count(EventServerStart))
	assert.Equal(t, 0, m.Count(EventServerStop))
}

func TestAllEvents_Unique(t *testing.T) {
	seen := map[string]bool{}
	for _, ev := range AllEvents {
		assert.False(t, seen[ev], "duplicate event %s", ev)
		seen[ev] = true
	}
	assert.Len(t, AllEvents, 9)
}
