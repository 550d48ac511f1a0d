package session

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/multiclube/internal/hooks"
	"github.com/soyeahso/multiclube/internal/logging"
	"github.com/soyeahso/multiclube/internal/mcp"
)

const initializeBody = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","clientInfo":{"name":"test","version":"1"}}}`

type fixture struct {
	reg    *Registry
	srv    *httptest.Server
	events *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (e *eventLog) record(_ context.Context, p hooks.Payload) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, p.Event)
	return nil
}

func (e *eventLog) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logging.New(nil, "silent")

	server := mcp.NewServer("multiclube", "test", "", log)
	server.AddTool(mcp.Tool{Name: "notify"}, func(ctx context.Context, _ json.RawMessage) mcp.ToolResult {
		mcp.ReportProgress(ctx, 1, 1, "tick")
		return mcp.TextResult("ok")
	})

	events := &eventLog{}
	hm := hooks.NewManager(log)
	hm.On(hooks.EventSessionStart, "test", events.record)
	hm.On(hooks.EventSessionEnd, "test", events.record)

	reg := NewRegistry(server, hm, log)
	srv := httptest.NewServer(NewHandler(reg, log, HandlerOptions{KeepAlive: time.Hour}))
	t.Cleanup(func() {
		reg.CloseAll()
		srv.Close()
	})
	return &fixture{reg: reg, srv: srv, events: events}
}

func (f *fixture) post(t *testing.T, sessionID, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.srv.URL, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(HeaderSessionID, sessionID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var msg map[string]any
	if len(data) > 0 && data[0] == '{' {
		require.NoError(t, json.Unmarshal(data, &msg))
	}
	return resp, msg
}

func (f *fixture) delete(t *testing.T, sessionID string) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, f.srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set(HeaderSessionID, sessionID)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func (f *fixture) initialize(t *testing.T) string {
	t.Helper()
	resp, msg := f.post(t, "", initializeBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, msg, "result")
	id := resp.Header.Get(HeaderSessionID)
	require.NotEmpty(t, id)
	return id
}

func rpcCode(msg map[string]any) int {
	e, ok := msg["error"].(map[string]any)
	if !ok {
		return 0
	}
	return int(e["code"].(float64))
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)

	id := f.initialize(t)
	assert.Equal(t, 1, f.reg.Len())

	tr, err := f.reg.Get(id)
	require.NoError(t, err)

	resp, msg := f.post(t, id, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, msg, "result")

	again, err := f.reg.Get(id)
	require.NoError(t, err)
	assert.Same(t, tr, again)

	assert.Equal(t, http.StatusOK, f.delete(t, id))
	assert.Equal(t, http.StatusNotFound, f.delete(t, id))
	assert.Equal(t, 0, f.reg.Len())

	_, err = f.reg.Get(id)
	assert.ErrorIs(t, err, ErrNotFound)

	require.Eventually(t, func() bool {
		return len(f.events.list()) == 2
	}, time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{hooks.EventSessionStart, hooks.EventSessionEnd}, f.events.list())
}

func TestInitializeCreatesDistinctSessions(t *testing.T) {
	f := newFixture(t)
	a := f.initialize(t)
	b := f.initialize(t)
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, f.reg.Len())
}

func TestNoSession(t *testing.T) {
	f := newFixture(t)

	resp, msg := f.post(t, "", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, mcp.CodeNoSession, rpcCode(msg))

	resp, msg = f.post(t, "not-a-session", `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, mcp.CodeNoSession, rpcCode(msg))
	assert.Empty(t, resp.Header.Get(HeaderSessionID))
	assert.Equal(t, 0, f.reg.Len())
}

func TestFailedInitializeRegistersNothing(t *testing.T) {
	f := newFixture(t)

	resp, msg := f.post(t, "", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":[1]}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, mcp.CodeInvalidParams, rpcCode(msg))
	assert.Empty(t, resp.Header.Get(HeaderSessionID))
	assert.Equal(t, 0, f.reg.Len())
}

func TestReinitializeRefused(t *testing.T) {
	f := newFixture(t)
	id := f.initialize(t)

	_, msg := f.post(t, id, initializeBody)
	assert.Equal(t, mcp.CodeInvalidRequest, rpcCode(msg))
	assert.Equal(t, 1, f.reg.Len())
}

func TestNotificationAccepted(t *testing.T) {
	f := newFixture(t)
	id := f.initialize(t)

	resp, _ := f.post(t, id, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestBatch(t *testing.T) {
	f := newFixture(t)
	id := f.initialize(t)

	req, err := http.NewRequest(http.MethodPost, f.srv.URL, strings.NewReader(
		`[{"jsonrpc":"2.0","id":1,"method":"ping"},{"jsonrpc":"2.0","method":"notifications/initialized"},{"jsonrpc":"2.0","id":2,"method":"tools/list"}]`))
	require.NoError(t, err)
	req.Header.Set(HeaderSessionID, id)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var msgs []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msgs))
	assert.Len(t, msgs, 2)
}

func TestParseError(t *testing.T) {
	f := newFixture(t)
	resp, msg := f.post(t, "", `{oops`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, mcp.CodeParseError, rpcCode(msg))
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	req, err := http.NewRequest(http.MethodPut, f.srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "GET, POST, DELETE", resp.Header.Get("Allow"))
}

func TestGetWithoutSession(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSSEStream(t *testing.T) {
	f := newFixture(t)
	id := f.initialize(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set(HeaderSessionID, id)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Progress from a tool call on POST arrives on the stream.
	_, msg := f.post(t, id, `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"notify","_meta":{"progressToken":"p1"}}}`)
	require.Contains(t, msg, "result")

	reader := bufio.NewReader(resp.Body)
	var data string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
			break
		}
	}
	var note map[string]any
	require.NoError(t, json.Unmarshal([]byte(data), &note))
	assert.Equal(t, "notifications/progress", note["method"])

	// Dropping the stream closes the session.
	cancel()
	require.Eventually(t, func() bool { return f.reg.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestWebSocketStream(t *testing.T) {
	f := newFixture(t)
	id := f.initialize(t)

	hdr := http.Header{}
	hdr.Set(HeaderSessionID, id)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(f.srv.URL), hdr)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, id, resp.Header.Get(HeaderSessionID))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"jsonrpc":"2.0","id":9,"method":"tools/call","params":{"name":"notify","_meta":{"progressToken":1}}}`)))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var gotProgress, gotResult bool
	for !(gotProgress && gotResult) {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg map[string]any
		require.NoError(t, json.Unmarshal(data, &msg))
		switch {
		case msg["method"] == "notifications/progress":
			gotProgress = true
		case msg["id"] == float64(9):
			gotResult = true
		}
	}

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`nope`)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"code":-32700`)

	conn.Close()
	require.Eventually(t, func() bool { return f.reg.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketClosedByDelete(t *testing.T) {
	f := newFixture(t)
	id := f.initialize(t)

	hdr := http.Header{}
	hdr.Set(HeaderSessionID, id)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(f.srv.URL), hdr)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, http.StatusOK, f.delete(t, id))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestCloseAll(t *testing.T) {
	f := newFixture(t)
	f.initialize(t)
	f.initialize(t)
	require.Equal(t, 2, f.reg.Len())

	f.reg.CloseAll()
	assert.Equal(t, 0, f.reg.Len())
}

func TestTransport_NotifyAfterClose(t *testing.T) {
	f := newFixture(t)
	tr := f.reg.NewTransport()
	tr.Close()
	tr.Close()
	assert.ErrorIs(t, tr.Notify("x", nil), ErrTransportClosed)
}

func TestTransport_SingleStream(t *testing.T) {
	f := newFixture(t)
	tr := f.reg.NewTransport()
	assert.True(t, tr.claimStream())
	assert.False(t, tr.claimStream())
	tr.releaseStream()
	assert.True(t, tr.claimStream())
}

func TestRegistry_GetEmptyID(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.Get("")
	assert.ErrorIs(t, err, ErrNoSession)
	assert.ErrorIs(t, f.reg.Close(""), ErrNoSession)
}
