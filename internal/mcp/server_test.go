package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/multiclube/internal/logging"
)

func testServer() *Server {
	s := NewServer("multiclube", "test", "Sell tickets.", logging.New(nil, "silent"))
	s.AddTool(Tool{
		Name:        "echo",
		Description: "Echo the text argument",
		InputSchema: InputSchema{
			Type:       "object",
			Properties: map[string]Property{"text": {Type: "string"}},
			Required:   []string{"text"},
		},
	}, func(_ context.Context, args json.RawMessage) ToolResult {
		var in struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(args, &in); err != nil || in.Text == "" {
			return ErrorResult("text is required")
		}
		return TextResult(in.Text)
	})
	return s
}

func request(id, method, params string) JSONRPCRequest {
	req := JSONRPCRequest{JSONRPC: "2.0", Method: method}
	if id != "" {
		req.ID = json.RawMessage(id)
	}
	if params != "" {
		req.Params = json.RawMessage(params)
	}
	return req
}

type recordingNotifier struct {
	mu      sync.Mutex
	methods []string
	params  []any
}

func (r *recordingNotifier) Notify(method string, params any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods = append(r.methods, method)
	r.params = append(r.params, params)
	return nil
}

func TestInitialize(t *testing.T) {
	s := testServer()

	resp := s.Handle(context.Background(), request("1", "initialize",
		`{"protocolVersion":"2024-11-05","clientInfo":{"name":"claude","version":"1"}}`), nil)
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
	assert.Equal(t, json.RawMessage("1"), resp.ID)

	result, ok := resp.Result.(InitializeResult)
	require.True(t, ok)
	assert.Equal(t, "2024-11-05", result.ProtocolVersion)
	assert.Equal(t, "multiclube", result.ServerInfo.Name)
	assert.Equal(t, "Sell tickets.", result.Instructions)
	assert.NotNil(t, result.Capabilities.Tools)
}

func TestInitialize_UnknownVersion(t *testing.T) {
	s := testServer()
	resp := s.Handle(context.Background(), request("1", "initialize", `{"protocolVersion":"1999-01-01"}`), nil)
	require.Nil(t, resp.Error)
	assert.Equal(t, DefaultProtocolVersion, resp.Result.(InitializeResult).ProtocolVersion)
}

func TestPing(t *testing.T) {
	resp := testServer().Handle(context.Background(), request(`"p"`, "ping", ""), nil)
	require.Nil(t, resp.Error)
	assert.Equal(t, json.RawMessage(`"p"`), resp.ID)
}

func TestToolsList(t *testing.T) {
	resp := testServer().Handle(context.Background(), request("2", "tools/list", ""), nil)
	require.Nil(t, resp.Error)

	result := resp.Result.(ListToolsResult)
	require.Len(t, result.Tools, 1)
	assert.Equal(t, "echo", result.Tools[0].Name)
}

func TestToolsCall(t *testing.T) {
	s := testServer()

	resp := s.Handle(context.Background(), request("3", "tools/call", `{"name":"echo","arguments":{"text":"olá"}}`), nil)
	require.Nil(t, resp.Error)
	result := resp.Result.(ToolResult)
	assert.False(t, result.IsError)
	assert.Equal(t, "olá", result.Content[0].Text)

	resp = s.Handle(context.Background(), request("4", "tools/call", `{"name":"echo"}`), nil)
	result = resp.Result.(ToolResult)
	assert.True(t, result.IsError)
	assert.Equal(t, "text is required", result.Content[0].Text)
}

func TestToolsCall_UnknownTool(t *testing.T) {
	resp := testServer().Handle(context.Background(), request("5", "tools/call", `{"name":"nope"}`), nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestToolsCall_BadParams(t *testing.T) {
	resp := testServer().Handle(context.Background(), request("6", "tools/call", `[1,2]`), nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestToolsCall_PanicBecomesErrorResult(t *testing.T) {
	s := testServer()
	s.AddTool(Tool{Name: "boom"}, func(context.Context, json.RawMessage) ToolResult { panic("kaput") })

	resp := s.Handle(context.Background(), request("7", "tools/call", `{"name":"boom"}`), nil)
	require.Nil(t, resp.Error)
	result := resp.Result.(ToolResult)
	assert.True(t, result.IsError)
	assert.NotContains(t, result.Content[0].Text, "kaput")
}

func TestAddTool_Replaces(t *testing.T) {
	s := testServer()
	s.AddTool(Tool{Name: "echo", Description: "v2"}, func(context.Context, json.RawMessage) ToolResult { return TextResult("v2") })

	tools := s.Tools()
	require.Len(t, tools, 1)
	assert.Equal(t, "v2", tools[0].Description)
}

func TestMethodNotFound(t *testing.T) {
	resp := testServer().Handle(context.Background(), request("8", "resources/list", ""), nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestNotificationsGetNoResponse(t *testing.T) {
	s := testServer()
	assert.Nil(t, s.Handle(context.Background(), request("", "notifications/initialized", ""), nil))
	assert.Nil(t, s.Handle(context.Background(), request("", "notifications/cancelled", `{"requestId":1}`), nil))
}

func TestInvalidRequest(t *testing.T) {
	resp := testServer().Handle(context.Background(), JSONRPCRequest{ID: json.RawMessage("9"), Method: "ping"}, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)
}

func TestHandleBytes_ParseError(t *testing.T) {
	resp := testServer().HandleBytes(context.Background(), []byte(`{not json`), nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeParseError, resp.Error.Code)
	assert.Equal(t, json.RawMessage("null"), resp.ID)
}

func TestReportProgress(t *testing.T) {
	s := testServer()
	s.AddTool(Tool{Name: "slow"}, func(ctx context.Context, _ json.RawMessage) ToolResult {
		ReportProgress(ctx, 1, 2, "halfway")
		return TextResult("done")
	})

	n := &recordingNotifier{}
	resp := s.Handle(context.Background(), request("10", "tools/call", `{"name":"slow","_meta":{"progressToken":"tok"}}`), n)
	require.Nil(t, resp.Error)
	require.Equal(t, []string{"notifications/progress"}, n.methods)

	p := n.params[0].(progressParams)
	assert.Equal(t, json.RawMessage(`"tok"`), p.ProgressToken)
	assert.Equal(t, "halfway", p.Message)

	// Without a token nothing is sent.
	n2 := &recordingNotifier{}
	s.Handle(context.Background(), request("11", "tools/call", `{"name":"slow"}`), n2)
	assert.Empty(t, n2.methods)
}

func TestServeStdio(t *testing.T) {
	s := testServer()
	in := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26"}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		``,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}`,
		`garbage`,
	}, "\n") + "\n"

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- s.ServeStdio(context.Background(), strings.NewReader(in), pw)
		pw.Close()
	}()

	byID := map[string]map[string]any{}
	sc := bufio.NewScanner(pr)
	for sc.Scan() {
		var msg map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &msg))
		byID[string(mustJSON(t, msg["id"]))] = msg
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ServeStdio did not return")
	}

	require.Len(t, byID, 3)
	assert.Contains(t, byID["1"], "result")
	assert.Equal(t, "hi", byID["2"]["result"].(map[string]any)["content"].([]any)[0].(map[string]any)["text"])
	assert.Equal(t, float64(CodeParseError), byID["null"]["error"].(map[string]any)["code"])
}

func TestServeStdio_ContextCancel(t *testing.T) {
	s := testServer()
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ServeStdio(ctx, pr, io.Discard) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("ServeStdio ignored cancellation")
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestNegotiateVersion(t *testing.T) {
	assert.Equal(t, "2025-06-18", NegotiateVersion("2025-06-18"))
	assert.Equal(t, DefaultProtocolVersion, NegotiateVersion(""))
}
