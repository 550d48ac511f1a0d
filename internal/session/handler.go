package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soyeahso/multiclube/internal/logging"
	"github.com/soyeahso/multiclube/internal/mcp"
)

// HeaderSessionID carries the session id on every request after
// initialize.
const HeaderSessionID = "Mcp-Session-Id"

const (
	defaultMaxBody   = 4 * 1024 * 1024
	defaultKeepAlive = 25 * time.Second
	wsWriteWait      = 10 * time.Second
)

// HandlerOptions configures the /mcp endpoint.
type HandlerOptions struct {
	// AllowedOrigins restricts browser WebSocket upgrades. Requests
	// without an Origin header are always accepted.
	AllowedOrigins []string
	MaxBodyBytes   int64
	KeepAlive      time.Duration
}

// Handler serves the streamable HTTP MCP endpoint.
type Handler struct {
	reg       *Registry
	log       *logging.Logger
	maxBody   int64
	keepAlive time.Duration
	upgrader  websocket.Upgrader
}

// NewHandler creates the /mcp handler over reg.
func NewHandler(reg *Registry, log *logging.Logger, opts HandlerOptions) *Handler {
	h := &Handler{
		reg:       reg,
		log:       log.Sub("mcp-http"),
		maxBody:   opts.MaxBodyBytes,
		keepAlive: opts.KeepAlive,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			Subprotocols:    []string{"mcp"},
			CheckOrigin:     checkOrigin(opts.AllowedOrigins),
		},
	}
	if h.maxBody <= 0 {
		h.maxBody = defaultMaxBody
	}
	if h.keepAlive <= 0 {
		h.keepAlive = defaultKeepAlive
	}
	return h
}

func checkOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		writeRPCError(w, http.StatusMethodNotAllowed, mcp.CodeInvalidRequest, "Method not allowed")
	}
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeRPCError(w, http.StatusRequestEntityTooLarge, mcp.CodeInvalidRequest, "Request body too large")
			return
		}
		writeRPCError(w, http.StatusBadRequest, mcp.CodeParseError, "Parse error")
		return
	}

	reqs, batch, err := decodeMessages(body)
	if err != nil {
		writeRPCError(w, http.StatusBadRequest, mcp.CodeParseError, "Parse error")
		return
	}

	t, err := h.reg.Get(r.Header.Get(HeaderSessionID))
	if err != nil {
		if batch || len(reqs) != 1 || reqs[0].Method != "initialize" {
			h.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("request without a session")
			writeRPCError(w, http.StatusBadRequest, mcp.CodeNoSession, "Bad Request: No valid session ID provided")
			return
		}
		t = h.reg.NewTransport()
	}

	// A sale in progress ends on its own deadline, not when the HTTP
	// client goes away.
	ctx := context.WithoutCancel(r.Context())
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	var responses []*mcp.JSONRPCResponse
	for _, req := range reqs {
		if resp := t.Handle(ctx, req); resp != nil {
			responses = append(responses, resp)
		}
	}

	if t.Initialized() {
		w.Header().Set(HeaderSessionID, t.ID)
	}

	if len(responses) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if batch {
		writeJSON(w, http.StatusOK, responses)
		return
	}
	writeJSON(w, http.StatusOK, responses[0])
}

// decodeMessages accepts a single JSON-RPC message or a batch array.
func decodeMessages(body []byte) ([]mcp.JSONRPCRequest, bool, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var reqs []mcp.JSONRPCRequest
		if err := json.Unmarshal(trimmed, &reqs); err != nil {
			return nil, true, err
		}
		if len(reqs) == 0 {
			return nil, true, errors.New("empty batch")
		}
		return reqs, true, nil
	}
	req, rpcErr := mcp.DecodeRequest(trimmed)
	if rpcErr != nil {
		return nil, false, rpcErr
	}
	return []mcp.JSONRPCRequest{req}, false, nil
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	t, err := h.reg.Get(r.Header.Get(HeaderSessionID))
	if err != nil {
		writeRPCError(w, http.StatusBadRequest, mcp.CodeNoSession, "Bad Request: No valid session ID provided")
		return
	}
	if !t.claimStream() {
		writeRPCError(w, http.StatusConflict, mcp.CodeInvalidRequest, "Conflict: a stream is already open for this session")
		return
	}
	defer t.releaseStream()

	if websocket.IsWebSocketUpgrade(r) {
		h.serveWebSocket(w, r, t)
		return
	}
	h.serveSSE(w, r, t)
}

// serveSSE drains the session outbox as server-sent events until the
// client disconnects, which closes the session.
func (h *Handler) serveSSE(w http.ResponseWriter, r *http.Request, t *Transport) {
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(HeaderSessionID, t.ID)
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.log.Error().Err(err).Msg("response does not support streaming")
		return
	}

	log := h.log.With("session", t.ID)
	log.Debug().Msg("sse stream opened")

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Debug().Msg("sse client disconnected")
			t.Close()
			return
		case <-t.Done():
			return
		case msg := <-t.Outbox():
			if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg); err != nil {
				t.Close()
				return
			}
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				t.Close()
				return
			}
		}
		if err := rc.Flush(); err != nil {
			t.Close()
			return
		}
	}
}

// serveWebSocket carries the session both ways: frames from the client
// are handled as JSON-RPC messages and the outbox is written back. A
// read error closes the session.
func (h *Handler) serveWebSocket(w http.ResponseWriter, r *http.Request, t *Transport) {
	hdr := http.Header{}
	hdr.Set(HeaderSessionID, t.ID)
	conn, err := h.upgrader.Upgrade(w, r, hdr)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(h.maxBody)

	log := h.log.With("session", t.ID)
	log.Debug().Msg("websocket stream opened")

	frames := make(chan []byte, outboxSize)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Debug().Err(err).Msg("websocket read error")
				}
				return
			}
			go func() {
				var resp *mcp.JSONRPCResponse
				if req, rpcErr := mcp.DecodeRequest(msg); rpcErr != nil {
					resp = &mcp.JSONRPCResponse{JSONRPC: "2.0", ID: json.RawMessage("null"), Error: rpcErr}
				} else {
					resp = t.Handle(context.WithoutCancel(r.Context()), req)
				}
				if resp == nil {
					return
				}
				data, err := json.Marshal(resp)
				if err != nil {
					return
				}
				select {
				case frames <- data:
				case <-t.Done():
				}
			}()
		}
	}()

	defer conn.Close()
	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	write := func(data []byte) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	for {
		select {
		case <-readDone:
			log.Debug().Msg("websocket client disconnected")
			t.Close()
			return
		case <-t.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
				time.Now().Add(wsWriteWait))
			return
		case msg := <-t.Outbox():
			if err := write(msg); err != nil {
				t.Close()
				return
			}
		case msg := <-frames:
			if err := write(msg); err != nil {
				t.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				t.Close()
				return
			}
		}
	}
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(HeaderSessionID)
	if err := h.reg.Close(id); err != nil {
		if errors.Is(err, ErrNoSession) {
			writeRPCError(w, http.StatusBadRequest, mcp.CodeNoSession, "Bad Request: No valid session ID provided")
			return
		}
		writeRPCError(w, http.StatusNotFound, mcp.CodeNoSession, "Session not found")
		return
	}
	h.log.Debug().Str("session", id).Msg("session deleted by client")
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRPCError(w http.ResponseWriter, status, code int, message string) {
	writeJSON(w, status, mcp.NewErrorResponse(nil, code, message))
}
