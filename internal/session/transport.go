package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soyeahso/multiclube/internal/logging"
	"github.com/soyeahso/multiclube/internal/mcp"
)

// ErrTransportClosed is returned when sending on a closed transport.
var ErrTransportClosed = errors.New("session transport closed")

const outboxSize = 64

// Transport is the protocol state of one MCP session. Requests arrive on
// POST (or the WebSocket stream); server-initiated messages queue on
// the outbox until a stream drains them.
type Transport struct {
	ID        string
	CreatedAt time.Time

	server *mcp.Server
	log    *logging.Logger

	initialized atomic.Bool
	streaming   atomic.Bool

	outbox    chan []byte
	done      chan struct{}
	closeOnce sync.Once

	onInitialized func(*Transport)
	onClose       func(*Transport)
}

func newTransport(id string, server *mcp.Server, log *logging.Logger) *Transport {
	return &Transport{
		ID:        id,
		CreatedAt: time.Now(),
		server:    server,
		log:       log.With("session", id),
		outbox:    make(chan []byte, outboxSize),
		done:      make(chan struct{}),
	}
}

// Initialized reports whether initialize completed on this transport.
func (t *Transport) Initialized() bool { return t.initialized.Load() }

// Handle processes one JSON-RPC message. The first successful
// initialize fires the initialized signal; a second one is refused.
func (t *Transport) Handle(ctx context.Context, req mcp.JSONRPCRequest) *mcp.JSONRPCResponse {
	if req.Method == "initialize" && t.initialized.Load() {
		return mcp.NewErrorResponse(req.ID, mcp.CodeInvalidRequest, "Invalid Request: session already initialized")
	}

	resp := t.server.Handle(ctx, req, t)

	if req.Method == "initialize" && resp != nil && resp.Error == nil {
		if t.initialized.CompareAndSwap(false, true) && t.onInitialized != nil {
			t.onInitialized(t)
		}
	}
	return resp
}

// Notify queues a server-initiated notification. When no stream drains
// the outbox and it is full, the message is dropped.
func (t *Transport) Notify(method string, params any) error {
	data, err := json.Marshal(mcp.JSONRPCNotification{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return err
	}
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}
	select {
	case t.outbox <- data:
		return nil
	default:
		t.log.Warn().Str("method", method).Msg("outbox full, dropping notification")
		return nil
	}
}

// Outbox yields queued server-initiated messages.
func (t *Transport) Outbox() <-chan []byte { return t.outbox }

// Done is closed when the transport closes.
func (t *Transport) Done() <-chan struct{} { return t.done }

// claimStream marks the transport as having an open stream. Only one
// stream per session may drain the outbox.
func (t *Transport) claimStream() bool { return t.streaming.CompareAndSwap(false, true) }

func (t *Transport) releaseStream() { t.streaming.Store(false) }

// Close shuts the transport down and fires the close callback once.
func (t *Transport) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
		t.log.Debug().Msg("transport closed")
		if t.onClose != nil {
			t.onClose(t)
		}
	})
}
