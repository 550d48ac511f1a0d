package callback

import (
	"context"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/soyeahso/multiclube/internal/hooks"
	"github.com/soyeahso/multiclube/internal/logging"
	"github.com/soyeahso/multiclube/internal/pending"
)

// Resolver completes a pending call. *pending.Registry implements it.
type Resolver interface {
	Resolve(key string, payload pending.Payload) bool
}

// Disposition is the outcome of a callback.
type Disposition int

const (
	// Acknowledged means the callback completed an in-flight sale.
	Acknowledged Disposition = iota
	// NotFound means no in-flight sale matched the key.
	NotFound
)

func (d Disposition) String() string {
	if d == Acknowledged {
		return "acknowledged"
	}
	return "not_found"
}

// DefaultMaxBodyBytes caps callback bodies when the receiver is built
// without an explicit limit.
const DefaultMaxBodyBytes = 1 << 20

// Receiver accepts provider callbacks.
type Receiver struct {
	resolver Resolver
	hooks    *hooks.Manager
	log      *logging.Logger
	maxBody  int64
}

// NewReceiver creates a Receiver resolving through r. hm may be nil.
func NewReceiver(r Resolver, hm *hooks.Manager, log *logging.Logger, maxBody int64) *Receiver {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &Receiver{
		resolver: r,
		hooks:    hm,
		log:      log.Sub("callback"),
		maxBody:  maxBody,
	}
}

// HandleCallback parses raw and resolves the call registered under key.
func (rc *Receiver) HandleCallback(key string, raw []byte) Disposition {
	return rc.deliver(context.Background(), key, Parse(raw))
}

func (rc *Receiver) deliver(ctx context.Context, key string, payload pending.Payload) Disposition {
	d := NotFound
	if key != "" && rc.resolver.Resolve(key, payload) {
		d = Acknowledged
	}

	ev := rc.log.Info()
	if d == NotFound {
		ev = rc.log.Warn()
	}
	ev.Str("key", key).Str("disposition", d.String()).Int("fields", len(payload)).Msg("callback received")

	rc.hooks.EmitAsync(context.WithoutCancel(ctx), hooks.EventCallbackReceived, map[string]any{
		"transactionKey": key,
		"matched":        d == Acknowledged,
	})
	return d
}

// ServeHTTP handles POST /webhook/{transactionKey}. The status code is
// informational: 200 "OK" when a sale was waiting, 404 "Not Found"
// otherwise.
func (rc *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "transactionKey")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, rc.maxBody))
	if err != nil {
		rc.log.Warn().Err(err).Str("key", key).Msg("reading callback body")
		http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
		return
	}

	payload := Parse(body)
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "application/x-www-form-urlencoded" {
		if form, err := ParseForm(body); err == nil {
			payload = form
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if rc.deliver(r.Context(), key, payload) == Acknowledged {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "OK")
		return
	}
	w.WriteHeader(http.StatusNotFound)
	_, _ = io.WriteString(w, "Not Found")
}
