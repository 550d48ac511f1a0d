// Package gateway is the HTTP server hosting the MCP endpoint, the
// provider webhook and the health check.
package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/soyeahso/multiclube/internal/callback"
	"github.com/soyeahso/multiclube/internal/config"
	"github.com/soyeahso/multiclube/internal/hooks"
	"github.com/soyeahso/multiclube/internal/logging"
	"github.com/soyeahso/multiclube/internal/pending"
	"github.com/soyeahso/multiclube/internal/session"
)

const shutdownTimeout = 10 * time.Second

// Deps are the components the server routes to.
type Deps struct {
	Sessions *session.Registry
	Pending  *pending.Registry
}

// Server is the multiclube HTTP server.
type Server struct {
	cfg      config.Config
	log      *logging.Logger
	sessions *session.Registry
	pending  *pending.Registry
	hooks    *hooks.Manager

	mcp       http.Handler
	callbacks *callback.Receiver
	limiter   *authRateLimiter

	mu         sync.Mutex
	httpServer *http.Server
	addr       string
	ready      chan struct{}
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithHooks sets the hook manager for lifecycle events.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) {
		s.hooks = hm
	}
}

// New creates the server.
func New(cfg config.Config, deps Deps, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:      cfg,
		log:      log.Sub("gateway"),
		sessions: deps.Sessions,
		pending:  deps.Pending,
		limiter:  newAuthRateLimiter(),
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = session.NewHandler(deps.Sessions, log, session.HandlerOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	s.callbacks = callback.NewReceiver(deps.Pending, s.hooks, log, cfg.Webhook.MaxBodyBytes)
	return s
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.ServerConfig) string {
	switch cfg.Bind {
	case "loopback":
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	case "lan", "auto":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Start listens and serves until ctx is cancelled, then drains pending
// sales and sessions and shuts down.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg.Server)

	// Long tool calls and streams clear their own write deadline.
	writeTimeout := time.Duration(s.cfg.Webhook.TimeoutSeconds)*time.Second + 30*time.Second
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if s.cfg.Server.TLS.Enabled {
		cert, err := tls.LoadX509KeyPair(s.cfg.Server.TLS.CertPath, s.cfg.Server.TLS.KeyPath)
		if err != nil {
			ln.Close()
			return fmt.Errorf("loading TLS certificate: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
		s.log.Info().Msg("TLS enabled")
	} else if s.cfg.Server.Bind != "loopback" && s.cfg.Server.Auth.Token != "" {
		s.log.Warn().Msg("TLS is not enabled, the bearer token travels in cleartext")
	}

	s.mu.Lock()
	s.httpServer = httpServer
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	close(s.ready)

	s.log.Info().
		Str("addr", s.Addr()).
		Str("bind", s.cfg.Server.Bind).
		Bool("auth", s.cfg.Server.Auth.Token != "").
		Str("webhookBase", s.cfg.Webhook.BaseURL).
		Msg("gateway server ready")

	s.hooks.Emit(ctx, hooks.EventServerStart, map[string]any{"addr": s.Addr()})

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.shutdown(httpServer)
	}()

	err = httpServer.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-stopped
	return nil
}

func (s *Server) shutdown(httpServer *http.Server) {
	s.log.Info().
		Int("pendingSales", s.pending.Len()).
		Int("sessions", s.sessions.Len()).
		Msg("shutting down gateway server")

	s.hooks.Emit(context.Background(), hooks.EventServerStop, nil)

	// Waiting sales end with pending.ErrClosed so their requests finish.
	s.pending.Close()
	s.sessions.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Warn().Err(err).Msg("graceful shutdown incomplete")
	}
}

// Ready is closed once the server is listening.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the listen address, or empty string if not started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
