package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/soyeahso/multiclube/internal/config"
	"github.com/soyeahso/multiclube/internal/hooks"
	"github.com/soyeahso/multiclube/internal/logging"
	"github.com/soyeahso/multiclube/internal/mcp"
	"github.com/soyeahso/multiclube/internal/pending"
	"github.com/soyeahso/multiclube/internal/pricing"
	"github.com/soyeahso/multiclube/internal/provider"
	"github.com/soyeahso/multiclube/internal/sale"
	"github.com/soyeahso/multiclube/internal/session"
	"github.com/soyeahso/multiclube/internal/store"
	"github.com/soyeahso/multiclube/internal/tools"
	"github.com/soyeahso/multiclube/internal/version"
)

// app holds the wired components shared by serve and the one-shot
// commands.
type app struct {
	db        *store.DB
	sales     *store.SaleStore
	hooks     *hooks.Manager
	pending   *pending.Registry
	provider  *provider.Client
	initiator *sale.Initiator
	mcp       *mcp.Server
	sessions  *session.Registry
	log       *logging.Logger
}

// newApp wires the stack from cfg. withStore opens the sales database
// when persistence is enabled.
func newApp(cfg config.Config, p config.Paths, withStore bool, log *logging.Logger) (*app, error) {
	a := &app{hooks: hooks.NewManager(log), log: log}

	if n := hooks.RegisterConfigured(a.hooks, cfg.Hooks); n > 0 {
		log.Info().Int("count", n).Msg("registered command hooks")
	}

	if withStore && cfg.Store.StoreEnabled() {
		if err := p.EnsureDirs(); err != nil {
			return nil, fmt.Errorf("creating directories: %w", err)
		}
		db, err := store.Open(p.DatabasePath(cfg.Store), log)
		if err != nil {
			return nil, fmt.Errorf("opening sales store: %w", err)
		}
		a.db = db
		a.sales = store.NewSaleStore(db)
	}

	a.pending = pending.New(pending.Options{
		Timeout:   time.Duration(cfg.Webhook.TimeoutSeconds) * time.Second,
		Retention: time.Duration(cfg.Webhook.RetentionMinutes) * time.Minute,
		Logger:    log,
	})
	a.provider = provider.New(cfg.Provider, nil, log)

	opts := sale.Options{
		Catalog:        a.provider,
		Seller:         a.provider,
		Pricer:         pricing.FromConfig(cfg.Pricing),
		Registry:       a.pending,
		Hooks:          a.hooks,
		WebhookBaseURL: cfg.Webhook.BaseURL,
		DueDays:        cfg.Provider.DueDays,
		Logger:         log,
	}
	if a.sales != nil {
		opts.Recorder = a.sales
	}
	a.initiator = sale.NewInitiator(opts)

	a.mcp = mcp.NewServer(version.Name, version.Version, tools.Instructions, log)
	tools.Register(a.mcp, a.initiator, log)
	a.sessions = session.NewRegistry(a.mcp, a.hooks, log)

	return a, nil
}

// Close releases the pending registry and open sessions, gives async
// hooks time to finish, then closes the database.
func (a *app) Close() error {
	a.pending.Close()
	a.sessions.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), hooks.DefaultCommandTimeout)
	defer cancel()
	if err := a.hooks.Wait(ctx); err != nil {
		a.log.Warn().Err(err).Msg("hooks still running at exit")
	}

	if a.db != nil {
		return a.db.Close()
	}
	return nil
}
