package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/soyeahso/multiclube/internal/config"
	"github.com/soyeahso/multiclube/internal/gateway"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		port  int
		bind  string
		stdio bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP gateway and the payment webhook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyServeOverrides(&cfg, cmd.Flags().Changed("port"), port, bind)

			for _, issue := range config.Validate(&cfg) {
				log.Warn().Str("path", issue.Path).Msg(issue.Message)
			}

			a, err := newApp(cfg, paths, true, log)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := gateway.New(cfg, gateway.Deps{
				Sessions: a.sessions,
				Pending:  a.pending,
			}, log, gateway.WithHooks(a.hooks))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !stdio {
				return srv.Start(ctx)
			}

			// The webhook still has to be reachable, so stdio runs next to
			// the HTTP server and stops everything when stdin closes.
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			httpErr := make(chan error, 1)
			go func() { httpErr <- srv.Start(ctx) }()

			select {
			case <-srv.Ready():
			case err := <-httpErr:
				return err
			}

			stdioErr := a.mcp.ServeStdio(ctx, os.Stdin, os.Stdout)
			cancel()
			err = <-httpErr
			if stdioErr != nil && !errors.Is(stdioErr, context.Canceled) {
				return stdioErr
			}
			return err
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides server.port)")
	cmd.Flags().StringVar(&bind, "bind", "", "bind mode: loopback, lan or custom")
	cmd.Flags().BoolVar(&stdio, "stdio", false, "also serve one MCP session on stdin/stdout")

	return cmd
}

// applyServeOverrides applies --port and --bind. A webhook base URL that
// was derived from the configured port follows the new port.
func applyServeOverrides(c *config.Config, portSet bool, port int, bind string) {
	if portSet && port > 0 && port != c.Server.Port {
		if c.Webhook.BaseURL == fmt.Sprintf("http://localhost:%d", c.Server.Port) {
			c.Webhook.BaseURL = fmt.Sprintf("http://localhost:%d", port)
		}
		c.Server.Port = port
	}
	if bind != "" {
		c.Server.Bind = bind
	}
}
