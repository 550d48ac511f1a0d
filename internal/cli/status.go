package cli

import (
	"fmt"
	"os"

	"github.com/soyeahso/multiclube/internal/config"
	"github.com/soyeahso/multiclube/internal/store"
	"github.com/soyeahso/multiclube/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show paths and a configuration summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "multiclube %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:   %s", paths.Config)
			if _, err := os.Stat(paths.Config); os.IsNotExist(err) {
				fmt.Fprint(out, " (not found, using defaults)")
			}
			fmt.Fprintln(out)
			fmt.Fprintf(out, "Data:     %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:     %s\n\n", paths.Logs)

			auth := "off"
			if cfg.Server.Auth.Token != "" {
				auth = "bearer"
			}
			fmt.Fprintf(out, "Server:   port=%d bind=%s auth=%s tls=%v\n",
				cfg.Server.Port, cfg.Server.Bind, auth, cfg.Server.TLS.Enabled)
			fmt.Fprintf(out, "Webhook:  base=%s timeout=%ds\n",
				cfg.Webhook.BaseURL, cfg.Webhook.TimeoutSeconds)
			fmt.Fprintf(out, "Provider: %s\n", cfg.Provider.URL)
			fmt.Fprintf(out, "Pricing:  %d tier(s)\n", len(cfg.Pricing.Tiers))

			if cfg.Store.StoreEnabled() {
				dbPath := paths.DatabasePath(cfg.Store)
				fmt.Fprintf(out, "Store:    %s%s\n", dbPath, storeSummary(cmd, dbPath))
			} else {
				fmt.Fprintln(out, "Store:    disabled")
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s: %s\n", issue.Path, issue.Message)
				}
			}
			return nil
		},
	}
}

// storeSummary counts recent sales without creating a database that
// does not exist yet.
func storeSummary(cmd *cobra.Command, dbPath string) string {
	if _, err := os.Stat(dbPath); err != nil {
		return " (empty)"
	}
	db, err := store.Open(dbPath, log)
	if err != nil {
		return fmt.Sprintf(" (error: %v)", err)
	}
	defer db.Close()

	records, err := store.NewSaleStore(db).List(cmd.Context(), store.ListFilter{Limit: 1000})
	if err != nil {
		return fmt.Sprintf(" (error: %v)", err)
	}
	return fmt.Sprintf(" (%d recent sales)", len(records))
}
