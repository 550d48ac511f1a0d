package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/soyeahso/multiclube/internal/sale"
	"github.com/spf13/cobra"
)

func newTicketsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "tickets <YYYY-MM-DD>",
		Short: "List the tickets offered for a visit date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg, paths, false, log)
			if err != nil {
				return err
			}
			defer a.Close()

			q, err := a.initiator.Quote(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), q)
			}
			return printQuote(cmd.OutOrStdout(), q)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the quote as JSON")
	return cmd
}

func printQuote(w io.Writer, q sale.Quote) error {
	fmt.Fprintf(w, "Visit date: %s (%d days ahead)\n\n", q.VisitDate, q.LeadDays)
	if len(q.Tickets) == 0 {
		fmt.Fprintln(w, "No tickets available.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPLAN\tBASE\tPRICE")
	for _, t := range q.Tickets {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%.2f\n", t.ID, t.Name, t.Plan, t.BasePrice, t.Price)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
