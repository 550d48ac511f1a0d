package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/soyeahso/multiclube/internal/domain"
	"github.com/soyeahso/multiclube/internal/store"
	"github.com/spf13/cobra"
)

func newSalesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sales",
		Short: "Inspect completed sales",
	}
	cmd.AddCommand(newSalesListCmd())
	return cmd
}

func newSalesListCmd() *cobra.Command {
	var (
		filter store.ListFilter
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent completed sales",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cfg.Store.StoreEnabled() {
				return errors.New("sales store is disabled (store.enabled: false)")
			}
			a, err := newApp(cfg, paths, true, log)
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.sales.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), records)
			}
			return printSales(cmd.OutOrStdout(), records)
		},
	}

	cmd.Flags().StringVar(&filter.VisitDate, "date", "", "only sales for this visit date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&filter.Document, "document", "", "only sales for this buyer document")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "maximum number of sales")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print sales as JSON")
	return cmd
}

func printSales(w io.Writer, records []domain.SaleRecord) error {
	if len(records) == 0 {
		fmt.Fprintln(w, "No sales found.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tVISIT\tBUYER\tDOCUMENT\tQTY\tTOTAL\tTRANSACTION")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%.2f\t%s\n",
			r.CreatedAt.Local().Format(time.DateTime), r.VisitDate, r.Buyer.Name,
			r.Buyer.Document, r.Quantity(), r.Total, r.TransactionKey)
	}
	return tw.Flush()
}
