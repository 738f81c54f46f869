package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/nordkart/vendorsync/internal/fetcher"
	"github.com/nordkart/vendorsync/internal/transform"
	"github.com/nordkart/vendorsync/internal/upsert"
)

var vendorsCmd = &cobra.Command{
	Use:   "vendors",
	Short: "Import and inspect vendor documents",
}

var vendorsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Fetch, transform, and upsert vendors without touching locations or aggregates",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("sync"); err != nil {
			return err
		}
		if missingPolicy != "" {
			if !upsert.MissingPolicy(missingPolicy).Valid() {
				return eris.Errorf("invalid missing-policy %q", missingPolicy)
			}
			cfg.Sync.MissingPolicy = missingPolicy
		}

		client, err := initStore()
		if err != nil {
			return err
		}

		reader := fetcher.NewReader(
			fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}),
			fetcher.NewFTPFetcher(0),
		)
		rows, err := reader.Rows(ctx, sourceFromConfig())
		if err != nil {
			return err
		}

		res, err := newResolver(ctx, client)
		if err != nil {
			return err
		}
		transformer := transform.New(res, transform.WithConcurrency(cfg.Sync.Concurrency))
		vendors, err := transformer.Transform(ctx, rows)
		if err != nil {
			return err
		}

		result, err := upsert.New(client, upsert.MissingPolicy(cfg.Sync.MissingPolicy)).Upsert(ctx, vendors)
		if err != nil {
			return err
		}
		fmt.Printf("rows %d  created %d  patched %d  unchanged %d  retired %d  deleted %d\n",
			len(rows), result.Created, result.Patched, result.Unchanged, result.Retired, result.Deleted)
		return nil
	},
}

var vendorsMissingLocationCmd = &cobra.Command{
	Use:   "missing-location",
	Short: "List vendors without a linked location",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		client, err := initStore()
		if err != nil {
			return err
		}

		var vendors []struct {
			ID         string `json:"_id"`
			Name       string `json:"vendor_name"`
			PostalCode string `json:"postalCode"`
			City       string `json:"city"`
		}
		query := `*[_type == "vendor" && !defined(location._ref)]{_id, vendor_name, postalCode, city} | order(_id)`
		if err := client.Fetch(ctx, query, nil, &vendors); err != nil {
			return eris.Wrap(err, "vendors missing-location")
		}

		if len(vendors) == 0 {
			fmt.Fprintln(os.Stderr, "All vendors have a linked location.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tPOSTAL\tCITY")
		for _, v := range vendors {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", v.ID, v.Name, v.PostalCode, v.City)
		}
		return w.Flush()
	},
}

func init() {
	vendorsImportCmd.Flags().StringVar(&sourceURL, "source", "", "source URL or file path (overrides config)")
	vendorsImportCmd.Flags().StringVar(&spreadsheetID, "sheet", "", "Google Sheets spreadsheet ID (overrides config)")
	vendorsImportCmd.Flags().StringVar(&missingPolicy, "missing-policy", "", "policy for vendors absent from the source: retain-and-clear-products, delete, ignore")
	vendorsCmd.AddCommand(vendorsImportCmd, vendorsMissingLocationCmd)
	rootCmd.AddCommand(vendorsCmd)
}
