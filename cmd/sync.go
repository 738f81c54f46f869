package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/nordkart/vendorsync/internal/upsert"
)

var (
	sourceURL     string
	spreadsheetID string
	missingPolicy string
	onlyMissing   bool
	reportPath    string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run the full vendor sync pipeline",
	Long:  "Fetches the customer export, upserts vendors and products, reconciles locations against the postal registry and geocoder, repairs county backlinks, and recomputes aggregates.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if missingPolicy != "" {
			if !upsert.MissingPolicy(missingPolicy).Valid() {
				return eris.Errorf("invalid missing-policy %q", missingPolicy)
			}
			cfg.Sync.MissingPolicy = missingPolicy
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		summary, err := e.pipe.Run(ctx, sourceFromConfig())
		if summary != nil {
			out := os.Stdout
			if reportPath != "" {
				f, createErr := os.Create(reportPath)
				if createErr != nil {
					return eris.Wrap(createErr, "create report file")
				}
				defer f.Close() //nolint:errcheck
				out = f
			}
			if reportErr := summary.WriteReport(out); reportErr != nil {
				return reportErr
			}
		}
		return err
	},
}

func init() {
	syncCmd.Flags().StringVar(&sourceURL, "source", "", "source URL or file path (overrides config)")
	syncCmd.Flags().StringVar(&spreadsheetID, "sheet", "", "Google Sheets spreadsheet ID (overrides config)")
	syncCmd.Flags().StringVar(&missingPolicy, "missing-policy", "", "policy for vendors absent from the source: retain-and-clear-products, delete, ignore")
	syncCmd.Flags().BoolVar(&onlyMissing, "only-missing", false, "reconcile only vendors without a linked location")
	syncCmd.Flags().StringVar(&reportPath, "report", "", "write the YAML run report to this file instead of stdout")
	rootCmd.AddCommand(syncCmd)
}
