package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/nordkart/vendorsync/internal/model"
	"github.com/nordkart/vendorsync/pkg/sanity"
)

var purgeConfirmed bool

var purgeableTypes = map[string]bool{
	model.TypeVendor:       true,
	model.TypeProduct:      true,
	model.TypeLocation:     true,
	model.TypeMunicipality: true,
	model.TypeCounty:       true,
}

var purgeCmd = &cobra.Command{
	Use:   "purge <type>",
	Short: "Delete every document of a type from the store",
	Long:  "Deletes all documents of the given type (vendor, product, location, municipality, county). Requires --yes.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		docType := args[0]

		if !purgeableTypes[docType] {
			return eris.Errorf("unknown document type %q", docType)
		}
		if !purgeConfirmed {
			return eris.New("purge is destructive; re-run with --yes to confirm")
		}

		client, err := initStore()
		if err != nil {
			return err
		}

		var ids []string
		if err := client.Fetch(ctx, `*[_type == $type]._id`, map[string]any{"type": docType}, &ids); err != nil {
			return eris.Wrap(err, "purge: fetch ids")
		}

		tx := sanity.NewTx()
		for _, id := range ids {
			tx.Delete(id)
		}
		if _, err := client.Commit(ctx, tx); err != nil {
			return eris.Wrap(err, "purge: commit")
		}

		fmt.Printf("deleted %d %s documents\n", len(ids), docType)
		return nil
	},
}

func init() {
	purgeCmd.Flags().BoolVar(&purgeConfirmed, "yes", false, "confirm deletion")
	rootCmd.AddCommand(purgeCmd)
}
