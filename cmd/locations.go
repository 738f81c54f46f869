package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nordkart/vendorsync/internal/reconcile"
)

var locationsCmd = &cobra.Command{
	Use:   "locations",
	Short: "Manage vendor locations",
}

var locationsReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Link vendors to locations, municipalities, and counties",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		result, err := e.reconciler.Reconcile(ctx, onlyMissing)
		if err != nil {
			return err
		}
		fmt.Printf("linked: %d  skipped: %d  no postal code: %d  not found: %d  failed: %d\n",
			result.Linked, result.Skipped, result.NoPostalCode, result.NotFound, result.Failed)
		return nil
	},
}

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Rebuild county to municipality backlinks",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		client, err := initStore()
		if err != nil {
			return err
		}

		patched, err := reconcile.RepairCountyRefs(ctx, client)
		if err != nil {
			return err
		}
		fmt.Printf("counties patched: %d\n", patched)
		return nil
	},
}

func init() {
	locationsReconcileCmd.Flags().BoolVar(&onlyMissing, "only-missing", false, "process only vendors without a linked location")
	locationsCmd.AddCommand(locationsReconcileCmd)
	rootCmd.AddCommand(locationsCmd)
	rootCmd.AddCommand(repairCmd)
}
