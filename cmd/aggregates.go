package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nordkart/vendorsync/internal/aggregate"
)

var aggregatesCmd = &cobra.Command{
	Use:   "aggregates",
	Short: "Recompute derived region fields",
}

var aggregatesCountsCmd = &cobra.Command{
	Use:   "counts",
	Short: "Recompute vendor counts per municipality and county",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := initStore()
		if err != nil {
			return err
		}
		result, err := aggregate.RecomputeCounts(cmd.Context(), client)
		if err != nil {
			return err
		}
		fmt.Printf("vendors: %d  municipalities patched: %d  counties patched: %d\n",
			result.Vendors, result.MunicipalitiesPatched, result.CountiesPatched)
		return nil
	},
}

var aggregatesBoundsCmd = &cobra.Command{
	Use:   "bounds",
	Short: "Recompute bounding boxes per municipality and county",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := initStore()
		if err != nil {
			return err
		}
		result, err := aggregate.RecomputeBounds(cmd.Context(), client)
		if err != nil {
			return err
		}
		fmt.Printf("locations: %d  municipalities patched: %d  counties patched: %d\n",
			result.Locations, result.MunicipalitiesPatched, result.CountiesPatched)
		return nil
	},
}

var aggregatesAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Recompute counts and bounding boxes",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := initStore()
		if err != nil {
			return err
		}
		counts, err := aggregate.RecomputeCounts(cmd.Context(), client)
		if err != nil {
			return err
		}
		bounds, err := aggregate.RecomputeBounds(cmd.Context(), client)
		if err != nil {
			return err
		}
		fmt.Printf("counts: %d municipalities, %d counties  bounds: %d municipalities, %d counties\n",
			counts.MunicipalitiesPatched, counts.CountiesPatched,
			bounds.MunicipalitiesPatched, bounds.CountiesPatched)
		return nil
	},
}

func init() {
	aggregatesCmd.AddCommand(aggregatesCountsCmd, aggregatesBoundsCmd, aggregatesAllCmd)
	rootCmd.AddCommand(aggregatesCmd)
}
