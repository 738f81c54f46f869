// Package aggregate recomputes derived region fields from the vendor
// and location graph: vendor counts and bounding boxes.
package aggregate

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nordkart/vendorsync/pkg/sanity"
)

// CountResult summarizes one count recomputation.
type CountResult struct {
	Vendors               int `yaml:"vendors"`
	MunicipalitiesPatched int `yaml:"municipalities_patched"`
	CountiesPatched       int `yaml:"counties_patched"`
}

type vendorRegion struct {
	MunicipalityID string `json:"municipalityId"`
	CountyID       string `json:"countyId"`
}

type regionCount struct {
	ID    string `json:"_id"`
	Count int    `json:"count"`
}

const (
	vendorRegionsQuery = `*[_type == "vendor" && !(_id in path("drafts.**")) && defined(location->municipality._ref)]{
		"municipalityId": location->municipality._ref,
		"countyId": location->county._ref
	}`
	municipalityCountsQuery = `*[_type == "municipality"]{_id, "count": coalesce(vendorCount, 0)}`
	countyCountsQuery       = `*[_type == "county"]{_id, "count": coalesce(totalVendorCount, 0)}`
)

// RecomputeCounts derives vendorCount for every municipality and
// totalVendorCount for every county from the linked vendors, patching
// only regions whose stored count differs. Regions with no linked
// vendors are reset to zero, so departures are reflected too.
func RecomputeCounts(ctx context.Context, client sanity.Client) (*CountResult, error) {
	var vendors []vendorRegion
	if err := client.Fetch(ctx, vendorRegionsQuery, nil, &vendors); err != nil {
		return nil, eris.Wrap(err, "aggregate: fetch vendor regions")
	}

	municipalityCounts := make(map[string]int)
	countyCounts := make(map[string]int)
	for _, v := range vendors {
		municipalityCounts[v.MunicipalityID]++
		if v.CountyID != "" {
			countyCounts[v.CountyID]++
		}
	}

	tx := sanity.NewTx()
	result := &CountResult{Vendors: len(vendors)}

	patched, err := stageCountPatches(ctx, client, tx, municipalityCountsQuery, "vendorCount", municipalityCounts)
	if err != nil {
		return nil, err
	}
	result.MunicipalitiesPatched = patched

	patched, err = stageCountPatches(ctx, client, tx, countyCountsQuery, "totalVendorCount", countyCounts)
	if err != nil {
		return nil, err
	}
	result.CountiesPatched = patched

	if _, err := client.Commit(ctx, tx); err != nil {
		return nil, eris.Wrap(err, "aggregate: commit counts")
	}

	zap.L().Info("aggregate: counts recomputed",
		zap.Int("vendors", result.Vendors),
		zap.Int("municipalities_patched", result.MunicipalitiesPatched),
		zap.Int("counties_patched", result.CountiesPatched),
	)
	return result, nil
}

func stageCountPatches(ctx context.Context, client sanity.Client, tx *sanity.Tx, query, field string, want map[string]int) (int, error) {
	var stored []regionCount
	if err := client.Fetch(ctx, query, nil, &stored); err != nil {
		return 0, eris.Wrapf(err, "aggregate: fetch %s", field)
	}

	patched := 0
	for _, region := range stored {
		count := want[region.ID]
		if count == region.Count {
			continue
		}
		tx.Patch(region.ID, sanity.Patch{Set: map[string]any{field: count}})
		patched++
	}
	return patched, nil
}
