package reconcile

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nordkart/vendorsync/internal/model"
	"github.com/nordkart/vendorsync/pkg/sanity"
)

type municipalityLink struct {
	ID       string `json:"_id"`
	CountyID string `json:"countyId"`
}

type countyLinks struct {
	ID              string   `json:"_id"`
	MunicipalityIDs []string `json:"municipalityIds"`
}

const (
	municipalityLinksQuery = `*[_type == "municipality" && defined(county._ref)]{
		_id, "countyId": county._ref
	}`
	countyLinksQuery = `*[_type == "county"]{
		_id, "municipalityIds": municipalities[]._ref
	}`
)

// RepairCountyRefs rebuilds every county's municipalities array from
// the forward municipality->county references. Reference keys derive
// from the municipality ID, so repeated repairs write identical arrays
// and only counties whose stored list differs get patched. Returns the
// number of counties patched.
func RepairCountyRefs(ctx context.Context, client sanity.Client) (int, error) {
	var municipalities []municipalityLink
	if err := client.Fetch(ctx, municipalityLinksQuery, nil, &municipalities); err != nil {
		return 0, eris.Wrap(err, "repair: fetch municipalities")
	}
	var counties []countyLinks
	if err := client.Fetch(ctx, countyLinksQuery, nil, &counties); err != nil {
		return 0, eris.Wrap(err, "repair: fetch counties")
	}

	byCounty := make(map[string][]string)
	for _, m := range municipalities {
		byCounty[m.CountyID] = append(byCounty[m.CountyID], m.ID)
	}
	for _, ids := range byCounty {
		sort.Strings(ids)
	}

	tx := sanity.NewTx()
	patched := 0
	for _, county := range counties {
		want := byCounty[county.ID]
		got := append([]string(nil), county.MunicipalityIDs...)
		sort.Strings(got)
		if equalIDs(want, got) {
			continue
		}

		refs := make([]model.Reference, 0, len(want))
		for _, id := range want {
			refs = append(refs, model.Reference{Type: model.TypeReference, Ref: id, Key: "key-" + id})
		}
		tx.Patch(county.ID, sanity.Patch{Set: map[string]any{"municipalities": refs}})
		patched++
		zap.L().Debug("repair: county backlinks rebuilt",
			zap.String("county", county.ID), zap.Int("municipalities", len(refs)))
	}

	if _, err := client.Commit(ctx, tx); err != nil {
		return 0, eris.Wrap(err, "repair: commit transaction")
	}
	zap.L().Info("repair: pass complete",
		zap.Int("counties", len(counties)), zap.Int("patched", patched))
	return patched, nil
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
