package aggregate

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/nordkart/vendorsync/internal/model"
	"github.com/nordkart/vendorsync/pkg/sanity"
)

// BoundsResult summarizes one bounding-box recomputation.
type BoundsResult struct {
	Locations             int `yaml:"locations"`
	MunicipalitiesPatched int `yaml:"municipalities_patched"`
	CountiesPatched       int `yaml:"counties_patched"`
}

type locationPoint struct {
	MunicipalityID string  `json:"municipalityId"`
	CountyID       string  `json:"countyId"`
	Lat            float64 `json:"lat"`
	Lng            float64 `json:"lng"`
}

type regionBox struct {
	ID          string             `json:"_id"`
	BoundingBox *model.BoundingBox `json:"boundingBox"`
}

const (
	locationPointsQuery = `*[_type == "location" && defined(geopoint) && defined(municipality._ref)]{
		"municipalityId": municipality._ref,
		"countyId": county._ref,
		"lat": geopoint.lat,
		"lng": geopoint.lng
	}`
	municipalityBoxesQuery = `*[_type == "municipality"]{_id, boundingBox}`
	countyBoxesQuery       = `*[_type == "county"]{_id, boundingBox}`
)

// RecomputeBounds folds every geocoded location into per-municipality
// and per-county bounding boxes and patches regions whose stored box
// differs. A region whose locations all lost their coordinates keeps
// its last box; boxes only ever derive from present points.
func RecomputeBounds(ctx context.Context, client sanity.Client) (*BoundsResult, error) {
	var points []locationPoint
	if err := client.Fetch(ctx, locationPointsQuery, nil, &points); err != nil {
		return nil, eris.Wrap(err, "aggregate: fetch location points")
	}

	municipalityBounds := make(map[string]*geom.Bounds)
	countyBounds := make(map[string]*geom.Bounds)
	for _, p := range points {
		extend(municipalityBounds, p.MunicipalityID, p)
		if p.CountyID != "" {
			extend(countyBounds, p.CountyID, p)
		}
	}

	tx := sanity.NewTx()
	result := &BoundsResult{Locations: len(points)}

	patched, err := stageBoxPatches(ctx, client, tx, municipalityBoxesQuery, municipalityBounds)
	if err != nil {
		return nil, err
	}
	result.MunicipalitiesPatched = patched

	patched, err = stageBoxPatches(ctx, client, tx, countyBoxesQuery, countyBounds)
	if err != nil {
		return nil, err
	}
	result.CountiesPatched = patched

	if _, err := client.Commit(ctx, tx); err != nil {
		return nil, eris.Wrap(err, "aggregate: commit bounding boxes")
	}

	zap.L().Info("aggregate: bounding boxes recomputed",
		zap.Int("locations", result.Locations),
		zap.Int("municipalities_patched", result.MunicipalitiesPatched),
		zap.Int("counties_patched", result.CountiesPatched),
	)
	return result, nil
}

// extend grows the region's bounds with one point, coordinates in
// lng/lat (XY) order.
func extend(bounds map[string]*geom.Bounds, regionID string, p locationPoint) {
	b, ok := bounds[regionID]
	if !ok {
		b = geom.NewBounds(geom.XY)
		bounds[regionID] = b
	}
	b.Extend(geom.NewPointFlat(geom.XY, []float64{p.Lng, p.Lat}))
}

func stageBoxPatches(ctx context.Context, client sanity.Client, tx *sanity.Tx, query string, want map[string]*geom.Bounds) (int, error) {
	var stored []regionBox
	if err := client.Fetch(ctx, query, nil, &stored); err != nil {
		return 0, eris.Wrap(err, "aggregate: fetch stored boxes")
	}

	patched := 0
	for _, region := range stored {
		bounds, ok := want[region.ID]
		if !ok {
			continue
		}
		box := toBox(bounds)
		if region.BoundingBox != nil && region.BoundingBox.Equal(box) {
			continue
		}
		tx.Patch(region.ID, sanity.Patch{Set: map[string]any{"boundingBox": box}})
		patched++
	}
	return patched, nil
}

func toBox(b *geom.Bounds) model.BoundingBox {
	return model.BoundingBox{
		SW: model.Geopoint{Type: model.TypeGeopoint, Lat: b.Min(1), Lng: b.Min(0)},
		NE: model.Geopoint{Type: model.TypeGeopoint, Lat: b.Max(1), Lng: b.Max(0)},
	}
}
