// Package reconcile links vendors to their geographic entities:
// locations, municipalities, and counties.
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nordkart/vendorsync/internal/model"
	"github.com/nordkart/vendorsync/internal/refcache"
	"github.com/nordkart/vendorsync/internal/resolver"
	"github.com/nordkart/vendorsync/pkg/bring"
	"github.com/nordkart/vendorsync/pkg/mapbox"
	"github.com/nordkart/vendorsync/pkg/sanity"
)

// State tracks one vendor's progress through location reconciliation.
type State int

// Reconciliation states. NoPostalCode, NotFound, Linked, and Failed are
// terminal.
const (
	StateNoPostalCode State = iota
	StateNeedsLookup
	StateGeoLookedUp
	StateGeocoded
	StateLinked
	StateNotFound
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNoPostalCode:
		return "no_postal_code"
	case StateNeedsLookup:
		return "needs_lookup"
	case StateGeoLookedUp:
		return "geo_looked_up"
	case StateGeocoded:
		return "geocoded"
	case StateLinked:
		return "linked"
	case StateNotFound:
		return "not_found"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// GeocodeCache memoizes geocode results across runs. Found=true with a
// nil point is a remembered miss.
type GeocodeCache interface {
	GetGeocode(ctx context.Context, address string) (point *mapbox.Point, found bool, err error)
	PutGeocode(ctx context.Context, address string, point *mapbox.Point) error
}

// DefaultConcurrency bounds overlapping per-vendor lookups.
const DefaultConcurrency = 4

// Result summarizes one reconcile pass.
type Result struct {
	Linked       int `yaml:"linked"`
	Skipped      int `yaml:"skipped"`
	NoPostalCode int `yaml:"no_postal_code"`
	NotFound     int `yaml:"not_found"`
	Failed       int `yaml:"failed"`
}

// Reconciler resolves vendor addresses into the location graph.
type Reconciler struct {
	client      sanity.Client
	resolver    *resolver.Resolver
	postal      bring.Client
	geocoder    mapbox.Client
	cache       GeocodeCache
	concurrency int
}

// Option configures the Reconciler.
type Option func(*Reconciler)

// WithGeocodeCache enables geocode memoization.
func WithGeocodeCache(c GeocodeCache) Option {
	return func(r *Reconciler) {
		r.cache = c
	}
}

// WithConcurrency bounds overlapping per-vendor lookups.
func WithConcurrency(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// New creates a Reconciler.
func New(client sanity.Client, res *resolver.Resolver, postal bring.Client, geocoder mapbox.Client, opts ...Option) *Reconciler {
	r := &Reconciler{
		client:      client,
		resolver:    res,
		postal:      postal,
		geocoder:    geocoder,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type vendorRow struct {
	ID            string `json:"_id"`
	Name          string `json:"vendor_name"`
	StreetAddress string `json:"streetAddress"`
	PostalCode    string `json:"postalCode"`
	City          string `json:"city"`
	LocationRef   string `json:"locationRef"`
}

type locationRow struct {
	ID   string `json:"_id"`
	City string `json:"city"`
}

const (
	allVendorsQuery = `*[_type == "vendor"]{
		_id, vendor_name, streetAddress, postalCode, city,
		"locationRef": location._ref
	}`
	unlinkedVendorsQuery = `*[_type == "vendor" && !defined(location._ref)]{
		_id, vendor_name, streetAddress, postalCode, city,
		"locationRef": location._ref
	}`
	locationsQuery = `*[_type == "location"]{_id, city}`
)

// Reconcile processes every vendor (or only those without a linked
// location, when onlyMissing is set). Per-vendor external failures are
// logged and skipped; resolver and store failures are fatal. All
// mutations across the batch commit in one transaction: a vendor either
// contributes its full location/link set, or nothing.
func (r *Reconciler) Reconcile(ctx context.Context, onlyMissing bool) (*Result, error) {
	query := allVendorsQuery
	if onlyMissing {
		query = unlinkedVendorsQuery
	}

	var vendors []vendorRow
	if err := r.client.Fetch(ctx, query, nil, &vendors); err != nil {
		return nil, eris.Wrap(err, "reconcile: fetch vendors")
	}

	var locations []locationRow
	if err := r.client.Fetch(ctx, locationsQuery, nil, &locations); err != nil {
		return nil, eris.Wrap(err, "reconcile: fetch locations")
	}
	locationCity := make(map[string]string, len(locations))
	for _, loc := range locations {
		locationCity[loc.ID] = loc.City
	}

	result := &Result{}
	batch := sanity.NewTx()
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, vendor := range vendors {
		vendor := vendor
		g.Go(func() error {
			state, staged, err := r.processVendor(gctx, vendor, locationCity)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			switch state {
			case StateNoPostalCode:
				result.NoPostalCode++
			case StateLinked:
				if staged == nil {
					result.Skipped++
				} else {
					batch.Append(staged)
					result.Linked++
				}
			case StateNotFound:
				result.NotFound++
			case StateFailed:
				result.Failed++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if _, err := r.client.Commit(ctx, batch); err != nil {
		return nil, eris.Wrap(err, "reconcile: commit transaction")
	}

	zap.L().Info("reconcile: batch committed",
		zap.Int("linked", result.Linked),
		zap.Int("skipped", result.Skipped),
		zap.Int("no_postal_code", result.NoPostalCode),
		zap.Int("not_found", result.NotFound),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// processVendor walks one vendor through the state machine. The
// returned tx stages the vendor's complete mutation set; it is nil when
// no writes are needed. A non-nil error is fatal for the whole stage.
func (r *Reconciler) processVendor(ctx context.Context, vendor vendorRow, locationCity map[string]string) (State, *sanity.Tx, error) {
	log := zap.L().With(zap.String("vendor", vendor.ID))

	if strings.TrimSpace(vendor.PostalCode) == "" {
		return StateNoPostalCode, nil, nil
	}

	// Already linked to a location whose city agrees with the vendor's
	// stored city: nothing to do.
	locationID := model.LocationID(vendor.ID)
	if vendor.LocationRef == locationID {
		if city, ok := locationCity[locationID]; ok && strings.EqualFold(city, vendor.City) {
			return StateLinked, nil, nil
		}
	}

	// NeedsLookup -> GeoLookedUp
	info, err := r.postal.Lookup(ctx, vendor.PostalCode)
	if err != nil {
		log.Warn("reconcile: postal lookup failed", zap.String("postal_code", vendor.PostalCode), zap.Error(err))
		return StateFailed, nil, nil
	}
	if info == nil {
		log.Warn("reconcile: postal code not found", zap.String("postal_code", vendor.PostalCode))
		return StateNotFound, nil, nil
	}

	// County first: the municipality document references it.
	countyID, err := r.resolver.Resolve(ctx, refcache.KindCounty, info.County, "")
	if err != nil {
		return StateFailed, nil, eris.Wrapf(err, "reconcile: resolve county for %s", vendor.ID)
	}
	municipalityID, err := r.resolver.Resolve(ctx, refcache.KindMunicipality, info.Municipality, countyID)
	if err != nil {
		return StateFailed, nil, eris.Wrapf(err, "reconcile: resolve municipality for %s", vendor.ID)
	}

	// GeoLookedUp -> Geocoded
	address := fmt.Sprintf("%s, %s, %s", vendor.StreetAddress, vendor.PostalCode, info.City)
	point, err := r.geocode(ctx, address)
	if err != nil {
		log.Warn("reconcile: geocoding failed", zap.String("address", address), zap.Error(err))
		return StateFailed, nil, nil
	}
	if point == nil {
		log.Debug("reconcile: no geocode match", zap.String("address", address))
	}

	// Geocoded -> Linked: stage the vendor's whole mutation set.
	location := model.Location{
		ID:            locationID,
		Type:          model.TypeLocation,
		StreetAddress: vendor.StreetAddress,
		PostalCode:    vendor.PostalCode,
		City:          info.City,
		Municipality:  refPtr(model.NewKeyedReference(municipalityID)),
		County:        refPtr(model.NewKeyedReference(countyID)),
	}
	if point != nil {
		location.Geopoint = &model.Geopoint{Type: model.TypeGeopoint, Lat: point.Lat, Lng: point.Lng}
	}

	set := map[string]any{"location": model.NewReference(locationID)}
	if info.City != vendor.City {
		// Canonical city from the postal registry wins.
		set["city"] = info.City
	}

	staged := sanity.NewTx()
	staged.CreateOrReplace(location)
	staged.Patch(vendor.ID, sanity.Patch{Set: set})
	return StateLinked, staged, nil
}

// geocode consults the cache before calling the geocoder, and records
// both hits and misses for the next run.
func (r *Reconciler) geocode(ctx context.Context, address string) (*mapbox.Point, error) {
	if r.cache != nil {
		point, found, err := r.cache.GetGeocode(ctx, address)
		if err != nil {
			zap.L().Debug("reconcile: geocode cache read failed", zap.Error(err))
		} else if found {
			return point, nil
		}
	}

	point, err := r.geocoder.Geocode(ctx, address)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.PutGeocode(ctx, address, point); err != nil {
			zap.L().Debug("reconcile: geocode cache write failed", zap.Error(err))
		}
	}
	return point, nil
}

func refPtr(ref model.Reference) *model.Reference {
	return &ref
}
