package reconcile

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordkart/vendorsync/internal/refcache"
	"github.com/nordkart/vendorsync/internal/resolver"
	"github.com/nordkart/vendorsync/pkg/bring"
	"github.com/nordkart/vendorsync/pkg/mapbox"
	"github.com/nordkart/vendorsync/pkg/sanity"
)

type fakeStore struct {
	mu         sync.Mutex
	vendors    []vendorRow
	locations  []locationRow
	resolveErr error
	commitErr  error
	commits    []*sanity.Tx
}

func (f *fakeStore) Fetch(_ context.Context, query string, _ map[string]any, result any) error {
	switch {
	case strings.Contains(query, `_type == "vendor"`):
		return marshalInto(f.vendors, result)
	case strings.Contains(query, `_type == "location"`):
		return marshalInto(f.locations, result)
	default:
		// resolver natural-key lookup
		if f.resolveErr != nil {
			return f.resolveErr
		}
		return marshalInto(nil, result)
	}
}

func (f *fakeStore) Commit(_ context.Context, tx *sanity.Tx) (*sanity.CommitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return nil, f.commitErr
	}
	f.commits = append(f.commits, tx)
	return &sanity.CommitResult{}, nil
}

func (f *fakeStore) lastCommit(t *testing.T) *sanity.Tx {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.commits)
	return f.commits[len(f.commits)-1]
}

func marshalInto(v, result any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, result)
}

type fakePostal struct {
	mu    sync.Mutex
	calls int
	info  *bring.PostalInfo
	err   error
}

func (f *fakePostal) Lookup(context.Context, string) (*bring.PostalInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.info, f.err
}

type fakeGeocoder struct {
	mu    sync.Mutex
	calls int
	point *mapbox.Point
	err   error
}

func (f *fakeGeocoder) Geocode(context.Context, string) (*mapbox.Point, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.point, f.err
}

type fakeCache struct {
	points map[string]*mapbox.Point
	puts   map[string]*mapbox.Point
}

func (f *fakeCache) GetGeocode(_ context.Context, address string) (*mapbox.Point, bool, error) {
	point, ok := f.points[address]
	return point, ok, nil
}

func (f *fakeCache) PutGeocode(_ context.Context, address string, point *mapbox.Point) error {
	if f.puts == nil {
		f.puts = map[string]*mapbox.Point{}
	}
	f.puts[address] = point
	return nil
}

func strandInfo() *bring.PostalInfo {
	return &bring.PostalInfo{City: "Jørpeland", Municipality: "Strand", County: "Rogaland"}
}

func testVendor() vendorRow {
	return vendorRow{
		ID:            "vendor-101",
		Name:          "Fjordfrukt AS",
		StreetAddress: "Strandveien 12",
		PostalCode:    "4100",
		City:          "Jørpeland",
	}
}

func newReconciler(store *fakeStore, postal bring.Client, geocoder mapbox.Client, opts ...Option) *Reconciler {
	res := resolver.New(refcache.New(), store)
	return New(store, res, postal, geocoder, opts...)
}

func mutationsJSON(t *testing.T, tx *sanity.Tx) []map[string]any {
	t.Helper()
	data, err := json.Marshal(tx.Mutations())
	require.NoError(t, err)
	var muts []map[string]any
	require.NoError(t, json.Unmarshal(data, &muts))
	return muts
}

func TestReconcileLinksVendor(t *testing.T) {
	store := &fakeStore{vendors: []vendorRow{testVendor()}}
	postal := &fakePostal{info: strandInfo()}
	geocoder := &fakeGeocoder{point: &mapbox.Point{Lat: 59.02, Lng: 6.04}}

	result, err := newReconciler(store, postal, geocoder).Reconcile(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Linked)
	assert.Zero(t, result.Failed)

	muts := mutationsJSON(t, store.lastCommit(t))
	require.Len(t, muts, 2)

	location := muts[0]["createOrReplace"].(map[string]any)
	assert.Equal(t, "location-vendor-101", location["_id"])
	assert.Equal(t, "location", location["_type"])
	assert.Equal(t, "Jørpeland", location["city"])
	assert.Equal(t, "municipality-strand", location["municipality"].(map[string]any)["_ref"])
	assert.Equal(t, "county-rogaland", location["county"].(map[string]any)["_ref"])
	geopoint := location["geopoint"].(map[string]any)
	assert.InDelta(t, 59.02, geopoint["lat"], 1e-9)
	assert.InDelta(t, 6.04, geopoint["lng"], 1e-9)

	patch := muts[1]["patch"].(map[string]any)
	assert.Equal(t, "vendor-101", patch["id"])
	set := patch["set"].(map[string]any)
	assert.Equal(t, "location-vendor-101", set["location"].(map[string]any)["_ref"])
	_, hasCity := set["city"]
	assert.False(t, hasCity, "city already canonical, no writeback expected")
}

func TestReconcileCityWriteback(t *testing.T) {
	vendor := testVendor()
	vendor.City = "JORPELAND"
	store := &fakeStore{vendors: []vendorRow{vendor}}

	result, err := newReconciler(store, &fakePostal{info: strandInfo()}, &fakeGeocoder{}).
		Reconcile(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Linked)

	muts := mutationsJSON(t, store.lastCommit(t))
	set := muts[1]["patch"].(map[string]any)["set"].(map[string]any)
	assert.Equal(t, "Jørpeland", set["city"])
}

func TestReconcileSkipsMatchingLocation(t *testing.T) {
	vendor := testVendor()
	vendor.LocationRef = "location-vendor-101"
	store := &fakeStore{
		vendors:   []vendorRow{vendor},
		locations: []locationRow{{ID: "location-vendor-101", City: "Jørpeland"}},
	}
	postal := &fakePostal{info: strandInfo()}

	result, err := newReconciler(store, postal, &fakeGeocoder{}).Reconcile(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Zero(t, postal.calls, "matching link must not trigger lookups")
	assert.True(t, store.lastCommit(t).Empty())
}

func TestReconcileRelinksOnCityMismatch(t *testing.T) {
	vendor := testVendor()
	vendor.LocationRef = "location-vendor-101"
	store := &fakeStore{
		vendors:   []vendorRow{vendor},
		locations: []locationRow{{ID: "location-vendor-101", City: "Stavanger"}},
	}

	result, err := newReconciler(store, &fakePostal{info: strandInfo()}, &fakeGeocoder{}).
		Reconcile(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Linked)
}

func TestReconcileNoPostalCode(t *testing.T) {
	vendor := testVendor()
	vendor.PostalCode = "  "
	store := &fakeStore{vendors: []vendorRow{vendor}}

	result, err := newReconciler(store, &fakePostal{}, &fakeGeocoder{}).Reconcile(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.NoPostalCode)
}

func TestReconcilePostalNotFound(t *testing.T) {
	store := &fakeStore{vendors: []vendorRow{testVendor()}}

	result, err := newReconciler(store, &fakePostal{}, &fakeGeocoder{}).Reconcile(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.NotFound)
	assert.True(t, store.lastCommit(t).Empty())
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "no_postal_code", StateNoPostalCode.String())
	assert.Equal(t, "not_found", StateNotFound.String())
	assert.Equal(t, "linked", StateLinked.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "state(99)", State(99).String())
}

func TestPostalMissIsTerminalNotFound(t *testing.T) {
	r := newReconciler(&fakeStore{}, &fakePostal{}, &fakeGeocoder{})

	state, staged, err := r.processVendor(context.Background(), testVendor(), nil)
	require.NoError(t, err)
	assert.Equal(t, StateNotFound, state)
	assert.Nil(t, staged)
}

func TestReconcilePostalErrorIsNonFatal(t *testing.T) {
	store := &fakeStore{vendors: []vendorRow{testVendor()}}
	postal := &fakePostal{err: assert.AnError}

	result, err := newReconciler(store, postal, &fakeGeocoder{}).Reconcile(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
}

func TestReconcileGeocodeErrorIsNonFatal(t *testing.T) {
	store := &fakeStore{vendors: []vendorRow{testVendor()}}
	geocoder := &fakeGeocoder{err: assert.AnError}

	result, err := newReconciler(store, &fakePostal{info: strandInfo()}, geocoder).
		Reconcile(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
}

func TestReconcileGeocodeMissStillLinks(t *testing.T) {
	store := &fakeStore{vendors: []vendorRow{testVendor()}}

	result, err := newReconciler(store, &fakePostal{info: strandInfo()}, &fakeGeocoder{}).
		Reconcile(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Linked)

	muts := mutationsJSON(t, store.lastCommit(t))
	location := muts[0]["createOrReplace"].(map[string]any)
	_, hasGeopoint := location["geopoint"]
	assert.False(t, hasGeopoint, "unmatched address keeps the location without coordinates")
}

func TestReconcileGeocodeCacheHit(t *testing.T) {
	store := &fakeStore{vendors: []vendorRow{testVendor()}}
	geocoder := &fakeGeocoder{}
	cache := &fakeCache{points: map[string]*mapbox.Point{
		"Strandveien 12, 4100, Jørpeland": {Lat: 59.02, Lng: 6.04},
	}}

	result, err := newReconciler(store, &fakePostal{info: strandInfo()}, geocoder, WithGeocodeCache(cache)).
		Reconcile(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Linked)
	assert.Zero(t, geocoder.calls, "cached address must not hit the geocoder")
}

func TestReconcileGeocodeCacheRecordsResult(t *testing.T) {
	store := &fakeStore{vendors: []vendorRow{testVendor()}}
	cache := &fakeCache{}

	_, err := newReconciler(store, &fakePostal{info: strandInfo()},
		&fakeGeocoder{point: &mapbox.Point{Lat: 59.02, Lng: 6.04}}, WithGeocodeCache(cache)).
		Reconcile(context.Background(), false)
	require.NoError(t, err)

	point, ok := cache.puts["Strandveien 12, 4100, Jørpeland"]
	require.True(t, ok)
	require.NotNil(t, point)
	assert.InDelta(t, 59.02, point.Lat, 1e-9)
}

func TestReconcileResolverErrorIsFatal(t *testing.T) {
	store := &fakeStore{vendors: []vendorRow{testVendor()}, resolveErr: assert.AnError}

	_, err := newReconciler(store, &fakePostal{info: strandInfo()}, &fakeGeocoder{}).
		Reconcile(context.Background(), false)
	require.Error(t, err)
}

func TestReconcileCommitErrorIsFatal(t *testing.T) {
	store := &fakeStore{vendors: []vendorRow{testVendor()}, commitErr: assert.AnError}

	_, err := newReconciler(store, &fakePostal{info: strandInfo()}, &fakeGeocoder{}).
		Reconcile(context.Background(), false)
	require.Error(t, err)
}
