// Package refcache maps natural keys (product names, region names) to
// previously resolved document IDs for one pipeline run.
//
// The cache is a performance layer over the content store, never a source
// of truth: it must always be safe to discard and rebuild. One Cache is
// constructed per run; reusing a process across imports requires Clear.
package refcache

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nordkart/vendorsync/pkg/sanity"
)

// Kind identifies one entity namespace. Each kind has an independent map.
type Kind string

// Cached entity kinds.
const (
	KindProduct      Kind = "product"
	KindMunicipality Kind = "municipality"
	KindCounty       Kind = "county"
	KindVendor       Kind = "vendor"
	KindLocation     Kind = "location"
)

var allKinds = []Kind{KindProduct, KindMunicipality, KindCounty, KindVendor, KindLocation}

// seedQuery bulk-loads natural key -> ID pairs for every kind in one
// round trip. Locations have no natural name, so they key by ID.
const seedQuery = `{
	"products": *[_type == "product"]{_id, "key": product},
	"municipalities": *[_type == "municipality"]{_id, "key": name},
	"counties": *[_type == "county"]{_id, "key": name},
	"vendors": *[_type == "vendor"]{_id, "key": vendor_name},
	"locations": *[_type == "location"]{_id, "key": _id}
}`

type seedEntry struct {
	ID  string `json:"_id"`
	Key string `json:"key"`
}

type seedResult struct {
	Products       []seedEntry `json:"products"`
	Municipalities []seedEntry `json:"municipalities"`
	Counties       []seedEntry `json:"counties"`
	Vendors        []seedEntry `json:"vendors"`
	Locations      []seedEntry `json:"locations"`
}

// Cache holds one natural-key map per entity kind. Safe for concurrent
// use; all access is serialized by an internal mutex.
type Cache struct {
	mu          sync.Mutex
	byKind      map[Kind]map[string]string
	initialized bool
}

// New creates an empty, uninitialized cache.
func New() *Cache {
	c := &Cache{byKind: make(map[Kind]map[string]string, len(allKinds))}
	for _, k := range allKinds {
		c.byKind[k] = make(map[string]string)
	}
	return c
}

// Initialize seeds all maps from the store. Idempotent: a second call on
// an initialized cache is a no-op, so mid-run re-entry never clobbers
// entries added since seeding.
func (c *Cache) Initialize(ctx context.Context, client sanity.Client) error {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	var result seedResult
	if err := client.Fetch(ctx, seedQuery, nil, &result); err != nil {
		return eris.Wrap(err, "refcache: seed from store")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}
	seed := func(kind Kind, entries []seedEntry) {
		m := c.byKind[kind]
		for _, e := range entries {
			if e.Key != "" {
				m[e.Key] = e.ID
			}
		}
	}
	seed(KindProduct, result.Products)
	seed(KindMunicipality, result.Municipalities)
	seed(KindCounty, result.Counties)
	seed(KindVendor, result.Vendors)
	seed(KindLocation, result.Locations)
	c.initialized = true

	zap.L().Debug("refcache: initialized",
		zap.Int("products", len(result.Products)),
		zap.Int("municipalities", len(result.Municipalities)),
		zap.Int("counties", len(result.Counties)),
		zap.Int("vendors", len(result.Vendors)),
		zap.Int("locations", len(result.Locations)),
	)
	return nil
}

// Initialized reports whether the cache has been seeded.
func (c *Cache) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// Get returns the cached ID for a natural key.
func (c *Cache) Get(kind Kind, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.byKind[kind][key]
	return id, ok
}

// Put records a resolved natural key -> ID mapping.
func (c *Cache) Put(kind Kind, key, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKind[kind][key] = id
}

// Len returns the number of entries cached for a kind.
func (c *Cache) Len(kind Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byKind[kind])
}

// Clear empties all maps and marks the cache uninitialized.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range allKinds {
		c.byKind[k] = make(map[string]string)
	}
	c.initialized = false
}
