// Package transform maps spreadsheet rows into normalized vendor
// documents, resolving product references up front.
package transform

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nordkart/vendorsync/internal/model"
	"github.com/nordkart/vendorsync/internal/refcache"
	"github.com/nordkart/vendorsync/internal/resolver"
	"github.com/nordkart/vendorsync/internal/slug"
)

// DefaultConcurrency bounds parallel product resolution.
const DefaultConcurrency = 8

// progressInterval controls how often row-mapping progress is logged.
const progressInterval = 50

// Transformer converts external rows into vendors.
type Transformer struct {
	resolver    *resolver.Resolver
	concurrency int
	now         func() time.Time
}

// Option configures the Transformer.
type Option func(*Transformer)

// WithConcurrency bounds parallel product resolution.
func WithConcurrency(n int) Option {
	return func(t *Transformer) {
		if n > 0 {
			t.concurrency = n
		}
	}
}

// WithClock overrides the import-timestamp clock (used by tests).
func WithClock(now func() time.Time) Option {
	return func(t *Transformer) {
		t.now = now
	}
}

// New creates a Transformer using the given resolver.
func New(r *resolver.Resolver, opts ...Option) *Transformer {
	t := &Transformer{
		resolver:    r,
		concurrency: DefaultConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transform maps a batch of rows into vendors. Rows missing the vendor
// number or name are dropped and logged. All distinct product names in
// the batch are resolved once, in parallel, before any row is mapped;
// a resolution failure aborts the whole transform rather than emitting
// vendors with partial product lists.
func (t *Transformer) Transform(ctx context.Context, rows []model.SourceRow) ([]model.Vendor, error) {
	valid := rows[:0:0]
	for _, row := range rows {
		if strings.TrimSpace(row.VendorNumber) == "" || strings.TrimSpace(row.VendorName) == "" {
			zap.L().Warn("transform: dropping malformed row",
				zap.String("vendor_number", row.VendorNumber),
				zap.String("vendor_name", row.VendorName),
			)
			continue
		}
		valid = append(valid, row)
	}

	productIDs, err := t.resolveProducts(ctx, valid)
	if err != nil {
		return nil, err
	}

	timestamp := t.now().Unix()
	vendors := make([]model.Vendor, 0, len(valid))
	for i, row := range valid {
		vendor, err := t.mapRow(row, productIDs, timestamp)
		if err != nil {
			return nil, err
		}
		vendors = append(vendors, vendor)
		if (i+1)%progressInterval == 0 {
			zap.L().Info("transform: progress",
				zap.Int("mapped", i+1),
				zap.Int("total", len(valid)),
			)
		}
	}
	return vendors, nil
}

// resolveProducts resolves the union of distinct cleaned product names
// across the batch, so no name hits the resolver twice.
func (t *Transformer) resolveProducts(ctx context.Context, rows []model.SourceRow) (map[string]string, error) {
	unique := make(map[string]struct{})
	for _, row := range rows {
		for _, name := range CleanProductNames(row.ProductNames) {
			unique[name] = struct{}{}
		}
	}

	names := make([]string, 0, len(unique))
	for name := range unique {
		names = append(names, name)
	}
	sort.Strings(names)

	ids := make(map[string]string, len(names))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.concurrency)
	for _, name := range names {
		name := name
		g.Go(func() error {
			id, err := t.resolver.Resolve(gctx, refcache.KindProduct, name, "")
			if err != nil {
				return eris.Wrapf(err, "transform: resolve product %q", name)
			}
			mu.Lock()
			ids[name] = id
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (t *Transformer) mapRow(row model.SourceRow, productIDs map[string]string, timestamp int64) (model.Vendor, error) {
	name := strings.TrimSpace(row.VendorName)

	names := CleanProductNames(row.ProductNames)
	refs := make([]model.Reference, 0, len(names))
	for _, productName := range names {
		id, ok := productIDs[productName]
		if !ok {
			// Never emit a vendor with a partial product list.
			return model.Vendor{}, eris.Errorf("transform: no resolved ID for product %q", productName)
		}
		refs = append(refs, model.ProductReference(id))
	}

	return model.Vendor{
		ID:                  model.VendorID(row.VendorNumber),
		Type:                model.TypeVendor,
		Name:                name,
		StreetAddress:       strings.TrimSpace(row.StreetAddress),
		PostalCode:          PadPostalCode(row.PostalCode),
		City:                strings.TrimSpace(row.City),
		Slug:                model.NewSlug(slug.Make(name)),
		ProductsInStock:     refs,
		LastImportTimestamp: timestamp,
	}, nil
}
