// Package resolver implements find-or-create for shared reference
// entities: products, municipalities, and counties.
package resolver

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nordkart/vendorsync/internal/model"
	"github.com/nordkart/vendorsync/internal/refcache"
	"github.com/nordkart/vendorsync/internal/slug"
	"github.com/nordkart/vendorsync/pkg/sanity"
)

// Resolver resolves natural keys to stable document IDs, creating
// missing entities deterministically.
//
// Concurrent resolves of the same key are safe: IDs derive from the
// name, and creates use create-if-not-exists semantics, so duplicates
// converge on one document without locking.
type Resolver struct {
	cache  *refcache.Cache
	client sanity.Client
}

// New creates a Resolver over the given cache and store client.
func New(cache *refcache.Cache, client sanity.Client) *Resolver {
	return &Resolver{cache: cache, client: client}
}

// nameField returns the GROQ field holding the natural key for a kind.
func nameField(kind refcache.Kind) string {
	if kind == refcache.KindProduct {
		return "product"
	}
	return "name"
}

// Resolve returns the document ID for a natural key, consulting the
// cache, then the store, then creating a minimal document. parentCounty
// is only honored for municipalities; pass "" otherwise.
//
// A store failure here is fatal for the calling stage: references must
// never be silently dropped.
func (r *Resolver) Resolve(ctx context.Context, kind refcache.Kind, name string, parentCounty string) (string, error) {
	if name == "" {
		return "", eris.Errorf("resolver: empty natural key for kind %s", kind)
	}

	if id, ok := r.cache.Get(kind, name); ok {
		return id, nil
	}

	// Cache miss: query the store directly. Defends against partial
	// initialization or documents created outside this run.
	var existing *string
	query := `*[_type == $type && ` + nameField(kind) + ` == $name][0]._id`
	params := map[string]any{"type": string(kind), "name": name}
	if err := r.client.Fetch(ctx, query, params, &existing); err != nil {
		return "", eris.Wrapf(err, "resolver: query %s %q", kind, name)
	}
	if existing != nil && *existing != "" {
		r.cache.Put(kind, name, *existing)
		return *existing, nil
	}

	id, doc := r.newDocument(kind, name, parentCounty)

	tx := sanity.NewTx().CreateIfNotExists(doc)
	if _, err := r.client.Commit(ctx, tx); err != nil {
		return "", eris.Wrapf(err, "resolver: create %s %q", kind, name)
	}

	zap.L().Debug("resolver: created entity",
		zap.String("kind", string(kind)),
		zap.String("name", name),
		zap.String("id", id),
	)
	r.cache.Put(kind, name, id)
	return id, nil
}

// newDocument builds the minimal document for a missing entity and
// returns its deterministic ID.
func (r *Resolver) newDocument(kind refcache.Kind, name, parentCounty string) (string, any) {
	switch kind {
	case refcache.KindProduct:
		id := model.ProductID(name)
		return id, model.Product{ID: id, Type: model.TypeProduct, Name: name}

	case refcache.KindMunicipality:
		id := model.RegionID(model.TypeMunicipality, name)
		doc := model.Municipality{
			ID:   id,
			Type: model.TypeMunicipality,
			Name: name,
			Slug: model.NewSlug(slug.Make(name)),
		}
		if parentCounty != "" {
			doc.County = model.NewReference(parentCounty)
		}
		return id, doc

	case refcache.KindCounty:
		id := model.RegionID(model.TypeCounty, name)
		return id, model.County{
			ID:   id,
			Type: model.TypeCounty,
			Name: name,
			Slug: model.NewSlug(slug.Make(name)),
		}

	default:
		// Vendors and locations are never resolver-created; their IDs
		// derive from the import row and the transform/reconcile stages
		// own their documents.
		id := model.RegionID(string(kind), name)
		return id, map[string]any{"_id": id, "_type": string(kind), "name": name}
	}
}
