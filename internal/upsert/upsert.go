// Package upsert reconciles a transformed vendor batch against the
// store's current vendor set with minimal writes.
package upsert

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nordkart/vendorsync/internal/model"
	"github.com/nordkart/vendorsync/pkg/sanity"
)

// MissingPolicy controls what happens to stored vendors absent from the
// incoming batch.
type MissingPolicy string

// Supported policies. RetainClearProducts keeps the document and its
// location but empties the product list (soft-retire).
const (
	PolicyRetainClearProducts MissingPolicy = "retain-and-clear-products"
	PolicyDelete              MissingPolicy = "delete"
	PolicyIgnore              MissingPolicy = "ignore"
)

// Valid reports whether p is a known policy.
func (p MissingPolicy) Valid() bool {
	switch p {
	case PolicyRetainClearProducts, PolicyDelete, PolicyIgnore:
		return true
	}
	return false
}

// Result summarizes one upsert pass.
type Result struct {
	Created   int `yaml:"created"`
	Patched   int `yaml:"patched"`
	Unchanged int `yaml:"unchanged"`
	Retired   int `yaml:"retired"`
	Deleted   int `yaml:"deleted"`
}

// Engine batches vendor creates, patches, and retires into one atomic
// commit.
type Engine struct {
	client sanity.Client
	policy MissingPolicy
}

// New creates an Engine. An unknown policy falls back to
// PolicyRetainClearProducts.
func New(client sanity.Client, policy MissingPolicy) *Engine {
	if !policy.Valid() {
		policy = PolicyRetainClearProducts
	}
	return &Engine{client: client, policy: policy}
}

// existingVendor is the stored state consulted for diffing.
type existingVendor struct {
	ID                  string   `json:"_id"`
	Name                string   `json:"vendor_name"`
	StreetAddress       string   `json:"streetAddress"`
	PostalCode          string   `json:"postalCode"`
	City                string   `json:"city"`
	Slug                string   `json:"slug"`
	ProductRefs         []string `json:"productRefs"`
	LastImportTimestamp int64    `json:"lastImportTimestamp"`
}

const existingQuery = `*[_type == "vendor"]{
	_id,
	vendor_name,
	streetAddress,
	postalCode,
	city,
	"slug": slug.current,
	"productRefs": products_in_stock[]._ref,
	lastImportTimestamp
}`

// Upsert applies the batch: create new vendors, patch changed fields on
// existing ones, and apply the missing-vendor policy to the rest. All
// mutations commit in one transaction; a commit failure is fatal and
// leaves the store untouched.
func (e *Engine) Upsert(ctx context.Context, vendors []model.Vendor) (*Result, error) {
	var existing []existingVendor
	if err := e.client.Fetch(ctx, existingQuery, nil, &existing); err != nil {
		return nil, eris.Wrap(err, "upsert: fetch existing vendors")
	}

	byID := make(map[string]existingVendor, len(existing))
	for _, v := range existing {
		byID[v.ID] = v
	}

	result := &Result{}
	tx := sanity.NewTx()
	seen := make(map[string]struct{}, len(vendors))

	for _, vendor := range vendors {
		seen[vendor.ID] = struct{}{}
		current, ok := byID[vendor.ID]
		if !ok {
			tx.Create(vendor)
			result.Created++
			continue
		}

		patch := diff(current, vendor)
		if len(patch.Set) == 0 && len(patch.Unset) == 0 {
			result.Unchanged++
			continue
		}
		tx.Patch(vendor.ID, patch)
		result.Patched++
	}

	e.applyMissingPolicy(tx, existing, seen, result)

	if _, err := e.client.Commit(ctx, tx); err != nil {
		return nil, eris.Wrap(err, "upsert: commit transaction")
	}

	zap.L().Info("upsert: batch committed",
		zap.Int("created", result.Created),
		zap.Int("patched", result.Patched),
		zap.Int("unchanged", result.Unchanged),
		zap.Int("retired", result.Retired),
		zap.Int("deleted", result.Deleted),
	)
	return result, nil
}

// diff computes the minimal patch turning current into incoming. An
// address change additionally unsets the location reference so the
// reconcile stage recomputes geography.
func diff(current existingVendor, incoming model.Vendor) sanity.Patch {
	set := make(map[string]any)
	var unset []string

	if current.Name != incoming.Name {
		set["vendor_name"] = incoming.Name
	}
	if current.StreetAddress != incoming.StreetAddress {
		set["streetAddress"] = incoming.StreetAddress
	}
	if current.PostalCode != incoming.PostalCode {
		set["postalCode"] = incoming.PostalCode
	}
	if current.City != incoming.City {
		set["city"] = incoming.City
	}
	if current.Slug != incoming.Slug.Current {
		set["slug"] = incoming.Slug
	}
	if !sameRefs(current.ProductRefs, incoming.ProductsInStock) {
		set["products_in_stock"] = incoming.ProductsInStock
	}
	if current.LastImportTimestamp != incoming.LastImportTimestamp {
		set["lastImportTimestamp"] = incoming.LastImportTimestamp
	}

	if current.StreetAddress != incoming.StreetAddress || current.PostalCode != incoming.PostalCode {
		unset = append(unset, "location")
	}

	return sanity.Patch{Set: set, Unset: unset}
}

// sameRefs compares stored ref IDs against incoming references in order.
// Product order is deterministic per row, so order-sensitive equality is
// stable across identical imports.
func sameRefs(current []string, incoming []model.Reference) bool {
	if len(current) != len(incoming) {
		return false
	}
	for i, ref := range incoming {
		if current[i] != ref.Ref {
			return false
		}
	}
	return true
}

func (e *Engine) applyMissingPolicy(tx *sanity.Tx, existing []existingVendor, seen map[string]struct{}, result *Result) {
	if e.policy == PolicyIgnore {
		return
	}
	for _, v := range existing {
		if _, ok := seen[v.ID]; ok {
			continue
		}
		switch e.policy {
		case PolicyDelete:
			tx.Delete(v.ID)
			result.Deleted++
		case PolicyRetainClearProducts:
			// Idempotent: an already-cleared vendor is left untouched.
			if len(v.ProductRefs) == 0 {
				result.Unchanged++
				continue
			}
			tx.Patch(v.ID, sanity.Patch{Set: map[string]any{"products_in_stock": []model.Reference{}}})
			result.Retired++
		}
	}
}
