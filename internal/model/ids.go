package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nordkart/vendorsync/internal/slug"
)

// VendorID derives the stable document ID for an external vendor number.
func VendorID(vendorNumber string) string {
	return "vendor-" + strings.TrimSpace(vendorNumber)
}

// LocationID derives the document ID for a vendor's location. One
// location per vendor; this is the only supported derivation scheme.
func LocationID(vendorID string) string {
	return "location-" + vendorID
}

// ProductID derives the document ID for a cleaned product name. The
// mapping is injective enough in practice; slug collisions are an
// accepted risk.
func ProductID(name string) string {
	return slug.Make(name)
}

// RegionID derives the document ID for a municipality or county name.
func RegionID(kind, name string) string {
	return kind + "-" + slug.Make(name)
}

// NewSlug wraps a pre-computed slug value.
func NewSlug(current string) Slug {
	return Slug{Type: TypeSlug, Current: current}
}

// NewReference builds a plain (non-array) reference.
func NewReference(ref string) *Reference {
	return &Reference{Type: TypeReference, Ref: ref}
}

// NewKeyedReference builds an array-member reference with a fresh
// uniqueness key.
func NewKeyedReference(ref string) Reference {
	return Reference{Type: TypeReference, Ref: ref, Key: uuid.New().String()}
}

// ProductReference builds a vendor->product reference. The key is
// derived from the product ID so repeated transforms of the same row
// produce identical references.
func ProductReference(productID string) Reference {
	return Reference{
		Type: TypeReference,
		Ref:  productID,
		Key:  fmt.Sprintf("productRef-%s", productID),
	}
}
