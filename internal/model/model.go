// Package model defines the document types synchronized to the content store.
//
// Every entity is a document with a string ID and a _type discriminator.
// The store is the sole durable owner of this data; in-process caches are
// rebuildable projections of it.
package model

// Document type discriminators.
const (
	TypeVendor       = "vendor"
	TypeProduct      = "product"
	TypeLocation     = "location"
	TypeMunicipality = "municipality"
	TypeCounty       = "county"
	TypeReference    = "reference"
	TypeSlug         = "slug"
	TypeGeopoint     = "geopoint"
)

// Reference points at another document. Key is required when the
// reference lives inside an array (array-item identity).
type Reference struct {
	Type string `json:"_type"`
	Ref  string `json:"_ref"`
	Key  string `json:"_key,omitempty"`
}

// Slug is a URL-safe identifier attached to named documents.
type Slug struct {
	Type    string `json:"_type"`
	Current string `json:"current"`
}

// Geopoint is a WGS84 coordinate.
type Geopoint struct {
	Type string  `json:"_type"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

// BoundingBox is the minimal rectangle covering a region's locations,
// stored as south-west and north-east corners. Derived data, never
// source of truth.
type BoundingBox struct {
	SW Geopoint `json:"sw"`
	NE Geopoint `json:"ne"`
}

// Equal reports whether two boxes have identical corners.
func (b BoundingBox) Equal(other BoundingBox) bool {
	return b.SW.Lat == other.SW.Lat && b.SW.Lng == other.SW.Lng &&
		b.NE.Lat == other.NE.Lat && b.NE.Lng == other.NE.Lng
}

// Vendor is one outlet selling products. Its ID is derived from the
// external vendor number, so re-imports upsert in place.
type Vendor struct {
	ID                  string      `json:"_id"`
	Type                string      `json:"_type"`
	Name                string      `json:"vendor_name"`
	StreetAddress       string      `json:"streetAddress,omitempty"`
	PostalCode          string      `json:"postalCode,omitempty"`
	City                string      `json:"city,omitempty"`
	Slug                Slug        `json:"slug"`
	Location            *Reference  `json:"location,omitempty"`
	ProductsInStock     []Reference `json:"products_in_stock"`
	LastImportTimestamp int64       `json:"lastImportTimestamp,omitempty"`
}

// Product is a shared reference entity, deduplicated by cleaned name.
type Product struct {
	ID   string `json:"_id"`
	Type string `json:"_type"`
	Name string `json:"product"`
}

// Location is one physical address, at most one per vendor.
type Location struct {
	ID            string     `json:"_id"`
	Type          string     `json:"_type"`
	StreetAddress string     `json:"streetAddress,omitempty"`
	PostalCode    string     `json:"postalCode,omitempty"`
	City          string     `json:"city,omitempty"`
	Geopoint      *Geopoint  `json:"geopoint,omitempty"`
	Municipality  *Reference `json:"municipality,omitempty"`
	County        *Reference `json:"county,omitempty"`
}

// Municipality is a region containing locations, belonging to one county.
type Municipality struct {
	ID          string       `json:"_id"`
	Type        string       `json:"_type"`
	Name        string       `json:"name"`
	Slug        Slug         `json:"slug"`
	County      *Reference   `json:"county,omitempty"`
	VendorCount int          `json:"vendorCount,omitempty"`
	BoundingBox *BoundingBox `json:"boundingBox,omitempty"`
}

// County is the top-level region. Municipalities carries the derived
// backlink array; it is rebuilt by the repair pass, not enforced at
// write time.
type County struct {
	ID               string       `json:"_id"`
	Type             string       `json:"_type"`
	Name             string       `json:"name"`
	Slug             Slug         `json:"slug"`
	Municipalities   []Reference  `json:"municipalities,omitempty"`
	TotalVendorCount int          `json:"totalVendorCount,omitempty"`
	BoundingBox      *BoundingBox `json:"boundingBox,omitempty"`
}

// SourceRow is one flat record from the spreadsheet export.
type SourceRow struct {
	VendorNumber  string
	VendorName    string
	StreetAddress string
	PostalCode    string
	City          string
	ProductNames  string // semicolon-delimited, uncleaned
}
