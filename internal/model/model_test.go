package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVendorID(t *testing.T) {
	assert.Equal(t, "vendor-10042", VendorID("10042"))
	assert.Equal(t, "vendor-10042", VendorID(" 10042 "))
}

func TestLocationID(t *testing.T) {
	assert.Equal(t, "location-vendor-10042", LocationID(VendorID("10042")))
}

func TestProductIDDeterministic(t *testing.T) {
	a := ProductID("Hervik Ripsgelé")
	b := ProductID("Hervik Ripsgelé")
	assert.Equal(t, a, b)
	assert.Equal(t, "hervik-ripsgele", a)
}

func TestRegionID(t *testing.T) {
	assert.Equal(t, "municipality-baerum", RegionID(TypeMunicipality, "Bærum"))
	assert.Equal(t, "county-rogaland", RegionID(TypeCounty, "Rogaland"))
}

func TestProductReferenceKeyStable(t *testing.T) {
	r1 := ProductReference("hervik-ripsgele")
	r2 := ProductReference("hervik-ripsgele")
	assert.Equal(t, r1, r2)
	assert.Equal(t, "productRef-hervik-ripsgele", r1.Key)
}

func TestNewKeyedReferenceUnique(t *testing.T) {
	r1 := NewKeyedReference("municipality-baerum")
	r2 := NewKeyedReference("municipality-baerum")
	assert.Equal(t, r1.Ref, r2.Ref)
	assert.NotEqual(t, r1.Key, r2.Key)
}

func TestBoundingBoxEqual(t *testing.T) {
	a := BoundingBox{
		SW: Geopoint{Type: TypeGeopoint, Lat: 58.9, Lng: 5.7},
		NE: Geopoint{Type: TypeGeopoint, Lat: 59.1, Lng: 6.1},
	}
	b := a
	assert.True(t, a.Equal(b))
	b.NE.Lat = 59.2
	assert.False(t, a.Equal(b))
}

func TestVendorJSONShape(t *testing.T) {
	v := Vendor{
		ID:              VendorID("7"),
		Type:            TypeVendor,
		Name:            "Torget Frukt",
		PostalCode:      "0510",
		Slug:            NewSlug("torget-frukt"),
		ProductsInStock: []Reference{ProductReference("eplemost")},
	}
	data, err := json.Marshal(v)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "vendor-7", raw["_id"])
	assert.Equal(t, "vendor", raw["_type"])
	assert.Equal(t, "Torget Frukt", raw["vendor_name"])
	assert.NotContains(t, raw, "location")
	assert.NotContains(t, raw, "lastImportTimestamp")
}
