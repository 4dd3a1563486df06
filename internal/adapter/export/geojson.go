package export

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/civic-map-etl/internal/domain"
)

// NewFeatureCollection converts records into point features in input order.
// Properties carry what the map popup shows; source and date are omitted
// when the record has none.
func NewFeatureCollection(records []domain.Record) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.Features = make([]*geojson.Feature, 0, len(records))
	for _, r := range records {
		f := geojson.NewFeature(orb.Point{r.Longitude, r.Latitude})
		if r.ID != "" {
			f.ID = r.ID
		}
		f.Properties["name"] = r.Name
		f.Properties["description"] = r.Description
		f.Properties["link"] = r.Link()
		if r.Source != "" {
			f.Properties["source"] = r.Source
		}
		if r.Date != nil {
			f.Properties["date"] = formatDate(r.Date)
		}
		fc.Append(f)
	}
	return fc
}

// WriteGeoJSON writes records as a FeatureCollection.
func WriteGeoJSON(w io.Writer, records []domain.Record) error {
	if err := json.NewEncoder(w).Encode(NewFeatureCollection(records)); err != nil {
		return fmt.Errorf("encode feature collection: %w", err)
	}
	return nil
}
