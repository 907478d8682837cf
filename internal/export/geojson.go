package export

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/jamsshhayd/world-cities-enriched/internal/model"
)

// WriteGeoJSON writes recs as a FeatureCollection of points in WGS84
// longitude/latitude order. Records without both coordinates are left out.
// Feature properties carry the same columns as the tabular formats, with
// absent values as null.
func WriteGeoJSON(w io.Writer, nameField string, recs []model.OutputRecord) (Stats, error) {
	var stats Stats
	t := buildTable(nameField, recs)

	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(recs))}
	var bounds *geom.Bounds

	for i, r := range recs {
		if !r.City.HasCoordinates() {
			stats.NoCoordinates++
			continue
		}

		pt := geom.NewPointFlat(geom.XY, []float64{*r.City.Longitude, *r.City.Latitude})
		if bounds == nil {
			bounds = geom.NewBounds(geom.XY)
		}
		bounds.Extend(pt)

		props := make(map[string]any, len(t.header))
		for j, h := range t.header {
			props[h] = t.rows[i][j]
		}

		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         r.City.CityQID,
			Geometry:   pt,
			Properties: props,
		})
		stats.Written++
	}
	fc.BBox = bounds

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(fc); err != nil {
		return stats, eris.Wrap(err, "export: encode geojson")
	}
	return stats, nil
}
