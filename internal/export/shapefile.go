package export

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"

	"github.com/jamsshhayd/world-cities-enriched/internal/model"
)

// wgs84PRJ is the ESRI projection definition for EPSG:4326.
const wgs84PRJ = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`

type shpField struct {
	field shp.Field
	value func(model.OutputRecord) any
}

// DBF field names are limited to 10 characters.
var shpFields = []shpField{
	{shp.StringField("NAME", 80), func(r model.OutputRecord) any { return r.Input.Name }},
	{shp.StringField("QID", 16), func(r model.OutputRecord) any { return r.City.CityQID }},
	{shp.StringField("NAME_AR", 120), func(r model.OutputRecord) any { return r.City.CityNameAr }},
	{shp.NumberField("POP", 12), func(r model.OutputRecord) any { return r.City.Population }},
	{shp.StringField("ISO_CODE", 10), func(r model.OutputRecord) any { return r.City.IsoCode }},
	{shp.NumberField("CAPITAL", 1), func(r model.OutputRecord) any { return r.IsCapital }},
	{shp.StringField("CTRY_QID", 16), func(r model.OutputRecord) any { return r.City.CountryQID }},
	{shp.StringField("CTRY_NAME", 80), func(r model.OutputRecord) any { return country(r).CountryNameEn }},
	{shp.StringField("CTRY_ISO2", 2), func(r model.OutputRecord) any { return country(r).IsoAlpha2 }},
	{shp.StringField("STATE_QID", 16), func(r model.OutputRecord) any { return r.City.StateQID }},
	{shp.StringField("STATE_NAME", 80), func(r model.OutputRecord) any { return state(r).StateNameEn }},
	{shp.StringField("STATE_ISO", 10), func(r model.OutputRecord) any { return state(r).IsoCode }},
}

// WriteShapefile writes recs as a point shapefile at path (the .shp file),
// with .shx, .dbf, .prj and .cpg sidecars. A missing .shp extension is
// added. Records without both coordinates are left out.
func WriteShapefile(path string, recs []model.OutputRecord) (Stats, error) {
	var stats Stats
	if !strings.EqualFold(filepath.Ext(path), ".shp") {
		path += ".shp"
	}

	w, err := shp.Create(path, shp.POINT)
	if err != nil {
		return stats, eris.Wrapf(err, "export: create shapefile %s", path)
	}

	fields := make([]shp.Field, len(shpFields))
	for i, f := range shpFields {
		fields[i] = f.field
	}
	if err := w.SetFields(fields); err != nil {
		w.Close()
		return stats, eris.Wrap(err, "export: set shapefile fields")
	}

	for _, r := range recs {
		if !r.City.HasCoordinates() {
			stats.NoCoordinates++
			continue
		}

		idx := w.Write(&shp.Point{X: *r.City.Longitude, Y: *r.City.Latitude})
		for j, f := range shpFields {
			v, ok := dbfValue(f.value(r))
			if !ok {
				continue
			}
			if err := w.WriteAttribute(int(idx), j, v); err != nil {
				w.Close()
				return stats, eris.Wrapf(err, "export: write attribute %s for %s", f.field.String(), r.Input.Name)
			}
		}
		stats.Written++
	}
	w.Close()

	base := strings.TrimSuffix(path, filepath.Ext(path))
	if err := os.WriteFile(base+".prj", []byte(wgs84PRJ), 0o644); err != nil {
		return stats, eris.Wrap(err, "export: write prj")
	}
	if err := os.WriteFile(base+".cpg", []byte("UTF-8"), 0o644); err != nil {
		return stats, eris.Wrap(err, "export: write cpg")
	}
	return stats, nil
}

// dbfValue converts a column value to a type go-shp can write. Absent values
// report false and leave the attribute blank.
func dbfValue(v any) (any, bool) {
	switch x := deref(v).(type) {
	case nil:
		return nil, false
	case string:
		return x, true
	case int64:
		return int(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case float64:
		return x, true
	default:
		return nil, false
	}
}
