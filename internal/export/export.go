// Package export writes the enriched ledger as CSV, XLSX, GeoJSON or an ESRI
// point shapefile.
package export

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jamsshhayd/world-cities-enriched/internal/model"
)

// Format is an export file format.
type Format string

// Export formats.
const (
	FormatCSV       Format = "csv"
	FormatXLSX      Format = "xlsx"
	FormatGeoJSON   Format = "geojson"
	FormatShapefile Format = "shp"
)

// Formats lists the supported formats.
var Formats = []Format{FormatCSV, FormatXLSX, FormatGeoJSON, FormatShapefile}

// ParseFormat returns the format named by s, or implied by the extension of
// path when s is empty.
func ParseFormat(s, path string) (Format, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		name = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	switch name {
	case "csv":
		return FormatCSV, nil
	case "xlsx":
		return FormatXLSX, nil
	case "geojson", "json":
		return FormatGeoJSON, nil
	case "shp", "shapefile":
		return FormatShapefile, nil
	default:
		return "", eris.Errorf("export: unknown format %q", name)
	}
}

// Stats reports what an export wrote.
type Stats struct {
	Written int `json:"written"`
	// NoCoordinates counts records left out of geographic formats.
	NoCoordinates int `json:"no_coordinates"`
}

// ToFile writes recs to path in format f, creating parent directories.
func ToFile(path string, f Format, nameField string, recs []model.OutputRecord) (Stats, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Stats{}, eris.Wrapf(err, "export: create dir %s", dir)
		}
	}

	var (
		stats Stats
		err   error
	)
	switch f {
	case FormatCSV:
		stats, err = writeFileWith(path, func(file *os.File) (Stats, error) {
			return WriteCSV(file, nameField, recs)
		})
	case FormatXLSX:
		stats, err = WriteXLSX(path, nameField, recs)
	case FormatGeoJSON:
		stats, err = writeFileWith(path, func(file *os.File) (Stats, error) {
			return WriteGeoJSON(file, nameField, recs)
		})
	case FormatShapefile:
		stats, err = WriteShapefile(path, recs)
	default:
		return Stats{}, eris.Errorf("export: unknown format %q", f)
	}
	if err != nil {
		return stats, err
	}

	zap.L().Info("export: written",
		zap.String("path", path),
		zap.String("format", string(f)),
		zap.Int("written", stats.Written),
		zap.Int("no_coordinates", stats.NoCoordinates),
	)
	return stats, nil
}

func writeFileWith(path string, fn func(*os.File) (Stats, error)) (Stats, error) {
	file, err := os.Create(path)
	if err != nil {
		return Stats{}, eris.Wrapf(err, "export: create %s", path)
	}
	stats, err := fn(file)
	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = eris.Wrapf(closeErr, "export: close %s", path)
	}
	return stats, err
}
