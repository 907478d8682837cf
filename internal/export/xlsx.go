package export

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/jamsshhayd/world-cities-enriched/internal/model"
)

// SheetName is the worksheet written by WriteXLSX.
const SheetName = "Cities"

// WriteXLSX writes recs to a single-sheet workbook at path. Numbers and
// booleans are stored as typed cells.
func WriteXLSX(path, nameField string, recs []model.OutputRecord) (Stats, error) {
	t := buildTable(nameField, recs)

	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return Stats{}, eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range t.header {
		header.AddCell().SetString(h)
	}

	for _, row := range t.rows {
		r := sheet.AddRow()
		for _, v := range row {
			setCell(r.AddCell(), v)
		}
	}

	if err := f.Save(path); err != nil {
		return Stats{}, eris.Wrapf(err, "export: save %s", path)
	}
	return Stats{Written: len(t.rows)}, nil
}

func setCell(c *xlsx.Cell, v any) {
	switch x := v.(type) {
	case nil:
	case bool:
		c.SetBool(x)
	case float64:
		c.SetFloat(x)
	case int64:
		c.SetInt64(x)
	case int:
		c.SetInt(x)
	case json.Number:
		if n, err := x.Int64(); err == nil {
			c.SetInt64(n)
			return
		}
		if f, err := x.Float64(); err == nil {
			c.SetFloat(f)
			return
		}
		c.SetString(x.String())
	default:
		c.SetString(formatCell(x))
	}
}
