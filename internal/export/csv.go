package export

import (
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"

	"github.com/jamsshhayd/world-cities-enriched/internal/model"
)

// WriteCSV writes recs as CSV with a header row.
func WriteCSV(w io.Writer, nameField string, recs []model.OutputRecord) (Stats, error) {
	t := buildTable(nameField, recs)

	cw := csv.NewWriter(w)
	if err := cw.Write(t.header); err != nil {
		return Stats{}, eris.Wrap(err, "export: write csv header")
	}

	line := make([]string, len(t.header))
	for _, row := range t.rows {
		for i, v := range row {
			line[i] = formatCell(v)
		}
		if err := cw.Write(line); err != nil {
			return Stats{}, eris.Wrap(err, "export: write csv row")
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return Stats{}, eris.Wrap(err, "export: flush csv")
	}
	return Stats{Written: len(t.rows)}, nil
}
