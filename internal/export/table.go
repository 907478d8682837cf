package export

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/jamsshhayd/world-cities-enriched/internal/model"
)

type column struct {
	name  string
	value func(model.OutputRecord) any
}

// enrichedColumns follow the name column in tabular exports. Input fields
// that are not listed here come after them in sorted order.
var enrichedColumns = []column{
	{"CityQID", func(r model.OutputRecord) any { return r.City.CityQID }},
	{"CityNameAr", func(r model.OutputRecord) any { return r.City.CityNameAr }},
	{"Latitude", func(r model.OutputRecord) any { return r.City.Latitude }},
	{"Longitude", func(r model.OutputRecord) any { return r.City.Longitude }},
	{"Population", func(r model.OutputRecord) any { return r.City.Population }},
	{"IsoCode", func(r model.OutputRecord) any { return r.City.IsoCode }},
	{"IsCapital", func(r model.OutputRecord) any { return r.IsCapital }},
	{"CountryQID", func(r model.OutputRecord) any { return r.City.CountryQID }},
	{"CountryNameEn", func(r model.OutputRecord) any { return country(r).CountryNameEn }},
	{"CountryNameAr", func(r model.OutputRecord) any { return country(r).CountryNameAr }},
	{"CountryIsoAlpha2", func(r model.OutputRecord) any { return country(r).IsoAlpha2 }},
	{"StateQID", func(r model.OutputRecord) any { return r.City.StateQID }},
	{"StateNameEn", func(r model.OutputRecord) any { return state(r).StateNameEn }},
	{"StateNameAr", func(r model.OutputRecord) any { return state(r).StateNameAr }},
	{"StateIsoCode", func(r model.OutputRecord) any { return state(r).IsoCode }},
}

func country(r model.OutputRecord) model.CountryRecord {
	if r.CountryDetails == nil {
		return model.CountryRecord{}
	}
	return *r.CountryDetails
}

func state(r model.OutputRecord) model.StateRecord {
	if r.StateDetails == nil {
		return model.StateRecord{}
	}
	return *r.StateDetails
}

// table is the flattened, column-ordered view of a set of records.
type table struct {
	header []string
	rows   [][]any
}

func buildTable(nameField string, recs []model.OutputRecord) table {
	reserved := map[string]bool{nameField: true}
	for _, c := range enrichedColumns {
		reserved[c.name] = true
	}

	extraSet := map[string]bool{}
	for _, r := range recs {
		for k := range r.Input.Fields {
			if !reserved[k] {
				extraSet[k] = true
			}
		}
	}
	extra := make([]string, 0, len(extraSet))
	for k := range extraSet {
		extra = append(extra, k)
	}
	sort.Strings(extra)

	t := table{header: make([]string, 0, 1+len(enrichedColumns)+len(extra))}
	t.header = append(t.header, nameField)
	for _, c := range enrichedColumns {
		t.header = append(t.header, c.name)
	}
	t.header = append(t.header, extra...)

	for _, r := range recs {
		row := make([]any, 0, len(t.header))
		row = append(row, r.Input.Name)
		for _, c := range enrichedColumns {
			row = append(row, deref(c.value(r)))
		}
		for _, k := range extra {
			row = append(row, r.Input.Fields[k])
		}
		t.rows = append(t.rows, row)
	}
	return t
}

// deref unwraps the optional pointer fields; nil pointers become nil.
func deref(v any) any {
	switch p := v.(type) {
	case *string:
		if p == nil {
			return nil
		}
		return *p
	case *float64:
		if p == nil {
			return nil
		}
		return *p
	case *int64:
		if p == nil {
			return nil
		}
		return *p
	default:
		return v
	}
}

// formatCell renders a cell for text formats. Absent values are empty.
func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case json.Number:
		return x.String()
	case map[string]any, []any:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	default:
		return fmt.Sprint(x)
	}
}
