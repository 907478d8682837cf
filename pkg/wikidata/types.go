package wikidata

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Property codes used by the enrichment job. These are Wikidata constants.
const (
	PropCountry     = "P17"   // country
	PropLocatedIn   = "P131"  // located in the administrative territorial entity
	PropCapital     = "P36"   // capital
	PropCoordinates = "P625"  // coordinate location
	PropPopulation  = "P1082" // population
	PropISO31662    = "P300"  // ISO 3166-2 code
	PropISOAlpha2   = "P297"  // ISO 3166-1 alpha-2 code
)

// SearchResponse is the wbsearchentities response.
type SearchResponse struct {
	Search []SearchResult `json:"search"`
}

// SearchResult is one search hit.
type SearchResult struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// EntityResponse is the Special:EntityData response, keyed by entity ID.
type EntityResponse struct {
	Entities map[string]Entity `json:"entities"`
}

// Entity is a Wikidata item document.
type Entity struct {
	ID     string                 `json:"id"`
	Labels map[string]Label       `json:"labels"`
	Claims map[string][]Statement `json:"claims"`
}

// Label is a localized label.
type Label struct {
	Language string `json:"language"`
	Value    string `json:"value"`
}

// Statement is one claim for a property.
type Statement struct {
	MainSnak Snak   `json:"mainsnak"`
	Rank     string `json:"rank"`
}

// Snak carries the statement value. DataValue is nil for "novalue" and
// "somevalue" snaks.
type Snak struct {
	SnakType  string     `json:"snaktype"`
	Property  string     `json:"property"`
	DataValue *DataValue `json:"datavalue"`
}

// DataValue is a typed claim value. Value is decoded lazily by the typed
// accessors.
type DataValue struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// EntityRef is the value of a wikibase-entityid data value.
type EntityRef struct {
	ID string `json:"id"`
}

// Coordinate is the value of a globecoordinate data value.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Quantity is the value of a quantity data value.
type Quantity struct {
	Amount string `json:"amount"`
	Unit   string `json:"unit"`
}

// Label returns the label for lang.
func (e *Entity) Label(lang string) (string, bool) {
	l, ok := e.Labels[lang]
	if !ok || l.Value == "" {
		return "", false
	}
	return l.Value, true
}

// FirstValue returns the data value of the first statement recorded for prop.
// Later statements are ignored regardless of rank.
func (e *Entity) FirstValue(prop string) (*DataValue, bool) {
	stmts := e.Claims[prop]
	if len(stmts) == 0 || stmts[0].MainSnak.DataValue == nil {
		return nil, false
	}
	return stmts[0].MainSnak.DataValue, true
}

// EntityID decodes a wikibase-entityid value.
func (v *DataValue) EntityID() (string, error) {
	var ref EntityRef
	if err := json.Unmarshal(v.Value, &ref); err != nil {
		return "", eris.Wrap(err, "wikidata: decode entity reference")
	}
	if ref.ID == "" {
		return "", eris.New("wikidata: entity reference without id")
	}
	return ref.ID, nil
}

// Text decodes a string value.
func (v *DataValue) Text() (string, error) {
	var s string
	if err := json.Unmarshal(v.Value, &s); err != nil {
		return "", eris.Wrap(err, "wikidata: decode string")
	}
	return s, nil
}

// Coordinate decodes a globecoordinate value. Both latitude and longitude
// must be present.
func (v *DataValue) Coordinate() (Coordinate, error) {
	var raw struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}
	if err := json.Unmarshal(v.Value, &raw); err != nil {
		return Coordinate{}, eris.Wrap(err, "wikidata: decode coordinate")
	}
	if raw.Latitude == nil || raw.Longitude == nil {
		return Coordinate{}, eris.New("wikidata: coordinate missing latitude or longitude")
	}
	return Coordinate{Latitude: *raw.Latitude, Longitude: *raw.Longitude}, nil
}

// Quantity decodes a quantity value. A bare number or string is accepted as
// the amount.
func (v *DataValue) Quantity() (Quantity, error) {
	var q Quantity
	if err := json.Unmarshal(v.Value, &q); err == nil {
		return q, nil
	}
	var n json.Number
	if err := json.Unmarshal(v.Value, &n); err != nil {
		return Quantity{}, eris.Wrap(err, "wikidata: decode quantity")
	}
	return Quantity{Amount: n.String()}, nil
}

// Int parses the amount as an integer. Wikidata amounts carry a sign prefix
// ("+1234"); fractional amounts are truncated.
func (q Quantity) Int() (int64, error) {
	s := strings.TrimPrefix(strings.TrimSpace(q.Amount), "+")
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "wikidata: parse amount %q", q.Amount)
	}
	return int64(f), nil
}
