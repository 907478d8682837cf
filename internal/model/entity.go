// Package model defines the records that flow through the enrichment pipeline.
package model

// Level selects which fields are extracted from an entity document.
type Level string

// Entity levels.
const (
	LevelCity    Level = "City"
	LevelCountry Level = "Country"
	LevelState   Level = "State"
)

// Entity is a level-tagged record extracted from a Wikidata entity document.
type Entity interface {
	Level() Level
	ID() string
}

// CityRecord holds the fields extracted for the subject city. Pointer fields
// are nil when the entity document does not carry the property.
type CityRecord struct {
	CityQID    string   `json:"CityQID"`
	CityNameAr *string  `json:"CityNameAr"`
	CountryQID *string  `json:"CountryQID"`
	StateQID   *string  `json:"StateQID"`
	Latitude   *float64 `json:"Latitude"`
	Longitude  *float64 `json:"Longitude"`
	Population *int64   `json:"Population"`
	IsoCode    *string  `json:"IsoCode"`
}

// Level implements Entity.
func (CityRecord) Level() Level { return LevelCity }

// ID implements Entity.
func (c CityRecord) ID() string { return c.CityQID }

// HasCoordinates reports whether both latitude and longitude are known.
func (c CityRecord) HasCoordinates() bool {
	return c.Latitude != nil && c.Longitude != nil
}

// CountryRecord is the cached detail record for a country.
type CountryRecord struct {
	CountryQID    string  `json:"CountryQID"`
	CountryNameEn *string `json:"CountryNameEn"`
	CountryNameAr *string `json:"CountryNameAr"`
	IsoAlpha2     *string `json:"IsoAlpha2"`
	CapitalQID    *string `json:"CapitalQID"`
}

// Level implements Entity.
func (CountryRecord) Level() Level { return LevelCountry }

// ID implements Entity.
func (c CountryRecord) ID() string { return c.CountryQID }

// IsCapital reports whether cityQID is this country's recorded capital.
// A country without a recorded capital has no capital city.
func (c CountryRecord) IsCapital(cityQID string) bool {
	return c.CapitalQID != nil && cityQID != "" && *c.CapitalQID == cityQID
}

// StateRecord is the cached detail record for a first-level subdivision.
type StateRecord struct {
	StateQID    string  `json:"StateQID"`
	StateNameEn *string `json:"StateNameEn"`
	StateNameAr *string `json:"StateNameAr"`
	IsoCode     *string `json:"IsoCode"`
	CountryQID  *string `json:"CountryQID"`
}

// Level implements Entity.
func (StateRecord) Level() Level { return LevelState }

// ID implements Entity.
func (s StateRecord) ID() string { return s.StateQID }

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// Deref returns *p, or the zero value when p is nil.
func Deref[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}
