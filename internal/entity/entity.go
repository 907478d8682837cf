// Package entity fetches Wikidata entity documents and extracts the fields
// recorded for cities, countries and states.
package entity

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jamsshhayd/world-cities-enriched/internal/model"
	"github.com/jamsshhayd/world-cities-enriched/pkg/wikidata"
)

// Label languages.
const (
	LangEn = "en"
	LangAr = "ar"
)

// Fetcher retrieves entity documents and extracts level-specific records.
// Only the first statement of each property is used.
type Fetcher struct {
	client wikidata.Client
}

// NewFetcher creates a Fetcher.
func NewFetcher(client wikidata.Client) *Fetcher {
	return &Fetcher{client: client}
}

// Fetch retrieves id and extracts the fields for level. On a transport or
// decode failure it returns a record carrying only the ID, together with the
// error. Missing or malformed properties are left absent and are not errors.
func (f *Fetcher) Fetch(ctx context.Context, id string, level model.Level) (model.Entity, error) {
	switch level {
	case model.LevelCity:
		return f.City(ctx, id)
	case model.LevelCountry:
		return f.Country(ctx, id)
	case model.LevelState:
		return f.State(ctx, id)
	default:
		return nil, eris.Errorf("entity: unknown level %q", level)
	}
}

// City fetches the subject city, including its parent country and state IDs.
// When id redirects, the record carries the target entity's ID.
func (f *Fetcher) City(ctx context.Context, id string) (model.CityRecord, error) {
	rec := model.CityRecord{CityQID: id}

	e, err := f.get(ctx, id, model.LevelCity)
	if err != nil {
		return rec, err
	}
	if e.ID != "" {
		rec.CityQID = e.ID
	}
	x := extractor{entity: e, level: model.LevelCity}

	rec.CityNameAr = x.label(LangAr)
	rec.CountryQID = x.entityID(wikidata.PropCountry)
	rec.StateQID = x.entityID(wikidata.PropLocatedIn)
	rec.Latitude, rec.Longitude = x.coordinate(wikidata.PropCoordinates)
	rec.Population = x.quantity(wikidata.PropPopulation)
	rec.IsoCode = x.text(wikidata.PropISO31662)
	return rec, nil
}

// Country fetches a country record.
func (f *Fetcher) Country(ctx context.Context, id string) (model.CountryRecord, error) {
	rec := model.CountryRecord{CountryQID: id}

	e, err := f.get(ctx, id, model.LevelCountry)
	if err != nil {
		return rec, err
	}
	if e.ID != "" {
		rec.CountryQID = e.ID
	}
	x := extractor{entity: e, level: model.LevelCountry}

	rec.CountryNameEn = x.label(LangEn)
	rec.CountryNameAr = x.label(LangAr)
	rec.IsoAlpha2 = x.text(wikidata.PropISOAlpha2)
	rec.CapitalQID = x.entityID(wikidata.PropCapital)
	return rec, nil
}

// State fetches a first-level subdivision record.
func (f *Fetcher) State(ctx context.Context, id string) (model.StateRecord, error) {
	rec := model.StateRecord{StateQID: id}

	e, err := f.get(ctx, id, model.LevelState)
	if err != nil {
		return rec, err
	}
	if e.ID != "" {
		rec.StateQID = e.ID
	}
	x := extractor{entity: e, level: model.LevelState}

	rec.StateNameEn = x.label(LangEn)
	rec.StateNameAr = x.label(LangAr)
	rec.IsoCode = x.text(wikidata.PropISO31662)
	rec.CountryQID = x.entityID(wikidata.PropCountry)
	return rec, nil
}

func (f *Fetcher) get(ctx context.Context, id string, level model.Level) (*wikidata.Entity, error) {
	e, err := f.client.GetEntity(ctx, id)
	if err != nil {
		zap.L().Warn("entity: fetch failed",
			zap.String("qid", id),
			zap.String("level", string(level)),
			zap.Error(err),
		)
		return nil, eris.Wrapf(err, "entity: fetch %s %s", level, id)
	}
	return e, nil
}
