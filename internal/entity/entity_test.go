package entity

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamsshhayd/world-cities-enriched/internal/model"
	"github.com/jamsshhayd/world-cities-enriched/pkg/wikidata"
)

type stubClient struct {
	docs  map[string]string
	err   error
	calls map[string]int
}

func (s *stubClient) SearchEntities(context.Context, string) (*wikidata.SearchResponse, error) {
	return nil, errors.New("not implemented")
}

func (s *stubClient) GetEntity(_ context.Context, id string) (*wikidata.Entity, error) {
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[id]++
	if s.err != nil {
		return nil, s.err
	}
	doc, ok := s.docs[id]
	if !ok {
		return nil, wikidata.ErrNotFound
	}
	var e wikidata.Entity
	if err := json.Unmarshal([]byte(doc), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

const cairoDoc = `{
  "id": "Q85",
  "labels": {"en": {"language": "en", "value": "Cairo"}, "ar": {"language": "ar", "value": "القاهرة"}},
  "claims": {
    "P17":   [{"mainsnak": {"snaktype": "value", "datavalue": {"type": "wikibase-entityid", "value": {"id": "Q79"}}}}],
    "P131":  [{"mainsnak": {"snaktype": "value", "datavalue": {"type": "wikibase-entityid", "value": {"id": "Q30"}}}},
              {"mainsnak": {"snaktype": "value", "datavalue": {"type": "wikibase-entityid", "value": {"id": "Q999"}}}}],
    "P625":  [{"mainsnak": {"snaktype": "value", "datavalue": {"type": "globecoordinate", "value": {"latitude": 30.0444, "longitude": 31.2357}}}}],
    "P1082": [{"mainsnak": {"snaktype": "value", "datavalue": {"type": "quantity", "value": {"amount": "+9539673", "unit": "1"}}}},
              {"mainsnak": {"snaktype": "value", "datavalue": {"type": "quantity", "value": {"amount": "+1", "unit": "1"}}}}],
    "P300":  [{"mainsnak": {"snaktype": "value", "datavalue": {"type": "string", "value": "EG-C"}}}]
  }
}`

const egyptDoc = `{
  "id": "Q79",
  "labels": {"en": {"language": "en", "value": "Egypt"}, "ar": {"language": "ar", "value": "مصر"}},
  "claims": {
    "P297": [{"mainsnak": {"snaktype": "value", "datavalue": {"type": "string", "value": "EG"}}}],
    "P36":  [{"mainsnak": {"snaktype": "value", "datavalue": {"type": "wikibase-entityid", "value": {"id": "Q85"}}}}]
  }
}`

const governorateDoc = `{
  "id": "Q30",
  "labels": {"en": {"language": "en", "value": "Cairo Governorate"}},
  "claims": {
    "P300": [{"mainsnak": {"snaktype": "value", "datavalue": {"type": "string", "value": "EG-C"}}}],
    "P17":  [{"mainsnak": {"snaktype": "value", "datavalue": {"type": "wikibase-entityid", "value": {"id": "Q79"}}}}]
  }
}`

func newStub() *stubClient {
	return &stubClient{docs: map[string]string{"Q85": cairoDoc, "Q79": egyptDoc, "Q30": governorateDoc}}
}

func TestCity(t *testing.T) {
	f := NewFetcher(newStub())

	rec, err := f.City(context.Background(), "Q85")
	require.NoError(t, err)

	assert.Equal(t, "Q85", rec.CityQID)
	assert.Equal(t, "القاهرة", model.Deref(rec.CityNameAr))
	assert.Equal(t, "Q79", model.Deref(rec.CountryQID))
	assert.Equal(t, "Q30", model.Deref(rec.StateQID), "first statement wins")
	assert.InDelta(t, 30.0444, model.Deref(rec.Latitude), 1e-9)
	assert.InDelta(t, 31.2357, model.Deref(rec.Longitude), 1e-9)
	assert.Equal(t, int64(9539673), model.Deref(rec.Population))
	assert.Equal(t, "EG-C", model.Deref(rec.IsoCode))
}

func TestCountry(t *testing.T) {
	f := NewFetcher(newStub())

	rec, err := f.Country(context.Background(), "Q79")
	require.NoError(t, err)
	assert.Equal(t, "Egypt", model.Deref(rec.CountryNameEn))
	assert.Equal(t, "مصر", model.Deref(rec.CountryNameAr))
	assert.Equal(t, "EG", model.Deref(rec.IsoAlpha2))
	assert.True(t, rec.IsCapital("Q85"))
}

func TestState(t *testing.T) {
	f := NewFetcher(newStub())

	rec, err := f.State(context.Background(), "Q30")
	require.NoError(t, err)
	assert.Equal(t, "Cairo Governorate", model.Deref(rec.StateNameEn))
	assert.Nil(t, rec.StateNameAr)
	assert.Equal(t, "EG-C", model.Deref(rec.IsoCode))
	assert.Equal(t, "Q79", model.Deref(rec.CountryQID))
}

func TestFetch_DispatchesOnLevel(t *testing.T) {
	f := NewFetcher(newStub())
	ctx := context.Background()

	city, err := f.Fetch(ctx, "Q85", model.LevelCity)
	require.NoError(t, err)
	assert.Equal(t, model.LevelCity, city.Level())
	assert.Equal(t, "Q85", city.ID())

	country, err := f.Fetch(ctx, "Q79", model.LevelCountry)
	require.NoError(t, err)
	assert.IsType(t, model.CountryRecord{}, country)

	state, err := f.Fetch(ctx, "Q30", model.LevelState)
	require.NoError(t, err)
	assert.Equal(t, model.LevelState, state.Level())

	_, err = f.Fetch(ctx, "Q30", model.Level("Province"))
	assert.Error(t, err)
}

func TestCity_MissingPropertiesAreAbsent(t *testing.T) {
	stub := &stubClient{docs: map[string]string{
		"Q1": `{"id": "Q1", "labels": {}, "claims": {
			"P17":  [{"mainsnak": {"snaktype": "novalue"}}],
			"P625": [{"mainsnak": {"snaktype": "value", "datavalue": {"type": "string", "value": "not a coordinate"}}}]
		}}`,
	}}
	f := NewFetcher(stub)

	rec, err := f.City(context.Background(), "Q1")
	require.NoError(t, err)
	assert.Equal(t, model.CityRecord{CityQID: "Q1"}, rec)
}

func TestCity_PartialCoordinateIsAbsent(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"no latitude", `{"longitude": 20.0}`},
		{"no longitude", `{"latitude": 10.0}`},
		{"empty", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubClient{docs: map[string]string{
				"Q3": `{"id": "Q3", "claims": {
					"P625": [{"mainsnak": {"snaktype": "value", "datavalue": {"type": "globecoordinate", "value": ` + tt.value + `}}}]
				}}`,
			}}

			rec, err := NewFetcher(stub).City(context.Background(), "Q3")
			require.NoError(t, err)
			assert.Nil(t, rec.Latitude)
			assert.Nil(t, rec.Longitude)
			assert.False(t, rec.HasCoordinates())
		})
	}
}

func TestFetch_RedirectUsesTargetID(t *testing.T) {
	stub := newStub()
	stub.docs["Q85old"] = cairoDoc
	stub.docs["Q79old"] = egyptDoc
	f := NewFetcher(stub)
	ctx := context.Background()

	city, err := f.City(ctx, "Q85old")
	require.NoError(t, err)
	assert.Equal(t, "Q85", city.CityQID)

	country, err := f.Country(ctx, "Q79old")
	require.NoError(t, err)
	assert.Equal(t, "Q79", country.CountryQID)
	assert.True(t, country.IsCapital(city.CityQID))
}

func TestCity_PopulationZeroIsKept(t *testing.T) {
	stub := &stubClient{docs: map[string]string{
		"Q2": `{"id": "Q2", "claims": {
			"P1082": [{"mainsnak": {"snaktype": "value", "datavalue": {"type": "quantity", "value": {"amount": "+0"}}}}]
		}}`,
	}}

	rec, err := NewFetcher(stub).City(context.Background(), "Q2")
	require.NoError(t, err)
	require.NotNil(t, rec.Population)
	assert.Equal(t, int64(0), *rec.Population)
}

func TestFetch_FailureReturnsIDOnlyRecord(t *testing.T) {
	stub := newStub()
	stub.err = errors.New("timeout")
	f := NewFetcher(stub)
	ctx := context.Background()

	city, err := f.City(ctx, "Q85")
	require.Error(t, err)
	assert.Equal(t, model.CityRecord{CityQID: "Q85"}, city)

	country, err := f.Country(ctx, "Q79")
	require.Error(t, err)
	assert.Equal(t, model.CountryRecord{CountryQID: "Q79"}, country)
	assert.Contains(t, err.Error(), "entity: fetch Country Q79")
}

func TestFetch_NotFound(t *testing.T) {
	f := NewFetcher(newStub())

	_, err := f.State(context.Background(), "Q404")
	require.Error(t, err)
	assert.ErrorIs(t, err, wikidata.ErrNotFound)
}
