package entity

import (
	"go.uber.org/zap"

	"github.com/jamsshhayd/world-cities-enriched/internal/model"
	"github.com/jamsshhayd/world-cities-enriched/pkg/wikidata"
)

// extractor reads optional fields from one entity document. Values that do
// not decode as the expected type are logged and treated as absent.
type extractor struct {
	entity *wikidata.Entity
	level  model.Level
}

func (x extractor) label(lang string) *string {
	if v, ok := x.entity.Label(lang); ok {
		return &v
	}
	return nil
}

func (x extractor) entityID(prop string) *string {
	dv, ok := x.entity.FirstValue(prop)
	if !ok {
		return nil
	}
	id, err := dv.EntityID()
	if err != nil {
		x.skip(prop, err)
		return nil
	}
	return &id
}

func (x extractor) text(prop string) *string {
	dv, ok := x.entity.FirstValue(prop)
	if !ok {
		return nil
	}
	s, err := dv.Text()
	if err != nil {
		x.skip(prop, err)
		return nil
	}
	return &s
}

func (x extractor) coordinate(prop string) (lat, lon *float64) {
	dv, ok := x.entity.FirstValue(prop)
	if !ok {
		return nil, nil
	}
	c, err := dv.Coordinate()
	if err != nil {
		x.skip(prop, err)
		return nil, nil
	}
	return &c.Latitude, &c.Longitude
}

func (x extractor) quantity(prop string) *int64 {
	dv, ok := x.entity.FirstValue(prop)
	if !ok {
		return nil
	}
	q, err := dv.Quantity()
	if err != nil {
		x.skip(prop, err)
		return nil
	}
	n, err := q.Int()
	if err != nil {
		x.skip(prop, err)
		return nil
	}
	return &n
}

func (x extractor) skip(prop string, err error) {
	zap.L().Debug("entity: ignoring undecodable property",
		zap.String("qid", x.entity.ID),
		zap.String("level", string(x.level)),
		zap.String("property", prop),
		zap.Error(err),
	)
}
