package model

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// DefaultNameField is the input key holding the English city name.
const DefaultNameField = "CityNameEn"

// Output keys added by the pipeline on top of the input fields.
const (
	KeyIsCapital      = "IsCapital"
	KeyCountryDetails = "CountryDetails"
	KeyStateDetails   = "StateDetails"
)

const keyPopulation = "Population"

var cityKeys = map[string]bool{
	"CityQID":    true,
	"CityNameAr": true,
	"CountryQID": true,
	"StateQID":   true,
	"Latitude":   true,
	"Longitude":  true,
	keyPopulation: true,
	"IsoCode":    true,
}

// InputRecord is one row of the input dataset. Name is the lookup key and the
// idempotence key; Fields holds every caller-supplied field, including the
// name itself, and is passed through unchanged.
type InputRecord struct {
	Name   string
	Fields map[string]any
}

// NewInputRecord builds an InputRecord from a decoded row. It reports false
// when the row has no non-empty string under nameField.
func NewInputRecord(nameField string, fields map[string]any) (InputRecord, bool) {
	v, ok := fields[nameField]
	if !ok {
		return InputRecord{}, false
	}
	name, ok := v.(string)
	if !ok || strings.TrimSpace(name) == "" {
		return InputRecord{}, false
	}
	return InputRecord{Name: name, Fields: fields}, true
}

// OutputRecord is one ledger entry: the input fields merged with the
// extracted city fields, the capital flag and the parent detail records.
type OutputRecord struct {
	Input          InputRecord
	City           CityRecord
	IsCapital      bool
	CountryDetails *CountryRecord
	StateDetails   *StateRecord
}

// MarshalJSON flattens the record into a single JSON object. City fields
// overwrite input fields of the same name.
func (o OutputRecord) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(o.Input.Fields)+len(cityKeys)+3)
	for k, v := range o.Input.Fields {
		out[k] = v
	}

	cityJSON, err := json.Marshal(o.City)
	if err != nil {
		return nil, eris.Wrap(err, "model: marshal city")
	}
	var city map[string]json.RawMessage
	if err := json.Unmarshal(cityJSON, &city); err != nil {
		return nil, eris.Wrap(err, "model: flatten city")
	}
	for k, v := range city {
		out[k] = v
	}

	out[KeyIsCapital] = o.IsCapital
	if o.CountryDetails != nil {
		out[KeyCountryDetails] = o.CountryDetails
	}
	if o.StateDetails != nil {
		out[KeyStateDetails] = o.StateDetails
	}
	return json.Marshal(out)
}

// DecodeOutputRecord parses one ledger line. Keys the pipeline did not add are
// returned as input fields; numbers in them are kept as json.Number.
func DecodeOutputRecord(data []byte, nameField string) (OutputRecord, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return OutputRecord{}, eris.Wrap(err, "model: decode output record")
	}

	var rec OutputRecord
	pop, hasPop := raw[keyPopulation]
	if hasPop {
		delete(raw, keyPopulation)
		data, err := json.Marshal(raw)
		if err != nil {
			return OutputRecord{}, eris.Wrap(err, "model: re-encode city fields")
		}
		if rec.City.Population, err = decodePopulation(pop); err != nil {
			return OutputRecord{}, err
		}
		if err := json.Unmarshal(data, &rec.City); err != nil {
			return OutputRecord{}, eris.Wrap(err, "model: decode city fields")
		}
	} else if err := json.Unmarshal(data, &rec.City); err != nil {
		return OutputRecord{}, eris.Wrap(err, "model: decode city fields")
	}

	if v, ok := raw[KeyIsCapital]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &rec.IsCapital); err != nil {
			return OutputRecord{}, eris.Wrap(err, "model: decode IsCapital")
		}
	}
	if v, ok := raw[KeyCountryDetails]; ok && !isNull(v) {
		rec.CountryDetails = &CountryRecord{}
		if err := json.Unmarshal(v, rec.CountryDetails); err != nil {
			return OutputRecord{}, eris.Wrap(err, "model: decode CountryDetails")
		}
	}
	if v, ok := raw[KeyStateDetails]; ok && !isNull(v) {
		rec.StateDetails = &StateRecord{}
		if err := json.Unmarshal(v, rec.StateDetails); err != nil {
			return OutputRecord{}, eris.Wrap(err, "model: decode StateDetails")
		}
	}

	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		if cityKeys[k] || k == KeyIsCapital || k == KeyCountryDetails || k == KeyStateDetails {
			continue
		}
		val, err := decodeAny(v)
		if err != nil {
			return OutputRecord{}, eris.Wrapf(err, "model: decode field %s", k)
		}
		fields[k] = val
	}

	in, ok := NewInputRecord(nameField, fields)
	if !ok {
		return OutputRecord{}, eris.Errorf("model: output record has no %s", nameField)
	}
	rec.Input = in
	return rec, nil
}

// decodePopulation accepts a JSON number or a signed decimal string such as
// "+12345", the form older ledgers stored.
func decodePopulation(data json.RawMessage) (*int64, error) {
	if isNull(data) {
		return nil, nil
	}
	var n json.Number
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		n = json.Number(strings.TrimPrefix(strings.TrimSpace(s), "+"))
	} else if err := json.Unmarshal(data, &n); err != nil {
		return nil, eris.Wrap(err, "model: decode Population")
	}
	if v, err := n.Int64(); err == nil {
		return &v, nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil, eris.Wrapf(err, "model: parse Population %q", n)
	}
	v := int64(f)
	return &v, nil
}

func decodeAny(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func isNull(data json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}
