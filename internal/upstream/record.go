package upstream

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"eventcal/internal/model"
)

// Record is one business or event object from the upstream API. Field names
// follow the upstream casing. Coordinates have already been coerced by
// ParseCoordinates, so downstream code never sees the string/number mix.
type Record struct {
	ID           string
	Title        string
	Detail       string
	Image        string
	Start        string
	End          string
	EventType    string
	Type         string
	Location     string
	LocationLink string
	PageLink     string
	RegisterLink string

	// Coords is nil unless both Latitude and Longitude parsed to finite
	// numbers.
	Coords *model.Coordinates
}

// wireRecord mirrors the JSON shape. Every field is kept raw because
// upstream sends numbers, strings and the odd null interchangeably; a value
// of the wrong shape must not cost the whole record.
type wireRecord struct {
	ID           json.RawMessage `json:"ID"`
	Title        json.RawMessage `json:"Title"`
	Detail       json.RawMessage `json:"Detail"`
	Image        json.RawMessage `json:"Image"`
	Start        json.RawMessage `json:"Start"`
	End          json.RawMessage `json:"End"`
	EventType    json.RawMessage `json:"EventType"`
	Type         json.RawMessage `json:"Type"`
	Location     json.RawMessage `json:"Location"`
	LocationLink json.RawMessage `json:"LocationLink"`
	PageLink     json.RawMessage `json:"PageLink"`
	RegisterLink json.RawMessage `json:"RegisterLink"`
	Latitude     json.RawMessage `json:"Latitude"`
	Longitude    json.RawMessage `json:"Longitude"`
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*r = Record{
		ID:           rawScalar(w.ID),
		Title:        rawScalar(w.Title),
		Detail:       rawScalar(w.Detail),
		Image:        rawScalar(w.Image),
		Start:        strings.TrimSpace(rawScalar(w.Start)),
		End:          strings.TrimSpace(rawScalar(w.End)),
		EventType:    rawScalar(w.EventType),
		Type:         rawScalar(w.Type),
		Location:     strings.TrimSpace(rawScalar(w.Location)),
		LocationLink: strings.TrimSpace(rawScalar(w.LocationLink)),
		PageLink:     rawScalar(w.PageLink),
		RegisterLink: rawScalar(w.RegisterLink),
	}
	if c, ok := ParseCoordinates(w.Latitude, w.Longitude); ok {
		r.Coords = &c
	}
	return nil
}

// ParseCoordinates is the one place where upstream latitude/longitude values
// are interpreted. Each value may be a JSON number, a numeric string, null,
// or absent. The pair is returned only if both sides are finite.
func ParseCoordinates(lat, lon json.RawMessage) (model.Coordinates, bool) {
	la, ok := ParseCoordinate(lat)
	if !ok {
		return model.Coordinates{}, false
	}
	lo, ok := ParseCoordinate(lon)
	if !ok {
		return model.Coordinates{}, false
	}
	return model.Coordinates{Lat: la, Lon: lo}, true
}

// ParseCoordinate coerces a single raw JSON value to a finite float64.
func ParseCoordinate(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}

	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		s = strings.TrimSpace(s)
	} else {
		s = string(raw)
	}
	if s == "" {
		return 0, false
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// rawScalar renders a JSON string, number or boolean as a plain string.
// Null, objects and arrays have no sensible text form and come back empty.
func rawScalar(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	case '{', '[', 'n':
		return ""
	default:
		return string(raw)
	}
}
