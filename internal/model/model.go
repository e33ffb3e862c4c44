package model

import (
	"math"
	"time"
)

// Kind distinguishes the two upstream collections.
type Kind string

const (
	KindBusiness Kind = "business"
	KindEvent    Kind = "event"
)

// Coordinates is a resolved latitude/longitude pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether both components are finite numbers.
func (c Coordinates) Valid() bool {
	return isFinite(c.Lat) && isFinite(c.Lon)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Entity is the canonical in-memory representation of a business or event
// after normalization. Start/End are nil when the upstream value was missing
// or unparseable; Coords is nil when the record carried no usable pair and
// resolution failed or was not attempted.
type Entity struct {
	ID     string
	Kind   Kind
	Title  string
	Detail string
	Image  string

	// Category is the EventType for events and Type for businesses.
	Category string

	Start *time.Time
	End   *time.Time

	// LocationURL is the map link shown to users (LocationLink preferred
	// over Location).
	LocationURL string
	Coords      *Coordinates

	PageLink     string
	RegisterLink string
}

// SetCoords stores c only if it is valid, keeping the pair invariant.
func (e *Entity) SetCoords(c Coordinates) bool {
	if !c.Valid() {
		return false
	}
	e.Coords = &c
	return true
}

// HasCoords reports whether the entity can be placed on a map.
func (e Entity) HasCoords() bool {
	return e.Coords != nil
}

// StatusKind is the temporal classification of an event relative to now.
type StatusKind string

const (
	StatusUpcoming      StatusKind = "upcoming"
	StatusOngoingOrPast StatusKind = "ongoing-or-past"
	StatusStartingSoon  StatusKind = "starting-soon"
)

// Status is derived, never stored: it is recomputed from the current time on
// every request.
type Status struct {
	Kind StatusKind
	// DaysUntil is ceil((start-now)/24h); only meaningful when the entity
	// has a start time.
	DaysUntil int
}
