package web

import (
	"time"

	"eventcal/internal/classify"
	"eventcal/internal/model"
)

// entityDTO is the JSON view of a business or event.
type entityDTO struct {
	ID           string     `json:"id"`
	Kind         model.Kind `json:"kind"`
	Title        string     `json:"title"`
	Detail       string     `json:"detail,omitempty"`
	Image        string     `json:"image,omitempty"`
	Category     string     `json:"category,omitempty"`
	Start        *time.Time `json:"start,omitempty"`
	End          *time.Time `json:"end,omitempty"`
	LocationURL  string     `json:"location_url,omitempty"`
	Latitude     *float64   `json:"latitude,omitempty"`
	Longitude    *float64   `json:"longitude,omitempty"`
	PageLink     string     `json:"page_link,omitempty"`
	RegisterLink string     `json:"register_link,omitempty"`
}

// eventDTO adds the status fields, which depend on the request time.
type eventDTO struct {
	entityDTO
	Status       model.StatusKind `json:"status"`
	DaysUntil    *int             `json:"days_until,omitempty"`
	Label        string           `json:"label,omitempty"`
	StartingSoon bool             `json:"starting_soon"`
}

// markerDTO is one map pin.
type markerDTO struct {
	ID        string     `json:"id"`
	Kind      model.Kind `json:"kind"`
	Title     string     `json:"title"`
	Category  string     `json:"category,omitempty"`
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	PageLink  string     `json:"page_link,omitempty"`
	Status    string     `json:"status,omitempty"`
}

func toEntityDTO(e model.Entity) entityDTO {
	d := entityDTO{
		ID:           e.ID,
		Kind:         e.Kind,
		Title:        e.Title,
		Detail:       e.Detail,
		Image:        e.Image,
		Category:     e.Category,
		Start:        e.Start,
		End:          e.End,
		LocationURL:  e.LocationURL,
		PageLink:     e.PageLink,
		RegisterLink: e.RegisterLink,
	}
	if e.Coords != nil {
		lat, lon := e.Coords.Lat, e.Coords.Lon
		d.Latitude, d.Longitude = &lat, &lon
	}
	return d
}

func (s *Server) toEventDTO(e model.Entity, now time.Time) eventDTO {
	st := classify.StatusOf(e, now, s.cfg.StartingSoonDays)
	d := eventDTO{
		entityDTO:    toEntityDTO(e),
		Status:       st.Kind,
		StartingSoon: st.Kind == model.StatusStartingSoon,
	}
	if e.Start != nil {
		n := st.DaysUntil
		d.DaysUntil = &n
		if d.StartingSoon {
			d.Label = classify.Label(e, now)
		}
	}
	return d
}

func toMarkerDTO(e model.Entity, status string) markerDTO {
	return markerDTO{
		ID:        e.ID,
		Kind:      e.Kind,
		Title:     e.Title,
		Category:  e.Category,
		Latitude:  e.Coords.Lat,
		Longitude: e.Coords.Lon,
		PageLink:  e.PageLink,
		Status:    status,
	}
}
