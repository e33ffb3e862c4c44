package ics

import (
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventcal/internal/model"
)

func tp(t time.Time) *time.Time { return &t }

func TestFeedRoundTrip(t *testing.T) {
	start := time.Date(2024, 11, 15, 18, 0, 0, 0, time.UTC)
	events := []model.Entity{
		{
			ID:          "7",
			Kind:        model.KindEvent,
			Title:       "Lantern Festival",
			Detail:      "Lanterns over the moat",
			Category:    "Festival",
			Start:       tp(start),
			End:         tp(start.Add(4 * time.Hour)),
			LocationURL: "https://maps.app.goo.gl/abc",
			PageLink:    "https://example.com/lantern",
			Coords:      &model.Coordinates{Lat: 14.97, Lon: 102.1},
		},
		{ID: "8", Kind: model.KindEvent, Title: "Open mic", Start: tp(start.AddDate(0, 0, 1))},
		{ID: "9", Kind: model.KindEvent, Title: "Date unknown"},
	}

	out := Feed(events, FeedOptions{Name: "Korat events", Domain: "events.example", Now: start})
	assert.Contains(t, out, "METHOD:PUBLISH")
	assert.Contains(t, out, "X-WR-CALNAME:Korat events")

	cal, err := ical.ParseCalendar(strings.NewReader(out))
	require.NoError(t, err)

	parsed := cal.Events()
	require.Len(t, parsed, 2, "event without start is skipped")

	first := parsed[0]
	assert.Equal(t, "event-7@events.example", first.GetProperty(ical.ComponentPropertyUniqueId).Value)
	assert.Equal(t, "Lantern Festival", first.GetProperty(ical.ComponentPropertySummary).Value)
	assert.Equal(t, "https://maps.app.goo.gl/abc", first.GetProperty(ical.ComponentPropertyLocation).Value)
	geo := first.GetProperty(ical.ComponentPropertyGeo)
	require.NotNil(t, geo)
	assert.True(t, strings.HasPrefix(geo.Value, "14.97"), geo.Value)
	assert.True(t, strings.HasSuffix(geo.Value, "102.1"), geo.Value)
	assert.Equal(t, "Festival", first.GetProperty(ical.ComponentPropertyCategories).Value)

	gotStart, err := first.GetStartAt()
	require.NoError(t, err)
	assert.True(t, gotStart.Equal(start))
	gotEnd, err := first.GetEndAt()
	require.NoError(t, err)
	assert.True(t, gotEnd.Equal(start.Add(4*time.Hour)))

	second := parsed[1]
	secondEnd, err := second.GetEndAt()
	require.NoError(t, err)
	assert.True(t, secondEnd.Equal(start.AddDate(0, 0, 1).Add(time.Hour)), "default one hour duration")
	assert.Nil(t, second.GetProperty(ical.ComponentPropertyGeo))
}

func TestUID(t *testing.T) {
	assert.Equal(t, "business-3@d", UID(model.Entity{ID: "3", Kind: model.KindBusiness}, "d"))
}
