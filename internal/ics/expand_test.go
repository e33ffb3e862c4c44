package ics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventcal/internal/model"
)

var ict = time.FixedZone("ICT", 7*3600)

func dayIDs(d Day) []string {
	out := make([]string, 0, len(d.Events))
	for _, e := range d.Events {
		out = append(out, e.ID)
	}
	return out
}

func TestMonthGrid(t *testing.T) {
	events := []model.Entity{
		{ID: "single", Start: tp(time.Date(2024, 11, 5, 19, 0, 0, 0, ict))},
		{ID: "span", Start: tp(time.Date(2024, 11, 14, 9, 0, 0, 0, ict)), End: tp(time.Date(2024, 11, 16, 21, 0, 0, 0, ict))},
		{ID: "crosses-month", Start: tp(time.Date(2024, 10, 30, 0, 0, 0, 0, ict)), End: tp(time.Date(2024, 11, 2, 0, 0, 0, 0, ict))},
		{ID: "utc-late", Start: tp(time.Date(2024, 11, 20, 20, 0, 0, 0, time.UTC))},
		{ID: "other-month", Start: tp(time.Date(2024, 12, 1, 0, 0, 0, 0, ict))},
		{ID: "no-start"},
		{ID: "end-before-start", Start: tp(time.Date(2024, 11, 25, 10, 0, 0, 0, ict)), End: tp(time.Date(2024, 11, 24, 10, 0, 0, 0, ict))},
	}

	grid, err := MonthGrid(events, 2024, time.November, ict)
	require.NoError(t, err)
	require.Len(t, grid, 30)

	assert.True(t, grid[0].Date.Equal(time.Date(2024, 11, 1, 0, 0, 0, 0, ict)))
	assert.Equal(t, []string{"crosses-month"}, dayIDs(grid[0]))
	assert.Equal(t, []string{"crosses-month"}, dayIDs(grid[1]))
	assert.Empty(t, dayIDs(grid[2]))
	assert.Equal(t, []string{"single"}, dayIDs(grid[4]))
	for _, d := range []int{14, 15, 16} {
		assert.Equal(t, []string{"span"}, dayIDs(grid[d-1]), "day %d", d)
	}
	assert.Empty(t, dayIDs(grid[16]))
	assert.Equal(t, []string{"utc-late"}, dayIDs(grid[20]), "20:00 UTC is the 21st in ICT")
	assert.Equal(t, []string{"end-before-start"}, dayIDs(grid[24]))
	assert.Empty(t, dayIDs(grid[29]))
}

func TestMonthGridRejectsBadMonth(t *testing.T) {
	_, err := MonthGrid(nil, 2024, 13, ict)
	assert.Error(t, err)
}

func TestCoveredDaysCapsSpan(t *testing.T) {
	e := model.Entity{
		ID:    "typo",
		Start: tp(time.Date(2024, 1, 1, 0, 0, 0, 0, ict)),
		End:   tp(time.Date(2999, 1, 1, 0, 0, 0, 0, ict)),
	}
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, ict)
	to := time.Date(2026, 1, 1, 0, 0, 0, 0, ict)

	days, err := CoveredDays(e, ict, from, to)
	require.NoError(t, err)
	assert.Len(t, days, MaxSpanDays)
}
