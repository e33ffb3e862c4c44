package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetCoordsRejectsNonFinite(t *testing.T) {
	cases := []struct {
		name string
		in   Coordinates
		ok   bool
	}{
		{"regular", Coordinates{Lat: 14.69578, Lon: 101.44794}, true},
		{"zero is a real place", Coordinates{}, true},
		{"nan lat", Coordinates{Lat: math.NaN(), Lon: 1}, false},
		{"inf lon", Coordinates{Lat: 1, Lon: math.Inf(-1)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var e Entity
			assert.Equal(t, tc.ok, e.SetCoords(tc.in))
			assert.Equal(t, tc.ok, e.HasCoords())
		})
	}
}
