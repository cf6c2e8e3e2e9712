package geo

import (
	"math"
	"testing"
)

func TestHaversineM_KnownDistance(t *testing.T) {
	// One degree of latitude at the equator is about 111.2 km.
	d := HaversineM(0, 0, 1, 0)
	if math.Abs(d-111194.9) > 100 {
		t.Fatalf("unexpected distance: %f", d)
	}
}

func TestHaversineM_ZeroForSamePoint(t *testing.T) {
	if d := HaversineM(37.0, -122.0, 37.0, -122.0); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestEquirectangularM_CloseToHaversineAtShortRange(t *testing.T) {
	// 50m-scale displacement near lat 37.
	h := HaversineM(37.0, -122.0, 37.0004, -122.0003)
	e := EquirectangularM(37.0, -122.0, 37.0004, -122.0003)
	if math.Abs(h-e) > 0.5 {
		t.Fatalf("haversine=%f equirectangular=%f diverge too much", h, e)
	}
}

func TestHeadingDeltaDeg_Wraparound(t *testing.T) {
	cases := []struct {
		from, to, want float64
	}{
		{350, 10, 20},
		{10, 350, -20},
		{0, 180, 180},
		{90, 90, 0},
		{359, 1, 2},
	}
	for _, c := range cases {
		got := HeadingDeltaDeg(c.from, c.to)
		if math.Abs(got-c.want) > 1e-9 {
			t.Fatalf("HeadingDeltaDeg(%f, %f) = %f, want %f", c.from, c.to, got, c.want)
		}
	}
}
