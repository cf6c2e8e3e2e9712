// Package units converts the pipeline's SI values (meters, meters per
// second) into display units for the status surfaces.
package units

import "fmt"

type System int

const (
	Metric System = iota
	Imperial
)

const (
	mpsToKmh = 3.6
	mpsToMph = 2.2369362920544
	mToFt    = 3.28084
	mToMi    = 1.0 / 1609.344
	mToKm    = 0.001
)

func ParseSystem(s string) (System, error) {
	switch s {
	case "", "metric":
		return Metric, nil
	case "imperial":
		return Imperial, nil
	default:
		return Metric, fmt.Errorf("units: unknown system %q (want metric or imperial)", s)
	}
}

func (s System) String() string {
	if s == Imperial {
		return "imperial"
	}
	return "metric"
}

// Speed converts m/s into the system's speed unit.
func (s System) Speed(mps float64) (float64, string) {
	if s == Imperial {
		return mps * mpsToMph, "mph"
	}
	return mps * mpsToKmh, "km/h"
}

// Distance converts meters into the system's long-distance unit.
func (s System) Distance(m float64) (float64, string) {
	if s == Imperial {
		return m * mToMi, "mi"
	}
	return m * mToKm, "km"
}

// Altitude converts meters into the system's altitude unit.
func (s System) Altitude(m float64) (float64, string) {
	if s == Imperial {
		return m * mToFt, "ft"
	}
	return m, "m"
}

func (s System) FormatSpeed(mps float64) string {
	v, u := s.Speed(mps)
	return fmt.Sprintf("%.1f %s", v, u)
}

func (s System) FormatDistance(m float64) string {
	v, u := s.Distance(m)
	return fmt.Sprintf("%.2f %s", v, u)
}

func (s System) FormatAltitude(m float64) string {
	v, u := s.Altitude(m)
	return fmt.Sprintf("%.1f %s", v, u)
}
