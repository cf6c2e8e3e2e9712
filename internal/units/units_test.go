package units

import (
	"math"
	"testing"
)

func close(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestSpeedConversion(t *testing.T) {
	v, u := Metric.Speed(10)
	if !close(v, 36) || u != "km/h" {
		t.Errorf("metric speed = %f %s, want 36 km/h", v, u)
	}
	v, u = Imperial.Speed(10)
	if !close(v, 22.369362920544) || u != "mph" {
		t.Errorf("imperial speed = %f %s, want ~22.37 mph", v, u)
	}
}

func TestDistanceConversion(t *testing.T) {
	v, u := Metric.Distance(1500)
	if !close(v, 1.5) || u != "km" {
		t.Errorf("metric distance = %f %s, want 1.5 km", v, u)
	}
	v, u = Imperial.Distance(1609.344)
	if !close(v, 1) || u != "mi" {
		t.Errorf("imperial distance = %f %s, want 1 mi", v, u)
	}
}

func TestAltitudeConversion(t *testing.T) {
	v, u := Imperial.Altitude(100)
	if !close(v, 328.084) || u != "ft" {
		t.Errorf("imperial altitude = %f %s, want 328.084 ft", v, u)
	}
}

func TestParseSystem(t *testing.T) {
	if s, err := ParseSystem(""); err != nil || s != Metric {
		t.Errorf("empty system = %v, %v; want metric default", s, err)
	}
	if s, err := ParseSystem("imperial"); err != nil || s != Imperial {
		t.Errorf("imperial = %v, %v", s, err)
	}
	if _, err := ParseSystem("furlongs"); err == nil {
		t.Error("expected error for unknown system")
	}
}

func TestFormat(t *testing.T) {
	if got := Metric.FormatSpeed(10); got != "36.0 km/h" {
		t.Errorf("FormatSpeed = %q", got)
	}
	if got := Metric.FormatDistance(2500); got != "2.50 km" {
		t.Errorf("FormatDistance = %q", got)
	}
}
