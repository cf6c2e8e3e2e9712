package geofence

// Package geofence tracks snapshot containment against configured zones and
// emits enter/exit events. A transition is only reported after a configured
// number of consecutive confirming snapshots, which suppresses flapping from
// single noisy fixes at a zone boundary.

import (
	"fmt"
	"time"

	"gpstrack/internal/fix"
	"gpstrack/internal/geo"
	"gpstrack/internal/sentence"
)

// State is the per-zone hysteresis state.
type State int

const (
	Outside State = iota
	Entering
	Inside
	Exiting
)

func (s State) String() string {
	switch s {
	case Entering:
		return "entering"
	case Inside:
		return "inside"
	case Exiting:
		return "exiting"
	default:
		return "outside"
	}
}

type Vertex struct {
	Lat float64 `yaml:"lat" json:"lat"`
	Lon float64 `yaml:"lon" json:"lon"`
}

// Zone is either circular (RadiusM > 0) or polygonal (3+ vertices).
type Zone struct {
	Name      string   `yaml:"name" json:"name"`
	CenterLat float64  `yaml:"center_lat" json:"center_lat,omitempty"`
	CenterLon float64  `yaml:"center_lon" json:"center_lon,omitempty"`
	RadiusM   float64  `yaml:"radius_m" json:"radius_m,omitempty"`
	Polygon   []Vertex `yaml:"polygon" json:"polygon,omitempty"`
}

func (z Zone) Validate() error {
	if z.Name == "" {
		return fmt.Errorf("zone name is required")
	}
	circular := z.RadiusM > 0
	polygonal := len(z.Polygon) > 0
	if circular == polygonal {
		return fmt.Errorf("zone %q must be either circular (radius_m > 0) or polygonal", z.Name)
	}
	if polygonal && len(z.Polygon) < 3 {
		return fmt.Errorf("zone %q polygon needs at least 3 vertices", z.Name)
	}
	return nil
}

// Contains tests point containment. Circles use great-circle distance;
// polygons use ray casting with points on an edge counting as inside.
func (z Zone) Contains(lat, lon float64) bool {
	if z.RadiusM > 0 {
		return geo.HaversineM(lat, lon, z.CenterLat, z.CenterLon) <= z.RadiusM
	}
	return polygonContains(z.Polygon, lat, lon)
}

func polygonContains(poly []Vertex, lat, lon float64) bool {
	n := len(poly)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := poly[j], poly[i]
		if onSegment(a, b, lat, lon) {
			return true
		}
		if (a.Lat > lat) != (b.Lat > lat) {
			x := a.Lon + (lat-a.Lat)/(b.Lat-a.Lat)*(b.Lon-a.Lon)
			if lon < x {
				inside = !inside
			}
		}
	}
	return inside
}

func onSegment(a, b Vertex, lat, lon float64) bool {
	const eps = 1e-12
	cross := (b.Lat-a.Lat)*(lon-a.Lon) - (b.Lon-a.Lon)*(lat-a.Lat)
	if cross > eps || cross < -eps {
		return false
	}
	if lat < min(a.Lat, b.Lat)-eps || lat > max(a.Lat, b.Lat)+eps {
		return false
	}
	if lon < min(a.Lon, b.Lon)-eps || lon > max(a.Lon, b.Lon)+eps {
		return false
	}
	return true
}

type EventKind int

const (
	Entered EventKind = iota + 1
	Exited
)

func (k EventKind) String() string {
	if k == Entered {
		return "entered"
	}
	return "exited"
}

// Event is one confirmed zone transition.
type Event struct {
	Zone     string       `json:"zone"`
	Kind     EventKind    `json:"-"`
	KindName string       `json:"kind"`
	Snapshot fix.Snapshot `json:"snapshot"`
	At       time.Time    `json:"at"`
}

type Config struct {
	Zones []Zone
	// ConfirmCount is how many consecutive confirming snapshots a
	// transition needs before an event is emitted.
	ConfirmCount int
}

type zoneState struct {
	zone    Zone
	state   State
	confirm int
}

// Engine owns all per-zone containment state. It is not safe for concurrent
// use; the pipeline feeds it from a single consumer goroutine.
type Engine struct {
	confirmCount int
	zones        []*zoneState
}

func New(cfg Config) *Engine {
	if cfg.ConfirmCount <= 0 {
		cfg.ConfirmCount = 2
	}
	e := &Engine{confirmCount: cfg.ConfirmCount}
	for _, z := range cfg.Zones {
		e.zones = append(e.zones, &zoneState{zone: z})
	}
	return e
}

// Evaluate advances every zone's state machine with one snapshot and returns
// confirmed transitions. Snapshots without a usable fix are ignored
// entirely: they neither advance nor reset hysteresis.
func (e *Engine) Evaluate(s fix.Snapshot) []Event {
	if s.Quality == sentence.QualityNone {
		return nil
	}

	var out []Event
	for _, zs := range e.zones {
		contained := zs.zone.Contains(s.Lat, s.Lon)
		switch zs.state {
		case Outside:
			if contained {
				zs.state = Entering
				zs.confirm = 1
				if zs.confirm >= e.confirmCount {
					zs.state = Inside
					out = append(out, event(zs.zone.Name, Entered, s))
				}
			}
		case Entering:
			if contained {
				zs.confirm++
				if zs.confirm >= e.confirmCount {
					zs.state = Inside
					out = append(out, event(zs.zone.Name, Entered, s))
				}
			} else {
				zs.state = Outside
				zs.confirm = 0
			}
		case Inside:
			if !contained {
				zs.state = Exiting
				zs.confirm = 1
				if zs.confirm >= e.confirmCount {
					zs.state = Outside
					out = append(out, event(zs.zone.Name, Exited, s))
				}
			}
		case Exiting:
			if !contained {
				zs.confirm++
				if zs.confirm >= e.confirmCount {
					zs.state = Outside
					out = append(out, event(zs.zone.Name, Exited, s))
				}
			} else {
				zs.state = Inside
				zs.confirm = 0
			}
		}
	}
	return out
}

// States reports the current containment state per zone, for status
// endpoints.
func (e *Engine) States() map[string]State {
	out := make(map[string]State, len(e.zones))
	for _, zs := range e.zones {
		out[zs.zone.Name] = zs.state
	}
	return out
}

func event(zone string, kind EventKind, s fix.Snapshot) Event {
	return Event{Zone: zone, Kind: kind, KindName: kind.String(), Snapshot: s, At: s.Time}
}
