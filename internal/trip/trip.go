package trip

// Package trip segments the snapshot stream into trips and detects
// hard-braking and sharp-cornering while one is open. Thresholds mirror the
// GNSS noise floor: speeds under the motion threshold count as standing
// still, and cornering is only evaluated while moving because reported
// headings jitter wildly near zero speed.

import (
	"time"

	"gpstrack/internal/fix"
	"gpstrack/internal/geo"
	"gpstrack/internal/sentence"
)

type Config struct {
	// MotionThresholdMps is the speed noise floor; below it the vehicle is
	// treated as stationary.
	MotionThresholdMps float64
	// MotionConfirmCount consecutive snapshots above the threshold open a
	// trip.
	MotionConfirmCount int
	// IdleTimeout below the threshold closes the open trip.
	IdleTimeout time.Duration
	// HardBrakingMps2 is the deceleration magnitude that fires a
	// HardBraking event.
	HardBrakingMps2 float64
	// SharpCorneringDegPerSec is the heading-change rate that fires a
	// SharpCornering event while moving.
	SharpCorneringDegPerSec float64
}

func (c Config) withDefaults() Config {
	if c.MotionThresholdMps <= 0 {
		c.MotionThresholdMps = 0.5
	}
	if c.MotionConfirmCount <= 0 {
		c.MotionConfirmCount = 2
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Second
	}
	if c.HardBrakingMps2 <= 0 {
		c.HardBrakingMps2 = 3.0
	}
	if c.SharpCorneringDegPerSec <= 0 {
		c.SharpCorneringDegPerSec = 20.0
	}
	return c
}

type EventKind int

const (
	TripStarted EventKind = iota + 1
	TripEnded
	HardBraking
	SharpCornering
)

func (k EventKind) String() string {
	switch k {
	case TripStarted:
		return "trip_started"
	case TripEnded:
		return "trip_ended"
	case HardBraking:
		return "hard_braking"
	case SharpCornering:
		return "sharp_cornering"
	default:
		return "unknown"
	}
}

func (k EventKind) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

// DrivingEvent is one detected braking/cornering occurrence. Severity is
// the normalized magnitude over the configured threshold, so 1.0 sits
// exactly at the threshold and events rank without re-deriving snapshots.
type DrivingEvent struct {
	Kind     EventKind    `json:"-"`
	KindName string       `json:"kind"`
	From     fix.Snapshot `json:"from"`
	To       fix.Snapshot `json:"to"`
	Severity float64      `json:"severity"`
}

// Trip is one closed (or still-open) driving segment. Once TripEnded is
// emitted the struct is never mutated again.
type Trip struct {
	Start             fix.Snapshot   `json:"start"`
	End               fix.Snapshot   `json:"end"`
	DistanceM         float64        `json:"distance_m"`
	MaxSpeedMps       float64        `json:"max_speed_mps"`
	AvgMovingSpeedMps float64        `json:"avg_moving_speed_mps"`
	Duration          time.Duration  `json:"duration_ns"`
	Events            []DrivingEvent `json:"events,omitempty"`
}

// Event is one trip-lifecycle or driving notification. Trip is set for
// TripStarted (the open trip so far) and TripEnded (the finalized trip);
// Driving is set for the two driving kinds.
type Event struct {
	Kind     EventKind     `json:"kind"`
	Snapshot fix.Snapshot  `json:"snapshot"`
	Trip     *Trip         `json:"trip,omitempty"`
	Driving  *DrivingEvent `json:"driving,omitempty"`
}

type state int

const (
	idle state = iota
	onTrip
)

// Engine owns the currently-open trip. Not safe for concurrent use; the
// pipeline feeds it from a single consumer goroutine.
type Engine struct {
	cfg Config

	state   state
	pending []fix.Snapshot // consecutive above-threshold run while idle

	open        *Trip
	prev        fix.Snapshot
	hasPrev     bool
	lastMoving  time.Time
	movingSum   float64
	movingCount int
}

func New(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

// Evaluate advances the trip state machine with one snapshot.
func (e *Engine) Evaluate(s fix.Snapshot) []Event {
	if s.Quality == sentence.QualityNone {
		return nil
	}

	switch e.state {
	case idle:
		return e.evaluateIdle(s)
	default:
		return e.evaluateOnTrip(s)
	}
}

func (e *Engine) evaluateIdle(s fix.Snapshot) []Event {
	if s.SpeedMps < e.cfg.MotionThresholdMps {
		e.pending = e.pending[:0]
		return nil
	}
	e.pending = append(e.pending, s)
	if len(e.pending) < e.cfg.MotionConfirmCount {
		return nil
	}

	// Motion confirmed. The trip starts at the first snapshot of the
	// confirming run, and distance covers every consecutive pair from it.
	e.state = onTrip
	e.open = &Trip{Start: e.pending[0]}
	e.hasPrev = false
	e.movingSum, e.movingCount = 0, 0

	var events []Event
	for _, ps := range e.pending {
		events = append(events, e.accumulate(ps)...)
	}
	e.pending = e.pending[:0]

	started := Event{Kind: TripStarted, Snapshot: e.open.Start, Trip: e.snapshotTrip()}
	return append([]Event{started}, events...)
}

func (e *Engine) evaluateOnTrip(s fix.Snapshot) []Event {
	events := e.accumulate(s)

	if s.SpeedMps >= e.cfg.MotionThresholdMps {
		e.lastMoving = s.Time
		return events
	}
	if s.Time.Sub(e.lastMoving) <= e.cfg.IdleTimeout {
		return events
	}

	// Idle persisted past the timeout: finalize.
	t := e.open
	t.End = s
	t.Duration = t.End.Time.Sub(t.Start.Time)
	if e.movingCount > 0 {
		t.AvgMovingSpeedMps = e.movingSum / float64(e.movingCount)
	}

	e.state = idle
	e.open = nil
	e.hasPrev = false

	return append(events, Event{Kind: TripEnded, Snapshot: s, Trip: t})
}

// accumulate folds one snapshot into the open trip: distance, max speed,
// moving average, and driving-event detection against the previous
// snapshot.
func (e *Engine) accumulate(s fix.Snapshot) []Event {
	t := e.open
	var events []Event

	if s.SpeedMps > t.MaxSpeedMps {
		t.MaxSpeedMps = s.SpeedMps
	}
	if s.SpeedMps > e.cfg.MotionThresholdMps {
		e.movingSum += s.SpeedMps
		e.movingCount++
	}
	if s.SpeedMps >= e.cfg.MotionThresholdMps {
		e.lastMoving = s.Time
	}

	if e.hasPrev {
		t.DistanceM += geo.HaversineM(e.prev.Lat, e.prev.Lon, s.Lat, s.Lon)

		dt := s.Time.Sub(e.prev.Time).Seconds()
		if dt > 0 {
			decel := (e.prev.SpeedMps - s.SpeedMps) / dt
			if decel > e.cfg.HardBrakingMps2 {
				ev := DrivingEvent{
					Kind:     HardBraking,
					KindName: HardBraking.String(),
					From:     e.prev,
					To:       s,
					Severity: decel / e.cfg.HardBrakingMps2,
				}
				t.Events = append(t.Events, ev)
				events = append(events, Event{Kind: HardBraking, Snapshot: s, Driving: &ev})
			}

			if s.SpeedMps > e.cfg.MotionThresholdMps {
				rate := geo.HeadingDeltaDeg(e.prev.HeadingDeg, s.HeadingDeg) / dt
				if rate < 0 {
					rate = -rate
				}
				if rate > e.cfg.SharpCorneringDegPerSec {
					ev := DrivingEvent{
						Kind:     SharpCornering,
						KindName: SharpCornering.String(),
						From:     e.prev,
						To:       s,
						Severity: rate / e.cfg.SharpCorneringDegPerSec,
					}
					t.Events = append(t.Events, ev)
					events = append(events, Event{Kind: SharpCornering, Snapshot: s, Driving: &ev})
				}
			}
		}
	}

	e.prev = s
	e.hasPrev = true
	return events
}

// snapshotTrip returns a copy of the open trip, so observers never share
// the engine's mutable state.
func (e *Engine) snapshotTrip() *Trip {
	if e.open == nil {
		return nil
	}
	cp := *e.open
	cp.Events = append([]DrivingEvent(nil), e.open.Events...)
	return &cp
}

// Open reports a copy of the currently-open trip, or nil when idle.
func (e *Engine) Open() *Trip {
	return e.snapshotTrip()
}
