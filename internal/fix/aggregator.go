package fix

// The Aggregator merges per-sentence field updates into coherent snapshots.
// Different sentence types report different subsets of the fix state (GGA
// carries quality and altitude, RMC speed and course, NAV-DOP the DOPs), so
// one reporting cycle — an epoch — spans several frames. An epoch closes on
// the dialect's terminal sentence, or on a timeout so a device that omits
// the terminal sentence still produces bounded-latency snapshots.
//
// All timing decisions use the ingest timestamps supplied by the caller,
// never the wall clock, so a replayed stream closes epochs at exactly the
// same points as the original live run regardless of playback speed.

import (
	"time"

	"gpstrack/internal/sentence"
)

type Config struct {
	// EpochTimeout closes an epoch this long after its first field when no
	// terminal sentence arrives.
	EpochTimeout time.Duration
	// QualityGrace bounds how long the last reported fix quality is
	// trusted. Beyond it, emitted snapshots report QualityNone.
	QualityGrace time.Duration
	// TerminalSentence is the text-dialect sentence type that closes an
	// epoch. The binary dialect's NAV-EOE marker always closes one.
	TerminalSentence string
}

type Aggregator struct {
	cfg Config

	seq uint64

	// Last-known field values. Fields not refreshed within an epoch retain
	// these values in the emitted snapshot.
	hasPos     bool
	lat, lon   float64
	altM       float64
	speedMps   float64
	headingDeg float64
	sats       int
	hdop       float64
	vdop       float64
	pdop       float64

	quality    sentence.Quality
	qualitySeen bool
	qualityAt  time.Time

	utc    time.Time
	hasUTC bool

	epochOpen  bool
	epochStart time.Time
}

func NewAggregator(cfg Config) *Aggregator {
	if cfg.EpochTimeout <= 0 {
		cfg.EpochTimeout = time.Second
	}
	if cfg.QualityGrace <= 0 {
		cfg.QualityGrace = 3 * time.Second
	}
	if cfg.TerminalSentence == "" {
		cfg.TerminalSentence = "RMC"
	}
	return &Aggregator{cfg: cfg}
}

// Ingest applies one decoded frame at the given ingest time and returns any
// snapshots whose epochs closed as a result. A single call can close two
// epochs: a timed-out one, then the new one if this frame is terminal.
func (a *Aggregator) Ingest(res sentence.Result, at time.Time) []Snapshot {
	var out []Snapshot

	if a.epochOpen && at.Sub(a.epochStart) > a.cfg.EpochTimeout {
		if s, ok := a.close(at, true); ok {
			out = append(out, s)
		}
	}

	terminal := res.Type == a.cfg.TerminalSentence
	for _, f := range res.Fields {
		if f.Kind == sentence.KindEpochEnd {
			terminal = true
			continue
		}
		a.apply(f, at)
	}

	if !a.epochOpen && (len(res.Fields) > 0 || terminal) {
		a.epochOpen = true
		a.epochStart = at
	}

	if terminal && a.epochOpen {
		if s, ok := a.close(at, false); ok {
			out = append(out, s)
		}
	}
	return out
}

// Tick closes a timed-out epoch when no frames are arriving. The live
// pipeline calls it periodically; replay never needs to, because record
// timestamps drive Ingest.
func (a *Aggregator) Tick(at time.Time) []Snapshot {
	if !a.epochOpen || at.Sub(a.epochStart) <= a.cfg.EpochTimeout {
		return nil
	}
	if s, ok := a.close(at, true); ok {
		return []Snapshot{s}
	}
	return nil
}

// Flush closes any open epoch unconditionally (end of stream).
func (a *Aggregator) Flush(at time.Time) []Snapshot {
	if !a.epochOpen {
		return nil
	}
	if s, ok := a.close(at, true); ok {
		return []Snapshot{s}
	}
	return nil
}

// Reset drops the in-progress epoch and all last-known field state, for
// replay stop/seek. The sequence counter is never rewound: sequence numbers
// stay strictly increasing for the lifetime of the aggregator.
func (a *Aggregator) Reset() {
	seq := a.seq
	cfg := a.cfg
	*a = Aggregator{cfg: cfg, seq: seq}
}

func (a *Aggregator) apply(f sentence.Field, at time.Time) {
	switch f.Kind {
	case sentence.KindPosition:
		a.lat, a.lon = f.Lat, f.Lon
		a.hasPos = true
	case sentence.KindAltitude:
		a.altM = f.Value
	case sentence.KindSpeed:
		a.speedMps = f.Value
	case sentence.KindCourse:
		a.headingDeg = f.Value
	case sentence.KindQuality:
		a.quality = f.Quality
		a.qualitySeen = true
		a.qualityAt = at
	case sentence.KindSatCount:
		a.sats = int(f.Value)
	case sentence.KindHDOP:
		a.hdop = f.Value
	case sentence.KindVDOP:
		a.vdop = f.Value
	case sentence.KindPDOP:
		a.pdop = f.Value
	case sentence.KindTime:
		a.utc = f.Time
		a.hasUTC = true
	}
}

// close finalizes the current epoch. A snapshot is emitted only when the
// minimum required field set — position and fix quality — has been seen.
func (a *Aggregator) close(at time.Time, partial bool) (Snapshot, bool) {
	a.epochOpen = false
	if !a.hasPos || !a.qualitySeen {
		return Snapshot{}, false
	}

	q := a.quality
	if at.Sub(a.qualityAt) > a.cfg.QualityGrace {
		// Never report a fix as valid longer than the grace period allows.
		q = sentence.QualityNone
	}

	ts := a.utc
	if !a.hasUTC {
		ts = at.UTC()
	}

	a.seq++
	return Snapshot{
		Lat:        a.lat,
		Lon:        a.lon,
		AltM:       a.altM,
		SpeedMps:   a.speedMps,
		HeadingDeg: a.headingDeg,
		Quality:    q,
		Sats:       a.sats,
		HDOP:       a.hdop,
		VDOP:       a.vdop,
		PDOP:       a.pdop,
		Time:       ts,
		Seq:        a.seq,
		Partial:    partial,
	}, true
}
