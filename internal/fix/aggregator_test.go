package fix

import (
	"testing"
	"time"

	"gpstrack/internal/sentence"
)

var t0 = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func posResult(typ string, lat, lon float64) sentence.Result {
	return sentence.Result{Type: typ, Fields: []sentence.Field{
		{Kind: sentence.KindPosition, Lat: lat, Lon: lon},
	}}
}

func ggaResult(lat, lon float64, q sentence.Quality) sentence.Result {
	return sentence.Result{Type: "GGA", Fields: []sentence.Field{
		{Kind: sentence.KindQuality, Quality: q},
		{Kind: sentence.KindPosition, Lat: lat, Lon: lon},
		{Kind: sentence.KindAltitude, Value: 100},
	}}
}

func rmcResult(lat, lon, speed float64) sentence.Result {
	return sentence.Result{Type: "RMC", Fields: []sentence.Field{
		{Kind: sentence.KindPosition, Lat: lat, Lon: lon},
		{Kind: sentence.KindSpeed, Value: speed},
		{Kind: sentence.KindCourse, Value: 90},
	}}
}

func TestIngest_EmitsOnTerminalSentence(t *testing.T) {
	a := NewAggregator(Config{})

	snaps := a.Ingest(ggaResult(37.0, -122.0, sentence.Quality3D), t0)
	if len(snaps) != 0 {
		t.Fatalf("GGA alone must not close the epoch")
	}
	snaps = a.Ingest(rmcResult(37.0, -122.0, 5), t0.Add(100*time.Millisecond))
	if len(snaps) != 1 {
		t.Fatalf("expected 1 snapshot on terminal RMC, got %d", len(snaps))
	}
	s := snaps[0]
	if s.Partial {
		t.Fatalf("terminal close must not be partial")
	}
	if s.Lat != 37.0 || s.Lon != -122.0 || s.AltM != 100 || s.SpeedMps != 5 {
		t.Fatalf("unexpected snapshot %+v", s)
	}
	if s.Quality != sentence.Quality3D {
		t.Fatalf("unexpected quality %v", s.Quality)
	}
}

func TestIngest_SequenceStrictlyIncreasing(t *testing.T) {
	a := NewAggregator(Config{})
	at := t0
	var last uint64
	for i := 0; i < 50; i++ {
		a.Ingest(ggaResult(37.0, -122.0, sentence.Quality3D), at)
		snaps := a.Ingest(rmcResult(37.0, -122.0, 5), at.Add(50*time.Millisecond))
		if len(snaps) != 1 {
			t.Fatalf("cycle %d: expected 1 snapshot", i)
		}
		if snaps[0].Seq != last+1 {
			t.Fatalf("cycle %d: seq %d, want %d", i, snaps[0].Seq, last+1)
		}
		last = snaps[0].Seq
		at = at.Add(time.Second)
	}
}

func TestIngest_TimeoutClosesEpochAsPartial(t *testing.T) {
	a := NewAggregator(Config{EpochTimeout: 500 * time.Millisecond})
	a.Ingest(ggaResult(37.0, -122.0, sentence.Quality3D), t0)

	// The next field arrives after the timeout; the stale epoch closes
	// first, flagged partial.
	snaps := a.Ingest(posResult("GLL", 37.1, -122.1), t0.Add(time.Second))
	if len(snaps) != 1 {
		t.Fatalf("expected timed-out epoch to close, got %d snapshots", len(snaps))
	}
	if !snaps[0].Partial {
		t.Fatalf("timeout close must be partial")
	}
	if snaps[0].Lat != 37.0 {
		t.Fatalf("timed-out snapshot must hold the old epoch's fields")
	}
}

func TestTick_ClosesIdleEpoch(t *testing.T) {
	a := NewAggregator(Config{EpochTimeout: 500 * time.Millisecond})
	a.Ingest(ggaResult(37.0, -122.0, sentence.Quality3D), t0)

	if snaps := a.Tick(t0.Add(400 * time.Millisecond)); len(snaps) != 0 {
		t.Fatalf("tick before timeout must not close")
	}
	snaps := a.Tick(t0.Add(600 * time.Millisecond))
	if len(snaps) != 1 || !snaps[0].Partial {
		t.Fatalf("tick after timeout must close partial, got %+v", snaps)
	}
}

func TestIngest_NoEmissionWithoutPositionAndQuality(t *testing.T) {
	a := NewAggregator(Config{})
	// Terminal sentence but no quality-bearing field ever seen.
	if snaps := a.Ingest(rmcResult(37.0, -122.0, 5), t0); len(snaps) != 0 {
		t.Fatalf("must not emit without fix quality")
	}
	// Quality but no position.
	b := NewAggregator(Config{})
	b.Ingest(sentence.Result{Type: "GSA", Fields: []sentence.Field{
		{Kind: sentence.KindQuality, Quality: sentence.Quality3D},
	}}, t0)
	if snaps := b.Ingest(sentence.Result{Type: "RMC"}, t0.Add(50*time.Millisecond)); len(snaps) != 0 {
		t.Fatalf("must not emit without position")
	}
}

func TestIngest_QualityDowngradesAfterGrace(t *testing.T) {
	a := NewAggregator(Config{EpochTimeout: 10 * time.Second, QualityGrace: time.Second})
	a.Ingest(ggaResult(37.0, -122.0, sentence.Quality3D), t0)
	a.Ingest(rmcResult(37.0, -122.0, 5), t0.Add(50*time.Millisecond))

	// Subsequent epochs carry position only; quality ages out.
	a.Ingest(posResult("GLL", 37.0, -122.0), t0.Add(500*time.Millisecond))
	snaps := a.Ingest(sentence.Result{Type: "RMC", Fields: []sentence.Field{
		{Kind: sentence.KindPosition, Lat: 37.0, Lon: -122.0},
	}}, t0.Add(3*time.Second))
	if len(snaps) != 1 {
		t.Fatalf("expected snapshot, got %d", len(snaps))
	}
	if snaps[0].Quality != sentence.QualityNone {
		t.Fatalf("expected downgraded quality, got %v", snaps[0].Quality)
	}
}

func TestIngest_EpochEndFieldClosesEpoch(t *testing.T) {
	a := NewAggregator(Config{})
	a.Ingest(sentence.Result{Type: "NAV-PVT", Fields: []sentence.Field{
		{Kind: sentence.KindQuality, Quality: sentence.Quality3D},
		{Kind: sentence.KindPosition, Lat: 37, Lon: -122},
	}}, t0)
	snaps := a.Ingest(sentence.Result{Type: "NAV-EOE", Fields: []sentence.Field{
		{Kind: sentence.KindEpochEnd},
	}}, t0.Add(10*time.Millisecond))
	if len(snaps) != 1 || snaps[0].Partial {
		t.Fatalf("NAV-EOE must close the epoch cleanly, got %+v", snaps)
	}
}

func TestReset_PreservesSequence(t *testing.T) {
	a := NewAggregator(Config{})
	a.Ingest(ggaResult(37, -122, sentence.Quality3D), t0)
	snaps := a.Ingest(rmcResult(37, -122, 5), t0.Add(50*time.Millisecond))
	if len(snaps) != 1 || snaps[0].Seq != 1 {
		t.Fatalf("setup failed: %+v", snaps)
	}

	a.Reset()
	// Old position must be gone: a terminal sentence alone emits nothing.
	if snaps := a.Ingest(sentence.Result{Type: "RMC"}, t0.Add(time.Second)); len(snaps) != 0 {
		t.Fatalf("reset must drop last-known state")
	}
	a.Ingest(ggaResult(38, -121, sentence.Quality3D), t0.Add(2*time.Second))
	snaps = a.Ingest(rmcResult(38, -121, 5), t0.Add(2*time.Second+50*time.Millisecond))
	if len(snaps) != 1 || snaps[0].Seq != 2 {
		t.Fatalf("sequence must continue after reset, got %+v", snaps)
	}
}

func TestIngest_SnapshotTimeFromDecodedUTC(t *testing.T) {
	a := NewAggregator(Config{})
	utc := time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC)
	a.Ingest(ggaResult(37, -122, sentence.Quality3D), t0)
	snaps := a.Ingest(sentence.Result{Type: "RMC", Fields: []sentence.Field{
		{Kind: sentence.KindPosition, Lat: 37, Lon: -122},
		{Kind: sentence.KindTime, Time: utc},
	}}, t0.Add(50*time.Millisecond))
	if len(snaps) != 1 || !snaps[0].Time.Equal(utc) {
		t.Fatalf("snapshot must carry the decoded UTC time, got %+v", snaps)
	}
}
