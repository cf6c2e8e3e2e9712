package replay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gpstrack/internal/fix"
	"gpstrack/internal/sentence"
)

type sinkFrame struct {
	at  time.Time
	raw string
}

type recordingSink struct {
	mu     sync.Mutex
	frames []sinkFrame
	snaps  []fix.Snapshot
	resets int
}

func (rs *recordingSink) Frame(at time.Time, raw []byte) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.frames = append(rs.frames, sinkFrame{at: at, raw: string(raw)})
	return nil
}

func (rs *recordingSink) Snapshot(_ time.Time, s fix.Snapshot) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.snaps = append(rs.snaps, s)
	return nil
}

func (rs *recordingSink) Reset() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.resets++
}

func (rs *recordingSink) frameCount() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.frames)
}

type fakeSleeper struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (fs *fakeSleeper) Sleep(d time.Duration) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.slept = append(fs.slept, d)
}

// funcSleeper runs a hook on each sleep, for injecting control calls
// mid-playback.
type funcSleeper struct {
	calls int
	hook  func(call int)
}

func (fs *funcSleeper) Sleep(time.Duration) {
	fs.calls++
	if fs.hook != nil {
		fs.hook(fs.calls)
	}
}

func rawRecords(n int, spacing time.Duration) []Record {
	base := time.Date(2024, 3, 23, 12, 0, 0, 0, time.UTC)
	recs := make([]Record, n)
	for i := range recs {
		recs[i] = Record{
			At:  base.Add(time.Duration(i) * spacing),
			Raw: []byte("$GPRMC,sentence*00\r\n"),
		}
	}
	return recs
}

func TestPlayPreservesTimestampsAndScalesDelays(t *testing.T) {
	recs := rawRecords(3, 200*time.Millisecond)
	sink := &recordingSink{}
	sl := &fakeSleeper{}
	s, err := NewSession(recs, Config{Speed: 2, Sleeper: sl}, sink)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	if err := s.Play(context.Background()); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	if len(sink.frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(sink.frames))
	}
	for i, fr := range sink.frames {
		if !fr.at.Equal(recs[i].At) {
			t.Errorf("frame %d at %v, want original capture time %v", i, fr.at, recs[i].At)
		}
	}
	// First record emits immediately; the two gaps are halved by speed 2.
	want := []time.Duration{100 * time.Millisecond, 100 * time.Millisecond}
	if len(sl.slept) != len(want) {
		t.Fatalf("got %d sleeps %v, want %d", len(sl.slept), sl.slept, len(want))
	}
	for i, d := range sl.slept {
		if d != want[i] {
			t.Errorf("sleep %d is %v, want %v", i, d, want[i])
		}
	}
	if st := s.State(); st != Stopped {
		t.Errorf("state after playback is %v, want stopped", st)
	}
}

func TestPlaySameOutputAtAnySpeed(t *testing.T) {
	recs := rawRecords(5, 150*time.Millisecond)

	playAt := func(speed float64) []sinkFrame {
		sink := &recordingSink{}
		s, err := NewSession(recs, Config{Speed: speed, Sleeper: &fakeSleeper{}}, sink)
		if err != nil {
			t.Fatalf("NewSession failed: %v", err)
		}
		if err := s.Play(context.Background()); err != nil {
			t.Fatalf("Play failed: %v", err)
		}
		return sink.frames
	}

	slow, fast := playAt(1), playAt(10)
	if len(slow) != len(fast) {
		t.Fatalf("frame counts differ: %d vs %d", len(slow), len(fast))
	}
	for i := range slow {
		if slow[i] != fast[i] {
			t.Errorf("frame %d differs across speeds: %+v vs %+v", i, slow[i], fast[i])
		}
	}
}

func TestPlayEmitsSnapshotRecords(t *testing.T) {
	base := time.Date(2024, 3, 23, 12, 0, 0, 0, time.UTC)
	snap := fix.Snapshot{Lat: 37.86, Lon: -122.2, Quality: sentence.Quality3D, Time: base, Seq: 7}
	recs := []Record{{At: base, Snapshot: &snap}}
	sink := &recordingSink{}
	s, err := NewSession(recs, Config{Sleeper: &fakeSleeper{}}, sink)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	if err := s.Play(context.Background()); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if len(sink.snaps) != 1 || len(sink.frames) != 0 {
		t.Fatalf("got %d snapshots and %d frames, want 1 and 0", len(sink.snaps), len(sink.frames))
	}
	if sink.snaps[0] != snap {
		t.Errorf("snapshot %+v, want %+v", sink.snaps[0], snap)
	}
}

func TestStopDuringSleepResetsSink(t *testing.T) {
	recs := rawRecords(4, 100*time.Millisecond)
	sink := &recordingSink{}
	var s *Session
	sl := &funcSleeper{hook: func(int) { s.Stop() }}
	s, err := NewSession(recs, Config{Sleeper: sl}, sink)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	if err := s.Play(context.Background()); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if got := sink.frameCount(); got != 1 {
		t.Fatalf("got %d frames after stop, want 1", got)
	}
	if sink.resets != 1 {
		t.Errorf("sink reset %d times, want 1", sink.resets)
	}
	if cur, _ := s.Position(); cur != 0 {
		t.Errorf("cursor after stop is %d, want 0", cur)
	}
}

func TestSeekSkipsRecordsAndResetsSink(t *testing.T) {
	recs := rawRecords(3, 100*time.Millisecond)
	sink := &recordingSink{}
	s, err := NewSession(recs, Config{Sleeper: &fakeSleeper{}}, sink)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	if err := s.Seek(2); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if sink.resets != 1 {
		t.Errorf("sink reset %d times after seek, want 1", sink.resets)
	}
	if err := s.Play(context.Background()); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if len(sink.frames) != 1 {
		t.Fatalf("got %d frames, want 1 (records before the seek point skipped)", len(sink.frames))
	}
	if !sink.frames[0].at.Equal(recs[2].At) {
		t.Errorf("frame at %v, want %v", sink.frames[0].at, recs[2].At)
	}

	if err := s.Seek(99); err == nil {
		t.Error("expected error for out-of-range seek")
	}
}

func TestPauseSuspendsAndResumeContinues(t *testing.T) {
	recs := rawRecords(2, 100*time.Millisecond)
	sink := &recordingSink{}
	paused := make(chan struct{})
	var s *Session
	var once sync.Once
	sl := &funcSleeper{hook: func(int) {
		once.Do(func() {
			s.Pause()
			close(paused)
		})
	}}
	s, err := NewSession(recs, Config{Sleeper: sl}, sink)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Play(context.Background()) }()

	<-paused
	// Give the play loop time to park on the pause; only the first frame
	// may have been emitted.
	deadline := time.Now().Add(2 * time.Second)
	for s.State() != Paused {
		if time.Now().After(deadline) {
			t.Fatal("session never reached paused state")
		}
		time.Sleep(time.Millisecond)
	}
	if got := sink.frameCount(); got != 1 {
		t.Fatalf("got %d frames while paused, want 1", got)
	}

	s.Resume()
	if err := <-done; err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if got := sink.frameCount(); got != 2 {
		t.Errorf("got %d frames after resume, want 2", got)
	}
}

func TestPlayHonorsContextCancellation(t *testing.T) {
	recs := rawRecords(2, 100*time.Millisecond)
	sink := &recordingSink{}
	s, err := NewSession(recs, Config{Sleeper: &fakeSleeper{}}, sink)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Play(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Play returned %v, want context.Canceled", err)
	}
	if sink.frameCount() != 0 {
		t.Errorf("frames emitted after pre-canceled context: %d", sink.frameCount())
	}
}

func TestLoopRestartsFromFirstRecord(t *testing.T) {
	recs := rawRecords(2, 100*time.Millisecond)
	sink := &recordingSink{}
	var s *Session
	sl := &funcSleeper{hook: func(call int) {
		if call == 2 {
			s.Stop()
		}
	}}
	s, err := NewSession(recs, Config{Loop: true, Sleeper: sl}, sink)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	if err := s.Play(context.Background()); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	// First pass emits both records, the wrap re-emits record 0, then the
	// second gap's sleep stops playback.
	if got := sink.frameCount(); got != 3 {
		t.Fatalf("got %d frames, want 3", got)
	}
	if !sink.frames[2].at.Equal(recs[0].At) {
		t.Errorf("wrapped frame at %v, want first record's %v", sink.frames[2].at, recs[0].At)
	}
}

type failingSink struct{ recordingSink }

func (fs *failingSink) Frame(time.Time, []byte) error {
	return errors.New("downstream broke")
}

func TestPlayStopsOnSinkError(t *testing.T) {
	recs := rawRecords(2, 100*time.Millisecond)
	sink := &failingSink{}
	s, err := NewSession(recs, Config{Sleeper: &fakeSleeper{}}, sink)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	if err := s.Play(context.Background()); err == nil {
		t.Fatal("expected sink error to surface from Play")
	}
	if st := s.State(); st != Stopped {
		t.Errorf("state after sink error is %v, want stopped", st)
	}
}

func TestNewSessionValidation(t *testing.T) {
	if _, err := NewSession(nil, Config{}, &recordingSink{}); err == nil {
		t.Error("expected error for empty record set")
	}
	if _, err := NewSession(rawRecords(1, 0), Config{}, nil); err == nil {
		t.Error("expected error for nil sink")
	}
	if _, err := NewSession(rawRecords(1, 0), Config{Speed: -1}, &recordingSink{}); err == nil {
		t.Error("expected error for negative speed")
	}
}
