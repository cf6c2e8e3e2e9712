package replay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gpstrack/internal/fix"
)

// Sink receives replayed entries. The pipeline implements it: raw frames go
// through the framer/decoder path, snapshot records bypass it. Reset is
// called on stop/seek so buffered partial state from one replay position
// can never contaminate another.
type Sink interface {
	Frame(at time.Time, raw []byte) error
	Snapshot(at time.Time, s fix.Snapshot) error
	Reset()
}

type Sleeper interface {
	Sleep(d time.Duration)
}

type realSleeper struct{}

func (realSleeper) Sleep(d time.Duration) { time.Sleep(d) }

type State int

const (
	Stopped State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "stopped"
	}
}

type Config struct {
	// Speed is the playback speed multiplier: original inter-record delays
	// are divided by it, so 10 replays ten times faster. Timing changes;
	// emitted content and capture timestamps do not.
	Speed float64
	// Loop restarts from the first record after the last.
	Loop    bool
	Sleeper Sleeper
}

// Session replays loaded records into a Sink, preserving original
// inter-record timing scaled by the speed factor. One goroutine runs Play;
// the control methods are safe to call from others.
type Session struct {
	mu   sync.Mutex
	cond *sync.Cond

	records []Record
	sink    Sink
	speed   float64
	loop    bool
	sleeper Sleeper

	state      State
	cursor     int
	lastAt     time.Time
	haveLast   bool
	generation uint64
}

func NewSession(records []Record, cfg Config, sink Sink) (*Session, error) {
	if len(records) == 0 {
		return nil, errors.New("replay: no records")
	}
	if sink == nil {
		return nil, errors.New("replay: sink is nil")
	}
	if cfg.Speed == 0 {
		cfg.Speed = 1
	}
	if cfg.Speed < 0 {
		return nil, fmt.Errorf("replay: speed must be > 0, got %f", cfg.Speed)
	}
	if cfg.Sleeper == nil {
		cfg.Sleeper = realSleeper{}
	}
	s := &Session{
		records: records,
		sink:    sink,
		speed:   cfg.Speed,
		loop:    cfg.Loop,
		sleeper: cfg.Sleeper,
	}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// Play emits records until the log ends, Stop is called, or the context is
// canceled. It runs in the calling goroutine.
func (s *Session) Play(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Playing {
		s.mu.Unlock()
		return errors.New("replay: already playing")
	}
	s.state = Playing
	s.mu.Unlock()

	// Wake any cond wait when the context goes away.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.cond.Broadcast()
		case <-done:
		}
	}()

	for {
		s.mu.Lock()
		for s.state == Paused && ctx.Err() == nil {
			s.cond.Wait()
		}
		if ctx.Err() != nil || s.state == Stopped {
			s.state = Stopped
			s.mu.Unlock()
			return ctx.Err()
		}
		if s.cursor >= len(s.records) {
			if !s.loop {
				s.state = Stopped
				s.cursor = 0
				s.haveLast = false
				s.mu.Unlock()
				return nil
			}
			s.cursor = 0
			s.haveLast = false
		}

		rec := s.records[s.cursor]
		gen := s.generation
		var wait time.Duration
		if s.haveLast {
			wait = rec.At.Sub(s.lastAt)
			if wait < 0 {
				wait = 0
			}
		}
		s.mu.Unlock()

		if wait > 0 {
			s.sleeper.Sleep(time.Duration(float64(wait) / s.speed))
		}

		s.mu.Lock()
		if s.generation != gen || s.state != Playing {
			// Stop/seek/pause raced with the sleep; re-evaluate.
			s.mu.Unlock()
			continue
		}
		s.cursor++
		s.lastAt = rec.At
		s.haveLast = true
		s.mu.Unlock()

		var err error
		if rec.Snapshot != nil {
			err = s.sink.Snapshot(rec.At, *rec.Snapshot)
		} else {
			err = s.sink.Frame(rec.At, rec.Raw)
		}
		if err != nil {
			s.Stop()
			return fmt.Errorf("replay: sink: %w", err)
		}
	}
}

// Pause suspends emission, preserving the cursor.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Playing {
		s.state = Paused
		s.generation++
	}
}

// Resume continues a paused session.
func (s *Session) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Paused {
		s.state = Playing
		s.cond.Broadcast()
	}
}

// Stop halts emission and resets the cursor to the start. The sink's
// partial decode state is discarded.
func (s *Session) Stop() {
	s.mu.Lock()
	s.state = Stopped
	s.cursor = 0
	s.haveLast = false
	s.generation++
	s.cond.Broadcast()
	s.mu.Unlock()
	s.sink.Reset()
}

// Seek moves the cursor to the given record index, discarding the sink's
// partial decode state so stale bytes cannot bleed across positions.
func (s *Session) Seek(i int) error {
	s.mu.Lock()
	if i < 0 || i >= len(s.records) {
		s.mu.Unlock()
		return fmt.Errorf("replay: seek index %d out of range [0, %d)", i, len(s.records))
	}
	s.cursor = i
	s.haveLast = false
	s.generation++
	s.cond.Broadcast()
	s.mu.Unlock()
	s.sink.Reset()
	return nil
}

// Position returns the current cursor and total record count.
func (s *Session) Position() (cursor, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, len(s.records)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
