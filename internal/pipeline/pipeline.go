// Package pipeline wires the byte framer, sentence decoder and fix
// aggregator into one processing chain, fed either by a live source or by
// a replay session.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"gpstrack/internal/fix"
	"gpstrack/internal/frame"
	"gpstrack/internal/sentence"
)

// Source is a stream of receiver bytes, typically a serial port or a file.
type Source interface {
	io.Reader
	Close() error
}

// ErrSourceDisconnected reports that the byte source failed mid-stream.
var ErrSourceDisconnected = errors.New("pipeline: source disconnected")

type Config struct {
	Framer frame.Config
	Epoch  fix.Config
	// ReadBufSize is the read chunk size for live sources. Default 4096.
	ReadBufSize int
	// TickInterval drives epoch-timeout checks for live sources.
	// Default 250ms. Replay feeds carry their own timestamps and never tick.
	TickInterval time.Duration
}

func (c *Config) withDefaults() {
	if c.ReadBufSize <= 0 {
		c.ReadBufSize = 4096
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 250 * time.Millisecond
	}
}

// Stats is a point-in-time copy of the pipeline counters.
type Stats struct {
	FramesNMEA           uint64 `json:"frames_nmea"`
	FramesUBX            uint64 `json:"frames_ubx"`
	Snapshots            uint64 `json:"snapshots"`
	ChecksumErrors       uint64 `json:"checksum_errors"`
	UnsupportedSentences uint64 `json:"unsupported_sentences"`
	MalformedFields      uint64 `json:"malformed_fields"`
	BufferOverflows      uint64 `json:"buffer_overflows"`
	GarbageBytes         uint64 `json:"garbage_bytes"`
}

// Pipeline turns raw receiver bytes into position snapshots and fans them
// out to subscribers in order. Feeding is serialized; a subscriber that
// stops draining its channel stalls the feed once the buffer fills.
type Pipeline struct {
	cfg Config
	log logrus.FieldLogger

	mu        sync.Mutex
	framer    *frame.Framer
	agg       *fix.Aggregator
	subs      []chan fix.Snapshot
	frameHook func(at time.Time, rf frame.RawFrame)
	closed    bool

	framesNMEA  atomic.Uint64
	framesUBX   atomic.Uint64
	snapshots   atomic.Uint64
	checksum    atomic.Uint64
	unsupported atomic.Uint64
	malformed   atomic.Uint64
	overflows   atomic.Uint64
	garbage     atomic.Uint64
}

func New(cfg Config, log logrus.FieldLogger) *Pipeline {
	cfg.withDefaults()
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pipeline{
		cfg:    cfg,
		log:    log,
		framer: frame.New(cfg.Framer),
		agg:    fix.NewAggregator(cfg.Epoch),
	}
}

// OnFrame registers a hook called for every framed input before decoding,
// used to record raw captures. Register before feeding starts.
func (p *Pipeline) OnFrame(fn func(at time.Time, rf frame.RawFrame)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frameHook = fn
}

// Subscribe registers a snapshot channel with the given buffer size. All
// subscribers see every snapshot in emission order. Subscribe must be
// called before feeding starts.
func (p *Pipeline) Subscribe(buffer int) <-chan fix.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan fix.Snapshot, buffer)
	p.subs = append(p.subs, ch)
	return ch
}

// Close flushes any pending epoch and closes all subscriber channels.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.publish(p.agg.Flush(time.Now()))
	for _, ch := range p.subs {
		close(ch)
	}
}

// FeedBytes pushes a chunk of receiver bytes through the chain, stamping
// resulting snapshots with the given ingest time.
func (p *Pipeline) FeedBytes(at time.Time, chunk []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	for _, rf := range p.framer.Feed(chunk) {
		if p.frameHook != nil {
			p.frameHook(at, rf)
		}
		p.decodeFrame(at, rf)
	}
	p.overflows.Store(p.framer.Overflows())
	p.garbage.Store(p.framer.GarbageBytes())
}

func (p *Pipeline) decodeFrame(at time.Time, rf frame.RawFrame) {
	switch rf.Dialect {
	case frame.DialectNMEA:
		p.framesNMEA.Add(1)
	case frame.DialectUBX:
		p.framesUBX.Add(1)
	}

	res, err := sentence.Decode(rf)
	if err != nil {
		switch {
		case errors.Is(err, sentence.ErrChecksumMismatch):
			p.checksum.Add(1)
			p.log.WithField("dialect", rf.Dialect.String()).Debug("dropping frame with bad checksum")
		case errors.Is(err, sentence.ErrUnsupportedSentence):
			p.unsupported.Add(1)
		case errors.Is(err, sentence.ErrMalformedField):
			p.malformed.Add(1)
			p.log.WithError(err).Debug("dropping malformed sentence")
		default:
			p.malformed.Add(1)
			p.log.WithError(err).Debug("dropping undecodable frame")
		}
		return
	}
	p.publish(p.agg.Ingest(res, at))
}

// Frame feeds one replayed raw frame. Together with Snapshot and Reset it
// lets a replay session drive the pipeline in place of a live source.
func (p *Pipeline) Frame(at time.Time, raw []byte) error {
	p.FeedBytes(at, raw)
	return nil
}

// Snapshot re-emits a pre-decoded snapshot, bypassing the decode chain.
func (p *Pipeline) Snapshot(_ time.Time, s fix.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.publish([]fix.Snapshot{s})
	return nil
}

// Reset drops partial framer and epoch state. Snapshot sequence numbers
// keep increasing across resets.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.framer.Reset()
	p.agg.Reset()
}

// Tick closes out a stale epoch, if any, emitting it as partial.
func (p *Pipeline) Tick(at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.publish(p.agg.Tick(at))
}

func (p *Pipeline) publish(snaps []fix.Snapshot) {
	for _, s := range snaps {
		p.snapshots.Add(1)
		for _, ch := range p.subs {
			ch <- s
		}
	}
}

// Stats returns a copy of the counters. Safe to call concurrently with
// feeding.
func (p *Pipeline) Stats() Stats {
	return Stats{
		FramesNMEA:           p.framesNMEA.Load(),
		FramesUBX:            p.framesUBX.Load(),
		Snapshots:            p.snapshots.Load(),
		ChecksumErrors:       p.checksum.Load(),
		UnsupportedSentences: p.unsupported.Load(),
		MalformedFields:      p.malformed.Load(),
		BufferOverflows:      p.overflows.Load(),
		GarbageBytes:         p.garbage.Load(),
	}
}

// Run reads the source until it ends, the context is canceled, or the read
// fails. A clean end of stream returns nil; a mid-stream failure returns
// ErrSourceDisconnected. Pending epoch state is flushed on the way out.
func (p *Pipeline) Run(ctx context.Context, src Source) error {
	defer src.Close()

	type readResult struct {
		chunk []byte
		err   error
	}
	reads := make(chan readResult)
	go func() {
		buf := make([]byte, p.cfg.ReadBufSize)
		for {
			n, err := src.Read(buf)
			var chunk []byte
			if n > 0 {
				chunk = make([]byte, n)
				copy(chunk, buf[:n])
			}
			select {
			case reads <- readResult{chunk: chunk, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(p.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.flush()
			return ctx.Err()
		case <-ticker.C:
			p.Tick(time.Now())
		case rr := <-reads:
			if len(rr.chunk) > 0 {
				p.FeedBytes(time.Now(), rr.chunk)
			}
			if rr.err != nil {
				p.flush()
				if errors.Is(rr.err, io.EOF) {
					return nil
				}
				return fmt.Errorf("%w: %v", ErrSourceDisconnected, rr.err)
			}
		}
	}
}

func (p *Pipeline) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.publish(p.agg.Flush(time.Now()))
}
