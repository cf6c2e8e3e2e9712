package frame

// Package frame extracts candidate protocol frames from a raw GNSS byte
// stream. Two dialects are recognized concurrently:
//
//   - NMEA text sentences: '$' ... '*hh' terminated by LF (CR optional).
//   - UBX binary messages: sync 0xB5 0x62, class, id, little-endian u16
//     payload length, payload, Fletcher CK_A/CK_B.
//
// The framer only delimits; checksum validation and field decoding happen in
// the sentence package. An internal buffer carries partial frames across
// Feed calls, so the emitted frame sequence is independent of how the input
// is chunked.

import "bytes"

type Dialect int

const (
	DialectNMEA Dialect = iota + 1
	DialectUBX
)

func (d Dialect) String() string {
	switch d {
	case DialectNMEA:
		return "nmea"
	case DialectUBX:
		return "ubx"
	default:
		return "unknown"
	}
}

// RawFrame is one delimited candidate frame. Bytes is a copy owned by the
// receiver; for NMEA it excludes the trailing CR/LF, for UBX it spans sync
// bytes through checksum.
type RawFrame struct {
	Dialect Dialect
	Bytes   []byte
}

const (
	ubxSync1 = 0xB5
	ubxSync2 = 0x62

	// maxNMEALen caps a single unterminated sentence. NMEA 0183 allows
	// 82 characters; generous headroom for proprietary sentences.
	maxNMEALen = 256

	// maxUBXPayload rejects implausible declared lengths, which are almost
	// always false syncs inside noise or another frame's payload.
	maxUBXPayload = 2048
)

type Config struct {
	// MaxBuffer caps the accumulation buffer. When exceeded without a
	// recognized delimiter, the oldest unresolved bytes are discarded up to
	// the next plausible start marker.
	MaxBuffer int
}

type Framer struct {
	buf       []byte
	maxBuf    int
	overflows uint64
	garbage   uint64
}

func New(cfg Config) *Framer {
	if cfg.MaxBuffer <= 0 {
		cfg.MaxBuffer = 8192
	}
	return &Framer{maxBuf: cfg.MaxBuffer}
}

// Feed appends chunk to the internal buffer and returns all complete frames
// now available, in stream order. Partial frames are retained for the next
// call.
func (f *Framer) Feed(chunk []byte) []RawFrame {
	f.buf = append(f.buf, chunk...)

	var out []RawFrame
	for {
		fr, ok := f.next()
		if !ok {
			break
		}
		out = append(out, fr)
	}

	for len(f.buf) > f.maxBuf {
		// Overflow without a delimiter: drop the stuck leading byte and
		// resync on the next plausible start marker.
		f.buf = f.buf[1:]
		if i := f.startIndex(); i > 0 {
			f.buf = f.buf[i:]
		} else if i < 0 {
			f.buf = f.buf[:0]
		}
		f.overflows++
	}
	return out
}

// Reset discards all buffered bytes. Used when a replay session stops or
// seeks, so stale partial frames cannot leak into the resumed stream.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
}

// Overflows reports how many times buffered bytes were discarded because no
// delimiter arrived within MaxBuffer.
func (f *Framer) Overflows() uint64 { return f.overflows }

// GarbageBytes reports how many non-protocol bytes were skipped while
// hunting for a start marker.
func (f *Framer) GarbageBytes() uint64 { return f.garbage }

// startIndex returns the index of the earliest plausible start marker in the
// buffer, or -1. A lone 0xB5 as the final byte counts: it may be half of a
// sync pair split across reads.
func (f *Framer) startIndex() int {
	for i, b := range f.buf {
		if b == '$' {
			return i
		}
		if b == ubxSync1 {
			if i == len(f.buf)-1 || f.buf[i+1] == ubxSync2 {
				return i
			}
		}
	}
	return -1
}

func (f *Framer) next() (RawFrame, bool) {
	for {
		start := f.startIndex()
		if start < 0 {
			f.garbage += uint64(len(f.buf))
			f.buf = f.buf[:0]
			return RawFrame{}, false
		}
		if start > 0 {
			f.garbage += uint64(start)
			f.buf = f.buf[start:]
		}

		if f.buf[0] == '$' {
			fr, ok, resync := f.nextNMEA()
			if resync {
				continue
			}
			return fr, ok
		}
		fr, ok, resync := f.nextUBX()
		if resync {
			continue
		}
		return fr, ok
	}
}

// nextNMEA delimits a sentence at buffer start. resync means the leading
// byte was consumed as noise and scanning should restart.
func (f *Framer) nextNMEA() (fr RawFrame, ok bool, resync bool) {
	nl := bytes.IndexByte(f.buf, '\n')
	if nl < 0 {
		if len(f.buf) > maxNMEALen {
			// Never-terminating sentence; drop its '$' and resync.
			f.buf = f.buf[1:]
			f.garbage++
			return RawFrame{}, false, true
		}
		return RawFrame{}, false, false
	}
	if nl > maxNMEALen {
		// Over-long sentence. Dropping the '$' here (rather than emitting)
		// keeps the output identical whether the terminator was already in
		// the buffer or still in flight when the length cap tripped.
		f.buf = f.buf[1:]
		f.garbage++
		return RawFrame{}, false, true
	}

	line := f.buf[:nl]
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	out := append([]byte(nil), line...)
	f.buf = f.buf[nl+1:]
	if len(out) == 1 {
		// Bare '$' line; nothing to decode.
		return RawFrame{}, false, true
	}
	return RawFrame{Dialect: DialectNMEA, Bytes: out}, true, false
}

func (f *Framer) nextUBX() (fr RawFrame, ok bool, resync bool) {
	if len(f.buf) < 2 {
		return RawFrame{}, false, false
	}
	if f.buf[1] != ubxSync2 {
		f.buf = f.buf[1:]
		f.garbage++
		return RawFrame{}, false, true
	}
	if len(f.buf) < 6 {
		return RawFrame{}, false, false
	}
	payloadLen := int(f.buf[4]) | int(f.buf[5])<<8
	if payloadLen > maxUBXPayload {
		// Almost certainly a false sync; resync one byte later.
		f.buf = f.buf[1:]
		f.garbage++
		return RawFrame{}, false, true
	}
	total := 6 + payloadLen + 2
	if len(f.buf) < total {
		return RawFrame{}, false, false
	}
	out := append([]byte(nil), f.buf[:total]...)
	f.buf = f.buf[total:]
	return RawFrame{Dialect: DialectUBX, Bytes: out}, true, false
}
