package frame

import (
	"bytes"
	"fmt"
	"reflect"
	"testing"
)

func nmeaLine(payload string) []byte {
	ck := byte(0)
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return []byte(fmt.Sprintf("$%s*%02X\r\n", payload, ck))
}

func ubxFrame(class, id byte, payload []byte) []byte {
	out := []byte{0xB5, 0x62, class, id, byte(len(payload)), byte(len(payload) >> 8)}
	out = append(out, payload...)
	ckA, ckB := byte(0), byte(0)
	for _, b := range out[2:] {
		ckA += b
		ckB += ckA
	}
	return append(out, ckA, ckB)
}

func TestFeed_SingleNMEASentence(t *testing.T) {
	f := New(Config{})
	frames := f.Feed(nmeaLine("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W"))
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0].Dialect != DialectNMEA {
		t.Fatalf("expected NMEA dialect, got %v", frames[0].Dialect)
	}
	if !bytes.HasPrefix(frames[0].Bytes, []byte("$GPRMC")) {
		t.Fatalf("unexpected frame bytes: %q", frames[0].Bytes)
	}
	if bytes.ContainsAny(frames[0].Bytes, "\r\n") {
		t.Fatalf("frame should not include line terminator: %q", frames[0].Bytes)
	}
}

func TestFeed_SingleUBXFrame(t *testing.T) {
	f := New(Config{})
	in := ubxFrame(0x01, 0x07, make([]byte, 92))
	frames := f.Feed(in)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0].Dialect != DialectUBX {
		t.Fatalf("expected UBX dialect, got %v", frames[0].Dialect)
	}
	if !reflect.DeepEqual(frames[0].Bytes, in) {
		t.Fatalf("frame bytes mismatch")
	}
}

func TestFeed_MixedDialects(t *testing.T) {
	f := New(Config{})
	var in []byte
	in = append(in, nmeaLine("GNGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,")...)
	in = append(in, ubxFrame(0x01, 0x61, []byte{0, 0, 0, 0})...)
	in = append(in, nmeaLine("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")...)

	frames := f.Feed(in)
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	want := []Dialect{DialectNMEA, DialectUBX, DialectNMEA}
	for i, fr := range frames {
		if fr.Dialect != want[i] {
			t.Fatalf("frame %d: dialect %v, want %v", i, fr.Dialect, want[i])
		}
	}
}

func TestFeed_ChunkSizeIndependence(t *testing.T) {
	var in []byte
	in = append(in, []byte("noise noise")...)
	in = append(in, nmeaLine("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")...)
	in = append(in, 0xB5) // partial-looking sync inside garbage
	in = append(in, []byte("junk")...)
	in = append(in, ubxFrame(0x01, 0x07, make([]byte, 92))...)
	in = append(in, nmeaLine("GNGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,")...)

	whole := New(Config{}).Feed(in)

	byByte := New(Config{})
	var split []RawFrame
	for i := range in {
		split = append(split, byByte.Feed(in[i:i+1])...)
	}

	if len(whole) != len(split) {
		t.Fatalf("whole=%d frames, byte-at-a-time=%d frames", len(whole), len(split))
	}
	for i := range whole {
		if whole[i].Dialect != split[i].Dialect || !bytes.Equal(whole[i].Bytes, split[i].Bytes) {
			t.Fatalf("frame %d differs between chunkings", i)
		}
	}
}

func TestFeed_PartialFrameRetainedAcrossCalls(t *testing.T) {
	f := New(Config{})
	line := nmeaLine("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")

	if frames := f.Feed(line[:10]); len(frames) != 0 {
		t.Fatalf("expected no frames from partial input, got %d", len(frames))
	}
	frames := f.Feed(line[10:])
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame after completion, got %d", len(frames))
	}
}

func TestFeed_ResyncAfterFalseUBXSync(t *testing.T) {
	f := New(Config{})
	in := []byte{0xB5, 0x00} // sync1 without sync2
	in = append(in, nmeaLine("GPVTG,054.7,T,034.4,M,005.5,N,010.2,K")...)
	frames := f.Feed(in)
	if len(frames) != 1 || frames[0].Dialect != DialectNMEA {
		t.Fatalf("expected resync to the NMEA frame, got %d frames", len(frames))
	}
}

func TestFeed_OverflowDiscardsOldest(t *testing.T) {
	f := New(Config{MaxBuffer: 64})
	// A UBX header promising a large (but plausible) payload that never
	// arrives forces the buffer past its cap.
	stuck := []byte{0xB5, 0x62, 0x01, 0x07, 0xFF, 0x01} // 511-byte payload declared
	f.Feed(stuck)
	f.Feed(bytes.Repeat([]byte{0x00}, 100))
	if f.Overflows() == 0 {
		t.Fatalf("expected overflow discard")
	}
	// The framer must recover on the next valid frame.
	frames := f.Feed(nmeaLine("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W"))
	if len(frames) != 1 {
		t.Fatalf("expected recovery after overflow, got %d frames", len(frames))
	}
}

func TestReset_DropsBufferedBytes(t *testing.T) {
	f := New(Config{})
	line := nmeaLine("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")
	f.Feed(line[:20])
	f.Reset()
	// The tail of the old sentence must not resurface as a frame.
	if frames := f.Feed(line[20:]); len(frames) != 0 {
		t.Fatalf("expected no frames after reset, got %d", len(frames))
	}
}
