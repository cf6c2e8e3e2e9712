package replay

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gpstrack/internal/fix"
)

// NMEAWriter records raw sentence text with capture timestamps, producing
// logs Load can replay with the original inter-sentence timing.
type NMEAWriter struct {
	f      *os.File
	w      *bufio.Writer
	closed bool
}

func CreateNMEAWriter(path string) (*NMEAWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &NMEAWriter{f: f, w: bufio.NewWriterSize(f, 64*1024)}, nil
}

// WriteSentence appends one raw sentence (without line terminator is fine;
// any trailing CR/LF is stripped).
func (nw *NMEAWriter) WriteSentence(at time.Time, raw []byte) error {
	if nw.closed {
		return errors.New("nmea writer is closed")
	}
	line := bytes.TrimRight(raw, "\r\n")
	if len(line) == 0 {
		return errors.New("sentence is empty")
	}
	_, err := fmt.Fprintf(nw.w, "%d %s\n", at.UnixNano(), line)
	return err
}

func (nw *NMEAWriter) Flush() error {
	if nw.closed {
		return nil
	}
	return nw.w.Flush()
}

func (nw *NMEAWriter) Close() error {
	if nw.closed {
		return nil
	}
	nw.closed = true
	if err := nw.w.Flush(); err != nil {
		_ = nw.f.Close()
		return err
	}
	return nw.f.Close()
}

// JSONLWriter records one snapshot per line.
type JSONLWriter struct {
	f      *os.File
	w      *bufio.Writer
	closed bool
}

func CreateJSONLWriter(path string) (*JSONLWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &JSONLWriter{f: f, w: bufio.NewWriterSize(f, 64*1024)}, nil
}

func (jw *JSONLWriter) WriteSnapshot(s fix.Snapshot) error {
	if jw.closed {
		return errors.New("jsonl writer is closed")
	}
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if _, err := jw.w.Write(b); err != nil {
		return err
	}
	return jw.w.WriteByte('\n')
}

func (jw *JSONLWriter) Flush() error {
	if jw.closed {
		return nil
	}
	return jw.w.Flush()
}

func (jw *JSONLWriter) Close() error {
	if jw.closed {
		return nil
	}
	jw.closed = true
	if err := jw.w.Flush(); err != nil {
		_ = jw.f.Close()
		return err
	}
	return jw.f.Close()
}

// CSVWriter records snapshots in the fixed canonical column order.
type CSVWriter struct {
	f      *os.File
	w      *csv.Writer
	closed bool
}

func CreateCSVWriter(path string) (*CSVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &CSVWriter{f: f, w: w}, nil
}

func (cw *CSVWriter) WriteSnapshot(s fix.Snapshot) error {
	if cw.closed {
		return errors.New("csv writer is closed")
	}
	fl := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return cw.w.Write([]string{
		fl(s.Lat), fl(s.Lon), fl(s.AltM), fl(s.SpeedMps), fl(s.HeadingDeg),
		s.Quality.String(),
		strconv.Itoa(s.Sats),
		fl(s.HDOP), fl(s.VDOP), fl(s.PDOP),
		s.Time.UTC().Format(time.RFC3339Nano),
		strconv.FormatUint(s.Seq, 10),
		strconv.FormatBool(s.Partial),
	})
}

func (cw *CSVWriter) Flush() error {
	if cw.closed {
		return nil
	}
	cw.w.Flush()
	return cw.w.Error()
}

func (cw *CSVWriter) Close() error {
	if cw.closed {
		return nil
	}
	cw.closed = true
	cw.w.Flush()
	if err := cw.w.Error(); err != nil {
		_ = cw.f.Close()
		return err
	}
	return cw.f.Close()
}
