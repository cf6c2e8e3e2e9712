package replay

// Recorded log formats, readable and writable:
//
//   - NMEA lines: the raw sentence text, one per line, optionally preceded
//     by a capture timestamp field (nanoseconds since the Unix epoch).
//     Blank lines and '#' comments are ignored.
//   - JSON lines: one snapshot per line with the canonical field names.
//   - CSV: one header row, then the same fields in fixed column order.
//
// Raw-frame logs replay through the full framer/decoder path; snapshot logs
// bypass it and re-emit the recorded snapshots as-is. Either way the
// downstream snapshot sequence is identical to the original capture.

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gpstrack/internal/fix"
)

// Record is one replayable log entry: either raw frame bytes or a
// pre-decoded snapshot, with its capture timestamp.
type Record struct {
	At       time.Time
	Raw      []byte
	Snapshot *fix.Snapshot
}

// defaultSpacing synthesizes timestamps for NMEA logs captured without
// them, matching the 200 ms cadence the original capture tool polled at.
const defaultSpacing = 200 * time.Millisecond

// Load reads a recorded log, picking the format from the file extension:
// .jsonl, .csv, or NMEA lines for anything else.
func Load(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("replay: open log: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl":
		return ReadJSONL(f)
	case ".csv":
		return ReadCSV(f)
	default:
		return ReadNMEA(f)
	}
}

// ReadNMEA reads a raw sentence log. Lines are either "$GPRMC,..." or
// "<unix_ns> $GPRMC,...".
func ReadNMEA(r io.Reader) ([]Record, error) {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), 1024*1024)

	var recs []Record
	var lastAt time.Time
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		at := time.Time{}
		if !strings.HasPrefix(line, "$") {
			sp := strings.IndexByte(line, ' ')
			if sp < 0 {
				return nil, fmt.Errorf("replay: line %d: no sentence field: %q", lineNo, line)
			}
			ns, err := strconv.ParseInt(line[:sp], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("replay: line %d: bad timestamp %q: %w", lineNo, line[:sp], err)
			}
			at = time.Unix(0, ns).UTC()
			line = strings.TrimSpace(line[sp+1:])
			if !strings.HasPrefix(line, "$") {
				return nil, fmt.Errorf("replay: line %d: sentence must start with '$': %q", lineNo, line)
			}
		}
		if at.IsZero() {
			// Untimestamped capture: synthesize a steady cadence.
			if lastAt.IsZero() {
				at = time.Unix(0, 0).UTC()
			} else {
				at = lastAt.Add(defaultSpacing)
			}
		}
		lastAt = at
		recs = append(recs, Record{At: at, Raw: append([]byte(line), '\r', '\n')})
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("replay: read log: %w", err)
	}
	return recs, nil
}

// ReadJSONL reads a snapshot-per-line JSON log.
func ReadJSONL(r io.Reader) ([]Record, error) {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), 1024*1024)

	var recs []Record
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var snap fix.Snapshot
		if err := json.Unmarshal([]byte(line), &snap); err != nil {
			return nil, fmt.Errorf("replay: line %d: %w", lineNo, err)
		}
		recs = append(recs, Record{At: snap.Time, Snapshot: &snap})
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("replay: read log: %w", err)
	}
	return recs, nil
}

// csvHeader is the fixed CSV column order.
var csvHeader = []string{
	"lat", "lon", "alt_m", "speed_mps", "heading_deg", "fix_quality",
	"sats", "hdop", "vdop", "pdop", "timestamp_utc", "seq", "partial",
}

// ReadCSV reads a snapshot CSV log. The header row must match the
// canonical column order exactly.
func ReadCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("replay: read csv header: %w", err)
	}
	if len(header) != len(csvHeader) {
		return nil, fmt.Errorf("replay: csv header has %d columns, want %d", len(header), len(csvHeader))
	}
	for i, h := range header {
		if strings.TrimSpace(h) != csvHeader[i] {
			return nil, fmt.Errorf("replay: csv column %d is %q, want %q", i, h, csvHeader[i])
		}
	}

	var recs []Record
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("replay: read csv row: %w", err)
		}
		snap, err := snapshotFromRow(row)
		if err != nil {
			return nil, fmt.Errorf("replay: csv row: %w", err)
		}
		recs = append(recs, Record{At: snap.Time, Snapshot: snap})
	}
	return recs, nil
}

func snapshotFromRow(row []string) (*fix.Snapshot, error) {
	if len(row) != len(csvHeader) {
		return nil, fmt.Errorf("row has %d columns, want %d", len(row), len(csvHeader))
	}
	fl := func(i int) (float64, error) { return strconv.ParseFloat(strings.TrimSpace(row[i]), 64) }

	var snap fix.Snapshot
	var err error
	if snap.Lat, err = fl(0); err != nil {
		return nil, fmt.Errorf("lat: %w", err)
	}
	if snap.Lon, err = fl(1); err != nil {
		return nil, fmt.Errorf("lon: %w", err)
	}
	if snap.AltM, err = fl(2); err != nil {
		return nil, fmt.Errorf("alt_m: %w", err)
	}
	if snap.SpeedMps, err = fl(3); err != nil {
		return nil, fmt.Errorf("speed_mps: %w", err)
	}
	if snap.HeadingDeg, err = fl(4); err != nil {
		return nil, fmt.Errorf("heading_deg: %w", err)
	}
	if err = snap.Quality.UnmarshalJSON([]byte(`"` + strings.TrimSpace(row[5]) + `"`)); err != nil {
		return nil, err
	}
	sats, err := strconv.Atoi(strings.TrimSpace(row[6]))
	if err != nil {
		return nil, fmt.Errorf("sats: %w", err)
	}
	snap.Sats = sats
	if snap.HDOP, err = fl(7); err != nil {
		return nil, fmt.Errorf("hdop: %w", err)
	}
	if snap.VDOP, err = fl(8); err != nil {
		return nil, fmt.Errorf("vdop: %w", err)
	}
	if snap.PDOP, err = fl(9); err != nil {
		return nil, fmt.Errorf("pdop: %w", err)
	}
	if snap.Time, err = time.Parse(time.RFC3339Nano, strings.TrimSpace(row[10])); err != nil {
		return nil, fmt.Errorf("timestamp_utc: %w", err)
	}
	seq, err := strconv.ParseUint(strings.TrimSpace(row[11]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("seq: %w", err)
	}
	snap.Seq = seq
	if snap.Partial, err = strconv.ParseBool(strings.TrimSpace(row[12])); err != nil {
		return nil, fmt.Errorf("partial: %w", err)
	}
	return &snap, nil
}
