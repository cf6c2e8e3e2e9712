package sentence

// Package sentence decodes delimited frames into typed field updates. Text
// sentences are parsed with github.com/adrianmo/go-nmea; UBX binary messages
// are decoded by hand. Decode failures are classified into a small error
// taxonomy so the pipeline can count them without ever halting on a bad
// frame.

import (
	"errors"
	"fmt"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"gpstrack/internal/frame"
)

var (
	// ErrChecksumMismatch: the frame failed integrity validation and is
	// dropped. Corrupted frames are not recoverable.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrUnsupportedSentence: a well-formed frame of a kind this decoder
	// does not model. Expected in normal operation; callers skip it.
	ErrUnsupportedSentence = errors.New("unsupported sentence")
	// ErrMalformedField: wrong field count or unparseable field content.
	ErrMalformedField = errors.New("malformed field")
)

// Kind identifies one decoded quantity. The set is closed: decoding
// dispatches over exactly these kinds plus the unsupported-sentence error
// path, so there are no silent gaps.
type Kind int

const (
	KindPosition Kind = iota + 1 // Lat/Lon, decimal degrees
	KindAltitude                 // Value, meters MSL
	KindSpeed                    // Value, m/s over ground
	KindCourse                   // Value, degrees true
	KindQuality                  // Quality
	KindSatCount                 // Value, satellites used
	KindHDOP                     // Value
	KindVDOP                     // Value
	KindPDOP                     // Value
	KindTime                     // Time, full UTC timestamp
	KindEpochEnd                 // receiver end-of-epoch marker
)

// Quality is the receiver-reported fix confidence tier.
type Quality int

const (
	QualityNone Quality = iota
	Quality2D
	Quality3D
	QualityDGPS
)

func (q Quality) String() string {
	switch q {
	case Quality2D:
		return "2d"
	case Quality3D:
		return "3d"
	case QualityDGPS:
		return "dgps"
	default:
		return "none"
	}
}

func (q Quality) MarshalJSON() ([]byte, error) {
	return []byte(`"` + q.String() + `"`), nil
}

func (q *Quality) UnmarshalJSON(b []byte) error {
	switch strings.Trim(string(b), `"`) {
	case "none":
		*q = QualityNone
	case "2d":
		*q = Quality2D
	case "3d":
		*q = Quality3D
	case "dgps":
		*q = QualityDGPS
	default:
		return fmt.Errorf("unknown fix quality %s", b)
	}
	return nil
}

// Field is one decoded quantity from a single frame. Which members are
// meaningful depends on Kind (see the Kind constants).
type Field struct {
	Kind    Kind
	Value   float64
	Lat     float64
	Lon     float64
	Quality Quality
	Time    time.Time
}

// Result is the decode output for one frame: the sentence/message type tag
// (e.g. "RMC", "NAV-PVT") and zero or more fields. A valid frame can yield
// zero fields (a void RMC, for instance).
type Result struct {
	Type   string
	Fields []Field
}

const knotsToMps = 0.514444

// Decode validates and decodes one raw frame.
func Decode(rf frame.RawFrame) (Result, error) {
	switch rf.Dialect {
	case frame.DialectNMEA:
		return decodeNMEA(rf.Bytes)
	case frame.DialectUBX:
		return decodeUBX(rf.Bytes)
	default:
		return Result{}, fmt.Errorf("%w: dialect %v", ErrUnsupportedSentence, rf.Dialect)
	}
}

func decodeNMEA(raw []byte) (Result, error) {
	s, err := nmea.Parse(string(raw))
	if err != nil {
		return Result{}, classifyNMEAError(err)
	}

	switch m := s.(type) {
	case nmea.RMC:
		return decodeRMC(m), nil
	case nmea.GGA:
		return decodeGGA(m), nil
	case nmea.GSA:
		return decodeGSA(m), nil
	case nmea.VTG:
		res := Result{Type: nmea.TypeVTG}
		res.Fields = append(res.Fields,
			Field{Kind: KindSpeed, Value: m.GroundSpeedKnots * knotsToMps},
			Field{Kind: KindCourse, Value: m.TrueTrack},
		)
		return res, nil
	case nmea.GLL:
		res := Result{Type: nmea.TypeGLL}
		if m.Validity == "A" {
			res.Fields = append(res.Fields, Field{Kind: KindPosition, Lat: m.Latitude, Lon: m.Longitude})
		}
		return res, nil
	case nmea.ZDA:
		res := Result{Type: nmea.TypeZDA}
		if m.Time.Valid && m.Year > 0 {
			ts := time.Date(int(m.Year), time.Month(m.Month), int(m.Day),
				m.Time.Hour, m.Time.Minute, m.Time.Second,
				m.Time.Millisecond*int(time.Millisecond), time.UTC)
			res.Fields = append(res.Fields, Field{Kind: KindTime, Time: ts})
		}
		return res, nil
	default:
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedSentence, s.DataType())
	}
}

func decodeRMC(m nmea.RMC) Result {
	res := Result{Type: nmea.TypeRMC}
	// Void fixes carry no trustworthy fields beyond the timestamp.
	if m.Validity != "A" {
		return res
	}
	res.Fields = append(res.Fields,
		Field{Kind: KindPosition, Lat: m.Latitude, Lon: m.Longitude},
		Field{Kind: KindSpeed, Value: m.Speed * knotsToMps},
		Field{Kind: KindCourse, Value: m.Course},
	)
	if m.Time.Valid && m.Date.Valid {
		ts := time.Date(2000+m.Date.YY, time.Month(m.Date.MM), m.Date.DD,
			m.Time.Hour, m.Time.Minute, m.Time.Second,
			m.Time.Millisecond*int(time.Millisecond), time.UTC)
		res.Fields = append(res.Fields, Field{Kind: KindTime, Time: ts})
	}
	return res
}

func decodeGGA(m nmea.GGA) Result {
	res := Result{Type: nmea.TypeGGA}
	res.Fields = append(res.Fields, Field{Kind: KindQuality, Quality: ggaQuality(m.FixQuality)})
	if m.FixQuality == nmea.Invalid {
		return res
	}
	res.Fields = append(res.Fields,
		Field{Kind: KindPosition, Lat: m.Latitude, Lon: m.Longitude},
		Field{Kind: KindAltitude, Value: m.Altitude},
		Field{Kind: KindSatCount, Value: float64(m.NumSatellites)},
		Field{Kind: KindHDOP, Value: m.HDOP},
	)
	return res
}

func decodeGSA(m nmea.GSA) Result {
	res := Result{Type: nmea.TypeGSA}
	// GSA fix type: 1 = none, 2 = 2D, 3 = 3D.
	switch m.FixType {
	case "2":
		res.Fields = append(res.Fields, Field{Kind: KindQuality, Quality: Quality2D})
	case "3":
		res.Fields = append(res.Fields, Field{Kind: KindQuality, Quality: Quality3D})
	case "1":
		res.Fields = append(res.Fields, Field{Kind: KindQuality, Quality: QualityNone})
	}
	res.Fields = append(res.Fields,
		Field{Kind: KindPDOP, Value: m.PDOP},
		Field{Kind: KindHDOP, Value: m.HDOP},
		Field{Kind: KindVDOP, Value: m.VDOP},
	)
	return res
}

// ggaQuality maps the GGA quality indicator. Differential tiers (DGPS, RTK)
// map to DGPS; autonomous fixes map to 3D, which is the strongest claim a
// bare GGA can support.
func ggaQuality(q string) Quality {
	switch q {
	case nmea.DGPS, nmea.RTK, nmea.FRTK:
		return QualityDGPS
	case nmea.GPS, nmea.PPS:
		return Quality3D
	default:
		return QualityNone
	}
}

func classifyNMEAError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "checksum mismatch"):
		return fmt.Errorf("%w: %v", ErrChecksumMismatch, err)
	case strings.Contains(msg, "not supported"):
		return fmt.Errorf("%w: %v", ErrUnsupportedSentence, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformedField, err)
	}
}
