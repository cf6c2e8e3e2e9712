package fix

import (
	"time"

	"gpstrack/internal/sentence"
)

// Snapshot is the authoritative point-in-time GPS state produced by the
// Aggregator. It is immutable once emitted; consumers receive their own
// copy. JSON names are the canonical recorded-log field names.
type Snapshot struct {
	Lat        float64          `json:"lat"`
	Lon        float64          `json:"lon"`
	AltM       float64          `json:"alt_m"`
	SpeedMps   float64          `json:"speed_mps"`
	HeadingDeg float64          `json:"heading_deg"`
	Quality    sentence.Quality `json:"fix_quality"`
	Sats       int              `json:"sats"`
	HDOP       float64          `json:"hdop"`
	VDOP       float64          `json:"vdop"`
	PDOP       float64          `json:"pdop"`
	Time       time.Time        `json:"timestamp_utc"`
	Seq        uint64           `json:"seq"`

	// Partial flags a snapshot whose epoch closed on timeout rather than on
	// the receiver's terminal sentence, so some fields may be stale.
	Partial bool `json:"partial,omitempty"`
}

// Valid reports whether the snapshot carries a usable fix.
func (s Snapshot) Valid() bool {
	return s.Quality != sentence.QualityNone
}
