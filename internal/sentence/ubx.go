package sentence

import (
	"encoding/binary"
	"fmt"
	"time"
)

// UBX message IDs this decoder models. Everything else is skipped as
// unsupported, which is the forward-compatibility policy for receivers that
// emit a wider message set.
const (
	ubxClassNav = 0x01

	ubxNavDOP = 0x04
	ubxNavPVT = 0x07
	ubxNavEOE = 0x61
)

// decodeUBX validates the Fletcher checksum of a complete UBX frame (sync
// through CK_B, as delimited by the framer) and dispatches on class/id.
func decodeUBX(raw []byte) (Result, error) {
	if len(raw) < 8 {
		return Result{}, fmt.Errorf("%w: ubx frame too short: %d", ErrMalformedField, len(raw))
	}
	body := raw[2 : len(raw)-2]
	ckA, ckB := ubxChecksum(body)
	if ckA != raw[len(raw)-2] || ckB != raw[len(raw)-1] {
		return Result{}, fmt.Errorf("%w: ubx ck_a/ck_b %02X%02X != %02X%02X",
			ErrChecksumMismatch, ckA, ckB, raw[len(raw)-2], raw[len(raw)-1])
	}

	class, id := raw[2], raw[3]
	declared := int(binary.LittleEndian.Uint16(raw[4:6]))
	payload := raw[6 : len(raw)-2]
	if declared != len(payload) {
		return Result{}, fmt.Errorf("%w: ubx declared length %d != %d", ErrMalformedField, declared, len(payload))
	}

	if class != ubxClassNav {
		return Result{}, fmt.Errorf("%w: ubx class 0x%02X id 0x%02X", ErrUnsupportedSentence, class, id)
	}
	switch id {
	case ubxNavPVT:
		return decodeNavPVT(payload)
	case ubxNavDOP:
		return decodeNavDOP(payload)
	case ubxNavEOE:
		return Result{Type: "NAV-EOE", Fields: []Field{{Kind: KindEpochEnd}}}, nil
	default:
		return Result{}, fmt.Errorf("%w: ubx class 0x%02X id 0x%02X", ErrUnsupportedSentence, class, id)
	}
}

// ubxChecksum computes the 8-bit Fletcher checksum over class, id, length
// and payload.
func ubxChecksum(body []byte) (ckA, ckB byte) {
	for _, b := range body {
		ckA += b
		ckB += ckA
	}
	return ckA, ckB
}

// decodeNavPVT decodes UBX-NAV-PVT (position, velocity, time).
//
// Payload offsets (u-blox interface description, 92 bytes):
//
//	 4: year u16    11: valid bitfield   20: fixType u8
//	21: flags u8    23: numSV u8         24: lon i32 1e-7 deg
//	28: lat i32     36: hMSL i32 mm      60: gSpeed i32 mm/s
//	64: headMot i32 1e-5 deg             76: pDOP u16 0.01
func decodeNavPVT(p []byte) (Result, error) {
	if len(p) < 92 {
		return Result{}, fmt.Errorf("%w: nav-pvt payload length %d", ErrMalformedField, len(p))
	}
	res := Result{Type: "NAV-PVT"}

	fixType := p[20]
	diffSoln := p[21]&0x02 != 0
	res.Fields = append(res.Fields, Field{Kind: KindQuality, Quality: pvtQuality(fixType, diffSoln)})
	res.Fields = append(res.Fields, Field{Kind: KindSatCount, Value: float64(p[23])})
	res.Fields = append(res.Fields, Field{Kind: KindPDOP, Value: float64(binary.LittleEndian.Uint16(p[76:78])) * 0.01})

	const validDate, validTime = 0x01, 0x02
	if p[11]&validDate != 0 && p[11]&validTime != 0 {
		nano := int(int32(binary.LittleEndian.Uint32(p[16:20])))
		ts := time.Date(int(binary.LittleEndian.Uint16(p[4:6])), time.Month(p[6]), int(p[7]),
			int(p[8]), int(p[9]), int(p[10]), 0, time.UTC)
		if nano > -int(time.Second) && nano < int(time.Second) {
			ts = ts.Add(time.Duration(nano))
		}
		res.Fields = append(res.Fields, Field{Kind: KindTime, Time: ts})
	}

	if fixType >= 2 && fixType <= 4 {
		lon := float64(int32(binary.LittleEndian.Uint32(p[24:28]))) * 1e-7
		lat := float64(int32(binary.LittleEndian.Uint32(p[28:32]))) * 1e-7
		hMSL := float64(int32(binary.LittleEndian.Uint32(p[36:40]))) / 1000.0
		gSpeed := float64(int32(binary.LittleEndian.Uint32(p[60:64]))) / 1000.0
		headMot := float64(int32(binary.LittleEndian.Uint32(p[64:68]))) * 1e-5

		res.Fields = append(res.Fields,
			Field{Kind: KindPosition, Lat: lat, Lon: lon},
			Field{Kind: KindAltitude, Value: hMSL},
			Field{Kind: KindSpeed, Value: gSpeed},
			Field{Kind: KindCourse, Value: headMot},
		)
	}
	return res, nil
}

func pvtQuality(fixType byte, diffSoln bool) Quality {
	switch fixType {
	case 2:
		return Quality2D
	case 3, 4:
		if diffSoln {
			return QualityDGPS
		}
		return Quality3D
	default:
		return QualityNone
	}
}

// decodeNavDOP decodes UBX-NAV-DOP. All DOP values are scaled by 0.01.
func decodeNavDOP(p []byte) (Result, error) {
	if len(p) < 18 {
		return Result{}, fmt.Errorf("%w: nav-dop payload length %d", ErrMalformedField, len(p))
	}
	dop := func(off int) float64 {
		return float64(binary.LittleEndian.Uint16(p[off:off+2])) * 0.01
	}
	return Result{Type: "NAV-DOP", Fields: []Field{
		{Kind: KindPDOP, Value: dop(6)},
		{Kind: KindVDOP, Value: dop(10)},
		{Kind: KindHDOP, Value: dop(12)},
	}}, nil
}
