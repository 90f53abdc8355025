// Package decode implements the per-vendor-format advertisement
// classifier: a pure function from (manufacturer id, payload bytes,
// optional advertised name/UUIDs) to a typed reading.Reading, with no
// state carried between calls (spec §4.1).
package decode

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/btsensors/govee-acquired/internal/addr"
	"github.com/btsensors/govee-acquired/internal/model"
	"github.com/btsensors/govee-acquired/internal/reading"
)

// AppleManufacturerID is Apple's company identifier. Apple frames never
// carry telemetry; spec §4.1 says they are always rejected, with a
// diagnostic iBeacon summary produced separately when Apple is the only
// manufacturer block present.
const AppleManufacturerID uint16 = 0x004C

const (
	mfrGovee   uint16 = 0xEC88
	mfrH5174   uint16 = 0x0001
)

// Input bundles everything the decoder needs for one manufacturer-data
// block within a single advertisement.
type Input struct {
	ManufacturerID uint16
	Payload        []byte
	Name           string   // advertised complete or shortened local name, if any
	UUIDs          []string // advertised service UUIDs, 16- or 128-bit, as hex strings
}

// modelExpectedLen gives the exact payload length each name/UUID-locked
// model requires before the decoder trusts a direct dispatch; outside
// that length the lock is ignored and the table fallback runs instead.
var modelExpectedLen = map[model.Tag]int{
	model.H5074: 7,
	model.H5075: 6,
	model.H5100: 6,
	model.H5174: 6,
	model.H5177: 6,
	model.H5179: 9,
	model.H5182: 17,
	model.H5183: 14,
	model.H5184: 14,
	model.H5055: 20,
}

// lockModel tries to fix a model from advertised UUIDs (low 16 bits) or
// the local name regex list (spec §3, §4.1), before falling through to
// the length+manufacturer table.
func lockModel(in Input) model.Tag {
	for _, u := range in.UUIDs {
		clean := strings.ReplaceAll(u, "-", "")
		var low16 string
		switch len(clean) {
		case 4:
			// Already a bare 16-bit UUID.
			low16 = clean
		case 32:
			// Standard Bluetooth base UUID: 0000XXXX-0000-1000-8000-00805F9B34FB.
			low16 = clean[4:8]
		default:
			continue
		}
		if v, err := addr.ParseUint16Hex(low16); err == nil {
			if m := model.FromServiceUUID16(v); m != model.Unknown {
				return m
			}
		}
	}
	if in.Name != "" {
		if m := model.FromName(in.Name); m != model.Unknown {
			return m
		}
	}
	return model.Unknown
}

// Decode turns one manufacturer-data block into a Reading, or rejects
// it. now is injected so callers (and tests) control the timestamp
// stamped on advertisement-sourced samples.
func Decode(in Input, now time.Time) (reading.Reading, bool) {
	if in.ManufacturerID == AppleManufacturerID {
		return reading.Reading{}, false
	}

	if locked := lockModel(in); locked != model.Unknown {
		if want, ok := modelExpectedLen[locked]; ok && len(in.Payload) == want {
			if r, ok := decodeForModel(locked, in.ManufacturerID, in.Payload, now); ok {
				return r, true
			}
		}
	}

	return decodeByTable(in.ManufacturerID, in.Payload, now)
}

// decodeForModel dispatches directly once a model has been locked from
// name/UUID, per spec §4.1: "If the resulting model fixes the format
// uniquely, the decoder dispatches directly."
func decodeForModel(m model.Tag, mfrID uint16, p []byte, now time.Time) (reading.Reading, bool) {
	switch m {
	case model.H5074:
		return decodeH5074(p, now)
	case model.H5075:
		return decodeH5075(p, now)
	case model.H5100, model.H5174, model.H5177:
		return decodeH5174Family(m, p, now)
	case model.H5179:
		return decodeH5179(p, now)
	case model.H5182:
		return decodeH5182(p, now)
	case model.H5183, model.H5184:
		return decodeSingleProbeMeat(m, p, now)
	case model.H5055:
		return decodeH5055(p, now)
	default:
		return reading.Reading{}, false
	}
}

// decodeByTable is the exhaustive mfr-id + length fallback table of
// spec §4.1, used whenever no name/UUID lock resolved the model.
func decodeByTable(mfrID uint16, p []byte, now time.Time) (reading.Reading, bool) {
	switch {
	case mfrID == mfrGovee && len(p) == 7:
		return decodeH5074(p, now)
	case mfrID == mfrGovee && len(p) == 6:
		return decodeH5075(p, now)
	case mfrID == mfrH5174 && len(p) == 6:
		return decodeH5174Family(model.H5177, p, now)
	case mfrID == mfrGovee && len(p) == 9:
		return decodeH5179(p, now)
	case mfrID != AppleManufacturerID && len(p) == 14:
		return decodeSingleProbeMeat(model.H5183, p, now)
	case mfrID != AppleManufacturerID && len(p) == 17:
		return decodeH5182(p, now)
	case mfrID != AppleManufacturerID && len(p) == 20:
		return decodeH5055(p, now)
	default:
		return reading.Reading{}, false
	}
}

func i16be(p []byte) int16 { return int16(binary.BigEndian.Uint16(p)) }
func i16le(p []byte) int16 { return int16(binary.LittleEndian.Uint16(p)) }

func finish(r reading.Reading) (reading.Reading, bool) {
	if !reading.PrimaryTempInRange(r.Temperature[0]) {
		return reading.Reading{}, false
	}
	return r, true
}

// decodeH5074: temp_c = i16_le(p[1..3]) / 100, hum = u16_le(p[3..5]) / 100, batt = p[5].
func decodeH5074(p []byte, now time.Time) (reading.Reading, bool) {
	if len(p) != 7 {
		return reading.Reading{}, false
	}
	tempC := float64(i16le(p[1:3])) / 100.0
	hum := float64(binary.LittleEndian.Uint16(p[3:5])) / 100.0
	batt := int(p[5])

	var temp [4]float64
	temp[0] = tempC
	r := reading.NewSample(now.Unix(), model.H5074, temp, hum, batt)
	return finish(r)
}

// decodeH5075: 24-bit big-endian packed temp/humidity with sign bit and
// the intentionally-preserved 19-bit mask (spec §4.1, §9).
func decodeH5075(p []byte, now time.Time) (reading.Reading, bool) {
	if len(p) != 6 {
		return reading.Reading{}, false
	}
	v, neg := unpack24(p[1:4])
	tempC := float64(v/1000) / 10.0
	if neg {
		tempC = -tempC
	}
	hum := float64(v%1000) / 10.0
	batt := int(p[4])

	var temp [4]float64
	temp[0] = tempC
	r := reading.NewSample(now.Unix(), model.H5075, temp, hum, batt)
	return finish(r)
}

// decodeH5174Family covers H5174/H5177/H5100: same 24-bit packing as
// H5075 but read from p[2..5), with temp_c = v/10000.0 (no truncating
// integer division, unlike H5075's temp formula) and humidity = (v mod
// 1000)/10.0, matching the same sign-mask semantics.
func decodeH5174Family(m model.Tag, p []byte, now time.Time) (reading.Reading, bool) {
	if len(p) != 6 {
		return reading.Reading{}, false
	}
	v, neg := unpack24(p[2:5])
	tempC := float64(v) / 10000.0
	if neg {
		tempC = -tempC
	}
	hum := float64(v%1000) / 10.0
	batt := int(p[5])

	var temp [4]float64
	temp[0] = tempC
	r := reading.NewSample(now.Unix(), m, temp, hum, batt)
	return finish(r)
}

// decodeH5179: temp_c = i16_le(p[4..6]) / 100, hum = u16_le(p[6..8]) / 100, batt = p[8].
func decodeH5179(p []byte, now time.Time) (reading.Reading, bool) {
	if len(p) != 9 {
		return reading.Reading{}, false
	}
	tempC := float64(i16le(p[4:6])) / 100.0
	hum := float64(binary.LittleEndian.Uint16(p[6:8])) / 100.0
	batt := int(p[8])

	var temp [4]float64
	temp[0] = tempC
	r := reading.NewSample(now.Unix(), model.H5179, temp, hum, batt)
	return finish(r)
}

// decodeSingleProbeMeat covers H5183 and H5184: temp[0] and alarm
// temp[1] as big-endian i16/100 at offsets 8 and 10; battery masked to
// 7 bits (spec §9 standardizes on &0x7F everywhere).
func decodeSingleProbeMeat(m model.Tag, p []byte, now time.Time) (reading.Reading, bool) {
	if len(p) != 14 {
		return reading.Reading{}, false
	}
	var temp [4]float64
	temp[0] = float64(i16be(p[8:10])) / 100.0
	temp[1] = float64(i16be(p[10:12])) / 100.0
	batt := int(p[5] & 0x7F)

	r := reading.NewSample(now.Unix(), m, temp, 0, batt)
	return finish(r)
}

// decodeH5182: four big-endian i16/100 channels at offsets 8, 10, 13, 15.
func decodeH5182(p []byte, now time.Time) (reading.Reading, bool) {
	if len(p) != 17 {
		return reading.Reading{}, false
	}
	var temp [4]float64
	temp[0] = float64(i16be(p[8:10])) / 100.0
	temp[1] = float64(i16be(p[10:12])) / 100.0
	temp[2] = float64(i16be(p[13:15])) / 100.0
	temp[3] = float64(i16be(p[15:17])) / 100.0
	batt := int(p[5] & 0x7F)

	r := reading.NewSample(now.Unix(), model.H5182, temp, 0, batt)
	return finish(r)
}

// decodeH5055: six-probe meat thermometer that cycles which probe pair
// it advertises. Each advertisement carries exactly one pair: primary
// temp at p[5:7] (little-endian), its high alarm at p[9:11], second
// probe's temp at p[12:14], its high alarm at p[16:18]. Battery at
// p[2]. Which physical probe pair this is is not decoded (spec §9 Open
// Question) — the aggregator is left to alias whatever arrives onto the
// same four channels.
func decodeH5055(p []byte, now time.Time) (reading.Reading, bool) {
	if len(p) != 20 {
		return reading.Reading{}, false
	}
	var temp [4]float64
	temp[0] = float64(i16le(p[5:7]))
	temp[1] = float64(i16le(p[9:11]))
	temp[2] = float64(i16le(p[12:14]))
	temp[3] = float64(i16le(p[16:18]))
	batt := int(p[2])

	r := reading.NewSample(now.Unix(), model.H5055, temp, 0, batt)
	return finish(r)
}

// unpack24 decodes a 24-bit big-endian packed temp/humidity value: the
// sign bit at 0x800000 and the intentional 19-bit mask (0x7FFFF) that
// clears bits 19-23 of the 24-bit value regardless of the sign bit's own
// position — preserved bug-for-bug per spec §9.
func unpack24(p []byte) (v uint32, negative bool) {
	v = uint32(p[0])<<16 | uint32(p[1])<<8 | uint32(p[2])
	negative = v&0x800000 != 0
	v &= 0x7FFFF
	return v, negative
}

// DecodeHistorySample decodes one 3-byte packed history sample using
// the identical 24-bit temp/humidity packing as the H5075 advertisement
// format (spec §4.5 step 4), producing a single-channel Reading stamped
// with t and batteryHint (history notifications carry no battery field
// of their own; callers supply the device's last known battery level).
func DecodeHistorySample(p []byte, m model.Tag, t int64, batteryHint int) (reading.Reading, bool) {
	if len(p) != 3 {
		return reading.Reading{}, false
	}
	v, neg := unpack24(p)
	tempC := float64(v/1000) / 10.0
	if neg {
		tempC = -tempC
	}
	hum := float64(v % 1000) / 10.0

	var temp [4]float64
	temp[0] = tempC
	r := reading.NewSample(t, m, temp, hum, batteryHint)
	return finish(r)
}

// IBeacon is the diagnostic-only summary produced when an Apple
// (0x004C) manufacturer block is the sole one present in an
// advertisement. It never feeds the aggregator (spec §4.1).
type IBeacon struct {
	UUID     string
	Major    uint16
	Minor    uint16
	CalibRSSI int8
}

// DecodeIBeacon parses the standard 23-byte Apple iBeacon sub-payload
// (0x02 0x15 prefix, 16-byte UUID, 2-byte major, 2-byte minor, signed
// calibrated RSSI), for logging only.
func DecodeIBeacon(payload []byte) (IBeacon, error) {
	if len(payload) != 23 || payload[0] != 0x02 || payload[1] != 0x15 {
		return IBeacon{}, fmt.Errorf("decode: not an iBeacon payload")
	}
	uuidBytes := payload[2:18]
	major := binary.BigEndian.Uint16(payload[18:20])
	minor := binary.BigEndian.Uint16(payload[20:22])
	rssi := int8(payload[22])

	return IBeacon{
		UUID:      fmt.Sprintf("%x-%x-%x-%x-%x", uuidBytes[0:4], uuidBytes[4:6], uuidBytes[6:8], uuidBytes[8:10], uuidBytes[10:16]),
		Major:     major,
		Minor:     minor,
		CalibRSSI: rssi,
	}, nil
}
