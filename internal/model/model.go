// Package model defines the closed enumeration of supported Govee
// hygrometer/thermometer models plus the decimal tag and display string
// each one writes into log lines.
package model

import (
	"regexp"
	"strings"
)

// Tag is a closed enumeration of supported devices plus Unknown.
type Tag int

const (
	Unknown Tag = iota
	H5074
	H5075
	H5100
	H5174
	H5177
	H5179
	H5182
	H5183
	H5184
	H5055
)

// names mirrors the teacher's modelName lookup table shape: one switch
// per closed enum, defaulting to an unrecognized marker.
var names = map[Tag]string{
	Unknown: "Unknown",
	H5074:   "H5074",
	H5075:   "H5075",
	H5100:   "H5100",
	H5174:   "H5174",
	H5177:   "H5177",
	H5179:   "H5179",
	H5182:   "H5182",
	H5183:   "H5183",
	H5184:   "H5184",
	H5055:   "H5055",
}

func (t Tag) String() string {
	if s, ok := names[t]; ok {
		return s
	}
	return "Unknown"
}

// LogTag is the decimal value written into per-device log lines for
// meat-probe models (spec §6, "append: numeric model tag"). Non-probe
// models never need this field, so only the probe-carrying tags are
// populated; everything else is 0.
func (t Tag) LogTag() int {
	switch t {
	case H5183:
		return 5183
	case H5182:
		return 5182
	case H5184:
		return 5184
	case H5055:
		return 5055
	default:
		return 0
	}
}

// HasMeatProbes reports whether a model carries one or more probe
// temperature channels beyond channel 0, requiring the extended log
// line format.
func (t Tag) HasMeatProbes() bool {
	switch t {
	case H5183, H5182, H5184, H5055:
		return true
	default:
		return false
	}
}

// HasHumidity reports whether the model carries a hygrometer. Meat
// thermometers have none; humidity is reported as 0 for them.
func (t Tag) HasHumidity() bool {
	switch t {
	case H5074, H5075, H5100, H5174, H5177, H5179:
		return true
	default:
		return false
	}
}

// ProbeCount returns how many independent temperature probes a model
// carries beyond the primary channel (H5183: 1, H5182: 2, H5055: up to
// 6 cycling in pairs over multiple advertisements).
func (t Tag) ProbeCount() int {
	switch t {
	case H5183:
		return 1
	case H5182:
		return 2
	case H5055:
		return 6
	default:
		return 0
	}
}

// FromServiceUUID16 recognizes a model from the low 16 bits of an
// advertised service UUID, per spec §3's fixed table.
func FromServiceUUID16(low16 uint16) Tag {
	switch low16 {
	case 0x8151:
		return H5181Placeholder()
	case 0x8251:
		return H5182
	case 0x8351:
		return H5183
	case 0x8451:
		return H5184
	case 0x5550:
		return H5055
	default:
		return Unknown
	}
}

// H5181Placeholder exists because spec §3's service-UUID table maps
// 0x8151 to a model named "H5181" that otherwise never appears in the
// format table (§4.1) or anywhere else in the spec; the closest
// documented sibling is H5183 (single-probe meat thermometer family),
// so 0x8151 is treated as an alias of it rather than invented as a
// wholly separate, undocumented tag.
func H5181Placeholder() Tag { return H5183 }

// nameRegexes recognizes a model from the advertised local name; the
// fixed list referenced by spec §3/§4.1.
var nameRegexes = []struct {
	re    *regexp.Regexp
	model Tag
}{
	{regexp.MustCompile(`^GVH5074`), H5074},
	{regexp.MustCompile(`^GVH5075`), H5075},
	{regexp.MustCompile(`^GVH5100`), H5100},
	{regexp.MustCompile(`^GVH5174`), H5174},
	{regexp.MustCompile(`^GVH5177`), H5177},
	{regexp.MustCompile(`^GVH5179`), H5179},
	{regexp.MustCompile(`^GVH5182`), H5182},
	{regexp.MustCompile(`^GVH5183`), H5183},
	{regexp.MustCompile(`^GVH5184`), H5184},
	{regexp.MustCompile(`^GVH5055`), H5055},
	{regexp.MustCompile(`^Govee_H5055`), H5055},
}

// FromName matches an advertised local name against the fixed regex
// list and returns the recognized model, or Unknown.
func FromName(name string) Tag {
	for _, e := range nameRegexes {
		if e.re.MatchString(name) {
			return e.model
		}
	}
	return Unknown
}

// unknownPersistString is the literal marker spec §6 requires for a
// device whose model has never been recognized.
const unknownPersistString = "(ThermometerType::Unknown)"

// PersistString renders the model the way the persistence file (spec
// §6, gvh-thermometer-types.txt) records it: "(GVHxxxx)" for a
// recognized model, or the unknown marker otherwise.
func (t Tag) PersistString() string {
	if t == Unknown {
		return unknownPersistString
	}
	return "(GVH" + strings.TrimPrefix(t.String(), "H") + ")"
}

var persistRegexp = regexp.MustCompile(`^\(GVH(\d+)\)$`)

// ParsePersistString is the inverse of PersistString, used when
// reloading the persistence file at startup.
func ParsePersistString(s string) Tag {
	if s == unknownPersistString {
		return Unknown
	}
	m := persistRegexp.FindStringSubmatch(s)
	if m == nil {
		return Unknown
	}
	for t, name := range names {
		if t != Unknown && "H"+m[1] == name {
			return t
		}
	}
	return Unknown
}
