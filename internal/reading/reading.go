// Package reading implements the typed sensor sample shared by the
// advertisement decoder, the GATT history downloader, the MRTG
// aggregator, and the log/cache readers and writers.
package reading

import (
	"math"

	"github.com/btsensors/govee-acquired/internal/model"
)

// BatteryUnknown is the INT_MAX sentinel spec §3 uses for "no battery
// reading available".
const BatteryUnknown = math.MaxInt32

// TempChannels is the fixed channel count every Reading carries: 0 is
// primary, 1 is alarm-set-point/probe-2 depending on model, 2-3 are
// probe 2 and its alarm on meat thermometers.
const TempChannels = 4

// MinValidTempC and MaxValidTempC bound the primary channel for
// advertisement-sourced readings; outside this range the sample is
// invalid (spec §3, §4.1).
const (
	MinValidTempC = -20.0
	MaxValidTempC = 60.0
)

// Reading is a single sample, or a running accumulator over several
// samples when Averages > 1.
type Reading struct {
	Time        int64               // UNIX seconds, minute-aligned when synthesized from history
	Temperature [TempChannels]float64
	Humidity    float64
	Battery     int // percent, BatteryUnknown if not reported
	Model       model.Tag
	Averages    int // count of raw samples folded in; 0 means invalid

	TemperatureMin [TempChannels]float64
	TemperatureMax [TempChannels]float64
	HumidityMin    float64
	HumidityMax    float64
}

// New returns an empty accumulator: Averages == 0 (invalid), envelopes
// seeded with +/-infinity so the first contribution always widens them,
// per spec §3's "±∞ sentinels on construction".
func New() Reading {
	var r Reading
	r.Battery = BatteryUnknown
	for i := range r.Temperature {
		r.TemperatureMin[i] = math.Inf(1)
		r.TemperatureMax[i] = math.Inf(-1)
	}
	r.HumidityMin = math.Inf(1)
	r.HumidityMax = math.Inf(-1)
	return r
}

// NewSample builds a single observed Reading: Averages = 1 and
// min/max collapsed onto the current value, as the decoder and history
// downloader both produce.
func NewSample(t int64, m model.Tag, temp [TempChannels]float64, humidity float64, battery int) Reading {
	r := Reading{
		Time:        t,
		Temperature: temp,
		Humidity:    humidity,
		Battery:     battery,
		Model:       m,
		Averages:    1,
	}
	r.TemperatureMin = temp
	r.TemperatureMax = temp
	r.HumidityMin = humidity
	r.HumidityMax = humidity
	return r
}

// IsValid reports the spec §3 validity invariant: Averages > 0 and a
// recognized model.
func (r Reading) IsValid() bool {
	return r.Averages > 0 && r.Model != model.Unknown
}

// PrimaryTempInRange reports whether channel 0 lies within the bound
// advertisement-sourced readings must respect; values outside invalidate
// the sample (spec §3, §4.1).
func PrimaryTempInRange(c float64) bool {
	return c >= MinValidTempC && c <= MaxValidTempC
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minI(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Add combines two Readings per spec §3: the result is weighted by each
// operand's Averages count, takes the max of Time, the min of Battery,
// element-wise min/max across envelopes, and the model of the RIGHT
// operand — so accumulating into an empty (Unknown-model) accumulator
// via `acc = Add(acc, sample)` makes the accumulator inherit the model
// of its first valid contribution, and every later contribution is
// expected to carry the same model.
func Add(a, b Reading) Reading {
	if a.Averages == 0 {
		return b
	}
	if b.Averages == 0 {
		return a
	}

	total := a.Averages + b.Averages
	var out Reading
	out.Averages = total
	out.Model = b.Model
	if b.Time > a.Time {
		out.Time = b.Time
	} else {
		out.Time = a.Time
	}
	if a.Battery == BatteryUnknown {
		out.Battery = b.Battery
	} else if b.Battery == BatteryUnknown {
		out.Battery = a.Battery
	} else {
		out.Battery = minI(a.Battery, b.Battery)
	}

	wa := float64(a.Averages)
	wb := float64(b.Averages)
	wt := float64(total)

	for i := 0; i < TempChannels; i++ {
		out.Temperature[i] = (a.Temperature[i]*wa + b.Temperature[i]*wb) / wt
		out.TemperatureMin[i] = minF(a.TemperatureMin[i], b.TemperatureMin[i])
		out.TemperatureMax[i] = maxF(a.TemperatureMax[i], b.TemperatureMax[i])
	}
	out.Humidity = (a.Humidity*wa + b.Humidity*wb) / wt
	out.HumidityMin = minF(a.HumidityMin, b.HumidityMin)
	out.HumidityMax = maxF(a.HumidityMax, b.HumidityMax)

	return out
}
