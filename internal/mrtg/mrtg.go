// Package mrtg implements the fixed-footprint multi-resolution ring
// aggregator ("fake MRTG") described in spec §3/§4.2: one flat vector
// per device holding a current reading, a day accumulator, and four
// stacked DAY/WEEK/MONTH/YEAR rings populated by rolling averages.
package mrtg

import (
	"time"

	"github.com/btsensors/govee-acquired/internal/reading"
)

// Resolution identifies one of the four rings a Series exposes.
type Resolution int

const (
	Day Resolution = iota
	Week
	Month
	Year
)

// Ring sizes and sampling periods, per spec §3.
const (
	DayCount   = 600
	WeekCount  = 600
	MonthCount = 600
	YearCount  = 732

	DaySample   = 300          // 5 minutes
	WeekSample  = 30 * 60      // 30 minutes
	MonthSample = 2 * 60 * 60  // 2 hours
	YearSample  = 24 * 60 * 60 // 24 hours
)

// Slot offsets within the flat vector.
const (
	slotCurrent     = 0
	slotAccumulator = 1
	dayStart        = 2
	weekStart       = dayStart + DayCount
	monthStart      = weekStart + WeekCount
	yearStart       = monthStart + MonthCount
	totalSlots      = yearStart + YearCount
)

// Series is the fixed 2,534-entry vector for one device.
type Series struct {
	slots [totalSlots]reading.Reading
}

// New returns a Series whose rings are pre-seeded with strictly
// descending timestamps at each ring's own sampling period, so the
// monotonicity invariant (slot times non-increasing within a ring)
// holds from construction and the first genuine insert does not
// trigger a cascade of spurious promotions (spec §3).
func New() *Series {
	s := &Series{}
	for i := range s.slots {
		s.slots[i] = reading.New()
	}
	seedRing(s.slots[dayStart:weekStart], DaySample)
	seedRing(s.slots[weekStart:monthStart], WeekSample)
	seedRing(s.slots[monthStart:yearStart], MonthSample)
	seedRing(s.slots[yearStart:], YearSample)
	return s
}

func seedRing(ring []reading.Reading, period int64) {
	for i := range ring {
		ring[i] = reading.New()
		ring[i].Time = -int64(i) * period
	}
}

// Update advances the series with a newly observed or replayed Reading.
// Invalid readings are silently dropped (spec §4.2 failure semantics).
// A Reading whose Time does not advance past the current slot only
// widens min/max envelopes and never bumps the current slot or triggers
// ring promotion (spec §5 ordering guarantees).
func (s *Series) Update(r reading.Reading) {
	s.insert(r)
}

// Load is Update used during log replay; the log stream from disk can
// interleave out-of-order entries with live advertisement readings, so
// the same time-gated insert logic applies (spec §4.2).
func (s *Series) Load(r reading.Reading) {
	s.insert(r)
}

func (s *Series) insert(r reading.Reading) {
	if !r.IsValid() {
		return
	}
	if r.Time <= s.slots[slotCurrent].Time && s.slots[slotCurrent].Averages > 0 {
		mergeEnvelope(&s.slots[slotCurrent], r)
		return
	}

	s.slots[slotCurrent] = r
	s.slots[slotAccumulator] = reading.Add(s.slots[slotAccumulator], r)

	for s.slots[slotAccumulator].Time-s.slots[dayStart].Time > DaySample {
		s.promoteDay()
	}
}

// mergeEnvelope widens dst's min/max envelope with r's without changing
// dst's current value, time, model, or averages count.
func mergeEnvelope(dst *reading.Reading, r reading.Reading) {
	for i := range dst.TemperatureMin {
		if r.TemperatureMin[i] < dst.TemperatureMin[i] {
			dst.TemperatureMin[i] = r.TemperatureMin[i]
		}
		if r.TemperatureMax[i] > dst.TemperatureMax[i] {
			dst.TemperatureMax[i] = r.TemperatureMax[i]
		}
	}
	if r.HumidityMin < dst.HumidityMin {
		dst.HumidityMin = r.HumidityMin
	}
	if r.HumidityMax > dst.HumidityMax {
		dst.HumidityMax = r.HumidityMax
	}
}

// promoteDay performs one iteration of the day-ring promotion rule
// (spec §4.2 steps 1-4): shift the day ring, move the accumulator into
// the freshly opened head slot after normalizing its timestamp,
// classify the new slot's granularity, cascade into the week/month/year
// ring when the classification calls for it, then clear the
// accumulator.
func (s *Series) promoteDay() {
	day := s.slots[dayStart:weekStart]
	shiftRight(day)

	normalized := normalizeDayTime(s.slots[slotAccumulator].Time, day[1])
	day[0] = s.slots[slotAccumulator]
	day[0].Time = normalized

	switch classify(normalized) {
	case Year:
		year := s.slots[yearStart:]
		shiftRight(year)
		year[0] = sumWindow(day, YearSample/DaySample)
	case Month:
		month := s.slots[monthStart:yearStart]
		shiftRight(month)
		month[0] = sumWindow(day, MonthSample/DaySample)
	case Week:
		week := s.slots[weekStart:monthStart]
		shiftRight(week)
		week[0] = sumWindow(day, WeekSample/DaySample)
	}

	s.slots[slotAccumulator] = reading.New()
}

// normalizeDayTime floors t to the nearest DaySample multiple; if the
// result does not land exactly DaySample past its right (older) real
// neighbor, it is snapped to neighbor.Time+DaySample instead (spec
// §4.2). A neighbor that is still an uninitialized placeholder (never
// yet written by a real promotion) imposes no constraint, so the very
// first promotion into an empty ring keeps the genuine floored time
// instead of snapping to a meaningless seed value.
func normalizeDayTime(t int64, neighbor reading.Reading) int64 {
	floored := t - floorMod(t, DaySample)
	if neighbor.Averages == 0 {
		return floored
	}
	if floored != neighbor.Time+DaySample {
		return neighbor.Time + DaySample
	}
	return floored
}

func floorMod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// classify buckets a day-slot's local time per spec §4.2's table:
// midnight -> year; even-hour on the hour -> month; top-or-half-hour ->
// week; otherwise -> day only.
func classify(t int64) Resolution {
	lt := time.Unix(t, 0).Local()
	if lt.Hour() == 0 && lt.Minute() == 0 {
		return Year
	}
	if lt.Minute() == 0 && lt.Hour()%2 == 0 {
		return Month
	}
	if lt.Minute() == 0 || lt.Minute() == 30 {
		return Week
	}
	return Day
}

// shiftRight drops the oldest (highest-index) slot and opens up index 0
// for a new head value; callers must overwrite ring[0] immediately.
func shiftRight(ring []reading.Reading) {
	copy(ring[1:], ring[:len(ring)-1])
}

// sumWindow folds the first n day-ring slots (freshest first) into one
// Reading using the Reading += operator, so min/max envelopes aggregate
// correctly across the window (spec §4.2 step 3).
func sumWindow(day []reading.Reading, n int) reading.Reading {
	sum := reading.New()
	for i := 0; i < n && i < len(day); i++ {
		sum = reading.Add(sum, day[i])
	}
	return sum
}

// Snapshot returns a contiguous view of the requested ring, truncated at
// the first invalid (uninitialized) entry. For Day, the first entry's
// Time is overwritten with the current slot's Time so callers see the
// freshest timestamp (spec §4.2).
func (s *Series) Snapshot(res Resolution) []reading.Reading {
	var ring []reading.Reading
	switch res {
	case Day:
		ring = s.slots[dayStart:weekStart]
	case Week:
		ring = s.slots[weekStart:monthStart]
	case Month:
		ring = s.slots[monthStart:yearStart]
	case Year:
		ring = s.slots[yearStart:]
	}

	n := 0
	for n < len(ring) && ring[n].Averages > 0 {
		n++
	}
	out := make([]reading.Reading, n)
	copy(out, ring[:n])

	if res == Day && len(out) > 0 {
		out[0].Time = s.slots[slotCurrent].Time
	}
	return out
}

// Current returns the most-recently observed raw reading (slot 0).
func (s *Series) Current() reading.Reading { return s.slots[slotCurrent] }

// Len is the fixed number of slots a Series occupies; exposed for the
// cache-file writer, which persists every slot (spec §6).
func Len() int { return totalSlots }

// Slots returns every slot in on-disk order (current, accumulator, day
// ring, week ring, month ring, year ring) for the cache-file writer.
func (s *Series) Slots() []reading.Reading {
	out := make([]reading.Reading, totalSlots)
	copy(out, s.slots[:])
	return out
}

// LoadSlots restores a Series verbatim from a previously persisted
// slot vector (the cache-file reader); len(slots) must equal Len().
func LoadSlots(slots []reading.Reading) *Series {
	s := &Series{}
	copy(s.slots[:], slots)
	return s
}
