package mrtg

import (
	"testing"
	"time"

	"github.com/btsensors/govee-acquired/internal/model"
	"github.com/btsensors/govee-acquired/internal/reading"
)

func sample(t int64) reading.Reading {
	return reading.NewSample(t, model.H5075, [4]float64{20, 0, 0, 0}, 50, 90)
}

// TestMonotonicity is the universal invariant from spec §8: after any
// sequence of updates, ring slot times are non-increasing within each
// ring's valid prefix.
func TestMonotonicity(t *testing.T) {
	s := New()
	base := int64(1_700_000_000)
	for i := int64(0); i < 1000; i++ {
		s.Update(sample(base + i*DaySample))
	}

	for _, res := range []Resolution{Day, Week, Month, Year} {
		snap := s.Snapshot(res)
		for i := 1; i < len(snap); i++ {
			if snap[i].Time > snap[i-1].Time {
				t.Fatalf("resolution %v: slot %d time %d > slot %d time %d", res, i, snap[i].Time, i-1, snap[i-1].Time)
			}
		}
	}
}

// TestPromotionScenario reproduces the spec §8 concrete scenario: feed
// 289 valid samples 5 minutes apart starting at a timestamp 5 minutes
// past local midnight, such that the 289th sample's promotion lands
// exactly on the next local midnight. Exactly one year-ring entry must
// be created, and the oldest day-slot time must equal the first
// sample's timestamp.
func TestPromotionScenario(t *testing.T) {
	midnight := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.Local).Unix()
	t0 := midnight + DaySample // 5 minutes past midnight, 5-minute aligned

	s := New()
	for i := int64(0); i < 289; i++ {
		s.Update(sample(t0 + i*DaySample))
	}

	year := s.Snapshot(Year)
	if len(year) != 1 {
		t.Fatalf("year ring has %d valid entries, want exactly 1", len(year))
	}

	day := s.Snapshot(Day)
	if len(day) == 0 {
		t.Fatal("day ring is empty")
	}
	oldest := day[len(day)-1]
	if oldest.Time != t0 {
		t.Errorf("oldest day-slot time = %d, want %d (t0)", oldest.Time, t0)
	}
}

func TestInvalidReadingDropped(t *testing.T) {
	s := New()
	invalid := reading.New() // Averages == 0
	s.Update(invalid)

	if s.Current().IsValid() {
		t.Fatal("invalid reading must not become the current slot")
	}
}

func TestOutOfOrderOnlyWidensEnvelope(t *testing.T) {
	s := New()
	s.Update(sample(2_000_000_000))
	before := s.Current()

	older := reading.NewSample(1_000_000_000, model.H5075, [4]float64{-5, 0, 0, 0}, 10, 50)
	s.Update(older)

	after := s.Current()
	if after.Time != before.Time || after.Temperature[0] != before.Temperature[0] {
		t.Fatal("out-of-order reading must not bump the current slot's value or time")
	}
	if after.TemperatureMin[0] != -5 {
		t.Errorf("TemperatureMin[0] = %v, want envelope widened to -5", after.TemperatureMin[0])
	}
}

func TestDaySnapshotUsesCurrentTimeForFreshness(t *testing.T) {
	s := New()
	for i := int64(0); i < 5; i++ {
		s.Update(sample(1_700_000_000 + i*DaySample))
	}
	day := s.Snapshot(Day)
	if len(day) == 0 {
		t.Fatal("expected at least one day slot")
	}
	if day[0].Time != s.Current().Time {
		t.Errorf("day[0].Time = %d, want current slot time %d", day[0].Time, s.Current().Time)
	}
}
