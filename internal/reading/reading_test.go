package reading

import (
	"math"
	"testing"

	"github.com/btsensors/govee-acquired/internal/model"
)

func within(t *testing.T, got, want, tol float64, msg string) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %v, want %v (tol %v)", msg, got, want, tol)
	}
}

func TestNewIsInvalid(t *testing.T) {
	r := New()
	if r.IsValid() {
		t.Fatal("empty accumulator must be invalid")
	}
	if r.Battery != BatteryUnknown {
		t.Errorf("Battery = %d, want BatteryUnknown", r.Battery)
	}
}

func TestNewSampleIsValid(t *testing.T) {
	r := NewSample(1000, model.H5075, [4]float64{21, 0, 0, 0}, 50, 90)
	if !r.IsValid() {
		t.Fatal("sample with known model and averages=1 must be valid")
	}
	if r.TemperatureMin[0] != 21 || r.TemperatureMax[0] != 21 {
		t.Errorf("single sample envelope must collapse onto current value")
	}
}

func TestAdditivity(t *testing.T) {
	a := NewSample(1000, model.H5075, [4]float64{20, 0, 0, 0}, 40, 80)
	b := NewSample(2000, model.H5075, [4]float64{24, 0, 0, 0}, 60, 70)

	sum := Add(a, b)

	if sum.Averages != 2 {
		t.Errorf("Averages = %d, want 2", sum.Averages)
	}
	within(t, sum.Temperature[0], 22, 0.0001, "weighted average temp")
	if sum.Time != 2000 {
		t.Errorf("Time = %d, want max(1000,2000)=2000", sum.Time)
	}
	if sum.Battery != 70 {
		t.Errorf("Battery = %d, want min(80,70)=70", sum.Battery)
	}
	if sum.TemperatureMin[0] != 20 || sum.TemperatureMax[0] != 24 {
		t.Errorf("envelope = [%v,%v], want [20,24]", sum.TemperatureMin[0], sum.TemperatureMax[0])
	}
	if sum.Model != model.H5075 {
		t.Errorf("Model = %v, want H5075 (right operand wins)", sum.Model)
	}
}

func TestAddIntoEmptyAccumulatorInheritsModel(t *testing.T) {
	acc := New()
	sample := NewSample(500, model.H5074, [4]float64{18, 0, 0, 0}, 55, 99)

	acc = Add(acc, sample)

	if acc.Model != model.H5074 {
		t.Errorf("accumulator did not inherit model from first contribution")
	}
	if !acc.IsValid() {
		t.Fatal("accumulator should become valid after first contribution")
	}
}

func TestWeightedAverageFavorsLargerCount(t *testing.T) {
	a := NewSample(1, model.H5075, [4]float64{10, 0, 0, 0}, 0, BatteryUnknown)
	a.Averages = 3
	b := NewSample(2, model.H5075, [4]float64{20, 0, 0, 0}, 0, BatteryUnknown)
	b.Averages = 1

	sum := Add(a, b)
	// (10*3 + 20*1) / 4 = 12.5
	within(t, sum.Temperature[0], 12.5, 0.0001, "weighted average favoring larger count")
}

func TestPrimaryTempInRange(t *testing.T) {
	if !PrimaryTempInRange(26.8) {
		t.Error("26.8 should be in range")
	}
	if PrimaryTempInRange(-40) {
		t.Error("-40 should be out of range")
	}
	if PrimaryTempInRange(61) {
		t.Error("61 should be out of range")
	}
}
