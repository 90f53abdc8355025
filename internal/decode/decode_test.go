package decode

import (
	"math"
	"testing"
	"time"

	"github.com/btsensors/govee-acquired/internal/model"
)

func within(t *testing.T, got, want, tol float64, msg string) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %v, want %v (tol %v)", msg, got, want, tol)
	}
}

var fixedNow = time.Unix(1_700_000_000, 0)

func TestDecodeH5075(t *testing.T) {
	in := Input{ManufacturerID: mfrGovee, Payload: []byte{0x00, 0x04, 0x18, 0x87, 0x61, 0x00}}
	r, ok := Decode(in, fixedNow)
	if !ok {
		t.Fatal("expected valid decode")
	}
	if r.Model != model.H5075 {
		t.Errorf("model = %v, want H5075", r.Model)
	}
	within(t, r.Temperature[0], 26.8, 0.01, "temp")
	within(t, r.Humidity, 42.3, 0.01, "humidity")
	if r.Battery != 97 {
		t.Errorf("battery = %d, want 97", r.Battery)
	}
}

func TestDecodeH5074(t *testing.T) {
	in := Input{ManufacturerID: mfrGovee, Payload: []byte{0x00, 0xF8, 0x09, 0x9F, 0x1C, 0x64, 0x02}}
	r, ok := Decode(in, fixedNow)
	if !ok {
		t.Fatal("expected valid decode")
	}
	if r.Model != model.H5074 {
		t.Errorf("model = %v, want H5074", r.Model)
	}
	within(t, r.Temperature[0], 25.52, 0.01, "temp")
	within(t, r.Humidity, 73.27, 0.01, "humidity")
	if r.Battery != 100 {
		t.Errorf("battery = %d, want 100", r.Battery)
	}
}

func TestDecodeH5177(t *testing.T) {
	in := Input{ManufacturerID: mfrH5174, Payload: []byte{0x01, 0x01, 0x04, 0x24, 0x5D, 0x54}}
	r, ok := Decode(in, fixedNow)
	if !ok {
		t.Fatal("expected valid decode")
	}
	within(t, r.Temperature[0], 27.145, 0.001, "temp")
	within(t, r.Humidity, 45.3, 0.01, "humidity")
	if r.Battery != 84 {
		t.Errorf("battery = %d, want 84", r.Battery)
	}
}

func TestDecodeH5182DualProbe(t *testing.T) {
	in := Input{
		ManufacturerID: 0x9999, // any non-Apple id
		Payload: []byte{
			0x27, 0x01, 0x00, 0x01, 0x01, 0xE4, 0x01, 0x80,
			0x08, 0x34, 0x1C, 0xDC, 0x80, 0x08, 0x34, 0x1C, 0xDC,
		},
	}
	r, ok := Decode(in, fixedNow)
	if !ok {
		t.Fatal("expected valid decode")
	}
	if r.Model != model.H5182 {
		t.Errorf("model = %v, want H5182", r.Model)
	}
	within(t, r.Temperature[0], 21.0, 0.001, "probe 1 temp")
	within(t, r.Temperature[1], 73.88, 0.001, "probe 1 alarm")
	within(t, r.Temperature[2], 21.0, 0.001, "probe 2 temp")
	within(t, r.Temperature[3], 73.88, 0.001, "probe 2 alarm")
	if r.Battery != 100 {
		t.Errorf("battery = %d, want 100", r.Battery)
	}
}

func TestDecodeRejectsApple(t *testing.T) {
	in := Input{ManufacturerID: AppleManufacturerID, Payload: make([]byte, 23)}
	if _, ok := Decode(in, fixedNow); ok {
		t.Fatal("Apple manufacturer block must never decode as telemetry")
	}
}

func TestDecodeRejectsOutOfRangeTemperature(t *testing.T) {
	// H5075-shaped payload engineered to produce a very negative temperature.
	in := Input{ManufacturerID: mfrGovee, Payload: []byte{0x00, 0xFF, 0xFF, 0xFF, 0x00, 0x00}}
	if _, ok := Decode(in, fixedNow); ok {
		t.Fatal("out-of-range temperature must invalidate the reading")
	}
}

func TestDecodeRejectsUnknownLength(t *testing.T) {
	in := Input{ManufacturerID: mfrGovee, Payload: []byte{0x01, 0x02, 0x03}}
	if _, ok := Decode(in, fixedNow); ok {
		t.Fatal("unrecognized mfr+length combination must be rejected")
	}
}

func TestDecodeIsPure(t *testing.T) {
	in := Input{ManufacturerID: mfrGovee, Payload: []byte{0x00, 0x04, 0x18, 0x87, 0x61, 0x00}}
	a, okA := Decode(in, fixedNow)
	b, okB := Decode(in, fixedNow)
	if okA != okB || a != b {
		t.Fatal("decoder must be a pure function of its inputs")
	}
}

func TestLockModelByServiceUUID(t *testing.T) {
	in := Input{
		ManufacturerID: 0x1234,
		UUIDs:          []string{"00008251-0000-1000-8000-00805f9b34fb"},
		Payload: []byte{
			0x27, 0x01, 0x00, 0x01, 0x01, 0xE4, 0x01, 0x80,
			0x08, 0x34, 0x1C, 0xDC, 0x80, 0x08, 0x34, 0x1C, 0xDC,
		},
	}
	r, ok := Decode(in, fixedNow)
	if !ok {
		t.Fatal("expected valid decode via UUID lock")
	}
	if r.Model != model.H5182 {
		t.Errorf("model = %v, want H5182 from UUID lock", r.Model)
	}
}

func TestDecodeIBeacon(t *testing.T) {
	payload := make([]byte, 23)
	payload[0] = 0x02
	payload[1] = 0x15
	for i := 2; i < 18; i++ {
		payload[i] = byte(i)
	}
	payload[18] = 0x00
	payload[19] = 0x01 // major = 1
	payload[20] = 0x00
	payload[21] = 0x02 // minor = 2
	payload[22] = 0xC5 // -59 signed

	b, err := DecodeIBeacon(payload)
	if err != nil {
		t.Fatalf("DecodeIBeacon: %v", err)
	}
	if b.Major != 1 || b.Minor != 2 {
		t.Errorf("major/minor = %d/%d, want 1/2", b.Major, b.Minor)
	}
	if b.CalibRSSI != -59 {
		t.Errorf("calibRSSI = %d, want -59", b.CalibRSSI)
	}
}
