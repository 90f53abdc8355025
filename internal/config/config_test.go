package config

import (
	"flag"
	"reflect"
	"testing"
	"time"
)

func TestRegisterFlagsOverridesDefaults(t *testing.T) {
	c := Default()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse([]string{"-log-dir=/tmp/gvh-logs", "-download-interval=30m", "-v=2"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.LogDir != "/tmp/gvh-logs" {
		t.Errorf("LogDir = %q, want /tmp/gvh-logs", c.LogDir)
	}
	if c.DownloadInterval != 30*time.Minute {
		t.Errorf("DownloadInterval = %v, want 30m", c.DownloadInterval)
	}
	if c.Verbose != 2 {
		t.Errorf("Verbose = %d, want 2", c.Verbose)
	}
	// untouched fields keep their defaults
	if c.CacheDir != Default().CacheDir {
		t.Errorf("CacheDir was mutated unexpectedly: %q", c.CacheDir)
	}
}

func TestScanCycleDefaultsToSpecSequence(t *testing.T) {
	c := Default()
	got, err := c.ScanCycle()
	if err != nil {
		t.Fatalf("ScanCycle: %v", err)
	}
	if !reflect.DeepEqual(got, DefaultScanCycle) {
		t.Errorf("ScanCycle() = %v, want %v", got, DefaultScanCycle)
	}
}

func TestScanCycleOverrideParsed(t *testing.T) {
	c := Default()
	c.ScanCycleOverride = "18:18,100:50"
	got, err := c.ScanCycle()
	if err != nil {
		t.Fatalf("ScanCycle: %v", err)
	}
	want := []CycleUnits{{18, 18}, {100, 50}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ScanCycle() = %v, want %v", got, want)
	}
}

func TestScanCycleOverrideMalformedPairRejected(t *testing.T) {
	c := Default()
	c.ScanCycleOverride = "18-18"
	if _, err := c.ScanCycle(); err == nil {
		t.Error("expected an error for a pair missing the ':' separator")
	}
}
