// Package config holds the small set of daemon-wide knobs the scan
// controller and store need, populated by flag in cmd/govee-acquired's
// main, the way the teacher's main() populates its local flag
// variables.
package config

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config is the resolved set of runtime parameters.
type Config struct {
	LogDir            string
	CacheDir          string
	PersistenceFile   string
	DownloadInterval  time.Duration
	ScanCycleOverride string
	AdapterID         string
	JSONLogs          bool
	Verbose           int
}

// Default mirrors what the original C++ daemon shipped as compiled-in
// defaults (spec §6, §9): log files under /var/log/gvh, cache and
// persistence files under /var/cache/gvh, hourly downloads.
func Default() Config {
	return Config{
		LogDir:           "/var/log/gvh",
		CacheDir:         "/var/cache/gvh",
		PersistenceFile:  "/var/cache/gvh/gvh-thermometer-types.txt",
		DownloadInterval: time.Hour,
		AdapterID:        "",
		JSONLogs:         false,
		Verbose:          0,
	}
}

// RegisterFlags binds fs to c's fields, starting from c's current
// values as defaults — call Default() first, then RegisterFlags, then
// fs.Parse, mirroring the teacher's flag.Duration/.Bool/.String calls
// in main().
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.LogDir, "log-dir", c.LogDir, "directory for per-device monthly log files")
	fs.StringVar(&c.CacheDir, "cache-dir", c.CacheDir, "directory for per-device MRTG cache files")
	fs.StringVar(&c.PersistenceFile, "persistence-file", c.PersistenceFile, "path to the device-registry persistence file")
	fs.DurationVar(&c.DownloadInterval, "download-interval", c.DownloadInterval, "minimum time between GATT history downloads per device")
	fs.StringVar(&c.ScanCycleOverride, "scan-cycle", c.ScanCycleOverride, "comma-separated interval:window pairs in 0.625ms units, overriding the default cycle")
	fs.StringVar(&c.AdapterID, "adapter", c.AdapterID, "BLE adapter identifier (empty selects the default adapter)")
	fs.BoolVar(&c.JSONLogs, "json-logs", c.JSONLogs, "emit structured logs as JSON instead of text")
	fs.IntVar(&c.Verbose, "v", c.Verbose, "verbosity level (0, 1, or 2)")
}

// CycleUnits is one {interval, window} pair in 0.625ms ticks.
type CycleUnits struct {
	IntervalUnits uint16
	WindowUnits   uint16
}

// DefaultScanCycle is the fixed rotation spec §4.4 step 1 specifies,
// chosen because some sensors only reliably reply under certain duty
// cycles; rotating through all of them maximizes the chance of
// catching every unit.
var DefaultScanCycle = []CycleUnits{
	{18, 18},
	{8000, 800},
	{8000, 8000},
	{8000, 3200},
	{64, 48},
	{96, 48},
}

// ScanCycle returns c.ScanCycleOverride parsed as a cyclic list of
// interval:window pairs, or DefaultScanCycle if no override was given.
func (c Config) ScanCycle() ([]CycleUnits, error) {
	if c.ScanCycleOverride == "" {
		return DefaultScanCycle, nil
	}
	var cycle []CycleUnits
	for _, pair := range strings.Split(c.ScanCycleOverride, ",") {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("config: malformed scan-cycle pair %q, want interval:window", pair)
		}
		interval, err := strconv.ParseUint(parts[0], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("config: scan-cycle interval %q: %w", parts[0], err)
		}
		window, err := strconv.ParseUint(parts[1], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("config: scan-cycle window %q: %w", parts[1], err)
		}
		cycle = append(cycle, CycleUnits{IntervalUnits: uint16(interval), WindowUnits: uint16(window)})
	}
	return cycle, nil
}
