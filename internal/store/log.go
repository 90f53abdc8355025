// Package store implements the three on-disk formats the acquisition
// engine round-trips through (spec §6): per-device append-only log
// files, the cross-device persistence file, and per-device MRTG cache
// files.
package store

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/btsensors/govee-acquired/internal/addr"
	"github.com/btsensors/govee-acquired/internal/model"
	"github.com/btsensors/govee-acquired/internal/reading"
)

const logTimeLayout = "2006-01-02 15:04:05"

// LogPath builds the path spec §6 prescribes:
// {log_dir}/gvh-{12-hex-address}-{YYYY}-{MM}.txt, one file per device
// per calendar month so files never grow unbounded.
func LogPath(logDir string, a addr.Addr, t time.Time) string {
	return filepath.Join(logDir, fmt.Sprintf("gvh-%s-%04d-%02d.txt", a.Hex12(), t.Year(), int(t.Month())))
}

// FormatLogLine renders r in the tab-separated line format spec §6
// requires: timestamp, temperature, humidity, battery, and for
// meat-probe models the numeric model tag followed by the remaining
// temperature channels.
func FormatLogLine(r reading.Reading) string {
	ts := time.Unix(r.Time, 0).UTC().Format(logTimeLayout)
	fields := []string{
		ts,
		strconv.FormatFloat(r.Temperature[0], 'f', 2, 64),
		strconv.FormatFloat(r.Humidity, 'f', 1, 64),
		strconv.Itoa(r.Battery),
	}
	if r.Model.HasMeatProbes() {
		fields = append(fields, strconv.Itoa(r.Model.LogTag()))
		for i := 1; i < reading.TempChannels; i++ {
			fields = append(fields, strconv.FormatFloat(r.Temperature[i], 'f', 2, 64))
		}
	}
	return strings.Join(fields, "\t")
}

// ParseLogLine is the inverse of FormatLogLine. The model tag is not
// itself persisted in the plain (non-probe) line format, so callers
// that need it must supply it from the registry; LoadLog does this via
// knownModel.
func ParseLogLine(line string, knownModel model.Tag) (reading.Reading, error) {
	line = strings.Map(func(r rune) rune {
		if r == 0 {
			return -1 // strip historical null-byte corruption (spec §6)
		}
		return r
	}, line)
	fields := strings.Split(strings.TrimRight(line, "\r\n"), "\t")
	if len(fields) < 4 {
		return reading.Reading{}, fmt.Errorf("store: log line has %d fields, want at least 4", len(fields))
	}

	t, err := time.ParseInLocation(logTimeLayout, fields[0], time.UTC)
	if err != nil {
		return reading.Reading{}, fmt.Errorf("store: parse timestamp %q: %w", fields[0], err)
	}
	temp0, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return reading.Reading{}, fmt.Errorf("store: parse temperature %q: %w", fields[1], err)
	}
	hum, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return reading.Reading{}, fmt.Errorf("store: parse humidity %q: %w", fields[2], err)
	}
	batt, err := strconv.Atoi(fields[3])
	if err != nil {
		return reading.Reading{}, fmt.Errorf("store: parse battery %q: %w", fields[3], err)
	}

	m := knownModel
	temps := [reading.TempChannels]float64{temp0, 0, 0, 0}
	if len(fields) >= 5 {
		if tag, terr := strconv.Atoi(fields[4]); terr == nil {
			m = logTagToModel(tag, knownModel)
		}
		for i := 5; i < len(fields) && i-4 < reading.TempChannels; i++ {
			v, verr := strconv.ParseFloat(fields[i], 64)
			if verr != nil {
				return reading.Reading{}, fmt.Errorf("store: parse probe temperature %q: %w", fields[i], verr)
			}
			temps[i-4] = v
		}
	}

	return reading.NewSample(t.Unix(), m, temps, hum, batt), nil
}

func logTagToModel(tag int, fallback model.Tag) model.Tag {
	switch tag {
	case 5183:
		return model.H5183
	case 5182:
		return model.H5182
	case 5184:
		return model.H5184
	case 5055:
		return model.H5055
	default:
		return fallback
	}
}

// AppendLog appends r as one line to the per-device, per-month log
// file under logDir, creating the file and any parent directories if
// needed, and sets the file's mtime to r's timestamp (spec §6).
func AppendLog(logDir string, a addr.Addr, r reading.Reading) error {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("store: create log dir %s: %w", logDir, err)
	}
	path := LogPath(logDir, a, time.Unix(r.Time, 0).UTC())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("store: open log %s: %w", path, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, FormatLogLine(r)); err != nil {
		return fmt.Errorf("store: write log %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("store: close log %s: %w", path, err)
	}

	mtime := time.Unix(r.Time, 0)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		return fmt.Errorf("store: set mtime on %s: %w", path, err)
	}
	return nil
}

// LoadLog streams every Reading out of a single log file in on-disk
// order, tolerating the historical null-byte corruption artifact.
// knownModel supplies the model tag for lines with no meat-probe
// suffix, since the plain line format does not itself carry one.
func LoadLog(path string, knownModel model.Tag) ([]reading.Reading, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("store: open log %s: %w", path, err)
	}
	defer f.Close()

	var out []reading.Reading
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := sc.Text()
		if strings.TrimSpace(strings.Trim(line, "\x00")) == "" {
			continue
		}
		r, perr := ParseLogLine(line, knownModel)
		if perr != nil {
			return nil, fmt.Errorf("store: %s:%d: %w", path, lineno, perr)
		}
		out = append(out, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("store: scan log %s: %w", path, err)
	}
	return out, nil
}
