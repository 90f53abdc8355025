package store

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/btsensors/govee-acquired/internal/addr"
	"github.com/btsensors/govee-acquired/internal/model"
	"github.com/btsensors/govee-acquired/internal/mrtg"
	"github.com/btsensors/govee-acquired/internal/reading"
)

// ProducerVersion is the fixed tag cache files stamp onto their header
// line, so a future format revision can recognize and reject stale
// files instead of misparsing them.
const ProducerVersion = "govee-acquired/1"

// CachePath builds {cache_dir}/gvh-{12-hex-address}-cache.txt (spec
// §6).
func CachePath(cacheDir string, a addr.Addr) string {
	return cacheDir + string(os.PathSeparator) + "gvh-" + a.Hex12() + "-cache.txt"
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

func formatCacheLine(r reading.Reading) string {
	fields := make([]string, 0, 19)
	fields = append(fields, strconv.FormatInt(r.Time, 10))
	for i := 0; i < reading.TempChannels; i++ {
		fields = append(fields, formatFloat(r.Temperature[i]))
	}
	for i := 0; i < reading.TempChannels; i++ {
		fields = append(fields, formatFloat(r.TemperatureMin[i]))
	}
	for i := 0; i < reading.TempChannels; i++ {
		fields = append(fields, formatFloat(r.TemperatureMax[i]))
	}
	fields = append(fields,
		formatFloat(r.Humidity),
		formatFloat(r.HumidityMin),
		formatFloat(r.HumidityMax),
		strconv.Itoa(r.Battery),
		strconv.Itoa(r.Averages),
		r.Model.String(),
	)
	return strings.Join(fields, "\t")
}

func parseCacheLine(line string) (reading.Reading, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != 19 {
		return reading.Reading{}, fmt.Errorf("store: cache line has %d fields, want 19", len(fields))
	}

	var r reading.Reading
	t, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return reading.Reading{}, fmt.Errorf("store: parse cache time %q: %w", fields[0], err)
	}
	r.Time = t

	idx := 1
	for i := 0; i < reading.TempChannels; i++ {
		if r.Temperature[i], err = parseFloat(fields[idx]); err != nil {
			return reading.Reading{}, fmt.Errorf("store: parse cache temperature[%d] %q: %w", i, fields[idx], err)
		}
		idx++
	}
	for i := 0; i < reading.TempChannels; i++ {
		if r.TemperatureMin[i], err = parseFloat(fields[idx]); err != nil {
			return reading.Reading{}, fmt.Errorf("store: parse cache temperature_min[%d] %q: %w", i, fields[idx], err)
		}
		idx++
	}
	for i := 0; i < reading.TempChannels; i++ {
		if r.TemperatureMax[i], err = parseFloat(fields[idx]); err != nil {
			return reading.Reading{}, fmt.Errorf("store: parse cache temperature_max[%d] %q: %w", i, fields[idx], err)
		}
		idx++
	}
	if r.Humidity, err = parseFloat(fields[idx]); err != nil {
		return reading.Reading{}, fmt.Errorf("store: parse cache humidity %q: %w", fields[idx], err)
	}
	idx++
	if r.HumidityMin, err = parseFloat(fields[idx]); err != nil {
		return reading.Reading{}, fmt.Errorf("store: parse cache humidity_min %q: %w", fields[idx], err)
	}
	idx++
	if r.HumidityMax, err = parseFloat(fields[idx]); err != nil {
		return reading.Reading{}, fmt.Errorf("store: parse cache humidity_max %q: %w", fields[idx], err)
	}
	idx++
	batt, err := strconv.Atoi(fields[idx])
	if err != nil {
		return reading.Reading{}, fmt.Errorf("store: parse cache battery %q: %w", fields[idx], err)
	}
	r.Battery = batt
	idx++
	avg, err := strconv.Atoi(fields[idx])
	if err != nil {
		return reading.Reading{}, fmt.Errorf("store: parse cache averages %q: %w", fields[idx], err)
	}
	r.Averages = avg
	idx++
	r.Model = parseModelString(fields[idx])
	return r, nil
}

func parseModelString(s string) model.Tag {
	for _, t := range []model.Tag{
		model.H5074, model.H5075, model.H5100, model.H5174, model.H5177,
		model.H5179, model.H5182, model.H5183, model.H5184, model.H5055,
	} {
		if t.String() == s {
			return t
		}
	}
	return model.Unknown
}

// SaveCache writes the full MRTG series for one device, including its
// min/max envelopes, so a restart reconstructs state exactly (spec §6
// testable property 4). Callers are responsible for the "rewrite only
// if more than one hour newer than the file on disk" throttle (spec
// §6); SaveCache always writes unconditionally.
func SaveCache(cacheDir string, a addr.Addr, s *mrtg.Series) error {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return fmt.Errorf("store: create cache dir %s: %w", cacheDir, err)
	}
	path := CachePath(cacheDir, a)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("store: create cache file %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if _, err := fmt.Fprintf(w, "Cache: %s %s\n", a.String(), ProducerVersion); err != nil {
		return fmt.Errorf("store: write cache header %s: %w", path, err)
	}
	for _, slot := range s.Slots() {
		if _, err := fmt.Fprintln(w, formatCacheLine(slot)); err != nil {
			return fmt.Errorf("store: write cache line %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("store: flush cache file %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("store: close cache file %s: %w", path, err)
	}

	now := time.Now()
	return os.Chtimes(path, now, now)
}

// LoadCache reconstructs a *mrtg.Series verbatim from a previously
// written cache file, along with the device address recorded in its
// header line.
func LoadCache(path string) (addr.Addr, *mrtg.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, fmt.Errorf("store: open cache file %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	if !sc.Scan() {
		return 0, nil, fmt.Errorf("store: cache file %s is empty", path)
	}
	header := sc.Text()
	fields := strings.Fields(header)
	if len(fields) < 2 || fields[0] != "Cache:" {
		return 0, nil, fmt.Errorf("store: cache file %s has malformed header %q", path, header)
	}
	a, err := addr.Parse(fields[1])
	if err != nil {
		return 0, nil, fmt.Errorf("store: cache file %s: parse address %q: %w", path, fields[1], err)
	}

	slots := make([]reading.Reading, 0, mrtg.Len())
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		r, perr := parseCacheLine(line)
		if perr != nil {
			return 0, nil, fmt.Errorf("store: cache file %s: %w", path, perr)
		}
		slots = append(slots, r)
	}
	if err := sc.Err(); err != nil {
		return 0, nil, fmt.Errorf("store: scan cache file %s: %w", path, err)
	}
	if len(slots) != mrtg.Len() {
		return 0, nil, fmt.Errorf("store: cache file %s has %d slots, want %d", path, len(slots), mrtg.Len())
	}
	return a, mrtg.LoadSlots(slots), nil
}
