package store

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/btsensors/govee-acquired/internal/addr"
	"github.com/btsensors/govee-acquired/internal/model"
)

// Record is one entry of the persistence file (spec §6): a device's
// recognized model and, once a history download has succeeded at
// least once, the timestamp of that download.
type Record struct {
	Addr         addr.Addr
	Model        model.Tag
	LastDownload time.Time // zero value means "never downloaded"
}

const isoLayout = time.RFC3339

// FormatPersistLine renders one Record in the
// "<address> <model-string> [<ISO8601>]" format.
func FormatPersistLine(r Record) string {
	line := r.Addr.String() + " " + r.Model.PersistString()
	if !r.LastDownload.IsZero() {
		line += " " + r.LastDownload.UTC().Format(isoLayout)
	}
	return line
}

// ParsePersistLine is the inverse of FormatPersistLine.
func ParsePersistLine(line string) (Record, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Record{}, fmt.Errorf("store: persistence line has %d fields, want at least 2", len(fields))
	}
	a, err := addr.Parse(fields[0])
	if err != nil {
		return Record{}, fmt.Errorf("store: parse persistence address %q: %w", fields[0], err)
	}
	rec := Record{Addr: a, Model: model.ParsePersistString(fields[1])}
	if len(fields) >= 3 {
		t, terr := time.Parse(isoLayout, fields[2])
		if terr != nil {
			return Record{}, fmt.Errorf("store: parse persistence timestamp %q: %w", fields[2], terr)
		}
		rec.LastDownload = t
	}
	return rec, nil
}

// SavePersistence writes every record, one per line, and sets the
// file's mtime to the most recent LastDownload across all records
// (spec §6).
func SavePersistence(path string, records []Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("store: create persistence file %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	var newest time.Time
	for _, r := range records {
		if _, err := fmt.Fprintln(w, FormatPersistLine(r)); err != nil {
			return fmt.Errorf("store: write persistence file %s: %w", path, err)
		}
		if r.LastDownload.After(newest) {
			newest = r.LastDownload
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("store: flush persistence file %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("store: close persistence file %s: %w", path, err)
	}
	if !newest.IsZero() {
		if err := os.Chtimes(path, newest, newest); err != nil {
			return fmt.Errorf("store: set mtime on %s: %w", path, err)
		}
	}
	return nil
}

// LoadPersistence reads every record from the persistence file. A
// missing file is not an error; it returns an empty slice, since a
// fresh daemon has never written one yet.
func LoadPersistence(path string) ([]Record, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: open persistence file %s: %w", path, err)
	}
	defer f.Close()

	var out []Record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		rec, perr := ParsePersistLine(line)
		if perr != nil {
			return nil, fmt.Errorf("store: %s: %w", path, perr)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("store: scan persistence file %s: %w", path, err)
	}
	return out, nil
}

// LoadLegacyLastDownload reads the legacy companion file
// (gvh-lastdownload.txt: "<address> <unix-seconds>" per line) that
// predates the consolidated persistence file, per SPEC_FULL.md's
// supplemented legacy-migration feature grounded in
// original_source/goveebttemplogger.cpp. A missing file is not an
// error.
func LoadLegacyLastDownload(path string) (map[addr.Addr]time.Time, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: open legacy last-download file %s: %w", path, err)
	}
	defer f.Close()

	out := make(map[addr.Addr]time.Time)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		a, aerr := addr.Parse(fields[0])
		if aerr != nil {
			continue
		}
		var epoch int64
		if _, serr := fmt.Sscanf(fields[1], "%d", &epoch); serr != nil {
			continue
		}
		out[a] = time.Unix(epoch, 0)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("store: scan legacy last-download file %s: %w", path, err)
	}
	return out, nil
}

// MergeLegacyLastDownload folds legacy timestamps into records that
// don't already carry a newer one, used once at startup migration.
func MergeLegacyLastDownload(records []Record, legacy map[addr.Addr]time.Time) {
	for i := range records {
		if t, ok := legacy[records[i].Addr]; ok && t.After(records[i].LastDownload) {
			records[i].LastDownload = t
		}
	}
}
