// Package state consolidates the global mutable maps the design notes
// (spec §9) call out by name — GoveeTemperatures, GoveeMRTGLogs,
// GoveeThermometers, GoveeLastDownload, GoveeLastReading — into one
// value owned by the main loop and threaded explicitly, rather than
// process-wide statics.
package state

import (
	"sync"
	"time"

	"github.com/btsensors/govee-acquired/internal/addr"
	"github.com/btsensors/govee-acquired/internal/model"
	"github.com/btsensors/govee-acquired/internal/mrtg"
	"github.com/btsensors/govee-acquired/internal/reading"
)

// AcquisitionState is the single value every component reads and
// mutates: the per-device model registry, MRTG series, pending log
// queues, last-download timestamps, and last-reading cache (spec §3
// "Per-device queues and maps", §9).
type AcquisitionState struct {
	mu sync.Mutex

	models       map[addr.Addr]model.Tag
	series       map[addr.Addr]*mrtg.Series
	logQueues    map[addr.Addr][]reading.Reading
	lastDownload map[addr.Addr]time.Time
	lastReading  map[addr.Addr]reading.Reading
}

// New returns an empty AcquisitionState, ready for registry/cache
// reload at startup.
func New() *AcquisitionState {
	return &AcquisitionState{
		models:       make(map[addr.Addr]model.Tag),
		series:       make(map[addr.Addr]*mrtg.Series),
		logQueues:    make(map[addr.Addr][]reading.Reading),
		lastDownload: make(map[addr.Addr]time.Time),
		lastReading:  make(map[addr.Addr]reading.Reading),
	}
}

// KnownDevices returns every address the registry has recognized, in
// no particular order; used to populate the magic whitelist broadcast
// (spec §4.4 step 2).
func (s *AcquisitionState) KnownDevices() []addr.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]addr.Addr, 0, len(s.models))
	for a := range s.models {
		out = append(out, a)
	}
	return out
}

// Model returns the recognized model for a, or model.Unknown if the
// registry has no entry yet.
func (s *AcquisitionState) Model(a addr.Addr) model.Tag {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.models[a]
}

// RegisterModel inserts a into the registry on first name/UUID match
// (spec §3 lifecycle). Entries are never evicted at runtime.
func (s *AcquisitionState) RegisterModel(a addr.Addr, m model.Tag) {
	if m == model.Unknown {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, known := s.models[a]; !known {
		s.models[a] = m
	}
}

// Series returns the MRTG series for a, creating an empty one on first
// use.
func (s *AcquisitionState) Series(a addr.Addr) *mrtg.Series {
	s.mu.Lock()
	defer s.mu.Unlock()
	ser, ok := s.series[a]
	if !ok {
		ser = mrtg.New()
		s.series[a] = ser
	}
	return ser
}

// SetSeries installs a previously loaded series, used when restoring
// from a cache file at startup.
func (s *AcquisitionState) SetSeries(a addr.Addr, ser *mrtg.Series) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series[a] = ser
}

// EnqueueForLog appends r to a's pending log queue, preserving enqueue
// order (spec §5 ordering guarantees).
func (s *AcquisitionState) EnqueueForLog(a addr.Addr, r reading.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logQueues[a] = append(s.logQueues[a], r)
}

// DrainLogQueue removes and returns every queued Reading for a,
// leaving its queue empty; called from the log-flush housekeeping
// tick (spec §4.4 step 4).
func (s *AcquisitionState) DrainLogQueue(a addr.Addr) []reading.Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.logQueues[a]
	delete(s.logQueues, a)
	return q
}

// DrainAllLogQueues drains every device's queue at once, for the
// housekeeping flush tick.
func (s *AcquisitionState) DrainAllLogQueues() map[addr.Addr][]reading.Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[addr.Addr][]reading.Reading, len(s.logQueues))
	for a, q := range s.logQueues {
		if len(q) > 0 {
			out[a] = q
		}
	}
	s.logQueues = make(map[addr.Addr][]reading.Reading)
	return out
}

// LastDownload returns the last successful history-download timestamp
// for a, or the zero time if it has never been downloaded.
func (s *AcquisitionState) LastDownload(a addr.Addr) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDownload[a]
}

// SetLastDownload records a successful download's start time (spec
// §4.5 step 5: only advances when samples were actually received).
func (s *AcquisitionState) SetLastDownload(a addr.Addr, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastDownload[a] = t
}

// LastReading returns the most recent reading observed for a, used to
// supply a battery hint when synthesizing history samples (spec §4.5
// step 4; history notifications carry no battery field of their own).
func (s *AcquisitionState) LastReading(a addr.Addr) (reading.Reading, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.lastReading[a]
	return r, ok
}

// SetLastReading updates the last-reading cache.
func (s *AcquisitionState) SetLastReading(a addr.Addr, r reading.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastReading[a] = r
}

// Registry returns a snapshot of every known device's model and last
// download time, in the shape the persistence file writer needs (spec
// §6).
func (s *AcquisitionState) Registry() map[addr.Addr]struct {
	Model        model.Tag
	LastDownload time.Time
} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[addr.Addr]struct {
		Model        model.Tag
		LastDownload time.Time
	}, len(s.models))
	for a, m := range s.models {
		out[a] = struct {
			Model        model.Tag
			LastDownload time.Time
		}{Model: m, LastDownload: s.lastDownload[a]}
	}
	return out
}
