package scanctl

import (
	"errors"
	"io/fs"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/btsensors/govee-acquired/internal/config"
	"github.com/btsensors/govee-acquired/internal/state"
	"github.com/btsensors/govee-acquired/internal/store"
)

// LoadState reconstructs an AcquisitionState from disk before the
// supervision loop starts: the persistence file (with the legacy
// gvh-lastdownload.txt format merged in if newer), then each known
// device's cache file (spec §3 "Lifecycle": the registry is persisted
// at clean shutdown and after each log-flush tick, so a restart resumes
// from it rather than re-learning every device from scratch).
func LoadState(cfg config.Config, logger *logrus.Entry) *state.AcquisitionState {
	s := state.New()
	if cfg.PersistenceFile == "" {
		return s
	}

	records, err := store.LoadPersistence(cfg.PersistenceFile)
	if err != nil {
		logger.WithError(err).Warn("scanctl: failed to load persistence file, starting with an empty registry")
		return s
	}

	if legacy, err := store.LoadLegacyLastDownload(legacyLastDownloadPath(cfg)); err == nil {
		store.MergeLegacyLastDownload(records, legacy)
	}

	now := time.Now().UTC()
	for _, rec := range records {
		s.RegisterModel(rec.Addr, rec.Model)
		s.SetLastDownload(rec.Addr, rec.LastDownload)

		if cfg.CacheDir != "" {
			path := store.CachePath(cfg.CacheDir, rec.Addr)
			if a, series, err := store.LoadCache(path); err == nil {
				s.SetSeries(a, series)
			}
		}

		replayUnflushedLog(s, cfg, rec, now, logger)
	}
	return s
}

// replayUnflushedLog replays the current calendar month's log file back
// into the aggregator and last-reading cache. The cache file is only
// rewritten when it falls more than an hour behind (spec §6), so on a
// restart shortly after a crash it can be stale relative to the log;
// the original daemon handles this by loading both unconditionally at
// startup, and this does the same (spec §6 "reload on startup to
// rebuild aggregator").
func replayUnflushedLog(s *state.AcquisitionState, cfg config.Config, rec store.Record, now time.Time, logger *logrus.Entry) {
	if cfg.LogDir == "" {
		return
	}
	path := store.LogPath(cfg.LogDir, rec.Addr, now)
	readings, err := store.LoadLog(path, rec.Model)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.WithError(err).WithField("address", rec.Addr.String()).Warn("scanctl: failed to replay log file at startup")
		}
		return
	}
	series := s.Series(rec.Addr)
	for _, r := range readings {
		series.Load(r)
		s.SetLastReading(rec.Addr, r)
	}
}

// legacyLastDownloadPath mirrors the original daemon's fixed sibling
// filename for the pre-persistence-file format (spec §6 supplemented
// migration feature).
func legacyLastDownloadPath(cfg config.Config) string {
	if cfg.CacheDir == "" {
		return ""
	}
	return cfg.CacheDir + "/gvh-lastdownload.txt"
}
