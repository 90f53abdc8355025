// Package scanctl implements the scan controller's supervision loop
// (spec §4.4): own the adapter, cycle scan parameters, subscribe to
// advertisements, decode and fan out Readings, and serialize GATT
// history downloads in between scan restarts.
package scanctl

import (
	"context"
	"crypto/rand"
	"errors"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/btsensors/govee-acquired/internal/addr"
	"github.com/btsensors/govee-acquired/internal/config"
	"github.com/btsensors/govee-acquired/internal/decode"
	"github.com/btsensors/govee-acquired/internal/download"
	"github.com/btsensors/govee-acquired/internal/metrics"
	"github.com/btsensors/govee-acquired/internal/model"
	"github.com/btsensors/govee-acquired/internal/mrtg"
	"github.com/btsensors/govee-acquired/internal/reading"
	"github.com/btsensors/govee-acquired/internal/state"
	"github.com/btsensors/govee-acquired/internal/store"
	"github.com/btsensors/govee-acquired/internal/transport"
)

// AdvertisementTimeout is MaxMinutesBetweenBluetoothAdvertisments from
// spec §4.4 step 4: no advertisement within this window forces a scan
// restart with the next parameter pair.
const AdvertisementTimeout = 3 * time.Minute

// LogFileTime is the housekeeping period for flushing queued readings
// to log files and rewriting cache files (spec §4.4 step 4).
const LogFileTime = 60 * time.Second

// SVGTickPeriod is the independent housekeeping period for re-rendering
// SVGs, DAY_SAMPLE seconds per spec §4.4 step 4 — distinct from, and
// five times longer than, LogFileTime.
const SVGTickPeriod = mrtg.DaySample * time.Second

// connectTimeout bounds how long a single scheduled history download's
// connect attempt may take before the controller gives up and resumes
// scanning.
const connectTimeout = 10 * time.Second

// Controller owns one adapter handle and drives the supervision loop.
// Everything it touches is passed in explicitly, mirroring the
// teacher's preference for parameters over package-level state.
type Controller struct {
	Transport transport.Transport
	State     *state.AcquisitionState
	Metrics   *metrics.Collectors
	Config    config.Config
	Logger    *logrus.Entry

	// OnSVGTick, if set, is invoked every mrtg.DaySample seconds; SVG
	// rendering itself is outer-surface territory this module does not
	// implement (spec out-of-scope list), so this is only a hook point.
	OnSVGTick func()

	// Whitelist is the caller-supplied device list for
	// accept-only-whitelist filtering. A single-element list containing
	// addr.Broadcast is the magic sentinel that means "whatever the
	// registry already knows" (spec §4.4 step 2).
	Whitelist []addr.Addr

	cycle      []config.CycleUnits
	cycleIndex int
	handle     transport.AdapterHandle
}

// Run executes the supervision loop until ctx is canceled. Decode
// rejects, failed downloads and failed scan restarts inside the loop
// are logged and the loop continues. Run returns an error when the
// scan-cycle override or adapter ID cannot be parsed, when selecting or
// powering the adapter fails, when the first scan start fails, or when
// the advertisement stream closes.
func (c *Controller) Run(ctx context.Context) error {
	if c.Logger == nil {
		c.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	cycle, err := c.Config.ScanCycle()
	if err != nil {
		return err
	}
	c.cycle = cycle

	var adapterAddr *addr.Addr
	if c.Config.AdapterID != "" {
		a, err := addr.Parse(c.Config.AdapterID)
		if err != nil {
			return err
		}
		adapterAddr = &a
	}

	h, err := c.Transport.SelectAdapter(ctx, adapterAddr)
	if err != nil {
		return err
	}
	c.handle = h

	if err := c.Transport.Power(ctx, h, true); err != nil {
		return err
	}

	var random [6]byte
	if _, err := rand.Read(random[:]); err == nil {
		random[0] |= 0xC0 // top two bits set marks a random-static address
		if err := c.Transport.SetRandomAddress(ctx, h, random); err != nil {
			c.Logger.WithError(err).Warn("scanctl: failed to set a random local address, continuing with the adapter's own")
		}
	}

	c.Logger.WithField("address", h.Info().Address).Info("scanctl: adapter selected")

	if err := c.restartScan(ctx); err != nil {
		return err
	}

	advTimeout := time.NewTimer(AdvertisementTimeout)
	defer advTimeout.Stop()
	flushTicker := time.NewTicker(LogFileTime)
	defer flushTicker.Stop()
	svgTicker := time.NewTicker(SVGTickPeriod)
	defer svgTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.flush()
			return nil

		case adv, open := <-c.Transport.Advertisements(h):
			if !open {
				return errors.New("scanctl: advertisement stream closed unexpectedly")
			}
			if !advTimeout.Stop() {
				<-advTimeout.C
			}
			advTimeout.Reset(AdvertisementTimeout)
			c.handleAdvertisement(ctx, adv)

		case <-advTimeout.C:
			c.Logger.Warn("scanctl: no advertisement within the timeout window, restarting scan")
			if c.Metrics != nil {
				c.Metrics.ObserveScanRestart()
			}
			if err := c.restartScan(ctx); err != nil {
				c.Logger.WithError(err).Error("scanctl: scan restart failed")
			}
			advTimeout.Reset(AdvertisementTimeout)

		case <-flushTicker.C:
			c.flush()

		case <-svgTicker.C:
			if c.OnSVGTick != nil {
				c.OnSVGTick()
			}
		}
	}
}

// restartScan stops any scan in progress and starts the next cycle
// entry, per spec §4.4 step 1's "idempotent restart" requirement.
func (c *Controller) restartScan(ctx context.Context) error {
	_ = c.Transport.StopScan(ctx, c.handle)

	units := c.cycle[c.cycleIndex%len(c.cycle)]
	c.cycleIndex++

	whitelist, policy := c.resolveWhitelist()
	if policy == transport.FilterWhitelistOnly {
		if err := c.Transport.WhitelistSet(ctx, c.handle, whitelist); err != nil {
			c.Logger.WithError(err).Warn("scanctl: whitelist_set failed, continuing without it")
		}
	} else {
		_ = c.Transport.WhitelistClear(ctx, c.handle)
	}

	params := transport.ScanParams{
		Type:            transport.ScanPassive,
		IntervalUnits:   units.IntervalUnits,
		WindowUnits:     units.WindowUnits,
		FilterPolicy:    policy,
		DuplicateFilter: false,
	}
	return c.Transport.StartScan(ctx, c.handle, params)
}

// resolveWhitelist expands the magic broadcast sentinel into the
// registry's known devices (spec §4.4 step 2).
func (c *Controller) resolveWhitelist() ([]addr.Addr, transport.FilterPolicy) {
	if len(c.Whitelist) == 0 {
		return nil, transport.FilterAcceptAll
	}
	if len(c.Whitelist) == 1 && c.Whitelist[0] == addr.Broadcast {
		known := c.State.KnownDevices()
		return known, transport.FilterWhitelistOnly
	}
	return c.Whitelist, transport.FilterWhitelistOnly
}

// handleAdvertisement decodes one advertisement, feeds the aggregator
// and log queue, and schedules a history download if the device
// qualifies (spec §4.4 step 3).
func (c *Controller) handleAdvertisement(ctx context.Context, adv transport.Advertisement) {
	now := time.Now()

	decoded, ok := c.decodeAdvertisement(adv, now)
	if !ok {
		if c.Metrics != nil {
			c.Metrics.ObserveDecodeRejected()
		}
		return
	}

	c.State.RegisterModel(adv.Address, decoded.Model)
	c.State.EnqueueForLog(adv.Address, decoded)
	c.State.Series(adv.Address).Update(decoded)
	c.State.SetLastReading(adv.Address, decoded)
	if c.Metrics != nil {
		c.Metrics.ObserveReading(adv.Address.String(), decoded.Model.String(), decoded.Time)
	}

	if c.qualifiesForDownload(adv.Address, now) {
		c.runDownload(ctx, adv.Address, now)
	}
}

// decodeAdvertisement tries every manufacturer-data block on adv in
// turn, returning the first one that decodes (an advertisement with
// more than one telemetry block is not something any supported model
// produces, but the loop costs nothing).
func (c *Controller) decodeAdvertisement(adv transport.Advertisement, now time.Time) (reading.Reading, bool) {
	if payload, ok := adv.ManufacturerData[decode.AppleManufacturerID]; ok && len(adv.ManufacturerData) == 1 && c.Logger != nil {
		if b, err := decode.DecodeIBeacon(payload); err == nil {
			c.Logger.WithFields(logrus.Fields{
				"address": adv.Address.String(), "uuid": b.UUID, "major": b.Major, "minor": b.Minor, "rssi": adv.RSSI,
			}).Debug("scanctl: iBeacon advertisement")
		}
	}
	for mfrID, payload := range adv.ManufacturerData {
		in := decode.Input{
			ManufacturerID: mfrID,
			Payload:        payload,
			Name:           adv.LocalName,
			UUIDs:          adv.ServiceUUIDs,
		}
		if r, ok := decode.Decode(in, now); ok {
			return r, true
		}
	}
	return reading.Reading{}, false
}

func (c *Controller) qualifiesForDownload(a addr.Addr, now time.Time) bool {
	if c.State.Model(a) == model.Unknown {
		return false
	}
	if c.Config.LogDir == "" {
		return false
	}
	last := c.State.LastDownload(a)
	return last.IsZero() || now.Sub(last) >= c.Config.DownloadInterval
}

// runDownload serializes a single history-download session: pause the
// scan, connect, drain history, feed it back into the aggregator and
// log queue, then resume scanning (spec §4.4 "suspension points").
func (c *Controller) runDownload(ctx context.Context, a addr.Addr, now time.Time) {
	logger := c.Logger.WithField("address", a.String())
	_ = c.Transport.StopScan(ctx, c.handle)
	defer func() {
		if err := c.restartScan(ctx); err != nil {
			logger.WithError(err).Error("scanctl: failed to resume scanning after a download attempt")
		}
	}()

	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	flavor := transport.AddrFlavorForConnect(a)
	conn, err := c.Transport.Connect(connCtx, c.handle, a, flavor, connectTimeout)
	if err != nil {
		logger.WithError(err).Debug("scanctl: history download connect failed")
		c.observeDownload(a, "failed")
		return
	}

	m := c.State.Model(a)
	battery := reading.BatteryUnknown
	if last, ok := c.State.LastReading(a); ok {
		battery = last.Battery
	}

	result := download.Run(ctx, c.Transport, conn, m, c.State.LastDownload(a), now, battery, logger)
	if result.Err != nil {
		logger.WithError(result.Err).Debug("scanctl: history download ended with an error")
	}
	if !result.Success {
		c.observeDownload(a, downloadOutcome(result.Err))
		return
	}

	for _, r := range result.Samples {
		c.State.EnqueueForLog(a, r)
		c.State.Series(a).Load(r)
	}
	c.State.SetLastDownload(a, result.TimeDownloadStart)
	c.observeDownload(a, "success")
}

func downloadOutcome(err error) string {
	if errors.Is(err, transport.ErrDownloadStalled) {
		return "stalled"
	}
	return "failed"
}

func (c *Controller) observeDownload(a addr.Addr, outcome string) {
	if c.Metrics != nil {
		c.Metrics.ObserveDownload(a.String(), outcome)
	}
}

// cacheStale reports whether ser's newest sample is more than an hour
// ahead of path's on-disk modification time, per spec §6: "Cache files
// are rewritten only when the current data is more than one hour newer
// than the file on disk." A missing cache file is always stale.
func cacheStale(path string, ser *mrtg.Series) bool {
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	newest := time.Unix(ser.Current().Time, 0)
	return newest.Sub(info.ModTime()) > time.Hour
}

// flush drains every device's pending log queue to disk, rewrites each
// device's cache file, and rewrites the persistence file (spec §4.4
// step 4, §6).
func (c *Controller) flush() {
	drained := c.State.DrainAllLogQueues()
	if c.Config.LogDir != "" {
		for a, readings := range drained {
			for _, r := range readings {
				if err := store.AppendLog(c.Config.LogDir, a, r); err != nil {
					c.Logger.WithError(err).WithField("address", a.String()).Warn("scanctl: failed to append a log line")
				}
			}
		}
	}

	registry := c.State.Registry()
	records := make([]store.Record, 0, len(registry))
	for a, entry := range registry {
		records = append(records, store.Record{Addr: a, Model: entry.Model, LastDownload: entry.LastDownload})
		if c.Config.CacheDir != "" && cacheStale(store.CachePath(c.Config.CacheDir, a), c.State.Series(a)) {
			if err := store.SaveCache(c.Config.CacheDir, a, c.State.Series(a)); err != nil {
				c.Logger.WithError(err).WithField("address", a.String()).Warn("scanctl: failed to write cache file")
			}
		}
	}
	if c.Config.PersistenceFile != "" {
		if err := store.SavePersistence(c.Config.PersistenceFile, records); err != nil {
			c.Logger.WithError(err).Warn("scanctl: failed to write persistence file")
		}
	}
}
