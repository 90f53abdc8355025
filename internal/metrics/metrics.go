// Package metrics builds the Prometheus collectors the scan controller
// and downloader update as they run. It only constructs and registers
// gauges/counters into a Registry; serving them over HTTP is left to
// whatever process embeds this module.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors groups every metric this daemon exposes. Construct one
// with New and pass it down to the scan controller and downloader.
type Collectors struct {
	Registry *prometheus.Registry

	LastReadingTimestamp *prometheus.GaugeVec
	DownloadsTotal       *prometheus.CounterVec
	DecodeRejectedTotal  prometheus.Counter
	ScanRestartsTotal    prometheus.Counter
}

// New builds a fresh Registry and registers every gauge/counter on it.
func New() *Collectors {
	reg := prometheus.NewRegistry()

	c := &Collectors{
		Registry: reg,
		LastReadingTimestamp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "govee",
				Name:      "last_reading_timestamp_seconds",
				Help:      "Unix timestamp of the most recent decoded reading per device.",
			},
			[]string{"mac", "model"},
		),
		DownloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "govee",
				Name:      "downloads_total",
				Help:      "GATT history downloads attempted per device, labeled by outcome.",
			},
			[]string{"mac", "outcome"},
		),
		DecodeRejectedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "govee",
				Name:      "decode_rejected_total",
				Help:      "Advertisements or history samples that failed to decode.",
			},
		),
		ScanRestartsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "govee",
				Name:      "scan_restarts_total",
				Help:      "Times the scan controller restarted scanning after the advertisement timeout.",
			},
		),
	}

	reg.MustRegister(
		c.LastReadingTimestamp,
		c.DownloadsTotal,
		c.DecodeRejectedTotal,
		c.ScanRestartsTotal,
	)
	return c
}

// ObserveReading records the timestamp of a freshly decoded reading for
// mac/model.
func (c *Collectors) ObserveReading(mac, model string, unixSeconds int64) {
	c.LastReadingTimestamp.WithLabelValues(mac, model).Set(float64(unixSeconds))
}

// ObserveDownload records one download attempt's outcome ("success",
// "failed", "stalled") for mac.
func (c *Collectors) ObserveDownload(mac, outcome string) {
	c.DownloadsTotal.WithLabelValues(mac, outcome).Inc()
}

// ObserveDecodeRejected increments the decode-rejected counter.
func (c *Collectors) ObserveDecodeRejected() {
	c.DecodeRejectedTotal.Inc()
}

// ObserveScanRestart increments the scan-restart counter.
func (c *Collectors) ObserveScanRestart() {
	c.ScanRestartsTotal.Inc()
}
