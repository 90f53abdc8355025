// gvh-acquired — Govee BLE thermometer/hygrometer acquisition daemon.
//
// Scans for Govee BLE advertisements, decodes temperature/humidity
// telemetry, aggregates it into fixed-footprint MRTG-style series, logs
// it to per-device monthly text files, and periodically pulls GATT
// history backfill from devices that support it.
//
// Build:
//
//	go build -o gvh-acquired ./cmd/govee-acquired
//
// Usage:
//
//	sudo ./gvh-acquired -log-dir /var/log/gvh -cache-dir /var/cache/gvh
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/btsensors/govee-acquired/internal/config"
	"github.com/btsensors/govee-acquired/internal/metrics"
	"github.com/btsensors/govee-acquired/internal/scanctl"
	"github.com/btsensors/govee-acquired/internal/transport"
)

var version = "dev"

func main() {
	cfg := config.Default()
	cfg.RegisterFlags(flag.CommandLine)
	useHCI := flag.Bool("hci", false, "use the raw HCI back-end instead of the default tinygo.org/x/bluetooth back-end")
	hciDevID := flag.Uint("hci-dev", 0, "HCI device index for the -hci back-end")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("gvh-acquired %s\n", version)
		os.Exit(0)
	}

	logger := logrus.New()
	if cfg.JSONLogs {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	switch {
	case cfg.Verbose > 1:
		logger.SetLevel(logrus.DebugLevel)
	case cfg.Verbose > 0:
		logger.SetLevel(logrus.InfoLevel)
	default:
		logger.SetLevel(logrus.WarnLevel)
	}
	entry := logrus.NewEntry(logger).WithField("component", "gvh-acquired")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		entry.Info("received shutdown signal, stopping")
		cancel()
	}()

	var tr transport.Transport
	if *useHCI {
		tr = transport.NewHCIBackend(uint16(*hciDevID), entry.WithField("backend", "hci"))
	} else {
		tr = transport.NewBluetoothBackend(entry.WithField("backend", "bluetooth"))
	}

	s := scanctl.LoadState(cfg, entry)
	m := metrics.New()

	controller := &scanctl.Controller{
		Transport: tr,
		State:     s,
		Metrics:   m,
		Config:    cfg,
		Logger:    entry,
	}

	entry.WithField("log_dir", cfg.LogDir).WithField("cache_dir", cfg.CacheDir).Info("starting acquisition loop")
	if err := controller.Run(ctx); err != nil {
		entry.WithError(err).Error("acquisition loop exited with an error")
		os.Exit(1)
	}
}
