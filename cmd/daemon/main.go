// SPDX-License-Identifier: MIT

// Command daemon runs the irrigation controller: scheduler, hardware
// driver, HTTP control surface and UDP discovery.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/waterwise/sprinklerd/internal/adjust"
	"github.com/waterwise/sprinklerd/internal/api"
	"github.com/waterwise/sprinklerd/internal/calendar"
	"github.com/waterwise/sprinklerd/internal/config"
	"github.com/waterwise/sprinklerd/internal/daemon"
	"github.com/waterwise/sprinklerd/internal/engine"
	"github.com/waterwise/sprinklerd/internal/events"
	"github.com/waterwise/sprinklerd/internal/hardware"
	xlog "github.com/waterwise/sprinklerd/internal/log"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config.json")
	hardwarePath := flag.String("hardware", "", "path to hardware.json")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("sprinklerd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	xlog.Configure(xlog.Config{Service: "sprinklerd", Version: version})
	logger := xlog.WithComponent("main")

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = config.Resolve(config.ConfigFile)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "main.config_load_failed").Str("path", cfgPath).Msg("cannot load config")
	}

	hwPath := *hardwarePath
	if hwPath == "" {
		hwPath = config.Resolve(config.HardwareFile)
	}
	hwCfg, err := config.LoadHardware(hwPath)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "main.hardware_load_failed").Str("path", hwPath).Msg("cannot load hardware config")
	}

	holder := config.NewHolder(cfg, cfgPath)
	driver := hardware.New(hwCfg)

	dbPath := filepath.Join(filepath.Dir(cfgPath), config.EventDBFile)
	sink, err := events.NewSink(dbPath, cfg.Event)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "main.eventdb_open_failed").Str("path", dbPath).Msg("cannot open event store")
	}
	defer func() { _ = sink.Close() }()

	eng := engine.New(holder, hwCfg, driver, sink,
		calendar.NewImporter(), adjust.NewWeather(), adjust.NewWateringIndex(), nil)
	server := api.NewServer(eng, holder, version)

	ctx, stop := daemon.SignalContext()
	defer stop()

	logger.Info().
		Str("event", "main.starting").
		Str("config", cfgPath).
		Str("driver", hwCfg.Driver).
		Int("zones", len(cfg.Zones)).
		Msg("controller starting")

	app := daemon.New(holder, eng, server, version)
	if err := app.Run(ctx); err != nil {
		logger.Fatal().Err(err).Str("event", "main.run_failed").Msg("controller exited with error")
	}
}
