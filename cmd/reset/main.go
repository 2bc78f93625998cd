// SPDX-License-Identifier: MIT

// Command reset forces every zone off. It is meant to be run from cron
// or by hand as a safety net when the daemon is down or wedged.
package main

import (
	"flag"
	"path/filepath"

	"github.com/waterwise/sprinklerd/internal/config"
	"github.com/waterwise/sprinklerd/internal/events"
	"github.com/waterwise/sprinklerd/internal/hardware"
	xlog "github.com/waterwise/sprinklerd/internal/log"
)

func main() {
	configPath := flag.String("config", "", "path to config.json")
	hardwarePath := flag.String("hardware", "", "path to hardware.json")
	flag.Parse()

	xlog.Configure(xlog.Config{Service: "sprinkler-reset"})
	logger := xlog.WithComponent("reset")

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = config.Resolve(config.ConfigFile)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "reset.config_load_failed").Str("path", cfgPath).Msg("cannot load config")
	}

	hwPath := *hardwarePath
	if hwPath == "" {
		hwPath = config.Resolve(config.HardwareFile)
	}
	hwCfg, err := config.LoadHardware(hwPath)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "reset.hardware_load_failed").Str("path", hwPath).Msg("cannot load hardware config")
	}

	driver := hardware.New(hwCfg)
	driver.Configure(hwCfg, cfg.Zones)
	for i := range cfg.Zones {
		driver.SetZone(i, false)
	}
	driver.Apply()

	dbPath := filepath.Join(filepath.Dir(cfgPath), config.EventDBFile)
	if sink, err := events.NewSink(dbPath, cfg.Event); err == nil {
		source := "reset"
		sink.Record(events.Record{Action: events.ActionCancel, Source: &source})
		_ = sink.Close()
	} else {
		logger.Warn().Err(err).Str("event", "reset.eventdb_open_failed").Msg("zones cleared but event not recorded")
	}

	logger.Info().Str("event", "reset.done").Int("zones", len(cfg.Zones)).Msg("all zones off")
}
