// Copyright (C) 2025 TitaniumShinobi
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor"
	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/scheduler"
)

type DriftwatchConfig struct {
	// Server: HTTP listener settings
	Server ServerConfig `yaml:"server"`

	// Storage: embedded database location
	Storage StorageConfig `yaml:"storage"`

	// Detector: thresholds and digest composition
	Detector driftmonitor.Config `yaml:"detector"`

	// Scheduler: background sweep cadence
	Scheduler scheduler.Config `yaml:"scheduler"`

	// Logging: log destination and verbosity
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"` // e.g. :8086
}

type StorageConfig struct {
	Path       string `yaml:"path"`        // e.g. ~/.driftwatch/data
	InMemory   bool   `yaml:"in_memory"`   // volatile store, tests and demos
	SyncWrites bool   `yaml:"sync_writes"` // fsync every ledger append
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	Dir   string `yaml:"dir"`   // empty means stderr only
	JSON  bool   `yaml:"json"`
}

func DefaultConfig() DriftwatchConfig {
	dataDir := "~/.driftwatch/data"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".driftwatch", "data")
	}
	cfg := DriftwatchConfig{
		Server:   ServerConfig{Listen: ":8086"},
		Storage:  StorageConfig{Path: dataDir, SyncWrites: true},
		Detector: driftmonitor.DefaultConfig(),
		Scheduler: scheduler.Config{
			Interval:     15 * time.Minute,
			CheckTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
	}
	return cfg
}
