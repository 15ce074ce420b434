// Copyright (C) 2025 TitaniumShinobi
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/TitaniumShinobi/chatty-sub016/cmd/driftwatch/config"
	"github.com/TitaniumShinobi/chatty-sub016/pkg/logging"
	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor"
	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/cache"
	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/ledger"
	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/observability"
	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/platform"
	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/routes"
	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/scheduler"
	driftsignal "github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/signal"
	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/storage/badger"
)

func runServe(cmd *cobra.Command, args []string) {
	cfg := config.Global

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "driftwatch",
		JSON:    cfg.Logging.JSON,
	})
	defer logger.Close()
	slogger := logger.Slog()

	storeCfg := badger.DefaultConfig()
	storeCfg.Path = cfg.Storage.Path
	storeCfg.InMemory = cfg.Storage.InMemory
	storeCfg.SyncWrites = cfg.Storage.SyncWrites
	storeCfg.Logger = slogger

	db, err := badger.OpenDB(storeCfg)
	if err != nil {
		logger.Error("failed to open the embedded store", "path", cfg.Storage.Path, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store := platform.NewBadgerStore(db, slogger)
	led := ledger.NewBadgerLedger(db, slogger)
	metrics := observability.NewDriftMetrics(prometheus.DefaultRegisterer)
	collector := driftsignal.NewCollector(driftsignal.Sources{
		Registry: store, Personas: store, Behavior: store, LegalDocs: store,
	}, nil, slogger)

	detector := driftmonitor.NewDetector(cfg.Detector, store, collector, led,
		driftmonitor.WithMetrics(metrics),
		driftmonitor.WithCache(cache.NewFingerprintCache()),
		driftmonitor.WithLogger(slogger),
	)

	sweeper := scheduler.New(cfg.Scheduler, detector, store, slogger)
	sweeper.Start()
	defer sweeper.Stop()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	routes.SetupRoutes(router, detector, store)

	server := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("driftwatch listening", "addr", cfg.Server.Listen, "store", cfg.Storage.Path)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown incomplete", "error", err)
	}
}
