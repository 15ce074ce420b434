// Copyright (C) 2025 TitaniumShinobi
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scheduler runs periodic drift sweeps over every registered
// construct.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor"
	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/observability"
	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/platform"
)

// Config tunes the sweep scheduler.
type Config struct {
	// Interval between sweeps. Default: 15 minutes.
	Interval time.Duration `yaml:"interval" json:"interval"`

	// CheckTimeout bounds each construct's check. Default: 10 seconds.
	CheckTimeout time.Duration `yaml:"check_timeout" json:"check_timeout"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:     15 * time.Minute,
		CheckTimeout: 10 * time.Second,
	}
}

// Scheduler sweeps all registered constructs on a fixed interval.
//
// # Thread Safety
//
// Start and Stop are safe to call from different goroutines. Start is
// idempotent while running; Stop blocks until the sweep loop exits.
type Scheduler struct {
	config   Config
	detector *driftmonitor.Detector
	registry platform.Registry
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Scheduler. A nil logger falls back to slog.Default.
func New(config Config, detector *driftmonitor.Detector, registry platform.Registry, logger *slog.Logger) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = DefaultConfig().CheckTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		config:   config,
		detector: detector,
		registry: registry,
		logger:   logger,
	}
}

// Start launches the sweep loop. The first sweep runs after one full
// interval so startup is not dominated by a cold scan.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go s.run(ctx, done)
	s.logger.Info("drift sweep scheduler started",
		"interval", s.config.Interval.String())
}

// Stop halts the sweep loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("drift sweep scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one drift check per registered construct. Checks fail soft
// individually, so one broken construct never stops the sweep.
func (s *Scheduler) Sweep(ctx context.Context) {
	ids, err := s.registry.ListConstructIDs(ctx)
	if err != nil {
		s.logger.Warn("sweep aborted, registry listing failed", "error", err)
		return
	}

	started := time.Now()
	drifted := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		checkCtx, cancel := context.WithTimeout(ctx, s.config.CheckTimeout)
		if detection := s.detector.DetectDrift(checkCtx, id, observability.TriggerSweep); detection != nil {
			drifted++
		}
		cancel()
	}

	s.logger.Info("drift sweep completed",
		"constructs", len(ids),
		"drifted", drifted,
		"elapsed", time.Since(started).String())
}
