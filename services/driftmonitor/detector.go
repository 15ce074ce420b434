// Copyright (C) 2025 TitaniumShinobi
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package driftmonitor detects identity drift in long-lived constructs.
//
// # Description
//
// A drift check collects the construct's identity signals, composes a
// fingerprint, and compares it against the most recent ledger row. A
// score at or above the significance threshold is attributed to the
// components that changed and appended to the ledger; the first check
// for a construct records a baseline instead.
//
// # Failure Model
//
// The public check surface fails soft: DetectDrift and
// ComputeFingerprint never return errors. Any internal failure aborts
// the check with a warning log and a nil result, so identity monitoring
// can never take down the platform that hosts it. Read paths (History,
// Stats, CurrentFingerprint) return errors normally.
package driftmonitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/cache"
	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/fingerprint"
	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/ledger"
	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/observability"
	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/platform"
	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/signal"
)

// =============================================================================
// Thresholds
// =============================================================================

const (
	// DefaultSignificanceThreshold is the minimum score treated as drift.
	DefaultSignificanceThreshold = 0.1

	// DefaultComponentThreshold is the legacy per-check attribution
	// cutoff, used only when the prior row predates component digests.
	DefaultComponentThreshold = 0.3

	// DefaultHighDriftThreshold marks a detection as high drift in stats.
	DefaultHighDriftThreshold = 0.5
)

// Config tunes the detector.
type Config struct {
	// SignificanceThreshold is the minimum score recorded as drift.
	SignificanceThreshold float64 `yaml:"significance_threshold" json:"significance_threshold"`

	// ComponentThreshold is the fallback attribution cutoff for ledger
	// rows written before component digests existed.
	ComponentThreshold float64 `yaml:"component_threshold" json:"component_threshold"`

	// Fingerprint configures digest composition.
	Fingerprint fingerprint.Config `yaml:"fingerprint" json:"fingerprint"`

	// StrictSerialize serializes checks per construct. Off by default;
	// concurrent checks are safe but may both record against the same
	// prior row.
	StrictSerialize bool `yaml:"strict_serialize" json:"strict_serialize"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SignificanceThreshold: DefaultSignificanceThreshold,
		ComponentThreshold:    DefaultComponentThreshold,
		Fingerprint:           fingerprint.DefaultConfig(),
	}
}

// =============================================================================
// Result Types
// =============================================================================

// Fingerprint is the read projection of a composed fingerprint.
type Fingerprint struct {
	ConstructID string                          `json:"construct_id"`
	Digest      string                          `json:"fingerprint"`
	Components  map[fingerprint.Category]string `json:"components,omitempty"`
	CapturedAt  time.Time                       `json:"captured_at"`
}

// DriftDetection is the result of a check that found significant drift.
type DriftDetection struct {
	ID                  string                 `json:"id"`
	ConstructID         string                 `json:"construct_id"`
	PreviousFingerprint string                 `json:"previous_fingerprint"`
	CurrentFingerprint  string                 `json:"current_fingerprint"`
	DriftScore          float64                `json:"drift_score"`
	DriftComponents     []fingerprint.Category `json:"drift_components"`
	DetectedAt          time.Time              `json:"detected_at"`
}

// =============================================================================
// Detector
// =============================================================================

// Detector runs drift checks and serves fingerprint reads.
//
// # Thread Safety
//
// Safe for concurrent use. With Config.StrictSerialize set, checks for
// the same construct are serialized behind a per-construct lock.
type Detector struct {
	config    Config
	registry  platform.Registry
	collector *signal.Collector
	composer  *fingerprint.Composer
	ledger    ledger.Ledger
	fpCache   *cache.FingerprintCache
	metrics   *observability.DriftMetrics
	clock     platform.Clock
	logger    *slog.Logger

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// Option configures a Detector.
type Option func(*Detector)

// WithClock overrides the time source.
func WithClock(clock platform.Clock) Option {
	return func(d *Detector) { d.clock = clock }
}

// WithMetrics wires Prometheus metrics.
func WithMetrics(m *observability.DriftMetrics) Option {
	return func(d *Detector) { d.metrics = m }
}

// WithCache wires a read-path fingerprint cache.
func WithCache(c *cache.FingerprintCache) Option {
	return func(d *Detector) { d.fpCache = c }
}

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) { d.logger = logger }
}

// NewDetector builds a Detector.
//
// # Inputs
//
//   - config: threshold and composition settings.
//   - registry: the construct registry. Required.
//   - collector: the signal collector. Required.
//   - store: the append-only fingerprint ledger. Required.
//   - opts: optional clock, metrics, cache, and logger wiring.
func NewDetector(config Config, registry platform.Registry, collector *signal.Collector, store ledger.Ledger, opts ...Option) *Detector {
	d := &Detector{
		config:    config,
		registry:  registry,
		collector: collector,
		composer:  fingerprint.NewComposer(config.Fingerprint),
		ledger:    store,
		clock:     platform.SystemClock{},
		logger:    slog.Default(),
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics != nil {
		collector.SetFailureHook(d.metrics.RecordSignalFailure)
	}
	return d
}

// constructLock returns the advisory lock for a construct.
func (d *Detector) constructLock(constructID string) *sync.Mutex {
	d.lockMu.Lock()
	defer d.lockMu.Unlock()

	mu, ok := d.locks[constructID]
	if !ok {
		mu = &sync.Mutex{}
		d.locks[constructID] = mu
	}
	return mu
}

// ComputeFingerprint collects signals and composes a fingerprint without
// touching the ledger.
//
// # Description
//
// Pure read of the construct's current identity surface. Fails soft:
// returns nil when the construct cannot be resolved.
func (d *Detector) ComputeFingerprint(ctx context.Context, constructID string) *Fingerprint {
	construct, err := d.registry.GetConstruct(ctx, constructID)
	if err != nil {
		d.logger.Warn("fingerprint aborted, construct unavailable",
			"construct_id", constructID, "error", err)
		return nil
	}

	bundle := d.collector.Collect(ctx, construct)
	result := d.composer.Compose(constructID, *bundle)

	return &Fingerprint{
		ConstructID: constructID,
		Digest:      result.Digest,
		Components:  result.Components,
		CapturedAt:  bundle.CapturedAt,
	}
}

// DetectDrift runs one drift check for a construct.
//
// # Description
//
// Collects signals, composes the current fingerprint, and compares it
// against the newest ledger row. The first check for a construct records
// a baseline and returns nil. A score below the significance threshold
// returns nil without writing. Significant drift is attributed, appended
// to the ledger, and promoted to the construct's canonical fingerprint.
//
// # Outputs
//
//   - *DriftDetection: the recorded detection, or nil for baseline,
//     stable, or failed checks. A detection is returned only after its
//     ledger row has been durably written.
func (d *Detector) DetectDrift(ctx context.Context, constructID string, trigger observability.Trigger) *DriftDetection {
	if d.config.StrictSerialize {
		mu := d.constructLock(constructID)
		mu.Lock()
		defer mu.Unlock()
	}

	started := d.clock.Now()
	outcome, detection := d.runCheck(ctx, constructID, trigger)
	d.metrics.RecordCheck(trigger, outcome, d.clock.Now().Sub(started).Seconds())
	return detection
}

func (d *Detector) runCheck(ctx context.Context, constructID string, trigger observability.Trigger) (observability.Outcome, *DriftDetection) {
	construct, err := d.registry.GetConstruct(ctx, constructID)
	if err != nil {
		d.logger.Warn("drift check aborted, construct unavailable",
			"construct_id", constructID, "error", err)
		return observability.OutcomeFailed, nil
	}

	bundle := d.collector.Collect(ctx, construct)
	result := d.composer.Compose(constructID, *bundle)

	prior, err := d.ledger.MostRecent(ctx, constructID)
	if err != nil {
		d.logger.Warn("drift check aborted, ledger read failed",
			"construct_id", constructID, "error", err)
		return observability.OutcomeFailed, nil
	}

	now := d.clock.Now()

	if prior == nil {
		if _, err := d.ledger.RecordBaseline(ctx, constructID, result.Digest, result.Components, now); err != nil {
			d.logger.Warn("baseline write failed",
				"construct_id", constructID, "error", err)
			return observability.OutcomeFailed, nil
		}
		d.invalidateCachedFingerprint(constructID)
		d.logger.Info("baseline fingerprint recorded",
			"construct_id", constructID, "fingerprint", result.Digest)
		return observability.OutcomeBaseline, nil
	}

	score := fingerprint.Distance(prior.Fingerprint, result.Digest)
	if score < d.config.SignificanceThreshold {
		d.metrics.RecordScore(score)
		return observability.OutcomeStable, nil
	}

	components := d.attribute(prior, result, score)

	entry := &ledger.Entry{
		ConstructID: constructID,
		Fingerprint: result.Digest,
		DriftScore:  score,
		DetectedAt:  now,
		Components:  result.Components,
		Metadata: map[string]string{
			ledger.MetaType:                ledger.TypeDriftDetection,
			ledger.MetaPreviousFingerprint: prior.Fingerprint,
		},
	}
	if err := d.ledger.RecordDetection(ctx, entry); err != nil {
		d.logger.Warn("drift detection write failed",
			"construct_id", constructID, "error", err)
		return observability.OutcomeFailed, nil
	}
	d.promoteFingerprint(ctx, constructID, result.Digest)

	d.logger.Warn("identity drift detected",
		"construct_id", constructID,
		"drift_score", score,
		"components", components,
		"previous_fingerprint", prior.Fingerprint,
		"current_fingerprint", result.Digest,
	)
	d.metrics.RecordDrift(trigger, score)

	return observability.OutcomeDrift, &DriftDetection{
		ID:                  entry.ID,
		ConstructID:         constructID,
		PreviousFingerprint: prior.Fingerprint,
		CurrentFingerprint:  result.Digest,
		DriftScore:          score,
		DriftComponents:     components,
		DetectedAt:          now,
	}
}

// attribute names the components behind a detection. When the prior row
// carries component digests the changed categories are compared directly;
// rows written before sub-digests existed fall back to the blanket rule
// of flagging every category past the component threshold.
func (d *Detector) attribute(prior *ledger.Entry, current fingerprint.Result, score float64) []fingerprint.Category {
	if len(prior.Components) > 0 {
		changed := make([]fingerprint.Category, 0, len(fingerprint.Categories))
		for _, cat := range fingerprint.Categories {
			if prior.Components[cat] != current.Components[cat] {
				changed = append(changed, cat)
			}
		}
		return changed
	}

	if score > d.config.ComponentThreshold {
		return append([]fingerprint.Category(nil), fingerprint.Categories...)
	}
	return nil
}

// promoteFingerprint writes the new canonical fingerprint. Only a
// significant detection promotes; a baseline row leaves the registry
// untouched. Best effort; the ledger row is the source of truth and a
// registry lag heals on the next check.
func (d *Detector) promoteFingerprint(ctx context.Context, constructID, digest string) {
	if err := d.registry.UpdateFingerprint(ctx, constructID, digest); err != nil {
		d.logger.Warn("canonical fingerprint update failed",
			"construct_id", constructID, "error", err)
	}
	d.invalidateCachedFingerprint(constructID)
}

func (d *Detector) invalidateCachedFingerprint(constructID string) {
	if d.fpCache != nil {
		d.fpCache.Invalidate(constructID)
	}
}

// =============================================================================
// Read Paths
// =============================================================================

// CurrentFingerprint returns the construct's most recent recorded digest,
// served through the read cache when one is wired. Returns "" when the
// construct has no fingerprint yet.
func (d *Detector) CurrentFingerprint(ctx context.Context, constructID string) (string, error) {
	load := func(ctx context.Context, id string) (string, error) {
		entry, err := d.ledger.MostRecent(ctx, id)
		if err != nil {
			return "", err
		}
		if entry == nil {
			return "", nil
		}
		return entry.Fingerprint, nil
	}

	if d.fpCache == nil {
		return load(ctx, constructID)
	}
	return d.fpCache.GetOrLoad(ctx, constructID, load)
}

// History returns up to limit ledger rows for a construct, newest first.
func (d *Detector) History(ctx context.Context, constructID string, limit int) ([]ledger.Entry, error) {
	return d.ledger.History(ctx, constructID, limit)
}

// Stats returns aggregate drift statistics across all constructs.
func (d *Detector) Stats(ctx context.Context) (ledger.Stats, error) {
	return d.ledger.Stats(ctx)
}
