// Copyright (C) 2025 TitaniumShinobi
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package driftmonitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/cache"
	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/fingerprint"
	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/ledger"
	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/observability"
	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/platform"
	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/signal"
	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/storage/badger"
)

// steppingClock advances by step on every Now call.
type steppingClock struct {
	at   time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	now := c.at
	c.at = c.at.Add(c.step)
	return now
}

type testHarness struct {
	store    *platform.BadgerStore
	ledger   *ledger.BadgerLedger
	detector *Detector
	clock    *steppingClock
}

func newHarness(t *testing.T, config Config) *testHarness {
	t.Helper()
	db, err := badger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := platform.NewBadgerStore(db, nil)
	led := ledger.NewBadgerLedger(db, nil)
	clock := &steppingClock{
		at:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		step: time.Second,
	}

	collector := signal.NewCollector(signal.Sources{
		Registry: store, Personas: store, Behavior: store, LegalDocs: store,
	}, clock, nil)

	detector := NewDetector(config, store, collector, led,
		WithClock(clock),
		WithCache(cache.NewFingerprintCache()),
	)

	return &testHarness{store: store, ledger: led, detector: detector, clock: clock}
}

func seedConstruct(t *testing.T, h *testHarness, id string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.store.PutConstruct(ctx, &platform.Construct{
		ID:       id,
		Name:     "Luna",
		RoleLock: "companion",
	}))
	require.NoError(t, h.store.SetPersonaValue(ctx, id, "tone", "warm"))
	require.NoError(t, h.store.BindDocumentHash(ctx, id, "doc-v1"))
}

// TestFirstCheckRecordsBaseline verifies the first check writes a
// baseline row, reports no drift, and leaves the canonical fingerprint
// alone. Promotion happens only on a significant detection.
func TestFirstCheckRecordsBaseline(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	seedConstruct(t, h, "luna-001")

	detection := h.detector.DetectDrift(ctx, "luna-001", observability.TriggerAPI)
	assert.Nil(t, detection)

	history, err := h.detector.History(ctx, "luna-001", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Zero(t, history[0].DriftScore)
	assert.Equal(t, ledger.TypeInitialFingerprint, history[0].Metadata[ledger.MetaType])
	assert.NotEmpty(t, history[0].Components)

	construct, err := h.store.GetConstruct(ctx, "luna-001")
	require.NoError(t, err)
	assert.Empty(t, construct.CanonicalFingerprint)
}

// TestStableRecheck verifies an unchanged construct produces no new
// ledger row even when checked at a later time.
func TestStableRecheck(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	seedConstruct(t, h, "luna-001")

	assert.Nil(t, h.detector.DetectDrift(ctx, "luna-001", observability.TriggerAPI))
	assert.Nil(t, h.detector.DetectDrift(ctx, "luna-001", observability.TriggerAPI))
	assert.Nil(t, h.detector.DetectDrift(ctx, "luna-001", observability.TriggerSweep))

	history, err := h.detector.History(ctx, "luna-001", 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

// TestCompatTimestampMode verifies the legacy digest layout flags drift
// on every re-check because capture time leaks into the digest.
func TestCompatTimestampMode(t *testing.T) {
	config := DefaultConfig()
	config.Fingerprint.CompatTimestampInDigest = true
	h := newHarness(t, config)
	ctx := context.Background()
	seedConstruct(t, h, "luna-001")

	assert.Nil(t, h.detector.DetectDrift(ctx, "luna-001", observability.TriggerAPI))

	detection := h.detector.DetectDrift(ctx, "luna-001", observability.TriggerAPI)
	require.NotNil(t, detection)
	assert.Greater(t, detection.DriftScore, 0.0)
}

// TestPersonaDriftAttribution verifies a persona mutation is detected
// and attributed to the persona component alone.
func TestPersonaDriftAttribution(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	seedConstruct(t, h, "luna-001")

	assert.Nil(t, h.detector.DetectDrift(ctx, "luna-001", observability.TriggerAPI))

	require.NoError(t, h.store.SetPersonaValue(ctx, "luna-001", "tone", "clinical"))

	detection := h.detector.DetectDrift(ctx, "luna-001", observability.TriggerAPI)
	require.NotNil(t, detection)
	assert.GreaterOrEqual(t, detection.DriftScore, DefaultSignificanceThreshold)
	assert.Equal(t, []fingerprint.Category{fingerprint.CategoryPersona}, detection.DriftComponents)
	assert.NotEqual(t, detection.PreviousFingerprint, detection.CurrentFingerprint)

	// The detection is durable and newest.
	history, err := h.detector.History(ctx, "luna-001", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, detection.CurrentFingerprint, history[0].Fingerprint)
	assert.Equal(t, detection.PreviousFingerprint,
		history[0].Metadata[ledger.MetaPreviousFingerprint])

	// A significant detection promotes the canonical fingerprint.
	construct, err := h.store.GetConstruct(ctx, "luna-001")
	require.NoError(t, err)
	assert.Equal(t, detection.CurrentFingerprint, construct.CanonicalFingerprint)
}

// TestMultiComponentAttribution verifies simultaneous mutations flag
// each changed component.
func TestMultiComponentAttribution(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	seedConstruct(t, h, "luna-001")

	assert.Nil(t, h.detector.DetectDrift(ctx, "luna-001", observability.TriggerAPI))

	require.NoError(t, h.store.SetPersonaValue(ctx, "luna-001", "tone", "clinical"))
	require.NoError(t, h.store.BindDocumentHash(ctx, "luna-001", "doc-v2"))

	detection := h.detector.DetectDrift(ctx, "luna-001", observability.TriggerAPI)
	require.NotNil(t, detection)
	assert.ElementsMatch(t,
		[]fingerprint.Category{fingerprint.CategoryPersona, fingerprint.CategoryLegalDoc},
		detection.DriftComponents)
}

// TestLegacyAttributionFallback verifies rows without component digests
// fall back to the blanket high-drift rule.
func TestLegacyAttributionFallback(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	seedConstruct(t, h, "luna-001")

	// Simulate a pre-sub-digest row.
	_, err := h.ledger.RecordBaseline(ctx, "luna-001", "0000000000000000", nil, h.clock.Now())
	require.NoError(t, err)

	detection := h.detector.DetectDrift(ctx, "luna-001", observability.TriggerAPI)
	require.NotNil(t, detection)
	// Digest lengths differ, so the score saturates past the legacy
	// component threshold and all categories are flagged.
	assert.ElementsMatch(t, fingerprint.Categories, detection.DriftComponents)
}

// TestUnknownConstructFailsSoft verifies a missing construct aborts the
// check without a panic or a ledger write.
func TestUnknownConstructFailsSoft(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()

	assert.Nil(t, h.detector.DetectDrift(ctx, "ghost-999", observability.TriggerAPI))
	assert.Nil(t, h.detector.ComputeFingerprint(ctx, "ghost-999"))

	stats, err := h.detector.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalDetections)
}

// TestLedgerFailureSuppressesDetection verifies no detection is returned
// when the ledger write cannot complete.
func TestLedgerFailureSuppressesDetection(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	seedConstruct(t, h, "luna-001")

	assert.Nil(t, h.detector.DetectDrift(ctx, "luna-001", observability.TriggerAPI))
	require.NoError(t, h.store.SetPersonaValue(ctx, "luna-001", "tone", "clinical"))

	require.NoError(t, h.ledger.Close())

	assert.Nil(t, h.detector.DetectDrift(ctx, "luna-001", observability.TriggerAPI))
}

// TestComputeFingerprintIsPure verifies fingerprint computation never
// writes to the ledger.
func TestComputeFingerprintIsPure(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	seedConstruct(t, h, "luna-001")

	fp := h.detector.ComputeFingerprint(ctx, "luna-001")
	require.NotNil(t, fp)
	assert.Len(t, fp.Digest, 64)
	assert.Len(t, fp.Components, len(fingerprint.Categories))

	history, err := h.detector.History(ctx, "luna-001", 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

// TestCurrentFingerprint verifies the cached read path tracks ledger
// promotion across checks.
func TestCurrentFingerprint(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	seedConstruct(t, h, "luna-001")

	digest, err := h.detector.CurrentFingerprint(ctx, "luna-001")
	require.NoError(t, err)
	assert.Empty(t, digest)

	h.detector.DetectDrift(ctx, "luna-001", observability.TriggerAPI)

	digest, err = h.detector.CurrentFingerprint(ctx, "luna-001")
	require.NoError(t, err)
	assert.NotEmpty(t, digest)

	require.NoError(t, h.store.SetPersonaValue(ctx, "luna-001", "tone", "clinical"))
	detection := h.detector.DetectDrift(ctx, "luna-001", observability.TriggerAPI)
	require.NotNil(t, detection)

	// Promotion invalidated the cache; the read reflects the new digest.
	digest, err = h.detector.CurrentFingerprint(ctx, "luna-001")
	require.NoError(t, err)
	assert.Equal(t, detection.CurrentFingerprint, digest)
}

// TestStatsAcrossConstructs verifies stats aggregate every ledger row.
func TestStatsAcrossConstructs(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	seedConstruct(t, h, "luna-001")
	seedConstruct(t, h, "nyx-007")

	h.detector.DetectDrift(ctx, "luna-001", observability.TriggerAPI)
	h.detector.DetectDrift(ctx, "nyx-007", observability.TriggerAPI)
	require.NoError(t, h.store.SetPersonaValue(ctx, "luna-001", "tone", "clinical"))
	require.NotNil(t, h.detector.DetectDrift(ctx, "luna-001", observability.TriggerAPI))

	stats, err := h.detector.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalDetections)
}
