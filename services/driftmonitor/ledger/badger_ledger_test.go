// Copyright (C) 2025 TitaniumShinobi
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/fingerprint"
	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/storage/badger"
)

func newTestLedger(t *testing.T) *BadgerLedger {
	t.Helper()
	db, err := badger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewBadgerLedger(db, nil)
}

// TestRecordBaseline verifies a baseline row is written with score 0
// and the initial_fingerprint marker.
func TestRecordBaseline(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	components := map[fingerprint.Category]string{
		fingerprint.CategoryPersona: "aaaa",
	}
	entry, err := l.RecordBaseline(ctx, "luna-001", "digest-1", components, time.Now())
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.NotEmpty(t, entry.ID)
	assert.Zero(t, entry.DriftScore)
	assert.Equal(t, TypeInitialFingerprint, entry.Metadata[MetaType])

	got, err := l.MostRecent(ctx, "luna-001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "digest-1", got.Fingerprint)
	assert.Equal(t, "aaaa", got.Components[fingerprint.CategoryPersona])
}

// TestDelimiterIDRejected verifies an id containing ':' cannot be
// recorded. Keys are colon-delimited, so "luna:shadow" rows would
// otherwise match the "luna" prefix and leak into its history.
func TestDelimiterIDRejected(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.RecordBaseline(ctx, "luna", "digest-luna", nil, time.Now())
	require.NoError(t, err)

	_, err = l.RecordBaseline(ctx, "luna:shadow", "digest-shadow", nil, time.Now())
	assert.ErrorIs(t, err, ErrInvalidConstruct)

	err = l.RecordDetection(ctx, &Entry{
		ConstructID: "luna:shadow",
		Fingerprint: "digest-shadow",
		DriftScore:  0.4,
		DetectedAt:  time.Now(),
	})
	assert.ErrorIs(t, err, ErrInvalidConstruct)

	entries, err := l.History(ctx, "luna", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "digest-luna", entries[0].Fingerprint)

	got, err := l.MostRecent(ctx, "luna")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "digest-luna", got.Fingerprint)
}

// TestMostRecentEmpty verifies nil is returned for unknown constructs.
func TestMostRecentEmpty(t *testing.T) {
	l := newTestLedger(t)

	got, err := l.MostRecent(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// TestHistoryOrdering verifies newest-first ordering, the limit, and
// per-construct isolation.
func TestHistoryOrdering(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		err := l.RecordDetection(ctx, &Entry{
			ConstructID: "luna-001",
			Fingerprint: fmt.Sprintf("digest-%d", i),
			DriftScore:  0.2,
			DetectedAt:  base.Add(time.Duration(i) * time.Minute),
			Metadata:    map[string]string{MetaType: TypeDriftDetection},
		})
		require.NoError(t, err)
	}
	_, err := l.RecordBaseline(ctx, "other-002", "other-digest", nil, base)
	require.NoError(t, err)

	entries, err := l.History(ctx, "luna-001", 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "digest-4", entries[0].Fingerprint)
	assert.Equal(t, "digest-3", entries[1].Fingerprint)
	assert.Equal(t, "digest-2", entries[2].Fingerprint)

	all, err := l.History(ctx, "luna-001", 100)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

// TestSameInstantEntries verifies two rows at the same timestamp both
// survive (the uuid key suffix prevents collisions).
func TestSameInstantEntries(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		err := l.RecordDetection(ctx, &Entry{
			ConstructID: "luna-001",
			Fingerprint: fmt.Sprintf("race-%d", i),
			DriftScore:  0.15,
			DetectedAt:  at,
		})
		require.NoError(t, err)
	}

	entries, err := l.History(ctx, "luna-001", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

// TestStats verifies the aggregate counters across constructs.
func TestStats(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	now := time.Now()

	_, err := l.RecordBaseline(ctx, "luna-001", "d0", nil, now)
	require.NoError(t, err)

	require.NoError(t, l.RecordDetection(ctx, &Entry{
		ConstructID: "luna-001", Fingerprint: "d1", DriftScore: 0.6, DetectedAt: now,
	}))
	require.NoError(t, l.RecordDetection(ctx, &Entry{
		ConstructID: "nyx-007", Fingerprint: "d2", DriftScore: 0.2,
		DetectedAt: now.Add(-48 * time.Hour),
	}))

	stats, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalDetections)
	assert.Equal(t, 1, stats.HighDriftCount)
	assert.InDelta(t, (0.0+0.6+0.2)/3.0, stats.AverageDriftScore, 1e-9)
	assert.Equal(t, 2, stats.RecentDetections)
}

// TestStatsEmpty verifies zero-value stats on an empty ledger.
func TestStatsEmpty(t *testing.T) {
	l := newTestLedger(t)

	stats, err := l.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalDetections)
	assert.Zero(t, stats.AverageDriftScore)
}

// TestCRCFraming verifies corruption is detected on decode.
func TestCRCFraming(t *testing.T) {
	entry := &Entry{ID: "x", ConstructID: "luna-001", Fingerprint: "d", DetectedAt: time.Now()}
	framed, err := encodeEntry(entry)
	require.NoError(t, err)

	decoded, err := decodeEntry(framed)
	require.NoError(t, err)
	assert.Equal(t, entry.Fingerprint, decoded.Fingerprint)

	framed[len(framed)-1] ^= 0xFF
	_, err = decodeEntry(framed)
	assert.ErrorIs(t, err, ErrEntryCorrupted)

	_, err = decodeEntry([]byte{1, 2})
	assert.ErrorIs(t, err, ErrEntryCorrupted)
}

// TestClosedLedger verifies operations fail after Close.
func TestClosedLedger(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Close())

	_, err := l.RecordBaseline(context.Background(), "luna-001", "d", nil, time.Now())
	assert.ErrorIs(t, err, ErrLedgerClosed)

	_, err = l.History(context.Background(), "luna-001", 10)
	assert.ErrorIs(t, err, ErrLedgerClosed)
}
