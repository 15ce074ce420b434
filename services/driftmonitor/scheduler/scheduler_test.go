// Copyright (C) 2025 TitaniumShinobi
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor"
	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/ledger"
	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/platform"
	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/signal"
	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/storage/badger"
)

func newSweepFixture(t *testing.T) (*Scheduler, *platform.BadgerStore, *driftmonitor.Detector) {
	t.Helper()
	db, err := badger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := platform.NewBadgerStore(db, nil)
	led := ledger.NewBadgerLedger(db, nil)
	collector := signal.NewCollector(signal.Sources{
		Registry: store, Personas: store, Behavior: store, LegalDocs: store,
	}, nil, nil)
	detector := driftmonitor.NewDetector(driftmonitor.DefaultConfig(), store, collector, led)

	return New(DefaultConfig(), detector, store, nil), store, detector
}

// TestSweepChecksEveryConstruct verifies one sweep fingerprints all
// registered constructs.
func TestSweepChecksEveryConstruct(t *testing.T) {
	sched, store, detector := newSweepFixture(t)
	ctx := context.Background()

	for _, id := range []string{"luna-001", "nyx-007", "echo-042"} {
		require.NoError(t, store.PutConstruct(ctx, &platform.Construct{
			ID: id, RoleLock: "companion",
		}))
	}

	sched.Sweep(ctx)

	for _, id := range []string{"luna-001", "nyx-007", "echo-042"} {
		history, err := detector.History(ctx, id, 10)
		require.NoError(t, err)
		assert.Len(t, history, 1, "construct %s missing baseline", id)
	}
}

// TestSweepDetectsDrift verifies the sweep records drift for mutated
// constructs while leaving stable ones alone.
func TestSweepDetectsDrift(t *testing.T) {
	sched, store, detector := newSweepFixture(t)
	ctx := context.Background()

	require.NoError(t, store.PutConstruct(ctx, &platform.Construct{ID: "luna-001"}))
	require.NoError(t, store.PutConstruct(ctx, &platform.Construct{ID: "nyx-007"}))
	sched.Sweep(ctx)

	require.NoError(t, store.SetPersonaValue(ctx, "luna-001", "tone", "clinical"))
	sched.Sweep(ctx)

	lunaHistory, err := detector.History(ctx, "luna-001", 10)
	require.NoError(t, err)
	assert.Len(t, lunaHistory, 2)

	nyxHistory, err := detector.History(ctx, "nyx-007", 10)
	require.NoError(t, err)
	assert.Len(t, nyxHistory, 1)
}

// TestStartStop verifies lifecycle idempotence and clean shutdown.
func TestStartStop(t *testing.T) {
	sched, _, _ := newSweepFixture(t)

	sched.Start()
	sched.Start()

	done := make(chan struct{})
	go func() {
		sched.Stop()
		sched.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
