// Copyright (C) 2025 TitaniumShinobi
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ledger persists the append-only fingerprint history. Every
// drift check writes exactly one row here (baseline or detection); rows
// are never mutated or deleted by this subsystem, which is what makes a
// reported detection auditable after the fact.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/fingerprint"
)

// Metadata keys and values used by the drift engine.
const (
	// MetaType is the metadata key carrying the entry type.
	MetaType = "type"

	// TypeInitialFingerprint marks a baseline row.
	TypeInitialFingerprint = "initial_fingerprint"

	// TypeDriftDetection marks a confirmed detection row.
	TypeDriftDetection = "drift_detection"

	// MetaPreviousFingerprint carries the prior digest on detection rows.
	MetaPreviousFingerprint = "previous_fingerprint"
)

// Sentinel errors for ledger operations.
var (
	ErrLedgerClosed     = errors.New("ledger is closed")
	ErrEntryCorrupted   = errors.New("ledger entry corrupted (CRC mismatch)")
	ErrNilEntry         = errors.New("entry must not be nil")
	ErrEmptyConstruct   = errors.New("construct id cannot be empty")
	ErrInvalidConstruct = errors.New("construct id cannot contain ':'")
)

// Entry is one immutable fingerprint history row.
type Entry struct {
	// ID is the unique row identifier (UUID).
	ID string `json:"id"`

	// ConstructID keys the row to a construct.
	ConstructID string `json:"construct_id"`

	// Fingerprint is the aggregate digest computed for this check.
	Fingerprint string `json:"fingerprint"`

	// DriftScore is the structural distance to the prior digest.
	// 0 for baselines; bounded in [0,1].
	DriftScore float64 `json:"drift_score"`

	// DetectedAt is when this check ran.
	DetectedAt time.Time `json:"detected_at"`

	// Components are the per-category sub-digests for this capture.
	// Empty on rows written before sub-digests existed.
	Components map[fingerprint.Category]string `json:"components,omitempty"`

	// Metadata carries entry type and check annotations.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Stats summarizes ledger contents across all constructs.
type Stats struct {
	// TotalDetections counts every row (baseline and drift alike).
	TotalDetections int `json:"total_detections"`

	// HighDriftCount counts rows with DriftScore above 0.5.
	HighDriftCount int `json:"high_drift_count"`

	// AverageDriftScore is the mean score over all rows.
	AverageDriftScore float64 `json:"average_drift_score"`

	// RecentDetections counts rows from the last 24 hours.
	RecentDetections int `json:"recent_detections"`
}

// Ledger is the narrow repository interface the drift engine persists
// through. Implementations must be safe for concurrent use and must
// never mutate or delete existing rows.
type Ledger interface {
	// RecordBaseline appends a zero-score baseline row for a construct
	// and returns the stored entry.
	RecordBaseline(ctx context.Context, constructID, digest string, components map[fingerprint.Category]string, detectedAt time.Time) (*Entry, error)

	// RecordDetection appends a full detection row.
	RecordDetection(ctx context.Context, entry *Entry) error

	// MostRecent returns the newest entry for a construct, or nil when
	// none exists.
	MostRecent(ctx context.Context, constructID string) (*Entry, error)

	// History returns up to limit entries for a construct, newest first.
	History(ctx context.Context, constructID string, limit int) ([]Entry, error)

	// Stats aggregates all rows into summary counters.
	Stats(ctx context.Context) (Stats, error)

	// Close releases ledger resources.
	Close() error
}
