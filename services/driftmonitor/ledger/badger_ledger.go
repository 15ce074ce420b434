// Copyright (C) 2025 TitaniumShinobi
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ledger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"context"

	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/fingerprint"
	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/storage/badger"
)

// BadgerLedger implements Ledger on BadgerDB.
//
// Key format: "fp:{construct_id}:{rev_ts:020d}:{uuid}"
// Value format: [4-byte CRC32][JSON entry]
//
// rev_ts is (MaxInt64 - DetectedAt.UnixNano()) so forward prefix
// iteration yields newest first; the uuid suffix keeps two same-instant
// checks from colliding (same-construct races are benign and append two
// rows, per the concurrency model).
//
// Thread Safety: safe for concurrent use.
type BadgerLedger struct {
	db     *badger.DB
	logger *slog.Logger
	closed atomic.Bool
}

var _ Ledger = (*BadgerLedger)(nil)

// NewBadgerLedger creates a ledger over an open database. The database
// is owned by the caller; Close here only marks the ledger unusable.
func NewBadgerLedger(db *badger.DB, logger *slog.Logger) *BadgerLedger {
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerLedger{
		db:     db,
		logger: logger.With(slog.String("component", "ledger")),
	}
}

func entryPrefix(constructID string) string {
	return "fp:" + constructID + ":"
}

func entryKey(constructID string, detectedAt time.Time, id string) []byte {
	revTS := uint64(math.MaxInt64) - uint64(detectedAt.UnixNano())
	return []byte(fmt.Sprintf("%s%020d:%s", entryPrefix(constructID), revTS, id))
}

// encodeEntry frames an entry as [4-byte CRC32][JSON].
func encodeEntry(entry *Entry) ([]byte, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal entry: %w", err)
	}

	crc := crc32.ChecksumIEEE(data)
	framed := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(framed[:4], crc)
	copy(framed[4:], data)
	return framed, nil
}

// decodeEntry validates the CRC32 frame and unmarshals the entry.
func decodeEntry(framed []byte) (*Entry, error) {
	if len(framed) < 5 {
		return nil, fmt.Errorf("%w: entry too short", ErrEntryCorrupted)
	}

	storedCRC := binary.BigEndian.Uint32(framed[:4])
	data := framed[4:]
	if computed := crc32.ChecksumIEEE(data); computed != storedCRC {
		return nil, fmt.Errorf("%w: stored=%08x computed=%08x", ErrEntryCorrupted, storedCRC, computed)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal entry: %w", err)
	}
	return &entry, nil
}

// RecordBaseline appends a zero-score baseline row.
func (l *BadgerLedger) RecordBaseline(ctx context.Context, constructID, digest string, components map[fingerprint.Category]string, detectedAt time.Time) (*Entry, error) {
	entry := &Entry{
		ID:          uuid.NewString(),
		ConstructID: constructID,
		Fingerprint: digest,
		DriftScore:  0,
		DetectedAt:  detectedAt,
		Components:  components,
		Metadata:    map[string]string{MetaType: TypeInitialFingerprint},
	}
	if err := l.append(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// RecordDetection appends a full detection row. The entry ID is filled
// when empty; everything else is stored as given.
func (l *BadgerLedger) RecordDetection(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return ErrNilEntry
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	return l.append(ctx, entry)
}

func (l *BadgerLedger) append(ctx context.Context, entry *Entry) error {
	if l.closed.Load() {
		return ErrLedgerClosed
	}
	if entry.ConstructID == "" {
		return ErrEmptyConstruct
	}
	// Keys are colon-delimited; an id containing ':' would file this
	// row under another construct's prefix.
	if strings.Contains(entry.ConstructID, ":") {
		return ErrInvalidConstruct
	}

	ctx, span := otel.Tracer("driftmonitor").Start(ctx, "ledger.Append",
		trace.WithAttributes(
			attribute.String("construct_id", entry.ConstructID),
			attribute.Float64("drift_score", entry.DriftScore),
		),
	)
	defer span.End()

	framed, err := encodeEntry(entry)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode failed")
		return err
	}

	key := entryKey(entry.ConstructID, entry.DetectedAt, entry.ID)
	err = l.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set(key, framed)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		return fmt.Errorf("append ledger entry: %w", err)
	}

	l.logger.Debug("ledger entry appended",
		slog.String("construct_id", entry.ConstructID),
		slog.String("entry_id", entry.ID),
		slog.Float64("drift_score", entry.DriftScore))
	return nil
}

// MostRecent returns the newest entry for a construct, or nil.
func (l *BadgerLedger) MostRecent(ctx context.Context, constructID string) (*Entry, error) {
	entries, err := l.History(ctx, constructID, 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// History returns up to limit entries for a construct, newest first.
func (l *BadgerLedger) History(ctx context.Context, constructID string, limit int) ([]Entry, error) {
	if l.closed.Load() {
		return nil, ErrLedgerClosed
	}
	if constructID == "" {
		return nil, ErrEmptyConstruct
	}
	if limit <= 0 {
		return nil, nil
	}

	ctx, span := otel.Tracer("driftmonitor").Start(ctx, "ledger.History",
		trace.WithAttributes(
			attribute.String("construct_id", constructID),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	var entries []Entry
	prefix := []byte(entryPrefix(constructID))
	err := l.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		it := txn.NewIterator(dgbadger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix) && len(entries) < limit; it.Next() {
			err := it.Item().Value(func(val []byte) error {
				entry, err := decodeEntry(val)
				if err != nil {
					return err
				}
				entries = append(entries, *entry)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "history read failed")
		return nil, fmt.Errorf("read history: %w", err)
	}

	span.SetAttributes(attribute.Int("entry_count", len(entries)))
	return entries, nil
}

// Stats aggregates all rows across all constructs.
func (l *BadgerLedger) Stats(ctx context.Context) (Stats, error) {
	if l.closed.Load() {
		return Stats{}, ErrLedgerClosed
	}

	ctx, span := otel.Tracer("driftmonitor").Start(ctx, "ledger.Stats")
	defer span.End()

	var stats Stats
	var scoreSum float64
	cutoff := time.Now().Add(-24 * time.Hour)

	prefix := []byte("fp:")
	err := l.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		it := txn.NewIterator(dgbadger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				entry, err := decodeEntry(val)
				if err != nil {
					return err
				}
				stats.TotalDetections++
				scoreSum += entry.DriftScore
				if entry.DriftScore > 0.5 {
					stats.HighDriftCount++
				}
				if entry.DetectedAt.After(cutoff) {
					stats.RecentDetections++
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stats read failed")
		return Stats{}, fmt.Errorf("aggregate stats: %w", err)
	}

	if stats.TotalDetections > 0 {
		stats.AverageDriftScore = scoreSum / float64(stats.TotalDetections)
	}

	span.SetAttributes(attribute.Int("total_detections", stats.TotalDetections))
	return stats, nil
}

// Close marks the ledger closed. The database is owned by the caller.
func (l *BadgerLedger) Close() error {
	l.closed.Store(true)
	return nil
}
