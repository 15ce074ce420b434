// Copyright (C) 2025 TitaniumShinobi
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/storage/badger"
)

// BadgerStore implements Registry, PersonaStore, BehaviorLog, and
// LegalDocStore on a shared BadgerDB instance.
//
// Key layout:
//
//	construct:{id}                          JSON Construct
//	persona:{construct_id}:{key}            raw value
//	behavior:{construct_id}:{rev_ts}:{uuid} JSON BehaviorEvent
//	legaldoc:{construct_id}                 hash string
//
// rev_ts is (MaxInt64 - UnixNano) zero-padded to 20 digits, so a forward
// prefix iteration yields events newest first.
//
// Thread Safety: safe for concurrent use.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
	clock  Clock
	closed atomic.Bool
}

var (
	_ Registry      = (*BadgerStore)(nil)
	_ PersonaStore  = (*BadgerStore)(nil)
	_ BehaviorLog   = (*BadgerStore)(nil)
	_ LegalDocStore = (*BadgerStore)(nil)
)

// StoreOption customizes a BadgerStore.
type StoreOption func(*BadgerStore)

// WithClock overrides the store clock. Tests use this for deterministic
// event ordering.
func WithClock(clock Clock) StoreOption {
	return func(s *BadgerStore) { s.clock = clock }
}

// NewBadgerStore creates a platform store over an open database.
func NewBadgerStore(db *badger.DB, logger *slog.Logger, opts ...StoreOption) *BadgerStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &BadgerStore{
		db:     db,
		logger: logger.With(slog.String("component", "platform_store")),
		clock:  SystemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close marks the store closed. The underlying database is owned by the
// caller and is not closed here.
func (s *BadgerStore) Close() {
	s.closed.Store(true)
}

func (s *BadgerStore) check(ctx context.Context) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return ctx.Err()
}

func constructKey(id string) []byte {
	return []byte("construct:" + id)
}

func personaPrefix(constructID string) string {
	return "persona:" + constructID + ":"
}

func behaviorPrefix(constructID string) string {
	return "behavior:" + constructID + ":"
}

func legalDocKey(constructID string) []byte {
	return []byte("legaldoc:" + constructID)
}

// reverseTimestamp encodes t so lexicographic key order is newest-first.
func reverseTimestamp(t time.Time) string {
	return fmt.Sprintf("%020d", uint64(math.MaxInt64)-uint64(t.UnixNano()))
}

// -----------------------------------------------------------------------------
// Registry
// -----------------------------------------------------------------------------

// GetConstruct returns the construct by id.
func (s *BadgerStore) GetConstruct(ctx context.Context, id string) (*Construct, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrEmptyConstructID
	}

	var construct Construct
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(constructKey(id))
		if err == dgbadger.ErrKeyNotFound {
			return ErrConstructNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &construct)
		})
	})
	if err != nil {
		return nil, err
	}
	return &construct, nil
}

// PutConstruct upserts a construct row, stamping CreatedAt on first
// write and UpdatedAt always.
func (s *BadgerStore) PutConstruct(ctx context.Context, construct *Construct) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if err := construct.Validate(); err != nil {
		return err
	}

	now := s.clock.Now().UnixMilli()
	if construct.CreatedAt == 0 {
		construct.CreatedAt = now
	}
	construct.UpdatedAt = now

	data, err := json.Marshal(construct)
	if err != nil {
		return fmt.Errorf("marshal construct: %w", err)
	}

	err = s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set(constructKey(construct.ID), data)
	})
	if err != nil {
		return fmt.Errorf("put construct: %w", err)
	}

	s.logger.Debug("construct stored", slog.String("construct_id", construct.ID))
	return nil
}

// UpdateFingerprint writes the canonical fingerprint for a construct.
func (s *BadgerStore) UpdateFingerprint(ctx context.Context, id, fingerprint string) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	construct, err := s.GetConstruct(ctx, id)
	if err != nil {
		return err
	}

	construct.CanonicalFingerprint = fingerprint
	construct.UpdatedAt = s.clock.Now().UnixMilli()

	data, err := json.Marshal(construct)
	if err != nil {
		return fmt.Errorf("marshal construct: %w", err)
	}

	return s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set(constructKey(id), data)
	})
}

// ListConstructIDs returns all registered construct ids.
func (s *BadgerStore) ListConstructIDs(ctx context.Context) ([]string, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var ids []string
	prefix := []byte("construct:")
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			ids = append(ids, string(key[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list constructs: %w", err)
	}
	return ids, nil
}

// -----------------------------------------------------------------------------
// PersonaStore
// -----------------------------------------------------------------------------

// GetPersona returns all persona settings for a construct.
func (s *BadgerStore) GetPersona(ctx context.Context, constructID string) (map[string]string, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	persona := make(map[string]string)
	prefix := []byte(personaPrefix(constructID))
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		it := txn.NewIterator(dgbadger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key()[len(prefix):])
			err := item.Value(func(val []byte) error {
				persona[key] = string(val)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get persona: %w", err)
	}
	return persona, nil
}

// SetPersonaValue sets one persona key.
func (s *BadgerStore) SetPersonaValue(ctx context.Context, constructID, key, value string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if err := ValidateConstructID(constructID); err != nil {
		return err
	}
	if key == "" || strings.Contains(key, ":") {
		return fmt.Errorf("invalid persona key %q", key)
	}

	return s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set([]byte(personaPrefix(constructID)+key), []byte(value))
	})
}

// -----------------------------------------------------------------------------
// BehaviorLog
// -----------------------------------------------------------------------------

// Append records one behavior event.
func (s *BadgerStore) Append(ctx context.Context, event *BehaviorEvent) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if err := event.Validate(); err != nil {
		return err
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	key := []byte(behaviorPrefix(event.ConstructID) + reverseTimestamp(event.Timestamp) + ":" + event.ID)
	err = s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("append behavior event: %w", err)
	}

	s.logger.Debug("behavior event appended",
		slog.String("construct_id", event.ConstructID),
		slog.String("kind", string(event.Kind)),
		slog.String("role", string(event.Role)))
	return nil
}

// Recent returns up to limit events of the given kind, newest first.
func (s *BadgerStore) Recent(ctx context.Context, constructID string, kind BehaviorKind, limit int) ([]BehaviorEvent, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	var events []BehaviorEvent
	prefix := []byte(behaviorPrefix(constructID))
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		it := txn.NewIterator(dgbadger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix) && len(events) < limit; it.Next() {
			var event BehaviorEvent
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &event)
			})
			if err != nil {
				return err
			}
			if event.Kind == kind {
				events = append(events, event)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	return events, nil
}

// LastByRole returns the newest event authored by role, or nil.
func (s *BadgerStore) LastByRole(ctx context.Context, constructID string, role Role) (*BehaviorEvent, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var found *BehaviorEvent
	prefix := []byte(behaviorPrefix(constructID))
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		it := txn.NewIterator(dgbadger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var event BehaviorEvent
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &event)
			})
			if err != nil {
				return err
			}
			if event.Role == role {
				found = &event
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("last event by role: %w", err)
	}
	return found, nil
}

// -----------------------------------------------------------------------------
// LegalDocStore
// -----------------------------------------------------------------------------

// DocumentHash returns the bound legal document hash, or "" when none.
func (s *BadgerStore) DocumentHash(ctx context.Context, constructID string) (string, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}

	var hash string
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(legalDocKey(constructID))
		if err == dgbadger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			hash = string(val)
			return nil
		})
	})
	if err != nil {
		return "", fmt.Errorf("document hash: %w", err)
	}
	return hash, nil
}

// BindDocumentHash records the legal document hash for a construct.
func (s *BadgerStore) BindDocumentHash(ctx context.Context, constructID, hash string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if err := ValidateConstructID(constructID); err != nil {
		return err
	}

	return s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set(legalDocKey(constructID), []byte(hash))
	})
}
