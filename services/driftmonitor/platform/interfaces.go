// Copyright (C) 2025 TitaniumShinobi
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package platform

import (
	"context"
	"time"
)

// Registry is the durable construct registry.
//
// GetConstruct returns ErrConstructNotFound for unknown ids. The drift
// monitor treats any Registry error as a soft failure and aborts the
// check without raising.
type Registry interface {
	// GetConstruct returns the construct by id.
	GetConstruct(ctx context.Context, id string) (*Construct, error)

	// PutConstruct upserts a construct row.
	PutConstruct(ctx context.Context, construct *Construct) error

	// UpdateFingerprint writes the canonical fingerprint for a construct.
	UpdateFingerprint(ctx context.Context, id, fingerprint string) error

	// ListConstructIDs returns all registered construct ids. Used by the
	// sweep scheduler.
	ListConstructIDs(ctx context.Context) ([]string, error)
}

// PersonaStore holds per-construct persona key/value settings.
type PersonaStore interface {
	// GetPersona returns all persona settings for a construct. A missing
	// construct yields an empty map, not an error.
	GetPersona(ctx context.Context, constructID string) (map[string]string, error)

	// SetPersonaValue sets one persona key.
	SetPersonaValue(ctx context.Context, constructID, key, value string) error
}

// BehaviorLog is the queryable event log.
type BehaviorLog interface {
	// Append records one behavior event. A zero event timestamp is
	// filled with the current time; an empty ID gets a fresh UUID.
	Append(ctx context.Context, event *BehaviorEvent) error

	// Recent returns up to limit events of the given kind for a
	// construct, newest first.
	Recent(ctx context.Context, constructID string, kind BehaviorKind, limit int) ([]BehaviorEvent, error)

	// LastByRole returns the newest event authored by role for a
	// construct across all kinds, or nil if none exists.
	LastByRole(ctx context.Context, constructID string, role Role) (*BehaviorEvent, error)
}

// LegalDocStore returns the precomputed hash of a construct's bound
// legal/consent document.
type LegalDocStore interface {
	// DocumentHash returns the hash string, or "" when no document is
	// bound.
	DocumentHash(ctx context.Context, constructID string) (string, error)

	// BindDocumentHash records the hash for a construct.
	BindDocumentHash(ctx context.Context, constructID, hash string) error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }
