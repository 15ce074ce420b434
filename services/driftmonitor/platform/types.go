// Copyright (C) 2025 TitaniumShinobi
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package platform defines the registry and signal sources the drift
// monitor reads from: constructs, persona settings, behavior events, and
// bound legal documents. The drift engine consumes these through the
// small interfaces in interfaces.go; the BadgerStore in store.go is the
// embedded reference implementation the rest of the platform shares.
package platform

import (
	"errors"
	"strings"
	"time"
)

// BehaviorKind categorizes behavior log events.
type BehaviorKind string

const (
	// KindLongTermMemory marks durable memory entries tagged to a
	// construct. These feed the behavior pattern signal.
	KindLongTermMemory BehaviorKind = "long_term_memory"

	// KindSessionTurn marks ordinary conversational turns.
	KindSessionTurn BehaviorKind = "session_turn"
)

// ValidBehaviorKinds is the set of accepted behavior kinds.
var ValidBehaviorKinds = map[BehaviorKind]bool{
	KindLongTermMemory: true,
	KindSessionTurn:    true,
}

// Role identifies the author of a behavior event.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Sentinel errors for platform operations.
var (
	ErrConstructNotFound  = errors.New("construct not found")
	ErrEmptyConstructID   = errors.New("construct id cannot be empty")
	ErrInvalidConstructID = errors.New("construct id cannot contain ':'")
	ErrInvalidKind        = errors.New("invalid behavior kind")
	ErrStoreClosed        = errors.New("platform store is closed")
)

// ValidateConstructID checks an id against the key-delimiter rule. Store
// keys are colon-delimited, so an id containing ':' would fold one
// construct's rows into another's prefix.
func ValidateConstructID(id string) error {
	if id == "" {
		return ErrEmptyConstructID
	}
	if strings.Contains(id, ":") {
		return ErrInvalidConstructID
	}
	return nil
}

// Construct is a persona-bound agent identity owned by the registry.
//
// The drift monitor reads RoleLock and LegalDocHash and writes
// CanonicalFingerprint; everything else belongs to the wider platform.
type Construct struct {
	// ID is the unique construct identifier.
	ID string `json:"id"`

	// Name is the display name.
	Name string `json:"name,omitempty"`

	// RoleLock is the serialized structural role constraint descriptor.
	RoleLock string `json:"role_lock,omitempty"`

	// LegalDocHash is the hash of the bound legal/consent document.
	LegalDocHash string `json:"legal_doc_hash,omitempty"`

	// CanonicalFingerprint is the last digest written by the drift
	// monitor. Updated only when a check clears the significance
	// threshold.
	CanonicalFingerprint string `json:"canonical_fingerprint,omitempty"`

	// CreatedAt is when the construct was registered (Unix millis UTC).
	CreatedAt int64 `json:"created_at"`

	// UpdatedAt is when the construct row last changed (Unix millis UTC).
	UpdatedAt int64 `json:"updated_at"`
}

// Validate checks required construct fields.
func (c *Construct) Validate() error {
	return ValidateConstructID(c.ID)
}

// BehaviorEvent is one row in the behavior log.
type BehaviorEvent struct {
	// ID is the unique event identifier (UUID).
	ID string `json:"id"`

	// ConstructID tags the event to a construct.
	ConstructID string `json:"construct_id"`

	// Kind categorizes the event.
	Kind BehaviorKind `json:"kind"`

	// Role identifies the author.
	Role Role `json:"role"`

	// Content is the event payload.
	Content string `json:"content"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks required event fields.
func (e *BehaviorEvent) Validate() error {
	if err := ValidateConstructID(e.ConstructID); err != nil {
		return err
	}
	if !ValidBehaviorKinds[e.Kind] {
		return ErrInvalidKind
	}
	return nil
}
