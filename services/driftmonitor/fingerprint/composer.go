// Copyright (C) 2025 TitaniumShinobi
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package fingerprint derives deterministic identity digests from signal
// bundles and scores the structural distance between two digests.
//
// A digest is a fixed-length hex string. The composer hashes each signal
// category separately and folds the category digests into one aggregate,
// so a later check can tell WHICH category moved, not just that
// something did.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"
)

// Category names one identity-defining signal group.
type Category string

const (
	// CategoryPersona covers the persona key/value configuration.
	CategoryPersona Category = "persona"

	// CategoryRoleLock covers the structural role constraints.
	CategoryRoleLock Category = "role_lock"

	// CategoryBehavior covers the behavior pattern summary and the last
	// assistant packet. Both describe observed conduct, so they share a
	// category for attribution purposes.
	CategoryBehavior Category = "behavior"

	// CategoryLegalDoc covers the bound legal document hash.
	CategoryLegalDoc Category = "legal_doc"
)

// Categories lists all signal categories in canonical order.
var Categories = []Category{
	CategoryPersona,
	CategoryRoleLock,
	CategoryBehavior,
	CategoryLegalDoc,
}

// SignalBundle carries the five raw identity signals for one capture.
// Bundles are transient; only their digests are persisted.
type SignalBundle struct {
	// PersonaConfig is the order-stable serialization of all persona
	// settings.
	PersonaConfig string

	// RoleLock is the serialized structural role constraints.
	RoleLock string

	// BehaviorPattern is the shape-only summary of recent long-term
	// memory entries.
	BehaviorPattern string

	// LegalDocHash is the registry-recorded legal document hash.
	LegalDocHash string

	// LastAssistantPacket is the payload of the newest assistant-authored
	// event.
	LastAssistantPacket string

	// CapturedAt is when the signals were read.
	CapturedAt time.Time
}

// Algorithm selects the digest primitive.
type Algorithm string

const (
	// AlgorithmSHA256 is the default cryptographic digest.
	AlgorithmSHA256 Algorithm = "sha256"

	// AlgorithmFNV is the deterministic non-cryptographic fallback for
	// environments without a crypto primitive. Still collision-aware:
	// four independently seeded FNV-1a passes, never a length check.
	AlgorithmFNV Algorithm = "fnv"
)

// Config configures the composer.
type Config struct {
	// Algorithm selects the digest primitive. Default sha256.
	Algorithm Algorithm `yaml:"algorithm" json:"algorithm"`

	// CompatTimestampInDigest folds CapturedAt into the aggregate
	// digest, reproducing the legacy behavior where two captures of
	// identical signals at different times always differ. Leave false
	// unless byte parity with legacy history rows is required.
	CompatTimestampInDigest bool `yaml:"compat_timestamp_in_digest" json:"compat_timestamp_in_digest"`
}

// DefaultConfig returns sha256 with the separated timestamp design.
func DefaultConfig() Config {
	return Config{Algorithm: AlgorithmSHA256}
}

// Result is a composed fingerprint: the aggregate digest plus the
// per-category sub-digests used for component attribution.
type Result struct {
	// Digest is the aggregate fixed-length hex digest.
	Digest string

	// Components maps each category to its sub-digest.
	Components map[Category]string
}

// Composer turns signal bundles into digests. Immutable after creation;
// safe for concurrent use.
type Composer struct {
	config Config
}

// NewComposer creates a composer. A zero-value config gets defaults.
func NewComposer(config Config) *Composer {
	if config.Algorithm == "" {
		config.Algorithm = AlgorithmSHA256
	}
	return &Composer{config: config}
}

// Compose derives the aggregate digest and category sub-digests for a
// bundle. Pure: identical inputs produce identical output. CapturedAt
// participates only in compat mode.
func (c *Composer) Compose(constructID string, bundle SignalBundle) Result {
	components := map[Category]string{
		CategoryPersona:  c.digest(payload(constructID, CategoryPersona, bundle.PersonaConfig)),
		CategoryRoleLock: c.digest(payload(constructID, CategoryRoleLock, bundle.RoleLock)),
		CategoryBehavior: c.digest(payload(constructID, CategoryBehavior, bundle.BehaviorPattern, bundle.LastAssistantPacket)),
		CategoryLegalDoc: c.digest(payload(constructID, CategoryLegalDoc, bundle.LegalDocHash)),
	}

	var agg strings.Builder
	agg.WriteString(constructID)
	for _, cat := range Categories {
		agg.WriteByte('\n')
		agg.WriteString(string(cat))
		agg.WriteByte('=')
		agg.WriteString(components[cat])
	}
	if c.config.CompatTimestampInDigest {
		agg.WriteByte('\n')
		agg.WriteString(fmt.Sprintf("captured_at=%d", bundle.CapturedAt.UnixNano()))
	}

	return Result{
		Digest:     c.digest(agg.String()),
		Components: components,
	}
}

// payload builds the canonical pre-image for one category. Fields are
// length-prefixed so concatenations cannot collide across boundaries.
func payload(constructID string, cat Category, fields ...string) string {
	var b strings.Builder
	b.WriteString(string(cat))
	b.WriteByte('|')
	b.WriteString(constructID)
	for _, f := range fields {
		fmt.Fprintf(&b, "|%d:%s", len(f), f)
	}
	return b.String()
}

func (c *Composer) digest(payload string) string {
	if c.config.Algorithm == AlgorithmFNV {
		return fnvDigest(payload)
	}
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// fnvDigest produces a 64-hex-char digest from four seeded FNV-1a
// passes, matching the sha256 output length so distance scoring never
// sees a length mismatch between algorithms of the same config.
func fnvDigest(payload string) string {
	var out strings.Builder
	for seed := byte(0); seed < 4; seed++ {
		h := fnv.New64a()
		h.Write([]byte{seed, 0x9e, 0x37, 0x79})
		h.Write([]byte(payload))
		out.WriteString(fmt.Sprintf("%016x", h.Sum64()))
	}
	return out.String()
}

// SerializePersona renders persona settings order-stable: keys sorted,
// joined as key=value with newline separators.
func SerializePersona(persona map[string]string) string {
	if len(persona) == 0 {
		return ""
	}
	keys := make([]string, 0, len(persona))
	for k := range persona {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(persona[k])
	}
	return b.String()
}
