// Copyright (C) 2025 TitaniumShinobi
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package signal gathers the raw identity signals that feed fingerprint
// composition. Collection is fail-soft: a source that errors contributes
// an empty string so a flaky subsystem degrades the fingerprint instead
// of blocking the check.
package signal

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/fingerprint"
	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/platform"
)

// BehaviorWindow is the number of newest long-term-memory events folded
// into the behavior pattern signal.
const BehaviorWindow = 20

// behaviorSample is the shape-only projection of a behavior event. Content
// is reduced to its length so the pattern tracks interaction rhythm, not
// transcript text.
type behaviorSample struct {
	Role       platform.Role `json:"role"`
	TextLength int           `json:"text_length"`
	Timestamp  int64         `json:"timestamp"`
}

// Sources bundles the subsystems the collector reads from. Registry is
// required; the rest may be nil, in which case their signals are empty.
type Sources struct {
	Registry  platform.Registry
	Personas  platform.PersonaStore
	Behavior  platform.BehaviorLog
	LegalDocs platform.LegalDocStore
}

// Collector produces a SignalBundle for a construct.
//
// Thread Safety: safe for concurrent use; the collector holds no
// mutable state.
type Collector struct {
	sources   Sources
	clock     platform.Clock
	logger    *slog.Logger
	onFailure func(source string)
}

// Signal source names reported to the failure hook.
const (
	SourcePersona    = "persona"
	SourceBehavior   = "behavior"
	SourceLegalDoc   = "legal_doc"
	SourceLastPacket = "last_packet"
)

// NewCollector builds a Collector over the given sources. A nil logger
// falls back to slog.Default; a nil clock uses the system clock.
func NewCollector(sources Sources, clock platform.Clock, logger *slog.Logger) *Collector {
	if clock == nil {
		clock = platform.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{sources: sources, clock: clock, logger: logger}
}

// SetFailureHook installs a callback invoked with the source name each
// time a signal degrades. Used to feed failure counters without coupling
// collection to a metrics backend.
func (c *Collector) SetFailureHook(hook func(source string)) {
	c.onFailure = hook
}

func (c *Collector) reportFailure(source string) {
	if c.onFailure != nil {
		c.onFailure(source)
	}
}

// Collect gathers all five signals for the construct. The construct row
// itself must resolve; individual signal sources degrade to "" on error.
//
// Description:
//
//	Reads persona settings, the construct's role lock, the recent
//	long-term-memory behavior window, the bound legal document hash,
//	and the last assistant event, then packages them with a capture
//	timestamp.
//
// Inputs:
//   - ctx: request context, checked by each underlying store.
//   - construct: resolved construct row. Must not be nil.
//
// Outputs:
//   - *fingerprint.SignalBundle: the collected signals, never nil.
func (c *Collector) Collect(ctx context.Context, construct *platform.Construct) *fingerprint.SignalBundle {
	bundle := &fingerprint.SignalBundle{
		RoleLock:   construct.RoleLock,
		CapturedAt: c.clock.Now(),
	}

	bundle.PersonaConfig = c.collectPersona(ctx, construct.ID)
	bundle.BehaviorPattern = c.collectBehaviorPattern(ctx, construct.ID)
	bundle.LegalDocHash = c.collectLegalDocHash(ctx, construct)
	bundle.LastAssistantPacket = c.collectLastAssistantPacket(ctx, construct.ID)

	return bundle
}

func (c *Collector) collectPersona(ctx context.Context, constructID string) string {
	if c.sources.Personas == nil {
		return ""
	}
	persona, err := c.sources.Personas.GetPersona(ctx, constructID)
	if err != nil {
		c.logger.Warn("persona signal unavailable",
			"construct_id", constructID, "error", err)
		c.reportFailure(SourcePersona)
		return ""
	}
	return fingerprint.SerializePersona(persona)
}

func (c *Collector) collectBehaviorPattern(ctx context.Context, constructID string) string {
	if c.sources.Behavior == nil {
		return ""
	}
	events, err := c.sources.Behavior.Recent(ctx, constructID, platform.KindLongTermMemory, BehaviorWindow)
	if err != nil {
		c.logger.Warn("behavior signal unavailable",
			"construct_id", constructID, "error", err)
		c.reportFailure(SourceBehavior)
		return ""
	}
	if len(events) == 0 {
		return ""
	}

	samples := make([]behaviorSample, 0, len(events))
	for _, event := range events {
		samples = append(samples, behaviorSample{
			Role:       event.Role,
			TextLength: len(event.Content),
			Timestamp:  event.Timestamp.UTC().Unix(),
		})
	}
	encoded, err := json.Marshal(samples)
	if err != nil {
		c.logger.Warn("behavior signal encode failed",
			"construct_id", constructID, "error", err)
		c.reportFailure(SourceBehavior)
		return ""
	}
	return string(encoded)
}

func (c *Collector) collectLegalDocHash(ctx context.Context, construct *platform.Construct) string {
	// The registry row carries a cached hash; the doc store is the
	// authoritative source when wired.
	if c.sources.LegalDocs == nil {
		return construct.LegalDocHash
	}
	hash, err := c.sources.LegalDocs.DocumentHash(ctx, construct.ID)
	if err != nil {
		c.logger.Warn("legal doc signal unavailable",
			"construct_id", construct.ID, "error", err)
		c.reportFailure(SourceLegalDoc)
		return construct.LegalDocHash
	}
	if hash == "" {
		return construct.LegalDocHash
	}
	return hash
}

func (c *Collector) collectLastAssistantPacket(ctx context.Context, constructID string) string {
	if c.sources.Behavior == nil {
		return ""
	}
	event, err := c.sources.Behavior.LastByRole(ctx, constructID, platform.RoleAssistant)
	if err != nil {
		c.logger.Warn("last packet signal unavailable",
			"construct_id", constructID, "error", err)
		c.reportFailure(SourceLastPacket)
		return ""
	}
	if event == nil {
		return ""
	}
	// The packet signal carries the payload itself. The digest layer
	// hashes it, so edits that preserve length still register.
	return event.Content
}
