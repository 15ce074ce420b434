// Copyright (C) 2025 TitaniumShinobi
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP surface of the drift monitor.
package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor"
	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/observability"
)

// DefaultHistoryLimit caps history responses when no limit is given.
const DefaultHistoryLimit = 50

// MaxHistoryLimit is the hard ceiling for one history page.
const MaxHistoryLimit = 500

// HealthCheck reports service liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "driftwatch"})
}

// DriftCheck runs an on-demand drift check for a construct.
//
// Responds 200 with drift_detected=false when the check found no
// significant drift (including baseline and soft-failed checks); the
// check surface never exposes internal errors to callers.
func DriftCheck(detector *driftmonitor.Detector) gin.HandlerFunc {
	return func(c *gin.Context) {
		constructID := c.Param("id")
		slog.Info("drift check requested", "construct_id", constructID)

		detection := detector.DetectDrift(c.Request.Context(), constructID, observability.TriggerAPI)
		if detection == nil {
			c.JSON(http.StatusOK, gin.H{
				"construct_id":   constructID,
				"drift_detected": false,
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"construct_id":   constructID,
			"drift_detected": true,
			"detection":      detection,
		})
	}
}

// GetFingerprint returns a construct's current canonical fingerprint.
func GetFingerprint(detector *driftmonitor.Detector) gin.HandlerFunc {
	return func(c *gin.Context) {
		constructID := c.Param("id")

		digest, err := detector.CurrentFingerprint(c.Request.Context(), constructID)
		if err != nil {
			slog.Error("fingerprint lookup failed", "construct_id", constructID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "fingerprint lookup failed"})
			return
		}
		if digest == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "no fingerprint recorded for construct"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"construct_id": constructID,
			"fingerprint":  digest,
		})
	}
}

// DriftHistory returns a construct's ledger rows, newest first.
// Accepts ?limit=N up to MaxHistoryLimit.
func DriftHistory(detector *driftmonitor.Detector) gin.HandlerFunc {
	return func(c *gin.Context) {
		constructID := c.Param("id")

		limit := DefaultHistoryLimit
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = parsed
		}
		if limit > MaxHistoryLimit {
			limit = MaxHistoryLimit
		}

		entries, err := detector.History(c.Request.Context(), constructID, limit)
		if err != nil {
			slog.Error("history read failed", "construct_id", constructID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "history read failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"construct_id": constructID,
			"entries":      entries,
			"count":        len(entries),
		})
	}
}

// DriftStats returns aggregate drift statistics across all constructs.
func DriftStats(detector *driftmonitor.Detector) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := detector.Stats(c.Request.Context())
		if err != nil {
			slog.Error("stats read failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "stats read failed"})
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}
