// Copyright (C) 2025 TitaniumShinobi
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/platform"
)

// upsertConstructRequest is the body of PUT /v1/constructs/:id.
type upsertConstructRequest struct {
	Name         string `json:"name"`
	RoleLock     string `json:"role_lock"`
	LegalDocHash string `json:"legal_doc_hash"`
}

// appendEventRequest is the body of POST /v1/constructs/:id/events.
type appendEventRequest struct {
	Kind    platform.BehaviorKind `json:"kind" binding:"required"`
	Role    platform.Role         `json:"role" binding:"required"`
	Content string                `json:"content"`
}

// setPersonaRequest is the body of PUT /v1/constructs/:id/persona/:key.
type setPersonaRequest struct {
	Value string `json:"value"`
}

// UpsertConstruct registers or updates a construct row.
func UpsertConstruct(registry platform.Registry, docs platform.LegalDocStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		constructID := c.Param("id")

		var req upsertConstructRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		ctx := c.Request.Context()
		construct, err := registry.GetConstruct(ctx, constructID)
		if err != nil && !errors.Is(err, platform.ErrConstructNotFound) {
			slog.Error("construct lookup failed", "construct_id", constructID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "construct lookup failed"})
			return
		}
		if construct == nil {
			construct = &platform.Construct{ID: constructID}
		}
		construct.Name = req.Name
		construct.RoleLock = req.RoleLock
		construct.LegalDocHash = req.LegalDocHash

		if err := registry.PutConstruct(ctx, construct); err != nil {
			if errors.Is(err, platform.ErrEmptyConstructID) || errors.Is(err, platform.ErrInvalidConstructID) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			slog.Error("construct upsert failed", "construct_id", constructID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "construct upsert failed"})
			return
		}
		if req.LegalDocHash != "" && docs != nil {
			if err := docs.BindDocumentHash(ctx, constructID, req.LegalDocHash); err != nil {
				slog.Error("legal doc bind failed", "construct_id", constructID, "error", err)
			}
		}

		slog.Info("construct upserted", "construct_id", constructID)
		c.JSON(http.StatusOK, construct)
	}
}

// GetConstruct returns a construct row.
func GetConstruct(registry platform.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		constructID := c.Param("id")

		construct, err := registry.GetConstruct(c.Request.Context(), constructID)
		if errors.Is(err, platform.ErrConstructNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "construct not found"})
			return
		}
		if err != nil {
			slog.Error("construct lookup failed", "construct_id", constructID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "construct lookup failed"})
			return
		}
		c.JSON(http.StatusOK, construct)
	}
}

// AppendEvent records a behavior event for a construct.
func AppendEvent(log platform.BehaviorLog) gin.HandlerFunc {
	return func(c *gin.Context) {
		constructID := c.Param("id")

		var req appendEventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		event := &platform.BehaviorEvent{
			ConstructID: constructID,
			Kind:        req.Kind,
			Role:        req.Role,
			Content:     req.Content,
		}
		if err := event.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := log.Append(c.Request.Context(), event); err != nil {
			slog.Error("event append failed", "construct_id", constructID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "event append failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": event.ID, "construct_id": constructID})
	}
}

// SetPersonaValue sets one persona key for a construct.
func SetPersonaValue(personas platform.PersonaStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		constructID := c.Param("id")
		key := c.Param("key")

		var req setPersonaRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		if err := personas.SetPersonaValue(c.Request.Context(), constructID, key, req.Value); err != nil {
			if errors.Is(err, platform.ErrEmptyConstructID) || errors.Is(err, platform.ErrInvalidConstructID) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			slog.Error("persona update failed",
				"construct_id", constructID, "key", key, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "persona update failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"construct_id": constructID, "key": key})
	}
}
