// Copyright (C) 2025 TitaniumShinobi
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor"
	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/handlers"
	"github.com/TitaniumShinobi/chatty-sub016/services/driftmonitor/platform"
)

// SetupRoutes wires the drift monitor HTTP surface onto the router.
func SetupRoutes(router *gin.Engine, detector *driftmonitor.Detector, store *platform.BadgerStore) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.GET("/drift/stats", handlers.DriftStats(detector))

		constructs := v1.Group("/constructs")
		{
			constructs.PUT("/:id", handlers.UpsertConstruct(store, store))
			constructs.GET("/:id", handlers.GetConstruct(store))
			constructs.POST("/:id/events", handlers.AppendEvent(store))
			constructs.PUT("/:id/persona/:key", handlers.SetPersonaValue(store))
			constructs.POST("/:id/drift-check", handlers.DriftCheck(detector))
			constructs.GET("/:id/fingerprint", handlers.GetFingerprint(detector))
			constructs.GET("/:id/drift-history", handlers.DriftHistory(detector))
		}
	}
}
