// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chaingraph

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all chaingraph routes with the router.
//
// Description:
//
//	Registers all /v1/chaingraph/* endpoints with the given Gin router
//	group. The router group should already have any required middleware
//	applied. The update stream endpoints are registered only when the
//	handlers carry a stream handler.
//
// Endpoints:
//
//	GET  /v1/chaingraph/health
//	GET  /v1/chaingraph/status
//	GET  /v1/chaingraph/graph
//	GET  /v1/chaingraph/nodes
//	GET  /v1/chaingraph/nodes/:id
//	GET  /v1/chaingraph/analytics/degrees
//	GET  /v1/chaingraph/analytics/activity
//	GET  /v1/chaingraph/analytics/statistics
//	GET  /v1/chaingraph/analytics/anomalies
//	GET  /v1/chaingraph/analytics/clusters
//	GET  /v1/chaingraph/analytics/flow
//	POST /v1/chaingraph/analytics/recalculate
//	GET  /v1/chaingraph/updates
//	GET  /v1/chaingraph/updates/ws
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	cg := rg.Group("/chaingraph")
	{
		cg.GET("/health", handlers.HandleHealth)
		cg.GET("/status", handlers.HandleStatus)

		cg.GET("/graph", handlers.HandleGraph)
		cg.GET("/nodes", handlers.HandleNodes)
		cg.GET("/nodes/:id", handlers.HandleNode)

		an := cg.Group("/analytics")
		{
			an.GET("/degrees", handlers.HandleDegrees)
			an.GET("/activity", handlers.HandleActivity)
			an.GET("/statistics", handlers.HandleStatistics)
			an.GET("/anomalies", handlers.HandleAnomalies)
			an.GET("/clusters", handlers.HandleClusters)
			an.GET("/flow", handlers.HandleFlow)
			an.POST("/recalculate", handlers.HandleRecalculate)
		}

		if handlers.stream != nil {
			cg.GET("/updates", handlers.stream.SSE)
			cg.GET("/updates/ws", handlers.stream.WebSocket)
		}
	}
}
